package rbac

type Role string
type Action string
type Target string

const (
	RoleViewer      Role = "viewer"
	RoleContributor Role = "contributor"
	RoleMaintainer  Role = "maintainer"
	RoleAdmin       Role = "admin"
)

const (
	ActionRead            Action = "read"
	ActionExport          Action = "export"
	ActionEditCells       Action = "edit_cells"
	ActionEditNotes       Action = "edit_notes"
	ActionManageDocuments Action = "manage_documents"
	ActionManageColumns   Action = "manage_columns"
	ActionManageCorpus    Action = "manage_corpus"
)

const (
	TargetCorpus   Target = "corpus"
	TargetDocument Target = "document"
	TargetColumn   Target = "column"
	TargetCell     Target = "cell"
)

var allActions = []Action{
	ActionRead, ActionExport, ActionEditCells, ActionEditNotes,
	ActionManageDocuments, ActionManageColumns, ActionManageCorpus,
}

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleMaintainer:
		return action != ActionManageCorpus
	case RoleContributor:
		return action == ActionRead || action == ActionExport ||
			action == ActionEditCells || action == ActionEditNotes
	case RoleViewer:
		return action == ActionRead || action == ActionExport
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleViewer, RoleContributor, RoleMaintainer, RoleAdmin:
		return Role(role)
	default:
		return RoleViewer
	}
}

// ActionSpec is one row of the static action table: a user-facing
// operation, the kind of entity it applies to, and the capability a
// caller must hold to see it. Context menus are built by filtering this
// table, never by imperatively assembling per-role lists.
type ActionSpec struct {
	ID       string `json:"id"`
	Label    string `json:"label"`
	Target   Target `json:"target"`
	Requires Action `json:"requires"`
}

var Actions = []ActionSpec{
	{ID: "corpus.open", Label: "Open", Target: TargetCorpus, Requires: ActionRead},
	{ID: "corpus.export_csv", Label: "Export grid as CSV", Target: TargetCorpus, Requires: ActionExport},
	{ID: "corpus.export_pdf", Label: "Export grid as PDF", Target: TargetCorpus, Requires: ActionExport},
	{ID: "corpus.add_document", Label: "Add document", Target: TargetCorpus, Requires: ActionManageDocuments},
	{ID: "corpus.add_column", Label: "Add column", Target: TargetCorpus, Requires: ActionManageColumns},
	{ID: "corpus.permissions", Label: "Manage permissions", Target: TargetCorpus, Requires: ActionManageCorpus},
	{ID: "corpus.delete", Label: "Delete corpus", Target: TargetCorpus, Requires: ActionManageCorpus},

	{ID: "document.open", Label: "Open", Target: TargetDocument, Requires: ActionRead},
	{ID: "document.edit_note", Label: "Edit note", Target: TargetDocument, Requires: ActionEditNotes},
	{ID: "document.note_history", Label: "Note history", Target: TargetDocument, Requires: ActionRead},
	{ID: "document.upload_file", Label: "Upload file", Target: TargetDocument, Requires: ActionManageDocuments},
	{ID: "document.rename", Label: "Rename", Target: TargetDocument, Requires: ActionManageDocuments},
	{ID: "document.delete", Label: "Delete document", Target: TargetDocument, Requires: ActionManageDocuments},

	{ID: "column.edit", Label: "Edit column", Target: TargetColumn, Requires: ActionManageColumns},
	{ID: "column.move_up", Label: "Move up", Target: TargetColumn, Requires: ActionManageColumns},
	{ID: "column.move_down", Label: "Move down", Target: TargetColumn, Requires: ActionManageColumns},
	{ID: "column.delete", Label: "Delete column", Target: TargetColumn, Requires: ActionManageColumns},

	{ID: "cell.edit", Label: "Edit value", Target: TargetCell, Requires: ActionEditCells},
	{ID: "cell.clear", Label: "Clear value", Target: TargetCell, Requires: ActionEditCells},
}

// AllowedActions computes the role's capability set once, then filters
// the action table by target kind and required capability.
func AllowedActions(role Role, target Target) []ActionSpec {
	caps := make(map[Action]bool, len(allActions))
	for _, a := range allActions {
		caps[a] = Can(role, a)
	}
	out := make([]ActionSpec, 0, len(Actions))
	for _, act := range Actions {
		if act.Target != target {
			continue
		}
		if caps[act.Requires] {
			out = append(out, act)
		}
	}
	return out
}
