package app

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"corpusgrid/internal/auth"
	"corpusgrid/internal/config"
	"corpusgrid/internal/export"
	"corpusgrid/internal/fieldtype"
	"corpusgrid/internal/notes"
	"corpusgrid/internal/objstore"
	"corpusgrid/internal/rbac"
	"corpusgrid/internal/search"
	"corpusgrid/internal/session"
	"corpusgrid/internal/store"
	"corpusgrid/internal/util"
)

// Session is the authenticated caller attached to a request after the
// bearer value has been resolved. ViaAPIKey marks automation callers,
// the only ones allowed to write machine-managed columns.
type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Role         string
	JTI          string
	ExpiresAt    time.Time
	ViaAPIKey    bool
}

type dataStore interface {
	Ping(context.Context) error

	CountUsers(context.Context) (int, error)
	InsertUser(context.Context, store.User) error
	EnsureUserByName(context.Context, string) (store.User, error)
	GetUser(context.Context, string) (store.User, error)
	GetUserByEmail(context.Context, string) (store.User, error)
	ListUsers(context.Context) ([]store.User, error)

	ListCorpora(context.Context) ([]store.Corpus, error)
	ListCorporaForUser(context.Context, string) ([]store.Corpus, error)
	GetCorpus(context.Context, string) (store.Corpus, error)
	InsertCorpus(context.Context, store.Corpus) error
	UpdateCorpus(context.Context, string, string, string) error
	DeleteCorpus(context.Context, string) error

	ListDocuments(context.Context, string) ([]store.Document, error)
	GetDocument(context.Context, string) (store.Document, error)
	InsertDocument(context.Context, store.Document) error
	UpdateDocumentTitle(context.Context, string, string) error
	SetDocumentFile(context.Context, string, string, string, int64, string) error
	DeleteDocument(context.Context, string) error

	ListColumns(context.Context, string) ([]store.Column, error)
	GetColumn(context.Context, string) (store.Column, error)
	CountColumns(context.Context, string) (int, error)
	ColumnNameExists(context.Context, string, string, string) (bool, error)
	InsertColumn(context.Context, store.Column) error
	UpdateColumn(context.Context, store.Column) error
	DeleteColumn(context.Context, string) error
	ReorderColumns(context.Context, string, []string) error

	ListCells(context.Context, string) ([]store.CellWithColumn, error)
	ListCorpusCells(context.Context, string) ([]store.CellWithColumn, error)
	GetCell(context.Context, string, string) (store.Datacell, error)
	UpsertCell(context.Context, store.Datacell) (store.Datacell, error)
	DeleteCell(context.Context, string, string) error
	ListCellIDsForColumn(context.Context, string) ([]string, error)

	ListNotes(context.Context, string) ([]store.Note, error)
	GetNote(context.Context, string) (store.Note, error)
	InsertNote(context.Context, store.Note) error
	UpdateNoteTitle(context.Context, string, string) error
	TouchNote(context.Context, string) error
	DeleteNote(context.Context, string) error

	ListPermissions(context.Context, string) ([]store.Permission, error)
	GetCorpusRole(context.Context, string, string) (string, error)
	UpsertPermission(context.Context, store.Permission) error
	DeletePermission(context.Context, string, string) error

	InsertAPIKey(context.Context, store.APIKey) error
	GetAPIKey(context.Context, string) (store.APIKey, error)
	ListAPIKeys(context.Context, string) ([]store.APIKey, error)
	DeleteAPIKey(context.Context, string, string) error
	TouchAPIKey(context.Context, string) error
}

type sessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (string, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

type noteStore interface {
	EnsureNoteRepo(noteID, body, author string) error
	SaveBody(noteID, body, author, message string) (notes.Revision, error)
	HeadBody(noteID string) (string, notes.Revision, error)
	BodyAtRevision(noteID, hash string) (string, error)
	History(noteID string, limit int) ([]notes.Revision, error)
	RemoveNoteRepo(noteID string) error
}

type searchIndex interface {
	Backend() string
	Search(q search.Query) search.Response
	IndexDocument(doc search.DocumentRecord)
	IndexCell(c search.CellRecord)
	IndexNote(n search.NoteRecord)
	DeleteDocument(id string)
	DeleteCell(id string)
	DeleteCells(ids []string)
	DeleteNote(id string)
}

type objectStore interface {
	PutDocumentFile(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	GetDocumentFile(ctx context.Context, key string) (io.ReadCloser, error)
	RemoveDocumentFile(ctx context.Context, key string) error
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	notes    noteStore
	search   searchIndex
	files    objectStore
	exporter *export.Service
}

// New wires the service. files may be nil when object storage is not
// configured; file upload and download then answer 503.
func New(cfg config.Config, dataStore *store.PostgresStore, sessions sessionStore, noteService *notes.Service, searchService *search.Service, files *objstore.Client) *Service {
	svc := &Service{
		cfg:      cfg,
		store:    dataStore,
		sessions: sessions,
		notes:    noteService,
		search:   searchService,
	}
	if files != nil {
		svc.files = files
	}
	svc.exporter = export.NewService(exportStore{data: svc.store})
	return svc
}

// Bootstrap seeds a demo workspace on an empty database so a fresh
// install has something to show: an admin, a contributor, one corpus
// with columns, documents, a few cell values and a note.
func (s *Service) Bootstrap(ctx context.Context) error {
	count, err := s.store.CountUsers(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	admin := store.User{
		ID:          util.NewID("usr"),
		DisplayName: "Avery",
		Email:       "avery@local.corpusgrid.dev",
		Role:        "admin",
	}
	if err := s.store.InsertUser(ctx, admin); err != nil {
		return err
	}
	analyst, err := s.store.EnsureUserByName(ctx, "Jordan")
	if err != nil {
		return err
	}

	corpus := store.Corpus{
		ID:          util.NewID("cor"),
		Name:        "Field Recordings",
		Description: "Pilot corpus of interview audio with transcription metadata.",
		OwnerID:     admin.ID,
	}
	if err := s.store.InsertCorpus(ctx, corpus); err != nil {
		return err
	}

	minZero := 0.0
	maxRating := 5.0
	minRating := 1.0
	columnSeeds := []store.Column{
		{Name: "Speaker", DataType: fieldtype.TypeString, HelpText: "Primary speaker as named in the consent form.", Validation: fieldtype.Config{Required: true}, ManualEntry: true},
		{Name: "Language", DataType: fieldtype.TypeChoice, Validation: fieldtype.Config{Choices: []string{"English", "Spanish", "Mandarin", "Swahili"}}, ManualEntry: true},
		{Name: "Duration (min)", DataType: fieldtype.TypeFloat, Validation: fieldtype.Config{Min: &minZero}, ManualEntry: true},
		{Name: "Quality", DataType: fieldtype.TypeInteger, HelpText: "Recording quality from 1 (unusable) to 5 (studio).", Validation: fieldtype.Config{Min: &minRating, Max: &maxRating}, ManualEntry: true},
		{Name: "Reviewed", DataType: fieldtype.TypeBoolean, ManualEntry: true},
		// Written by the ingest pipeline through an API key, not by hand.
		{Name: "Word count", DataType: fieldtype.TypeInteger, Validation: fieldtype.Config{Min: &minZero}, ManualEntry: false},
	}
	columnIDs := make([]string, 0, len(columnSeeds))
	for i, seed := range columnSeeds {
		seed.ID = util.NewID("col")
		seed.CorpusID = corpus.ID
		seed.DisplayOrder = i
		if err := s.store.InsertColumn(ctx, seed); err != nil {
			return err
		}
		columnIDs = append(columnIDs, seed.ID)
	}

	documentSeeds := []string{
		"Interview 001 - Market day",
		"Interview 002 - Harvest songs",
		"Interview 003 - Boundary dispute",
	}
	documentIDs := make([]string, 0, len(documentSeeds))
	for _, title := range documentSeeds {
		doc := store.Document{
			ID:        util.NewID("doc"),
			CorpusID:  corpus.ID,
			Title:     title,
			CreatedBy: admin.ID,
		}
		if err := s.store.InsertDocument(ctx, doc); err != nil {
			return err
		}
		documentIDs = append(documentIDs, doc.ID)
	}

	cellSeeds := []struct {
		doc   int
		col   int
		value any
	}{
		{0, 0, "Amina W."},
		{0, 1, "Swahili"},
		{0, 2, 42.5},
		{0, 4, true},
		{1, 0, "Amina W."},
		{1, 2, 17.0},
		{2, 0, "Daniel O."},
		{2, 3, int64(4)},
	}
	for _, seed := range cellSeeds {
		_, err := s.store.UpsertCell(ctx, store.Datacell{
			ID:         util.NewID("cel"),
			DocumentID: documentIDs[seed.doc],
			ColumnID:   columnIDs[seed.col],
			Value:      seed.value,
			CreatedBy:  admin.ID,
		})
		if err != nil {
			return err
		}
	}

	if err := s.store.UpsertPermission(ctx, store.Permission{
		ID:        util.NewID("perm"),
		CorpusID:  corpus.ID,
		UserID:    analyst.ID,
		Role:      "contributor",
		GrantedBy: admin.ID,
	}); err != nil {
		return err
	}

	note := store.Note{
		ID:         util.NewID("note"),
		CorpusID:   corpus.ID,
		DocumentID: documentIDs[0],
		Title:      "Transcription conventions",
		CreatedBy:  admin.ID,
	}
	if err := s.store.InsertNote(ctx, note); err != nil {
		return err
	}
	body := "# Transcription conventions\n\nUse broad IPA for code-switched segments. Mark unclear passages with (?) rather than guessing.\n"
	return s.notes.EnsureNoteRepo(note.ID, body, admin.DisplayName)
}

func (s *Service) Login(ctx context.Context, name string) (Session, error) {
	userName := strings.TrimSpace(name)
	if userName == "" {
		userName = "User"
	}

	user, err := s.store.EnsureUserByName(ctx, userName)
	if err != nil {
		return Session{}, err
	}

	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	userID, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return Session{}, auth.ErrInvalidToken
		}
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, auth.ErrInvalidToken
		}
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.DisplayName,
		Role: user.Role,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		Role:         user.Role,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	if strings.HasPrefix(token, auth.APIKeyPrefix) {
		return s.sessionFromAPIKey(ctx, token)
	}

	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}

	user, err := s.store.GetUser(ctx, claims.Sub)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, auth.ErrInvalidToken
		}
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		Role:      user.Role,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) sessionFromAPIKey(ctx context.Context, token string) (Session, error) {
	keyID, secret, err := auth.SplitAPIKey(token)
	if err != nil {
		return Session{}, auth.ErrInvalidToken
	}
	key, err := s.store.GetAPIKey(ctx, keyID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, auth.ErrInvalidToken
		}
		return Session{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(key.SecretHash), []byte(secret)) != nil {
		return Session{}, auth.ErrInvalidToken
	}
	_ = s.store.TouchAPIKey(ctx, keyID)

	user, err := s.store.GetUser(ctx, key.UserID)
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		Role:      user.Role,
		ViaAPIKey: true,
	}, nil
}

// Logout revokes the presented refresh token. Access tokens are left to
// expire on their own TTL.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

// corpusRole resolves the caller's effective role on one corpus. Site
// admins and the corpus owner act as corpus admins; everyone else needs
// an explicit grant. Empty means no access: corpora are private.
func (s *Service) corpusRole(ctx context.Context, session Session, corpus store.Corpus) (rbac.Role, error) {
	if rbac.Normalize(session.Role) == rbac.RoleAdmin {
		return rbac.RoleAdmin, nil
	}
	if corpus.OwnerID == session.UserID {
		return rbac.RoleAdmin, nil
	}
	granted, err := s.store.GetCorpusRole(ctx, corpus.ID, session.UserID)
	if err != nil {
		return "", err
	}
	if granted == "" {
		return "", nil
	}
	return rbac.Normalize(granted), nil
}

// corpusAccess loads the corpus and checks the caller may perform the
// action. Corpora the caller cannot see at all answer 404, never 403,
// so their existence does not leak.
func (s *Service) corpusAccess(ctx context.Context, session Session, corpusID string, action rbac.Action) (store.Corpus, rbac.Role, error) {
	corpus, err := s.store.GetCorpus(ctx, corpusID)
	if err != nil {
		return store.Corpus{}, "", err
	}
	role, err := s.corpusRole(ctx, session, corpus)
	if err != nil {
		return store.Corpus{}, "", err
	}
	if role == "" {
		return store.Corpus{}, "", notFoundError("Not found")
	}
	if !rbac.Can(role, action) {
		return store.Corpus{}, "", forbiddenError("Forbidden")
	}
	return corpus, role, nil
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) SearchBackend() string {
	return s.search.Backend()
}

// okEnvelope is the uniform mutation response: ok, a human-readable
// message, and the affected entity under obj. Rejections take the same
// shape with ok=false via writeError.
func okEnvelope(message string, obj any) map[string]any {
	payload := map[string]any{
		"ok":      true,
		"message": message,
	}
	if obj != nil {
		payload["obj"] = obj
	}
	return payload
}
