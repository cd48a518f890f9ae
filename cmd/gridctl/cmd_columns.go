package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"corpusgrid/internal/apiclient"
	"corpusgrid/internal/fieldtype"
	"corpusgrid/internal/notify"
	"corpusgrid/internal/registry"
	"corpusgrid/internal/uistate"

	"github.com/spf13/cobra"
)

var columnsCmd = &cobra.Command{
	Use:   "columns",
	Short: "Manage a corpus's metadata columns",
}

var columnsListCmd = &cobra.Command{
	Use:   "list <corpus>",
	Short: "List columns in display order",
	Args:  cobra.ExactArgs(1),
	RunE:  runColumnsList,
}

var (
	colName      string
	colType      string
	colHelp      string
	colDefault   string
	colPattern   string
	colChoices   []string
	colRequired  bool
	colManual    bool
	colMin       float64
	colMax       float64
	colMaxLength int
)

var columnsCreateCmd = &cobra.Command{
	Use:   "create <corpus>",
	Short: "Add a column at the end of the grid",
	Args:  cobra.ExactArgs(1),
	RunE:  runColumnsCreate,
}

var columnsUpdateCmd = &cobra.Command{
	Use:   "update <corpus> <column>",
	Short: "Change a column's name, help text or validation rules",
	Args:  cobra.ExactArgs(2),
	RunE:  runColumnsUpdate,
}

var deleteYes bool

var columnsDeleteCmd = &cobra.Command{
	Use:   "delete <corpus> <column>",
	Short: "Delete a column and every value stored under it",
	Args:  cobra.ExactArgs(2),
	RunE:  runColumnsDelete,
}

var (
	moveUp   bool
	moveDown bool
)

var columnsMoveCmd = &cobra.Command{
	Use:   "move <corpus> <column>",
	Short: "Swap a column with its neighbor",
	Args:  cobra.ExactArgs(2),
	RunE:  runColumnsMove,
}

// columnFlags binds the column-shape flags. The data type is only
// offered on create; it cannot change once values exist.
func columnFlags(cmd *cobra.Command, withType bool) {
	cmd.Flags().StringVar(&colName, "name", "", "Column name")
	if withType {
		cmd.Flags().StringVar(&colType, "type", "", "Data type: "+dataTypeList())
	}
	cmd.Flags().StringVar(&colHelp, "help-text", "", "Help text shown with the column")
	cmd.Flags().StringVar(&colDefault, "default", "", "Default value (JSON or plain string)")
	cmd.Flags().StringVar(&colPattern, "pattern", "", "Regular expression values must match")
	cmd.Flags().StringSliceVar(&colChoices, "choices", nil, "Allowed values for choice types")
	cmd.Flags().BoolVar(&colRequired, "required", false, "Reject empty values")
	cmd.Flags().BoolVar(&colManual, "manual", true, "Allow manual entry")
	cmd.Flags().Float64Var(&colMin, "min", 0, "Minimum numeric value")
	cmd.Flags().Float64Var(&colMax, "max", 0, "Maximum numeric value")
	cmd.Flags().IntVar(&colMaxLength, "max-length", 0, "Maximum text length")
}

func init() {
	columnFlags(columnsCreateCmd, true)
	columnsCreateCmd.MarkFlagRequired("name")
	columnsCreateCmd.MarkFlagRequired("type")
	columnFlags(columnsUpdateCmd, false)
	columnsDeleteCmd.Flags().BoolVar(&deleteYes, "yes", false, "Skip the confirmation prompt")
	columnsMoveCmd.Flags().BoolVar(&moveUp, "up", false, "Move one position earlier")
	columnsMoveCmd.Flags().BoolVar(&moveDown, "down", false, "Move one position later")

	columnsCmd.AddCommand(columnsListCmd)
	columnsCmd.AddCommand(columnsCreateCmd)
	columnsCmd.AddCommand(columnsUpdateCmd)
	columnsCmd.AddCommand(columnsDeleteCmd)
	columnsCmd.AddCommand(columnsMoveCmd)
}

func dataTypeList() string {
	types := fieldtype.DataTypes()
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = string(t)
	}
	return strings.Join(names, ", ")
}

// configFromFlags lays the validation flags the user set over base and
// reports whether anything changed.
func configFromFlags(cmd *cobra.Command, base fieldtype.Config) (fieldtype.Config, bool) {
	cfg := base
	changed := false
	if cmd.Flags().Changed("required") {
		cfg.Required = colRequired
		changed = true
	}
	if cmd.Flags().Changed("min") {
		min := colMin
		cfg.Min = &min
		changed = true
	}
	if cmd.Flags().Changed("max") {
		max := colMax
		cfg.Max = &max
		changed = true
	}
	if cmd.Flags().Changed("max-length") {
		n := colMaxLength
		cfg.MaxLength = &n
		changed = true
	}
	if cmd.Flags().Changed("choices") {
		cfg.Choices = colChoices
		changed = true
	}
	if cmd.Flags().Changed("pattern") {
		cfg.Pattern = colPattern
		changed = true
	}
	return cfg, changed
}

func runColumnsList(cmd *cobra.Command, args []string) error {
	if err := requireToken(); err != nil {
		return err
	}
	ctx, cancel := commandContext()
	defer cancel()

	reg := registry.New(newClient(), notify.Discard, args[0])
	columns, err := reg.Refresh(ctx)
	if err != nil {
		return userError(err)
	}
	if len(columns) == 0 {
		fmt.Println("No columns yet.")
		return nil
	}
	printColumns(columns)
	return nil
}

func printColumns(columns []apiclient.Column) {
	nameWidth := 0
	for _, col := range columns {
		if n := len(col.Name); n > nameWidth {
			nameWidth = n
		}
	}
	for _, col := range columns {
		line := fmt.Sprintf("%2d  %s  %-*s  %-12s", col.DisplayOrder, col.ID, nameWidth, col.Name, col.DataType)
		if rules := describeColumn(col); rules != "" {
			line += "  " + rules
		}
		fmt.Println(strings.TrimRight(line, " "))
		if col.HelpText != "" {
			fmt.Printf("      %s\n", col.HelpText)
		}
	}
}

func describeColumn(col apiclient.Column) string {
	var parts []string
	cfg := col.Config
	if cfg.Required {
		parts = append(parts, "required")
	}
	if cfg.Min != nil {
		parts = append(parts, "min "+formatNumber(*cfg.Min))
	}
	if cfg.Max != nil {
		parts = append(parts, "max "+formatNumber(*cfg.Max))
	}
	if cfg.MaxLength != nil {
		parts = append(parts, fmt.Sprintf("max length %d", *cfg.MaxLength))
	}
	if len(cfg.Choices) > 0 {
		parts = append(parts, "choices: "+strings.Join(cfg.Choices, "|"))
	}
	if cfg.Pattern != "" {
		parts = append(parts, "pattern "+cfg.Pattern)
	}
	if !col.ManualEntry {
		parts = append(parts, "automation only")
	}
	return strings.Join(parts, ", ")
}

func runColumnsCreate(cmd *cobra.Command, args []string) error {
	if err := requireToken(); err != nil {
		return err
	}
	dataType := fieldtype.DataType(strings.ToUpper(colType))
	if !dataType.Valid() {
		return fmt.Errorf("unknown data type %q (one of %s)", colType, dataTypeList())
	}
	ctx, cancel := commandContext()
	defer cancel()

	reg := registry.New(newClient(), notify.Discard, args[0])
	if _, err := reg.Refresh(ctx); err != nil {
		return userError(err)
	}

	cfg, _ := configFromFlags(cmd, fieldtype.Config{})
	draft := registry.Draft{
		Name:     colName,
		DataType: dataType,
		HelpText: colHelp,
		Config:   cfg,
	}
	if cmd.Flags().Changed("default") {
		draft.DefaultValue = parseValueArg(colDefault)
	}
	if cmd.Flags().Changed("manual") {
		manual := colManual
		draft.ManualEntry = &manual
	}
	created, err := reg.Create(ctx, draft)
	if err != nil {
		return userError(err)
	}
	fmt.Printf("Created column %q (%s) at position %d.\n", created.Name, created.ID, created.DisplayOrder)
	return nil
}

func runColumnsUpdate(cmd *cobra.Command, args []string) error {
	if err := requireToken(); err != nil {
		return err
	}
	ctx, cancel := commandContext()
	defer cancel()

	reg := registry.New(newClient(), notify.Discard, args[0])
	if _, err := reg.Refresh(ctx); err != nil {
		return userError(err)
	}
	col, err := resolveColumn(reg, args[1])
	if err != nil {
		return err
	}

	var change registry.Change
	if cmd.Flags().Changed("name") {
		name := colName
		change.Name = &name
	}
	if cmd.Flags().Changed("help-text") {
		help := colHelp
		change.HelpText = &help
	}
	if cfg, changed := configFromFlags(cmd, col.Config); changed {
		cfgCopy := cfg
		change.Config = &cfgCopy
	}
	if cmd.Flags().Changed("default") {
		raw, err := json.Marshal(parseValueArg(colDefault))
		if err != nil {
			return fmt.Errorf("encode default value: %w", err)
		}
		change.DefaultValue = raw
	}
	if cmd.Flags().Changed("manual") {
		manual := colManual
		change.ManualEntry = &manual
	}
	if change.Name == nil && change.HelpText == nil && change.Config == nil &&
		len(change.DefaultValue) == 0 && change.ManualEntry == nil {
		fmt.Println("Nothing to change.")
		return nil
	}

	updated, err := reg.Update(ctx, col.ID, change)
	if err != nil {
		return userError(err)
	}
	fmt.Printf("Updated column %q.\n", updated.Name)
	return nil
}

func runColumnsDelete(cmd *cobra.Command, args []string) error {
	if err := requireToken(); err != nil {
		return err
	}
	ctx, cancel := commandContext()
	defer cancel()

	reg := registry.New(newClient(), notify.Discard, args[0])
	if _, err := reg.Refresh(ctx); err != nil {
		return userError(err)
	}
	col, err := resolveColumn(reg, args[1])
	if err != nil {
		return err
	}

	// The confirm dialog state lives in the UI store, the way the grid
	// shell drives it; the registry holds the deletion protocol state.
	ui := uistate.NewStore()
	ui.SelectCorpus(args[0])
	if _, err := reg.RequestDelete(col.ID); err != nil {
		return err
	}
	ui.RequestColumnDelete(col.ID)

	if !deleteYes {
		pending, _ := reg.Column(ui.Snapshot().PendingColumnDelete)
		if !confirm(fmt.Sprintf("Delete column %q and all its values?", pending.Name)) {
			reg.CancelDelete()
			ui.ResolveColumnDelete()
			fmt.Printf("Kept column %q.\n", col.Name)
			return nil
		}
	}
	if err := reg.ConfirmDelete(ctx); err != nil {
		return userError(err)
	}
	ui.ResolveColumnDelete()
	fmt.Printf("Deleted column %q and its values.\n", col.Name)
	return nil
}

func runColumnsMove(cmd *cobra.Command, args []string) error {
	if err := requireToken(); err != nil {
		return err
	}
	if moveUp == moveDown {
		return errors.New("pass exactly one of --up or --down")
	}
	ctx, cancel := commandContext()
	defer cancel()

	reg := registry.New(newClient(), notify.Discard, args[0])
	if _, err := reg.Refresh(ctx); err != nil {
		return userError(err)
	}
	col, err := resolveColumn(reg, args[1])
	if err != nil {
		return err
	}
	dir := registry.MoveDown
	if moveUp {
		dir = registry.MoveUp
	}
	if err := reg.Move(ctx, col.ID, dir); err != nil {
		return userError(err)
	}
	for _, c := range reg.Columns() {
		fmt.Printf("%2d  %s\n", c.DisplayOrder, c.Name)
	}
	return nil
}
