package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"corpusgrid/internal/apiclient"
	"corpusgrid/internal/cellsync"
	"corpusgrid/internal/export"
	"corpusgrid/internal/notify"
	"corpusgrid/internal/registry"

	"github.com/spf13/cobra"
)

var cellCmd = &cobra.Command{
	Use:   "cell",
	Short: "Read and edit single grid cells",
}

var cellGetCmd = &cobra.Command{
	Use:   "get <corpus> <document> <column>",
	Short: "Show a cell's value and annotation",
	Args:  cobra.ExactArgs(3),
	RunE:  runCellGet,
}

var cellSetCmd = &cobra.Command{
	Use:   "set <corpus> <document> <column> <value>",
	Short: "Write a cell value through the editor state machine",
	Long: `Validates the value against the column's rules locally, then saves
it. The server's stored value is printed back; on rejection the cell
keeps its previous value and the server's message is shown.`,
	Args: cobra.ExactArgs(4),
	RunE: runCellSet,
}

var cellClearCmd = &cobra.Command{
	Use:   "clear <corpus> <document> <column>",
	Short: "Remove a cell's stored value",
	Args:  cobra.ExactArgs(3),
	RunE:  runCellClear,
}

var annotateText string

var cellAnnotateCmd = &cobra.Command{
	Use:   "annotate <corpus> <document> <column>",
	Short: "Attach a data-definition annotation to a stored value",
	Args:  cobra.ExactArgs(3),
	RunE:  runCellAnnotate,
}

func init() {
	cellAnnotateCmd.Flags().StringVar(&annotateText, "note", "", "Annotation text (required)")
	cellAnnotateCmd.MarkFlagRequired("note")

	cellCmd.AddCommand(cellGetCmd)
	cellCmd.AddCommand(cellSetCmd)
	cellCmd.AddCommand(cellClearCmd)
	cellCmd.AddCommand(cellAnnotateCmd)
}

// cellScope is the resolved context of one cell command: the document
// and column the arguments name, plus the corpus's stored cells.
type cellScope struct {
	api      *apiclient.Client
	reg      *registry.Client
	document apiclient.Document
	column   apiclient.Column
	cells    []apiclient.Cell
}

func resolveCellScope(ctx context.Context, corpusID, docRef, colRef string) (*cellScope, error) {
	api := newClient()
	reg := registry.New(api, notify.Discard, corpusID)
	if _, err := reg.Refresh(ctx); err != nil {
		return nil, userError(err)
	}
	docs, err := api.ListDocuments(ctx, corpusID)
	if err != nil {
		return nil, userError(err)
	}
	doc, err := resolveDocument(docs, docRef)
	if err != nil {
		return nil, err
	}
	col, err := resolveColumn(reg, colRef)
	if err != nil {
		return nil, err
	}
	cells, err := api.ListCells(ctx, corpusID)
	if err != nil {
		return nil, userError(err)
	}
	return &cellScope{api: api, reg: reg, document: doc, column: col, cells: cells}, nil
}

func (s *cellScope) current() (apiclient.Cell, bool) {
	for _, cell := range s.cells {
		if cell.DocumentID == s.document.ID && cell.ColumnID == s.column.ID {
			return cell, true
		}
	}
	return apiclient.Cell{}, false
}

func (s *cellScope) newEditor() (*cellsync.Synchronizer, cellsync.Key) {
	editor := cellsync.New(s.api, s.reg, notify.Stream{Out: os.Stderr})
	editor.SetTimeout(timeout)
	key := cellsync.Key{DocumentID: s.document.ID, ColumnID: s.column.ID}
	if cell, ok := s.current(); ok {
		editor.Hydrate(key, cell.Value)
	}
	return editor, key
}

// awaitSettle dispatches one editor operation and blocks until the cell
// reaches idle or error. An operation that never leaves the editor
// (local validation failure) is returned as-is.
func awaitSettle(editor *cellsync.Synchronizer, key cellsync.Key, dispatch func() cellsync.State) (cellsync.State, error) {
	settled := make(chan cellsync.State, 8)
	cancel := editor.Subscribe(func(k cellsync.Key, st cellsync.State) {
		if k == key && (st.Status == cellsync.StatusIdle || st.Status == cellsync.StatusError) {
			select {
			case settled <- st:
			default:
			}
		}
	})
	defer cancel()

	if state := dispatch(); state.Status != cellsync.StatusSaving {
		return state, nil
	}
	select {
	case st := <-settled:
		return st, nil
	case <-time.After(timeout + 5*time.Second):
		return cellsync.State{}, errors.New("timed out waiting for the server")
	}
}

func runCellGet(cmd *cobra.Command, args []string) error {
	if err := requireToken(); err != nil {
		return err
	}
	ctx, cancel := commandContext()
	defer cancel()

	scope, err := resolveCellScope(ctx, args[0], args[1], args[2])
	if err != nil {
		return err
	}
	cell, ok := scope.current()
	if !ok {
		fmt.Printf("%s: no value\n", scope.column.Name)
		return nil
	}
	fmt.Printf("%s: %s\n", scope.column.Name, export.DisplayValue(scope.column.DataType, cell.Value))
	if cell.Annotation != "" {
		fmt.Printf("annotation: %s\n", cell.Annotation)
	}
	fmt.Printf("updated %s\n", cell.UpdatedAt.Format(time.RFC3339))
	return nil
}

func runCellSet(cmd *cobra.Command, args []string) error {
	if err := requireToken(); err != nil {
		return err
	}
	ctx, cancel := commandContext()
	defer cancel()

	scope, err := resolveCellScope(ctx, args[0], args[1], args[2])
	if err != nil {
		return err
	}
	editor, key := scope.newEditor()
	value := parseValueArg(args[3])

	state, err := awaitSettle(editor, key, func() cellsync.State {
		editor.Edit(key)
		editor.Input(key, value)
		return editor.Commit(key)
	})
	if err != nil {
		return err
	}
	switch state.Status {
	case cellsync.StatusEditing:
		return errors.New(state.Err)
	case cellsync.StatusError:
		// the editor already reported the server's message
		return errors.New("value not saved")
	}
	fmt.Printf("%s = %s\n", scope.column.Name, export.DisplayValue(scope.column.DataType, state.Original))
	return nil
}

func runCellClear(cmd *cobra.Command, args []string) error {
	if err := requireToken(); err != nil {
		return err
	}
	ctx, cancel := commandContext()
	defer cancel()

	scope, err := resolveCellScope(ctx, args[0], args[1], args[2])
	if err != nil {
		return err
	}
	editor, key := scope.newEditor()

	state, err := awaitSettle(editor, key, func() cellsync.State {
		return editor.Clear(key)
	})
	if err != nil {
		return err
	}
	if state.Status == cellsync.StatusError {
		return errors.New("value not cleared")
	}
	fmt.Printf("Cleared %s on %q.\n", scope.column.Name, scope.document.Title)
	return nil
}

func runCellAnnotate(cmd *cobra.Command, args []string) error {
	if err := requireToken(); err != nil {
		return err
	}
	ctx, cancel := commandContext()
	defer cancel()

	scope, err := resolveCellScope(ctx, args[0], args[1], args[2])
	if err != nil {
		return err
	}
	cell, ok := scope.current()
	if !ok {
		return fmt.Errorf("no value stored in %s for %q; set one first", scope.column.Name, scope.document.Title)
	}
	note := annotateText
	write := apiclient.CellWrite{Value: cell.Value, Annotation: &note}
	if _, err := scope.api.SetCell(ctx, scope.document.ID, scope.column.ID, write); err != nil {
		return userError(err)
	}
	fmt.Printf("Annotated %s on %q.\n", scope.column.Name, scope.document.Title)
	return nil
}
