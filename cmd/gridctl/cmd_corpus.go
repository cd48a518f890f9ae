package main

import (
	"fmt"
	"os"
	"strings"

	"corpusgrid/internal/export"
	"corpusgrid/internal/notify"
	"corpusgrid/internal/rbac"
	"corpusgrid/internal/registry"

	"github.com/spf13/cobra"
)

var corporaCmd = &cobra.Command{
	Use:   "corpora",
	Short: "List the corpora you can open",
	Args:  cobra.NoArgs,
	RunE:  runCorpora,
}

var documentsCmd = &cobra.Command{
	Use:   "documents <corpus>",
	Short: "List a corpus's documents",
	Args:  cobra.ExactArgs(1),
	RunE:  runDocuments,
}

var gridCmd = &cobra.Command{
	Use:   "grid <corpus>",
	Short: "Render the metadata grid: one row per document, one column per field",
	Args:  cobra.ExactArgs(1),
	RunE:  runGrid,
}

var actionsTarget string

var actionsCmd = &cobra.Command{
	Use:   "actions <corpus>",
	Short: "Show the actions your role allows on a corpus",
	Args:  cobra.ExactArgs(1),
	RunE:  runActions,
}

var (
	exportFormat string
	exportOut    string
)

var exportCmd = &cobra.Command{
	Use:   "export <corpus>",
	Short: "Download the corpus grid as CSV or PDF",
	Args:  cobra.ExactArgs(1),
	RunE:  runExport,
}

func init() {
	actionsCmd.Flags().StringVar(&actionsTarget, "target", "corpus", "Action target: corpus, document, column or cell")
	exportCmd.Flags().StringVar(&exportFormat, "format", "csv", "Export format: csv or pdf")
	exportCmd.Flags().StringVar(&exportOut, "out", "", "Output path (default: the server-suggested filename, - for stdout)")
}

func runCorpora(cmd *cobra.Command, args []string) error {
	if err := requireToken(); err != nil {
		return err
	}
	ctx, cancel := commandContext()
	defer cancel()

	corpora, err := newClient().ListCorpora(ctx)
	if err != nil {
		return userError(err)
	}
	if len(corpora) == 0 {
		fmt.Println("No corpora yet.")
		return nil
	}
	for _, corpus := range corpora {
		fmt.Printf("%s  %s\n", corpus.ID, corpus.Name)
		if corpus.Description != "" {
			fmt.Printf("%s  %s\n", strings.Repeat(" ", len(corpus.ID)), corpus.Description)
		}
	}
	return nil
}

func runDocuments(cmd *cobra.Command, args []string) error {
	if err := requireToken(); err != nil {
		return err
	}
	ctx, cancel := commandContext()
	defer cancel()

	docs, err := newClient().ListDocuments(ctx, args[0])
	if err != nil {
		return userError(err)
	}
	if len(docs) == 0 {
		fmt.Println("No documents yet.")
		return nil
	}
	for _, doc := range docs {
		line := fmt.Sprintf("%s  %s", doc.ID, doc.Title)
		if doc.File != nil {
			line += fmt.Sprintf("  [%s, %s]", doc.File.MimeType, humanSize(doc.File.Size))
		}
		fmt.Println(line)
	}
	return nil
}

const maxCellWidth = 28

func runGrid(cmd *cobra.Command, args []string) error {
	if err := requireToken(); err != nil {
		return err
	}
	corpusID := args[0]
	ctx, cancel := commandContext()
	defer cancel()

	api := newClient()
	reg := registry.New(api, notify.Discard, corpusID)
	columns, err := reg.Refresh(ctx)
	if err != nil {
		return userError(err)
	}
	docs, err := api.ListDocuments(ctx, corpusID)
	if err != nil {
		return userError(err)
	}
	cells, err := api.ListCells(ctx, corpusID)
	if err != nil {
		return userError(err)
	}
	if len(docs) == 0 {
		fmt.Println("No documents yet.")
		return nil
	}

	type gridKey struct{ doc, col string }
	byCell := make(map[gridKey]string, len(cells))
	for _, cell := range cells {
		byCell[gridKey{cell.DocumentID, cell.ColumnID}] = export.DisplayValue(cell.DataType, cell.Value)
	}

	docWidth := len("Document")
	for _, doc := range docs {
		if n := len([]rune(doc.Title)); n > docWidth {
			docWidth = n
		}
	}
	if docWidth > maxCellWidth {
		docWidth = maxCellWidth
	}
	widths := make([]int, len(columns))
	for i, col := range columns {
		widths[i] = len([]rune(col.Name))
		for _, doc := range docs {
			if n := len([]rune(byCell[gridKey{doc.ID, col.ID}])); n > widths[i] {
				widths[i] = n
			}
		}
		if widths[i] > maxCellWidth {
			widths[i] = maxCellWidth
		}
	}

	header := pad("Document", docWidth)
	for i, col := range columns {
		header += "  " + pad(col.Name, widths[i])
	}
	fmt.Println(header)
	fmt.Println(strings.Repeat("-", len([]rune(header))))
	for _, doc := range docs {
		row := pad(doc.Title, docWidth)
		for i, col := range columns {
			row += "  " + pad(byCell[gridKey{doc.ID, col.ID}], widths[i])
		}
		fmt.Println(strings.TrimRight(row, " "))
	}
	return nil
}

// pad truncates or right-pads s to exactly width runes.
func pad(s string, width int) string {
	runes := []rune(s)
	if len(runes) > width {
		if width <= 3 {
			return string(runes[:width])
		}
		return string(runes[:width-3]) + "..."
	}
	return s + strings.Repeat(" ", width-len(runes))
}

func runActions(cmd *cobra.Command, args []string) error {
	if err := requireToken(); err != nil {
		return err
	}
	target := rbac.Target(strings.ToLower(actionsTarget))
	switch target {
	case rbac.TargetCorpus, rbac.TargetDocument, rbac.TargetColumn, rbac.TargetCell:
	default:
		return fmt.Errorf("unknown target %q (one of corpus, document, column, cell)", actionsTarget)
	}
	ctx, cancel := commandContext()
	defer cancel()

	caps, err := newClient().Capabilities(ctx, args[0], target)
	if err != nil {
		return userError(err)
	}
	fmt.Printf("Role: %s\n", caps.Role)
	if len(caps.Actions) == 0 {
		fmt.Printf("No %s actions available.\n", target)
		return nil
	}
	idWidth := 0
	for _, action := range caps.Actions {
		if n := len(action.ID); n > idWidth {
			idWidth = n
		}
	}
	for _, action := range caps.Actions {
		fmt.Printf("%-*s  %s\n", idWidth, action.ID, action.Label)
	}
	return nil
}

func runExport(cmd *cobra.Command, args []string) error {
	if err := requireToken(); err != nil {
		return err
	}
	format := strings.ToLower(exportFormat)
	if format != "csv" && format != "pdf" {
		return fmt.Errorf("unknown format %q (csv or pdf)", exportFormat)
	}
	ctx, cancel := commandContext()
	defer cancel()

	result, err := newClient().ExportCorpus(ctx, args[0], format)
	if err != nil {
		return userError(err)
	}
	if exportOut == "-" {
		_, err := os.Stdout.Write(result.Data)
		return err
	}
	path := exportOut
	if path == "" {
		path = result.Filename
	}
	if err := os.WriteFile(path, result.Data, 0o644); err != nil {
		return fmt.Errorf("write export: %w", err)
	}
	fmt.Printf("Wrote %s (%s)\n", path, humanSize(int64(len(result.Data))))
	return nil
}
