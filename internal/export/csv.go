package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
)

// exportCSV writes the grid as CSV: a header row of column names, then
// one row per document in the corpus.
func exportCSV(grid Grid) (*Result, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := make([]string, 0, len(grid.Columns)+1)
	header = append(header, "Document")
	for _, col := range grid.Columns {
		header = append(header, col.Name)
	}
	if err := w.Write(header); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}

	for _, row := range grid.Rows {
		record := make([]string, 0, len(row.Values)+1)
		record = append(record, row.Title)
		record = append(record, row.Values...)
		if err := w.Write(record); err != nil {
			return nil, fmt.Errorf("write csv row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}

	return &Result{
		Data:     buf.Bytes(),
		Filename: sanitizeFilename(grid.CorpusName) + ".csv",
		MimeType: "text/csv",
	}, nil
}
