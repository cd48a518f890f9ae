// Command gridctl is the command-line client for a CorpusGrid server.
// It drives the same client packages a full UI shell would: column
// edits go through the registry cache, cell writes through the editor
// state machine, so what you see here is what the grid would do.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"corpusgrid/internal/apiclient"
	"corpusgrid/internal/registry"

	"github.com/spf13/cobra"
)

const version = "0.1.0"

var (
	apiURL  string
	token   string
	timeout time.Duration

	// promptIn feeds confirmation prompts; tests swap it.
	promptIn io.Reader = os.Stdin
)

var rootCmd = &cobra.Command{
	Use:     "gridctl",
	Short:   "CorpusGrid command-line client",
	Version: version,
	Long: `gridctl talks to a CorpusGrid server: browse corpora and their
documents, manage metadata columns, edit cell values and export the
grid. Log in first, then export the issued token:

  gridctl login --name amina
  export GRIDCTL_TOKEN=...
  gridctl corpora`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&apiURL, "api", envOr("GRIDCTL_API", "http://localhost:8080"), "CorpusGrid API base URL")
	rootCmd.PersistentFlags().StringVar(&token, "token", os.Getenv("GRIDCTL_TOKEN"), "Access token issued by login")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "Request timeout")

	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(corporaCmd)
	rootCmd.AddCommand(documentsCmd)
	rootCmd.AddCommand(gridCmd)
	rootCmd.AddCommand(columnsCmd)
	rootCmd.AddCommand(cellCmd)
	rootCmd.AddCommand(actionsCmd)
	rootCmd.AddCommand(exportCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func newClient() *apiclient.Client {
	return apiclient.New(apiURL, token)
}

func commandContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}

func requireToken() error {
	if strings.TrimSpace(token) == "" {
		return errors.New("no access token: run 'gridctl login --name <you>' and export GRIDCTL_TOKEN")
	}
	return nil
}

// userError reduces a failed client call to the line the user should
// see: the server's own message for rejections, a reachability note
// with the cause for transport failures.
func userError(err error) error {
	var invalid *registry.ValidationError
	if errors.As(err, &invalid) {
		return invalid
	}
	var transport *apiclient.TransportError
	if errors.As(err, &transport) {
		return fmt.Errorf("%s (%v)", apiclient.UserMessage(err), transport.Err)
	}
	return errors.New(apiclient.UserMessage(err))
}

// parseValueArg reads a cell or default value from the command line.
// Valid JSON is taken as typed data, anything else as a plain string:
// 42 is a number, high is a string, '["a","b"]' a list.
func parseValueArg(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		return v
	}
	return raw
}

// resolveColumn accepts a column id or, as a convenience, its name.
func resolveColumn(reg *registry.Client, ref string) (apiclient.Column, error) {
	if col, ok := reg.Column(ref); ok {
		return col, nil
	}
	for _, col := range reg.Columns() {
		if strings.EqualFold(col.Name, ref) {
			return col, nil
		}
	}
	return apiclient.Column{}, fmt.Errorf("no column %q in this corpus", ref)
}

// resolveDocument accepts a document id or its title.
func resolveDocument(docs []apiclient.Document, ref string) (apiclient.Document, error) {
	for _, doc := range docs {
		if doc.ID == ref {
			return doc, nil
		}
	}
	for _, doc := range docs {
		if strings.EqualFold(doc.Title, ref) {
			return doc, nil
		}
	}
	return apiclient.Document{}, fmt.Errorf("no document %q in this corpus", ref)
}

// confirm asks a y/N question on stderr and reads one line.
func confirm(question string) bool {
	fmt.Fprintf(os.Stderr, "%s [y/N]: ", question)
	line, _ := bufio.NewReader(promptIn).ReadString('\n')
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func humanSize(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(n)/(1<<10))
	}
	return fmt.Sprintf("%d B", n)
}
