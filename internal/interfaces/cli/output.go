// File: internal/interfaces/cli/output.go
// Text, JSON and table output for command results.

package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

const (
	formatText  = "text"
	formatJSON  = "json"
	formatTable = "table"
)

func validFormat(f string) bool {
	return f == formatText || f == formatJSON || f == formatTable
}

// tabular values render as columns under --output table.
type tabular interface {
	TableHeaders() []string
	TableRows() [][]string
}

// PrintResult writes data to the command's stdout in the --output format.
// Commands run outside the root pre-run print text.
func PrintResult(cmd *cobra.Command, data interface{}) error {
	format := formatText
	if cliCtx, err := GetCLIContext(cmd); err == nil {
		format = cliCtx.OutputFormat
	}
	w := cmd.OutOrStdout()

	switch format {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	case formatTable:
		if t, ok := data.(tabular); ok {
			_, err := io.WriteString(w, FormatTable(t.TableHeaders(), t.TableRows()))
			return err
		}
	}

	var err error
	switch v := data.(type) {
	case string:
		_, err = fmt.Fprintln(w, v)
	case fmt.Stringer:
		_, err = fmt.Fprintln(w, v.String())
	default:
		_, err = fmt.Fprintf(w, "%+v\n", v)
	}
	return err
}

// FormatTable lays rows out under headers with a dashed rule.  Every cell is
// padded to its column width; missing cells are blank.
func FormatTable(headers []string, rows [][]string) string {
	if len(headers) == 0 {
		return ""
	}
	widths := make([]int, len(headers))
	rule := make([]string, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
		for _, row := range rows {
			if i < len(row) && len(row[i]) > widths[i] {
				widths[i] = len(row[i])
			}
		}
		rule[i] = strings.Repeat("-", widths[i])
	}

	var sb strings.Builder
	for _, row := range append([][]string{headers, rule}, rows...) {
		for i, w := range widths {
			if i > 0 {
				sb.WriteString("  ")
			}
			cell := ""
			if i < len(row) {
				cell = row[i]
			}
			fmt.Fprintf(&sb, "%-*s", w, cell)
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}
