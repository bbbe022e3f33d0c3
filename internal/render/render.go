// Package render writes result sets for terminals and documents.
package render

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/askql/askql/internal/query"
)

type Format string

const (
	FormatTable    Format = "table"
	FormatMarkdown Format = "markdown"
	FormatCSV      Format = "csv"
	FormatJSON     Format = "json"
)

func ParseFormat(raw string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "table":
		return FormatTable, nil
	case "md", "markdown":
		return FormatMarkdown, nil
	case "csv":
		return FormatCSV, nil
	case "json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unsupported output format %q", raw)
	}
}

func Write(w io.Writer, result query.ResultSet, format Format) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	case FormatCSV:
		return writeCSV(w, result)
	case FormatMarkdown:
		if len(result.Columns) == 0 {
			_, err := fmt.Fprintln(w, "(0 rows)")
			return err
		}
		newWriter(w, result).RenderMarkdown()
		return nil
	case FormatTable, "":
		if len(result.Rows) == 0 {
			_, err := fmt.Fprintln(w, "(0 rows)")
			return err
		}
		t := newWriter(w, result)
		t.SetStyle(table.StyleLight)
		t.Render()
		return writeFooter(w, result)
	default:
		return fmt.Errorf("unsupported output format %q", format)
	}
}

func newWriter(w io.Writer, result query.ResultSet) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)

	header := make(table.Row, len(result.Columns))
	for i, column := range result.Columns {
		header[i] = column
	}
	t.AppendHeader(header)

	for _, row := range result.Rows {
		cells := make(table.Row, len(row.Values))
		for i, value := range row.Values {
			cells[i] = value.String()
		}
		t.AppendRow(cells)
	}
	return t
}

func writeFooter(w io.Writer, result query.ResultSet) error {
	suffix := ""
	if result.Truncated {
		suffix = ", truncated"
	}
	_, err := fmt.Fprintf(w, "(%d rows%s)\n", result.RowCount, suffix)
	return err
}

// writeCSV follows RFC 4180 quoting; the table writer's CSV mode escapes
// commas with backslashes instead.
func writeCSV(w io.Writer, result query.ResultSet) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(result.Columns); err != nil {
		return err
	}
	for _, row := range result.Rows {
		record := make([]string, len(row.Values))
		for i, value := range row.Values {
			record[i] = value.String()
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
