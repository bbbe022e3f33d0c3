package askqlctl

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/askql/askql/internal/query"
	"github.com/askql/askql/internal/render"
)

type outcomeResponse struct {
	ID       string `json:"id"`
	Question string `json:"question"`
	Mode     string `json:"mode"`
	FullScan bool   `json:"full_schema"`
	Matches  []struct {
		Table string  `json:"table"`
		Score float64 `json:"score"`
	} `json:"matches"`
	Prompt *struct {
		System string `json:"system"`
		User   string `json:"user"`
	} `json:"prompt"`
	Candidate *struct {
		SQL     string `json:"sql"`
		Backend string `json:"backend"`
		Model   string `json:"model"`
	} `json:"candidate"`
	Verdict *struct {
		Status string `json:"status"`
		Reason string `json:"reason"`
		Rule   string `json:"rule"`
	} `json:"verdict"`
	Result *wireResult `json:"result"`
}

type wireResult struct {
	Columns   []string                     `json:"columns"`
	Rows      []map[string]json.RawMessage `json:"rows"`
	RowCount  int                          `json:"row_count"`
	Truncated bool                         `json:"truncated"`
}

type retrieveResponse struct {
	Question string `json:"question"`
	Full     bool   `json:"full_schema"`
	Tables   []struct {
		Table       string  `json:"table"`
		Description string  `json:"description"`
		Score       float64 `json:"score"`
	} `json:"tables"`
}

type errorResponse struct {
	Code    string         `json:"error_code"`
	Message string         `json:"message"`
	Context map[string]any `json:"context"`
	TraceID string         `json:"trace_id"`
}

func (r retrieveResponse) resultSet() query.ResultSet {
	columns := []string{"table", "score", "description"}
	result := query.ResultSet{Columns: columns, RowCount: len(r.Tables)}
	for _, table := range r.Tables {
		result.Rows = append(result.Rows, query.Row{
			Columns: columns,
			Values: []query.Value{
				query.Text(table.Table),
				query.Decimal(strconv.FormatFloat(table.Score, 'f', 4, 64)),
				query.Text(table.Description),
			},
		})
	}
	return result
}

// resultSet rebuilds typed values from the wire rows. Numbers without a
// fraction or exponent become integers when they fit.
func (r wireResult) resultSet() (query.ResultSet, error) {
	result := query.ResultSet{
		Columns:   r.Columns,
		RowCount:  r.RowCount,
		Truncated: r.Truncated,
		Rows:      make([]query.Row, 0, len(r.Rows)),
	}
	for i, raw := range r.Rows {
		row := query.Row{Columns: r.Columns, Values: make([]query.Value, len(r.Columns))}
		for j, column := range r.Columns {
			value, err := decodeValue(raw[column])
			if err != nil {
				return query.ResultSet{}, fmt.Errorf("row %d column %q: %w", i, column, err)
			}
			row.Values[j] = value
		}
		result.Rows = append(result.Rows, row)
	}
	return result, nil
}

func decodeValue(raw json.RawMessage) (query.Value, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return query.Null(), nil
	}
	switch trimmed[0] {
	case '"':
		var text string
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return query.Value{}, err
		}
		return query.Text(text), nil
	case 't', 'f':
		return query.Text(string(trimmed)), nil
	default:
		digits := string(trimmed)
		if !strings.ContainsAny(digits, ".eE") {
			if n, err := strconv.ParseInt(digits, 10, 64); err == nil {
				return query.Integer(n), nil
			}
		}
		return query.Decimal(digits), nil
	}
}

func writeOutcome(w io.Writer, outcome outcomeResponse, format render.Format, showPrompt bool) error {
	_, _ = fmt.Fprintf(w, "Question: %s\n", outcome.Question)
	if len(outcome.Matches) > 0 {
		names := make([]string, len(outcome.Matches))
		for i, match := range outcome.Matches {
			names[i] = fmt.Sprintf("%s (%.2f)", match.Table, match.Score)
		}
		label := "Tables"
		if outcome.FullScan {
			label = "Tables (full schema)"
		}
		_, _ = fmt.Fprintf(w, "%s: %s\n", label, strings.Join(names, ", "))
	}
	if showPrompt && outcome.Prompt != nil {
		rule := strings.Repeat("=", 60)
		_, _ = fmt.Fprintf(w, "%s\nPrompt:\n%s\n%s\n\n%s\n%s\n", rule, rule, outcome.Prompt.System, outcome.Prompt.User, rule)
	}
	if outcome.Candidate != nil {
		_, _ = fmt.Fprintf(w, "\nSQL (%s %s):\n%s\n", outcome.Candidate.Backend, outcome.Candidate.Model, outcome.Candidate.SQL)
	}
	if outcome.Verdict != nil {
		_, _ = fmt.Fprintf(w, "Validation: %s\n", outcome.Verdict.Status)
	}
	if outcome.Result == nil {
		return nil
	}
	result, err := outcome.Result.resultSet()
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(w)
	return render.Write(w, result, format)
}

func writeFailure(w io.Writer, status int, body []byte) {
	var failure errorResponse
	if err := json.Unmarshal(body, &failure); err != nil || failure.Code == "" {
		_, _ = fmt.Fprintf(w, "http %d: %s\n", status, strings.TrimSpace(string(body)))
		return
	}
	_, _ = fmt.Fprintf(w, "http %d %s: %s\n", status, failure.Code, failure.Message)
	if sql, ok := failure.Context["sql"].(string); ok && sql != "" {
		_, _ = fmt.Fprintf(w, "SQL:\n%s\n", sql)
	}
	if rule, ok := failure.Context["rule"].(string); ok && rule != "" {
		_, _ = fmt.Fprintf(w, "Rule: %s\n", rule)
	}
	if failure.TraceID != "" {
		_, _ = fmt.Fprintf(w, "Trace: %s\n", failure.TraceID)
	}
}
