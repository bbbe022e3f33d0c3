package nl2sql

import "testing"

func TestExtractStatement(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{name: "bare", raw: "SELECT 1", want: "SELECT 1"},
		{name: "fenced with tag", raw: "```sql\nSELECT customer_name\nFROM customers;\n```", want: "SELECT customer_name\nFROM customers"},
		{name: "fenced without tag", raw: "```\nSELECT 1;\n```", want: "SELECT 1"},
		{name: "inline fence", raw: "```sql SELECT 1```", want: "SELECT 1"},
		{name: "inline fence followed by prose", raw: "```sql SELECT name FROM customers```\nThis lists customers.", want: "SELECT name FROM customers"},
		{name: "prose starting with with", raw: "With the schema above, here you go:\nSELECT 1", want: "SELECT 1"},
		{name: "recursive cte", raw: "WITH RECURSIVE n(i) AS (SELECT 1 UNION ALL SELECT i + 1 FROM n WHERE i < 3)\nSELECT i FROM n", want: "WITH RECURSIVE n(i) AS (SELECT 1 UNION ALL SELECT i + 1 FROM n WHERE i < 3)\nSELECT i FROM n"},
		{name: "cte name on next line", raw: "WITH\n  totals AS (SELECT 1 AS x)\nSELECT x FROM totals", want: "WITH\n  totals AS (SELECT 1 AS x)\nSELECT x FROM totals"},
		{name: "first fence wins", raw: "Try:\n```sql\nSELECT 1\n```\nor\n```sql\nSELECT 2\n```", want: "SELECT 1"},
		{name: "label", raw: "SQL: select count(*) as n from orders;;", want: "select count(*) as n from orders"},
		{name: "prose before and after", raw: "Here is the query:\nSELECT name\nFROM customers\n\nThis lists every customer.", want: "SELECT name\nFROM customers"},
		{name: "continuation paragraph", raw: "SELECT name\n\nFROM customers\n\nORDER BY name", want: "SELECT name\nFROM customers\nORDER BY name"},
		{name: "with clause", raw: "WITH t AS (SELECT 1 AS x)\nSELECT x FROM t", want: "WITH t AS (SELECT 1 AS x)\nSELECT x FROM t"},
		{name: "mutation still extracted", raw: "DELETE FROM orders WHERE order_date >= DATE '2024-01-01';", want: "DELETE FROM orders WHERE order_date >= DATE '2024-01-01'"},
		{name: "stacked kept for validator", raw: "SELECT 1; DROP TABLE orders;", want: "SELECT 1; DROP TABLE orders"},
		{name: "crlf", raw: "SELECT 1\r\nFROM t\r\n\r\nDone.", want: "SELECT 1\nFROM t"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractStatement(tt.raw)
			if !ok {
				t.Fatalf("ExtractStatement(%q) found nothing", tt.raw)
			}
			if got != tt.want {
				t.Fatalf("ExtractStatement() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtractStatementNoCandidate(t *testing.T) {
	for _, raw := range []string{
		"",
		"   \n\t",
		"I am sorry, I cannot answer that question.",
		"With regret, that data is not in the schema.",
		"```sql\n;\n```",
	} {
		if got, ok := ExtractStatement(raw); ok {
			t.Fatalf("ExtractStatement(%q) = %q, want no candidate", raw, got)
		}
	}
}
