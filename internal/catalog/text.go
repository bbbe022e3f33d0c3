package catalog

import "strings"

// EmbeddingText is the description embedded for similarity search.
func (t Table) EmbeddingText() string {
	var b strings.Builder
	b.WriteString("Table ")
	b.WriteString(t.ID())
	if desc := strings.TrimSpace(t.Description); desc != "" {
		b.WriteString(": ")
		b.WriteString(strings.TrimSuffix(desc, "."))
	}
	b.WriteString(". Columns: ")
	for i, column := range t.Columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(column.Name)
		if column.Type != "" {
			b.WriteString(" (")
			b.WriteString(column.Type)
			b.WriteString(")")
		}
		if desc := strings.TrimSpace(column.Description); desc != "" {
			b.WriteString(": ")
			b.WriteString(desc)
		}
	}
	if fks := t.ForeignKeys(); len(fks) > 0 {
		b.WriteString(". References: ")
		for i, fk := range fks {
			if i > 0 {
				b.WriteString("; ")
			}
			b.WriteString(fk.From.String())
			b.WriteString(" -> ")
			b.WriteString(fk.To.String())
		}
	}
	return b.String()
}
