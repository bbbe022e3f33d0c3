// Package prompt renders the generation request for a question and a
// selection of catalog tables.
//
// Rendering is a pure function of its inputs: the same question, tables
// and options always produce byte-identical text and fingerprint.
package prompt

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/askql/askql/internal/catalog"
	"github.com/askql/askql/internal/database"
)

var (
	ErrEmptyQuestion = errors.New("question is empty")
	ErrNoTables      = errors.New("no tables selected")
)

type Backend struct {
	Name     string `json:"name"`
	Model    string `json:"model"`
	Endpoint string `json:"endpoint"`
}

type Sampling struct {
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
}

type Request struct {
	Question    string           `json:"question"`
	Tables      []string         `json:"tables"`
	Dialect     database.Dialect `json:"dialect"`
	System      string           `json:"system"`
	User        string           `json:"user"`
	Backend     Backend          `json:"backend"`
	Sampling    Sampling         `json:"sampling"`
	Fingerprint string           `json:"fingerprint"`
}

// Text is the system and user prompt joined, for backends that take a
// single prompt.
func (r Request) Text() string {
	return r.System + "\n\n" + r.User
}

type Options struct {
	Dialect    database.Dialect
	SchemaName string
	Backend    Backend
	Sampling   Sampling
}

type Builder struct {
	opts Options
}

func NewBuilder(opts Options) *Builder {
	if opts.Dialect == "" {
		opts.Dialect = database.DuckDB
	}
	return &Builder{opts: opts}
}

func (b *Builder) Build(question string, tables []catalog.Table) (Request, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return Request{}, ErrEmptyQuestion
	}
	if len(tables) == 0 {
		return Request{}, ErrNoTables
	}

	system := SystemPrompt(b.opts.Dialect)
	user := SchemaContext(b.opts.SchemaName, tables) + "\n\nQuestion: " + question + "\n\nSQL:"

	ids := make([]string, len(tables))
	for i, table := range tables {
		ids[i] = table.ID()
	}
	sum := sha256.Sum256([]byte(system + "\x00" + user))

	return Request{
		Question:    question,
		Tables:      ids,
		Dialect:     b.opts.Dialect,
		System:      system,
		User:        user,
		Backend:     b.opts.Backend,
		Sampling:    b.opts.Sampling,
		Fingerprint: hex.EncodeToString(sum[:]),
	}, nil
}

func SystemPrompt(dialect database.Dialect) string {
	name := dialect.DisplayName()
	var b strings.Builder
	fmt.Fprintf(&b, "You are an expert %s SQL generator.\n", name)
	fmt.Fprintf(&b, "Generate one syntactically correct %s SQL query based on the provided schema.\n", name)
	b.WriteString("Rules:\n")
	b.WriteString("- Return exactly one statement\n")
	b.WriteString("- The statement must be read-only: SELECT, or WITH ... SELECT\n")
	b.WriteString("- Use only the tables and columns listed in the schema\n")
	b.WriteString("- Use explicit column names, never SELECT *\n")
	b.WriteString("- Include appropriate WHERE clauses for filtering\n")
	b.WriteString("- Add helpful column aliases\n")
	fmt.Fprintf(&b, "- Use %s to limit rows\n", dialect.RowLimitHint())
	fmt.Fprintf(&b, "- Use standard %s date functions\n", name)
	b.WriteString("Return only the SQL query, no explanations or markdown.")
	return b.String()
}

// SchemaContext describes the tables in the order given.
func SchemaContext(schemaName string, tables []catalog.Table) string {
	var b strings.Builder
	if schemaName != "" {
		b.WriteString("Database Schema: ")
		b.WriteString(schemaName)
		b.WriteString("\n")
	}
	for _, table := range tables {
		b.WriteString("\nTable: ")
		b.WriteString(table.ID())
		if desc := strings.TrimSpace(table.Description); desc != "" {
			b.WriteString("\nDescription: ")
			b.WriteString(desc)
		}
		b.WriteString("\nColumns:")
		for _, column := range table.Columns {
			b.WriteString("\n  - ")
			b.WriteString(column.Name)
			b.WriteString(" (")
			if column.Type != "" {
				b.WriteString(column.Type)
			} else {
				b.WriteString("UNKNOWN")
			}
			if !column.Nullable {
				b.WriteString(", not null")
			}
			b.WriteString(")")
			if desc := strings.TrimSpace(column.Description); desc != "" {
				b.WriteString(": ")
				b.WriteString(desc)
			}
		}
		if fks := table.ForeignKeys(); len(fks) > 0 {
			b.WriteString("\nForeign keys:")
			for _, fk := range fks {
				b.WriteString("\n  - ")
				b.WriteString(fk.From.Column)
				b.WriteString(" -> ")
				b.WriteString(fk.To.String())
			}
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
