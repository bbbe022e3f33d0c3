package catalog

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// The on-disk layout. JSON documents parse too, since JSON is valid YAML.
type fileCatalog struct {
	SchemaName    string             `yaml:"schema_name"`
	Tables        []fileTable        `yaml:"tables"`
	Relationships []fileRelationship `yaml:"relationships,omitempty"`
}

type fileTable struct {
	Schema      string       `yaml:"schema,omitempty"`
	Name        string       `yaml:"name"`
	Description string       `yaml:"description,omitempty"`
	Columns     []fileColumn `yaml:"columns"`
}

type fileColumn struct {
	Name        string `yaml:"name"`
	Type        string `yaml:"type"`
	Nullable    *bool  `yaml:"nullable,omitempty"`
	Description string `yaml:"description,omitempty"`
	References  string `yaml:"references,omitempty"`
}

type fileRelationship struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
	Type string `yaml:"type,omitempty"`
}

func LoadFile(path string) (Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("read catalog file: %w", err)
	}
	c, err := Parse(data)
	if err != nil {
		return Catalog{}, fmt.Errorf("parse catalog file %s: %w", path, err)
	}
	return c, nil
}

func Parse(data []byte) (Catalog, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	var doc fileCatalog
	if err := decoder.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return Catalog{}, fmt.Errorf("%w: empty document", ErrInvalid)
		}
		return Catalog{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	tables := make([]Table, 0, len(doc.Tables))
	for _, ft := range doc.Tables {
		table := Table{
			Schema:      ft.Schema,
			Name:        ft.Name,
			Description: strings.TrimSpace(ft.Description),
			Columns:     make([]Column, 0, len(ft.Columns)),
		}
		for _, fc := range ft.Columns {
			column := Column{
				Name:        strings.TrimSpace(fc.Name),
				Type:        strings.TrimSpace(fc.Type),
				Nullable:    fc.Nullable == nil || *fc.Nullable,
				Description: strings.TrimSpace(fc.Description),
			}
			if fc.References != "" {
				ref, err := parseColumnRef(fc.References)
				if err != nil {
					return Catalog{}, fmt.Errorf("%w: %s.%s: %v", ErrInvalid, ft.Name, fc.Name, err)
				}
				column.References = &ref
			}
			table.Columns = append(table.Columns, column)
		}
		tables = append(tables, table)
	}

	for _, rel := range doc.Relationships {
		if err := applyRelationship(tables, rel); err != nil {
			return Catalog{}, err
		}
	}
	return New(doc.SchemaName, tables)
}

// Marshal renders c in the file layout, with relationships listed both on
// the columns and in the top-level list.
func Marshal(c Catalog) ([]byte, error) {
	doc := fileCatalog{SchemaName: c.Name()}
	for _, table := range c.Tables() {
		ft := fileTable{Schema: table.Schema, Name: table.Name, Description: table.Description}
		for _, column := range table.Columns {
			nullable := column.Nullable
			fc := fileColumn{
				Name:        column.Name,
				Type:        column.Type,
				Nullable:    &nullable,
				Description: column.Description,
			}
			if column.References != nil {
				fc.References = column.References.String()
			}
			ft.Columns = append(ft.Columns, fc)
		}
		doc.Tables = append(doc.Tables, ft)
	}
	for _, rel := range c.Relationships() {
		doc.Relationships = append(doc.Relationships, fileRelationship{
			From: rel.From.String(),
			To:   rel.To.String(),
			Type: rel.To.Kind,
		})
	}

	var buf bytes.Buffer
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	if err := encoder.Encode(doc); err != nil {
		return nil, fmt.Errorf("encode catalog: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return nil, fmt.Errorf("encode catalog: %w", err)
	}
	return buf.Bytes(), nil
}

func applyRelationship(tables []Table, rel fileRelationship) error {
	from, err := parseColumnRef(rel.From)
	if err != nil {
		return fmt.Errorf("%w: relationship from: %v", ErrInvalid, err)
	}
	to, err := parseColumnRef(rel.To)
	if err != nil {
		return fmt.Errorf("%w: relationship to: %v", ErrInvalid, err)
	}
	to.Kind = strings.TrimSpace(rel.Type)

	for i := range tables {
		if !strings.EqualFold(tables[i].ID(), from.Table) && !strings.EqualFold(tables[i].Name, from.Table) {
			continue
		}
		for j := range tables[i].Columns {
			if !strings.EqualFold(tables[i].Columns[j].Name, from.Column) {
				continue
			}
			existing := tables[i].Columns[j].References
			if existing != nil && !strings.EqualFold(existing.String(), to.String()) {
				return fmt.Errorf("%w: %s already references %s", ErrInvalid, from, existing)
			}
			ref := to
			tables[i].Columns[j].References = &ref
			return nil
		}
		return fmt.Errorf("%w: relationship column %s not found", ErrInvalid, from)
	}
	return fmt.Errorf("%w: relationship table %q not found", ErrInvalid, from.Table)
}

func parseColumnRef(raw string) (ColumnRef, error) {
	raw = strings.TrimSpace(raw)
	idx := strings.LastIndex(raw, ".")
	if idx <= 0 || idx == len(raw)-1 {
		return ColumnRef{}, fmt.Errorf("reference %q must be table.column", raw)
	}
	return ColumnRef{Table: raw[:idx], Column: raw[idx+1:]}, nil
}
