// Package catalog holds the schema description questions are answered
// against. A Catalog is immutable once built: accessors return copies.
package catalog

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound = errors.New("catalog: not found")
	ErrInvalid  = errors.New("catalog: invalid")
)

// Table is one catalog entry. Its identity is ID().
type Table struct {
	Schema      string
	Name        string
	Description string
	Columns     []Column
}

type Column struct {
	Name        string
	Type        string
	Nullable    bool
	Description string
	References  *ColumnRef
}

// ColumnRef points at a column of another table by table ID.
type ColumnRef struct {
	Table  string
	Column string
	Kind   string
}

func (r ColumnRef) String() string {
	return r.Table + "." + r.Column
}

type Relationship struct {
	From ColumnRef
	To   ColumnRef
}

func (t Table) ID() string {
	if t.Schema == "" {
		return t.Name
	}
	return t.Schema + "." + t.Name
}

func (t Table) Column(name string) (Column, bool) {
	for _, column := range t.Columns {
		if strings.EqualFold(column.Name, name) {
			return column, true
		}
	}
	return Column{}, false
}

// ForeignKeys lists the table's outgoing references in column order.
func (t Table) ForeignKeys() []Relationship {
	var out []Relationship
	for _, column := range t.Columns {
		if column.References == nil {
			continue
		}
		out = append(out, Relationship{
			From: ColumnRef{Table: t.ID(), Column: column.Name},
			To:   *column.References,
		})
	}
	return out
}

func (t Table) clone() Table {
	out := t
	out.Columns = make([]Column, len(t.Columns))
	for i, column := range t.Columns {
		out.Columns[i] = column
		if column.References != nil {
			ref := *column.References
			out.Columns[i].References = &ref
		}
	}
	return out
}

type Catalog struct {
	name   string
	tables []Table
	index  map[string]int
}

// New validates tables and builds a catalog that keeps their order.
func New(name string, tables []Table) (Catalog, error) {
	c := Catalog{
		name:   name,
		tables: make([]Table, 0, len(tables)),
		index:  make(map[string]int, len(tables)),
	}
	for _, table := range tables {
		table.Name = strings.TrimSpace(table.Name)
		table.Schema = strings.TrimSpace(table.Schema)
		if table.Name == "" {
			return Catalog{}, fmt.Errorf("%w: table name is required", ErrInvalid)
		}
		id := table.ID()
		if _, exists := c.index[id]; exists {
			return Catalog{}, fmt.Errorf("%w: duplicate table %q", ErrInvalid, id)
		}
		if len(table.Columns) == 0 {
			return Catalog{}, fmt.Errorf("%w: table %q has no columns", ErrInvalid, id)
		}
		seen := make(map[string]struct{}, len(table.Columns))
		for _, column := range table.Columns {
			key := strings.ToLower(strings.TrimSpace(column.Name))
			if key == "" {
				return Catalog{}, fmt.Errorf("%w: table %q has a column without a name", ErrInvalid, id)
			}
			if _, exists := seen[key]; exists {
				return Catalog{}, fmt.Errorf("%w: table %q has duplicate column %q", ErrInvalid, id, column.Name)
			}
			seen[key] = struct{}{}
		}
		c.index[id] = len(c.tables)
		c.tables = append(c.tables, table.clone())
	}

	for _, table := range c.tables {
		for _, fk := range table.ForeignKeys() {
			target, ok := c.lookup(fk.To.Table)
			if !ok {
				return Catalog{}, fmt.Errorf("%w: %s references unknown table %q", ErrInvalid, fk.From, fk.To.Table)
			}
			if _, ok := target.Column(fk.To.Column); !ok {
				return Catalog{}, fmt.Errorf("%w: %s references unknown column %s", ErrInvalid, fk.From, fk.To)
			}
		}
	}
	return c, nil
}

func (c Catalog) Name() string {
	return c.name
}

func (c Catalog) Len() int {
	return len(c.tables)
}

// Tables returns every entry in catalog order.
func (c Catalog) Tables() []Table {
	out := make([]Table, len(c.tables))
	for i, table := range c.tables {
		out[i] = table.clone()
	}
	return out
}

func (c Catalog) Table(id string) (Table, error) {
	table, ok := c.lookup(id)
	if !ok {
		return Table{}, fmt.Errorf("%w: table %q", ErrNotFound, id)
	}
	return table.clone(), nil
}

// Position is the insertion index of the entry, used to break ties.
func (c Catalog) Position(id string) (int, bool) {
	pos, ok := c.index[id]
	return pos, ok
}

// Subset returns the named entries in catalog order. Unknown IDs are an
// error.
func (c Catalog) Subset(ids []string) ([]Table, error) {
	wanted := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := c.index[id]; !ok {
			return nil, fmt.Errorf("%w: table %q", ErrNotFound, id)
		}
		wanted[id] = struct{}{}
	}
	out := make([]Table, 0, len(wanted))
	for _, table := range c.tables {
		if _, ok := wanted[table.ID()]; ok {
			out = append(out, table.clone())
		}
	}
	return out, nil
}

func (c Catalog) Relationships() []Relationship {
	var out []Relationship
	for _, table := range c.tables {
		out = append(out, table.ForeignKeys()...)
	}
	return out
}

// lookup resolves an ID exactly, then by bare table name when unambiguous.
func (c Catalog) lookup(id string) (Table, bool) {
	if pos, ok := c.index[id]; ok {
		return c.tables[pos], true
	}
	var found *Table
	for i := range c.tables {
		if strings.EqualFold(c.tables[i].Name, id) || strings.EqualFold(c.tables[i].ID(), id) {
			if found != nil {
				return Table{}, false
			}
			found = &c.tables[i]
		}
	}
	if found == nil {
		return Table{}, false
	}
	return *found, true
}
