package catalog

import (
	"errors"
	"strings"
	"testing"
)

func TestLoadFileFoldsRelationshipsIntoColumns(t *testing.T) {
	c, err := LoadFile("testdata/sales.yaml")
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if c.Name() != "SALES" || c.Len() != 2 {
		t.Fatalf("catalog = %q with %d tables", c.Name(), c.Len())
	}
	orders, err := c.Table("orders")
	if err != nil {
		t.Fatalf("Table() error = %v", err)
	}
	column, ok := orders.Column("customer_id")
	if !ok || column.References == nil {
		t.Fatalf("customer_id = %+v", column)
	}
	if column.References.String() != "customers.customer_id" || column.References.Kind != "many-to-one" {
		t.Fatalf("References = %+v", column.References)
	}
	if column.Nullable {
		t.Fatal("customer_id should be not null")
	}
	country, _ := mustTable(t, c, "customers").Column("country")
	if !country.Nullable {
		t.Fatal("columns default to nullable")
	}
}

func TestParseAcceptsJSON(t *testing.T) {
	c, err := LoadFile("testdata/sales.json")
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if got := c.Tables()[0].Columns[1].Type; got != "DECIMAL(10,2)" {
		t.Fatalf("Type = %q", got)
	}
}

func TestParseRejectsBadDocuments(t *testing.T) {
	tests := map[string]string{
		"empty":            ``,
		"unknown field":    "schema_name: x\ntables:\n  - name: a\n    colums: []\n",
		"no columns":       "tables:\n  - name: a\n    columns: []\n",
		"duplicate table":  "tables:\n  - name: a\n    columns: [{name: id}]\n  - name: a\n    columns: [{name: id}]\n",
		"duplicate column": "tables:\n  - name: a\n    columns: [{name: id}, {name: ID}]\n",
		"dangling ref":     "tables:\n  - name: a\n    columns: [{name: b_id, references: b.id}]\n",
		"bad ref":          "tables:\n  - name: a\n    columns: [{name: b_id, references: nodot}]\n",
		"unknown rel":      "tables:\n  - name: a\n    columns: [{name: id}]\nrelationships:\n  - {from: a.missing, to: a.id}\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			if !errors.Is(err, ErrInvalid) {
				t.Fatalf("Parse() error = %v, want ErrInvalid", err)
			}
		})
	}
}

func TestCatalogIsImmutable(t *testing.T) {
	c, err := LoadFile("testdata/sales.yaml")
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	tables := c.Tables()
	tables[0].Name = "mutated"
	tables[0].Columns[0].Name = "mutated"
	tables[1].Columns[1].References.Table = "mutated"

	again := c.Tables()
	if again[0].Name != "customers" || again[0].Columns[0].Name != "customer_id" {
		t.Fatalf("catalog changed through copy: %+v", again[0])
	}
	if again[1].Columns[1].References.Table != "customers" {
		t.Fatal("reference changed through copy")
	}
}

func TestSubsetKeepsCatalogOrder(t *testing.T) {
	c, err := LoadFile("testdata/sales.yaml")
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	subset, err := c.Subset([]string{"orders", "customers"})
	if err != nil {
		t.Fatalf("Subset() error = %v", err)
	}
	if subset[0].Name != "customers" || subset[1].Name != "orders" {
		t.Fatalf("Subset() order = %s, %s", subset[0].Name, subset[1].Name)
	}
	if _, err := c.Subset([]string{"nope"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Subset(unknown) error = %v", err)
	}
}

func TestEmbeddingText(t *testing.T) {
	c, err := LoadFile("testdata/sales.yaml")
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	got := mustTable(t, c, "orders").EmbeddingText()
	want := "Table orders: Sales orders placed by customers. Columns: order_id (INTEGER): Primary key, " +
		"customer_id (INTEGER): Ordering customer, order_date (DATE): Date the order was placed. " +
		"References: orders.customer_id -> customers.customer_id"
	if got != want {
		t.Fatalf("EmbeddingText() =\n%s\nwant\n%s", got, want)
	}
}

func TestMarshalRoundTripKeepsReferences(t *testing.T) {
	c, err := LoadFile("testdata/sales.yaml")
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	data, err := Marshal(c)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if !strings.Contains(string(data), "references: customers.customer_id") {
		t.Fatalf("Marshal() output missing reference:\n%s", data)
	}
	again, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse(Marshal()) error = %v", err)
	}
	if len(again.Relationships()) != 1 {
		t.Fatalf("Relationships() = %+v", again.Relationships())
	}
}

func TestSchemaQualifiedIDs(t *testing.T) {
	c, err := New("shop", []Table{
		{Schema: "sales", Name: "customers", Columns: []Column{{Name: "id"}}},
		{Schema: "sales", Name: "orders", Columns: []Column{{Name: "customer_id", References: &ColumnRef{Table: "customers", Column: "id"}}}},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := c.Table("sales.orders"); err != nil {
		t.Fatalf("Table(sales.orders) error = %v", err)
	}
	if pos, ok := c.Position("sales.orders"); !ok || pos != 1 {
		t.Fatalf("Position() = %d, %v", pos, ok)
	}
}

func mustTable(t *testing.T, c Catalog, id string) Table {
	t.Helper()
	table, err := c.Table(id)
	if err != nil {
		t.Fatalf("Table(%q) error = %v", id, err)
	}
	return table
}
