package query

import (
	"encoding/json"
	"math/big"
	"testing"
	"time"

	duckdb "github.com/marcboeker/go-duckdb/v2"
)

func TestCoerce(t *testing.T) {
	date := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name   string
		value  any
		dbType string
		want   Value
	}{
		{name: "nil", value: nil, want: Null()},
		{name: "int32", value: int32(7), dbType: "INTEGER", want: Integer(7)},
		{name: "int64", value: int64(-3), want: Integer(-3)},
		{name: "float", value: 149.99, dbType: "DOUBLE", want: Decimal("149.99")},
		{name: "duckdb decimal", value: duckdb.Decimal{Width: 10, Scale: 2, Value: big.NewInt(2999)}, dbType: "DECIMAL(10,2)", want: Decimal("29.99")},
		{name: "small decimal", value: duckdb.Decimal{Width: 10, Scale: 3, Value: big.NewInt(-5)}, want: Decimal("-0.005")},
		{name: "hugeint", value: big.NewInt(1234567890123), dbType: "HUGEINT", want: Decimal("1234567890123")},
		{name: "numeric bytes", value: []byte("199.99"), dbType: "NUMERIC", want: Decimal("199.99")},
		{name: "mysql int bytes", value: []byte("42"), dbType: "BIGINT", want: Integer(42)},
		{name: "text bytes", value: []byte("Acme GmbH"), dbType: "VARCHAR", want: Text("Acme GmbH")},
		{name: "numeric-looking text", value: "00123", dbType: "VARCHAR", want: Text("00123")},
		{name: "bool", value: true, dbType: "BOOLEAN", want: Text("true")},
		{name: "date", value: date, dbType: "DATE", want: Date(date)},
	}
	for _, tc := range tests {
		got := Coerce(tc.value, tc.dbType)
		if got != tc.want {
			t.Fatalf("%s: Coerce(%v, %q) = %+v, want %+v", tc.name, tc.value, tc.dbType, got, tc.want)
		}
	}
}

func TestValueString(t *testing.T) {
	if got := Date(time.Date(2024, 3, 20, 0, 0, 0, 0, time.UTC)).String(); got != "2024-03-20" {
		t.Fatalf("date String() = %q", got)
	}
	if got := Null().String(); got != "NULL" {
		t.Fatalf("null String() = %q", got)
	}
	if got := Decimal("29.99").String(); got != "29.99" {
		t.Fatalf("decimal String() = %q", got)
	}
}

func TestRowMarshalKeepsColumnOrder(t *testing.T) {
	row := Row{
		Columns: []string{"name", "order_count", "total", "since", "note"},
		Values: []Value{
			Text("Acme GmbH"),
			Integer(3),
			Decimal("309.97"),
			Date(time.Date(2023, 1, 15, 0, 0, 0, 0, time.UTC)),
			Null(),
		},
	}
	got, err := json.Marshal(row)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	want := `{"name":"Acme GmbH","order_count":3,"total":309.97,"since":"2023-01-15","note":null}`
	if string(got) != want {
		t.Fatalf("Marshal() = %s, want %s", got, want)
	}
}

func TestRowGet(t *testing.T) {
	row := Row{Columns: []string{"a", "b"}, Values: []Value{Integer(1), Text("x")}}
	if v, ok := row.Get("b"); !ok || v != Text("x") {
		t.Fatalf("Get(b) = %+v, %v", v, ok)
	}
	if _, ok := row.Get("c"); ok {
		t.Fatal("Get(c) found a value")
	}
}

func TestLabelsSuffixesDuplicates(t *testing.T) {
	got := Labels([]string{"count", "count", "name", "count", "count_2"})
	want := []string{"count", "count_3", "name", "count_4", "count_2"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Labels() = %q, want %q", got, want)
		}
	}

	got = Labels([]string{"a", "a", "a"})
	if got[0] != "a" || got[1] != "a_2" || got[2] != "a_3" {
		t.Fatalf("Labels() = %q", got)
	}
}
