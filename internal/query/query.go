// Package query holds the result of executing a validated statement and
// the rules for turning driver values into result cells.
package query

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

type Kind string

const (
	KindNull    Kind = "null"
	KindInteger Kind = "integer"
	KindDecimal Kind = "decimal"
	KindDate    Kind = "date"
	KindText    Kind = "text"
)

// Value is one result cell. Decimals keep their exact digits in Text.
type Value struct {
	Kind Kind
	Int  int64
	Text string
	Time time.Time
}

func Null() Value {
	return Value{Kind: KindNull}
}

func Integer(v int64) Value {
	return Value{Kind: KindInteger, Int: v}
}

func Decimal(digits string) Value {
	return Value{Kind: KindDecimal, Text: digits}
}

func Date(t time.Time) Value {
	return Value{Kind: KindDate, Time: t}
}

func Text(s string) Value {
	return Value{Kind: KindText, Text: s}
}

func (v Value) IsNull() bool {
	return v.Kind == KindNull || v.Kind == ""
}

func (v Value) String() string {
	switch v.Kind {
	case KindInteger:
		return strconv.FormatInt(v.Int, 10)
	case KindDecimal, KindText:
		return v.Text
	case KindDate:
		return formatTime(v.Time)
	default:
		return "NULL"
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindInteger:
		return []byte(strconv.FormatInt(v.Int, 10)), nil
	case KindDecimal:
		if json.Valid([]byte(v.Text)) {
			if _, err := strconv.ParseFloat(v.Text, 64); err == nil {
				return []byte(v.Text), nil
			}
		}
		return json.Marshal(v.Text)
	case KindDate:
		return json.Marshal(formatTime(v.Time))
	case KindText:
		return json.Marshal(v.Text)
	default:
		return []byte("null"), nil
	}
}

func formatTime(t time.Time) string {
	if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0 {
		return t.Format(time.DateOnly)
	}
	return t.Format(time.RFC3339Nano)
}

// Row maps column labels to values in column order.
type Row struct {
	Columns []string
	Values  []Value
}

func (r Row) Get(label string) (Value, bool) {
	for i, column := range r.Columns {
		if column == label && i < len(r.Values) {
			return r.Values[i], true
		}
	}
	return Value{}, false
}

// MarshalJSON writes the row as an object whose keys keep column order.
func (r Row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, column := range r.Columns {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(column)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		value := Null()
		if i < len(r.Values) {
			value = r.Values[i]
		}
		encoded, err := value.MarshalJSON()
		if err != nil {
			return nil, fmt.Errorf("encode column %q: %w", column, err)
		}
		buf.Write(encoded)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

type ResultSet struct {
	Columns   []string      `json:"columns"`
	Rows      []Row         `json:"rows"`
	RowCount  int           `json:"row_count"`
	Truncated bool          `json:"truncated"`
	Duration  time.Duration `json:"-"`
}

// Labels returns unique labels for columns. A repeated label gets a _2,
// _3, ... suffix that does not collide with any other label.
func Labels(columns []string) []string {
	taken := make(map[string]struct{}, len(columns))
	for _, column := range columns {
		taken[column] = struct{}{}
	}
	seen := make(map[string]int, len(columns))
	out := make([]string, len(columns))
	for i, column := range columns {
		seen[column]++
		if seen[column] == 1 {
			out[i] = column
			continue
		}
		n := seen[column]
		label := fmt.Sprintf("%s_%d", column, n)
		for {
			if _, exists := taken[label]; !exists {
				break
			}
			n++
			label = fmt.Sprintf("%s_%d", column, n)
		}
		seen[column] = n
		taken[label] = struct{}{}
		out[i] = label
	}
	return out
}
