package query

import (
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
	"time"

	duckdb "github.com/marcboeker/go-duckdb/v2"
)

// Coerce converts a scanned driver value into a result cell. dbType is the
// engine's type name for the column and may be empty.
func Coerce(value any, dbType string) Value {
	switch v := value.(type) {
	case nil:
		return Null()
	case int:
		return Integer(int64(v))
	case int8:
		return Integer(int64(v))
	case int16:
		return Integer(int64(v))
	case int32:
		return Integer(int64(v))
	case int64:
		return Integer(v)
	case uint8:
		return Integer(int64(v))
	case uint16:
		return Integer(int64(v))
	case uint32:
		return Integer(int64(v))
	case uint64:
		if v > math.MaxInt64 {
			return Decimal(strconv.FormatUint(v, 10))
		}
		return Integer(int64(v))
	case float32:
		return floatValue(float64(v), 32)
	case float64:
		return floatValue(v, 64)
	case duckdb.Decimal:
		if v.Value == nil {
			return Null()
		}
		return Decimal(scaledString(v.Value, int(v.Scale)))
	case *big.Int:
		if v == nil {
			return Null()
		}
		return Decimal(v.String())
	case big.Int:
		return Decimal(v.String())
	case time.Time:
		return Date(v)
	case bool:
		return Text(strconv.FormatBool(v))
	case []byte:
		return textValue(string(v), dbType)
	case string:
		return textValue(v, dbType)
	default:
		return Text(fmt.Sprint(v))
	}
}

func floatValue(v float64, bits int) Value {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Text(strconv.FormatFloat(v, 'f', -1, bits))
	}
	return Decimal(strconv.FormatFloat(v, 'f', -1, bits))
}

// textValue keeps numbers that some drivers deliver as text numeric.
func textValue(s, dbType string) Value {
	switch typeClass(dbType) {
	case classInteger:
		if n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			return Integer(n)
		}
		if isNumericText(s) {
			return Decimal(strings.TrimSpace(s))
		}
	case classDecimal:
		if isNumericText(s) {
			return Decimal(strings.TrimSpace(s))
		}
	}
	return Text(s)
}

type class int

const (
	classOther class = iota
	classInteger
	classDecimal
)

func typeClass(dbType string) class {
	t := strings.ToUpper(strings.TrimSpace(dbType))
	if i := strings.IndexByte(t, '('); i >= 0 {
		t = t[:i]
	}
	t = strings.TrimPrefix(t, "UNSIGNED ")
	switch t {
	case "INT", "INTEGER", "INT2", "INT4", "INT8", "SMALLINT", "TINYINT", "MEDIUMINT", "BIGINT",
		"HUGEINT", "UBIGINT", "UINTEGER", "USMALLINT", "UTINYINT", "YEAR":
		return classInteger
	case "DECIMAL", "NUMERIC", "NUMBER", "MONEY", "FLOAT", "FLOAT4", "FLOAT8", "DOUBLE", "REAL":
		return classDecimal
	default:
		return classOther
	}
}

func isNumericText(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	_, ok := new(big.Float).SetString(s)
	return ok
}

// scaledString renders unscaled * 10^-scale without going through a float.
func scaledString(unscaled *big.Int, scale int) string {
	digits := new(big.Int).Abs(unscaled).String()
	if scale > 0 {
		if len(digits) <= scale {
			digits = strings.Repeat("0", scale-len(digits)+1) + digits
		}
		digits = digits[:len(digits)-scale] + "." + digits[len(digits)-scale:]
	}
	if unscaled.Sign() < 0 {
		return "-" + digits
	}
	return digits
}
