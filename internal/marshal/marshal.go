// Package marshal converts between driver values and the proxy's wire values.
package marshal

import (
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/agnosticeng/agnostic-sql-proxy/internal/errs"
	"github.com/spf13/cast"
)

// TimeFormat is the canonical rendering of date and time values on the wire.
const TimeFormat = time.RFC3339Nano

// FromColumn converts a value scanned into an `any` destination to its wire
// representation according to the column's category.
func FromColumn(cat Category, raw any) (Value, error) {
	if raw == nil {
		return Null(), nil
	}

	if cat == CategoryUnknown {
		cat = categoryOf(raw)
	}

	switch cat {
	case CategoryString:
		return toString(raw)

	case CategoryInt32:
		i, err := toInt64(raw)

		if err != nil {
			return Value{}, err
		}

		if i < math.MinInt32 || i > math.MaxInt32 {
			return Long(i), nil
		}

		return Int(int32(i)), nil

	case CategoryInt64:
		if u, ok := raw.(uint64); ok && u > math.MaxInt64 {
			return String(fmt.Sprint(u)), nil
		}

		i, err := toInt64(raw)

		if err != nil {
			return Value{}, err
		}

		return Long(i), nil

	case CategoryDouble:
		f, err := cast.ToFloat64E(normalize(raw))

		if err != nil {
			return Value{}, fmt.Errorf("cannot convert %T to double: %w", raw, err)
		}

		return Double(f), nil

	case CategoryBool:
		b, err := cast.ToBoolE(normalize(raw))

		if err != nil {
			return Value{}, fmt.Errorf("cannot convert %T to bool: %w", raw, err)
		}

		return Bool(b), nil

	case CategoryBytes:
		switch v := raw.(type) {
		case []byte:
			return Bytes(append([]byte(nil), v...)), nil
		case string:
			return Bytes([]byte(v)), nil
		default:
			return toString(raw)
		}

	default:
		return toString(raw)
	}
}

// categoryOf classifies a value whose column carries no declared type, such as
// an expression column in SQLite.
func categoryOf(raw any) Category {
	switch raw.(type) {
	case int64, int32, int16, int8, int, uint8, uint16, uint32:
		return CategoryInt64
	case uint64:
		return CategoryInt64
	case float64, float32:
		return CategoryDouble
	case bool:
		return CategoryBool
	case []byte:
		return CategoryBytes
	case time.Time:
		return CategoryTemporal
	default:
		return CategoryString
	}
}

func normalize(raw any) any {
	if b, ok := raw.([]byte); ok {
		return string(b)
	}

	return raw
}

func toInt64(raw any) (int64, error) {
	i, err := cast.ToInt64E(normalize(raw))

	if err != nil {
		return 0, fmt.Errorf("cannot convert %T to integer: %w", raw, err)
	}

	return i, nil
}

func toString(raw any) (Value, error) {
	switch v := raw.(type) {
	case string:
		return String(v), nil
	case []byte:
		return String(string(v)), nil
	case time.Time:
		return String(v.UTC().Format(TimeFormat)), nil
	case fmt.Stringer:
		return String(v.String()), nil
	}

	s, err := cast.ToStringE(raw)

	if err != nil {
		return String(fmt.Sprint(raw)), nil
	}

	return String(s), nil
}

// Args converts wire parameters into positional driver arguments. A null flag
// always wins; a parameter without exactly one payload is rejected.
func Args(params []Parameter) ([]any, error) {
	var args = make([]any, len(params))

	for i, p := range params {
		v, err := p.arg()

		if err != nil {
			return nil, errs.InvalidArgument("parameter %d: %v", i+1, err)
		}

		args[i] = v
	}

	return args, nil
}

func (p Parameter) arg() (any, error) {
	if p.IsNull {
		return nil, nil
	}

	var (
		set int
		v   any
	)

	if p.StringValue != nil {
		set++
		v = *p.StringValue
	}

	if p.IntValue != nil {
		set++
		v = int64(*p.IntValue)
	}

	if p.LongValue != nil {
		set++
		v = *p.LongValue
	}

	if p.DoubleValue != nil {
		set++
		v = *p.DoubleValue
	}

	if p.BoolValue != nil {
		set++
		v = *p.BoolValue
	}

	if p.BytesValue != nil {
		set++
		v = p.BytesValue
	}

	switch set {
	case 0:
		return nil, fmt.Errorf("no value and not flagged null")
	case 1:
		return v, nil
	default:
		return nil, fmt.Errorf("%d values set, expected one", set)
	}
}

// ColumnFromType extracts the wire column metadata from a driver column type.
func ColumnFromType(ct *sql.ColumnType) Column {
	var col = Column{
		Name: ct.Name(),
		Type: ct.DatabaseTypeName(),
	}

	if precision, scale, ok := ct.DecimalSize(); ok {
		col.Precision = clamp(precision)
		col.Scale = clamp(scale)
	} else if length, ok := ct.Length(); ok {
		col.Precision = clamp(length)
	}

	if nullable, ok := ct.Nullable(); ok {
		col.Nullable = nullable
	}

	return col
}

func clamp(n int64) int32 {
	if n > math.MaxInt32 {
		return math.MaxInt32
	}

	if n < 0 {
		return 0
	}

	return int32(n)
}
