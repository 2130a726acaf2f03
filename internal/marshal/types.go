package marshal

type Kind string

const (
	KindNull   Kind = "null"
	KindString Kind = "string"
	KindInt    Kind = "int"
	KindLong   Kind = "long"
	KindDouble Kind = "double"
	KindBool   Kind = "bool"
	KindBytes  Kind = "bytes"
)

// Value is one cell of a result row as sent on the wire. Exactly one payload
// field matches Kind; null cells carry IsNull and no payload.
type Value struct {
	Kind       Kind    `json:"kind"`
	IsNull     bool    `json:"is_null,omitempty"`
	StringData string  `json:"string_data,omitempty"`
	IntData    int32   `json:"int_data,omitempty"`
	LongData   int64   `json:"long_data,omitempty"`
	DoubleData float64 `json:"double_data,omitempty"`
	BoolData   bool    `json:"bool_data,omitempty"`
	BytesData  []byte  `json:"bytes_data,omitempty"`
}

func Null() Value { return Value{Kind: KindNull, IsNull: true} }
func String(s string) Value { return Value{Kind: KindString, StringData: s} }
func Int(i int32) Value { return Value{Kind: KindInt, IntData: i} }
func Long(i int64) Value { return Value{Kind: KindLong, LongData: i} }
func Double(f float64) Value { return Value{Kind: KindDouble, DoubleData: f} }
func Bool(b bool) Value { return Value{Kind: KindBool, BoolData: b} }
func Bytes(b []byte) Value { return Value{Kind: KindBytes, BytesData: b} }

func (v Value) Interface() any {
	switch v.Kind {
	case KindString:
		return v.StringData
	case KindInt:
		return v.IntData
	case KindLong:
		return v.LongData
	case KindDouble:
		return v.DoubleData
	case KindBool:
		return v.BoolData
	case KindBytes:
		return v.BytesData
	default:
		return nil
	}
}

type Row struct {
	Values []Value `json:"values"`
}

type Column struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	Precision int32  `json:"precision"`
	Scale     int32  `json:"scale"`
	Nullable  bool   `json:"nullable"`
}

// Parameter is a positional bind value. The payload fields mirror a oneof:
// at most one of them may be set unless IsNull is true.
type Parameter struct {
	IsNull      bool     `json:"is_null,omitempty"`
	StringValue *string  `json:"string_value,omitempty"`
	IntValue    *int32   `json:"int_value,omitempty"`
	LongValue   *int64   `json:"long_value,omitempty"`
	DoubleValue *float64 `json:"double_value,omitempty"`
	BoolValue   *bool    `json:"bool_value,omitempty"`
	BytesValue  []byte   `json:"bytes_value,omitempty"`
}
