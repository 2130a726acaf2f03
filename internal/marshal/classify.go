package marshal

import (
	"strings"
)

type Category int

const (
	CategoryUnknown Category = iota
	CategoryString
	CategoryInt32
	CategoryInt64
	CategoryDouble
	CategoryBool
	CategoryBytes
	CategoryTemporal
)

func (c Category) String() string {
	switch c {
	case CategoryString:
		return "string"
	case CategoryInt32:
		return "int32"
	case CategoryInt64:
		return "int64"
	case CategoryDouble:
		return "double"
	case CategoryBool:
		return "bool"
	case CategoryBytes:
		return "bytes"
	case CategoryTemporal:
		return "temporal"
	default:
		return "unknown"
	}
}

// ClickHouse type names are case sensitive and collide with generic names
// (ClickHouse Int8 is one byte, PostgreSQL INT8 is eight), so they are looked
// up verbatim before the generic table.
var clickhouseCategories = map[string]Category{
	"String":      CategoryString,
	"FixedString": CategoryString,
	"Enum8":       CategoryString,
	"Enum16":      CategoryString,
	"Int8":        CategoryInt32,
	"Int16":       CategoryInt32,
	"Int32":       CategoryInt32,
	"UInt8":       CategoryInt32,
	"UInt16":      CategoryInt32,
	"Int64":       CategoryInt64,
	"UInt32":      CategoryInt64,
	"UInt64":      CategoryInt64,
	"Float32":     CategoryDouble,
	"Float64":     CategoryDouble,
	"Decimal":     CategoryDouble,
	"Decimal32":   CategoryDouble,
	"Decimal64":   CategoryDouble,
	"Decimal128":  CategoryDouble,
	"Bool":        CategoryBool,
	"Date":        CategoryTemporal,
	"Date32":      CategoryTemporal,
	"DateTime":    CategoryTemporal,
	"DateTime64":  CategoryTemporal,
}

var genericCategories = map[string]Category{
	"CHAR":              CategoryString,
	"CHARACTER":         CategoryString,
	"VARCHAR":           CategoryString,
	"CHARACTER VARYING": CategoryString,
	"NCHAR":             CategoryString,
	"NVARCHAR":          CategoryString,
	"LVARCHAR":          CategoryString,
	"LONGVARCHAR":       CategoryString,
	"BPCHAR":            CategoryString,
	"TEXT":              CategoryString,
	"TINYTEXT":          CategoryString,
	"MEDIUMTEXT":        CategoryString,
	"LONGTEXT":          CategoryString,
	"CLOB":              CategoryString,
	"NAME":              CategoryString,
	"CITEXT":            CategoryString,
	"ENUM":              CategoryString,
	"SET":               CategoryString,

	"TINYINT":   CategoryInt32,
	"SMALLINT":  CategoryInt32,
	"MEDIUMINT": CategoryInt32,
	"INT":       CategoryInt32,
	"INTEGER":   CategoryInt32,
	"INT2":      CategoryInt32,
	"INT4":      CategoryInt32,
	"SERIAL":    CategoryInt32,
	"YEAR":      CategoryInt32,

	"BIGINT":    CategoryInt64,
	"INT8":      CategoryInt64,
	"SERIAL8":   CategoryInt64,
	"BIGSERIAL": CategoryInt64,

	"DECIMAL":          CategoryDouble,
	"NUMERIC":          CategoryDouble,
	"REAL":             CategoryDouble,
	"FLOAT":            CategoryDouble,
	"FLOAT4":           CategoryDouble,
	"FLOAT8":           CategoryDouble,
	"DOUBLE":           CategoryDouble,
	"DOUBLE PRECISION": CategoryDouble,
	"SMALLFLOAT":       CategoryDouble,
	"MONEY":            CategoryDouble,

	"BOOL":    CategoryBool,
	"BOOLEAN": CategoryBool,
	"BIT":     CategoryBool,

	"BINARY":        CategoryBytes,
	"VARBINARY":     CategoryBytes,
	"LONGVARBINARY": CategoryBytes,
	"BLOB":          CategoryBytes,
	"TINYBLOB":      CategoryBytes,
	"MEDIUMBLOB":    CategoryBytes,
	"LONGBLOB":      CategoryBytes,
	"BYTEA":         CategoryBytes,
	"BYTE":          CategoryBytes,

	"DATE":                        CategoryTemporal,
	"TIME":                        CategoryTemporal,
	"TIMETZ":                      CategoryTemporal,
	"TIME WITH TIME ZONE":         CategoryTemporal,
	"TIME WITHOUT TIME ZONE":      CategoryTemporal,
	"DATETIME":                    CategoryTemporal,
	"TIMESTAMP":                   CategoryTemporal,
	"TIMESTAMPTZ":                 CategoryTemporal,
	"TIMESTAMP WITH TIME ZONE":    CategoryTemporal,
	"TIMESTAMP WITHOUT TIME ZONE": CategoryTemporal,
}

// Classify maps a driver's declared column type name to a wire category.
// Type parameters (VARCHAR(20), DateTime64(3)) and the ClickHouse Nullable and
// LowCardinality wrappers are ignored.
func Classify(typeName string) Category {
	var name = unwrap(strings.TrimSpace(typeName))

	if len(name) == 0 {
		return CategoryUnknown
	}

	if cat, ok := clickhouseCategories[name]; ok {
		return cat
	}

	name = strings.ToUpper(name)
	name = strings.TrimSuffix(name, " UNSIGNED")

	if cat, ok := genericCategories[name]; ok {
		return cat
	}

	return CategoryUnknown
}

func unwrap(name string) string {
	for {
		var inner = name

		for _, wrapper := range []string{"Nullable(", "LowCardinality("} {
			if strings.HasPrefix(inner, wrapper) && strings.HasSuffix(inner, ")") {
				inner = inner[len(wrapper) : len(inner)-1]
			}
		}

		if inner == name {
			break
		}

		name = inner
	}

	if i := strings.IndexByte(name, '('); i >= 0 {
		name = strings.TrimSpace(name[:i])
	}

	return name
}
