package session

import (
	"database/sql"
	"strings"
)

// ParseIsolation maps a client isolation name to a driver level. Empty and
// unrecognized names yield sql.LevelDefault, which leaves the connection's
// own default untouched.
func ParseIsolation(s string) sql.IsolationLevel {
	var name = strings.ToUpper(strings.TrimSpace(s))

	name = strings.NewReplacer("-", "_", " ", "_").Replace(name)
	name = strings.TrimPrefix(name, "TRANSACTION_")

	switch name {
	case "READ_UNCOMMITTED":
		return sql.LevelReadUncommitted
	case "READ_COMMITTED":
		return sql.LevelReadCommitted
	case "REPEATABLE_READ":
		return sql.LevelRepeatableRead
	case "SERIALIZABLE":
		return sql.LevelSerializable
	default:
		return sql.LevelDefault
	}
}
