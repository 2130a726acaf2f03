package utils

import (
	"strings"
)

// ParseKeyValues splits each element of kvs on the first separator. An
// element without a separator maps to an empty value.
func ParseKeyValues(kvs []string, separator string) map[string]string {
	var m = make(map[string]string)

	for _, kv := range kvs {
		var k, v, _ = strings.Cut(kv, separator)
		m[strings.TrimSpace(k)] = v
	}

	return m
}
