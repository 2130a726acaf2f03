package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseKeyValues(t *testing.T) {
	assert.Equal(
		t,
		map[string]string{
			"sslmode":  "require",
			"options":  "-c search_path=a=b",
			"readonly": "",
		},
		ParseKeyValues([]string{"sslmode=require", "options=-c search_path=a=b", "readonly"}, "="),
	)

	assert.Empty(t, ParseKeyValues(nil, "="))
}
