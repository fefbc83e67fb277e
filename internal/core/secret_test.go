package core

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"gopkg.in/yaml.v3"
)

func TestSecret_Redacts(t *testing.T) {
	s := Secret("password123")
	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", s))
	assert.Equal(t, `"[REDACTED]"`, fmt.Sprintf("%#v", s))
	assert.Equal(t, "password123", s.Reveal())

	assert.Equal(t, "", Secret("").String())
}

func TestSecret_Marshalling(t *testing.T) {
	creds := Credentials{AccountID: 1, APIKey: "key", APISecret: "very-secret"}

	data, err := json.Marshal(creds)
	assert.NoError(t, err)
	assert.NotContains(t, string(data), "very-secret")

	out, err := yaml.Marshal(map[string]Secret{"dsn": "postgres://u:p@h/db"})
	assert.NoError(t, err)
	assert.NotContains(t, string(out), "u:p")
}
