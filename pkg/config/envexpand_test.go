package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExpandEnvSubstitutes(t *testing.T) {
	t.Setenv("ARGUS_TEST_KEY", "sk-abc123")

	out := ExpandEnv([]byte(`api_key: "{{.ARGUS_TEST_KEY}}"`))
	assert.Equal(t, `api_key: "sk-abc123"`, string(out))
}

func TestExpandEnvUnsetBecomesEmpty(t *testing.T) {
	out := ExpandEnv([]byte(`api_key: "{{.ARGUS_DEFINITELY_UNSET_VAR}}"`))
	assert.Equal(t, `api_key: ""`, string(out))
}

func TestExpandEnvLeavesDollarsAlone(t *testing.T) {
	// Masking regexes and literal passwords carry $; shell-style
	// expansion would mangle them.
	in := []byte(`pattern: "(?i)password=\\S+$"` + "\n" + `password: "pa$$word"`)
	out := ExpandEnv(in)
	assert.Equal(t, string(in), string(out))
}

func TestExpandEnvMalformedTemplateReturnsOriginal(t *testing.T) {
	in := []byte(`key: "{{.unclosed"`)
	out := ExpandEnv(in)
	assert.Equal(t, string(in), string(out))
}

func TestExpandEnvMultipleReferences(t *testing.T) {
	t.Setenv("ARGUS_TEST_HOST", "db.internal")
	t.Setenv("ARGUS_TEST_PORT", "5433")

	out := ExpandEnv([]byte("host: {{.ARGUS_TEST_HOST}}\nport: {{.ARGUS_TEST_PORT}}"))
	assert.Equal(t, "host: db.internal\nport: 5433", string(out))
}
