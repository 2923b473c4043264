package config

import (
	"bytes"
	"os"
	"strings"
	"text/template"
)

// ExpandEnv expands environment variables referenced with Go template
// syntax, e.g.
//
//	llm:
//	  api_key: "{{.ARGUS_LLM_API_KEY}}"
//
// Plain $VAR syntax is deliberately not supported: config files carry
// masking regexes and literal passwords where $ is meaningful, and shell
// style expansion would corrupt them. Unset variables expand to the empty
// string. If the data does not parse as a template it is returned
// unchanged so a stray {{ produces a YAML error at the real location
// instead of a template error here.
func ExpandEnv(data []byte) []byte {
	tmpl, err := template.New("config").Option("missingkey=zero").Parse(string(data))
	if err != nil {
		return data
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, envMap()); err != nil {
		return data
	}
	return buf.Bytes()
}

func envMap() map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if i := strings.Index(kv, "="); i > 0 {
			env[kv[:i]] = kv[i+1:]
		}
	}
	return env
}
