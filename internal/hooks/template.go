package hooks

import (
	"fmt"
	"regexp"
	"strings"
)

var placeholderRe = regexp.MustCompile(`\$\{([^}]*)\}`)

// placeholders are the only substitutions a command template may use.
var placeholders = map[string]bool{
	"file":     true,
	"files":    true,
	"command":  true,
	"cwd":      true,
	"event":    true,
	"rule":     true,
	"exitCode": true,
}

type template struct {
	raw string
}

func parseTemplate(raw string) (*template, error) {
	for _, m := range placeholderRe.FindAllStringSubmatch(raw, -1) {
		if !placeholders[m[1]] {
			return nil, fmt.Errorf("unknown placeholder ${%s}", m[1])
		}
	}
	return &template{raw: raw}, nil
}

// expand substitutes every placeholder with its values, each quoted for the
// hook shell. Multi-valued placeholders become space separated arguments
// and vanish when empty.
func (t *template) expand(values func(name string) []string, quote func(string) string) string {
	return placeholderRe.ReplaceAllStringFunc(t.raw, func(m string) string {
		name := m[2 : len(m)-1]
		vals := values(name)
		quoted := make([]string, len(vals))
		for i, v := range vals {
			quoted[i] = quote(v)
		}
		return strings.Join(quoted, " ")
	})
}
