// Package querykey parses the keys of a query definition.
//
// An operation key names a handler call:
//
//	user()              get one record
//	posts[]             get a collection
//	new user()          verb prefix, one of get, new, update, delete
//	user(id:1,limit:3)  inline parameters
//
// Any other key is a plain field. Parsing is lenient on purpose: a key that
// looks almost like an operation ("user(", "drop user()", "a(b)") is still a
// plain field, so ordinary field names can never fail a query.
package querykey

import (
	"encoding/json"
	"regexp"
	"strings"
)

// ParamsKey is the reserved key holding the parameters of the enclosing
// operation. It never contributes to the shape.
const ParamsKey = "_"

type Kind string

const (
	Get    Kind = "get"
	New    Kind = "new"
	Update Kind = "update"
	Delete Kind = "delete"
)

// Mutates reports whether operations of this kind change state.
func (k Kind) Mutates() bool { return k != Get }

// Key is a parsed operation key.
type Key struct {
	Name       string
	Kind       Kind
	Collection bool
	// Inline holds parameters written inside the brackets, nil when none.
	Inline map[string]any
}

var keyPattern = regexp.MustCompile(`^(?:(get|new|update|delete)\s+)?(\w+)(?:\(([^()\[\]]*)\)|\[([^()\[\]]*)\])$`)

var argPattern = regexp.MustCompile(`^\s*(\w+)\s*:\s*(\S(?:.*\S)?)\s*$`)

// Parse classifies key. ok is false for plain fields.
func Parse(key string) (Key, bool) {
	m := keyPattern.FindStringSubmatch(strings.TrimSpace(key))
	if m == nil {
		return Key{}, false
	}
	k := Key{Name: m[2], Kind: Get}
	if m[1] != "" {
		k.Kind = Kind(m[1])
	}
	args := m[3]
	if strings.HasSuffix(strings.TrimSpace(key), "]") {
		k.Collection = true
		args = m[4]
	}
	if strings.TrimSpace(args) != "" {
		inline, ok := parseArgs(args)
		if !ok {
			return Key{}, false
		}
		k.Inline = inline
	}
	return k, true
}

// IsOperation reports whether key is an operation key.
func IsOperation(key string) bool {
	_, ok := Parse(key)
	return ok
}

func parseArgs(s string) (map[string]any, bool) {
	out := make(map[string]any)
	for _, part := range strings.Split(s, ",") {
		m := argPattern.FindStringSubmatch(part)
		if m == nil {
			return nil, false
		}
		out[m[1]] = literal(m[2])
	}
	return out, true
}

// literal decodes s as a JSON scalar, falling back to the raw string
// ("<user_id>", bare words).
func literal(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err == nil {
		switch v.(type) {
		case map[string]any, []any:
			return s
		}
		return v
	}
	return s
}

// String renders k back into key syntax. Inline parameters are not rendered.
func (k Key) String() string {
	var b strings.Builder
	if k.Kind != "" && k.Kind != Get {
		b.WriteString(string(k.Kind))
		b.WriteByte(' ')
	}
	b.WriteString(k.Name)
	if k.Collection {
		b.WriteString("[]")
	} else {
		b.WriteString("()")
	}
	return b.String()
}
