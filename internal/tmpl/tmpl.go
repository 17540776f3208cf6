// Package tmpl implements the {{...}} template expansion used for
// subject names, console commands, and chat message text.
//
// A placeholder key is either a non-negative decimal integer, which
// selects from the positional list (regex capture groups), or a
// dot-separated path walked through the argument tree. Unresolvable
// keys expand to the empty string.
package tmpl

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/teeworlds-nats/bridge/internal/args"
)

// placeholderRE is compiled once per process; expansion runs on every
// console line and every bus message.
var placeholderRE = regexp.MustCompile(`\{\{([^}]+)\}\}`)

// Format expands every {{key}} placeholder in s against (a, list).
//
// Inputs without a placeholder are returned unchanged without
// allocating — this is the hot path.
//
// Before expansion two convenience fields are synthesised into a copy
// of a: server_name (read through the path_server_name indirection,
// default key "server_name") and message_thread_id (through
// path_thread_id, default key "message_thread_id", default value -1).
func Format(s string, a args.Value, list []string) string {
	if !strings.Contains(s, "{{") {
		return s
	}

	enriched := synthesize(a)

	return placeholderRE.ReplaceAllStringFunc(s, func(match string) string {
		key := match[2 : len(match)-2]

		if idx, err := strconv.Atoi(key); err == nil && idx >= 0 {
			if idx < len(list) {
				return list[idx]
			}
			return ""
		}

		return resolvePath(enriched, key)
	})
}

// FormatAll expands every element of in. A nil or empty in falls back
// to def before expansion, mirroring how role configs default their
// subject lists.
func FormatAll(in []string, def []string, a args.Value, list []string) []string {
	src := in
	if len(src) == 0 {
		src = def
	}
	out := make([]string, len(src))
	for i, s := range src {
		out[i] = Format(s, a, list)
	}
	return out
}

// FormatOne expands s, falling back to def when s is empty.
func FormatOne(s, def string, a args.Value, list []string) string {
	if s == "" {
		s = def
	}
	return Format(s, a, list)
}

func synthesize(a args.Value) args.Value {
	serverPath := args.Get(a, "path_server_name", "server_name")
	threadPath := args.Get(a, "path_thread_id", "message_thread_id")

	out := a.Set("server_name", args.Get(a, serverPath, ""))
	out = out.Set("message_thread_id", args.Get(out, threadPath, int64(-1)))
	return out
}

func resolvePath(a args.Value, key string) string {
	current := a
	for _, part := range strings.Split(key, ".") {
		child, ok := current.Get(part)
		if !ok {
			return ""
		}
		current = child
	}
	return stringify(current)
}

func stringify(v args.Value) string {
	if s, ok := v.AsString(); ok {
		return s
	}
	if n, ok := v.AsInt(); ok {
		return strconv.FormatInt(n, 10)
	}
	if b, ok := v.AsBool(); ok {
		return strconv.FormatBool(b)
	}
	if f, ok := v.AsFloat(); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return ""
}
