package bot

import (
	"strings"

	"github.com/teeworlds-nats/bridge/internal/args"
	"github.com/teeworlds-nats/bridge/internal/config"
	"github.com/teeworlds-nats/bridge/internal/tmpl"
)

// maxMessageRunes caps outbound console text; everything past it is
// cut at a rune boundary.
const maxMessageRunes = 500

var (
	lineBreaks = strings.NewReplacer("\n", " ", "\r", " ")
	escaper    = strings.NewReplacer(`\`, `\\`, `"`, `\"`, `'`, `\'`)
)

// Normalize flattens line breaks to spaces and truncates to the
// outbound limit.
func Normalize(s string) string {
	s = lineBreaks.Replace(s)
	runes := []rune(s)
	if len(runes) > maxMessageRunes {
		return string(runes[:maxMessageRunes])
	}
	return s
}

// Escape backslash-escapes double quotes, single quotes and
// backslashes so the result can be embedded in a quoted console
// argument. Strings without any of those come back untouched.
func Escape(s string) string {
	if !strings.ContainsAny(s, `"'\`) {
		return s
	}
	return escaper.Replace(s)
}

// RunChain applies a format chain in order. Each step is templated
// with the positional values {{0}} original payload, {{1}} previous
// step output, {{2}} auxiliary prefix, then optionally escaped. The
// last step's output is the result.
func RunChain(chain []config.FormatConfig, a args.Value, payload, aux string) string {
	var prev string
	for _, step := range chain {
		rendered := tmpl.Format(step.Format, a, []string{payload, prev, aux})
		if step.Escape {
			rendered = Escape(rendered)
		}
		prev = rendered
	}
	return prev
}
