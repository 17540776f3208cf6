package bot

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/teeworlds-nats/bridge/internal/args"
	"github.com/teeworlds-nats/bridge/internal/config"
)

func TestEscape(t *testing.T) {
	assert.Equal(t, "plain text", Escape("plain text"))
	assert.Equal(t, `\"hi\"`, Escape(`"hi"`))
	assert.Equal(t, `\'`, Escape(`'`))
	assert.Equal(t, `a\\b`, Escape(`a\b`))
	assert.Equal(t, `\\\"`, Escape(`\"`))
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "a b c", Normalize("a\nb\rc"))

	long := strings.Repeat("x", 600)
	assert.Equal(t, 500, len([]rune(Normalize(long))))

	multibyte := strings.Repeat("ы", 600)
	assert.Equal(t, 500, len([]rune(Normalize(multibyte))))
}

func TestRunChainDefaults(t *testing.T) {
	chain := []config.FormatConfig{
		{Format: "{{2}}[{{from.username}}] {{0}}", Escape: true},
		{Format: `say "{{1}}"`, Escape: false},
	}
	a := args.FromAny(map[string]any{
		"from": map[string]any{"username": "alice"},
	})

	out := RunChain(chain, a, `hello "world"`, "")
	assert.Equal(t, `say "[alice] hello \"world\""`, out)
}

func TestRunChainAuxPrefix(t *testing.T) {
	chain := []config.FormatConfig{
		{Format: "{{2}}{{0}}", Escape: false},
	}
	out := RunChain(chain, args.FromAny(nil), "photo.jpg", "[MEDIA] ")
	assert.Equal(t, "[MEDIA] photo.jpg", out)
}

func TestRunChainEmpty(t *testing.T) {
	assert.Equal(t, "", RunChain(nil, args.FromAny(nil), "x", ""))
}
