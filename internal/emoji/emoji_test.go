package emoji

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReplaceKnownSymbols(t *testing.T) {
	assert.Equal(t, "hi smile", Replace("hi 🙂"))
	assert.Equal(t, "heart and fire", Replace("❤ and 🔥"))
}

func TestReplacePassesThroughPlainText(t *testing.T) {
	in := "say \"hello\""
	assert.Equal(t, in, Replace(in))
}

func TestPairsParsedOnce(t *testing.T) {
	first := Pairs()
	assert.NotEmpty(t, first)
	// Comment lines and blanks are skipped.
	for _, p := range first {
		assert.NotEmpty(t, p.Symbol)
		assert.NotEmpty(t, p.Name)
	}
}
