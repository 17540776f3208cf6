// Package emoji holds the static symbol-to-name table applied to
// outbound bot messages before they reach the console, which cannot
// render emoji glyphs.
package emoji

import (
	_ "embed"
	"strings"
	"sync"
)

//go:embed emojis.txt
var table string

// Pair is one symbol/name entry. Replacement iterates pairs in the
// order they are declared in the embedded table.
type Pair struct {
	Symbol string
	Name   string
}

var (
	once  sync.Once
	pairs []Pair
)

// Pairs returns the parsed table. The embedded resource is parsed once
// per process.
func Pairs() []Pair {
	once.Do(func() {
		for _, line := range strings.Split(table, "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			symbol, name, ok := strings.Cut(line, ",")
			if !ok || symbol == "" || name == "" {
				continue
			}
			pairs = append(pairs, Pair{Symbol: symbol, Name: name})
		}
	})
	return pairs
}

// Replace substitutes every known emoji symbol in s with its name.
func Replace(s string) string {
	for _, p := range Pairs() {
		if strings.Contains(s, p.Symbol) {
			s = strings.ReplaceAll(s, p.Symbol, p.Name)
		}
	}
	return s
}
