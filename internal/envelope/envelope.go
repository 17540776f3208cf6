// Package envelope defines the three JSON message shapes carried on
// the bus and their codec. Bodies are UTF-8 pretty-printed JSON, the
// wire format every role agrees on.
package envelope

import (
	"encoding/json"
	"fmt"

	"github.com/teeworlds-nats/bridge/internal/args"
)

// Bridge is emitted by a console bridge for each received console
// line. Text is the raw line; Args carries out-of-band context, at
// minimum the server identity.
type Bridge struct {
	Text string     `json:"text"`
	Args args.Value `json:"args"`
}

// Handler is emitted by transformers and by bot readers/writers.
// Value is an ordered list of strings, typically regex capture groups
// or [sender, message] for chat. Text is a pre-rendered string usable
// without templating.
type Handler struct {
	Text  string     `json:"text"`
	Value []string   `json:"value"`
	Args  args.Value `json:"args"`
}

// Error reports a command dropped after reconnect exhaustion. Publish
// names the subject the command was meant for.
type Error struct {
	Text    string `json:"text"`
	Publish string `json:"publish"`
}

// Encode renders an envelope as pretty-printed JSON.
func Encode(v any) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return data, nil
}

// DecodeBridge parses a Bridge envelope from a message payload.
func DecodeBridge(payload []byte) (Bridge, error) {
	var msg Bridge
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Bridge{}, fmt.Errorf("decode bridge envelope: %w", err)
	}
	return msg, nil
}

// DecodeHandler parses a Handler envelope from a message payload.
func DecodeHandler(payload []byte) (Handler, error) {
	var msg Handler
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Handler{}, fmt.Errorf("decode handler envelope: %w", err)
	}
	return msg, nil
}
