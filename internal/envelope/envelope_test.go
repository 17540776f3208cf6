package envelope

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teeworlds-nats/bridge/internal/args"
)

func TestEncodeIsPrettyPrinted(t *testing.T) {
	data, err := Encode(Bridge{Text: "[chat]: hi", Args: args.FromAny(map[string]any{"server_name": "s"})})
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "\n"), "wire format is pretty-printed")
}

func TestBridgeRoundTrip(t *testing.T) {
	in := Bridge{
		Text: "[chat]: 3:-1:alice: hello world",
		Args: args.FromAny(map[string]any{"server_name": "s"}),
	}
	data, err := Encode(in)
	require.NoError(t, err)

	out, err := DecodeBridge(data)
	require.NoError(t, err)
	assert.Equal(t, in.Text, out.Text)
	assert.Equal(t, "s", args.Get(out.Args, "server_name", ""))
}

func TestDecodeHandlerWithoutText(t *testing.T) {
	// Bot writers publish Handler envelopes with an empty text field;
	// older producers omit it entirely.
	out, err := DecodeHandler([]byte(`{"value": ["say \"hi\""], "args": {"econ_divide": true}}`))
	require.NoError(t, err)
	assert.Empty(t, out.Text)
	assert.Equal(t, []string{`say "hi"`}, out.Value)
	assert.True(t, args.Get(out.Args, "econ_divide", false))
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := DecodeBridge([]byte("not json"))
	assert.Error(t, err)

	_, err = DecodeHandler([]byte{0xff, 0xfe})
	assert.Error(t, err)
}
