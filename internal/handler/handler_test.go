package handler

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teeworlds-nats/bridge/internal/args"
	"github.com/teeworlds-nats/bridge/internal/config"
	"github.com/teeworlds-nats/bridge/internal/envelope"
)

type published struct {
	subject string
	payload []byte
}

func newTestService(t *testing.T, pcs []config.PathConfig, roleArgs args.Value) (*Service, *[]published) {
	t.Helper()
	var out []published
	s := &Service{
		publish: func(subject string, payload []byte) error {
			out = append(out, published{subject, payload})
			return nil
		},
		logger: slog.Default(),
	}
	for i, pc := range pcs {
		s.paths = append(s.paths, buildPath(i, pc, roleArgs, slog.Default()))
	}
	return s, &out
}

func TestChatExtraction(t *testing.T) {
	s, out := newTestService(t, []config.PathConfig{{
		From:  "tw.econ.read.42",
		Regex: []string{`^\[chat\]: \d+:-?\d+:(.*): (.*)$`},
		To:    []string{"tw.tg.42"},
	}}, args.FromAny(nil))

	in, err := envelope.Encode(envelope.Bridge{
		Text: "[chat]: 3:-1:alice: hello world",
		Args: args.FromAny(map[string]any{"server_name": "s"}),
	})
	require.NoError(t, err)

	s.handle(s.paths[0], in)

	require.Len(t, *out, 1)
	assert.Equal(t, "tw.tg.42", (*out)[0].subject)

	msg, err := envelope.DecodeHandler((*out)[0].payload)
	require.NoError(t, err)
	assert.Equal(t, "[chat]: 3:-1:alice: hello world", msg.Text)
	assert.Equal(t, []string{"alice", "hello world"}, msg.Value)
	assert.Equal(t, "s", args.Get(msg.Args, "server_name", ""))
}

func TestFirstMatchingRegexWins(t *testing.T) {
	s, out := newTestService(t, []config.PathConfig{{
		From:  "tw.econ.read.1",
		Regex: []string{`^(\w+) joined`, `^(\w+) .*$`},
		To:    []string{"tw.tg.1"},
	}}, args.FromAny(nil))

	in, err := envelope.Encode(envelope.Bridge{Text: "bob joined the game"})
	require.NoError(t, err)
	s.handle(s.paths[0], in)

	require.Len(t, *out, 1)
	msg, err := envelope.DecodeHandler((*out)[0].payload)
	require.NoError(t, err)
	assert.Equal(t, "bob joined", msg.Text)
}

func TestNoMatchPublishesNothing(t *testing.T) {
	s, out := newTestService(t, []config.PathConfig{{
		From:  "tw.econ.read.1",
		Regex: []string{`^\[chat\]:`},
		To:    []string{"tw.tg.1"},
	}}, args.FromAny(nil))

	in, err := envelope.Encode(envelope.Bridge{Text: "[server]: map changed"})
	require.NoError(t, err)
	s.handle(s.paths[0], in)
	assert.Empty(t, *out)
}

func TestInvalidRegexDropped(t *testing.T) {
	s, out := newTestService(t, []config.PathConfig{{
		From:  "tw.econ.read.1",
		Regex: []string{`([`, `^ok (.*)$`},
		To:    []string{"tw.tg.1"},
	}}, args.FromAny(nil))

	require.Len(t, s.paths[0].regexes, 1)

	in, err := envelope.Encode(envelope.Bridge{Text: "ok fine"})
	require.NoError(t, err)
	s.handle(s.paths[0], in)
	require.Len(t, *out, 1)
}

func TestSubjectTemplatedFromCaptures(t *testing.T) {
	s, out := newTestService(t, []config.PathConfig{{
		From:  "tw.econ.read.1",
		Regex: []string{`^vote (\w+)$`},
		To:    []string{"tw.vote.{{1}}"},
	}}, args.FromAny(nil))

	in, err := envelope.Encode(envelope.Bridge{Text: "vote yes"})
	require.NoError(t, err)
	s.handle(s.paths[0], in)

	require.Len(t, *out, 1)
	assert.Equal(t, "tw.vote.yes", (*out)[0].subject)
}

func TestEnvelopeArgsOverlayPathArgs(t *testing.T) {
	s, out := newTestService(t, []config.PathConfig{{
		From:  "tw.econ.read.1",
		Regex: []string{`^(.*)$`},
		To:    []string{"tw.tg.1"},
		Args:  args.FromAny(map[string]any{"server_name": "cfg", "extra": 1}),
	}}, args.FromAny(nil))

	in, err := envelope.Encode(envelope.Bridge{
		Text: "hi",
		Args: args.FromAny(map[string]any{"server_name": "msg"}),
	})
	require.NoError(t, err)
	s.handle(s.paths[0], in)

	require.Len(t, *out, 1)
	msg, err := envelope.DecodeHandler((*out)[0].payload)
	require.NoError(t, err)
	assert.Equal(t, "msg", args.Get(msg.Args, "server_name", ""))
	assert.Equal(t, 1, args.Get(msg.Args, "extra", 0))
}

func TestDefaultQueuePerPathIndex(t *testing.T) {
	s, _ := newTestService(t, []config.PathConfig{
		{From: "a", Regex: nil, To: nil},
		{From: "b", Regex: nil, To: nil},
	}, args.FromAny(nil))

	assert.Equal(t, "handler_0", s.paths[0].queue)
	assert.Equal(t, "handler_1", s.paths[1].queue)
}

func TestMaskMention(t *testing.T) {
	assert.Equal(t, "@-admin", maskMention("@admin"))
	assert.Equal(t, "@a", maskMention("@a"))
	assert.Equal(t, "plain", maskMention("plain"))
	assert.Equal(t, "", maskMention(""))
}
