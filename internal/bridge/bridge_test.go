package bridge

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/teeworlds-nats/bridge/internal/args"
	"github.com/teeworlds-nats/bridge/internal/envelope"
	"github.com/teeworlds-nats/bridge/internal/tmpl"
)

func TestCommandsFromJoinsBySpace(t *testing.T) {
	msg := envelope.Handler{Value: []string{"say", "hello", "world"}}
	cmds := commandsFrom(args.FromAny(nil), msg)
	assert.Equal(t, []string{"say hello world"}, cmds)
}

func TestCommandsFromDividesPerLine(t *testing.T) {
	msg := envelope.Handler{
		Value: []string{`say "[12] [alice] hi"`, "status"},
		Args:  args.FromAny(map[string]any{"econ_divide": true}),
	}
	cmds := commandsFrom(args.FromAny(nil), msg)
	assert.Equal(t, []string{`say "[12] [alice] hi"`, "status"}, cmds)
}

func TestCommandsFromConfigSideDivide(t *testing.T) {
	base := args.FromAny(map[string]any{"econ_divide": true})
	msg := envelope.Handler{Value: []string{"a", "b"}}
	assert.Equal(t, []string{"a", "b"}, commandsFrom(base, msg))

	// The envelope overrides the config side.
	msg.Args = args.FromAny(map[string]any{"econ_divide": false})
	assert.Equal(t, []string{"a b"}, commandsFrom(base, msg))
}

func TestCommandsFromEmptyValue(t *testing.T) {
	cmds := commandsFrom(args.FromAny(nil), envelope.Handler{})
	assert.Equal(t, []string{""}, cmds)
}

func TestDefaultSubjectsTemplate(t *testing.T) {
	a := args.FromAny(map[string]any{"message_thread_id": 42})

	from := tmpl.FormatAll(nil, defaultFrom, a, nil)
	assert.Equal(t, []string{"tw.econ.write.42", "tw.econ.moderator"}, from)

	to := tmpl.FormatAll(nil, defaultTo, a, nil)
	assert.Equal(t, []string{"tw.econ.read.42"}, to)

	errSubj := tmpl.FormatOne("", defaultErrors, a, nil)
	assert.Equal(t, "tw.econ.errors.42", errSubj)
}
