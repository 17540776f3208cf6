package bot

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/teeworlds-nats/bridge/internal/args"
	"github.com/teeworlds-nats/bridge/internal/bus"
	"github.com/teeworlds-nats/bridge/internal/config"
	"github.com/teeworlds-nats/bridge/internal/emoji"
	"github.com/teeworlds-nats/bridge/internal/envelope"
	"github.com/teeworlds-nats/bridge/internal/tmpl"
)

var defaultWriterTo = []string{"tw.econ.write.{{message_thread_id}}"}

// Writer receives chat updates and publishes them to the bus as
// Handler envelopes carrying ready-to-send console lines.
type Writer struct {
	cfg     *config.Bots
	publish func(subject string, payload []byte) error
	logger  *slog.Logger
}

// RunWriter executes the chat→bus role until ctx is cancelled.
func RunWriter(ctx context.Context, cfg *config.Bots, logger *slog.Logger) error {
	conn, err := bus.Connect(cfg.NATS, logger)
	if err != nil {
		return err
	}
	defer conn.Close()

	w := &Writer{cfg: cfg, publish: conn.Publish, logger: logger}

	pool, err := NewPool(cfg.Bot.Tokens, bot.WithDefaultHandler(w.handleUpdate))
	if err != nil {
		return err
	}
	pool.Start(ctx)

	logger.Info("bot writer running", "bots", len(cfg.Bot.Tokens))
	<-ctx.Done()
	return nil
}

func (w *Writer) handleUpdate(ctx context.Context, _ *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}

	values, eff, ok := w.produce(update.Message)
	if !ok {
		return
	}

	payload, err := envelope.Encode(envelope.Handler{Value: values, Args: eff})
	if err != nil {
		w.logger.Error("encode handler envelope", "error", err)
		return
	}

	for _, subject := range tmpl.FormatAll(w.cfg.NATS.To, defaultWriterTo, eff, nil) {
		if err := w.publish(subject, payload); err != nil {
			w.logger.Warn("publish chat message failed",
				"subject", subject, "error", err)
		}
	}
}

// produce renders one chat message into its outbound value list and
// effective args. ok is false when the update carries nothing worth
// bridging.
func (w *Writer) produce(msg *models.Message) ([]string, args.Value, bool) {
	payload, aux, ok := classify(msg, w.cfg.Format)
	if !ok {
		return nil, args.Value{}, false
	}

	eff := args.Merge(w.cfg.Args, messageArgs(msg))
	eff = eff.Set("message_thread_id", msg.MessageThreadID).
		Set("chat_id", msg.Chat.ID).
		Set("server_name", topicName(msg)).
		Set("econ_divide", true)

	var values []string
	if reply := msg.ReplyToMessage; reply != nil && reply.ForumTopicCreated == nil {
		line := RunChain(w.cfg.Format.Reply, eff, Normalize(replyPayload(reply)), "")
		values = append(values, emoji.Replace(line))
	}

	line := RunChain(w.cfg.Format.Text, eff, Normalize(payload), aux)
	values = append(values, emoji.Replace(line))
	return values, eff, true
}

// classify picks the payload text and the auxiliary {{2}} prefix for
// a message's media kind.
func classify(msg *models.Message, fmts config.FormatsConfig) (payload, aux string, ok bool) {
	switch {
	case msg.Text != "":
		return msg.Text, "", true
	case msg.Sticker != nil:
		return msg.Sticker.Emoji, fmts.Sticker, true
	case msg.Caption != "":
		return msg.Caption, fmts.Media, true
	case msg.IsTopicMessage:
		return "", "", true
	default:
		return "", "", false
	}
}

// replyPayload mirrors classify for the replied-to message.
func replyPayload(msg *models.Message) string {
	switch {
	case msg.Text != "":
		return msg.Text
	case msg.Sticker != nil:
		return msg.Sticker.Emoji
	default:
		return msg.Caption
	}
}

// topicName resolves the server identity from the forum-topic-creation
// service message this one replies to, if any.
func topicName(msg *models.Message) string {
	if msg.ReplyToMessage != nil && msg.ReplyToMessage.ForumTopicCreated != nil {
		return msg.ReplyToMessage.ForumTopicCreated.Name
	}
	return ""
}

// messageArgs exposes the raw chat update as an args tree so format
// strings can reach any field by its wire name, e.g. from.username.
func messageArgs(msg *models.Message) args.Value {
	data, err := json.Marshal(msg)
	if err != nil {
		return args.FromAny(nil)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return args.FromAny(nil)
	}
	return args.FromAny(m)
}
