package bot

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/nats-io/nats.go"

	"github.com/teeworlds-nats/bridge/internal/args"
	"github.com/teeworlds-nats/bridge/internal/bus"
	"github.com/teeworlds-nats/bridge/internal/config"
	"github.com/teeworlds-nats/bridge/internal/envelope"
	"github.com/teeworlds-nats/bridge/internal/tmpl"
)

var (
	defaultReaderFrom  = []string{"tw.tg.*"}
	defaultReaderQueue = "econ.reader"
	defaultMessageText = "{{0}}: {{1}}"
)

// sendBuffer decouples the subscriber loops from the rate-limited
// dispatch loop.
const sendBuffer = 2048

// outMessage is one prepared chat delivery.
type outMessage struct {
	text     string
	chatID   int64
	threadID int
}

// Reader consumes Handler envelopes from the bus and delivers their
// rendered text to chats through the bot pool.
type Reader struct {
	cfg    *config.Bots
	pool   *Pool
	logger *slog.Logger
	send   chan outMessage
}

// RunReader executes the bus→chat role until ctx is cancelled.
func RunReader(ctx context.Context, cfg *config.Bots, logger *slog.Logger) error {
	conn, err := bus.Connect(cfg.NATS, logger)
	if err != nil {
		return err
	}
	defer conn.Close()

	pool, err := NewPool(cfg.Bot.Tokens)
	if err != nil {
		return err
	}

	r := &Reader{
		cfg:    cfg,
		pool:   pool,
		logger: logger,
		send:   make(chan outMessage, sendBuffer),
	}

	from := tmpl.FormatAll(cfg.NATS.From, defaultReaderFrom, cfg.Args, nil)
	queue := tmpl.FormatOne(cfg.NATS.Queue, defaultReaderQueue, cfg.Args, nil)
	for _, subject := range from {
		ch, err := conn.Subscribe(subject, queue)
		if err != nil {
			return err
		}
		go r.consume(ctx, ch)
	}

	logger.Info("bot reader running", "from", from, "bots", len(cfg.Bot.Tokens))
	r.dispatch(ctx)
	return nil
}

func (r *Reader) consume(ctx context.Context, ch <-chan *nats.Msg) {
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-ch:
			msg, err := envelope.DecodeHandler(m.Data)
			if err != nil {
				r.logger.Warn("dropping undecodable message", "error", err)
				continue
			}
			out, ok := prepareMessage(r.cfg.Args, msg, r.logger)
			if !ok {
				continue
			}
			select {
			case <-ctx.Done():
				return
			case r.send <- out:
			}
		}
	}
}

// dispatch serialises chat sends across the pool. A rate-limit reply
// sleeps the provider-requested duration; other send errors are
// logged and the message is dropped.
func (r *Reader) dispatch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case out := <-r.send:
			if out.chatID == -1 {
				r.logger.Warn("skipping send with unresolved chat_id", "text", out.text)
				continue
			}

			params := &bot.SendMessageParams{ChatID: out.chatID, Text: out.text}
			if out.threadID >= 0 {
				params.MessageThreadID = out.threadID
			}

			_, err := r.pool.Next().SendMessage(ctx, params)
			if err == nil {
				continue
			}

			var tooMany *bot.TooManyRequestsError
			if errors.As(err, &tooMany) {
				r.logger.Info("rate limited, backing off",
					"retry_after", tooMany.RetryAfter)
				select {
				case <-ctx.Done():
					return
				case <-time.After(time.Duration(tooMany.RetryAfter) * time.Second):
				}
				continue
			}
			r.logger.Error("send message failed",
				"chat_id", out.chatID, "thread_id", out.threadID, "error", err)
		}
	}
}

// prepareMessage renders one Handler envelope into a chat delivery.
// The boolean result is false when the message should be dropped.
func prepareMessage(base args.Value, msg envelope.Handler, logger *slog.Logger) (outMessage, bool) {
	eff := args.Merge(base, msg.Args)

	messageText := args.Get(eff, "message_text", defaultMessageText)
	text := tmpl.Format(messageText, eff, msg.Value)

	if messageRegex := args.Get(eff, "message_regex", ""); messageRegex != "" {
		re, err := regexp.Compile(messageRegex)
		if err != nil {
			logger.Error("invalid message_regex",
				"regex", messageRegex, "error", err)
			return outMessage{}, false
		}
		text = applyMessageRegex(re, text, logger)
	}

	if prefix := args.Get(eff, "not_starts_with", ""); prefix != "" && strings.HasPrefix(text, prefix) {
		return outMessage{}, false
	}

	return outMessage{
		text:     text,
		chatID:   args.Get(eff, "chat_id", int64(-1)),
		threadID: int(args.Get(eff, "message_thread_id", int64(-1))),
	}, true
}

// applyMessageRegex reduces rendered text to its capture groups joined
// by space. No match, or an empty full match, keeps the text as is.
func applyMessageRegex(re *regexp.Regexp, text string, logger *slog.Logger) string {
	idx := re.FindStringSubmatchIndex(text)
	if idx == nil {
		logger.Warn("message_regex did not match", "regex", re.String(), "text", text)
		return text
	}
	if idx[0] == idx[1] {
		logger.Warn("message_regex produced an empty match", "regex", re.String())
		return text
	}

	var groups []string
	for g := 1; g*2 < len(idx); g++ {
		start, end := idx[g*2], idx[g*2+1]
		if start < 0 {
			continue
		}
		groups = append(groups, text[start:end])
	}
	return strings.Join(groups, " ")
}
