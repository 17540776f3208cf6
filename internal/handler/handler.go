// Package handler implements the transformer role: Bridge envelopes
// are matched against per-path regex rules and re-published as Handler
// envelopes.
package handler

import (
	"context"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/nats-io/nats.go"

	"github.com/teeworlds-nats/bridge/internal/args"
	"github.com/teeworlds-nats/bridge/internal/bus"
	"github.com/teeworlds-nats/bridge/internal/config"
	"github.com/teeworlds-nats/bridge/internal/envelope"
	"github.com/teeworlds-nats/bridge/internal/tmpl"
)

const defaultQueue = "handler_{{0}}"

// path is one compiled ingress route. Invalid patterns are dropped at
// construction; a path with no surviving patterns still subscribes but
// never emits.
type path struct {
	index   int
	subject string
	queue   string
	to      []string
	args    args.Value
	regexes []*regexp.Regexp
}

// Service is one running transformer role.
type Service struct {
	publish func(subject string, payload []byte) error
	logger  *slog.Logger
	paths   []*path
}

// Run executes the transformer role until ctx is cancelled.
func Run(ctx context.Context, cfg *config.Handler, logger *slog.Logger) error {
	conn, err := bus.Connect(cfg.NATS, logger)
	if err != nil {
		return err
	}
	defer conn.Close()

	s := &Service{publish: conn.Publish, logger: logger}
	for i, pc := range cfg.Paths {
		s.paths = append(s.paths, buildPath(i, pc, cfg.Args, logger))
	}

	for _, p := range s.paths {
		ch, err := conn.Subscribe(p.subject, p.queue)
		if err != nil {
			return err
		}
		go s.consume(ctx, p, ch)
	}

	logger.Info("handler running", "paths", len(s.paths))
	<-ctx.Done()
	return nil
}

// buildPath resolves one path config: role args merged under path
// args, subjects and queue templated, patterns compiled. The path
// index is exposed to the queue template as positional {{0}}.
func buildPath(index int, pc config.PathConfig, roleArgs args.Value, logger *slog.Logger) *path {
	pathArgs := args.Merge(roleArgs, pc.Args)
	pos := []string{strconv.Itoa(index)}

	p := &path{
		index:   index,
		subject: tmpl.Format(pc.From, pathArgs, pos),
		queue:   tmpl.FormatOne(pc.Queue, defaultQueue, pathArgs, pos),
		to:      pc.To,
		args:    pathArgs,
	}
	for _, expr := range pc.Regex {
		re, err := regexp.Compile(expr)
		if err != nil {
			logger.Error("invalid regex dropped",
				"path", index, "regex", expr, "error", err)
			continue
		}
		p.regexes = append(p.regexes, re)
	}
	return p
}

func (s *Service) consume(ctx context.Context, p *path, ch <-chan *nats.Msg) {
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-ch:
			s.handle(p, m.Data)
		}
	}
}

// handle matches one Bridge envelope against the path's patterns and
// publishes the resulting Handler envelope. Only the first matching
// pattern fires.
func (s *Service) handle(p *path, payload []byte) {
	msg, err := envelope.DecodeBridge(payload)
	if err != nil {
		s.logger.Warn("dropping undecodable message",
			"path", p.index, "error", err)
		return
	}

	eff := args.Merge(p.args, msg.Args)
	for _, re := range p.regexes {
		m := re.FindStringSubmatch(msg.Text)
		if m == nil {
			continue
		}

		value := captureValue(m)
		out := envelope.Handler{Text: m[0], Value: value, Args: eff}
		data, err := envelope.Encode(out)
		if err != nil {
			s.logger.Error("encode handler envelope", "error", err)
			return
		}

		for _, to := range p.to {
			subject := tmpl.Format(to, eff, m)
			if err := s.publish(subject, data); err != nil {
				s.logger.Warn("publish transformed message failed",
					"subject", subject, "error", err)
			}
		}
		return
	}
}

// captureValue turns a submatch slice into the envelope value: groups
// 1..n with unmatched optional groups as empty strings. A two-group
// chat capture gets its sender rewritten so bridged text cannot ping
// chat users by mention.
func captureValue(m []string) []string {
	value := make([]string, len(m)-1)
	copy(value, m[1:])
	if len(value) == 2 {
		value[0] = maskMention(value[0])
	}
	return value
}

// maskMention rewrites @ to @- in names longer than two runes.
func maskMention(nickname string) string {
	if len([]rune(nickname)) <= 2 || !strings.Contains(nickname, "@") {
		return nickname
	}
	return strings.ReplaceAll(nickname, "@", "@-")
}
