// Package bridge implements the console-bridge role: console lines go
// out to the bus as Bridge envelopes, Handler envelopes come back in
// and are fed to the console as commands.
package bridge

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/teeworlds-nats/bridge/internal/args"
	"github.com/teeworlds-nats/bridge/internal/bus"
	"github.com/teeworlds-nats/bridge/internal/config"
	"github.com/teeworlds-nats/bridge/internal/econ"
	"github.com/teeworlds-nats/bridge/internal/envelope"
	"github.com/teeworlds-nats/bridge/internal/tmpl"
)

var (
	defaultFrom   = []string{"tw.econ.write.{{message_thread_id}}", "tw.econ.moderator"}
	defaultTo     = []string{"tw.econ.read.{{message_thread_id}}"}
	defaultQueue  = "econ.reader"
	defaultErrors = "tw.econ.errors.{{message_thread_id}}"
)

// readErrorSleep paces the reader loop after a console read failure so
// a dead socket does not spin while the supervisor recovers it.
const readErrorSleep = 5 * time.Second

// Service is one running console-bridge role.
type Service struct {
	cfg    *config.Econ
	bus    *bus.Conn
	logger *slog.Logger

	from    []string
	to      []string
	queue   string
	errSubj string

	sup *econ.Supervisor

	readerMu sync.Mutex
	reader   *econ.Session
}

// Run executes the console-bridge role until ctx is cancelled. Startup
// failures (broker, initial console auth, cron parse) are returned;
// runtime failures are handled by the supervisor and the loops.
func Run(ctx context.Context, cfg *config.Econ, logger *slog.Logger) error {
	conn, err := bus.Connect(cfg.NATS, logger)
	if err != nil {
		return err
	}
	defer conn.Close()

	s := &Service{
		cfg:     cfg,
		bus:     conn,
		logger:  logger,
		from:    tmpl.FormatAll(cfg.NATS.From, defaultFrom, cfg.Args, nil),
		to:      tmpl.FormatAll(cfg.NATS.To, defaultTo, cfg.Args, nil),
		queue:   tmpl.FormatOne(cfg.NATS.Queue, defaultQueue, cfg.Args, nil),
		errSubj: tmpl.FormatOne(cfg.NATS.Errors, defaultErrors, cfg.Args, nil),
	}

	writer, err := econ.Connect(ctx, cfg.Econ, cfg.Args, logger)
	if err != nil {
		return err
	}
	defer writer.Close()

	for _, cmd := range cfg.Econ.FirstCommands {
		if err := writer.SendLine(tmpl.Format(cmd, cfg.Args, nil)); err != nil {
			return err
		}
	}

	reader, err := econ.Connect(ctx, cfg.Econ, cfg.Args, logger)
	if err != nil {
		return err
	}
	s.reader = reader
	defer s.closeReader()

	s.sup = econ.NewSupervisor(econ.SupervisorConfig{
		Writer:      writer,
		MaxAttempts: cfg.Econ.Reconnect.MaxAttempts,
		Sleep:       time.Duration(cfg.Econ.Reconnect.Sleep) * time.Second,
		Connect: func(ctx context.Context) (*econ.Session, error) {
			return econ.Connect(ctx, cfg.Econ, cfg.Args, logger)
		},
		OnReconnect: s.restartReader,
		ReportDrop:  s.reportDrop,
		Logger:      logger,
	})

	tasks, err := econ.NewTaskRunner(cfg.Econ.Tasks, s.sup.Commands(), logger)
	if err != nil {
		return err
	}
	s.sup.RegisterTaskCommands(econ.AllCommands(cfg.Econ.Tasks))

	go s.readLoop(ctx, reader)

	for _, subject := range s.from {
		ch, err := conn.Subscribe(subject, s.queue)
		if err != nil {
			return err
		}
		go s.consume(ctx, subject, ch)
	}

	tasks.Start(ctx)

	logger.Info("console bridge running",
		"host", cfg.Econ.Host, "from", s.from, "to", s.to)
	return s.sup.Run(ctx)
}

// readLoop publishes every console line as a Bridge envelope to each
// outbound subject in declared order.
func (s *Service) readLoop(ctx context.Context, session *econ.Session) {
	for ctx.Err() == nil {
		line, ok, err := session.RecvLine(true)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) ||
				session.State() == econ.StateDisconnected {
				return
			}
			s.logger.Error("econ read failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(readErrorSleep):
			}
			continue
		}
		if !ok {
			continue
		}

		payload, err := envelope.Encode(envelope.Bridge{Text: line, Args: s.cfg.Args})
		if err != nil {
			s.logger.Error("encode bridge envelope", "error", err)
			continue
		}
		for _, subject := range s.to {
			if err := s.bus.Publish(subject, payload); err != nil {
				s.logger.Warn("publish console line failed",
					"subject", subject, "error", err)
			}
		}
	}
}

// consume turns inbound Handler envelopes into console commands. With
// econ_divide set in the effective args each value element becomes its
// own line; otherwise the elements are joined with a single space.
func (s *Service) consume(ctx context.Context, subject string, ch <-chan *nats.Msg) {
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-ch:
			msg, err := envelope.DecodeHandler(m.Data)
			if err != nil {
				s.logger.Warn("dropping undecodable message",
					"subject", subject, "error", err)
				continue
			}

			for _, cmd := range commandsFrom(s.cfg.Args, msg) {
				select {
				case <-ctx.Done():
					return
				case s.sup.Commands() <- cmd:
				}
			}
		}
	}
}

// commandsFrom derives console command lines from a Handler envelope.
func commandsFrom(base args.Value, msg envelope.Handler) []string {
	eff := args.Merge(base, msg.Args)
	if args.Get(eff, "econ_divide", false) {
		return msg.Value
	}
	return []string{strings.Join(msg.Value, " ")}
}

// restartReader replaces the reader session after the supervisor
// reconnects the writer; closing the old session aborts the blocked
// read loop.
func (s *Service) restartReader(ctx context.Context) {
	reader, err := econ.Connect(ctx, s.cfg.Econ, s.cfg.Args, s.logger)
	if err != nil {
		s.logger.Error("reader reconnect failed", "error", err)
		return
	}

	s.readerMu.Lock()
	if s.reader != nil {
		s.reader.Close()
	}
	s.reader = reader
	s.readerMu.Unlock()

	go s.readLoop(ctx, reader)
}

func (s *Service) closeReader() {
	s.readerMu.Lock()
	defer s.readerMu.Unlock()
	if s.reader != nil {
		s.reader.Close()
	}
}

// reportDrop publishes one Error envelope per command abandoned by the
// supervisor. Errors-subject publish failures are logged and swallowed.
func (s *Service) reportDrop(cmd string) {
	payload, err := envelope.Encode(envelope.Error{Text: cmd, Publish: s.errSubj})
	if err != nil {
		s.logger.Error("encode error envelope", "error", err)
		return
	}
	if err := s.bus.Publish(s.errSubj, payload); err != nil {
		s.logger.Error("publish to errors subject failed",
			"subject", s.errSubj, "error", err)
	}
}
