package econ

import (
	"context"
	"log/slog"
	"time"
)

const defaultCommandBuffer = 64

// SupervisorConfig wires a Supervisor to its collaborators. Connect
// produces a fresh authenticated writer session; OnReconnect lets the
// caller restart its reader goroutine against a fresh reader session;
// ReportDrop is invoked once per command abandoned after reconnect
// attempts are exhausted.
type SupervisorConfig struct {
	Writer      *Session
	MaxAttempts int
	Sleep       time.Duration
	Connect     func(ctx context.Context) (*Session, error)
	OnReconnect func(ctx context.Context)
	ReportDrop  func(cmd string)
	Logger      *slog.Logger
}

// Supervisor owns the writer session and serializes all command
// delivery to the console. Commands arrive on a channel, are appended
// to a FIFO pending queue, and are sent in order; send failures drive
// the reconnect cycle. While a reconnect cycle is in progress,
// commands registered as task-owned are dropped instead of queued so a
// schedule cannot pile up against a dead console.
type Supervisor struct {
	cfg      SupervisorConfig
	writer   *Session
	commands chan string
	logger   *slog.Logger

	pending   []string
	attempts  int
	taskOwned map[string]struct{}
}

// NewSupervisor builds a Supervisor around an already-connected writer
// session.
func NewSupervisor(cfg SupervisorConfig) *Supervisor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		cfg:       cfg,
		writer:    cfg.Writer,
		commands:  make(chan string, defaultCommandBuffer),
		logger:    logger,
		taskOwned: make(map[string]struct{}),
	}
}

// Commands is the intake channel. Any goroutine may submit; delivery
// order follows submission order.
func (s *Supervisor) Commands() chan<- string {
	return s.commands
}

// RegisterTaskCommands marks the given command strings as task-owned
// for suppression during reconnect cycles.
func (s *Supervisor) RegisterTaskCommands(cmds []string) {
	for _, c := range cmds {
		s.taskOwned[c] = struct{}{}
	}
}

// Run processes commands until ctx is cancelled. It returns nil on
// cancellation; all errors along the way are handled internally via
// the reconnect cycle and ReportDrop. The supervisor owns the writer
// session and closes whichever one is current when Run returns.
func (s *Supervisor) Run(ctx context.Context) error {
	defer func() {
		if s.writer != nil {
			s.writer.Close()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return nil
		case cmd := <-s.commands:
			s.admit(cmd)
			s.drain(ctx)
		}
	}
}

// admit appends a command to the pending queue, unless a reconnect
// cycle is in progress and the command is task-owned.
func (s *Supervisor) admit(cmd string) {
	if s.attempts != 0 {
		if _, owned := s.taskOwned[cmd]; owned {
			s.logger.Debug("dropping task command during reconnect", "command", cmd)
			return
		}
	}
	s.pending = append(s.pending, cmd)
}

// drain sends pending commands in FIFO order. A send failure starts
// the reconnect cycle: sleep, dial a fresh writer, restart the reader,
// retry the head of the queue. After MaxAttempts consecutive failures
// the whole queue is reported dropped and the counter resets.
func (s *Supervisor) drain(ctx context.Context) {
	for len(s.pending) > 0 {
		if ctx.Err() != nil {
			return
		}

		head := s.pending[0]
		if err := s.writer.SendLine(head); err == nil {
			s.pending = s.pending[1:]
			s.attempts = 0
			continue
		} else {
			s.logger.Error("send to econ failed", "command", head, "error", err)
		}

		s.attempts++
		if s.attempts > s.cfg.MaxAttempts {
			s.logger.Error("reconnect attempts exhausted, dropping pending commands",
				"attempts", s.cfg.MaxAttempts, "dropped", len(s.pending))
			if s.cfg.ReportDrop != nil {
				for _, cmd := range s.pending {
					s.cfg.ReportDrop(cmd)
				}
			}
			s.pending = nil
			s.attempts = 0
			return
		}

		s.logger.Warn("reconnecting to econ",
			"attempt", s.attempts, "max_attempts", s.cfg.MaxAttempts)
		if !s.sleep(ctx) {
			return
		}

		writer, err := s.cfg.Connect(ctx)
		if err != nil {
			s.logger.Error("econ reconnect failed", "attempt", s.attempts, "error", err)
			if !s.sleep(ctx) {
				return
			}
			continue
		}

		if s.writer != nil {
			s.writer.Close()
		}
		s.writer = writer
		s.attempts = 0
		if s.cfg.OnReconnect != nil {
			s.cfg.OnReconnect(ctx)
		}
		s.logger.Info("econ reconnected")
	}
}

// sleep waits for the configured reconnect delay while continuing to
// accept commands: task-owned commands are dropped (a cycle is in
// progress), everything else queues behind the current head. Returns
// false when ctx is cancelled.
func (s *Supervisor) sleep(ctx context.Context) bool {
	timer := time.NewTimer(s.cfg.Sleep)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-timer.C:
			return true
		case cmd := <-s.commands:
			s.admit(cmd)
		}
	}
}
