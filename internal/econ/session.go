// Package econ manages sessions against the external console: a
// line-oriented TCP admin protocol with a password handshake. The
// Session type owns exactly one connection; the Supervisor drives a
// writer Session through transient failures; the task runner injects
// scheduled commands into the Supervisor's command channel.
package econ

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/teeworlds-nats/bridge/internal/args"
	"github.com/teeworlds-nats/bridge/internal/config"
	"github.com/teeworlds-nats/bridge/internal/tmpl"
)

// State is the console session lifecycle state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateAuthenticating
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ErrAuthRejected reports that the console refused the configured
// password.
var ErrAuthRejected = errors.New("econ: authentication rejected")

// ErrNotReady reports a write against a session that has not completed
// authentication.
var ErrNotReady = errors.New("econ: session not ready")

const (
	dialTimeout   = 10 * time.Second
	promptTimeout = 10 * time.Second
	writeTimeout  = 10 * time.Second

	// pollInterval bounds non-blocking reads: a read that produces no
	// complete line within this window reports "no line available".
	pollInterval = 10 * time.Millisecond
)

// Session is a single TCP session against one console endpoint.
// Reads and writes are line-oriented; methods surface transport errors
// and never retry — retrying is the Supervisor's job.
//
// A Session is owned by one goroutine at a time; Close may be called
// concurrently to abort a blocking read.
type Session struct {
	conn        net.Conn
	authMessage string
	state       atomic.Int32

	mu  sync.Mutex
	buf bytes.Buffer // raw bytes received but not yet split into lines
}

// Dial opens a TCP connection to addr and consumes the server's auth
// prompt. The returned session is in the Authenticating state; call
// [Session.TryAuth] next.
func Dial(addr, authMessage string) (*Session, error) {
	s := &Session{authMessage: authMessage}
	s.state.Store(int32(StateConnecting))

	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		s.state.Store(int32(StateFailed))
		return nil, fmt.Errorf("econ dial %s: %w", addr, err)
	}
	s.conn = conn
	s.state.Store(int32(StateAuthenticating))

	// The server opens with its password prompt; consume it so the
	// auth exchange starts from a clean line boundary.
	if _, _, err := s.readLine(promptTimeout); err != nil {
		conn.Close()
		s.state.Store(int32(StateFailed))
		return nil, fmt.Errorf("econ read auth prompt: %w", err)
	}
	return s, nil
}

// State returns the current session state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// TryAuth writes the password and reads server lines until the
// configured auth-success literal is observed (true), the server
// closes the connection (false), or a transport error arises.
func (s *Session) TryAuth(password string) (bool, error) {
	if err := s.writeLine(password); err != nil {
		return false, err
	}

	for {
		line, _, err := s.readLine(promptTimeout)
		if errors.Is(err, io.EOF) {
			s.markFailed()
			return false, nil
		}
		if err != nil {
			return false, err
		}
		if strings.Contains(line, s.authMessage) {
			s.state.Store(int32(StateReady))
			return true, nil
		}
	}
}

// RecvLine returns the next complete console line with its terminator
// stripped. With blocking=false it returns ok=false promptly when no
// full line is buffered. Transport errors transition the session to
// Failed.
func (s *Session) RecvLine(blocking bool) (line string, ok bool, err error) {
	timeout := time.Duration(0) // no deadline: block until data or error
	if !blocking {
		timeout = pollInterval
	}

	line, ok, err = s.readLine(timeout)
	if err != nil && isTimeout(err) && !blocking {
		return "", false, nil
	}
	return line, ok, err
}

// SendLine writes cmd followed by the line terminator. Only a Ready
// session accepts writes; transport errors move the session to Failed.
func (s *Session) SendLine(cmd string) error {
	if s.State() != StateReady {
		return ErrNotReady
	}
	return s.writeLine(cmd)
}

// Close tears the connection down, aborting any blocked read.
// Disconnected is final: the aborted read's error path must not
// overwrite it with Failed.
func (s *Session) Close() error {
	s.state.Store(int32(StateDisconnected))
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

// markFailed transitions to Failed unless the session was already
// closed by Close.
func (s *Session) markFailed() {
	for {
		cur := s.state.Load()
		if cur == int32(StateDisconnected) {
			return
		}
		if s.state.CompareAndSwap(cur, int32(StateFailed)) {
			return
		}
	}
}

func (s *Session) writeLine(cmd string) error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		s.markFailed()
		return fmt.Errorf("econ set write deadline: %w", err)
	}
	if _, err := s.conn.Write([]byte(cmd + "\n")); err != nil {
		s.markFailed()
		return fmt.Errorf("econ write: %w", err)
	}
	return nil
}

// readLine pops the next buffered line, reading from the socket as
// needed. A zero timeout blocks indefinitely. Partial lines stay in
// the buffer across calls, so a read deadline never loses data.
func (s *Session) readLine(timeout time.Duration) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		if line, ok := s.popLine(); ok {
			return line, true, nil
		}

		var deadline time.Time
		if timeout > 0 {
			deadline = time.Now().Add(timeout)
		}
		if err := s.conn.SetReadDeadline(deadline); err != nil {
			s.markFailed()
			return "", false, fmt.Errorf("econ set read deadline: %w", err)
		}

		chunk := make([]byte, 4096)
		n, err := s.conn.Read(chunk)
		if n > 0 {
			s.buf.Write(chunk[:n])
		}
		if err != nil {
			if isTimeout(err) {
				return "", false, err
			}
			s.markFailed()
			if errors.Is(err, io.EOF) {
				return "", false, io.EOF
			}
			return "", false, fmt.Errorf("econ read: %w", err)
		}
	}
}

// popLine extracts one terminated line from the buffer. The caller
// holds s.mu.
func (s *Session) popLine() (string, bool) {
	data := s.buf.Bytes()
	idx := bytes.IndexByte(data, '\n')
	if idx < 0 {
		return "", false
	}
	line := string(bytes.TrimRight(data[:idx], "\r\x00"))
	s.buf.Next(idx + 1)
	return line, true
}

func isTimeout(err error) bool {
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}

// connectAttempts bounds the dial/auth retries inside one Connect
// call. Longer-term reconnection policy lives in the Supervisor.
const connectAttempts = 3

// Connect resolves the templated host from cfg, dials it, and runs the
// auth handshake, retrying transient failures a bounded number of
// times. A rejected password is permanent and fails immediately.
func Connect(ctx context.Context, cfg config.EconConfig, a args.Value, logger *slog.Logger) (*Session, error) {
	addr := tmpl.Format(cfg.Host, a, nil)

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Second), connectAttempts-1),
		ctx,
	)

	var session *Session
	operation := func() error {
		s, err := Dial(addr, cfg.AuthMessage)
		if err != nil {
			logger.Debug("econ dial failed", "addr", addr, "error", err)
			return err
		}

		authed, err := s.TryAuth(cfg.Password)
		if err != nil {
			s.Close()
			logger.Debug("econ auth attempt failed", "addr", addr, "error", err)
			return err
		}
		if !authed {
			s.Close()
			return backoff.Permanent(ErrAuthRejected)
		}

		session = s
		return nil
	}

	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}
	return session, nil
}
