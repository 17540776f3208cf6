package econ

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingConsole accepts any number of connections, authenticates
// each, and forwards received command lines to the returned channel.
func recordingConsole(t *testing.T) (addr string, lines <-chan string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	ch := make(chan string, 64)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()
				conn.Write([]byte("Enter password:\n"))
				r := bufio.NewReader(conn)
				if _, err := r.ReadString('\n'); err != nil {
					return
				}
				conn.Write([]byte("Authentication successful.\n"))
				for {
					line, err := r.ReadString('\n')
					if err != nil {
						return
					}
					ch <- strings.TrimSpace(line)
				}
			}(conn)
		}
	}()
	return ln.Addr().String(), ch
}

func recvLine(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case line := <-ch:
		return line
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for console line")
		return ""
	}
}

func TestSupervisorDeliversInOrder(t *testing.T) {
	addr, lines := recordingConsole(t)
	writer := dialReady(t, addr, "secret")

	sup := NewSupervisor(SupervisorConfig{
		Writer:      writer,
		MaxAttempts: 3,
		Sleep:       time.Millisecond,
		Connect: func(ctx context.Context) (*Session, error) {
			return nil, errors.New("unexpected reconnect")
		},
		Logger: slog.Default(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sup.Run(ctx)

	sup.Commands() <- "say one"
	sup.Commands() <- "say two"
	sup.Commands() <- "say three"

	assert.Equal(t, "say one", recvLine(t, lines))
	assert.Equal(t, "say two", recvLine(t, lines))
	assert.Equal(t, "say three", recvLine(t, lines))
}

func TestSupervisorReconnectsAndRetries(t *testing.T) {
	addr, lines := recordingConsole(t)

	// A closed writer makes the first send fail deterministically.
	writer := dialReady(t, addr, "secret")
	writer.Close()

	reconnected := make(chan struct{}, 1)
	sup := NewSupervisor(SupervisorConfig{
		Writer:      writer,
		MaxAttempts: 3,
		Sleep:       time.Millisecond,
		Connect: func(ctx context.Context) (*Session, error) {
			s, err := Dial(addr, testAuthMessage)
			if err != nil {
				return nil, err
			}
			ok, err := s.TryAuth("secret")
			if err != nil || !ok {
				s.Close()
				return nil, errors.New("auth failed")
			}
			return s, nil
		},
		OnReconnect: func(ctx context.Context) {
			select {
			case reconnected <- struct{}{}:
			default:
			}
		},
		Logger: slog.Default(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sup.Run(ctx)

	sup.Commands() <- "say back"

	assert.Equal(t, "say back", recvLine(t, lines))
	select {
	case <-reconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("reader restart hook never fired")
	}
}

func TestSupervisorDropsQueueOnExhaustion(t *testing.T) {
	addr, _ := recordingConsole(t)
	writer := dialReady(t, addr, "secret")
	writer.Close()

	dropped := make(chan string, 8)
	sup := NewSupervisor(SupervisorConfig{
		Writer:      writer,
		MaxAttempts: 2,
		Sleep:       time.Millisecond,
		Connect: func(ctx context.Context) (*Session, error) {
			return nil, errors.New("console down")
		},
		ReportDrop: func(cmd string) { dropped <- cmd },
		Logger:     slog.Default(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sup.Run(ctx)

	sup.Commands() <- "say lost"

	select {
	case cmd := <-dropped:
		assert.Equal(t, "say lost", cmd)
	case <-time.After(2 * time.Second):
		t.Fatal("pending command was never reported dropped")
	}
}

func TestSupervisorClosesWriterOnExit(t *testing.T) {
	addr, _ := recordingConsole(t)
	writer := dialReady(t, addr, "secret")

	sup := NewSupervisor(SupervisorConfig{
		Writer:      writer,
		MaxAttempts: 3,
		Sleep:       time.Millisecond,
		Connect: func(ctx context.Context) (*Session, error) {
			return nil, errors.New("unexpected reconnect")
		},
		Logger: slog.Default(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sup.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not stop on cancellation")
	}
	assert.Equal(t, StateDisconnected, writer.State())
}

func TestSupervisorSuppressesTaskCommandsDuringReconnect(t *testing.T) {
	sup := NewSupervisor(SupervisorConfig{Logger: slog.Default()})
	sup.RegisterTaskCommands([]string{"ping"})

	sup.attempts = 1
	sup.admit("ping")
	assert.Empty(t, sup.pending)

	sup.admit("say hi")
	assert.Equal(t, []string{"say hi"}, sup.pending)

	// Outside a reconnect cycle task commands queue normally.
	sup.attempts = 0
	sup.admit("ping")
	assert.Equal(t, []string{"say hi", "ping"}, sup.pending)
}
