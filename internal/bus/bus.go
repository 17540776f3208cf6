// Package bus wraps the NATS client behind the small surface the
// bridge roles need: connect with the configured auth mode, subscribe
// (plain or queue-group) onto a channel, and publish with a JetStream
// acknowledgement.
package bus

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nkeys"

	"github.com/teeworlds-nats/bridge/internal/config"
)

const (
	connectTimeout = 30 * time.Second
	requestTimeout = 30 * time.Second

	// subscriptionBuffer bounds each subscription channel. When it
	// fills, the client drops further messages for that subscription
	// and reports a slow-consumer error; the handler installed in
	// Connect logs those drops.
	subscriptionBuffer = 64
)

// Conn is a shared handle on the broker. It is cheap to pass around
// and safe for concurrent use.
type Conn struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	logger *slog.Logger
}

// Connect establishes the broker connection described by cfg. It is
// fatal-at-startup territory: roles refuse to continue with a
// half-initialised bus.
func Connect(cfg config.NATSConfig, logger *slog.Logger) (*Conn, error) {
	opts := []nats.Option{
		nats.Name("bridge-" + uuid.NewString()[:8]),
		nats.Timeout(connectTimeout),
		nats.PingInterval(time.Duration(cfg.PingInterval) * time.Second),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			logger.Error("nats async error", "subject", subject, "error", err)
		}),
	}

	authOpt, err := authOption(cfg.Auth)
	if err != nil {
		return nil, err
	}
	if authOpt != nil {
		opts = append(opts, authOpt)
	}

	if cfg.TLS {
		opts = append(opts, nats.Secure(&tls.Config{MinVersion: tls.VersionTLS12}))
	}

	nc, err := nats.Connect(strings.Join(cfg.Server, ","), opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect %v: %w", cfg.Server, err)
	}

	js, err := nc.JetStream(nats.MaxWait(requestTimeout))
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream context: %w", err)
	}

	logger.Debug("nats connected", "servers", cfg.Server)
	return &Conn{nc: nc, js: js, logger: logger}, nil
}

func authOption(auth *config.NATSAuth) (nats.Option, error) {
	switch {
	case auth == nil:
		return nil, nil
	case auth.User != "":
		return nats.UserInfo(auth.User, auth.Password), nil
	case auth.NKey != "":
		kp, err := nkeys.FromSeed([]byte(auth.NKey))
		if err != nil {
			return nil, fmt.Errorf("parse nkey seed: %w", err)
		}
		pub, err := kp.PublicKey()
		if err != nil {
			return nil, fmt.Errorf("nkey public key: %w", err)
		}
		return nats.Nkey(pub, kp.Sign), nil
	case auth.Token != "":
		return nats.Token(auth.Token), nil
	default:
		return nil, nil
	}
}

// Subscribe opens a subscription on subject and delivers messages on
// the returned channel. An empty queue means a plain subscription;
// otherwise the broker load-balances within the queue group. The
// subject must already be templated.
func (c *Conn) Subscribe(subject, queue string) (<-chan *nats.Msg, error) {
	ch := make(chan *nats.Msg, subscriptionBuffer)

	var err error
	if queue == "" {
		_, err = c.nc.ChanSubscribe(subject, ch)
	} else {
		_, err = c.nc.ChanQueueSubscribe(subject, queue, ch)
	}
	if err != nil {
		return nil, fmt.Errorf("subscribe %q (queue %q): %w", subject, queue, err)
	}

	c.logger.Info("subscribed", "subject", subject, "queue", queue)
	return ch, nil
}

// Publish sends payload to subject and waits for the JetStream
// acknowledgement; the send has not happened until the broker confirms
// storage.
func (c *Conn) Publish(subject string, payload []byte) error {
	if _, err := c.js.Publish(subject, payload); err != nil {
		return fmt.Errorf("publish %q: %w", subject, err)
	}
	return nil
}

// Close drains the connection, letting in-flight messages settle.
func (c *Conn) Close() {
	if err := c.nc.Drain(); err != nil {
		c.logger.Warn("nats drain failed", "error", err)
	}
}
