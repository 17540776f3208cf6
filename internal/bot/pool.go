// Package bot implements the two chat roles: the reader delivers bus
// messages into chats, the writer turns chat updates into bus
// envelopes.
package bot

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/go-telegram/bot"
)

// Pool holds one bot handle per configured token and hands them out
// round-robin, spreading sends across tokens to amortise provider
// rate limits.
type Pool struct {
	bots []*bot.Bot
	next atomic.Uint64
}

// NewPool creates one bot per token. Any token the provider rejects is
// fatal.
func NewPool(tokens []string, opts ...bot.Option) (*Pool, error) {
	if len(tokens) == 0 {
		return nil, fmt.Errorf("no bot tokens configured")
	}
	p := &Pool{}
	for _, token := range tokens {
		b, err := bot.New(token, opts...)
		if err != nil {
			return nil, fmt.Errorf("create bot: %w", err)
		}
		p.bots = append(p.bots, b)
	}
	return p, nil
}

// Next returns the next bot in round-robin order.
func (p *Pool) Next() *bot.Bot {
	return p.bots[(p.next.Add(1)-1)%uint64(len(p.bots))]
}

// Start begins long polling on every bot and returns immediately; the
// pollers stop when ctx is cancelled.
func (p *Pool) Start(ctx context.Context) {
	for _, b := range p.bots {
		go b.Start(ctx)
	}
}
