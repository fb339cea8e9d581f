// Package forward fans validated frames out to consumers. Every consumer
// runs on its own lane so a slow or dead sink never delays the others.
package forward

import (
	"context"
	"errors"

	"github.com/danmuck/adsbridge/internal/validator"
)

var (
	ErrConsumerDown       = errors.New("forward: consumer down")
	ErrNotReconnectable   = errors.New("forward: consumer cannot reconnect")
	ErrDuplicateConsumer  = errors.New("forward: duplicate consumer name")
	ErrForwarderClosed    = errors.New("forward: forwarder closed")
	ErrConsumerNotFound   = errors.New("forward: consumer not found")
	ErrReconnectExhausted = errors.New("forward: reconnect attempts exhausted")
)

// Consumer is a frame sink. Render is only called from the consumer's lane
// goroutine; Reconnect only from its reconnect task. Implementations guard
// shared connection state with their own lock.
type Consumer interface {
	Name() string
	Render(ctx context.Context, f *validator.ValidatedFrame) error
	Alive() bool
	// Reconnect re-establishes the sink. Return ErrNotReconnectable for
	// sinks that should be dropped once they fail.
	Reconnect(ctx context.Context) error
	Close() error
}
