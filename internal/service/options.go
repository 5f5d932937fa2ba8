package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// DefaultStorageTimeout bounds every repository call made by a service.
const DefaultStorageTimeout = 3 * time.Second

// Option configures the ambient dependencies shared by every service
type Option func(*options)

type options struct {
	now            func() time.Time
	logger         zerolog.Logger
	storageTimeout time.Duration
}

func newOptions(opts []Option) options {
	o := options{
		now:            time.Now,
		logger:         zerolog.Nop(),
		storageTimeout: DefaultStorageTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithClock sets the time source (primarily for testing)
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// WithLogger sets the logger services write rejection reasons and storage failures to
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithStorageTimeout overrides DefaultStorageTimeout
func WithStorageTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.storageTimeout = d
		}
	}
}

func (o options) storageCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, o.storageTimeout)
}

// prefix shortens a secret value for logging
func prefix(s string) string {
	const n = 6
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
