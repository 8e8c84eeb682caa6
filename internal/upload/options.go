package upload

import (
	"io"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Options configures a Scheduler
type Options struct {
	Notifier Notifier
	Logger   *slog.Logger

	// MaxConcurrentParts caps the part transfers in flight per session.
	// Zero dispatches every part at once.
	MaxConcurrentParts int

	// PartRetries is how many times a failed part is sent again before the
	// session is abandoned
	PartRetries int

	// Backoff builds the delay policy used between part retries
	Backoff func() backoff.BackOff
}

// Option is a functional option for NewScheduler
type Option func(*Options)

const DefaultPartRetries = 3

func defaultOptions() Options {
	return Options{
		PartRetries: DefaultPartRetries,
		Backoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxInterval = 5 * time.Second
			b.MaxElapsedTime = 0
			return b
		},
	}
}

// WithNotifier sets the event receiver
func WithNotifier(n Notifier) Option {
	return func(o *Options) {
		o.Notifier = n
	}
}

// WithLogger sets the structured logger. Nil discards logs.
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = l
	}
}

// WithMaxConcurrentParts caps concurrent part transfers per session
func WithMaxConcurrentParts(n int) Option {
	return func(o *Options) {
		if n >= 0 {
			o.MaxConcurrentParts = n
		}
	}
}

// WithPartRetries sets the number of automatic redrives of a failed part.
// Zero disables redrive.
func WithPartRetries(n int) Option {
	return func(o *Options) {
		if n >= 0 {
			o.PartRetries = n
		}
	}
}

// WithBackoff sets the delay policy between part retries
func WithBackoff(factory func() backoff.BackOff) Option {
	return func(o *Options) {
		if factory != nil {
			o.Backoff = factory
		}
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
