// Package poller settles pending instant-transfer payments by polling the
// provider server-side. One Watch goroutine per payment, bounded in time and
// cancellable through its context.
package poller

import (
	"context"
	"log/slog"
	"time"

	"confreg/internal/registration/models"
)

const (
	// DefaultInterval and DefaultMaxAttempts bound a watch at roughly ten
	// minutes, the window the provider holds an unpaid transfer open.
	DefaultInterval    = 3 * time.Second
	DefaultMaxAttempts = 200
)

// StatusRefresher queries the provider and applies the resulting transition.
type StatusRefresher interface {
	RefreshFromGateway(ctx context.Context, gatewayID string) (*models.Payment, error)
}

// Poller drives the poll loop for payments awaiting settlement.
type Poller struct {
	refresher   StatusRefresher
	interval    time.Duration
	maxAttempts int
	logger      *slog.Logger
}

type Option func(p *Poller)

func WithInterval(interval time.Duration) Option {
	return func(p *Poller) {
		if interval > 0 {
			p.interval = interval
		}
	}
}

func WithMaxAttempts(attempts int) Option {
	return func(p *Poller) {
		if attempts > 0 {
			p.maxAttempts = attempts
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Poller) {
		p.logger = logger
	}
}

// New constructs a Poller.
func New(refresher StatusRefresher, opts ...Option) *Poller {
	p := &Poller{
		refresher:   refresher,
		interval:    DefaultInterval,
		maxAttempts: DefaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Watch polls the provider until the payment reaches a terminal state, the
// attempt bound is exhausted, or ctx is cancelled. It returns the last
// observed payment; a nil payment with nil error means the row disappeared
// or every refresh attempt failed.
//
// Refresh errors are logged and retried on the next tick rather than
// aborting the watch; transient provider hiccups should not strand a
// payment.
func (p *Poller) Watch(ctx context.Context, gatewayID string) (*models.Payment, error) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	var last *models.Payment
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		payment, err := p.refresher.RefreshFromGateway(ctx, gatewayID)
		if err != nil {
			p.logWarn(ctx, "payment status refresh failed",
				"gateway_id", gatewayID, "attempt", attempt, "error", err)
		} else if payment != nil {
			last = payment
			if payment.State.IsTerminal() {
				p.logInfo(ctx, "payment settled",
					"gateway_id", gatewayID, "state", payment.State, "attempts", attempt)
				return payment, nil
			}
		}

		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-ticker.C:
		}
	}

	p.logInfo(ctx, "payment watch exhausted without settlement",
		"gateway_id", gatewayID, "attempts", p.maxAttempts)
	return last, nil
}

// WatchAsync runs Watch in its own goroutine. The returned cancel function
// stops the watch; callers that outlive the watch should still cancel to
// release the context.
func (p *Poller) WatchAsync(ctx context.Context, gatewayID string) context.CancelFunc {
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		defer cancel()
		_, _ = p.Watch(ctx, gatewayID)
	}()
	return cancel
}

func (p *Poller) logInfo(ctx context.Context, msg string, args ...any) {
	if p.logger != nil {
		p.logger.InfoContext(ctx, msg, args...)
	}
}

func (p *Poller) logWarn(ctx context.Context, msg string, args ...any) {
	if p.logger != nil {
		p.logger.WarnContext(ctx, msg, args...)
	}
}
