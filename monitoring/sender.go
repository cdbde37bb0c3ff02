package monitoring

import (
	"context"
	"time"

	"github.com/lnrouter/routerd/lntypes"
	"github.com/lnrouter/routerd/routing"
	"github.com/lnrouter/routerd/routing/route"
)

// InstrumentedSender decorates an AttemptSender with attempt counting and
// latency observation. It forwards every call unchanged.
type InstrumentedSender struct {
	wrapped routing.AttemptSender
}

// NewInstrumentedSender wraps the given sender.
func NewInstrumentedSender(sender routing.AttemptSender) *InstrumentedSender {
	return &InstrumentedSender{wrapped: sender}
}

// SendAttempt implements routing.AttemptSender.
func (s *InstrumentedSender) SendAttempt(ctx context.Context,
	paymentHash lntypes.Hash, rt *route.Route) (lntypes.Preimage, error) {

	attemptsQuantity.Inc()

	start := time.Now()
	defer func() {
		attemptLatency.Observe(time.Since(start).Seconds())
	}()

	return s.wrapped.SendAttempt(ctx, paymentHash, rt)
}
