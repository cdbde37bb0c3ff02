package routing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/stretchr/testify/require"

	"github.com/lnrouter/routerd/lntypes"
	"github.com/lnrouter/routerd/lnwire"
	"github.com/lnrouter/routerd/routing/route"
)

// fakeSender is an AttemptSender driven by a per-attempt response function,
// which lets tests script success, failure and blocking behavior without any
// network involvement.
type fakeSender struct {
	mtx   sync.Mutex
	calls []*route.Route

	respond func(ctx context.Context, attempt int,
		rt *route.Route) (lntypes.Preimage, error)
}

func (s *fakeSender) SendAttempt(ctx context.Context, _ lntypes.Hash,
	rt *route.Route) (lntypes.Preimage, error) {

	s.mtx.Lock()
	s.calls = append(s.calls, rt)
	attempt := len(s.calls) - 1
	s.mtx.Unlock()

	return s.respond(ctx, attempt, rt)
}

func (s *fakeSender) numCalls() int {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	return len(s.calls)
}

func (s *fakeSender) call(i int) *route.Route {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	return s.calls[i]
}

// twoPathGraph builds a graph with a cheap path source -> a -> dest over
// channels 1, 2 and an expensive fallback source -> b -> dest over channels
// 3, 4.
func twoPathGraph(t *testing.T) (*ChannelGraph, route.Vertex, route.Vertex,
	route.Vertex, route.Vertex) {

	t.Helper()

	var (
		source = testVertex(1)
		a      = testVertex(2)
		b      = testVertex(3)
		dest   = testVertex(4)
	)

	g := NewChannelGraph()
	addTestChannel(t, g, 1, source, a, testChannelPolicy{
		baseFee: 1, timeLockDelta: 40,
	})
	addTestChannel(t, g, 2, a, dest, testChannelPolicy{
		baseFee: 1, timeLockDelta: 40,
	})
	addTestChannel(t, g, 3, source, b, testChannelPolicy{
		baseFee: 50, timeLockDelta: 40,
	})
	addTestChannel(t, g, 4, b, dest, testChannelPolicy{
		baseFee: 50, timeLockDelta: 40,
	})

	return g, source, a, b, dest
}

// newTestRouter creates and starts a router over the given graph, stopping
// it again on test cleanup.
func newTestRouter(t *testing.T, g *ChannelGraph, source route.Vertex,
	sender AttemptSender, tweak func(*Config)) *ChannelRouter {

	t.Helper()

	cfg := Config{
		SelfNode:   source,
		Graph:      g,
		Sender:     sender,
		Clock:      clock.NewDefaultClock(),
		StatTicker: ticker.NewForce(time.Hour),
	}
	if tweak != nil {
		tweak(&cfg)
	}

	r, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, r.Start())
	t.Cleanup(func() {
		require.NoError(t, r.Stop())
	})

	return r
}

// testPayment builds a payment of 1000 msat to the given destination with
// generous budgets.
func testPayment(dest route.Vertex) *LightningPayment {
	preimage := lntypes.Preimage{1, 2, 3}

	return &LightningPayment{
		Target:      dest,
		Amount:      1000,
		PaymentHash: preimage.Hash(),
		FeeLimit:    1000,
		CltvLimit:   1000,
		Timeout:     time.Minute,
	}
}

// TestSendPaymentSuccess tests the simplest possible payment: the first
// attempt over the cheapest route succeeds.
func TestSendPaymentSuccess(t *testing.T) {
	t.Parallel()

	g, source, _, _, dest := twoPathGraph(t)

	preimage := lntypes.Preimage{1, 2, 3}
	sender := &fakeSender{
		respond: func(_ context.Context, _ int,
			_ *route.Route) (lntypes.Preimage, error) {

			return preimage, nil
		},
	}

	r := newTestRouter(t, g, source, sender, nil)
	payment := testPayment(dest)

	got, err := r.SendPayment(context.Background(), payment)
	require.NoError(t, err)
	require.Equal(t, preimage, got)

	require.Equal(t, 1, sender.numCalls())

	rt := sender.call(0)
	require.EqualValues(t, 1, rt.Hops[0].ChannelID)
	assertRouteWithinBudget(t, rt, payment.FeeLimit, payment.CltvLimit)
}

// TestSendPaymentValidation tests that malformed requests are rejected
// before any attempt is made.
func TestSendPaymentValidation(t *testing.T) {
	t.Parallel()

	g, source, _, _, dest := twoPathGraph(t)

	sender := &fakeSender{
		respond: func(_ context.Context, _ int,
			_ *route.Route) (lntypes.Preimage, error) {

			return lntypes.Preimage{}, nil
		},
	}

	r := newTestRouter(t, g, source, sender, nil)

	payment := testPayment(dest)
	payment.Timeout = 0
	_, err := r.SendPayment(context.Background(), payment)
	require.ErrorIs(t, err, ErrClientConstraint)

	payment = testPayment(dest)
	payment.Amount = 0
	_, err = r.SendPayment(context.Background(), payment)
	require.ErrorIs(t, err, ErrClientConstraint)

	require.Zero(t, sender.numCalls())
}

// TestSendPaymentNoRoute tests that a payment to an unreachable destination
// fails without a network attempt.
func TestSendPaymentNoRoute(t *testing.T) {
	t.Parallel()

	g, source, _, _, _ := twoPathGraph(t)

	sender := &fakeSender{
		respond: func(_ context.Context, _ int,
			_ *route.Route) (lntypes.Preimage, error) {

			return lntypes.Preimage{}, nil
		},
	}

	r := newTestRouter(t, g, source, sender, nil)

	_, err := r.SendPayment(
		context.Background(), testPayment(testVertex(99)),
	)
	require.ErrorIs(t, err, ErrNoRouteFound)
	require.Zero(t, sender.numCalls())
}

// TestSendPaymentUnsatisfiableFirstHop tests that a required outgoing
// channel the source does not have fails the payment immediately.
func TestSendPaymentUnsatisfiableFirstHop(t *testing.T) {
	t.Parallel()

	g, source, _, _, dest := twoPathGraph(t)

	sender := &fakeSender{
		respond: func(_ context.Context, _ int,
			_ *route.Route) (lntypes.Preimage, error) {

			return lntypes.Preimage{}, nil
		},
	}

	r := newTestRouter(t, g, source, sender, nil)

	payment := testPayment(dest)
	payment.OutgoingChannelID = 42

	_, err := r.SendPayment(context.Background(), payment)
	require.ErrorIs(t, err, ErrNoRouteFound)
	require.Zero(t, sender.numCalls())
}

// TestSendPaymentAbortOnFinalHopFailure tests that payment integrity codes
// from the final node terminate the loop with no further attempts, even
// though an alternative path exists.
func TestSendPaymentAbortOnFinalHopFailure(t *testing.T) {
	t.Parallel()

	finalHopCodes := []lnwire.FailCode{
		lnwire.CodeIncorrectOrUnknownPaymentDetails,
		lnwire.CodeFinalIncorrectCltvExpiry,
		lnwire.CodeFinalIncorrectHtlcAmount,
		lnwire.CodeFinalExpiryTooSoon,
	}

	for _, code := range finalHopCodes {
		code := code

		t.Run(code.String(), func(t *testing.T) {
			t.Parallel()

			g, source, _, _, dest := twoPathGraph(t)

			sender := &fakeSender{
				respond: func(_ context.Context, _ int,
					_ *route.Route) (lntypes.Preimage,
					error) {

					return lntypes.Preimage{},
						failureFrom(code, dest)
				},
			}

			r := newTestRouter(t, g, source, sender, nil)

			_, err := r.SendPayment(
				context.Background(), testPayment(dest),
			)

			var failure *lnwire.Failure
			require.ErrorAs(t, err, &failure)
			require.Equal(t, code, failure.Code)

			require.Equal(t, 1, sender.numCalls())
		})
	}
}

// TestSendPaymentPruneAndRetry tests that a transient channel failure
// diverts the next attempt onto the fallback path.
func TestSendPaymentPruneAndRetry(t *testing.T) {
	t.Parallel()

	g, source, a, _, dest := twoPathGraph(t)

	preimage := lntypes.Preimage{1, 2, 3}
	sender := &fakeSender{
		respond: func(_ context.Context, attempt int,
			_ *route.Route) (lntypes.Preimage, error) {

			if attempt == 0 {
				return lntypes.Preimage{}, failureFrom(
					lnwire.CodeTemporaryChannelFailure, a,
				)
			}

			return preimage, nil
		},
	}

	r := newTestRouter(t, g, source, sender, nil)

	got, err := r.SendPayment(context.Background(), testPayment(dest))
	require.NoError(t, err)
	require.Equal(t, preimage, got)

	require.Equal(t, 2, sender.numCalls())

	// The first attempt took the cheap path, the retry avoided the
	// pruned channel and went via the fallback.
	require.EqualValues(t, 1, sender.call(0).Hops[0].ChannelID)
	require.EqualValues(t, 3, sender.call(1).Hops[0].ChannelID)
}

// TestSendPaymentAppliesUpdateAndRetries tests that a policy failure
// carrying a channel update corrects the shared graph and retries the same
// edge with the new parameters instead of pruning it.
func TestSendPaymentAppliesUpdateAndRetries(t *testing.T) {
	t.Parallel()

	g, source, a, _, dest := twoPathGraph(t)

	// The corrected policy raises channel 2's base fee to 10 msat.
	corrected := policyUpdate(2, testChannelPolicy{
		baseFee: 10, timeLockDelta: 40, timestamp: 2,
	})

	preimage := lntypes.Preimage{1, 2, 3}
	sender := &fakeSender{
		respond: func(_ context.Context, attempt int,
			_ *route.Route) (lntypes.Preimage, error) {

			if attempt == 0 {
				failure := failureFrom(
					lnwire.CodeFeeInsufficient, a,
				)
				failure.Update = corrected

				return lntypes.Preimage{}, failure
			}

			return preimage, nil
		},
	}

	r := newTestRouter(t, g, source, sender, nil)

	got, err := r.SendPayment(context.Background(), testPayment(dest))
	require.NoError(t, err)
	require.Equal(t, preimage, got)

	require.Equal(t, 2, sender.numCalls())

	// The retry still used the cheap path, now paying the corrected fee.
	retryRoute := sender.call(1)
	require.EqualValues(t, 1, retryRoute.Hops[0].ChannelID)
	require.EqualValues(t, 11, retryRoute.TotalFees())

	// The correction is visible in the shared graph.
	edge, ok := g.OutgoingEdge(a, 2)
	require.True(t, ok)
	require.EqualValues(t, 10, edge.FeeBaseMSat)
}

// TestSendPaymentAttemptLimit tests the pruning budget: a payment whose
// attempts keep failing without shrinking the candidate set terminates
// after the configured number of attempts.
func TestSendPaymentAttemptLimit(t *testing.T) {
	t.Parallel()

	g, source, a, _, dest := twoPathGraph(t)

	// The stale update is a no-op on the graph, so the failing edge is
	// neither corrected nor pruned and route selection repeats itself.
	stale := policyUpdate(2, testChannelPolicy{
		baseFee: 1, timeLockDelta: 40, timestamp: 1,
	})

	sender := &fakeSender{
		respond: func(_ context.Context, _ int,
			_ *route.Route) (lntypes.Preimage, error) {

			failure := failureFrom(lnwire.CodeFeeInsufficient, a)
			failure.Update = stale

			return lntypes.Preimage{}, failure
		},
	}

	r := newTestRouter(t, g, source, sender, func(cfg *Config) {
		cfg.PayAttemptLimit = 3
	})

	_, err := r.SendPayment(context.Background(), testPayment(dest))
	require.ErrorIs(t, err, ErrPaymentAttemptsExceeded)
	require.Equal(t, 3, sender.numCalls())
}

// TestSendPaymentTimeout tests that a payment whose attempt never resolves
// is cancelled and fails once its deadline fires, and that the payment hash
// lock is released afterwards.
func TestSendPaymentTimeout(t *testing.T) {
	t.Parallel()

	g, source, _, _, dest := twoPathGraph(t)

	cancelled := make(chan struct{})
	sender := &fakeSender{
		respond: func(ctx context.Context, _ int,
			_ *route.Route) (lntypes.Preimage, error) {

			// Never resolve, only honor cancellation.
			<-ctx.Done()
			close(cancelled)

			return lntypes.Preimage{}, ctx.Err()
		},
	}

	r := newTestRouter(t, g, source, sender, nil)

	payment := testPayment(dest)
	payment.Timeout = time.Second

	start := time.Now()
	_, err := r.SendPayment(context.Background(), payment)
	require.ErrorIs(t, err, ErrPaymentTimeout)
	require.Less(t, time.Since(start), 5*time.Second)

	// The in-flight attempt was cancelled rather than abandoned.
	select {
	case <-cancelled:
	case <-time.After(5 * time.Second):
		t.Fatal("in-flight attempt was not cancelled")
	}

	// The lock must be free again for a fresh request.
	require.NoError(t, r.control.lockPayment(payment.PaymentHash))
	r.control.releasePayment(payment.PaymentHash)
}

// TestSendPaymentAlreadyInFlight tests that of two concurrent payments for
// the same hash exactly one proceeds and the other is rejected immediately.
func TestSendPaymentAlreadyInFlight(t *testing.T) {
	t.Parallel()

	g, source, _, _, dest := twoPathGraph(t)

	var (
		started = make(chan struct{})
		release = make(chan struct{})

		preimage = lntypes.Preimage{1, 2, 3}
	)

	sender := &fakeSender{
		respond: func(ctx context.Context, _ int,
			_ *route.Route) (lntypes.Preimage, error) {

			close(started)

			select {
			case <-release:
				return preimage, nil
			case <-ctx.Done():
				return lntypes.Preimage{}, ctx.Err()
			}
		},
	}

	r := newTestRouter(t, g, source, sender, nil)
	payment := testPayment(dest)

	errChan := make(chan error, 1)
	go func() {
		_, err := r.SendPayment(context.Background(), payment)
		errChan <- err
	}()

	// Wait for the first payment to be in flight, then fire the
	// duplicate.
	<-started

	_, err := r.SendPayment(context.Background(), payment)
	require.ErrorIs(t, err, ErrPaymentInFlight)

	// Releasing the first attempt lets the original payment succeed.
	close(release)
	require.NoError(t, <-errChan)
}

// TestSendToRoute tests the single-shot dispatch path: exactly one attempt,
// no retries, the raw failure handed back to the caller.
func TestSendToRoute(t *testing.T) {
	t.Parallel()

	t.Run("success", func(t *testing.T) {
		t.Parallel()

		g, source, _, _, dest := twoPathGraph(t)

		preimage := lntypes.Preimage{1, 2, 3}
		sender := &fakeSender{
			respond: func(_ context.Context, _ int,
				_ *route.Route) (lntypes.Preimage, error) {

				return preimage, nil
			},
		}

		r := newTestRouter(t, g, source, sender, nil)

		rt, err := r.FindRoute(dest, 1000, UnrestrictedParams())
		require.NoError(t, err)

		got, err := r.SendToRoute(
			context.Background(), preimage.Hash(), rt,
		)
		require.NoError(t, err)
		require.Equal(t, preimage, got)
		require.Equal(t, 1, sender.numCalls())
	})

	t.Run("failure is returned raw without retry", func(t *testing.T) {
		t.Parallel()

		g, source, a, _, dest := twoPathGraph(t)

		sender := &fakeSender{
			respond: func(_ context.Context, _ int,
				_ *route.Route) (lntypes.Preimage, error) {

				return lntypes.Preimage{}, failureFrom(
					lnwire.CodeTemporaryChannelFailure, a,
				)
			},
		}

		r := newTestRouter(t, g, source, sender, nil)

		rt, err := r.FindRoute(dest, 1000, UnrestrictedParams())
		require.NoError(t, err)

		preimage := lntypes.Preimage{1, 2, 3}
		hash := preimage.Hash()
		_, err = r.SendToRoute(context.Background(), hash, rt)

		// Even though a fallback path exists, a single-shot dispatch
		// never retries and surfaces the failure itself.
		var failure *lnwire.Failure
		require.ErrorAs(t, err, &failure)
		require.Equal(t, lnwire.CodeTemporaryChannelFailure,
			failure.Code)
		require.Equal(t, 1, sender.numCalls())

		// The lock is released despite the failure.
		require.NoError(t, r.control.lockPayment(hash))
		r.control.releasePayment(hash)
	})

	t.Run("empty route is rejected", func(t *testing.T) {
		t.Parallel()

		g, source, _, _, _ := twoPathGraph(t)

		sender := &fakeSender{
			respond: func(_ context.Context, _ int,
				_ *route.Route) (lntypes.Preimage, error) {

				return lntypes.Preimage{}, nil
			},
		}

		r := newTestRouter(t, g, source, sender, nil)

		preimage := lntypes.Preimage{1}
		hash := preimage.Hash()
		_, err := r.SendToRoute(
			context.Background(), hash, &route.Route{},
		)
		require.ErrorIs(t, err, ErrClientConstraint)
		require.Zero(t, sender.numCalls())
	})
}

// TestEstimateRouteFee tests the dispatch-free cost lower bound.
func TestEstimateRouteFee(t *testing.T) {
	t.Parallel()

	t.Run("three hop scenario", func(t *testing.T) {
		t.Parallel()

		g, source, dest := threeHopGraph(t)

		sender := &fakeSender{
			respond: func(_ context.Context, _ int,
				_ *route.Route) (lntypes.Preimage, error) {

				return lntypes.Preimage{}, nil
			},
		}

		r := newTestRouter(t, g, source, sender, nil)

		fee, timeLock, err := r.EstimateRouteFee(dest, 100000000)
		require.NoError(t, err)
		require.EqualValues(t, 17, fee)
		require.EqualValues(t, 89, timeLock)

		// Estimation never dispatches.
		require.Zero(t, sender.numCalls())
	})

	t.Run("disabled-only path yields no estimate", func(t *testing.T) {
		t.Parallel()

		var (
			source = testVertex(1)
			dest   = testVertex(2)
		)

		g := NewChannelGraph()
		addTestChannel(t, g, 1, source, dest, testChannelPolicy{
			baseFee: 1, timeLockDelta: 40, disabled: true,
		})

		sender := &fakeSender{
			respond: func(_ context.Context, _ int,
				_ *route.Route) (lntypes.Preimage, error) {

				return lntypes.Preimage{}, nil
			},
		}

		r := newTestRouter(t, g, source, sender, nil)

		_, _, err := r.EstimateRouteFee(dest, 1000)
		require.ErrorIs(t, err, ErrNoRouteFound)
	})
}

// TestSendPaymentAuthorizerRejection tests that a wallet refusing to commit
// funds terminates the payment before dispatch.
func TestSendPaymentAuthorizerRejection(t *testing.T) {
	t.Parallel()

	g, source, _, _, dest := twoPathGraph(t)

	sender := &fakeSender{
		respond: func(_ context.Context, _ int,
			_ *route.Route) (lntypes.Preimage, error) {

			return lntypes.Preimage{}, nil
		},
	}

	refused := errors.New("insufficient confirmed balance")

	r := newTestRouter(t, g, source, sender, func(cfg *Config) {
		cfg.Authorizer = authorizerFunc(func(_ lntypes.Hash,
			_ lnwire.MilliSatoshi) error {

			return refused
		})
	})

	_, err := r.SendPayment(context.Background(), testPayment(dest))
	require.ErrorIs(t, err, refused)
	require.Zero(t, sender.numCalls())
}

// authorizerFunc adapts a func to the PaymentAuthorizer interface.
type authorizerFunc func(lntypes.Hash, lnwire.MilliSatoshi) error

func (f authorizerFunc) AuthorizeAttempt(hash lntypes.Hash,
	amt lnwire.MilliSatoshi) error {

	return f(hash, amt)
}
