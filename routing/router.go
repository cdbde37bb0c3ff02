package routing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/davecgh/go-spew/spew"
	goerrors "github.com/go-errors/errors"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/ticker"

	"github.com/lnrouter/routerd/lntypes"
	"github.com/lnrouter/routerd/lnwire"
	"github.com/lnrouter/routerd/routing/route"
)

const (
	// DefaultPayAttemptLimit is the default pruning budget of a payment:
	// the number of failed attempts after which the loop gives up even
	// if time remains on its deadline.
	DefaultPayAttemptLimit = 10

	// DefaultStatInterval is the default interval at which the router
	// logs a summary of its activity.
	DefaultStatInterval = time.Minute
)

// AttemptSender is the boundary to the onion/transport layer. It sends the
// HTLC set of a single route towards the destination and blocks until the
// attempt resolves with a preimage or a failure signal. Implementations must
// honor cancellation of the passed context promptly so the payment deadline
// can abort an attempt mid-flight.
type AttemptSender interface {
	// SendAttempt dispatches one payment attempt over the given route.
	// A remote failure is returned as an *lnwire.Failure error value.
	SendAttempt(ctx context.Context, paymentHash lntypes.Hash,
		rt *route.Route) (lntypes.Preimage, error)
}

// PaymentAuthorizer is the boundary to the wallet/settlement layer. It is
// consulted before each attempt to confirm that funds covering the
// attempt's total amount may be committed.
type PaymentAuthorizer interface {
	// AuthorizeAttempt confirms that the wallet is willing to commit the
	// given amount, fees included, for an attempt of this payment.
	AuthorizeAttempt(paymentHash lntypes.Hash,
		totalAmt lnwire.MilliSatoshi) error
}

// LightningPayment describes a payment to be routed to a destination.
type LightningPayment struct {
	// Target is the node the payment should be delivered to.
	Target route.Vertex

	// Amount is the value of the payment in milli-satoshis.
	Amount lnwire.MilliSatoshi

	// PaymentHash is the r-hash value to use within the HTLC extended to
	// the first hop. It uniquely identifies the payment.
	PaymentHash lntypes.Hash

	// FeeLimit is the maximum total fee the payment may incur across
	// all hops. Routes costing more are never attempted.
	FeeLimit lnwire.MilliSatoshi

	// CltvLimit is the maximum total time lock delta the payment may
	// accumulate across all hops.
	CltvLimit uint32

	// Timeout is the wall clock budget for the whole attempt loop. Once
	// exceeded, any outstanding attempt is cancelled and the payment
	// fails with ErrPaymentTimeout.
	Timeout time.Duration

	// OutgoingChannelID optionally restricts the first hop of every
	// attempted route to the given channel. Zero means unconstrained.
	OutgoingChannelID uint64
}

// validate rejects parameter combinations that can never produce an
// attempt.
func (p *LightningPayment) validate() error {
	if p.Timeout <= 0 {
		return fmt.Errorf("%w: timeout must be positive, got %v",
			ErrClientConstraint, p.Timeout)
	}
	if p.Amount == 0 {
		return fmt.Errorf("%w: zero payment amount",
			ErrClientConstraint)
	}

	return nil
}

// Config houses the dependencies and tunables of a ChannelRouter.
type Config struct {
	// SelfNode is the identity of the node the router dispatches from.
	// Every route starts here.
	SelfNode route.Vertex

	// Graph is the shared channel graph route selection runs over.
	Graph *ChannelGraph

	// Sender delivers individual attempts to the network.
	Sender AttemptSender

	// Authorizer, if set, is consulted before funds are committed to an
	// attempt.
	Authorizer PaymentAuthorizer

	// Bandwidth, if set, reports the spendable balance of our own
	// channels so route selection skips first hops that cannot carry the
	// payment regardless of their advertised policy.
	Bandwidth BandwidthHints

	// Clock provides the time source for payment deadlines.
	Clock clock.Clock

	// PayAttemptLimit bounds the number of failed attempts per payment.
	// Zero selects DefaultPayAttemptLimit.
	PayAttemptLimit int

	// StatTicker triggers the periodic activity log line. Nil selects a
	// ticker at DefaultStatInterval.
	StatTicker ticker.Ticker
}

// routerStats tracks the router's activity since the last stat interval.
type routerStats struct {
	mtx sync.Mutex

	attemptsSent     uint64
	paymentsSent     uint64
	paymentsFailed   uint64
	paymentsTimedOut uint64
}

func (s *routerStats) incAttemptsSent() {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.attemptsSent++
}

func (s *routerStats) incPaymentsSent() {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.paymentsSent++
}

func (s *routerStats) incPaymentsFailed() {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.paymentsFailed++
}

func (s *routerStats) incPaymentsTimedOut() {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.paymentsTimedOut++
}

// Empty returns true if no payment activity was recorded since the last
// reset.
func (s *routerStats) Empty() bool {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	return s.attemptsSent == 0 && s.paymentsSent == 0 &&
		s.paymentsFailed == 0 && s.paymentsTimedOut == 0
}

// Reset zeroes all counters and returns a summary of the previous window.
func (s *routerStats) Reset() string {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	summary := fmt.Sprintf("attempts=%v, succeeded=%v, failed=%v, "+
		"timed_out=%v", s.attemptsSent, s.paymentsSent,
		s.paymentsFailed, s.paymentsTimedOut)

	s.attemptsSent = 0
	s.paymentsSent = 0
	s.paymentsFailed = 0
	s.paymentsTimedOut = 0

	return summary
}

// ChannelRouter converts payment intents into route attempts. It owns the
// per-payment state machines, interprets remote failures and enforces the
// wall clock deadline of every payment. Payments for distinct hashes proceed
// concurrently; the shared channel graph is the only state they exchange.
type ChannelRouter struct {
	started int32 // To be used atomically.
	stopped int32 // To be used atomically.

	cfg *Config

	control *paymentControl

	stats routerStats

	wg   sync.WaitGroup
	quit chan struct{}
}

// attemptResult couples the outcome values of a single dispatched attempt.
type attemptResult struct {
	preimage lntypes.Preimage
	err      error
}

// New creates a ChannelRouter from the given config.
func New(cfg Config) (*ChannelRouter, error) {
	if cfg.Graph == nil {
		return nil, goerrors.New("router requires a channel graph")
	}
	if cfg.Sender == nil {
		return nil, goerrors.New("router requires an attempt sender")
	}

	if cfg.Clock == nil {
		cfg.Clock = clock.NewDefaultClock()
	}
	if cfg.PayAttemptLimit == 0 {
		cfg.PayAttemptLimit = DefaultPayAttemptLimit
	}
	if cfg.StatTicker == nil {
		cfg.StatTicker = ticker.New(DefaultStatInterval)
	}

	return &ChannelRouter{
		cfg:     &cfg,
		control: newPaymentControl(),
		quit:    make(chan struct{}),
	}, nil
}

// Start launches the router's background goroutines.
func (r *ChannelRouter) Start() error {
	if !atomic.CompareAndSwapInt32(&r.started, 0, 1) {
		return nil
	}

	log.Tracef("Channel router starting")

	r.wg.Add(1)
	go r.statLoop()

	return nil
}

// Stop signals all in-flight payments to abort and waits for them to exit.
func (r *ChannelRouter) Stop() error {
	if !atomic.CompareAndSwapInt32(&r.stopped, 0, 1) {
		return nil
	}

	log.Tracef("Channel router shutting down")

	close(r.quit)
	r.wg.Wait()

	return nil
}

// statLoop periodically logs a summary line of payment activity.
func (r *ChannelRouter) statLoop() {
	defer r.wg.Done()
	defer r.cfg.StatTicker.Stop()

	r.cfg.StatTicker.Resume()

	for {
		select {
		case <-r.cfg.StatTicker.Ticks():
			if r.stats.Empty() {
				continue
			}

			log.Infof("Router activity: %v", r.stats.Reset())

		case <-r.quit:
			return
		}
	}
}

// FindRoute returns a route from this node to the target that carries the
// given amount and satisfies the passed restrictions.
func (r *ChannelRouter) FindRoute(target route.Vertex,
	amt lnwire.MilliSatoshi, restrict *RestrictParams) (*route.Route,
	error) {

	return findPath(
		r.cfg.Graph, r.cfg.SelfNode, target, amt, restrict,
		r.cfg.Bandwidth,
	)
}

// EstimateRouteFee returns a lower bound for the routing fee of a payment to
// the target along with the worst case time lock delay of that route, both
// computed without dispatching anything. The destination's own final hop
// cltv delta is not included; the caller adds it.
func (r *ChannelRouter) EstimateRouteFee(target route.Vertex,
	amt lnwire.MilliSatoshi) (lnwire.MilliSatoshi, uint32, error) {

	rt, err := findPath(
		r.cfg.Graph, r.cfg.SelfNode, target, amt,
		UnrestrictedParams(), r.cfg.Bandwidth,
	)
	if err != nil {
		return 0, 0, err
	}

	return rt.TotalFees(), rt.TotalTimeLock, nil
}

// SendPayment drives the full attempt loop for a payment: route selection,
// dispatch, failure interpretation and retries, all bounded by the
// payment's fee, cltv and wall clock budgets. It blocks until the payment
// reaches a terminal state. The payment hash lock is released on every exit
// path, so a fresh request for the same hash may follow any outcome.
func (r *ChannelRouter) SendPayment(ctx context.Context,
	payment *LightningPayment) (lntypes.Preimage, error) {

	if err := payment.validate(); err != nil {
		return lntypes.Preimage{}, err
	}

	if err := r.control.lockPayment(payment.PaymentHash); err != nil {
		return lntypes.Preimage{}, err
	}
	defer r.control.releasePayment(payment.PaymentHash)

	log.Infof("Dispatching payment %v: amt=%v, fee_limit=%v, "+
		"cltv_limit=%v, timeout=%v", payment.PaymentHash,
		payment.Amount, payment.FeeLimit, payment.CltvLimit,
		payment.Timeout)

	return r.sendPayment(ctx, payment)
}

// sendPayment runs the attempt loop with the payment lock already held.
func (r *ChannelRouter) sendPayment(ctx context.Context,
	payment *LightningPayment) (lntypes.Preimage, error) {

	var (
		sm            paymentStateMachine
		excludedEdges = make(map[uint64]struct{})
		excludedNodes = make(map[route.Vertex]struct{})
	)

	deadline := r.cfg.Clock.Now().Add(payment.Timeout)
	attemptsLeft := r.cfg.PayAttemptLimit

	for {
		// The deadline is checked at every loop boundary so that a
		// payment never selects a route it has no time to try.
		remaining := deadline.Sub(r.cfg.Clock.Now())
		if remaining <= 0 {
			_ = sm.transitionTo(StateTimedOut)
			r.stats.incPaymentsTimedOut()

			return lntypes.Preimage{}, ErrPaymentTimeout
		}

		// The pruning budget bounds the loop independently of the
		// deadline, protecting against graphs that keep yielding
		// fresh candidate routes.
		if attemptsLeft <= 0 {
			_ = sm.transitionTo(StateTerminalFailure)
			r.stats.incPaymentsFailed()

			return lntypes.Preimage{}, ErrPaymentAttemptsExceeded
		}

		rt, err := findPath(
			r.cfg.Graph, r.cfg.SelfNode, payment.Target,
			payment.Amount, &RestrictParams{
				FeeLimit:          payment.FeeLimit,
				CltvLimit:         payment.CltvLimit,
				ExcludedEdges:     excludedEdges,
				ExcludedNodes:     excludedNodes,
				OutgoingChannelID: payment.OutgoingChannelID,
			},
			r.cfg.Bandwidth,
		)
		if err != nil {
			_ = sm.transitionTo(StateTerminalFailure)
			r.stats.incPaymentsFailed()

			return lntypes.Preimage{}, err
		}

		if err := sm.transitionTo(StateRouteSelected); err != nil {
			return lntypes.Preimage{}, goerrors.Wrap(err, 0)
		}

		if r.cfg.Authorizer != nil {
			err := r.cfg.Authorizer.AuthorizeAttempt(
				payment.PaymentHash, rt.TotalAmount,
			)
			if err != nil {
				_ = sm.transitionTo(StateTerminalFailure)
				r.stats.incPaymentsFailed()

				return lntypes.Preimage{}, fmt.Errorf(
					"attempt not authorized: %w", err)
			}
		}

		if err := sm.transitionTo(StateAttempting); err != nil {
			return lntypes.Preimage{}, goerrors.Wrap(err, 0)
		}

		log.Debugf("Attempting payment %v over route: %v",
			payment.PaymentHash, newLogClosure(func() string {
				return spew.Sdump(rt)
			}))

		attemptsLeft--

		preimage, err := r.dispatchAttempt(
			ctx, payment.PaymentHash, rt, remaining,
		)
		if err == nil {
			_ = sm.transitionTo(StateSucceeded)
			r.stats.incPaymentsSent()

			log.Infof("Payment %v succeeded, fees=%v",
				payment.PaymentHash, rt.TotalFees())

			return preimage, nil
		}

		if errors.Is(err, ErrPaymentTimeout) {
			_ = sm.transitionTo(StateTimedOut)
			r.stats.incPaymentsTimedOut()

			return lntypes.Preimage{}, ErrPaymentTimeout
		}

		// Anything other than a remote failure signal cannot be
		// interpreted and terminates the payment: shutdown, caller
		// cancellation or a transport defect.
		var failure *lnwire.Failure
		if !errors.As(err, &failure) {
			_ = sm.transitionTo(StateTerminalFailure)
			r.stats.incPaymentsFailed()

			return lntypes.Preimage{}, err
		}

		res, err := interpretResult(rt, failure)
		if err != nil {
			_ = sm.transitionTo(StateTerminalFailure)
			r.stats.incPaymentsFailed()

			return lntypes.Preimage{}, err
		}

		if res.abort {
			_ = sm.transitionTo(StateTerminalFailure)
			r.stats.incPaymentsFailed()

			log.Infof("Payment %v failed terminally: %v",
				payment.PaymentHash, failure)

			return lntypes.Preimage{}, failure
		}

		switch {
		// A corrected policy is written to the shared graph so all
		// payments benefit, and the edge stays eligible for this
		// payment's next attempt.
		case res.graphUpdate != nil:
			err := r.cfg.Graph.ApplyUpdate(res.graphUpdate)
			if err != nil {
				// Without the correction the edge would fail
				// the same way again, so fall back to
				// pruning it.
				log.Warnf("Unable to apply update from "+
					"failure: %v", err)

				chanID := res.graphUpdate.ShortChannelID
				excludedEdges[chanID.ToUint64()] = struct{}{}
			}

		case res.pruneEdge != nil:
			log.Debugf("Pruning channel %v for payment %v",
				lnwire.NewShortChanIDFromInt(*res.pruneEdge),
				payment.PaymentHash)

			excludedEdges[*res.pruneEdge] = struct{}{}

		case res.pruneNode != nil:
			log.Debugf("Pruning node %v for payment %v",
				*res.pruneNode, payment.PaymentHash)

			excludedNodes[*res.pruneNode] = struct{}{}
		}

		if err := sm.transitionTo(StateRetryableFailure); err != nil {
			return lntypes.Preimage{}, goerrors.Wrap(err, 0)
		}
	}
}

// SendToRoute dispatches the caller supplied route exactly once and returns
// the preimage or the raw failure signal. No retries are made, no routes are
// computed and no pruning takes place; the caller bears full responsibility
// for the route. A per-call timeout is honored through the passed context.
func (r *ChannelRouter) SendToRoute(ctx context.Context,
	paymentHash lntypes.Hash, rt *route.Route) (lntypes.Preimage, error) {

	if len(rt.Hops) == 0 {
		return lntypes.Preimage{}, fmt.Errorf("%w: empty route",
			ErrClientConstraint)
	}

	if err := r.control.lockPayment(paymentHash); err != nil {
		return lntypes.Preimage{}, err
	}
	defer r.control.releasePayment(paymentHash)

	if r.cfg.Authorizer != nil {
		err := r.cfg.Authorizer.AuthorizeAttempt(
			paymentHash, rt.TotalAmount,
		)
		if err != nil {
			return lntypes.Preimage{}, fmt.Errorf(
				"attempt not authorized: %w", err)
		}
	}

	log.Debugf("Dispatching single-shot payment %v over route: %v",
		paymentHash, newLogClosure(func() string {
			return spew.Sdump(rt)
		}))

	resultChan := make(chan attemptResult, 1)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		preimage, err := r.cfg.Sender.SendAttempt(
			ctx, paymentHash, rt,
		)
		resultChan <- attemptResult{preimage: preimage, err: err}
	}()

	r.stats.incAttemptsSent()

	select {
	case res := <-resultChan:
		if res.err == nil {
			r.stats.incPaymentsSent()
		} else {
			r.stats.incPaymentsFailed()
		}

		return res.preimage, res.err

	case <-ctx.Done():
		return lntypes.Preimage{}, ctx.Err()

	case <-r.quit:
		return lntypes.Preimage{}, ErrRouterShuttingDown
	}
}

// dispatchAttempt sends one attempt and waits for its resolution, the
// expiry of the payment deadline, caller cancellation or shutdown,
// whichever happens first. The attempt's context is cancelled on every
// non-result outcome so the transport stops working on it promptly.
func (r *ChannelRouter) dispatchAttempt(ctx context.Context,
	paymentHash lntypes.Hash, rt *route.Route,
	timeout time.Duration) (lntypes.Preimage, error) {

	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	resultChan := make(chan attemptResult, 1)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		preimage, err := r.cfg.Sender.SendAttempt(
			attemptCtx, paymentHash, rt,
		)
		resultChan <- attemptResult{preimage: preimage, err: err}
	}()

	r.stats.incAttemptsSent()

	select {
	case res := <-resultChan:
		return res.preimage, res.err

	case <-r.cfg.Clock.TickAfter(timeout):
		return lntypes.Preimage{}, ErrPaymentTimeout

	case <-ctx.Done():
		return lntypes.Preimage{}, ctx.Err()

	case <-r.quit:
		return lntypes.Preimage{}, ErrRouterShuttingDown
	}
}
