package routing

import "errors"

var (
	// ErrNoRouteFound is returned when the router is unable to find a
	// path between the source and destination that satisfies the fee,
	// time lock and exclusion constraints of the payment.
	ErrNoRouteFound = errors.New("unable to find a path to destination")

	// ErrPaymentInFlight is returned when a payment for the same payment
	// hash already has an active attempt loop. The caller must wait for
	// the in-flight payment to reach a terminal state before retrying.
	ErrPaymentInFlight = errors.New("payment with hash already in flight")

	// ErrPaymentTimeout is returned when a payment's deadline fires
	// before any attempt succeeds. Any outstanding attempt is cancelled
	// before this error is returned.
	ErrPaymentTimeout = errors.New("payment attempt not completed " +
		"before timeout")

	// ErrPaymentAttemptsExceeded is returned when the payment's pruning
	// budget runs out before a route succeeds.
	ErrPaymentAttemptsExceeded = errors.New("payment attempt limit " +
		"exceeded")

	// ErrClientConstraint is returned for requests that fail validation
	// before a single route is attempted: malformed or expired payment
	// requests, non-positive timeouts and unsatisfiable channel
	// constraints.
	ErrClientConstraint = errors.New("invalid payment parameters")

	// ErrRouterShuttingDown is returned when a payment is interrupted by
	// the router shutting down.
	ErrRouterShuttingDown = errors.New("router shutting down")
)
