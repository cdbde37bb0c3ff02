package routing

import "fmt"

// PaymentState represents the current position of a payment within its
// attempt loop.
type PaymentState uint8

const (
	// StateInitiated is the state of a payment that has passed
	// validation but has not yet selected a route.
	StateInitiated PaymentState = iota

	// StateRouteSelected is the state of a payment that holds a route
	// satisfying its remaining budget.
	StateRouteSelected

	// StateAttempting is the state of a payment with an htlc in flight
	// towards the destination.
	StateAttempting

	// StateSucceeded is the terminal state of a payment whose preimage
	// was obtained.
	StateSucceeded

	// StateRetryableFailure is the state of a payment whose last attempt
	// failed in a way that permits another route to be tried.
	StateRetryableFailure

	// StateTerminalFailure is the terminal state of a payment that can
	// no longer succeed: the destination rejected it, no viable routes
	// remain, or the pruning budget ran out.
	StateTerminalFailure

	// StateTimedOut is the terminal state of a payment whose deadline
	// fired before an attempt succeeded.
	StateTimedOut
)

// String returns a readable representation of the payment state.
func (s PaymentState) String() string {
	switch s {
	case StateInitiated:
		return "Initiated"

	case StateRouteSelected:
		return "RouteSelected"

	case StateAttempting:
		return "Attempting"

	case StateSucceeded:
		return "Succeeded"

	case StateRetryableFailure:
		return "RetryableFailure"

	case StateTerminalFailure:
		return "TerminalFailure"

	case StateTimedOut:
		return "TimedOut"

	default:
		return fmt.Sprintf("Unknown(%d)", uint8(s))
	}
}

// Terminal reports whether the state permits no further transitions.
func (s PaymentState) Terminal() bool {
	switch s {
	case StateSucceeded, StateTerminalFailure, StateTimedOut:
		return true
	default:
		return false
	}
}

// validTransitions enumerates the permitted transitions of the payment state
// machine. Timing out is permitted from any non-terminal state because the
// deadline is checked at every loop boundary.
var validTransitions = map[PaymentState][]PaymentState{
	StateInitiated: {
		StateRouteSelected, StateTerminalFailure, StateTimedOut,
	},
	StateRouteSelected: {
		StateAttempting, StateTerminalFailure, StateTimedOut,
	},
	StateAttempting: {
		StateSucceeded, StateRetryableFailure, StateTerminalFailure,
		StateTimedOut,
	},
	StateRetryableFailure: {
		StateRouteSelected, StateTerminalFailure, StateTimedOut,
	},
}

// paymentStateMachine tracks a single payment through its attempt loop and
// rejects transitions outside the table above. A rejected transition is an
// internal inconsistency, not a routing condition.
type paymentStateMachine struct {
	state PaymentState
}

// transitionTo advances the state machine to the next state, or errors if
// the transition is not permitted from the current state.
func (p *paymentStateMachine) transitionTo(next PaymentState) error {
	for _, allowed := range validTransitions[p.state] {
		if allowed == next {
			p.state = next
			return nil
		}
	}

	return fmt.Errorf("invalid payment state transition %v -> %v",
		p.state, next)
}
