package routing

import (
	"sync"

	"github.com/lnrouter/routerd/lntypes"
)

// paymentControl enforces at most one active attempt loop per payment hash.
// A second dispatch for a hash that is already held is rejected immediately
// rather than queued or merged, so a caller always knows whether its request
// is the one driving the payment.
type paymentControl struct {
	mtx      sync.Mutex
	inFlight map[lntypes.Hash]struct{}
}

// newPaymentControl creates an empty payment lock registry.
func newPaymentControl() *paymentControl {
	return &paymentControl{
		inFlight: make(map[lntypes.Hash]struct{}),
	}
}

// lockPayment acquires the payment lock for the given hash, or returns
// ErrPaymentInFlight if another attempt loop currently holds it.
func (p *paymentControl) lockPayment(hash lntypes.Hash) error {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	if _, ok := p.inFlight[hash]; ok {
		return ErrPaymentInFlight
	}

	p.inFlight[hash] = struct{}{}

	return nil
}

// releasePayment releases the payment lock for the given hash. It must be
// called on every exit path of an attempt loop, whichever terminal state was
// reached.
func (p *paymentControl) releasePayment(hash lntypes.Hash) {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	delete(p.inFlight, hash)
}
