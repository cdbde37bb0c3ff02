package routing

import (
	"github.com/lnrouter/routerd/lnwire"
)

// BandwidthHints provides hints about the currently available balance in our
// own channels. An advertised policy only bounds what a channel could carry
// at full capacity; the hint reflects what the local side can actually send
// right now, so route selection does not pick first hops that are bound to
// fail locally.
type BandwidthHints interface {
	// AvailableChanBandwidth returns the total available bandwidth for a
	// channel and a bool indicating whether the channel hint was found.
	// Where no hint exists the advertised policy is the only bound.
	AvailableChanBandwidth(channelID uint64) (lnwire.MilliSatoshi, bool)
}

// StaticBandwidthHints is a fixed per-channel balance table implementing
// BandwidthHints.
type StaticBandwidthHints struct {
	balances map[uint64]lnwire.MilliSatoshi
}

// NewStaticBandwidthHints wraps the given balance table in the
// BandwidthHints interface.
func NewStaticBandwidthHints(
	balances map[uint64]lnwire.MilliSatoshi) *StaticBandwidthHints {

	return &StaticBandwidthHints{balances: balances}
}

// AvailableChanBandwidth returns the balance recorded for the channel.
func (s *StaticBandwidthHints) AvailableChanBandwidth(
	channelID uint64) (lnwire.MilliSatoshi, bool) {

	balance, ok := s.balances[channelID]

	return balance, ok
}
