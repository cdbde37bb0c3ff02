package routerrpc

import (
	"github.com/lightningnetwork/lnd/clock"

	"github.com/lnrouter/routerd/routing"
)

const (
	// DefaultInvoiceExpiry is assumed for payment requests that do not
	// carry an explicit expiry field.
	DefaultInvoiceExpiry = 3600

	// DefaultFinalCltvDelta is assumed for payment requests that do not
	// carry an explicit min final cltv expiry field.
	DefaultFinalCltvDelta = 18
)

// Config is the configuration of the router RPC server.
type Config struct {
	// Router is the payment dispatcher all requests are delegated to.
	Router *routing.ChannelRouter

	// Clock provides the time source used to reject expired payment
	// requests before any attempt is made.
	Clock clock.Clock
}
