package routing

import (
	"github.com/go-errors/errors"

	"github.com/lnrouter/routerd/lnwire"
	"github.com/lnrouter/routerd/routing/route"
)

// failureAction is the retry decision derived from a single failure code.
type failureAction uint8

const (
	// actionInternal marks codes that must never appear on the wire.
	// Receiving one indicates a defect on the reporting side and is
	// surfaced as a non-retryable internal error.
	actionInternal failureAction = iota

	// actionAbort marks final-hop and payment-integrity codes. The
	// payment parameters themselves are wrong, so no alternative path
	// can help and the attempt loop terminates.
	actionAbort

	// actionPruneEdge marks transient or policy violations of a single
	// channel. The failing channel is excluded for the remainder of the
	// payment, unless the failure carries a channel update, in which
	// case the update is applied and the edge stays eligible.
	actionPruneEdge

	// actionPruneNode marks failures of a node rather than a channel.
	// The node is excluded from the payment's graph view entirely.
	actionPruneNode
)

// failureActions maps every defined failure code to its retry decision. The
// table is total over the enum, including the reserved zero value, so a code
// missing here is by construction a code we have never seen specified;
// interpretResult treats those conservatively.
var failureActions = map[lnwire.FailCode]failureAction{
	lnwire.CodeReserved: actionInternal,

	// The final hop tells us the payment itself cannot be completed as
	// requested. Retrying over a different path cannot change that.
	lnwire.CodeIncorrectOrUnknownPaymentDetails: actionAbort,
	lnwire.CodeIncorrectPaymentAmount:           actionAbort,
	lnwire.CodeFinalIncorrectCltvExpiry:         actionAbort,
	lnwire.CodeFinalIncorrectHtlcAmount:         actionAbort,
	lnwire.CodeFinalExpiryTooSoon:               actionAbort,
	lnwire.CodeInvalidRealm:                     actionAbort,

	// A single channel rejected the htlc, either transiently or because
	// our view of its policy is out of date.
	lnwire.CodeExpiryTooSoon:           actionPruneEdge,
	lnwire.CodeInvalidOnionVersion:     actionPruneEdge,
	lnwire.CodeInvalidOnionHmac:        actionPruneEdge,
	lnwire.CodeInvalidOnionKey:         actionPruneEdge,
	lnwire.CodeAmountBelowMinimum:      actionPruneEdge,
	lnwire.CodeFeeInsufficient:         actionPruneEdge,
	lnwire.CodeIncorrectCltvExpiry:     actionPruneEdge,
	lnwire.CodeChannelDisabled:         actionPruneEdge,
	lnwire.CodeTemporaryChannelFailure: actionPruneEdge,
	lnwire.CodePermanentChannelFailure: actionPruneEdge,

	// The reporting node itself cannot forward.
	lnwire.CodeRequiredChannelFeatureMissing: actionPruneNode,
	lnwire.CodeRequiredNodeFeatureMissing:    actionPruneNode,
	lnwire.CodeUnknownNextPeer:               actionPruneNode,
	lnwire.CodeTemporaryNodeFailure:          actionPruneNode,
	lnwire.CodePermanentNodeFailure:          actionPruneNode,
}

// interpretedResult is the decision derived from one attempt failure. At
// most one of the prune/update fields is set; abort is mutually exclusive
// with all of them.
type interpretedResult struct {
	// abort signals that further attempts are pointless and the failure
	// is terminal for the payment.
	abort bool

	// pruneEdge is the channel to exclude from the payment's remaining
	// attempts, if set.
	pruneEdge *uint64

	// pruneNode is the node to exclude from the payment's remaining
	// attempts, if set. Exclusion is ephemeral and per payment, it is
	// never written to the shared graph.
	pruneNode *route.Vertex

	// graphUpdate is a corrected channel policy to apply to the shared
	// graph before retrying, if the failure carried one.
	graphUpdate *lnwire.ChannelUpdate
}

// interpretResult classifies a remote failure signal into a retry decision
// for the attempt loop. The attempted route provides the positional context:
// which hop the failing node occupies and which channels surround it.
func interpretResult(rt *route.Route, failure *lnwire.Failure) (
	*interpretedResult, error) {

	source, err := route.NewVertexFromBytes(failure.SourcePubKey[:])
	if err != nil {
		return nil, errors.Errorf("invalid failure source: %v", err)
	}

	// Locate the failing node within the attempted route. Hop index i
	// holds the node reached after forwarding over Hops[i].ChannelID.
	sourceIdx := -1
	for i, hop := range rt.Hops {
		if hop.PubKeyBytes == source {
			sourceIdx = i
			break
		}
	}
	if source == rt.SourcePubKey {
		sourceIdx = len(rt.Hops)
	}

	if sourceIdx < 0 {
		return nil, errors.Errorf("failure source %v not found in "+
			"attempted route", source)
	}

	action, known := failureActions[failure.Code]
	if !known {
		// A code we have no semantics for is treated conservatively:
		// prune the hop over which we reached the failing node.
		log.Warnf("Unknown failure code %d from %v, pruning "+
			"preceding hop", uint16(failure.Code), source)

		return &interpretedResult{
			pruneEdge: precedingChannel(rt, sourceIdx),
		}, nil
	}

	switch action {
	case actionInternal:
		return nil, errors.Errorf("reserved failure code received "+
			"from %v", source)

	case actionAbort:
		return &interpretedResult{abort: true}, nil

	case actionPruneNode:
		return &interpretedResult{pruneNode: &source}, nil

	case actionPruneEdge:
		// A failure that carries a corrected policy lets us fix our
		// graph view and keep the edge eligible, rather than
		// excluding it outright.
		if failure.Update != nil {
			return &interpretedResult{
				graphUpdate: failure.Update,
			}, nil
		}

		// Prune the failing node's outgoing channel on the route.
		// When the final node reports a channel-level code there is
		// no outgoing channel, so the incoming one is pruned
		// instead.
		if chanID := outgoingChannel(rt, sourceIdx); chanID != nil {
			return &interpretedResult{pruneEdge: chanID}, nil
		}

		return &interpretedResult{
			pruneEdge: precedingChannel(rt, sourceIdx),
		}, nil

	default:
		return nil, errors.Errorf("unhandled failure action %d",
			action)
	}
}

// outgoingChannel returns the channel the node at the given route position
// forwards over, or nil for the final node.
func outgoingChannel(rt *route.Route, sourceIdx int) *uint64 {
	// sourceIdx == len(Hops) addresses the sending node itself, whose
	// outgoing channel is the route's first hop.
	if sourceIdx == len(rt.Hops) {
		return &rt.Hops[0].ChannelID
	}

	if sourceIdx+1 < len(rt.Hops) {
		return &rt.Hops[sourceIdx+1].ChannelID
	}

	return nil
}

// precedingChannel returns the channel over which the node at the given
// route position was reached, or nil for the sending node.
func precedingChannel(rt *route.Route, sourceIdx int) *uint64 {
	if sourceIdx >= 0 && sourceIdx < len(rt.Hops) {
		return &rt.Hops[sourceIdx].ChannelID
	}

	// The sender itself has no preceding channel; fall back to the first
	// hop which is the only edge we know was involved.
	return &rt.Hops[0].ChannelID
}
