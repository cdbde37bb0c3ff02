package routing

import (
	"container/heap"
	"math"

	"github.com/lnrouter/routerd/lnwire"
	"github.com/lnrouter/routerd/routing/route"
)

const (
	// RiskFactorBillionths controls the influence of time lock delta of a
	// channel on route selection. It is expressed as billionths of msat
	// per msat sent through the channel per time lock delta block.
	RiskFactorBillionths = 15
)

// RestrictParams wraps the set of constraints a candidate route must
// satisfy. Routes that violate any of them are never returned, the search
// fails with ErrNoRouteFound instead.
type RestrictParams struct {
	// FeeLimit is the hard ceiling on the total routing fee of the
	// route.
	FeeLimit lnwire.MilliSatoshi

	// CltvLimit is the hard ceiling on the total time lock delta of the
	// route.
	CltvLimit uint32

	// ExcludedEdges is the set of channel ids that must not appear in
	// the route. Edges land here after failed attempts of the payment
	// the search runs for; the set is never shared between payments.
	ExcludedEdges map[uint64]struct{}

	// ExcludedNodes is the set of nodes that must not appear in the
	// route, scoped to a single payment like ExcludedEdges.
	ExcludedNodes map[route.Vertex]struct{}

	// OutgoingChannelID restricts the route's first hop to the given
	// channel. Zero means unconstrained.
	OutgoingChannelID uint64
}

// UnrestrictedParams returns restrictions that allow any route, used when a
// cost lower bound is wanted rather than a dispatchable route.
func UnrestrictedParams() *RestrictParams {
	return &RestrictParams{
		FeeLimit:  lnwire.MilliSatoshi(math.MaxUint64),
		CltvLimit: math.MaxUint32,
	}
}

// edgeWeight computes the weight of an edge. This value is used when
// searching for the shortest path within the channel graph between two
// nodes. Weight is the fee itself plus a time lock penalty added to it. This
// benefits channels with shorter time lock deltas and shorter (hops) routes
// in general. RiskFactor controls the influence of time lock on route
// selection. This is currently a fixed value, but might be configurable in
// the future.
func edgeWeight(lockedAmt lnwire.MilliSatoshi, fee lnwire.MilliSatoshi,
	timeLockDelta uint16) int64 {

	// timeLockPenalty is the penalty for the time lock delta of this
	// channel. It is controlled by RiskFactorBillionths and scales with
	// the amount that will pass through channel. Rationale is that it if
	// a twice as large amount gets locked up, it is twice as bad.
	timeLockPenalty := int64(lockedAmt) * int64(timeLockDelta) *
		RiskFactorBillionths / 1000000000

	return int64(fee) + timeLockPenalty
}

// findPath attempts to find a path from the source node within the graph to
// the target node that's capable of supporting a payment of `amt` value
// while satisfying the passed restrictions. The search is run backwards from
// the target so that fees compound correctly: the amount each upstream node
// must forward is tracked per node, not just the destination amount.
// Bandwidth hints, if provided, additionally bound what the source's own
// channels can carry; they apply to first hops only and may be nil.
func findPath(g *ChannelGraph, source, target route.Vertex,
	amt lnwire.MilliSatoshi, r *RestrictParams,
	bandwidth BandwidthHints) (*route.Route, error) {

	// A required first hop that the source cannot satisfy fails the
	// search before any graph exploration.
	if r.OutgoingChannelID != 0 {
		_, ok := g.OutgoingEdge(source, r.OutgoingChannelID)
		if !ok {
			log.Debugf("No enabled outgoing edge for required "+
				"channel %v", lnwire.NewShortChanIDFromInt(
				r.OutgoingChannelID))

			return nil, ErrNoRouteFound
		}
	}

	if _, ok := r.ExcludedNodes[target]; ok {
		return nil, ErrNoRouteFound
	}

	// distance tracks the best known candidate path from each visited
	// node to the target.
	distance := make(map[route.Vertex]*nodeWithDist)

	targetDist := &nodeWithDist{
		node:            target,
		amountToReceive: amt,
	}
	distance[target] = targetDist

	var nodeHeap distanceHeap
	heap.Push(&nodeHeap, targetDist)

	for nodeHeap.Len() > 0 {
		partial := heap.Pop(&nodeHeap).(*nodeWithDist)

		// Skip stale heap entries that have since been improved
		// upon.
		if best := distance[partial.node]; best != partial {
			continue
		}

		// Once the source is the closest unvisited node, no shorter
		// path to it can be found.
		if partial.node == source {
			break
		}

		// Relax every enabled edge arriving at this node. Traversing
		// such an edge means the upstream endpoint forwards the
		// amount this node must receive, plus the edge's fee.
		for _, edge := range g.EdgesTo(partial.node) {
			fromNode := edge.FromNode

			if _, ok := r.ExcludedEdges[edge.ChannelID]; ok {
				continue
			}
			if _, ok := r.ExcludedNodes[fromNode]; ok {
				continue
			}

			// The first hop of the route may be pinned to a
			// specific channel.
			if fromNode == source && r.OutgoingChannelID != 0 &&
				edge.ChannelID != r.OutgoingChannelID {

				continue
			}

			fee := edge.ComputeFee(partial.amountToReceive)
			amountToSend := partial.amountToReceive + fee

			// The htlc carried over this edge is the amount the
			// upstream node sends, which must lie within the
			// edge's advertised bounds.
			if !edge.AmtInRange(amountToSend) {
				continue
			}

			// A local balance hint overrides the advertised policy
			// for our own channels.
			if fromNode == source && bandwidth != nil {
				available, ok := bandwidth.AvailableChanBandwidth(
					edge.ChannelID,
				)
				if ok && amountToSend > available {
					continue
				}
			}

			// Enforce the two hard ceilings on the partial path.
			totalFee := amountToSend - amt
			if totalFee > r.FeeLimit {
				continue
			}

			incomingCltv := partial.incomingCltv +
				uint32(edge.TimeLockDelta)
			if incomingCltv > r.CltvLimit {
				continue
			}

			candidate := &nodeWithDist{
				dist: partial.dist + edgeWeight(
					partial.amountToReceive, fee,
					edge.TimeLockDelta,
				),
				node:            fromNode,
				amountToReceive: amountToSend,
				incomingCltv:    incomingCltv,
				fee:             totalFee,
				hopCount:        partial.hopCount + 1,
				outgoingEdge:    edge,
			}

			if best, ok := distance[fromNode]; ok &&
				!candidate.less(best) {

				continue
			}

			distance[fromNode] = candidate
			heap.Push(&nodeHeap, candidate)
		}
	}

	sourceDist, ok := distance[source]
	if !ok {
		return nil, ErrNoRouteFound
	}

	// Unwind the path from source to target, turning each traversed edge
	// into a route hop.
	var hops []*route.Hop
	for cur := sourceDist; cur.outgoingEdge != nil; {
		edge := cur.outgoingEdge
		next := distance[edge.ToNode]

		hops = append(hops, &route.Hop{
			PubKeyBytes:      edge.ToNode,
			ChannelID:        edge.ChannelID,
			AmtToForward:     next.amountToReceive,
			OutgoingTimeLock: next.incomingCltv,
		})

		cur = next
	}

	return route.NewRouteFromHops(
		sourceDist.amountToReceive, sourceDist.incomingCltv, source,
		hops,
	)
}
