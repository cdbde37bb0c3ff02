package routing

import (
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/lnrouter/routerd/lnwire"
	"github.com/lnrouter/routerd/routing/route"
)

// ChannelEdge is the forwarding policy for one direction of a channel. Edges
// are immutable once inserted into the graph: a newer channel update replaces
// the edge rather than mutating it, so a reader that obtained an edge from
// the graph can keep using it without synchronization.
type ChannelEdge struct {
	// ChannelID is the unique identifier of the channel this policy
	// belongs to.
	ChannelID uint64

	// FromNode is the node that created this policy and that forwards
	// over the channel under it.
	FromNode route.Vertex

	// ToNode is the node reached by forwarding over the channel.
	ToNode route.Vertex

	// Signature is the announcement signature carried by the update this
	// edge was built from.
	Signature [64]byte

	// ChainHash identifies the chain the channel was opened within.
	ChainHash chainhash.Hash

	// LastUpdate is the timestamp of the update this edge was built
	// from. Only updates strictly newer than this value replace the edge.
	LastUpdate uint32

	// Disabled is true if the channel operator has disabled forwarding
	// in this direction.
	Disabled bool

	// MessageFlags are the raw message flags of the originating update.
	MessageFlags lnwire.ChanUpdateMsgFlags

	// ChannelFlags are the raw channel flags of the originating update.
	ChannelFlags lnwire.ChanUpdateChanFlags

	// TimeLockDelta is the number of blocks this edge adds to the expiry
	// of an htlc forwarded over it.
	TimeLockDelta uint16

	// MinHTLC is the smallest htlc this edge will forward.
	MinHTLC lnwire.MilliSatoshi

	// MaxHTLC is the largest htlc this edge will forward. A value of
	// zero means the edge advertises no maximum.
	MaxHTLC lnwire.MilliSatoshi

	// FeeBaseMSat is the flat fee charged for forwarding over this edge.
	FeeBaseMSat lnwire.MilliSatoshi

	// FeeProportionalMillionths is the proportional fee charged per
	// millionth of a satoshi forwarded over this edge.
	FeeProportionalMillionths lnwire.MilliSatoshi

	// ExtraOpaqueData is the trailing data of the originating update,
	// carried byte-for-byte so re-emitted updates validate against the
	// original signature.
	ExtraOpaqueData lnwire.ExtraOpaqueData
}

// ComputeFee computes the fee to forward an HTLC of `amt` milli-satoshis over
// the passed active payment channel. This value is currently computed as
// specified in BOLT07, but will likely change in the near future.
func (e *ChannelEdge) ComputeFee(amt lnwire.MilliSatoshi) lnwire.MilliSatoshi {
	return e.FeeBaseMSat + (amt*e.FeeProportionalMillionths)/1000000
}

// AmtInRange reports whether the passed amount satisfies the edge's
// advertised htlc minimum and maximum.
func (e *ChannelEdge) AmtInRange(amt lnwire.MilliSatoshi) bool {
	if amt < e.MinHTLC {
		return false
	}
	if e.MaxHTLC != 0 && amt > e.MaxHTLC {
		return false
	}

	return true
}

// ChannelUpdate re-emits the edge as the wire message it was built from. The
// trailing opaque bytes are carried through unchanged.
func (e *ChannelEdge) ChannelUpdate() *lnwire.ChannelUpdate {
	return &lnwire.ChannelUpdate{
		Signature:       e.Signature,
		ChainHash:       e.ChainHash,
		ShortChannelID:  lnwire.NewShortChanIDFromInt(e.ChannelID),
		Timestamp:       e.LastUpdate,
		MessageFlags:    e.MessageFlags,
		ChannelFlags:    e.ChannelFlags,
		TimeLockDelta:   e.TimeLockDelta,
		HtlcMinimumMsat: e.MinHTLC,
		BaseFee:         uint32(e.FeeBaseMSat),
		FeeRate:         uint32(e.FeeProportionalMillionths),
		HtlcMaximumMsat: e.MaxHTLC,
		ExtraOpaqueData: e.ExtraOpaqueData,
	}
}

// channelInfo ties a channel id to its two endpoints and the forwarding
// policy advertised for each direction. The nodes are stored in announcement
// order: policies[0] is the policy for forwarding from node1, policies[1]
// for forwarding from node2.
type channelInfo struct {
	node1    route.Vertex
	node2    route.Vertex
	policies [2]*ChannelEdge
}

// ChannelGraph is an in-memory directed multigraph of payment channels. It
// is the only state shared between concurrent payments: updates discovered
// while routing one payment are visible to route selection for all others.
// Writes are serialized by the graph, reads may proceed concurrently.
type ChannelGraph struct {
	mtx sync.RWMutex

	channels map[uint64]*channelInfo

	// outgoing and incoming index the directional policies by endpoint so
	// path finding can walk the graph in either direction.
	outgoing map[route.Vertex]map[uint64]*ChannelEdge
	incoming map[route.Vertex]map[uint64]*ChannelEdge
}

// NewChannelGraph creates an empty channel graph.
func NewChannelGraph() *ChannelGraph {
	return &ChannelGraph{
		channels: make(map[uint64]*channelInfo),
		outgoing: make(map[route.Vertex]map[uint64]*ChannelEdge),
		incoming: make(map[route.Vertex]map[uint64]*ChannelEdge),
	}
}

// AddChannel registers the endpoints of a channel with the graph. The nodes
// must be passed in announcement order, as the direction bit of incoming
// updates is interpreted relative to it. Policies are attached separately
// via ApplyUpdate.
func (g *ChannelGraph) AddChannel(chanID uint64, node1,
	node2 route.Vertex) error {

	g.mtx.Lock()
	defer g.mtx.Unlock()

	if _, ok := g.channels[chanID]; ok {
		return fmt.Errorf("channel %v already known",
			lnwire.NewShortChanIDFromInt(chanID))
	}

	g.channels[chanID] = &channelInfo{
		node1: node1,
		node2: node2,
	}

	return nil
}

// ApplyUpdate applies a channel update to the graph if and only if its
// timestamp is strictly greater than the timestamp of the policy currently
// stored for that channel and direction. Stale or out-of-order updates are
// discarded without error.
func (g *ChannelGraph) ApplyUpdate(update *lnwire.ChannelUpdate) error {
	chanID := update.ShortChannelID.ToUint64()

	g.mtx.Lock()
	defer g.mtx.Unlock()

	info, ok := g.channels[chanID]
	if !ok {
		return fmt.Errorf("unable to apply update: channel %v not "+
			"found", update.ShortChannelID)
	}

	// The direction bit tells us which endpoint's forwarding policy this
	// update replaces.
	var direction int
	fromNode, toNode := info.node1, info.node2
	if update.ChannelFlags&lnwire.ChanUpdateDirection != 0 {
		direction = 1
		fromNode, toNode = info.node2, info.node1
	}

	// Enforce the monotonic freshness rule: only updates strictly newer
	// than what we have already applied may replace the stored policy.
	if old := info.policies[direction]; old != nil &&
		update.Timestamp <= old.LastUpdate {

		log.Tracef("Ignoring stale update for channel %v "+
			"(ts=%v, have=%v)", update.ShortChannelID,
			update.Timestamp, old.LastUpdate)

		return nil
	}

	edge := &ChannelEdge{
		ChannelID:                 chanID,
		FromNode:                  fromNode,
		ToNode:                    toNode,
		Signature:                 update.Signature,
		ChainHash:                 update.ChainHash,
		LastUpdate:                update.Timestamp,
		Disabled:                  update.Disabled(),
		MessageFlags:              update.MessageFlags,
		ChannelFlags:              update.ChannelFlags,
		TimeLockDelta:             update.TimeLockDelta,
		MinHTLC:                   update.HtlcMinimumMsat,
		MaxHTLC:                   update.HtlcMaximumMsat,
		FeeBaseMSat:               lnwire.MilliSatoshi(update.BaseFee),
		FeeProportionalMillionths: lnwire.MilliSatoshi(update.FeeRate),
		ExtraOpaqueData: append(
			lnwire.ExtraOpaqueData(nil),
			update.ExtraOpaqueData...,
		),
	}

	info.policies[direction] = edge

	if g.outgoing[fromNode] == nil {
		g.outgoing[fromNode] = make(map[uint64]*ChannelEdge)
	}
	g.outgoing[fromNode][chanID] = edge

	if g.incoming[toNode] == nil {
		g.incoming[toNode] = make(map[uint64]*ChannelEdge)
	}
	g.incoming[toNode][chanID] = edge

	return nil
}

// EdgesFrom returns the outgoing edges of the passed node, excluding any
// direction that is currently marked disabled.
func (g *ChannelGraph) EdgesFrom(node route.Vertex) []*ChannelEdge {
	g.mtx.RLock()
	defer g.mtx.RUnlock()

	var edges []*ChannelEdge
	for _, edge := range g.outgoing[node] {
		if edge.Disabled {
			continue
		}
		edges = append(edges, edge)
	}

	return edges
}

// EdgesTo returns the incoming edges of the passed node, excluding any
// direction that is currently marked disabled.
func (g *ChannelGraph) EdgesTo(node route.Vertex) []*ChannelEdge {
	g.mtx.RLock()
	defer g.mtx.RUnlock()

	var edges []*ChannelEdge
	for _, edge := range g.incoming[node] {
		if edge.Disabled {
			continue
		}
		edges = append(edges, edge)
	}

	return edges
}

// OutgoingEdge returns the enabled outgoing edge of the passed node over the
// given channel, if one exists.
func (g *ChannelGraph) OutgoingEdge(node route.Vertex,
	chanID uint64) (*ChannelEdge, bool) {

	g.mtx.RLock()
	defer g.mtx.RUnlock()

	edge, ok := g.outgoing[node][chanID]
	if !ok || edge.Disabled {
		return nil, false
	}

	return edge, true
}
