package routing

import (
	"github.com/lnrouter/routerd/lnwire"
	"github.com/lnrouter/routerd/routing/route"
)

// nodeWithDist is a helper struct that couples the distance from the current
// source to a node with a pointer to the node itself.
type nodeWithDist struct {
	// dist is the distance to this node from the target node in our
	// current context.
	dist int64

	// node is the vertex itself. This can be used to explore all the
	// outgoing edges (channels) emanating from a node.
	node route.Vertex

	// amountToReceive is the amount that must arrive at this node to
	// deliver the payment amount to the target, including the fees of
	// all downstream hops.
	amountToReceive lnwire.MilliSatoshi

	// incomingCltv is the total time lock delta accumulated on the path
	// from this node to the target.
	incomingCltv uint32

	// fee is the total routing fee accumulated on the path from this
	// node to the target.
	fee lnwire.MilliSatoshi

	// hopCount is the number of hops on the path from this node to the
	// target. It is used as the final tie breaker between otherwise
	// equal candidate paths.
	hopCount int

	// outgoingEdge is the edge taken from this node towards the target
	// on the candidate path.
	outgoingEdge *ChannelEdge
}

// less reports whether the candidate path through a is strictly preferable
// to the one through b: lowest weighted distance first, ties broken by
// lowest total fee, then by fewest hops.
func (a *nodeWithDist) less(b *nodeWithDist) bool {
	if a.dist != b.dist {
		return a.dist < b.dist
	}
	if a.fee != b.fee {
		return a.fee < b.fee
	}

	return a.hopCount < b.hopCount
}

// distanceHeap is a min-distance heap that's used within our path finding
// algorithm to keep track of the "closest" node to our source node.
type distanceHeap struct {
	nodes []*nodeWithDist
}

// Len returns the number of nodes in the priority queue.
//
// NOTE: This is part of the heap.Interface implementation.
func (d *distanceHeap) Len() int { return len(d.nodes) }

// Less returns whether the item in the priority queue with index i should
// sort before the item with index j.
//
// NOTE: This is part of the heap.Interface implementation.
func (d *distanceHeap) Less(i, j int) bool {
	return d.nodes[i].less(d.nodes[j])
}

// Swap swaps the nodes at the passed indices in the priority queue.
//
// NOTE: This is part of the heap.Interface implementation.
func (d *distanceHeap) Swap(i, j int) {
	d.nodes[i], d.nodes[j] = d.nodes[j], d.nodes[i]
}

// Push pushes the passed item onto the priority queue.
//
// NOTE: This is part of the heap.Interface implementation.
func (d *distanceHeap) Push(x interface{}) {
	d.nodes = append(d.nodes, x.(*nodeWithDist))
}

// Pop removes the highest priority item (according to Less) from the
// priority queue and returns it.
//
// NOTE: This is part of the heap.Interface implementation.
func (d *distanceHeap) Pop() interface{} {
	n := len(d.nodes)
	x := d.nodes[n-1]
	d.nodes[n-1] = nil
	d.nodes = d.nodes[0 : n-1]

	return x
}
