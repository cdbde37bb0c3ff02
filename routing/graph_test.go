package routing

import (
	"bytes"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lnrouter/routerd/lnwire"
)

// TestGraphApplyUpdateFreshness tests the monotonic timestamp rule: only
// strictly newer updates replace the stored policy, stale updates are
// silently discarded.
func TestGraphApplyUpdateFreshness(t *testing.T) {
	t.Parallel()

	var (
		a = testVertex(1)
		b = testVertex(2)
	)

	g := NewChannelGraph()
	addTestChannel(t, g, 1, a, b, testChannelPolicy{
		baseFee: 10, timeLockDelta: 40, timestamp: 100,
	})

	edge, ok := g.OutgoingEdge(a, 1)
	require.True(t, ok)
	require.EqualValues(t, 10, edge.FeeBaseMSat)

	// An update carrying the same timestamp is stale and leaves the
	// graph unchanged.
	stale := policyUpdate(1, testChannelPolicy{
		baseFee: 99, timeLockDelta: 40, timestamp: 100,
	})
	require.NoError(t, g.ApplyUpdate(stale))

	edge, ok = g.OutgoingEdge(a, 1)
	require.True(t, ok)
	require.EqualValues(t, 10, edge.FeeBaseMSat)

	// So does one carrying an older timestamp.
	older := policyUpdate(1, testChannelPolicy{
		baseFee: 99, timeLockDelta: 40, timestamp: 50,
	})
	require.NoError(t, g.ApplyUpdate(older))

	edge, ok = g.OutgoingEdge(a, 1)
	require.True(t, ok)
	require.EqualValues(t, 10, edge.FeeBaseMSat)

	// A strictly newer update replaces the policy.
	newer := policyUpdate(1, testChannelPolicy{
		baseFee: 99, timeLockDelta: 40, timestamp: 101,
	})
	require.NoError(t, g.ApplyUpdate(newer))

	edge, ok = g.OutgoingEdge(a, 1)
	require.True(t, ok)
	require.EqualValues(t, 99, edge.FeeBaseMSat)
	require.EqualValues(t, 101, edge.LastUpdate)
}

// TestGraphApplyUpdateUnknownChannel tests that updates for channels the
// graph has no topology for are rejected.
func TestGraphApplyUpdateUnknownChannel(t *testing.T) {
	t.Parallel()

	g := NewChannelGraph()

	update := policyUpdate(7, testChannelPolicy{timeLockDelta: 40})
	require.Error(t, g.ApplyUpdate(update))
}

// TestGraphEdgesSkipDisabled tests that disabled directions are invisible to
// edge queries.
func TestGraphEdgesSkipDisabled(t *testing.T) {
	t.Parallel()

	var (
		a = testVertex(1)
		b = testVertex(2)
		c = testVertex(3)
	)

	g := NewChannelGraph()
	addTestChannel(t, g, 1, a, b, testChannelPolicy{
		timeLockDelta: 40,
	})
	addTestChannel(t, g, 2, a, c, testChannelPolicy{
		timeLockDelta: 40, disabled: true,
	})

	edges := g.EdgesFrom(a)
	require.Len(t, edges, 1)
	require.EqualValues(t, 1, edges[0].ChannelID)

	_, ok := g.OutgoingEdge(a, 2)
	require.False(t, ok)

	require.Empty(t, g.EdgesTo(c))
}

// TestGraphDirectionBit tests that the channel flags direction bit selects
// which endpoint's policy an update replaces.
func TestGraphDirectionBit(t *testing.T) {
	t.Parallel()

	var (
		a = testVertex(1)
		b = testVertex(2)
	)

	g := NewChannelGraph()
	require.NoError(t, g.AddChannel(1, a, b))

	// Direction bit zero installs the a->b policy.
	forward := policyUpdate(1, testChannelPolicy{
		baseFee: 5, timeLockDelta: 40,
	})
	require.NoError(t, g.ApplyUpdate(forward))

	// Direction bit one installs the b->a policy.
	reverse := policyUpdate(1, testChannelPolicy{
		baseFee: 7, timeLockDelta: 40,
	})
	reverse.ChannelFlags |= lnwire.ChanUpdateDirection
	require.NoError(t, g.ApplyUpdate(reverse))

	edgeAB, ok := g.OutgoingEdge(a, 1)
	require.True(t, ok)
	require.EqualValues(t, 5, edgeAB.FeeBaseMSat)
	require.Equal(t, b, edgeAB.ToNode)

	edgeBA, ok := g.OutgoingEdge(b, 1)
	require.True(t, ok)
	require.EqualValues(t, 7, edgeBA.FeeBaseMSat)
	require.Equal(t, a, edgeBA.ToNode)
}

// TestGraphExtraOpaquePassthrough tests that opaque trailing bytes survive a
// full read-modify-write cycle: update in, edge stored, update re-emitted
// and serialized.
func TestGraphExtraOpaquePassthrough(t *testing.T) {
	t.Parallel()

	var (
		a = testVertex(1)
		b = testVertex(2)
	)

	extra := []byte{0xfe, 0x00, 0x01, 0x00, 0x00, 0x01, 0xff}

	g := NewChannelGraph()
	addTestChannel(t, g, 1, a, b, testChannelPolicy{
		baseFee: 10, timeLockDelta: 40, extraData: extra,
	})

	edge, ok := g.OutgoingEdge(a, 1)
	require.True(t, ok)

	reEmitted := edge.ChannelUpdate()
	require.Equal(t, lnwire.ExtraOpaqueData(extra),
		reEmitted.ExtraOpaqueData)

	var buf bytes.Buffer
	require.NoError(t, reEmitted.Encode(&buf))

	decoded := &lnwire.ChannelUpdate{}
	require.NoError(t, decoded.Decode(&buf))
	require.Equal(t, lnwire.ExtraOpaqueData(extra),
		decoded.ExtraOpaqueData)
}

// TestGraphConcurrentAccess exercises concurrent writers on distinct
// channels together with concurrent readers. It mainly exists to give the
// race detector something to chew on.
func TestGraphConcurrentAccess(t *testing.T) {
	t.Parallel()

	var (
		a = testVertex(1)
		b = testVertex(2)
	)

	g := NewChannelGraph()
	for chanID := uint64(1); chanID <= 10; chanID++ {
		require.NoError(t, g.AddChannel(chanID, a, b))
	}

	var wg sync.WaitGroup
	for chanID := uint64(1); chanID <= 10; chanID++ {
		chanID := chanID

		wg.Add(1)
		go func() {
			defer wg.Done()

			for ts := uint32(1); ts <= 100; ts++ {
				update := policyUpdate(
					chanID, testChannelPolicy{
						baseFee:       10,
						timeLockDelta: 40,
						timestamp:     ts,
					},
				)
				require.NoError(t, g.ApplyUpdate(update))
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()

		for i := 0; i < 1000; i++ {
			g.EdgesFrom(a)
			g.EdgesTo(b)
		}
	}()

	wg.Wait()

	require.Len(t, g.EdgesFrom(a), 10)
}
