package routing

import (
	"sync"
	"sync/atomic"

	"github.com/lightningnetwork/lnd/queue"

	"github.com/lnrouter/routerd/lnwire"
)

// updateQueueSize is the number of channel updates buffered before the
// backing queue starts spilling to its overflow list.
const updateQueueSize = 50

// UpdateFeed is the ingress point for gossip: channel updates pushed into it
// are applied to the channel graph in arrival order, one at a time, without
// ever blocking the producer. Staleness filtering is left entirely to the
// graph's monotonic timestamp rule.
type UpdateFeed struct {
	started int32 // To be used atomically.
	stopped int32 // To be used atomically.

	graph *ChannelGraph

	updates *queue.ConcurrentQueue

	wg   sync.WaitGroup
	quit chan struct{}
}

// NewUpdateFeed creates an update feed that applies updates to the given
// graph.
func NewUpdateFeed(graph *ChannelGraph) *UpdateFeed {
	return &UpdateFeed{
		graph:   graph,
		updates: queue.NewConcurrentQueue(updateQueueSize),
		quit:    make(chan struct{}),
	}
}

// Start launches the goroutine that drains the feed into the graph.
func (u *UpdateFeed) Start() error {
	if !atomic.CompareAndSwapInt32(&u.started, 0, 1) {
		return nil
	}

	u.updates.Start()

	u.wg.Add(1)
	go u.applyLoop()

	return nil
}

// Stop halts the feed. Updates still queued are dropped.
func (u *UpdateFeed) Stop() {
	if !atomic.CompareAndSwapInt32(&u.stopped, 0, 1) {
		return
	}

	close(u.quit)
	u.wg.Wait()

	u.updates.Stop()
}

// PushUpdate hands a channel update to the feed. It never blocks.
func (u *UpdateFeed) PushUpdate(update *lnwire.ChannelUpdate) {
	u.updates.ChanIn() <- update
}

// applyLoop applies queued updates to the graph until the feed is stopped.
func (u *UpdateFeed) applyLoop() {
	defer u.wg.Done()

	for {
		select {
		case item := <-u.updates.ChanOut():
			update := item.(*lnwire.ChannelUpdate)

			if err := u.graph.ApplyUpdate(update); err != nil {
				log.Warnf("Unable to apply update for "+
					"channel %v: %v",
					update.ShortChannelID, err)
			}

		case <-u.quit:
			return
		}
	}
}
