package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/lnrouter/routerd/lnwire"
	"github.com/lnrouter/routerd/routing"
	"github.com/lnrouter/routerd/routing/route"
)

// graphSnapshot is the on-disk form of a channel graph: announced channels
// with the policy updates observed for them.
type graphSnapshot struct {
	Channels []channelSnapshot `json:"channels"`
}

type channelSnapshot struct {
	ChanID  uint64           `json:"chan_id"`
	Node1   string           `json:"node1"`
	Node2   string           `json:"node2"`
	Updates []updateSnapshot `json:"updates"`
}

type updateSnapshot struct {
	Timestamp       uint32 `json:"timestamp"`
	Direction       bool   `json:"direction"`
	Disabled        bool   `json:"disabled"`
	TimeLockDelta   uint16 `json:"time_lock_delta"`
	HtlcMinimumMsat uint64 `json:"htlc_minimum_msat"`
	HtlcMaximumMsat uint64 `json:"htlc_maximum_msat"`
	BaseFee         uint32 `json:"base_fee"`
	FeeRate         uint32 `json:"fee_rate"`
}

// wireUpdate converts a snapshot entry to the wire message the graph
// consumes.
func (u *updateSnapshot) wireUpdate(chanID uint64) *lnwire.ChannelUpdate {
	var chanFlags lnwire.ChanUpdateChanFlags
	if u.Direction {
		chanFlags |= lnwire.ChanUpdateDirection
	}
	if u.Disabled {
		chanFlags |= lnwire.ChanUpdateDisabled
	}

	var msgFlags lnwire.ChanUpdateMsgFlags
	if u.HtlcMaximumMsat != 0 {
		msgFlags |= lnwire.ChanUpdateRequiredMaxHtlc
	}

	return &lnwire.ChannelUpdate{
		ShortChannelID:  lnwire.NewShortChanIDFromInt(chanID),
		Timestamp:       u.Timestamp,
		MessageFlags:    msgFlags,
		ChannelFlags:    chanFlags,
		TimeLockDelta:   u.TimeLockDelta,
		HtlcMinimumMsat: lnwire.MilliSatoshi(u.HtlcMinimumMsat),
		HtlcMaximumMsat: lnwire.MilliSatoshi(u.HtlcMaximumMsat),
		BaseFee:         u.BaseFee,
		FeeRate:         u.FeeRate,
	}
}

// loadGraph reads a snapshot file, registers its channels with the graph and
// replays the recorded policy updates. Replay is synchronous so the graph is
// fully populated when this returns; live updates arriving later go through
// the update feed instead.
func loadGraph(path string, g *routing.ChannelGraph) error {

	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("unable to read graph file: %w", err)
	}

	var snapshot graphSnapshot
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return fmt.Errorf("unable to parse graph file: %w", err)
	}

	for _, channel := range snapshot.Channels {
		node1, err := route.NewVertexFromStr(channel.Node1)
		if err != nil {
			return fmt.Errorf("channel %v: bad node1: %w",
				channel.ChanID, err)
		}

		node2, err := route.NewVertexFromStr(channel.Node2)
		if err != nil {
			return fmt.Errorf("channel %v: bad node2: %w",
				channel.ChanID, err)
		}

		err = g.AddChannel(channel.ChanID, node1, node2)
		if err != nil {
			return err
		}

		for _, update := range channel.Updates {
			err := g.ApplyUpdate(update.wireUpdate(channel.ChanID))
			if err != nil {
				return err
			}
		}
	}

	return nil
}
