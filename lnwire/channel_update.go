package lnwire

import (
	"encoding/binary"
	"io"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// ChanUpdateMsgFlags is a bitfield that signals whether optional fields are
// present in the ChannelUpdate.
type ChanUpdateMsgFlags uint8

const (
	// ChanUpdateRequiredMaxHtlc is a bit that indicates whether the
	// required htlc_maximum_msat field is present in this ChannelUpdate.
	ChanUpdateRequiredMaxHtlc ChanUpdateMsgFlags = 1 << iota
)

// HasMaxHtlc returns true if the htlc_maximum_msat field is present in the
// update.
func (c ChanUpdateMsgFlags) HasMaxHtlc() bool {
	return c&ChanUpdateRequiredMaxHtlc != 0
}

// ChanUpdateChanFlags is a bitfield that signals various options concerning a
// particular channel edge. Each bit is to be examined in order to determine
// how the ChannelUpdate message is to be interpreted.
type ChanUpdateChanFlags uint8

const (
	// ChanUpdateDirection indicates the direction of a channel update. If
	// this bit is set to 0, it means the announcement is for the
	// "first" node of the channel, otherwise for the "second".
	ChanUpdateDirection ChanUpdateChanFlags = 1 << iota

	// ChanUpdateDisabled is a bit that indicates if the channel flagged
	// by this update is currently disabled and cannot be used for
	// forwarding.
	ChanUpdateDisabled
)

// IsDisabled determines whether the channel flags has the disabled bit set.
func (c ChanUpdateChanFlags) IsDisabled() bool {
	return c&ChanUpdateDisabled == ChanUpdateDisabled
}

// ChannelUpdate is a signed announcement of the current forwarding policy
// for one direction of a channel. Updates are ordered per channel by their
// Timestamp field: an update is applied only if it is strictly newer than
// the state it replaces.
type ChannelUpdate struct {
	// Signature is used to validate the announced data and prove the
	// ownership of node id.
	Signature [64]byte

	// ChainHash denotes the target chain that this channel was opened
	// within. This value should be the genesis hash of the target chain.
	ChainHash chainhash.Hash

	// ShortChannelID is the unique description of the funding transaction.
	ShortChannelID ShortChannelID

	// Timestamp allows ordering in the case of multiple announcements. We
	// should ignore the message if timestamp is not greater than the
	// last-received.
	Timestamp uint32

	// MessageFlags is a bitfield that describes whether optional fields
	// are present in this update.
	MessageFlags ChanUpdateMsgFlags

	// ChannelFlags is a bitfield that describes additional meta-data
	// concerning how the update is to be interpreted, including the
	// direction bit and the disabled bit.
	ChannelFlags ChanUpdateChanFlags

	// TimeLockDelta is the minimum number of blocks this node requires to
	// be added to the expiry of HTLCs. This is a security parameter
	// determined by the node operator.
	TimeLockDelta uint16

	// HtlcMinimumMsat is the minimum HTLC value which will be accepted.
	HtlcMinimumMsat MilliSatoshi

	// BaseFee is the base fee that must be used for incoming HTLC's to
	// this particular channel. This value will be tacked onto the required
	// for a payment independent of the size of the payment.
	BaseFee uint32

	// FeeRate is the fee rate that will be charged per millionth of a
	// satoshi.
	FeeRate uint32

	// HtlcMaximumMsat is the maximum HTLC value which will be accepted.
	HtlcMaximumMsat MilliSatoshi

	// ExtraOpaqueData is the set of data that was appended to this
	// message which we don't know how to parse. Any component that reads
	// and re-emits an update must carry these bytes unchanged so that
	// signature validation and forwards compatible extensions keep
	// working.
	ExtraOpaqueData ExtraOpaqueData
}

// Encode serializes the target ChannelUpdate into the passed io.Writer.
func (a *ChannelUpdate) Encode(w io.Writer) error {
	if _, err := w.Write(a.Signature[:]); err != nil {
		return err
	}
	if _, err := w.Write(a.ChainHash[:]); err != nil {
		return err
	}

	var scratch [8]byte
	binary.BigEndian.PutUint64(scratch[:], a.ShortChannelID.ToUint64())
	if _, err := w.Write(scratch[:]); err != nil {
		return err
	}

	if err := writeUint32(w, a.Timestamp); err != nil {
		return err
	}
	if _, err := w.Write([]byte{
		byte(a.MessageFlags), byte(a.ChannelFlags),
	}); err != nil {
		return err
	}
	if err := writeUint16(w, a.TimeLockDelta); err != nil {
		return err
	}
	if err := writeUint64(w, uint64(a.HtlcMinimumMsat)); err != nil {
		return err
	}
	if err := writeUint32(w, a.BaseFee); err != nil {
		return err
	}
	if err := writeUint32(w, a.FeeRate); err != nil {
		return err
	}

	// The max htlc field is only present when the message flags indicate
	// it is. This preserves compatibility with updates created before the
	// field was introduced.
	if a.MessageFlags.HasMaxHtlc() {
		err := writeUint64(w, uint64(a.HtlcMaximumMsat))
		if err != nil {
			return err
		}
	}

	return a.ExtraOpaqueData.Encode(w)
}

// Decode deserializes a ChannelUpdate stored in the passed io.Reader.
func (a *ChannelUpdate) Decode(r io.Reader) error {
	if _, err := io.ReadFull(r, a.Signature[:]); err != nil {
		return err
	}
	if _, err := io.ReadFull(r, a.ChainHash[:]); err != nil {
		return err
	}

	var scratch [8]byte
	if _, err := io.ReadFull(r, scratch[:]); err != nil {
		return err
	}
	a.ShortChannelID = NewShortChanIDFromInt(
		binary.BigEndian.Uint64(scratch[:]),
	)

	timestamp, err := readUint32(r)
	if err != nil {
		return err
	}
	a.Timestamp = timestamp

	var flags [2]byte
	if _, err := io.ReadFull(r, flags[:]); err != nil {
		return err
	}
	a.MessageFlags = ChanUpdateMsgFlags(flags[0])
	a.ChannelFlags = ChanUpdateChanFlags(flags[1])

	timeLockDelta, err := readUint16(r)
	if err != nil {
		return err
	}
	a.TimeLockDelta = timeLockDelta

	htlcMin, err := readUint64(r)
	if err != nil {
		return err
	}
	a.HtlcMinimumMsat = MilliSatoshi(htlcMin)

	baseFee, err := readUint32(r)
	if err != nil {
		return err
	}
	a.BaseFee = baseFee

	feeRate, err := readUint32(r)
	if err != nil {
		return err
	}
	a.FeeRate = feeRate

	if a.MessageFlags.HasMaxHtlc() {
		htlcMax, err := readUint64(r)
		if err != nil {
			return err
		}
		a.HtlcMaximumMsat = MilliSatoshi(htlcMax)
	}

	return a.ExtraOpaqueData.Decode(r)
}

// Disabled reports whether this update marks the channel direction as
// disabled for forwarding.
func (a *ChannelUpdate) Disabled() bool {
	return a.ChannelFlags.IsDisabled()
}

func writeUint16(w io.Writer, n uint16) error {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], n)
	_, err := w.Write(b[:])
	return err
}

func writeUint32(w io.Writer, n uint32) error {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], n)
	_, err := w.Write(b[:])
	return err
}

func writeUint64(w io.Writer, n uint64) error {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], n)
	_, err := w.Write(b[:])
	return err
}

func readUint16(r io.Reader) (uint16, error) {
	var b [2]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b[:]), nil
}

func readUint32(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func readUint64(r io.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b[:]), nil
}
