package lnwire

import (
	"encoding/hex"
	"fmt"
)

// FailCode specifies the precise reason that an upstream node reported an
// HTLC failure for. Each code is mapped to the semantics defined for the
// equivalent BOLT-4 onion failure. Code 0 is reserved and must never appear
// on the wire.
type FailCode uint16

const (
	// CodeReserved is the reserved zero value. Receiving it indicates a
	// serialization problem on the sending side, never a routing
	// condition.
	CodeReserved FailCode = 0

	// CodeIncorrectOrUnknownPaymentDetails is returned by the final node
	// when the payment hash is unknown or the provided details do not
	// match an invoice.
	CodeIncorrectOrUnknownPaymentDetails FailCode = 1

	// CodeIncorrectPaymentAmount is returned by the final node when the
	// htlc amount does not match the invoiced amount.
	CodeIncorrectPaymentAmount FailCode = 2

	// CodeFinalIncorrectCltvExpiry is returned by the final node when the
	// htlc expiry does not match the onion payload.
	CodeFinalIncorrectCltvExpiry FailCode = 3

	// CodeFinalIncorrectHtlcAmount is returned by the final node when the
	// htlc amount does not match the onion payload.
	CodeFinalIncorrectHtlcAmount FailCode = 4

	// CodeFinalExpiryTooSoon is returned by the final node when the htlc
	// expires too close to the current height.
	CodeFinalExpiryTooSoon FailCode = 5

	// CodeInvalidRealm is returned when the realm byte in the per-hop
	// payload is unknown to the processing node.
	CodeInvalidRealm FailCode = 6

	// CodeExpiryTooSoon is returned by an intermediate node when the htlc
	// leaves too little time for it to forward safely.
	CodeExpiryTooSoon FailCode = 7

	// CodeInvalidOnionVersion is returned when the onion version byte is
	// unknown.
	CodeInvalidOnionVersion FailCode = 8

	// CodeInvalidOnionHmac is returned when the onion HMAC is incorrect.
	CodeInvalidOnionHmac FailCode = 9

	// CodeInvalidOnionKey is returned when the ephemeral onion key is
	// unparsable.
	CodeInvalidOnionKey FailCode = 10

	// CodeAmountBelowMinimum is returned when the htlc amount is below
	// the channel's advertised minimum.
	CodeAmountBelowMinimum FailCode = 11

	// CodeFeeInsufficient is returned when the offered fee does not meet
	// the channel's advertised fee policy.
	CodeFeeInsufficient FailCode = 12

	// CodeIncorrectCltvExpiry is returned when the htlc expiry delta does
	// not meet the channel's advertised time lock delta.
	CodeIncorrectCltvExpiry FailCode = 13

	// CodeChannelDisabled is returned when the outgoing channel has been
	// disabled by its operator.
	CodeChannelDisabled FailCode = 14

	// CodeTemporaryChannelFailure is returned when the outgoing channel
	// cannot carry the htlc right now, for example due to insufficient
	// balance.
	CodeTemporaryChannelFailure FailCode = 15

	// CodeRequiredNodeFeatureMissing is returned when the processing node
	// requires a feature the payment does not provide.
	CodeRequiredNodeFeatureMissing FailCode = 16

	// CodeRequiredChannelFeatureMissing is returned when the outgoing
	// channel requires a feature the payment does not provide.
	CodeRequiredChannelFeatureMissing FailCode = 17

	// CodeUnknownNextPeer is returned when the next channel endpoint is
	// unknown to the processing node.
	CodeUnknownNextPeer FailCode = 18

	// CodeTemporaryNodeFailure is returned when the processing node is
	// temporarily unable to forward.
	CodeTemporaryNodeFailure FailCode = 19

	// CodePermanentNodeFailure is returned when the processing node is
	// permanently unable to forward.
	CodePermanentNodeFailure FailCode = 20

	// CodePermanentChannelFailure is returned when the outgoing channel
	// is permanently unable to carry htlcs.
	CodePermanentChannelFailure FailCode = 21
)

// maxFailCode is the highest code currently defined. Codes above it are
// unknown to this implementation but may be produced by newer nodes.
const maxFailCode = CodePermanentChannelFailure

// String returns a human readable representation of the failure code.
func (c FailCode) String() string {
	switch c {
	case CodeReserved:
		return "Reserved"

	case CodeIncorrectOrUnknownPaymentDetails:
		return "IncorrectOrUnknownPaymentDetails"

	case CodeIncorrectPaymentAmount:
		return "IncorrectPaymentAmount"

	case CodeFinalIncorrectCltvExpiry:
		return "FinalIncorrectCltvExpiry"

	case CodeFinalIncorrectHtlcAmount:
		return "FinalIncorrectHtlcAmount"

	case CodeFinalExpiryTooSoon:
		return "FinalExpiryTooSoon"

	case CodeInvalidRealm:
		return "InvalidRealm"

	case CodeExpiryTooSoon:
		return "ExpiryTooSoon"

	case CodeInvalidOnionVersion:
		return "InvalidOnionVersion"

	case CodeInvalidOnionHmac:
		return "InvalidOnionHmac"

	case CodeInvalidOnionKey:
		return "InvalidOnionKey"

	case CodeAmountBelowMinimum:
		return "AmountBelowMinimum"

	case CodeFeeInsufficient:
		return "FeeInsufficient"

	case CodeIncorrectCltvExpiry:
		return "IncorrectCltvExpiry"

	case CodeChannelDisabled:
		return "ChannelDisabled"

	case CodeTemporaryChannelFailure:
		return "TemporaryChannelFailure"

	case CodeRequiredNodeFeatureMissing:
		return "RequiredNodeFeatureMissing"

	case CodeRequiredChannelFeatureMissing:
		return "RequiredChannelFeatureMissing"

	case CodeUnknownNextPeer:
		return "UnknownNextPeer"

	case CodeTemporaryNodeFailure:
		return "TemporaryNodeFailure"

	case CodePermanentNodeFailure:
		return "PermanentNodeFailure"

	case CodePermanentChannelFailure:
		return "PermanentChannelFailure"

	default:
		return fmt.Sprintf("Unknown(%d)", uint16(c))
	}
}

// Failure is the failure signal produced by a remote node for a single
// payment attempt. It is consumed during failure interpretation and then
// discarded, it is never persisted or surfaced raw to callers.
type Failure struct {
	// Code identifies the precise failure condition.
	Code FailCode

	// SourcePubKey is the identity of the node that produced the failure.
	SourcePubKey [33]byte

	// Update is an optional channel update carried alongside policy
	// related failures so that the sender can correct its graph view.
	Update *ChannelUpdate

	// HtlcMsat is the htlc amount observed by the failing node, set for
	// amount related failures.
	HtlcMsat MilliSatoshi

	// OnionSHA256 is the hash of the onion payload observed by the
	// failing node, set for onion related failures.
	OnionSHA256 [32]byte

	// CltvExpiry is the expiry observed by the failing node, set for
	// expiry related failures.
	CltvExpiry uint32

	// Flags carries failure type dependent metadata.
	Flags uint16
}

// Error returns a string representation of the failure, which makes the
// failure usable directly as an error value.
func (f *Failure) Error() string {
	return fmt.Sprintf("%v@%v", f.Code,
		hex.EncodeToString(f.SourcePubKey[:6]))
}
