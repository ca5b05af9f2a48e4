package parcel

import "math/bits"

// PacketID is the cyclic (modulo 256) sequence number of a reliable parcel.
type PacketID uint8

// ConnectionID identifies one live connection on an endpoint. The zero id is
// reserved and never assigned.
type ConnectionID uint16

// HandshakeID identifies a connection attempt before a ConnectionID exists.
// Clients are expected to choose it randomly.
type HandshakeID uint16

// Dist returns how many ids b lags behind a, modulo 256.
func Dist(a, b PacketID) uint8 { return uint8(a - b) }

// Later reports whether id a is numerically later than b within the cyclic
// id space (at most half the space apart).
func Later(a, b PacketID) bool {
	d := Dist(a, b)
	return d != 0 && d < 128
}

// AckWindow is the number of ids an AckInfo can acknowledge: the explicit
// latest id plus one bit per 64 preceding ids.
const AckWindow = 65

// AckInfo acknowledges the latest received packet id and up to 64 ids
// preceding it: mask bit i (1-indexed) means "Latest − i was received".
type AckInfo struct {
	Latest PacketID
	Mask   uint64
}

// NewAckInfo returns an AckInfo acknowledging only the provided id.
func NewAckInfo(latest PacketID) AckInfo { return AckInfo{Latest: latest} }

// Acknowledges reports whether the window covers the provided id.
func (a AckInfo) Acknowledges(id PacketID) bool {
	switch d := Dist(a.Latest, id); {
	case d == 0:
		return true
	case d <= 64:
		return a.Mask&(1<<(d-1)) != 0
	default:
		return false
	}
}

// Record marks the provided id as received, advancing the window when the id
// is later than the current latest. Ids that fell more than 64 behind are
// treated as already resolved and ignored.
//
// The second return is false when advancing shifted at least one
// unacknowledged id out of the window, meaning a reliable parcel may have
// been skipped.
func (a *AckInfo) Record(id PacketID) (advanced, intact bool) {
	switch d := Dist(a.Latest, id); {
	case d == 0:
		return false, true
	case d <= 64:
		a.Mask |= 1 << (d - 1)
		return false, true
	case d <= 127:
		// Too old to track, considered resolved long ago.
		return false, true
	default:
		// id is ahead of Latest by 256-d; shift the window forward.
		ahead := uint8(255 - d) // ahead-by minus one
		intact = bits.LeadingZeros64(^a.Mask) >= int(ahead)
		a.Mask = a.Mask<<(ahead+1) | 1<<ahead
		a.Latest = id
		return true, intact
	}
}
