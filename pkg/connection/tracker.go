package connection

import (
	"time"

	"github.com/technomunk/gnet/pkg/parcel"
)

// MaxInFlight is the reliable send window: one explicitly acknowledged id
// plus 64 mask bits bound the range ids can be tracked unambiguously in.
const MaxInFlight = parcel.AckWindow

// fastRetransmitThreshold is how many numerically-later ids must be
// acknowledged before an earlier unacknowledged one is presumed lost.
const fastRetransmitThreshold = 8

// inFlightPacket is one sent reliable payload awaiting acknowledgment.
// Retransmission re-sends the same id and payload; only sentAt is refreshed.
type inFlightPacket struct {
	payload []byte
	stream  bool // payload is a stream slice rather than a message
	sentAt  time.Time
}

// Stats is a point-in-time snapshot of tracker activity.
type Stats struct {
	InFlight    int
	Retransmits uint64
	Duplicates  uint64
	SkippedIDs  uint64
}

// Tracker keeps the per-connection sliding-window state: the send-side
// in-flight buffer with the peer's acknowledgment mirror, and the
// receive-side recency window used to build outgoing AckInfos. It is not
// safe for concurrent use; a connection is driven from a single loop.
type Tracker struct {
	inflight map[parcel.PacketID]*inFlightPacket

	peerAcks    parcel.AckInfo // mirror of everything the peer acknowledged
	peerAckedup bool

	recv     parcel.AckInfo // window over received reliable ids
	received bool

	retransmits uint64
	duplicates  uint64
	skipped     uint64
}

// NewTracker constructs an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{inflight: make(map[parcel.PacketID]*inFlightPacket, MaxInFlight)}
}

// RecordSent inserts an in-flight packet for the provided id. The payload is
// copied so the caller may reuse its buffer; retransmissions must carry the
// bytes as originally sent. Returns ErrWindowFull when 65 packets are already
// outstanding; the caller should back off and retry after an acknowledgment
// arrives.
func (t *Tracker) RecordSent(id parcel.PacketID, payload []byte, stream bool, now time.Time) error {
	if len(t.inflight) >= MaxInFlight {
		return ErrWindowFull
	}
	owned := make([]byte, len(payload))
	copy(owned, payload)
	t.inflight[id] = &inFlightPacket{payload: owned, stream: stream, sentAt: now}
	return nil
}

// RecordReceived updates the receive-side window with an inbound reliable id.
// Returns true when the id was already acknowledged before, meaning the
// parcel is a duplicate and its payload must not be delivered again.
func (t *Tracker) RecordReceived(id parcel.PacketID) (duplicate bool) {
	if !t.received {
		t.received = true
		t.recv = parcel.NewAckInfo(id)
		return false
	}
	if t.recv.Acknowledges(id) {
		t.duplicates++
		return true
	}
	if _, intact := t.recv.Record(id); !intact {
		t.skipped++
	}
	return false
}

// AckDue reports whether any reliable parcel has been received, i.e. whether
// an AckInfo is worth emitting at all.
func (t *Tracker) AckDue() bool { return t.received }

// OutgoingAck returns the AckInfo to piggyback on the next outgoing parcel.
func (t *Tracker) OutgoingAck() parcel.AckInfo { return t.recv }

// ApplyAck removes every in-flight packet the provided AckInfo covers. The
// explicitly acknowledged id, if it was still in flight, yields a round-trip
// sample for the estimator. Ids outside the 65-wide window are treated as
// already resolved.
func (t *Tracker) ApplyAck(ack parcel.AckInfo, now time.Time, rtt *RTTEstimator) {
	if pkt, ok := t.inflight[ack.Latest]; ok {
		rtt.Update(now.Sub(pkt.sentAt))
		delete(t.inflight, ack.Latest)
	}
	for i := uint8(1); i <= 64; i++ {
		if ack.Mask&(1<<(i-1)) != 0 {
			delete(t.inflight, ack.Latest-parcel.PacketID(i))
		}
	}
	t.mergePeerAcks(ack)
}

// mergePeerAcks folds an inbound AckInfo into the mirror of everything the
// peer has acknowledged, which drives fast-retransmit detection.
func (t *Tracker) mergePeerAcks(ack parcel.AckInfo) {
	if !t.peerAckedup {
		t.peerAckedup = true
		t.peerAcks = ack
		return
	}
	t.peerAcks.Record(ack.Latest)
	for i := uint8(1); i <= 64; i++ {
		if ack.Mask&(1<<(i-1)) != 0 {
			t.peerAcks.Record(ack.Latest - parcel.PacketID(i))
		}
	}
}

// DetectLosses returns the ids of in-flight packets due for retransmission:
// those unacknowledged for at least rto, and those with at least 8
// numerically-later ids already acknowledged (fast retransmit).
func (t *Tracker) DetectLosses(now time.Time, rto time.Duration) []parcel.PacketID {
	var due []parcel.PacketID
	for id, pkt := range t.inflight {
		if now.Sub(pkt.sentAt) >= rto {
			due = append(due, id)
			continue
		}
		if t.peerAckedup && t.ackedLaterThan(id) >= fastRetransmitThreshold {
			due = append(due, id)
		}
	}
	return due
}

// ackedLaterThan counts acknowledged ids numerically later than id within
// the tracking window.
func (t *Tracker) ackedLaterThan(id parcel.PacketID) int {
	n := 0
	if parcel.Later(t.peerAcks.Latest, id) {
		n++
	}
	for i := uint8(1); i <= 64; i++ {
		if t.peerAcks.Mask&(1<<(i-1)) == 0 {
			continue
		}
		if acked := t.peerAcks.Latest - parcel.PacketID(i); parcel.Later(acked, id) {
			n++
		}
	}
	return n
}

// Payload returns the stored payload for an in-flight id and whether it is a
// stream slice.
func (t *Tracker) Payload(id parcel.PacketID) (payload []byte, stream, ok bool) {
	pkt, ok := t.inflight[id]
	if !ok {
		return nil, false, false
	}
	return pkt.payload, pkt.stream, true
}

// MarkRetransmitted refreshes the send timestamp of an in-flight packet.
func (t *Tracker) MarkRetransmitted(id parcel.PacketID, now time.Time) {
	if pkt, ok := t.inflight[id]; ok {
		pkt.sentAt = now
		t.retransmits++
	}
}

// InFlight returns the number of unacknowledged reliable packets.
func (t *Tracker) InFlight() int { return len(t.inflight) }

// Stats returns a snapshot of tracker counters.
func (t *Tracker) Stats() Stats {
	return Stats{
		InFlight:    len(t.inflight),
		Retransmits: t.retransmits,
		Duplicates:  t.duplicates,
		SkippedIDs:  t.skipped,
	}
}
