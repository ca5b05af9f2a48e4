package connection

import (
	"bytes"
	"testing"
	"time"

	"github.com/technomunk/gnet/pkg/parcel"
)

func establishedPair(t *testing.T) (*Connection, *Connection) {
	t.Helper()
	a := New(1, "peer-b", DefaultParams())
	b := New(1, "peer-a", DefaultParams())
	return a, b
}

func TestReliableDeliveryAndAck(t *testing.T) {
	a, b := establishedPair(t)

	buf, err := a.SendReliable([]byte("hello"), t0)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	d, delivered, err := b.OnReceive(buf, at(10*time.Millisecond))
	if err != nil || !delivered {
		t.Fatalf("receive: delivered=%v err=%v", delivered, err)
	}
	if !bytes.Equal(d.Message, []byte("hello")) {
		t.Fatalf("delivered %q, want %q", d.Message, "hello")
	}

	// b owes an ack; its tick emits a standalone ack parcel.
	out, err := b.Tick(at(20 * time.Millisecond))
	if err != nil || len(out) != 1 {
		t.Fatalf("tick: %d buffers, err=%v", len(out), err)
	}
	if _, _, err := a.OnReceive(out[0], at(30*time.Millisecond)); err != nil {
		t.Fatalf("ack receive: %v", err)
	}
	if n := a.Stats().InFlight; n != 0 {
		t.Fatalf("in-flight after ack: %d, want 0", n)
	}
	if got := a.SmoothedRTT(); got != 30*time.Millisecond {
		t.Fatalf("smoothed RTT = %v, want 30ms", got)
	}
}

func TestDuplicateIndexedParcelDeliveredOnce(t *testing.T) {
	a, b := establishedPair(t)
	buf, _ := a.SendReliable([]byte("once"), t0)

	if _, delivered, _ := b.OnReceive(buf, at(time.Millisecond)); !delivered {
		t.Fatal("first copy not delivered")
	}
	if _, delivered, _ := b.OnReceive(buf, at(2*time.Millisecond)); delivered {
		t.Fatal("duplicate copy delivered twice")
	}
	// The duplicate still triggers a re-ack.
	if out, _ := b.Tick(at(3 * time.Millisecond)); len(out) != 1 {
		t.Fatalf("tick after duplicate: %d buffers, want 1 ack", len(out))
	}
}

func TestUnreliableDeliveredUnconditionally(t *testing.T) {
	a, b := establishedPair(t)
	buf, err := a.SendUnreliable([]byte("volatile"))
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	for i := 0; i < 3; i++ {
		d, delivered, err := b.OnReceive(buf, at(time.Duration(i)*time.Millisecond))
		if err != nil || !delivered || !bytes.Equal(d.Message, []byte("volatile")) {
			t.Fatalf("copy %d: delivered=%v err=%v msg=%q", i, delivered, err, d.Message)
		}
	}
	if n := a.Stats().InFlight; n != 0 {
		t.Fatalf("unreliable send tracked in-flight: %d", n)
	}
}

func TestNoHeadOfLineBlocking(t *testing.T) {
	a, b := establishedPair(t)
	first, _ := a.SendReliable([]byte("first"), t0)
	second, _ := a.SendReliable([]byte("second"), t0)
	_ = first // lost in transit

	d, delivered, err := b.OnReceive(second, at(time.Millisecond))
	if err != nil || !delivered {
		t.Fatalf("later parcel held back: delivered=%v err=%v", delivered, err)
	}
	if !bytes.Equal(d.Message, []byte("second")) {
		t.Fatalf("delivered %q, want %q", d.Message, "second")
	}
}

func TestWindowFullBackpressure(t *testing.T) {
	a, _ := establishedPair(t)
	for i := 0; i < MaxInFlight; i++ {
		if _, err := a.SendReliable([]byte{byte(i)}, t0); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}
	if _, err := a.SendReliable([]byte("overflow"), t0); err != ErrWindowFull {
		t.Fatalf("got %v, want ErrWindowFull", err)
	}
}

func TestTickRetransmitsAfterTimeout(t *testing.T) {
	a, b := establishedPair(t)

	// Establish a 100ms RTT estimate through one full exchange.
	buf, _ := a.SendReliable([]byte("warmup"), t0)
	_, _, _ = b.OnReceive(buf, at(100*time.Millisecond))
	acks, _ := b.Tick(at(100 * time.Millisecond))
	_, _, _ = a.OnReceive(acks[0], at(100*time.Millisecond))
	if got := a.SmoothedRTT(); got != 100*time.Millisecond {
		t.Fatalf("smoothed RTT = %v, want 100ms", got)
	}

	sendAt := at(time.Second)
	sent, _ := a.SendReliable([]byte("lossy"), sendAt)

	if out, _ := a.Tick(sendAt.Add(150 * time.Millisecond)); len(out) != 0 {
		t.Fatalf("retransmit before 2×RTT: %d buffers", len(out))
	}
	out, _ := a.Tick(sendAt.Add(201 * time.Millisecond))
	if len(out) != 1 {
		t.Fatalf("tick at +201ms: %d buffers, want 1 retransmit", len(out))
	}

	// Same id and payload as the original transmission.
	orig, _ := parcel.Decode(sent)
	re, err := parcel.Decode(out[0])
	if err != nil {
		t.Fatalf("decode retransmit: %v", err)
	}
	if re.PacketID != orig.PacketID || !bytes.Equal(re.Message, orig.Message) {
		t.Fatalf("retransmit changed id/payload: %d/%q vs %d/%q",
			re.PacketID, re.Message, orig.PacketID, orig.Message)
	}
}

func TestRetransmitUnaffectedByCallerBufferReuse(t *testing.T) {
	a, _ := establishedPair(t)

	buf := []byte("original")
	if _, err := a.SendReliable(buf, t0); err != nil {
		t.Fatalf("send: %v", err)
	}
	copy(buf, "mutated!")

	out, _ := a.Tick(at(time.Second))
	if len(out) != 1 {
		t.Fatalf("tick: %d buffers, want 1 retransmit", len(out))
	}
	re, err := parcel.Decode(out[0])
	if err != nil {
		t.Fatalf("decode retransmit: %v", err)
	}
	if !bytes.Equal(re.Message, []byte("original")) {
		t.Fatalf("retransmitted %q, want %q", re.Message, "original")
	}
}

func TestMalformedInputDroppedSilently(t *testing.T) {
	a, _ := establishedPair(t)
	inputs := [][]byte{
		nil,
		{0x00},
		{0xFF, 0x01},
		bytes.Repeat([]byte{0xA5}, 64),
		parcel.Deny(9).Encode(),        // handshake parcel on an established connection
		parcel.Connected(999).Encode(), // different connection id
	}
	for i, raw := range inputs {
		if _, delivered, err := a.OnReceive(raw, t0); delivered || err != nil {
			t.Fatalf("input %d: delivered=%v err=%v, want silent drop", i, delivered, err)
		}
	}
	if a.State() != StateEstablished {
		t.Fatal("malformed input closed the connection")
	}
}

func TestClosedConnectionFailsDeterministically(t *testing.T) {
	a, _ := establishedPair(t)
	a.Close()
	if _, err := a.SendReliable(nil, t0); err != ErrClosed {
		t.Fatalf("SendReliable: %v, want ErrClosed", err)
	}
	if _, err := a.SendUnreliable(nil); err != ErrClosed {
		t.Fatalf("SendUnreliable: %v, want ErrClosed", err)
	}
	if _, _, err := a.OnReceive(parcel.Connected(1).Encode(), t0); err != ErrClosed {
		t.Fatalf("OnReceive: %v, want ErrClosed", err)
	}
	if _, err := a.Tick(t0); err != ErrClosed {
		t.Fatalf("Tick: %v, want ErrClosed", err)
	}
}

func TestStreamSliceRoundtrip(t *testing.T) {
	a, b := establishedPair(t)
	buf, err := a.SendStream([]byte("slice-0"), t0)
	if err != nil {
		t.Fatalf("send stream: %v", err)
	}
	d, delivered, err := b.OnReceive(buf, at(time.Millisecond))
	if err != nil || !delivered {
		t.Fatalf("receive: delivered=%v err=%v", delivered, err)
	}
	if !bytes.Equal(d.Stream, []byte("slice-0")) || d.Message != nil {
		t.Fatalf("delivery = %+v, want stream slice only", d)
	}
}

func TestAckPiggybacksOnOutgoingParcels(t *testing.T) {
	a, b := establishedPair(t)
	buf, _ := a.SendReliable([]byte("ping"), t0)
	_, _, _ = b.OnReceive(buf, at(time.Millisecond))

	reply, _ := b.SendReliable([]byte("pong"), at(2*time.Millisecond))
	p, err := parcel.Decode(reply)
	if err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	if !p.Signal.HasAck() || !p.Ack.Acknowledges(1) {
		t.Fatalf("reply did not piggyback the ack: %+v", p)
	}

	// The piggyback satisfied the pending ack; tick stays quiet.
	if out, _ := b.Tick(at(3 * time.Millisecond)); len(out) != 0 {
		t.Fatalf("tick after piggyback: %d buffers, want 0", len(out))
	}
}
