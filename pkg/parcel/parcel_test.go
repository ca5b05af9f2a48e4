package parcel

import (
	"bytes"
	"testing"
)

func sampleParcels() []Parcel {
	ack := AckInfo{Latest: 200, Mask: 0xDEADBEEF}
	return []Parcel{
		Request(0x1234, nil),
		Request(0x1234, []byte("join please")),
		Accept(0x1234, 7),
		Deny(0x1234),
		Connected(7),
		Connected(7).WithPacketID(42),
		Connected(7).WithAck(ack),
		Connected(7).WithMessage([]byte("hi")),
		Connected(7).WithPacketID(42).WithAck(ack),
		Connected(7).WithPacketID(42).WithMessage([]byte("hi")),
		Connected(7).WithPacketID(42).WithStream([]byte("stream bytes")),
		Connected(7).WithPacketID(42).WithAck(ack).WithMessage([]byte("hi")).WithStream([]byte("s")),
	}
}

func TestEncodeDecodeRoundtrip(t *testing.T) {
	for i, want := range sampleParcels() {
		buf := want.Encode()
		if len(buf) != want.EncodedSize() {
			t.Fatalf("parcel %d: encoded %d bytes, EncodedSize says %d", i, len(buf), want.EncodedSize())
		}
		got, err := Decode(buf)
		if err != nil {
			t.Fatalf("parcel %d: decode: %v", i, err)
		}
		if got.Signal != want.Signal ||
			got.ConnectionID != want.ConnectionID ||
			got.HandshakeID != want.HandshakeID ||
			got.GrantedID != want.GrantedID ||
			got.PacketID != want.PacketID ||
			got.Ack != want.Ack ||
			!bytes.Equal(got.Message, want.Message) ||
			!bytes.Equal(got.Stream, want.Stream) {
			t.Fatalf("parcel %d: roundtrip mismatch: %#v vs %#v", i, got, want)
		}
		again := got.Encode()
		if !bytes.Equal(again, buf) {
			t.Fatalf("parcel %d: re-encode differs: %x vs %x", i, again, buf)
		}
	}
}

func TestDecodeRejectsEvenParity(t *testing.T) {
	for _, p := range sampleParcels() {
		buf := p.Encode()
		buf[0] ^= 0x80 // flip the parity bit
		if _, err := Decode(buf); err == nil {
			t.Fatalf("signal %08b with even parity accepted", buf[0])
		}
	}
}

func TestDecodeRejectsReservedBits(t *testing.T) {
	buf := Connected(7).Encode()
	buf[0] ^= 1<<5 | 1<<6 // keeps parity odd
	if _, err := Decode(buf); err == nil {
		t.Fatal("reserved bits set but parcel accepted")
	}
}

func TestDecodeRejectsInvalidCombinations(t *testing.T) {
	cases := []Signal{
		(sigConnection | sigStream).withParity(),          // stream without index
		sigAccept.withParity(),                            // accept without answer
		(sigAnswer | sigMessage).withParity(),             // message on an answer
		(sigAnswer | sigAccept | sigMessage).withParity(), // message on an accept
		sigStream.withParity(),                            // stream without connection
	}
	for _, sig := range cases {
		buf := []byte{byte(sig), 0, 0, 0, 0, 0, 0, 0}
		if _, err := Decode(buf); err == nil {
			t.Fatalf("signal %08b accepted", byte(sig))
		}
	}
}

func TestDecodeRejectsTruncatedBuffers(t *testing.T) {
	full := Connected(7).WithPacketID(1).WithAck(NewAckInfo(3)).WithMessage([]byte("hello")).Encode()
	for n := 0; n < len(full); n++ {
		if _, err := Decode(full[:n]); err == nil {
			t.Fatalf("truncated buffer of %d/%d bytes accepted", n, len(full))
		}
	}
}

func TestDecodeRejectsOverrunningLength(t *testing.T) {
	buf := Connected(7).WithMessage([]byte("hello")).Encode()
	buf[4] = 0xFF // declared message length far beyond the buffer
	_, err := Decode(buf)
	if err == nil {
		t.Fatal("declared length overruns buffer but parcel accepted")
	}
	if !IsCodecError(err) {
		t.Fatalf("overrun yielded %v, not a CodecError", err)
	}
}

func TestAckInfoRecordAndAcknowledge(t *testing.T) {
	a := NewAckInfo(12)
	if !a.Acknowledges(12) {
		t.Fatal("initial id not acknowledged")
	}
	a.Record(11)
	if !a.Acknowledges(11) || a.Latest != 12 {
		t.Fatalf("recording an older id misbehaved: %+v", a)
	}
	a.Record(13)
	if !a.Acknowledges(13) || !a.Acknowledges(12) || !a.Acknowledges(11) {
		t.Fatalf("advancing lost history: %+v", a)
	}
	if a.Latest != 13 {
		t.Fatalf("latest = %d, want 13", a.Latest)
	}
}

func TestAckInfoSequentialWrapAround(t *testing.T) {
	a := NewAckInfo(0)
	for i := 1; i <= 600; i++ {
		id := PacketID(i)
		if _, intact := a.Record(id); !intact {
			t.Fatalf("sequential record of %d lost history", id)
		}
		if !a.Acknowledges(id) || !a.Acknowledges(id-1) {
			t.Fatalf("id %d not acknowledged after recording", id)
		}
	}
}

func TestAckInfoReportsSkippedIds(t *testing.T) {
	a := NewAckInfo(12)
	if _, intact := a.Record(82); intact {
		t.Fatal("jump past the window did not report skipped ids")
	}
}

func TestAckInfoIgnoresAncientIds(t *testing.T) {
	a := NewAckInfo(200)
	advanced, intact := a.Record(100) // 100 ids behind, outside the window
	if advanced || !intact {
		t.Fatalf("ancient id moved the window: advanced=%v intact=%v", advanced, intact)
	}
	if a.Latest != 200 || a.Mask != 0 {
		t.Fatalf("ancient id mutated the window: %+v", a)
	}
}

func TestLater(t *testing.T) {
	cases := []struct {
		a, b PacketID
		want bool
	}{
		{1, 0, true},
		{0, 1, false},
		{0, 255, true}, // wrap
		{255, 0, false},
		{64, 0, true},
		{5, 5, false},
		{200, 100, true},
		{100, 200, false},
	}
	for _, c := range cases {
		if got := Later(c.a, c.b); got != c.want {
			t.Errorf("Later(%d, %d) = %v, want %v", c.a, c.b, got, c.want)
		}
	}
}
