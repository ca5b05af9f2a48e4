// Package parcel implements the bit-exact wire encoding of protocol parcels:
// a signal byte followed by signal-selected optional fields. Encoding and
// decoding are pure and never panic on attacker-controlled input.
//
// Layout, all integers little-endian:
//
//	signal (1)
//	connection id or handshake id (2), selected by the Connection bit
//	granted connection id (2), handshake accepts only
//	packet id (1), if Indexed
//	ack info (9: 1 latest id + 8 mask), if Acknowledge
//	message length (2) + message bytes, if Message
//	stream length (2) + stream bytes, if Stream
package parcel

import "encoding/binary"

// MaxPayload bounds a single message or stream slice so that any parcel fits
// a conventional UDP datagram.
const MaxPayload = 1024

// Parcel is one decoded protocol datagram.
type Parcel struct {
	Signal       Signal
	ConnectionID ConnectionID // valid when Signal.IsConnected()
	HandshakeID  HandshakeID  // valid otherwise
	GrantedID    ConnectionID // valid on handshake accepts
	PacketID     PacketID     // valid when Signal.IsIndexed()
	Ack          AckInfo      // valid when Signal.HasAck()
	Message      []byte       // non-nil iff Signal.HasMessage()
	Stream       []byte       // non-nil iff Signal.HasStream()
}

// Request builds a connection request parcel. Payload may be nil.
func Request(id HandshakeID, payload []byte) Parcel {
	p := Parcel{Signal: RequestSignal(), HandshakeID: id}
	if payload != nil {
		p.Signal = p.Signal.WithMessage()
		p.Message = payload
	}
	return p
}

// Accept builds a handshake accept parcel granting the provided connection id.
func Accept(id HandshakeID, granted ConnectionID) Parcel {
	return Parcel{Signal: AcceptSignal(), HandshakeID: id, GrantedID: granted}
}

// Deny builds a handshake deny parcel.
func Deny(id HandshakeID) Parcel {
	return Parcel{Signal: DenySignal(), HandshakeID: id}
}

// Connected builds a bare parcel for an established connection. Callers add
// index, ack and payload fields as needed.
func Connected(id ConnectionID) Parcel {
	return Parcel{Signal: ConnectedSignal(), ConnectionID: id}
}

// WithPacketID returns p carrying the provided reliable packet id.
func (p Parcel) WithPacketID(id PacketID) Parcel {
	p.Signal = p.Signal.Indexed()
	p.PacketID = id
	return p
}

// WithAck returns p carrying the provided acknowledgment info.
func (p Parcel) WithAck(ack AckInfo) Parcel {
	p.Signal = p.Signal.WithAck()
	p.Ack = ack
	return p
}

// WithMessage returns p carrying the provided message bytes.
func (p Parcel) WithMessage(msg []byte) Parcel {
	p.Signal = p.Signal.WithMessage()
	p.Message = msg
	return p
}

// WithStream returns p carrying the provided stream slice.
func (p Parcel) WithStream(b []byte) Parcel {
	p.Signal = p.Signal.WithStream()
	p.Stream = b
	return p
}

// EncodedSize returns the number of bytes Encode will produce.
func (p Parcel) EncodedSize() int {
	n := 3
	if p.Signal.IsAccept() {
		n += 2
	}
	if p.Signal.IsIndexed() {
		n++
	}
	if p.Signal.HasAck() {
		n += 9
	}
	if p.Signal.HasMessage() {
		n += 2 + len(p.Message)
	}
	if p.Signal.HasStream() {
		n += 2 + len(p.Stream)
	}
	return n
}

// Encode serializes the parcel into a fresh buffer.
func (p Parcel) Encode() []byte {
	buf := make([]byte, p.EncodedSize())
	buf[0] = byte(p.Signal)
	if p.Signal.IsConnected() {
		binary.LittleEndian.PutUint16(buf[1:], uint16(p.ConnectionID))
	} else {
		binary.LittleEndian.PutUint16(buf[1:], uint16(p.HandshakeID))
	}
	at := 3
	if p.Signal.IsAccept() {
		binary.LittleEndian.PutUint16(buf[at:], uint16(p.GrantedID))
		at += 2
	}
	if p.Signal.IsIndexed() {
		buf[at] = byte(p.PacketID)
		at++
	}
	if p.Signal.HasAck() {
		buf[at] = byte(p.Ack.Latest)
		binary.LittleEndian.PutUint64(buf[at+1:], p.Ack.Mask)
		at += 9
	}
	if p.Signal.HasMessage() {
		binary.LittleEndian.PutUint16(buf[at:], uint16(len(p.Message)))
		at += 2
		at += copy(buf[at:], p.Message)
	}
	if p.Signal.HasStream() {
		binary.LittleEndian.PutUint16(buf[at:], uint16(len(p.Stream)))
		at += 2
		copy(buf[at:], p.Stream)
	}
	return buf
}

// Decode parses one parcel from the provided buffer, validating the signal
// and every declared length before touching the contents. Any violation
// yields a *CodecError; the caller should drop the datagram.
func Decode(buf []byte) (Parcel, error) {
	if len(buf) < 3 {
		return Parcel{}, errTooShort
	}
	sig := Signal(buf[0])
	if err := sig.Validate(); err != nil {
		return Parcel{}, err
	}
	r := newReader(buf[1:])
	p := Parcel{Signal: sig}
	if sig.IsConnected() {
		p.ConnectionID = ConnectionID(r.u16())
	} else {
		p.HandshakeID = HandshakeID(r.u16())
	}
	if sig.IsAccept() {
		p.GrantedID = ConnectionID(r.u16())
	}
	if sig.IsIndexed() {
		p.PacketID = PacketID(r.u8())
	}
	if sig.HasAck() {
		p.Ack.Latest = PacketID(r.u8())
		p.Ack.Mask = r.u64()
	}
	if sig.HasMessage() {
		p.Message = r.bytes(int(r.u16()))
	}
	if sig.HasStream() {
		p.Stream = r.bytes(int(r.u16()))
	}
	if err := r.err(); err != nil {
		return Parcel{}, err
	}
	return p, nil
}
