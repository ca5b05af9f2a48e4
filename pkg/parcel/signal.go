package parcel

import "math/bits"

// Signal is the leading byte of every parcel. It selects which optional
// fields follow the id field and carries an odd-parity check bit.
//
//	bit 0  Connection   parcel belongs to an established connection
//	bit 1  Answer       (handshake) answer to a connection request
//	       Indexed      (connected) parcel carries a PacketID
//	bit 2  Accept       (handshake) the answered request was accepted
//	       Acknowledge  (connected) parcel carries an AckInfo
//	bit 3  Message      parcel carries message bytes
//	bit 4  Stream       parcel carries stream bytes
//	bit 5-6 reserved, must be zero
//	bit 7  parity, total set-bit count must be odd
type Signal uint8

const (
	sigConnection  Signal = 1 << 0
	sigAnswer      Signal = 1 << 1
	sigIndexed     Signal = 1 << 1
	sigAccept      Signal = 1 << 2
	sigAcknowledge Signal = 1 << 2
	sigMessage     Signal = 1 << 3
	sigStream      Signal = 1 << 4
	sigReserved    Signal = 3 << 5
	sigParity      Signal = 1 << 7
)

// RequestSignal signals a connection request. The id field carries the
// client-chosen handshake id.
func RequestSignal() Signal { return Signal(0).withParity() }

// AcceptSignal signals that a requested connection was accepted. The id field
// carries the handshake id, followed by the granted connection id.
func AcceptSignal() Signal { return (sigAnswer | sigAccept).withParity() }

// DenySignal signals that a requested connection was denied. The id field
// carries the handshake id of the denied request.
func DenySignal() Signal { return sigAnswer.withParity() }

// ConnectedSignal signals a parcel belonging to an established connection.
// The id field carries the connection id.
func ConnectedSignal() Signal { return sigConnection.withParity() }

// IsConnected reports whether the parcel belongs to an established connection.
func (s Signal) IsConnected() bool { return s&sigConnection != 0 }

// IsAnswer reports whether the parcel answers a connection request.
func (s Signal) IsAnswer() bool { return !s.IsConnected() && s&sigAnswer != 0 }

// IsAccept reports whether the parcel accepts a connection request.
func (s Signal) IsAccept() bool { return s.IsAnswer() && s&sigAccept != 0 }

// IsRequest reports whether the parcel requests a new connection.
func (s Signal) IsRequest() bool { return s&(sigConnection|sigAnswer) == 0 }

// IsIndexed reports whether the parcel carries a PacketID.
func (s Signal) IsIndexed() bool { return s.IsConnected() && s&sigIndexed != 0 }

// HasAck reports whether the parcel carries an AckInfo.
func (s Signal) HasAck() bool { return s.IsConnected() && s&sigAcknowledge != 0 }

// HasMessage reports whether the parcel carries message bytes.
func (s Signal) HasMessage() bool { return s&sigMessage != 0 }

// HasStream reports whether the parcel carries stream bytes.
func (s Signal) HasStream() bool { return s&sigStream != 0 }

// Indexed returns s with the Indexed bit set and parity fixed up.
// Only meaningful on connected signals.
func (s Signal) Indexed() Signal { return (s | sigIndexed).withParity() }

// WithAck returns s with the Acknowledge bit set and parity fixed up.
// Only meaningful on connected signals.
func (s Signal) WithAck() Signal { return (s | sigAcknowledge).withParity() }

// WithMessage returns s with the Message bit set and parity fixed up.
func (s Signal) WithMessage() Signal { return (s | sigMessage).withParity() }

// WithStream returns s with the Stream bit set and parity fixed up.
func (s Signal) WithStream() Signal { return (s | sigStream).withParity() }

func (s Signal) hasOddParity() bool { return bits.OnesCount8(uint8(s))&1 == 1 }

func (s Signal) withParity() Signal {
	if s.hasOddParity() {
		return s
	}
	return s ^ sigParity
}

// Validate checks that the bitpattern is a well-formed protocol signal.
// Received parcels with invalid signals must be dropped.
func (s Signal) Validate() error {
	if !s.hasOddParity() {
		return errBadParity
	}
	if s&sigReserved != 0 {
		return errReservedBits
	}
	if s.IsConnected() {
		if s&sigStream != 0 && s&sigIndexed == 0 {
			return errUnreliableStream
		}
		return nil
	}
	if s&sigStream != 0 {
		return errDisconnectedStream
	}
	if s&sigAccept != 0 && s&sigAnswer == 0 {
		return errAcceptWithoutAnswer
	}
	// The request app payload rides in the message field; answers carry none.
	if s&sigMessage != 0 && s&sigAnswer != 0 {
		return errAnswerWithMessage
	}
	return nil
}
