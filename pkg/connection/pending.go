package connection

import (
	"crypto/rand"
	"encoding/binary"
	"time"

	"github.com/technomunk/gnet/pkg/parcel"
	"github.com/technomunk/gnet/pkg/transport"
)

// RandomHandshakeID draws a handshake id from crypto/rand. Randomness makes
// concurrent connection attempts from one client unlikely to collide.
func RandomHandshakeID() parcel.HandshakeID {
	var b [2]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand failing is unrecoverable for the process anyway
		panic(err)
	}
	return parcel.HandshakeID(binary.LittleEndian.Uint16(b[:]))
}

// Pending is a client-side connection attempt: a request has been sent and
// the server's answer is awaited. It is consumed by promotion; a Pending and
// the Connection it promotes into never coexist.
type Pending struct {
	handshakeID parcel.HandshakeID
	server      transport.Address
	payload     []byte
	params      Params

	firstSent time.Time
	lastSent  time.Time
	retries   int

	granted  parcel.ConnectionID
	accepted bool
	denied   bool

	// terminal latches the first Denied/TimedOut result so TryPromote never
	// flips back to a non-terminal answer.
	terminal error
	consumed bool
}

// Connect begins a connection attempt toward the server address and returns
// the attempt plus the encoded request parcel to transmit. The payload is
// handed to the server's accept policy verbatim and re-sent with every retry.
func Connect(id parcel.HandshakeID, server transport.Address, payload []byte, params Params, now time.Time) (*Pending, []byte) {
	p := &Pending{
		handshakeID: id,
		server:      server,
		payload:     payload,
		params:      params,
		firstSent:   now,
		lastSent:    now,
	}
	return p, p.request()
}

func (p *Pending) request() []byte {
	return parcel.Request(p.handshakeID, p.payload).Encode()
}

// HandshakeID returns the id identifying this attempt on the wire.
func (p *Pending) HandshakeID() parcel.HandshakeID { return p.handshakeID }

// Server returns the address the request was sent to.
func (p *Pending) Server() transport.Address { return p.server }

// Retries returns how many times the request has been re-sent.
func (p *Pending) Retries() int { return p.retries }

// Tick re-sends the connection request when the retry interval has elapsed
// without an answer. Returns nil when nothing should be transmitted.
func (p *Pending) Tick(now time.Time) []byte {
	if p.consumed || p.terminal != nil || p.accepted || p.denied {
		return nil
	}
	if now.Sub(p.firstSent) >= p.params.ConnectTimeout {
		return nil
	}
	if now.Sub(p.lastSent) < p.params.RetryInterval {
		return nil
	}
	p.lastSent = now
	p.retries++
	return p.request()
}

// OnReceive processes one datagram from the server. Anything other than an
// answer to this attempt's handshake id is dropped silently.
func (p *Pending) OnReceive(raw []byte) {
	if p.consumed || p.terminal != nil {
		return
	}
	pr, err := parcel.Decode(raw)
	if err != nil || !pr.Signal.IsAnswer() || pr.HandshakeID != p.handshakeID {
		return
	}
	if pr.Signal.IsAccept() {
		if !p.denied {
			p.granted = pr.GrantedID
			p.accepted = true
		}
		return
	}
	if !p.accepted {
		p.denied = true
	}
}

// TryPromote returns the established connection once the server's accept has
// been observed, consuming the attempt. Before an answer arrives it fails
// with ErrNotYetReady; an explicit denial yields ErrDenied and exceeding the
// connect timeout yields ErrTimedOut. Both are terminal and sticky.
func (p *Pending) TryPromote(now time.Time) (*Connection, error) {
	if p.consumed {
		return nil, ErrClosed
	}
	if p.terminal != nil {
		return nil, p.terminal
	}
	if p.denied {
		p.terminal = ErrDenied
		return nil, p.terminal
	}
	if p.accepted {
		p.consumed = true
		return New(p.granted, p.server, p.params), nil
	}
	if now.Sub(p.firstSent) >= p.params.ConnectTimeout {
		p.terminal = ErrTimedOut
		return nil, p.terminal
	}
	return nil, ErrNotYetReady
}
