// Package connection implements the reliability engine of a single virtual
// connection: the sliding-window packet tracker, round-trip estimation and
// the established/pending state machines. All operations are synchronous and
// non-blocking; the caller supplies every timestamp and owns all I/O.
package connection

import (
	"time"

	"github.com/technomunk/gnet/pkg/parcel"
	"github.com/technomunk/gnet/pkg/transport"
)

// State of a connection.
type State int

const (
	// StatePending marks a client-side connection awaiting the handshake
	// answer.
	StatePending State = iota
	// StateEstablished marks a live connection able to exchange payloads.
	StateEstablished
	// StateClosed is terminal; every operation fails with ErrClosed.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateEstablished:
		return "established"
	case StateClosed:
		return "closed"
	default:
		return "invalid"
	}
}

// Params are the per-connection protocol tunables.
type Params struct {
	// RTTSmoothing is the exponential moving average factor.
	RTTSmoothing float64
	// InitialTimeout is the retransmit timeout before any RTT sample.
	InitialTimeout time.Duration
	// MinRetransmitTimeout floors the derived retransmit timeout.
	MinRetransmitTimeout time.Duration
	// RetryInterval is how often a pending connection re-sends its request.
	RetryInterval time.Duration
	// ConnectTimeout bounds how long a pending connection waits for an
	// answer before giving up.
	ConnectTimeout time.Duration
}

// DefaultParams returns the tunables used when configuration supplies none.
func DefaultParams() Params {
	return Params{
		RTTSmoothing:         DefaultRTTSmoothing,
		InitialTimeout:       DefaultInitialTimeout,
		MinRetransmitTimeout: DefaultMinRetransmitTO,
		RetryInterval:        200 * time.Millisecond,
		ConnectTimeout:       5 * time.Second,
	}
}

// Delivery is the application-facing result of receiving one parcel.
type Delivery struct {
	// Message is a small standalone payload, nil when absent.
	Message []byte
	// Stream is an ordered stream slice, nil when absent. Reassembly is the
	// application's concern.
	Stream []byte
}

func (d Delivery) empty() bool { return d.Message == nil && d.Stream == nil }

// Connection is one established virtual connection. It owns the tracker and
// estimator for its session and produces ready-to-transmit byte buffers; the
// surrounding driving loop moves them through a transport. Not safe for
// concurrent use: shard by connection id instead of locking.
type Connection struct {
	id    parcel.ConnectionID
	peer  transport.Address
	state State

	tracker *Tracker
	rtt     *RTTEstimator
	nextID  parcel.PacketID

	// ackPending means a received reliable parcel has not been acknowledged
	// by any outgoing parcel yet.
	ackPending bool
}

// New constructs an established connection, as created by a listener accept
// or a successful client promotion.
func New(id parcel.ConnectionID, peer transport.Address, params Params) *Connection {
	return &Connection{
		id:      id,
		peer:    peer,
		state:   StateEstablished,
		tracker: NewTracker(),
		rtt:     NewRTTEstimator(params.RTTSmoothing, params.InitialTimeout, params.MinRetransmitTimeout),
		nextID:  1,
	}
}

// ID returns the connection id.
func (c *Connection) ID() parcel.ConnectionID { return c.id }

// Peer returns the remote address.
func (c *Connection) Peer() transport.Address { return c.peer }

// State returns the current connection state.
func (c *Connection) State() State { return c.state }

// SmoothedRTT returns the current round-trip estimate.
func (c *Connection) SmoothedRTT() time.Duration { return c.rtt.SmoothedRTT() }

// Stats returns a snapshot of the tracker counters.
func (c *Connection) Stats() Stats { return c.tracker.Stats() }

// SendReliable encodes payload as the next indexed parcel and records it for
// retransmission tracking. Fails with ErrWindowFull while 65 parcels are
// unacknowledged; acknowledging any one of them frees a slot.
func (c *Connection) SendReliable(payload []byte, now time.Time) ([]byte, error) {
	return c.sendTracked(payload, false, now)
}

// SendStream encodes an ordered stream slice as the next indexed parcel.
// Slices are retransmitted like reliable messages; ordering and reassembly
// happen above this layer.
func (c *Connection) SendStream(slice []byte, now time.Time) ([]byte, error) {
	return c.sendTracked(slice, true, now)
}

func (c *Connection) sendTracked(payload []byte, stream bool, now time.Time) ([]byte, error) {
	if c.state == StateClosed {
		return nil, ErrClosed
	}
	if len(payload) > parcel.MaxPayload {
		return nil, ErrPayloadTooLarge
	}
	id := c.nextID
	if err := c.tracker.RecordSent(id, payload, stream, now); err != nil {
		return nil, err
	}
	c.nextID++
	return c.encodeTracked(id, payload, stream), nil
}

// SendUnreliable encodes payload without an index: it is delivered
// best-effort and never retransmitted.
func (c *Connection) SendUnreliable(payload []byte) ([]byte, error) {
	if c.state == StateClosed {
		return nil, ErrClosed
	}
	if len(payload) > parcel.MaxPayload {
		return nil, ErrPayloadTooLarge
	}
	p := parcel.Connected(c.id).WithMessage(payload)
	if c.tracker.AckDue() {
		p = p.WithAck(c.tracker.OutgoingAck())
		c.ackPending = false
	}
	return p.Encode(), nil
}

// encodeTracked builds the wire form of an in-flight packet with the current
// acknowledgment state. Retransmissions therefore carry fresh AckInfo even
// though id and payload never change.
func (c *Connection) encodeTracked(id parcel.PacketID, payload []byte, stream bool) []byte {
	p := parcel.Connected(c.id).WithPacketID(id)
	if stream {
		p = p.WithStream(payload)
	} else {
		p = p.WithMessage(payload)
	}
	if c.tracker.AckDue() {
		p = p.WithAck(c.tracker.OutgoingAck())
		c.ackPending = false
	}
	return p.Encode()
}

// OnReceive processes one inbound datagram. Malformed input and parcels for
// other connections are dropped silently: delivered is false and err is nil.
// Only a closed connection yields an error.
func (c *Connection) OnReceive(raw []byte, now time.Time) (d Delivery, delivered bool, err error) {
	if c.state == StateClosed {
		return Delivery{}, false, ErrClosed
	}
	p, err := parcel.Decode(raw)
	if err != nil {
		return Delivery{}, false, nil
	}
	if !p.Signal.IsConnected() || p.ConnectionID != c.id {
		return Delivery{}, false, nil
	}
	if p.Signal.HasAck() {
		c.tracker.ApplyAck(p.Ack, now, c.rtt)
	}
	duplicate := false
	if p.Signal.IsIndexed() {
		duplicate = c.tracker.RecordReceived(p.PacketID)
		c.ackPending = true
	}
	if duplicate {
		return Delivery{}, false, nil
	}
	d = Delivery{Message: p.Message, Stream: p.Stream}
	return d, !d.empty(), nil
}

// Tick drives time-based behavior: it returns re-encoded buffers for every
// packet due for retransmission and, when an acknowledgment is owed and no
// outgoing parcel has carried it, a standalone ack parcel. The caller
// transmits every returned buffer.
func (c *Connection) Tick(now time.Time) ([][]byte, error) {
	if c.state == StateClosed {
		return nil, ErrClosed
	}
	var out [][]byte
	for _, id := range c.tracker.DetectLosses(now, c.rtt.RetransmitTimeout()) {
		payload, stream, ok := c.tracker.Payload(id)
		if !ok {
			continue
		}
		c.tracker.MarkRetransmitted(id, now)
		out = append(out, c.encodeTracked(id, payload, stream))
	}
	if c.ackPending && c.tracker.AckDue() {
		p := parcel.Connected(c.id).WithAck(c.tracker.OutgoingAck())
		c.ackPending = false
		out = append(out, p.Encode())
	}
	return out, nil
}

// Close transitions the connection to its terminal state. Dropping the
// connection invalidates all in-flight tracking immediately; there is no
// drain.
func (c *Connection) Close() {
	c.state = StateClosed
}
