// Package listen manages server-side connection establishment: it tracks
// pending handshakes, consults the application's accept policy and promotes
// accepted requests into established connections.
package listen

import (
	"github.com/technomunk/gnet/pkg/connection"
	"github.com/technomunk/gnet/pkg/parcel"
	"github.com/technomunk/gnet/pkg/transport"
)

// Decision is the application's verdict on a connection request.
type Decision int

const (
	// Ignore drops the request without a reply. The client keeps retrying
	// until its connect timeout; no bandwidth is spent on the answer.
	Ignore Decision = iota
	// Accept establishes a connection and answers with its id.
	Accept
	// Deny answers with an explicit denial, terminal for the client attempt.
	Deny
)

// Policy decides whether to accept an incoming connection request. Decide is
// called synchronously from the listener's receive path and must not block.
type Policy interface {
	Decide(id parcel.HandshakeID, from transport.Address, payload []byte) Decision
}

// PolicyFunc adapts a function to the Policy interface.
type PolicyFunc func(id parcel.HandshakeID, from transport.Address, payload []byte) Decision

func (f PolicyFunc) Decide(id parcel.HandshakeID, from transport.Address, payload []byte) Decision {
	return f(id, from, payload)
}

// answer remembers how a handshake id was answered so that client retries
// are idempotent: re-emitting the stored bytes never creates a second
// connection.
type answer struct {
	accepted bool
	conn     parcel.ConnectionID // valid when accepted
	reply    []byte
}

// Listener owns the handshake table and the registry of established
// server-side connections. Not safe for concurrent use; a driving loop must
// serialize access.
type Listener struct {
	policy Policy
	params connection.Params

	alloc    idAllocator
	conns    map[parcel.ConnectionID]*connection.Connection
	answered map[parcel.HandshakeID]*answer
}

// New constructs a listener deferring accept decisions to the provided
// policy.
func New(policy Policy, params connection.Params) *Listener {
	return &Listener{
		policy:   policy,
		params:   params,
		conns:    make(map[parcel.ConnectionID]*connection.Connection),
		answered: make(map[parcel.HandshakeID]*answer),
	}
}

// OnConnectionRequest handles one connection request parcel. The returned
// reply, when non-nil, must be transmitted to the requester; conn is non-nil
// exactly once per accepted handshake id, on the accepting call. Duplicate
// requests re-emit the remembered answer verbatim. Requests the policy
// ignores produce neither.
func (l *Listener) OnConnectionRequest(id parcel.HandshakeID, from transport.Address, payload []byte) (reply []byte, conn *connection.Connection, err error) {
	if a, ok := l.answered[id]; ok {
		return a.reply, nil, nil
	}
	switch l.policy.Decide(id, from, payload) {
	case Accept:
		cid, err := l.alloc.allocate()
		if err != nil {
			return nil, nil, err
		}
		conn = connection.New(cid, from, l.params)
		l.conns[cid] = conn
		reply = parcel.Accept(id, cid).Encode()
		l.answered[id] = &answer{accepted: true, conn: cid, reply: reply}
		return reply, conn, nil
	case Deny:
		reply = parcel.Deny(id).Encode()
		l.answered[id] = &answer{reply: reply}
		return reply, nil, nil
	default:
		return nil, nil, nil
	}
}

// Connection looks up an established connection by id.
func (l *Listener) Connection(id parcel.ConnectionID) (*connection.Connection, bool) {
	c, ok := l.conns[id]
	return c, ok
}

// Connections returns the live connection registry. The caller must not
// mutate it.
func (l *Listener) Connections() map[parcel.ConnectionID]*connection.Connection {
	return l.conns
}

// CloseConnection closes and unregisters a connection, releases its id for
// reuse and invalidates the handshake entry that created it.
func (l *Listener) CloseConnection(id parcel.ConnectionID) {
	c, ok := l.conns[id]
	if !ok {
		return
	}
	c.Close()
	delete(l.conns, id)
	l.alloc.release(id)
	for hid, a := range l.answered {
		if a.accepted && a.conn == id {
			delete(l.answered, hid)
			break
		}
	}
}
