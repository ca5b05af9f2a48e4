// Package endpoint drives the protocol over a datagram transport. One
// Endpoint owns a transport, demultiplexes inbound parcels to pending
// handshakes, established connections and an optional listener, and runs
// the tick schedule that produces retransmissions and standalone acks.
package endpoint

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/technomunk/gnet/pkg/connection"
	"github.com/technomunk/gnet/pkg/listen"
	"github.com/technomunk/gnet/pkg/parcel"
	"github.com/technomunk/gnet/pkg/transport"
)

// ErrUnknownConnection reports a send for a connection id the endpoint does
// not hold.
var ErrUnknownConnection = errors.New("endpoint: unknown connection")

// Handler receives application-level events. Calls are made from the
// endpoint loop after its internal lock is released, so handlers are free
// to call back into the endpoint, but they must not block for long.
type Handler interface {
	// HandleDelivery is invoked for every payload a connection surfaces.
	HandleDelivery(conn *connection.Connection, d connection.Delivery)
	// HandleEstablished is invoked when a connection becomes usable, both
	// for accepted inbound handshakes and promoted outbound ones.
	HandleEstablished(conn *connection.Connection)
	// HandleConnectFailed is invoked when an outbound handshake is denied
	// or times out.
	HandleConnectFailed(server transport.Address, err error)
}

// Options tune an Endpoint beyond its defaults.
type Options struct {
	// Params are applied to every connection the endpoint creates.
	Params connection.Params
	// Policy, when set, makes the endpoint answer inbound connection
	// requests. A nil policy ignores them.
	Policy listen.Policy
	// TickInterval is the cadence of the retransmission clock.
	TickInterval time.Duration
	// Logger defaults to zap.L().
	Logger *zap.Logger
}

const defaultTickInterval = 10 * time.Millisecond

// Endpoint binds the connection state machines to a transport.
//
// Dialed and accepted connections live in separate registries: ids are
// allocated by the accepting side, so an endpoint that both listens and
// dials can hold two distinct connections under the same id.
type Endpoint struct {
	tr      transport.Transport
	handler Handler
	params  connection.Params
	tick    time.Duration
	log     *zap.Logger

	mu       sync.Mutex
	listener *listen.Listener
	dialed   map[parcel.ConnectionID]*connection.Connection
	accepted map[parcel.ConnectionID]*connection.Connection
	pendings map[parcel.HandshakeID]*connection.Pending
	out      *outQueue
	events   []event
	closed   bool
}

// event is a handler notification collected under the lock and dispatched
// outside it.
type event struct {
	conn     *connection.Connection
	delivery connection.Delivery
	deliver  bool
	server   transport.Address
	err      error
}

func New(tr transport.Transport, handler Handler, opts Options) *Endpoint {
	if opts.Params == (connection.Params{}) {
		opts.Params = connection.DefaultParams()
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = defaultTickInterval
	}
	if opts.Logger == nil {
		opts.Logger = zap.L()
	}
	e := &Endpoint{
		tr:       tr,
		handler:  handler,
		params:   opts.Params,
		tick:     opts.TickInterval,
		log:      opts.Logger.With(zap.String("local", string(tr.LocalAddr()))),
		dialed:   make(map[parcel.ConnectionID]*connection.Connection),
		accepted: make(map[parcel.ConnectionID]*connection.Connection),
		pendings: make(map[parcel.HandshakeID]*connection.Pending),
		out:      newOutQueue(),
	}
	if opts.Policy != nil {
		e.listener = listen.New(opts.Policy, opts.Params)
	}
	return e
}

// LocalAddr returns the transport's local address.
func (e *Endpoint) LocalAddr() transport.Address { return e.tr.LocalAddr() }

// Run drives the endpoint until ctx is canceled or the transport fails.
func (e *Endpoint) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			e.shutdown()
			return ctx.Err()
		case d, ok := <-e.tr.Inbound():
			if !ok {
				e.shutdown()
				return errors.New("endpoint: transport closed")
			}
			e.onDatagram(d, time.Now())
		case now := <-ticker.C:
			e.onTick(now)
		}
	}
}

// Connect begins an outbound handshake towards server, carrying payload in
// the request. The result is reported through the handler.
func (e *Endpoint) Connect(server transport.Address, payload []byte) (parcel.HandshakeID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return 0, connection.ErrClosed
	}
	id := connection.RandomHandshakeID()
	for _, taken := e.pendings[id]; taken; _, taken = e.pendings[id] {
		id = connection.RandomHandshakeID()
	}
	p, request := connection.Connect(id, server, payload, e.params, time.Now())
	e.pendings[id] = p
	e.out.push(classControl, server, request)
	e.flushLocked()
	e.log.Debug("connect started", zap.Uint16("handshake", uint16(id)), zap.String("server", string(server)))
	return id, nil
}

// SendReliable sends payload over conn with delivery tracking. ErrWindowFull
// means 65 parcels are unacknowledged; retry after acks drain the window.
func (e *Endpoint) SendReliable(conn *connection.Connection, payload []byte) error {
	return e.send(conn, payload, (*connection.Connection).SendReliable)
}

// SendStream sends an ordered stream slice over conn.
func (e *Endpoint) SendStream(conn *connection.Connection, payload []byte) error {
	return e.send(conn, payload, (*connection.Connection).SendStream)
}

func (e *Endpoint) send(conn *connection.Connection, payload []byte, via func(*connection.Connection, []byte, time.Time) ([]byte, error)) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.holds(conn) {
		return ErrUnknownConnection
	}
	buf, err := via(conn, payload, time.Now())
	if err != nil {
		return err
	}
	e.out.push(classData, conn.Peer(), buf)
	e.flushLocked()
	return nil
}

// SendUnreliable sends payload over conn without delivery tracking.
func (e *Endpoint) SendUnreliable(conn *connection.Connection, payload []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.holds(conn) {
		return ErrUnknownConnection
	}
	buf, err := conn.SendUnreliable(payload)
	if err != nil {
		return err
	}
	e.out.push(classData, conn.Peer(), buf)
	e.flushLocked()
	return nil
}

// holds reports whether conn is registered with this endpoint. Caller holds
// the lock.
func (e *Endpoint) holds(conn *connection.Connection) bool {
	if conn == nil {
		return false
	}
	id := conn.ID()
	return e.dialed[id] == conn || e.accepted[id] == conn
}

// Dialed returns the promoted outbound connection the remote side granted
// the given id, if held.
func (e *Endpoint) Dialed(id parcel.ConnectionID) (*connection.Connection, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	conn, ok := e.dialed[id]
	return conn, ok
}

// Accepted returns the inbound connection the local listener allocated the
// given id, if held.
func (e *Endpoint) Accepted(id parcel.ConnectionID) (*connection.Connection, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	conn, ok := e.accepted[id]
	return conn, ok
}

// CloseConnection closes conn and drops it from the endpoint. In-flight
// parcels are abandoned; further operations on conn fail with ErrClosed.
func (e *Endpoint) CloseConnection(conn *connection.Connection) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if conn == nil {
		return
	}
	id := conn.ID()
	switch {
	case e.dialed[id] == conn:
		delete(e.dialed, id)
		conn.Close()
	case e.accepted[id] == conn:
		delete(e.accepted, id)
		if e.listener != nil {
			e.listener.CloseConnection(id)
		}
		conn.Close()
	default:
		return
	}
	e.log.Info("connection closed", zap.Uint16("conn", uint16(id)))
}

func (e *Endpoint) onDatagram(d transport.Datagram, now time.Time) {
	p, err := parcel.Decode(d.Payload)
	if err != nil {
		e.log.Debug("dropping malformed datagram",
			zap.String("from", string(d.From)), zap.Int("len", len(d.Payload)), zap.Error(err))
		return
	}
	e.mu.Lock()
	switch {
	case p.Signal.IsConnected():
		e.onConnected(p, d, now)
	case p.Signal.IsAnswer():
		e.onAnswer(p, d, now)
	default:
		e.onRequest(p, d)
	}
	e.flushLocked()
	events := e.events
	e.events = nil
	e.mu.Unlock()
	e.dispatch(events)
}

// dispatch delivers collected events to the handler outside the lock.
func (e *Endpoint) dispatch(events []event) {
	if e.handler == nil {
		return
	}
	for _, ev := range events {
		switch {
		case ev.deliver:
			e.handler.HandleDelivery(ev.conn, ev.delivery)
		case ev.conn != nil:
			e.handler.HandleEstablished(ev.conn)
		default:
			e.handler.HandleConnectFailed(ev.server, ev.err)
		}
	}
}

// route resolves an inbound indexed parcel to a held connection. A dialed
// connection matches only when the sender is the server it was dialed to;
// accepted connections match by id alone, so a peer surviving a NAT rebind
// keeps its connection.
func (e *Endpoint) route(id parcel.ConnectionID, from transport.Address) (*connection.Connection, bool) {
	if conn, ok := e.dialed[id]; ok && conn.Peer() == from {
		return conn, true
	}
	if conn, ok := e.accepted[id]; ok {
		return conn, true
	}
	conn, ok := e.dialed[id]
	return conn, ok
}

func (e *Endpoint) onConnected(p parcel.Parcel, d transport.Datagram, now time.Time) {
	conn, ok := e.route(p.ConnectionID, d.From)
	if !ok {
		e.log.Debug("parcel for unknown connection",
			zap.Uint16("conn", uint16(p.ConnectionID)), zap.String("from", string(d.From)))
		return
	}
	delivery, delivered, err := conn.OnReceive(d.Payload, now)
	if err != nil {
		return
	}
	if delivered {
		e.events = append(e.events, event{conn: conn, delivery: delivery, deliver: true})
	}
}

func (e *Endpoint) onAnswer(p parcel.Parcel, d transport.Datagram, now time.Time) {
	pending, ok := e.pendings[p.HandshakeID]
	if !ok {
		return
	}
	pending.OnReceive(d.Payload)
	e.resolvePending(p.HandshakeID, pending, now)
}

func (e *Endpoint) onRequest(p parcel.Parcel, d transport.Datagram) {
	if e.listener == nil {
		return
	}
	reply, conn, err := e.listener.OnConnectionRequest(p.HandshakeID, d.From, p.Message)
	if err != nil {
		e.log.Warn("connection request failed",
			zap.Uint16("handshake", uint16(p.HandshakeID)), zap.Error(err))
		return
	}
	if reply != nil {
		e.out.push(classControl, d.From, reply)
	}
	if conn != nil {
		e.accepted[conn.ID()] = conn
		e.log.Info("connection accepted",
			zap.Uint16("conn", uint16(conn.ID())), zap.String("peer", string(d.From)))
		e.events = append(e.events, event{conn: conn})
	}
}

// resolvePending promotes, fails or keeps a pending handshake. Caller holds
// the lock.
func (e *Endpoint) resolvePending(id parcel.HandshakeID, pending *connection.Pending, now time.Time) {
	conn, err := pending.TryPromote(now)
	switch {
	case err == nil:
		delete(e.pendings, id)
		e.dialed[conn.ID()] = conn
		e.log.Info("connection established",
			zap.Uint16("conn", uint16(conn.ID())), zap.String("peer", string(conn.Peer())))
		e.events = append(e.events, event{conn: conn})
	case errors.Is(err, connection.ErrNotYetReady):
	default:
		delete(e.pendings, id)
		e.log.Warn("connect failed", zap.String("server", string(pending.Server())), zap.Error(err))
		e.events = append(e.events, event{server: pending.Server(), err: err})
	}
}

func (e *Endpoint) onTick(now time.Time) {
	e.mu.Lock()
	for id, pending := range e.pendings {
		if request := pending.Tick(now); request != nil {
			e.out.push(classControl, pending.Server(), request)
		}
		e.resolvePending(id, pending, now)
	}
	for _, reg := range [2]map[parcel.ConnectionID]*connection.Connection{e.dialed, e.accepted} {
		for id, conn := range reg {
			bufs, err := conn.Tick(now)
			if err != nil {
				delete(reg, id)
				continue
			}
			for _, buf := range bufs {
				e.out.push(classData, conn.Peer(), buf)
			}
		}
	}
	e.flushLocked()
	events := e.events
	e.events = nil
	e.mu.Unlock()
	e.dispatch(events)
}

// flushLocked drains the outbound queue through the transport. Caller holds
// the lock.
func (e *Endpoint) flushLocked() {
	for {
		it, ok := e.out.pop()
		if !ok {
			return
		}
		if err := e.tr.Send(it.to, it.payload); err != nil {
			e.log.Debug("send failed", zap.String("to", string(it.to)), zap.Error(err))
		}
	}
}

func (e *Endpoint) shutdown() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	for _, reg := range [2]map[parcel.ConnectionID]*connection.Connection{e.dialed, e.accepted} {
		for id, conn := range reg {
			conn.Close()
			delete(reg, id)
		}
	}
	_ = e.tr.Close()
}
