// Package udp carries parcels over plain UDP sockets.
package udp

import (
	"errors"
	"net"
	"sync"

	"github.com/technomunk/gnet/pkg/transport"
)

const maxDatagram = 64 * 1024

// Transport is a datagram transport backed by a single UDP socket. Incoming
// datagrams are read by a background loop and surfaced on Inbound.
type Transport struct {
	conn    *net.UDPConn
	inbound chan transport.Datagram

	mu    sync.Mutex
	dests map[transport.Address]*net.UDPAddr

	closeOnce sync.Once
	closed    chan struct{}
}

// Listen binds a UDP socket on the given address and starts reading from it.
// Use ":0" for an ephemeral client-side port.
func Listen(address string) (*Transport, error) {
	laddr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, err
	}
	t := &Transport{
		conn:    conn,
		inbound: make(chan transport.Datagram, 64),
		dests:   make(map[transport.Address]*net.UDPAddr),
		closed:  make(chan struct{}),
	}
	go t.readLoop()
	return t, nil
}

func (t *Transport) Kind() transport.Kind { return transport.KindUDP }

func (t *Transport) LocalAddr() transport.Address {
	return transport.Address(t.conn.LocalAddr().String())
}

func (t *Transport) Inbound() <-chan transport.Datagram { return t.inbound }

func (t *Transport) Send(to transport.Address, payload []byte) error {
	select {
	case <-t.closed:
		return errors.New("udp: transport closed")
	default:
	}
	raddr, err := t.resolve(to)
	if err != nil {
		return err
	}
	_, err = t.conn.WriteToUDP(payload, raddr)
	return err
}

func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.closed)
		err = t.conn.Close()
	})
	return err
}

// resolve caches destination lookups; peers are addressed repeatedly and
// resolving on every send is wasteful.
func (t *Transport) resolve(to transport.Address) (*net.UDPAddr, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if raddr, ok := t.dests[to]; ok {
		return raddr, nil
	}
	raddr, err := net.ResolveUDPAddr("udp", string(to))
	if err != nil {
		return nil, err
	}
	t.dests[to] = raddr
	return raddr, nil
}

func (t *Transport) readLoop() {
	buf := make([]byte, maxDatagram)
	for {
		n, raddr, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-t.closed:
			default:
				_ = t.Close()
			}
			close(t.inbound)
			return
		}
		pkt := make([]byte, n)
		copy(pkt, buf[:n])
		d := transport.Datagram{From: transport.Address(raddr.String()), Payload: pkt}
		// Drop on the floor when the consumer lags; reliability is handled
		// a layer up, the same as a genuine network loss.
		select {
		case t.inbound <- d:
		default:
		}
	}
}
