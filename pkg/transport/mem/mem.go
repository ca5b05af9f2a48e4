// Package mem is an in-process datagram network. Endpoints attach to a
// shared Switch by name and exchange datagrams through it, with optional
// loss and reordering hooks for exercising the reliability layer in tests.
package mem

import (
	"errors"
	"fmt"
	"sync"

	"github.com/technomunk/gnet/pkg/transport"
)

// DropFunc decides whether a datagram in flight is discarded. It is invoked
// under the switch lock, so it must not call back into the switch.
type DropFunc func(from, to transport.Address, payload []byte) bool

// Switch routes datagrams between attached endpoints.
type Switch struct {
	mu    sync.Mutex
	ports map[transport.Address]*Transport
	drop  DropFunc
}

func NewSwitch() *Switch {
	return &Switch{ports: make(map[transport.Address]*Transport)}
}

// SetDrop installs a loss hook. Passing nil restores lossless delivery.
func (s *Switch) SetDrop(fn DropFunc) {
	s.mu.Lock()
	s.drop = fn
	s.mu.Unlock()
}

// Attach registers a new endpoint under the given address.
func (s *Switch) Attach(addr transport.Address) (*Transport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ports[addr]; ok {
		return nil, fmt.Errorf("mem: address %q already attached", addr)
	}
	t := &Transport{
		sw:      s,
		local:   addr,
		inbound: make(chan transport.Datagram, 64),
		closed:  make(chan struct{}),
	}
	s.ports[addr] = t
	return t, nil
}

func (s *Switch) route(from, to transport.Address, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	dst, ok := s.ports[to]
	if !ok {
		return fmt.Errorf("mem: no endpoint at %q", to)
	}
	if s.drop != nil && s.drop(from, to, payload) {
		return nil
	}
	pkt := make([]byte, len(payload))
	copy(pkt, payload)
	select {
	case dst.inbound <- transport.Datagram{From: from, Payload: pkt}:
	default:
		// Full receive queue behaves like network loss.
	}
	return nil
}

func (s *Switch) detach(addr transport.Address) {
	s.mu.Lock()
	delete(s.ports, addr)
	s.mu.Unlock()
}

// Transport is one endpoint on a Switch.
type Transport struct {
	sw      *Switch
	local   transport.Address
	inbound chan transport.Datagram

	closeOnce sync.Once
	closed    chan struct{}
}

func (t *Transport) Kind() transport.Kind               { return transport.KindMem }
func (t *Transport) LocalAddr() transport.Address       { return t.local }
func (t *Transport) Inbound() <-chan transport.Datagram { return t.inbound }

func (t *Transport) Send(to transport.Address, payload []byte) error {
	select {
	case <-t.closed:
		return errors.New("mem: transport closed")
	default:
	}
	return t.sw.route(t.local, to, payload)
}

func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		close(t.closed)
		t.sw.detach(t.local)
		close(t.inbound)
	})
	return nil
}
