// Package quic carries parcels as QUIC DATAGRAM frames. Each peer pair
// shares one QUIC connection; the parcel layer on top supplies its own
// reliability, so streams are never opened.
package quic

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"math/big"
	"net"
	"sync"
	"time"

	quicgo "github.com/quic-go/quic-go"

	"github.com/technomunk/gnet/pkg/transport"
)

const alpnProto = "gnet"

// Transport multiplexes datagram exchange over QUIC connections, dialing
// peers lazily on first send and accepting inbound connections when
// constructed with Listen.
type Transport struct {
	qt       *quicgo.Transport
	listener *quicgo.Listener
	tlsConf  *tls.Config
	quicConf *quicgo.Config
	inbound  chan transport.Datagram

	mu    sync.Mutex
	conns map[transport.Address]quicgo.Connection

	// wg counts the accept and receive loops; inbound closes only after
	// every sender has exited.
	wg        sync.WaitGroup
	closeOnce sync.Once
	closed    chan struct{}
}

// Listen binds a UDP socket, serves inbound QUIC connections on it and
// reuses it for outbound dials. Use ":0" for a client-side endpoint; it
// still listens, which keeps connectivity symmetric.
func Listen(address string) (*Transport, error) {
	laddr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, err
	}
	udpConn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, err
	}
	cert, err := selfSignedCert()
	if err != nil {
		_ = udpConn.Close()
		return nil, err
	}
	t := &Transport{
		qt: &quicgo.Transport{Conn: udpConn},
		tlsConf: &tls.Config{
			Certificates: []tls.Certificate{cert},
			NextProtos:   []string{alpnProto},
			MinVersion:   tls.VersionTLS13,
		},
		quicConf: &quicgo.Config{EnableDatagrams: true},
		inbound:  make(chan transport.Datagram, 64),
		conns:    make(map[transport.Address]quicgo.Connection),
		closed:   make(chan struct{}),
	}
	t.listener, err = t.qt.Listen(t.tlsConf, t.quicConf)
	if err != nil {
		_ = udpConn.Close()
		return nil, err
	}
	t.wg.Add(1)
	go t.acceptLoop()
	go func() {
		t.wg.Wait()
		close(t.inbound)
	}()
	return t, nil
}

func (t *Transport) Kind() transport.Kind { return transport.KindQUIC }

func (t *Transport) LocalAddr() transport.Address {
	return transport.Address(t.listener.Addr().String())
}

func (t *Transport) Inbound() <-chan transport.Datagram { return t.inbound }

func (t *Transport) Send(to transport.Address, payload []byte) error {
	conn, err := t.connTo(to)
	if err != nil {
		return err
	}
	if err := conn.SendDatagram(payload); err != nil {
		// The connection may have died since we cached it. Forget it so
		// the next send redials; this send is lost, like any dropped packet.
		t.forget(to, conn)
		return err
	}
	return nil
}

func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.closed)
		t.mu.Lock()
		for _, c := range t.conns {
			_ = c.CloseWithError(0, "shutdown")
		}
		t.conns = nil
		t.mu.Unlock()
		err = t.listener.Close()
		_ = t.qt.Close()
	})
	return err
}

func (t *Transport) connTo(to transport.Address) (quicgo.Connection, error) {
	t.mu.Lock()
	if t.conns == nil {
		t.mu.Unlock()
		return nil, errors.New("quic: transport closed")
	}
	if c, ok := t.conns[to]; ok {
		t.mu.Unlock()
		return c, nil
	}
	t.mu.Unlock()

	raddr, err := net.ResolveUDPAddr("udp", string(to))
	if err != nil {
		return nil, err
	}
	// Peer identity is established by the handshake payload a layer up,
	// not by the transport certificate.
	clientTLS := &tls.Config{
		InsecureSkipVerify: true,
		NextProtos:         []string{alpnProto},
		MinVersion:         tls.VersionTLS13,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := t.qt.Dial(ctx, raddr, clientTLS, t.quicConf)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	if t.conns == nil {
		t.mu.Unlock()
		_ = conn.CloseWithError(0, "shutdown")
		return nil, errors.New("quic: transport closed")
	}
	if prior, ok := t.conns[to]; ok {
		// A concurrent dial or inbound accept won the race.
		t.mu.Unlock()
		_ = conn.CloseWithError(0, "duplicate")
		return prior, nil
	}
	t.conns[to] = conn
	t.wg.Add(1)
	t.mu.Unlock()
	go t.recvLoop(to, conn)
	return conn, nil
}

func (t *Transport) forget(addr transport.Address, conn quicgo.Connection) {
	t.mu.Lock()
	if t.conns != nil && t.conns[addr] == conn {
		delete(t.conns, addr)
	}
	t.mu.Unlock()
}

func (t *Transport) acceptLoop() {
	defer t.wg.Done()
	for {
		conn, err := t.listener.Accept(context.Background())
		if err != nil {
			select {
			case <-t.closed:
			default:
				_ = t.Close()
			}
			return
		}
		addr := transport.Address(conn.RemoteAddr().String())
		t.mu.Lock()
		if t.conns == nil {
			t.mu.Unlock()
			_ = conn.CloseWithError(0, "shutdown")
			return
		}
		if prior, ok := t.conns[addr]; ok {
			_ = prior.CloseWithError(0, "superseded")
		}
		t.conns[addr] = conn
		t.wg.Add(1)
		t.mu.Unlock()
		go t.recvLoop(addr, conn)
	}
}

func (t *Transport) recvLoop(addr transport.Address, conn quicgo.Connection) {
	defer t.wg.Done()
	for {
		payload, err := conn.ReceiveDatagram(context.Background())
		if err != nil {
			t.forget(addr, conn)
			return
		}
		// Drop when the consumer lags, like any network loss.
		select {
		case t.inbound <- transport.Datagram{From: addr, Payload: payload}:
		default:
		}
	}
}

// selfSignedCert generates an ephemeral certificate for the QUIC handshake.
func selfSignedCert() (tls.Certificate, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return tls.Certificate{}, err
	}
	tmpl := x509.Certificate{
		SerialNumber:          big.NewInt(time.Now().UnixNano()),
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{"localhost"},
	}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, pub, priv)
	if err != nil {
		return tls.Certificate{}, err
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: priv}, nil
}
