// gnet-client connects to a gnet server, sends a message over the reliable
// channel and waits for the echoed reply.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/technomunk/gnet/pkg/codec"
	"github.com/technomunk/gnet/pkg/config"
	"github.com/technomunk/gnet/pkg/connection"
	"github.com/technomunk/gnet/pkg/echo"
	"github.com/technomunk/gnet/pkg/endpoint"
	"github.com/technomunk/gnet/pkg/hello"
	"github.com/technomunk/gnet/pkg/identity"
	"github.com/technomunk/gnet/pkg/transport"
	"github.com/technomunk/gnet/pkg/transport/quic"
	"github.com/technomunk/gnet/pkg/transport/udp"
)

type clientHandler struct {
	established chan *connection.Connection
	replies     chan []byte
	failures    chan error
}

func (h *clientHandler) HandleDelivery(_ *connection.Connection, d connection.Delivery) {
	if d.Message != nil {
		h.replies <- d.Message
	}
}

func (h *clientHandler) HandleEstablished(conn *connection.Connection) {
	h.established <- conn
}

func (h *clientHandler) HandleConnectFailed(_ transport.Address, err error) {
	h.failures <- err
}

func main() {
	kind := flag.String("kind", "udp", "transport kind: udp|quic")
	addr := flag.String("addr", "127.0.0.1:7777", "server address")
	name := flag.String("name", "client", "logical node name")
	privKey := flag.String("priv", "", "base64url ed25519 private key (optional)")
	msg := flag.String("message", "hello gnet", "message to send after the handshake")
	count := flag.Int("count", 1, "how many messages to send")
	timeout := flag.Duration("timeout", 10*time.Second, "overall timeout")
	flag.Parse()

	logger, _ := zap.NewDevelopment()
	zap.ReplaceGlobals(logger)
	defer logger.Sync()

	if err := runClient(*kind, *addr, *name, *privKey, *msg, *count, *timeout); err != nil {
		zap.L().Error("client failed", zap.Error(err))
		os.Exit(1)
	}
}

func runClient(kind, addr, name, privKey, msg string, count int, timeout time.Duration) error {
	priv, peerID, err := identity.LoadOrGenEd25519(config.IdentityConfig{Alg: "ed25519", PrivateKey: privKey})
	if err != nil {
		return err
	}
	zap.L().Info("client identity", zap.String("peer_id", string(peerID)))

	registry, err := codec.NewRegistry()
	if err != nil {
		return err
	}
	msgs, err := echo.NewMarshaler(registry)
	if err != nil {
		return err
	}

	var tr transport.Transport
	switch kind {
	case "udp":
		tr, err = udp.Listen(":0")
	case "quic":
		tr, err = quic.Listen(":0")
	default:
		return fmt.Errorf("unsupported transport kind %q", kind)
	}
	if err != nil {
		return err
	}

	handler := &clientHandler{
		established: make(chan *connection.Connection, 1),
		replies:     make(chan []byte, 16),
		failures:    make(chan error, 1),
	}
	ep := endpoint.New(tr, handler, endpoint.Options{})

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	go func() { _ = ep.Run(ctx) }()

	payload, err := hello.Build(name, priv, time.Now())
	if err != nil {
		return err
	}
	if _, err := ep.Connect(transport.Address(addr), payload); err != nil {
		return err
	}

	var conn *connection.Connection
	select {
	case conn = <-handler.established:
		zap.L().Info("connected",
			zap.Uint16("conn", uint16(conn.ID())), zap.String("server", addr))
	case err := <-handler.failures:
		return err
	case <-ctx.Done():
		return fmt.Errorf("no answer from %s", addr)
	}

	for i := 0; i < count; i++ {
		ping := echo.Ping{Seq: uint32(i + 1), Body: msg}
		buf, err := msgs.EncodePing(ping)
		if err != nil {
			return fmt.Errorf("encode %d: %w", i+1, err)
		}
		if err := ep.SendReliable(conn, buf); err != nil {
			return fmt.Errorf("send %d: %w", i+1, err)
		}
		select {
		case reply := <-handler.replies:
			pong, err := msgs.DecodePong(reply)
			if err != nil {
				return fmt.Errorf("decode reply %d: %w", i+1, err)
			}
			if pong.Seq != ping.Seq {
				return fmt.Errorf("reply %d answers seq %d", i+1, pong.Seq)
			}
			fmt.Printf("reply from %s: %s\n", pong.Node, pong.Body)
		case <-ctx.Done():
			return fmt.Errorf("no reply to message %d", i+1)
		}
	}
	zap.L().Info("done",
		zap.Int("sent", count), zap.Duration("rtt", conn.SmoothedRTT()))
	return nil
}
