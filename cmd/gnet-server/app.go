package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/technomunk/gnet/pkg/codec"
	"github.com/technomunk/gnet/pkg/config"
	"github.com/technomunk/gnet/pkg/connection"
	"github.com/technomunk/gnet/pkg/echo"
	"github.com/technomunk/gnet/pkg/endpoint"
	"github.com/technomunk/gnet/pkg/hello"
	"github.com/technomunk/gnet/pkg/identity"
	"github.com/technomunk/gnet/pkg/observability"
	"github.com/technomunk/gnet/pkg/transport"
	"github.com/technomunk/gnet/pkg/transport/quic"
	"github.com/technomunk/gnet/pkg/transport/udp"
)

// echoHandler answers every reliable ping with a pong carrying the same
// body, which makes the server usable as a connectivity and latency probe.
// Payloads that do not decode as pings are echoed back verbatim.
type echoHandler struct {
	ep   *endpoint.Endpoint
	msgs *echo.Marshaler
	node string
}

func (h *echoHandler) HandleDelivery(conn *connection.Connection, d connection.Delivery) {
	if d.Message == nil {
		return
	}
	reply := d.Message
	if ping, err := h.msgs.DecodePing(d.Message); err == nil {
		buf, err := h.msgs.EncodePong(echo.Pong{Seq: ping.Seq, Body: ping.Body, Node: h.node})
		if err != nil {
			zap.L().Warn("encode pong failed", zap.Error(err))
			return
		}
		reply = buf
	}
	zap.L().Debug("echoing message",
		zap.Uint16("conn", uint16(conn.ID())), zap.Int("len", len(reply)))
	if err := h.ep.SendReliable(conn, reply); err != nil {
		zap.L().Warn("echo failed", zap.Uint16("conn", uint16(conn.ID())), zap.Error(err))
	}
}

func (h *echoHandler) HandleEstablished(conn *connection.Connection) {
	zap.L().Info("peer connected",
		zap.Uint16("conn", uint16(conn.ID())), zap.String("peer", string(conn.Peer())))
}

func (h *echoHandler) HandleConnectFailed(server transport.Address, err error) {
	zap.L().Warn("dial failed", zap.String("server", string(server)), zap.Error(err))
}

// run is the main entry point after CLI parsing.
func run(opts Options) int {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		return 1
	}

	logger, err := observability.SetupLogger(cfg.Log)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to setup logger: " + err.Error() + "\n")
		return 1
	}
	defer func() { _ = logger.Sync() }()

	zap.L().Info("gnet-server started", zap.String("node", cfg.NodeName))

	priv, peerID, err := identity.LoadOrGenEd25519(cfg.Identity)
	if err != nil {
		zap.L().Error("failed to init identity", zap.Error(err))
		return 1
	}
	zap.L().Info("node identity", zap.String("peer_id", string(peerID)))

	registry, err := codec.NewRegistry()
	if err != nil {
		zap.L().Error("failed to init codecs", zap.Error(err))
		return 1
	}
	msgs, err := echo.NewMarshaler(registry)
	if err != nil {
		zap.L().Error("failed to init codecs", zap.Error(err))
		return 1
	}

	tr, err := newTransport(cfg.Transport)
	if err != nil {
		zap.L().Error("failed to start transport", zap.Error(err))
		return 1
	}
	zap.L().Info("listening",
		zap.String("kind", tr.Kind().String()), zap.String("addr", string(tr.LocalAddr())))

	handler := &echoHandler{msgs: msgs, node: cfg.NodeName}
	ep := endpoint.New(tr, handler, endpoint.Options{
		Params:       cfg.Protocol.Params(),
		Policy:       &hello.VerifyingPolicy{},
		TickInterval: cfg.Protocol.TickInterval(),
	})
	handler.ep = ep

	// Join configured peer servers on startup.
	for _, addr := range cfg.Transport.Dial {
		payload, err := hello.Build(cfg.NodeName, priv, time.Now())
		if err != nil {
			zap.L().Error("failed to build hello", zap.Error(err))
			return 1
		}
		if _, err := ep.Connect(transport.Address(addr), payload); err != nil {
			zap.L().Error("failed to dial peer", zap.String("server", addr), zap.Error(err))
			return 1
		}
		zap.L().Info("dialing peer", zap.String("server", addr))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := ep.Run(ctx); err != nil && ctx.Err() == nil {
		zap.L().Error("endpoint stopped", zap.Error(err))
		return 1
	}
	zap.L().Info("shutting down")
	return 0
}

func newTransport(tc config.TransportConfig) (transport.Transport, error) {
	switch tc.Kind {
	case "udp":
		return udp.Listen(tc.Listen)
	case "quic":
		return quic.Listen(tc.Listen)
	default:
		return nil, fmt.Errorf("transport kind %q is not usable across processes", tc.Kind)
	}
}
