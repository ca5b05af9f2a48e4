package hello

import (
	"time"

	"go.uber.org/zap"

	"github.com/technomunk/gnet/pkg/listen"
	"github.com/technomunk/gnet/pkg/parcel"
	"github.com/technomunk/gnet/pkg/transport"
)

// VerifyingPolicy is a listener policy admitting only requests that carry a
// valid, fresh Hello. Requests with no payload or a broken signature are
// denied.
type VerifyingPolicy struct {
	// MaxSkew bounds hello timestamp drift; zero selects DefaultMaxSkew.
	MaxSkew time.Duration
	// Admit, when set, decides per verified peer. Nil admits every peer
	// with a valid hello.
	Admit func(id PeerID, h *Hello) bool
	// Logger defaults to zap.L().
	Logger *zap.Logger
}

func (p *VerifyingPolicy) Decide(id parcel.HandshakeID, from transport.Address, payload []byte) listen.Decision {
	log := p.Logger
	if log == nil {
		log = zap.L()
	}
	h, peer, err := Verify(payload, p.MaxSkew, time.Now())
	if err != nil {
		log.Warn("rejecting connection request",
			zap.Uint16("handshake", uint16(id)), zap.String("from", string(from)), zap.Error(err))
		return listen.Deny
	}
	if p.Admit != nil && !p.Admit(peer, h) {
		log.Info("peer not admitted",
			zap.String("peer", string(peer)), zap.String("from", string(from)))
		return listen.Deny
	}
	log.Info("peer verified",
		zap.String("peer", string(peer)), zap.String("name", h.Name), zap.String("from", string(from)))
	return listen.Accept
}
