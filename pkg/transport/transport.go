// Package transport defines the datagram transport consumed by the protocol
// core. Implementations move opaque byte buffers between endpoints; they
// never inspect parcel contents.
package transport

// Kind identifies the transport/link type for configuration and logging.
type Kind int

const (
	KindUnknown Kind = iota
	KindUDP
	KindQUIC
	KindMem
)

func (k Kind) String() string {
	switch k {
	case KindUDP:
		return "udp"
	case KindQUIC:
		return "quic"
	case KindMem:
		return "mem"
	default:
		return "unknown"
	}
}

// ParseKind maps a configuration string to a Kind.
func ParseKind(s string) Kind {
	switch s {
	case "udp":
		return KindUDP
	case "quic":
		return KindQUIC
	case "mem":
		return KindMem
	default:
		return KindUnknown
	}
}

// Address is an opaque network endpoint identifier. The core uses it only as
// a map key and send destination; it never parses one.
type Address string

// Datagram is one inbound datagram and its origin.
type Datagram struct {
	From    Address
	Payload []byte
}

// Transport moves datagrams for one local endpoint. Send must not block on
// the network for longer than a datagram write; delivery is best-effort,
// reliability lives above in the connection layer.
type Transport interface {
	Kind() Kind
	// Send transmits one datagram to the destination address.
	Send(to Address, payload []byte) error
	// Inbound yields received datagrams. The channel closes when the
	// transport shuts down.
	Inbound() <-chan Datagram
	// LocalAddr returns the bound local address.
	LocalAddr() Address
	Close() error
}
