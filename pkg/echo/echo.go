// Package echo defines the application payloads the demo binaries exchange
// above the parcel framing, marshaled through the codec registry.
package echo

import (
	"fmt"

	"github.com/technomunk/gnet/pkg/codec"
)

// ContentType is the codec both demo binaries marshal with.
const ContentType = "application/cbor"

// Ping is a client request carrying a body to be echoed.
type Ping struct {
	Seq  uint32 `json:"seq" cbor:"1,keyasint"`
	Body string `json:"body" cbor:"2,keyasint"`
}

// Pong mirrors a Ping back, stamped with the answering node's name.
type Pong struct {
	Seq  uint32 `json:"seq" cbor:"1,keyasint"`
	Body string `json:"body" cbor:"2,keyasint"`
	Node string `json:"node" cbor:"3,keyasint"`
}

// Marshaler binds the registry's codec for ContentType.
type Marshaler struct {
	c codec.Codec
}

func NewMarshaler(r *codec.Registry) (*Marshaler, error) {
	c := r.Get(ContentType)
	if c == nil {
		return nil, fmt.Errorf("no codec registered for %q", ContentType)
	}
	return &Marshaler{c: c}, nil
}

func (m *Marshaler) EncodePing(p Ping) ([]byte, error) { return m.c.Marshal(p) }
func (m *Marshaler) EncodePong(p Pong) ([]byte, error) { return m.c.Marshal(p) }

func (m *Marshaler) DecodePing(data []byte) (Ping, error) {
	var p Ping
	err := m.c.Unmarshal(data, &p)
	return p, err
}

func (m *Marshaler) DecodePong(data []byte) (Pong, error) {
	var p Pong
	err := m.c.Unmarshal(data, &p)
	return p, err
}
