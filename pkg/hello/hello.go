// Package hello defines the signed introduction a client carries in its
// connection request. It binds an ed25519 public key to a logical node
// name with a fresh nonce and timestamp, so a listener policy can admit
// peers by identity instead of network address.
package hello

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	cbor "github.com/fxamacker/cbor/v2"
)

// Hello is the request payload, encoded as canonical CBOR with integer keys
// to keep it small on the wire.
type Hello struct {
	Version   uint32 `cbor:"1,keyasint"`
	Name      string `cbor:"2,keyasint,omitempty"`
	Alg       string `cbor:"3,keyasint"`
	PubKey    []byte `cbor:"4,keyasint"`
	Nonce     []byte `cbor:"5,keyasint"`
	Timestamp int64  `cbor:"6,keyasint"`
	Sig       []byte `cbor:"7,keyasint"`
}

// PeerID identifies a peer by its public key: pk:<alg>:<base64url-nopad>.
type PeerID string

// IDFromPubKey constructs the canonical peer id for a public key.
func IDFromPubKey(alg string, pub []byte) PeerID {
	alg = strings.ToLower(strings.TrimSpace(alg))
	return PeerID("pk:" + alg + ":" + base64.RawURLEncoding.EncodeToString(pub))
}

var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
}

// Build constructs, signs and encodes a Hello for the given identity.
func Build(name string, priv ed25519.PrivateKey, now time.Time) ([]byte, error) {
	pub := priv.Public().(ed25519.PublicKey)
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	h := Hello{
		Version:   1,
		Name:      name,
		Alg:       "ed25519",
		PubKey:    append([]byte(nil), pub...),
		Nonce:     nonce,
		Timestamp: now.UnixMilli(),
	}
	h.Sig = ed25519.Sign(priv, transcript(h.Alg, h.PubKey, h.Nonce, h.Timestamp, h.Name))
	return encMode.Marshal(h)
}

// DefaultMaxSkew bounds how far a hello timestamp may drift from local time.
const DefaultMaxSkew = 5 * time.Minute

// Verify decodes payload and checks its signature and freshness. maxSkew
// zero or negative selects DefaultMaxSkew.
func Verify(payload []byte, maxSkew time.Duration, now time.Time) (*Hello, PeerID, error) {
	var h Hello
	if err := cbor.Unmarshal(payload, &h); err != nil {
		return nil, "", fmt.Errorf("hello: decode: %w", err)
	}
	if h.Alg != "ed25519" {
		return nil, "", fmt.Errorf("hello: unsupported alg %q", h.Alg)
	}
	if len(h.PubKey) != ed25519.PublicKeySize {
		return nil, "", errors.New("hello: bad pubkey length")
	}
	if len(h.Sig) != ed25519.SignatureSize {
		return nil, "", errors.New("hello: bad signature length")
	}
	if maxSkew <= 0 {
		maxSkew = DefaultMaxSkew
	}
	if dt := now.UnixMilli() - h.Timestamp; dt > maxSkew.Milliseconds() || dt < -maxSkew.Milliseconds() {
		return nil, "", errors.New("hello: timestamp out of bounds")
	}
	if !ed25519.Verify(ed25519.PublicKey(h.PubKey), transcript(h.Alg, h.PubKey, h.Nonce, h.Timestamp, h.Name), h.Sig) {
		return nil, "", errors.New("hello: signature invalid")
	}
	return &h, IDFromPubKey(h.Alg, h.PubKey), nil
}

// transcript builds the canonical byte string covered by the signature:
//
//	gnet:hello|v=1|alg=<alg>|ts=<unix_ms>|pub=<b64url>|nonce=<b64url>|name=<name>
func transcript(alg string, pub, nonce []byte, tsUnixMS int64, name string) []byte {
	b64 := base64.RawURLEncoding
	var sb strings.Builder
	sb.Grow(64 + len(name))
	sb.WriteString("gnet:hello|v=1|alg=")
	sb.WriteString(strings.ToLower(strings.TrimSpace(alg)))
	sb.WriteString("|ts=")
	sb.WriteString(strconv.FormatInt(tsUnixMS, 10))
	sb.WriteString("|pub=")
	sb.WriteString(b64.EncodeToString(pub))
	sb.WriteString("|nonce=")
	sb.WriteString(b64.EncodeToString(nonce))
	sb.WriteString("|name=")
	sb.WriteString(name)
	return []byte(sb.String())
}
