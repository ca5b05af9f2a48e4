package hello

import (
	"crypto/ed25519"
	"crypto/rand"
	"strings"
	"testing"
	"time"

	"github.com/technomunk/gnet/pkg/listen"
)

func genKey(t *testing.T) ed25519.PrivateKey {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	return priv
}

func TestBuildVerifyRoundtrip(t *testing.T) {
	priv := genKey(t)
	now := time.Now()
	payload, err := Build("node-a", priv, now)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	h, peer, err := Verify(payload, 0, now)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if h.Name != "node-a" {
		t.Fatalf("name = %q", h.Name)
	}
	if !strings.HasPrefix(string(peer), "pk:ed25519:") {
		t.Fatalf("peer id = %q", peer)
	}
}

func TestVerifyRejectsTampering(t *testing.T) {
	priv := genKey(t)
	now := time.Now()
	payload, _ := Build("node-a", priv, now)
	// Flip a byte somewhere in the middle of the encoding.
	payload[len(payload)/2] ^= 0x01
	if _, _, err := Verify(payload, 0, now); err == nil {
		t.Fatal("tampered hello verified")
	}
}

func TestVerifyRejectsStaleTimestamp(t *testing.T) {
	priv := genKey(t)
	now := time.Now()
	payload, _ := Build("node-a", priv, now)
	if _, _, err := Verify(payload, 0, now.Add(6*time.Minute)); err == nil {
		t.Fatal("stale hello verified")
	}
	if _, _, err := Verify(payload, time.Hour, now.Add(6*time.Minute)); err != nil {
		t.Fatalf("hello within widened skew rejected: %v", err)
	}
}

func TestVerifyRejectsGarbage(t *testing.T) {
	if _, _, err := Verify([]byte("not cbor"), 0, time.Now()); err == nil {
		t.Fatal("garbage verified")
	}
	if _, _, err := Verify(nil, 0, time.Now()); err == nil {
		t.Fatal("empty payload verified")
	}
}

func TestPeerIDIsStablePerKey(t *testing.T) {
	priv := genKey(t)
	now := time.Now()
	p1, _ := Build("a", priv, now)
	p2, _ := Build("b", priv, now)
	_, id1, err := Verify(p1, 0, now)
	if err != nil {
		t.Fatal(err)
	}
	_, id2, err := Verify(p2, 0, now)
	if err != nil {
		t.Fatal(err)
	}
	if id1 != id2 {
		t.Fatalf("same key yielded different ids: %q vs %q", id1, id2)
	}
}

func TestVerifyingPolicy(t *testing.T) {
	priv := genKey(t)
	payload, _ := Build("node-a", priv, time.Now())
	pol := &VerifyingPolicy{}
	if d := pol.Decide(1, "client", payload); d != listen.Accept {
		t.Fatalf("valid hello decision = %v", d)
	}
	if d := pol.Decide(1, "client", []byte("junk")); d != listen.Deny {
		t.Fatalf("junk decision = %v", d)
	}

	pol.Admit = func(PeerID, *Hello) bool { return false }
	if d := pol.Decide(1, "client", payload); d != listen.Deny {
		t.Fatalf("unadmitted peer decision = %v", d)
	}
}
