package connection

import (
	"errors"
	"testing"
	"time"

	"github.com/technomunk/gnet/pkg/parcel"
)

func pendingParams() Params {
	p := DefaultParams()
	p.RetryInterval = 100 * time.Millisecond
	p.ConnectTimeout = time.Second
	return p
}

func TestConnectEmitsRequestParcel(t *testing.T) {
	pend, raw := Connect(0xBEEF, "server", []byte("credentials"), pendingParams(), t0)
	p, err := parcel.Decode(raw)
	if err != nil {
		t.Fatalf("decode request: %v", err)
	}
	if !p.Signal.IsRequest() || p.HandshakeID != 0xBEEF || string(p.Message) != "credentials" {
		t.Fatalf("unexpected request parcel: %+v", p)
	}
	if _, err := pend.TryPromote(t0); !errors.Is(err, ErrNotYetReady) {
		t.Fatalf("promote before answer: %v, want ErrNotYetReady", err)
	}
}

func TestPendingRetriesOnInterval(t *testing.T) {
	pend, first := Connect(1, "server", nil, pendingParams(), t0)
	if buf := pend.Tick(at(50 * time.Millisecond)); buf != nil {
		t.Fatal("re-sent before the retry interval elapsed")
	}
	second := pend.Tick(at(100 * time.Millisecond))
	if second == nil {
		t.Fatal("no re-send after the retry interval")
	}
	if string(second) != string(first) {
		t.Fatal("retry changed the request bytes")
	}
	if pend.Retries() != 1 {
		t.Fatalf("retries = %d, want 1", pend.Retries())
	}
}

func TestPendingPromotesOnAccept(t *testing.T) {
	pend, _ := Connect(1, "server", nil, pendingParams(), t0)
	pend.OnReceive(parcel.Accept(1, 42).Encode())
	conn, err := pend.TryPromote(at(50 * time.Millisecond))
	if err != nil {
		t.Fatalf("promote: %v", err)
	}
	if conn.ID() != 42 || conn.State() != StateEstablished || conn.Peer() != "server" {
		t.Fatalf("promoted connection: id=%d state=%v peer=%q", conn.ID(), conn.State(), conn.Peer())
	}
	// The pending connection is consumed by promotion.
	if _, err := pend.TryPromote(at(60 * time.Millisecond)); !errors.Is(err, ErrClosed) {
		t.Fatalf("second promote: %v, want ErrClosed", err)
	}
}

func TestPendingIgnoresForeignAnswers(t *testing.T) {
	pend, _ := Connect(1, "server", nil, pendingParams(), t0)
	pend.OnReceive(parcel.Accept(2, 42).Encode()) // different handshake id
	pend.OnReceive(parcel.Deny(3).Encode())
	pend.OnReceive([]byte{0xFF})
	if _, err := pend.TryPromote(at(time.Millisecond)); !errors.Is(err, ErrNotYetReady) {
		t.Fatalf("promote: %v, want ErrNotYetReady", err)
	}
}

func TestPendingDeniedIsSticky(t *testing.T) {
	pend, _ := Connect(1, "server", nil, pendingParams(), t0)
	pend.OnReceive(parcel.Deny(1).Encode())
	for i := 0; i < 3; i++ {
		if _, err := pend.TryPromote(at(time.Duration(i) * time.Millisecond)); !errors.Is(err, ErrDenied) {
			t.Fatalf("promote %d: %v, want ErrDenied", i, err)
		}
	}
	// A late accept cannot resurrect a denied attempt.
	pend.OnReceive(parcel.Accept(1, 42).Encode())
	if _, err := pend.TryPromote(at(10 * time.Millisecond)); !errors.Is(err, ErrDenied) {
		t.Fatalf("promote after late accept: %v, want ErrDenied", err)
	}
}

func TestPendingTimesOutAndStaysTimedOut(t *testing.T) {
	pend, _ := Connect(1, "server", nil, pendingParams(), t0)
	if _, err := pend.TryPromote(at(time.Second)); !errors.Is(err, ErrTimedOut) {
		t.Fatalf("promote at timeout: %v, want ErrTimedOut", err)
	}
	// Never flips back, not even with an accept in hand.
	pend.OnReceive(parcel.Accept(1, 42).Encode())
	if _, err := pend.TryPromote(at(500 * time.Millisecond)); !errors.Is(err, ErrTimedOut) {
		t.Fatalf("promote after timeout: %v, want ErrTimedOut", err)
	}
	if buf := pend.Tick(at(2 * time.Second)); buf != nil {
		t.Fatal("timed-out attempt still retries")
	}
}
