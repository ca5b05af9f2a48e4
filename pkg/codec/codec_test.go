package codec

import (
	"testing"
)

func TestJSONCodec(t *testing.T) {
	c := JSON()
	in := map[string]any{"a": 1, "b": "x"}
	b, err := c.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out map[string]any
	if err := c.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out["a"].(float64) != 1 || out["b"].(string) != "x" {
		t.Fatalf("roundtrip mismatch: %#v", out)
	}
}

func TestCBORCodec(t *testing.T) {
	c, err := CBOR()
	if err != nil {
		t.Fatalf("new cbor: %v", err)
	}
	in := map[string]any{"n": 42}
	b, err := c.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out map[string]any
	if err := c.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	switch n := out["n"].(type) {
	case uint64:
		if n != 42 {
			t.Fatalf("roundtrip mismatch: %#v", out)
		}
	case int64:
		if n != 42 {
			t.Fatalf("roundtrip mismatch: %#v", out)
		}
	default:
		t.Fatalf("unexpected number type: %#v", out)
	}
}

func TestRegistryLookup(t *testing.T) {
	r, err := NewRegistry()
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	if r.Get("application/json") == nil || r.Get("application/cbor") == nil {
		t.Fatal("built-in codecs missing")
	}
	if r.Get("application/x-unknown") != nil {
		t.Fatal("unknown content type resolved")
	}
}
