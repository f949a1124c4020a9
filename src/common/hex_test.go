package common

import (
	"bytes"
	"testing"
)

func TestHexRoundTrip(t *testing.T) {
	data := []byte{0xde, 0xad, 0xbe, 0xef}

	encoded := EncodeToString(data)
	if encoded != "0XDEADBEEF" {
		t.Fatalf("encoded: got %s, want 0XDEADBEEF", encoded)
	}

	decoded, err := DecodeFromString(encoded)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(decoded, data) {
		t.Fatalf("round trip: got %X, want %X", decoded, data)
	}
}

func TestDecodeFromStringShortInput(t *testing.T) {
	for _, in := range []string{"", "A"} {
		if _, err := DecodeFromString(in); err == nil {
			t.Fatalf("input %q shorter than the prefix should be rejected", in)
		}
	}
}
