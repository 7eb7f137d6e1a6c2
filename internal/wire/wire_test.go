package wire

import (
	"bytes"
	"math"
	"testing"
)

func mustDecode(t *testing.T, b []byte) (int64, []byte) {
	t.Helper()
	ver, p, err := DecodeEntry(b)
	if err != nil {
		t.Fatalf("DecodeEntry error: %v", err)
	}
	return ver, p
}

func TestEntryRoundTrip(t *testing.T) {
	cases := []struct {
		ver     int64
		payload []byte
	}{
		{0, nil},
		{1, []byte("hello")},
		{-10, []byte("moved backwards")},
		{math.MaxInt64, []byte{0, 1, 2, 3, 4}},
		{math.MinInt64, []byte("x")},
	}
	for _, tc := range cases {
		enc := EncodeEntry(tc.ver, tc.payload)
		ver, p := mustDecode(t, enc)
		if ver != tc.ver {
			t.Fatalf("version mismatch: got %d want %d", ver, tc.ver)
		}
		if !bytes.Equal(p, tc.payload) {
			t.Fatalf("payload mismatch: got %x want %x", p, tc.payload)
		}
	}
}

func TestDecodeRejectsCorrupt(t *testing.T) {
	enc := EncodeEntry(7, []byte("payload"))

	cases := map[string][]byte{
		"empty":         nil,
		"short":         enc[:5],
		"bad magic":     append([]byte("XXXX"), enc[4:]...),
		"bad version":   func() []byte { b := append([]byte(nil), enc...); b[4] = 99; return b }(),
		"truncated":     enc[:len(enc)-2],
		"length exceed": func() []byte { b := append([]byte(nil), enc...); b[17] = 0xFF; return b }(),
	}
	for name, b := range cases {
		if _, _, err := DecodeEntry(b); err == nil {
			t.Fatalf("%s: expected ErrCorrupt, got nil", name)
		}
	}
}
