package transport

import (
	"bytes"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	f := Encode(FrameSync, []byte{0xde, 0xad})
	typ, payload, err := Decode(f)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if typ != FrameSync || !bytes.Equal(payload, []byte{0xde, 0xad}) {
		t.Fatalf("round trip: typ=%d payload=%x", typ, payload)
	}
}

func TestDecodeEmptyFrame(t *testing.T) {
	if _, _, err := Decode(nil); err == nil {
		t.Fatal("expected error for empty frame")
	}
}

func TestCollaborationURL(t *testing.T) {
	cases := []struct {
		base string
		want string
	}{
		{"http://localhost:8080", "ws://localhost:8080/collaboration?room=notes%3Ad1"},
		{"https://docs.example.com", "wss://docs.example.com/collaboration?room=notes%3Ad1"},
		{"https://docs.example.com/some/path", "wss://docs.example.com/collaboration?room=notes%3Ad1"},
	}
	for _, tc := range cases {
		got, err := CollaborationURL(tc.base, "notes:d1")
		if err != nil {
			t.Fatalf("%s: %v", tc.base, err)
		}
		if got != tc.want {
			t.Errorf("%s: got %q, want %q", tc.base, got, tc.want)
		}
	}
}

func TestCollaborationURLRejectsScheme(t *testing.T) {
	if _, err := CollaborationURL("ftp://x", "r"); err == nil {
		t.Fatal("expected error for ftp scheme")
	}
}
