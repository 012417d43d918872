package presence

import (
	"testing"
)

func TestDeduplicatesByName(t *testing.T) {
	tr := NewTracker()
	// Reconnect race: same human identity registered under two participant
	// ids for one tick.
	tr.Apply(Entry{ParticipantID: "p2", Name: "ada", Color: "#f00"})
	tr.Apply(Entry{ParticipantID: "p1", Name: "ada", Color: "#0f0"})

	cur := tr.Current()
	if len(cur) != 1 {
		t.Fatalf("entries: got %d, want 1", len(cur))
	}
	if cur[0].ParticipantID != "p1" {
		t.Errorf("dedup winner: got %s, want p1", cur[0].ParticipantID)
	}
}

func TestTombstoneRemoves(t *testing.T) {
	tr := NewTracker()
	tr.Apply(Entry{ParticipantID: "p1", Name: "ada", Color: "#f00"})
	tr.Apply(Entry{ParticipantID: "p1"})
	if got := tr.Current(); len(got) != 0 {
		t.Fatalf("entries after tombstone: got %#v, want none", got)
	}
}

func TestExcludesLocalEntry(t *testing.T) {
	tr := NewTracker()
	tr.SetLocal(&Entry{ParticipantID: "me", Name: "self", Color: "#00f"})
	tr.Apply(Entry{ParticipantID: "me", Name: "self", Color: "#00f"})
	tr.Apply(Entry{ParticipantID: "p1", Name: "ada", Color: "#f00"})

	cur := tr.Current()
	if len(cur) != 1 || cur[0].Name != "ada" {
		t.Fatalf("current: got %#v, want just ada", cur)
	}
}

func TestOnChangeFiresAndUnsubscribes(t *testing.T) {
	tr := NewTracker()
	var calls int
	var last []Entry
	unsub := tr.OnChange(func(cur []Entry) {
		calls++
		last = cur
	})

	tr.Apply(Entry{ParticipantID: "p1", Name: "ada", Color: "#f00"})
	if calls != 1 || len(last) != 1 {
		t.Fatalf("after apply: calls=%d last=%#v", calls, last)
	}

	unsub()
	tr.Apply(Entry{ParticipantID: "p2", Name: "bob", Color: "#0f0"})
	if calls != 1 {
		t.Fatalf("callback fired after unsubscribe: calls=%d", calls)
	}
}

func TestResetClearsRegistry(t *testing.T) {
	tr := NewTracker()
	tr.Apply(Entry{ParticipantID: "p1", Name: "ada", Color: "#f00"})
	tr.Reset()
	if got := tr.Current(); len(got) != 0 {
		t.Fatalf("entries after reset: %#v", got)
	}
}
