// Package presence tracks which remote replicas are attached to the same
// room. Presence is ephemeral awareness data, never document content.
package presence

import (
	"sort"
	"sync"
)

// Entry is one replica's announced presence state.
type Entry struct {
	ParticipantID string `json:"participantId"`
	Name          string `json:"name"`
	Color         string `json:"color"`
}

// Tracker maintains the remote participant registry for one session.
// During reconnect races the registry can briefly hold two entries for the
// same human identity; Current masks those by deduplicating on name.
type Tracker struct {
	mu     sync.Mutex
	local  *Entry
	remote map[string]Entry

	subMu   sync.Mutex
	subs    map[int]func([]Entry)
	nextSub int
}

func NewTracker() *Tracker {
	return &Tracker{
		remote: make(map[string]Entry),
		subs:   make(map[int]func([]Entry)),
	}
}

// SetLocal records this replica's own announced state. nil clears it.
func (t *Tracker) SetLocal(e *Entry) {
	t.mu.Lock()
	t.local = e
	t.mu.Unlock()
	t.notify()
}

// Local returns this replica's announced state, or nil.
func (t *Tracker) Local() *Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.local == nil {
		return nil
	}
	e := *t.local
	return &e
}

// Apply ingests one presence update from the transport. An entry with an
// empty name is a removal tombstone for that participant.
func (t *Tracker) Apply(e Entry) {
	if e.ParticipantID == "" {
		return
	}
	t.mu.Lock()
	if e.Name == "" {
		delete(t.remote, e.ParticipantID)
	} else {
		t.remote[e.ParticipantID] = e
	}
	t.mu.Unlock()
	t.notify()
}

// Reset drops all remote entries, e.g. when the transport reconnects and the
// registry will be re-announced from scratch.
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.remote = make(map[string]Entry)
	t.mu.Unlock()
	t.notify()
}

// Current rebuilds the visible participant list: deduplicated by name (the
// entry with the smallest participant id wins, so the masked view is
// deterministic), excluding this replica's own entry, sorted by name.
func (t *Tracker) Current() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.currentLocked()
}

func (t *Tracker) currentLocked() []Entry {
	byName := make(map[string]Entry, len(t.remote))
	for _, e := range t.remote {
		if t.local != nil && e.ParticipantID == t.local.ParticipantID {
			continue
		}
		if cur, ok := byName[e.Name]; !ok || e.ParticipantID < cur.ParticipantID {
			byName[e.Name] = e
		}
	}
	out := make([]Entry, 0, len(byName))
	for _, e := range byName {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// OnChange registers a callback receiving the rebuilt participant list after
// every registry change. The returned func unsubscribes.
func (t *Tracker) OnChange(fn func([]Entry)) func() {
	t.subMu.Lock()
	defer t.subMu.Unlock()
	id := t.nextSub
	t.nextSub++
	t.subs[id] = fn
	return func() {
		t.subMu.Lock()
		defer t.subMu.Unlock()
		delete(t.subs, id)
	}
}

func (t *Tracker) notify() {
	t.mu.Lock()
	cur := t.currentLocked()
	t.mu.Unlock()

	t.subMu.Lock()
	fns := make([]func([]Entry), 0, len(t.subs))
	for _, fn := range t.subs {
		fns = append(fns, fn)
	}
	t.subMu.Unlock()
	for _, fn := range fns {
		fn(cur)
	}
}
