// Package doc wraps the mergeable document engine behind the narrow surface
// the rest of the session core is allowed to touch: snapshots, change
// subscription, the sync-message pump, and the block/run content model.
// Conflict resolution itself belongs to the engine and is never reimplemented
// here.
package doc

import (
	"errors"
	"fmt"
	"sync"

	"github.com/automerge/automerge-go"
)

var ErrDestroyed = errors.New("document destroyed")

// Doc is a replicated document owned by exactly one session at a time.
// All methods are safe for concurrent use; change callbacks are invoked
// without the internal lock held.
type Doc struct {
	mu        sync.Mutex
	inner     *automerge.Doc
	destroyed bool
	version   uint64

	subMu   sync.Mutex
	subs    map[int]func()
	nextSub int
}

// New creates an empty document with the given actor id.
func New(actorID string) *Doc {
	inner := automerge.New()
	if actorID != "" {
		_ = inner.SetActorID(actorID)
	}
	return &Doc{inner: inner, subs: make(map[int]func())}
}

// Load restores a document from a saved snapshot.
func Load(snapshot []byte, actorID string) (*Doc, error) {
	inner, err := automerge.Load(snapshot)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	if actorID != "" {
		_ = inner.SetActorID(actorID)
	}
	return &Doc{inner: inner, subs: make(map[int]func())}, nil
}

// Snapshot serializes the full document state.
func (d *Doc) Snapshot() ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.destroyed {
		return nil, ErrDestroyed
	}
	return d.inner.Save(), nil
}

// ApplySnapshot merges a previously saved snapshot into the live document.
// The engine's merge is commutative, so applying a stale snapshot on top of
// newer local edits is safe.
func (d *Doc) ApplySnapshot(snapshot []byte) error {
	d.mu.Lock()
	if d.destroyed {
		d.mu.Unlock()
		return ErrDestroyed
	}
	other, err := automerge.Load(snapshot)
	if err != nil {
		d.mu.Unlock()
		return fmt.Errorf("load snapshot: %w", err)
	}
	changes, err := other.Changes()
	if err != nil {
		d.mu.Unlock()
		return fmt.Errorf("read snapshot changes: %w", err)
	}
	if err := d.inner.Apply(changes...); err != nil {
		d.mu.Unlock()
		return fmt.Errorf("apply snapshot changes: %w", err)
	}
	d.version++
	d.mu.Unlock()
	d.notify()
	return nil
}

// Subscribe registers a change callback and returns its unsubscribe func.
// The callback fires after every local mutation, applied snapshot, and
// received sync message.
func (d *Doc) Subscribe(fn func()) func() {
	d.subMu.Lock()
	defer d.subMu.Unlock()
	id := d.nextSub
	d.nextSub++
	d.subs[id] = fn
	return func() {
		d.subMu.Lock()
		defer d.subMu.Unlock()
		delete(d.subs, id)
	}
}

// Version is a monotonically increasing counter bumped on every observed
// change. Derived views use it to skip recomputation for unchanged content.
func (d *Doc) Version() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.version
}

// Destroy detaches the document. Further mutations fail with ErrDestroyed
// and no further change callbacks are delivered.
func (d *Doc) Destroy() {
	d.mu.Lock()
	d.destroyed = true
	d.mu.Unlock()
	d.subMu.Lock()
	d.subs = make(map[int]func())
	d.subMu.Unlock()
}

// Destroyed reports whether Destroy has been called.
func (d *Doc) Destroyed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.destroyed
}

func (d *Doc) notify() {
	d.subMu.Lock()
	fns := make([]func(), 0, len(d.subs))
	for _, fn := range d.subs {
		fns = append(fns, fn)
	}
	d.subMu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// SyncSession pairs the document with one peer's sync-protocol state. Each
// transport connection owns exactly one.
type SyncSession struct {
	d     *Doc
	state *automerge.SyncState
}

// NewSyncSession starts a fresh sync exchange with a peer.
func (d *Doc) NewSyncSession() *SyncSession {
	d.mu.Lock()
	defer d.mu.Unlock()
	return &SyncSession{d: d, state: automerge.NewSyncState(d.inner)}
}

// Generate drains all pending outbound sync messages for the peer.
func (s *SyncSession) Generate() ([][]byte, error) {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	if s.d.destroyed {
		return nil, ErrDestroyed
	}
	var out [][]byte
	for {
		msg, valid := s.state.GenerateMessage()
		if !valid {
			break
		}
		out = append(out, msg.Bytes())
	}
	return out, nil
}

// Receive applies one inbound sync message from the peer.
func (s *SyncSession) Receive(payload []byte) error {
	s.d.mu.Lock()
	if s.d.destroyed {
		s.d.mu.Unlock()
		return ErrDestroyed
	}
	if _, err := s.state.ReceiveMessage(payload); err != nil {
		s.d.mu.Unlock()
		return fmt.Errorf("receive sync message: %w", err)
	}
	s.d.version++
	s.d.mu.Unlock()
	s.d.notify()
	return nil
}
