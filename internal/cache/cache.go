// Package cache persists replicated-document snapshots locally so a document
// reopens instantly, before any network round-trip.
package cache

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.etcd.io/bbolt"

	"github.com/marcus/loom/internal/doc"
)

var ErrClosed = errors.New("cache closed")

var snapshotBucket = []byte("snapshots")

// saveDebounce batches snapshot writes while the user is typing.
const saveDebounce = 250 * time.Millisecond

// Cache binds one document to its persisted snapshot slot. Opening a cache
// whose store already holds content applies that snapshot to the document
// and reports synced immediately; otherwise synced fires once the initial
// load (of nothing) completes.
type Cache struct {
	key string
	db  *bbolt.DB
	doc *doc.Doc

	mu            sync.Mutex
	closed        bool
	alreadySynced bool
	syncedFired   bool
	syncedSubs    []func()
	saveTimer     *time.Timer
	unsubscribe   func()
}

// Open loads the snapshot stored under cacheKey into d, if any, and starts
// persisting d's changes back to the store. The bolt file lives under dir,
// one file per cache key.
func Open(dir, cacheKey string, d *doc.Doc) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	path := filepath.Join(dir, cacheKey+".db")
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open cache store: %w", err)
	}

	c := &Cache{key: cacheKey, db: db, doc: d}

	var snapshot []byte
	err = db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(snapshotBucket)
		if b == nil {
			return nil
		}
		if v := b.Get([]byte(cacheKey)); v != nil {
			snapshot = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		// Cache I/O failures are non-fatal: proceed as if empty.
		slog.Warn("cache read failed, treating as empty", "key", cacheKey, "err", err)
	}

	if len(snapshot) > 0 {
		if err := d.ApplySnapshot(snapshot); err != nil {
			slog.Warn("cached snapshot rejected, treating as empty", "key", cacheKey, "err", err)
		} else {
			c.alreadySynced = true
		}
	}
	c.fireSynced()

	c.unsubscribe = d.Subscribe(c.scheduleSave)
	return c, nil
}

// OnSynced registers a callback for the cache-ready signal. If the signal
// already fired the callback runs synchronously before OnSynced returns.
func (c *Cache) OnSynced(fn func()) {
	c.mu.Lock()
	fired := c.syncedFired
	if !fired {
		c.syncedSubs = append(c.syncedSubs, fn)
	}
	c.mu.Unlock()
	if fired {
		fn()
	}
}

// IsAlreadySynced reports whether the backing store held content for this
// key at open time.
func (c *Cache) IsAlreadySynced() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.alreadySynced
}

func (c *Cache) fireSynced() {
	c.mu.Lock()
	c.syncedFired = true
	subs := c.syncedSubs
	c.syncedSubs = nil
	c.mu.Unlock()
	for _, fn := range subs {
		fn()
	}
}

func (c *Cache) scheduleSave() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if c.saveTimer != nil {
		c.saveTimer.Stop()
	}
	c.saveTimer = time.AfterFunc(saveDebounce, c.save)
}

func (c *Cache) save() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	snapshot, err := c.doc.Snapshot()
	if err != nil {
		return
	}
	err = c.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(snapshotBucket)
		if err != nil {
			return err
		}
		return b.Put([]byte(c.key), snapshot)
	})
	if err != nil {
		slog.Warn("cache save failed", "key", c.key, "err", err)
	}
}

// Clear empties both the persisted store and the live document content.
// Clearing only one of the two would leave a stale merge source that
// resurrects old content on the next sync.
func (c *Cache) Clear() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.alreadySynced = false
	c.mu.Unlock()

	err := c.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(snapshotBucket)
		if b == nil {
			return nil
		}
		return b.Delete([]byte(c.key))
	})
	if err != nil {
		return fmt.Errorf("clear cache store: %w", err)
	}
	if err := c.doc.WipeContent(); err != nil && !errors.Is(err, doc.ErrDestroyed) {
		return fmt.Errorf("wipe document content: %w", err)
	}
	return nil
}

// Flush forces a pending snapshot write, if any.
func (c *Cache) Flush() {
	c.mu.Lock()
	if c.saveTimer != nil {
		c.saveTimer.Stop()
		c.saveTimer = nil
	}
	closed := c.closed
	c.mu.Unlock()
	if !closed {
		c.save()
	}
}

// Close flushes and releases the store. The document itself is left to its
// owner.
func (c *Cache) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	if c.unsubscribe != nil {
		c.unsubscribe()
	}
	if c.saveTimer != nil {
		c.saveTimer.Stop()
		c.saveTimer = nil
	}
	c.mu.Unlock()

	if !c.doc.Destroyed() {
		c.save()
	}

	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return c.db.Close()
}
