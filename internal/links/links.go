// Package links keeps the server's link graph current: it watches the
// document for outbound document references and posts the target set once
// the content has stabilized.
package links

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/marcus/loom/internal/apiclient"
	"github.com/marcus/loom/internal/doc"
)

// DefaultDebounce is how long the content must stay unchanged before the
// target set is posted.
const DefaultDebounce = 500 * time.Millisecond

// Publisher debounces link-set updates for one document. The context it is
// built with is the session's upload/abort context: closing the session
// aborts an in-flight post.
type Publisher struct {
	api      *apiclient.Client
	docID    string
	d        *doc.Doc
	ctx      context.Context
	debounce time.Duration

	mu          sync.Mutex
	timer       *time.Timer
	lastPosted  []string
	stopped     bool
	unsubscribe func()
}

// New starts watching d. Pass debounce <= 0 for the default window.
func New(ctx context.Context, api *apiclient.Client, docID string, d *doc.Doc, debounce time.Duration) *Publisher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	p := &Publisher{api: api, docID: docID, d: d, ctx: ctx, debounce: debounce}
	p.unsubscribe = d.Subscribe(p.schedule)
	return p
}

func (p *Publisher) schedule() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	if p.timer != nil {
		p.timer.Stop()
	}
	p.timer = time.AfterFunc(p.debounce, p.publish)
}

func (p *Publisher) publish() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()
	if p.ctx.Err() != nil {
		return
	}

	targets, err := p.d.LinkTargets()
	if err != nil {
		if !errors.Is(err, doc.ErrDestroyed) {
			slog.Warn("collect link targets", "doc", p.docID, "err", err)
		}
		return
	}

	p.mu.Lock()
	if equal(targets, p.lastPosted) {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	if err := p.api.PutLinks(p.ctx, p.docID, targets); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		// Non-fatal: the next content change retries.
		slog.Warn("post links", "doc", p.docID, "err", err)
		return
	}
	p.mu.Lock()
	p.lastPosted = targets
	p.mu.Unlock()
}

// Flush posts immediately if a debounced update is pending.
func (p *Publisher) Flush() {
	p.mu.Lock()
	pending := p.timer != nil && p.timer.Stop()
	p.mu.Unlock()
	if pending {
		p.publish()
	}
}

// Stop detaches from the document and cancels any pending post.
func (p *Publisher) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	unsub := p.unsubscribe
	p.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
