package comments

import (
	"reflect"
	"sort"
	"sync"

	"github.com/marcus/loom/internal/doc"
)

// Anchor is the document position an overlay element renders relative to:
// the end boundary of the block holding the thread's last mark occurrence,
// so widgets land after the paragraph rather than mid-line.
type Anchor struct {
	BlockID    string
	BlockIndex int
}

// Item is one renderable overlay element in render order. Either Thread is
// set, or PendingID names the comment input widget awaiting its first
// submission.
type Item struct {
	Anchor    Anchor
	Thread    *Thread
	PendingID string
}

// Span marks one highlighted run for rendering. Resolved spans are visually
// demoted, never removed: the mark is the only durable reference connecting
// comment data to a document position.
type Span struct {
	BlockID   string
	RunIndex  int
	CommentID string
	Resolved  bool
}

// Overlay is the derived comment view for one document state.
type Overlay struct {
	Items []Item
	Spans []Span
}

// Engine computes overlays and suppresses spurious recomputation: for an
// unchanged (document version, record set, pending id) triple it returns the
// previous overlay and reports no change.
type Engine struct {
	mu          sync.Mutex
	haveLast    bool
	lastVersion uint64
	lastRecords []Comment
	lastPending string
	last        Overlay
}

func NewEngine() *Engine {
	return &Engine{}
}

// Compute derives the overlay for the document's current content. The
// second return value reports whether the overlay differs from the previous
// computation's input triple.
func (e *Engine) Compute(d *doc.Doc, records []Comment, pendingID string) (Overlay, bool, error) {
	version := d.Version()

	e.mu.Lock()
	if e.haveLast && e.lastVersion == version && e.lastPending == pendingID &&
		reflect.DeepEqual(e.lastRecords, records) {
		last := e.last
		e.mu.Unlock()
		return last, false, nil
	}
	e.mu.Unlock()

	blocks, err := d.Blocks()
	if err != nil {
		return Overlay{}, false, err
	}
	ov := buildOverlay(blocks, records, pendingID)

	e.mu.Lock()
	e.haveLast = true
	e.lastVersion = version
	e.lastRecords = append([]Comment(nil), records...)
	e.lastPending = pendingID
	e.last = ov
	e.mu.Unlock()
	return ov, true, nil
}

// buildOverlay is the pure derivation. Split out so tests can drive it with
// a constructed block list directly.
func buildOverlay(blocks []doc.Block, records []Comment, pendingID string) Overlay {
	threads := BuildThreads(records)

	// One document walk. Each occurrence of a comment mark overwrites the
	// thread's anchor, so the last occurrence in document order wins even
	// when edits have split a marked range into disjoint fragments.
	anchors := make(map[string]Anchor)
	var spans []Span
	for i, b := range blocks {
		for j, r := range b.Runs {
			// A run can carry several marks; emit its spans in a stable
			// order rather than map order.
			ids := make([]string, 0, len(r.Comments))
			for commentID := range r.Comments {
				ids = append(ids, commentID)
			}
			sort.Strings(ids)
			for _, commentID := range ids {
				anchors[commentID] = Anchor{BlockID: b.ID, BlockIndex: i}
				resolved := false
				if th, ok := threads[commentID]; ok {
					resolved = th.Resolved()
				}
				spans = append(spans, Span{BlockID: b.ID, RunIndex: j, CommentID: commentID, Resolved: resolved})
			}
		}
	}

	var items []Item
	for id, th := range threads {
		anchor, ok := anchors[id]
		if !ok {
			// The mark was edited away entirely; nothing to anchor to.
			continue
		}
		items = append(items, Item{Anchor: anchor, Thread: th})
	}
	if pendingID != "" {
		if anchor, ok := anchors[pendingID]; ok {
			items = append(items, Item{Anchor: anchor, PendingID: pendingID})
		}
	}

	// Render order: ascending anchor position; the pending input widget
	// sorts before thread widgets at the same position so it makes room for
	// itself inline; thread id breaks remaining ties deterministically.
	sortItems(items)
	return Overlay{Items: items, Spans: spans}
}

func sortItems(items []Item) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.Anchor.BlockIndex != b.Anchor.BlockIndex {
			return a.Anchor.BlockIndex < b.Anchor.BlockIndex
		}
		if (a.PendingID != "") != (b.PendingID != "") {
			return a.PendingID != ""
		}
		return itemID(a) < itemID(b)
	})
}

func itemID(it Item) string {
	if it.Thread != nil {
		return it.Thread.ID
	}
	return it.PendingID
}
