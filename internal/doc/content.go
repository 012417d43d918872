package doc

import (
	"fmt"

	"github.com/automerge/automerge-go"
)

// Comment mark states carried on runs. Resolution demotes the mark, it never
// removes it: the mark is the only durable reference tying a comment thread
// to a document position.
const (
	MarkOpen     = "open"
	MarkResolved = "resolved"
)

// Block kinds understood by the renderers. The engine itself is agnostic.
const (
	KindParagraph   = "paragraph"
	KindHeading     = "heading"
	KindPlaceholder = "placeholder"
	KindFile        = "file"
)

// Run is a span of text with uniform marks. Comments maps comment (thread)
// ids to a mark state; Link holds the id of a referenced document, if any.
type Run struct {
	Text     string
	Comments map[string]string
	Link     string
}

// Block is one content block: a paragraph, heading, upload placeholder, or
// attached file. Attrs carries kind-specific metadata such as a file URL.
type Block struct {
	ID    string
	Kind  string
	Runs  []Run
	Attrs map[string]string
}

const blocksKey = "blocks"

// Blocks decodes the current content model.
func (d *Doc) Blocks() ([]Block, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.destroyed {
		return nil, ErrDestroyed
	}
	return d.blocksLocked()
}

func (d *Doc) blocksLocked() ([]Block, error) {
	v, err := d.inner.Path(blocksKey).Get()
	if err != nil {
		return nil, fmt.Errorf("read blocks: %w", err)
	}
	raw, ok := v.Interface().([]any)
	if !ok {
		// No content yet.
		return nil, nil
	}
	blocks := make([]Block, 0, len(raw))
	for _, rb := range raw {
		m, ok := rb.(map[string]any)
		if !ok {
			continue
		}
		b := Block{ID: str(m["id"]), Kind: str(m["kind"])}
		if am, ok := m["attrs"].(map[string]any); ok && len(am) > 0 {
			b.Attrs = make(map[string]string, len(am))
			for k, v := range am {
				b.Attrs[k] = str(v)
			}
		}
		if runs, ok := m["runs"].([]any); ok {
			for _, rr := range runs {
				rm, ok := rr.(map[string]any)
				if !ok {
					continue
				}
				run := Run{Text: str(rm["text"]), Link: str(rm["link"])}
				if cm, ok := rm["comments"].(map[string]any); ok && len(cm) > 0 {
					run.Comments = make(map[string]string, len(cm))
					for id, state := range cm {
						run.Comments[id] = str(state)
					}
				}
				b.Runs = append(b.Runs, run)
			}
		}
		blocks = append(blocks, b)
	}
	return blocks, nil
}

// SetBlocks replaces the content model wholesale and commits.
func (d *Doc) SetBlocks(blocks []Block) error {
	return d.mutate("set blocks", func(cur []Block) ([]Block, error) {
		return blocks, nil
	})
}

// WipeContent empties the document content. Used when a cache-clear control
// signal demands the local replica defer to server-authoritative state.
func (d *Doc) WipeContent() error {
	return d.SetBlocks(nil)
}

// AppendBlock adds a block at the end of the document.
func (d *Doc) AppendBlock(b Block) error {
	return d.mutate("append block", func(cur []Block) ([]Block, error) {
		return append(cur, b), nil
	})
}

// RemoveBlock deletes the block with the given id, if present.
func (d *Doc) RemoveBlock(id string) error {
	return d.mutate("remove block", func(cur []Block) ([]Block, error) {
		out := cur[:0]
		for _, b := range cur {
			if b.ID != id {
				out = append(out, b)
			}
		}
		return out, nil
	})
}

// ReplaceBlock swaps the block with the given id for the replacement block.
// Missing ids are an error so a finished upload cannot silently re-insert
// content after its placeholder was removed.
func (d *Doc) ReplaceBlock(id string, repl Block) error {
	return d.mutate("replace block", func(cur []Block) ([]Block, error) {
		for i, b := range cur {
			if b.ID == id {
				cur[i] = repl
				return cur, nil
			}
		}
		return nil, fmt.Errorf("block %q not found", id)
	})
}

// AttachComment marks the runIdx-th run of the named block with an open
// comment mark for commentID.
func (d *Doc) AttachComment(commentID, blockID string, runIdx int) error {
	return d.mutate("attach comment", func(cur []Block) ([]Block, error) {
		for i, b := range cur {
			if b.ID != blockID {
				continue
			}
			if runIdx < 0 || runIdx >= len(b.Runs) {
				return nil, fmt.Errorf("run %d out of range in block %q", runIdx, blockID)
			}
			if cur[i].Runs[runIdx].Comments == nil {
				cur[i].Runs[runIdx].Comments = make(map[string]string, 1)
			}
			cur[i].Runs[runIdx].Comments[commentID] = MarkOpen
			return cur, nil
		}
		return nil, fmt.Errorf("block %q not found", blockID)
	})
}

// SetCommentState flips every mark for commentID to the given state across
// the whole document. The marks stay in place either way.
func (d *Doc) SetCommentState(commentID, state string) error {
	return d.mutate("set comment state", func(cur []Block) ([]Block, error) {
		for i := range cur {
			for j := range cur[i].Runs {
				if _, ok := cur[i].Runs[j].Comments[commentID]; ok {
					cur[i].Runs[j].Comments[commentID] = state
				}
			}
		}
		return cur, nil
	})
}

// RemoveCommentMark strips every mark for commentID. Only valid for a
// pending comment that was cancelled before its first submission; resolved
// or submitted threads keep their marks (see SetCommentState).
func (d *Doc) RemoveCommentMark(commentID string) error {
	return d.mutate("remove comment mark", func(cur []Block) ([]Block, error) {
		for i := range cur {
			for j := range cur[i].Runs {
				delete(cur[i].Runs[j].Comments, commentID)
				if len(cur[i].Runs[j].Comments) == 0 {
					cur[i].Runs[j].Comments = nil
				}
			}
		}
		return cur, nil
	})
}

// LinkTargets returns the distinct referenced document ids in document order.
func (d *Doc) LinkTargets() ([]string, error) {
	blocks, err := d.Blocks()
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var out []string
	for _, b := range blocks {
		for _, r := range b.Runs {
			if r.Link != "" && !seen[r.Link] {
				seen[r.Link] = true
				out = append(out, r.Link)
			}
		}
	}
	return out, nil
}

func (d *Doc) mutate(op string, fn func([]Block) ([]Block, error)) error {
	d.mu.Lock()
	if d.destroyed {
		d.mu.Unlock()
		return ErrDestroyed
	}
	cur, err := d.blocksLocked()
	if err != nil {
		d.mu.Unlock()
		return err
	}
	next, err := fn(cur)
	if err != nil {
		d.mu.Unlock()
		return err
	}
	if err := d.inner.Path(blocksKey).Set(encodeBlocks(next)); err != nil {
		d.mu.Unlock()
		return fmt.Errorf("%s: %w", op, err)
	}
	if _, err := d.inner.Commit(op, automerge.CommitOptions{AllowEmpty: true}); err != nil {
		d.mu.Unlock()
		return fmt.Errorf("commit %s: %w", op, err)
	}
	d.version++
	d.mu.Unlock()
	d.notify()
	return nil
}

func encodeBlocks(blocks []Block) []any {
	out := make([]any, 0, len(blocks))
	for _, b := range blocks {
		runs := make([]any, 0, len(b.Runs))
		for _, r := range b.Runs {
			rm := map[string]any{"text": r.Text}
			if len(r.Comments) > 0 {
				cm := make(map[string]any, len(r.Comments))
				for id, state := range r.Comments {
					cm[id] = state
				}
				rm["comments"] = cm
			}
			if r.Link != "" {
				rm["link"] = r.Link
			}
			runs = append(runs, rm)
		}
		bm := map[string]any{"id": b.ID, "kind": b.Kind, "runs": runs}
		if len(b.Attrs) > 0 {
			am := make(map[string]any, len(b.Attrs))
			for k, v := range b.Attrs {
				am[k] = v
			}
			bm["attrs"] = am
		}
		out = append(out, bm)
	}
	return out
}

func str(v any) string {
	s, _ := v.(string)
	return s
}
