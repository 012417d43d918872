// Package comments derives the positioned, threaded comment view overlaid on
// a replicated document. The engine is independent of the transport: it only
// needs the current content model and the flat comment record set.
package comments

import (
	"sort"
	"time"
)

// Comment is one stored comment record. All comments sharing an ID form a
// thread; the record without a parent is the thread root. Resolution is a
// property of the root only.
type Comment struct {
	ID         string     `json:"commentId"`
	ParentID   string     `json:"parentId,omitempty"`
	AuthorID   string     `json:"authorId"`
	AuthorName string     `json:"authorName"`
	Content    string     `json:"content"`
	CreatedAt  time.Time  `json:"createdAt"`
	ResolvedAt *time.Time `json:"resolvedAt,omitempty"`
}

// Thread is a root comment plus its replies in creation order.
type Thread struct {
	ID      string
	Root    Comment
	Replies []Comment
}

// Resolved reports the thread's resolution state, taken from the root.
func (th *Thread) Resolved() bool {
	return th.Root.ResolvedAt != nil
}

// Messages returns root and replies in creation order.
func (th *Thread) Messages() []Comment {
	out := make([]Comment, 0, len(th.Replies)+1)
	out = append(out, th.Root)
	out = append(out, th.Replies...)
	return out
}

// BuildThreads groups flat records into threads. Records whose thread has no
// root (a reply orphaned by partial persistence) are dropped rather than
// rendered unanchored.
func BuildThreads(records []Comment) map[string]*Thread {
	grouped := make(map[string][]Comment)
	for _, c := range records {
		grouped[c.ID] = append(grouped[c.ID], c)
	}

	threads := make(map[string]*Thread, len(grouped))
	for id, group := range grouped {
		var root *Comment
		var replies []Comment
		for i := range group {
			if group[i].ParentID == "" {
				if root == nil || group[i].CreatedAt.Before(root.CreatedAt) {
					root = &group[i]
				}
				continue
			}
			replies = append(replies, group[i])
		}
		if root == nil {
			continue
		}
		sort.SliceStable(replies, func(i, j int) bool {
			return replies[i].CreatedAt.Before(replies[j].CreatedAt)
		})
		threads[id] = &Thread{ID: id, Root: *root, Replies: replies}
	}
	return threads
}
