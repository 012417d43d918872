package links

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/marcus/loom/internal/apiclient"
	"github.com/marcus/loom/internal/doc"
)

type linkSink struct {
	mu    sync.Mutex
	posts [][]string
}

func (s *linkSink) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			TargetIDs []string `json:"target_ids"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		s.mu.Lock()
		s.posts = append(s.posts, req.TargetIDs)
		s.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *linkSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.posts)
}

func linked(text, target string) doc.Run {
	return doc.Run{Text: text, Link: target}
}

func TestDebouncesBursts(t *testing.T) {
	sink := &linkSink{}
	srv := httptest.NewServer(sink.handler(t))
	defer srv.Close()

	d := doc.New("a1")
	p := New(context.Background(), apiclient.New(srv.URL, ""), "d1", d, 50*time.Millisecond)
	defer p.Stop()

	// A burst of edits inside the debounce window collapses to one post.
	for i := 0; i < 5; i++ {
		if err := d.AppendBlock(doc.Block{ID: "b" + string(rune('0'+i)), Kind: doc.KindParagraph,
			Runs: []doc.Run{linked("ref", "target-1")}}); err != nil {
			t.Fatalf("append: %v", err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	deadline := time.Now().Add(2 * time.Second)
	for sink.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := sink.count(); got != 1 {
		t.Fatalf("posts: got %d, want 1", got)
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.posts[0]) != 1 || sink.posts[0][0] != "target-1" {
		t.Fatalf("posted set: %#v", sink.posts[0])
	}
}

func TestSkipsUnchangedTargetSet(t *testing.T) {
	sink := &linkSink{}
	srv := httptest.NewServer(sink.handler(t))
	defer srv.Close()

	d := doc.New("a1")
	if err := d.AppendBlock(doc.Block{ID: "b1", Kind: doc.KindParagraph, Runs: []doc.Run{linked("ref", "t1")}}); err != nil {
		t.Fatalf("append: %v", err)
	}
	p := New(context.Background(), apiclient.New(srv.URL, ""), "d1", d, 20*time.Millisecond)
	defer p.Stop()

	p.schedule()
	time.Sleep(100 * time.Millisecond)
	// Text-only edit: the target set is unchanged, so no second post.
	if err := d.AppendBlock(doc.Block{ID: "b2", Kind: doc.KindParagraph, Runs: []doc.Run{{Text: "plain"}}}); err != nil {
		t.Fatalf("append: %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	if got := sink.count(); got != 1 {
		t.Fatalf("posts: got %d, want 1", got)
	}
}

func TestStopCancelsPendingPost(t *testing.T) {
	sink := &linkSink{}
	srv := httptest.NewServer(sink.handler(t))
	defer srv.Close()

	d := doc.New("a1")
	p := New(context.Background(), apiclient.New(srv.URL, ""), "d1", d, 50*time.Millisecond)

	if err := d.AppendBlock(doc.Block{ID: "b1", Kind: doc.KindParagraph, Runs: []doc.Run{linked("ref", "t1")}}); err != nil {
		t.Fatalf("append: %v", err)
	}
	p.Stop()
	time.Sleep(150 * time.Millisecond)
	if got := sink.count(); got != 0 {
		t.Fatalf("posts after stop: got %d, want 0", got)
	}
}

func TestCancelledContextSkipsPost(t *testing.T) {
	sink := &linkSink{}
	srv := httptest.NewServer(sink.handler(t))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	d := doc.New("a1")
	p := New(ctx, apiclient.New(srv.URL, ""), "d1", d, 20*time.Millisecond)
	defer p.Stop()

	if err := d.AppendBlock(doc.Block{ID: "b1", Kind: doc.KindParagraph, Runs: []doc.Run{linked("ref", "t1")}}); err != nil {
		t.Fatalf("append: %v", err)
	}
	cancel()
	time.Sleep(100 * time.Millisecond)
	if got := sink.count(); got != 0 {
		t.Fatalf("posts after cancel: got %d, want 0", got)
	}
}
