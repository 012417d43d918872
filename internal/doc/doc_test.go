package doc

import (
	"testing"
)

func para(id, text string) Block {
	return Block{ID: id, Kind: KindParagraph, Runs: []Run{{Text: text}}}
}

func TestBlocksRoundTrip(t *testing.T) {
	d := New("actor-1")
	blocks := []Block{
		{ID: "b1", Kind: KindHeading, Runs: []Run{{Text: "Title"}}},
		{ID: "b2", Kind: KindParagraph, Runs: []Run{
			{Text: "hello "},
			{Text: "world", Comments: map[string]string{"c1": MarkOpen}, Link: "doc-9"},
		}},
	}
	if err := d.SetBlocks(blocks); err != nil {
		t.Fatalf("set blocks: %v", err)
	}

	got, err := d.Blocks()
	if err != nil {
		t.Fatalf("blocks: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("blocks: got %d, want 2", len(got))
	}
	if got[1].Runs[1].Comments["c1"] != MarkOpen {
		t.Errorf("comment mark lost: %#v", got[1].Runs[1])
	}
	if got[1].Runs[1].Link != "doc-9" {
		t.Errorf("link lost: %#v", got[1].Runs[1])
	}
}

func TestSubscribeFiresOnMutation(t *testing.T) {
	d := New("actor-1")
	var fired int
	unsub := d.Subscribe(func() { fired++ })

	if err := d.AppendBlock(para("b1", "x")); err != nil {
		t.Fatalf("append: %v", err)
	}
	if fired != 1 {
		t.Fatalf("fired: got %d, want 1", fired)
	}

	unsub()
	if err := d.AppendBlock(para("b2", "y")); err != nil {
		t.Fatalf("append: %v", err)
	}
	if fired != 1 {
		t.Fatalf("fired after unsubscribe: got %d, want 1", fired)
	}
}

func TestVersionAdvances(t *testing.T) {
	d := New("actor-1")
	v0 := d.Version()
	if err := d.AppendBlock(para("b1", "x")); err != nil {
		t.Fatalf("append: %v", err)
	}
	if d.Version() <= v0 {
		t.Fatalf("version did not advance: %d -> %d", v0, d.Version())
	}
}

func TestWipeContent(t *testing.T) {
	d := New("actor-1")
	if err := d.SetBlocks([]Block{para("b1", "x"), para("b2", "y")}); err != nil {
		t.Fatalf("set blocks: %v", err)
	}
	if err := d.WipeContent(); err != nil {
		t.Fatalf("wipe: %v", err)
	}
	got, err := d.Blocks()
	if err != nil {
		t.Fatalf("blocks: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("blocks after wipe: got %d, want 0", len(got))
	}
}

func TestSetCommentStateKeepsMark(t *testing.T) {
	d := New("actor-1")
	if err := d.SetBlocks([]Block{para("b1", "x")}); err != nil {
		t.Fatalf("set blocks: %v", err)
	}
	if err := d.AttachComment("c1", "b1", 0); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if err := d.SetCommentState("c1", MarkResolved); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	blocks, err := d.Blocks()
	if err != nil {
		t.Fatalf("blocks: %v", err)
	}
	if blocks[0].Runs[0].Comments["c1"] != MarkResolved {
		t.Fatalf("mark after resolve: %#v", blocks[0].Runs[0].Comments)
	}
}

func TestDestroyRejectsMutation(t *testing.T) {
	d := New("actor-1")
	d.Destroy()
	if err := d.AppendBlock(para("b1", "x")); err == nil {
		t.Fatal("expected error after destroy")
	}
}

// pump shuttles sync messages both ways until neither side has more to say.
func pump(t *testing.T, a, b *SyncSession) {
	t.Helper()
	for i := 0; i < 100; i++ {
		progressed := false
		for _, s := range [][2]*SyncSession{{a, b}, {b, a}} {
			msgs, err := s[0].Generate()
			if err != nil {
				t.Fatalf("generate: %v", err)
			}
			for _, m := range msgs {
				progressed = true
				if err := s[1].Receive(m); err != nil {
					t.Fatalf("receive: %v", err)
				}
			}
		}
		if !progressed {
			return
		}
	}
	t.Fatal("sync did not converge")
}

func TestSyncSessionConverges(t *testing.T) {
	d1 := New("actor-1")
	d2 := New("actor-2")
	if err := d1.AppendBlock(para("b1", "from one")); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := d2.AppendBlock(para("b2", "from two")); err != nil {
		t.Fatalf("append: %v", err)
	}

	pump(t, d1.NewSyncSession(), d2.NewSyncSession())

	b1, err := d1.Blocks()
	if err != nil {
		t.Fatalf("blocks: %v", err)
	}
	b2, err := d2.Blocks()
	if err != nil {
		t.Fatalf("blocks: %v", err)
	}
	if len(b1) != len(b2) {
		t.Fatalf("diverged: %d vs %d blocks", len(b1), len(b2))
	}
}

func TestApplySnapshotMerges(t *testing.T) {
	d1 := New("actor-1")
	if err := d1.AppendBlock(para("b1", "cached")); err != nil {
		t.Fatalf("append: %v", err)
	}
	snap, err := d1.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	d2 := New("actor-2")
	var notified bool
	d2.Subscribe(func() { notified = true })
	if err := d2.ApplySnapshot(snap); err != nil {
		t.Fatalf("apply snapshot: %v", err)
	}
	if !notified {
		t.Error("apply snapshot did not notify subscribers")
	}
	blocks, err := d2.Blocks()
	if err != nil {
		t.Fatalf("blocks: %v", err)
	}
	if len(blocks) != 1 || blocks[0].Runs[0].Text != "cached" {
		t.Fatalf("snapshot content missing: %#v", blocks)
	}
}
