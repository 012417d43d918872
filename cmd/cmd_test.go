package cmd

import (
	"testing"

	"github.com/marcus/loom/internal/apiclient"
	"github.com/marcus/loom/internal/config"
)

// TestInitNonInteractive tests that flag-driven init writes the config
func TestInitNonInteractive(t *testing.T) {
	t.Chdir(t.TempDir())

	rootCmd.SetArgs([]string{
		"init",
		"--name", "Ada",
		"--color", "#123456",
		"--server", "http://collab.local:8701",
		"--room-prefix", "specs",
	})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("init failed: %v", err)
	}

	cfg, err := config.Load(getBaseDir())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.DisplayName != "Ada" {
		t.Errorf("DisplayName = %q, want Ada", cfg.DisplayName)
	}
	if cfg.ServerURL != "http://collab.local:8701" {
		t.Errorf("ServerURL = %q", cfg.ServerURL)
	}
	if cfg.RoomPrefix != "specs" {
		t.Errorf("RoomPrefix = %q", cfg.RoomPrefix)
	}
}

// TestCacheClearMissingSnapshot tests that clearing an uncached document
// is not an error
func TestCacheClearMissingSnapshot(t *testing.T) {
	t.Chdir(t.TempDir())

	rootCmd.SetArgs([]string{"cache", "clear", "d42"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("cache clear failed: %v", err)
	}
}

func TestRecordToComment(t *testing.T) {
	resolved := "2026-02-03T04:05:06Z"
	c, err := recordToComment(apiclient.CommentRecord{
		CommentID:  "c1",
		AuthorID:   "u1",
		AuthorName: "Ada",
		Content:    "hi",
		CreatedAt:  "2026-01-02T03:04:05Z",
		ResolvedAt: &resolved,
	})
	if err != nil {
		t.Fatalf("recordToComment failed: %v", err)
	}
	if c.ID != "c1" || c.ResolvedAt == nil {
		t.Errorf("unexpected comment: %+v", c)
	}

	_, err = recordToComment(apiclient.CommentRecord{
		CommentID: "c2",
		CreatedAt: "yesterday",
	})
	if err == nil {
		t.Error("expected error for malformed created_at")
	}
}
