package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsZeroConfig(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ServerURL != "" || cfg.DisplayName != "" {
		t.Fatalf("missing file did not read as zero config: %#v", cfg)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	want := &Config{
		ServerURL:   "https://collab.example.com",
		DisplayName: "ada",
		Color:       "#f00",
		RoomPrefix:  "notes",
		AuthToken:   "tok",
	}
	if err := Save(dir, want); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if *got != *want {
		t.Fatalf("round trip mismatch: got %#v, want %#v", got, want)
	}
}

func TestSaveIsAtomicNoTempLeftBehind(t *testing.T) {
	dir := t.TempDir()
	if err := Save(dir, &Config{DisplayName: "ada"}); err != nil {
		t.Fatalf("save: %v", err)
	}

	entries, err := os.ReadDir(filepath.Join(dir, ".loom"))
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	for _, e := range entries {
		if e.Name() != "config.json" {
			t.Fatalf("unexpected file left behind: %s", e.Name())
		}
	}
}

func TestUpdatePreservesOtherFields(t *testing.T) {
	dir := t.TempDir()
	if err := Save(dir, &Config{DisplayName: "ada", RoomPrefix: "notes"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := SetLastDocument(dir, "d42"); err != nil {
		t.Fatalf("set last document: %v", err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LastDocumentID != "d42" {
		t.Fatalf("last document: %q", cfg.LastDocumentID)
	}
	if cfg.DisplayName != "ada" || cfg.RoomPrefix != "notes" {
		t.Fatalf("update clobbered other fields: %#v", cfg)
	}
}

func TestEffectiveDefaults(t *testing.T) {
	cfg := &Config{}
	if cfg.EffectiveServerURL() != DefaultServerURL {
		t.Fatalf("server url default: %q", cfg.EffectiveServerURL())
	}
	if cfg.EffectiveRoomPrefix() != DefaultRoomPrefix {
		t.Fatalf("room prefix default: %q", cfg.EffectiveRoomPrefix())
	}
	if cfg.EffectiveColor() != DefaultColor {
		t.Fatalf("color default: %q", cfg.EffectiveColor())
	}
	want := filepath.Join("base", ".loom", "cache")
	if cfg.EffectiveCacheDir("base") != want {
		t.Fatalf("cache dir default: %q", cfg.EffectiveCacheDir("base"))
	}

	cfg = &Config{ServerURL: "http://x", RoomPrefix: "p", Color: "#fff", CacheDir: "/tmp/c"}
	if cfg.EffectiveServerURL() != "http://x" || cfg.EffectiveRoomPrefix() != "p" ||
		cfg.EffectiveColor() != "#fff" || cfg.EffectiveCacheDir("base") != "/tmp/c" {
		t.Fatalf("explicit values not honored: %#v", cfg)
	}
}
