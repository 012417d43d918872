// Package uploads runs file and image uploads for one session. Every upload
// observes the session's abort context: an upload that finishes after the
// user has navigated away must not insert content into whatever document now
// occupies that slot.
package uploads

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/marcus/loom/internal/doc"
)

// UploadFunc performs the actual transfer and returns the stored file's URL.
// Implementations must honor ctx cancellation.
type UploadFunc func(ctx context.Context, name string, r io.Reader) (string, error)

// Manager owns the in-flight uploads of one session.
type Manager struct {
	ctx     context.Context
	d       *doc.Doc
	upload  UploadFunc
	onError func(msg string)
	wg      sync.WaitGroup
}

// NewManager binds uploads to the session's document and abort context.
// onError surfaces non-cancellation failures to the user; nil means failures
// are only logged.
func NewManager(ctx context.Context, d *doc.Doc, upload UploadFunc, onError func(string)) *Manager {
	if onError == nil {
		onError = func(string) {}
	}
	return &Manager{ctx: ctx, d: d, upload: upload, onError: onError}
}

// Start inserts a placeholder block and begins the transfer. It returns the
// placeholder's block id.
func (m *Manager) Start(name string, r io.Reader) (string, error) {
	id := uuid.NewString()
	ph := doc.Block{
		ID:    id,
		Kind:  doc.KindPlaceholder,
		Runs:  []doc.Run{{Text: name}},
		Attrs: map[string]string{"name": name},
	}
	if err := m.d.AppendBlock(ph); err != nil {
		return "", err
	}

	m.wg.Add(1)
	go m.run(id, name, r)
	return id, nil
}

func (m *Manager) run(id, name string, r io.Reader) {
	defer m.wg.Done()

	url, err := m.upload(m.ctx, name, r)

	// The completion handler must consult the abort context before touching
	// the document: after navigation this goroutine may outlive its session.
	if m.ctx.Err() != nil {
		return
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		m.removePlaceholder(id)
		m.onError(name + " failed to upload. Please try again.")
		return
	}

	file := doc.Block{
		ID:    id,
		Kind:  doc.KindFile,
		Runs:  []doc.Run{{Text: name}},
		Attrs: map[string]string{"name": name, "url": url},
	}
	if err := m.d.ReplaceBlock(id, file); err != nil {
		if !errors.Is(err, doc.ErrDestroyed) {
			slog.Debug("upload placeholder gone before completion", "id", id, "err", err)
		}
	}
}

func (m *Manager) removePlaceholder(id string) {
	if err := m.d.RemoveBlock(id); err != nil && !errors.Is(err, doc.ErrDestroyed) {
		slog.Debug("remove upload placeholder", "id", id, "err", err)
	}
}

// Wait blocks until all started uploads have finished or observed the abort
// context.
func (m *Manager) Wait() {
	m.wg.Wait()
}
