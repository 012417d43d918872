package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/marcus/loom/internal/apiclient"
	"github.com/marcus/loom/internal/comments"
	"github.com/marcus/loom/internal/doc"
)

// ErrCommentPending is returned when a second comment draft is started while
// one is already awaiting submission.
var ErrCommentPending = errors.New("a comment is already pending")

// ErrNoAPI is returned from comment operations when the session was opened
// without a REST client.
var ErrNoAPI = errors.New("no api client configured")

// RefreshComments refetches the document's comment records from the server.
// The stored set feeds Overlay until the next refresh.
func (s *Session) RefreshComments(ctx context.Context) error {
	if s.cfg.API == nil {
		return ErrNoAPI
	}
	recs, err := s.cfg.API.ListComments(ctx, s.id.DocumentID)
	if err != nil {
		return fmt.Errorf("list comments: %w", err)
	}
	converted := make([]comments.Comment, 0, len(recs))
	for _, r := range recs {
		c, err := convertRecord(r)
		if err != nil {
			// A record with a bad timestamp is the server's bug, not a
			// reason to drop the whole refresh.
			slog.Warn("dropping malformed comment record", "comment", r.CommentID, "err", err)
			continue
		}
		converted = append(converted, c)
	}

	if s.cancelled.Load() {
		return nil
	}
	s.mu.Lock()
	s.records = converted
	s.mu.Unlock()
	return nil
}

// Overlay derives the current comment overlay from the document content, the
// last refreshed record set, and the pending draft if any. The second return
// value reports whether the overlay changed since the previous call.
func (s *Session) Overlay() (comments.Overlay, bool, error) {
	s.mu.Lock()
	records := s.records
	pending := s.pending
	s.mu.Unlock()
	return s.engine.Compute(s.doc, records, pending)
}

// StartComment attaches a new comment mark to the given run and returns the
// draft's comment id. At most one draft can be pending at a time; the draft
// becomes a thread only on SubmitComment.
func (s *Session) StartComment(blockID string, runIdx int) (string, error) {
	s.mu.Lock()
	if s.pending != "" {
		s.mu.Unlock()
		return "", ErrCommentPending
	}
	id := uuid.NewString()
	s.pending = id
	s.mu.Unlock()

	if err := s.doc.AttachComment(id, blockID, runIdx); err != nil {
		s.mu.Lock()
		s.pending = ""
		s.mu.Unlock()
		return "", fmt.Errorf("attach comment mark: %w", err)
	}
	return id, nil
}

// SubmitComment persists the pending draft as a thread root. The mark stays
// in the document either way; only the record set and pending state change.
func (s *Session) SubmitComment(ctx context.Context, content string) error {
	if s.cfg.API == nil {
		return ErrNoAPI
	}
	s.mu.Lock()
	id := s.pending
	s.mu.Unlock()
	if id == "" {
		return errors.New("no pending comment")
	}

	rec, err := s.cfg.API.CreateComment(ctx, s.id.DocumentID, apiclient.CreateCommentRequest{
		CommentID:  id,
		AuthorID:   s.cfg.Local.ParticipantID,
		AuthorName: s.cfg.Local.Name,
		Content:    content,
	})
	if err != nil {
		return fmt.Errorf("create comment: %w", err)
	}

	c, convErr := convertRecord(*rec)
	s.mu.Lock()
	s.pending = ""
	if convErr == nil {
		s.records = append(s.records, c)
	}
	s.mu.Unlock()
	return nil
}

// Reply appends a message to an existing thread.
func (s *Session) Reply(ctx context.Context, threadID, content string) error {
	if s.cfg.API == nil {
		return ErrNoAPI
	}
	rec, err := s.cfg.API.CreateComment(ctx, s.id.DocumentID, apiclient.CreateCommentRequest{
		CommentID:  threadID,
		ParentID:   threadID,
		AuthorID:   s.cfg.Local.ParticipantID,
		AuthorName: s.cfg.Local.Name,
		Content:    content,
	})
	if err != nil {
		return fmt.Errorf("reply: %w", err)
	}
	c, convErr := convertRecord(*rec)
	if convErr != nil {
		return nil
	}
	s.mu.Lock()
	s.records = append(s.records, c)
	s.mu.Unlock()
	return nil
}

// CancelComment abandons the pending draft and removes its mark from the
// document. Cancellation is the one case where removing a mark is legal: the
// draft never became a thread, so no data depends on the position.
func (s *Session) CancelComment() error {
	s.mu.Lock()
	id := s.pending
	s.pending = ""
	s.mu.Unlock()
	if id == "" {
		return nil
	}
	if err := s.doc.RemoveCommentMark(id); err != nil && !errors.Is(err, doc.ErrDestroyed) {
		return fmt.Errorf("remove comment mark: %w", err)
	}
	return nil
}

// ResolveThread marks a thread resolved on the server and flips the mark's
// stored state so other replicas render it muted. The mark itself stays.
func (s *Session) ResolveThread(ctx context.Context, commentID string) error {
	if s.cfg.API == nil {
		return ErrNoAPI
	}
	if err := s.cfg.API.ResolveComment(ctx, commentID, true); err != nil {
		return fmt.Errorf("resolve comment: %w", err)
	}
	if err := s.doc.SetCommentState(commentID, doc.MarkResolved); err != nil && !errors.Is(err, doc.ErrDestroyed) {
		return fmt.Errorf("set mark state: %w", err)
	}

	now := time.Now().UTC()
	s.mu.Lock()
	for i := range s.records {
		if s.records[i].ID == commentID && s.records[i].ParentID == "" {
			s.records[i].ResolvedAt = &now
		}
	}
	s.mu.Unlock()
	return nil
}

func convertRecord(r apiclient.CommentRecord) (comments.Comment, error) {
	created, err := time.Parse(time.RFC3339, r.CreatedAt)
	if err != nil {
		return comments.Comment{}, fmt.Errorf("parse created_at: %w", err)
	}
	c := comments.Comment{
		ID:         r.CommentID,
		ParentID:   r.ParentID,
		AuthorID:   r.AuthorID,
		AuthorName: r.AuthorName,
		Content:    r.Content,
		CreatedAt:  created,
	}
	if r.ResolvedAt != nil {
		resolved, err := time.Parse(time.RFC3339, *r.ResolvedAt)
		if err != nil {
			return comments.Comment{}, fmt.Errorf("parse resolved_at: %w", err)
		}
		c.ResolvedAt = &resolved
	}
	return c, nil
}
