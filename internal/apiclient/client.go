// Package apiclient is the HTTP client for the collaboration server's REST
// surface: comment persistence and cross-document link bookkeeping. This is
// ordinary CRUD plumbing riding next to the websocket channel, kept apart
// from the synchronization core.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Sentinel errors for common HTTP error classes.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
)

// Client talks to one collaboration server. The auth token is threaded
// through construction explicitly; there is no process-global token state.
type Client struct {
	BaseURL   string
	AuthToken string
	HTTP      *http.Client
}

// New creates a client for the given server base URL.
func New(baseURL, authToken string) *Client {
	return &Client{
		BaseURL:   baseURL,
		AuthToken: authToken,
		HTTP:      &http.Client{Timeout: 30 * time.Second},
	}
}

// --- Comment types (mirrors internal/collabserver, independently defined) ---

// CommentRecord is a stored comment as the server returns it.
type CommentRecord struct {
	CommentID  string  `json:"comment_id"`
	ParentID   string  `json:"parent_id,omitempty"`
	AuthorID   string  `json:"author_id"`
	AuthorName string  `json:"author_name"`
	Content    string  `json:"content"`
	CreatedAt  string  `json:"created_at"`
	ResolvedAt *string `json:"resolved_at,omitempty"`
}

// CreateCommentRequest is the body for POST /api/documents/{id}/comments.
type CreateCommentRequest struct {
	CommentID  string `json:"comment_id"`
	ParentID   string `json:"parent_id,omitempty"`
	AuthorID   string `json:"author_id"`
	AuthorName string `json:"author_name"`
	Content    string `json:"content"`
}

// ResolveCommentRequest is the body for PATCH /api/comments/{commentId}.
type ResolveCommentRequest struct {
	Resolved bool `json:"resolved"`
}

// LinksRequest is the body for POST /api/documents/{id}/links.
type LinksRequest struct {
	TargetIDs []string `json:"target_ids"`
}

// ListComments fetches all comment records for a document.
func (c *Client) ListComments(ctx context.Context, docID string) ([]CommentRecord, error) {
	var out []CommentRecord
	if err := c.do(ctx, http.MethodGet, c.documentPath(docID, "comments"), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateComment stores a new comment or reply, keyed by comment_id plus
// parent_id.
func (c *Client) CreateComment(ctx context.Context, docID string, req CreateCommentRequest) (*CommentRecord, error) {
	var out CommentRecord
	if err := c.do(ctx, http.MethodPost, c.documentPath(docID, "comments"), req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ResolveComment flips the resolution state of a thread root.
func (c *Client) ResolveComment(ctx context.Context, commentID string, resolved bool) error {
	p := "/api/comments/" + url.PathEscape(commentID)
	return c.do(ctx, http.MethodPatch, p, ResolveCommentRequest{Resolved: resolved}, nil)
}

// PutLinks replaces the set of documents this document links out to.
func (c *Client) PutLinks(ctx context.Context, docID string, targetIDs []string) error {
	if targetIDs == nil {
		targetIDs = []string{}
	}
	return c.do(ctx, http.MethodPost, c.documentPath(docID, "links"), LinksRequest{TargetIDs: targetIDs}, nil)
}

func (c *Client) documentPath(docID, suffix string) string {
	return "/api/documents/" + url.PathEscape(docID) + "/" + suffix
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.AuthToken)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return ErrUnauthorized
	case resp.StatusCode == http.StatusForbidden:
		return ErrForbidden
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode >= 400:
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, raw)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
