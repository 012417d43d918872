// Package collabserver is the companion collaboration server: a websocket
// relay that keeps one replicated document per room, plus the REST surface
// for comment and link persistence.
package collabserver

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	room_key TEXT PRIMARY KEY,
	content  BLOB NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS comments (
	rowid_seq  INTEGER PRIMARY KEY AUTOINCREMENT,
	doc_id     TEXT NOT NULL,
	comment_id TEXT NOT NULL,
	parent_id  TEXT NOT NULL DEFAULT '',
	author_id  TEXT NOT NULL,
	author_name TEXT NOT NULL,
	content    TEXT NOT NULL,
	created_at TEXT NOT NULL,
	resolved_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_comments_doc ON comments(doc_id);

CREATE TABLE IF NOT EXISTS links (
	source_id TEXT NOT NULL,
	target_id TEXT NOT NULL,
	PRIMARY KEY (source_id, target_id)
);
`

// Store wraps the server database connection.
type Store struct {
	conn *sql.DB
	path string
}

// OpenStore opens the server database, creating file and schema on first
// use.
func OpenStore(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	conn.Exec("PRAGMA synchronous=NORMAL")
	conn.Exec("PRAGMA foreign_keys=ON")

	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &Store{conn: conn, path: dbPath}, nil
}

// Close checkpoints the WAL and closes the database connection.
func (s *Store) Close() error {
	s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.conn.Close()
}

// LoadDocument returns the stored snapshot for a room, or nil when the room
// has no persisted document yet.
func (s *Store) LoadDocument(roomKey string) ([]byte, error) {
	var content []byte
	err := s.conn.QueryRow(`SELECT content FROM documents WHERE room_key = ?`, roomKey).Scan(&content)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load document %s: %w", roomKey, err)
	}
	return content, nil
}

// SaveDocument upserts a room's snapshot.
func (s *Store) SaveDocument(roomKey string, content []byte) error {
	_, err := s.conn.Exec(
		`INSERT INTO documents (room_key, content, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(room_key) DO UPDATE SET content = excluded.content, updated_at = excluded.updated_at`,
		roomKey, content, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("save document %s: %w", roomKey, err)
	}
	return nil
}

// CommentRecord is a stored comment in wire form.
type CommentRecord struct {
	CommentID  string  `json:"comment_id"`
	ParentID   string  `json:"parent_id,omitempty"`
	AuthorID   string  `json:"author_id"`
	AuthorName string  `json:"author_name"`
	Content    string  `json:"content"`
	CreatedAt  string  `json:"created_at"`
	ResolvedAt *string `json:"resolved_at,omitempty"`
}

// ListComments returns a document's comments in insertion order.
func (s *Store) ListComments(docID string) ([]CommentRecord, error) {
	rows, err := s.conn.Query(
		`SELECT comment_id, parent_id, author_id, author_name, content, created_at, resolved_at
		 FROM comments WHERE doc_id = ? ORDER BY rowid_seq`, docID)
	if err != nil {
		return nil, fmt.Errorf("list comments %s: %w", docID, err)
	}
	defer rows.Close()

	out := []CommentRecord{}
	for rows.Next() {
		var rec CommentRecord
		if err := rows.Scan(&rec.CommentID, &rec.ParentID, &rec.AuthorID, &rec.AuthorName,
			&rec.Content, &rec.CreatedAt, &rec.ResolvedAt); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// CreateComment stores a comment or reply and returns the stored record.
func (s *Store) CreateComment(docID string, rec CommentRecord) (CommentRecord, error) {
	if rec.CreatedAt == "" {
		rec.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	}
	_, err := s.conn.Exec(
		`INSERT INTO comments (doc_id, comment_id, parent_id, author_id, author_name, content, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		docID, rec.CommentID, rec.ParentID, rec.AuthorID, rec.AuthorName, rec.Content, rec.CreatedAt,
	)
	if err != nil {
		return CommentRecord{}, fmt.Errorf("create comment %s: %w", rec.CommentID, err)
	}
	return rec, nil
}

// ResolveComment flips the resolution timestamp on a thread root. A false
// value reopens the thread.
func (s *Store) ResolveComment(commentID string, resolved bool) error {
	var resolvedAt *string
	if resolved {
		now := time.Now().UTC().Format(time.RFC3339)
		resolvedAt = &now
	}
	res, err := s.conn.Exec(
		`UPDATE comments SET resolved_at = ? WHERE comment_id = ? AND parent_id = ''`,
		resolvedAt, commentID,
	)
	if err != nil {
		return fmt.Errorf("resolve comment %s: %w", commentID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ReplaceLinks replaces the outgoing link set of a document.
func (s *Store) ReplaceLinks(sourceID string, targetIDs []string) error {
	tx, err := s.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM links WHERE source_id = ?`, sourceID); err != nil {
		return fmt.Errorf("clear links %s: %w", sourceID, err)
	}
	for _, target := range targetIDs {
		if _, err := tx.Exec(`INSERT OR IGNORE INTO links (source_id, target_id) VALUES (?, ?)`, sourceID, target); err != nil {
			return fmt.Errorf("insert link %s->%s: %w", sourceID, target, err)
		}
	}
	return tx.Commit()
}

// Links returns the outgoing link targets of a document, sorted.
func (s *Store) Links(sourceID string) ([]string, error) {
	rows, err := s.conn.Query(`SELECT target_id FROM links WHERE source_id = ? ORDER BY target_id`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("links %s: %w", sourceID, err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("scan link: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
