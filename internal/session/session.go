// Package session orchestrates one document's replicated state: document
// creation, cache-then-connect ordering, presence, comment overlay, link
// publishing, uploads, and teardown on navigation. At most one session is
// live per manager at any time.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/marcus/loom/internal/apiclient"
	"github.com/marcus/loom/internal/cache"
	"github.com/marcus/loom/internal/comments"
	"github.com/marcus/loom/internal/doc"
	"github.com/marcus/loom/internal/identity"
	"github.com/marcus/loom/internal/links"
	"github.com/marcus/loom/internal/presence"
	"github.com/marcus/loom/internal/transport"
	"github.com/marcus/loom/internal/uploads"
)

// DefaultCacheTimeout bounds how long the connect sequence waits for the
// cache-ready signal before proceeding to the network anyway. It keeps
// time-to-first-paint bounded without letting an empty cache block the
// connection indefinitely.
const DefaultCacheTimeout = 300 * time.Millisecond

// Config is shared by all sessions a manager opens.
type Config struct {
	// ServerURL is the collaboration server's HTTP base URL. The websocket
	// endpoint is derived from it.
	ServerURL string
	// CacheDir holds the per-document snapshot stores.
	CacheDir string
	// Local is this replica's presence entry.
	Local presence.Entry
	// API performs comment and link REST calls.
	API *apiclient.Client
	// Online reports host connectivity. nil means always online. Offline
	// only affects the displayed state; reconnection attempts continue.
	Online func() bool
	// Upload performs file transfers. nil disables uploads.
	Upload uploads.UploadFunc

	OnNotice       func(string)
	OnNavigateAway func()
	OnConverted    func(transport.ConvertedInfo)

	// CacheTimeout overrides DefaultCacheTimeout, LinkDebounce the link
	// publisher's window. Zero means default. Dialer overrides the
	// websocket dialer, for tests.
	CacheTimeout time.Duration
	LinkDebounce time.Duration
	Dialer       *websocket.Dialer
}

// Manager guarantees the one-live-session-per-identity invariant: opening a
// new identity atomically retires the previous session before the new
// document can observe any data.
type Manager struct {
	cfg Config

	mu      sync.Mutex
	current *Session
}

func NewManager(cfg Config) *Manager {
	if cfg.CacheTimeout <= 0 {
		cfg.CacheTimeout = DefaultCacheTimeout
	}
	return &Manager{cfg: cfg}
}

// Open retires the current session, if any, and starts a session for the
// given identity. The returned session is live immediately; its cache load
// and transport connect proceed in the background.
func (m *Manager) Open(id identity.Identity) (*Session, error) {
	if id.IsZero() {
		return nil, fmt.Errorf("open session: %w", identity.ErrInvalid)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil {
		m.current.close()
		m.current = nil
	}
	s := newSession(m.cfg, id)
	m.current = s
	return s, nil
}

// Current returns the live session, or nil.
func (m *Manager) Current() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Close tears down the live session, if any.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil {
		m.current.close()
		m.current = nil
	}
}

// Session is one live document binding.
type Session struct {
	id  identity.Identity
	cfg Config

	doc     *doc.Doc
	tracker *presence.Tracker
	upMgr   *uploads.Manager
	engine  *comments.Engine

	// cancelled is the session's cooperative cancellation flag. Every async
	// continuation checks it before mutating session-owned state.
	cancelled atomic.Bool
	hasCache  atomic.Bool

	uploadCtx    context.Context
	uploadCancel context.CancelFunc

	mu       sync.Mutex
	cache    *cache.Cache
	conn     *transport.Conn
	linksPub *links.Publisher
	records  []comments.Comment
	pending  string

	stateMu   sync.Mutex
	state     State
	stateSubs map[int]func(State)
	nextSub   int

	ready chan struct{} // closed once the connect sequence finished starting
}

func newSession(cfg Config, id identity.Identity) *Session {
	actor := cfg.Local.ParticipantID
	if actor == "" {
		// The generated id must also travel in the presence entry: peers key
		// announcements and departure tombstones on it.
		actor = uuid.NewString()
		cfg.Local.ParticipantID = actor
	}

	s := &Session{
		id:        id,
		cfg:       cfg,
		doc:       doc.New(actor),
		tracker:   presence.NewTracker(),
		engine:    comments.NewEngine(),
		state:     StateConnecting,
		stateSubs: make(map[int]func(State)),
		ready:     make(chan struct{}),
	}
	local := cfg.Local
	s.tracker.SetLocal(&local)

	// A fresh abort handle per open: a new document's uploads must not
	// start out already cancelled.
	s.uploadCtx, s.uploadCancel = context.WithCancel(context.Background())
	if cfg.Upload != nil {
		s.upMgr = uploads.NewManager(s.uploadCtx, s.doc, cfg.Upload, cfg.OnNotice)
	}

	go s.start()
	return s
}

// start runs the cache-then-connect sequence. The ordering guarantee is
// explicit: the cache load is always attempted before the transport
// connect, so the two never race to apply conflicting initial state.
func (s *Session) start() {
	defer close(s.ready)

	c, err := cache.Open(s.cfg.CacheDir, s.id.CacheKey(), s.doc)
	if err != nil {
		// Non-fatal: proceed to the network with an empty local state.
		slog.Warn("cache open failed", "key", s.id.CacheKey(), "err", err)
	}
	if s.cancelled.Load() {
		if c != nil {
			c.Close()
		}
		return
	}
	s.mu.Lock()
	s.cache = c
	s.mu.Unlock()

	// Wait for the cache-ready signal or the timeout, whichever is first.
	synced := make(chan struct{}, 1)
	if c != nil {
		c.OnSynced(func() {
			select {
			case synced <- struct{}{}:
			default:
			}
		})
	}
	select {
	case <-synced:
	case <-time.After(s.cfg.CacheTimeout):
	}
	if s.cancelled.Load() {
		return
	}
	if c != nil && c.IsAlreadySynced() {
		s.hasCache.Store(true)
	}
	s.setState(StateCached)

	if s.cfg.API != nil {
		s.mu.Lock()
		s.linksPub = links.New(s.uploadCtx, s.cfg.API, s.id.DocumentID, s.doc, s.cfg.LinkDebounce)
		s.mu.Unlock()
	}

	wsURL, err := transport.CollaborationURL(s.cfg.ServerURL, s.id.RoomKey())
	if err != nil {
		slog.Error("derive collaboration url", "server", s.cfg.ServerURL, "err", err)
		s.setState(StateDisconnected)
		return
	}
	if s.cancelled.Load() {
		return
	}

	conn, err := transport.Connect(transport.Config{
		URL:            wsURL,
		RoomKey:        s.id.RoomKey(),
		Doc:            s.doc,
		Cache:          s.cacheInvalidator(),
		Tracker:        s.tracker,
		Local:          s.cfg.Local,
		OnStatus:       s.onTransportStatus,
		OnSynced:       s.onTransportSynced,
		OnNotice:       s.cfg.OnNotice,
		OnNavigateAway: s.cfg.OnNavigateAway,
		OnConverted:    s.cfg.OnConverted,
		Cancelled:      s.cancelled.Load,
		Dialer:         s.cfg.Dialer,
	})
	if err != nil {
		slog.Error("transport connect", "room", s.id.RoomKey(), "err", err)
		s.setState(StateDisconnected)
		return
	}

	s.mu.Lock()
	if s.cancelled.Load() {
		// Lost the race with close: this conn belongs to nobody.
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.conn = conn
	s.mu.Unlock()
}

// cacheInvalidator hands the transport a clearing handle that observes the
// cancellation flag like every other async continuation.
func (s *Session) cacheInvalidator() transport.CacheInvalidator {
	return invalidatorFunc(func() error {
		if s.cancelled.Load() {
			return nil
		}
		s.hasCache.Store(false)
		s.mu.Lock()
		c := s.cache
		s.mu.Unlock()
		if c == nil {
			return nil
		}
		return c.Clear()
	})
}

type invalidatorFunc func() error

func (f invalidatorFunc) Clear() error { return f() }

func (s *Session) onTransportStatus(st transport.Status) {
	if s.cancelled.Load() {
		return
	}
	switch st {
	case transport.StatusConnected:
		s.setState(StateSynced)
	case transport.StatusDisconnected:
		if s.hasCache.Load() {
			s.setState(StateCached)
		} else {
			s.setState(StateDisconnected)
		}
	case transport.StatusConnecting:
		// Reconnect attempts do not move the displayed state back to
		// connecting; that value is reserved for the initial open.
	}
}

func (s *Session) onTransportSynced() {
	if s.cancelled.Load() {
		return
	}
	// Once the merge handshake completed, the cache is populated.
	s.hasCache.Store(true)
	s.setState(StateSynced)
}

func (s *Session) setState(st State) {
	s.stateMu.Lock()
	if s.state == st {
		s.stateMu.Unlock()
		return
	}
	s.state = st
	subs := make([]func(State), 0, len(s.stateSubs))
	for _, fn := range s.stateSubs {
		subs = append(subs, fn)
	}
	s.stateMu.Unlock()

	eff := s.effective(st)
	for _, fn := range subs {
		fn(eff)
	}
}

func (s *Session) effective(st State) State {
	if s.cfg.Online != nil && !s.cfg.Online() {
		return StateDisconnected
	}
	return st
}

// SyncState returns the effective state, with host connectivity folded in.
func (s *Session) SyncState() State {
	s.stateMu.Lock()
	st := s.state
	s.stateMu.Unlock()
	return s.effective(st)
}

// OnStateChange registers a state subscriber and returns its unsubscribe
// func. Subscribers receive effective (connectivity-folded) values.
func (s *Session) OnStateChange(fn func(State)) func() {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.stateSubs[id] = fn
	return func() {
		s.stateMu.Lock()
		defer s.stateMu.Unlock()
		delete(s.stateSubs, id)
	}
}

// Identity returns the document identity this session serves.
func (s *Session) Identity() identity.Identity { return s.id }

// Doc returns the session's replicated document.
func (s *Session) Doc() *doc.Doc { return s.doc }

// Presence returns the session's participant tracker.
func (s *Session) Presence() *presence.Tracker { return s.tracker }

// Uploads returns the session's upload manager, or nil when uploads are
// disabled.
func (s *Session) Uploads() *uploads.Manager { return s.upMgr }

// UploadContext is the session's abort context; it is cancelled on close.
func (s *Session) UploadContext() context.Context { return s.uploadCtx }

// WaitReady blocks until the connect sequence finished starting. Tests use
// it to avoid racing the cache load.
func (s *Session) WaitReady() { <-s.ready }

// Closed reports whether the session has been retired.
func (s *Session) Closed() bool { return s.cancelled.Load() }

// close tears the session down in the order the ghost-avoidance rules
// require: flag first, presence clear plus broadcast, transport, link
// publisher, uploads, cache, document.
func (s *Session) close() {
	if !s.cancelled.CompareAndSwap(false, true) {
		return
	}

	s.tracker.SetLocal(nil)

	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	pub := s.linksPub
	s.linksPub = nil
	c := s.cache
	s.cache = nil
	s.mu.Unlock()

	if conn != nil {
		// Broadcasts the presence tombstone before the socket goes away.
		conn.Close()
	}
	if pub != nil {
		pub.Stop()
	}
	s.uploadCancel()
	if c != nil {
		if err := c.Close(); err != nil {
			slog.Warn("cache close", "key", s.id.CacheKey(), "err", err)
		}
	}
	s.doc.Destroy()
}
