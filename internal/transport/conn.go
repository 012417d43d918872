// Package transport binds a replicated document to a remote room over a
// reconnecting websocket channel. It layers the session semantics on top of
// the raw channel: status reporting, the sync-complete event, out-of-band
// control frames, and close-code policy.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gorilla/websocket"

	"github.com/marcus/loom/internal/doc"
	"github.com/marcus/loom/internal/presence"
)

// Status is the raw channel state, before any cache or host-connectivity
// considerations are folded in.
type Status int

const (
	StatusConnecting Status = iota
	StatusConnected
	StatusDisconnected
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusDisconnected:
		return "disconnected"
	}
	return "unknown"
}

// CacheInvalidator is the slice of the local cache the transport is allowed
// to touch: full invalidation, nothing else.
type CacheInvalidator interface {
	Clear() error
}

// ConvertedInfo names the successor document after a type conversion.
type ConvertedInfo struct {
	NewDocID   string `json:"newDocId"`
	NewDocType string `json:"newDocType"`
}

// Config wires a connection to its session. Every callback is invoked from
// the connection's goroutines and is dropped once Cancelled reports true,
// since the channel implementation may deliver a final event after teardown
// has begun.
type Config struct {
	URL     string
	RoomKey string
	Doc     *doc.Doc
	Cache   CacheInvalidator
	Tracker *presence.Tracker
	Local   presence.Entry

	OnStatus       func(Status)
	OnSynced       func()
	OnNotice       func(string)
	OnNavigateAway func()
	OnConverted    func(ConvertedInfo)

	Cancelled func() bool

	// Dialer overrides the websocket dialer, for tests.
	Dialer *websocket.Dialer
}

// noticeUnavailable is the generic fallback when a permanent close carries
// no usable reason.
const noticeUnavailable = "This document is no longer available. Please refresh."

const noticeRevoked = "Your access to this document was revoked."

// Conn is one reconnecting room binding. Reconnection is automatic until
// DisconnectPermanently or Close.
type Conn struct {
	cfg       Config
	ctx       context.Context
	cancel    context.CancelFunc
	permanent atomic.Bool

	mu sync.Mutex
	ws *websocket.Conn

	// writeMu serializes every data write on the active socket: the serve
	// loop's sync and presence frames and Close's departure tombstone. The
	// websocket package allows only one concurrent writer.
	writeMu sync.Mutex

	wg sync.WaitGroup
}

// Connect starts the connection's run loop and returns immediately.
func Connect(cfg Config) (*Conn, error) {
	if cfg.URL == "" || cfg.Doc == nil {
		return nil, errors.New("transport: url and doc are required")
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	if cfg.Cancelled == nil {
		cfg.Cancelled = func() bool { return false }
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Conn{cfg: cfg, ctx: ctx, cancel: cancel}
	c.wg.Add(1)
	go c.run()
	return c, nil
}

// DisconnectPermanently stops reconnection for good. Subsequent channel
// events are ignored.
func (c *Conn) DisconnectPermanently() {
	c.permanent.Store(true)
	c.cancel()
	c.closeSocket()
}

// Close broadcasts this replica's presence removal, closes the socket, and
// stops the run loop. Safe to call more than once.
func (c *Conn) Close() {
	if c.permanent.CompareAndSwap(false, true) {
		c.mu.Lock()
		ws := c.ws
		c.mu.Unlock()
		if ws != nil {
			// Best effort: peers should not see a ghost cursor until their
			// own timeout elapses.
			tomb, _ := json.Marshal(presence.Entry{ParticipantID: c.cfg.Local.ParticipantID})
			c.writeMu.Lock()
			_ = ws.WriteMessage(websocket.BinaryMessage, Encode(FramePresence, tomb))
			c.writeMu.Unlock()
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		}
	}
	c.cancel()
	c.closeSocket()
	c.wg.Wait()
}

func (c *Conn) closeSocket() {
	c.mu.Lock()
	ws := c.ws
	c.ws = nil
	c.mu.Unlock()
	if ws != nil {
		_ = ws.Close()
	}
}

func (c *Conn) run() {
	defer c.wg.Done()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 250 * time.Millisecond
	bo.MaxInterval = 15 * time.Second
	bo.MaxElapsedTime = 0 // retry until told otherwise

	for {
		if c.permanent.Load() || c.ctx.Err() != nil {
			return
		}
		c.emitStatus(StatusConnecting)

		ws, resp, err := c.cfg.Dialer.DialContext(c.ctx, c.cfg.URL, http.Header{})
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			slog.Debug("dial failed", "room", c.cfg.RoomKey, "err", err)
			c.emitStatus(StatusDisconnected)
			if !c.sleep(bo.NextBackOff()) {
				return
			}
			continue
		}

		bo.Reset()
		c.mu.Lock()
		c.ws = ws
		c.mu.Unlock()
		c.emitStatus(StatusConnected)

		err = c.serve(ws)
		c.closeSocket()

		if done := c.handleDisconnect(err); done {
			return
		}
		if c.permanent.Load() || c.ctx.Err() != nil {
			return
		}
		c.emitStatus(StatusDisconnected)
		if !c.sleep(bo.NextBackOff()) {
			return
		}
	}
}

// handleDisconnect applies close-code policy. It returns true when the run
// loop must stop for good.
func (c *Conn) handleDisconnect(err error) bool {
	var ce *websocket.CloseError
	if err == nil || !errors.As(err, &ce) {
		return false
	}
	switch ce.Code {
	case CloseAccessRevoked:
		c.permanent.Store(true)
		c.emitNotice(noticeRevoked)
		c.emitNavigateAway()
		return true
	case CloseDocConverted:
		c.permanent.Store(true)
		var info ConvertedInfo
		// A malformed reason payload must not crash the handler; it
		// degrades to the generic unavailable notice.
		if jsonErr := json.Unmarshal([]byte(ce.Text), &info); jsonErr != nil || info.NewDocID == "" || info.NewDocType == "" {
			slog.Warn("unusable conversion reason", "room", c.cfg.RoomKey, "reason", ce.Text)
			c.emitNotice(noticeUnavailable)
			c.emitNavigateAway()
			return true
		}
		c.emitConverted(info)
		return true
	case CloseContentReplaced:
		// Recoverable: drop the stale cache so the automatic reconnect
		// merges against the server's fresh state.
		if c.cfg.Cache != nil {
			if clearErr := c.cfg.Cache.Clear(); clearErr != nil {
				slog.Warn("cache clear after content replacement failed", "room", c.cfg.RoomKey, "err", clearErr)
			}
		}
		return false
	}
	return false
}

func (c *Conn) serve(ws *websocket.Conn) error {
	sess := c.cfg.Doc.NewSyncSession()

	send := func(typ byte, payload []byte) error {
		c.writeMu.Lock()
		defer c.writeMu.Unlock()
		return ws.WriteMessage(websocket.BinaryMessage, Encode(typ, payload))
	}

	flush := func() error {
		msgs, err := sess.Generate()
		if err != nil {
			return err
		}
		for _, m := range msgs {
			if err := send(FrameSync, m); err != nil {
				return fmt.Errorf("write sync message: %w", err)
			}
		}
		return nil
	}

	// Announce local presence first so peers see the cursor before content
	// starts moving.
	if entry, err := json.Marshal(c.cfg.Local); err == nil {
		if err := send(FramePresence, entry); err != nil {
			return fmt.Errorf("announce presence: %w", err)
		}
	}
	if err := flush(); err != nil {
		return err
	}

	// Local edits wake the flusher; the ticker is a safety net against a
	// missed wakeup.
	kick := make(chan struct{}, 1)
	unsub := c.cfg.Doc.Subscribe(func() {
		select {
		case kick <- struct{}{}:
		default:
		}
	})
	defer unsub()

	done := make(chan struct{})
	defer close(done)
	go func() {
		t := time.NewTicker(time.Second)
		defer t.Stop()
		for {
			select {
			case <-kick:
			case <-t.C:
			case <-done:
				return
			case <-c.ctx.Done():
				return
			}
			if err := flush(); err != nil {
				slog.Debug("flush failed", "room", c.cfg.RoomKey, "err", err)
				return
			}
		}
	}()

	for {
		mt, p, err := ws.ReadMessage()
		if err != nil {
			return err
		}
		if c.cfg.Cancelled() {
			return nil
		}
		if mt != websocket.BinaryMessage {
			continue
		}
		typ, payload, err := Decode(p)
		if err != nil {
			continue
		}
		switch typ {
		case FrameSync:
			if err := sess.Receive(payload); err != nil {
				return fmt.Errorf("apply sync message: %w", err)
			}
			if err := flush(); err != nil {
				return err
			}
		case FramePresence:
			var e presence.Entry
			if err := json.Unmarshal(payload, &e); err != nil {
				slog.Debug("bad presence payload", "room", c.cfg.RoomKey, "err", err)
				continue
			}
			if c.cfg.Tracker != nil {
				c.cfg.Tracker.Apply(e)
			}
		case FrameSyncComplete:
			c.emitSynced()
		case FrameCacheClear:
			// Applied inline, before any further merge traffic for this
			// connection is read.
			if c.cfg.Cache != nil {
				if err := c.cfg.Cache.Clear(); err != nil {
					slog.Warn("cache clear signal failed", "room", c.cfg.RoomKey, "err", err)
				}
			}
		default:
			slog.Debug("unknown frame type", "room", c.cfg.RoomKey, "type", typ)
		}
	}
}

func (c *Conn) sleep(d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-c.ctx.Done():
		return false
	}
}

func (c *Conn) emitStatus(s Status) {
	if c.permanent.Load() || c.cfg.Cancelled() {
		return
	}
	if c.cfg.OnStatus != nil {
		c.cfg.OnStatus(s)
	}
}

func (c *Conn) emitSynced() {
	if c.permanent.Load() || c.cfg.Cancelled() {
		return
	}
	if c.cfg.OnSynced != nil {
		c.cfg.OnSynced()
	}
}

func (c *Conn) emitNotice(msg string) {
	if c.cfg.Cancelled() {
		return
	}
	if c.cfg.OnNotice != nil {
		c.cfg.OnNotice(msg)
	}
}

func (c *Conn) emitNavigateAway() {
	if c.cfg.Cancelled() {
		return
	}
	if c.cfg.OnNavigateAway != nil {
		c.cfg.OnNavigateAway()
	}
}

func (c *Conn) emitConverted(info ConvertedInfo) {
	if c.cfg.Cancelled() {
		return
	}
	if c.cfg.OnConverted != nil {
		c.cfg.OnConverted(info)
	}
}
