package collabserver

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/marcus/loom/internal/apiclient"
	"github.com/marcus/loom/internal/doc"
	"github.com/marcus/loom/internal/transport"
)

func newTestServer(t *testing.T, authToken, adminToken string) (*Server, *httptest.Server) {
	t.Helper()
	s, err := NewServer(Config{
		DBPath:     filepath.Join(t.TempDir(), "collab.db"),
		AuthToken:  authToken,
		AdminToken: adminToken,
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	srv := httptest.NewServer(s.routes())
	t.Cleanup(func() {
		srv.Close()
		s.store.Close()
	})
	return s, srv
}

// wsClient drives the collaboration endpoint the way a real session would:
// one replicated document, one sync session, frames demuxed off a reader
// goroutine.
type wsClient struct {
	t    *testing.T
	ws   *websocket.Conn
	d    *doc.Doc
	sess *doc.SyncSession

	writeMu sync.Mutex

	synced     chan struct{}
	presence   chan []byte
	cacheClear chan struct{}
	closed     chan *websocket.CloseError
}

func dialClient(t *testing.T, srv *httptest.Server, room, actor string) *wsClient {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/collaboration?room=" + room
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	c := &wsClient{
		t:          t,
		ws:         ws,
		d:          doc.New(actor),
		synced:     make(chan struct{}, 1),
		presence:   make(chan []byte, 16),
		cacheClear: make(chan struct{}, 1),
		closed:     make(chan *websocket.CloseError, 1),
	}
	c.sess = c.d.NewSyncSession()
	t.Cleanup(func() { ws.Close() })

	go c.readLoop()
	c.push()
	return c
}

func (c *wsClient) readLoop() {
	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				c.closed <- ce
			}
			return
		}
		typ, payload, err := transport.Decode(raw)
		if err != nil {
			continue
		}
		switch typ {
		case transport.FrameSync:
			if err := c.sess.Receive(payload); err != nil {
				c.t.Errorf("receive: %v", err)
				return
			}
			c.push()
		case transport.FrameSyncComplete:
			select {
			case c.synced <- struct{}{}:
			default:
			}
		case transport.FramePresence:
			c.presence <- payload
		case transport.FrameCacheClear:
			select {
			case c.cacheClear <- struct{}{}:
			default:
			}
		}
	}
}

// push sends all pending sync messages.
func (c *wsClient) push() {
	msgs, err := c.sess.Generate()
	if err != nil {
		c.t.Errorf("generate: %v", err)
		return
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	for _, m := range msgs {
		if err := c.ws.WriteMessage(websocket.BinaryMessage, transport.Encode(transport.FrameSync, m)); err != nil {
			return
		}
	}
}

func (c *wsClient) sendPresence(payload string) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.WriteMessage(websocket.BinaryMessage, transport.Encode(transport.FramePresence, []byte(payload))); err != nil {
		c.t.Errorf("send presence: %v", err)
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

func awaitClose(t *testing.T, c *wsClient) *websocket.CloseError {
	t.Helper()
	select {
	case ce := <-c.closed:
		return ce
	case <-time.After(3 * time.Second):
		t.Fatal("connection never closed")
		return nil
	}
}

func TestClientsConvergeThroughHub(t *testing.T) {
	s, srv := newTestServer(t, "", "")

	a := dialClient(t, srv, "notes:d1", "a1")
	if err := a.d.AppendBlock(doc.Block{ID: "b1", Kind: doc.KindParagraph, Runs: []doc.Run{{Text: "hello"}}}); err != nil {
		t.Fatalf("append: %v", err)
	}
	a.push()

	b := dialClient(t, srv, "notes:d1", "b1")
	select {
	case <-b.synced:
	case <-time.After(3 * time.Second):
		t.Fatal("caught-up signal never arrived")
	}

	ok := waitFor(t, 3*time.Second, func() bool {
		blocks, err := b.d.Blocks()
		return err == nil && len(blocks) == 1 && blocks[0].Runs[0].Text == "hello"
	})
	if !ok {
		t.Fatal("second client never converged")
	}

	// The hub persisted the merged document.
	ok = waitFor(t, 3*time.Second, func() bool {
		snapshot, err := s.store.LoadDocument("notes:d1")
		return err == nil && len(snapshot) > 0
	})
	if !ok {
		t.Fatal("document never persisted")
	}
}

func TestRoomReloadsFromStoreAfterRetire(t *testing.T) {
	s, srv := newTestServer(t, "", "")

	a := dialClient(t, srv, "notes:d1", "a1")
	if err := a.d.AppendBlock(doc.Block{ID: "b1", Kind: doc.KindParagraph, Runs: []doc.Run{{Text: "persisted"}}}); err != nil {
		t.Fatalf("append: %v", err)
	}
	a.push()
	if !waitFor(t, 3*time.Second, func() bool {
		snapshot, err := s.store.LoadDocument("notes:d1")
		return err == nil && len(snapshot) > 0
	}) {
		t.Fatal("document never persisted")
	}

	// Retire the live room, then join fresh: the content must come back
	// from the store.
	s.hub.closeRoom("notes:d1", websocket.CloseNormalClosure, "")
	b := dialClient(t, srv, "notes:d1", "b1")
	ok := waitFor(t, 3*time.Second, func() bool {
		blocks, err := b.d.Blocks()
		return err == nil && len(blocks) == 1 && blocks[0].Runs[0].Text == "persisted"
	})
	if !ok {
		t.Fatal("reloaded room lost its content")
	}
}

func TestPresenceRelayAndTombstone(t *testing.T) {
	_, srv := newTestServer(t, "", "")

	a := dialClient(t, srv, "notes:d1", "a1")
	a.sendPresence(`{"participantId":"p-a","name":"ada","color":"#f00"}`)

	// A late joiner gets the replay.
	b := dialClient(t, srv, "notes:d1", "b1")
	select {
	case p := <-b.presence:
		if !strings.Contains(string(p), `"ada"`) {
			t.Fatalf("replayed presence: %s", p)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("presence replay never arrived")
	}

	// Live updates relay to the other side.
	b.sendPresence(`{"participantId":"p-b","name":"bob","color":"#0f0"}`)
	select {
	case p := <-a.presence:
		if !strings.Contains(string(p), `"bob"`) {
			t.Fatalf("relayed presence: %s", p)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("presence relay never arrived")
	}

	// Dropping a client tombstones it for the survivors.
	a.ws.Close()
	select {
	case p := <-b.presence:
		if !strings.Contains(string(p), `"p-a"`) || !strings.Contains(string(p), `"name":""`) {
			t.Fatalf("tombstone: %s", p)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("tombstone never arrived")
	}
}

func TestRevokeClosesWithAccessCode(t *testing.T) {
	_, srv := newTestServer(t, "", "admin-tok")
	a := dialClient(t, srv, "notes:d1", "a1")

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/admin/rooms/notes:d1/revoke", nil)
	req.Header.Set("Authorization", "Bearer admin-tok")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("revoke: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("revoke status: %d", resp.StatusCode)
	}

	ce := awaitClose(t, a)
	if ce.Code != transport.CloseAccessRevoked {
		t.Fatalf("close code: %d", ce.Code)
	}
}

func TestConvertClosesWithReason(t *testing.T) {
	_, srv := newTestServer(t, "", "admin-tok")
	a := dialClient(t, srv, "notes:d1", "a1")

	body := strings.NewReader(`{"newDocId":"d9","newDocType":"board"}`)
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/admin/rooms/notes:d1/convert", body)
	req.Header.Set("Authorization", "Bearer admin-tok")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	resp.Body.Close()

	ce := awaitClose(t, a)
	if ce.Code != transport.CloseDocConverted {
		t.Fatalf("close code: %d", ce.Code)
	}
	if !strings.Contains(ce.Text, `"d9"`) || !strings.Contains(ce.Text, `"board"`) {
		t.Fatalf("close reason: %s", ce.Text)
	}
}

func TestReplaceContentSignalsCacheClear(t *testing.T) {
	_, srv := newTestServer(t, "", "admin-tok")
	a := dialClient(t, srv, "notes:d1", "a1")

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/admin/rooms/notes:d1/replace", strings.NewReader(`{}`))
	req.Header.Set("Authorization", "Bearer admin-tok")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("replace: %v", err)
	}
	resp.Body.Close()

	select {
	case <-a.cacheClear:
	case <-time.After(3 * time.Second):
		t.Fatal("cache-clear frame never arrived")
	}
	ce := awaitClose(t, a)
	if ce.Code != transport.CloseContentReplaced {
		t.Fatalf("close code: %d", ce.Code)
	}
}

func TestAdminEndpointsRequireToken(t *testing.T) {
	_, srv := newTestServer(t, "", "admin-tok")

	resp, err := http.Post(srv.URL+"/admin/rooms/notes:d1/revoke", "application/json", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status without token: %d", resp.StatusCode)
	}
}

func TestRESTRoundTripThroughClient(t *testing.T) {
	_, srv := newTestServer(t, "tok", "")
	api := apiclient.New(srv.URL, "tok")
	ctx := context.Background()

	rec, err := api.CreateComment(ctx, "d1", apiclient.CreateCommentRequest{
		CommentID: "c1", AuthorID: "u1", AuthorName: "ada", Content: "first",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if rec.CreatedAt == "" {
		t.Fatal("created_at missing")
	}

	records, err := api.ListComments(ctx, "d1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 1 || records[0].Content != "first" {
		t.Fatalf("records: %#v", records)
	}

	if err := api.ResolveComment(ctx, "c1", true); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	records, _ = api.ListComments(ctx, "d1")
	if records[0].ResolvedAt == nil {
		t.Fatal("not resolved")
	}

	if err := api.PutLinks(ctx, "d1", []string{"d2"}); err != nil {
		t.Fatalf("put links: %v", err)
	}

	bad := apiclient.New(srv.URL, "wrong")
	if _, err := bad.ListComments(ctx, "d1"); !errors.Is(err, apiclient.ErrUnauthorized) {
		t.Fatalf("wrong token: got %v, want ErrUnauthorized", err)
	}
}
