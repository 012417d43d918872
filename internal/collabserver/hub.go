package collabserver

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/automerge/automerge-go"
	"github.com/gorilla/websocket"

	"github.com/marcus/loom/internal/transport"
)

// Hub owns the live rooms. Each room holds the authoritative replica of one
// document; connected clients converge on it through per-client sync states.
type Hub struct {
	store *Store

	mu    sync.Mutex
	rooms map[string]*room
}

func NewHub(store *Store) *Hub {
	return &Hub{store: store, rooms: make(map[string]*room)}
}

type room struct {
	key string

	mu      sync.Mutex
	doc     *automerge.Doc
	clients map[*client]bool
}

type client struct {
	ws    *websocket.Conn
	send  chan []byte
	state *automerge.SyncState

	// lastPresence is the client's most recent announcement, kept so the hub
	// can replay it to late joiners and tombstone it on disconnect.
	lastPresence []byte
}

// room returns the live room for a key, loading its document from the store
// on first use.
func (h *Hub) room(key string) (*room, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if r, ok := h.rooms[key]; ok {
		return r, nil
	}

	snapshot, err := h.store.LoadDocument(key)
	if err != nil {
		return nil, err
	}
	var d *automerge.Doc
	if len(snapshot) == 0 {
		d = automerge.New()
	} else {
		d, err = automerge.Load(snapshot)
		if err != nil {
			return nil, fmt.Errorf("load room %s: %w", key, err)
		}
	}

	r := &room{key: key, doc: d, clients: make(map[*client]bool)}
	h.rooms[key] = r
	return r, nil
}

// Serve runs one client connection until it drops. It owns the websocket.
func (h *Hub) Serve(roomKey string, ws *websocket.Conn) {
	r, err := h.room(roomKey)
	if err != nil {
		slog.Error("open room", "room", roomKey, "err", err)
		ws.Close()
		return
	}

	c := &client{ws: ws, send: make(chan []byte, 64)}

	r.mu.Lock()
	c.state = automerge.NewSyncState(r.doc)
	r.clients[c] = true
	// Replay the presence of everyone already here.
	for other := range r.clients {
		if other != c && other.lastPresence != nil {
			c.enqueue(transport.Encode(transport.FramePresence, other.lastPresence))
		}
	}
	// Initial catch-up, then the explicit caught-up signal.
	r.pump(c)
	c.enqueue(transport.Encode(transport.FrameSyncComplete, nil))
	r.mu.Unlock()

	go c.writePump()
	h.readLoop(r, c)
}

func (h *Hub) readLoop(r *room, c *client) {
	defer h.drop(r, c)
	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		typ, payload, err := transport.Decode(raw)
		if err != nil {
			slog.Debug("undecodable frame", "room", r.key, "err", err)
			continue
		}
		switch typ {
		case transport.FrameSync:
			h.applySync(r, c, payload)
		case transport.FramePresence:
			r.relayPresence(c, payload)
		default:
			slog.Debug("ignoring frame", "room", r.key, "type", typ)
		}
	}
}

// applySync feeds one sync message into the room document and pushes the
// resulting updates to every connected client.
func (h *Hub) applySync(r *room, from *client, payload []byte) {
	r.mu.Lock()
	if _, err := from.state.ReceiveMessage(payload); err != nil {
		r.mu.Unlock()
		slog.Warn("bad sync message", "room", r.key, "err", err)
		return
	}
	for c := range r.clients {
		r.pump(c)
	}
	snapshot := r.doc.Save()
	r.mu.Unlock()

	if err := h.store.SaveDocument(r.key, snapshot); err != nil {
		slog.Error("persist document", "room", r.key, "err", err)
	}
}

// pump drains a client's pending sync messages into its send queue. Callers
// hold r.mu.
func (r *room) pump(c *client) {
	for {
		msg, valid := c.state.GenerateMessage()
		if !valid {
			return
		}
		c.enqueue(transport.Encode(transport.FrameSync, msg.Bytes()))
	}
}

// relayPresence fans a presence frame out to the other room members.
func (r *room) relayPresence(from *client, payload []byte) {
	var probe struct {
		Name string `json:"name"`
	}
	tombstone := json.Unmarshal(payload, &probe) == nil && probe.Name == ""

	r.mu.Lock()
	if tombstone {
		from.lastPresence = nil
	} else {
		from.lastPresence = append([]byte(nil), payload...)
	}
	for c := range r.clients {
		if c != from {
			c.enqueue(transport.Encode(transport.FramePresence, payload))
		}
	}
	r.mu.Unlock()
}

// drop unregisters a client and tombstones its presence for the survivors.
func (h *Hub) drop(r *room, c *client) {
	r.mu.Lock()
	if _, ok := r.clients[c]; !ok {
		r.mu.Unlock()
		return
	}
	delete(r.clients, c)
	close(c.send)

	tombstone := c.tombstone()
	if tombstone != nil {
		for other := range r.clients {
			other.enqueue(transport.Encode(transport.FramePresence, tombstone))
		}
	}
	r.mu.Unlock()
	c.ws.Close()
}

// tombstone derives the leave announcement from the last presence payload.
func (c *client) tombstone() []byte {
	if c.lastPresence == nil {
		return nil
	}
	var entry struct {
		ParticipantID string `json:"participantId"`
	}
	if err := json.Unmarshal(c.lastPresence, &entry); err != nil || entry.ParticipantID == "" {
		return nil
	}
	out, _ := json.Marshal(map[string]string{"participantId": entry.ParticipantID, "name": ""})
	return out
}

func (c *client) enqueue(frame []byte) {
	select {
	case c.send <- frame:
	default:
		// Slow consumer; the read loop will notice the closed socket.
		c.ws.Close()
	}
}

func (c *client) writePump() {
	for frame := range c.send {
		if err := c.ws.WriteMessage(websocket.BinaryMessage, frame); err != nil {
			return
		}
	}
}

// RevokeAccess force-closes every connection in a room with the permanent
// revocation code. Clients must not reconnect.
func (h *Hub) RevokeAccess(roomKey string) {
	h.closeRoom(roomKey, transport.CloseAccessRevoked, "")
}

// ReplaceContent persists a new snapshot for the room, tells every client to
// drop its local cache, and closes with the recoverable replacement code so
// clients reconnect onto the fresh content.
func (h *Hub) ReplaceContent(roomKey string, snapshot []byte) error {
	if snapshot == nil {
		snapshot = []byte{}
	}
	if err := h.store.SaveDocument(roomKey, snapshot); err != nil {
		return err
	}

	h.mu.Lock()
	r := h.rooms[roomKey]
	h.mu.Unlock()
	if r != nil {
		r.mu.Lock()
		for c := range r.clients {
			c.enqueue(transport.Encode(transport.FrameCacheClear, nil))
		}
		r.mu.Unlock()
	}
	h.closeRoom(roomKey, transport.CloseContentReplaced, "")
	return nil
}

// ConvertRoom closes every connection with the conversion code and the new
// document's coordinates in the close reason.
func (h *Hub) ConvertRoom(roomKey, newDocID, newDocType string) {
	reason, _ := json.Marshal(map[string]string{"newDocId": newDocID, "newDocType": newDocType})
	h.closeRoom(roomKey, transport.CloseDocConverted, string(reason))
}

// closeRoom closes all clients with the given code and retires the room so
// the next join reloads from the store.
func (h *Hub) closeRoom(roomKey string, code int, reason string) {
	h.mu.Lock()
	r := h.rooms[roomKey]
	delete(h.rooms, roomKey)
	h.mu.Unlock()
	if r == nil {
		return
	}

	msg := websocket.FormatCloseMessage(code, reason)
	r.mu.Lock()
	for c := range r.clients {
		c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		c.ws.Close()
		close(c.send)
	}
	r.clients = make(map[*client]bool)
	r.mu.Unlock()
}
