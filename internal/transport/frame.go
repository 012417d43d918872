package transport

import "fmt"

// Binary frame layout: one type byte followed by the payload. Document sync
// traffic, presence updates, and server control signals all ride the same
// channel, so the type byte must be inspected before any generic processing.
const (
	// FrameSync carries one replicated-document sync-protocol message.
	FrameSync byte = 0
	// FramePresence carries a JSON presence entry; an entry with an empty
	// name is a removal tombstone.
	FramePresence byte = 1
	// FrameSyncComplete is sent by the server once the merge handshake for
	// this connection has finished. Empty payload.
	FrameSyncComplete byte = 2
	// FrameCacheClear instructs the client to invalidate its local cache and
	// wipe the replicated document's content before processing any further
	// merge traffic on this connection.
	FrameCacheClear byte = 3
)

// Close codes carried on the transport's closure event.
const (
	// CloseAccessRevoked permanently disables reconnection; the user no
	// longer has access to the document.
	CloseAccessRevoked = 4403
	// CloseDocConverted permanently disables reconnection; the close reason
	// is a JSON payload naming the successor document.
	CloseDocConverted = 4100
	// CloseContentReplaced signals an out-of-band API write replaced the
	// document content; the local cache must be invalidated but
	// reconnection stays enabled.
	CloseContentReplaced = 4101
)

// Encode prepends the type byte to the payload.
func Encode(typ byte, payload []byte) []byte {
	out := make([]byte, 0, len(payload)+1)
	out = append(out, typ)
	return append(out, payload...)
}

// Decode splits a frame into type byte and payload.
func Decode(frame []byte) (byte, []byte, error) {
	if len(frame) == 0 {
		return 0, nil, fmt.Errorf("empty frame")
	}
	return frame[0], frame[1:], nil
}
