package transport

import (
	"fmt"
	"net/url"
)

// CollaborationURL derives the websocket endpoint from the host's HTTP base
// URL: the scheme mirrors http/https as ws/wss and the path is
// /collaboration. The room key rides in the query string.
func CollaborationURL(base, roomKey string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = "/collaboration"
	q := url.Values{}
	q.Set("room", roomKey)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
