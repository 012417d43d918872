package identity

import (
	"errors"
	"fmt"
	"strings"
)

// Identity names one synchronized document: a room prefix (the namespace the
// collaboration server groups rooms under) plus the document id.
type Identity struct {
	RoomPrefix string
	DocumentID string
}

var ErrInvalid = errors.New("invalid document identity")

// New validates the parts and returns an Identity. Prefix and id must be
// non-empty and must not contain the separator characters used in the
// derived keys.
func New(roomPrefix, documentID string) (Identity, error) {
	if roomPrefix == "" || documentID == "" {
		return Identity{}, fmt.Errorf("%w: empty room prefix or document id", ErrInvalid)
	}
	if strings.ContainsAny(roomPrefix, ":/") || strings.ContainsAny(documentID, ":/") {
		return Identity{}, fmt.Errorf("%w: %q/%q contains a reserved separator", ErrInvalid, roomPrefix, documentID)
	}
	return Identity{RoomPrefix: roomPrefix, DocumentID: documentID}, nil
}

// RoomKey is the server-side channel identifier for this document.
func (id Identity) RoomKey() string {
	return id.RoomPrefix + ":" + id.DocumentID
}

// CacheKey is the stable key under which the local snapshot cache is stored.
func (id Identity) CacheKey() string {
	return "app-" + id.RoomPrefix + "-" + id.DocumentID
}

// IsZero reports whether the identity is unset.
func (id Identity) IsZero() bool {
	return id.RoomPrefix == "" && id.DocumentID == ""
}

func (id Identity) String() string {
	return id.RoomKey()
}
