// internal/types/ids.go
package types

import (
	"encoding/hex"
	"strings"

	"github.com/zeebo/blake3"
)

// UnknownSession is the session id used when a payload carries no
// recognizable session field.
const UnknownSession = "unknown-session"

// turnIDLength is the number of hex characters kept from the turn hash.
const turnIDLength = 32

type MessageKey string
type PartKey string
type TurnID string

// NewMessageKey joins a session id and a message id into the composite
// key used by every per-message map in the persisted state.
func NewMessageKey(sessionID, messageID string) MessageKey {
	return MessageKey(sessionID + ":" + messageID)
}

// Part returns the composite (message, part) key.
func (k MessageKey) Part(partID string) PartKey {
	return PartKey(string(k) + ":" + partID)
}

// MessageID strips the session prefix from the key.
func (k MessageKey) MessageID(sessionID string) (string, bool) {
	return strings.CutPrefix(string(k), sessionID+":")
}

// NewTurnID derives the stable turn identifier for an assistant message.
func NewTurnID(sessionID, messageID string) TurnID {
	sum := blake3.Sum256([]byte(sessionID + ":" + messageID))
	return TurnID(hex.EncodeToString(sum[:])[:turnIDLength])
}
