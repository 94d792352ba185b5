// Package interaction implements the InteractionHub: the callback state
// machine bridging audit/reconciliation decisions with external users, plus
// the at-least-once outbox dispatcher it exclusively feeds (spec §4.7).
package interaction

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

// signToken computes the HMAC-SHA256 of (cardID, kind, expiresAt) with
// secret, hex-encoded. This is the callback_token (spec §4.7).
func signToken(secret, cardID, kind string, expiresAt int64) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(fmt.Sprintf("%s|%s|%d", cardID, kind, expiresAt)))
	return hex.EncodeToString(mac.Sum(nil))
}

// verifyToken recomputes the expected token and compares in constant time.
func verifyToken(secret, cardID, kind string, expiresAt int64, token string) bool {
	expected := signToken(secret, cardID, kind, expiresAt)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(token)) == 1
}
