// Package auth implements the optional session handshake token:
// token = hex(HMAC-SHA256(secret, "{sessionId}:{userId}")).
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

var ErrInvalidToken = errors.New("invalid token")

type Signer struct {
	secret []byte
}

func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret)}
}

// Token returns the handshake token of userID in sessionID.
func (s *Signer) Token(sessionID, userID string) string {
	return hex.EncodeToString(s.mac(sessionID, userID))
}

// Verify checks token in constant time.
func (s *Signer) Verify(token, sessionID, userID string) error {
	got, err := hex.DecodeString(token)
	if err != nil || !hmac.Equal(got, s.mac(sessionID, userID)) {
		return ErrInvalidToken
	}
	return nil
}

func (s *Signer) mac(sessionID, userID string) []byte {
	m := hmac.New(sha256.New, s.secret)
	m.Write([]byte(sessionID + ":" + userID))
	return m.Sum(nil)
}
