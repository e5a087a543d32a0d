// Package token signs and verifies reschedule-confirmation links.
//
// A token is "<appointmentID>.<hex HMAC-SHA256(secret, appointmentID)>". Tokens are not stored:
// anything holding the secret can recompute them, and whether a token may still be honoured is
// decided by the state of the appointment it names, not by the token.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"
)

const delimiter = "."

// ErrMissingSecret is the configuration error for an unset signing secret.
var ErrMissingSecret = errors.New("appointment token secret is not configured")

var ErrEmptyAppointmentID = errors.New("appointment id is required")

type Signer struct {
	secret []byte
}

func NewSigner(secret string) (*Signer, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, ErrMissingSecret
	}
	return &Signer{secret: []byte(secret)}, nil
}

func (s *Signer) Issue(appointmentID string) (string, error) {
	if s == nil || len(s.secret) == 0 {
		return "", ErrMissingSecret
	}
	if appointmentID == "" {
		return "", ErrEmptyAppointmentID
	}
	return appointmentID + delimiter + hex.EncodeToString(s.sign(appointmentID)), nil
}

// Validate reports whether tok was issued for appointmentID. It returns false for every kind of
// failure and does not say which part was wrong.
func (s *Signer) Validate(appointmentID, tok string) bool {
	if s == nil || len(s.secret) == 0 || appointmentID == "" {
		return false
	}
	embeddedID, sigHex, ok := strings.Cut(tok, delimiter)
	if !ok || embeddedID != appointmentID || sigHex == "" {
		return false
	}
	// Only the lower-case spelling Issue produces is accepted.
	want := hex.EncodeToString(s.sign(appointmentID))
	return subtle.ConstantTimeCompare([]byte(sigHex), []byte(want)) == 1
}

func (s *Signer) sign(appointmentID string) []byte {
	mac := hmac.New(sha256.New, s.secret)
	_, _ = mac.Write([]byte(appointmentID))
	return mac.Sum(nil)
}
