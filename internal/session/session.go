// Package session mints and verifies the stateless signed session
// cookie. A token is base64(payload) "." hex(HMAC-SHA256(key, base64
// payload)); validity is purely cryptographic, there is no server-side
// session table and no expiry.
package session

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"net/http"
	"strings"
)

// CookieName is the session cookie used by the admin UI and API.
const CookieName = "nanocms_session"

// payload carried by every valid token. A request is authenticated iff
// its cookie decodes to exactly this value.
const authorizedPayload = "authorized"

type Signer struct {
	key []byte
}

func NewSigner(key []byte) *Signer {
	return &Signer{key: key}
}

// Mint produces a signed token for the authorized payload.
func (s *Signer) Mint() string {
	msg := base64.StdEncoding.EncodeToString([]byte(authorizedPayload))
	return msg + "." + s.tag(msg)
}

// Verify splits and checks token, returning the decoded payload.
// Malformed input, a decode failure, or a tag mismatch all yield ok ==
// false; Verify never panics on adversarial input.
func (s *Signer) Verify(token string) (payload string, ok bool) {
	msg, sig, found := strings.Cut(token, ".")
	if !found || msg == "" || sig == "" {
		return "", false
	}
	want := s.tag(msg)
	// hmac.Equal is constant time
	if !hmac.Equal([]byte(sig), []byte(want)) {
		return "", false
	}
	raw, err := base64.StdEncoding.DecodeString(msg)
	if err != nil {
		return "", false
	}
	return string(raw), true
}

// Authorized reports whether token carries the exact authorized payload.
func (s *Signer) Authorized(token string) bool {
	payload, ok := s.Verify(token)
	return ok && payload == authorizedPayload
}

func (s *Signer) tag(msg string) string {
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(msg))
	return hex.EncodeToString(mac.Sum(nil))
}

// Cookie wraps token in the session cookie: HttpOnly so page scripts
// cannot read it, scoped to the whole site.
func Cookie(token string) *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}

// ClearCookie expires the session cookie client-side. The token itself
// stays valid; there is no server-side revocation.
func ClearCookie() *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	}
}

// FromRequest extracts the session token, or "" when absent.
func FromRequest(r *http.Request) string {
	c, err := r.Cookie(CookieName)
	if err != nil {
		return ""
	}
	return c.Value
}
