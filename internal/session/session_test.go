package session

import (
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func testSigner() *Signer {
	return NewSigner([]byte("0123456789abcdef0123456789abcdef"))
}

func TestMintVerifyRoundTrip(t *testing.T) {
	s := testSigner()
	tok := s.Mint()

	payload, ok := s.Verify(tok)
	if !ok {
		t.Fatal("minted token failed verification")
	}
	if payload != "authorized" {
		t.Fatalf("payload = %q, want authorized", payload)
	}
	if !s.Authorized(tok) {
		t.Fatal("Authorized() false for minted token")
	}
}

func TestSingleBitFlipFails(t *testing.T) {
	s := testSigner()
	tok := s.Mint()

	for i := 0; i < len(tok); i++ {
		if tok[i] == '.' {
			continue
		}
		b := []byte(tok)
		b[i] ^= 0x01
		if s.Authorized(string(b)) {
			t.Fatalf("bit-flipped token at offset %d still verified", i)
		}
	}
}

func TestMalformedTokens(t *testing.T) {
	s := testSigner()
	cases := []string{
		"",
		".",
		"noseparator",
		"onlymsg.",
		".onlysig",
		"a.b.c",
		strings.Repeat(".", 100),
		"%%%.deadbeef",
	}
	for _, tok := range cases {
		if _, ok := s.Verify(tok); ok {
			t.Errorf("Verify(%q) accepted malformed token", tok)
		}
	}
}

func TestWrongKeyRejected(t *testing.T) {
	tok := testSigner().Mint()
	other := NewSigner([]byte("another-key-entirely-0123456789a"))
	if other.Authorized(tok) {
		t.Fatal("token minted under a different key verified")
	}
}

func TestForgedPayloadRejected(t *testing.T) {
	s := testSigner()
	// attacker swaps the payload but keeps the signature
	tok := s.Mint()
	_, sig, _ := strings.Cut(tok, ".")
	forged := base64.StdEncoding.EncodeToString([]byte("authorized-admin")) + "." + sig
	if s.Authorized(forged) {
		t.Fatal("forged payload verified")
	}
}

func TestCookieAttributes(t *testing.T) {
	c := Cookie("tok")
	if c.Name != CookieName || c.Value != "tok" {
		t.Fatalf("cookie = %+v", c)
	}
	if !c.HttpOnly {
		t.Fatal("session cookie must be HttpOnly")
	}
	if c.Path != "/" {
		t.Fatalf("cookie path = %q, want /", c.Path)
	}

	cleared := ClearCookie()
	if cleared.MaxAge >= 0 {
		t.Fatal("ClearCookie must expire the cookie")
	}
}

func TestFromRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/api/list", nil)
	if got := FromRequest(r); got != "" {
		t.Fatalf("FromRequest without cookie = %q", got)
	}
	r.AddCookie(&http.Cookie{Name: CookieName, Value: "abc"})
	if got := FromRequest(r); got != "abc" {
		t.Fatalf("FromRequest = %q, want abc", got)
	}
}
