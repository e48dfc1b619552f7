package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/otherjamesbrown/meetwise/credentials"
)

// Signature errors.
var (
	ErrMissingSignature = errors.New("missing signature")
	ErrBadSignature     = errors.New("signature mismatch")
)

// Sign returns the X-Signature value for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a "sha256=<hex>" HMAC of the raw body.
func VerifySignature(secret string, body []byte, header string) error {
	sig, ok := strings.CutPrefix(strings.TrimSpace(header), "sha256=")
	if !ok || sig == "" {
		return ErrMissingSignature
	}
	got, err := hex.DecodeString(sig)
	if err != nil {
		return ErrBadSignature
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return ErrBadSignature
	}
	return nil
}

// tokenAuth checks operator bearer tokens against an argon2id hash. Tokens
// that verified once are remembered by digest so each request does not pay
// for a full argon2 derivation.
type tokenAuth struct {
	hash     string
	mu       sync.RWMutex
	verified map[[sha256.Size]byte]bool
}

func newTokenAuth(hash string) *tokenAuth {
	return &tokenAuth{hash: hash, verified: make(map[[sha256.Size]byte]bool)}
}

func (a *tokenAuth) check(token string) bool {
	if a.hash == "" || token == "" {
		return false
	}
	digest := sha256.Sum256([]byte(token))

	a.mu.RLock()
	ok := a.verified[digest]
	a.mu.RUnlock()
	if ok {
		return true
	}

	ok, err := credentials.VerifyToken(token, a.hash)
	if err != nil || !ok {
		return false
	}
	a.mu.Lock()
	a.verified[digest] = true
	a.mu.Unlock()
	return true
}

func (a *tokenAuth) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || !a.check(strings.TrimSpace(token)) {
			w.Header().Set("WWW-Authenticate", `Bearer realm="meetwise"`)
			writeError(w, http.StatusUnauthorized, "unauthorized", "a valid operator token is required")
			return
		}
		next.ServeHTTP(w, r)
	})
}
