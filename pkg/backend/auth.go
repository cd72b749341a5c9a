package backend

import (
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Authenticator decorates outgoing requests with credentials.
type Authenticator interface {
	AddAuthHeaders(req *http.Request) error
}

// BearerAuthenticator sends the session token issued by the backend login.
type BearerAuthenticator struct {
	mu    sync.RWMutex
	token string
}

func NewBearerAuthenticator(token string) *BearerAuthenticator {
	return &BearerAuthenticator{token: token}
}

func (b *BearerAuthenticator) AddAuthHeaders(req *http.Request) error {
	if token := b.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return nil
}

func (b *BearerAuthenticator) Token() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.token
}

func (b *BearerAuthenticator) SetToken(token string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.token = token
}

// Clear forgets the token, as after a 401 or logout.
func (b *BearerAuthenticator) Clear() {
	b.SetToken("")
}

// TokenExpiry reads the exp claim of a JWT session token without verifying
// its signature; the backend remains the authority on validity. ok is false
// for opaque tokens or tokens without exp.
func TokenExpiry(token string) (exp time.Time, ok bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	nd, err := claims.GetExpirationTime()
	if err != nil || nd == nil {
		return time.Time{}, false
	}
	return nd.Time, true
}

// TokenExpired reports whether token carries an exp claim that is already past.
func TokenExpired(token string, now time.Time) bool {
	exp, ok := TokenExpiry(token)
	return ok && !now.Before(exp)
}
