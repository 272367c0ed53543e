package gateway

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"

	"wasm-arena/internal/domain"
)

// ClientInfo holds metadata about an authenticated gateway client.
type ClientInfo struct {
	Name string
}

// Authenticator validates incoming gateway requests.
type Authenticator interface {
	Authenticate(token string) (*ClientInfo, error)
}

// StaticTokenAuth authenticates clients against a static token list
// using constant-time comparison.
type StaticTokenAuth struct {
	tokens [][]byte
}

// NewStaticTokenAuth builds an authenticator from configured tokens.
func NewStaticTokenAuth(tokens []string) *StaticTokenAuth {
	a := &StaticTokenAuth{tokens: make([][]byte, 0, len(tokens))}
	for _, t := range tokens {
		a.tokens = append(a.tokens, []byte(t))
	}
	return a
}

// Authenticate returns client info if the token is valid.
func (s *StaticTokenAuth) Authenticate(token string) (*ClientInfo, error) {
	if token == "" {
		return nil, domain.ErrUnauthorized
	}
	tokenBytes := []byte(token)
	for i, t := range s.tokens {
		if subtle.ConstantTimeCompare(tokenBytes, t) == 1 {
			return &ClientInfo{Name: fmt.Sprintf("token-%d", i+1)}, nil
		}
	}
	return nil, domain.ErrUnauthorized
}

// anonymous is used when the gateway runs without tokens.
var anonymous = &ClientInfo{Name: "anonymous"}

// requestToken reads a bearer token, falling back to the token query
// parameter browsers use for WebSocket upgrades.
func requestToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if tok, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(tok)
		}
	}
	return r.URL.Query().Get("token")
}

// authenticate resolves the caller, or anonymous when auth is disabled.
func (s *Server) authenticate(r *http.Request) (*ClientInfo, error) {
	if s.auth == nil {
		return anonymous, nil
	}
	return s.auth.Authenticate(requestToken(r))
}

// requireAuth rejects REST calls without a valid token.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := s.authenticate(r); err != nil {
			s.writeError(w, r, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}
