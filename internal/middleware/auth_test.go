package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/kaykluz/kiisha-dev-sub002/internal/app/domain/identity"
)

var secret = []byte("test-secret")

func signToken(t *testing.T, key []byte, claims Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func authedRequest(token string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/api/v1/requests", nil)
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	return r
}

func TestAuthMiddlewarePlacesActorInContext(t *testing.T) {
	mw := NewAuthMiddleware(secret, nil, nil)

	var got identity.Actor
	var ok bool
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, ok = ActorFrom(r.Context())
	})

	token := signToken(t, secret, Claims{UserID: "user-1", OrgIDs: []string{"org-a", "org-b"}})
	rec := httptest.NewRecorder()
	mw.Handler(next).ServeHTTP(rec, authedRequest(token))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !ok || got.UserID != "user-1" || len(got.OrgIDs) != 2 {
		t.Fatalf("unexpected actor: %+v ok=%v", got, ok)
	}
}

func TestAuthMiddlewareRejectsBadTokens(t *testing.T) {
	mw := NewAuthMiddleware(secret, nil, nil)
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	})

	cases := []struct {
		name  string
		token string
	}{
		{"missing header", ""},
		{"garbage token", "not-a-jwt"},
		{"wrong key", signToken(t, []byte("other-secret"), Claims{UserID: "user-1"})},
		{"empty user id", signToken(t, secret, Claims{OrgIDs: []string{"org-a"}})},
		{"expired", signToken(t, secret, Claims{
			UserID: "user-1",
			RegisteredClaims: jwt.RegisteredClaims{
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
			},
		})},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			mw.Handler(next).ServeHTTP(rec, authedRequest(tc.token))
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rec.Code)
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
				t.Fatalf("expected json error body, got %q", ct)
			}
		})
	}
}

func TestAuthMiddlewareSkipPaths(t *testing.T) {
	mw := NewAuthMiddleware(secret, nil, []string{"/health"})
	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		if _, ok := ActorFrom(r.Context()); ok {
			t.Fatal("skip path must not carry an actor")
		}
	})

	rec := httptest.NewRecorder()
	mw.Handler(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if !called || rec.Code != http.StatusOK {
		t.Fatalf("expected unauthenticated pass-through, called=%v code=%d", called, rec.Code)
	}
}
