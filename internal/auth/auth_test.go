package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

func sign(t *testing.T, secret, sub string, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   sub,
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	s, err := tok.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func TestIdentityWithoutSecretUsesQuery(t *testing.T) {
	v := NewVerifier("")
	r := httptest.NewRequest(http.MethodGet, "/ws/matchmaking?user_id=alice", nil)
	id, err := v.Identity(r)
	if err != nil || id != "alice" {
		t.Fatalf("id=%q err=%v", id, err)
	}
	r = httptest.NewRequest(http.MethodGet, "/ws/matchmaking", nil)
	if _, err := v.Identity(r); !errors.Is(err, ErrMissingIdentity) {
		t.Fatalf("err = %v", err)
	}
}

func TestIdentityFromTokenQueryAndHeader(t *testing.T) {
	v := NewVerifier("s3cret")
	tok := sign(t, "s3cret", "bob", time.Now().Add(time.Hour))

	r := httptest.NewRequest(http.MethodGet, "/ws/game/g1?token="+tok, nil)
	if id, err := v.Identity(r); err != nil || id != "bob" {
		t.Fatalf("query: id=%q err=%v", id, err)
	}

	r = httptest.NewRequest(http.MethodGet, "/profiles/bob", nil)
	r.Header.Set("Authorization", "Bearer "+tok)
	if id, err := v.Identity(r); err != nil || id != "bob" {
		t.Fatalf("header: id=%q err=%v", id, err)
	}

	// user_id is ignored once a secret is configured
	r = httptest.NewRequest(http.MethodGet, "/profiles/bob?user_id=bob", nil)
	if _, err := v.Identity(r); !errors.Is(err, ErrMissingIdentity) {
		t.Fatalf("err = %v", err)
	}
}

func TestIdentityRejectsBadTokens(t *testing.T) {
	v := NewVerifier("s3cret")
	cases := map[string]string{
		"wrong secret": sign(t, "other", "bob", time.Now().Add(time.Hour)),
		"expired":      sign(t, "s3cret", "bob", time.Now().Add(-time.Hour)),
		"no subject":   sign(t, "s3cret", "", time.Now().Add(time.Hour)),
		"garbage":      "not.a.jwt",
	}
	for name, tok := range cases {
		r := httptest.NewRequest(http.MethodGet, "/?token="+tok, nil)
		if _, err := v.Identity(r); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("%s: err = %v", name, err)
		}
	}
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/me", Middleware(NewVerifier("")), func(c *gin.Context) {
		c.String(http.StatusOK, UserID(c))
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me?user_id=carol", nil))
	if w.Code != http.StatusOK || w.Body.String() != "carol" {
		t.Fatalf("code=%d body=%q", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("code=%d", w.Code)
	}
}
