package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	jwt "github.com/golang-jwt/jwt/v4"
)

const testAudience = "https://api.printhaus.test/internal/checkout/holds:sweep"

type oidcFixture struct {
	validator *OIDCValidator
	key       *rsa.PrivateKey
	now       time.Time
	fetches   *atomic.Int32
}

func newOIDCFixture(t *testing.T) oidcFixture {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	jwk := jose.JSONWebKey{Key: &key.PublicKey, KeyID: "svc-key", Algorithm: "RS256", Use: "sig"}

	var fetches atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fetches.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "public, max-age=600")
		_ = json.NewEncoder(w).Encode(jose.JSONWebKeySet{Keys: []jose.JSONWebKey{jwk}})
	}))
	t.Cleanup(server.Close)

	now := time.Unix(1_700_000_000, 0)
	original := jwt.TimeFunc
	jwt.TimeFunc = func() time.Time { return now }
	t.Cleanup(func() { jwt.TimeFunc = original })

	cache := NewJWKSCache(server.URL, WithJWKSClock(func() time.Time { return now }))
	return oidcFixture{validator: NewOIDCValidator(cache, nil), key: key, now: now, fetches: &fetches}
}

func (f oidcFixture) sign(t *testing.T, mutate func(jwt.MapClaims)) string {
	t.Helper()
	claims := jwt.MapClaims{
		"aud":   testAudience,
		"iss":   "https://accounts.google.com",
		"sub":   "1234567890",
		"email": "scheduler@printhaus.iam.gserviceaccount.com",
		"exp":   float64(f.now.Add(time.Hour).Unix()),
		"iat":   float64(f.now.Unix()),
	}
	if mutate != nil {
		mutate(claims)
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = "svc-key"
	signed, err := token.SignedString(f.key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func (f oidcFixture) serve(token string) (*httptest.ResponseRecorder, *ServiceIdentity) {
	var identity *ServiceIdentity
	handler := f.validator.RequireOIDC(testAudience, []string{"https://accounts.google.com", "accounts.google.com"})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, _ = ServiceIdentityFromContext(r.Context())
			w.WriteHeader(http.StatusNoContent)
		}))
	req := httptest.NewRequest(http.MethodPost, "/internal/checkout/holds:sweep", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr, identity
}

func TestRequireOIDCAdmitsSchedulerToken(t *testing.T) {
	f := newOIDCFixture(t)
	rr, identity := f.serve(f.sign(t, nil))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rr.Code, rr.Body.String())
	}
	if identity == nil || identity.Email != "scheduler@printhaus.iam.gserviceaccount.com" || identity.Subject != "1234567890" {
		t.Fatalf("unexpected identity %+v", identity)
	}

	if rr, _ := f.serve(f.sign(t, nil)); rr.Code != http.StatusNoContent {
		t.Fatalf("expected second call to pass, got %d", rr.Code)
	}
	if got := f.fetches.Load(); got != 1 {
		t.Fatalf("expected keys fetched once, got %d", got)
	}
}

func TestRequireOIDCRejections(t *testing.T) {
	f := newOIDCFixture(t)
	cases := map[string]string{
		"missing":  "",
		"audience": f.sign(t, func(c jwt.MapClaims) { c["aud"] = "https://elsewhere.test" }),
		"issuer":   f.sign(t, func(c jwt.MapClaims) { c["iss"] = "https://evil.test" }),
		"expired":  f.sign(t, func(c jwt.MapClaims) { c["exp"] = float64(f.now.Add(-time.Minute).Unix()) }),
		"garbage":  "not-a-jwt",
	}
	for name, token := range cases {
		rr, _ := f.serve(token)
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", name, rr.Code)
		}
	}
}

func TestRequireOIDCKeysUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(server.Close)

	f := newOIDCFixture(t)
	f.validator = NewOIDCValidator(NewJWKSCache(server.URL), nil)
	rr, _ := f.serve(f.sign(t, nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestJWKSCacheUnknownKid(t *testing.T) {
	f := newOIDCFixture(t)
	if _, err := f.validator.cache.Key(context.Background(), "other"); err == nil {
		t.Fatal("expected unknown kid error")
	}
}

func TestMaxAge(t *testing.T) {
	if got := maxAge("public, max-age=19650, must-revalidate"); got != 19650*time.Second {
		t.Fatalf("unexpected max-age %s", got)
	}
	if got := maxAge("no-cache"); got != 0 {
		t.Fatalf("expected zero, got %s", got)
	}
}
