package authx

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
)

func TestNewJWTVerifierValidation(t *testing.T) {
	if _, err := NewJWTVerifier("", "aud", "", 60, 0); err == nil {
		t.Fatalf("expected error for missing issuer")
	}
	if _, err := NewJWTVerifier("https://issuer", "", "", 60, 0); err == nil {
		t.Fatalf("expected error for missing audience")
	}
}

func TestAuthContextRoundTrip(t *testing.T) {
	ctx := WithAuth(context.Background(), AuthContext{Subject: "u-1", Email: "u1@example.com"})
	auth, ok := FromContext(ctx)
	if !ok {
		t.Fatalf("expected auth in context")
	}
	if auth.Subject != "u-1" {
		t.Fatalf("subject = %q, want u-1", auth.Subject)
	}
	if _, ok := FromContext(context.Background()); ok {
		t.Fatalf("expected no auth in empty context")
	}
}

func TestJWKSCacheServesKeysByKID(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	key, err := jwk.FromRaw(&priv.PublicKey)
	if err != nil {
		t.Fatalf("jwk from raw: %v", err)
	}
	if err := key.Set(jwk.KeyIDKey, "kid-1"); err != nil {
		t.Fatalf("set kid: %v", err)
	}
	set := jwk.NewSet()
	if err := set.AddKey(key); err != nil {
		t.Fatalf("add key: %v", err)
	}
	body, err := json.Marshal(set)
	if err != nil {
		t.Fatalf("marshal set: %v", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	cache := newJWKSCache(srv.URL, time.Minute, srv.Client())
	ctx := context.Background()

	raw, err := cache.getKey(ctx, "kid-1")
	if err != nil {
		t.Fatalf("get key: %v", err)
	}
	pub, ok := raw.(*rsa.PublicKey)
	if !ok {
		t.Fatalf("raw key type = %T, want *rsa.PublicKey", raw)
	}
	if pub.N.Cmp(priv.PublicKey.N) != 0 {
		t.Fatalf("cached key does not match published key")
	}

	if _, err := cache.getKey(ctx, "kid-missing"); !errors.Is(err, ErrUnknownKID) {
		t.Fatalf("missing kid error = %v, want ErrUnknownKID", err)
	}
}

func TestJWKSCacheSkipsKeysWithoutKID(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	key, err := jwk.FromRaw(&priv.PublicKey)
	if err != nil {
		t.Fatalf("jwk from raw: %v", err)
	}
	set := jwk.NewSet()
	if err := set.AddKey(key); err != nil {
		t.Fatalf("add key: %v", err)
	}
	if got := rawKeysByKID(set); len(got) != 0 {
		t.Fatalf("expected no usable keys, got %d", len(got))
	}
}
