package identity

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestIssueAndVerify(t *testing.T) {
	v, err := NewVerifier("secret")
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	tok, err := v.Issue("user-1", "Ada", time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	claims, err := v.Verify(tok)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Subject != "user-1" || claims.Name != "Ada" {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

func TestVerifyRejects(t *testing.T) {
	v, _ := NewVerifier("secret")
	other, _ := NewVerifier("other")

	foreign, _ := other.Issue("user-1", "", time.Hour)
	if _, err := v.Verify(foreign); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("wrong signature accepted: %v", err)
	}

	expired, _ := v.Issue("user-1", "", -time.Minute)
	if _, err := v.Verify(expired); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expired token accepted: %v", err)
	}

	anon, _ := v.Issue("", "", time.Hour)
	if _, err := v.Verify(anon); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("token without subject accepted: %v", err)
	}

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "user-1"})
	raw, _ := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if _, err := v.Verify(raw); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("unsigned token accepted: %v", err)
	}

	if _, err := NewVerifier(""); !errors.Is(err, ErrNoSecret) {
		t.Fatalf("expected ErrNoSecret, got %v", err)
	}
}

func TestBearerToken(t *testing.T) {
	if tok, ok := BearerToken("Bearer abc"); !ok || tok != "abc" {
		t.Fatalf("got %q %v", tok, ok)
	}
	if tok, ok := BearerToken("bearer abc"); !ok || tok != "abc" {
		t.Fatalf("scheme is case insensitive, got %q %v", tok, ok)
	}
	if _, ok := BearerToken("Basic abc"); ok {
		t.Fatal("basic auth is not a bearer token")
	}
	if _, ok := BearerToken("Bearer "); ok {
		t.Fatal("empty token")
	}
}
