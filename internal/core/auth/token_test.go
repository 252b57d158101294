package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"studyhub-server/internal/domain"
)

func newTestService() *TokenService {
	return &TokenService{Secret: []byte("test-secret"), Issuer: "test"}
}

func TestIssuePairSharesNonce(t *testing.T) {
	ts := newTestService()
	pair, err := ts.IssuePair("u1")
	if err != nil {
		t.Fatalf("IssuePair: %v", err)
	}
	if pair.AccessToken == pair.RefreshToken {
		t.Fatal("access and refresh tokens must differ")
	}

	ac, err := ts.Verify(pair.AccessToken)
	if err != nil {
		t.Fatalf("verify access: %v", err)
	}
	rc, err := ts.Verify(pair.RefreshToken)
	if err != nil {
		t.Fatalf("verify refresh: %v", err)
	}
	if ac.UID != "u1" || rc.UID != "u1" {
		t.Fatalf("uid mismatch: %q / %q", ac.UID, rc.UID)
	}
	if ac.Nonce == "" || ac.Nonce != rc.Nonce {
		t.Fatalf("pair must share one nonce, got %q / %q", ac.Nonce, rc.Nonce)
	}
}

func TestIssuePairDistinctNoncePerCall(t *testing.T) {
	ts := newTestService()
	p1, _ := ts.IssuePair("u1")
	p2, _ := ts.IssuePair("u1")
	c1, _ := ts.Verify(p1.AccessToken)
	c2, _ := ts.Verify(p2.AccessToken)
	if c1.Nonce == c2.Nonce {
		t.Fatal("each issuance must get a fresh nonce")
	}
}

func TestNoSigningSecret(t *testing.T) {
	ts := &TokenService{}
	if _, err := ts.IssuePair("u1"); !errors.Is(err, domain.ErrNoSigningSecret) {
		t.Fatalf("want ErrNoSigningSecret, got %v", err)
	}
	if _, err := ts.Verify("whatever"); !errors.Is(err, domain.ErrNoSigningSecret) {
		t.Fatalf("verify without secret: want ErrNoSigningSecret, got %v", err)
	}
	if err := ts.Check(); !errors.Is(err, domain.ErrNoSigningSecret) {
		t.Fatalf("Check: want ErrNoSigningSecret, got %v", err)
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	ts := newTestService()
	ts.AccessTTL = -time.Minute
	pair, err := ts.IssuePair("u1")
	if err != nil {
		t.Fatalf("IssuePair: %v", err)
	}
	if _, err := ts.Verify(pair.AccessToken); !errors.Is(err, domain.ErrInvalidToken) {
		t.Fatalf("expired token: want ErrInvalidToken, got %v", err)
	}
}

func TestVerifyRejectsTampered(t *testing.T) {
	ts := newTestService()
	pair, _ := ts.IssuePair("u1")

	other := &TokenService{Secret: []byte("another-secret")}
	if _, err := other.Verify(pair.AccessToken); !errors.Is(err, domain.ErrInvalidToken) {
		t.Fatalf("wrong secret: want ErrInvalidToken, got %v", err)
	}
	if _, err := ts.Verify(pair.AccessToken + "x"); !errors.Is(err, domain.ErrInvalidToken) {
		t.Fatalf("mangled token: want ErrInvalidToken, got %v", err)
	}
	if _, err := ts.Verify("not-a-jwt"); !errors.Is(err, domain.ErrInvalidToken) {
		t.Fatalf("garbage: want ErrInvalidToken, got %v", err)
	}
}

func TestVerifyRejectsWrongAlg(t *testing.T) {
	ts := newTestService()
	// alg=none 的 token 绝不能通过
	tok := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UID: "u1"})
	s, err := tok.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}
	if _, err := ts.Verify(s); !errors.Is(err, domain.ErrInvalidToken) {
		t.Fatalf("alg=none: want ErrInvalidToken, got %v", err)
	}
}

func TestTTLDefaults(t *testing.T) {
	ts := newTestService()
	if got := ts.accessTTL(); got != 15*time.Minute {
		t.Fatalf("default access ttl = %v", got)
	}
	if got := ts.refreshTTL(); got != 7*24*time.Hour {
		t.Fatalf("default refresh ttl = %v", got)
	}
	ts.AccessTTL = time.Hour
	ts.RefreshTTL = 48 * time.Hour
	if ts.accessTTL() != time.Hour || ts.refreshTTL() != 48*time.Hour {
		t.Fatal("explicit ttls must win")
	}
}
