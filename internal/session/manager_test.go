package session

import (
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func newManager(t *testing.T, revoker TokenRevoker) *Manager {
	t.Helper()
	m, err := NewManager("test-secret", time.Hour, revoker, Options{})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func TestAnonymousSessionRoundTrip(t *testing.T) {
	m := newManager(t, nil)

	userID, token, err := m.Anonymous()
	if err != nil {
		t.Fatalf("Anonymous: %v", err)
	}
	if userID == "" || token == "" {
		t.Fatal("empty identity or token")
	}

	got, err := m.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if got != userID {
		t.Fatalf("subject = %q, want %q", got, userID)
	}
}

func TestAnonymousSessionsAreDistinct(t *testing.T) {
	m := newManager(t, nil)
	u1, _, _ := m.Anonymous()
	u2, _, _ := m.Anonymous()
	if u1 == u2 {
		t.Fatal("two anonymous sessions share a user ID")
	}
}

func TestExchangeCustomToken(t *testing.T) {
	m := newManager(t, nil)

	custom, err := m.MintCustomToken("user-42", time.Minute)
	if err != nil {
		t.Fatalf("MintCustomToken: %v", err)
	}

	userID, token, err := m.ExchangeCustomToken(custom)
	if err != nil {
		t.Fatalf("ExchangeCustomToken: %v", err)
	}
	if userID != "user-42" {
		t.Fatalf("userID = %q", userID)
	}
	if got, err := m.Verify(token); err != nil || got != "user-42" {
		t.Fatalf("Verify: got %q err %v", got, err)
	}
}

func TestVerifyRejectsGarbage(t *testing.T) {
	m := newManager(t, nil)
	if _, err := m.Verify("not-a-jwt"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("err = %v, want ErrInvalidToken", err)
	}
	if _, err := m.Verify(""); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("empty token err = %v, want ErrInvalidToken", err)
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	m := newManager(t, nil)
	other, err := NewManager("other-secret", time.Hour, nil, Options{})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	_, token, _ := other.Anonymous()
	if _, err := m.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("err = %v, want ErrInvalidToken", err)
	}
}

func TestLogoutRevokesWithRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	revoker := NewRedisTokenRevoker(mr.Addr(), "", 0)
	m := newManager(t, revoker)

	_, token, err := m.Anonymous()
	if err != nil {
		t.Fatalf("Anonymous: %v", err)
	}
	if _, err := m.Verify(token); err != nil {
		t.Fatalf("Verify before logout: %v", err)
	}

	if err := m.Logout(token); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, err := m.Verify(token); !errors.Is(err, ErrRevoked) {
		t.Fatalf("err = %v, want ErrRevoked", err)
	}
}

func TestMemoryRevokerExpiry(t *testing.T) {
	r := NewMemoryTokenRevoker()
	if err := r.Revoke("jti-1", 10*time.Millisecond); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if revoked, _ := r.IsRevoked("jti-1"); !revoked {
		t.Fatal("token should be revoked")
	}
	time.Sleep(20 * time.Millisecond)
	if revoked, _ := r.IsRevoked("jti-1"); revoked {
		t.Fatal("revocation should have expired")
	}
}
