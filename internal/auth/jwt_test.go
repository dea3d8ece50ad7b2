package auth

import (
	"testing"
	"time"

	"voiceai-agency/internal/config"
)

func TestIssueAndVerifyAccessToken(t *testing.T) {
	m, err := NewManager(config.AuthConfig{
		JWTSecret:      "secret",
		JWTIssuer:      "issuer",
		JWTAudience:    "aud",
		AccessTokenTTL: 15 * time.Minute,
	})
	if err != nil {
		t.Fatalf("manager: %v", err)
	}

	now := time.Unix(1700000000, 0).UTC()
	tok, err := m.Issue(now, "widget-1", "visitor")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	claims, err := m.Verify(tok, TokenTypeAccess, now.Add(1*time.Minute))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Subject != "widget-1" || claims.Role != "visitor" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	m, _ := NewManager(config.AuthConfig{JWTSecret: "secret", AccessTokenTTL: time.Minute})
	now := time.Unix(1700000000, 0).UTC()
	tok, err := m.Issue(now, "w", "visitor")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := m.Verify(tok, TokenTypeAccess, now.Add(5*time.Minute)); err == nil {
		t.Fatalf("expected expired token to be rejected")
	}
}

func TestVerifyRejectsForeignSecret(t *testing.T) {
	a, _ := NewManager(config.AuthConfig{JWTSecret: "a", AccessTokenTTL: time.Minute})
	b, _ := NewManager(config.AuthConfig{JWTSecret: "b", AccessTokenTTL: time.Minute})
	now := time.Now()
	tok, err := a.Issue(now, "w", "visitor")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := b.Verify(tok, TokenTypeAccess, now); err == nil {
		t.Fatalf("expected signature error")
	}
}

func TestIssueRequiresSubjectAndRole(t *testing.T) {
	m, _ := NewManager(config.AuthConfig{JWTSecret: "secret", AccessTokenTTL: time.Minute})
	if _, err := m.Issue(time.Now(), "", "visitor"); err == nil {
		t.Fatalf("expected error for empty subject")
	}
	if _, err := m.Issue(time.Now(), "w", ""); err == nil {
		t.Fatalf("expected error for empty role")
	}
}

func TestVerifyRejectsWrongAudience(t *testing.T) {
	issuer, _ := NewManager(config.AuthConfig{JWTSecret: "secret", JWTIssuer: "iss", JWTAudience: "widget", AccessTokenTTL: time.Minute})
	verifier, _ := NewManager(config.AuthConfig{JWTSecret: "secret", JWTIssuer: "iss", JWTAudience: "admin", AccessTokenTTL: time.Minute})
	now := time.Unix(1700000000, 0).UTC()
	tok, err := issuer.Issue(now, "w", "visitor")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := verifier.Verify(tok, TokenTypeAccess, now); err == nil {
		t.Fatalf("expected audience mismatch")
	}
	if _, err := issuer.Verify(tok, TokenTypeAccess, now); err != nil {
		t.Fatalf("verify: %v", err)
	}
}
