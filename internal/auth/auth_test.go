package auth

import (
	"errors"
	"testing"
)

func TestValidateAPIKey(t *testing.T) {
	svc, err := NewService("secret-key", "")
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}

	if err := svc.ValidateAPIKey("secret-key"); err != nil {
		t.Errorf("ValidateAPIKey() error = %v, want nil", err)
	}
	if err := svc.ValidateAPIKey("wrong"); !errors.Is(err, ErrInvalidAPIKey) {
		t.Errorf("ValidateAPIKey() error = %v, want ErrInvalidAPIKey", err)
	}

	// An empty configured key rejects everything, including empty input.
	empty, err := NewService("", "")
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	if err := empty.ValidateAPIKey(""); !errors.Is(err, ErrInvalidAPIKey) {
		t.Errorf("ValidateAPIKey(\"\") error = %v, want ErrInvalidAPIKey", err)
	}
}

func TestSetAPIKey(t *testing.T) {
	svc, err := NewService("old", "")
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	svc.SetAPIKey("new")

	if err := svc.ValidateAPIKey("old"); !errors.Is(err, ErrInvalidAPIKey) {
		t.Error("old key still valid after rotation")
	}
	if err := svc.ValidateAPIKey("new"); err != nil {
		t.Errorf("ValidateAPIKey(new) error = %v, want nil", err)
	}
}

func TestGenerateAPIKey(t *testing.T) {
	a, err := GenerateAPIKey()
	if err != nil {
		t.Fatalf("GenerateAPIKey() error = %v", err)
	}
	b, err := GenerateAPIKey()
	if err != nil {
		t.Fatalf("GenerateAPIKey() error = %v", err)
	}
	if a == "" || a == b {
		t.Errorf("GenerateAPIKey() = %q, %q, want distinct non-empty keys", a, b)
	}
}

func TestTokenRoundTrip(t *testing.T) {
	svc, err := NewService("key", "jwt-secret")
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}

	token, err := svc.GenerateToken()
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	claims, err := svc.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken() error = %v", err)
	}
	if claims.Issuer != "harborr" {
		t.Errorf("Issuer = %q, want harborr", claims.Issuer)
	}
}

func TestValidateToken_WrongSecret(t *testing.T) {
	issuer, err := NewService("key", "secret-a")
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	verifier, err := NewService("key", "secret-b")
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}

	token, err := issuer.GenerateToken()
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}
	if _, err := verifier.ValidateToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("ValidateToken() error = %v, want ErrInvalidToken", err)
	}
	if _, err := verifier.ValidateToken("not-a-token"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("ValidateToken(garbage) error = %v, want ErrInvalidToken", err)
	}
}
