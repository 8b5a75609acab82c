package servicetoken

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func TestSignAndVerify(t *testing.T) {
	signer, err := NewSigner("ops-cli", testSecret, time.Minute)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	verifier, err := NewVerifier(testSecret, []string{"ops-cli"}, 0)
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}

	token, err := signer.Sign("alice")
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	subject, err := verifier.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if subject != "alice" {
		t.Errorf("subject = %q, want alice", subject)
	}
}

func TestVerifyRejectsUnknownIssuer(t *testing.T) {
	signer, _ := NewSigner("intruder", testSecret, time.Minute)
	verifier, _ := NewVerifier(testSecret, []string{"ops-cli"}, 0)

	token, err := signer.Sign("mallory")
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if _, err := verifier.Verify(token); err == nil {
		t.Fatal("expected rejection of unknown issuer")
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	signer, _ := NewSigner("ops-cli", []byte("ffffffffffffffffffffffffffffffff"), time.Minute)
	verifier, _ := NewVerifier(testSecret, []string{"ops-cli"}, 0)

	token, err := signer.Sign("alice")
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if _, err := verifier.Verify(token); err == nil {
		t.Fatal("expected rejection of token signed with different secret")
	}
}

func TestSignerValidation(t *testing.T) {
	if _, err := NewSigner("", testSecret, 0); err == nil {
		t.Error("expected error for empty issuer")
	}
	if _, err := NewSigner("ops-cli", []byte("short"), 0); err == nil {
		t.Error("expected error for short secret")
	}
}

func TestMiddleware(t *testing.T) {
	signer, _ := NewSigner("ops-cli", testSecret, time.Minute)
	verifier, _ := NewVerifier(testSecret, []string{"ops-cli"}, 0)

	var reached bool
	handler := verifier.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
	}))

	req := httptest.NewRequest(http.MethodPost, "/internal/daily/pin", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized || reached {
		t.Fatalf("missing token: code=%d reached=%v", rec.Code, reached)
	}

	token, _ := signer.Sign("alice")
	req = httptest.NewRequest(http.MethodPost, "/internal/daily/pin", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || !reached {
		t.Fatalf("valid token: code=%d reached=%v", rec.Code, reached)
	}
}
