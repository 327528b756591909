package store

import (
	"testing"
	"time"
)

func TestOAuthTokenRoundTrip(t *testing.T) {
	s := openTestSecretStore(t)

	if err := s.PutOAuthToken("notion", "oauth-token-value", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("PutOAuthToken: %v", err)
	}

	got, ok := s.GetOAuthToken("notion")
	if !ok || got != "oauth-token-value" {
		t.Fatalf("GetOAuthToken = (%q, %v), want (oauth-token-value, true)", got, ok)
	}

	if err := s.DeleteOAuthToken("notion"); err != nil {
		t.Fatalf("DeleteOAuthToken: %v", err)
	}
	if _, ok := s.GetOAuthToken("notion"); ok {
		t.Fatalf("expected token gone after delete")
	}
}

func TestOAuthTokenDoesNotCollideWithAPIKey(t *testing.T) {
	s := openTestSecretStore(t)
	if err := s.PutCredential("notion", "api_key", CredentialAPIKey, "sk-notion", time.Time{}); err != nil {
		t.Fatalf("PutCredential: %v", err)
	}
	if err := s.PutOAuthToken("notion", "oauth-value", time.Time{}); err != nil {
		t.Fatalf("PutOAuthToken: %v", err)
	}

	apiKey, ok := s.GetCredential("notion", "api_key")
	if !ok || apiKey != "sk-notion" {
		t.Fatalf("api_key clobbered by oauth token: got %q ok=%v", apiKey, ok)
	}
	token, ok := s.GetOAuthToken("notion")
	if !ok || token != "oauth-value" {
		t.Fatalf("oauth token missing: got %q ok=%v", token, ok)
	}
}
