package store

import "time"

// PutOAuthToken stores an OAuth token for serverID, tagged with
// CredentialOAuthToken so DeleteServerCredentials sweeps it on uninstall
// alongside any password/api_key credential the same server holds.
func (s *SecretStore) PutOAuthToken(serverID, token string, expiresAt time.Time) error {
	return s.PutCredential(serverID, "oauth_token", CredentialOAuthToken, token, expiresAt)
}

// GetOAuthToken returns the stored OAuth token for serverID, if any and not
// expired.
func (s *SecretStore) GetOAuthToken(serverID string) (string, bool) {
	return s.GetCredential(serverID, "oauth_token")
}

// DeleteOAuthToken removes the stored OAuth token for serverID, e.g. on
// explicit disconnect before a fresh OAuth flow.
func (s *SecretStore) DeleteOAuthToken(serverID string) error {
	return s.DeleteCredential(serverID, "oauth_token")
}
