package llmmanager

import (
	"context"

	"github.com/MrWong99/harbor/internal/harborerr"
)

// SetAPIKey stores an API key for providerID in the secret store and
// triggers a re-detection so availability flips without a process restart.
func (m *Manager) SetAPIKey(ctx context.Context, providerID, apiKey string) error {
	if m.secrets == nil {
		return harborerr.New(harborerr.Internal, "llmmanager: no secret store configured")
	}

	m.mu.RLock()
	e, ok := m.entries[providerID]
	m.mu.RUnlock()
	if !ok {
		return harborerr.Newf(harborerr.NotFound, "llm provider %q is not registered", providerID)
	}

	if err := m.secrets.Set(e.info.CredentialRef, apiKey); err != nil {
		return harborerr.Wrap(harborerr.Internal, err, "store api key")
	}

	_, err := m.Detect(ctx, providerID)
	return err
}

// RemoveAPIKey deletes the stored API key for providerID and re-detects
// availability, typically flipping it to unavailable for remote providers
// that require one.
func (m *Manager) RemoveAPIKey(ctx context.Context, providerID string) error {
	if m.secrets == nil {
		return harborerr.New(harborerr.Internal, "llmmanager: no secret store configured")
	}

	m.mu.RLock()
	e, ok := m.entries[providerID]
	m.mu.RUnlock()
	if !ok {
		return harborerr.Newf(harborerr.NotFound, "llm provider %q is not registered", providerID)
	}

	if err := m.secrets.Delete(e.info.CredentialRef); err != nil {
		return harborerr.Wrap(harborerr.Internal, err, "delete api key")
	}

	_, err := m.Detect(ctx, providerID)
	return err
}

// credential returns the stored API key for a provider id, if any.
func (m *Manager) credential(ref string) (string, bool) {
	if m.secrets == nil {
		return "", false
	}
	return m.secrets.Get(ref)
}
