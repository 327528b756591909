package llmmanager

import (
	"context"
	"time"

	"github.com/MrWong99/harbor/internal/harborerr"
)

// Detect re-runs the availability probe and model list fetch for one
// provider and updates its cached ProviderInfo. It never returns an error
// for probe/list failures themselves — those are recorded on the
// ProviderInfo as Available=false / DetectError — only for an unknown
// provider id.
func (m *Manager) Detect(ctx context.Context, providerID string) (ProviderInfo, error) {
	m.mu.Lock()
	e, ok := m.entries[providerID]
	m.mu.Unlock()
	if !ok {
		return ProviderInfo{}, harborerr.Newf(harborerr.NotFound, "llm provider %q is not registered", providerID)
	}

	info := e.info
	info.LastDetected = time.Now()
	info.DetectError = ""

	available := true
	if e.probe != nil {
		ok, err := e.probe(ctx)
		available = ok
		if err != nil {
			info.DetectError = err.Error()
		}
	}
	info.Available = available

	if available && e.lister != nil {
		models, err := e.lister(ctx)
		if err != nil {
			info.DetectError = err.Error()
		} else {
			info.Models = models
		}
	}

	m.mu.Lock()
	e.info = info
	m.mu.Unlock()

	return info, nil
}

// DetectAll runs Detect for every registered provider and returns the
// resulting snapshots, in no particular order.
func (m *Manager) DetectAll(ctx context.Context) []ProviderInfo {
	m.mu.RLock()
	ids := make([]string, 0, len(m.entries))
	for id := range m.entries {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	out := make([]ProviderInfo, 0, len(ids))
	for _, id := range ids {
		info, err := m.Detect(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, info)
	}
	return out
}
