package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; adding or
// removing an Installed Server or changing its transport requires a
// supervised reconnect and is intentionally not represented here.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	ProvidersChanged bool
	ProviderChanges  []ProviderDiff

	BudgetsChanged bool
}

// ProviderDiff describes what changed for a single LLM provider entry
// between two configs.
type ProviderDiff struct {
	ID             string
	BaseURLChanged bool
	ModelsChanged  bool
	Added          bool
	Removed        bool
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	oldProviders := make(map[string]*ProviderEntry, len(old.Providers))
	for i := range old.Providers {
		oldProviders[providerKey(&old.Providers[i])] = &old.Providers[i]
	}
	newProviders := make(map[string]*ProviderEntry, len(new.Providers))
	for i := range new.Providers {
		newProviders[providerKey(&new.Providers[i])] = &new.Providers[i]
	}

	for id, oldP := range oldProviders {
		newP, exists := newProviders[id]
		if !exists {
			d.ProviderChanges = append(d.ProviderChanges, ProviderDiff{ID: id, Removed: true})
			d.ProvidersChanged = true
			continue
		}
		pd := diffProvider(id, oldP, newP)
		if pd.BaseURLChanged || pd.ModelsChanged {
			d.ProviderChanges = append(d.ProviderChanges, pd)
			d.ProvidersChanged = true
		}
	}
	for id := range newProviders {
		if _, exists := oldProviders[id]; !exists {
			d.ProviderChanges = append(d.ProviderChanges, ProviderDiff{ID: id, Added: true})
			d.ProvidersChanged = true
		}
	}

	if !slices.Equal(old.Policy.Budgets, new.Policy.Budgets) {
		d.BudgetsChanged = true
	}

	return d
}

// providerKey returns the stable identifier used to match a provider entry
// across reloads: ID if set, else Name.
func providerKey(p *ProviderEntry) string {
	if p.ID != "" {
		return p.ID
	}
	return p.Name
}

// diffProvider compares two provider entries with the same key.
func diffProvider(id string, old, new *ProviderEntry) ProviderDiff {
	pd := ProviderDiff{ID: id}
	if old.BaseURL != new.BaseURL {
		pd.BaseURLChanged = true
	}
	if !slices.Equal(old.Models, new.Models) {
		pd.ModelsChanged = true
	}
	return pd
}
