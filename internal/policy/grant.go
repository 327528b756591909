package policy

import "time"

// Grant is a Permission Grant: an origin's disposition toward a scope,
// optionally narrowed to one browser tab and/or one tool allowlist.
type Grant struct {
	Origin       string
	Scope        Scope
	Mode         Mode
	TabID        string // empty when not tab-scoped
	AllowedTools []string // empty means "no additional restriction"
	ExpiresAt    time.Time // zero means "does not expire on its own"
	consumed     bool      // once-grants flip this true on first successful check
}

// expired reports whether g has passed its ExpiresAt, evaluated at now.
func (g *Grant) expired(now time.Time) bool {
	return !g.ExpiresAt.IsZero() && !now.Before(g.ExpiresAt)
}

// resolve picks the winning grant among candidates for a single (origin,
// scope) pair, applying the fixed precedence: explicit deny > tab-scoped >
// always-allow > once > absent. candidates that are expired or already
// consumed (for once-grants) are ignored.
func resolve(candidates []*Grant, tabID string, now time.Time) *Grant {
	var deny, tabScoped, always, once *Grant

	for _, g := range candidates {
		if g.expired(now) {
			continue
		}
		if g.Mode == ModeOnce && g.consumed {
			continue
		}

		switch {
		case g.Mode == ModeDenied && (g.TabID == "" || g.TabID == tabID):
			if deny == nil {
				deny = g
			}
		case g.TabID != "" && g.TabID == tabID:
			if tabScoped == nil {
				tabScoped = g
			}
		case g.Mode == ModeAlways && g.TabID == "":
			if always == nil {
				always = g
			}
		case g.Mode == ModeOnce && g.TabID == "":
			if once == nil {
				once = g
			}
		}
	}

	switch {
	case deny != nil:
		return deny
	case tabScoped != nil:
		return tabScoped
	case always != nil:
		return always
	case once != nil:
		return once
	default:
		return nil
	}
}

// intersectTools computes the effective tool allowlist for a grant: the
// intersection of the grant's AllowedTools (if any) with a server-level
// restriction (if any). An empty slice from either side means "no
// restriction from that side"; nil means the intersection yields no
// restriction either (both sides unrestricted).
func intersectTools(grantTools, serverTools []string) (restricted bool, allowed map[string]bool) {
	if len(grantTools) == 0 && len(serverTools) == 0 {
		return false, nil
	}
	if len(grantTools) == 0 {
		return true, toSet(serverTools)
	}
	if len(serverTools) == 0 {
		return true, toSet(grantTools)
	}

	gset := toSet(grantTools)
	result := make(map[string]bool, len(serverTools))
	for _, t := range serverTools {
		if gset[t] {
			result[t] = true
		}
	}
	return true, result
}

func toSet(ss []string) map[string]bool {
	m := make(map[string]bool, len(ss))
	for _, s := range ss {
		m[s] = true
	}
	return m
}
