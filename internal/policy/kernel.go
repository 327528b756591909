// Package policy implements the Agent Runtime Bridge's authorization
// kernel: per-origin permission grants, tool allowlists, and rate-limit
// budgets. It is the single point where a tool call or a model prompt is
// allowed or denied — every other subsystem asks the Kernel, never decides
// for itself.
package policy

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/MrWong99/harbor/internal/harborerr"
)

// AuditRecorder receives policy decisions and budget events for
// observability. internal/observe implements this interface; tests may
// substitute a recording fake.
type AuditRecorder interface {
	RecordPolicyEvent(ctx context.Context, event AuditEvent)
}

// AuditEvent describes one policy decision or recorded event, suitable for
// both structured logging and OTel counters.
type AuditEvent struct {
	Time    time.Time
	Origin  string
	Scope   Scope
	Action  string // "check", "grant", "revoke", "budget", or a caller-supplied event name
	Allowed bool
	Reason  string
}

// CheckOptions narrows a Check call to a specific tab and/or tool.
type CheckOptions struct {
	// TabID, when set, allows a tab-scoped grant for this tab to apply.
	TabID string
	// ToolName, when set, is checked against the effective tool allowlist.
	ToolName string
	// ServerTools, when set, is the server-level tool restriction to
	// intersect with any grant-level allowlist.
	ServerTools []string
}

// GrantOptions narrows a Grant call.
type GrantOptions struct {
	TabID        string
	AllowedTools []string
	// TTL overrides the default once-grant expiry. Ignored for always/denied.
	TTL time.Duration
}

// Config tunes the Kernel's default rate budgets.
type Config struct {
	// Budgets overrides the built-in defaults (60/min mcp:tools.call,
	// 120/hour model:prompt). Nil uses the defaults.
	Budgets []ResourceBudget
}

// Kernel is the concrete authorization oracle. Safe for concurrent use.
type Kernel struct {
	mu      sync.RWMutex
	grants  map[string][]*Grant      // key: origin + "\x00" + scope
	budgets map[string]*budget       // key: origin + "\x00" + resource
	defs    map[string]ResourceBudget // resource -> window/limit

	sf       singleflight.Group
	logger   *slog.Logger
	recorder AuditRecorder
	now      func() time.Time
}

// Option configures a Kernel.
type Option func(*Kernel)

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(k *Kernel) { k.logger = logger }
}

// WithRecorder installs an AuditRecorder; events are always also logged via
// slog regardless of whether a recorder is set.
func WithRecorder(r AuditRecorder) Option {
	return func(k *Kernel) { k.recorder = r }
}

// withClock overrides the kernel's time source, for deterministic tests.
func withClock(now func() time.Time) Option {
	return func(k *Kernel) { k.now = now }
}

// New constructs a Kernel. cfg.Budgets, if nil, uses the documented defaults.
func New(cfg Config, opts ...Option) *Kernel {
	k := &Kernel{
		grants:  make(map[string][]*Grant),
		budgets: make(map[string]*budget),
		defs:    make(map[string]ResourceBudget),
		logger:  slog.Default(),
		now:     time.Now,
	}

	defs := cfg.Budgets
	if len(defs) == 0 {
		defs = defaultBudgets()
	}
	for _, d := range defs {
		k.defs[d.Resource] = d
	}

	for _, o := range opts {
		o(k)
	}
	return k
}

func grantKey(origin string, scope Scope) string {
	return origin + "\x00" + string(scope)
}

// Check evaluates whether origin may exercise scope, optionally narrowed to
// a tab and/or tool. It returns (true, nil) when allowed, or (false, err)
// with err classified as ScopeRequired (no grant at all),
// PermissionDenied (explicit deny), or ToolNotAllowed (tool outside the
// effective allowlist).
func (k *Kernel) Check(ctx context.Context, origin string, scope Scope, opts CheckOptions) (bool, error) {
	if !ValidScope(scope) {
		return false, harborerr.Newf(harborerr.InvalidRequest, "unknown scope %q", scope)
	}

	key := grantKey(origin, scope)
	v, err, _ := k.sf.Do(key+"\x00check", func() (any, error) {
		return k.check(origin, scope, opts)
	})
	if err != nil {
		k.audit(ctx, origin, scope, "check", false, err.Error())
		return false, err
	}
	k.audit(ctx, origin, scope, "check", true, "")
	_ = v
	return true, nil
}

func (k *Kernel) check(origin string, scope Scope, opts CheckOptions) (bool, error) {
	now := k.now()

	k.mu.Lock()
	defer k.mu.Unlock()

	candidates := k.grants[grantKey(origin, scope)]
	g := resolve(candidates, opts.TabID, now)
	if g == nil {
		return false, harborerr.Newf(harborerr.ScopeRequired, "no grant for origin %q scope %q", origin, scope)
	}
	if g.Mode == ModeDenied {
		return false, harborerr.Newf(harborerr.PermissionDenied, "origin %q denied scope %q", origin, scope)
	}

	if opts.ToolName != "" {
		restricted, allowed := intersectTools(g.AllowedTools, opts.ServerTools)
		if restricted && !allowed[opts.ToolName] {
			return false, harborerr.Newf(harborerr.ToolNotAllowed, "tool %q not in effective allowlist for origin %q", opts.ToolName, origin)
		}
	}

	if g.Mode == ModeOnce {
		g.consumed = true
	}
	return true, nil
}

// Grant records a new Permission Grant for origin/scope. Multiple grants
// may coexist for the same (origin, scope) pair (e.g. a tab-scoped grant
// alongside a global one); resolution at Check time applies the documented
// precedence.
func (k *Kernel) Grant(ctx context.Context, origin string, scope Scope, mode Mode, opts GrantOptions) error {
	if !ValidScope(scope) {
		return harborerr.Newf(harborerr.InvalidRequest, "unknown scope %q", scope)
	}

	g := &Grant{
		Origin:       origin,
		Scope:        scope,
		Mode:         mode,
		TabID:        opts.TabID,
		AllowedTools: opts.AllowedTools,
	}
	if mode == ModeOnce {
		ttl := opts.TTL
		if ttl <= 0 {
			ttl = onceGrantTTLMinutes * time.Minute
		}
		g.ExpiresAt = k.now().Add(ttl)
	}

	key := grantKey(origin, scope)
	k.mu.Lock()
	k.grants[key] = append(k.grants[key], g)
	k.mu.Unlock()

	k.audit(ctx, origin, scope, "grant", true, string(mode))
	return nil
}

// GrantInfo is a read-only view of one Permission Grant, for the Host
// Facade's list-grants RPC.
type GrantInfo struct {
	Scope        Scope
	Mode         Mode
	TabID        string
	AllowedTools []string
	ExpiresAt    time.Time
}

// ListGrants returns every non-expired grant recorded for origin, across all
// scopes. Once-grants already consumed are omitted.
func (k *Kernel) ListGrants(origin string) []GrantInfo {
	now := k.now()

	k.mu.RLock()
	defer k.mu.RUnlock()

	var out []GrantInfo
	prefix := origin + "\x00"
	for key, grants := range k.grants {
		if len(key) < len(prefix) || key[:len(prefix)] != prefix {
			continue
		}
		for _, g := range grants {
			if g.expired(now) || (g.Mode == ModeOnce && g.consumed) {
				continue
			}
			out = append(out, GrantInfo{
				Scope:        g.Scope,
				Mode:         g.Mode,
				TabID:        g.TabID,
				AllowedTools: g.AllowedTools,
				ExpiresAt:    g.ExpiresAt,
			})
		}
	}
	return out
}

// Revoke removes all grants for origin/scope.
func (k *Kernel) Revoke(ctx context.Context, origin string, scope Scope) error {
	if !ValidScope(scope) {
		return harborerr.Newf(harborerr.InvalidRequest, "unknown scope %q", scope)
	}
	k.mu.Lock()
	delete(k.grants, grantKey(origin, scope))
	k.mu.Unlock()

	k.audit(ctx, origin, scope, "revoke", true, "")
	return nil
}

// ExpireTabGrants drops every tab-scoped grant for tabID, across all
// origins and scopes. Called when the browser reports a tab closed.
func (k *Kernel) ExpireTabGrants(ctx context.Context, tabID string) {
	if tabID == "" {
		return
	}
	k.mu.Lock()
	for key, grants := range k.grants {
		kept := grants[:0]
		for _, g := range grants {
			if g.TabID == tabID {
				continue
			}
			kept = append(kept, g)
		}
		if len(kept) == 0 {
			delete(k.grants, key)
		} else {
			k.grants[key] = kept
		}
	}
	k.mu.Unlock()

	k.audit(ctx, "", "", "expire_tab_grants", true, tabID)
}

// AcquireBudget decrements the sliding-window budget for (origin, resource)
// and returns harborerr.RateLimited when exhausted. The Kernel is the only
// place budgets are decremented; resource is typically a Scope string or a
// specific tool name when a per-tool budget has been configured.
func (k *Kernel) AcquireBudget(ctx context.Context, origin, resource string) error {
	now := k.now()
	key := origin + "\x00" + resource

	k.mu.Lock()
	b, ok := k.budgets[key]
	if !ok {
		def, hasDef := k.defs[resource]
		if !hasDef {
			// No budget configured for this resource: unlimited.
			k.mu.Unlock()
			return nil
		}
		b = newBudget(def.Window, def.Limit)
		k.budgets[key] = b
	}
	ok = b.acquire(now)
	k.mu.Unlock()

	if !ok {
		err := harborerr.Newf(harborerr.RateLimited, "rate limit exceeded for origin %q resource %q", origin, resource)
		k.audit(ctx, origin, Scope(resource), "budget", false, err.Error())
		return err
	}
	k.audit(ctx, origin, Scope(resource), "budget", true, "")
	return nil
}

// Record emits a caller-supplied observability event (e.g. a tool execution
// outcome) through the same audit path as Check/Grant/Revoke, without
// performing any authorization decision itself.
func (k *Kernel) Record(ctx context.Context, origin string, scope Scope, action string, allowed bool, reason string) {
	k.audit(ctx, origin, scope, action, allowed, reason)
}

// audit emits an AuditEvent to the recorder (if any) and mirrors it to slog
// at Info level, matching observe.Metrics's "OTel instrument plus structured
// log line at the call site" pattern.
func (k *Kernel) audit(ctx context.Context, origin string, scope Scope, action string, allowed bool, reason string) {
	event := AuditEvent{
		Time:    k.now(),
		Origin:  origin,
		Scope:   scope,
		Action:  action,
		Allowed: allowed,
		Reason:  reason,
	}
	if k.recorder != nil {
		k.recorder.RecordPolicyEvent(ctx, event)
	}
	k.logger.Info("policy decision",
		"origin", origin,
		"scope", scope,
		"action", action,
		"allowed", allowed,
		"reason", reason,
	)
}
