package hostfacade

import (
	"context"

	"github.com/MrWong99/harbor/internal/policy"
)

// Grant records a Permission Grant for origin/scope, per policy.Kernel.Grant.
func (f *Facade) Grant(ctx context.Context, origin string, scope policy.Scope, mode policy.Mode, opts policy.GrantOptions) error {
	const action = "grant"
	err := f.kernel.Grant(ctx, origin, scope, mode, opts)
	f.kernel.Record(ctx, origin, scope, action, err == nil, errString(err))
	return err
}

// Revoke removes every grant for origin/scope.
func (f *Facade) Revoke(ctx context.Context, origin string, scope policy.Scope) error {
	const action = "revoke"
	err := f.kernel.Revoke(ctx, origin, scope)
	f.kernel.Record(ctx, origin, scope, action, err == nil, errString(err))
	return err
}

// Check reports whether origin currently holds scope, optionally narrowed to
// a tab and/or tool.
func (f *Facade) Check(ctx context.Context, origin string, scope policy.Scope, opts policy.CheckOptions) (bool, error) {
	const action = "check"
	allowed, err := f.kernel.Check(ctx, origin, scope, opts)
	f.kernel.Record(ctx, origin, scope, action, allowed, errString(err))
	return allowed, err
}

// ListGrants returns every live grant recorded for origin. Scoped to no
// single Scope, so the audit record carries an empty one.
func (f *Facade) ListGrants(ctx context.Context, origin string) []policy.GrantInfo {
	const action = "listGrants"
	grants := f.kernel.ListGrants(origin)
	f.kernel.Record(ctx, origin, "", action, true, "")
	return grants
}

// ExpireTabGrants drops every tab-scoped grant for tabID across all origins,
// called when the browser reports a tab closed.
func (f *Facade) ExpireTabGrants(ctx context.Context, tabID string) {
	const action = "expireTabGrants"
	f.kernel.ExpireTabGrants(ctx, tabID)
	f.kernel.Record(ctx, "", "", action, true, tabID)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
