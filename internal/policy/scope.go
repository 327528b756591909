package policy

// Scope identifies a capability an origin can be granted or denied. Scopes
// form a fixed closed set; Check rejects any scope not in this set with
// harborerr.InvalidRequest rather than silently allowing an unknown string
// to be evaluated.
type Scope string

const (
	ScopeModelPrompt       Scope = "model:prompt"
	ScopeModelTools        Scope = "model:tools"
	ScopeMCPToolsList      Scope = "mcp:tools.list"
	ScopeMCPToolsCall      Scope = "mcp:tools.call"
	ScopeBrowserActiveTab  Scope = "browser:activeTab.read"
	ScopeMCPServersRegister Scope = "mcp:servers.register"
	ScopeChatOpen          Scope = "chat:open"
	ScopeWebFetch          Scope = "web:fetch"
)

// validScopes is the closed set consulted by Check, Grant, and Revoke.
var validScopes = map[Scope]bool{
	ScopeModelPrompt:        true,
	ScopeModelTools:         true,
	ScopeMCPToolsList:       true,
	ScopeMCPToolsCall:       true,
	ScopeBrowserActiveTab:   true,
	ScopeMCPServersRegister: true,
	ScopeChatOpen:           true,
	ScopeWebFetch:           true,
}

// ValidScope reports whether s is a member of the fixed scope set.
func ValidScope(s Scope) bool {
	return validScopes[s]
}

// Mode is the disposition of a Permission Grant.
type Mode string

const (
	ModeOnce   Mode = "once"
	ModeAlways Mode = "always"
	ModeDenied Mode = "denied"
)

// onceGrantTTLMinutes is how long, in minutes, an unused "once" grant remains valid before it
// expires on its own, per spec.md §4.2 ("~10 minutes").
const onceGrantTTLMinutes = 10
