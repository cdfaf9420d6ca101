package protocol

// Model describes one model offered by a provider.
type Model struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Provider is one model provider known to the remote service.
type Provider struct {
	ID     string  `json:"id"`
	Name   string  `json:"name,omitempty"`
	Models []Model `json:"models,omitempty"`
}

// Agent is one agent profile exposed by the remote service.
type Agent struct {
	Name        string `json:"name"`
	Mode        string `json:"mode,omitempty"`
	Description string `json:"description,omitempty"`
}

// Config is the remote service configuration, kept opaque.
type Config map[string]any

// Command is a named command runnable inside a session.
type Command struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Template    string `json:"template,omitempty"`
}

// ServerStatus is an opaque status table fetched during bootstrap
// (LSP, MCP, formatter and similar subsystem states).
type ServerStatus map[string]any

// VCSInfo describes the workspace version-control state.
type VCSInfo struct {
	Branch string `json:"branch,omitempty"`
	Dirty  bool   `json:"dirty,omitempty"`
}

// PathInfo describes the remote workspace paths.
type PathInfo struct {
	Root      string `json:"root,omitempty"`
	Directory string `json:"directory,omitempty"`
	Worktree  string `json:"worktree,omitempty"`
}

// AuthInfo is the provider authentication table.
type AuthInfo map[string]any

// SessionStatus is the raw per-session status table entry fetched during
// bootstrap. Derived status is computed locally and never read from here.
type SessionStatus map[string]any
