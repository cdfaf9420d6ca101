// Package protocol defines the wire-level entity and event types exchanged
// with the remote session service.
package protocol

// SessionTime holds lifecycle timestamps in unix milliseconds.
type SessionTime struct {
	Created int64 `json:"created"`
	Updated int64 `json:"updated"`
}

// ShareInfo describes a shared session link.
type ShareInfo struct {
	URL string `json:"url"`
}

// RevertInfo records the revert point of a session.
type RevertInfo struct {
	MessageID string `json:"messageID"`
	PartID    string `json:"partID,omitempty"`
	Snapshot  string `json:"snapshot,omitempty"`
	Diff      string `json:"diff,omitempty"`
}

// Session is one conversation tracked by the remote service.
type Session struct {
	ID         string      `json:"id"`
	Directory  string      `json:"directory,omitempty"`
	Title      string      `json:"title,omitempty"`
	Version    string      `json:"version,omitempty"`
	ParentID   string      `json:"parentID,omitempty"`
	Time       SessionTime `json:"time"`
	Share      *ShareInfo  `json:"share,omitempty"`
	Revert     *RevertInfo `json:"revert,omitempty"`
	Compacting bool        `json:"compacting,omitempty"`
}

// TodoStatus is the state of a single todo item.
type TodoStatus string

const (
	TodoPending    TodoStatus = "pending"
	TodoInProgress TodoStatus = "in_progress"
	TodoCompleted  TodoStatus = "completed"
	TodoCancelled  TodoStatus = "cancelled"
)

// TodoItem is one entry in a session's todo list.
type TodoItem struct {
	ID       string     `json:"id,omitempty"`
	Content  string     `json:"content"`
	Status   TodoStatus `json:"status"`
	Priority string     `json:"priority,omitempty"`
}

// SessionDiff is the aggregate file diff of a session.
type SessionDiff struct {
	Files []FileDiff `json:"files,omitempty"`
}

// FileDiff is one changed file within a session diff.
type FileDiff struct {
	File      string `json:"file"`
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
	Before    string `json:"before,omitempty"`
	After     string `json:"after,omitempty"`
}
