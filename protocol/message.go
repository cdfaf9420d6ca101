package protocol

// MessageRole is the author of a message.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// MessageTime holds message timestamps in unix milliseconds. Completed is
// zero until the assistant turn finishes.
type MessageTime struct {
	Created   int64 `json:"created"`
	Completed int64 `json:"completed,omitempty"`
}

// TokenCache breaks out prompt-cache token counts.
type TokenCache struct {
	Read  int64 `json:"read"`
	Write int64 `json:"write"`
}

// Tokens is the cumulative token breakdown of a message. All values are
// cumulative-to-date for the message, not per-update deltas.
type Tokens struct {
	Input     int64      `json:"input"`
	Output    int64      `json:"output"`
	Reasoning int64      `json:"reasoning"`
	Cache     TokenCache `json:"cache"`
}

// MessageError is a terminal error attached to a failed message.
type MessageError struct {
	Name    string         `json:"name,omitempty"`
	Message string         `json:"message,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}

// Message is one turn of a session. Cost and Tokens carry cumulative values
// for the message as a whole; consumers that need session totals must use
// the store's running aggregates.
type Message struct {
	ID         string        `json:"id"`
	SessionID  string        `json:"sessionID"`
	Role       MessageRole   `json:"role"`
	Time       MessageTime   `json:"time"`
	ModelID    string        `json:"modelID,omitempty"`
	ProviderID string        `json:"providerID,omitempty"`
	Cost       float64       `json:"cost,omitempty"`
	Tokens     Tokens        `json:"tokens,omitempty"`
	Error      *MessageError `json:"error,omitempty"`
	Finish     string        `json:"finish,omitempty"`
}

// Completed reports whether the message's completion timestamp is set. This
// is the only signal that a turn finished; finish reasons such as
// "tool-calls" do not imply completion.
func (m *Message) Completed() bool {
	return m.Time.Completed != 0
}
