package protocol

// PermissionReply is the decision returned for a permission request.
type PermissionReply string

const (
	PermissionOnce   PermissionReply = "once"
	PermissionAlways PermissionReply = "always"
	PermissionReject PermissionReply = "reject"
)

// Permission is a pending permission request raised by the remote service.
type Permission struct {
	ID        string         `json:"id"`
	SessionID string         `json:"sessionID"`
	CallID    string         `json:"callID,omitempty"`
	Type      string         `json:"type,omitempty"`
	Pattern   string         `json:"pattern,omitempty"`
	Title     string         `json:"title,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Time      struct {
		Created int64 `json:"created"`
	} `json:"time"`
}

// QuestionOption is one selectable answer for a question prompt.
type QuestionOption struct {
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
}

// QuestionInfo is a single prompt within a question request.
type QuestionInfo struct {
	Question string           `json:"question"`
	Header   string           `json:"header,omitempty"`
	Options  []QuestionOption `json:"options,omitempty"`
	Multiple bool             `json:"multiple,omitempty"`
	Custom   bool             `json:"custom,omitempty"`
}

// Question is a pending question request. Answers carry one list of
// selected labels per prompt, in prompt order.
type Question struct {
	ID        string         `json:"id"`
	SessionID string         `json:"sessionID"`
	Questions []QuestionInfo `json:"questions"`
	Time      struct {
		Created int64 `json:"created"`
	} `json:"time"`
}
