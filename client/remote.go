package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Shakudo-io/kaji-opencode-relay/protocol"
)

// Stream is a live sequence of events from the remote service. Next blocks
// until an event arrives or the stream terminates with an error.
type Stream interface {
	Next() (protocol.Event, error)
	Close() error
}

// EventSource opens event streams. Supplying a custom EventSource in
// Options bypasses the transport's internal stream entirely.
type EventSource interface {
	Subscribe(ctx context.Context) (Stream, error)
}

// ModelRef selects a provider/model pair for a prompt.
type ModelRef struct {
	ProviderID string `json:"providerID"`
	ModelID    string `json:"modelID"`
}

// FileInput is an attachment sent with a prompt.
type FileInput struct {
	Mime     string `json:"mime"`
	Filename string `json:"filename,omitempty"`
	URL      string `json:"url"`
}

// PromptRequest is the input for Client.Prompt.
type PromptRequest struct {
	SessionID string      `json:"-"`
	MessageID string      `json:"messageID,omitempty"`
	Text      string      `json:"text"`
	Files     []FileInput `json:"files,omitempty"`
	Model     *ModelRef   `json:"model,omitempty"`
	Agent     string      `json:"agent,omitempty"`
}

// CreateSessionRequest is the input for Client.CreateSession.
type CreateSessionRequest struct {
	Title    string `json:"title,omitempty"`
	ParentID string `json:"parentID,omitempty"`
}

// MessageWithParts is one history entry returned by ListMessages.
type MessageWithParts struct {
	Message protocol.Message
	Parts   []protocol.Part
}

// UnmarshalJSON decodes the {"info": ..., "parts": [...]} wire shape,
// resolving each part variant by its type tag.
func (m *MessageWithParts) UnmarshalJSON(data []byte) error {
	var raw struct {
		Info  protocol.Message  `json:"info"`
		Parts []json.RawMessage `json:"parts"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to decode message history entry: %w", err)
	}
	m.Message = raw.Info
	m.Parts = make([]protocol.Part, 0, len(raw.Parts))
	for _, p := range raw.Parts {
		part, err := protocol.DecodePart(p)
		if err != nil {
			return err
		}
		m.Parts = append(m.Parts, part)
	}
	return nil
}

// RemoteService is the request/response surface of the remote session
// service. The core depends only on this interface; Transport is the
// HTTP implementation.
type RemoteService interface {
	CreateSession(ctx context.Context, req CreateSessionRequest) (*protocol.Session, error)
	Prompt(ctx context.Context, req PromptRequest) (*protocol.Message, error)
	Abort(ctx context.Context, sessionID string) error
	Fork(ctx context.Context, sessionID, messageID string) (*protocol.Session, error)
	Summarize(ctx context.Context, sessionID string) error
	Revert(ctx context.Context, sessionID, messageID string) error
	Unrevert(ctx context.Context, sessionID string) error
	Share(ctx context.Context, sessionID string) (*protocol.ShareInfo, error)
	Unshare(ctx context.Context, sessionID string) error
	DeleteSession(ctx context.Context, sessionID string) error
	RunCommand(ctx context.Context, sessionID, command, arguments string) error

	RespondPermission(ctx context.Context, sessionID, permissionID string, reply protocol.PermissionReply) error
	AnswerQuestion(ctx context.Context, sessionID, questionID string, answers [][]string) error
	RejectQuestion(ctx context.Context, sessionID, questionID string) error

	GetSession(ctx context.Context, sessionID string) (*protocol.Session, error)
	ListSessions(ctx context.Context) ([]protocol.Session, error)
	ListProviders(ctx context.Context) ([]protocol.Provider, error)
	ListAgents(ctx context.Context) ([]protocol.Agent, error)
	GetConfig(ctx context.Context) (protocol.Config, error)
	ListCommands(ctx context.Context) ([]protocol.Command, error)
	ListMessages(ctx context.Context, sessionID string) ([]MessageWithParts, error)
	ListTodos(ctx context.Context, sessionID string) ([]protocol.TodoItem, error)
	GetDiff(ctx context.Context, sessionID string) (*protocol.SessionDiff, error)
	SessionStatuses(ctx context.Context) (map[string]protocol.SessionStatus, error)
	LSPStatus(ctx context.Context) (protocol.ServerStatus, error)
	MCPStatus(ctx context.Context) (protocol.ServerStatus, error)
	FormatterStatus(ctx context.Context) (protocol.ServerStatus, error)
	VCSInfo(ctx context.Context) (*protocol.VCSInfo, error)
	GetPath(ctx context.Context) (*protocol.PathInfo, error)
	AuthStatus(ctx context.Context) (protocol.AuthInfo, error)
}
