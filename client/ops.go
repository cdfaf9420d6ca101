package client

import (
	"context"

	"github.com/google/uuid"

	"github.com/Shakudo-io/kaji-opencode-relay/protocol"
)

// CreateSession creates a new session on the remote service.
func (c *Client) CreateSession(ctx context.Context, req CreateSessionRequest) (*protocol.Session, error) {
	session, err := c.remote.CreateSession(ctx, req)
	if err != nil {
		return nil, opErr("session.create", err)
	}
	return session, nil
}

// NewMessageID returns a time-ordered message identifier. IDs generated
// later compare lexicographically after earlier ones, so ID-sorted message
// views stay aligned with arrival order.
func NewMessageID() string {
	return "msg_" + uuid.Must(uuid.NewV7()).String()
}

// Prompt sends a user prompt into a session. A message ID is generated
// when the caller did not supply one so that the resulting inbound message
// can be correlated.
func (c *Client) Prompt(ctx context.Context, req PromptRequest) (*protocol.Message, error) {
	if req.MessageID == "" {
		req.MessageID = NewMessageID()
	}
	msg, err := c.remote.Prompt(ctx, req)
	if err != nil {
		return nil, opErr("session.prompt", err)
	}
	return msg, nil
}

// Abort cancels the session's in-flight turn.
func (c *Client) Abort(ctx context.Context, sessionID string) error {
	return opErr("session.abort", c.remote.Abort(ctx, sessionID))
}

// Fork creates a child session branched at the given message.
func (c *Client) Fork(ctx context.Context, sessionID, messageID string) (*protocol.Session, error) {
	session, err := c.remote.Fork(ctx, sessionID, messageID)
	if err != nil {
		return nil, opErr("session.fork", err)
	}
	return session, nil
}

// Summarize asks the remote to compact the session history.
func (c *Client) Summarize(ctx context.Context, sessionID string) error {
	return opErr("session.summarize", c.remote.Summarize(ctx, sessionID))
}

// Revert rewinds the session to the given message.
func (c *Client) Revert(ctx context.Context, sessionID, messageID string) error {
	return opErr("session.revert", c.remote.Revert(ctx, sessionID, messageID))
}

// Unrevert clears a pending revert.
func (c *Client) Unrevert(ctx context.Context, sessionID string) error {
	return opErr("session.unrevert", c.remote.Unrevert(ctx, sessionID))
}

// Share publishes the session and returns its share link.
func (c *Client) Share(ctx context.Context, sessionID string) (*protocol.ShareInfo, error) {
	share, err := c.remote.Share(ctx, sessionID)
	if err != nil {
		return nil, opErr("session.share", err)
	}
	return share, nil
}

// Unshare revokes the session's share link.
func (c *Client) Unshare(ctx context.Context, sessionID string) error {
	return opErr("session.unshare", c.remote.Unshare(ctx, sessionID))
}

// DeleteSession removes the session from the remote service.
func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	return opErr("session.delete", c.remote.DeleteSession(ctx, sessionID))
}

// RunCommand executes a named command inside the session.
func (c *Client) RunCommand(ctx context.Context, sessionID, command, arguments string) error {
	return opErr("session.command", c.remote.RunCommand(ctx, sessionID, command, arguments))
}

// RespondPermission answers a pending permission request.
func (c *Client) RespondPermission(ctx context.Context, sessionID, permissionID string, reply protocol.PermissionReply) error {
	return opErr("permission.respond", c.remote.RespondPermission(ctx, sessionID, permissionID, reply))
}

// AnswerQuestion answers a pending question request.
func (c *Client) AnswerQuestion(ctx context.Context, sessionID, questionID string, answers [][]string) error {
	return opErr("question.answer", c.remote.AnswerQuestion(ctx, sessionID, questionID, answers))
}

// RejectQuestion rejects a pending question request.
func (c *Client) RejectQuestion(ctx context.Context, sessionID, questionID string) error {
	return opErr("question.reject", c.remote.RejectQuestion(ctx, sessionID, questionID))
}
