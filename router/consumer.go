package router

import (
	"context"

	"github.com/Shakudo-io/kaji-opencode-relay/protocol"
	"github.com/Shakudo-io/kaji-opencode-relay/store"
)

// Capabilities describes what a consumer's channel can render.
type Capabilities struct {
	StreamingEdits     bool
	RichFormatting     bool
	InteractiveButtons bool
	FileUpload         bool
	DiffView           bool
	CodeBlocks         bool
}

// ConsumerInfo identifies a consumer.
type ConsumerInfo struct {
	ID           string
	Channel      string
	Capabilities Capabilities
}

// PermissionDecision is a consumer's answer to a permission request.
// Message is optional commentary for audit logs; it is not forwarded to
// the remote service.
type PermissionDecision struct {
	Reply   protocol.PermissionReply
	Message string
}

// Consumer receives notifications for the sessions it owns. A consumer
// must never be trusted to return promptly or successfully: the router
// contains every failure and bounds every blocking call.
//
// Returning nil answers from QuestionRequested rejects the question.
type Consumer interface {
	Info() ConsumerInfo

	MessageObserved(ctx context.Context, sessionID string, msg *protocol.Message, parts []protocol.Part) error
	MessageCompleted(ctx context.Context, sessionID string, msg *protocol.Message, parts []protocol.Part) error
	StatusChanged(ctx context.Context, sessionID string, activity store.Activity) error
	TodoChanged(ctx context.Context, sessionID string, todos []protocol.TodoItem) error
	SessionError(ctx context.Context, sessionID, message string) error
	Toast(ctx context.Context, sessionID, title, message, level string) error

	PermissionRequested(ctx context.Context, perm *protocol.Permission) (PermissionDecision, error)
	QuestionRequested(ctx context.Context, q *protocol.Question) ([][]string, error)
}

// Origin identifies where a user-authored message came from.
type Origin struct {
	ConsumerID string
	Channel    string
}

// LocalOrigin marks messages typed directly into the local interface,
// with no queued consumer origin.
var LocalOrigin = Origin{Channel: "local"}

// LifecycleHooks is implemented by consumers that need setup/teardown.
type LifecycleHooks interface {
	Initialize(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// InboundHandler is implemented by consumers that want to see
// user-authored messages, including those sent by other consumers sharing
// the session.
type InboundHandler interface {
	InboundMessage(ctx context.Context, sessionID string, msg *protocol.Message, origin Origin) error
}

// FileHandler is implemented by consumers that accept attachments. The
// router forwards the file parts of each inbound user message to the
// session's target, after the message itself.
type FileHandler interface {
	FileReceived(ctx context.Context, sessionID string, file *protocol.FilePart) error
}

// ReactionHandler is implemented by consumers that surface reactions.
// Reactions originate on the consumer's own channel, so the concrete
// bridge invokes this, not the router.
type ReactionHandler interface {
	ReactionReceived(ctx context.Context, sessionID, messageID, reaction string) error
}

// SessionLifecycleHandler is implemented by consumers that track session
// creation and deletion.
type SessionLifecycleHandler interface {
	SessionCreated(ctx context.Context, session *protocol.Session) error
	SessionDeleted(ctx context.Context, session *protocol.Session) error
}
