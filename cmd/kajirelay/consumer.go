package main

import (
	"context"
	"log/slog"

	"github.com/Shakudo-io/kaji-opencode-relay/protocol"
	"github.com/Shakudo-io/kaji-opencode-relay/router"
	"github.com/Shakudo-io/kaji-opencode-relay/store"
)

// consoleConsumer writes every notification to the log. It is the default
// consumer when the daemon runs without a channel bridge attached; with
// autoApprove unset it rejects all permission and question requests.
type consoleConsumer struct {
	log         *slog.Logger
	autoApprove bool
}

func (c *consoleConsumer) Info() router.ConsumerInfo {
	return router.ConsumerInfo{
		ID:      "console",
		Channel: "log",
		Capabilities: router.Capabilities{
			CodeBlocks: true,
		},
	}
}

func (c *consoleConsumer) MessageObserved(ctx context.Context, sessionID string, msg *protocol.Message, parts []protocol.Part) error {
	c.log.Info("assistant message", "session", sessionID, "message", msg.ID, "parts", len(parts))
	return nil
}

func (c *consoleConsumer) MessageCompleted(ctx context.Context, sessionID string, msg *protocol.Message, parts []protocol.Part) error {
	c.log.Info("assistant message completed",
		"session", sessionID, "message", msg.ID, "cost", msg.Cost,
		"tokens_in", msg.Tokens.Input, "tokens_out", msg.Tokens.Output)
	return nil
}

func (c *consoleConsumer) StatusChanged(ctx context.Context, sessionID string, activity store.Activity) error {
	c.log.Info("session status", "session", sessionID, "activity", activity)
	return nil
}

func (c *consoleConsumer) TodoChanged(ctx context.Context, sessionID string, todos []protocol.TodoItem) error {
	c.log.Info("todos updated", "session", sessionID, "count", len(todos))
	return nil
}

func (c *consoleConsumer) SessionError(ctx context.Context, sessionID, message string) error {
	c.log.Error("session error", "session", sessionID, "error", message)
	return nil
}

func (c *consoleConsumer) Toast(ctx context.Context, sessionID, title, message, level string) error {
	c.log.Info("toast", "session", sessionID, "title", title, "message", message, "level", level)
	return nil
}

func (c *consoleConsumer) PermissionRequested(ctx context.Context, perm *protocol.Permission) (router.PermissionDecision, error) {
	if c.autoApprove {
		c.log.Info("auto-approving permission", "session", perm.SessionID, "pattern", perm.Pattern)
		return router.PermissionDecision{Reply: protocol.PermissionOnce}, nil
	}
	c.log.Warn("rejecting permission, no interactive consumer", "session", perm.SessionID, "pattern", perm.Pattern)
	return router.PermissionDecision{Reply: protocol.PermissionReject, Message: "no interactive approval available"}, nil
}

func (c *consoleConsumer) QuestionRequested(ctx context.Context, q *protocol.Question) ([][]string, error) {
	c.log.Warn("rejecting question, no interactive consumer", "session", q.SessionID, "questions", len(q.Questions))
	return nil, nil
}
