package router

import (
	"context"

	"github.com/Shakudo-io/kaji-opencode-relay/policy"
	"github.com/Shakudo-io/kaji-opencode-relay/protocol"
)

// roundTripPermission resolves a pending permission request. The session
// always receives some reply: policy short-circuit, consumer decision, or
// reject on no-owner, timeout, error, or panic.
func (r *Router) roundTripPermission(perm *protocol.Permission) {
	reply := protocol.PermissionReject

	decision := policy.DecisionAsk
	if r.policy != nil {
		decision = r.policy.Evaluate(context.Background(), perm)
	}

	switch decision {
	case policy.DecisionAllow:
		reply = protocol.PermissionOnce
	case policy.DecisionReject:
		// reply stays reject
	default:
		if c := r.resolve(perm.SessionID); c != nil {
			reply = r.askConsumer(c, perm)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if err := r.service.RespondPermission(ctx, perm.SessionID, perm.ID, reply); err != nil {
		r.log.Warn("failed to respond to permission", "session", perm.SessionID, "permission", perm.ID, "error", err)
	}
}

// askConsumer races the consumer's permission handler against the
// round-trip timeout. The context carries the deadline so well-behaved
// consumers can abandon work; misbehaving ones are simply left behind.
func (r *Router) askConsumer(c Consumer, perm *protocol.Permission) protocol.PermissionReply {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	result := make(chan PermissionDecision, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				r.log.Error("permission handler panicked", "consumer", c.Info().ID, "panic", p)
				result <- PermissionDecision{Reply: protocol.PermissionReject}
			}
		}()
		decision, err := c.PermissionRequested(ctx, perm)
		if err != nil {
			r.log.Warn("permission handler failed", "consumer", c.Info().ID, "error", err)
			decision = PermissionDecision{Reply: protocol.PermissionReject}
		}
		result <- decision
	}()

	select {
	case <-ctx.Done():
		r.log.Warn("permission round-trip timed out", "consumer", c.Info().ID, "permission", perm.ID)
		return protocol.PermissionReject
	case decision := <-result:
		switch decision.Reply {
		case protocol.PermissionOnce, protocol.PermissionAlways, protocol.PermissionReject:
			return decision.Reply
		default:
			return protocol.PermissionReject
		}
	}
}

// roundTripQuestion resolves a pending question request the same way:
// consumer answers within the timeout or the question is rejected.
func (r *Router) roundTripQuestion(q *protocol.Question) {
	answers := r.askQuestion(q)

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	var err error
	if answers != nil {
		err = r.service.AnswerQuestion(ctx, q.SessionID, q.ID, answers)
	} else {
		err = r.service.RejectQuestion(ctx, q.SessionID, q.ID)
	}
	if err != nil {
		r.log.Warn("failed to resolve question", "session", q.SessionID, "question", q.ID, "error", err)
	}
}

func (r *Router) askQuestion(q *protocol.Question) [][]string {
	c := r.resolve(q.SessionID)
	if c == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	result := make(chan [][]string, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				r.log.Error("question handler panicked", "consumer", c.Info().ID, "panic", p)
				result <- nil
			}
		}()
		answers, err := c.QuestionRequested(ctx, q)
		if err != nil {
			r.log.Warn("question handler failed", "consumer", c.Info().ID, "error", err)
			answers = nil
		}
		result <- answers
	}()

	select {
	case <-ctx.Done():
		r.log.Warn("question round-trip timed out", "consumer", c.Info().ID, "question", q.ID)
		return nil
	case answers := <-result:
		if answers != nil && len(answers) != len(q.Questions) {
			r.log.Warn("question answer count mismatch, rejecting",
				"consumer", c.Info().ID, "got", len(answers), "want", len(q.Questions))
			return nil
		}
		return answers
	}
}
