package router

import (
	"context"
	"fmt"

	"github.com/Shakudo-io/kaji-opencode-relay/client"
	"github.com/Shakudo-io/kaji-opencode-relay/protocol"
	"github.com/Shakudo-io/kaji-opencode-relay/store"
)

// SendPrompt sends a prompt on behalf of a consumer and records its origin
// so that the resulting inbound-message notification is not echoed back to
// the sender.
func (r *Router) SendPrompt(ctx context.Context, consumerID string, req client.PromptRequest) (*protocol.Message, error) {
	if req.SessionID == "" {
		return nil, fmt.Errorf("router: prompt requires a session ID")
	}

	r.mu.Lock()
	r.origins[req.SessionID] = append(r.origins[req.SessionID], consumerID)
	r.mu.Unlock()

	msg, err := r.service.Prompt(ctx, req)
	if err != nil {
		// The prompt never became a message; take the origin back off the
		// tail so the queue stays aligned with inbound notifications.
		r.mu.Lock()
		queue := r.origins[req.SessionID]
		for i := len(queue) - 1; i >= 0; i-- {
			if queue[i] == consumerID {
				r.origins[req.SessionID] = append(queue[:i], queue[i+1:]...)
				break
			}
		}
		r.mu.Unlock()
		return nil, err
	}
	return msg, nil
}

// routeInbound pops the oldest queued origin for the session. A match with
// the resolved target suppresses the notification; anything else is
// delivered tagged with the resolved origin.
func (r *Router) routeInbound(n *store.InboundMessage) {
	target := r.resolve(n.SessionID)

	r.mu.Lock()
	queue := r.origins[n.SessionID]
	var originID string
	queued := false
	if len(queue) > 0 {
		originID = queue[0]
		r.origins[n.SessionID] = queue[1:]
		queued = true
	}
	r.mu.Unlock()

	if target == nil {
		return
	}
	if queued && originID == target.Info().ID {
		// The target sent this prompt itself; no echo.
		return
	}

	origin := LocalOrigin
	if queued {
		origin = Origin{ConsumerID: originID}
		if c := r.consumer(originID); c != nil {
			origin.Channel = c.Info().Channel
		}
	}

	if h, ok := target.(InboundHandler); ok {
		r.deliver(target, "inbound message", func(ctx context.Context) error {
			return h.InboundMessage(ctx, n.SessionID, n.Message, origin)
		})
	}

	fh, ok := target.(FileHandler)
	if !ok {
		return
	}
	for _, part := range r.store.Parts(n.SessionID, n.Message.ID) {
		file, ok := part.(*protocol.FilePart)
		if !ok {
			continue
		}
		r.deliver(target, "file received", func(ctx context.Context) error {
			return fh.FileReceived(ctx, n.SessionID, file)
		})
	}
}
