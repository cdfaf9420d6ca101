package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Shakudo-io/kaji-opencode-relay/protocol"
)

// Apply folds a batch of events into the state in arrival order. Event
// kinds the store does not model are ignored. Notifications are delivered
// after every mutation from the batch has committed.
func (s *Store) Apply(events []protocol.Event) {
	var notes []Notification
	var resync bool

	s.mu.Lock()
	for _, ev := range events {
		switch e := ev.(type) {
		case *protocol.SessionUpdatedEvent:
			s.applySessionUpdated(&e.Session, &notes)
		case *protocol.SessionDeletedEvent:
			s.applySessionDeleted(e.Session.ID, &notes)
		case *protocol.SessionStatusEvent:
			s.applySessionStatus(e, &notes)
		case *protocol.SessionErrorEvent:
			notes = append(notes, &SessionError{
				SessionID: e.SessionID,
				Message:   errorDescription(e.Error),
			})
		case *protocol.MessageUpdatedEvent:
			s.applyMessageUpdated(&e.Message, &notes)
		case *protocol.MessageRemovedEvent:
			s.applyMessageRemoved(e.SessionID, e.MessageID, &notes)
		case *protocol.PartUpdatedEvent:
			s.applyPartUpdated(e.Part)
		case *protocol.PartDeltaEvent:
			s.applyPartDelta(e)
		case *protocol.PartRemovedEvent:
			s.applyPartRemoved(e)
		case *protocol.PermissionAskedEvent:
			s.applyPermissionAsked(&e.Permission, &notes)
		case *protocol.PermissionRepliedEvent:
			if st, ok := s.sessions.Get(e.SessionID); ok {
				st.permissions.Delete(e.PermissionID)
			}
		case *protocol.QuestionAskedEvent:
			s.applyQuestionAsked(&e.Question, &notes)
		case *protocol.QuestionRepliedEvent:
			if st, ok := s.sessions.Get(e.SessionID); ok {
				st.questions.Delete(e.QuestionID)
			}
		case *protocol.QuestionRejectedEvent:
			if st, ok := s.sessions.Get(e.SessionID); ok {
				st.questions.Delete(e.QuestionID)
			}
		case *protocol.TodoUpdatedEvent:
			st := s.ensureSession(e.SessionID)
			st.todos = protocol.CloneTodos(e.Todos)
			notes = append(notes, &TodoChanged{
				SessionID: e.SessionID,
				Todos:     protocol.CloneTodos(e.Todos),
			})
		case *protocol.NotificationEvent:
			notes = append(notes, &Toast{
				SessionID: e.SessionID,
				Title:     e.Title,
				Message:   e.Message,
				Level:     e.Level,
			})
		case *protocol.InstanceDisposedEvent:
			s.status = StatusLoading
			for _, st := range s.sessions.Values() {
				st.synced = false
			}
			resync = true
		case *protocol.SessionIdleEvent, *protocol.FileWatcherEvent, *protocol.UnknownEvent:
			// No state behind these.
		}
	}
	s.mu.Unlock()

	s.emit(notes)

	if resync && s.fetcher != nil {
		go func() {
			if err := s.Bootstrap(context.Background()); err != nil {
				s.log.Warn("bootstrap after instance disposal failed", "error", err)
			}
		}()
	}
}

func (s *Store) applySessionUpdated(session *protocol.Session, notes *[]Notification) {
	clone := protocol.CloneSession(session)
	if st, ok := s.sessions.Get(session.ID); ok {
		st.session = clone
		s.refreshActivity(st, notes)
		return
	}
	st := newSessionState(clone)
	st.activity = st.derive()
	s.sessions.Upsert(st)
	*notes = append(*notes, &SessionCreated{Session: protocol.CloneSession(session)})
}

func (s *Store) applySessionDeleted(id string, notes *[]Notification) {
	st, ok := s.sessions.Get(id)
	if !ok {
		return
	}
	s.sessions.Delete(id)
	*notes = append(*notes, &SessionDeleted{Session: protocol.CloneSession(st.session)})
}

func (s *Store) applySessionStatus(e *protocol.SessionStatusEvent, notes *[]Notification) {
	st := s.ensureSession(e.SessionID)
	if e.Status != nil {
		st.rawStatus = e.Status
	}
	if e.Compacting != nil {
		st.session.Compacting = *e.Compacting
	}
	s.refreshActivity(st, notes)
}

func (s *Store) applyMessageUpdated(msg *protocol.Message, notes *[]Notification) {
	st := s.ensureSession(msg.SessionID)

	prev, had := st.messages.Get(msg.ID)
	clone := protocol.CloneMessage(msg)

	if msg.Role == protocol.RoleAssistant {
		s.accumulate(st, prev, clone)
	}

	st.messages.Upsert(clone)

	for _, evicted := range st.messages.TrimFront(MessageCap) {
		delete(st.parts, evicted.ID)
	}

	if msg.Role == protocol.RoleAssistant {
		*notes = append(*notes, &MessageObserved{
			SessionID: msg.SessionID,
			Message:   protocol.CloneMessage(msg),
		})
		wasCompleted := had && prev.Completed()
		if clone.Completed() && !wasCompleted {
			*notes = append(*notes, &MessageCompleted{
				SessionID: msg.SessionID,
				Message:   protocol.CloneMessage(msg),
			})
		}
	} else if !had {
		*notes = append(*notes, &InboundMessage{
			SessionID: msg.SessionID,
			Message:   protocol.CloneMessage(msg),
		})
	}

	s.refreshActivity(st, notes)
}

// accumulate adds the positive delta between the message's new cumulative
// values and its previously observed ones to the session aggregate. The
// clamp keeps the aggregate monotonic even under out-of-order or duplicate
// delivery, and eviction cannot regress it because the total lives on the
// session, not the message.
func (s *Store) accumulate(st *sessionState, prev, next *protocol.Message) {
	var before protocol.Message
	if prev != nil {
		before = *prev
	}
	st.aggregate.Cost += clampFloat(next.Cost - before.Cost)
	st.aggregate.Tokens.Input += clampInt(next.Tokens.Input - before.Tokens.Input)
	st.aggregate.Tokens.Output += clampInt(next.Tokens.Output - before.Tokens.Output)
	st.aggregate.Tokens.Reasoning += clampInt(next.Tokens.Reasoning - before.Tokens.Reasoning)
	st.aggregate.Tokens.Cache.Read += clampInt(next.Tokens.Cache.Read - before.Tokens.Cache.Read)
	st.aggregate.Tokens.Cache.Write += clampInt(next.Tokens.Cache.Write - before.Tokens.Cache.Write)
}

func clampFloat(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}

func clampInt(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}

func (s *Store) applyMessageRemoved(sessionID, messageID string, notes *[]Notification) {
	st, ok := s.sessions.Get(sessionID)
	if !ok {
		return
	}
	st.messages.Delete(messageID)
	delete(st.parts, messageID)
	s.refreshActivity(st, notes)
}

// applyPartUpdated stores a part under its owning message. Parts whose
// message is unknown (already evicted or never seen) are dropped so that a
// part can never outlive its message.
func (s *Store) applyPartUpdated(part protocol.Part) {
	base := part.Base()
	st, ok := s.sessions.Get(base.SessionID)
	if !ok {
		return
	}
	if _, ok := st.messages.Get(base.MessageID); !ok {
		return
	}
	st.partsOf(base.MessageID).Upsert(protocol.ClonePart(part))
}

func (s *Store) applyPartDelta(e *protocol.PartDeltaEvent) {
	st, ok := s.sessions.Get(e.SessionID)
	if !ok {
		return
	}
	coll, ok := st.parts[e.MessageID]
	if !ok {
		return
	}
	part, ok := coll.Get(e.PartID)
	if !ok {
		return
	}
	if !protocol.AppendField(part, e.Field, e.Delta) {
		s.log.Debug("part delta for unsupported field", "part", e.PartID, "field", e.Field)
	}
}

func (s *Store) applyPartRemoved(e *protocol.PartRemovedEvent) {
	st, ok := s.sessions.Get(e.SessionID)
	if !ok {
		return
	}
	if coll, ok := st.parts[e.MessageID]; ok {
		coll.Delete(e.PartID)
	}
}

func (s *Store) applyPermissionAsked(p *protocol.Permission, notes *[]Notification) {
	st := s.ensureSession(p.SessionID)
	st.permissions.Upsert(protocol.ClonePermission(p))
	*notes = append(*notes, &PermissionAsked{
		SessionID:  p.SessionID,
		Permission: protocol.ClonePermission(p),
	})
}

func (s *Store) applyQuestionAsked(q *protocol.Question, notes *[]Notification) {
	st := s.ensureSession(q.SessionID)
	st.questions.Upsert(protocol.CloneQuestion(q))
	*notes = append(*notes, &QuestionAsked{
		SessionID: q.SessionID,
		Question:  protocol.CloneQuestion(q),
	})
}

// refreshActivity emits a StatusChanged notification only on an actual
// transition from the last emitted value.
func (s *Store) refreshActivity(st *sessionState, notes *[]Notification) {
	current := st.derive()
	if current == st.activity {
		return
	}
	st.activity = current
	*notes = append(*notes, &StatusChanged{
		SessionID: st.session.ID,
		Activity:  current,
	})
}

// errorDescription extracts a human-readable message from a session error
// payload, best effort.
func errorDescription(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "unknown session error"
	}
	var structured struct {
		Name    string `json:"name"`
		Message string `json:"message"`
		Data    struct {
			Message string `json:"message"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &structured); err == nil {
		switch {
		case structured.Message != "" && structured.Name != "":
			return fmt.Sprintf("%s: %s", structured.Name, structured.Message)
		case structured.Message != "":
			return structured.Message
		case structured.Data.Message != "":
			return structured.Data.Message
		case structured.Name != "":
			return structured.Name
		}
	}
	var plain string
	if err := json.Unmarshal(raw, &plain); err == nil && plain != "" {
		return plain
	}
	return string(raw)
}
