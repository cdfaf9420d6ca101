package store

import "github.com/Shakudo-io/kaji-opencode-relay/protocol"

// Notification is one change emitted by the store. The union is closed so
// that subscribers can switch exhaustively. Payload entities are deep
// copies owned by the receiver.
type Notification interface {
	isNotification()
}

// SessionCreated fires when a session is first seen.
type SessionCreated struct {
	Session *protocol.Session
}

// SessionDeleted fires when a session is removed.
type SessionDeleted struct {
	Session *protocol.Session
}

// MessageObserved fires on every assistant message upsert.
type MessageObserved struct {
	SessionID string
	Message   *protocol.Message
}

// MessageCompleted fires when an assistant message's completion timestamp
// transitions from unset to set. Finish reasons alone never trigger it.
type MessageCompleted struct {
	SessionID string
	Message   *protocol.Message
}

// InboundMessage fires when a new user-authored message appears.
type InboundMessage struct {
	SessionID string
	Message   *protocol.Message
}

// StatusChanged fires on actual derived-status transitions only.
type StatusChanged struct {
	SessionID string
	Activity  Activity
}

// TodoChanged fires when a session's todo list is replaced.
type TodoChanged struct {
	SessionID string
	Todos     []protocol.TodoItem
}

// PermissionAsked fires when a permission request becomes pending.
type PermissionAsked struct {
	SessionID  string
	Permission *protocol.Permission
}

// QuestionAsked fires when a question request becomes pending.
type QuestionAsked struct {
	SessionID string
	Question  *protocol.Question
}

// SessionError carries a best-effort description of a session-level fatal
// error.
type SessionError struct {
	SessionID string
	Message   string
}

// Toast is a notification-style event with no state behind it. Bootstrap
// and sync failures surface here with Level "error".
type Toast struct {
	SessionID string
	Title     string
	Message   string
	Level     string
}

func (*SessionCreated) isNotification()   {}
func (*SessionDeleted) isNotification()   {}
func (*MessageObserved) isNotification()  {}
func (*MessageCompleted) isNotification() {}
func (*InboundMessage) isNotification()   {}
func (*StatusChanged) isNotification()    {}
func (*TodoChanged) isNotification()      {}
func (*PermissionAsked) isNotification()  {}
func (*QuestionAsked) isNotification()    {}
func (*SessionError) isNotification()     {}
func (*Toast) isNotification()            {}

// Subscribe registers fn for change notifications. Notifications are
// delivered in apply order after the mutation commits; the returned
// function cancels the subscription.
func (s *Store) Subscribe(fn func(Notification)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSubID
	s.nextSubID++
	s.subs[id] = fn
	s.subOrder = append(s.subOrder, id)
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
		for i, v := range s.subOrder {
			if v == id {
				s.subOrder = append(s.subOrder[:i], s.subOrder[i+1:]...)
				break
			}
		}
	}
}

// emit delivers notifications outside the state lock.
func (s *Store) emit(notes []Notification) {
	if len(notes) == 0 {
		return
	}
	s.mu.Lock()
	order := append([]int(nil), s.subOrder...)
	subs := make(map[int]func(Notification), len(s.subs))
	for id, fn := range s.subs {
		subs[id] = fn
	}
	s.mu.Unlock()

	for _, n := range notes {
		for _, id := range order {
			if fn, ok := subs[id]; ok {
				fn(n)
			}
		}
	}
}
