package protocol

import (
	"encoding/json"
	"fmt"
)

// EventType is the type tag of a stream event.
type EventType string

const (
	EventSessionUpdated    EventType = "session.updated"
	EventSessionDeleted    EventType = "session.deleted"
	EventSessionStatus     EventType = "session.status"
	EventSessionError      EventType = "session.error"
	EventSessionIdle       EventType = "session.idle"
	EventMessageUpdated    EventType = "message.updated"
	EventMessageRemoved    EventType = "message.removed"
	EventPartUpdated       EventType = "message.part.updated"
	EventPartDelta         EventType = "message.part.delta"
	EventPartRemoved       EventType = "message.part.removed"
	EventPermissionAsked   EventType = "permission.asked"
	EventPermissionReplied EventType = "permission.replied"
	EventQuestionAsked     EventType = "question.asked"
	EventQuestionReplied   EventType = "question.replied"
	EventQuestionRejected  EventType = "question.rejected"
	EventTodoUpdated       EventType = "todo.updated"
	EventNotification      EventType = "notification"
	EventInstanceDisposed  EventType = "server.instance.disposed"
	EventFileWatcher       EventType = "file.watcher.updated"
)

// Event is one typed stream event. The union is closed so that the store's
// event application can switch exhaustively; kinds the store does not
// handle are ignored there, not rejected.
type Event interface {
	isEvent()
}

// SessionUpdatedEvent upserts a session.
type SessionUpdatedEvent struct {
	Session Session `json:"info"`
}

// SessionDeletedEvent removes a session and all of its state.
type SessionDeletedEvent struct {
	Session Session `json:"info"`
}

// SessionStatusEvent updates a session's raw status. Compacting, when
// present, toggles the session's compacting flag.
type SessionStatusEvent struct {
	SessionID  string         `json:"sessionID"`
	Status     map[string]any `json:"status,omitempty"`
	Compacting *bool          `json:"compacting,omitempty"`
}

// SessionErrorEvent reports a session-level fatal error.
type SessionErrorEvent struct {
	SessionID string          `json:"sessionID"`
	Error     json.RawMessage `json:"error,omitempty"`
}

// SessionIdleEvent signals that a session became idle. The store derives
// status from messages instead and ignores this event.
type SessionIdleEvent struct {
	SessionID string `json:"sessionID"`
}

// MessageUpdatedEvent upserts a message.
type MessageUpdatedEvent struct {
	Message Message `json:"info"`
}

// MessageRemovedEvent removes a message and its parts.
type MessageRemovedEvent struct {
	SessionID string `json:"sessionID"`
	MessageID string `json:"messageID"`
}

// PartUpdatedEvent upserts a part within a message.
type PartUpdatedEvent struct {
	Part Part `json:"-"`
}

// PartDeltaEvent appends Delta to the named string field of a part.
type PartDeltaEvent struct {
	SessionID string `json:"sessionID"`
	MessageID string `json:"messageID"`
	PartID    string `json:"partID"`
	Field     string `json:"field"`
	Delta     string `json:"delta"`
}

// PartRemovedEvent removes a part from a message.
type PartRemovedEvent struct {
	SessionID string `json:"sessionID"`
	MessageID string `json:"messageID"`
	PartID    string `json:"partID"`
}

// PermissionAskedEvent raises a pending permission request.
type PermissionAskedEvent struct {
	Permission Permission
}

// PermissionRepliedEvent resolves a pending permission request.
type PermissionRepliedEvent struct {
	SessionID    string `json:"sessionID"`
	PermissionID string `json:"permissionID"`
	Response     string `json:"response,omitempty"`
}

// QuestionAskedEvent raises a pending question request.
type QuestionAskedEvent struct {
	Question Question
}

// QuestionRepliedEvent resolves a pending question request.
type QuestionRepliedEvent struct {
	SessionID  string `json:"sessionID"`
	QuestionID string `json:"questionID"`
}

// QuestionRejectedEvent rejects a pending question request.
type QuestionRejectedEvent struct {
	SessionID  string `json:"sessionID"`
	QuestionID string `json:"questionID"`
}

// TodoUpdatedEvent replaces a session's todo list wholesale.
type TodoUpdatedEvent struct {
	SessionID string     `json:"sessionID"`
	Todos     []TodoItem `json:"todos"`
}

// NotificationEvent is a toast-style notification with no state effect.
type NotificationEvent struct {
	Title     string `json:"title,omitempty"`
	Message   string `json:"message"`
	Level     string `json:"level,omitempty"`
	SessionID string `json:"sessionID,omitempty"`
}

// InstanceDisposedEvent signals that the remote instance was disposed and
// all synced state is stale.
type InstanceDisposedEvent struct{}

// FileWatcherEvent reports a workspace file change. The store ignores it.
type FileWatcherEvent struct {
	File  string `json:"file"`
	Event string `json:"event,omitempty"`
}

// UnknownEvent preserves event kinds this version does not model.
type UnknownEvent struct {
	Type       EventType
	Properties json.RawMessage
}

func (*SessionUpdatedEvent) isEvent()    {}
func (*SessionDeletedEvent) isEvent()    {}
func (*SessionStatusEvent) isEvent()     {}
func (*SessionErrorEvent) isEvent()      {}
func (*SessionIdleEvent) isEvent()       {}
func (*MessageUpdatedEvent) isEvent()    {}
func (*MessageRemovedEvent) isEvent()    {}
func (*PartUpdatedEvent) isEvent()       {}
func (*PartDeltaEvent) isEvent()         {}
func (*PartRemovedEvent) isEvent()       {}
func (*PermissionAskedEvent) isEvent()   {}
func (*PermissionRepliedEvent) isEvent() {}
func (*QuestionAskedEvent) isEvent()     {}
func (*QuestionRepliedEvent) isEvent()   {}
func (*QuestionRejectedEvent) isEvent()  {}
func (*TodoUpdatedEvent) isEvent()       {}
func (*NotificationEvent) isEvent()      {}
func (*InstanceDisposedEvent) isEvent()  {}
func (*FileWatcherEvent) isEvent()       {}
func (*UnknownEvent) isEvent()           {}

// envelope is the outer wire shape of every stream event.
type envelope struct {
	Type       EventType       `json:"type"`
	Properties json.RawMessage `json:"properties"`
}

// DecodeEvent decodes a wire event by its type tag. Unrecognized tags
// decode to UnknownEvent with the raw properties retained.
func DecodeEvent(data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to decode event envelope: %w", err)
	}
	return decodeProperties(env.Type, env.Properties)
}

func decodeProperties(typ EventType, props json.RawMessage) (Event, error) {
	if len(props) == 0 {
		props = json.RawMessage("{}")
	}

	var ev Event
	switch typ {
	case EventSessionUpdated:
		ev = &SessionUpdatedEvent{}
	case EventSessionDeleted:
		ev = &SessionDeletedEvent{}
	case EventSessionStatus:
		ev = &SessionStatusEvent{}
	case EventSessionError:
		ev = &SessionErrorEvent{}
	case EventSessionIdle:
		ev = &SessionIdleEvent{}
	case EventMessageUpdated:
		ev = &MessageUpdatedEvent{}
	case EventMessageRemoved:
		ev = &MessageRemovedEvent{}
	case EventPartUpdated:
		return decodePartUpdated(props)
	case EventPartDelta:
		ev = &PartDeltaEvent{}
	case EventPartRemoved:
		ev = &PartRemovedEvent{}
	case EventPermissionAsked:
		asked := &PermissionAskedEvent{}
		if err := json.Unmarshal(props, &asked.Permission); err != nil {
			return nil, fmt.Errorf("failed to decode %s event: %w", typ, err)
		}
		return asked, nil
	case EventPermissionReplied:
		ev = &PermissionRepliedEvent{}
	case EventQuestionAsked:
		asked := &QuestionAskedEvent{}
		if err := json.Unmarshal(props, &asked.Question); err != nil {
			return nil, fmt.Errorf("failed to decode %s event: %w", typ, err)
		}
		return asked, nil
	case EventQuestionReplied:
		ev = &QuestionRepliedEvent{}
	case EventQuestionRejected:
		ev = &QuestionRejectedEvent{}
	case EventTodoUpdated:
		ev = &TodoUpdatedEvent{}
	case EventNotification:
		ev = &NotificationEvent{}
	case EventInstanceDisposed:
		return &InstanceDisposedEvent{}, nil
	case EventFileWatcher:
		ev = &FileWatcherEvent{}
	default:
		return &UnknownEvent{Type: typ, Properties: append(json.RawMessage(nil), props...)}, nil
	}

	if err := json.Unmarshal(props, ev); err != nil {
		return nil, fmt.Errorf("failed to decode %s event: %w", typ, err)
	}
	return ev, nil
}

func decodePartUpdated(props json.RawMessage) (Event, error) {
	var wrapper struct {
		Part json.RawMessage `json:"part"`
	}
	if err := json.Unmarshal(props, &wrapper); err != nil {
		return nil, fmt.Errorf("failed to decode part update: %w", err)
	}
	if len(wrapper.Part) == 0 {
		return nil, fmt.Errorf("part update missing part payload")
	}
	part, err := DecodePart(wrapper.Part)
	if err != nil {
		return nil, err
	}
	return &PartUpdatedEvent{Part: part}, nil
}
