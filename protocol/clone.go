package protocol

import "maps"

// CloneSession deep-copies a session.
func CloneSession(s *Session) *Session {
	if s == nil {
		return nil
	}
	out := *s
	if s.Share != nil {
		share := *s.Share
		out.Share = &share
	}
	if s.Revert != nil {
		revert := *s.Revert
		out.Revert = &revert
	}
	return &out
}

// CloneMessage deep-copies a message.
func CloneMessage(m *Message) *Message {
	if m == nil {
		return nil
	}
	out := *m
	if m.Error != nil {
		e := *m.Error
		e.Data = maps.Clone(m.Error.Data)
		out.Error = &e
	}
	return &out
}

// ClonePart deep-copies a part. The session → message → part graph is a
// tree, so a straight recursive copy is enough.
func ClonePart(p Part) Part {
	switch v := p.(type) {
	case *TextPart:
		out := *v
		return &out
	case *ReasoningPart:
		out := *v
		return &out
	case *ToolPart:
		out := *v
		out.State.Input = maps.Clone(v.State.Input)
		return &out
	case *FilePart:
		out := *v
		return &out
	case *AgentPart:
		out := *v
		return &out
	case *StepStartPart:
		out := *v
		return &out
	case *StepFinishPart:
		out := *v
		return &out
	case *PatchPart:
		out := *v
		out.Files = append([]string(nil), v.Files...)
		return &out
	case *UnknownPart:
		out := *v
		out.Raw = append([]byte(nil), v.Raw...)
		return &out
	}
	return p
}

// ClonePermission deep-copies a permission request.
func ClonePermission(p *Permission) *Permission {
	if p == nil {
		return nil
	}
	out := *p
	out.Metadata = maps.Clone(p.Metadata)
	return &out
}

// CloneQuestion deep-copies a question request.
func CloneQuestion(q *Question) *Question {
	if q == nil {
		return nil
	}
	out := *q
	out.Questions = make([]QuestionInfo, len(q.Questions))
	for i, info := range q.Questions {
		info.Options = append([]QuestionOption(nil), info.Options...)
		out.Questions[i] = info
	}
	return &out
}

// CloneTodos copies a todo list.
func CloneTodos(items []TodoItem) []TodoItem {
	return append([]TodoItem(nil), items...)
}
