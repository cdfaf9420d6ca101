package protocol

import (
	"encoding/json"
	"fmt"
)

// Part is one fragment of a message's content. It is a closed union: every
// variant embeds PartBase and the marker method keeps the set fixed so that
// switches over variants stay exhaustive.
type Part interface {
	Base() *PartBase
	isPart()
}

// PartBase carries the fields common to every part variant.
type PartBase struct {
	ID        string `json:"id"`
	MessageID string `json:"messageID"`
	SessionID string `json:"sessionID"`
	Type      string `json:"type"`
}

func (b *PartBase) Base() *PartBase { return b }

// Part type tags as they appear on the wire.
const (
	PartTypeText       = "text"
	PartTypeReasoning  = "reasoning"
	PartTypeTool       = "tool"
	PartTypeFile       = "file"
	PartTypeAgent      = "agent"
	PartTypeStepStart  = "step-start"
	PartTypeStepFinish = "step-finish"
	PartTypePatch      = "patch"
)

// ToolStatus is the execution state of a tool part.
type ToolStatus string

const (
	ToolPending   ToolStatus = "pending"
	ToolRunning   ToolStatus = "running"
	ToolCompleted ToolStatus = "completed"
	ToolError     ToolStatus = "error"
)

// ToolState is the execution record of a tool call.
type ToolState struct {
	Status ToolStatus     `json:"status"`
	Input  map[string]any `json:"input,omitempty"`
	Output string         `json:"output,omitempty"`
	Title  string         `json:"title,omitempty"`
	Error  string         `json:"error,omitempty"`
	Time   struct {
		Start int64 `json:"start,omitempty"`
		End   int64 `json:"end,omitempty"`
	} `json:"time,omitempty"`
}

// TextPart is free-form assistant or user text.
type TextPart struct {
	PartBase
	Text      string `json:"text"`
	Synthetic bool   `json:"synthetic,omitempty"`
}

// ReasoningPart is model reasoning text.
type ReasoningPart struct {
	PartBase
	Text string `json:"text"`
}

// ToolPart is one tool invocation and its execution state.
type ToolPart struct {
	PartBase
	Tool   string    `json:"tool"`
	CallID string    `json:"callID,omitempty"`
	State  ToolState `json:"state"`
}

// FilePart is an attachment descriptor.
type FilePart struct {
	PartBase
	Mime     string `json:"mime"`
	Filename string `json:"filename,omitempty"`
	URL      string `json:"url"`
}

// AgentPart records a delegation to a subtask agent.
type AgentPart struct {
	PartBase
	Name      string `json:"name"`
	SubtaskID string `json:"subtaskID,omitempty"`
}

// StepStartPart marks the beginning of an agentic step.
type StepStartPart struct {
	PartBase
	Snapshot string `json:"snapshot,omitempty"`
}

// StepFinishPart marks the end of an agentic step. Cost and Tokens are
// advisory display figures; session totals come from message-level values.
type StepFinishPart struct {
	PartBase
	Cost   float64 `json:"cost,omitempty"`
	Tokens Tokens  `json:"tokens,omitempty"`
	Reason string  `json:"reason,omitempty"`
}

// PatchPart records a workspace patch produced during a step.
type PatchPart struct {
	PartBase
	Hash  string   `json:"hash"`
	Files []string `json:"files,omitempty"`
}

// UnknownPart preserves part kinds this version does not model.
type UnknownPart struct {
	PartBase
	Raw json.RawMessage `json:"-"`
}

func (*TextPart) isPart()       {}
func (*ReasoningPart) isPart()  {}
func (*ToolPart) isPart()       {}
func (*FilePart) isPart()       {}
func (*AgentPart) isPart()      {}
func (*StepStartPart) isPart()  {}
func (*StepFinishPart) isPart() {}
func (*PatchPart) isPart()      {}
func (*UnknownPart) isPart()    {}

// DecodePart decodes a wire part by its type tag. Unrecognized tags decode
// to UnknownPart with the raw payload retained.
func DecodePart(data []byte) (Part, error) {
	var probe PartBase
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("failed to decode part envelope: %w", err)
	}

	var p Part
	switch probe.Type {
	case PartTypeText:
		p = &TextPart{}
	case PartTypeReasoning:
		p = &ReasoningPart{}
	case PartTypeTool:
		p = &ToolPart{}
	case PartTypeFile:
		p = &FilePart{}
	case PartTypeAgent:
		p = &AgentPart{}
	case PartTypeStepStart:
		p = &StepStartPart{}
	case PartTypeStepFinish:
		p = &StepFinishPart{}
	case PartTypePatch:
		p = &PatchPart{}
	default:
		return &UnknownPart{PartBase: probe, Raw: append(json.RawMessage(nil), data...)}, nil
	}

	if err := json.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("failed to decode %s part: %w", probe.Type, err)
	}
	return p, nil
}

// AppendField appends delta to the named string field of the part,
// initializing the field when it was absent. It reports whether the part
// has such a field.
func AppendField(p Part, field, delta string) bool {
	switch v := p.(type) {
	case *TextPart:
		if field == "text" {
			v.Text += delta
			return true
		}
	case *ReasoningPart:
		if field == "text" {
			v.Text += delta
			return true
		}
	case *ToolPart:
		switch field {
		case "output":
			v.State.Output += delta
			return true
		case "title":
			v.State.Title += delta
			return true
		case "error":
			v.State.Error += delta
			return true
		}
	}
	return false
}
