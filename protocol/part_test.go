package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodePartVariants(t *testing.T) {
	cases := []struct {
		name string
		data string
		want any
	}{
		{"text", `{"id":"p1","type":"text","text":"hi"}`, &TextPart{}},
		{"reasoning", `{"id":"p2","type":"reasoning","text":"hmm"}`, &ReasoningPart{}},
		{"tool", `{"id":"p3","type":"tool","tool":"bash","state":{"status":"running"}}`, &ToolPart{}},
		{"file", `{"id":"p4","type":"file","mime":"image/png","url":"file:///x.png"}`, &FilePart{}},
		{"agent", `{"id":"p5","type":"agent","name":"explore"}`, &AgentPart{}},
		{"step-start", `{"id":"p6","type":"step-start"}`, &StepStartPart{}},
		{"step-finish", `{"id":"p7","type":"step-finish","cost":0.01,"reason":"tool-calls"}`, &StepFinishPart{}},
		{"patch", `{"id":"p8","type":"patch","hash":"abc","files":["a.go"]}`, &PatchPart{}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, err := DecodePart([]byte(tc.data))
			require.NoError(t, err)
			assert.IsType(t, tc.want, p)
			assert.Equal(t, tc.name, p.Base().Type)
		})
	}
}

func TestDecodePartUnknownTypeRetained(t *testing.T) {
	data := []byte(`{"id":"p9","messageID":"m1","sessionID":"s1","type":"snapshot","payload":{"x":1}}`)

	p, err := DecodePart(data)
	require.NoError(t, err)

	unknown, ok := p.(*UnknownPart)
	require.True(t, ok, "expected UnknownPart, got %T", p)
	assert.Equal(t, "p9", unknown.ID)
	assert.Equal(t, "snapshot", unknown.Type)
	assert.JSONEq(t, string(data), string(unknown.Raw))
}

func TestDecodePartToolState(t *testing.T) {
	data := []byte(`{"id":"p1","type":"tool","tool":"bash","callID":"call_1","state":{"status":"completed","input":{"command":"ls"},"output":"a.go\n","time":{"start":1,"end":2}}}`)

	p, err := DecodePart(data)
	require.NoError(t, err)

	tool := p.(*ToolPart)
	assert.Equal(t, "bash", tool.Tool)
	assert.Equal(t, ToolCompleted, tool.State.Status)
	assert.Equal(t, "a.go\n", tool.State.Output)
	assert.Equal(t, int64(2), tool.State.Time.End)
}

func TestAppendFieldText(t *testing.T) {
	p := &TextPart{Text: "hel"}
	require.True(t, AppendField(p, "text", "lo"))
	assert.Equal(t, "hello", p.Text)
}

func TestAppendFieldInitializesAbsent(t *testing.T) {
	p := &ToolPart{}
	require.True(t, AppendField(p, "output", "first chunk"))
	assert.Equal(t, "first chunk", p.State.Output)

	require.True(t, AppendField(p, "title", "ls"))
	require.True(t, AppendField(p, "error", "boom"))
	assert.Equal(t, "ls", p.State.Title)
	assert.Equal(t, "boom", p.State.Error)
}

func TestAppendFieldUnsupported(t *testing.T) {
	assert.False(t, AppendField(&TextPart{}, "output", "x"))
	assert.False(t, AppendField(&FilePart{}, "text", "x"))
	assert.False(t, AppendField(&ToolPart{}, "text", "x"))
}

func TestClonePartIsIndependent(t *testing.T) {
	orig := &ToolPart{
		PartBase: PartBase{ID: "p1", Type: PartTypeTool},
		State:    ToolState{Status: ToolRunning, Input: map[string]any{"command": "ls"}},
	}
	cloned := ClonePart(orig).(*ToolPart)
	cloned.State.Input["command"] = "rm"
	cloned.State.Output = "changed"

	assert.Equal(t, "ls", orig.State.Input["command"])
	assert.Empty(t, orig.State.Output)
}
