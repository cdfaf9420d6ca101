package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEventSessionUpdated(t *testing.T) {
	data := []byte(`{"type":"session.updated","properties":{"info":{"id":"ses_1","title":"demo","time":{"created":100,"updated":200}}}}`)

	ev, err := DecodeEvent(data)
	require.NoError(t, err)

	updated, ok := ev.(*SessionUpdatedEvent)
	require.True(t, ok, "expected SessionUpdatedEvent, got %T", ev)
	assert.Equal(t, "ses_1", updated.Session.ID)
	assert.Equal(t, "demo", updated.Session.Title)
	assert.Equal(t, int64(200), updated.Session.Time.Updated)
}

func TestDecodeEventPartUpdatedUnwrapsPart(t *testing.T) {
	data := []byte(`{"type":"message.part.updated","properties":{"part":{"id":"prt_1","messageID":"msg_1","sessionID":"ses_1","type":"text","text":"hello"}}}`)

	ev, err := DecodeEvent(data)
	require.NoError(t, err)

	updated, ok := ev.(*PartUpdatedEvent)
	require.True(t, ok, "expected PartUpdatedEvent, got %T", ev)
	text, ok := updated.Part.(*TextPart)
	require.True(t, ok, "expected TextPart, got %T", updated.Part)
	assert.Equal(t, "hello", text.Text)
	assert.Equal(t, "msg_1", text.MessageID)
}

func TestDecodeEventPartUpdatedMissingPayload(t *testing.T) {
	_, err := DecodeEvent([]byte(`{"type":"message.part.updated","properties":{}}`))
	require.Error(t, err)
}

func TestDecodeEventPermissionAsked(t *testing.T) {
	data := []byte(`{"type":"permission.asked","properties":{"id":"per_1","sessionID":"ses_1","type":"bash","pattern":"rm -rf /tmp/x","time":{"created":5}}}`)

	ev, err := DecodeEvent(data)
	require.NoError(t, err)

	asked, ok := ev.(*PermissionAskedEvent)
	require.True(t, ok, "expected PermissionAskedEvent, got %T", ev)
	assert.Equal(t, "per_1", asked.Permission.ID)
	assert.Equal(t, "rm -rf /tmp/x", asked.Permission.Pattern)
}

func TestDecodeEventQuestionAsked(t *testing.T) {
	data := []byte(`{"type":"question.asked","properties":{"id":"que_1","sessionID":"ses_1","questions":[{"question":"pick one","options":[{"label":"a"},{"label":"b"}]}]}}`)

	ev, err := DecodeEvent(data)
	require.NoError(t, err)

	asked, ok := ev.(*QuestionAskedEvent)
	require.True(t, ok, "expected QuestionAskedEvent, got %T", ev)
	require.Len(t, asked.Question.Questions, 1)
	assert.Equal(t, "pick one", asked.Question.Questions[0].Question)
	assert.Len(t, asked.Question.Questions[0].Options, 2)
}

func TestDecodeEventUnknownTypePreserved(t *testing.T) {
	data := []byte(`{"type":"ide.installed","properties":{"name":"vscode"}}`)

	ev, err := DecodeEvent(data)
	require.NoError(t, err)

	unknown, ok := ev.(*UnknownEvent)
	require.True(t, ok, "expected UnknownEvent, got %T", ev)
	assert.Equal(t, EventType("ide.installed"), unknown.Type)
	assert.JSONEq(t, `{"name":"vscode"}`, string(unknown.Properties))
}

func TestDecodeEventMissingProperties(t *testing.T) {
	ev, err := DecodeEvent([]byte(`{"type":"server.instance.disposed"}`))
	require.NoError(t, err)
	_, ok := ev.(*InstanceDisposedEvent)
	assert.True(t, ok, "expected InstanceDisposedEvent, got %T", ev)
}

func TestDecodeEventBadJSON(t *testing.T) {
	_, err := DecodeEvent([]byte(`{`))
	require.Error(t, err)
}

func TestDecodeEventSessionStatusCompacting(t *testing.T) {
	ev, err := DecodeEvent([]byte(`{"type":"session.status","properties":{"sessionID":"ses_1","compacting":true}}`))
	require.NoError(t, err)

	status, ok := ev.(*SessionStatusEvent)
	require.True(t, ok, "expected SessionStatusEvent, got %T", ev)
	require.NotNil(t, status.Compacting)
	assert.True(t, *status.Compacting)
}
