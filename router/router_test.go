package router

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Shakudo-io/kaji-opencode-relay/client"
	"github.com/Shakudo-io/kaji-opencode-relay/policy"
	"github.com/Shakudo-io/kaji-opencode-relay/protocol"
	"github.com/Shakudo-io/kaji-opencode-relay/store"
)

// recordingService captures what the router sends back to the remote.
type recordingService struct {
	mu          sync.Mutex
	prompts     []client.PromptRequest
	promptErr   error
	permissions chan permissionReply
	answers     chan questionReply
}

type permissionReply struct {
	sessionID    string
	permissionID string
	reply        protocol.PermissionReply
}

type questionReply struct {
	sessionID  string
	questionID string
	answers    [][]string
	rejected   bool
}

func newRecordingService() *recordingService {
	return &recordingService{
		permissions: make(chan permissionReply, 16),
		answers:     make(chan questionReply, 16),
	}
}

func (s *recordingService) Prompt(ctx context.Context, req client.PromptRequest) (*protocol.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.promptErr != nil {
		return nil, s.promptErr
	}
	s.prompts = append(s.prompts, req)
	return &protocol.Message{ID: req.MessageID, SessionID: req.SessionID, Role: protocol.RoleUser}, nil
}

func (s *recordingService) RespondPermission(ctx context.Context, sessionID, permissionID string, reply protocol.PermissionReply) error {
	s.permissions <- permissionReply{sessionID, permissionID, reply}
	return nil
}

func (s *recordingService) AnswerQuestion(ctx context.Context, sessionID, questionID string, answers [][]string) error {
	s.answers <- questionReply{sessionID: sessionID, questionID: questionID, answers: answers}
	return nil
}

func (s *recordingService) RejectQuestion(ctx context.Context, sessionID, questionID string) error {
	s.answers <- questionReply{sessionID: sessionID, questionID: questionID, rejected: true}
	return nil
}

// stubConsumer records deliveries and answers round-trips from scripted
// fields.
type stubConsumer struct {
	id      string
	channel string

	mu       sync.Mutex
	observed []string
	statuses []store.Activity
	toasts   []string
	inbound  []Origin
	files    []string
	errors   []string

	decision    PermissionDecision
	decisionErr error
	block       bool
	panics      bool
	answers     [][]string
	askedPerms  chan string
	delivered   chan string
}

func newStubConsumer(id string) *stubConsumer {
	return &stubConsumer{
		id:         id,
		channel:    "chat",
		decision:   PermissionDecision{Reply: protocol.PermissionOnce},
		askedPerms: make(chan string, 16),
		delivered:  make(chan string, 64),
	}
}

func (c *stubConsumer) Info() ConsumerInfo {
	return ConsumerInfo{ID: c.id, Channel: c.channel}
}

func (c *stubConsumer) MessageObserved(ctx context.Context, sessionID string, msg *protocol.Message, parts []protocol.Part) error {
	c.mu.Lock()
	c.observed = append(c.observed, msg.ID)
	c.mu.Unlock()
	c.delivered <- "observed:" + msg.ID
	return nil
}

func (c *stubConsumer) MessageCompleted(ctx context.Context, sessionID string, msg *protocol.Message, parts []protocol.Part) error {
	c.delivered <- "completed:" + msg.ID
	return nil
}

func (c *stubConsumer) StatusChanged(ctx context.Context, sessionID string, activity store.Activity) error {
	c.mu.Lock()
	c.statuses = append(c.statuses, activity)
	c.mu.Unlock()
	c.delivered <- "status:" + string(activity)
	return nil
}

func (c *stubConsumer) TodoChanged(ctx context.Context, sessionID string, todos []protocol.TodoItem) error {
	c.delivered <- "todos"
	return nil
}

func (c *stubConsumer) SessionError(ctx context.Context, sessionID, message string) error {
	c.mu.Lock()
	c.errors = append(c.errors, message)
	c.mu.Unlock()
	c.delivered <- "error:" + message
	return nil
}

func (c *stubConsumer) Toast(ctx context.Context, sessionID, title, message, level string) error {
	c.mu.Lock()
	c.toasts = append(c.toasts, message)
	c.mu.Unlock()
	c.delivered <- "toast:" + message
	return nil
}

func (c *stubConsumer) PermissionRequested(ctx context.Context, perm *protocol.Permission) (PermissionDecision, error) {
	c.askedPerms <- perm.ID
	if c.panics {
		panic("consumer exploded")
	}
	if c.block {
		<-ctx.Done()
		return PermissionDecision{}, ctx.Err()
	}
	return c.decision, c.decisionErr
}

func (c *stubConsumer) QuestionRequested(ctx context.Context, q *protocol.Question) ([][]string, error) {
	if c.panics {
		panic("consumer exploded")
	}
	if c.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return c.answers, nil
}

func (c *stubConsumer) InboundMessage(ctx context.Context, sessionID string, msg *protocol.Message, origin Origin) error {
	c.mu.Lock()
	c.inbound = append(c.inbound, origin)
	c.mu.Unlock()
	c.delivered <- "inbound:" + msg.ID
	return nil
}

func (c *stubConsumer) FileReceived(ctx context.Context, sessionID string, file *protocol.FilePart) error {
	c.mu.Lock()
	c.files = append(c.files, file.Filename)
	c.mu.Unlock()
	c.delivered <- "file:" + file.Filename
	return nil
}

func (c *stubConsumer) wait(t *testing.T, want string) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case got := <-c.delivered:
			if got == want {
				return
			}
		case <-deadline:
			t.Fatalf("consumer %s never received %q", c.id, want)
		}
	}
}

func newTestRouter(t *testing.T, opts Options) (*Router, *store.Store) {
	t.Helper()
	if opts.Store == nil {
		opts.Store = store.New(store.Options{})
	}
	if opts.Service == nil {
		opts.Service = newRecordingService()
	}
	if opts.RoundTripTimeout == 0 {
		opts.RoundTripTimeout = 200 * time.Millisecond
	}
	r, err := New(opts)
	require.NoError(t, err)
	require.NoError(t, r.Initialize(context.Background()))
	t.Cleanup(func() { r.Shutdown(context.Background()) })
	return r, opts.Store
}

func permissionEvent(sessionID, id string) protocol.Event {
	return &protocol.PermissionAskedEvent{Permission: protocol.Permission{
		ID: id, SessionID: sessionID, Type: "bash", Pattern: "ls",
	}}
}

func questionEvent(sessionID, id string, prompts int) protocol.Event {
	q := protocol.Question{ID: id, SessionID: sessionID}
	for i := 0; i < prompts; i++ {
		q.Questions = append(q.Questions, protocol.QuestionInfo{Question: fmt.Sprintf("q%d", i)})
	}
	return &protocol.QuestionAskedEvent{Question: q}
}

func TestResolvePrefersClaimThenDefaultThenSole(t *testing.T) {
	svc := newRecordingService()
	r, _ := newTestRouter(t, Options{Service: svc, DefaultConsumer: "b"})

	a := newStubConsumer("a")
	b := newStubConsumer("b")
	r.Register(a)
	r.Register(b)

	assert.Equal(t, "b", r.resolve("ses_1").Info().ID, "default wins without a claim")

	r.Claim("ses_1", "a")
	assert.Equal(t, "a", r.resolve("ses_1").Info().ID)

	r.Release("ses_1")
	assert.Equal(t, "b", r.resolve("ses_1").Info().ID)
}

func TestResolveSoleRegistrant(t *testing.T) {
	r, _ := newTestRouter(t, Options{})
	a := newStubConsumer("a")
	r.Register(a)

	assert.Equal(t, "a", r.resolve("ses_any").Info().ID)

	r.Register(newStubConsumer("b"))
	assert.Nil(t, r.resolve("ses_any"), "two registrants and no default leaves no owner")
}

func TestUnregisterReleasesClaims(t *testing.T) {
	r, _ := newTestRouter(t, Options{})
	a := newStubConsumer("a")
	b := newStubConsumer("b")
	r.Register(a)
	r.Register(b)
	r.Claim("ses_1", "a")

	r.Unregister("a")
	assert.Nil(t, r.resolve("ses_1"))
}

func TestNotificationsForwardedToOwner(t *testing.T) {
	r, st := newTestRouter(t, Options{})
	a := newStubConsumer("a")
	r.Register(a)

	st.Apply([]protocol.Event{
		&protocol.SessionUpdatedEvent{Session: protocol.Session{ID: "ses_1"}},
		&protocol.MessageUpdatedEvent{Message: protocol.Message{
			ID: "msg_1", SessionID: "ses_1", Role: protocol.RoleAssistant,
			Time: protocol.MessageTime{Created: 1, Completed: 2},
		}},
	})

	a.wait(t, "observed:msg_1")
	a.wait(t, "completed:msg_1")
	_ = r
}

func TestPermissionRoundTripConsumerApproves(t *testing.T) {
	svc := newRecordingService()
	r, st := newTestRouter(t, Options{Service: svc})
	a := newStubConsumer("a")
	a.decision = PermissionDecision{Reply: protocol.PermissionAlways}
	r.Register(a)

	st.Apply([]protocol.Event{permissionEvent("ses_1", "per_1")})

	select {
	case got := <-svc.permissions:
		assert.Equal(t, "per_1", got.permissionID)
		assert.Equal(t, protocol.PermissionAlways, got.reply)
	case <-time.After(2 * time.Second):
		t.Fatal("no permission reply reached the service")
	}
}

func TestPermissionNoConsumerRejectsImmediately(t *testing.T) {
	svc := newRecordingService()
	_, st := newTestRouter(t, Options{Service: svc})

	st.Apply([]protocol.Event{permissionEvent("ses_1", "per_1")})

	select {
	case got := <-svc.permissions:
		assert.Equal(t, protocol.PermissionReject, got.reply)
	case <-time.After(2 * time.Second):
		t.Fatal("no permission reply reached the service")
	}
}

func TestPermissionTimeoutRejects(t *testing.T) {
	svc := newRecordingService()
	r, st := newTestRouter(t, Options{Service: svc, RoundTripTimeout: 50 * time.Millisecond})
	a := newStubConsumer("a")
	a.block = true
	r.Register(a)

	st.Apply([]protocol.Event{permissionEvent("ses_1", "per_1")})

	select {
	case got := <-svc.permissions:
		assert.Equal(t, protocol.PermissionReject, got.reply)
	case <-time.After(2 * time.Second):
		t.Fatal("no permission reply reached the service")
	}
}

func TestPermissionPanicRejects(t *testing.T) {
	svc := newRecordingService()
	r, st := newTestRouter(t, Options{Service: svc})
	a := newStubConsumer("a")
	a.panics = true
	r.Register(a)

	st.Apply([]protocol.Event{permissionEvent("ses_1", "per_1")})

	select {
	case got := <-svc.permissions:
		assert.Equal(t, protocol.PermissionReject, got.reply)
	case <-time.After(2 * time.Second):
		t.Fatal("no permission reply reached the service")
	}
}

func TestPermissionInvalidReplyRejects(t *testing.T) {
	svc := newRecordingService()
	r, st := newTestRouter(t, Options{Service: svc})
	a := newStubConsumer("a")
	a.decision = PermissionDecision{Reply: "maybe"}
	r.Register(a)

	st.Apply([]protocol.Event{permissionEvent("ses_1", "per_1")})

	select {
	case got := <-svc.permissions:
		assert.Equal(t, protocol.PermissionReject, got.reply)
	case <-time.After(2 * time.Second):
		t.Fatal("no permission reply reached the service")
	}
}

func TestPolicyAllowSkipsConsumer(t *testing.T) {
	engine, err := policy.NewEngine(context.Background(), `
package relay.permission

default decision = "ask"

decision = "allow" {
	input.type == "read"
}
`)
	require.NoError(t, err)

	svc := newRecordingService()
	r, st := newTestRouter(t, Options{Service: svc, Policy: engine})
	a := newStubConsumer("a")
	r.Register(a)

	st.Apply([]protocol.Event{&protocol.PermissionAskedEvent{Permission: protocol.Permission{
		ID: "per_1", SessionID: "ses_1", Type: "read",
	}}})

	select {
	case got := <-svc.permissions:
		assert.Equal(t, protocol.PermissionOnce, got.reply)
	case <-time.After(2 * time.Second):
		t.Fatal("no permission reply reached the service")
	}
	select {
	case id := <-a.askedPerms:
		t.Fatalf("consumer was consulted for %s despite policy allow", id)
	default:
	}
}

func TestPolicyRejectSkipsConsumer(t *testing.T) {
	engine, err := policy.NewEngine(context.Background(), policy.DefaultPolicy)
	require.NoError(t, err)

	svc := newRecordingService()
	r, st := newTestRouter(t, Options{Service: svc, Policy: engine})
	a := newStubConsumer("a")
	r.Register(a)

	st.Apply([]protocol.Event{&protocol.PermissionAskedEvent{Permission: protocol.Permission{
		ID: "per_1", SessionID: "ses_1", Type: "bash", Pattern: "rm -rf / --no-preserve-root",
	}}})

	select {
	case got := <-svc.permissions:
		assert.Equal(t, protocol.PermissionReject, got.reply)
	case <-time.After(2 * time.Second):
		t.Fatal("no permission reply reached the service")
	}
	select {
	case id := <-a.askedPerms:
		t.Fatalf("consumer was consulted for %s despite policy reject", id)
	default:
	}
}

func TestQuestionAnswered(t *testing.T) {
	svc := newRecordingService()
	r, st := newTestRouter(t, Options{Service: svc})
	a := newStubConsumer("a")
	a.answers = [][]string{{"option a"}, {"x", "y"}}
	r.Register(a)

	st.Apply([]protocol.Event{questionEvent("ses_1", "que_1", 2)})

	select {
	case got := <-svc.answers:
		assert.False(t, got.rejected)
		assert.Equal(t, [][]string{{"option a"}, {"x", "y"}}, got.answers)
	case <-time.After(2 * time.Second):
		t.Fatal("no question resolution reached the service")
	}
}

func TestQuestionNilAnswersRejects(t *testing.T) {
	svc := newRecordingService()
	r, st := newTestRouter(t, Options{Service: svc})
	a := newStubConsumer("a")
	a.answers = nil
	r.Register(a)

	st.Apply([]protocol.Event{questionEvent("ses_1", "que_1", 1)})

	select {
	case got := <-svc.answers:
		assert.True(t, got.rejected)
	case <-time.After(2 * time.Second):
		t.Fatal("no question resolution reached the service")
	}
}

func TestQuestionAnswerCountMismatchRejects(t *testing.T) {
	svc := newRecordingService()
	r, st := newTestRouter(t, Options{Service: svc})
	a := newStubConsumer("a")
	a.answers = [][]string{{"only one"}}
	r.Register(a)

	st.Apply([]protocol.Event{questionEvent("ses_1", "que_1", 2)})

	select {
	case got := <-svc.answers:
		assert.True(t, got.rejected)
	case <-time.After(2 * time.Second):
		t.Fatal("no question resolution reached the service")
	}
}

func TestQuestionPanicRejects(t *testing.T) {
	svc := newRecordingService()
	r, st := newTestRouter(t, Options{Service: svc})
	a := newStubConsumer("a")
	a.panics = true
	r.Register(a)

	st.Apply([]protocol.Event{questionEvent("ses_1", "que_1", 1)})

	select {
	case got := <-svc.answers:
		assert.True(t, got.rejected)
	case <-time.After(2 * time.Second):
		t.Fatal("no question resolution reached the service")
	}
}

func TestToastFansOutToAllConsumers(t *testing.T) {
	r, st := newTestRouter(t, Options{DefaultConsumer: "a"})
	a := newStubConsumer("a")
	b := newStubConsumer("b")
	r.Register(a)
	r.Register(b)

	st.Apply([]protocol.Event{&protocol.NotificationEvent{Message: "deploy finished"}})

	a.wait(t, "toast:deploy finished")
	b.wait(t, "toast:deploy finished")
}

func TestSessionErrorForwarded(t *testing.T) {
	r, st := newTestRouter(t, Options{})
	a := newStubConsumer("a")
	r.Register(a)

	st.Apply([]protocol.Event{&protocol.SessionErrorEvent{
		SessionID: "ses_1",
		Error:     []byte(`{"message":"model overloaded"}`),
	}})

	a.wait(t, "error:model overloaded")
	_ = r
}

func TestSendPromptSuppressesEchoToSender(t *testing.T) {
	svc := newRecordingService()
	r, st := newTestRouter(t, Options{Service: svc})
	a := newStubConsumer("a")
	r.Register(a)

	msg, err := r.SendPrompt(context.Background(), "a", client.PromptRequest{
		SessionID: "ses_1", MessageID: "msg_1", Text: "do it",
	})
	require.NoError(t, err)

	// The prompt comes back as an inbound message event; the sole
	// registrant "a" is also the sender, so nothing is delivered.
	st.Apply([]protocol.Event{&protocol.MessageUpdatedEvent{Message: protocol.Message{
		ID: msg.ID, SessionID: "ses_1", Role: protocol.RoleUser,
	}}})

	a.wait(t, "status:working")
	a.mu.Lock()
	defer a.mu.Unlock()
	assert.Empty(t, a.inbound, "sender must not see its own prompt echoed")
}

func TestSendPromptDeliversToOtherConsumer(t *testing.T) {
	svc := newRecordingService()
	r, st := newTestRouter(t, Options{Service: svc})
	a := newStubConsumer("a")
	b := newStubConsumer("b")
	b.channel = "webhook"
	r.Register(a)
	r.Register(b)
	r.Claim("ses_1", "b")

	msg, err := r.SendPrompt(context.Background(), "a", client.PromptRequest{
		SessionID: "ses_1", MessageID: "msg_1", Text: "from a",
	})
	require.NoError(t, err)

	st.Apply([]protocol.Event{&protocol.MessageUpdatedEvent{Message: protocol.Message{
		ID: msg.ID, SessionID: "ses_1", Role: protocol.RoleUser,
	}}})

	b.wait(t, "inbound:msg_1")
	b.mu.Lock()
	defer b.mu.Unlock()
	require.Len(t, b.inbound, 1)
	assert.Equal(t, "a", b.inbound[0].ConsumerID)
	assert.Equal(t, "chat", b.inbound[0].Channel)
	a.mu.Lock()
	defer a.mu.Unlock()
	assert.Empty(t, a.inbound)
}

func TestInboundWithoutQueuedOriginIsLocal(t *testing.T) {
	r, st := newTestRouter(t, Options{})
	a := newStubConsumer("a")
	r.Register(a)

	st.Apply([]protocol.Event{&protocol.MessageUpdatedEvent{Message: protocol.Message{
		ID: "msg_1", SessionID: "ses_1", Role: protocol.RoleUser,
	}}})

	a.wait(t, "inbound:msg_1")
	a.mu.Lock()
	defer a.mu.Unlock()
	require.Len(t, a.inbound, 1)
	assert.Equal(t, LocalOrigin, a.inbound[0])
	_ = r
}

func TestInboundFilePartsReachFileHandler(t *testing.T) {
	r, st := newTestRouter(t, Options{})
	a := newStubConsumer("a")
	r.Register(a)

	st.Apply([]protocol.Event{
		&protocol.SessionUpdatedEvent{Session: protocol.Session{ID: "ses_1"}},
		&protocol.MessageUpdatedEvent{Message: protocol.Message{
			ID: "msg_1", SessionID: "ses_1", Role: protocol.RoleUser,
		}},
		&protocol.PartUpdatedEvent{Part: &protocol.FilePart{
			PartBase: protocol.PartBase{ID: "prt_1", MessageID: "msg_1", SessionID: "ses_1", Type: protocol.PartTypeFile},
			Mime:     "image/png",
			Filename: "shot.png",
			URL:      "file:///tmp/shot.png",
		}},
	})

	a.wait(t, "inbound:msg_1")
	a.wait(t, "file:shot.png")
	a.mu.Lock()
	defer a.mu.Unlock()
	assert.Equal(t, []string{"shot.png"}, a.files)
	_ = r
}

func TestSendPromptRequiresSession(t *testing.T) {
	r, _ := newTestRouter(t, Options{})
	_, err := r.SendPrompt(context.Background(), "a", client.PromptRequest{Text: "no session"})
	require.Error(t, err)
}

func TestSendPromptFailureUnwindsOrigin(t *testing.T) {
	svc := newRecordingService()
	svc.promptErr = fmt.Errorf("remote down")
	r, st := newTestRouter(t, Options{Service: svc})
	a := newStubConsumer("a")
	r.Register(a)

	_, err := r.SendPrompt(context.Background(), "a", client.PromptRequest{
		SessionID: "ses_1", MessageID: "msg_1", Text: "doomed",
	})
	require.Error(t, err)

	// A later local message must not be misattributed to the failed
	// prompt's origin.
	st.Apply([]protocol.Event{&protocol.MessageUpdatedEvent{Message: protocol.Message{
		ID: "msg_2", SessionID: "ses_1", Role: protocol.RoleUser,
	}}})

	a.wait(t, "inbound:msg_2")
	a.mu.Lock()
	defer a.mu.Unlock()
	require.Len(t, a.inbound, 1)
	assert.Equal(t, LocalOrigin, a.inbound[0])
}

// faultyConsumer panics on every forward to prove containment.
type faultyConsumer struct {
	*stubConsumer
}

func (c *faultyConsumer) Toast(ctx context.Context, sessionID, title, message, level string) error {
	panic("toast handler exploded")
}

func TestConsumerPanicIsContained(t *testing.T) {
	r, st := newTestRouter(t, Options{DefaultConsumer: "good"})
	good := newStubConsumer("good")
	bad := &faultyConsumer{stubConsumer: newStubConsumer("bad")}
	r.Register(good)
	r.Register(bad)

	st.Apply([]protocol.Event{&protocol.NotificationEvent{Message: "still here"}})

	good.wait(t, "toast:still here")
}
