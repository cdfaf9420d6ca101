// Package store turns the ordered event stream into a consistent,
// queryable in-memory view of session state with bounded per-session
// history.
package store

import (
	"log/slog"
	"maps"
	"sync"

	"github.com/Shakudo-io/kaji-opencode-relay/internal/sortedset"
	"github.com/Shakudo-io/kaji-opencode-relay/protocol"
)

// MessageCap is the maximum number of messages retained per session.
// Exceeding it evicts the oldest message together with its parts.
const MessageCap = 100

// Status is the bootstrap state of the store.
type Status string

const (
	StatusLoading  Status = "loading"
	StatusPartial  Status = "partial"
	StatusComplete Status = "complete"
)

// Activity is the derived three-state status of a session.
type Activity string

const (
	ActivityIdle       Activity = "idle"
	ActivityWorking    Activity = "working"
	ActivityCompacting Activity = "compacting"
)

// Aggregate is a session-scoped running total that never decreases while
// the session exists, even across message eviction.
type Aggregate struct {
	Cost   float64
	Tokens protocol.Tokens
}

// sessionState is everything the store tracks for one session.
type sessionState struct {
	session     *protocol.Session
	messages    *sortedset.Collection[*protocol.Message]
	parts       map[string]*sortedset.Collection[protocol.Part]
	permissions *sortedset.Collection[*protocol.Permission]
	questions   *sortedset.Collection[*protocol.Question]
	todos       []protocol.TodoItem
	diff        *protocol.SessionDiff
	rawStatus   map[string]any
	aggregate   Aggregate
	activity    Activity
	synced      bool
}

func newSessionState(session *protocol.Session) *sessionState {
	return &sessionState{
		session:     session,
		messages:    sortedset.New(func(m *protocol.Message) string { return m.ID }),
		parts:       map[string]*sortedset.Collection[protocol.Part]{},
		permissions: sortedset.New(func(p *protocol.Permission) string { return p.ID }),
		questions:   sortedset.New(func(q *protocol.Question) string { return q.ID }),
		activity:    ActivityIdle,
	}
}

func (st *sessionState) partsOf(messageID string) *sortedset.Collection[protocol.Part] {
	c, ok := st.parts[messageID]
	if !ok {
		c = sortedset.New(func(p protocol.Part) string { return p.Base().ID })
		st.parts[messageID] = c
	}
	return c
}

// derive computes the session's current activity from raw fields.
func (st *sessionState) derive() Activity {
	if st.session.Compacting {
		return ActivityCompacting
	}
	last, ok := st.messages.Back()
	if !ok {
		return ActivityIdle
	}
	if last.Role == protocol.RoleUser {
		return ActivityWorking
	}
	if last.Completed() {
		return ActivityIdle
	}
	return ActivityWorking
}

// Options configures a Store.
type Options struct {
	// Fetcher supplies bootstrap and full-sync data. Optional; without it
	// Bootstrap and SyncSession fail and instance-disposed events only
	// reset local state.
	Fetcher Fetcher
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Store is the synchronized state store. All mutation happens through
// Apply, Bootstrap and SyncSession; queries return deep copies.
type Store struct {
	fetcher Fetcher
	log     *slog.Logger

	mu       sync.Mutex
	status   Status
	sessions *sortedset.Collection[*sessionState]

	providers []protocol.Provider
	agents    []protocol.Agent
	config    protocol.Config
	commands  []protocol.Command
	lsp       protocol.ServerStatus
	mcp       protocol.ServerStatus
	formatter protocol.ServerStatus
	vcs       *protocol.VCSInfo
	path      *protocol.PathInfo
	auth      protocol.AuthInfo

	nextSubID int
	subs      map[int]func(Notification)
	subOrder  []int
}

// New creates an empty store in the loading state.
func New(opts Options) *Store {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		fetcher: opts.Fetcher,
		log:     logger,
		status:  StatusLoading,
		sessions: sortedset.New(func(st *sessionState) string {
			return st.session.ID
		}),
		subs: map[int]func(Notification){},
	}
}

// ensureSession returns the state entry for id, creating a placeholder
// when events arrive for a session not yet upserted.
func (s *Store) ensureSession(id string) *sessionState {
	if st, ok := s.sessions.Get(id); ok {
		return st
	}
	st := newSessionState(&protocol.Session{ID: id})
	s.sessions.Upsert(st)
	return st
}

// Status returns the bootstrap state.
func (s *Store) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Session returns a copy of the session, if known.
func (s *Store) Session(id string) (*protocol.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.sessions.Get(id)
	if !ok {
		return nil, false
	}
	return protocol.CloneSession(st.session), true
}

// Sessions returns copies of all known sessions in identifier order.
func (s *Store) Sessions() []*protocol.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*protocol.Session, 0, s.sessions.Len())
	for _, st := range s.sessions.Values() {
		out = append(out, protocol.CloneSession(st.session))
	}
	return out
}

// Messages returns copies of the session's retained messages in
// identifier order.
func (s *Store) Messages(sessionID string) []*protocol.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.sessions.Get(sessionID)
	if !ok {
		return nil
	}
	out := make([]*protocol.Message, 0, st.messages.Len())
	for _, m := range st.messages.Values() {
		out = append(out, protocol.CloneMessage(m))
	}
	return out
}

// Parts returns copies of a message's parts in identifier order.
func (s *Store) Parts(sessionID, messageID string) []protocol.Part {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.sessions.Get(sessionID)
	if !ok {
		return nil
	}
	coll, ok := st.parts[messageID]
	if !ok {
		return nil
	}
	out := make([]protocol.Part, 0, coll.Len())
	for _, p := range coll.Values() {
		out = append(out, protocol.ClonePart(p))
	}
	return out
}

// Permissions returns copies of the session's pending permission requests.
func (s *Store) Permissions(sessionID string) []*protocol.Permission {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.sessions.Get(sessionID)
	if !ok {
		return nil
	}
	out := make([]*protocol.Permission, 0, st.permissions.Len())
	for _, p := range st.permissions.Values() {
		out = append(out, protocol.ClonePermission(p))
	}
	return out
}

// Questions returns copies of the session's pending question requests.
func (s *Store) Questions(sessionID string) []*protocol.Question {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.sessions.Get(sessionID)
	if !ok {
		return nil
	}
	out := make([]*protocol.Question, 0, st.questions.Len())
	for _, q := range st.questions.Values() {
		out = append(out, protocol.CloneQuestion(q))
	}
	return out
}

// Todos returns a copy of the session's todo list.
func (s *Store) Todos(sessionID string) []protocol.TodoItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.sessions.Get(sessionID)
	if !ok {
		return nil
	}
	return protocol.CloneTodos(st.todos)
}

// Aggregate returns the session's running cost/token totals.
func (s *Store) Aggregate(sessionID string) Aggregate {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.sessions.Get(sessionID)
	if !ok {
		return Aggregate{}
	}
	return st.aggregate
}

// Activity returns the derived status of a session. Unknown sessions are
// idle.
func (s *Store) Activity(sessionID string) Activity {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.sessions.Get(sessionID)
	if !ok {
		return ActivityIdle
	}
	return st.derive()
}

// Providers returns the provider list fetched during bootstrap.
func (s *Store) Providers() []protocol.Provider {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.Provider(nil), s.providers...)
}

// Agents returns the agent list fetched during bootstrap.
func (s *Store) Agents() []protocol.Agent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.Agent(nil), s.agents...)
}

// Config returns the remote configuration fetched during bootstrap.
func (s *Store) Config() protocol.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.config)
}

// Commands returns the command list fetched during bootstrap.
func (s *Store) Commands() []protocol.Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.Command(nil), s.commands...)
}

// Servers reports the LSP, MCP and formatter server tables fetched
// during bootstrap.
func (s *Store) Servers() (lsp, mcp, formatter protocol.ServerStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.lsp), maps.Clone(s.mcp), maps.Clone(s.formatter)
}

// VCS returns version-control info for the remote workspace, if any.
func (s *Store) VCS() *protocol.VCSInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.vcs == nil {
		return nil
	}
	v := *s.vcs
	return &v
}

// Path returns the remote workspace path info, if fetched.
func (s *Store) Path() *protocol.PathInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.path == nil {
		return nil
	}
	p := *s.path
	return &p
}

// Auth returns provider auth info fetched during bootstrap.
func (s *Store) Auth() protocol.AuthInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.auth)
}

// SessionSnapshot is a deep copy of one session's state.
type SessionSnapshot struct {
	Session     *protocol.Session
	Messages    []*protocol.Message
	Parts       map[string][]protocol.Part
	Permissions []*protocol.Permission
	Questions   []*protocol.Question
	Todos       []protocol.TodoItem
	Aggregate   Aggregate
	Activity    Activity
}

// Snapshot deep-copies the whole session tree. The entity graph is
// tree-shaped, so a recursive copy needs no cycle handling.
func (s *Store) Snapshot() []*SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*SessionSnapshot, 0, s.sessions.Len())
	for _, st := range s.sessions.Values() {
		snap := &SessionSnapshot{
			Session:   protocol.CloneSession(st.session),
			Parts:     map[string][]protocol.Part{},
			Todos:     protocol.CloneTodos(st.todos),
			Aggregate: st.aggregate,
			Activity:  st.derive(),
		}
		for _, m := range st.messages.Values() {
			snap.Messages = append(snap.Messages, protocol.CloneMessage(m))
			if coll, ok := st.parts[m.ID]; ok {
				parts := make([]protocol.Part, 0, coll.Len())
				for _, p := range coll.Values() {
					parts = append(parts, protocol.ClonePart(p))
				}
				snap.Parts[m.ID] = parts
			}
		}
		for _, p := range st.permissions.Values() {
			snap.Permissions = append(snap.Permissions, protocol.ClonePermission(p))
		}
		for _, q := range st.questions.Values() {
			snap.Questions = append(snap.Questions, protocol.CloneQuestion(q))
		}
		out = append(out, snap)
	}
	return out
}
