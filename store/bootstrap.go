package store

import (
	"context"
	"fmt"

	"github.com/Shakudo-io/kaji-opencode-relay/client"
	"github.com/Shakudo-io/kaji-opencode-relay/internal/sortedset"
	"github.com/Shakudo-io/kaji-opencode-relay/protocol"
)

// Fetcher is the bulk-fetch surface the store needs for bootstrap and
// full-session sync. *client.Client's remote service satisfies it.
type Fetcher interface {
	GetSession(ctx context.Context, sessionID string) (*protocol.Session, error)
	ListSessions(ctx context.Context) ([]protocol.Session, error)
	ListProviders(ctx context.Context) ([]protocol.Provider, error)
	ListAgents(ctx context.Context) ([]protocol.Agent, error)
	GetConfig(ctx context.Context) (protocol.Config, error)
	ListCommands(ctx context.Context) ([]protocol.Command, error)
	ListMessages(ctx context.Context, sessionID string) ([]client.MessageWithParts, error)
	ListTodos(ctx context.Context, sessionID string) ([]protocol.TodoItem, error)
	GetDiff(ctx context.Context, sessionID string) (*protocol.SessionDiff, error)
	SessionStatuses(ctx context.Context) (map[string]protocol.SessionStatus, error)
	LSPStatus(ctx context.Context) (protocol.ServerStatus, error)
	MCPStatus(ctx context.Context) (protocol.ServerStatus, error)
	FormatterStatus(ctx context.Context) (protocol.ServerStatus, error)
	VCSInfo(ctx context.Context) (*protocol.VCSInfo, error)
	GetPath(ctx context.Context) (*protocol.PathInfo, error)
	AuthStatus(ctx context.Context) (protocol.AuthInfo, error)
}

// Bootstrap loads the initial state: sessions, providers, agents and
// configuration as the blocking step (status loading → partial), then the
// auxiliary tables in the background (→ complete). A failure surfaces as
// an error toast and leaves the store usable at its last-known status;
// Bootstrap may be invoked again.
func (s *Store) Bootstrap(ctx context.Context) error {
	if s.fetcher == nil {
		return fmt.Errorf("store: no fetcher configured")
	}

	sessions, err := s.fetcher.ListSessions(ctx)
	if err != nil {
		return s.bootstrapFailed(fmt.Errorf("failed to fetch sessions: %w", err))
	}
	providers, err := s.fetcher.ListProviders(ctx)
	if err != nil {
		return s.bootstrapFailed(fmt.Errorf("failed to fetch providers: %w", err))
	}
	agents, err := s.fetcher.ListAgents(ctx)
	if err != nil {
		return s.bootstrapFailed(fmt.Errorf("failed to fetch agents: %w", err))
	}
	config, err := s.fetcher.GetConfig(ctx)
	if err != nil {
		return s.bootstrapFailed(fmt.Errorf("failed to fetch config: %w", err))
	}

	var notes []Notification
	s.mu.Lock()
	for i := range sessions {
		s.applySessionUpdated(&sessions[i], &notes)
	}
	s.providers = providers
	s.agents = agents
	s.config = config
	s.status = StatusPartial
	s.mu.Unlock()
	s.emit(notes)

	go s.loadAuxiliary(context.WithoutCancel(ctx))
	return nil
}

func (s *Store) bootstrapFailed(err error) error {
	s.log.Warn("bootstrap failed", "error", err)
	s.emit([]Notification{&Toast{
		Title:   "Sync failed",
		Message: err.Error(),
		Level:   "error",
	}})
	return err
}

// loadAuxiliary fetches the non-critical tables. Individual failures are
// logged and skipped; the store still reaches complete with whatever
// loaded.
func (s *Store) loadAuxiliary(ctx context.Context) {
	commands, err := s.fetcher.ListCommands(ctx)
	if err != nil {
		s.log.Warn("failed to fetch commands", "error", err)
	}
	lsp, err := s.fetcher.LSPStatus(ctx)
	if err != nil {
		s.log.Warn("failed to fetch lsp status", "error", err)
	}
	mcp, err := s.fetcher.MCPStatus(ctx)
	if err != nil {
		s.log.Warn("failed to fetch mcp status", "error", err)
	}
	formatter, err := s.fetcher.FormatterStatus(ctx)
	if err != nil {
		s.log.Warn("failed to fetch formatter status", "error", err)
	}
	vcs, err := s.fetcher.VCSInfo(ctx)
	if err != nil {
		s.log.Warn("failed to fetch vcs info", "error", err)
	}
	auth, err := s.fetcher.AuthStatus(ctx)
	if err != nil {
		s.log.Warn("failed to fetch auth status", "error", err)
	}
	path, err := s.fetcher.GetPath(ctx)
	if err != nil {
		s.log.Warn("failed to fetch path info", "error", err)
	}
	statuses, err := s.fetcher.SessionStatuses(ctx)
	if err != nil {
		s.log.Warn("failed to fetch session statuses", "error", err)
	}

	var notes []Notification
	s.mu.Lock()
	if commands != nil {
		s.commands = commands
	}
	s.lsp = lsp
	s.mcp = mcp
	s.formatter = formatter
	s.vcs = vcs
	s.auth = auth
	s.path = path
	for id, raw := range statuses {
		st := s.ensureSession(id)
		st.rawStatus = raw
		s.refreshActivity(st, &notes)
	}
	s.status = StatusComplete
	s.mu.Unlock()
	s.emit(notes)
}

// SyncSession replaces one session's state wholesale from the remote:
// session object, full message history with parts, todos and diff. The
// running aggregate is recomputed from the complete history, and the
// session is marked synced so callers can skip redundant refetches.
func (s *Store) SyncSession(ctx context.Context, sessionID string) error {
	if s.fetcher == nil {
		return fmt.Errorf("store: no fetcher configured")
	}

	session, err := s.fetcher.GetSession(ctx, sessionID)
	if err != nil {
		return s.syncFailed(sessionID, fmt.Errorf("failed to fetch session: %w", err))
	}
	history, err := s.fetcher.ListMessages(ctx, sessionID)
	if err != nil {
		return s.syncFailed(sessionID, fmt.Errorf("failed to fetch messages: %w", err))
	}
	todos, err := s.fetcher.ListTodos(ctx, sessionID)
	if err != nil {
		return s.syncFailed(sessionID, fmt.Errorf("failed to fetch todos: %w", err))
	}
	diff, err := s.fetcher.GetDiff(ctx, sessionID)
	if err != nil {
		return s.syncFailed(sessionID, fmt.Errorf("failed to fetch diff: %w", err))
	}

	var notes []Notification
	s.mu.Lock()
	st := s.ensureSession(sessionID)
	st.session = protocol.CloneSession(session)
	st.messages.Clear()
	st.parts = map[string]*sortedset.Collection[protocol.Part]{}
	st.aggregate = Aggregate{}

	for i := range history {
		entry := &history[i]
		msg := protocol.CloneMessage(&entry.Message)
		if msg.Role == protocol.RoleAssistant {
			s.accumulate(st, nil, msg)
		}
		st.messages.Upsert(msg)
		for _, p := range entry.Parts {
			st.partsOf(msg.ID).Upsert(protocol.ClonePart(p))
		}
	}
	for _, evicted := range st.messages.TrimFront(MessageCap) {
		delete(st.parts, evicted.ID)
	}

	st.todos = protocol.CloneTodos(todos)
	st.diff = diff
	st.synced = true
	s.refreshActivity(st, &notes)
	s.mu.Unlock()
	s.emit(notes)
	return nil
}

func (s *Store) syncFailed(sessionID string, err error) error {
	s.log.Warn("session sync failed", "session", sessionID, "error", err)
	s.emit([]Notification{&Toast{
		SessionID: sessionID,
		Title:     "Sync failed",
		Message:   err.Error(),
		Level:     "error",
	}})
	return err
}

// Synced reports whether the session has been fully synced since the last
// connection reset.
func (s *Store) Synced(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.sessions.Get(sessionID)
	return ok && st.synced
}

// Diff returns the session diff captured by the last full sync.
func (s *Store) Diff(sessionID string) *protocol.SessionDiff {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.sessions.Get(sessionID)
	if !ok || st.diff == nil {
		return nil
	}
	diff := *st.diff
	diff.Files = append([]protocol.FileDiff(nil), st.diff.Files...)
	return &diff
}
