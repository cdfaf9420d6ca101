package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Shakudo-io/kaji-opencode-relay/protocol"
)

// Transport is the HTTP implementation of RemoteService and EventSource:
// JSON over REST for operations, a websocket for the event stream.
type Transport struct {
	baseURL    string
	directory  string
	httpClient *http.Client
	dialer     *websocket.Dialer
}

// NewTransport creates a transport for the given endpoint, e.g.
// "http://localhost:4096". The directory hint, when set, is forwarded on
// every request.
func NewTransport(endpoint, directory string, httpClient *http.Client) *Transport {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 2 * time.Minute}
	}
	return &Transport{
		baseURL:    strings.TrimSuffix(endpoint, "/"),
		directory:  directory,
		httpClient: httpClient,
		dialer:     websocket.DefaultDialer,
	}
}

func (t *Transport) url(path string) string {
	u := t.baseURL + path
	if t.directory != "" {
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		u += sep + "directory=" + url.QueryEscape(t.directory)
	}
	return u
}

func (t *Transport) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, t.url(path), reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("remote returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// Subscribe dials the remote event websocket and returns the live stream.
func (t *Transport) Subscribe(ctx context.Context) (Stream, error) {
	wsURL := t.url("/event")
	if strings.HasPrefix(wsURL, "https://") {
		wsURL = "wss://" + strings.TrimPrefix(wsURL, "https://")
	} else if strings.HasPrefix(wsURL, "http://") {
		wsURL = "ws://" + strings.TrimPrefix(wsURL, "http://")
	}

	conn, resp, err := t.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial event stream: status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial event stream: %w", err)
	}
	return &wsStream{conn: conn}, nil
}

type wsStream struct {
	conn *websocket.Conn
}

func (s *wsStream) Next() (protocol.Event, error) {
	_, data, err := s.conn.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return nil, io.EOF
		}
		return nil, err
	}
	return protocol.DecodeEvent(data)
}

func (s *wsStream) Close() error {
	return s.conn.Close()
}

func (t *Transport) CreateSession(ctx context.Context, req CreateSessionRequest) (*protocol.Session, error) {
	var session protocol.Session
	if err := t.do(ctx, http.MethodPost, "/session", req, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

func (t *Transport) Prompt(ctx context.Context, req PromptRequest) (*protocol.Message, error) {
	var msg protocol.Message
	if err := t.do(ctx, http.MethodPost, "/session/"+req.SessionID+"/message", req, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (t *Transport) Abort(ctx context.Context, sessionID string) error {
	return t.do(ctx, http.MethodPost, "/session/"+sessionID+"/abort", nil, nil)
}

func (t *Transport) Fork(ctx context.Context, sessionID, messageID string) (*protocol.Session, error) {
	body := map[string]string{"messageID": messageID}
	var session protocol.Session
	if err := t.do(ctx, http.MethodPost, "/session/"+sessionID+"/fork", body, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

func (t *Transport) Summarize(ctx context.Context, sessionID string) error {
	return t.do(ctx, http.MethodPost, "/session/"+sessionID+"/summarize", nil, nil)
}

func (t *Transport) Revert(ctx context.Context, sessionID, messageID string) error {
	body := map[string]string{"messageID": messageID}
	return t.do(ctx, http.MethodPost, "/session/"+sessionID+"/revert", body, nil)
}

func (t *Transport) Unrevert(ctx context.Context, sessionID string) error {
	return t.do(ctx, http.MethodPost, "/session/"+sessionID+"/unrevert", nil, nil)
}

func (t *Transport) Share(ctx context.Context, sessionID string) (*protocol.ShareInfo, error) {
	var share protocol.ShareInfo
	if err := t.do(ctx, http.MethodPost, "/session/"+sessionID+"/share", nil, &share); err != nil {
		return nil, err
	}
	return &share, nil
}

func (t *Transport) Unshare(ctx context.Context, sessionID string) error {
	return t.do(ctx, http.MethodDelete, "/session/"+sessionID+"/share", nil, nil)
}

func (t *Transport) DeleteSession(ctx context.Context, sessionID string) error {
	return t.do(ctx, http.MethodDelete, "/session/"+sessionID, nil, nil)
}

func (t *Transport) RunCommand(ctx context.Context, sessionID, command, arguments string) error {
	body := map[string]string{"command": command, "arguments": arguments}
	return t.do(ctx, http.MethodPost, "/session/"+sessionID+"/command", body, nil)
}

func (t *Transport) RespondPermission(ctx context.Context, sessionID, permissionID string, reply protocol.PermissionReply) error {
	body := map[string]string{"response": string(reply)}
	return t.do(ctx, http.MethodPost, "/session/"+sessionID+"/permissions/"+permissionID, body, nil)
}

func (t *Transport) AnswerQuestion(ctx context.Context, sessionID, questionID string, answers [][]string) error {
	body := map[string]any{"answers": answers}
	return t.do(ctx, http.MethodPost, "/session/"+sessionID+"/question/"+questionID+"/reply", body, nil)
}

func (t *Transport) RejectQuestion(ctx context.Context, sessionID, questionID string) error {
	return t.do(ctx, http.MethodPost, "/session/"+sessionID+"/question/"+questionID+"/reject", nil, nil)
}

func (t *Transport) GetSession(ctx context.Context, sessionID string) (*protocol.Session, error) {
	var session protocol.Session
	if err := t.do(ctx, http.MethodGet, "/session/"+sessionID, nil, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

func (t *Transport) ListSessions(ctx context.Context) ([]protocol.Session, error) {
	var sessions []protocol.Session
	if err := t.do(ctx, http.MethodGet, "/session", nil, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

func (t *Transport) ListProviders(ctx context.Context) ([]protocol.Provider, error) {
	var out struct {
		Providers []protocol.Provider `json:"providers"`
	}
	if err := t.do(ctx, http.MethodGet, "/config/providers", nil, &out); err != nil {
		return nil, err
	}
	return out.Providers, nil
}

func (t *Transport) ListAgents(ctx context.Context) ([]protocol.Agent, error) {
	var agents []protocol.Agent
	if err := t.do(ctx, http.MethodGet, "/agent", nil, &agents); err != nil {
		return nil, err
	}
	return agents, nil
}

func (t *Transport) GetConfig(ctx context.Context) (protocol.Config, error) {
	var cfg protocol.Config
	if err := t.do(ctx, http.MethodGet, "/config", nil, &cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (t *Transport) ListCommands(ctx context.Context) ([]protocol.Command, error) {
	var commands []protocol.Command
	if err := t.do(ctx, http.MethodGet, "/command", nil, &commands); err != nil {
		return nil, err
	}
	return commands, nil
}

func (t *Transport) ListMessages(ctx context.Context, sessionID string) ([]MessageWithParts, error) {
	var history []MessageWithParts
	if err := t.do(ctx, http.MethodGet, "/session/"+sessionID+"/message", nil, &history); err != nil {
		return nil, err
	}
	return history, nil
}

func (t *Transport) ListTodos(ctx context.Context, sessionID string) ([]protocol.TodoItem, error) {
	var todos []protocol.TodoItem
	if err := t.do(ctx, http.MethodGet, "/session/"+sessionID+"/todo", nil, &todos); err != nil {
		return nil, err
	}
	return todos, nil
}

func (t *Transport) GetDiff(ctx context.Context, sessionID string) (*protocol.SessionDiff, error) {
	var diff protocol.SessionDiff
	if err := t.do(ctx, http.MethodGet, "/session/"+sessionID+"/diff", nil, &diff); err != nil {
		return nil, err
	}
	return &diff, nil
}

func (t *Transport) SessionStatuses(ctx context.Context) (map[string]protocol.SessionStatus, error) {
	var statuses map[string]protocol.SessionStatus
	if err := t.do(ctx, http.MethodGet, "/session/status", nil, &statuses); err != nil {
		return nil, err
	}
	return statuses, nil
}

func (t *Transport) LSPStatus(ctx context.Context) (protocol.ServerStatus, error) {
	var status protocol.ServerStatus
	if err := t.do(ctx, http.MethodGet, "/lsp", nil, &status); err != nil {
		return nil, err
	}
	return status, nil
}

func (t *Transport) MCPStatus(ctx context.Context) (protocol.ServerStatus, error) {
	var status protocol.ServerStatus
	if err := t.do(ctx, http.MethodGet, "/mcp", nil, &status); err != nil {
		return nil, err
	}
	return status, nil
}

func (t *Transport) FormatterStatus(ctx context.Context) (protocol.ServerStatus, error) {
	var status protocol.ServerStatus
	if err := t.do(ctx, http.MethodGet, "/formatter", nil, &status); err != nil {
		return nil, err
	}
	return status, nil
}

func (t *Transport) VCSInfo(ctx context.Context) (*protocol.VCSInfo, error) {
	var info protocol.VCSInfo
	if err := t.do(ctx, http.MethodGet, "/vcs", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (t *Transport) GetPath(ctx context.Context) (*protocol.PathInfo, error) {
	var info protocol.PathInfo
	if err := t.do(ctx, http.MethodGet, "/path", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (t *Transport) AuthStatus(ctx context.Context) (protocol.AuthInfo, error) {
	var info protocol.AuthInfo
	if err := t.do(ctx, http.MethodGet, "/auth", nil, &info); err != nil {
		return nil, err
	}
	return info, nil
}
