package vtstudio_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/moksori-live/moksori/pkg/avatar/vtstudio"
)

// ---- fake VTube Studio server ----------------------------------------------

// wsEnvelope mirrors the VTube Studio message frame for test assertions.
type wsEnvelope struct {
	APIName     string          `json:"apiName"`
	APIVersion  string          `json:"apiVersion"`
	RequestID   string          `json:"requestID"`
	MessageType string          `json:"messageType"`
	Data        json.RawMessage `json:"data"`
}

type injectRecord struct {
	id    string
	value float64
}

// vtsServer is a minimal fake VTube Studio endpoint. Configure fields before
// calling start; read recorded state through the accessor methods.
type vtsServer struct {
	issueToken string // granted on AuthenticationTokenRequest
	hotkeyFail bool   // answer hotkey triggers with an APIError

	mu            sync.Mutex
	validTokens   map[string]bool
	tokenRequests int
	authTokens    []string // tokens presented for authentication, in order
	injects       []injectRecord
	triggered     []string
}

// start launches the fake server and returns its ws:// URL.
func (s *vtsServer) start(t *testing.T) string {
	t.Helper()
	if s.issueToken == "" {
		s.issueToken = "granted-token"
	}
	if s.validTokens == nil {
		s.validTokens = map[string]bool{}
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		s.serve(conn)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func (s *vtsServer) serve(conn *websocket.Conn) {
	ctx := context.Background()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var env wsEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		reply, _ := json.Marshal(s.handle(env))
		if err := conn.Write(ctx, websocket.MessageText, reply); err != nil {
			return
		}
	}
}

func (s *vtsServer) handle(env wsEnvelope) wsEnvelope {
	s.mu.Lock()
	defer s.mu.Unlock()

	resp := wsEnvelope{
		APIName:    "VTubeStudioPublicAPI",
		APIVersion: "1.0",
		RequestID:  env.RequestID,
	}
	switch env.MessageType {
	case "AuthenticationTokenRequest":
		s.tokenRequests++
		s.validTokens[s.issueToken] = true
		resp.MessageType = "AuthenticationTokenResponse"
		resp.Data = mustMarshal(map[string]any{"authenticationToken": s.issueToken})
	case "AuthenticationRequest":
		var req struct {
			AuthenticationToken string `json:"authenticationToken"`
		}
		json.Unmarshal(env.Data, &req)
		s.authTokens = append(s.authTokens, req.AuthenticationToken)
		resp.MessageType = "AuthenticationResponse"
		resp.Data = mustMarshal(map[string]any{
			"authenticated": s.validTokens[req.AuthenticationToken],
			"reason":        "token not recognized",
		})
	case "InjectParameterDataRequest":
		var req struct {
			ParameterValues []struct {
				ID    string  `json:"id"`
				Value float64 `json:"value"`
			} `json:"parameterValues"`
		}
		json.Unmarshal(env.Data, &req)
		for _, p := range req.ParameterValues {
			s.injects = append(s.injects, injectRecord{id: p.ID, value: p.Value})
		}
		resp.MessageType = "InjectParameterDataResponse"
		resp.Data = mustMarshal(map[string]any{})
	case "HotkeyTriggerRequest":
		var req struct {
			HotkeyID string `json:"hotkeyID"`
		}
		json.Unmarshal(env.Data, &req)
		s.triggered = append(s.triggered, req.HotkeyID)
		if s.hotkeyFail {
			resp.MessageType = "APIError"
			resp.Data = mustMarshal(map[string]any{"errorID": 352, "message": "hotkey not found"})
		} else {
			resp.MessageType = "HotkeyTriggerResponse"
			resp.Data = mustMarshal(map[string]any{"hotkeyID": req.HotkeyID})
		}
	case "HotkeysInCurrentModelRequest":
		resp.MessageType = "HotkeysInCurrentModelResponse"
		resp.Data = mustMarshal(map[string]any{
			"availableHotkeys": []map[string]any{
				{"name": "Wave", "type": "TriggerAnimation", "hotkeyID": "hk-1"},
				{"name": "Blush", "type": "ToggleExpression", "hotkeyID": "hk-2"},
			},
		})
	default:
		resp.MessageType = "APIError"
		resp.Data = mustMarshal(map[string]any{"errorID": 0, "message": "unexpected request"})
	}
	return resp
}

func (s *vtsServer) tokenRequestCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokenRequests
}

func (s *vtsServer) presentedTokens() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.authTokens...)
}

func (s *vtsServer) injectCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.injects)
}

func (s *vtsServer) injectsSnapshot() []injectRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]injectRecord(nil), s.injects...)
}

func (s *vtsServer) triggeredHotkeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.triggered...)
}

func mustMarshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

// ---- helpers ----------------------------------------------------------------

func tokenFile(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "token.json")
}

func writeTokenFile(t *testing.T, path, token string) {
	t.Helper()
	b, _ := json.Marshal(map[string]string{"token": token})
	if err := os.WriteFile(path, b, 0o600); err != nil {
		t.Fatalf("write token file: %v", err)
	}
}

func readTokenFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read token file: %v", err)
	}
	var stored struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(b, &stored); err != nil {
		t.Fatalf("parse token file: %v", err)
	}
	return stored.Token
}

// connectClient builds a Client against url and completes the handshake.
func connectClient(t *testing.T, url, tokenPath string, opts ...vtstudio.Option) *vtstudio.Client {
	t.Helper()
	opts = append([]vtstudio.Option{vtstudio.WithTokenPath(tokenPath)}, opts...)
	c := vtstudio.New(url, opts...)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

// waitFor polls cond until it returns true or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

// ---- handshake --------------------------------------------------------------

func TestConnect_IssuesAndPersistsToken(t *testing.T) {
	t.Parallel()
	s := &vtsServer{}
	url := s.start(t)
	path := tokenFile(t)

	c := connectClient(t, url, path)

	if !c.Connected() {
		t.Error("Connected() = false after successful handshake")
	}
	if got := s.tokenRequestCount(); got != 1 {
		t.Errorf("token requests = %d; want 1", got)
	}
	if got := readTokenFile(t, path); got != "granted-token" {
		t.Errorf("persisted token = %q; want %q", got, "granted-token")
	}
	if got := s.presentedTokens(); len(got) != 1 || got[0] != "granted-token" {
		t.Errorf("presented tokens = %v; want [granted-token]", got)
	}
}

func TestConnect_ReusesStoredToken(t *testing.T) {
	t.Parallel()
	s := &vtsServer{validTokens: map[string]bool{"stored-token": true}}
	url := s.start(t)
	path := tokenFile(t)
	writeTokenFile(t, path, "stored-token")

	connectClient(t, url, path)

	if got := s.tokenRequestCount(); got != 0 {
		t.Errorf("token requests = %d; want 0 when a stored token works", got)
	}
	if got := s.presentedTokens(); len(got) != 1 || got[0] != "stored-token" {
		t.Errorf("presented tokens = %v; want [stored-token]", got)
	}
}

func TestConnect_RefreshesRevokedToken(t *testing.T) {
	t.Parallel()
	s := &vtsServer{}
	url := s.start(t)
	path := tokenFile(t)
	writeTokenFile(t, path, "stale-token")

	connectClient(t, url, path)

	if got := s.tokenRequestCount(); got != 1 {
		t.Errorf("token requests = %d; want 1 after stored token rejected", got)
	}
	presented := s.presentedTokens()
	if len(presented) != 2 || presented[0] != "stale-token" || presented[1] != "granted-token" {
		t.Errorf("presented tokens = %v; want [stale-token granted-token]", presented)
	}
	if got := readTokenFile(t, path); got != "granted-token" {
		t.Errorf("persisted token = %q; want refreshed %q", got, "granted-token")
	}
}

func TestConnect_DialFailure(t *testing.T) {
	t.Parallel()
	c := vtstudio.New("ws://127.0.0.1:1", vtstudio.WithTokenPath(tokenFile(t)))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Connect(ctx); err == nil {
		t.Fatal("Connect to unreachable address succeeded; want error")
	}
	if c.Connected() {
		t.Error("Connected() = true after failed Connect")
	}
}

// ---- mouth parameter ---------------------------------------------------------

func TestSetMouthOpen_InjectsValue(t *testing.T) {
	t.Parallel()
	s := &vtsServer{}
	url := s.start(t)
	c := connectClient(t, url, tokenFile(t))

	c.SetMouthOpen(0.5)

	waitFor(t, 3*time.Second, func() bool { return s.injectCount() == 1 })
	inj := s.injectsSnapshot()[0]
	if inj.id != "MouthOpen" {
		t.Errorf("parameter id = %q; want %q", inj.id, "MouthOpen")
	}
	if inj.value != 0.5 {
		t.Errorf("parameter value = %v; want 0.5", inj.value)
	}
}

func TestSetMouthOpen_ClampsRange(t *testing.T) {
	t.Parallel()
	s := &vtsServer{}
	url := s.start(t)
	c := connectClient(t, url, tokenFile(t))

	c.SetMouthOpen(1.7)
	c.SetMouthOpen(-0.3)

	waitFor(t, 3*time.Second, func() bool { return s.injectCount() == 2 })
	injs := s.injectsSnapshot()
	if injs[0].value != 1 {
		t.Errorf("over-range value = %v; want clamped to 1", injs[0].value)
	}
	if injs[1].value != 0 {
		t.Errorf("under-range value = %v; want clamped to 0", injs[1].value)
	}
}

func TestSetMouthOpen_CustomParameter(t *testing.T) {
	t.Parallel()
	s := &vtsServer{}
	url := s.start(t)
	c := connectClient(t, url, tokenFile(t), vtstudio.WithMouthParameter("ParamMouthOpenY"))

	c.SetMouthOpen(0.25)

	waitFor(t, 3*time.Second, func() bool { return s.injectCount() == 1 })
	if got := s.injectsSnapshot()[0].id; got != "ParamMouthOpenY" {
		t.Errorf("parameter id = %q; want %q", got, "ParamMouthOpenY")
	}
}

func TestSetMouthOpen_NotConnected_NoOp(t *testing.T) {
	t.Parallel()
	c := vtstudio.New("ws://127.0.0.1:1", vtstudio.WithTokenPath(tokenFile(t)))
	c.SetMouthOpen(0.4) // must not panic or block
}

// ---- hotkeys -----------------------------------------------------------------

func TestTriggerHotkey(t *testing.T) {
	t.Parallel()
	s := &vtsServer{}
	url := s.start(t)
	c := connectClient(t, url, tokenFile(t))

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.TriggerHotkey(ctx, "hk-1"); err != nil {
		t.Fatalf("TriggerHotkey: %v", err)
	}
	if got := s.triggeredHotkeys(); len(got) != 1 || got[0] != "hk-1" {
		t.Errorf("triggered hotkeys = %v; want [hk-1]", got)
	}
}

func TestTriggerHotkey_APIError(t *testing.T) {
	t.Parallel()
	s := &vtsServer{hotkeyFail: true}
	url := s.start(t)
	c := connectClient(t, url, tokenFile(t))

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	err := c.TriggerHotkey(ctx, "missing")
	if err == nil {
		t.Fatal("TriggerHotkey succeeded; want APIError")
	}
	if !strings.Contains(err.Error(), "hotkey not found") {
		t.Errorf("error = %v; want it to carry the server message", err)
	}
}

func TestTriggerHotkey_NotConnected(t *testing.T) {
	t.Parallel()
	c := vtstudio.New("ws://127.0.0.1:1", vtstudio.WithTokenPath(tokenFile(t)))
	if err := c.TriggerHotkey(context.Background(), "hk-1"); err == nil {
		t.Fatal("TriggerHotkey without connection succeeded; want error")
	}
}

func TestHotkeys_ReturnsModelHotkeys(t *testing.T) {
	t.Parallel()
	s := &vtsServer{}
	url := s.start(t)
	c := connectClient(t, url, tokenFile(t))

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	hotkeys, err := c.Hotkeys(ctx)
	if err != nil {
		t.Fatalf("Hotkeys: %v", err)
	}
	if len(hotkeys) != 2 {
		t.Fatalf("len(hotkeys) = %d; want 2", len(hotkeys))
	}
	if hotkeys[0].ID != "hk-1" || hotkeys[0].Name != "Wave" || hotkeys[0].Type != "TriggerAnimation" {
		t.Errorf("hotkeys[0] = %+v; want {hk-1 Wave TriggerAnimation}", hotkeys[0])
	}
	if hotkeys[1].ID != "hk-2" || hotkeys[1].Name != "Blush" {
		t.Errorf("hotkeys[1] = %+v; want {hk-2 Blush ToggleExpression}", hotkeys[1])
	}
}

// ---- lifecycle ---------------------------------------------------------------

func TestClose_Idempotent(t *testing.T) {
	t.Parallel()
	s := &vtsServer{}
	url := s.start(t)
	c := connectClient(t, url, tokenFile(t))

	if err := c.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if c.Connected() {
		t.Error("Connected() = true after Close")
	}
}

func TestClose_WithoutConnect(t *testing.T) {
	t.Parallel()
	c := vtstudio.New("", vtstudio.WithTokenPath(tokenFile(t)))
	if err := c.Close(); err != nil {
		t.Fatalf("Close without Connect: %v", err)
	}
}
