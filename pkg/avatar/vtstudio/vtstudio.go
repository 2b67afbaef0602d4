// Package vtstudio provides an avatar.Controller speaking the VTube Studio
// public WebSocket API.
//
// VTube Studio gates plugins behind a one-time token grant: the first
// connection sends an AuthenticationTokenRequest, the user clicks Allow in
// the VTube Studio UI, and the issued token is persisted for subsequent
// sessions. After authentication the client injects the mouth-open value via
// InjectParameterDataRequest and can fire model hotkeys.
package vtstudio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/moksori-live/moksori/pkg/avatar"
)

const (
	defaultURL     = "ws://localhost:8001"
	apiName        = "VTubeStudioPublicAPI"
	apiVersion     = "1.0"
	defaultPlugin  = "moksori"
	defaultDev     = "moksori-live"
	mouthParameter = "MouthOpen"

	// writeTimeout bounds each fire-and-forget parameter write.
	writeTimeout = time.Second
)

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithPlugin sets the plugin name and developer shown in the VTube Studio
// permission dialog.
func WithPlugin(name, developer string) Option {
	return func(c *Client) {
		c.pluginName = name
		c.pluginDev = developer
	}
}

// WithTokenPath sets the file where the granted authentication token is
// persisted. Defaults to "vtstudio_token.json" in the working directory.
func WithTokenPath(path string) Option {
	return func(c *Client) { c.tokenPath = path }
}

// WithMouthParameter overrides the injected parameter id. Defaults to
// "MouthOpen".
func WithMouthParameter(id string) Option {
	return func(c *Client) { c.mouthParam = id }
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(log *slog.Logger) Option {
	return func(c *Client) { c.log = log }
}

// Hotkey describes one hotkey configured in the current VTube Studio model.
type Hotkey struct {
	ID   string
	Name string
	Type string
}

// Client is a VTube Studio plugin connection. Create it with New, call
// Connect before use, and Close when done. SetMouthOpen is safe to call at
// chunk rate; request/response calls (TriggerHotkey, Hotkeys) correlate
// replies by request id.
type Client struct {
	url        string
	pluginName string
	pluginDev  string
	tokenPath  string
	mouthParam string
	log        *slog.Logger

	reqSeq atomic.Uint64

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	waiters   map[string]chan envelope
	readDone  chan struct{}
}

// New creates a Client for the VTube Studio API at url. An empty url selects
// the default ws://localhost:8001.
func New(url string, opts ...Option) *Client {
	c := &Client{
		url:        url,
		pluginName: defaultPlugin,
		pluginDev:  defaultDev,
		tokenPath:  "vtstudio_token.json",
		mouthParam: mouthParameter,
		log:        slog.Default(),
		waiters:    map[string]chan envelope{},
	}
	if c.url == "" {
		c.url = defaultURL
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// ---- wire types -------------------------------------------------------------

// envelope is the VTube Studio message frame.
type envelope struct {
	APIName     string          `json:"apiName"`
	APIVersion  string          `json:"apiVersion"`
	RequestID   string          `json:"requestID,omitempty"`
	MessageType string          `json:"messageType"`
	Data        json.RawMessage `json:"data,omitempty"`
}

type tokenRequestData struct {
	PluginName      string `json:"pluginName"`
	PluginDeveloper string `json:"pluginDeveloper"`
}

type tokenResponseData struct {
	AuthenticationToken string `json:"authenticationToken"`
}

type authRequestData struct {
	PluginName          string `json:"pluginName"`
	PluginDeveloper     string `json:"pluginDeveloper"`
	AuthenticationToken string `json:"authenticationToken"`
}

type authResponseData struct {
	Authenticated bool   `json:"authenticated"`
	Reason        string `json:"reason"`
}

type parameterValue struct {
	ID    string  `json:"id"`
	Value float64 `json:"value"`
}

type injectParameterData struct {
	FaceFound       bool             `json:"faceFound"`
	Mode            string           `json:"mode"`
	ParameterValues []parameterValue `json:"parameterValues"`
}

type hotkeyTriggerData struct {
	HotkeyID string `json:"hotkeyID"`
}

type hotkeyListData struct {
	AvailableHotkeys []struct {
		Name     string `json:"name"`
		Type     string `json:"type"`
		HotkeyID string `json:"hotkeyID"`
	} `json:"availableHotkeys"`
}

type apiErrorData struct {
	ErrorID int    `json:"errorID"`
	Message string `json:"message"`
}

// ---- lifecycle --------------------------------------------------------------

// Connect dials VTube Studio and completes the authentication handshake. A
// persisted token is reused when present; otherwise a fresh token is
// requested (the user must click Allow in VTube Studio) and saved.
func (c *Client) Connect(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("vtstudio: dial %s: %w", c.url, err)
	}

	token, hadStored := c.loadToken()
	if !hadStored {
		if token, err = c.requestToken(ctx, conn); err != nil {
			conn.Close(websocket.StatusNormalClosure, "handshake failed")
			return err
		}
		c.saveToken(token)
	}

	ok, reason, err := c.authenticate(ctx, conn, token)
	if err == nil && !ok && hadStored {
		// The stored token was revoked; request a fresh grant once.
		if token, err = c.requestToken(ctx, conn); err == nil {
			c.saveToken(token)
			ok, reason, err = c.authenticate(ctx, conn, token)
		}
	}
	if err != nil {
		conn.Close(websocket.StatusNormalClosure, "handshake failed")
		return err
	}
	if !ok {
		conn.Close(websocket.StatusNormalClosure, "handshake failed")
		return fmt.Errorf("vtstudio: authentication rejected: %s", reason)
	}

	done := make(chan struct{})
	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.readDone = done
	c.mu.Unlock()

	go c.readLoop(conn, done)
	return nil
}

// Close terminates the connection. Safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	done := c.readDone
	c.conn = nil
	c.connected = false
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	conn.Close(websocket.StatusNormalClosure, "client closed")
	if done != nil {
		<-done
	}
	return nil
}

// Connected reports whether the client holds an authenticated connection.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// ---- avatar.Controller ------------------------------------------------------

// SetMouthOpen injects the mouth-open parameter, clamped to [0, 1]. It is
// fire-and-forget: the response is consumed by the read loop, and on write
// failure the connection is marked broken so later calls become no-ops until
// the caller reconnects.
func (c *Client) SetMouthOpen(v float64) {
	if v < 0 {
		v = 0
	} else if v > 1 {
		v = 1
	}

	c.mu.Lock()
	conn := c.conn
	param := c.mouthParam
	c.mu.Unlock()
	if conn == nil {
		return
	}

	data := injectParameterData{
		Mode:            "set",
		ParameterValues: []parameterValue{{ID: param, Value: v}},
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := c.write(ctx, conn, c.nextID(), "InjectParameterDataRequest", data); err != nil {
		c.log.Debug("mouth parameter write failed, dropping connection", "error", err)
		c.dropConn(conn)
	}
}

// TriggerHotkey fires the hotkey with the given id or name and waits for
// VTube Studio to acknowledge it.
func (c *Client) TriggerHotkey(ctx context.Context, id string) error {
	resp, err := c.roundTrip(ctx, "HotkeyTriggerRequest", hotkeyTriggerData{HotkeyID: id})
	if err != nil {
		return err
	}
	if resp.MessageType == "APIError" {
		return fmt.Errorf("vtstudio: trigger hotkey %q: %s", id, apiErrorMessage(resp))
	}
	return nil
}

// Hotkeys lists the hotkeys configured in the current model.
func (c *Client) Hotkeys(ctx context.Context) ([]Hotkey, error) {
	resp, err := c.roundTrip(ctx, "HotkeysInCurrentModelRequest", struct{}{})
	if err != nil {
		return nil, err
	}
	if resp.MessageType == "APIError" {
		return nil, fmt.Errorf("vtstudio: list hotkeys: %s", apiErrorMessage(resp))
	}

	var data hotkeyListData
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return nil, fmt.Errorf("vtstudio: parse hotkey list: %w", err)
	}
	hotkeys := make([]Hotkey, 0, len(data.AvailableHotkeys))
	for _, h := range data.AvailableHotkeys {
		hotkeys = append(hotkeys, Hotkey{ID: h.HotkeyID, Name: h.Name, Type: h.Type})
	}
	return hotkeys, nil
}

// ---- plumbing ---------------------------------------------------------------

// roundTrip sends a request and waits for its correlated response.
func (c *Client) roundTrip(ctx context.Context, messageType string, data any) (envelope, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return envelope{}, errors.New("vtstudio: not connected")
	}

	id := c.nextID()
	ch := make(chan envelope, 1)
	c.mu.Lock()
	c.waiters[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.waiters, id)
		c.mu.Unlock()
	}()

	if err := c.write(ctx, conn, id, messageType, data); err != nil {
		c.dropConn(conn)
		return envelope{}, fmt.Errorf("vtstudio: write %s: %w", messageType, err)
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		return envelope{}, fmt.Errorf("vtstudio: await %s: %w", messageType, ctx.Err())
	}
}

// readLoop consumes responses, delivering correlated ones to waiters and
// discarding the rest (parameter injection acks).
func (c *Client) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		_, msg, err := conn.Read(context.Background())
		if err != nil {
			c.dropConn(conn)
			return
		}
		var env envelope
		if err := json.Unmarshal(msg, &env); err != nil {
			continue
		}
		c.mu.Lock()
		ch := c.waiters[env.RequestID]
		c.mu.Unlock()
		if ch != nil {
			select {
			case ch <- env:
			default:
			}
		}
	}
}

// dropConn marks the connection broken if conn is still current.
func (c *Client) dropConn(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
		c.connected = false
	}
	c.mu.Unlock()
	conn.Close(websocket.StatusNormalClosure, "connection dropped")
}

// write marshals and sends one request frame.
func (c *Client) write(ctx context.Context, conn *websocket.Conn, id, messageType string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	b, err := json.Marshal(envelope{
		APIName:     apiName,
		APIVersion:  apiVersion,
		RequestID:   id,
		MessageType: messageType,
		Data:        raw,
	})
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

// request performs a synchronous request/response during the handshake,
// before the read loop starts.
func (c *Client) request(ctx context.Context, conn *websocket.Conn, messageType string, data any) (envelope, error) {
	id := c.nextID()
	if err := c.write(ctx, conn, id, messageType, data); err != nil {
		return envelope{}, fmt.Errorf("vtstudio: write %s: %w", messageType, err)
	}
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			return envelope{}, fmt.Errorf("vtstudio: read %s response: %w", messageType, err)
		}
		var env envelope
		if err := json.Unmarshal(msg, &env); err != nil {
			continue
		}
		if env.RequestID == id {
			return env, nil
		}
	}
}

// requestToken asks VTube Studio to issue a plugin token. This blocks until
// the user clicks Allow or ctx expires.
func (c *Client) requestToken(ctx context.Context, conn *websocket.Conn) (string, error) {
	resp, err := c.request(ctx, conn, "AuthenticationTokenRequest", tokenRequestData{
		PluginName:      c.pluginName,
		PluginDeveloper: c.pluginDev,
	})
	if err != nil {
		return "", err
	}
	if resp.MessageType == "APIError" {
		return "", fmt.Errorf("vtstudio: token request rejected: %s", apiErrorMessage(resp))
	}
	var data tokenResponseData
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return "", fmt.Errorf("vtstudio: parse token response: %w", err)
	}
	if data.AuthenticationToken == "" {
		return "", errors.New("vtstudio: empty authentication token")
	}
	return data.AuthenticationToken, nil
}

// authenticate presents the token for this session.
func (c *Client) authenticate(ctx context.Context, conn *websocket.Conn, token string) (ok bool, reason string, err error) {
	resp, err := c.request(ctx, conn, "AuthenticationRequest", authRequestData{
		PluginName:          c.pluginName,
		PluginDeveloper:     c.pluginDev,
		AuthenticationToken: token,
	})
	if err != nil {
		return false, "", err
	}
	if resp.MessageType == "APIError" {
		return false, apiErrorMessage(resp), nil
	}
	var data authResponseData
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return false, "", fmt.Errorf("vtstudio: parse auth response: %w", err)
	}
	return data.Authenticated, data.Reason, nil
}

// loadToken reads the persisted token file. ok is false when no usable token
// is stored.
func (c *Client) loadToken() (token string, ok bool) {
	b, err := os.ReadFile(c.tokenPath)
	if err != nil {
		return "", false
	}
	var stored struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(b, &stored); err != nil || stored.Token == "" {
		return "", false
	}
	return stored.Token, true
}

// saveToken persists the token for future sessions. Failures are logged, not
// fatal: the session stays authenticated either way.
func (c *Client) saveToken(token string) {
	b, _ := json.Marshal(struct {
		Token string `json:"token"`
	}{Token: token})
	if err := os.WriteFile(c.tokenPath, b, 0o600); err != nil {
		c.log.Warn("failed to persist vtstudio token", "path", c.tokenPath, "error", err)
	}
}

func (c *Client) nextID() string {
	return "moksori-" + strconv.FormatUint(c.reqSeq.Add(1), 10)
}

func apiErrorMessage(env envelope) string {
	var data apiErrorData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return "unknown API error"
	}
	return fmt.Sprintf("%s (error %d)", data.Message, data.ErrorID)
}

// Ensure Client implements the avatar contracts at compile time.
var (
	_ avatar.Controller    = (*Client)(nil)
	_ avatar.HotkeyTrigger = (*Client)(nil)
)
