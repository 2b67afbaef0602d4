// Package tools hosts the callable tools the engine offers its model.
//
// A [Host] keeps a registry of in-process builtins ([SaveCoreMemory],
// [TriggerAvatarHotkey]) and, optionally, tools imported from external MCP
// servers reached over stdio or streamable-HTTP transports. The memory
// distiller offers the registry to the model and dispatches whatever calls
// come back; every dispatch is logged, measured, and cut off at the call
// timeout.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"slices"
	"strings"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/moksori-live/moksori/internal/observe"
	"github.com/moksori-live/moksori/internal/session"
	"github.com/moksori-live/moksori/pkg/types"
)

// Transports for external MCP servers.
const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"
)

// defaultCallTimeout bounds a single tool dispatch. Tools run during memory
// distillation, off the hot response path, so the bound is generous.
const defaultCallTimeout = 10 * time.Second

// ServerConfig describes one external MCP server to import tools from.
type ServerConfig struct {
	// Name identifies the server in logs and the registry.
	Name string

	// Transport is TransportStdio or TransportHTTP.
	Transport string

	// Command is the executable plus arguments for stdio servers, split on
	// spaces.
	Command string

	// URL is the endpoint for streamable-HTTP servers.
	URL string

	// Env holds additional environment variables for stdio servers, layered
	// over the parent environment.
	Env map[string]string
}

// Handler executes one tool call. args is the JSON object string the model
// produced; the returned text is handed back to the model verbatim.
type Handler func(ctx context.Context, args string) (string, error)

// Builtin is a tool implemented as an in-process Go function. Builtins skip
// the MCP round-trip entirely; they are otherwise dispatched, logged, and
// measured like imported tools.
type Builtin struct {
	// Definition is the descriptor offered to the model.
	Definition types.ToolDefinition

	// Handler is invoked when the model calls the tool.
	Handler Handler
}

// entry is one registered tool. builtin is non-nil for in-process tools;
// otherwise server names the MCP session the call routes to.
type entry struct {
	def     types.ToolDefinition
	server  string
	builtin Handler
}

// Host is a registry of builtin and MCP-imported tools.
//
// It implements the distiller's tool contract: Definitions lists what the
// model may call and Dispatch executes a call the model made. All methods
// are safe for concurrent use. The zero value is not usable; construct with
// [New].
type Host struct {
	mu      sync.RWMutex
	tools   map[string]entry
	servers map[string]*mcpsdk.ClientSession

	// client is shared across server connections; the SDK allows one client
	// to hold multiple sessions.
	client *mcpsdk.Client

	log     *slog.Logger
	metrics *observe.Metrics
	timeout time.Duration
}

var _ session.ToolHost = (*Host)(nil)

// Option configures a Host.
type Option func(*Host)

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(log *slog.Logger) Option {
	return func(h *Host) {
		if log != nil {
			h.log = log
		}
	}
}

// WithMetrics enables tool call counters and latency histograms.
func WithMetrics(m *observe.Metrics) Option {
	return func(h *Host) { h.metrics = m }
}

// WithCallTimeout bounds each Dispatch. Zero disables the bound; unset
// defaults to 10s.
func WithCallTimeout(d time.Duration) Option {
	return func(h *Host) { h.timeout = d }
}

// New creates an empty Host. Register builtins and servers before offering
// its definitions to the model.
func New(opts ...Option) *Host {
	h := &Host{
		tools:   make(map[string]entry),
		servers: make(map[string]*mcpsdk.ClientSession),
		client: mcpsdk.NewClient(
			&mcpsdk.Implementation{Name: "moksori", Version: "1.0.0"},
			nil,
		),
		log:     slog.Default(),
		timeout: defaultCallTimeout,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterBuiltin adds an in-process tool. A tool with the same name is
// replaced.
func (h *Host) RegisterBuiltin(b Builtin) error {
	if b.Definition.Name == "" {
		return errors.New("tools: builtin needs a name")
	}
	if b.Handler == nil {
		return fmt.Errorf("tools: builtin %q needs a handler", b.Definition.Name)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.tools[b.Definition.Name] = entry{def: b.Definition, builtin: b.Handler}
	return nil
}

// RegisterServer connects to the MCP server described by cfg and imports its
// tool catalogue. A server with the same name is closed and replaced along
// with the tools it contributed.
//
// Stdio servers run as a child process with cfg.Env layered over the parent
// environment; HTTP servers are dialed at cfg.URL.
func (h *Host) RegisterServer(ctx context.Context, cfg ServerConfig) error {
	if cfg.Name == "" {
		return errors.New("tools: server config needs a name")
	}

	var transport mcpsdk.Transport
	switch cfg.Transport {
	case TransportStdio:
		fields := strings.Fields(cfg.Command)
		if len(fields) == 0 {
			return fmt.Errorf("tools: stdio server %q needs a command", cfg.Name)
		}
		cmd := exec.CommandContext(ctx, fields[0], fields[1:]...)
		if len(cfg.Env) > 0 {
			cmd.Env = os.Environ()
			for k, v := range cfg.Env {
				cmd.Env = append(cmd.Env, k+"="+v)
			}
		}
		transport = &mcpsdk.CommandTransport{Command: cmd}

	case TransportHTTP:
		if cfg.URL == "" {
			return fmt.Errorf("tools: http server %q needs a URL", cfg.Name)
		}
		transport = &mcpsdk.StreamableClientTransport{Endpoint: cfg.URL}

	default:
		return fmt.Errorf("tools: unknown transport %q for server %q", cfg.Transport, cfg.Name)
	}

	sess, err := h.client.Connect(ctx, transport, nil)
	if err != nil {
		return fmt.Errorf("tools: connect to server %q: %w", cfg.Name, err)
	}

	var imported []types.ToolDefinition
	for tool, err := range sess.Tools(ctx, nil) {
		if err != nil {
			_ = sess.Close()
			return fmt.Errorf("tools: list tools on server %q: %w", cfg.Name, err)
		}
		imported = append(imported, types.ToolDefinition{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  schemaToMap(tool.InputSchema),
		})
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if old, ok := h.servers[cfg.Name]; ok {
		_ = old.Close()
		for name, e := range h.tools {
			if e.server == cfg.Name {
				delete(h.tools, name)
			}
		}
	}
	h.servers[cfg.Name] = sess

	for _, def := range imported {
		if prev, ok := h.tools[def.Name]; ok && prev.server != cfg.Name {
			h.log.Warn("tool displaced by server import",
				"tool", def.Name, "server", cfg.Name)
		}
		h.tools[def.Name] = entry{def: def, server: cfg.Name}
	}

	h.log.Info("mcp server registered", "server", cfg.Name, "tools", len(imported))
	return nil
}

// Definitions returns every registered tool, sorted by name so prompts stay
// stable across runs.
func (h *Host) Definitions() []types.ToolDefinition {
	h.mu.RLock()
	defs := make([]types.ToolDefinition, 0, len(h.tools))
	for _, e := range h.tools {
		defs = append(defs, e.def)
	}
	h.mu.RUnlock()

	slices.SortFunc(defs, func(a, b types.ToolDefinition) int {
		return strings.Compare(a.Name, b.Name)
	})
	return defs
}

// Dispatch executes one tool call and returns its textual result. The call
// runs under the host's timeout. An MCP tool that reports an application
// error surfaces it as an error here; the two-value contract has no side
// channel for it.
func (h *Host) Dispatch(ctx context.Context, call types.ToolCall) (string, error) {
	h.mu.RLock()
	e, ok := h.tools[call.Name]
	h.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("tools: unknown tool %q", call.Name)
	}

	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	start := time.Now()
	var out string
	var err error
	if e.builtin != nil {
		out, err = e.builtin(ctx, call.Arguments)
	} else {
		out, err = h.callServer(ctx, e, call.Arguments)
	}
	elapsed := time.Since(start)

	status := "ok"
	if err != nil {
		status = "error"
	}
	if h.metrics != nil {
		h.metrics.RecordToolCall(ctx, call.Name, status)
		h.metrics.RecordToolDuration(ctx, call.Name, elapsed)
	}
	h.log.Debug("tool dispatched",
		"tool", call.Name, "status", status, "duration", elapsed)

	return out, err
}

// callServer routes a call to the session that imported the tool and
// concatenates the text content of the result.
func (h *Host) callServer(ctx context.Context, e entry, args string) (string, error) {
	h.mu.RLock()
	sess, ok := h.servers[e.server]
	h.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("tools: server %q gone for tool %q", e.server, e.def.Name)
	}

	var argsMap map[string]any
	if args != "" && args != "{}" {
		if err := json.Unmarshal([]byte(args), &argsMap); err != nil {
			return "", fmt.Errorf("tools: tool %q args are not a JSON object: %w", e.def.Name, err)
		}
	}

	res, err := sess.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      e.def.Name,
		Arguments: argsMap,
	})
	if err != nil {
		return "", fmt.Errorf("tools: call %q on server %q: %w", e.def.Name, e.server, err)
	}

	var sb strings.Builder
	for _, c := range res.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	if res.IsError {
		return "", fmt.Errorf("tools: tool %q reported: %s", e.def.Name, sb.String())
	}
	return sb.String(), nil
}

// Close shuts down all server sessions and clears the registry. The Host
// must not be used afterwards.
func (h *Host) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var errs []error
	for name, sess := range h.servers {
		if err := sess.Close(); err != nil {
			errs = append(errs, fmt.Errorf("tools: close server %q: %w", name, err))
		}
		delete(h.servers, name)
	}
	h.tools = make(map[string]entry)
	return errors.Join(errs...)
}

// schemaToMap converts whatever schema representation the SDK hands back
// into the map form ToolDefinition carries.
func schemaToMap(schema any) map[string]any {
	if schema == nil {
		return map[string]any{"type": "object"}
	}
	if m, ok := schema.(map[string]any); ok {
		return m
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return map[string]any{"type": "object"}
	}
	return m
}
