// Package dashboard serves the operator's read-only view of the engine.
//
// The server exposes the current [status.Snapshot] two ways: GET /api/status
// returns one snapshot as JSON, and GET /ws upgrades to a websocket that
// pushes a fresh snapshot immediately and then on a fixed interval until the
// client goes away. Liveness and readiness probes and the Prometheus scrape
// endpoint ride on the same mux.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/moksori-live/moksori/internal/health"
	"github.com/moksori-live/moksori/internal/observe"
	"github.com/moksori-live/moksori/internal/status"
)

const (
	// DefaultAddr is the listen address when none is configured.
	DefaultAddr = "127.0.0.1:8390"

	// DefaultPushInterval is the websocket snapshot cadence.
	DefaultPushInterval = time.Second

	// writeTimeout bounds one websocket snapshot write so a stalled client
	// cannot pin the handler.
	writeTimeout = 5 * time.Second

	// shutdownTimeout bounds the connection drain when Run exits.
	shutdownTimeout = 5 * time.Second
)

// Server is the dashboard HTTP server.
type Server struct {
	tracker      *status.Tracker
	metrics      *observe.Metrics
	addr         string
	pushInterval time.Duration
	log          *slog.Logger
	handler      http.Handler
}

// Config configures a [Server]. Tracker is required.
type Config struct {
	Tracker *status.Tracker

	// Health, when set, contributes /healthz and /readyz. A nil Health still
	// serves a bare always-ok /healthz so probes keep working.
	Health *health.Handler

	// Metrics, when set, enables the request middleware and the connected
	// client gauge. The /metrics endpoint is served either way.
	Metrics *observe.Metrics

	// Addr is the listen address. Defaults to [DefaultAddr].
	Addr string

	// PushInterval is the websocket snapshot cadence. Defaults to
	// [DefaultPushInterval].
	PushInterval time.Duration

	// Logger defaults to [slog.Default].
	Logger *slog.Logger
}

// New creates a [Server] from cfg.
func New(cfg Config) *Server {
	s := &Server{
		tracker:      cfg.Tracker,
		metrics:      cfg.Metrics,
		addr:         cfg.Addr,
		pushInterval: cfg.PushInterval,
		log:          cfg.Logger,
	}
	if s.addr == "" {
		s.addr = DefaultAddr
	}
	if s.pushInterval <= 0 {
		s.pushInterval = DefaultPushInterval
	}
	if s.log == nil {
		s.log = slog.Default()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.Handle("GET /metrics", promhttp.Handler())
	if cfg.Health != nil {
		cfg.Health.Register(mux)
	} else {
		health.New().Register(mux)
	}

	wrapped := http.Handler(mux)
	if s.metrics != nil {
		wrapped = observe.Middleware(s.metrics)(mux)
	}

	// The upgrade path stays outside the request middleware so the hijack
	// reaches the raw ResponseWriter.
	root := http.NewServeMux()
	root.HandleFunc("GET /ws", s.handleWS)
	root.Handle("/", wrapped)
	s.handler = root
	return s
}

// Handler returns the server's root handler, for tests and for embedding
// into an existing server.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run serves until ctx is cancelled, then drains connections for up to
// [shutdownTimeout]. The listen error is returned immediately so a taken
// port fails startup instead of surfacing later.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ln) }()
	s.log.Info("dashboard listening", "addr", ln.Addr().String())

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return err
	}
	if err := <-serveErr; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// handleStatus serves one snapshot as JSON.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot(r.Context())
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if err := json.NewEncoder(w).Encode(snap); err != nil {
		s.log.Warn("failed to encode status snapshot", "error", err)
	}
}

// handleWS upgrades to a websocket and pushes snapshots until the client
// disconnects or the server shuts down. Client frames are discarded; a read
// failure is the disconnect signal.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.Warn("websocket accept failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	defer conn.CloseNow()

	if s.metrics != nil {
		s.metrics.DashboardClients.Add(r.Context(), 1)
		defer s.metrics.DashboardClients.Add(context.Background(), -1)
	}
	s.log.Info("dashboard client connected", "remote", r.RemoteAddr)
	defer s.log.Info("dashboard client disconnected", "remote", r.RemoteAddr)

	ctx := conn.CloseRead(r.Context())
	ticker := time.NewTicker(s.pushInterval)
	defer ticker.Stop()

	for {
		if err := s.pushSnapshot(ctx, conn); err != nil {
			return
		}
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusGoingAway, "server shutting down")
			return
		case <-ticker.C:
		}
	}
}

// pushSnapshot writes one snapshot frame under a write deadline.
func (s *Server) pushSnapshot(ctx context.Context, conn *websocket.Conn) error {
	snap := s.tracker.Snapshot(ctx)
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, data)
}
