package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"threatmap/internal/threat"
)

const (
	cacheSize        = 256
	streamWriteWait  = 10 * time.Second
	streamPingPeriod = 30 * time.Second
)

// Server exposes the current threat snapshot over HTTP, WebSocket and gRPC.
type Server struct {
	pipeline  *threat.Pipeline
	scheduler *threat.Scheduler
	cfg       *Config
	logger    *slog.Logger
	router    *mux.Router
	handler   http.Handler
	cache     *responseCache
	upgrader  websocket.Upgrader
	grpcSrv   *grpc.Server
	health    *health.Server
}

// New wires the API around p. The scheduler backs POST /v1/refresh and may
// be nil, in which case manual refreshes are refused.
func New(p *threat.Pipeline, sched *threat.Scheduler, cfg *Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	origins := cfg.CORS.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	s := &Server{
		pipeline:  p,
		scheduler: sched,
		cfg:       cfg,
		logger:    logger,
		router:    mux.NewRouter(),
		cache:     newResponseCache(cacheSize, threat.DefaultRefreshInterval),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		health: health.NewServer(),
	}
	s.routes()
	s.handler = cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	}).Handler(s.router)

	s.grpcSrv = grpc.NewServer()
	registerSnapshotService(s.grpcSrv, s)
	healthpb.RegisterHealthServer(s.grpcSrv, s.health)
	s.updateHealth()
	return s
}

func (s *Server) routes() {
	s.router.HandleFunc("/v1/snapshot", s.handleSnapshot).Methods(http.MethodGet)
	s.router.HandleFunc("/v1/threats", s.handleThreats).Methods(http.MethodGet)
	s.router.HandleFunc("/v1/threats/ip/{ip}", s.handleThreatsByIP).Methods(http.MethodGet)
	s.router.HandleFunc("/v1/refresh", s.handleRefresh).Methods(http.MethodPost)
	s.router.HandleFunc("/v1/stream", s.handleStream).Methods(http.MethodGet)
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
}

// Router returns the HTTP API handler with CORS applied.
func (s *Server) Router() http.Handler { return s.handler }

// GRPCServer returns the gRPC server carrying SnapshotService and health.
func (s *Server) GRPCServer() *grpc.Server { return s.grpcSrv }

// Run keeps health status current and sweeps the response cache until ctx
// is done.
func (s *Server) Run(ctx context.Context) {
	updates, cancel := s.pipeline.Subscribe()
	defer cancel()
	go s.cache.janitor(ctx, time.Minute)

	s.updateHealth()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-updates:
			if !ok {
				return
			}
			s.updateHealth()
		}
	}
}

func (s *Server) updateHealth() {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if _, ok := s.pipeline.Current(); ok {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(snapshotServiceName, status)
}

// StartMetrics serves /metrics on addr in the background. Shut the returned
// server down to stop it.
func (s *Server) StartMetrics(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server error", "err", err)
		}
	}()
	return srv
}

// StartGRPC listens on addr and serves gRPC until Stop.
func (s *Server) StartGRPC(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.grpcSrv.Serve(ln)
}

// Stop shuts the gRPC server down gracefully.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpcSrv.GracefulStop()
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.pipeline.Current()
	if !ok {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "no snapshot yet"})
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleThreats(w http.ResponseWriter, r *http.Request) {
	q, err := parseThreatQuery(r.URL.Query().Get)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	snap, ok := s.pipeline.Current()
	if !ok {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "no snapshot yet"})
		return
	}

	key := q.key(snap.CycleID())
	body, hit := s.cache.Get(key)
	if !hit {
		body, err = json.Marshal(newThreatList(snap, snap.Filter(q.match)))
		if err != nil {
			s.logger.Error("encode threats", "err", err)
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "encode failed"})
			return
		}
		s.cache.Set(key, body)
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Cycle-ID", snap.CycleID())
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (s *Server) handleThreatsByIP(w http.ResponseWriter, r *http.Request) {
	ip := mux.Vars(r)["ip"]
	snap, ok := s.pipeline.Current()
	if !ok {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "no snapshot yet"})
		return
	}
	records := snap.LookupIP(ip)
	if records == nil {
		records = []threat.ThreatRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ip":       ip,
		"cycle_id": snap.CycleID(),
		"count":    len(records),
		"records":  records,
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if s.scheduler == nil || !s.scheduler.Running() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "scheduler not running"})
		return
	}
	if !s.scheduler.TriggerNow() {
		writeJSON(w, http.StatusConflict, map[string]any{"error": "refresh already in progress"})
		return
	}
	s.logger.Info("manual refresh triggered", "remote", r.RemoteAddr)
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "started"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.pipeline.Current()
	if !ok {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "starting",
			"state":  s.pipeline.State().String(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"origin":      snap.Origin(),
		"degraded":    snap.Degraded(),
		"records":     snap.Len(),
		"cycle_id":    snap.CycleID(),
		"acquired_at": snap.AcquiredAt(),
		"state":       s.pipeline.State().String(),
	})
}

// handleStream pushes the current snapshot on connect and every published
// snapshot after that.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "websocket upgrade required"})
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	updates, cancel := s.pipeline.Subscribe()
	defer cancel()

	// The read side only exists to notice the client going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if snap, ok := s.pipeline.Current(); ok {
		if err := s.writeSnapshot(conn, snap); err != nil {
			return
		}
	}

	ping := time.NewTicker(streamPingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case snap, ok := <-updates:
			if !ok {
				return
			}
			if err := s.writeSnapshot(conn, snap); err != nil {
				s.logger.Debug("stream write failed", "err", err)
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait)); err != nil {
				return
			}
		}
	}
}

func (s *Server) writeSnapshot(conn *websocket.Conn, snap *threat.Snapshot) error {
	_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
	return conn.WriteJSON(snap)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
