// Package server exposes the controller's state over HTTP: liveness, a JSON
// status document, and a websocket stream of decisions.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/gorilla/websocket"
	"github.com/gridpilot/gridpilot/pkg/amber"
	"github.com/gridpilot/gridpilot/pkg/common"
	"github.com/gridpilot/gridpilot/pkg/forecast"
	"github.com/gridpilot/gridpilot/pkg/health"
	"github.com/gridpilot/gridpilot/pkg/log"
	"github.com/gridpilot/gridpilot/pkg/types"
	"github.com/levenlabs/go-lflag"
)

// StatusSource is the slice of the engine the server reads.
type StatusSource interface {
	LatestDecision() *types.Decision
	CurrentPlan() *types.DayPlan
	LatestSnapshot() *types.Snapshot
	DailyCost() *amber.DailyCost
}

// HealthSource reports the monitor's current state.
type HealthSource interface {
	Status() health.Status
}

// Server is the read-only HTTP surface.
type Server struct {
	monitor HealthSource
	source  StatusSource

	listenAddr string
	httpServer *http.Server

	upgrader websocket.Upgrader

	mtx         sync.Mutex
	subscribers map[*websocket.Conn]struct{}
}

// Configured initializes the Server with dependencies.
// It uses lflag to register command-line flags for configuration.
func Configured(monitor HealthSource, source StatusSource) *Server {
	srv := &Server{
		monitor:     monitor,
		source:      source,
		subscribers: map[*websocket.Conn]struct{}{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	listenAddr := lflag.String("http-listen", ":"+port, "HTTP server listen address")

	lflag.Do(func() {
		srv.listenAddr = *listenAddr
	})

	return srv
}

// Validate ensures the configuration is usable.
func (s *Server) Validate() error {
	if s.listenAddr == "" {
		return fmt.Errorf("http-listen cannot be empty")
	}
	return nil
}

func (s *Server) setupHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /status", s.handleStatus)

	// the websocket upgrade hijacks the connection so it cannot go through
	// the gzip writer
	outer := http.NewServeMux()
	outer.HandleFunc("GET /ws", s.handleWS)
	outer.Handle("/", gziphandler.GzipHandler(mux))
	return outer
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.listenAddr,
		Handler:      s.setupHandler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	// use a channel to capture server errors
	errChan := make(chan error, 1)
	go func() {
		defer close(errChan)
		log.Ctx(ctx).InfoContext(ctx, "starting server", slog.String("addr", s.listenAddr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Ctx(ctx).InfoContext(ctx, "shutting down server")
		s.closeSubscribers()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	status := s.monitor.Status()
	code := http.StatusOK
	if status.State == health.StateCritical {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{
		"state":   string(status.State),
		"version": common.Version(),
	})
}

// statusResponse is the full state document served at /status.
type statusResponse struct {
	Version   string           `json:"version"`
	Health    health.Status    `json:"health"`
	Decision  *types.Decision  `json:"decision,omitempty"`
	Plan      *types.DayPlan   `json:"plan,omitempty"`
	Snapshot  *statusSnapshot  `json:"snapshot,omitempty"`
	DailyCost *amber.DailyCost `json:"dailyCost,omitempty"`
}

// statusSnapshot is the snapshot trimmed to what a dashboard needs; the raw
// forecast series would dominate the payload.
type statusSnapshot struct {
	Timestamp       time.Time             `json:"timestamp"`
	ImportPrice     *types.PriceInterval  `json:"importPrice,omitempty"`
	ExportPrice     *types.PriceInterval  `json:"exportPrice,omitempty"`
	Battery         types.BatteryState    `json:"battery"`
	CurrentSolarKW  float64               `json:"currentSolarKW"`
	PredictedLoadKW float64               `json:"predictedLoadKW"`
	GridState       types.GridState       `json:"gridState"`
	VPPEventActive  bool                  `json:"vppEventActive"`
	TariffPeriod    types.TariffPeriod    `json:"tariffPeriod"`
	Descriptor      types.PriceDescriptor `json:"descriptor"`
	ForecastCount   int                   `json:"forecastCount"`

	// mean of today's settled import intervals, for forecast-vs-actual
	TodayAvgImportCents float64 `json:"todayAvgImportCents"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Version:  common.Version(),
		Health:   s.monitor.Status(),
		Decision: s.source.LatestDecision(),
		Plan:     s.source.CurrentPlan(),
	}
	resp.DailyCost = s.source.DailyCost()
	if snap := s.source.LatestSnapshot(); snap != nil {
		resp.Snapshot = &statusSnapshot{
			Timestamp:           snap.Timestamp,
			ImportPrice:         snap.CurrentImportPrice,
			ExportPrice:         snap.CurrentExportPrice,
			Battery:             snap.Battery,
			CurrentSolarKW:      snap.CurrentSolarKW,
			PredictedLoadKW:     snap.PredictedLoadKW,
			GridState:           snap.GridState,
			VPPEventActive:      snap.VPPEventActive,
			TariffPeriod:        snap.TariffPeriod,
			Descriptor:          snap.Descriptor,
			ForecastCount:       len(snap.PriceForecast),
			TodayAvgImportCents: forecast.TodayAvgImport(snap.PriceHistory),
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Ctx(r.Context()).WarnContext(r.Context(), "failed to encode status", slog.Any("error", err))
	}
}

// handleWS upgrades the connection and streams every subsequent decision as a
// JSON message.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Ctx(r.Context()).WarnContext(r.Context(), "websocket upgrade failed", slog.Any("error", err))
		return
	}

	s.mtx.Lock()
	s.subscribers[conn] = struct{}{}
	s.mtx.Unlock()

	// the stream is write-only; this read loop only notices disconnects
	go func() {
		defer s.dropSubscriber(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// Broadcast pushes a decision to every connected websocket client. Slow or
// dead clients are dropped rather than blocking the tick.
func (s *Server) Broadcast(ctx context.Context, d types.Decision) {
	payload, err := json.Marshal(d)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to marshal decision for broadcast", slog.Any("error", err))
		return
	}

	s.mtx.Lock()
	conns := make([]*websocket.Conn, 0, len(s.subscribers))
	for conn := range s.subscribers {
		conns = append(conns, conn)
	}
	s.mtx.Unlock()

	for _, conn := range conns {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			s.dropSubscriber(conn)
		}
	}
}

func (s *Server) dropSubscriber(conn *websocket.Conn) {
	s.mtx.Lock()
	if _, ok := s.subscribers[conn]; ok {
		delete(s.subscribers, conn)
		conn.Close()
	}
	s.mtx.Unlock()
}

func (s *Server) closeSubscribers() {
	s.mtx.Lock()
	for conn := range s.subscribers {
		conn.Close()
	}
	s.subscribers = map[*websocket.Conn]struct{}{}
	s.mtx.Unlock()
}
