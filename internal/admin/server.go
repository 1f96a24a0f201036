package admin

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"net/http"
	"strconv"
	"time"

	"enginesim-orchestrator/internal/run"
	"enginesim-orchestrator/internal/supervisor"
)

// Server is the operator-facing control surface over the orchestrator and
// the crash supervisor.
type Server struct {
	Orch *run.Orchestrator
	Sup  *supervisor.Supervisor
	tpl  *template.Template
}

//go:embed templates/index.html
var content embed.FS

// NewServer wires the control surface to its collaborators.
func NewServer(orch *run.Orchestrator, sup *supervisor.Supervisor) *Server {
	tpl := template.Must(template.New("index.html").ParseFS(content, "templates/index.html"))
	return &Server{Orch: orch, Sup: sup, tpl: tpl}
}

func (s *Server) routes(mux *http.ServeMux) {
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/runs", s.handleRuns)
	mux.HandleFunc("/runs/start", s.handleStart)
	mux.HandleFunc("/runs/stop", s.handleStop)
	mux.HandleFunc("/crashes", s.handleCrashes)
	mux.HandleFunc("/recovery-config", s.handleRecoveryConfig)
	mux.HandleFunc("/healthz", s.handleHealthz)
}

// Start serves until ctx is cancelled, then shuts the listener down.
func (s *Server) Start(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	s.routes(mux)
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	return srv.ListenAndServe()
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	data := struct {
		Runs     []run.RunInfo
		Crashes  []supervisor.CrashReport
		Recovery recoveryConfigPayload
	}{
		Runs:     s.Orch.ActiveRuns(),
		Crashes:  s.Sup.History(),
		Recovery: toPayload(s.Sup.Config()),
	}
	s.tpl.Execute(w, data)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.Orch.ActiveRuns())
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	cfg := run.RunConfig{
		ID:        q.Get("id"),
		InputPath: q.Get("input"),
		OutputDir: q.Get("output"),
	}
	if ms, err := strconv.Atoi(q.Get("timeout_ms")); err == nil && ms > 0 {
		cfg.Timeout = time.Duration(ms) * time.Millisecond
	}
	if cfg.ID == "" || cfg.InputPath == "" || cfg.OutputDir == "" {
		http.Error(w, "id, input, and output are required", http.StatusBadRequest)
		return
	}
	if err := s.Orch.StartRun(cfg); err != nil {
		http.Error(w, err.Error(), startErrorStatus(err))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]any{"id": cfg.ID, "status": "running"})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}
	id := r.URL.Query().Get("id")
	if err := s.Orch.StopRun(id); err != nil {
		if errors.Is(err, run.ErrNotRunning) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleCrashes(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.Sup.History())
}

// recoveryConfigPayload is the wire form of the recovery policy, durations
// in milliseconds as the operators expect.
type recoveryConfigPayload struct {
	MaxRetries                int  `json:"max_retries"`
	RetryDelayMs              int  `json:"retry_delay_ms"`
	ExponentialBackoff        bool `json:"exponential_backoff"`
	CrashRateThresholdPerHour int  `json:"crash_rate_threshold_per_hour"`
	AutoRestart               bool `json:"auto_restart"`
	GracefulShutdownTimeoutMs int  `json:"graceful_shutdown_timeout_ms"`
}

func toPayload(cfg supervisor.RecoveryConfig) recoveryConfigPayload {
	return recoveryConfigPayload{
		MaxRetries:                cfg.MaxRetries,
		RetryDelayMs:              int(cfg.RetryDelay / time.Millisecond),
		ExponentialBackoff:        cfg.ExponentialBackoff,
		CrashRateThresholdPerHour: cfg.CrashRateThresholdPerHour,
		AutoRestart:               cfg.AutoRestart,
		GracefulShutdownTimeoutMs: int(cfg.GracefulShutdownTimeout / time.Millisecond),
	}
}

func fromPayload(p recoveryConfigPayload) supervisor.RecoveryConfig {
	return supervisor.RecoveryConfig{
		MaxRetries:                p.MaxRetries,
		RetryDelay:                time.Duration(p.RetryDelayMs) * time.Millisecond,
		ExponentialBackoff:        p.ExponentialBackoff,
		CrashRateThresholdPerHour: p.CrashRateThresholdPerHour,
		AutoRestart:               p.AutoRestart,
		GracefulShutdownTimeout:   time.Duration(p.GracefulShutdownTimeoutMs) * time.Millisecond,
	}
}

func (s *Server) handleRecoveryConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(toPayload(s.Sup.Config()))
	case http.MethodPost, http.MethodPut:
		var p recoveryConfigPayload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			http.Error(w, "invalid config payload", http.StatusBadRequest)
			return
		}
		s.Sup.SetConfig(fromPayload(p))
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "GET or POST required", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":            "ok",
		"active_runs":       len(s.Orch.ListRunning()),
		"crashes_last_hour": s.Sup.CrashesWithin(time.Hour),
	})
}

func startErrorStatus(err error) int {
	switch {
	case errors.Is(err, run.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, run.ErrInputNotFound):
		return http.StatusNotFound
	case errors.Is(err, run.ErrResourceUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
