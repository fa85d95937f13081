// Package status serves a loopback HTTP API for inspecting a running
// notifier: health, Prometheus metrics, registered jobs, recent firings, a
// cron preview and a websocket feed of notifications.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/doughall/notifier/internal/cronexpr"
	"github.com/doughall/notifier/internal/history"
	"github.com/doughall/notifier/internal/instance"
	"github.com/doughall/notifier/internal/scheduler"
	"github.com/doughall/notifier/internal/sysinfo"
	"github.com/doughall/notifier/internal/version"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 1000
	defaultPreview      = 5
	maxPreview          = 100
)

// Jobs is the scheduler view the server reads.
type Jobs interface {
	Jobs() []scheduler.JobInfo
	Cursor() time.Time
	LastTick() time.Time
	Healthy(window time.Duration) bool
}

// History reads recent firings.
type History interface {
	Recent(limit int) ([]history.Record, error)
}

// Deps are the components behind the routes. Nil handlers leave their
// routes unmounted.
type Deps struct {
	Jobs         Jobs
	History      History
	Parser       *cronexpr.Parser
	Metrics      http.Handler
	Feed         http.Handler
	Host         *sysinfo.Host
	HealthWindow time.Duration
	Logger       *slog.Logger
}

// Server is the status HTTP server.
type Server struct {
	deps    Deps
	server  *http.Server
	started time.Time
	addr    net.Addr
}

// New builds the server. Call Start to listen.
func New(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Parser == nil {
		deps.Parser = cronexpr.NewParser(nil)
	}
	if deps.HealthWindow <= 0 {
		deps.HealthWindow = 3 * scheduler.DefaultPollInterval
	}
	return &Server{deps: deps, started: time.Now()}
}

// Router returns the route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth())
	if s.deps.Metrics != nil {
		r.Handle("/metrics", s.deps.Metrics)
	}
	if s.deps.Feed != nil {
		r.Handle("/ws", s.deps.Feed)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus())
		r.Get("/jobs", s.handleJobs())
		r.Get("/history", s.handleHistory())
		r.Get("/preview", s.handlePreview())
	})
	return r
}

// Start listens on addr and serves in the background.
func (s *Server) Start(addr string) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return fmt.Errorf("status: listen on %s: %w", addr, err)
	}
	s.addr = ln.Addr()
	s.server = &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		s.deps.Logger.Info("status server listening", "addr", s.addr.String())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.deps.Logger.Error("status server error", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address after Start.
func (s *Server) Addr() net.Addr { return s.addr }

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

type healthResponse struct {
	Status   string    `json:"status"`
	LastTick time.Time `json:"last_tick"`
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if s.deps.Jobs == nil {
			writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
			return
		}
		resp := healthResponse{Status: "ok", LastTick: s.deps.Jobs.LastTick()}
		code := http.StatusOK
		if !s.deps.Jobs.Healthy(s.deps.HealthWindow) {
			resp.Status = "stalled"
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, resp)
	}
}

type statusResponse struct {
	Version  string          `json:"version"`
	Uptime   string          `json:"uptime"`
	Jobs     int             `json:"jobs"`
	Cursor   time.Time       `json:"cursor"`
	LastTick time.Time       `json:"last_tick"`
	Host     *sysinfo.Host   `json:"host,omitempty"`
	Process  *instance.Usage `json:"process,omitempty"`
}

func (s *Server) handleStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := statusResponse{
			Version: version.Version,
			Uptime:  time.Since(s.started).Round(time.Second).String(),
			Host:    s.deps.Host,
		}
		if s.deps.Jobs != nil {
			resp.Jobs = len(s.deps.Jobs.Jobs())
			resp.Cursor = s.deps.Jobs.Cursor()
			resp.LastTick = s.deps.Jobs.LastTick()
		}
		if u, err := instance.Self(r.Context()); err == nil {
			resp.Process = &u
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

type jobJSON struct {
	ID     string     `json:"id"`
	Label  string     `json:"label"`
	Level  string     `json:"level"`
	Source string     `json:"source,omitempty"`
	Cron   string     `json:"cron"`
	Next   *time.Time `json:"next,omitempty"`
}

func (s *Server) handleJobs() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		jobs := []jobJSON{}
		if s.deps.Jobs != nil {
			for _, j := range s.deps.Jobs.Jobs() {
				item := jobJSON{
					ID:     j.ID.String(),
					Label:  j.Payload.Label,
					Level:  string(j.Payload.Level),
					Source: j.Payload.Source,
					Cron:   j.Schedule.String(),
				}
				if !j.Next.IsZero() {
					next := j.Next
					item.Next = &next
				}
				jobs = append(jobs, item)
			}
		}
		writeJSON(w, http.StatusOK, jobs)
	}
}

func (s *Server) handleHistory() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.deps.History == nil {
			writeJSON(w, http.StatusOK, []history.Record{})
			return
		}
		limit, err := intParam(r, "limit", defaultHistoryLimit, maxHistoryLimit)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		records, err := s.deps.History.Recent(limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if records == nil {
			records = []history.Record{}
		}
		writeJSON(w, http.StatusOK, records)
	}
}

type previewResponse struct {
	Cron     string      `json:"cron"`
	Valid    bool        `json:"valid"`
	Error    string      `json:"error,omitempty"`
	Template string      `json:"template,omitempty"`
	Next     []time.Time `json:"next,omitempty"`
}

func (s *Server) handlePreview() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		expr := r.URL.Query().Get("cron")
		n, err := intParam(r, "n", defaultPreview, maxPreview)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		resp := previewResponse{Cron: expr}
		sched, err := s.deps.Parser.Parse(expr)
		if err != nil {
			resp.Error = err.Error()
			resp.Template = cronexpr.Template
			writeJSON(w, http.StatusUnprocessableEntity, resp)
			return
		}
		resp.Valid = true
		resp.Next = cronexpr.Take(sched.Upcoming(time.Now()), n)
		writeJSON(w, http.StatusOK, resp)
	}
}

func intParam(r *http.Request, name string, def, limit int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", name, raw)
	}
	return min(n, limit), nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
