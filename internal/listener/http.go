package listener

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"dogbridge/internal/schema"
)

// Server exposes the task API the forwarder dispatches to.
type Server struct {
	service *Service
	logs    *LogBuffer
	log     *zap.Logger
}

func NewServer(service *Service, logs *LogBuffer, log *zap.Logger) *Server {
	return &Server{service: service, logs: logs, log: log}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/execute", s.handleExecute)
	mux.HandleFunc("/result", s.handleResult)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/emergency_stop", s.handleEmergencyStop)
	mux.HandleFunc("/logs", s.handleLogs)
	return mux
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	var env schema.Envelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		writeError(w, http.StatusBadRequest, "malformed envelope: "+err.Error())
		return
	}
	id, err := s.service.Submit(env)
	if err != nil {
		if id == "" {
			// Never made it into the store; the envelope itself is bad.
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		// Stored but not queued. The record is already failed, so the
		// caller can still poll it, but acceptance would be a lie.
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	s.log.Info("task accepted", zap.String("task_id", id), zap.Int("actions", len(env.Actions)))
	writeJSON(w, http.StatusOK, schema.SubmitResponse{TaskID: id, Status: "accepted"})
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("task_id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "task_id is required")
		return
	}
	task, ok := s.service.Task(id)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown task_id")
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleEmergencyStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	cancelled := s.service.EmergencyStop()
	writeJSON(w, http.StatusOK, map[string]any{"status": "stopped", "cancelled": cancelled})
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	var since uint64
	if raw := r.URL.Query().Get("since"); raw != "" {
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be a sequence number")
			return
		}
		since = n
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": s.logs.Since(since)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// Options configures a listener process.
type Options struct {
	Addr       string
	MotionIP   string
	MotionPort int
	Logs       *LogBuffer
	Log        *zap.Logger

	// Link overrides the UDP actuator; tests inject fakes here.
	Link ActuatorLink
}

// Run wires the store, worker, actuator heartbeat and HTTP server
// together and blocks until ctx is cancelled or a component fails.
func Run(ctx context.Context, opts Options) error {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Logs == nil {
		opts.Logs = NewLogBuffer(0)
	}

	link := opts.Link
	if link == nil {
		udp, err := DialUDP(opts.MotionIP, opts.MotionPort, log)
		if err != nil {
			return err
		}
		link = udp
	}
	defer link.Close()

	store := NewTaskStore()
	service := NewService(store, link, log)
	srv := &http.Server{
		Addr:              opts.Addr,
		Handler:           NewServer(service, opts.Logs, log).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return service.Run(gctx) })
	if hb, ok := link.(interface {
		RunHeartbeat(context.Context) error
	}); ok {
		g.Go(func() error { return hb.RunHeartbeat(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		log.Info("listener serving", zap.String("addr", opts.Addr))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	return g.Wait()
}
