// Package api serves the trigger invocation contract over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/roach88/crewflow/internal/engine"
	"github.com/roach88/crewflow/internal/model"
	"github.com/roach88/crewflow/internal/registry"
)

// MaxBodyBytes caps a trigger request body.
const MaxBodyBytes = 1 << 20

// Triggerer runs a trigger invocation. Implemented by *engine.Engine.
type Triggerer interface {
	Trigger(ctx context.Context, object model.EntityType, event model.TriggerEvent, req engine.TriggerRequest) (engine.TriggerResponse, error)
}

// Readiness reports whether definitions have loaded. Implemented by
// *registry.Registry.
type Readiness interface {
	Loaded() bool
}

// AuditReader lists the audit trail of one business record. Implemented
// by *store.Store.
type AuditReader interface {
	ListAudit(ctx context.Context, tableName, recordID string) ([]model.AuditLogEntry, error)
}

// Pinger checks the store is reachable. Implemented by *store.Store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options configures a Server.
type Options struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Metrics, when set, is served at /metrics.
	Metrics http.Handler

	// Audit, when set, enables GET /v1/audit/{table}/{recordId}.
	Audit AuditReader

	// Store, when set, is pinged by /healthz.
	Store Pinger
}

// Server is the HTTP surface of the orchestrator.
type Server struct {
	http.Server
	triggers Triggerer
	ready    Readiness
	audit    AuditReader
	store    Pinger
}

// NewServer wires the routes.
func NewServer(triggers Triggerer, ready Readiness, opts Options) *Server {
	s := &Server{
		Server: http.Server{
			Addr:              opts.Addr,
			ReadTimeout:       opts.ReadTimeout,
			ReadHeaderTimeout: opts.ReadTimeout,
			WriteTimeout:      opts.WriteTimeout,
		},
		triggers: triggers,
		ready:    ready,
		audit:    opts.Audit,
		store:    opts.Store,
	}

	router := mux.NewRouter()
	router.HandleFunc("/v1/triggers/{object}/{event}", s.HandleTrigger).Methods(http.MethodPost)
	router.HandleFunc("/healthz", s.HandleHealth).Methods(http.MethodGet)
	if opts.Audit != nil {
		router.HandleFunc("/v1/audit/{table}/{recordId}", s.HandleAudit).Methods(http.MethodGet)
	}
	if opts.Metrics != nil {
		router.Handle("/metrics", opts.Metrics).Methods(http.MethodGet)
	}
	router.Use(loggingMiddleware)
	s.Handler = router
	return s
}

// Start listens until Stop is called.
func (s *Server) Start() error {
	slog.Info("http server listening", "addr", s.Addr)
	if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop drains in-flight requests.
func (s *Server) Stop(ctx context.Context) error {
	slog.Info("stopping http server")
	return s.Shutdown(ctx)
}

// HandleTrigger implements POST /v1/triggers/{object}/{event}.
//
// 400 for a malformed body or invocation, 503 while no definition
// snapshot has loaded, 200 otherwise, including when actions failed.
func (s *Server) HandleTrigger(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	defer r.Body.Close()

	req, err := DecodeTriggerRequest(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "INVALID_BODY", "", err.Error())
		return
	}

	resp, err := s.triggers.Trigger(r.Context(), model.EntityType(vars["object"]), model.TriggerEvent(vars["event"]), req)
	if err != nil {
		var ve *engine.ValidationError
		switch {
		case errors.As(err, &ve):
			respondWithError(w, http.StatusBadRequest, string(ve.Code), ve.Field, ve.Message)
		case errors.Is(err, registry.ErrNotLoaded):
			slog.Error("trigger rejected: no definitions loaded", "error", err)
			respondWithError(w, http.StatusServiceUnavailable, "REGISTRY_UNAVAILABLE", "", "workflow definitions are not loaded")
		default:
			slog.Error("trigger failed", "object", vars["object"], "event", vars["event"], "error", err)
			respondWithError(w, http.StatusInternalServerError, "INTERNAL", "", "trigger evaluation failed")
		}
		return
	}
	respondWithJSON(w, http.StatusOK, resp)
}

// HandleHealth reports readiness: definitions loaded and store reachable.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil && !s.ready.Loaded() {
		respondWithJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "loading"})
		return
	}
	if s.store != nil {
		if err := s.store.Ping(r.Context()); err != nil {
			slog.Error("health check: store unreachable", "error", err)
			respondWithJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "store_unavailable"})
			return
		}
	}
	respondWithJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// HandleAudit implements GET /v1/audit/{table}/{recordId}.
func (s *Server) HandleAudit(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	table := vars["table"]
	if object, err := model.ParseEntityType(table); err == nil {
		table = string(object)
	}
	entries, err := s.audit.ListAudit(r.Context(), table, vars["recordId"])
	if err != nil {
		slog.Error("list audit", "table", table, "record_id", vars["recordId"], "error", err)
		respondWithError(w, http.StatusInternalServerError, "INTERNAL", "", "audit lookup failed")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		slog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// DecodeTriggerRequest reads a JSON trigger request. Numbers decode as
// int64 when integral and float64 otherwise.
func DecodeTriggerRequest(r io.Reader) (engine.TriggerRequest, error) {
	var req engine.TriggerRequest
	dec := json.NewDecoder(r)
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		return engine.TriggerRequest{}, err
	}
	normalizeNumbers(req.Changes)
	normalizeNumbers(req.PreviousValues)
	normalizeNumbers(req.Record)
	for _, rec := range req.Related {
		normalizeNumbers(rec)
	}
	return req, nil
}

// normalizeNumbers turns json.Number values into int64 or float64 so
// conditions compare them like values read from the store.
func normalizeNumbers(m map[string]any) {
	for k, v := range m {
		m[k] = normalizeValue(v)
	}
}

func normalizeValue(v any) any {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		f, _ := x.Float64()
		return f
	case map[string]any:
		normalizeNumbers(x)
		return x
	case []any:
		for i := range x {
			x[i] = normalizeValue(x[i])
		}
		return x
	}
	return v
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
	Field string `json:"field,omitempty"`
}

func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	response, err := json.Marshal(payload)
	if err != nil {
		slog.Error("encode response", "error", err)
		code = http.StatusInternalServerError
		response = []byte(`{"error":"encode response","code":"INTERNAL"}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(response)
}

func respondWithError(w http.ResponseWriter, status int, code, field, message string) {
	respondWithJSON(w, status, errorBody{Error: message, Code: code, Field: field})
}
