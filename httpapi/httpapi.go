// Package httpapi implements the universal intake HTTP surface (spec.md
// §6): POST /intake, GET /intake/health, GET /health, GET /metrics. Built
// on github.com/go-chi/chi/v5, github.com/go-chi/httprate, and
// go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp, the same
// router/rate-limit/tracing combination the example pack's news gateway
// wires together.
package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/chittyos/chittyrouter-sub005/capability"
	"github.com/chittyos/chittyrouter-sub005/email"
	"github.com/chittyos/chittyrouter-sub005/normalize"
	"github.com/chittyos/chittyrouter-sub005/pipeline"
)

const version = "chittyrouter-sub005"

var supportedKinds = []email.Kind{
	email.KindEmail, email.KindPDF, email.KindVoice, email.KindAPI,
	email.KindJSON, email.KindURL, email.KindSMS, email.KindImage,
	email.KindVideo, email.KindText,
}

// Server wires the Coordinator and Admission gate into chi routes.
type Server struct {
	coordinator *pipeline.Coordinator
	admission   *pipeline.Admission
	router      chi.Router
}

// New builds a Server. admissionRatePerMin bounds /intake's per-IP
// request rate (distinct from, and in addition to, max_inflight's
// concurrency cap), per SPEC_FULL.md §6.
func New(coordinator *pipeline.Coordinator, admission *pipeline.Admission, admissionRatePerMin int) *Server {
	s := &Server{coordinator: coordinator, admission: admission}
	s.router = s.routes(admissionRatePerMin)
	return s
}

// Handler returns the wrapped http.Handler, instrumented with OpenTelemetry.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.router, "chittyrouter")
}

func (s *Server) routes(admissionRatePerMin int) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(35 * time.Second))

	r.Get("/health", s.handleHealth)
	r.Get("/metrics", s.handleMetrics)
	r.Get("/intake/health", s.handleIntakeHealth)

	r.Group(func(r chi.Router) {
		if admissionRatePerMin <= 0 {
			admissionRatePerMin = 600
		}
		r.Use(httprate.LimitByIP(admissionRatePerMin, time.Minute))
		r.Post("/intake", s.handleIntake)
	})

	return r
}

type intakeRequest struct {
	Input   json.RawMessage  `json:"input"`
	Options *intakeOptions   `json:"options,omitempty"`
}

type intakeOptions struct {
	Kind   string `json:"kind,omitempty"`
	Source string `json:"source,omitempty"`
}

type intakeResponse struct {
	ID          string          `json:"id"`
	Kind        email.Kind      `json:"kind"`
	Identity    string          `json:"identity,omitempty"`
	Attribution []string        `json:"attribution,omitempty"`
	Storage     storageResponse `json:"storage"`
	Routing     routingResponse `json:"routing"`
	Timestamp   time.Time       `json:"timestamp"`
}

type storageResponse struct {
	Tier  string   `json:"tier"`
	Sinks []string `json:"sinks"`
}

type routingResponse struct {
	Destinations []string `json:"destinations"`
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	ID      string `json:"id,omitempty"`
}

func (s *Server) handleIntake(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if s.admission != nil {
		if err := s.admission.Acquire(ctx); err != nil {
			writeError(w, http.StatusServiceUnavailable, "admission_timeout", "")
			return
		}
		defer s.admission.Release()
	}

	var req intakeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "schema_violation", "")
		return
	}

	in := normalize.Input{
		Received: time.Now().UTC(),
		RawJSON:  req.Input,
	}
	if req.Options != nil {
		in.Kind = email.Kind(req.Options.Kind)
		in.Source = req.Options.Source
	}

	result := s.coordinator.Run(ctx, in)
	env := result.Envelope

	resp := intakeResponse{
		ID:          env.ID,
		Kind:        env.Kind,
		Identity:    env.Identity,
		Attribution: result.Reasons,
		Storage:     storageResponse{Tier: result.Routing.Tier, Sinks: result.Routing.Sinks},
		Routing:     routingResponse{Destinations: destinationStrings(result.Routing.Destinations)},
		Timestamp:   time.Now().UTC(),
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleIntakeHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "healthy",
		"supportedTypes": supportedKinds,
		"version":        version,
		"timestamp":      time.Now().UTC(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"services":  map[string]string{},
		"version":   version,
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	// Counter values are exported via the OpenTelemetry meter's own
	// registered reader/exporter; this endpoint is a liveness stub for
	// scrape-free deployments.
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, token, id string) {
	writeJSON(w, status, errorResponse{Success: false, Error: token, ID: id})
}

func destinationStrings(dests []capability.Destination) []string {
	out := make([]string, len(dests))
	for i, d := range dests {
		out[i] = d.Address
	}
	return out
}
