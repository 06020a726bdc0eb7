// Package server implements the gateway's public HTTP surface (spec.md
// §6.1), grounded on the teacher's pkg/server handler-group layout
// (*Handlers struct wrapping its dependencies, one file per concern,
// writeJSONError helper) with github.com/go-chi/chi/v5 in place of the
// teacher's bare http.ServeMux so path-parameter routes
// (/epoch/{id}/leads, /manifest/validator/{hk}) don't need manual
// strings.TrimPrefix parsing.
package server

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/leadpoet/validator-gateway/pkg/auth"
	"github.com/leadpoet/validator-gateway/pkg/chain"
	"github.com/leadpoet/validator-gateway/pkg/database"
	"github.com/leadpoet/validator-gateway/pkg/epoch"
	"github.com/leadpoet/validator-gateway/pkg/gatewayerr"
	"github.com/leadpoet/validator-gateway/pkg/leads"
	"github.com/leadpoet/validator-gateway/pkg/metrics"
	"github.com/leadpoet/validator-gateway/pkg/ratelimit"
	"github.com/leadpoet/validator-gateway/pkg/tee"
	"github.com/leadpoet/validator-gateway/pkg/validation"
)

// Server wires every handler group to its dependencies and exposes the
// assembled chi.Router. One Server is built once at startup (pkg/appctx)
// and never mutated afterward.
type Server struct {
	auth         *auth.Authenticator
	chainClient  chain.Client
	store        *validation.Store
	manifest     *validation.Manifest
	leadsCache   *leads.Cache
	leadRepo     *database.LeadRepository
	epochs       *database.EpochRepository
	evidence     *database.EvidenceRepository
	transparency *database.TransparencyRepository
	enclave      *tee.Enclave
	metrics      *metrics.Registry
	priority     *ratelimit.PriorityMiddleware
	logger       zerolog.Logger
}

// Deps bundles every Server dependency so New's call site stays a single
// readable literal instead of a long positional argument list.
type Deps struct {
	Auth         *auth.Authenticator
	Chain        chain.Client
	Store        *validation.Store
	Manifest     *validation.Manifest
	LeadsCache   *leads.Cache
	LeadRepo     *database.LeadRepository
	Epochs       *database.EpochRepository
	Evidence     *database.EvidenceRepository
	Transparency *database.TransparencyRepository
	Enclave      *tee.Enclave
	Metrics      *metrics.Registry
	Priority     *ratelimit.PriorityMiddleware
	Logger       zerolog.Logger
}

// New builds a Server from deps.
func New(deps Deps) *Server {
	return &Server{
		auth:         deps.Auth,
		chainClient:  deps.Chain,
		store:        deps.Store,
		manifest:     deps.Manifest,
		leadsCache:   deps.LeadsCache,
		leadRepo:     deps.LeadRepo,
		epochs:       deps.Epochs,
		evidence:     deps.Evidence,
		transparency: deps.Transparency,
		enclave:      deps.Enclave,
		metrics:      deps.Metrics,
		priority:     deps.Priority,
		logger:       deps.Logger.With().Str("component", "server").Logger(),
	}
}

// Router assembles the full public HTTP surface (spec.md §6.1).
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.metricsMiddleware)
	if s.priority != nil {
		r.Use(s.priority.Wrap)
	}

	r.Post("/submit", s.handleSubmit)

	r.Get("/epoch/current", s.handleEpochCurrent)
	r.Get("/epoch/{id}/info", s.handleEpochInfo)
	r.Get("/epoch/{id}/leads", s.handleEpochLeads)

	r.Post("/validate", s.handleValidate)
	r.Post("/reveal", s.handleReveal)
	r.Get("/reveal/stats", s.handleRevealStats)

	r.Post("/manifest", s.handleManifestSubmit)
	r.Get("/manifest/stats", s.handleManifestStats)
	r.Get("/manifest/validator/{hk}", s.handleManifestHistory)

	r.Get("/attestation/document", s.handleAttestationDocument)
	r.Get("/attestation/pubkey", s.handleAttestationPubkey)
	r.Get("/attestation/health", s.handleAttestationHealth)

	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		if s.metrics == nil {
			writeJSONError(w, http.StatusServiceUnavailable, "metrics not configured")
			return
		}
		s.metrics.Handler().ServeHTTP(w, r)
	})

	return r
}

// metricsMiddleware records request counts and latency by route, the way
// the teacher's handlers set Content-Type once per request rather than per
// write call.
func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.metrics == nil {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = r.URL.Path
		}
		status := statusClass(ww.Status())
		s.metrics.RequestsTotal.WithLabelValues(route, r.Method, status).Inc()
		s.metrics.RequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

func statusClass(code int) string {
	switch {
	case code == 0:
		return "200"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}

// currentEpochID derives the epoch a caller is acting within from the
// chain's current block height (spec.md §4.1: epoch_id = block_height / 360).
func (s *Server) currentEpochID(ctx context.Context) (int64, error) {
	epochID, _, err := s.currentBlockPosition(ctx)
	return epochID, err
}

// currentBlockPosition returns both the current epoch id and the caller's
// position within it, the pair pkg/validation.Store's Commit/Reveal windows
// are checked against (spec.md §4.3.2, §4.3.3).
func (s *Server) currentBlockPosition(ctx context.Context) (epochID, blockWithinEpoch int64, err error) {
	block, err := s.chainClient.CurrentBlock(ctx)
	if err != nil {
		return 0, 0, gatewayerr.Transient("fetch current block", err)
	}
	return block / epoch.BlocksPerEpoch, block % epoch.BlocksPerEpoch, nil
}

func hexEncode(b []byte) string {
	return hex.EncodeToString(b)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writeErr maps a gatewayerr.Error (or any error) to its taxonomy's HTTP
// status (spec.md §7) and writes the client-safe reason, logging the full
// cause internally.
func (s *Server) writeErr(w http.ResponseWriter, err error) {
	var ge *gatewayerr.Error
	if errors.As(err, &ge) {
		s.logger.Debug().Str("code", string(ge.Code)).Err(err).Msg("request failed")
		writeJSONError(w, gatewayerr.HTTPStatus(ge.Code), ge.Reason)
		return
	}
	s.logger.Error().Err(err).Msg("unclassified request failure")
	writeJSONError(w, http.StatusInternalServerError, "internal error")
}
