package gateway

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"gorm.io/gorm"

	"tranchepool/archive"
	"tranchepool/native/credit"
	"tranchepool/native/pool"
)

// EpochCloser closes the pool's current epoch. The daemon wraps the pool so
// a gateway-triggered close also checkpoints and archives the result.
type EpochCloser interface {
	CloseEpoch() error
}

// Server is the read API plus a small guarded admin surface over a running
// pool. All monetary values are serialized as decimal strings.
type Server struct {
	pool    *pool.Pool
	credits *credit.Manager
	archive *archive.Archive
	closer  EpochCloser
	auth    *Authenticator
	limiter *RateLimiter
	log     *slog.Logger
}

func NewServer(p *pool.Pool, credits *credit.Manager, arch *archive.Archive, closer EpochCloser, auth *Authenticator, limiter *RateLimiter, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	if closer == nil {
		closer = p
	}
	return &Server{
		pool:    p,
		credits: credits,
		archive: arch,
		closer:  closer,
		auth:    auth,
		limiter: limiter,
		log:     log.With("component", "gateway"),
	}
}

// Handler assembles the chi router. The whole tree is wrapped in an otelhttp
// handler so every request carries a server span.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		s.get(r, "/pool", "pool", s.handlePool)
		s.get(r, "/pool/epoch", "pool_epoch", s.handleCurrentEpoch)
		s.get(r, "/pool/tranches", "pool_tranches", s.handleTranches)
		s.get(r, "/pool/tranches/{tranche}/epochs/{epoch}", "tranche_epoch_summary", s.handleTrancheEpochSummary)
		s.get(r, "/pool/events", "pool_events", s.handleEvents)
		s.get(r, "/lenders/{address}/tranches/{tranche}", "lender_position", s.handleLenderPosition)
		s.get(r, "/credits", "credits", s.handleCredits)
		s.get(r, "/credits/{borrower}", "credit", s.handleCredit)
		s.get(r, "/credits/{borrower}/due", "credit_due", s.handleCreditDue)
		s.get(r, "/epochs", "epoch_history", s.handleEpochHistory)
		s.get(r, "/epochs/{epoch}", "epoch_record", s.handleEpochRecord)
	})

	r.Route("/admin", func(r chi.Router) {
		if s.auth != nil {
			r.Use(s.auth.Middleware("pool:admin"))
		}
		s.post(r, "/epoch/close", "admin_close_epoch", s.handleCloseEpoch)
		s.post(r, "/tranches/{tranche}/process-yield", "admin_process_yield", s.handleProcessYield)
	})

	return otelhttp.NewHandler(r, "gateway")
}

func (s *Server) get(r chi.Router, pattern, route string, h http.HandlerFunc) {
	r.With(s.routeMiddleware(route)...).Get(pattern, h)
}

func (s *Server) post(r chi.Router, pattern, route string, h http.HandlerFunc) {
	r.With(s.routeMiddleware(route)...).Post(pattern, h)
}

func (s *Server) routeMiddleware(route string) []func(http.Handler) http.Handler {
	mws := []func(http.Handler) http.Handler{observe(route)}
	if s.limiter != nil {
		mws = append(mws, s.limiter.Middleware(route))
	}
	return mws
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// statusFor maps the domain errors surfaced through handlers onto HTTP
// status codes. Anything unrecognized is a 500.
func statusFor(err error) int {
	switch {
	case errors.Is(err, credit.ErrCreditNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return http.StatusNotFound
	case errors.Is(err, pool.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, pool.ErrEpochNotDue):
		return http.StatusConflict
	case errors.Is(err, pool.ErrInvalidTrancheIndex),
		errors.Is(err, pool.ErrInvalidAmount),
		errors.Is(err, pool.ErrZeroAddressProvided):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
