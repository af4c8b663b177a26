package api

import (
	"context"
	"net/http"
	"time"

	"github.com/soaringjerry/goodenergy/internal/logger"
	"github.com/soaringjerry/goodenergy/internal/middleware"
	"github.com/soaringjerry/goodenergy/internal/services"
	"github.com/soaringjerry/goodenergy/internal/worker"
)

// DayScheduler queues a recompute of one indicator, day and scope.
type DayScheduler interface {
	RequestDayRecompute(ctx context.Context, req worker.DayRecompute) (string, error)
}

// Services is everything the handlers call into.
type Services struct {
	Catalog     *services.Catalog
	Answers     *services.AnswerService
	Aggregates  *services.AggregateService
	Comparisons *services.ComparisonService
	Ranking     *services.RankingService
	// Days is optional. Without it POST /api/recompute only runs inline.
	Days DayScheduler
}

type BuildInfo struct {
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

type Router struct {
	svc   Services
	auth  *middleware.Authenticator
	log   *logger.Logger
	build BuildInfo
}

func NewRouter(svc Services, auth *middleware.Authenticator, log *logger.Logger, build BuildInfo) *Router {
	return &Router{svc: svc, auth: auth, log: log, build: build}
}

func (rt *Router) Register(mux *http.ServeMux) {
	protected := func(h http.HandlerFunc) http.Handler { return middleware.RequireAuth(h) }

	mux.Handle("POST /api/answers", protected(rt.handleSubmitAnswer))
	mux.Handle("GET /api/indicators/{id}/comparison", protected(rt.handleComparison))
	mux.Handle("GET /api/indicators/{id}/percentage", protected(rt.handlePercentage))
	mux.Handle("GET /api/indicators/{id}/participation", protected(rt.handleParticipation))
	mux.Handle("GET /api/campaigns/{id}/next", protected(rt.handleNextIndicator))
	mux.Handle("GET /api/campaigns/{id}/rank", protected(rt.handleRank))
	mux.Handle("POST /api/recompute", protected(rt.handleRecompute))

	mux.HandleFunc("GET /health", rt.handleHealth)
	mux.HandleFunc("GET /version", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, rt.build)
	})
}

// Handler returns the mux wrapped in the standard middleware chain.
func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	rt.Register(mux)
	var h http.Handler = mux
	h = rt.auth.WithAuth(h)
	h = rt.logRequests(h)
	h = middleware.NoStore(h)
	h = middleware.CORS(h)
	return middleware.SecureHeaders(h)
}

func (rt *Router) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":         true,
		"name":       "Good Energy API",
		"commit":     rt.build.Commit,
		"build_time": rt.build.BuildTime,
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (rt *Router) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		rt.log.WithRequest(r).
			WithField("status", rec.status).
			WithField("duration_ms", time.Since(start).Milliseconds()).
			Info("request")
	})
}

// actor returns the caller or writes 401.
func actor(w http.ResponseWriter, r *http.Request) (middleware.Actor, bool) {
	a, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", nil)
	}
	return a, ok
}
