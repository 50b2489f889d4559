// Package server exposes a Manager over HTTP for inspection and manual
// coordination.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/riandyrn/otelchi"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	otelchimetric "github.com/riandyrn/otelchi/metric"

	"github.com/kalbasit/actionlock/pkg/lock"
	"github.com/kalbasit/actionlock/pkg/lock/manager"
	"github.com/kalbasit/actionlock/pkg/lock/registry"
)

const (
	routeLocks         = "/locks"
	routeStrategies    = "/strategies"
	routeMetrics       = "/metrics"
	routeBoundary      = "/boundaries/{boundary}"
	routeBoundaryLocks = "/boundaries/{boundary}/locks"
	routeBoundaryLock  = "/boundaries/{boundary}/locks/{uniqueID}"

	contentType     = "Content-Type"
	contentTypeJSON = "application/json"

	tracerName = "github.com/kalbasit/actionlock/pkg/server"
)

// ErrUnknownLock is returned when a release names a lock the server does not
// hold a handle for.
var ErrUnknownLock = errors.New("unknown lock")

// Server represents the main HTTP server.
type Server struct {
	manager *manager.Manager
	router  *chi.Mux

	tracer trace.Tracer

	// handles of the locks acquired through the server, by unique id.
	handles *xsync.MapOf[uuid.UUID, *manager.Handle]

	// bookkeeping serializes acquisitions per boundary with the handle
	// updates they cause.
	bookkeeping *xsync.MapOf[lock.Boundary, *sync.Mutex]

	gatherer prometheus.Gatherer
}

// New returns a new server.
func New(m *manager.Manager) *Server {
	s := &Server{
		manager: m,
		tracer:  otel.Tracer(tracerName),
		handles: xsync.NewMapOf[uuid.UUID, *manager.Handle](),

		bookkeeping: xsync.NewMapOf[lock.Boundary, *sync.Mutex](),
	}

	s.createRouter()

	return s
}

// SetPrometheusGatherer enables GET /metrics. It must be called before the
// server starts handling requests.
func (s *Server) SetPrometheusGatherer(g prometheus.Gatherer) { s.gatherer = g }

// ServeHTTP implements http.Handler and turns the Server type into a handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.router.ServeHTTP(w, r) }

func (s *Server) createRouter() {
	s.router = chi.NewRouter()

	mp := otel.GetMeterProvider()
	baseCfg := otelchimetric.NewBaseConfig(tracerName, otelchimetric.WithMeterProvider(mp))

	s.router.Use(middleware.Heartbeat("/healthz"))
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)
	s.router.Use(
		otelchi.Middleware(tracerName, otelchi.WithChiRoutes(s.router)),
		otelchimetric.NewRequestDurationMillis(baseCfg),
		otelchimetric.NewRequestInFlight(baseCfg),
		otelchimetric.NewResponseSizeBytes(baseCfg),
	)
	s.router.Use(requestLogger)

	s.router.Get(routeLocks, s.getLocks)
	s.router.Delete(routeLocks, s.deleteLocks)

	s.router.Get(routeStrategies, s.getStrategies)

	s.router.Get(routeMetrics, s.getMetrics)

	s.router.Post(routeBoundaryLocks, s.postLock)
	s.router.Delete(routeBoundaryLock, s.deleteLock)
	s.router.Delete(routeBoundary, s.deleteBoundary)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startedAt := time.Now()

		span := trace.SpanFromContext(r.Context())

		log := zerolog.Ctx(r.Context()).With().
			Str("method", r.Method).
			Str("request-uri", r.RequestURI).
			Str("from", r.RemoteAddr).
			Logger()

		if span.SpanContext().HasTraceID() {
			log = log.
				With().
				Str("trace-id", span.SpanContext().TraceID().String()).
				Logger()
		}

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			log.Info().
				Int("status", ww.Status()).
				Dur("elapsed", time.Since(startedAt)).
				Int("bytes", ww.BytesWritten()).
				Msg("handled request")
		}()

		// embed the modified logger in the request.
		r = r.WithContext(log.WithContext(r.Context()))

		next.ServeHTTP(ww, r)
	})
}

func (s *Server) getLocks(w http.ResponseWriter, r *http.Request) {
	snapshot := s.manager.CurrentLocks(r.Context())

	body := make(map[lock.StrategyID]map[lock.Boundary][]lockView, len(snapshot))
	for id, byBoundary := range snapshot {
		body[id] = make(map[lock.Boundary][]lockView, len(byBoundary))

		for b, ds := range byBoundary {
			views := make([]lockView, len(ds))
			for i, d := range ds {
				views[i] = newLockView(d)
			}

			body[id][b] = views
		}
	}

	writeJSON(w, r, http.StatusOK, body)
}

func (s *Server) deleteLocks(w http.ResponseWriter, r *http.Request) {
	s.manager.CleanUp(r.Context())
	s.handles.Clear()

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) getStrategies(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, s.manager.Registry(r.Context()).Info())
}

func (s *Server) getMetrics(w http.ResponseWriter, r *http.Request) {
	if s.gatherer == nil {
		http.NotFound(w, r)

		return
	}

	promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}).ServeHTTP(w, r)
}

func (s *Server) postLock(w http.ResponseWriter, r *http.Request) {
	boundary := lock.Boundary(chi.URLParam(r, "boundary"))

	ctx, span := s.tracer.Start(
		r.Context(),
		"postLock",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("boundary", boundary.String()),
		),
	)
	defer span.End()

	var req lockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)

		return
	}

	d, err := req.descriptor()
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)

		return
	}

	outcome, handle, err := s.acquire(ctx, boundary, d)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, registry.ErrStrategyNotRegistered) {
			status = http.StatusNotFound
		}

		writeError(w, r, status, err)

		return
	}

	resp := newLockResponse(d, outcome)

	if handle == nil {
		writeJSON(w, r, http.StatusConflict, resp)

		return
	}

	writeJSON(w, r, http.StatusCreated, resp)
}

// acquire runs Manager.Acquire and records the new handle while dropping the
// handles of the locks it cancelled, with no other acquisition on boundary in
// between.
func (s *Server) acquire(
	ctx context.Context,
	boundary lock.Boundary,
	d lock.Descriptor,
) (lock.Outcome, *manager.Handle, error) {
	mu, _ := s.bookkeeping.LoadOrCompute(boundary, func() *sync.Mutex { return &sync.Mutex{} })

	mu.Lock()
	defer mu.Unlock()

	outcome, handle, err := s.manager.Acquire(ctx, boundary, d)
	if err != nil {
		return outcome, nil, err
	}

	for _, p := range outcome.Preceding {
		s.handles.Delete(p.Descriptor.UniqueID())
	}

	if handle != nil {
		s.handles.Store(d.UniqueID(), handle)
	}

	return outcome, handle, nil
}

func (s *Server) deleteLock(w http.ResponseWriter, r *http.Request) {
	boundary := lock.Boundary(chi.URLParam(r, "boundary"))

	uniqueID, err := uuid.Parse(chi.URLParam(r, "uniqueID"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)

		return
	}

	var delay time.Duration

	if v := r.URL.Query().Get("delay"); v != "" {
		delay, err = time.ParseDuration(v)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, err)

			return
		}
	}

	name := r.URL.Query().Get("policy")
	if name == "" && delay > 0 {
		name = "delayed"
	}

	policy, err := lock.ParseUnlockPolicy(name, delay)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)

		return
	}

	var handle *manager.Handle

	s.handles.Compute(uniqueID, func(h *manager.Handle, loaded bool) (*manager.Handle, bool) {
		if !loaded || h.Boundary() != boundary {
			return h, !loaded
		}

		handle = h

		return nil, true
	})

	if handle == nil {
		writeError(w, r, http.StatusNotFound, ErrUnknownLock)

		return
	}

	if name != "" {
		handle.ReleaseWith(r.Context(), policy)
	} else {
		handle.Release(r.Context())
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) deleteBoundary(w http.ResponseWriter, r *http.Request) {
	boundary := lock.Boundary(chi.URLParam(r, "boundary"))

	mu, _ := s.bookkeeping.LoadOrCompute(boundary, func() *sync.Mutex { return &sync.Mutex{} })

	mu.Lock()
	defer mu.Unlock()

	s.manager.CleanUpBoundary(r.Context(), boundary)

	s.handles.Range(func(id uuid.UUID, h *manager.Handle) bool {
		if h.Boundary() == boundary {
			s.handles.Delete(id)
		}

		return true
	})

	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, body any) {
	w.Header().Set(contentType, contentTypeJSON)
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		zerolog.Ctx(r.Context()).
			Error().
			Err(err).
			Msg("error writing the response")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	zerolog.Ctx(r.Context()).
		Debug().
		Err(err).
		Int("status", status).
		Msg("request failed")

	writeJSON(w, r, status, errorResponse{Error: err.Error()})
}
