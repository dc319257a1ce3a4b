package web

import (
	"context"
	"errors"
	"io/fs"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/cjeanneret/CapGo/internal/debug"
)

// Server wraps the HTTP server and handlers.
type Server struct {
	addr     string
	handlers *Handlers
	log      zerolog.Logger
}

// NewServer creates a server for addr. The embedded static/ tree is used
// when h has no static filesystem.
func NewServer(addr string, h *Handlers) (*Server, error) {
	if h.staticFS == nil {
		subFS, err := fs.Sub(staticFiles, "static")
		if err != nil {
			return nil, err
		}
		h.staticFS = subFS
	}
	return &Server{addr: addr, handlers: h, log: debug.Component("web")}, nil
}

// Router returns an http.Handler with all routes registered.
func (s *Server) Router() http.Handler {
	h := s.handlers
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.requestLog)

	r.Get("/", h.ServeIndex)
	r.Get("/config", h.HandleConfig)
	r.Get("/status", h.HandleStatus)
	r.Get("/status/stream", h.HandleStatusStream)
	r.Get("/result", h.HandleResult)
	r.Get("/result/photo", h.HandleResultPhoto)
	r.Handle("/metrics", promhttp.Handler())
	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(h.staticFS))))

	r.Group(func(r chi.Router) {
		r.Use(h.RateLimit)
		r.Post("/photo", h.HandlePhoto)
		r.Post("/recording/start", h.HandleRecordingStart)
		r.Post("/recording/stop", h.HandleRecordingStop)
		r.Post("/switch", h.HandleSwitch)
		r.Post("/focus", h.HandleFocus)
		r.Post("/result/use", h.HandleUse)
		r.Post("/result/discard", h.HandleDiscard)
	})
	// Pinch updates arrive per touch move; they are not rate limited.
	r.Post("/zoom", h.HandleZoom)

	return r
}

func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Trace().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("http")
	})
}

// Run starts the server and blocks until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		// Streams end with ctx so Shutdown does not wait on them.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.addr).Msg("web server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
