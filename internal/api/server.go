// Package api serves the HTTP surface: dispatch endpoints, spreadsheet import
// and export, session status, history, and the embedded web page.
package api

import (
	"context"
	"embed"
	"errors"
	"io/fs"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"bulksender/internal/dispatch"
	"bulksender/internal/messenger"
	logx "bulksender/pkg/logx"
)

//go:embed web
var webFS embed.FS

type Config struct {
	Addr              string
	ReadHeaderTimeout time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	AllowedOrigins    []string
	MaxUploadBytes    int64
	UploadDir         string
	DisableUI         bool
	Pprof             bool
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.Addr) == "" {
		c.Addr = ":5000"
	}
	if c.ReadHeaderTimeout <= 0 {
		c.ReadHeaderTimeout = 10 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 2 * time.Minute
	}
	if len(c.AllowedOrigins) == 0 {
		c.AllowedOrigins = []string{"*"}
	}
	if c.MaxUploadBytes <= 0 {
		c.MaxUploadBytes = 100 << 20
	}
	if strings.TrimSpace(c.UploadDir) == "" {
		c.UploadDir = "./uploads"
	}
	return c
}

// Relay is the dispatch capability the handlers drive.
type Relay interface {
	SendMedia(ctx context.Context, req dispatch.Request) ([]dispatch.Result, error)
	SendGroup(ctx context.Context, req dispatch.GroupRequest) (dispatch.GroupResult, error)
	Groups(ctx context.Context) ([]dispatch.Group, error)
}

type SessionReporter interface {
	Status() messenger.SessionStatus
}

// History serves stored dispatches. Nil disables the history endpoints.
type History interface {
	Recent(ctx context.Context, limit int) ([]dispatch.Record, error)
	Get(ctx context.Context, id string) (dispatch.Record, error)
}

type Deps struct {
	Relay   Relay
	Session SessionReporter
	History History
}

type Server struct {
	cfg     Config
	deps    Deps
	log     logx.Logger
	handler http.Handler

	mu   sync.Mutex
	addr string
}

func New(cfg Config, deps Deps, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Server{cfg: cfg.withDefaults(), deps: deps, log: log.With(logx.String("comp", "http"))}
	s.handler = s.routes()
	return s
}

func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", s.handleHealth)
	r.Get("/session", s.handleSession)

	r.Post("/send-media", s.handleSendMedia)
	r.Post("/send-group-message", s.handleSendGroup)
	r.Get("/get-groups", s.handleGroups)
	r.Post("/upload-excel", s.handleUploadExcel)
	r.Post("/export-report", s.handleExportReport)

	r.Route("/dispatches", func(hr chi.Router) {
		hr.Get("/", s.handleDispatches)
		hr.Get("/{id}/report", s.handleDispatchReport)
	})

	if s.cfg.Pprof {
		r.Mount("/debug", middleware.Profiler())
	}
	if !s.cfg.DisableUI {
		sub, err := fs.Sub(webFS, "web")
		if err == nil {
			r.Handle("/*", http.FileServer(http.FS(sub)))
		}
	}
	return r
}

// Run listens on Addr and serves until ctx is done, then drains for up to 10s.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
		IdleTimeout:       s.cfg.IdleTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.addr = ln.Addr().String()
	s.mu.Unlock()
	s.log.Info("http listening", logx.String("addr", s.Addr()), logx.Bool("ui", !s.cfg.DisableUI), logx.Bool("pprof", s.cfg.Pprof))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.log.Warn("http shutdown error", logx.Err(err))
	}
	<-errCh
	s.log.Info("http stopped")
	return nil
}

// Addr reports the actual listen address once Run has bound it.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		fields := []logx.Field{
			logx.String("method", r.Method),
			logx.String("path", r.URL.Path),
			logx.Int("status", status),
			logx.Int("bytes", ww.BytesWritten()),
			logx.Duration("dur", time.Since(start)),
			logx.String("req_id", middleware.GetReqID(r.Context())),
		}
		switch {
		case status >= 500:
			s.log.Warn("http request", fields...)
		case strings.HasPrefix(r.URL.Path, "/session"), strings.HasPrefix(r.URL.Path, "/healthz"):
			s.log.Trace("http request", fields...)
		default:
			s.log.Debug("http request", fields...)
		}
	})
}
