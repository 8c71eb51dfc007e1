// Package api provides the docanchor HTTP API: document annotation, journal
// and snapshot access, and a websocket feed of annotation events.
package api

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/FocuswithJustin/docanchor/core/annotate"
	"github.com/FocuswithJustin/docanchor/core/cache"
	"github.com/FocuswithJustin/docanchor/core/cas"
	"github.com/FocuswithJustin/docanchor/core/journal"
	"github.com/FocuswithJustin/docanchor/internal/logging"
	"github.com/FocuswithJustin/docanchor/internal/pipeline"
	"github.com/FocuswithJustin/docanchor/internal/server"
)

// Server serves the API over a store and journal.
type Server struct {
	cfg      Config
	store    *cas.Store
	journal  *journal.Journal
	pipeline *pipeline.Pipeline
	hub      *Hub
	limiter  *RateLimiter
	// snapshots caches decompressed blobs by SHA-256; nil when disabled.
	snapshots *cache.LRU[string, []byte]
	started   time.Time
}

// NewServer wires a server. The caller owns store and j.
func NewServer(cfg Config, store *cas.Store, j *journal.Journal) (*Server, error) {
	if store == nil || j == nil {
		return nil, fmt.Errorf("api: store and journal are required")
	}
	if err := ValidateAuthConfig(cfg.Auth); err != nil {
		return nil, fmt.Errorf("invalid auth config: %w", err)
	}

	hub := NewHub()
	s := &Server{
		cfg:     cfg,
		store:   store,
		journal: j,
		hub:     hub,
		started: time.Now(),
	}
	s.pipeline = &pipeline.Pipeline{
		Store:   store,
		Journal: j,
		Options: pipeline.Options{
			Annotate: annotate.Options{
				Strict:        cfg.Strict,
				MaxParagraphs: cfg.MaxParagraphs,
				DefaultAuthor: cfg.DefaultAuthor,
				Logger:        logging.GetLogger(),
			},
		},
		Notify: hub.Publish,
	}
	if cfg.SnapshotCacheBytes >= 0 {
		cc := cache.DefaultConfig()
		if cfg.SnapshotCacheBytes > 0 {
			cc.MaxBytes = cfg.SnapshotCacheBytes
		}
		s.snapshots = cache.Bytes[string](cc)
	}
	if cfg.RateLimitRequests > 0 {
		rl := RateLimiterConfig{
			RequestsPerMinute: cfg.RateLimitRequests,
			BurstSize:         cfg.RateLimitBurst,
		}
		if rl.BurstSize == 0 {
			rl.BurstSize = 10
		}
		s.limiter = NewRateLimiter(rl)
	}
	return s, nil
}

// Close stops background work owned by the server. The store and journal
// stay open.
func (s *Server) Close() {
	if s.limiter != nil {
		s.limiter.Stop()
	}
}

// Hub returns the server's websocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns the routed handler with the middleware chain applied.
func (s *Server) Handler() http.Handler {
	var handler http.Handler = server.SecurityHeadersWithCSP(server.APICSPConfig(), s.routes())

	if s.cfg.Auth.Enabled {
		handler = AuthMiddleware(s.cfg.Auth, handler)
	}
	if s.limiter != nil {
		handler = s.limiter.Middleware(handler)
	}
	handler = server.CORSMiddlewareWithConfig(server.CORSConfig{AllowedOrigins: s.cfg.AllowedOrigins}, handler)
	return logging.CombinedMiddleware(handler)
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /annotate", s.handleAnnotate)
	mux.HandleFunc("GET /journal", s.handleJournal)
	mux.HandleFunc("GET /journal/{id}", s.handleJournalEntry)
	mux.HandleFunc("GET /snapshots/{hash}", s.handleSnapshot)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	mux.HandleFunc("/", s.handleNotFound)

	return mux
}

// Start opens the store and journal named in cfg and serves until ctx is
// cancelled or the listener fails.
func Start(ctx context.Context, cfg Config) error {
	if cfg.TLS.Enabled {
		if cfg.TLS.CertFile == "" || cfg.TLS.KeyFile == "" {
			return fmt.Errorf("TLS enabled but cert or key file not specified")
		}
		if _, err := os.Stat(cfg.TLS.CertFile); err != nil {
			return fmt.Errorf("TLS cert file not found: %w", err)
		}
		if _, err := os.Stat(cfg.TLS.KeyFile); err != nil {
			return fmt.Errorf("TLS key file not found: %w", err)
		}
	}

	store, err := cas.NewStore(cfg.StoreDir)
	if err != nil {
		return err
	}
	j, err := journal.Open(ctx, cfg.JournalPath)
	if err != nil {
		return err
	}
	defer j.Close()

	s, err := NewServer(cfg, store, j)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go s.hub.Run(ctx)

	protocol, wsProtocol := "http", "ws"
	if cfg.TLS.Enabled {
		protocol, wsProtocol = "https", "wss"
		logging.Info("TLS enabled", "cert_file", cfg.TLS.CertFile)
	} else {
		logging.Warn("TLS disabled - using plain HTTP",
			"recommendation", "consider using TLS or reverse proxy for production")
	}
	logging.SecurityEvent("authentication_configured", "api", "enabled", cfg.Auth.Enabled)
	if len(cfg.AllowedOrigins) == 0 {
		logging.SecurityEvent("cors_configured", "api",
			"mode", "permissive",
			"note", "allowing all origins (*) - consider restricting for production")
	}
	logging.ServerStartup("rest_api", protocol, cfg.Port,
		"websocket_protocol", wsProtocol,
		"store", server.AbsPath(cfg.StoreDir),
		"journal", server.AbsPath(cfg.JournalPath))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		if cfg.TLS.Enabled {
			errc <- srv.ListenAndServeTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
			return
		}
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		return srv.Shutdown(shutdownCtx)
	}
}
