package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/adi-253/livefeed/internal/config"
	"github.com/adi-253/livefeed/internal/handlers"
	"github.com/adi-253/livefeed/internal/identity"
	"github.com/adi-253/livefeed/internal/logging"
	"github.com/adi-253/livefeed/internal/store"
	"github.com/adi-253/livefeed/internal/store/memory"
	"github.com/adi-253/livefeed/internal/supabase"
	"github.com/adi-253/livefeed/internal/websocket"
)

// collection is a store backend that owns background work.
type collection interface {
	store.Collection
	Close()
}

// shutdownTimeout bounds how long in-flight requests may take after a signal.
const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		zlog.Fatal().Err(err).Msg("server failed")
	}
}

// run wires the server and blocks until it has shut down.
func run() error {
	// Load configuration from environment
	cfg := config.Load()
	log := logging.Init(cfg.LogLevel, cfg.LogFormat)
	for _, w := range cfg.Warnings() {
		log.Warn().Msg(w)
	}

	coll, err := openCollection(cfg)
	if err != nil {
		return fmt.Errorf("open collection: %w", err)
	}
	defer coll.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := websocket.NewHub(logging.Component("hub"))
	go hub.Run(ctx)

	verifier := identity.NewVerifier(cfg.JWTSecret)
	messageHandler := handlers.NewMessageHandler(coll, cfg.Collection, cfg.PageSize, logging.Component("api"))
	feedHandler := websocket.NewHandler(hub, coll, websocket.HandlerOptions{
		Path:        cfg.Collection,
		PageSize:    cfg.PageSize,
		IntentRate:  cfg.IntentRate,
		IntentBurst: cfg.IntentBurst,
	}, logging.Component("feed"))

	// Set up router with middleware
	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logging.Component("http")))
	r.Use(middleware.Recoverer)

	log.Info().Strs("origins", cfg.CorsOrigins).Msg("CORS allowed origins")
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CorsOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check endpoint
	r.Get("/health", handlers.HealthCheck(hub))

	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(verifier))

		r.Route("/api", func(r chi.Router) {
			r.Get("/messages", messageHandler.GetMessages)
			r.Post("/messages", messageHandler.SendMessage)
		})
		r.Get("/ws/feed", feedHandler.ServeWS)
	})

	addr := fmt.Sprintf(":%s", cfg.ServerPort)
	srv := &http.Server{Addr: addr, Handler: r}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	log.Info().Str("addr", addr).Str("backend", cfg.Backend).Msg("livefeed starting")
	return serve(ctx, srv, ln, hub.Done(), shutdownTimeout, log)
}

// serve runs srv on ln until ctx is done. It closes the hub's connections
// first, then returns only once in-flight requests have finished or timeout
// has passed.
func serve(ctx context.Context, srv *http.Server, ln net.Listener, hubDone <-chan struct{}, timeout time.Duration, log zerolog.Logger) error {
	shutdownDone := make(chan error, 1)
	go func() {
		<-ctx.Done()
		log.Info().Msg("shutting down")
		if hubDone != nil {
			<-hubDone
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		shutdownDone <- srv.Shutdown(shutdownCtx)
	}()

	if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	if err := <-shutdownDone; err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	log.Info().Msg("server stopped")
	return nil
}

// openCollection builds the store backend named by cfg.Backend.
func openCollection(cfg *config.Config) (collection, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return memory.New(memory.WithLogger(logging.Component("store"))), nil
	case config.BackendSupabase:
		if cfg.SupabaseURL == "" || cfg.SupabaseKey == "" {
			return nil, errors.New("supabase backend needs SUPABASE_URL and SUPABASE_SERVICE_ROLE_KEY")
		}
		return supabase.NewClient(cfg, logging.Component("supabase")), nil
	default:
		return nil, fmt.Errorf("unknown FEED_BACKEND %q", cfg.Backend)
	}
}

// requestLogger writes one structured line per request.
func requestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Info().
				Str("request_id", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("duration", time.Since(start)).
				Msg("request")
		})
	}
}
