package main

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MGallo-Code/mecorp/internal/auth"
	"github.com/MGallo-Code/mecorp/internal/captcha"
	"github.com/MGallo-Code/mecorp/internal/config"
	"github.com/MGallo-Code/mecorp/internal/ipblock"
	"github.com/MGallo-Code/mecorp/internal/seed"
	"github.com/MGallo-Code/mecorp/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

// Embeds the migration files INTO the go bin

//go:embed migrations/*.sql
var migrationsDir embed.FS

// janitorInterval is how often expired in-memory IP blocks and rate limit keys are swept.
const janitorInterval = time.Minute

func main() {
	// Load config first so we can set log level
	cfg, err := config.LoadConfig()
	if err != nil {
		// Fallback logger before config is available
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}

	// Include source location in log entries at debug level only.
	addSrc := cfg.LogLevel == slog.LevelDebug

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     cfg.LogLevel,
		AddSource: addSrc,
	})))

	// Cancel ctx on SIGINT/SIGTERM; run() shuts down when ctx is done.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// run() is a separate func so deferred closes always execute before os.Exit.
	if err := run(ctx, cfg, nil); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

// run holds all server logic and returns error instead of calling os.Exit,
// so deferred resource cleanup always runs.
// Shuts down when ctx is cancelled (signal handling is the caller's concern).
// If ready is non-nil, the server's base URL is sent on it once the listener is bound.
func run(ctx context.Context, cfg *config.Config, ready chan<- string) error {
	ps, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to set up postgres store: %w", err)
	}
	defer ps.Close()

	migrationsFS, err := fs.Sub(migrationsDir, "migrations")
	if err != nil {
		return fmt.Errorf("failed to access embedded migrations: %w", err)
	}
	if err := ps.Migrate(ctx, migrationsFS); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	if cfg.SeedAccounts {
		if err := seed.Run(ctx, ps, seed.Defaults, slog.Default()); err != nil {
			return fmt.Errorf("failed to seed accounts: %w", err)
		}
	}

	h := &auth.AuthHandler{
		PS: ps,
		RateIP: store.RateLimit{
			MaxAttempts: cfg.RateIPMax,
			Window:      cfg.RateIPWindow,
			LockoutTTL:  cfg.RateIPLockout,
		},
	}

	// Redis is optional. Without it, IP blocks and per-IP request limits
	// live in this process.
	var cache ipblock.Cache
	var memCache *ipblock.MemoryCache
	var memLimiter *store.MemoryRateLimiter
	if cfg.RedisURL != "" {
		rdb, err := store.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("failed to set up redis client: %w", err)
		}
		defer rdb.Close()

		rc := store.NewRedisBlockCache(rdb)
		cache = rc
		h.Cache = rc
		h.RL = store.NewRedisRateLimiter(rdb)
	} else {
		slog.Warn("REDIS_URL not set; ip blocks and request rate limits are process-local")
		memCache = ipblock.NewMemoryCache(nil)
		cache = memCache
		memLimiter = store.NewMemoryRateLimiter(nil)
		h.RL = memLimiter
	}

	cv := captcha.NewVerifier(captcha.Config{
		Enabled:   cfg.CaptchaEnabled,
		DevMode:   cfg.DevMode,
		Secret:    cfg.CaptchaSecret,
		VerifyURL: cfg.CaptchaVerifyURL,
		Timeout:   cfg.CaptchaTimeout,
	}, captcha.WithLogger(slog.Default()))

	ledger := auth.NewLedger(ps, slog.Default())
	h.Svc = auth.NewService(ps, ledger, cv, auth.WithLogger(slog.Default()))

	h.Gate, err = ipblock.New(h.Svc.Ledger(), cache,
		ipblock.WithPolicy(ipblock.Policy{
			Threshold:     cfg.IPBlockThreshold,
			Window:        cfg.IPBlockWindow,
			BlockDuration: cfg.IPBlockDuration,
		}),
		ipblock.WithLogger(slog.Default()),
	)
	if err != nil {
		return fmt.Errorf("failed to set up ip block gate: %w", err)
	}

	var sessionOpts []auth.SessionOption
	if cfg.DevMode {
		sessionOpts = append(sessionOpts, auth.WithInsecureCookies())
	}
	if cfg.CookieDomain != "" {
		sessionOpts = append(sessionOpts, auth.WithCookieDomain(cfg.CookieDomain))
	}
	h.Sessions = auth.NewSessionIssuer(cfg.SessionSecret, cfg.SessionTTL, sessionOpts...)

	// Bind listener; ":0" picks a free port (useful in tests).
	ln, err := net.Listen("tcp", ":"+cfg.Port)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	server := &http.Server{
		Handler:           buildRouter(h, cfg.TrustedProxies),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("mecorp listening", "addr", ln.Addr().String())
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	if memCache != nil {
		g.Go(func() error {
			memCache.RunJanitor(gctx, janitorInterval)
			return nil
		})
		g.Go(func() error {
			memLimiter.RunJanitor(gctx, janitorInterval)
			return nil
		})
	}

	// Graceful shutdown once ctx is cancelled or the server fails.
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown error: %w", err)
		}
		return nil
	})

	// Signal readiness to caller (used by tests; nil in production).
	if ready != nil {
		ready <- "http://" + ln.Addr().String()
	}

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("server stopped")
	return nil
}

// buildRouter wires all routes and middleware.
// Called from run() and from smoke tests.
// Forwarding headers are honoured only from peers in trustedProxies.
func buildRouter(h *auth.AuthHandler, trustedProxies []netip.Prefix) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(auth.RealIPFromTrustedProxies(trustedProxies))
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(auth.SecurityHeaders)

	r.Get("/health", h.CheckHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/auth", func(r chi.Router) {
		r.Use(h.RateLimitByIP)

		// Credential endpoints; blocked IPs are turned away before any work.
		r.Group(func(r chi.Router) {
			r.Use(h.RequireIPAdmission)
			r.Post("/login", h.Login)
			r.Post("/register", h.Register)
		})

		r.With(h.RequireAuth).Post("/logout", h.Logout)
	})

	// Authentication required routes
	r.Group(func(r chi.Router) {
		r.Use(h.RequireAuth)
		r.Get("/dashboard", h.Dashboard)
	})

	return r
}
