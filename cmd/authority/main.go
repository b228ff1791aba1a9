package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/jmerrifield20/authority/internal/config"
	"github.com/jmerrifield20/authority/internal/handler"
	"github.com/jmerrifield20/authority/internal/health"
	"github.com/jmerrifield20/authority/internal/identity"
	"github.com/jmerrifield20/authority/internal/password"
	"github.com/jmerrifield20/authority/internal/users"
)

// slowHashThreshold is the bcrypt duration above which a warning is logged.
const slowHashThreshold = time.Second

func main() {
	bootLogger, _ := zap.NewProduction()

	v := config.NewViper(os.Getenv("AUTHORITY_CONFIG"))
	found, err := config.ReadFile(v)
	if err != nil {
		bootLogger.Fatal("read config", zap.Error(err))
	}
	cfg, err := config.Load(v)
	if err != nil {
		bootLogger.Fatal("invalid config", zap.Error(err))
	}

	logger, err := config.NewLogger(cfg.Log)
	if err != nil {
		bootLogger.Fatal("build logger", zap.Error(err))
	}
	defer logger.Sync() //nolint:errcheck
	if !found {
		logger.Warn("no config file found, using defaults and env vars")
	}

	if err := run(cfg, logger); err != nil {
		logger.Fatal("authority exited with error", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Database ─────────────────────────────────────────────────────────────
	db, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	defer db.Close()

	if err := db.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	logger.Info("connected to postgres")

	// ── Signing keys ─────────────────────────────────────────────────────────
	src := identity.RoutingSource{Local: identity.FileSource{}}
	if identity.IsS3Path(cfg.Keys.PrivateKeyPath) || identity.IsS3Path(cfg.Keys.PublicKeyPath) {
		s3src, err := identity.NewS3Source(ctx)
		if err != nil {
			return fmt.Errorf("key storage: %w", err)
		}
		src.S3 = s3src
	}

	keys := identity.NewKeyStore(src, cfg.Keys.PrivateKeyPath, cfg.Keys.PublicKeyPath, cfg.Keys.KeyID, logger)
	if err := keys.Load(ctx); err != nil {
		return fmt.Errorf("load signing keys: %w", err)
	}
	tokens := identity.NewTokenIssuer(keys, cfg.Token.TTL)
	oidcProvider := identity.NewOIDCProvider(cfg.Server.BaseURL, keys, logger)

	// ── Password pool ────────────────────────────────────────────────────────
	hasher, err := password.NewHasher(cfg.Password.BcryptCost, cfg.Password.Workers,
		password.WithObserver(func(op string, d time.Duration) {
			if d > slowHashThreshold {
				logger.Warn("slow bcrypt operation", zap.String("op", op), zap.Duration("duration", d))
			}
		}),
	)
	if err != nil {
		return fmt.Errorf("password hasher: %w", err)
	}
	logger.Info("password pool ready",
		zap.Int("workers", hasher.Workers()),
		zap.Int("cost", hasher.Cost()),
	)

	// ── Wire up layers ────────────────────────────────────────────────────────
	userRepo := users.NewUserRepository(db)
	userSvc := users.NewUserService(userRepo, hasher, tokens, logger)
	if err := userSvc.WarmUp(ctx); err != nil {
		return fmt.Errorf("warm up password pool: %w", err)
	}

	if cfg.Security.InternalAPIKey == "" {
		logger.Warn("security.internal_api_key is empty; registration is disabled")
	}
	authHandler := handler.NewAuthHandler(userSvc, tokens, cfg.Security.InternalAPIKey, logger)
	if rps := cfg.Server.RateLimitRPS; rps > 0 {
		authHandler.SetLoginRateLimiter(handler.RateLimiter(ctx, rps, rps*2))
	}

	checker := health.New(health.Config{}, logger)
	checker.AddProbe("database", userRepo.Ping)
	checker.AddProbe("signing_key", keys.SelfTest)
	checker.SetMetricsRecord(handler.RecordHealthCheck)
	go checker.Start(ctx)

	// ── HTTP Router ───────────────────────────────────────────────────────────
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	corsOrigins := cfg.Server.CORSOrigins
	router.Use(cors.New(cors.Config{
		AllowOrigins:     corsOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Accept", handler.InternalKeyHeader},
		ExposeHeaders:    []string{"Content-Length", "X-Request-ID"},
		AllowCredentials: !containsWildcard(corsOrigins),
		MaxAge:           12 * time.Hour,
	}))
	router.Use(handler.SecurityHeaders())
	router.Use(handler.BodyLimit(1 << 20))
	router.Use(handler.RequestLogger(logger))
	router.Use(handler.PrometheusMiddleware())

	router.GET("/healthz", health.LivenessHandler)
	router.GET("/readyz", checker.ReadinessHandler)
	router.GET("/metrics", handler.MetricsHandler())

	oidcProvider.RegisterWellKnown(router)
	authHandler.Register(router.Group("/api/auth"))

	// ── Key reload on SIGHUP ──────────────────────────────────────────────────
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for {
			select {
			case <-hup:
				err := keys.Load(ctx)
				handler.RecordKeyReload(err == nil)
				if err != nil {
					logger.Error("signing key reload failed; keeping previous key", zap.Error(err))
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	// ── Serve ─────────────────────────────────────────────────────────────────
	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("authority HTTP listening",
			zap.Int("port", cfg.Server.Port),
			zap.String("base_url", cfg.Server.BaseURL),
			zap.String("kid", cfg.Keys.KeyID),
		)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// ── Graceful shutdown ──────────────────────────────────────────────────────
	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http listen: %w", err)
		}
	case <-ctx.Done():
	}
	logger.Info("shutting down authority...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown error", zap.Error(err))
	}
	if err := hasher.Close(shutdownCtx); err != nil {
		logger.Error("password pool shutdown error", zap.Error(err))
	}

	logger.Info("authority stopped")
	return nil
}

// containsWildcard returns true if origins includes "*".
func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if strings.TrimSpace(o) == "*" {
			return true
		}
	}
	return false
}
