package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"tourneyhub.io/internal/audit"
	"tourneyhub.io/internal/auth"
	"tourneyhub.io/internal/config"
	"tourneyhub.io/internal/httpapi"
	"tourneyhub.io/internal/obs"
	"tourneyhub.io/internal/store/pg"
	"tourneyhub.io/internal/tournament"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// logger is not configured yet
		_, _ = os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger, err := obs.NewLogger(obs.LogConfig{Level: cfg.LogLevel, Dev: cfg.LogDev})
	if err != nil {
		_, _ = os.Stderr.WriteString("logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("api stopped with error", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	obs.Init()
	obs.SetBuildInfo(version, commit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool := pg.DefaultPoolConfig()
	pool.MaxOpenConns = cfg.DBMaxOpenConns
	store, err := pg.Open(cfg.DatabaseURL, pool)
	if err != nil {
		return err
	}
	defer store.Close()

	legacy, err := loadLegacyRoles(cfg.LegacyRolesFile)
	if err != nil {
		return err
	}

	tokens, err := auth.NewTokenService(cfg.JWTSecret,
		auth.WithTokenIssuer(cfg.JWTIssuer),
		auth.WithTokenTTL(cfg.JWTExpiresIn))
	if err != nil {
		return err
	}

	var revocations auth.RevocationStore = auth.NopRevocations{}
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rdb.Close()
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return err
		}
		revocations = auth.NewRedisRevocations(rdb)
		logger.Info("session revocation backed by redis", zap.String("addr", cfg.RedisAddr))
	}

	users := store.Users()
	accessor := auth.NewAccessor(store.Roles())

	resolverOpts := []auth.ResolverOption{
		auth.WithResolverLogger(logger.Named("resolver")),
		auth.WithResolutionObserver(obs.ObserveResolution),
	}
	serviceOpts := []auth.ServiceOption{auth.WithServiceLogger(logger.Named("accounts"))}
	if cfg.FirebaseProject != "" {
		provider, err := auth.NewFirebaseProvider(ctx, cfg.FirebaseProject, revocations)
		if err != nil {
			return err
		}
		resolverOpts = append(resolverOpts, auth.WithProvider(provider))
		serviceOpts = append(serviceOpts, auth.WithServiceProvider(provider))
		logger.Info("identity provider enabled", zap.String("project", cfg.FirebaseProject))
	}
	resolver := auth.NewResolver(users, accessor, tokens, resolverOpts...)
	accounts := auth.NewService(users, accessor, tokens, resolver, serviceOpts...)
	tournaments := tournament.NewService(store.Tournaments(), accessor, logger.Named("tournament"))

	auditStore := store.Audit()
	recorder := audit.NewRecorder(logger, audit.NewLogSink(logger), auditStore)

	api := httpapi.New(httpapi.Deps{
		Resolver:     resolver,
		Engine:       auth.NewEngine(legacy, logger.Named("authz")),
		Accounts:     accounts,
		Roles:        accessor,
		Tournaments:  tournaments,
		AuditLog:     auditStore,
		Recorder:     recorder,
		Ready:        store,
		Logger:       logger,
		Version:      version,
		RateLimit:    httpapi.RateLimitConfig{Burst: cfg.RateLimitBurst, PerSecond: cfg.RateLimitRPS},
		MaxBodyBytes: cfg.MaxBodyBytes,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting tourneyhub-api", zap.String("version", version), zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info("stopped")
	return nil
}

func loadLegacyRoles(path string) (auth.LegacyRoles, error) {
	if path == "" {
		return auth.DefaultLegacyRoles()
	}
	return auth.LoadLegacyRoles(path)
}
