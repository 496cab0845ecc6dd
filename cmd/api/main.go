package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/text/language"
	"google.golang.org/grpc"

	"tenantauth.org/internal/auth"
	"tenantauth.org/internal/config"
	"tenantauth.org/internal/grpcapi"
	"tenantauth.org/internal/httpapi"
	"tenantauth.org/internal/limiters"
	"tenantauth.org/internal/messages"
	"tenantauth.org/internal/migrate"
	"tenantauth.org/internal/obs"
)

var (
	version = "0.1.0"
	commit  = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config")
	flag.Parse()

	if err := run(*configPath); err != nil {
		obs.Logger().Fatal("tenantauth stopped", zap.Error(err))
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := obs.Configure(cfg.Log.Level); err != nil {
		return err
	}
	logger := obs.Logger()
	defer func() { _ = logger.Sync() }()

	obs.Init()
	obs.SetBuildInfo(version, commit)

	db, err := sql.Open("pgx", cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	if cfg.Database.MigrateOnStart {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		err := migrate.NewManager(db).Up(ctx)
		cancel()
		if err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		logger.Info("schema migrations applied")
	}

	authn, closeTracker, err := buildAuthenticator(cfg, db, logger)
	if err != nil {
		return err
	}
	defer closeTracker()

	proxies, err := httpapi.ParseTrustedProxies(cfg.Server.TrustedProxies)
	if err != nil {
		return err
	}

	probe := httpapi.ReadyProbe{DB: db}
	api := httpapi.New(authn,
		httpapi.WithReadyProbe(probe),
		httpapi.WithVersion(version),
		httpapi.WithPasswordMaxAge(cfg.Auth.PasswordMaxAge),
		httpapi.WithRateLimit(cfg.Server.RateLimit.PerSecond, cfg.Server.RateLimit.Burst),
		httpapi.WithMaxBodyBytes(cfg.Server.MaxBodyBytes),
		httpapi.WithTrustedProxies(proxies),
		httpapi.WithLogger(logger),
	)
	httpSrv := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	grpcSvc := grpcapi.NewServer(authn, probe, logger)
	grpcSrv := grpc.NewServer(grpc.UnaryInterceptor(grpcapi.LoggingInterceptor(logger)))
	grpcSvc.Register(grpcSrv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 2)
	go func() {
		logger.Info("http listening", zap.String("addr", httpSrv.Addr), zap.String("version", version))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http: %w", err)
		}
	}()
	if cfg.Server.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		go func() {
			logger.Info("grpc listening", zap.String("addr", cfg.Server.GRPCAddr))
			if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				errCh <- fmt.Errorf("grpc: %w", err)
			}
		}()
		go watchHealth(ctx, grpcSvc)
	}

	select {
	case <-ctx.Done():
	case err := <-errCh:
		logger.Error("server failed", zap.Error(err))
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	grpcSvc.Shutdown()
	grpcSrv.GracefulStop()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	logger.Info("stopped")
	return nil
}

func buildAuthenticator(cfg *config.Config, db *sql.DB, logger *zap.Logger) (*auth.Authenticator, func(), error) {
	hasher, err := auth.NewBcryptHasher(cfg.Auth.BcryptCost)
	if err != nil {
		return nil, nil, err
	}
	store := auth.NewPGStore(db)

	catalog := messages.Default()
	if cfg.Messages.File != "" {
		catalog, err = messages.LoadFile(cfg.Messages.File, language.English)
		if err != nil {
			return nil, nil, err
		}
	}
	locale := language.Make(cfg.Messages.DefaultLocale)

	closer := func() {}
	var tracker auth.Tracker
	switch cfg.Lockout.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		closer = func() { _ = client.Close() }
		limiter := limiters.NewLockoutLimiter(client, limiters.LockoutConfig{
			Prefix: cfg.Redis.Prefix,
			Window: cfg.Lockout.Window,
		})
		tracker = auth.NewCounterTracker(limiter, store, cfg.Lockout.Threshold, logger)
	default:
		tracker = auth.NewStoreTracker(store, cfg.Lockout.Threshold, logger)
	}

	a, err := auth.NewAuthenticator(store, hasher,
		auth.WithTracker(tracker),
		auth.WithMessages(catalog),
		auth.WithLocale(locale),
		auth.WithStoreTimeout(cfg.Auth.StoreTimeout),
		auth.WithLogger(logger),
		auth.WithRecorder(obs.AuthRecorder{}),
	)
	if err != nil {
		closer()
		return nil, nil, err
	}
	return a, closer, nil
}

func watchHealth(ctx context.Context, svc *grpcapi.Server) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		svc.UpdateHealth(checkCtx)
		cancel()
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
