// Command qrmedia-server runs the backend for QR media sharing: the gRPC API and the public HTTP pages.
package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/and161185/qr-media-share/internal/clock"
	"github.com/and161185/qr-media-share/internal/config"
	"github.com/and161185/qr-media-share/internal/limiter"
	"github.com/and161185/qr-media-share/internal/migrate"
	"github.com/and161185/qr-media-share/internal/repository/postgres"
	"github.com/and161185/qr-media-share/internal/rpc"
	grpcserver "github.com/and161185/qr-media-share/internal/server/grpc"
	"github.com/and161185/qr-media-share/internal/server/httpapi"
	"github.com/and161185/qr-media-share/internal/service"
	"github.com/and161185/qr-media-share/internal/storage"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// main parses configuration, runs migrations, and starts the gRPC and HTTP servers.
func main() {
	cfg := config.LoadServer()

	// Flags override the environment
	flag.StringVar(&cfg.GRPCAddr, "addr", cfg.GRPCAddr, "gRPC listen address")
	flag.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "HTTP listen address for event pages and QR images")
	flag.StringVar(&cfg.PublicURL, "public-url", cfg.PublicURL, "public origin of the HTTP server")
	flag.StringVar(&cfg.DatabaseURL, "dsn", cfg.DatabaseURL, "PostgreSQL DSN")
	flag.StringVar(&cfg.JWTKey, "jwt-key", cfg.JWTKey, "HS256 signing key (required)")
	flag.StringVar(&cfg.APIKey, "api-key", cfg.APIKey, "anonymous key clients must present; empty disables the check")
	flag.DurationVar(&cfg.AccessTTL, "access-ttl", cfg.AccessTTL, "access token TTL")
	flag.DurationVar(&cfg.RefreshTTL, "refresh-ttl", cfg.RefreshTTL, "refresh token TTL")
	flag.IntVar(&cfg.MaxUpload, "max-upload", cfg.MaxUpload, "max upload size in bytes")
	flag.StringVar(&cfg.Storage, "storage", cfg.Storage, "object storage: local or s3")
	flag.StringVar(&cfg.StorageDir, "storage-dir", cfg.StorageDir, "directory for local storage")
	flag.StringVar(&cfg.S3Bucket, "s3-bucket", cfg.S3Bucket, "S3 bucket")
	flag.StringVar(&cfg.S3Region, "s3-region", cfg.S3Region, "S3 region")
	flag.StringVar(&cfg.S3Endpoint, "s3-endpoint", cfg.S3Endpoint, "S3-compatible endpoint")
	flag.StringVar(&cfg.S3PublicURL, "s3-public-url", cfg.S3PublicURL, "public base URL of the bucket")
	flag.StringVar(&cfg.TLSCert, "tls-cert", cfg.TLSCert, "TLS certificate (PEM); empty serves plaintext")
	flag.StringVar(&cfg.TLSKey, "tls-key", cfg.TLSKey, "TLS private key (PEM)")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level")
	flag.Parse()

	zcfg := zap.NewProductionConfig()
	if lvl, err := zap.ParseAtomicLevel(cfg.LogLevel); err == nil {
		zcfg.Level = lvl
	}
	logger, _ := zcfg.Build()
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", cfg.GRPCAddr),
		zap.String("httpAddr", cfg.HTTPAddr),
	)

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	var opts []grpc.ServerOption
	if cfg.TLSCert != "" {
		creds, err := credentials.NewServerTLSFromFile(cfg.TLSCert, cfg.TLSKey)
		if err != nil {
			logger.Fatal("failed to load TLS cert/key", zap.Error(err))
		}
		opts = append(opts, grpc.Creds(creds))
	} else {
		logger.Warn("serving gRPC without TLS")
	}

	// Context with OS signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := migrate.Up(ctx, cfg.DatabaseURL); err != nil {
		logger.Fatal("migrate up", zap.Error(err))
	}

	// DB pool
	db, err := postgres.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("postgres.New", zap.Error(err))
	}
	defer db.Close()

	// Repositories
	userRepo := postgres.NewUserRepo(db)
	sessionRepo := postgres.NewSessionRepo(db)
	eventRepo := postgres.NewEventRepo(db)
	mediaRepo := postgres.NewMediaRepo(db)

	lim := limiter.NewPG(db.Pool, cfg.LoginWindow, cfg.LoginMaxFails, cfg.LoginBlock)
	peers := limiter.NewPeerLimiter(cfg.RateLimit, cfg.RateWindow, cfg.RateBurst, 10*time.Minute)

	// Object storage
	var (
		objects storage.ObjectStore
		files   httpapi.FileOpener
	)
	switch cfg.Storage {
	case "s3":
		s3, err := storage.NewS3(ctx, storage.S3Config{
			Bucket:        cfg.S3Bucket,
			Region:        cfg.S3Region,
			Endpoint:      cfg.S3Endpoint,
			PublicBaseURL: cfg.S3PublicURL,
		})
		if err != nil {
			logger.Fatal("s3 storage", zap.Error(err))
		}
		objects = s3
	default:
		local, err := storage.NewLocal(cfg.StorageDir, cfg.PublicURL)
		if err != nil {
			logger.Fatal("local storage", zap.Error(err))
		}
		objects, files = local, local
	}

	// Services
	authSvc := service.NewAuthService(userRepo, sessionRepo, lim, service.AuthConfig{
		SignKey:    []byte(cfg.JWTKey),
		AccessTTL:  cfg.AccessTTL,
		RefreshTTL: cfg.RefreshTTL,
	}, clock.NewSystem())
	eventSvc := service.NewEventService(eventRepo)
	mediaSvc := service.NewMediaService(mediaRepo, eventRepo, objects, cfg.MaxUpload)

	// gRPC server with interceptors
	opts = append(opts,
		grpc.MaxRecvMsgSize(cfg.MaxUpload+1<<20),
		grpc.ChainUnaryInterceptor(
			grpcserver.RecoverUnary(logger),
			grpcserver.LoggingUnary(logger),
			grpcserver.RateLimitUnary(peers),
			grpcserver.APIKeyUnary(cfg.APIKey),
			grpcserver.AuthUnary(authSvc),
		),
	)
	s := grpc.NewServer(opts...)
	rpc.RegisterBackendServer(s, grpcserver.New(authSvc, eventSvc, mediaSvc))

	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)

	// HTTP pages
	hsrv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: httpapi.NewRouter(httpapi.Deps{
			Events:  eventSvc,
			Media:   mediaSvc,
			Files:   files,
			BaseURL: cfg.PublicURL,
			Log:     logger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Listen
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		logger.Fatal("listen", zap.Error(err))
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("listening (gRPC)", zap.String("addr", cfg.GRPCAddr))
		errCh <- s.Serve(lis)
	}()
	go func() {
		logger.Info("listening (HTTP)", zap.String("addr", cfg.HTTPAddr))
		if err := hsrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for stop
	select {
	case <-ctx.Done():
		hs.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = hsrv.Shutdown(shutdownCtx)

		done := make(chan struct{})
		go func() {
			s.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-shutdownCtx.Done():
			s.Stop()
		}
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}
