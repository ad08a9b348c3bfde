// Command lms-server starts the course core gRPC server.
package main

import (
	"context"
	"errors"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/and161185/lms-core/internal/access"
	"github.com/and161185/lms-core/internal/audit"
	"github.com/and161185/lms-core/internal/certificate"
	"github.com/and161185/lms-core/internal/config"
	"github.com/and161185/lms-core/internal/docstore"
	"github.com/and161185/lms-core/internal/docstore/memstore"
	"github.com/and161185/lms-core/internal/docstore/postgres"
	"github.com/and161185/lms-core/internal/enrollment"
	"github.com/and161185/lms-core/internal/events"
	"github.com/and161185/lms-core/internal/events/kafkapub"
	"github.com/and161185/lms-core/internal/events/redispub"
	"github.com/and161185/lms-core/internal/fixture"
	"github.com/and161185/lms-core/internal/migrate"
	"github.com/and161185/lms-core/internal/model"
	"github.com/and161185/lms-core/internal/progress"
	"github.com/and161185/lms-core/internal/redisclient"
	grpcserver "github.com/and161185/lms-core/internal/server/grpc"
	"github.com/and161185/lms-core/internal/throttle"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// main parses configuration, opens the store and starts the gRPC server.
func main() {
	cfg, err := config.Parse(os.Args[1:], os.Getenv)
	if err != nil {
		// logger is not up yet
		_, _ = os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(2)
	}

	logger, _ := zap.NewProduction()
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", cfg.Addr),
		zap.String("store", cfg.Store),
		zap.String("sink", cfg.Sink),
	)

	// Context with OS signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Store
	var (
		store docstore.Store
		db    *postgres.DB
	)
	switch cfg.Store {
	case config.StorePostgres:
		if err := migrate.Up(ctx, cfg.DSN); err != nil {
			logger.Fatal("migrate up", zap.Error(err))
		}
		db, err = postgres.New(ctx, cfg.DSN)
		if err != nil {
			logger.Fatal("pgxpool.New", zap.Error(err))
		}
		defer db.Close()
		store = postgres.NewStore(db, logger)
	default:
		logger.Warn("in-memory store: state is lost on exit")
		store = memstore.New()
	}

	if cfg.Seed {
		if err := seed(ctx, store); err != nil {
			logger.Fatal("seed", zap.Error(err))
		}
		logger.Info("seeded demo course", zap.String("course_id", "demo"))
	}

	// Redis is shared by the event sink and the throttle.
	var rdb *redis.Client
	if cfg.Sink == config.BackendRedis || cfg.Throttle == config.BackendRedis {
		rdb, err = redisclient.Connect(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal("redis", zap.Error(err))
		}
		defer func() { _ = rdb.Close() }()
	}

	// Events
	var busOpts []events.Option
	switch cfg.Sink {
	case config.BackendLog:
		busOpts = append(busOpts, events.WithPublisher(events.NewLogPublisher(logger)))
	case config.BackendRedis:
		busOpts = append(busOpts, events.WithPublisher(redispub.New(rdb, cfg.RedisChannel)))
	case config.BackendKafka:
		kp, err := kafkapub.New(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaTopicMap)
		if err != nil {
			logger.Fatal("kafka", zap.Error(err))
		}
		defer func() { _ = kp.Close() }()
		busOpts = append(busOpts, events.WithPublisher(kp))
	}
	bus := events.NewBus(store, logger, busOpts...)

	var lim throttle.Limiter = throttle.Nop{}
	switch cfg.Throttle {
	case config.BackendMemory:
		lim = throttle.NewMemory(cfg.ThrottleWindow)
	case config.BackendRedis:
		lim = throttle.NewRedis(rdb, cfg.ThrottleWindow)
	case config.BackendPostgres:
		lim = throttle.NewPG(db.Pool, cfg.ThrottleWindow)
	}

	// Services
	gate := access.NewGate(store, logger)
	auditLog := audit.NewStoreLogger(store, logger)
	issuer := certificate.NewIssuer(store, gate, auditLog, bus, logger)
	prog := progress.NewService(store, gate, logger,
		progress.WithEvents(bus),
		progress.WithIssuer(issuer),
		progress.WithLimiter(lim),
	)
	prog.Register(bus)
	enroll := enrollment.NewService(store, auditLog, bus, logger)

	// Background loops
	worker := events.NewOutboxWorker(bus, logger, events.WorkerConfig{
		Interval:    cfg.Outbox.Interval,
		BatchSize:   cfg.Outbox.BatchSize,
		ClaimTTL:    cfg.Outbox.ClaimTTL,
		MaxRetries:  cfg.Outbox.MaxRetries,
		BaseBackoff: cfg.Outbox.BaseBackoff,
		MaxBackoff:  cfg.Outbox.MaxBackoff,
	})
	go func() {
		if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("outbox worker stopped", zap.Error(err))
		}
	}()
	go expireLoop(ctx, enroll, cfg.ExpiryInterval, logger)

	// gRPC server with interceptors
	opts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(
			grpcserver.RecoverUnary(logger),
			grpcserver.AuthUnary(grpcserver.NewAuthenticator([]byte(cfg.JWTKey)), logger,
				grpcserver.FullMethod(grpcserver.MethodVerifyCertificate),
				"/grpc.health.v1.Health/Check",
				"/grpc.health.v1.Health/List",
			),
			grpcserver.LoggingUnary(logger),
		),
	}
	if cfg.TLSCert != "" {
		creds, err := credentials.NewServerTLSFromFile(cfg.TLSCert, cfg.TLSKey)
		if err != nil {
			logger.Fatal("failed to load TLS cert/key", zap.Error(err))
		}
		opts = append(opts, grpc.Creds(creds))
	} else {
		logger.Warn("TLS disabled")
	}
	s := grpc.NewServer(opts...)

	app := grpcserver.New(gate, prog, issuer, enroll, logger)
	grpcserver.RegisterCourseCoreServer(s, app)

	// Health & reflection (dev)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	if cfg.Dev {
		reflection.Register(s)
	}

	// Listen
	lis, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		logger.Fatal("listen", zap.Error(err))
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.Addr), zap.Bool("tls", cfg.TLSCert != ""))
		errCh <- s.Serve(lis)
	}()

	// Wait for stop
	select {
	case <-ctx.Done():
		hs.Shutdown()
		done := make(chan struct{})
		go func() {
			s.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			s.Stop()
		}
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}

// expireLoop moves lapsed subscription enrollments to expired.
func expireLoop(ctx context.Context, enroll enrollment.Service, every time.Duration, log *zap.Logger) {
	if every <= 0 {
		return
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := enroll.ExpireDue(ctx)
			if err != nil {
				log.Error("expire sweep", zap.Int("expired", n), zap.Error(err))
				continue
			}
			if n > 0 {
				log.Info("expire sweep", zap.Int("expired", n))
			}
		}
	}
}

// seed writes a three-lesson demo course and an admin profile for local runs.
func seed(ctx context.Context, store docstore.Store) error {
	if err := fixture.SeedCourse(ctx, store, fixture.Simple("demo", 3)); err != nil {
		return err
	}
	return fixture.SeedUser(ctx, store, "admin", model.UserProfile{DisplayName: "Admin", Role: model.RoleAdmin})
}
