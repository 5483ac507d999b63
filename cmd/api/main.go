package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"

	"clientportal.io/internal/audit"
	"clientportal.io/internal/auth"
	"clientportal.io/internal/config"
	"clientportal.io/internal/httpapi"
	"clientportal.io/internal/migrate"
	"clientportal.io/internal/notify"
	"clientportal.io/internal/obs"
	"clientportal.io/internal/ratelimit"
	"clientportal.io/internal/store/pg"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	log := obs.Logger()
	obs.Init()
	obs.InitBuildInfo(version, commit)

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("load config")
	}
	obs.SetLevel(cfg.LogLevel)

	ctx := context.Background()

	// Stores: PostgreSQL when a DSN is configured, in-process otherwise.
	var (
		credStore  auth.Store
		auditStore audit.Store
		ready      httpapi.ReadyProbe
		pgStore    *pg.Store
	)
	if cfg.DatabaseURL != "" {
		pgStore, err = pg.Open(cfg.DatabaseURL, pg.PoolOptions{
			MaxOpenConns: cfg.DBMaxOpenConns,
			MaxIdleConns: cfg.DBMaxIdleConns,
		})
		if err != nil {
			log.WithError(err).Fatal("open db")
		}
		if cfg.MigrateOnStart {
			mctx, cancel := context.WithTimeout(ctx, time.Minute)
			applied, err := migrate.NewManager(pgStore.DB(), nil).Up(mctx)
			cancel()
			if err != nil {
				log.WithError(err).Fatal("apply migrations")
			}
			log.WithField("applied", applied).Info("migrations up to date")
		}
		credStore, auditStore, ready = pgStore, pgStore, httpapi.ReadyProbe{DB: pgStore.DB()}
	} else {
		log.Warn("PORTAL_DATABASE_URL not set; using in-memory stores")
		credStore, auditStore = auth.NewMemoryStore(), audit.NewMemoryStore()
	}

	recorder, err := audit.NewAsyncRecorder(auditStore, audit.WithBufferSize(cfg.AuditBufferSize))
	if err != nil {
		log.WithError(err).Fatal("audit recorder")
	}
	var notifyOpts []notify.LogOption
	if cfg.NotifyLogLinks {
		log.Warn("PORTAL_NOTIFY_LOG_LINKS set; invite and reset links are logged in plaintext")
		notifyOpts = append(notifyOpts, notify.WithPlaintextLinks())
	}
	notifier := notify.NewAsync(notify.NewLogNotifier(log, notifyOpts...), cfg.NotifyTimeout)

	signer, err := auth.NewSigner([]byte(cfg.JWTSecret),
		auth.WithSignerIssuer(cfg.JWTIssuer),
		auth.WithTokenTTL(cfg.TokenTTL),
	)
	if err != nil {
		log.WithError(err).Fatal("token signer")
	}
	svc, err := auth.NewService(credStore, signer, auth.NewHasher(cfg.BcryptCost),
		auth.WithRecorder(recorder),
		auth.WithNotifier(notifier),
		auth.WithLogger(log),
		auth.WithBaseURL(cfg.PublicBaseURL),
		auth.WithInviteTTL(cfg.InviteTTL),
		auth.WithResetTTL(cfg.ResetTTL),
	)
	if err != nil {
		log.WithError(err).Fatal("auth service")
	}

	if cfg.BootstrapAdminEmail != "" {
		created, err := svc.BootstrapSuperAdmin(ctx, cfg.BootstrapAdminEmail, cfg.BootstrapAdminPassword)
		if err != nil {
			log.WithError(err).Fatal("bootstrap super admin")
		}
		if created {
			log.WithField("email", auth.NormalizeEmail(cfg.BootstrapAdminEmail)).Info("bootstrap super admin created")
		}
	}

	var limiter ratelimit.Limiter = ratelimit.NewMemory(cfg.AuthRateLimit, cfg.AuthRateWindow)
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.WithError(err).Fatal("parse redis url")
		}
		redisClient = redis.NewClient(opts)
		limiter = ratelimit.NewRedis(redisClient, "portal:ratelimit", cfg.AuthRateLimit, cfg.AuthRateWindow)
	}

	query, err := audit.NewQuery(auditStore)
	if err != nil {
		log.WithError(err).Fatal("audit query")
	}

	api, err := httpapi.New(httpapi.Options{
		Auth:           svc,
		Audit:          query,
		Recorder:       recorder,
		AuthLimiter:    limiter,
		Ready:          ready,
		Logger:         log,
		Version:        version,
		CORSOrigins:    cfg.CORSOrigins,
		TrustedProxies: cfg.TrustedProxies,
		MaxBodyBytes:   cfg.MaxBodyBytes,
		GlobalRPS:      cfg.GlobalRPS,
		GlobalBurst:    cfg.GlobalBurst,
	})
	if err != nil {
		log.WithError(err).Fatal("http api")
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}

	healthCtx, stopHealth := context.WithCancel(ctx)
	var grpcSrv *grpc.Server
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			log.WithError(err).Fatal("grpc listen")
		}
		health := httpapi.NewHealthServer(ready, log)
		grpcSrv = grpc.NewServer()
		health.Register(grpcSrv)
		go health.Run(healthCtx, 5*time.Second)
		go func() {
			if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				log.WithError(err).Error("grpc serve")
			}
		}()
	}

	log.WithFields(logrus.Fields{
		"version": version,
		"http":    srv.Addr,
		"grpc":    cfg.GRPCAddr,
	}).Info("starting clientportal-api")

	// graceful shutdown
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("listen")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	stopHealth()
	_ = srv.Shutdown(shutdownCtx)
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	if err := notifier.Wait(shutdownCtx); err != nil {
		log.WithError(err).Warn("notifications still in flight")
	}
	if err := recorder.Close(shutdownCtx); err != nil {
		log.WithError(err).Warn("audit events still queued")
	}
	if redisClient != nil {
		_ = redisClient.Close()
	}
	if pgStore != nil {
		_ = pgStore.Close()
	}
	log.Info("stopped")
}
