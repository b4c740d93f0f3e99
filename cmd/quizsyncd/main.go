package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mind-engage/quizsync/internal/activitylog"
	api "github.com/mind-engage/quizsync/internal/api/http"
	auth "github.com/mind-engage/quizsync/internal/auth/middleware"
	"github.com/mind-engage/quizsync/internal/config"
	"github.com/mind-engage/quizsync/internal/db"
	"github.com/mind-engage/quizsync/internal/events"
	"github.com/mind-engage/quizsync/internal/lock"
	"github.com/mind-engage/quizsync/internal/logger"
	"github.com/mind-engage/quizsync/internal/metrics"
	"github.com/mind-engage/quizsync/internal/netstate"
	"github.com/mind-engage/quizsync/internal/offline"
	"github.com/mind-engage/quizsync/internal/prefetch"
	"github.com/mind-engage/quizsync/internal/preflight"
	"github.com/mind-engage/quizsync/internal/qbehaviour"
	"github.com/mind-engage/quizsync/internal/quiz"
	"github.com/mind-engage/quizsync/internal/reconcile"
	"github.com/mind-engage/quizsync/internal/remote"
	"github.com/mind-engage/quizsync/internal/site"
	"github.com/mind-engage/quizsync/internal/storage"
	"github.com/mind-engage/quizsync/internal/tracing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const devSecret = "quizsync-dev-secret-change-me"

func main() {
	cfgPath := flag.String("config", "configs", "config file or directory holding config.yaml")
	once := flag.Bool("once", false, "sync every pending quiz once and exit")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	lg, err := logger.New(logger.Options{Level: cfg.Log.Level, File: cfg.Log.File})
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = lg.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Tracing.Enabled {
		shutdown, err := tracing.Init(cfg.Tracing.ServiceName, cfg.Tracing.CollectorEndpoint)
		if err != nil {
			lg.Fatal("tracing init failed", zap.Error(err))
		}
		defer func() { _ = shutdown(context.Background()) }()
	}

	// --- DB ---
	openCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	dbh, err := db.Open(openCtx, db.NormalizeDriver(cfg.DB.Driver), cfg.DB.DSN)
	cancel()
	if err != nil {
		lg.Fatal("db open failed", zap.Error(err))
	}
	defer dbh.Close()
	store := offline.NewSQLStore(dbh)

	// --- Redis (optional) ---
	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err := rdb.Ping(ctx).Err(); err != nil {
			lg.Fatal("redis ping failed", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		}
		defer rdb.Close()
	}

	var (
		cache remote.Cache  = remote.NewMemoryCache()
		locks lock.Registry = lock.NewMemory()
	)
	if rdb != nil {
		cache = remote.NewRedisCache(rdb)
		locks = lock.NewRedis(rdb, lg.Named("lock"))
	}

	// --- Blob store ---
	blobs, err := openBlobStore(cfg.Storage)
	if err != nil {
		lg.Fatal("blob store", zap.String("type", cfg.Storage.Type), zap.Error(err))
	}

	// --- Sites ---
	sites := site.NewRegistry(cfg.Sites, cfg.Remote, cache)
	probe := netstate.NewProbe(cfg.Remote.ProbeTimeout)
	for _, s := range cfg.Sites {
		probe.Add(s.ID, s.BaseURL)
	}

	// --- Events ---
	hub := events.NewHub(lg.Named("events"))
	local := events.NewMemory()
	journal := events.NewJournal(dbh, lg.Named("journal"))
	bus := events.Multi{local, journal}
	if rdb != nil {
		bus = append(bus, events.NewRedis(rdb, lg))
		go events.Relay(ctx, rdb, hub.Broadcast)
	} else {
		bus = append(bus, hub)
	}
	go logEvents(ctx, local, lg)

	// --- Service ---
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	svc := reconcile.New(reconcile.Deps{
		Store: store,
		Remotes: func(id string) (reconcile.RemoteAPI, error) {
			return sites.Remote(id)
		},
		Questions: qbehaviour.NewDefaultDelegate(qbehaviour.WithBlobStore(blobs)),
		Network:   probe,
		Locks:     locks,
		Logs: activitylog.New(store, func(id string) (activitylog.Remote, error) {
			return sites.Remote(id)
		}, lg.Named("activitylog")),
		Preflight: preflight.New(store, nil),
		Prefetch: prefetch.New(store, func(id string) (prefetch.Remote, error) {
			return sites.Remote(id)
		}, blobs, lg.Named("prefetch")),
		Events: bus,
		Sites:  sites,
	},
		reconcile.WithInterval(cfg.Sync.Interval),
		reconcile.WithConcurrency(cfg.Sync.Concurrency),
		reconcile.WithLogger(lg.Named("reconcile")),
		reconcile.WithMetrics(m),
	)

	if *once {
		if err := svc.SyncAllPending(ctx, "", true); err != nil {
			lg.Fatal("sync failed", zap.Error(err))
		}
		return
	}

	go runPeriodic(ctx, svc, journal, cfg.Sync.Period, lg)

	// --- HTTP ---
	secret := cfg.Auth.JWTSecret
	if secret == "" {
		lg.Warn("auth.jwt_secret not set, using the development secret")
		secret = devSecret
	}
	srv := &api.Server{
		Sync:  svc,
		Locks: locks,
		Sites: sites,
		Quizzes: func(ctx context.Context, siteID string, courseID, quizID int64) (quiz.Quiz, error) {
			rc, err := sites.Remote(siteID)
			if err != nil {
				return quiz.Quiz{}, err
			}
			return rc.GetQuiz(ctx, courseID, quizID, remote.ReadOpts{})
		},
		Auth:        auth.NewAuthService(secret, cfg.Auth.TokenTTL),
		Creds:       auth.Credentials{User: cfg.Auth.AdminUser, PassHash: cfg.Auth.AdminPassHash},
		Events:      http.HandlerFunc(hub.HandleWebSocket),
		Journal:     journal,
		Metrics:     m,
		CORSOrigins: cfg.Server.CORSOrigins,
		Ready:       readiness(dbh, rdb),
		Log:         lg.Named("http"),
	}
	httpSrv := &http.Server{Addr: cfg.Server.Addr, Handler: srv.Routes(), ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()

	lg.Info("listening",
		zap.String("addr", cfg.Server.Addr), zap.String("db", cfg.DB.Driver),
		zap.Strings("sites", sites.IDs()), zap.Bool("redis", rdb != nil))
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		lg.Fatal("http server", zap.Error(err))
	}
}

func openBlobStore(c config.StorageConfig) (storage.BlobStore, error) {
	if c.Type == "minio" {
		return storage.NewMinioStore(storage.MinioConfig{
			Endpoint:  c.MinioEndpoint,
			AccessKey: c.MinioAccessKey,
			SecretKey: c.MinioSecretKey,
			Bucket:    c.MinioBucket,
			UseSSL:    c.MinioUseSSL,
		})
	}
	return storage.NewFSStore(c.LocalPath)
}

const eventRetention = 7 * 24 * time.Hour

// runPeriodic syncs stale quizzes on every tick, starting immediately.
func runPeriodic(ctx context.Context, svc *reconcile.Service, journal *events.Journal, period time.Duration, lg *zap.Logger) {
	t := time.NewTicker(period)
	defer t.Stop()
	for {
		if err := svc.SyncAllPending(ctx, "", false); err != nil {
			lg.Warn("periodic sync", zap.Error(err))
		}
		if n, err := journal.Prune(ctx, time.Now().Add(-eventRetention)); err != nil {
			lg.Warn("prune event log", zap.Error(err))
		} else if n > 0 {
			lg.Debug("pruned event log", zap.Int64("deleted", n))
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

func logEvents(ctx context.Context, bus *events.Memory, lg *zap.Logger) {
	ch, cancel := bus.Subscribe(64)
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-ch:
			lg.Info("event", zap.String("name", ev.Name), zap.String("site", ev.SiteID), zap.Any("payload", ev.Payload))
		}
	}
}

func readiness(dbh *sql.DB, rdb *redis.Client) func(context.Context) error {
	return func(ctx context.Context) error {
		if err := dbh.PingContext(ctx); err != nil {
			return err
		}
		if rdb != nil {
			return rdb.Ping(ctx).Err()
		}
		return nil
	}
}
