package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/sportscave1/task-manager/api"
	"github.com/sportscave1/task-manager/config"
	"github.com/sportscave1/task-manager/domain"
	"github.com/sportscave1/task-manager/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := log.New()
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
		logger.SetLevel(log.DebugLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, closeBackend, err := openBackend(ctx, cfg.Storage)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	defer closeBackend()

	var (
		store   storage.Backend = backend
		deduper api.Deduper
		rc      *redis.Client
	)
	if cfg.Redis.ConnectionString != "" {
		rc = redis.NewClient(redisOptions(cfg.Redis.ConnectionString))
		defer rc.Close()
		if cfg.Redis.CacheTTL > 0 {
			store = storage.NewCache(backend, rc, cfg.Redis.CacheTTL)
		}
		deduper = api.NewRedisDeduper(rc, cfg.Redis.DeduperTTL)
	}

	notifier := storage.NewNotifier(rc, cfg.Redis.ChangesChannel, logger)
	go notifier.Run(ctx)
	sink := storage.FanOut{notifier}
	if cfg.Storage.EventsQueue != "" {
		queue, err := storage.NewQueuePublisher(cfg.Storage.ConnectionString, cfg.Storage.EventsQueue)
		if err != nil {
			log.Fatalf("events queue: %v", err)
		}
		pub := storage.NewAsyncPublisher(queue, storage.PublisherConfig{
			Workers:        cfg.Publish.Workers,
			Buffer:         cfg.Publish.Buffer,
			PublishTimeout: cfg.Publish.Timeout,
			HandoffTimeout: cfg.Publish.HandoffTimeout,
		}, logger)
		defer pub.Close()
		sink = append(sink, pub)
	}

	svc := api.Services{
		Tasks:          domain.NewTaskStore(store, sink, logger),
		Deduper:        deduper,
		Health:         store,
		Changes:        notifier,
		StreamInterval: cfg.StreamInterval,
	}
	switch cfg.Auth.Mode {
	case config.AuthLocal:
		auth := api.NewLocalAuth([]byte(cfg.Auth.Secret), cfg.Auth.TokenTTL)
		svc.Auth = auth
		svc.Tokens = auth
		svc.Accounts = domain.NewAuthStore(store, cfg.Auth.BcryptCost)
	case config.AuthJWKS:
		jwksURL := fmt.Sprintf("https://%s/.well-known/jwks.json", cfg.Auth.Domain)
		jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{})
		if err != nil {
			log.Fatalf("jwks: %v", err)
		}
		defer jwks.EndBackground()
		svc.Auth = api.NewJWKSAuth(jwks, cfg.Auth.Audience, "https://"+cfg.Auth.Domain+"/", cfg.Auth.JWKSCacheTTL)
	case config.AuthNone:
		log.Warn("authentication disabled; all requests share one task list")
		svc.Auth = api.NoAuth{}
	}

	e := echo.New()
	e.HideBanner = true
	e.JSONSerializer = api.SonicSerializer{}
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, "Idempotency-Key"},
	}))
	e.Use(middleware.BodyLimit("64K"))
	e.Use(api.GzipRequestMiddleware())

	api.Register(e, svc, logger)

	go func() {
		if err := e.Start(cfg.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("server shutdown")
	}
}

func openBackend(ctx context.Context, cfg config.StorageConfig) (storage.Backend, func(), error) {
	switch cfg.Backend {
	case config.BackendTables:
		if cfg.Init {
			var queues []string
			if cfg.EventsQueue != "" {
				queues = []string{cfg.EventsQueue}
			}
			if err := storage.Provision(ctx, cfg.ConnectionString, []string{cfg.TasksTable, cfg.UsersTable}, queues); err != nil {
				return nil, nil, fmt.Errorf("provision: %w", err)
			}
		}
		st, err := storage.NewTables(cfg.ConnectionString, cfg.TasksTable, cfg.UsersTable)
		if err != nil {
			return nil, nil, err
		}
		return st, func() {}, nil
	case config.BackendPostgres:
		st, err := storage.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return st, func() {
			if err := st.Close(); err != nil {
				log.WithError(err).Warn("close postgres")
			}
		}, nil
	default:
		log.Info("using in-memory storage; data is lost on restart")
		return storage.NewMemory(), func() {}, nil
	}
}

// redisOptions accepts either a redis:// URL or the Azure-style
// "host:port,password=...,ssl=True" connection string.
func redisOptions(conn string) *redis.Options {
	opts, err := redis.ParseURL(conn)
	if err == nil {
		return opts
	}
	parts := strings.Split(conn, ",")
	opts = &redis.Options{Addr: strings.TrimSpace(parts[0])}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(kv[0])) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.EqualFold(kv[1], "true") {
				opts.TLSConfig = &tls.Config{}
			}
		}
	}
	return opts
}
