package server

import (
	"context"
	"database/sql"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/pipestream-ai/platform-registration/internal/apicurio"
	"github.com/pipestream-ai/platform-registration/internal/config"
	"github.com/pipestream-ai/platform-registration/internal/consul"
	"github.com/pipestream-ai/platform-registration/internal/discovery"
	"github.com/pipestream-ai/platform-registration/internal/events"
	"github.com/pipestream-ai/platform-registration/internal/modulestub"
	"github.com/pipestream-ai/platform-registration/internal/monitor"
	"github.com/pipestream-ai/platform-registration/internal/readiness"
	"github.com/pipestream-ai/platform-registration/internal/registry"
	"github.com/pipestream-ai/platform-registration/internal/schemas"
	"github.com/pipestream-ai/platform-registration/internal/selfreg"
	"github.com/pipestream-ai/platform-registration/internal/store"
	"github.com/pipestream-ai/platform-registration/pkg/redis"
)

// App bundles the wired hub with the handles Close releases.
type App struct {
	Hub    *Hub
	Server *Server

	db      *sql.DB
	redis   *redis.Client
	emitter *events.Emitter
	log     *zap.Logger
}

// Build wires the full hub: backends first, then the orchestrator and the
// discovery surface, then the lifecycle server around them. Redis is the one
// optional backend; when it is absent or unreachable the schema path runs
// uncached.
func Build(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	db, err := store.Connect(ctx, log, cfg)
	if err != nil {
		return nil, err
	}

	consulClient, err := consul.New(net.JoinHostPort(cfg.ConsulHost, cfg.ConsulPort), log.With(zap.String("module", "consul")))
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	apicurioClient := apicurio.NewClient(cfg.ApicurioURL, log.With(zap.String("module", "apicurio")))
	st := store.New(db, apicurioClient, log.With(zap.String("module", "store")))
	emitter := events.NewEmitter(cfg.KafkaBrokers, log.With(zap.String("module", "events")))
	stubs := modulestub.NewGRPCFactory(consulClient, log.With(zap.String("module", "modulestub")))

	orchestrator := registry.NewOrchestrator(
		consulClient,
		consul.NewHealthChecker(consulClient, log.With(zap.String("module", "consul"))),
		st,
		apicurioClient,
		emitter,
		stubs,
		log.With(zap.String("module", "registry")),
	)
	surface := discovery.New(consulClient, log.With(zap.String("module", "discovery")))

	retriever := schemas.NewRetriever(st, apicurioClient, stubs, log.With(zap.String("module", "schemas")))
	var schemaService schemas.Service = retriever
	var redisClient *redis.Client
	if cfg.RedisHost != "" {
		redisClient, err = redis.NewClient(redis.Config{
			Host:         cfg.RedisHost,
			Port:         cfg.RedisPort,
			Password:     cfg.RedisPassword,
			DB:           cfg.RedisDB,
			PoolSize:     cfg.RedisPoolSize,
			MinIdleConns: cfg.RedisMinIdleConns,
		}, log)
		if err != nil {
			log.Warn("Redis unavailable, serving schemas uncached", zap.Error(err))
			redisClient = nil
		} else {
			cache := redis.NewCache(redisClient, "schemas")
			schemaService = schemas.NewCachedRetriever(retriever, cache, log.With(zap.String("module", "schemas")))
		}
	}

	hub := NewHub(orchestrator, surface, schemaService)

	checker := readiness.New(db, consulClient, apicurioClient, log.With(zap.String("module", "readiness")))
	staleMonitor := monitor.NewStaleMonitor(st,
		time.Duration(cfg.StaleScanIntervalSeconds)*time.Second, log.With(zap.String("module", "monitor")))
	schemaSyncer := monitor.NewSchemaSyncer(st, apicurioClient,
		time.Duration(cfg.SchemaSyncIntervalSeconds)*time.Second, log.With(zap.String("module", "monitor")))
	registrant := selfreg.New(hub, cfg, log.With(zap.String("module", "selfreg")))

	ops := NewOpsServer(cfg.HTTPPort, checker, log)
	srv := NewServer(cfg, ops, registrant, []func(context.Context){staleMonitor.Run, schemaSyncer.Run}, log)

	return &App{
		Hub:     hub,
		Server:  srv,
		db:      db,
		redis:   redisClient,
		emitter: emitter,
		log:     log,
	}, nil
}

// Close flushes the event emitter and releases every connection Build
// opened.
func (a *App) Close() {
	if err := a.emitter.Close(); err != nil {
		a.log.Warn("Failed to close event emitter", zap.Error(err))
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Warn("Failed to close Redis client", zap.Error(err))
		}
	}
	if err := a.db.Close(); err != nil {
		a.log.Warn("Failed to close database", zap.Error(err))
	}
}
