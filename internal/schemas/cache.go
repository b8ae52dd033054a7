package schemas

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	registrationv1 "github.com/pipestream-ai/platform-registration/api/registration/v1"
	"github.com/pipestream-ai/platform-registration/pkg/metrics"
	"github.com/pipestream-ai/platform-registration/pkg/redis"
)

// CacheTTL bounds how stale a served schema can be. Short on purpose: the
// cached copy includes sync_status, which the background syncer flips.
const CacheTTL = 30 * time.Second

// Service resolves module schemas. Implemented by Retriever and by
// CachedRetriever wrapping it.
type Service interface {
	GetModuleSchema(ctx context.Context, req *registrationv1.ModuleSchemaRequest) (*registrationv1.ModuleSchemaResponse, error)
}

// SchemaCache is the slice of pkg/redis the cached retriever needs.
type SchemaCache interface {
	Get(ctx context.Context, entity, attribute string, value interface{}) error
	Set(ctx context.Context, entity, attribute string, value interface{}, ttl time.Duration) error
	DeletePattern(ctx context.Context, entity string) error
}

// CachedRetriever is a read-through cache in front of the layered lookup.
// Cache failures are never fatal; every miss or error runs the full chain.
type CachedRetriever struct {
	inner Service
	cache SchemaCache
	log   *zap.Logger
}

// NewCachedRetriever wraps inner with a read-through cache.
func NewCachedRetriever(inner Service, cache SchemaCache, log *zap.Logger) *CachedRetriever {
	return &CachedRetriever{inner: inner, cache: cache, log: log}
}

// GetModuleSchema serves from the cache when it can, otherwise runs the full
// lookup and stores the result.
func (c *CachedRetriever) GetModuleSchema(ctx context.Context, req *registrationv1.ModuleSchemaRequest) (*registrationv1.ModuleSchemaResponse, error) {
	attribute := versionKey(req.Version)

	var cached registrationv1.ModuleSchemaResponse
	err := c.cache.Get(ctx, req.ModuleName, attribute, &cached)
	if err == nil {
		metrics.SchemaCacheHits.WithLabelValues("hit").Inc()
		return &cached, nil
	}
	if !errors.Is(err, redis.ErrCacheMiss) {
		c.log.Warn("Schema cache read failed",
			zap.String("module", req.ModuleName), zap.Error(err))
	}
	metrics.SchemaCacheHits.WithLabelValues("miss").Inc()

	resp, err := c.inner.GetModuleSchema(ctx, req)
	if err != nil {
		return nil, err
	}

	if err := c.cache.Set(ctx, req.ModuleName, attribute, resp, CacheTTL); err != nil {
		c.log.Warn("Schema cache write failed",
			zap.String("module", req.ModuleName), zap.Error(err))
	}
	return resp, nil
}

// Invalidate drops every cached version of a module's schema. Called after
// schema writes so readers never see a stale body past the write.
func (c *CachedRetriever) Invalidate(ctx context.Context, moduleName string) {
	if err := c.cache.DeletePattern(ctx, moduleName); err != nil {
		c.log.Warn("Schema cache invalidation failed",
			zap.String("module", moduleName), zap.Error(err))
	}
}

func versionKey(version string) string {
	if version == "" {
		return "v:latest"
	}
	return "v:" + version
}
