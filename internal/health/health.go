package health

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/heptiolabs/healthcheck"
	"go.uber.org/zap"

	"songrelay/backend/internal/storage"
)

// Checker 聚合存活与就绪检查，挂在 /healthz 和 /readyz 上。
type Checker struct {
	handler healthcheck.Handler
	store   storage.Store
	log     *zap.Logger
}

// NewChecker 创建健康检查器。limiter 可以为 nil（未启用 Redis）。
func NewChecker(store storage.Store, limiter storage.RateLimiter, log *zap.Logger) *Checker {
	c := &Checker{
		handler: healthcheck.NewHandler(),
		store:   store,
		log:     log,
	}

	c.handler.AddLivenessCheck("store", func() error {
		return c.store.Health()
	})

	if limiter != nil {
		if healther, ok := limiter.(interface{ Health() error }); ok {
			c.handler.AddReadinessCheck("redis", healther.Health)
		}
	}

	// SQL 存储的就绪检查带超时 ping，比存活检查更严格
	if pooled, ok := store.(interface{ DB() *sql.DB }); ok {
		c.handler.AddReadinessCheck("database", DatabaseCheck(pooled.DB()))
	}

	return c
}

// LiveHandler 存活检查处理器。
func (c *Checker) LiveHandler() http.Handler {
	return http.HandlerFunc(c.handler.LiveEndpoint)
}

// ReadyHandler 就绪检查处理器。
func (c *Checker) ReadyHandler() http.Handler {
	return http.HandlerFunc(c.handler.ReadyEndpoint)
}

// DatabaseCheck 针对底层 sql.DB 的检查，供 sql 存储使用。
func DatabaseCheck(db *sql.DB) healthcheck.Check {
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return db.PingContext(ctx)
	}
}
