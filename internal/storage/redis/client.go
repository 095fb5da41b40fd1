package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Config Redis 连接配置
type Config struct {
	Address  string
	Password string
	DB       int
}

// Client 封装 Redis 客户端，实现 storage.RateLimiter。
// 点歌请求的频率限制计数保存在这里，窗口到期后键自动失效。
type Client struct {
	rdb *goredis.Client
	ctx context.Context
	log *zap.Logger
}

// New 创建新的 Redis 客户端
func New(cfg Config, log *zap.Logger) (*Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Info("connected to Redis",
		zap.String("address", cfg.Address),
		zap.Int("db", cfg.DB),
	)

	return &Client{
		rdb: rdb,
		ctx: context.Background(),
		log: log,
	}, nil
}

// IncrementRateLimit 递增限流计数，新键设置窗口过期时间。
func (c *Client) IncrementRateLimit(key string, window time.Duration) (int64, error) {
	pipe := c.rdb.Pipeline()

	incr := pipe.Incr(c.ctx, key)
	pipe.Expire(c.ctx, key, window)

	if _, err := pipe.Exec(c.ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

// Health 测试 Redis 连接
func (c *Client) Health() error {
	ctx, cancel := context.WithTimeout(c.ctx, 3*time.Second)
	defer cancel()
	return c.rdb.Ping(ctx).Err()
}

// Close 关闭 Redis 连接
func (c *Client) Close() error {
	if err := c.rdb.Close(); err != nil {
		c.log.Error("failed to close Redis connection", zap.Error(err))
		return err
	}
	return nil
}
