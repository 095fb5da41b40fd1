package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ServerConfig 定义 HTTP 服务器的监听配置参数
type ServerConfig struct {
	Host string // 监听地址，默认 "0.0.0.0"
	Port int    // 监听端口，默认 8080
}

// RelayConfig 定义转发服务的核心业务配置
type RelayConfig struct {
	SweepInterval   time.Duration // 清理/过期通知任务的执行间隔，默认 1h
	SessionTimeout  time.Duration // 会话流程的无操作超时，默认 5m
	RequestInterval time.Duration // 同一发送方两次点歌之间的最小间隔，默认 10m
	Timezone        string        // 展示有效期时使用的时区名，默认 "Local"
	Location        *time.Location
}

// CORSConfig 定义跨域资源共享 (CORS) 配置
type CORSConfig struct {
	AllowedOrigins []string // 允许的来源列表，"*" 表示允许所有来源
}

// LogConfig 定义日志系统配置
type LogConfig struct {
	Level       string // 日志级别: debug, info, warn, error
	Development bool   // 开发模式: 启用彩色输出和详细堆栈信息
	File        string // 日志文件路径，留空仅输出到控制台
}

// DatabaseConfig 定义数据库连接配置（支持 MySQL 和 PostgreSQL）
type DatabaseConfig struct {
	Type            string        // 数据库类型: "mysql" 或 "postgres"，留空使用内存存储
	DSN             string        // 数据库连接字符串
	MaxOpenConns    int           // 最大打开连接数，默认 25
	MaxIdleConns    int           // 最大空闲连接数，默认 5
	ConnMaxLifetime time.Duration // 连接最大生命周期，默认 5 分钟
}

// RedisConfig 定义 Redis 服务配置
type RedisConfig struct {
	Enabled  bool   // 是否启用 Redis（频率限制计数）
	Address  string // Redis 服务地址，默认 "localhost:6379"
	Password string // Redis 认证密码，留空表示无密码
	DB       int    // Redis 数据库编号，默认 0
}

// AuthConfig 定义网关会话令牌配置
type AuthConfig struct {
	TokenSecret string        // HS256 签名密钥，必须至少 32 字符
	TokenExpiry time.Duration // 会话令牌有效期，默认 30 天
}

// Config 是系统核心配置的根结构体
type Config struct {
	Server   ServerConfig
	Relay    RelayConfig
	CORS     CORSConfig
	Log      LogConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Auth     AuthConfig
}

// Load 从环境变量和 .env 文件加载系统配置
//
// 配置加载优先级（从高到低）：
//  1. 系统环境变量
//  2. .env 文件（如果存在）
//  3. 默认值
//
// 环境变量前缀: SONGRELAY_
// 例如: SONGRELAY_SERVER_PORT, SONGRELAY_AUTH_TOKEN_SECRET
func Load() (*Config, error) {
	loadEnvFile()

	viper.SetEnvPrefix("songrelay")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("relay.sweep_interval", "1h")
	viper.SetDefault("relay.session_timeout", "5m")
	viper.SetDefault("relay.request_interval", "10m")
	viper.SetDefault("relay.timezone", "Local")
	viper.SetDefault("cors.allowed_origins", "*")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.development", false)
	viper.SetDefault("log.file", "")
	viper.SetDefault("database.type", "") // 默认为空，使用内存存储
	viper.SetDefault("database.dsn", "")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", "5m")
	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.address", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("auth.token_secret", "change-me-in-production")
	viper.SetDefault("auth.token_expiry", "720h")

	sweepInterval, err := time.ParseDuration(viper.GetString("relay.sweep_interval"))
	if err != nil {
		return nil, fmt.Errorf("invalid relay.sweep_interval: %w", err)
	}
	sessionTimeout, err := time.ParseDuration(viper.GetString("relay.session_timeout"))
	if err != nil {
		return nil, fmt.Errorf("invalid relay.session_timeout: %w", err)
	}
	requestInterval, err := time.ParseDuration(viper.GetString("relay.request_interval"))
	if err != nil {
		return nil, fmt.Errorf("invalid relay.request_interval: %w", err)
	}

	tzName := viper.GetString("relay.timezone")
	location, err := time.LoadLocation(tzName)
	if err != nil {
		return nil, fmt.Errorf("invalid relay.timezone %q: %w", tzName, err)
	}

	corsOrigins := parseList(viper.GetString("cors.allowed_origins"))
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}

	connMaxLifetime, err := time.ParseDuration(viper.GetString("database.conn_max_lifetime"))
	if err != nil {
		connMaxLifetime = 5 * time.Minute
	}

	tokenExpiry, err := time.ParseDuration(viper.GetString("auth.token_expiry"))
	if err != nil {
		tokenExpiry = 30 * 24 * time.Hour
	}

	tokenSecret := viper.GetString("auth.token_secret")

	// 安全检查：禁止使用默认密钥
	if tokenSecret == "change-me-in-production" {
		return nil, fmt.Errorf("SECURITY ERROR: auth token secret cannot be the default value. Please set SONGRELAY_AUTH_TOKEN_SECRET environment variable")
	}
	if len(tokenSecret) < 32 {
		return nil, fmt.Errorf("SECURITY ERROR: auth token secret must be at least 32 characters long")
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: viper.GetString("server.host"),
			Port: viper.GetInt("server.port"),
		},
		Relay: RelayConfig{
			SweepInterval:   sweepInterval,
			SessionTimeout:  sessionTimeout,
			RequestInterval: requestInterval,
			Timezone:        tzName,
			Location:        location,
		},
		CORS: CORSConfig{
			AllowedOrigins: corsOrigins,
		},
		Log: LogConfig{
			Level:       viper.GetString("log.level"),
			Development: viper.GetBool("log.development"),
			File:        viper.GetString("log.file"),
		},
		Database: DatabaseConfig{
			Type:            viper.GetString("database.type"),
			DSN:             viper.GetString("database.dsn"),
			MaxOpenConns:    viper.GetInt("database.max_open_conns"),
			MaxIdleConns:    viper.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: connMaxLifetime,
		},
		Redis: RedisConfig{
			Enabled:  viper.GetBool("redis.enabled"),
			Address:  viper.GetString("redis.address"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		Auth: AuthConfig{
			TokenSecret: tokenSecret,
			TokenExpiry: tokenExpiry,
		},
	}

	return cfg, nil
}

// parseList 将逗号分隔的字符串解析为字符串切片
func parseList(value string) []string {
	parts := strings.Split(value, ",")
	items := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}

// loadEnvFile 尝试加载 .env 文件
//
// 依次尝试当前目录与父目录；文件不存在时静默失败，
// 已存在的环境变量不会被覆盖。
func loadEnvFile() {
	if err := godotenv.Load(".env"); err == nil {
		return
	}

	parentEnv := filepath.Join("..", ".env")
	if _, err := os.Stat(parentEnv); err == nil {
		_ = godotenv.Load(parentEnv)
	}
}
