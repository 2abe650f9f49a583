package bootstrap

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"voicemaster/internal/service"
)

// EnvPrefix 所有环境变量的前缀，例如 VOICEMASTER_DB_USER
const EnvPrefix = "VOICEMASTER"

// Config 结构体用于存储从环境变量或 .env 文件加载的配置
type Config struct {
	AppEnv   string `envconfig:"APP_ENV" default:"development"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	DBUser            string        `envconfig:"DB_USER" required:"true"`
	DBPassword        string        `envconfig:"DB_PASSWORD"`
	DBHost            string        `envconfig:"DB_HOST" default:"127.0.0.1"`
	DBPort            string        `envconfig:"DB_PORT" default:"3306"`
	DBName            string        `envconfig:"DB_NAME" default:"voicemaster"`
	DBMaxOpenConns    int           `envconfig:"DB_MAX_OPEN_CONNS" default:"20"`
	DBMaxIdleConns    int           `envconfig:"DB_MAX_IDLE_CONNS" default:"5"`
	DBConnMaxLifetime time.Duration `envconfig:"DB_CONN_MAX_LIFETIME" default:"30m"`

	RedisAddr     string `envconfig:"REDIS_ADDR" required:"true"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`
	KeyPrefix     string `envconfig:"REDIS_KEY_PREFIX" default:"vm:"`

	DiscordToken string `envconfig:"DISCORD_TOKEN" required:"true"`

	JWTSecret      string   `envconfig:"JWT_SECRET" required:"true"`
	ServerPort     string   `envconfig:"SERVER_PORT" default:"8080"`
	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS"`

	RateLimitMax    int           `envconfig:"RATE_LIMIT_MAX" default:"100"`
	RateLimitWindow time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"1s"`

	BurstPolicy       string        `envconfig:"BURST_POLICY" default:"silent"`
	PlatformTimeout   time.Duration `envconfig:"PLATFORM_TIMEOUT" default:"10s"`
	EventTimeout      time.Duration `envconfig:"EVENT_TIMEOUT" default:"30s"`
	SweepSchedule     string        `envconfig:"SWEEP_SCHEDULE" default:"@every 10m"`
	SweepOnStart      bool          `envconfig:"SWEEP_ON_START" default:"true"`
	WorkerConcurrency int           `envconfig:"WORKER_CONCURRENCY" default:"2"`
}

// LoadConfig 先加载 .env（如果存在），再从环境变量填充 Config 并校验。
func LoadConfig() (*Config, error) {
	_ = godotenv.Load() // 忽略错误，允许只使用环境变量

	cfg := &Config{}
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, errors.Wrap(err, "failed to process env config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 检查互相关联或无法用 tag 表达的取值
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		logrus.Warnf("Invalid LOG_LEVEL '%s', using default 'info'", c.LogLevel)
		c.LogLevel = "info" // 修正配置值
	}
	if _, err := service.ParseBurstPolicy(c.BurstPolicy); err != nil {
		return fmt.Errorf("invalid %s_BURST_POLICY: %w", EnvPrefix, err)
	}
	if c.PlatformTimeout <= 0 {
		return fmt.Errorf("%s_PLATFORM_TIMEOUT must be positive", EnvPrefix)
	}
	if c.EventTimeout < c.PlatformTimeout {
		return fmt.Errorf("%s_EVENT_TIMEOUT (%s) must not be shorter than %s_PLATFORM_TIMEOUT (%s)",
			EnvPrefix, c.EventTimeout, EnvPrefix, c.PlatformTimeout)
	}
	if c.RateLimitMax <= 0 || c.RateLimitWindow <= 0 {
		return fmt.Errorf("%s_RATE_LIMIT_MAX and %s_RATE_LIMIT_WINDOW must be positive", EnvPrefix, EnvPrefix)
	}
	if c.WorkerConcurrency <= 0 {
		c.WorkerConcurrency = 2
	}
	return nil
}

// Policy 由配置构建服务层参数，未配置的项使用默认值
func (c *Config) Policy() service.Policy {
	policy := service.DefaultPolicy()
	policy.PlatformTimeout = c.PlatformTimeout
	policy.Burst, _ = service.ParseBurstPolicy(c.BurstPolicy) // Validate 已检查
	return policy
}

// IsProduction 是否运行在生产环境
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}
