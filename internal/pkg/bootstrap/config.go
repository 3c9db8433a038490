// internal/pkg/bootstrap/config.go
package bootstrap

import (
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config 是服务的完整配置。来源优先级：默认值 < YAML 文件 < Nacos 配置中心 < 环境变量。
type Config struct {
	App         AppConfig         `yaml:"app"`
	Log         LogConfig         `yaml:"log"`
	Database    DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	Kafka       KafkaConfig       `yaml:"kafka"`
	Reservation ReservationConfig `yaml:"reservation"`
	Infra       InfraConfig       `yaml:"infra"`
}

type AppConfig struct {
	Name     string `yaml:"name"`
	Env      string `yaml:"env"`
	HTTPPort int    `yaml:"http_port"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type DatabaseConfig struct {
	Driver       string        `yaml:"driver"` // mysql / postgres
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	User         string        `yaml:"user"`
	Password     string        `yaml:"password"`
	Name         string        `yaml:"name"`
	MaxOpenConns int           `yaml:"max_open_conns"`
	MaxIdleConns int           `yaml:"max_idle_conns"`
	LockTimeout  time.Duration `yaml:"lock_timeout"`
	AutoMigrate  bool          `yaml:"auto_migrate"`
}

type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addrs    string        `yaml:"addrs"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

type KafkaConfig struct {
	Enabled          bool     `yaml:"enabled"`
	Brokers          []string `yaml:"brokers"`
	FulfillmentTopic string   `yaml:"fulfillment_topic"`
	ReservationTopic string   `yaml:"reservation_topic"`
	GroupID          string   `yaml:"group_id"`
	MaxRetries       int      `yaml:"max_retries"`
}

type ReservationConfig struct {
	// TTLPolicy 是一个 CEL 表达式，调用方没有指定 ttl_minutes 时用它计算过期分钟数
	TTLPolicy string      `yaml:"ttl_policy"`
	Sweep     SweepConfig `yaml:"sweep"`
}

type SweepConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Interval   time.Duration `yaml:"interval"`
	BatchSize  int           `yaml:"batch_size"`
	MaxBatches int           `yaml:"max_batches"`
	Workers    int           `yaml:"workers"`
}

type InfraConfig struct {
	Jaeger JaegerConfig `yaml:"jaeger"`
	Nacos  NacosConfig  `yaml:"nacos"`
}

type JaegerConfig struct {
	Endpoint string `yaml:"endpoint"`
}

type NacosConfig struct {
	Addrs     string `yaml:"addrs"`
	Namespace string `yaml:"namespace"`
	Group     string `yaml:"group"`
	DataID    string `yaml:"data_id"`
}

// DefaultConfig 返回本地开发可直接使用的默认配置
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{Name: "reservation-service", Env: "dev", HTTPPort: 8090},
		Log: LogConfig{Level: "info", Format: "json"},
		Database: DatabaseConfig{
			Driver:       "mysql",
			Host:         "localhost",
			Port:         3306,
			User:         "root",
			Password:     "root",
			Name:         "wms",
			MaxOpenConns: 50,
			MaxIdleConns: 10,
			LockTimeout:  5 * time.Second,
		},
		Redis: RedisConfig{Addrs: "localhost:6379", CacheTTL: 2 * time.Second},
		Kafka: KafkaConfig{
			Brokers:          []string{"localhost:9092"},
			FulfillmentTopic: "warehouse.fulfillment.v1",
			ReservationTopic: "warehouse.reservation.v1",
			GroupID:          "reservation-service",
			MaxRetries:       3,
		},
		Reservation: ReservationConfig{
			TTLPolicy: "30",
			Sweep: SweepConfig{
				Enabled:    true,
				Interval:   30 * time.Second,
				BatchSize:  100,
				MaxBatches: 50,
				Workers:    1,
			},
		},
		Infra: InfraConfig{
			Jaeger: JaegerConfig{Endpoint: "http://localhost:14268/api/traces"},
			Nacos:  NacosConfig{Group: "DEFAULT_GROUP", DataID: "reservation-service.yaml"},
		},
	}
}

var current atomic.Pointer[Config]

// GetCurrentConfig 返回当前生效的配置；Nacos 推送新配置后会被原子替换
func GetCurrentConfig() *Config {
	if c := current.Load(); c != nil {
		return c
	}
	return DefaultConfig()
}

func setCurrentConfig(c *Config) {
	current.Store(c)
}

// LoadConfig 按 默认值 -> YAML 文件 -> 环境变量 的顺序加载配置。
// path 为空或文件不存在时跳过文件这一层。
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := mergeYAML(cfg, data); err != nil {
				return nil, errors.Wrapf(err, "parse config file %s", path)
			}
		case !os.IsNotExist(err):
			return nil, errors.Wrapf(err, "read config file %s", path)
		}
	}
	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	setCurrentConfig(cfg)
	return cfg, nil
}

// mergeYAML 把 YAML 文档覆盖到已有配置上，没有出现的字段保持原值
func mergeYAML(cfg *Config, data []byte) error {
	return yaml.Unmarshal(data, cfg)
}

// Validate 检查配置的基本合法性
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "mysql", "postgres":
	default:
		return errors.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Reservation.Sweep.BatchSize <= 0 {
		return errors.New("reservation.sweep.batch_size must be positive")
	}
	if c.Reservation.Sweep.Interval <= 0 {
		return errors.New("reservation.sweep.interval must be positive")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return errors.New("kafka.brokers is required when kafka is enabled")
	}
	return nil
}

func applyEnv(c *Config) {
	c.App.HTTPPort = getEnvInt("HTTP_PORT", c.App.HTTPPort)
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LOG_FORMAT", c.Log.Format)

	c.Database.Driver = getEnv("DB_DRIVER", c.Database.Driver)
	c.Database.Host = getEnv("DB_HOST", c.Database.Host)
	c.Database.Port = getEnvInt("DB_PORT", c.Database.Port)
	c.Database.User = getEnv("DB_USER", c.Database.User)
	c.Database.Password = getEnv("DB_PASSWORD", c.Database.Password)
	c.Database.Name = getEnv("DB_NAME", c.Database.Name)

	c.Redis.Enabled = getEnvBool("REDIS_ENABLED", c.Redis.Enabled)
	c.Redis.Addrs = getEnv("REDIS_ADDRS", c.Redis.Addrs)

	c.Kafka.Enabled = getEnvBool("KAFKA_ENABLED", c.Kafka.Enabled)
	if v, ok := os.LookupEnv("KAFKA_BROKERS"); ok && v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}

	c.Infra.Jaeger.Endpoint = getEnv("JAEGER_ENDPOINT", c.Infra.Jaeger.Endpoint)
	c.Infra.Nacos.Addrs = getEnv("NACOS_SERVER_ADDRS", c.Infra.Nacos.Addrs)
	c.Infra.Nacos.Namespace = getEnv("NACOS_NAMESPACE", c.Infra.Nacos.Namespace)
	c.Infra.Nacos.Group = getEnv("NACOS_GROUP", c.Infra.Nacos.Group)
}

// getEnv 从环境变量中读取配置
func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}
