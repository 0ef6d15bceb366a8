package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Turnover  TurnoverConfig  `mapstructure:"turnover"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Provision ProvisionConfig `mapstructure:"provision"`
}

type ServerConfig struct {
	GRPCPort        int           `mapstructure:"grpc_port"`
	HTTPPort        int           `mapstructure:"http_port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Driver         string `mapstructure:"driver"` // postgres | memory
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
}

// Auth Configuration. Tokens are issued by the hospital identity provider,
// the engine only validates them.
type AuthConfig struct {
	JWTSecretEnv   string        `mapstructure:"jwt_secret_env"`
	Issuer         string        `mapstructure:"issuer"`
	AccessTokenTTL time.Duration `mapstructure:"access_token_ttl"`
	Disabled       bool          `mapstructure:"disabled"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TurnoverConfig maps turnover types (standard, priority, deep-clean) to
// cleaning durations.
type TurnoverConfig struct {
	Durations map[string]time.Duration `mapstructure:"durations"`
}

type QueueConfig struct {
	DefaultQueueType string            `mapstructure:"default_queue_type"`
	CategoryQueues   map[string]string `mapstructure:"category_queues"`
}

type NotifyConfig struct {
	BufferSize int           `mapstructure:"buffer_size"`
	Redis      RedisConfig   `mapstructure:"redis"`
	Kafka      KafkaConfig   `mapstructure:"kafka"`
	MQTT       MQTTConfig    `mapstructure:"mqtt"`
	Webhook    WebhookConfig `mapstructure:"webhook"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Stream   string `mapstructure:"stream"`
	MaxLen   int64  `mapstructure:"max_len"`
}

type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type MQTTConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Broker      string `mapstructure:"broker"`
	ClientID    string `mapstructure:"client_id"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	TopicPrefix string `mapstructure:"topic_prefix"`
	QoS         byte   `mapstructure:"qos"`
}

type WebhookConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
	Retries int           `mapstructure:"retries"`
}

type ProvisionConfig struct {
	LayoutPath string `mapstructure:"layout_path"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.grpc_port", 50051)
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.shutdown_timeout", "30s")

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.max_connections", 10)

	v.SetDefault("auth.jwt_secret_env", "JWT_SECRET")
	v.SetDefault("auth.issuer", "openwardcore")
	v.SetDefault("auth.access_token_ttl", "60m")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Only the standard turnover has a documented default; priority and
	// deep-clean durations come from the site configuration.
	v.SetDefault("turnover.durations.standard", "30m")

	v.SetDefault("queue.default_queue_type", "admission")

	v.SetDefault("notify.buffer_size", 256)
	v.SetDefault("notify.redis.stream", "ward:events")
	v.SetDefault("notify.redis.max_len", 10000)
	v.SetDefault("notify.kafka.topic", "ward-events")
	v.SetDefault("notify.mqtt.client_id", "openwardcore")
	v.SetDefault("notify.mqtt.topic_prefix", "ward")
	v.SetDefault("notify.webhook.timeout", "5s")
	v.SetDefault("notify.webhook.retries", 2)
}

// Load reads the YAML config at path. Environment variables with prefix OWC_
// override file values (server.http_port -> OWC_SERVER_HTTP_PORT).
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	setDefaults(v)

	v.SetEnvPrefix("OWC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("unsupported database driver: %q", c.Database.Driver)
	}

	if c.Queue.DefaultQueueType == "" {
		return fmt.Errorf("queue.default_queue_type must not be empty")
	}

	for name, d := range c.Turnover.Durations {
		if d <= 0 {
			return fmt.Errorf("turnover duration for %q must be positive", name)
		}
	}

	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

// Duration returns the configured cleaning duration for a turnover type.
func (t TurnoverConfig) Duration(turnoverType string) (time.Duration, error) {
	d, ok := t.Durations[turnoverType]
	if !ok {
		return 0, fmt.Errorf("no duration configured for turnover type %q", turnoverType)
	}
	return d, nil
}

// QueueTypeFor returns the queue that feeds beds of the given category.
func (q QueueConfig) QueueTypeFor(category string) string {
	if qt, ok := q.CategoryQueues[category]; ok && qt != "" {
		return qt
	}
	return q.DefaultQueueType
}

const devSecret = "dev-secret-change-in-production-min-32-chars"

// JWT Secret aus Environment Variable laden
func (a *AuthConfig) GetJWTSecret() string {
	envVar := a.JWTSecretEnv
	if envVar == "" {
		envVar = "JWT_SECRET"
	}

	secret := os.Getenv(envVar)
	if secret == "" {
		return devSecret
	}
	return secret
}

func (a *AuthConfig) IsProductionReady() bool {
	secret := a.GetJWTSecret()
	return secret != devSecret && len(secret) >= 32
}
