package config

import (
	"log"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "PGS"

type Database struct {
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	SSLMode  string `mapstructure:"ssl-mode"`
}

type KafkaWriter struct {
	BatchSize      int `mapstructure:"batch-size"`
	BatchTimeoutMs int `mapstructure:"batch-timeout-ms"`
}

type KafkaBroker struct {
	URL string `mapstructure:"url"`
}

type KafkaTopic struct {
	OrderEvents          string `mapstructure:"order-events"`
	PaymentNotifications string `mapstructure:"payment-notifications"`
}

type KafkaReader struct {
	GroupID string `mapstructure:"group-id"`
}

type Kafka struct {
	Writer KafkaWriter `mapstructure:"writer"`
	Broker KafkaBroker `mapstructure:"broker"`
	Topic  KafkaTopic  `mapstructure:"topic"`
	Reader KafkaReader `mapstructure:"reader"`
}

type Redis struct {
	Addr        string `mapstructure:"addr"`
	Password    string `mapstructure:"password"`
	DB          int    `mapstructure:"db"`
	SettingsKey string `mapstructure:"settings-key"`
}

// Gateway holds the bank settings used when the settings store is not Redis.
type Gateway struct {
	MerchantID             string   `mapstructure:"merchant-id"`
	Secret                 string   `mapstructure:"secret"`
	Endpoint               string   `mapstructure:"endpoint"`
	StoreType              string   `mapstructure:"store-type"`
	Sandbox                bool     `mapstructure:"sandbox"`
	Currency               string   `mapstructure:"currency"`
	Locale                 string   `mapstructure:"locale"`
	OkURL                  string   `mapstructure:"ok-url"`
	FailURL                string   `mapstructure:"fail-url"`
	CallbackURL            string   `mapstructure:"callback-url"`
	GenericDeclineMessages []string `mapstructure:"generic-decline-messages"`
	Preflight              bool     `mapstructure:"preflight"`
	ProbeTimeoutMs         int      `mapstructure:"probe-timeout-ms"`
}

type Outbox struct {
	PollingIntervalMs  int `mapstructure:"polling-interval-ms"`
	FetchSize          int `mapstructure:"fetch-size"`
	RescheduleDelayMs  int `mapstructure:"reschedule-delay-ms"`
	MaxPublishAttempts int `mapstructure:"max-publish-attempts"`
}

type Server struct {
	Port           string `mapstructure:"port"`
	ReadTimeoutMs  int    `mapstructure:"read-timeout-ms"`
	WriteTimeoutMs int    `mapstructure:"write-timeout-ms"`
	StorefrontURL  string `mapstructure:"storefront-url"`
}

type Metrics struct {
	URL          string `mapstructure:"url"`
	IntervalMs   int    `mapstructure:"interval-ms"`
	CommonLabels string `mapstructure:"common-labels"`
}

type Logs struct {
	URL   string `mapstructure:"url"`
	Level string `mapstructure:"level"`
}

type Config struct {
	Database Database `mapstructure:"database"`
	Kafka    Kafka    `mapstructure:"kafka"`
	Redis    Redis    `mapstructure:"redis"`
	Gateway  Gateway  `mapstructure:"gateway"`
	Outbox   Outbox   `mapstructure:"outbox"`
	Server   Server   `mapstructure:"server"`
	Metrics  Metrics  `mapstructure:"metrics"`
	Logs     Logs     `mapstructure:"logs"`
}

// LoadConfig reads config.yaml from path. Values can be overridden by environment
// variables such as PGS_DATABASE_HOST or PGS_GATEWAY_SECRET, also read from a .env file.
func LoadConfig(path string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func MustLoadConfig(path string) *Config {
	config, err := LoadConfig(path)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	return config
}

// setDefaults registers every key so AutomaticEnv can override it. Security relevant
// gateway values default to empty and make the gateway fail closed.
func setDefaults(v *viper.Viper) {
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "payments")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.ssl-mode", "disable")

	v.SetDefault("kafka.writer.batch-size", 100)
	v.SetDefault("kafka.writer.batch-timeout-ms", 100)
	v.SetDefault("kafka.broker.url", "localhost:9092")
	v.SetDefault("kafka.topic.order-events", "order-events")
	v.SetDefault("kafka.topic.payment-notifications", "payment-notifications")
	v.SetDefault("kafka.reader.group-id", "payment-gateway-service")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.settings-key", "settings:payment-gateway")

	v.SetDefault("gateway.merchant-id", "")
	v.SetDefault("gateway.secret", "")
	v.SetDefault("gateway.endpoint", "")
	v.SetDefault("gateway.store-type", "")
	v.SetDefault("gateway.sandbox", false)
	v.SetDefault("gateway.currency", "949")
	v.SetDefault("gateway.locale", "tr")
	v.SetDefault("gateway.ok-url", "")
	v.SetDefault("gateway.fail-url", "")
	v.SetDefault("gateway.callback-url", "")
	v.SetDefault("gateway.generic-decline-messages", []string{"Declined", "İşlem onaylanmadı."})
	v.SetDefault("gateway.preflight", false)
	v.SetDefault("gateway.probe-timeout-ms", 5000)

	v.SetDefault("outbox.polling-interval-ms", 500)
	v.SetDefault("outbox.fetch-size", 200)
	v.SetDefault("outbox.reschedule-delay-ms", 10_000)
	v.SetDefault("outbox.max-publish-attempts", 3)

	v.SetDefault("server.port", "8080")
	v.SetDefault("server.read-timeout-ms", 10_000)
	v.SetDefault("server.write-timeout-ms", 10_000)
	v.SetDefault("server.storefront-url", "")

	v.SetDefault("metrics.url", "")
	v.SetDefault("metrics.interval-ms", 10_000)
	v.SetDefault("metrics.common-labels", "")

	v.SetDefault("logs.url", "")
	v.SetDefault("logs.level", "info")
}
