package config

import (
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/mulu-store/checkout/pkg/utils"
)

type Config struct {
	Env      string   `yaml:"env" env:"ENV" env-default:"local"`
	LogLevel string   `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	HTTP     HTTP     `yaml:"http"`
	Postgres PG       `yaml:"postgres"`
	Redis    Redis    `yaml:"redis"`
	Kafka    Kafka    `yaml:"kafka"`
	Stripe   Stripe   `yaml:"stripe"`
	Checkout Checkout `yaml:"checkout"`
	Auth     Auth     `yaml:"auth"`
	SendGrid SendGrid `yaml:"sendgrid"`
	Limiter  Limiter  `yaml:"limiter"`
}

type HTTP struct {
	Port    string        `yaml:"port" env:"HTTP_PORT" env-default:":3000"`
	Timeout time.Duration `yaml:"timeout" env-default:"15s"`
}

type PG struct {
	URL            string `yaml:"url" env:"DB_URL"`
	SimpleProtocol bool   `yaml:"simple_protocol" env:"DB_SIMPLE_PROTOCOL"`
}

type Redis struct {
	Addr     string        `yaml:"addr" env:"REDIS_ADDR" env-default:"localhost:6379"`
	Password string        `yaml:"password" env:"REDIS_PASSWORD"`
	DedupTTL time.Duration `yaml:"dedup_ttl" env-default:"48h"`
}

type Kafka struct {
	Brokers    []string `yaml:"brokers" env:"KAFKA_BROKERS" env-separator:"," env-default:"localhost:9092"`
	OrderTopic string   `yaml:"order_topic" env:"KAFKA_ORDER_TOPIC" env-default:"order_events"`
	GroupID    string   `yaml:"group_id" env:"KAFKA_GROUP_ID" env-default:"notification-service-group"`
}

type Stripe struct {
	SecretKey     string        `yaml:"secret_key" env:"STRIPE_SECRET_KEY"`
	WebhookSecret string        `yaml:"webhook_secret" env:"STRIPE_WEBHOOK_SECRET"`
	Timeout       time.Duration `yaml:"timeout" env:"STRIPE_TIMEOUT" env-default:"10s"`
}

// Checkout tunes the reservation pipeline.
// ReservationMode is one of auto, transactional, sequential.
type Checkout struct {
	BaseURL                 string `yaml:"base_url" env:"CHECKOUT_BASE_URL"`
	Currency                string `yaml:"currency" env:"CHECKOUT_CURRENCY" env-default:"EUR"`
	ReservationMode         string `yaml:"reservation_mode" env:"RESERVATION_MODE" env-default:"auto"`
	CompensationConcurrency int    `yaml:"compensation_concurrency" env-default:"8"`
}

type Auth struct {
	AccessSecret string `yaml:"access_secret" env:"JWT_ACCESS_SECRET"`
}

type SendGrid struct {
	APIKey    string `yaml:"api_key" env:"SENDGRID_API_KEY"`
	FromEmail string `yaml:"from_email" env:"SENDGRID_FROM_EMAIL" env-default:"orders@mulu.store"`
	FromName  string `yaml:"from_name" env:"SENDGRID_FROM_NAME" env-default:"Mulu Store"`
}

type Limiter struct {
	Max        int           `yaml:"max" env-default:"20"`
	Expiration time.Duration `yaml:"expiration" env-default:"5s"`
}

func MustLoad() *Config {
	configPath := utils.ParseWithFallback("CONFIG_PATH", "./config/local.yaml")

	cfg, err := Load(configPath)
	if err != nil {
		log.Fatalf("error reading config: %v", err)
	}

	return cfg
}

// Load reads configPath when it exists and falls back to environment only.
func Load(configPath string) (*Config, error) {
	var cfg Config

	if _, err := os.Stat(configPath); err == nil {
		if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
			return nil, err
		}
		return &cfg, nil
	}

	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
