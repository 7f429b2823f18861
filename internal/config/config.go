// Package config предоставляет структуры и функции для парсинга и загрузки конфига.
// Значения читаются из yaml-файла, секреты могут быть переопределены переменными окружения.
package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config общая структура для хранения настроек
type Config struct {
	Env                     string `yaml:"env" env:"APP_ENV" env-default:"local"`
	LogLevel                string `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	StorageConnectionString string `yaml:"storage_connection_string" env:"STORAGE_CONNECTION_STRING" env-required:"true"`
	MigrationsPath          string `yaml:"migrations_path" env-default:"./migrations"`
	RedisConnection         `yaml:"redis_connection"`
	HTTPServer              `yaml:"http_server"`
	GRPCServer              `yaml:"grpc_server"`
	JWTToken                `yaml:"jwttoken"`
	Stripe                  `yaml:"stripe"`
	RabbitMQ                `yaml:"rabbitmq"`
	Entitlement             `yaml:"entitlement"`
}

// HTTPServer структура для настройки сервера
type HTTPServer struct {
	AddressHTTP string        `yaml:"addresshttp" env-default:":8080"`
	TimeoutHTTP time.Duration `yaml:"timeouthttp" env-default:"10s"`
	IdleTimeout time.Duration `yaml:"idle_timeout" env-default:"60s"`
	// RateLimit запросов в секунду на пользователя для операций с оплатой.
	RateLimit float64 `yaml:"rate_limit" env-default:"5"`
	RateBurst int     `yaml:"rate_burst" env-default:"10"`
}

// GRPCServer структура для настройки gRPC health-сервера.
// Пустой адрес отключает сервер.
type GRPCServer struct {
	AddressGRPC   string        `yaml:"addressgrpc"`
	CheckInterval time.Duration `yaml:"check_interval" env-default:"15s"`
}

// RedisConnection структура для настройки подключения к redis
type RedisConnection struct {
	AddressRedis string        `yaml:"addressredis" env:"REDIS_ADDRESS"`
	Password     string        `yaml:"password" env:"REDIS_PASSWORD"`
	User         string        `yaml:"user"`
	DB           int           `yaml:"db"`
	MaxRetries   int           `yaml:"max_retries" env-default:"3"`
	DialTimeout  time.Duration `yaml:"dial_timeout" env-default:"5s"`
	TimeoutRedis time.Duration `yaml:"timeoutredis" env-default:"3s"`
}

// JWTToken структура для проверки токенов сервиса аутентификации
type JWTToken struct {
	JWTSecretKey string        `yaml:"jwt_secret_key" env:"JWT_SECRET_KEY"`
	TokenTTL     time.Duration `yaml:"token_ttl" env-default:"24h"`
}

// Stripe настройки платёжного провайдера.
// Prices разрешённые price_id и соответствующий им тариф.
type Stripe struct {
	SecretKey        string            `yaml:"secret_key" env:"STRIPE_SECRET_KEY"`
	WebhookSecret    string            `yaml:"webhook_secret" env:"STRIPE_WEBHOOK_SECRET"`
	WebhookTolerance time.Duration     `yaml:"webhook_tolerance" env-default:"5m"`
	FrontendURL      string            `yaml:"frontend_url" env:"FRONTEND_URL"`
	Prices           map[string]string `yaml:"prices"`
}

// RabbitMQ настройки брокера для событий изменения доступа.
// Пустой URL отключает публикацию и потребление.
type RabbitMQ struct {
	URL      string `yaml:"url" env:"RABBITMQ_URL"`
	Exchange string `yaml:"exchange" env-default:"entitlements"`
	Queue    string `yaml:"queue" env-default:"entitlements.changed"`
	// QueueTTL и QueueMaxLength ограничивают долговечную очередь для внешних потребителей.
	QueueTTL       time.Duration `yaml:"queue_ttl" env-default:"24h"`
	QueueMaxLength int           `yaml:"queue_max_length" env-default:"100000"`
	Retries        int           `yaml:"retries" env-default:"5"`
	RetryDelay     time.Duration `yaml:"retry_delay" env-default:"2s"`
}

// Entitlement настройки чтения подписки и правил доступа.
type Entitlement struct {
	CacheTTL     time.Duration `yaml:"cache_ttl" env-default:"30s"`
	AdminUserIDs []string      `yaml:"admin_user_ids" env:"ADMIN_USER_IDS" env-separator:","`
	LoginPath    string        `yaml:"login_path" env-default:"/login"`
	UpgradePath  string        `yaml:"upgrade_path" env-default:"/pricing"`
	GatedPaths   []string      `yaml:"gated_paths"`
}

// MustLoad функция для загрузки конфига по пути из CONFIG_PATH.
// Завершает процесс, если конфиг не удалось прочитать.
func MustLoad() *Config {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		log.Fatal("CONFIG_PATH is not set")
	}
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		log.Fatalf("file: %s - does not exist", configPath)
	}

	cfg, err := Load(configPath)
	if err != nil {
		log.Fatalf("cannot read config: %s", err)
	}
	return cfg
}

// Load читает конфиг из файла и переменных окружения.
func Load(path string) (*Config, error) {
	const op = "config.Load"
	var cfg Config
	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &cfg, nil
}

// String печатает конфиг без секретов.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Env: %s\n"+
			"LogLevel: %s\n"+
			"MigrationsPath: %s\n"+
			"RedisConnection:\n"+
			"  Addr: %s\n"+
			"  DB: %d\n"+
			"  MaxRetries: %d\n"+
			"HTTPServer:\n"+
			"  Address: %s\n"+
			"  Timeout: %s\n"+
			"  IdleTimeout: %s\n"+
			"GRPCServer:\n"+
			"  Address: %s\n"+
			"Stripe:\n"+
			"  SecretKeySet: %t\n"+
			"  WebhookSecretSet: %t\n"+
			"  FrontendURL: %s\n"+
			"  Prices: %d\n"+
			"RabbitMQ:\n"+
			"  Enabled: %t\n"+
			"  Exchange: %s\n"+
			"Entitlement:\n"+
			"  CacheTTL: %s\n"+
			"  Admins: %d\n"+
			"  GatedPaths: %v\n",
		c.Env,
		c.LogLevel,
		c.MigrationsPath,
		c.AddressRedis,
		c.DB,
		c.MaxRetries,
		c.AddressHTTP,
		c.TimeoutHTTP,
		c.IdleTimeout,
		c.AddressGRPC,
		c.SecretKey != "",
		c.WebhookSecret != "",
		c.FrontendURL,
		len(c.Prices),
		c.RabbitMQ.URL != "",
		c.Exchange,
		c.CacheTTL,
		len(c.AdminUserIDs),
		c.GatedPaths,
	)
}
