package config

import (
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type APIConfig struct {
	DBDSN     string `envconfig:"DB_DSN" required:"true"`
	Port      string `envconfig:"PORT" default:"8080"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`

	DBMaxConns        int32         `envconfig:"DB_POOL_MAX_CONNS" default:"10"`
	DBMinConns        int32         `envconfig:"DB_POOL_MIN_CONNS" default:"0"`
	DBMaxConnLifetime time.Duration `envconfig:"DB_POOL_MAX_CONN_LIFETIME" default:"1h"`
	DBMaxConnIdleTime time.Duration `envconfig:"DB_POOL_MAX_CONN_IDLE_TIME" default:"30m"`
}

type WorkerConfig struct {
	DBDSN     string `envconfig:"DB_DSN" required:"true"`
	Port      string `envconfig:"PORT" default:"8081"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`

	DBMaxConns        int32         `envconfig:"DB_POOL_MAX_CONNS" default:"10"`
	DBMinConns        int32         `envconfig:"DB_POOL_MIN_CONNS" default:"0"`
	DBMaxConnLifetime time.Duration `envconfig:"DB_POOL_MAX_CONN_LIFETIME" default:"1h"`
	DBMaxConnIdleTime time.Duration `envconfig:"DB_POOL_MAX_CONN_IDLE_TIME" default:"30m"`

	Concurrency  int           `envconfig:"WORKER_CONCURRENCY" default:"1"`
	IdleSleep    time.Duration `envconfig:"WORKER_IDLE_SLEEP" default:"1s"`
	MaxRetries   int           `envconfig:"MAX_SEND_RETRIES" default:"3"`
	BackoffBase  time.Duration `envconfig:"SEND_BACKOFF_BASE" default:"1s"`
	BackoffCap   time.Duration `envconfig:"SEND_BACKOFF_CAP" default:"60s"`
	EmailRPS     float64       `envconfig:"EMAIL_RPS" default:"10"`
	EmailBurst   int           `envconfig:"EMAIL_BURST" default:"20"`
	EmailTimeout time.Duration `envconfig:"EMAIL_TIMEOUT" default:"10s"`

	// Email provider (Postmark-compatible)
	EmailBaseURL     string `envconfig:"EMAIL_BASE_URL" required:"true"`
	EmailServerToken string `envconfig:"EMAIL_SERVER_TOKEN" required:"true"`
	EmailSender      string `envconfig:"EMAIL_SENDER" required:"true"`
}

func LoadAPI() APIConfig {
	_ = godotenv.Load()
	var cfg APIConfig
	if err := envconfig.Process("", &cfg); err != nil {
		panic(err)
	}
	return cfg
}

func LoadWorker() WorkerConfig {
	_ = godotenv.Load()
	var cfg WorkerConfig
	if err := envconfig.Process("", &cfg); err != nil {
		panic(err)
	}
	return cfg
}
