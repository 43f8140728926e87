package config

import (
	"log"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	AppEnv        string `env:"APP_ENV" envDefault:"development"`
	APIAddr       string `env:"API_ADDR" envDefault:":8000"`
	RedisURL      string `env:"REDIS_URL" envDefault:"redis://localhost:6379"`
	PostgresDSN   string `env:"POSTGRES_DSN"`
	MigrationsDir string `env:"MIGRATIONS_DIR" envDefault:"migrations"`

	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000"`

	CapacityCeiling int           `env:"CAPACITY_CEILING" envDefault:"100"`
	JobTTL          time.Duration `env:"JOB_TTL" envDefault:"24h"`
	JobTTLMin       time.Duration `env:"JOB_TTL_MIN" envDefault:"1h"`
	ReapThreshold   time.Duration `env:"REAP_THRESHOLD" envDefault:"1800s"`
	JobDeadline     time.Duration `env:"JOB_DEADLINE" envDefault:"300s"`

	QueueMaxRetries  int           `env:"QUEUE_MAX_RETRIES" envDefault:"3"`
	RetryBackoffBase time.Duration `env:"RETRY_BACKOFF_BASE" envDefault:"1s"`

	WorkerConcurrency int           `env:"WORKER_CONCURRENCY" envDefault:"4"`
	ReapInterval      time.Duration `env:"REAP_INTERVAL" envDefault:"60s"`

	CaptionMaxAttempts int           `env:"CAPTION_MAX_ATTEMPTS" envDefault:"3"`
	CaptionTimeout     time.Duration `env:"CAPTION_TIMEOUT" envDefault:"60s"`

	CaptionAPIURL string `env:"CAPTION_API_URL" envDefault:"https://api.openai.com/v1"`
	CaptionAPIKey string `env:"CAPTION_API_KEY"`
	CaptionModel  string `env:"CAPTION_MODEL" envDefault:"gpt-4o-mini"`

	RenderURL string `env:"RENDER_URL" envDefault:"http://localhost:9090"`

	UploadURL    string `env:"UPLOAD_URL" envDefault:"https://api.cloudinary.com/v1_1"`
	UploadCloud  string `env:"UPLOAD_CLOUD_NAME"`
	UploadKey    string `env:"UPLOAD_API_KEY"`
	UploadSecret string `env:"UPLOAD_API_SECRET"`
	UploadFolder string `env:"UPLOAD_FOLDER" envDefault:"memes"`
}

func Load() Config {
	var c Config
	if err := env.Parse(&c); err != nil {
		log.Fatal(err)
	}
	return c
}
