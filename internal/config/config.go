package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	ServiceName string `env:"SERVICE_NAME,default=auth"`
	Env         string `env:"APP_ENV,default=production"`
	LogLevel    string `env:"LOG_LEVEL,default=info"`
	HTTPAddr    string `env:"HTTP_ADDR,default=:8080"`

	DBDriver   string `env:"DB_DRIVER,default=postgres"`
	DBURL      string `env:"DATABASE_URL"`
	DBHost     string `env:"DB_HOST"`
	DBPort     string `env:"DB_PORT,default=5432"`
	DBUser     string `env:"DB_USER"`
	DBPassword string `env:"DB_PASSWORD"`
	DBName     string `env:"DB_NAME"`

	JWTAccessSecret  string        `env:"JWT_SECRET,required"`
	JWTRefreshSecret string        `env:"JWT_REFRESH_SECRET,required"`
	JWTIssuer        string        `env:"JWT_ISSUER,default=auth_service"`
	AccessTokenTTL   time.Duration `env:"ACCESS_TOKEN_TTL,default=1h"`
	RefreshTokenTTL  time.Duration `env:"REFRESH_TOKEN_TTL,default=168h"`

	BcryptCost        int  `env:"BCRYPT_COST,default=10"`
	MinPasswordLength int  `env:"MIN_PASSWORD_LENGTH,default=6"`
	RecheckAccount    bool `env:"AUTH_RECHECK_ACCOUNT,default=true"`

	RedisAddr     string        `env:"REDIS_ADDR"`
	RedisPassword string        `env:"REDIS_PASSWORD"`
	RedisDB       int           `env:"REDIS_DB,default=0"`
	LockTTL       time.Duration `env:"LOCK_TTL,default=5s"`

	KafkaBrokers []string `env:"KAFKA_BROKERS"`
	KafkaTopic   string   `env:"KAFKA_TOPIC,default=user_events"`

	ESURL      string `env:"ES_URL"`
	ESUser     string `env:"ES_USER"`
	ESPassword string `env:"ES_PASSWORD"`
	ESIndex    string `env:"ES_INDEX,default=accounts"`

	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`

	RequestTimeout  time.Duration `env:"REQUEST_TIMEOUT,default=10s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT,default=10s"`
}

// Load reads an optional .env file and then the process environment.
func Load(ctx context.Context, l *slog.Logger) (Config, error) {
	if err := godotenv.Load(".env"); err != nil {
		l.Info("dotenv_skipped", "reason", ".env not found, using process environment")
	}
	return LoadFrom(ctx, envconfig.OsLookuper())
}

func LoadFrom(ctx context.Context, lookuper envconfig.Lookuper) (Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookuper,
	}); err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Development() bool {
	return c.Env == "development" || c.Env == "dev"
}

// DSN prefers DATABASE_URL and falls back to the discrete DB_* variables.
func (c Config) DSN() string {
	if c.DBURL != "" || c.DBDriver == "sqlite" {
		return c.DBURL
	}
	if c.DBHost == "" {
		return ""
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName)
}

func (c Config) Validate() error {
	var errs []error
	if err := requireNonEmpty(c.JWTAccessSecret, "JWT_SECRET"); err != nil {
		errs = append(errs, err)
	}
	if err := requireNonEmpty(c.JWTRefreshSecret, "JWT_REFRESH_SECRET"); err != nil {
		errs = append(errs, err)
	}
	if c.JWTAccessSecret != "" && c.JWTAccessSecret == c.JWTRefreshSecret {
		errs = append(errs, errors.New("JWT_SECRET and JWT_REFRESH_SECRET must differ"))
	}
	if c.DBDriver == "postgres" {
		if err := requireNonEmpty(c.DSN(), "DATABASE_URL or DB_HOST"); err != nil {
			errs = append(errs, err)
		}
	}
	if c.BcryptCost < 10 && !c.Development() {
		errs = append(errs, fmt.Errorf("BCRYPT_COST must be >= 10, got %d", c.BcryptCost))
	}
	if c.MinPasswordLength < 1 {
		errs = append(errs, fmt.Errorf("MIN_PASSWORD_LENGTH must be positive, got %d", c.MinPasswordLength))
	}
	if c.AccessTokenTTL <= 0 || c.RefreshTokenTTL <= 0 {
		errs = append(errs, errors.New("token TTLs must be positive"))
	}
	return errors.Join(errs...)
}
