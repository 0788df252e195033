package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gorm.io/gorm/logger"
)

// DBConfig holds database configuration
type DBConfig struct {
	Host            string        `env:"DB_HOST" envDefault:"localhost"`
	Port            string        `env:"DB_PORT" envDefault:"5432"`
	User            string        `env:"DB_USER" envDefault:"postgres"`
	Password        string        `env:"DB_PASSWORD"`
	DBName          string        `env:"DB_NAME" envDefault:"pharmadesk"`
	SSLMode         string        `env:"DB_SSL_MODE" envDefault:"disable"`
	MaxIdleConns    int           `env:"DB_MAX_IDLE_CONNS" envDefault:"10"`
	MaxOpenConns    int           `env:"DB_MAX_OPEN_CONNS" envDefault:"100"`
	ConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"1h"`
	QueryTimeout    time.Duration `env:"DB_QUERY_TIMEOUT" envDefault:"15s"`
	LogLevel        string        `env:"DB_LOG_LEVEL" envDefault:"warn"`
}

// GetDSN returns the PostgreSQL connection string
func (c *DBConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// GormLogLevel maps the configured level name onto gorm's logger levels.
func (c *DBConfig) GormLogLevel() logger.LogLevel {
	switch c.LogLevel {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "info":
		return logger.Info
	default:
		return logger.Warn
	}
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port            string        `env:"SERVER_PORT" envDefault:"8080"`
	Env             string        `env:"APP_ENV" envDefault:"development"`
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// IsProduction reports whether the service runs with production hardening.
func (s ServerConfig) IsProduction() bool {
	return s.Env == "production"
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	SigningKey string        `env:"JWT_SIGNING_KEY"`
	Expiration time.Duration `env:"JWT_EXPIRATION" envDefault:"168h"`
	Issuer     string        `env:"JWT_ISSUER" envDefault:"pharmadesk"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level string `env:"LOG_LEVEL" envDefault:"info"`
}

// OTPConfig controls one-time-passcode issuance.
type OTPConfig struct {
	TTL           time.Duration `env:"OTP_TTL" envDefault:"5m"`
	SweepInterval time.Duration `env:"OTP_SWEEP_INTERVAL" envDefault:"1m"`
	Cooldown      time.Duration `env:"OTP_RESEND_COOLDOWN" envDefault:"30s"`
	EchoCode      bool          `env:"OTP_ECHO_CODE" envDefault:"false"`
}

// SequenceConfig holds the first value handed out for each counter family.
type SequenceConfig struct {
	TenantFloor int64 `env:"SEQUENCE_TENANT_FLOOR" envDefault:"100"`
	UserFloor   int64 `env:"SEQUENCE_USER_FLOOR" envDefault:"1"`
}

// RegistrationConfig holds tenant registration tuning.
type RegistrationConfig struct {
	MaxAttempts int `env:"REGISTRATION_MAX_ATTEMPTS" envDefault:"3"`
}

// BcryptConfig holds password hashing configuration
type BcryptConfig struct {
	Cost int `env:"BCRYPT_COST" envDefault:"10"`
}

// RedisConfig holds the optional Redis connection used for OTP cooldowns.
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
}

// NATSConfig holds the optional NATS connection used to deliver OTP messages.
type NATSConfig struct {
	URL        string `env:"NATS_URL"`
	OTPSubject string `env:"NATS_OTP_SUBJECT" envDefault:"otp.sms"`
}

// TracingConfig holds OpenTelemetry exporter configuration
type TracingConfig struct {
	Endpoint    string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	ServiceName string `env:"OTEL_SERVICE_NAME" envDefault:"pharmadesk"`
	Insecure    bool   `env:"OTEL_EXPORTER_OTLP_INSECURE" envDefault:"true"`
}

// CacheConfig sizes the in-process tenant cache.
type CacheConfig struct {
	MaxCost int64         `env:"CACHE_MAX_COST" envDefault:"1048576"`
	TTL     time.Duration `env:"CACHE_TTL" envDefault:"10m"`
}

// Config holds all configuration
type Config struct {
	ServiceName  string `env:"SERVICE_NAME" envDefault:"pharmadesk"`
	DB           DBConfig
	Server       ServerConfig
	JWT          JWTConfig
	Log          LogConfig
	OTP          OTPConfig
	Sequence     SequenceConfig
	Registration RegistrationConfig
	Bcrypt       BcryptConfig
	Redis        RedisConfig
	NATS         NATSConfig
	Tracing      TracingConfig
	Cache        CacheConfig
}

// Load loads configuration from env files and environment variables. Without
// envFiles an optional .env in the working directory is read; named files must exist.
// Variables already set in the environment win over file values.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		_ = godotenv.Load()
	} else if err := godotenv.Load(envFiles...); err != nil {
		return nil, fmt.Errorf("load env file: %w", err)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// Validate checks the settings the server cannot start without.
func (c *Config) Validate() error {
	if c.JWT.SigningKey == "" {
		return errors.New("JWT_SIGNING_KEY is required")
	}
	if c.JWT.Expiration <= 0 {
		return errors.New("JWT_EXPIRATION must be positive")
	}
	if c.OTP.TTL <= 0 {
		return errors.New("OTP_TTL must be positive")
	}
	if c.OTP.EchoCode && c.Server.IsProduction() {
		return errors.New("OTP_ECHO_CODE must not be enabled in production")
	}
	if c.Sequence.TenantFloor < 1 || c.Sequence.UserFloor < 1 {
		return errors.New("sequence floors must be positive")
	}
	if c.Registration.MaxAttempts < 1 {
		return errors.New("REGISTRATION_MAX_ATTEMPTS must be at least 1")
	}
	return nil
}

// LogConfig returns the configuration as a zap logger-friendly format
func (c *Config) LogConfig() []zap.Field {
	return []zap.Field{
		zap.String("service", c.ServiceName),
		zap.String("environment", c.Server.Env),
		zap.String("db_host", c.DB.Host),
		zap.String("db_port", c.DB.Port),
		zap.String("db_user", c.DB.User),
		zap.String("db_name", c.DB.DBName),
		zap.String("server_port", c.Server.Port),
		zap.Bool("redis_enabled", c.Redis.Addr != ""),
		zap.Bool("nats_enabled", c.NATS.URL != ""),
		zap.Bool("tracing_enabled", c.Tracing.Endpoint != ""),
	}
}
