package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"
)

type Config struct {
	App        AppConfig
	Server     ServerConfig
	Store      StoreConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	JWT        JWTConfig
	Log        LogConfig
	Tracing    TracingConfig
	CORS       CORSConfig
	RateLimit  RateLimitConfig
	Realtime   RealtimeConfig
	Scheduling SchedulingConfig
	Payout     PayoutConfig
}

type AppConfig struct {
	Name        string
	Environment string
	Version     string
}

type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

type StoreConfig struct {
	Driver string
}

type DatabaseConfig struct {
	Host               string
	Port               int
	Name               string
	User               string
	Password           string
	SSLMode            string
	MaxOpenConns       int
	MaxIdleConns       int
	ConnMaxLifetime    time.Duration
	ConnMaxIdleTime    time.Duration
	SlowQueryThreshold time.Duration
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=%s Timezone=UTC",
		d.Host, d.User, d.Password, d.Name, d.Port, d.SSLMode,
	)
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret         string
	AccessTokenTTL time.Duration
	Issuer         string
}

type LogConfig struct {
	Level      string
	Format     string
	OutputPath string
}

type TracingConfig struct {
	Enabled     bool
	ServiceName string
	Endpoint    string
	SampleRate  float64
}

type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
	MaxAge         time.Duration
}

type RateLimitConfig struct {
	// Global Rate limit per IP
	RequestsPerSecond float64
	BurstSize         int
}

type RealtimeConfig struct {
	// PollInterval drives the session watcher fallback when push events are lost.
	PollInterval time.Duration
	RedisChannel string
	SendBuffer   int
}

type SchedulingConfig struct {
	Timezone                   string
	HorizonDays                int
	SessionMinutes             int
	DayStart                   string
	DayEnd                     string
	SlotStep                   time.Duration
	CancellationCutoff         time.Duration
	LateCancelRequiresDocument bool
}

// Location resolves the provider operating timezone. validate guarantees it loads.
func (s SchedulingConfig) Location() *time.Location {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

type PayoutConfig struct {
	WindowStartDay        int
	WindowEndDay          int
	CooldownReleaseDay    int
	CooldownIgnoresVoided bool
}

const (
	minPollInterval = 5 * time.Second
	maxPollInterval = 30 * time.Second
)

func Load() (*Config, error) {
	cfg := &Config{
		App: AppConfig{
			Name:        getEnv("APP_NAME", "practiceflow"),
			Environment: getEnv("APP_ENV", "development"),
			Version:     getEnv("APP_VERSION", "0.0.0"),
		},
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:     getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Store: StoreConfig{
			Driver: getEnv("STORE_DRIVER", StoreDriverPostgres),
		},
		Database: DatabaseConfig{
			Host:               getEnv("DB_HOST", "localhost"),
			Port:               getEnvInt("DB_PORT", 5432),
			Name:               getEnv("DB_NAME", "practiceflow"),
			User:               getEnv("DB_USER", "practiceflow"),
			Password:           getEnv("DB_PASSWORD", ""),
			SSLMode:            getEnv("DB_SSLMODE", "require"),
			MaxOpenConns:       getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:       getEnvInt("DB_MAX_IDLE_CONNS", 10),
			ConnMaxLifetime:    getEnvDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
			ConnMaxIdleTime:    getEnvDuration("DB_CONN_MAX_IDLE_TIME", 5*time.Minute),
			SlowQueryThreshold: getEnvDuration("DB_SLOW_QUERY_THRESHOLD", 200*time.Millisecond),
		},
		Redis: RedisConfig{
			Enabled:  getEnvBool("REDIS_ENABLED", false),
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret:         getEnv("JWT_SECRET", ""),
			AccessTokenTTL: getEnvDuration("JWT_ACCESS_TTL", 15*time.Minute),
			Issuer:         getEnv("JWT_ISSUER", "practiceflow-identity"),
		},
		Log: LogConfig{
			Level:      getEnv("LOG_LEVEL", "info"),
			Format:     getEnv("LOG_FORMAT", "json"),
			OutputPath: getEnv("LOG_OUTPUT", "stdout"),
		},
		Tracing: TracingConfig{
			Enabled:     getEnvBool("TRACING_ENABLED", false),
			ServiceName: getEnv("TRACING_SERVICE_NAME", "practiceflow"),
			Endpoint:    getEnv("OTLP_ENDPOINT", "otel-collector:4318"),
			SampleRate:  getEnvFloat("TRACING_SAMPLE_RATE", 0.1),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvSlice("CORS_ALLOWED_ORIGINS", []string{"https://app.practiceflow.io"}),
			AllowedMethods: getEnvSlice("CORS_ALLOWED_METHODS", []string{"GET", "POST", "OPTIONS"}),
			AllowedHeaders: getEnvSlice("CORS_ALLOWED_HEADERS", []string{"Authorization", "Content-Type", "X-Request-ID"}),
			MaxAge:         getEnvDuration("CORS_MAX_AGE", 12*time.Hour),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: getEnvFloat("RATE_LIMIT_RPS", 50),
			BurstSize:         getEnvInt("RATE_LIMIT_BURST", 100),
		},
		Realtime: RealtimeConfig{
			PollInterval: clampDuration(getEnvDuration("REALTIME_POLL_INTERVAL", 15*time.Second), minPollInterval, maxPollInterval),
			RedisChannel: getEnv("REALTIME_REDIS_CHANNEL", "practiceflow:events"),
			SendBuffer:   getEnvInt("REALTIME_SEND_BUFFER", 64),
		},
		Scheduling: SchedulingConfig{
			Timezone:                   getEnv("SCHED_TIMEZONE", "America/Sao_Paulo"),
			HorizonDays:                getEnvInt("SCHED_HORIZON_DAYS", 60),
			SessionMinutes:             getEnvInt("SCHED_SESSION_MINUTES", 50),
			DayStart:                   getEnv("SCHED_DAY_START", "07:00"),
			DayEnd:                     getEnv("SCHED_DAY_END", "22:00"),
			SlotStep:                   getEnvDuration("SCHED_SLOT_STEP", time.Hour),
			CancellationCutoff:         getEnvDuration("SCHED_CANCEL_CUTOFF", 24*time.Hour),
			LateCancelRequiresDocument: getEnvBool("SCHED_LATE_CANCEL_REQUIRES_DOCUMENT", true),
		},
		Payout: PayoutConfig{
			WindowStartDay:        getEnvInt("PAYOUT_WINDOW_START_DAY", 21),
			WindowEndDay:          getEnvInt("PAYOUT_WINDOW_END_DAY", 23),
			CooldownReleaseDay:    getEnvInt("PAYOUT_COOLDOWN_RELEASE_DAY", 20),
			CooldownIgnoresVoided: getEnvBool("PAYOUT_COOLDOWN_IGNORES_VOIDED", false),
		},
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate enforces deploy-time requirements and scheduling sanity.
func validate(cfg *Config) error {
	var errs []string

	if cfg.JWT.Secret == "" {
		errs = append(errs, "JWT_SECRET is required")
	} else if len(cfg.JWT.Secret) < 32 && cfg.App.Environment == "production" {
		errs = append(errs, "JWT_SECRET must be at least 32 characters in production")
	}

	switch cfg.Store.Driver {
	case StoreDriverPostgres:
		if cfg.Database.Password == "" && cfg.App.Environment != "development" {
			errs = append(errs, "DB_PASSWORD is required in non-development environments")
		}
		if cfg.Database.SSLMode == "disable" && cfg.App.Environment == "production" {
			errs = append(errs, "DB_SSLMODE=disable is not allowed in production")
		}
	case StoreDriverMemory:
		if cfg.App.Environment == "production" {
			errs = append(errs, "STORE_DRIVER=memory is not allowed in production")
		}
	default:
		errs = append(errs, fmt.Sprintf("STORE_DRIVER %q is not supported", cfg.Store.Driver))
	}

	if _, err := time.LoadLocation(cfg.Scheduling.Timezone); err != nil {
		errs = append(errs, fmt.Sprintf("SCHED_TIMEZONE %q is not a valid IANA zone", cfg.Scheduling.Timezone))
	}
	if cfg.Scheduling.HorizonDays <= 0 {
		errs = append(errs, "SCHED_HORIZON_DAYS must be positive")
	}
	if cfg.Scheduling.SessionMinutes <= 0 {
		errs = append(errs, "SCHED_SESSION_MINUTES must be positive")
	}
	if cfg.Scheduling.SlotStep < time.Duration(cfg.Scheduling.SessionMinutes)*time.Minute {
		errs = append(errs, "SCHED_SLOT_STEP must fit a whole session")
	}
	if !validClock(cfg.Scheduling.DayStart) || !validClock(cfg.Scheduling.DayEnd) {
		errs = append(errs, "SCHED_DAY_START and SCHED_DAY_END must be HH:MM")
	} else if cfg.Scheduling.DayStart >= cfg.Scheduling.DayEnd {
		errs = append(errs, "SCHED_DAY_START must be earlier than SCHED_DAY_END")
	}

	p := cfg.Payout
	if p.WindowStartDay < 1 || p.WindowEndDay > 28 || p.WindowStartDay > p.WindowEndDay {
		errs = append(errs, "PAYOUT_WINDOW_START_DAY..PAYOUT_WINDOW_END_DAY must be an ordered range within 1..28")
	}
	if p.CooldownReleaseDay < 1 || p.CooldownReleaseDay > 28 {
		errs = append(errs, "PAYOUT_COOLDOWN_RELEASE_DAY must be within 1..28")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

func validClock(v string) bool {
	_, err := time.Parse("15:04", v)
	return err == nil
}

func clampDuration(d, lo, hi time.Duration) time.Duration {
	if d < lo {
		return lo
	}
	if d > hi {
		return hi
	}
	return d
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvSlice(key string, fallback []string) []string {
	if v, ok := os.LookupEnv(key); ok {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if t := strings.TrimSpace(p); t != "" {
				result = append(result, t)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return fallback
}
