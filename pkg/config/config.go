package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	Bot          BotConfig
	DB           DBConfig
	Redis        RedisConfig
	GoogleMaps   GoogleMapsConfig
	Sessions     SessionsConfig
	Ledger       LedgerConfig
	Cron         CronConfig
	Ops          OpsConfig
	Media        MediaConfig
	FeatureFlags FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Bot.validate(); err != nil {
		return nil, err
	}
	if !cfg.FeatureFlags.UseMemoryStores && cfg.Redis.URL == "" && cfg.Redis.Address == "" {
		return nil, fmt.Errorf("either %s or %s is required unless %s is set", EnvRedisURL, EnvRedisAddr, EnvUseMemoryStores)
	}
	return &cfg, nil
}

// MigrateConfig is the subset the migration tool needs; it does not require
// bot or Redis settings.
type MigrateConfig struct {
	App AppConfig
	DB  DBConfig
}

func LoadMigrate() (*MigrateConfig, error) {
	var cfg MigrateConfig
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"WATERBOT_APP_ENV" required:"true"`
	LogLevel     string `envconfig:"WATERBOT_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"WATERBOT_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"WATERBOT_SERVICE_KIND" default:"bot"`
}

// BotConfig selects which command table the process serves and how it talks to
// the messaging platform.
type BotConfig struct {
	Role                string        `envconfig:"WATERBOT_BOT_ROLE" default:"resident"`
	Token               string        `envconfig:"WATERBOT_BOT_TOKEN" required:"true"`
	ResidentBotUsername string        `envconfig:"WATERBOT_RESIDENT_BOT_USERNAME" default:"water_collect_bot"`
	EmployeeBotUsername string        `envconfig:"WATERBOT_EMPLOYEE_BOT_USERNAME" default:"water_collect_bot"`
	AdminIDs            []int64       `envconfig:"WATERBOT_ADMIN_IDS"`
	PollTimeout         time.Duration `envconfig:"WATERBOT_BOT_POLL_TIMEOUT" default:"30s"`
	Debug               bool          `envconfig:"WATERBOT_BOT_DEBUG" default:"false"`
}

// IsAdmin reports whether the chat user id is listed in WATERBOT_ADMIN_IDS.
func (b BotConfig) IsAdmin(userID int64) bool {
	for _, id := range b.AdminIDs {
		if id == userID {
			return true
		}
	}
	return false
}

func (b BotConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(b.Role)) {
	case BotRoleResident, BotRoleEmployee, BotRoleAdmin:
		return nil
	default:
		return fmt.Errorf("%s must be one of %s, %s, %s", EnvBotRole, BotRoleResident, BotRoleEmployee, BotRoleAdmin)
	}
}

type DBConfig struct {
	DSN    string `envconfig:"WATERBOT_DB_DSN"`
	Driver string `envconfig:"WATERBOT_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"WATERBOT_DB_HOST"`
	LegacyPort     int    `envconfig:"WATERBOT_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"WATERBOT_DB_USER"`
	LegacyPassword string `envconfig:"WATERBOT_DB_PASSWORD"`
	LegacyName     string `envconfig:"WATERBOT_DB_NAME"`
	LegacySSLMode  string `envconfig:"WATERBOT_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"WATERBOT_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"WATERBOT_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"WATERBOT_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"WATERBOT_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"WATERBOT_REDIS_URL"`
	Address      string        `envconfig:"WATERBOT_REDIS_ADDR"`
	Password     string        `envconfig:"WATERBOT_REDIS_PASSWORD"`
	DB           int           `envconfig:"WATERBOT_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"WATERBOT_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"WATERBOT_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"WATERBOT_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"WATERBOT_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"WATERBOT_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type GoogleMapsConfig struct {
	APIKey  string        `envconfig:"WATERBOT_GOOGLE_MAPS_API_KEY"`
	Region  string        `envconfig:"WATERBOT_GOOGLE_MAPS_REGION" default:"KZ"`
	Timeout time.Duration `envconfig:"WATERBOT_GOOGLE_MAPS_TIMEOUT" default:"10s"`
}

type SessionsConfig struct {
	RegistrationTTL time.Duration `envconfig:"WATERBOT_REGISTRATION_TTL" default:"30m"`
	VerificationTTL time.Duration `envconfig:"WATERBOT_VERIFICATION_TTL" default:"72h"`
}

type LedgerConfig struct {
	DefaultHouseholdBalance int `envconfig:"WATERBOT_DEFAULT_HOUSEHOLD_BALANCE" default:"5"`
	DefaultCollectAmount    int `envconfig:"WATERBOT_DEFAULT_COLLECT_AMOUNT" default:"5"`
	MaxAttempts             int `envconfig:"WATERBOT_LEDGER_MAX_ATTEMPTS" default:"3"`
}

type CronConfig struct {
	Interval     time.Duration `envconfig:"WATERBOT_CRON_INTERVAL" default:"5m"`
	LockTTL      time.Duration `envconfig:"WATERBOT_CRON_LOCK_TTL" default:"4m"`
	ExpiryBatch  int           `envconfig:"WATERBOT_CRON_EXPIRY_BATCH" default:"100"`
	AuditEnabled bool          `envconfig:"WATERBOT_CRON_LEDGER_AUDIT" default:"true"`
}

type OpsConfig struct {
	Addr string `envconfig:"WATERBOT_OPS_ADDR" default:":9090"`
}

type MediaConfig struct {
	TempDir       string `envconfig:"WATERBOT_MEDIA_TEMP_DIR"`
	QRSize        int    `envconfig:"WATERBOT_QR_SIZE" default:"256"`
	MaxRosterSize int64  `envconfig:"WATERBOT_MAX_ROSTER_BYTES" default:"5242880"`
}

type FeatureFlagsConfig struct {
	AutoMigrate     bool `envconfig:"WATERBOT_AUTO_MIGRATE" default:"false"`
	UseMemoryStores bool `envconfig:"WATERBOT_USE_MEMORY_STORES" default:"false"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
