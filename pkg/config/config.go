package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix scopes every environment variable consumed by the service.
const EnvPrefix = "MEDMARKET"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "production"
)

// Environment variable names referenced outside the struct tags.
const (
	EnvAppEnv   = "MEDMARKET_APP_ENV"
	EnvPort     = "MEDMARKET_APP_PORT"
	EnvDBDSN    = "MEDMARKET_DB_DSN"
	EnvDBHost   = "MEDMARKET_DB_HOST"
	EnvDBUser   = "MEDMARKET_DB_USER"
	EnvDBName   = "MEDMARKET_DB_NAME"
	EnvRedisURL = "MEDMARKET_REDIS_URL"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App            AppConfig
	DB             DBConfig
	Redis          RedisConfig
	Inventory      InventoryConfig
	PurchaseLimits PurchaseLimitsConfig
	Orders         OrdersConfig
	Cron           CronConfig
	FeatureFlags   FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"MEDMARKET_APP_ENV" required:"true"`
	Port         string `envconfig:"MEDMARKET_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"MEDMARKET_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"MEDMARKET_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"MEDMARKET_DB_DSN"`
	Driver string `envconfig:"MEDMARKET_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"MEDMARKET_DB_HOST"`
	LegacyPort     int    `envconfig:"MEDMARKET_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"MEDMARKET_DB_USER"`
	LegacyPassword string `envconfig:"MEDMARKET_DB_PASSWORD"`
	LegacyName     string `envconfig:"MEDMARKET_DB_NAME"`
	LegacySSLMode  string `envconfig:"MEDMARKET_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"MEDMARKET_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"MEDMARKET_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"MEDMARKET_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"MEDMARKET_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"MEDMARKET_REDIS_URL" required:"true"`
	Address      string        `envconfig:"MEDMARKET_REDIS_ADDR"`
	Password     string        `envconfig:"MEDMARKET_REDIS_PASSWORD"`
	DB           int           `envconfig:"MEDMARKET_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"MEDMARKET_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"MEDMARKET_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"MEDMARKET_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"MEDMARKET_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"MEDMARKET_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type InventoryConfig struct {
	ExpiryAlertDays int  `envconfig:"MEDMARKET_INVENTORY_EXPIRY_ALERT_DAYS" default:"90"`
	AutoSelectBatch bool `envconfig:"MEDMARKET_INVENTORY_AUTO_SELECT_BATCH" default:"true"`
}

type PurchaseLimitsConfig struct {
	DefaultPeriodDays int           `envconfig:"MEDMARKET_LIMITS_DEFAULT_PERIOD_DAYS" default:"30"`
	WarningThreshold  float64       `envconfig:"MEDMARKET_LIMITS_WARNING_THRESHOLD" default:"0.8"`
	HistoryCacheTTL   time.Duration `envconfig:"MEDMARKET_LIMITS_HISTORY_CACHE_TTL" default:"1m"`
}

type OrdersConfig struct {
	PickupCodeLength int           `envconfig:"MEDMARKET_ORDERS_PICKUP_CODE_LENGTH" default:"6"`
	PendingTTL       time.Duration `envconfig:"MEDMARKET_ORDERS_PENDING_TTL" default:"48h"`
}

type CronConfig struct {
	Interval              time.Duration `envconfig:"MEDMARKET_CRON_INTERVAL" default:"1h"`
	LockTTL               time.Duration `envconfig:"MEDMARKET_CRON_LOCK_TTL" default:"55m"`
	NotificationRetention int           `envconfig:"MEDMARKET_CRON_NOTIFICATION_RETENTION_DAYS" default:"30"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"MEDMARKET_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"MEDMARKET_AUTO_MIGRATE" default:"false"`
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
