package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	// EnvPrefix scopes every environment variable the platform reads.
	EnvPrefix = "SMARTBIZ"

	AppEnvDev  = "development"
	AppEnvProd = "production"

	EnvAppEnv = "SMARTBIZ_APP_ENV"
	EnvDBDSN  = "SMARTBIZ_DB_DSN"
	EnvDBHost = "SMARTBIZ_DB_HOST"
	EnvDBUser = "SMARTBIZ_DB_USER"
	EnvDBName = "SMARTBIZ_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App           AppConfig
	DB            DBConfig
	Redis         RedisConfig
	JWT           JWTConfig
	Password      PasswordConfig
	AuthRateLimit AuthRateLimitConfig
	RateLimit     RateLimitConfig
	FeatureFlags  FeatureFlagsConfig
	Eventing      EventingConfig
	PubSub        PubSubConfig
	Outbox        OutboxConfig
	Billing       BillingConfig
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
	Env          string `envconfig:"SMARTBIZ_APP_ENV" required:"true"`
	Port         string `envconfig:"SMARTBIZ_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"SMARTBIZ_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"SMARTBIZ_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"SMARTBIZ_DB_DSN"`
	Driver string `envconfig:"SMARTBIZ_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"SMARTBIZ_DB_HOST"`
	LegacyPort     int    `envconfig:"SMARTBIZ_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"SMARTBIZ_DB_USER"`
	LegacyPassword string `envconfig:"SMARTBIZ_DB_PASSWORD"`
	LegacyName     string `envconfig:"SMARTBIZ_DB_NAME"`
	LegacySSLMode  string `envconfig:"SMARTBIZ_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"SMARTBIZ_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"SMARTBIZ_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"SMARTBIZ_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"SMARTBIZ_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"SMARTBIZ_REDIS_URL" required:"true"`
	Address      string        `envconfig:"SMARTBIZ_REDIS_ADDR"`
	Password     string        `envconfig:"SMARTBIZ_REDIS_PASSWORD"`
	DB           int           `envconfig:"SMARTBIZ_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"SMARTBIZ_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"SMARTBIZ_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"SMARTBIZ_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"SMARTBIZ_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"SMARTBIZ_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"SMARTBIZ_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"SMARTBIZ_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"SMARTBIZ_JWT_EXPIRATION_MINUTES" required:"true"`
	RefreshTTLHours   int    `envconfig:"SMARTBIZ_JWT_REFRESH_TTL_HOURS" default:"168"`
}

type PasswordConfig struct {
	ArgonMemoryKB    int `envconfig:"SMARTBIZ_ARGON_MEMORY_KB" default:"65536"`
	ArgonTime        int `envconfig:"SMARTBIZ_ARGON_TIME" default:"3"`
	ArgonParallelism int `envconfig:"SMARTBIZ_ARGON_PARALLELISM" default:"2"`
	ArgonSaltLen     int `envconfig:"SMARTBIZ_ARGON_SALT_LEN" default:"16"`
	ArgonKeyLen      int `envconfig:"SMARTBIZ_ARGON_KEY_LEN" default:"32"`
}

type AuthRateLimitConfig struct {
	LoginWindow        time.Duration `envconfig:"SMARTBIZ_AUTH_RATE_LIMIT_LOGIN_WINDOW" default:"1m"`
	LoginEmailLimit    int           `envconfig:"SMARTBIZ_AUTH_RATE_LIMIT_LOGIN_EMAIL_LIMIT" default:"5"`
	LoginIPLimit       int           `envconfig:"SMARTBIZ_AUTH_RATE_LIMIT_LOGIN_IP_LIMIT" default:"20"`
	RegisterWindow     time.Duration `envconfig:"SMARTBIZ_AUTH_RATE_LIMIT_REGISTER_WINDOW" default:"5m"`
	RegisterEmailLimit int           `envconfig:"SMARTBIZ_AUTH_RATE_LIMIT_REGISTER_EMAIL_LIMIT" default:"3"`
	RegisterIPLimit    int           `envconfig:"SMARTBIZ_AUTH_RATE_LIMIT_REGISTER_IP_LIMIT" default:"20"`
}

type RateLimitConfig struct {
	Window       time.Duration `envconfig:"SMARTBIZ_API_RATE_LIMIT_WINDOW" default:"1m"`
	RequestLimit int64         `envconfig:"SMARTBIZ_API_RATE_LIMIT_REQUESTS" default:"240"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"SMARTBIZ_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"SMARTBIZ_AUTO_MIGRATE" default:"false"`
}

type EventingConfig struct {
	OutboxIdempotencyTTL time.Duration `envconfig:"SMARTBIZ_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
}

type PubSubConfig struct {
	ProjectID                string `envconfig:"SMARTBIZ_PUBSUB_PROJECT_ID" required:"true"`
	DomainTopic              string `envconfig:"SMARTBIZ_PUBSUB_DOMAIN_TOPIC" default:"sb-domain-events"`
	NotificationSubscription string `envconfig:"SMARTBIZ_PUBSUB_NOTIFICATION_SUBSCRIPTION" required:"true"`
	BillingSubscription      string `envconfig:"SMARTBIZ_PUBSUB_BILLING_SUBSCRIPTION"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"SMARTBIZ_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"SMARTBIZ_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"SMARTBIZ_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type BillingConfig struct {
	RenewalInterval time.Duration `envconfig:"SMARTBIZ_BILLING_RENEWAL_INTERVAL" default:"15m"`
	GracePeriod     time.Duration `envconfig:"SMARTBIZ_BILLING_GRACE_PERIOD" default:"72h"`
	WebhookSecret   string        `envconfig:"SMARTBIZ_BILLING_WEBHOOK_SECRET"`
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
