package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	Checkout     CheckoutConfig
	Cart         CartConfig
	Tracking     TrackingConfig
	Eventing     EventingConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	BigQuery     BigQueryConfig
	Outbox       OutboxConfig
	Cron         CronConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if _, err := cfg.Checkout.Rate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"CAMPUSMART_APP_ENV" required:"true"`
	Port         string `envconfig:"CAMPUSMART_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"CAMPUSMART_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"CAMPUSMART_LOG_WARN_STACK" default:"false"`
	CORSOrigins  string `envconfig:"CAMPUSMART_CORS_ORIGINS" default:"*"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

// AllowedOrigins splits the comma separated CORS origin list.
func (a AppConfig) AllowedOrigins() []string {
	parts := strings.Split(a.CORSOrigins, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

type ServiceConfig struct {
	Kind string `envconfig:"CAMPUSMART_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"CAMPUSMART_DB_DSN"`
	Driver string `envconfig:"CAMPUSMART_DB_DRIVER" default:"postgres"`

	Host     string `envconfig:"CAMPUSMART_DB_HOST"`
	Port     int    `envconfig:"CAMPUSMART_DB_PORT" default:"5432"`
	User     string `envconfig:"CAMPUSMART_DB_USER"`
	Password string `envconfig:"CAMPUSMART_DB_PASSWORD"`
	Name     string `envconfig:"CAMPUSMART_DB_NAME"`
	SSLMode  string `envconfig:"CAMPUSMART_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"CAMPUSMART_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"CAMPUSMART_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"CAMPUSMART_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"CAMPUSMART_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"CAMPUSMART_REDIS_URL" required:"true"`
	Address      string        `envconfig:"CAMPUSMART_REDIS_ADDR"`
	Password     string        `envconfig:"CAMPUSMART_REDIS_PASSWORD"`
	DB           int           `envconfig:"CAMPUSMART_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"CAMPUSMART_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"CAMPUSMART_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"CAMPUSMART_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"CAMPUSMART_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"CAMPUSMART_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"CAMPUSMART_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"CAMPUSMART_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"CAMPUSMART_JWT_EXPIRATION_MINUTES" default:"60"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"CAMPUSMART_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"CAMPUSMART_AUTO_MIGRATE" default:"false"`
}

type CheckoutConfig struct {
	TaxRate  string        `envconfig:"CAMPUSMART_CHECKOUT_TAX_RATE" default:"0.12"`
	Currency string        `envconfig:"CAMPUSMART_CHECKOUT_CURRENCY" default:"NGN"`
	Timeout  time.Duration `envconfig:"CAMPUSMART_CHECKOUT_TIMEOUT" default:"15s"`
}

// Rate parses the configured tax rate.
func (c CheckoutConfig) Rate() (decimal.Decimal, error) {
	rate, err := decimal.NewFromString(strings.TrimSpace(c.TaxRate))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid %s %q: %w", EnvCheckoutTaxRate, c.TaxRate, err)
	}
	if rate.IsNegative() {
		return decimal.Zero, fmt.Errorf("%s must not be negative", EnvCheckoutTaxRate)
	}
	return rate, nil
}

type CartConfig struct {
	CacheTTL         time.Duration `envconfig:"CAMPUSMART_CART_CACHE_TTL" default:"10m"`
	ConflictRetries  uint64        `envconfig:"CAMPUSMART_CART_CONFLICT_RETRIES" default:"5"`
	MaxFlushAttempts int           `envconfig:"CAMPUSMART_CART_MAX_FLUSH_ATTEMPTS" default:"5"`
	SyncInterval     time.Duration `envconfig:"CAMPUSMART_CART_SYNC_INTERVAL" default:"30s"`
	SyncBatchSize    int64         `envconfig:"CAMPUSMART_CART_SYNC_BATCH_SIZE" default:"100"`
	PendingOpsTTL    time.Duration `envconfig:"CAMPUSMART_CART_PENDING_OPS_TTL" default:"168h"`
}

type TrackingConfig struct {
	PingInterval time.Duration `envconfig:"CAMPUSMART_TRACKING_PING_INTERVAL" default:"30s"`
	WriteTimeout time.Duration `envconfig:"CAMPUSMART_TRACKING_WRITE_TIMEOUT" default:"10s"`
}

type EventingConfig struct {
	OutboxIdempotencyTTL time.Duration `envconfig:"CAMPUSMART_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
	CheckoutKeyTTL       time.Duration `envconfig:"CAMPUSMART_EVENTING_CHECKOUT_KEY_TTL" default:"24h"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"CAMPUSMART_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"CAMPUSMART_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"CAMPUSMART_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	OrdersTopic              string `envconfig:"CAMPUSMART_PUBSUB_ORDERS_TOPIC" default:"cm-order-events"`
	NotificationSubscription string `envconfig:"CAMPUSMART_PUBSUB_NOTIFICATION_SUBSCRIPTION" default:"cm-order-events-notifications"`
	AnalyticsSubscription    string `envconfig:"CAMPUSMART_PUBSUB_ANALYTICS_SUBSCRIPTION" default:"cm-order-events-analytics"`
}

type BigQueryConfig struct {
	Dataset    string `envconfig:"CAMPUSMART_BIGQUERY_DATASET" default:"campusmart"`
	SalesTable string `envconfig:"CAMPUSMART_BIGQUERY_SALES_TABLE" default:"sales"`
}

type OutboxConfig struct {
	BatchSize      int           `envconfig:"CAMPUSMART_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int           `envconfig:"CAMPUSMART_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int           `envconfig:"CAMPUSMART_OUTBOX_MAX_ATTEMPTS" default:"10"`
	Retention      time.Duration `envconfig:"CAMPUSMART_OUTBOX_RETENTION" default:"720h"`
}

type CronConfig struct {
	Interval              time.Duration `envconfig:"CAMPUSMART_CRON_INTERVAL" default:"24h"`
	LockTTL               time.Duration `envconfig:"CAMPUSMART_CRON_LOCK_TTL" default:"25h"`
	NotificationRetention time.Duration `envconfig:"CAMPUSMART_CRON_NOTIFICATION_RETENTION" default:"720h"`
}

// PollInterval converts the millisecond poll setting into a duration.
func (o OutboxConfig) PollInterval() time.Duration {
	if o.PollIntervalMS <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(o.PollIntervalMS) * time.Millisecond
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	parts := map[string]string{
		EnvDBHost: db.Host,
		EnvDBUser: db.User,
		EnvDBName: db.Name,
	}
	var missing []string
	for _, key := range discreteDBEnvVars {
		if parts[key] == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.User)
	if db.Password != "" {
		userInfo = url.UserPassword(db.User, db.Password)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.Host, db.Port),
		Path:   db.Name,
	}
	if db.SSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.SSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
