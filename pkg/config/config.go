package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	FeatureFlags FeatureFlagsConfig
	Eventing     EventingConfig
	GCP          GCPConfig
	GCS          GCSConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	Checkout     CheckoutConfig
	QR           QRConfig
	SMTP         SMTPConfig
	CORS         CORSConfig
	Housekeeping HousekeepingConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if !cfg.FeatureFlags.UseSQLite {
		if err := cfg.DB.ensureDSN(); err != nil {
			return nil, err
		}
	}
	if _, err := cfg.Checkout.Location(); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", EnvTimeZone, err)
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"VISITORPASS_APP_ENV" required:"true"`
	Port         string `envconfig:"VISITORPASS_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"VISITORPASS_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"VISITORPASS_LOG_WARN_STACK" default:"false"`
	LogFormat    string `envconfig:"VISITORPASS_LOG_FORMAT" default:"json"`
	// MetricsAddr is where background workers expose /metrics. Empty disables it.
	MetricsAddr string `envconfig:"VISITORPASS_WORKER_METRICS_ADDR"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"VISITORPASS_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"VISITORPASS_DB_DSN"`
	Driver string `envconfig:"VISITORPASS_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"VISITORPASS_DB_HOST"`
	LegacyPort     int    `envconfig:"VISITORPASS_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"VISITORPASS_DB_USER"`
	LegacyPassword string `envconfig:"VISITORPASS_DB_PASSWORD"`
	LegacyName     string `envconfig:"VISITORPASS_DB_NAME"`
	LegacySSLMode  string `envconfig:"VISITORPASS_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"VISITORPASS_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"VISITORPASS_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"VISITORPASS_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"VISITORPASS_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	SlowQuery       time.Duration `envconfig:"VISITORPASS_DB_SLOW_QUERY" default:"500ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"VISITORPASS_REDIS_URL" required:"true"`
	Address      string        `envconfig:"VISITORPASS_REDIS_ADDR"`
	Password     string        `envconfig:"VISITORPASS_REDIS_PASSWORD"`
	DB           int           `envconfig:"VISITORPASS_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"VISITORPASS_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"VISITORPASS_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"VISITORPASS_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"VISITORPASS_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"VISITORPASS_REDIS_WRITE_TIMEOUT" default:"5s"`
	Namespace    string        `envconfig:"VISITORPASS_REDIS_NAMESPACE" default:"vp"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool   `envconfig:"VISITORPASS_USE_SQLITE" default:"false"`
	SQLitePath  string `envconfig:"VISITORPASS_SQLITE_PATH" default:"visitorpass.db"`
	AutoMigrate bool   `envconfig:"VISITORPASS_AUTO_MIGRATE" default:"false"`
}

type EventingConfig struct {
	OutboxIdempotencyTTL time.Duration `envconfig:"VISITORPASS_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
	HTTPIdempotencyTTL   time.Duration `envconfig:"VISITORPASS_HTTP_IDEMPOTENCY_TTL" default:"24h"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"VISITORPASS_GCP_PROJECT_ID" required:"true"`
	CredentialsJSON        string `envconfig:"VISITORPASS_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"VISITORPASS_GOOGLE_APPLICATION_CREDENTIALS"`
}

type GCSConfig struct {
	BucketName    string        `envconfig:"VISITORPASS_GCS_BUCKET_NAME" required:"true"`
	PhotoPrefix   string        `envconfig:"VISITORPASS_GCS_PHOTO_PREFIX" default:"visitor-photos"`
	UploadTimeout time.Duration `envconfig:"VISITORPASS_GCS_UPLOAD_TIMEOUT" default:"15s"`
	MaxPhotoMB    int           `envconfig:"VISITORPASS_MAX_PHOTO_MB" default:"5"`
}

type PubSubConfig struct {
	VisitorEventsTopic       string `envconfig:"VISITORPASS_PUBSUB_VISITOR_EVENTS_TOPIC" default:"vp-visitor-events"`
	NotificationSubscription string `envconfig:"VISITORPASS_PUBSUB_NOTIFICATION_SUBSCRIPTION" required:"true"`
	MaxInFlight              int    `envconfig:"VISITORPASS_PUBSUB_MAX_IN_FLIGHT" default:"8"`
}

type OutboxConfig struct {
	BatchSize      int           `envconfig:"VISITORPASS_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollInterval   time.Duration `envconfig:"VISITORPASS_OUTBOX_PUBLISH_POLL_INTERVAL" default:"500ms"`
	MaxBackoff     time.Duration `envconfig:"VISITORPASS_OUTBOX_MAX_BACKOFF" default:"10s"`
	PublishTimeout time.Duration `envconfig:"VISITORPASS_OUTBOX_PUBLISH_TIMEOUT" default:"15s"`
	MaxAttempts    int           `envconfig:"VISITORPASS_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type CheckoutConfig struct {
	PublicBaseURL    string        `envconfig:"VISITORPASS_PUBLIC_BASE_URL" required:"true"`
	RedirectPath     string        `envconfig:"VISITORPASS_CHECKOUT_REDIRECT_PATH" default:"/"`
	RedirectDelay    time.Duration `envconfig:"VISITORPASS_CHECKOUT_REDIRECT_DELAY" default:"3s"`
	PlatePattern     string        `envconfig:"VISITORPASS_PLATE_PATTERN" default:"^[A-Z]{2}\\s?\\d{2}\\s?[A-Z]{1,2}\\s?\\d{4}$"`
	TimeZone         string        `envconfig:"VISITORPASS_TIMEZONE" default:"Asia/Kolkata"`
	ImmediateCheckIn bool          `envconfig:"VISITORPASS_IMMEDIATE_CHECK_IN" default:"true"`
}

// Location resolves the facility time zone used for calendar bucketing.
func (c CheckoutConfig) Location() (*time.Location, error) {
	if strings.TrimSpace(c.TimeZone) == "" {
		return time.Local, nil
	}
	return time.LoadLocation(c.TimeZone)
}

type QRConfig struct {
	Size  int    `envconfig:"VISITORPASS_QR_SIZE" default:"300"`
	Quiet int    `envconfig:"VISITORPASS_QR_MARGIN" default:"2"`
	Dark  string `envconfig:"VISITORPASS_QR_DARK" default:"#000000"`
	Light string `envconfig:"VISITORPASS_QR_LIGHT" default:"#FFFFFF"`
}

type SMTPConfig struct {
	Host     string `envconfig:"VISITORPASS_SMTP_HOST"`
	Port     int    `envconfig:"VISITORPASS_SMTP_PORT" default:"587"`
	Username string `envconfig:"VISITORPASS_SMTP_USERNAME"`
	Password string `envconfig:"VISITORPASS_SMTP_PASSWORD"`
	From     string `envconfig:"VISITORPASS_SMTP_FROM" default:"no-reply@visitorpass.local"`
}

// Enabled reports whether outbound mail should go to a real relay.
func (s SMTPConfig) Enabled() bool {
	return strings.TrimSpace(s.Host) != ""
}

type CORSConfig struct {
	AllowedOrigins []string `envconfig:"VISITORPASS_CORS_ALLOWED_ORIGINS" default:"*"`
}

type HousekeepingConfig struct {
	Interval         time.Duration `envconfig:"VISITORPASS_HOUSEKEEPING_INTERVAL" default:"1h"`
	OverstayInterval time.Duration `envconfig:"VISITORPASS_HOUSEKEEPING_OVERSTAY_INTERVAL" default:"15m"`
	OutboxRetention  time.Duration `envconfig:"VISITORPASS_OUTBOX_RETENTION" default:"720h"`
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
