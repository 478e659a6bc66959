package config

const EnvPrefix = "VISITORPASS"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv      = "VISITORPASS_APP_ENV"
	EnvPort        = "VISITORPASS_APP_PORT"
	EnvLogLevel    = "VISITORPASS_LOG_LEVEL"
	EnvDBDSN       = "VISITORPASS_DB_DSN"
	EnvDBHost      = "VISITORPASS_DB_HOST"
	EnvDBUser      = "VISITORPASS_DB_USER"
	EnvDBName      = "VISITORPASS_DB_NAME"
	EnvDBPassword  = "VISITORPASS_DB_PASSWORD"
	EnvUseSQLite   = "VISITORPASS_USE_SQLITE"
	EnvRedisURL    = "VISITORPASS_REDIS_URL"
	EnvGCPProject  = "VISITORPASS_GCP_PROJECT_ID"
	EnvGCSBucket   = "VISITORPASS_GCS_BUCKET_NAME"
	EnvNotifySub   = "VISITORPASS_PUBSUB_NOTIFICATION_SUBSCRIPTION"
	EnvPublicURL   = "VISITORPASS_PUBLIC_BASE_URL"
	EnvTimeZone    = "VISITORPASS_TIMEZONE"
	EnvPlateFormat = "VISITORPASS_PLATE_PATTERN"
	EnvSMTPHost    = "VISITORPASS_SMTP_HOST"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
