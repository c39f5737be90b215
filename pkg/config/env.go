package config

// EnvPrefix is empty because every field carries its fully qualified variable name.
const EnvPrefix = ""

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv          = "CAMPUSMART_APP_ENV"
	EnvPort            = "CAMPUSMART_APP_PORT"
	EnvDBDSN           = "CAMPUSMART_DB_DSN"
	EnvDBHost          = "CAMPUSMART_DB_HOST"
	EnvDBUser          = "CAMPUSMART_DB_USER"
	EnvDBName          = "CAMPUSMART_DB_NAME"
	EnvRedisURL        = "CAMPUSMART_REDIS_URL"
	EnvJWTSecret       = "CAMPUSMART_JWT_SECRET"
	EnvJWTIssuer       = "CAMPUSMART_JWT_ISSUER"
	EnvCheckoutTaxRate = "CAMPUSMART_CHECKOUT_TAX_RATE"
	EnvCartCacheTTL    = "CAMPUSMART_CART_CACHE_TTL"
	EnvGCPProjectID    = "CAMPUSMART_GCP_PROJECT_ID"
)

var discreteDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
