package config

const (
	EnvPrefix = "DISSERTIA"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv                 = "DISSERTIA_APP_ENV"
	EnvPort                   = "DISSERTIA_APP_PORT"
	EnvDBDSN                  = "DISSERTIA_DB_DSN"
	EnvDBHost                 = "DISSERTIA_DB_HOST"
	EnvDBUser                 = "DISSERTIA_DB_USER"
	EnvDBName                 = "DISSERTIA_DB_NAME"
	EnvDBPassword             = "DISSERTIA_DB_PASSWORD"
	EnvRedisURL               = "DISSERTIA_REDIS_URL"
	EnvJWTSecret              = "DISSERTIA_JWT_SECRET"
	EnvJWTIssuer              = "DISSERTIA_JWT_ISSUER"
	EnvJWTExpMins             = "DISSERTIA_JWT_EXPIRATION_MINUTES"
	EnvRefreshTokenTTLMinutes = "DISSERTIA_REFRESH_TOKEN_TTL_MINUTES"
	EnvFreePlanID             = "DISSERTIA_FREE_PLAN_ID"
	EnvUsageWindowDays        = "DISSERTIA_USAGE_WINDOW_DAYS"
	EnvAITimeout              = "DISSERTIA_AI_TIMEOUT"
	EnvAIInputPrice           = "DISSERTIA_AI_INPUT_PRICE_PER_1K"
	EnvAIOutputPrice          = "DISSERTIA_AI_OUTPUT_PRICE_PER_1K"
	EnvGCPProjectID           = "DISSERTIA_GCP_PROJECT_ID"
)

// legacyDBEnvVars are required when no DSN is provided.
var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
