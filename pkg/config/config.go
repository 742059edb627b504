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
	App           AppConfig
	Service       ServiceConfig
	DB            DBConfig
	Redis         RedisConfig
	JWT           JWTConfig
	Password      PasswordConfig
	AuthRateLimit AuthRateLimitConfig
	FeatureFlags  FeatureFlagsConfig
	Eventing      EventingConfig
	Entitlements  EntitlementsConfig
	AI            AIConfig
	Stripe        StripeConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Entitlements.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"DISSERTIA_APP_ENV" required:"true"`
	Port         string `envconfig:"DISSERTIA_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"DISSERTIA_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"DISSERTIA_LOG_WARN_STACK" default:"false"`
	LogFormat    string `envconfig:"DISSERTIA_LOG_FORMAT" default:"json"`
	CORSOrigins  string `envconfig:"DISSERTIA_CORS_ORIGINS" default:"http://localhost:3000"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd) || strings.EqualFold(a.Env, "production")
}

// AllowedOrigins splits the comma separated CORS origin list.
func (a AppConfig) AllowedOrigins() []string {
	var origins []string
	for _, origin := range strings.Split(a.CORSOrigins, ",") {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}

type ServiceConfig struct {
	Kind string `envconfig:"DISSERTIA_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"DISSERTIA_DB_DSN"`
	Driver string `envconfig:"DISSERTIA_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"DISSERTIA_DB_HOST"`
	LegacyPort     int    `envconfig:"DISSERTIA_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"DISSERTIA_DB_USER"`
	LegacyPassword string `envconfig:"DISSERTIA_DB_PASSWORD"`
	LegacyName     string `envconfig:"DISSERTIA_DB_NAME"`
	LegacySSLMode  string `envconfig:"DISSERTIA_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"DISSERTIA_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"DISSERTIA_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"DISSERTIA_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"DISSERTIA_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	SlowQuery       time.Duration `envconfig:"DISSERTIA_DB_SLOW_QUERY" default:"500ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"DISSERTIA_REDIS_URL" required:"true"`
	Address      string        `envconfig:"DISSERTIA_REDIS_ADDR"`
	Password     string        `envconfig:"DISSERTIA_REDIS_PASSWORD"`
	DB           int           `envconfig:"DISSERTIA_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"DISSERTIA_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"DISSERTIA_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"DISSERTIA_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"DISSERTIA_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"DISSERTIA_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret                 string `envconfig:"DISSERTIA_JWT_SECRET" required:"true"`
	Issuer                 string `envconfig:"DISSERTIA_JWT_ISSUER" required:"true"`
	ExpirationMinutes      int    `envconfig:"DISSERTIA_JWT_EXPIRATION_MINUTES" required:"true"`
	RefreshTokenTTLMinutes int    `envconfig:"DISSERTIA_REFRESH_TOKEN_TTL_MINUTES" default:"43200"`
}

// RefreshTokenTTL returns the refresh token TTL configured in minutes.
func (j JWTConfig) RefreshTokenTTL() time.Duration {
	if j.RefreshTokenTTLMinutes <= 0 {
		return 0
	}
	return time.Duration(j.RefreshTokenTTLMinutes) * time.Minute
}

type PasswordConfig struct {
	ArgonMemoryKB    int `envconfig:"DISSERTIA_ARGON_MEMORY_KB" default:"65536"`
	ArgonTime        int `envconfig:"DISSERTIA_ARGON_TIME" default:"3"`
	ArgonParallelism int `envconfig:"DISSERTIA_ARGON_PARALLELISM" default:"2"`
	ArgonSaltLen     int `envconfig:"DISSERTIA_ARGON_SALT_LEN" default:"16"`
	ArgonKeyLen      int `envconfig:"DISSERTIA_ARGON_KEY_LEN" default:"32"`
}

type AuthRateLimitConfig struct {
	LoginWindow        time.Duration `envconfig:"DISSERTIA_AUTH_RATE_LIMIT_LOGIN_WINDOW" default:"1m"`
	LoginEmailLimit    int           `envconfig:"DISSERTIA_AUTH_RATE_LIMIT_LOGIN_EMAIL_LIMIT" default:"5"`
	LoginIPLimit       int           `envconfig:"DISSERTIA_AUTH_RATE_LIMIT_LOGIN_IP_LIMIT" default:"20"`
	RegisterWindow     time.Duration `envconfig:"DISSERTIA_AUTH_RATE_LIMIT_REGISTER_WINDOW" default:"5m"`
	RegisterEmailLimit int           `envconfig:"DISSERTIA_AUTH_RATE_LIMIT_REGISTER_EMAIL_LIMIT" default:"3"`
	RegisterIPLimit    int           `envconfig:"DISSERTIA_AUTH_RATE_LIMIT_REGISTER_IP_LIMIT" default:"20"`
	FeedbackWindow     time.Duration `envconfig:"DISSERTIA_RATE_LIMIT_FEEDBACK_WINDOW" default:"1m"`
	FeedbackUserLimit  int           `envconfig:"DISSERTIA_RATE_LIMIT_FEEDBACK_USER_LIMIT" default:"6"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"DISSERTIA_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"DISSERTIA_AUTO_MIGRATE" default:"false"`
	SeedPlans   bool `envconfig:"DISSERTIA_SEED_PLANS" default:"true"`
}

type EventingConfig struct {
	WebhookIdempotencyTTL time.Duration `envconfig:"DISSERTIA_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
	RequestIdempotencyTTL time.Duration `envconfig:"DISSERTIA_REQUEST_IDEMPOTENCY_TTL" default:"24h"`
}

// EntitlementsConfig controls how quota windows are derived.
type EntitlementsConfig struct {
	FreePlanID       string `envconfig:"DISSERTIA_FREE_PLAN_ID" default:"free"`
	UsageWindowDays  int    `envconfig:"DISSERTIA_USAGE_WINDOW_DAYS" default:"30"`
	FailOpenOnErrors bool   `envconfig:"DISSERTIA_ENTITLEMENT_FAIL_OPEN" default:"true"`
}

// UsageWindow returns the length of one usage window.
func (e EntitlementsConfig) UsageWindow() time.Duration {
	return time.Duration(e.UsageWindowDays) * 24 * time.Hour
}

func (e EntitlementsConfig) validate() error {
	if strings.TrimSpace(e.FreePlanID) == "" {
		return fmt.Errorf("%s is required", EnvFreePlanID)
	}
	if e.UsageWindowDays <= 0 {
		return fmt.Errorf("%s must be positive", EnvUsageWindowDays)
	}
	return nil
}

type AIConfig struct {
	ProjectID string        `envconfig:"DISSERTIA_GCP_PROJECT_ID"`
	Location  string        `envconfig:"DISSERTIA_VERTEX_LOCATION" default:"us-central1"`
	Model     string        `envconfig:"DISSERTIA_VERTEX_MODEL" default:"gemini-2.0-flash-001"`
	Timeout   time.Duration `envconfig:"DISSERTIA_AI_TIMEOUT" default:"45s"`
	// Prices are expressed in centavos per 1000 tokens.
	InputPricePer1K  string `envconfig:"DISSERTIA_AI_INPUT_PRICE_PER_1K" default:"0.08"`
	OutputPricePer1K string `envconfig:"DISSERTIA_AI_OUTPUT_PRICE_PER_1K" default:"0.32"`
}

// Enabled reports whether a Vertex AI project is configured.
func (a AIConfig) Enabled() bool {
	return strings.TrimSpace(a.ProjectID) != ""
}

// Pricing parses the per-1K token prices.
func (a AIConfig) Pricing() (decimal.Decimal, decimal.Decimal, error) {
	in, err := decimal.NewFromString(strings.TrimSpace(a.InputPricePer1K))
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("parse %s: %w", EnvAIInputPrice, err)
	}
	out, err := decimal.NewFromString(strings.TrimSpace(a.OutputPricePer1K))
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("parse %s: %w", EnvAIOutputPrice, err)
	}
	return in, out, nil
}

type StripeConfig struct {
	APIKey            string `envconfig:"DISSERTIA_STRIPE_API_KEY"`
	Secret            string `envconfig:"DISSERTIA_STRIPE_SECRET"`
	Env               string `envconfig:"DISSERTIA_STRIPE_ENV" default:"test"`
	MonthlyPriceID    string `envconfig:"DISSERTIA_STRIPE_MONTHLY_PRICE_ID"`
	YearlyPriceID     string `envconfig:"DISSERTIA_STRIPE_YEARLY_PRICE_ID"`
	PushCancellations bool   `envconfig:"DISSERTIA_STRIPE_PUSH_CANCELLATIONS" default:"true"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
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
