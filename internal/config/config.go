package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the API process.
// All values must come from env (or env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App      AppConfig
	DB       DBConfig
	Redis    RedisConfig
	Auth     AuthConfig
	SuperU   SuperUConfig
	Recovery RecoveryConfig
}

type AppConfig struct {
	Env  string
	Port int
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// SSLMode is kept explicit for AWS-ready posture.
	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host string
	Port int
}

type AuthConfig struct {
	JWTSecret      string
	JWTIssuer      string
	JWTAudience    string
	AccessTokenTTL time.Duration
}

// SuperUConfig carries the outbound voice provider credentials.
// The provider is considered disabled when APIKey is empty.
type SuperUConfig struct {
	BaseURL       string
	APIKey        string
	WebhookSecret string

	// WebhookTolerance bounds the accepted webhook timestamp skew.
	WebhookTolerance time.Duration

	// CallTimeout bounds a single outbound HTTP request to the provider.
	CallTimeout time.Duration
}

// RecoveryConfig seeds the voice recovery settings singleton on first boot.
// Everything here is mutable afterwards through the settings API.
type RecoveryConfig struct {
	Enabled                    bool
	KillSwitch                 bool
	AbandonmentMinutes         int
	MaxAttemptsPerCart         int
	MaxCallsPerUserPerDay      int
	MaxCallsPerDay             int
	DailyBudgetUSD             float64
	EstimatedCostPerCallUSD    float64
	QuietHoursStart            int
	QuietHoursEnd              int
	RetryBackoffSecondsCSV     string
	ScriptVersion              string
	ScriptTemplate             string
	AssistantID                string
	FromPhoneNumber            string
	DefaultTimezone            string
	AlertBacklogThreshold      int
	AlertFailureRatioThreshold float64

	// CycleInterval is how often the scheduler cycle runs.
	CycleInterval time.Duration

	// LeaderLeaseTTL bounds how long a dead process can hold the scheduler lease.
	LeaderLeaseTTL time.Duration
}

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	{
		n, err := mustInt("DB_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.Port = n
	}
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	{
		n, err := mustInt("REDIS_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	// Duration env vars are optional; defaults applied in Validate().
	c.Auth.AccessTokenTTL = optDuration("JWT_ACCESS_TTL")

	c.SuperU.BaseURL = strings.TrimSpace(os.Getenv("SUPERU_BASE_URL"))
	c.SuperU.APIKey = os.Getenv("SUPERU_API_KEY")
	c.SuperU.WebhookSecret = os.Getenv("SUPERU_WEBHOOK_SECRET")
	c.SuperU.WebhookTolerance = optDuration("SUPERU_WEBHOOK_TOLERANCE")
	c.SuperU.CallTimeout = optDuration("SUPERU_CALL_TIMEOUT")

	c.Recovery.Enabled = optBool("VOICE_ENABLED")
	c.Recovery.KillSwitch = optBool("VOICE_KILL_SWITCH")
	c.Recovery.AbandonmentMinutes = optInt("VOICE_ABANDONMENT_MINUTES", 30)
	c.Recovery.MaxAttemptsPerCart = optInt("VOICE_MAX_ATTEMPTS_PER_CART", 3)
	c.Recovery.MaxCallsPerUserPerDay = optInt("VOICE_MAX_CALLS_PER_USER_PER_DAY", 2)
	c.Recovery.MaxCallsPerDay = optInt("VOICE_MAX_CALLS_PER_DAY", 300)
	c.Recovery.DailyBudgetUSD = optFloat("VOICE_DAILY_BUDGET_USD", 300)
	c.Recovery.EstimatedCostPerCallUSD = optFloat("VOICE_ESTIMATED_COST_PER_CALL_USD", 0.7)
	c.Recovery.QuietHoursStart = optInt("VOICE_QUIET_HOURS_START", 21)
	c.Recovery.QuietHoursEnd = optInt("VOICE_QUIET_HOURS_END", 8)
	c.Recovery.RetryBackoffSecondsCSV = strings.TrimSpace(os.Getenv("VOICE_RETRY_BACKOFF_SECONDS"))
	c.Recovery.ScriptVersion = strings.TrimSpace(os.Getenv("VOICE_SCRIPT_VERSION"))
	c.Recovery.ScriptTemplate = os.Getenv("VOICE_SCRIPT_TEMPLATE")
	c.Recovery.AssistantID = strings.TrimSpace(os.Getenv("SUPERU_ASSISTANT_ID"))
	c.Recovery.FromPhoneNumber = strings.TrimSpace(os.Getenv("SUPERU_FROM_PHONE_NUMBER"))
	c.Recovery.DefaultTimezone = strings.TrimSpace(os.Getenv("VOICE_DEFAULT_TIMEZONE"))
	c.Recovery.AlertBacklogThreshold = optInt("VOICE_ALERT_BACKLOG_THRESHOLD", 50)
	c.Recovery.AlertFailureRatioThreshold = optFloat("VOICE_ALERT_FAILURE_RATIO_THRESHOLD", 0.35)
	c.Recovery.CycleInterval = optDuration("VOICE_CYCLE_INTERVAL")
	c.Recovery.LeaderLeaseTTL = optDuration("VOICE_LEADER_LEASE_TTL")

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if strings.TrimSpace(c.DB.SSLMode) == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			// Local-friendly default; production must be explicit.
			// Allowed values are enforced below.
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Redis.Host == "" {
		errs = append(errs, errors.New("REDIS_HOST is required"))
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}
	if c.Auth.AccessTokenTTL <= 0 {
		// Default: short-lived access tokens.
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}

	// Provider credentials are optional: recovery cancels jobs with a critical
	// alert when enabled without them. A webhook secret must accompany a key so
	// callbacks are never accepted unsigned.
	if c.SuperU.APIKey != "" && c.SuperU.WebhookSecret == "" {
		errs = append(errs, errors.New("SUPERU_WEBHOOK_SECRET is required when SUPERU_API_KEY is set"))
	}
	if c.SuperU.BaseURL == "" {
		c.SuperU.BaseURL = "https://api.superu.ai"
	}
	if c.SuperU.WebhookTolerance <= 0 {
		c.SuperU.WebhookTolerance = 5 * time.Minute
	}
	if c.SuperU.CallTimeout <= 0 {
		c.SuperU.CallTimeout = 15 * time.Second
	}

	if c.Recovery.CycleInterval <= 0 {
		c.Recovery.CycleInterval = time.Minute
	}
	if c.Recovery.LeaderLeaseTTL <= 0 {
		c.Recovery.LeaderLeaseTTL = 3 * c.Recovery.CycleInterval
	}
	if c.Recovery.DefaultTimezone == "" {
		c.Recovery.DefaultTimezone = "UTC"
	}
	if c.Recovery.ScriptVersion == "" {
		c.Recovery.ScriptVersion = "v1"
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func optFloat(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func optBool(key string) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func optDuration(key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
