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
// All values must come from env (or an env-file loaded at startup).
// No business logic should depend on raw environment variables.
type Config struct {
	App       AppConfig
	DB        DBConfig
	Redis     RedisConfig
	Auth      AuthConfig
	Meta      MetaConfig
	RateLimit RateLimitConfig
	Queue     QueueConfig
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

	// SSLMode accepts: disable, require, verify-ca, verify-full
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

// MetaConfig covers the Instagram Graph API boundary.
type MetaConfig struct {
	GraphBaseURL string
	AppSecret    string
	VerifyToken  string

	// RequestTimeout bounds every outbound Graph API call.
	RequestTimeout time.Duration
}

// RateLimitConfig carries the hourly budgets.
//
// All three ceilings are required. A missing ceiling is a startup error:
// the admission core must never silently default to "unlimited".
type RateLimitConfig struct {
	GlobalHourlyLimit   int64
	FreeTierHourlyLimit int64
	ProTierHourlyLimit  int64

	// CommentCallCost is the number of Graph API calls a comment automation
	// reserves up front (reply + commenter lookup batches).
	CommentCallCost int64
}

type QueueConfig struct {
	ReplayBatchSize int
	ReplayWorkers   int
	ReplayInterval  time.Duration
	MaxAttempts     int
	BackoffBase     time.Duration
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
	c.Auth.AccessTokenTTL = optDuration("JWT_ACCESS_TTL")

	c.Meta.GraphBaseURL = strings.TrimSpace(os.Getenv("META_GRAPH_BASE_URL"))
	c.Meta.AppSecret = os.Getenv("META_APP_SECRET")
	c.Meta.VerifyToken = os.Getenv("META_WEBHOOK_VERIFY_TOKEN")
	c.Meta.RequestTimeout = optDuration("META_REQUEST_TIMEOUT")

	{
		n, err := mustInt64("RATE_GLOBAL_HOURLY_LIMIT")
		if err != nil {
			parseErrs = append(parseErrs, err)
		}
		c.RateLimit.GlobalHourlyLimit = n
	}
	{
		n, err := mustInt64("RATE_FREE_TIER_HOURLY_LIMIT")
		if err != nil {
			parseErrs = append(parseErrs, err)
		}
		c.RateLimit.FreeTierHourlyLimit = n
	}
	{
		n, err := mustInt64("RATE_PRO_TIER_HOURLY_LIMIT")
		if err != nil {
			parseErrs = append(parseErrs, err)
		}
		c.RateLimit.ProTierHourlyLimit = n
	}
	c.RateLimit.CommentCallCost = optInt64("RATE_COMMENT_CALL_COST")

	c.Queue.ReplayBatchSize = int(optInt64("QUEUE_REPLAY_BATCH_SIZE"))
	c.Queue.ReplayWorkers = int(optInt64("QUEUE_REPLAY_WORKERS"))
	c.Queue.ReplayInterval = optDuration("QUEUE_REPLAY_INTERVAL")
	c.Queue.MaxAttempts = int(optInt64("QUEUE_MAX_ATTEMPTS"))
	c.Queue.BackoffBase = optDuration("QUEUE_BACKOFF_BASE")

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
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}

	if c.Meta.GraphBaseURL == "" {
		c.Meta.GraphBaseURL = "https://graph.instagram.com/v21.0"
	}
	if c.Meta.VerifyToken == "" {
		errs = append(errs, errors.New("META_WEBHOOK_VERIFY_TOKEN is required"))
	}
	if c.IsProduction() && c.Meta.AppSecret == "" {
		errs = append(errs, errors.New("META_APP_SECRET is required in production"))
	}
	if c.Meta.RequestTimeout <= 0 {
		c.Meta.RequestTimeout = 10 * time.Second
	}

	// Budget ceilings are mandatory. Zero or negative is as bad as absent.
	if c.RateLimit.GlobalHourlyLimit <= 0 {
		errs = append(errs, errors.New("RATE_GLOBAL_HOURLY_LIMIT must be a positive integer"))
	}
	if c.RateLimit.FreeTierHourlyLimit <= 0 {
		errs = append(errs, errors.New("RATE_FREE_TIER_HOURLY_LIMIT must be a positive integer"))
	}
	if c.RateLimit.ProTierHourlyLimit <= 0 {
		errs = append(errs, errors.New("RATE_PRO_TIER_HOURLY_LIMIT must be a positive integer"))
	}
	if c.RateLimit.FreeTierHourlyLimit > c.RateLimit.ProTierHourlyLimit {
		errs = append(errs, errors.New("RATE_FREE_TIER_HOURLY_LIMIT must not exceed RATE_PRO_TIER_HOURLY_LIMIT"))
	}
	if c.RateLimit.CommentCallCost <= 0 {
		c.RateLimit.CommentCallCost = 1
	}

	if c.Queue.ReplayBatchSize <= 0 {
		c.Queue.ReplayBatchSize = 25
	}
	if c.Queue.ReplayWorkers <= 0 {
		c.Queue.ReplayWorkers = 4
	}
	if c.Queue.ReplayInterval <= 0 {
		c.Queue.ReplayInterval = time.Minute
	}
	if c.Queue.MaxAttempts <= 0 {
		c.Queue.MaxAttempts = 5
	}
	if c.Queue.BackoffBase <= 0 {
		c.Queue.BackoffBase = 2 * time.Minute
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

func mustInt64(key string) (int64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optInt64(key string) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0
	}
	return n
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
