package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Process names select which sections are required.
const (
	ProcessAPI     = "api"
	ProcessStation = "station"
	ProcessViewer  = "viewer"
)

// Config holds all configuration required by the platform processes.
// All values must come from env (or env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App       AppConfig
	DB        DBConfig
	Redis     RedisConfig
	Auth      AuthConfig
	Client    ClientConfig
	Signaling SignalingConfig
	Billing   BillingConfig
	Video     VideoConfig
}

type AppConfig struct {
	Env     string
	Port    int
	Process string
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host string
	Port int
}

type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

// ClientConfig is used by the station and viewer daemons to reach the API.
type ClientConfig struct {
	APIBaseURL string
	Token      string
	// Identity is the provider name (station) or customer username (viewer).
	Identity string
	Timeout  time.Duration
}

type SignalingConfig struct {
	ICEServers        []string
	DiscoveryInterval time.Duration
	ICEInterval       time.Duration
	OfferAttempts     int
	OfferRetry        time.Duration
	SessionTimeout    time.Duration
	StreamTTL         time.Duration
	SinkDir           string
}

type BillingConfig struct {
	ServiceChargeMinor   int64
	Currency             string
	ReconcileInterval    time.Duration
	ReconcileConcurrency int
}

type VideoConfig struct {
	StartDelay time.Duration
	StopDelay  time.Duration
	// Source is one of placeholder, ivf.
	Source     string
	SourcePath string
}

func Load(process string) (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Process = process
	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}

	if process == ProcessAPI {
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
	}

	// Redis is required by the API and optional for the station (reconciliation lease).
	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	if process == ProcessAPI || c.Redis.Host != "" {
		n, err := mustInt("REDIS_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	// Duration env vars are optional; defaults applied in Validate().
	c.Auth.AccessTokenTTL = mustDuration("JWT_ACCESS_TTL")
	c.Auth.RefreshTokenTTL = mustDuration("JWT_REFRESH_TTL")

	c.Client.APIBaseURL = strings.TrimRight(strings.TrimSpace(os.Getenv("API_BASE_URL")), "/")
	c.Client.Token = strings.TrimSpace(os.Getenv("API_TOKEN"))
	c.Client.Identity = strings.TrimSpace(os.Getenv("CLIENT_IDENTITY"))
	c.Client.Timeout = mustDuration("API_TIMEOUT")

	c.Signaling.ICEServers = splitList(os.Getenv("SIGNALING_ICE_SERVERS"))
	c.Signaling.DiscoveryInterval = mustDuration("SIGNALING_DISCOVERY_INTERVAL")
	c.Signaling.ICEInterval = mustDuration("SIGNALING_ICE_INTERVAL")
	c.Signaling.OfferRetry = mustDuration("SIGNALING_OFFER_RETRY_INTERVAL")
	c.Signaling.SessionTimeout = mustDuration("SIGNALING_SESSION_TIMEOUT")
	c.Signaling.StreamTTL = mustDuration("SIGNALING_STREAM_TTL")
	c.Signaling.SinkDir = strings.TrimSpace(os.Getenv("VIEWER_SINK_DIR"))
	{
		n, err := optionalInt("SIGNALING_OFFER_ATTEMPTS")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Signaling.OfferAttempts = n
	}

	{
		n, err := optionalInt("BILLING_SERVICE_CHARGE_MINOR")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Billing.ServiceChargeMinor = int64(n)
		if strings.TrimSpace(os.Getenv("BILLING_SERVICE_CHARGE_MINOR")) == "" {
			c.Billing.ServiceChargeMinor = -1
		}
	}
	c.Billing.Currency = strings.TrimSpace(os.Getenv("BILLING_CURRENCY"))
	c.Billing.ReconcileInterval = mustDuration("BILLING_RECONCILE_INTERVAL")
	{
		n, err := optionalInt("BILLING_RECONCILE_CONCURRENCY")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Billing.ReconcileConcurrency = n
	}

	c.Video.StartDelay = mustDuration("VIDEO_START_DELAY")
	c.Video.StopDelay = mustDuration("VIDEO_STOP_DELAY")
	c.Video.Source = strings.TrimSpace(os.Getenv("VIDEO_SOURCE"))
	c.Video.SourcePath = strings.TrimSpace(os.Getenv("VIDEO_SOURCE_PATH"))

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks the sections required by App.Process and applies defaults.
// It has a pointer receiver because defaults are written back.
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
	switch c.App.Process {
	case ProcessAPI, ProcessStation, ProcessViewer:
	default:
		errs = append(errs, fmt.Errorf("unknown process %q", c.App.Process))
	}

	if c.App.Process == ProcessAPI {
		errs = append(errs, c.validateAPI()...)
	} else {
		errs = append(errs, c.validateClient()...)
	}

	c.applySignalingDefaults()
	errs = append(errs, c.validateBilling()...)
	errs = append(errs, c.validateVideo()...)

	return joinErrors(errs)
}

func (c *Config) validateAPI() []error {
	var errs []error
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
	if c.Auth.RefreshTokenTTL <= 0 {
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}
	return errs
}

func (c *Config) validateClient() []error {
	var errs []error
	if c.Client.APIBaseURL == "" {
		errs = append(errs, errors.New("API_BASE_URL is required"))
	} else if !strings.HasPrefix(c.Client.APIBaseURL, "http://") && !strings.HasPrefix(c.Client.APIBaseURL, "https://") {
		errs = append(errs, fmt.Errorf("API_BASE_URL must be an http(s) URL, got %q", c.Client.APIBaseURL))
	}
	if c.Client.Token == "" {
		errs = append(errs, errors.New("API_TOKEN is required"))
	}
	if c.Client.Identity == "" {
		errs = append(errs, errors.New("CLIENT_IDENTITY is required"))
	}
	if c.Client.Timeout <= 0 {
		c.Client.Timeout = 10 * time.Second
	}
	if c.Redis.Host != "" && (c.Redis.Port <= 0 || c.Redis.Port > 65535) {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}
	return errs
}

func (c *Config) applySignalingDefaults() {
	if c.Signaling.DiscoveryInterval <= 0 {
		c.Signaling.DiscoveryInterval = 5 * time.Second
	}
	if c.Signaling.ICEInterval <= 0 {
		c.Signaling.ICEInterval = 2 * time.Second
	}
	if c.Signaling.OfferAttempts <= 0 {
		c.Signaling.OfferAttempts = 3
	}
	if c.Signaling.OfferRetry <= 0 {
		c.Signaling.OfferRetry = time.Second
	}
	if c.Signaling.SessionTimeout <= 0 {
		c.Signaling.SessionTimeout = 30 * time.Minute
	}
	if c.Signaling.StreamTTL <= 0 {
		c.Signaling.StreamTTL = 6 * time.Hour
	}
	if c.Signaling.SinkDir == "" {
		c.Signaling.SinkDir = os.TempDir()
	}
}

func (c *Config) validateBilling() []error {
	var errs []error
	if c.Billing.ServiceChargeMinor < 0 {
		// ₹500 in paise.
		c.Billing.ServiceChargeMinor = 50000
	}
	if c.Billing.Currency == "" {
		c.Billing.Currency = "INR"
	}
	if c.Billing.ReconcileInterval <= 0 {
		c.Billing.ReconcileInterval = 30 * time.Second
	}
	if c.Billing.ReconcileInterval < time.Second {
		errs = append(errs, fmt.Errorf("BILLING_RECONCILE_INTERVAL must be at least 1s, got %s", c.Billing.ReconcileInterval))
	}
	if c.Billing.ReconcileConcurrency <= 0 {
		c.Billing.ReconcileConcurrency = 4
	}
	return errs
}

func (c *Config) validateVideo() []error {
	var errs []error
	if c.Video.StartDelay <= 0 {
		c.Video.StartDelay = 2 * time.Second
	}
	if c.Video.StopDelay <= 0 {
		c.Video.StopDelay = 2 * time.Second
	}
	if c.Video.Source == "" {
		c.Video.Source = "placeholder"
	}
	switch c.Video.Source {
	case "placeholder":
	case "ivf":
		if c.Video.SourcePath == "" && c.App.Process == ProcessStation {
			errs = append(errs, errors.New("VIDEO_SOURCE_PATH is required when VIDEO_SOURCE=ivf"))
		}
	default:
		errs = append(errs, fmt.Errorf("VIDEO_SOURCE must be one of placeholder, ivf, got %q", c.Video.Source))
	}
	return errs
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
	if c.Redis.Host == "" {
		return ""
	}
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

func optionalInt(key string) (int, error) {
	if strings.TrimSpace(os.Getenv(key)) == "" {
		return 0, nil
	}
	return mustInt(key)
}

func mustDuration(key string) time.Duration {
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

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
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
