// Package config loads textile-e2e configuration from environment variables,
// applies command-line overrides and validates the result.
//
// CLI flags control which outer services are mocked (--no-email, --no-s3).
// Environment variables provide secrets and service configuration.
package config

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kuitang/textile-e2e/internal/driver"
	"github.com/kuitang/textile-e2e/internal/ratelimit"
	"github.com/kuitang/textile-e2e/internal/urlutil"
)

// Driver backends.
const (
	DriverPlaywright = "playwright"
	DriverCDP        = "cdp"
	DriverMock       = "mock"
)

const defaultArtifactsRegion = "auto"

// Config holds all runner configuration.
type Config struct {
	// Target and browsers
	BaseURL  string
	Browsers []driver.BrowserKind
	Driver   string
	Endpoint string
	Headless bool

	// Timing
	WaitBudget    time.Duration
	ActionTimeout time.Duration
	Parallelism   int
	SessionLimits ratelimit.Config

	// Scenario source; empty uses the built-in catalog.
	ScenarioDir string

	// Run history
	ResultsDB    string
	ResultsDBKey string // optional, 64 hex characters

	// Mock service flags (controlled by CLI flags, not env vars)
	NoS3    bool
	NoEmail bool

	// Failure screenshots (S3-compatible)
	ArtifactsBucket    string
	AWSEndpointS3      string
	AWSRegion          string
	AWSAccessKeyID     string
	AWSSecretAccessKey string
	ArtifactsPublicURL string

	// Report delivery
	ResendAPIKey string
	ReportFrom   string
	ReportTo     []string

	// serve
	ListenAddr string

	LogLevel string

	browsersErr error
}

// Overrides carries command-line values. Zero values leave the environment value in place.
type Overrides struct {
	BaseURL     string
	Browsers    string
	Driver      string
	Endpoint    string
	Headed      bool
	Wait        time.Duration
	Parallel    int
	ScenarioDir string
	ResultsDB   string
	Addr        string
	NoS3        bool
	NoEmail     bool
	Verbose     bool
}

// ValidationError represents a configuration validation error with multiple issues.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("configuration validation failed:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

// Load reads the environment, applies overrides and validates.
func Load(o Overrides) (*Config, error) {
	cfg := &Config{}

	cfg.BaseURL = getEnvOrDefault("TEXTILE_BASE_URL", "http://localhost:1420")
	browsers := getEnvOrDefault("BROWSERS", "chrome,firefox")
	cfg.Driver = strings.ToLower(getEnvOrDefault("DRIVER", DriverPlaywright))
	cfg.Endpoint = getEnvOrDefault("BROWSER_ENDPOINT", "")
	cfg.Headless = parseBoolOrDefault("HEADLESS", true)

	cfg.WaitBudget = parseDurationOrDefault("WAIT_BUDGET", 500*time.Millisecond)
	cfg.ActionTimeout = parseDurationOrDefault("ACTION_TIMEOUT", 0)
	cfg.Parallelism = parseIntOrDefault("PARALLELISM", 2)
	cfg.SessionLimits = ratelimit.Config{
		RPS:             parseFloat64OrDefault("SESSION_RATE", ratelimit.DefaultConfig.RPS),
		Burst:           parseIntOrDefault("SESSION_BURST", ratelimit.DefaultConfig.Burst),
		CleanupInterval: ratelimit.DefaultConfig.CleanupInterval,
	}

	cfg.ScenarioDir = getEnvOrDefault("SCENARIO_DIR", "")
	cfg.ResultsDB = getEnvOrDefault("RESULTS_DB", "")
	cfg.ResultsDBKey = getEnvOrDefault("RESULTS_DB_KEY", "")

	cfg.ArtifactsBucket = getEnvOrDefault("ARTIFACTS_BUCKET", "")
	cfg.AWSEndpointS3 = getEnvOrDefault("AWS_ENDPOINT_URL_S3", "")
	cfg.AWSRegion = getEnvOrDefault("AWS_REGION", defaultArtifactsRegion)
	cfg.AWSAccessKeyID = getEnvOrDefault("AWS_ACCESS_KEY_ID", "")
	cfg.AWSSecretAccessKey = getEnvOrDefault("AWS_SECRET_ACCESS_KEY", "")
	cfg.ArtifactsPublicURL = getEnvOrDefault("ARTIFACTS_PUBLIC_URL", "")
	if cfg.ArtifactsPublicURL == "" && cfg.AWSEndpointS3 != "" && cfg.ArtifactsBucket != "" {
		cfg.ArtifactsPublicURL = urlutil.BuildAbsolute(cfg.AWSEndpointS3, cfg.ArtifactsBucket)
	}

	cfg.ResendAPIKey = getEnvOrDefault("RESEND_API_KEY", "")
	cfg.ReportFrom = getEnvOrDefault("REPORT_FROM", "textile-e2e@localhost")
	cfg.ReportTo = splitList(getEnvOrDefault("REPORT_TO", ""))

	cfg.ListenAddr = getEnvOrDefault("LISTEN_ADDR", ":8090")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	if o.Browsers != "" {
		browsers = o.Browsers
	}
	cfg.Browsers, cfg.browsersErr = driver.ParseBrowserKinds(browsers)
	cfg.apply(o)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) apply(o Overrides) {
	if o.BaseURL != "" {
		c.BaseURL = o.BaseURL
	}
	if o.Driver != "" {
		c.Driver = strings.ToLower(o.Driver)
	}
	if o.Endpoint != "" {
		c.Endpoint = o.Endpoint
	}
	if o.Headed {
		c.Headless = false
	}
	if o.Wait != 0 {
		c.WaitBudget = o.Wait
	}
	if o.Parallel != 0 {
		c.Parallelism = o.Parallel
	}
	if o.ScenarioDir != "" {
		c.ScenarioDir = o.ScenarioDir
	}
	if o.ResultsDB != "" {
		c.ResultsDB = o.ResultsDB
	}
	if o.Addr != "" {
		c.ListenAddr = o.Addr
	}
	c.NoS3 = c.NoS3 || o.NoS3
	c.NoEmail = c.NoEmail || o.NoEmail
	if o.Verbose {
		c.LogLevel = "debug"
	}
}

// Validate checks every field and reports all problems at once.
func (c *Config) Validate() error {
	var errs []string

	if !urlutil.IsAbsoluteHTTP(c.BaseURL) {
		errs = append(errs, fmt.Sprintf("TEXTILE_BASE_URL must be an absolute http(s) URL, got %q", c.BaseURL))
	}

	switch {
	case c.browsersErr != nil:
		errs = append(errs, fmt.Sprintf("BROWSERS: %v", c.browsersErr))
	case len(c.Browsers) == 0:
		errs = append(errs, "BROWSERS must name at least one browser")
	}

	switch c.Driver {
	case DriverPlaywright, DriverMock:
	case DriverCDP:
		for _, kind := range c.Browsers {
			if kind != driver.Chrome {
				errs = append(errs, fmt.Sprintf("DRIVER=cdp only supports chrome, BROWSERS includes %s", kind))
			}
		}
	default:
		errs = append(errs, fmt.Sprintf("DRIVER must be playwright, cdp or mock, got %q", c.Driver))
	}

	if c.WaitBudget <= 0 {
		errs = append(errs, "WAIT_BUDGET must be positive")
	}
	if c.ActionTimeout < 0 {
		errs = append(errs, "ACTION_TIMEOUT must not be negative")
	}
	if c.Parallelism <= 0 {
		errs = append(errs, "PARALLELISM must be positive")
	}
	if c.SessionLimits.RPS <= 0 {
		errs = append(errs, "SESSION_RATE must be positive")
	}
	if c.SessionLimits.Burst <= 0 {
		errs = append(errs, "SESSION_BURST must be positive")
	}

	if c.ResultsDBKey != "" {
		if _, err := hex.DecodeString(c.ResultsDBKey); err != nil || len(c.ResultsDBKey) != 64 {
			errs = append(errs, "RESULTS_DB_KEY must be 64 hex characters (32 bytes)")
		}
	}

	// S3: a configured bucket requires credentials unless --no-s3
	if c.ArtifactsBucket != "" && !c.NoS3 {
		if c.AWSEndpointS3 == "" {
			errs = append(errs, "AWS_ENDPOINT_URL_S3 is required when ARTIFACTS_BUCKET is set (or use --no-s3)")
		}
		if c.AWSAccessKeyID == "" {
			errs = append(errs, "AWS_ACCESS_KEY_ID is required when ARTIFACTS_BUCKET is set (or use --no-s3)")
		}
		if c.AWSSecretAccessKey == "" {
			errs = append(errs, "AWS_SECRET_ACCESS_KEY is required when ARTIFACTS_BUCKET is set (or use --no-s3)")
		}
	}

	// Email: recipients require a Resend API key unless --no-email
	if len(c.ReportTo) > 0 && !c.NoEmail && c.ResendAPIKey == "" {
		errs = append(errs, "RESEND_API_KEY is required when REPORT_TO is set (or use --no-email)")
	}

	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}
	return nil
}

// ArtifactsEnabled reports whether failure screenshots go to a real bucket.
func (c *Config) ArtifactsEnabled() bool {
	return c.ArtifactsBucket != "" && !c.NoS3
}

// EmailEnabled reports whether reports are mailed through Resend.
func (c *Config) EmailEnabled() bool {
	return len(c.ReportTo) > 0 && !c.NoEmail
}

// PrintStartupSummary prints a human-readable summary of the configuration.
func (c *Config) PrintStartupSummary(w io.Writer) {
	names := make([]string, len(c.Browsers))
	for i, kind := range c.Browsers {
		names[i] = string(kind)
	}
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "textile-e2e")
	fmt.Fprintf(w, "  Target:    %s\n", c.BaseURL)
	fmt.Fprintf(w, "  Driver:    %s (%s)\n", c.Driver, strings.Join(names, ", "))
	if c.Endpoint != "" {
		fmt.Fprintf(w, "  Endpoint:  %s\n", c.Endpoint)
	}
	fmt.Fprintf(w, "  Wait:      %s per locate, %d in parallel\n", c.WaitBudget, c.Parallelism)
	switch {
	case c.ArtifactsEnabled():
		fmt.Fprintf(w, "  Artifacts: s3://%s (%s)\n", c.ArtifactsBucket, c.AWSEndpointS3)
	case c.ArtifactsBucket != "":
		fmt.Fprintln(w, "  Artifacts: disabled (--no-s3)")
	default:
		fmt.Fprintln(w, "  Artifacts: disabled")
	}
	switch {
	case c.EmailEnabled():
		fmt.Fprintf(w, "  Report:    Resend to %s\n", strings.Join(c.ReportTo, ", "))
	case len(c.ReportTo) > 0:
		fmt.Fprintln(w, "  Report:    Mock email (--no-email)")
	}
	if c.ResultsDB != "" {
		fmt.Fprintf(w, "  History:   %s\n", c.ResultsDB)
	}
	fmt.Fprintln(w, "")
}

// Helper functions for parsing environment variables

func getEnvOrDefault(key, defaultValue string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	return value
}

func parseIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return defaultValue
	}
	return parsed
}

func parseFloat64OrDefault(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func parseDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return defaultValue
	}
	return parsed
}

func parseBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return defaultValue
	}
	return parsed
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
