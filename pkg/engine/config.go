package engine

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/germanamz/stepwise/pkg/callproto/sanitize"
	"github.com/germanamz/stepwise/pkg/flows/calculator"
	"github.com/germanamz/stepwise/pkg/flows/srsdeck"
	"github.com/germanamz/stepwise/pkg/modeladapter"
)

// Provider kinds.
const (
	ProviderGenAI      = "genai"
	ProviderGeminiREST = "gemini-rest"
)

// Defaults for the model section.
const (
	DefaultModel         = "gemini-2.0-flash"
	DefaultFallbackModel = "gemini-1.5-flash"
)

// Config is the top-level configuration. It is read once at startup and
// passed down explicitly.
type Config struct {
	Provider   ProviderConfig   `yaml:"provider"`
	Driver     DriverConfig     `yaml:"driver"`
	Math       MathConfig       `yaml:"math"`
	SRS        SRSConfig        `yaml:"srs"`
	Eval       EvalConfig       `yaml:"eval"`
	ToolServer ToolServerConfig `yaml:"tool_server"`
}

// RateLimitConfig controls client-side throttling and 429 retries.
type RateLimitConfig struct {
	InputTPM   int    `yaml:"input_tpm"`   // Input tokens per minute (0 = no limit).
	OutputTPM  int    `yaml:"output_tpm"`  // Output tokens per minute (0 = no limit).
	RPM        int    `yaml:"rpm"`         // Requests per minute (0 = no limit).
	MaxRetries int    `yaml:"max_retries"` // Retries on 429 (default 4).
	BaseDelay  string `yaml:"base_delay"`  // Initial backoff as a duration string, e.g. "10s".
	Backoff    string `yaml:"backoff"`     // "linear" (default) or "exponential".
}

// ProviderConfig selects and configures the model backend.
type ProviderConfig struct {
	Kind          string          `yaml:"kind"`
	BaseURL       string          `yaml:"base_url"`
	APIKey        string          `yaml:"api_key"` //nolint:gosec // configuration field, not a hardcoded secret
	Model         string          `yaml:"model"`
	FallbackModel string          `yaml:"fallback_model"`
	Temperature   float64         `yaml:"temperature"`
	MaxTokens     int             `yaml:"max_tokens"`
	RateLimit     RateLimitConfig `yaml:"rate_limit"`
}

// DriverConfig bounds every driver session.
type DriverConfig struct {
	MaxTurns             int    `yaml:"max_turns"`
	MaxToolRetries       int    `yaml:"max_tool_retries"`
	CallTimeout          string `yaml:"call_timeout"`
	ModelTimeout         string `yaml:"model_timeout"`
	MaxTransportFailures int    `yaml:"max_transport_failures"`
}

// MathConfig configures the calculator flow.
type MathConfig struct {
	Problem string `yaml:"problem"`
	// MaxToolRetries overrides driver.max_tool_retries for this flow.
	MaxToolRetries int `yaml:"max_tool_retries"`
}

// SRSConfig configures the flashcard flow.
type SRSConfig struct {
	MarkdownFile string `yaml:"markdown_file"`
	OutputDir    string `yaml:"output_dir"`
	OutputFile   string `yaml:"output_file"`
	DailyNew     int    `yaml:"daily_new"`
	Intervals    string `yaml:"intervals"`
}

// EvalConfig configures prompt evaluation.
type EvalConfig struct {
	OutputDir    string `yaml:"output_dir"`
	QuotaBackoff string `yaml:"quota_backoff"`
}

// ToolServerConfig says how tool servers are started. By default the running
// binary re-executes itself as "serve <kit>".
type ToolServerConfig struct {
	Command   string   `yaml:"command"`
	Args      []string `yaml:"args"`
	InProcess bool     `yaml:"in_process"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		Provider: ProviderConfig{
			Kind:          ProviderGenAI,
			Model:         DefaultModel,
			FallbackModel: DefaultFallbackModel,
			RateLimit:     RateLimitConfig{BaseDelay: "10s"},
		},
		Driver: DriverConfig{
			MaxTurns:             40,
			MaxToolRetries:       1,
			CallTimeout:          "30s",
			ModelTimeout:         "90s",
			MaxTransportFailures: 3,
		},
		Math: MathConfig{Problem: calculator.DefaultProblem, MaxToolRetries: 2},
		SRS: SRSConfig{
			MarkdownFile: "examples/cards.md",
			OutputDir:    "outputs",
			OutputFile:   "flashcards_schedule.csv",
			DailyNew:     srsdeck.DefaultDailyNew,
			Intervals:    srsdeck.DefaultIntervals,
		},
		Eval: EvalConfig{OutputDir: "outputs", QuotaBackoff: "3s"},
	}
}

// LoadConfig reads a YAML file over DefaultConfig. Environment variables
// referenced as ${VAR} or $VAR are expanded before parsing so secrets can
// stay in the environment (or a .env file).
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path) //nolint:gosec // path is caller-provided configuration, not user input
	if err != nil {
		return Config{}, fmt.Errorf("engine: load config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, fmt.Errorf("engine: parse config: %w", err)
	}

	return cfg, nil
}

// LoadDotEnv loads environment variables from path. A missing file is not an
// error. Variables already set in the environment win.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("engine: load env file: %w", err)
}

// ApplyEnv overrides config values from environment variables read through
// getenv. Unset or empty variables leave the config untouched; malformed
// numbers are reported together.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	var errs *multierror.Error

	set := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v := strings.TrimSpace(getenv(k)); v != "" {
				*dst = v
				return
			}
		}
	}
	setInt := func(dst *int, key string) {
		v := strings.TrimSpace(getenv(key))
		if v == "" {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s: %q is not an integer", key, v))
			return
		}
		*dst = n
	}

	set(&c.Provider.APIKey, "GEMINI_API_KEY", "GOOGLE_API_KEY")
	set(&c.Provider.Model, "LLM_MODEL")
	set(&c.Provider.FallbackModel, "LLM_FALLBACK_MODEL")
	set(&c.Provider.Kind, "LLM_PROVIDER")
	setInt(&c.Provider.RateLimit.MaxRetries, "LLM_MAX_RETRIES")
	set(&c.Math.Problem, "MATH_PROBLEM")
	set(&c.SRS.MarkdownFile, "SRS_MD_FILE")
	set(&c.SRS.OutputDir, "SRS_OUTPUT_DIR")

	if err := errs.ErrorOrNil(); err != nil {
		return fmt.Errorf("engine: environment: %w", err)
	}
	return nil
}

// Validate checks the configuration and reports every problem at once.
func (c Config) Validate() error {
	var errs *multierror.Error

	if _, ok := getFactory(c.Provider.Kind); !ok {
		errs = multierror.Append(errs, fmt.Errorf("provider.kind %q is not registered (built in: %s, %s)", c.Provider.Kind, ProviderGenAI, ProviderGeminiREST))
	}
	if c.Provider.Model == "" {
		errs = multierror.Append(errs, errors.New("provider.model is required"))
	}
	if c.Provider.MaxTokens < 0 {
		errs = multierror.Append(errs, errors.New("provider.max_tokens must not be negative"))
	}

	for name, d := range map[string]string{
		"provider.rate_limit.base_delay": c.Provider.RateLimit.BaseDelay,
		"driver.call_timeout":            c.Driver.CallTimeout,
		"driver.model_timeout":           c.Driver.ModelTimeout,
		"eval.quota_backoff":             c.Eval.QuotaBackoff,
	} {
		if _, err := parseDuration(d); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	if _, err := modeladapter.ParseBackoff(c.Provider.RateLimit.Backoff); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("provider.rate_limit.backoff: %w", err))
	}

	if c.Driver.MaxTurns < 0 {
		errs = multierror.Append(errs, errors.New("driver.max_turns must not be negative"))
	}
	if c.SRS.DailyNew < 0 || c.SRS.DailyNew > srsdeck.MaxDailyNew {
		errs = multierror.Append(errs, fmt.Errorf("srs.daily_new must be between 0 (default) and %d", srsdeck.MaxDailyNew))
	}
	if c.SRS.Intervals != "" {
		if _, err := sanitize.IntList(c.SRS.Intervals); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("srs.intervals: %w", err))
		}
	}

	if err := errs.ErrorOrNil(); err != nil {
		return fmt.Errorf("engine: config: %w", err)
	}
	return nil
}

// RequireAPIKey reports a missing key. Only commands that talk to a model
// need one; tool servers for cot and srs do not.
func (c Config) RequireAPIKey() error {
	if c.Provider.APIKey == "" {
		return errors.New("engine: config: no API key; set GEMINI_API_KEY or GOOGLE_API_KEY")
	}
	return nil
}

// SRSOutputPath joins the SRS output directory and file name.
func (c Config) SRSOutputPath() string {
	file := c.SRS.OutputFile
	if file == "" {
		file = "flashcards_schedule.csv"
	}
	if c.SRS.OutputDir == "" {
		return file
	}
	return strings.TrimRight(c.SRS.OutputDir, "/") + "/" + file
}

// parseDuration accepts an empty string as zero.
func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("duration %q must not be negative", s)
	}
	return d, nil
}
