package engine

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
provider:
  kind: gemini-rest
  api_key: sk-test
  model: gemini-2.0-flash
  temperature: 0.2
  rate_limit:
    rpm: 15
    base_delay: 5s

driver:
  max_turns: 12
  call_timeout: 10s

math:
  problem: "2 * (3 + 4)"

srs:
  markdown_file: notes.md
  daily_new: 5
  intervals: "1,2,4"

tool_server:
  in_process: true
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func env(vars map[string]string) func(string) string {
	return func(k string) string { return vars[k] }
}

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, ProviderGeminiREST, cfg.Provider.Kind)
	assert.Equal(t, "sk-test", cfg.Provider.APIKey)
	assert.InDelta(t, 0.2, cfg.Provider.Temperature, 1e-9)
	assert.Equal(t, 15, cfg.Provider.RateLimit.RPM)
	assert.Equal(t, "5s", cfg.Provider.RateLimit.BaseDelay)

	assert.Equal(t, 12, cfg.Driver.MaxTurns)
	assert.Equal(t, "10s", cfg.Driver.CallTimeout)
	assert.Equal(t, "2 * (3 + 4)", cfg.Math.Problem)
	assert.Equal(t, 5, cfg.SRS.DailyNew)
	assert.True(t, cfg.ToolServer.InProcess)

	// Keys absent from the file keep their defaults.
	assert.Equal(t, DefaultFallbackModel, cfg.Provider.FallbackModel)
	assert.Equal(t, "90s", cfg.Driver.ModelTimeout)
	assert.Equal(t, 2, cfg.Math.MaxToolRetries)

	assert.NoError(t, cfg.Validate())
}

func TestLoadConfig_ExampleFile(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "k")

	cfg, err := LoadConfig(filepath.Join("..", "..", "stepwise.example.yaml"))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "k", cfg.Provider.APIKey)
	assert.Equal(t, "linear", cfg.Provider.RateLimit.Backoff)
	assert.Equal(t, DefaultConfig().SRS, cfg.SRS)
}

func TestLoadConfig_EmptyPathIsDefault(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfig_FileNotFound(t *testing.T) {
	_, err := LoadConfig("/no/such/file.yaml")
	assert.Error(t, err)
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, "provider: [unclosed"))
	assert.ErrorContains(t, err, "parse config")
}

func TestLoadConfig_ExpandsEnvVars(t *testing.T) {
	t.Setenv("STEPWISE_TEST_API_KEY", "sk-from-env")

	cfg, err := LoadConfig(writeConfig(t, "provider:\n  api_key: ${STEPWISE_TEST_API_KEY}\n"))
	require.NoError(t, err)

	assert.Equal(t, "sk-from-env", cfg.Provider.APIKey)
}

func TestLoadConfig_UnsetEnvVarExpandsToEmpty(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "provider:\n  api_key: ${STEPWISE_TEST_UNSET_VAR_12345}\n"))
	require.NoError(t, err)

	assert.Empty(t, cfg.Provider.APIKey)
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("STEPWISE_DOTENV_KEY=from-file\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("STEPWISE_DOTENV_KEY") })

	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "from-file", os.Getenv("STEPWISE_DOTENV_KEY"))
}

func TestLoadDotEnv_ExistingVariableWins(t *testing.T) {
	t.Setenv("STEPWISE_DOTENV_KEEP", "from-env")

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("STEPWISE_DOTENV_KEEP=from-file\n"), 0o600))

	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "from-env", os.Getenv("STEPWISE_DOTENV_KEEP"))
}

func TestLoadDotEnv_MissingFileIsIgnored(t *testing.T) {
	assert.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "missing.env")))
	assert.NoError(t, LoadDotEnv(""))
}

func TestApplyEnv(t *testing.T) {
	cfg := DefaultConfig()

	err := cfg.ApplyEnv(env(map[string]string{
		"GOOGLE_API_KEY":     "google-key",
		"LLM_MODEL":          "gemini-2.5-pro",
		"LLM_FALLBACK_MODEL": "gemini-2.0-flash-lite",
		"LLM_PROVIDER":       ProviderGeminiREST,
		"LLM_MAX_RETRIES":    " 7 ",
		"MATH_PROBLEM":       "1 + 1",
		"SRS_MD_FILE":        "deck.md",
		"SRS_OUTPUT_DIR":     "out",
	}))
	require.NoError(t, err)

	assert.Equal(t, "google-key", cfg.Provider.APIKey)
	assert.Equal(t, "gemini-2.5-pro", cfg.Provider.Model)
	assert.Equal(t, "gemini-2.0-flash-lite", cfg.Provider.FallbackModel)
	assert.Equal(t, ProviderGeminiREST, cfg.Provider.Kind)
	assert.Equal(t, 7, cfg.Provider.RateLimit.MaxRetries)
	assert.Equal(t, "1 + 1", cfg.Math.Problem)
	assert.Equal(t, "deck.md", cfg.SRS.MarkdownFile)
	assert.Equal(t, "out/flashcards_schedule.csv", cfg.SRSOutputPath())
}

func TestApplyEnv_GeminiKeyPreferred(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.ApplyEnv(env(map[string]string{
		"GEMINI_API_KEY": "gemini-key",
		"GOOGLE_API_KEY": "google-key",
	})))
	assert.Equal(t, "gemini-key", cfg.Provider.APIKey)
}

func TestApplyEnv_EmptyLeavesConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.ApplyEnv(env(nil)))
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestApplyEnv_BadInteger(t *testing.T) {
	cfg := DefaultConfig()
	err := cfg.ApplyEnv(env(map[string]string{"LLM_MAX_RETRIES": "many"}))
	assert.ErrorContains(t, err, "LLM_MAX_RETRIES")
}

func TestConfig_Validate_Default(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
}

func TestConfig_Validate_ReportsEveryProblem(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Provider.Kind = "openai"
	cfg.Provider.Model = ""
	cfg.Driver.CallTimeout = "soon"
	cfg.Provider.RateLimit.Backoff = "fibonacci"
	cfg.Driver.MaxTurns = -1
	cfg.SRS.DailyNew = 21
	cfg.SRS.Intervals = "1,x"

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		`provider.kind "openai"`,
		"provider.model is required",
		"driver.call_timeout",
		"provider.rate_limit.backoff",
		"driver.max_turns",
		"srs.daily_new",
		"srs.intervals",
	} {
		assert.ErrorContains(t, err, want)
	}
}

func TestConfig_Validate_NegativeDuration(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Eval.QuotaBackoff = "-1s"
	assert.ErrorContains(t, cfg.Validate(), "eval.quota_backoff")
}

func TestConfig_RequireAPIKey(t *testing.T) {
	cfg := DefaultConfig()
	assert.ErrorContains(t, cfg.RequireAPIKey(), "GEMINI_API_KEY")

	cfg.Provider.APIKey = "k"
	assert.NoError(t, cfg.RequireAPIKey())
}

func TestConfig_SRSOutputPath(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "outputs/flashcards_schedule.csv", cfg.SRSOutputPath())

	cfg.SRS.OutputDir = "deck/"
	cfg.SRS.OutputFile = "cards.csv"
	assert.Equal(t, "deck/cards.csv", cfg.SRSOutputPath())

	cfg.SRS.OutputDir = ""
	assert.Equal(t, "cards.csv", cfg.SRSOutputPath())
}
