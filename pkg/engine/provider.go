package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/germanamz/stepwise/pkg/modeladapter"
	"github.com/germanamz/stepwise/pkg/providers/gemini"
	"github.com/germanamz/stepwise/pkg/providers/genai"
	"github.com/germanamz/stepwise/pkg/toolkits/prompteval"
)

// ProviderFactory creates a Completer from a ProviderConfig.
type ProviderFactory func(ctx context.Context, cfg ProviderConfig) (modeladapter.Completer, error)

var (
	factoryMu   sync.RWMutex
	factories   = map[string]ProviderFactory{}
	defaultsReg sync.Once
)

func ensureDefaults() {
	defaultsReg.Do(func() {
		factories[ProviderGenAI] = newGenAI
		factories[ProviderGeminiREST] = newGeminiREST
	})
}

// RegisterProvider registers a provider factory under kind, replacing any
// existing one. Tests use it to plug in scripted models.
func RegisterProvider(kind string, factory ProviderFactory) {
	ensureDefaults()

	factoryMu.Lock()
	defer factoryMu.Unlock()

	factories[kind] = factory
}

func getFactory(kind string) (ProviderFactory, bool) {
	ensureDefaults()

	factoryMu.RLock()
	defer factoryMu.RUnlock()

	f, ok := factories[kind]
	return f, ok
}

func newGenAI(ctx context.Context, cfg ProviderConfig) (modeladapter.Completer, error) {
	return genai.New(ctx, genai.Options{
		APIKey:      cfg.APIKey,
		Model:       cfg.Model,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
		BaseURL:     cfg.BaseURL,
	})
}

func newGeminiREST(_ context.Context, cfg ProviderConfig) (modeladapter.Completer, error) {
	a := gemini.New(cfg.BaseURL, cfg.APIKey, cfg.Model)
	a.Temperature = cfg.Temperature
	if cfg.MaxTokens > 0 {
		a.MaxTokens = cfg.MaxTokens
	}
	return a, nil
}

// BuildCompleter creates a Completer from cfg using the factory registered
// for its Kind, wrapped in a RateLimitedCompleter so 429s are retried with
// backoff. Retries are logged to logger, or slog.Default when nil.
func BuildCompleter(ctx context.Context, cfg ProviderConfig, logger *slog.Logger) (modeladapter.Completer, error) {
	c, err := newCompleter(ctx, cfg)
	if err != nil {
		return nil, err
	}

	rl := cfg.RateLimit
	baseDelay, err := parseDuration(rl.BaseDelay)
	if err != nil {
		return nil, fmt.Errorf("engine: provider %s: base_delay: %w", cfg.Kind, err)
	}
	backoff, err := modeladapter.ParseBackoff(rl.Backoff)
	if err != nil {
		return nil, fmt.Errorf("engine: provider %s: %w", cfg.Kind, err)
	}

	return modeladapter.NewRateLimitedCompleter(c, modeladapter.RateLimitOpts{
		InputTPM:   rl.InputTPM,
		OutputTPM:  rl.OutputTPM,
		RPM:        rl.RPM,
		MaxRetries: rl.MaxRetries,
		BaseDelay:  baseDelay,
		Backoff:    backoff,
		Logger:     logger,
	}), nil
}

func newCompleter(ctx context.Context, cfg ProviderConfig) (modeladapter.Completer, error) {
	factory, ok := getFactory(cfg.Kind)
	if !ok {
		return nil, fmt.Errorf("engine: unknown provider kind %q", cfg.Kind)
	}

	c, err := factory(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("engine: provider %s: %w", cfg.Kind, err)
	}
	return c, nil
}

// EvalModels returns the evaluator's model chain: the configured model, then
// the fallback model when it differs. The completers are not rate limited;
// the evaluator moves on to the next model when one reports a quota error.
func EvalModels(ctx context.Context, cfg ProviderConfig) ([]prompteval.Model, error) {
	names := []string{cfg.Model}
	if cfg.FallbackModel != "" && cfg.FallbackModel != cfg.Model {
		names = append(names, cfg.FallbackModel)
	}

	models := make([]prompteval.Model, 0, len(names))
	for _, name := range names {
		pc := cfg
		pc.Model = name
		c, err := newCompleter(ctx, pc)
		if err != nil {
			return nil, err
		}
		models = append(models, prompteval.Model{Name: name, Completer: c})
	}
	return models, nil
}
