package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/germanamz/stepwise/pkg/console"
	"github.com/germanamz/stepwise/pkg/driver"
	"github.com/germanamz/stepwise/pkg/flows/calculator"
	"github.com/germanamz/stepwise/pkg/flows/srsdeck"
	"github.com/germanamz/stepwise/pkg/modeladapter"
	"github.com/germanamz/stepwise/pkg/toolkits/cot"
	"github.com/germanamz/stepwise/pkg/toolkits/prompteval"
	"github.com/germanamz/stepwise/pkg/toolkits/srs"
	"github.com/germanamz/stepwise/pkg/tools/mcpclient"
	"github.com/germanamz/stepwise/pkg/tools/mcpserver"
	"github.com/germanamz/stepwise/pkg/tools/toolbox"
)

// Tool kits a server can host.
const (
	KitCoT  = "cot"
	KitSRS  = "srs"
	KitEval = "eval"
)

// Kits lists the tool kits in display order.
var Kits = []string{KitCoT, KitSRS, KitEval}

// Version is reported by tool servers during MCP initialization.
const Version = "0.1.0"

// Engine assembles drivers, flows, models and tool servers from a Config.
type Engine struct {
	cfg     Config
	logger  *slog.Logger
	console *console.Console
	events  *EventBus

	modelOnce sync.Once
	model     modeladapter.Completer
	modelErr  error

	mu     sync.Mutex
	nextID int
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger handed to drivers and tool kits.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithConsole sets the console tool kits render panels on.
func WithConsole(c *console.Console) Option {
	return func(e *Engine) { e.console = c }
}

// WithCompleter replaces the configured provider for driver sessions.
func WithCompleter(c modeladapter.Completer) Option {
	return func(e *Engine) {
		e.modelOnce.Do(func() { e.model = c })
	}
}

// New validates cfg and returns an Engine. No model client or tool server is
// created until a session needs one.
func New(cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{cfg: cfg, events: NewEventBus()}
	for _, o := range opts {
		o(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}

	return e, nil
}

// Config returns the engine's configuration.
func (e *Engine) Config() Config { return e.cfg }

// Events returns the bus every session publishes to.
func (e *Engine) Events() *EventBus { return e.events }

// Completer returns the model used by driver sessions, building it on first
// use.
func (e *Engine) Completer(ctx context.Context) (modeladapter.Completer, error) {
	e.modelOnce.Do(func() {
		if err := e.cfg.RequireAPIKey(); err != nil {
			e.modelErr = err
			return
		}
		e.model, e.modelErr = BuildCompleter(ctx, e.cfg.Provider, e.logger)
	})
	return e.model, e.modelErr
}

// Usage summarizes the token usage of the session model, if it reports any.
func (e *Engine) Usage() string {
	if ur, ok := e.model.(modeladapter.UsageReporter); ok {
		return ur.UsageTracker().Summary()
	}
	return ""
}

// ToolServer builds an MCP server hosting kit.
func (e *Engine) ToolServer(ctx context.Context, kit string) (*mcpserver.MCPServer, error) {
	tb := toolbox.NewToolBox()

	switch kit {
	case KitCoT:
		tb.Register(cot.Kit{Logger: e.logger, Console: e.console}.Tools()...)
	case KitSRS:
		tb.Register(srs.Kit{Logger: e.logger, Console: e.console}.Tools()...)
	case KitEval:
		ev, err := e.evaluator(ctx)
		if err != nil {
			return nil, err
		}
		tb.Register(ev.Tool())
	default:
		return nil, fmt.Errorf("engine: unknown tool kit %q (want one of %s)", kit, strings.Join(Kits, ", "))
	}

	srv := mcpserver.New(kit, Version, mcpserver.WithLogger(e.logger))
	srv.RegisterToolBox(tb)
	return srv, nil
}

// evaluator builds the prompt evaluator. Without an API key it scores with
// the heuristic alone.
func (e *Engine) evaluator(ctx context.Context) (*prompteval.Evaluator, error) {
	var models []prompteval.Model
	if e.cfg.Provider.APIKey != "" {
		var err error
		models, err = EvalModels(ctx, e.cfg.Provider)
		if err != nil {
			return nil, err
		}
	} else {
		e.logger.WarnContext(ctx, "no API key; prompt evaluation uses the heuristic only")
	}

	ev := prompteval.New(models...)
	ev.Logger = e.logger
	ev.Console = e.console
	if d, _ := parseDuration(e.cfg.Eval.QuotaBackoff); d > 0 {
		ev.QuotaBackoff = d
	}
	return ev, nil
}

// connect starts kit's tool server, in process or as a child process
// running "serve <kit>", and returns a connected client.
func (e *Engine) connect(ctx context.Context, kit string) (*mcpclient.MCPClient, error) {
	if e.cfg.ToolServer.InProcess {
		srv, err := e.ToolServer(ctx, kit)
		if err != nil {
			return nil, err
		}
		c, err := mcpclient.NewInProcess(ctx, srv)
		if err != nil {
			return nil, fmt.Errorf("engine: %s tools: %w", kit, err)
		}
		return c, nil
	}

	cmd, err := e.serverCommand(kit)
	if err != nil {
		return nil, err
	}

	e.logger.DebugContext(ctx, "starting tool server", "kit", kit, "path", cmd.Path, "args", cmd.Args)

	c, err := mcpclient.New(ctx, cmd)
	if err != nil {
		return nil, fmt.Errorf("engine: %s tools: %w", kit, err)
	}
	return c, nil
}

func (e *Engine) serverCommand(kit string) (mcpclient.Command, error) {
	path := e.cfg.ToolServer.Command
	if path == "" {
		exe, err := os.Executable()
		if err != nil {
			return mcpclient.Command{}, fmt.Errorf("engine: locate executable: %w", err)
		}
		path = exe
	}

	args := append(append([]string(nil), e.cfg.ToolServer.Args...), "serve", kit)
	cmd := mcpclient.Command{Path: path, Args: args}

	// The evaluator child only needs model settings.
	if kit == KitEval {
		p := e.cfg.Provider
		cmd.Env = []string{
			"GEMINI_API_KEY=" + p.APIKey,
			"LLM_MODEL=" + p.Model,
			"LLM_FALLBACK_MODEL=" + p.FallbackModel,
			"LLM_PROVIDER=" + p.Kind,
		}
	}

	return cmd, nil
}

// driverConfig converts the driver section, applying a per-flow retry
// override when set.
func (e *Engine) driverConfig(retries int) driver.Config {
	dc := e.cfg.Driver
	callTimeout, _ := parseDuration(dc.CallTimeout)
	modelTimeout, _ := parseDuration(dc.ModelTimeout)

	cfg := driver.Config{
		MaxTurns:             dc.MaxTurns,
		MaxToolRetries:       dc.MaxToolRetries,
		CallTimeout:          callTimeout,
		ModelTimeout:         modelTimeout,
		MaxTransportFailures: dc.MaxTransportFailures,
	}
	if retries != 0 {
		cfg.MaxToolRetries = retries
	}
	return cfg
}

func (e *Engine) newSession(ctx context.Context, kit string, flow driver.Flow, retries int) (*Session, error) {
	model, err := e.Completer(ctx)
	if err != nil {
		return nil, err
	}

	tools, err := e.connect(ctx, kit)
	if err != nil {
		return nil, err
	}

	d := driver.New(model, tools, e.driverConfig(retries),
		driver.WithLogger(e.logger),
		driver.WithObserver(e.events.Observer()),
	)

	e.mu.Lock()
	e.nextID++
	id := fmt.Sprintf("%s-%d", flow.Name(), e.nextID)
	e.mu.Unlock()

	return newSession(id, flow, d, tools), nil
}

// NewMathSession creates a calculator session for the configured problem.
func (e *Engine) NewMathSession(ctx context.Context) (*Session, *calculator.Flow, error) {
	flow := calculator.New(e.cfg.Math.Problem)

	s, err := e.newSession(ctx, KitCoT, flow, e.cfg.Math.MaxToolRetries)
	if err != nil {
		return nil, nil, err
	}
	return s, flow, nil
}

// NewSRSSession creates a deck session over the configured markdown file.
// A missing file falls back to the built-in sample deck.
func (e *Engine) NewSRSSession(ctx context.Context) (*Session, *srsdeck.Flow, error) {
	md, fromFile, err := srsdeck.LoadMarkdown(e.cfg.SRS.MarkdownFile)
	if err != nil {
		return nil, nil, err
	}
	if !fromFile {
		e.logger.InfoContext(ctx, "markdown file not found; using the sample deck", "path", e.cfg.SRS.MarkdownFile)
	}

	flow := srsdeck.New(srsdeck.Options{
		Markdown:   md,
		OutputPath: e.cfg.SRSOutputPath(),
		DailyNew:   e.cfg.SRS.DailyNew,
		Intervals:  e.cfg.SRS.Intervals,
	})

	s, err := e.newSession(ctx, KitSRS, flow, 0)
	if err != nil {
		return nil, nil, err
	}
	return s, flow, nil
}

// EvalReport is the result of one prompt evaluation.
type EvalReport struct {
	// Raw is the tool's reply as returned.
	Raw string
	// Path is the file the report was written to.
	Path string
	// JSON reports whether Raw parsed as JSON.
	JSON bool
}

// EvaluatePromptFile sends the prompt in path to the evaluate_prompt tool and
// writes the reply to the eval output directory as <stem>.json, pretty
// printed, or <stem>.txt when the reply is not JSON.
func (e *Engine) EvaluatePromptFile(ctx context.Context, path string) (EvalReport, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is a user-selected prompt file
	if err != nil {
		return EvalReport{}, fmt.Errorf("engine: read prompt: %w", err)
	}
	if strings.TrimSpace(string(data)) == "" {
		return EvalReport{}, errors.New("engine: prompt file is empty")
	}

	tools, err := e.connect(ctx, KitEval)
	if err != nil {
		return EvalReport{}, err
	}
	defer func() { _ = tools.Close() }()

	cctx := ctx
	if d, _ := parseDuration(e.cfg.Driver.ModelTimeout); d > 0 {
		// The tool itself waits on up to two models.
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(ctx, 2*d+time.Minute)
		defer cancel()
	}

	raw, err := tools.CallTool(cctx, prompteval.ToolName, map[string]any{"student_prompt": string(data)})
	if err != nil {
		return EvalReport{}, fmt.Errorf("engine: %s: %w", prompteval.ToolName, err)
	}

	return e.writeReport(path, raw)
}

func (e *Engine) writeReport(promptPath, raw string) (EvalReport, error) {
	dir := e.cfg.Eval.OutputDir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return EvalReport{}, fmt.Errorf("engine: eval output: %w", err)
	}

	stem := strings.TrimSuffix(filepath.Base(promptPath), filepath.Ext(promptPath))
	rep := EvalReport{Raw: raw}

	body := []byte(raw)
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, []byte(strings.TrimSpace(raw)), "", "  "); err == nil {
		body = pretty.Bytes()
		rep.JSON = true
		rep.Path = filepath.Join(dir, stem+".json")
	} else {
		rep.Path = filepath.Join(dir, stem+".txt")
	}

	if err := os.WriteFile(rep.Path, body, 0o600); err != nil {
		return EvalReport{}, fmt.Errorf("engine: eval output: %w", err)
	}
	return rep, nil
}
