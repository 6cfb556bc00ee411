// Package driver runs the single-line tool-calling conversation between a
// model and a tool server. The loop is generic; everything domain specific
// (prompt, contract, argument mapping, result judgement) comes from a Flow.
package driver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/germanamz/stepwise/pkg/callproto/callline"
	"github.com/germanamz/stepwise/pkg/callproto/contract"
	"github.com/germanamz/stepwise/pkg/callproto/ledger"
	"github.com/germanamz/stepwise/pkg/chats/chat"
	"github.com/germanamz/stepwise/pkg/chats/message"
	"github.com/germanamz/stepwise/pkg/chats/role"
	"github.com/germanamz/stepwise/pkg/modeladapter"
	"github.com/germanamz/stepwise/pkg/tools/mcpclient"
	"github.com/google/uuid"
)

// Defaults applied to zero Config fields.
const (
	DefaultMaxTurns             = 40
	DefaultCallTimeout          = 30 * time.Second
	DefaultModelTimeout         = 90 * time.Second
	DefaultMaxTransportFailures = 3
)

// Message kinds recorded in the transcript.
const (
	KindSeed       = "seed"
	KindReply      = "reply"
	KindCorrection = "correction"
	KindToolResult = "tool_result"
	KindLocal      = "local"
)

// Transport dispatches a named tool call. *mcpclient.MCPClient satisfies it;
// a tool-side failure is reported as *mcpclient.ToolError.
type Transport interface {
	CallTool(ctx context.Context, name string, args map[string]any) (string, error)
}

// Config bounds a session.
type Config struct {
	// MaxTurns caps model calls per session.
	MaxTurns int
	// MaxToolRetries is the retry ceiling per tool. Zero selects
	// ledger.DefaultMaxRetries; a negative value allows no retries.
	MaxToolRetries int
	CallTimeout    time.Duration
	ModelTimeout   time.Duration
	// MaxTransportFailures caps consecutive transport errors.
	MaxTransportFailures int
}

func (c Config) withDefaults() Config {
	if c.MaxTurns <= 0 {
		c.MaxTurns = DefaultMaxTurns
	}
	if c.MaxToolRetries == 0 {
		c.MaxToolRetries = ledger.DefaultMaxRetries
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = DefaultCallTimeout
	}
	if c.ModelTimeout <= 0 {
		c.ModelTimeout = DefaultModelTimeout
	}
	if c.MaxTransportFailures <= 0 {
		c.MaxTransportFailures = DefaultMaxTransportFailures
	}
	return c
}

// Option configures a Driver.
type Option func(*Driver)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Driver) { d.logger = l }
}

// WithObserver registers a callback for loop events.
func WithObserver(o Observer) Option {
	return func(d *Driver) { d.observer = o }
}

// Driver owns the model and tool collaborators. One Driver may run many
// sessions sequentially; each Run owns its transcript and ledger.
type Driver struct {
	model    modeladapter.Completer
	tools    Transport
	cfg      Config
	logger   *slog.Logger
	observer Observer
}

// New creates a Driver.
func New(model modeladapter.Completer, tools Transport, cfg Config, opts ...Option) *Driver {
	d := &Driver{
		model:  model,
		tools:  tools,
		cfg:    cfg.withDefaults(),
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Config returns the effective configuration.
func (d *Driver) Config() Config { return d.cfg }

// session is the per-Run state.
type session struct {
	*Driver
	id         string
	flow       Flow
	transcript *chat.Chat
	ledger     *ledger.Ledger
	turn       int
	transport  int // consecutive transport failures
}

// Run drives flow to completion. It never panics and always returns an
// Outcome; Outcome.Err is nil only when Status is Answered.
func (d *Driver) Run(ctx context.Context, flow Flow) Outcome {
	out, _ := d.RunWithTranscript(ctx, flow)
	return out
}

// RunWithTranscript behaves like Run and also returns the session transcript.
func (d *Driver) RunWithTranscript(ctx context.Context, flow Flow) (out Outcome, transcript *chat.Chat) {
	s := &session{
		Driver: d,
		id:     uuid.NewString(),
		flow:   flow,
		ledger: ledger.New(max(d.cfg.MaxToolRetries, 0)),
	}

	start := time.Now()
	d.logger.InfoContext(ctx, "session started", "session", s.id, "flow", flow.Name())

	defer func() {
		if r := recover(); r != nil {
			out = s.end(Failed, "", fmt.Errorf("driver: panic: %v", r))
		}
		if transcript == nil {
			transcript = chat.New()
		}
		out.SessionID = s.id
		out.Turns = s.turn
		d.emit(Event{Kind: EventFinished, SessionID: s.id, Flow: flow.Name(), Turn: s.turn, Text: out.Answer, Err: out.Err})
		d.logger.InfoContext(ctx, "session finished",
			"session", s.id,
			"flow", flow.Name(),
			"status", out.Status.String(),
			"turns", s.turn,
			"duration", time.Since(start),
			"error", out.Err,
		)
	}()

	s.transcript = chat.New(message.New(role.System, flow.Seed()).WithKind(KindSeed))
	transcript = s.transcript

	return s.loop(ctx), transcript
}

func (s *session) loop(ctx context.Context) Outcome {
	for s.turn < s.cfg.MaxTurns {
		if err := ctx.Err(); err != nil {
			return s.end(Failed, "", fmt.Errorf("driver: %w", err))
		}

		s.turn++
		s.emit(s.event(EventTurnStarted, "", ""))

		reply, err := s.complete(ctx)
		if err != nil {
			return s.modelFailure(ctx, err)
		}

		line := callline.FirstLine(reply)
		if line == "" {
			return s.end(NoAnswer, "", fmt.Errorf("%w: empty reply", ErrModelUnavailable))
		}

		s.transcript.Append(message.New(role.Assistant, line).WithKind(KindReply))
		s.emit(s.event(EventModelReplied, "", line))

		switch parsed := callline.Parse(line).(type) {
		case callline.Malformed:
			s.correct("", formatCorrection(parsed))

		case callline.FinalAnswer:
			v := s.flow.Finish(ctx, parsed.Payload, s.dispatch)
			if v.Correction != "" {
				s.correct("", v.Correction)
				continue
			}
			out := s.end(Answered, v.Answer, nil)
			out.Verified = v.Verified
			return out

		case callline.ToolCall:
			if out, done := s.handleCall(ctx, parsed); done {
				return out
			}
		}
	}

	return s.end(NoAnswer, "", fmt.Errorf("%w: no final answer after %d turns", ErrBudgetExceeded, s.cfg.MaxTurns))
}

func (s *session) complete(ctx context.Context) (string, error) {
	mctx, cancel := context.WithTimeout(ctx, s.cfg.ModelTimeout)
	defer cancel()

	s.logger.DebugContext(ctx, "model call", "session", s.id, "turn", s.turn, "prompt_len", len(s.transcript.Render()))
	return s.model.Complete(mctx, s.transcript.Render())
}

// modelFailure classifies a model error. Timeouts, exhausted rate-limit
// retries and empty completions end the session without an answer; any
// other error is a failure.
func (s *session) modelFailure(ctx context.Context, err error) Outcome {
	switch {
	case ctx.Err() != nil:
		return s.end(Failed, "", fmt.Errorf("driver: %w", ctx.Err()))
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, modeladapter.ErrEmptyCompletion),
		modeladapter.IsRateLimit(err):
		return s.end(NoAnswer, "", errors.Join(ErrModelUnavailable, err))
	}
	return s.end(Failed, "", fmt.Errorf("driver: model: %w", err))
}

// handleCall validates and dispatches one tool call. done reports whether
// the session is over.
func (s *session) handleCall(ctx context.Context, call callline.ToolCall) (Outcome, bool) {
	args, err := s.flow.Contract().Validate(call)
	if err != nil {
		var rej *contract.Rejection
		if errors.As(err, &rej) {
			s.correct(call.Name, rejectionCorrection(rej))
			return Outcome{}, false
		}
		return s.end(Failed, "", fmt.Errorf("driver: validate %s: %w", call.Name, err)), true
	}

	if reply, handled := s.flow.Intercept(call.Name, args); handled {
		s.transcript.Append(message.New(role.User, reply).WithKind(KindLocal))
		s.emit(s.event(EventToolReturned, call.Name, reply))
		return Outcome{}, false
	}

	named, err := s.flow.Arguments(call.Name, args)
	if err != nil {
		s.correct(call.Name, fmt.Sprintf("ERROR: %s: %v. Fix the call and try again.", call.Name, err))
		return Outcome{}, false
	}

	result, err := s.dispatch(ctx, call.Name, named)

	var obs Observation
	switch {
	case err == nil:
		s.transport = 0
		obs = s.flow.Observe(call.Name, args, result)

	case mcpclient.IsToolError(err):
		s.transport = 0
		var te *mcpclient.ToolError
		errors.As(err, &te)
		result = te.Text
		obs = Observation{Failed: true}

	case ctx.Err() != nil:
		return s.end(Failed, "", fmt.Errorf("driver: %w", ctx.Err())), true

	default:
		s.transport++
		if s.transport > s.cfg.MaxTransportFailures {
			return s.end(NoAnswer, "", errors.Join(ErrBudgetExceeded, fmt.Errorf("%w: %s: %w", ErrTransport, call.Name, err))), true
		}
		s.correct(call.Name, fmt.Sprintf("ERROR: tool %s could not be reached (%v). Try the same call again.", call.Name, err))
		return Outcome{}, false
	}

	s.emit(s.event(EventToolReturned, call.Name, result))

	if obs.Failed {
		n := s.ledger.Record(call.Name)
		s.logger.WarnContext(ctx, "tool failed", "session", s.id, "tool", call.Name, "failures", n, "result", result)
		if s.ledger.Exhausted(call.Name) {
			return s.end(GaveUp, s.flow.Sentinel(), fmt.Errorf("%w: %s failed %d times", ErrToolRuntime, call.Name, n)), true
		}
		s.correct(call.Name, s.flow.Retry(call.Name, result))
		return Outcome{}, false
	}

	feedback := obs.Feedback
	if feedback == "" {
		feedback = result
	}
	s.transcript.Append(message.New(role.User, feedback).WithKind(KindToolResult))
	return Outcome{}, false
}

// dispatch calls a tool with the configured deadline. It is also handed to
// flows as their Caller.
func (s *session) dispatch(ctx context.Context, tool string, args map[string]any) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()

	s.emit(s.event(EventToolCalled, tool, ""))
	s.logger.DebugContext(ctx, "tool call", "session", s.id, "tool", tool, "args", args)

	return s.tools.CallTool(cctx, tool, args)
}

func (s *session) correct(tool, text string) {
	s.transcript.Append(message.New(role.User, text).WithKind(KindCorrection))
	s.emit(s.event(EventCorrected, tool, text))
	s.logger.Debug("correction", "session", s.id, "turn", s.turn, "text", text)
}

func (s *session) end(status Status, answer string, err error) Outcome {
	return Outcome{SessionID: s.id, Status: status, Answer: answer, Turns: s.turn, Err: err}
}

func (s *session) event(kind EventKind, tool, text string) Event {
	return Event{Kind: kind, SessionID: s.id, Flow: s.flow.Name(), Turn: s.turn, Tool: tool, Text: text}
}

func (d *Driver) emit(e Event) {
	if d.observer == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	d.observer(e)
}

func formatCorrection(m callline.Malformed) string {
	return fmt.Sprintf("ERROR: %s. Respond with exactly one line: %s name|arg1|arg2 or %s [answer].",
		m.Reason, callline.CallMarker, callline.AnswerMarker)
}

func rejectionCorrection(r *contract.Rejection) string {
	if errors.Is(r, contract.ErrArity) {
		return fmt.Sprintf("ERROR: %s. Do not add extra labels like 'md|'. Use the exact arity and copy JSON verbatim from the previous tool. %s", r.Reason, r.Hint)
	}
	return fmt.Sprintf("ERROR: %s. %s", r.Reason, r.Hint)
}
