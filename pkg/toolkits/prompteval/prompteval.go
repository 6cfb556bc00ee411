// Package prompteval scores a student's driver prompt on a fixed rubric. It
// asks an LLM first, trying each configured model in turn, and falls back to
// a deterministic keyword heuristic when no model produces usable JSON.
package prompteval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/germanamz/stepwise/pkg/console"
	"github.com/germanamz/stepwise/pkg/modeladapter"
	"github.com/germanamz/stepwise/pkg/tools/toolbox"
)

// ToolName is the name of the evaluation tool.
const ToolName = "evaluate_prompt"

// DefaultClarity is used when the evaluation carries no overall_clarity text.
const DefaultClarity = "Clear structure; missing explicit self-checks and error fallbacks."

const heuristicClarity = "Excellent structure and pipeline control, but it lacks explicit self-checks " +
	"(validate intermediate results) and error fallback behavior (what to do if a tool fails or repeats)."

const systemPrompt = "You are a prompt-evaluation assistant. " +
	"Given a student's prompt, return ONLY a compact JSON object with boolean flags and a short overall_clarity string. " +
	"Keys: explicit_reasoning, structured_output, tool_separation, conversation_loop, instructional_framing, " +
	"internal_self_checks, reasoning_type_awareness, fallbacks, overall_clarity. " +
	"Respond with JSON only, no extra text."

var jsonBlockRe = regexp.MustCompile(`(?s)\{.*\}`)

// Result is the rubric. Field order is the wire order.
type Result struct {
	ExplicitReasoning      bool   `json:"explicit_reasoning"`
	StructuredOutput       bool   `json:"structured_output"`
	ToolSeparation         bool   `json:"tool_separation"`
	ConversationLoop       bool   `json:"conversation_loop"`
	InstructionalFraming   bool   `json:"instructional_framing"`
	InternalSelfChecks     bool   `json:"internal_self_checks"`
	ReasoningTypeAwareness bool   `json:"reasoning_type_awareness"`
	Fallbacks              bool   `json:"fallbacks"`
	OverallClarity         string `json:"overall_clarity"`
}

// Model is one LLM the evaluator may ask.
type Model struct {
	Name      string
	Completer modeladapter.Completer
}

// EvaluateArgs are the arguments of evaluate_prompt.
type EvaluateArgs struct {
	StudentPrompt string `json:"student_prompt" jsonschema:"description=The prompt text to evaluate"`
}

// Evaluator scores prompts.
type Evaluator struct {
	Models  []Model
	Logger  *slog.Logger
	Console *console.Console
	// QuotaBackoff is the pause after a rate-limited model before trying the next.
	QuotaBackoff time.Duration

	sleep func(ctx context.Context, d time.Duration) error
}

// New creates an Evaluator over models, tried in order.
func New(models ...Model) *Evaluator {
	return &Evaluator{Models: models, QuotaBackoff: 3 * time.Second}
}

func (e *Evaluator) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

// Tool exposes the evaluator as evaluate_prompt.
func (e *Evaluator) Tool() toolbox.Tool {
	return toolbox.New(ToolName,
		"Evaluate a student's prompt and return JSON with the rubric flags and overall_clarity",
		func(ctx context.Context, args EvaluateArgs) (string, error) {
			res, source := e.Evaluate(ctx, args.StudentPrompt)
			e.logger().InfoContext(ctx, "prompt evaluated", "source", source)

			out, err := json.Marshal(res)
			if err != nil {
				return "", fmt.Errorf("prompteval: encode: %w", err)
			}
			return string(out), nil
		})
}

// Evaluate scores prompt and reports which source produced the score: a
// model name or "heuristic".
func (e *Evaluator) Evaluate(ctx context.Context, prompt string) (Result, string) {
	e.Console.Panel("", "evaluate_prompt called", console.Info)

	if res, model, ok := e.askModels(ctx, prompt); ok {
		return res.clean(), model
	}

	e.Console.Panel("", "Using heuristic fallback", console.Warning)
	return Heuristic(prompt).clean(), "heuristic"
}

func (e *Evaluator) askModels(ctx context.Context, prompt string) (Result, string, bool) {
	if len(e.Models) == 0 {
		e.Console.Panel("", "No model configured.", console.Warning)
		return Result{}, "", false
	}

	full := systemPrompt + "\n\nSTUDENT_PROMPT:\n" + prompt

	var lastErr error
	for _, m := range e.Models {
		text, err := m.Completer.Complete(ctx, full)
		if err == nil && strings.TrimSpace(text) == "" {
			continue
		}
		if err == nil {
			res, perr := parseResult(text)
			if perr == nil {
				return res, m.Name, true
			}
			err = perr
		}

		lastErr = err
		msg := err.Error()
		switch {
		case ctx.Err() != nil:
			return Result{}, "", false
		case strings.Contains(msg, "NOT_FOUND") || strings.Contains(msg, "not supported for generateContent"):
			e.logger().WarnContext(ctx, "model not supported, trying next", "model", m.Name)
			continue
		case modeladapter.IsRateLimit(err):
			e.logger().WarnContext(ctx, "model rate limited, backing off", "model", m.Name, "backoff", e.QuotaBackoff)
			if serr := e.doSleep(ctx, e.QuotaBackoff); serr != nil {
				return Result{}, "", false
			}
			continue
		}

		e.Console.Panel("", fmt.Sprintf("Model error on %s: %v", m.Name, err), console.Failure)
		break
	}

	if lastErr != nil {
		e.logger().WarnContext(ctx, "all models failed", "error", lastErr)
	}
	return Result{}, "", false
}

func (e *Evaluator) doSleep(ctx context.Context, d time.Duration) error {
	if e.sleep != nil {
		return e.sleep(ctx, d)
	}

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// parseResult extracts the first {...} block of text and reads the rubric
// from it. Unknown keys are ignored; flags accept JSON booleans, numbers,
// and the strings "true"/"false".
func parseResult(text string) (Result, error) {
	raw := jsonBlockRe.FindString(text)
	if raw == "" {
		raw = strings.TrimSpace(text)
	}

	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return Result{}, fmt.Errorf("prompteval: model reply is not JSON: %w", err)
	}
	if m == nil {
		return Result{}, errors.New("prompteval: model reply is not a JSON object")
	}

	var clarity string
	if v, ok := m["overall_clarity"]; ok && v != nil {
		clarity = fmt.Sprint(v)
	}

	return Result{
		ExplicitReasoning:      truthy(m["explicit_reasoning"]),
		StructuredOutput:       truthy(m["structured_output"]),
		ToolSeparation:         truthy(m["tool_separation"]),
		ConversationLoop:       truthy(m["conversation_loop"]),
		InstructionalFraming:   truthy(m["instructional_framing"]),
		InternalSelfChecks:     truthy(m["internal_self_checks"]),
		ReasoningTypeAwareness: truthy(m["reasoning_type_awareness"]),
		Fallbacks:              truthy(m["fallbacks"]),
		OverallClarity:         clarity,
	}, nil
}

func truthy(v any) bool {
	switch x := v.(type) {
	case bool:
		return x
	case float64:
		return x != 0
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(x))
		return err == nil && b
	default:
		return false
	}
}

func (r Result) clean() Result {
	r.OverallClarity = strings.TrimSpace(r.OverallClarity)
	if r.OverallClarity == "" {
		r.OverallClarity = DefaultClarity
	}
	return r
}

// Heuristic scores prompt by keyword presence. The last three flags are
// never inferred from keywords.
func Heuristic(prompt string) Result {
	sp := strings.ToLower(prompt)

	return Result{
		ExplicitReasoning:    containsAny(sp, "step by step", "follow this order", "pipeline", "sequence"),
		StructuredOutput:     containsAny(sp, "function_call:", "final_answer:", "one line", "strict"),
		ToolSeparation:       containsAll(sp, "parse_markdown", "quality_check", "schedule_cards", "export_csv"),
		ConversationLoop:     containsAny(sp, "turn", "per turn", "one line per turn", "multi-turn"),
		InstructionalFraming: containsAny(sp, "rules:", "output format", "pipeline", "example"),
		OverallClarity:       heuristicClarity,
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func containsAll(s string, subs ...string) bool {
	for _, sub := range subs {
		if !strings.Contains(s, sub) {
			return false
		}
	}
	return true
}
