// Package calculator is the step-by-step arithmetic flow: the model explains
// its plan with show_reasoning, evaluates each step with calculate, checks it
// with verify and finishes with a numeric FINAL_ANSWER.
package calculator

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/germanamz/stepwise/pkg/callproto/contract"
	"github.com/germanamz/stepwise/pkg/callproto/sanitize"
	"github.com/germanamz/stepwise/pkg/driver"
	"github.com/germanamz/stepwise/pkg/toolkits/cot"
)

// DefaultProblem is solved when no problem is configured.
const DefaultProblem = "(23 + 7) * (15 - 8)"

// SystemPrompt lists the tools and the one-line reply rules.
const SystemPrompt = `You are a mathematical reasoning agent that solves problems step by step.
TOOLS:
- show_reasoning(steps: list)  # steps must be a JSON array of strings
- calculate(expression: str)   # arithmetic only: digits, + - * / % ( ) . and spaces
- verify(expression: str, expected: float)
- Never call verify on the same expression more than once. If an expression has been verified, proceed to the next step.
RULES:
1) Never output prose, markdown, or code blocks.
2) Respond with EXACTLY ONE line per turn in one of these formats:
   FUNCTION_CALL: function_name|param1|param2|...
   FINAL_ANSWER: [answer]
3) If your last output violated the format, immediately output a corrected single line now.
4) First show_reasoning (JSON array), then calculate, then verify each step, then final answer.`

// Step is one successful calculate call.
type Step struct {
	Expression string
	Value      float64
}

// Flow solves one problem. It remembers which expressions were verified so
// a repeated verify is answered without a tool call.
type Flow struct {
	problem  string
	steps    []Step
	verified map[string]bool
}

// New creates a Flow for problem; an empty problem selects DefaultProblem.
func New(problem string) *Flow {
	problem = strings.TrimSpace(problem)
	if problem == "" {
		problem = DefaultProblem
	}
	return &Flow{problem: problem, verified: make(map[string]bool)}
}

var _ driver.Flow = (*Flow)(nil)

var calcContract = contract.New(map[string]contract.Spec{
	cot.ShowReasoning: {
		Args:    []contract.Constraint{contract.StringArray{}},
		Example: `FUNCTION_CALL: show_reasoning|["step1","step2"]`,
	},
	cot.Calculate: {
		Args:    []contract.Constraint{contract.Expression{}},
		Example: "FUNCTION_CALL: calculate|<digits and + - * / % ( ) . only>",
	},
	cot.Verify: {
		Args:    []contract.Constraint{contract.Expression{}, contract.Number{}},
		Example: "FUNCTION_CALL: verify|(2 + 3) * 4|20",
	},
})

// Name implements driver.Flow.
func (f *Flow) Name() string { return "calculator" }

// Problem returns the problem being solved.
func (f *Flow) Problem() string { return f.problem }

// Steps returns the successful calculations so far.
func (f *Flow) Steps() []Step { return append([]Step(nil), f.steps...) }

// Contract implements driver.Flow.
func (f *Flow) Contract() contract.Contract { return calcContract }

// Seed implements driver.Flow.
func (f *Flow) Seed() string {
	return SystemPrompt + "\n\nSolve this problem step by step: " + f.problem
}

// Sentinel implements driver.Flow. A calculator that gave up has no number
// to offer.
func (f *Flow) Sentinel() string { return "" }

// Intercept answers a verify of an expression that already passed.
func (f *Flow) Intercept(tool string, args []string) (string, bool) {
	if tool == cot.Verify && f.verified[normalize(args[0])] {
		return "Already verified. Proceed to the next step.", true
	}
	return "", false
}

// Arguments implements driver.Flow.
func (f *Flow) Arguments(tool string, args []string) (map[string]any, error) {
	switch tool {
	case cot.ShowReasoning:
		steps, err := sanitize.StringArray(args[0])
		if err != nil {
			return nil, err
		}
		return map[string]any{"steps": steps}, nil

	case cot.Calculate:
		return map[string]any{"expression": args[0]}, nil

	case cot.Verify:
		expected, err := sanitize.Number(args[1])
		if err != nil {
			return nil, err
		}
		return map[string]any{"expression": args[0], "expected": expected}, nil
	}

	return nil, fmt.Errorf("no argument mapping for %s", tool)
}

// Observe implements driver.Flow.
func (f *Flow) Observe(tool string, args []string, result string) driver.Observation {
	result = strings.TrimSpace(result)

	switch tool {
	case cot.ShowReasoning:
		return driver.Observation{Feedback: "Next step?"}

	case cot.Calculate:
		if strings.HasPrefix(result, strings.TrimSpace(cot.ErrorPrefix)) {
			return driver.Observation{Failed: true}
		}
		v, err := strconv.ParseFloat(result, 64)
		if err != nil {
			return driver.Observation{Failed: true}
		}
		f.steps = append(f.steps, Step{Expression: args[0], Value: v})
		return driver.Observation{Feedback: fmt.Sprintf("Result is %s. Let's verify this step.", result)}

	case cot.Verify:
		switch result {
		case "True":
			f.verified[normalize(args[0])] = true
			return driver.Observation{Feedback: "Verified. Next step?"}
		case "False":
			return driver.Observation{Feedback: fmt.Sprintf("Verification failed: %s does not equal %s. Recalculate this step.", args[0], args[1])}
		}
		return driver.Observation{Failed: true}
	}

	return driver.Observation{}
}

// Retry implements driver.Flow.
func (f *Flow) Retry(tool, result string) string {
	switch tool {
	case cot.Calculate:
		if strings.HasPrefix(result, strings.TrimSpace(cot.ErrorPrefix)) {
			return fmt.Sprintf("Tool error (%s). Retry with clean arithmetic.", result)
		}
		return fmt.Sprintf("Non-numeric output (%s). Retry calculate.", result)
	case cot.Verify:
		return fmt.Sprintf("verify failed (%s). verify expected must be numeric and expr arithmetic-only. Retry verify.", result)
	}
	return fmt.Sprintf("%s failed (%s). Fix the arguments and retry.", tool, result)
}

// Finish accepts a numeric answer. When any step was calculated the whole
// problem is verified against the answer once.
func (f *Flow) Finish(ctx context.Context, payload string, call driver.Caller) driver.Verdict {
	final, err := sanitize.Number(payload)
	if err != nil {
		return driver.Verdict{Correction: "FINAL_ANSWER must be like: FINAL_ANSWER: [123.45]"}
	}

	v := driver.Verdict{Answer: strings.TrimSpace(payload)}
	if len(f.steps) == 0 {
		return v
	}

	out, err := call(ctx, cot.Verify, map[string]any{"expression": f.problem, "expected": final})
	if err != nil {
		v.Verified = err.Error()
		return v
	}
	v.Verified = strings.TrimSpace(out)
	return v
}

func normalize(expr string) string {
	return strings.Join(strings.Fields(expr), "")
}
