// Package cot implements the chain-of-thought calculator tools:
// show_reasoning, calculate and verify.
package cot

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/germanamz/stepwise/pkg/arith"
	"github.com/germanamz/stepwise/pkg/callproto/sanitize"
	"github.com/germanamz/stepwise/pkg/console"
	"github.com/germanamz/stepwise/pkg/tools/toolbox"
)

// Tool names.
const (
	ShowReasoning = "show_reasoning"
	Calculate     = "calculate"
	Verify        = "verify"
)

// ErrorPrefix starts every failure result of calculate and verify.
const ErrorPrefix = "Error: "

// ReasoningShown is the result of show_reasoning.
const ReasoningShown = "Reasoning shown"

// ShowReasoningArgs are the arguments of show_reasoning.
type ShowReasoningArgs struct {
	Steps []string `json:"steps" jsonschema:"description=Ordered reasoning steps"`
}

// CalculateArgs are the arguments of calculate.
type CalculateArgs struct {
	Expression string `json:"expression" jsonschema:"description=Arithmetic expression using digits . + - * / % and parentheses"`
}

// VerifyArgs are the arguments of verify.
type VerifyArgs struct {
	Expression string  `json:"expression" jsonschema:"description=Arithmetic expression to re-evaluate"`
	Expected   float64 `json:"expected" jsonschema:"description=Value the expression should equal"`
}

// Kit bundles the calculator tools with their side channels.
type Kit struct {
	Logger  *slog.Logger
	Console *console.Console
}

func (k Kit) logger() *slog.Logger {
	if k.Logger != nil {
		return k.Logger
	}
	return slog.Default()
}

// Tools returns the calculator tools.
func (k Kit) Tools() []toolbox.Tool {
	return []toolbox.Tool{
		toolbox.New(ShowReasoning, "Show the step-by-step reasoning process", k.showReasoning),
		toolbox.New(Calculate, "Calculate the result of an arithmetic expression", k.calculate),
		toolbox.New(Verify, "Verify that an expression evaluates to the expected value", k.verify),
	}
}

func (k Kit) showReasoning(ctx context.Context, args ShowReasoningArgs) (string, error) {
	k.logger().InfoContext(ctx, "showing reasoning", "steps", len(args.Steps))
	k.Console.Panel("", "Showing reasoning steps", console.Info)
	for i, step := range args.Steps {
		k.Console.Panel(fmt.Sprintf("Step %d", i+1), step, console.Info)
	}
	return ReasoningShown, nil
}

func (k Kit) calculate(ctx context.Context, args CalculateArgs) (string, error) {
	out := Evaluate(args.Expression)
	if strings.HasPrefix(out, ErrorPrefix) {
		k.logger().WarnContext(ctx, "calculate failed", "expression", args.Expression, "result", out)
		k.Console.Panel("", out, console.Failure)
		return out, nil
	}

	k.logger().InfoContext(ctx, "calculated", "expression", args.Expression, "result", out)
	k.Console.Panel("", fmt.Sprintf("Calculating: %s = %s", strings.TrimSpace(args.Expression), out), console.Success)
	return out, nil
}

func (k Kit) verify(ctx context.Context, args VerifyArgs) (string, error) {
	out := Check(args.Expression, args.Expected)
	expected := arith.Format(args.Expected)

	switch out {
	case "True":
		k.Console.Panel("", fmt.Sprintf("✓ Verified: %s = %s", strings.TrimSpace(args.Expression), expected), console.Success)
	case "False":
		k.Console.Panel("", fmt.Sprintf("✗ Mismatch: %s, expected %s", strings.TrimSpace(args.Expression), expected), console.Failure)
	default:
		k.Console.Panel("", out, console.Failure)
	}

	k.logger().InfoContext(ctx, "verified", "expression", args.Expression, "expected", expected, "result", out)
	return out, nil
}

// Evaluate returns the formatted value of expr, or a string starting with
// ErrorPrefix. It never fails: errors are part of the tool's result text.
func Evaluate(expr string) string {
	clean, err := sanitize.Expression(expr)
	if err != nil {
		return ErrorPrefix + "disallowed characters in expression"
	}

	v, err := arith.Evaluate(clean)
	if err != nil {
		return ErrorPrefix + err.Error()
	}

	return arith.Format(v)
}

// Check reports "True" when expr evaluates to expected within tolerance,
// "False" when it does not, or an ErrorPrefix message.
func Check(expr string, expected float64) string {
	out := Evaluate(expr)
	if strings.HasPrefix(out, ErrorPrefix) {
		return out
	}

	actual, err := strconv.ParseFloat(out, 64)
	if err != nil {
		return ErrorPrefix + err.Error()
	}

	if arith.Equal(actual, expected) {
		return "True"
	}
	return "False"
}
