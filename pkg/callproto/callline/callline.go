// Package callline classifies one line of model output as a tool call, a
// final answer, or malformed text.
package callline

import (
	"errors"
	"strings"

	"github.com/germanamz/stepwise/pkg/callproto/sanitize"
)

// Protocol markers. Matching is case-sensitive.
const (
	CallMarker   = "FUNCTION_CALL:"
	AnswerMarker = "FINAL_ANSWER:"
	Delimiter    = '|'
)

// ErrFormat is the reason carried by every Malformed line.
var ErrFormat = errors.New("line does not match FUNCTION_CALL or FINAL_ANSWER format")

// Line is the parsed form of one model line. Its concrete type is always one
// of ToolCall, FinalAnswer or Malformed.
type Line interface {
	line()
}

// ToolCall is a request to run a named tool with positional arguments.
type ToolCall struct {
	Name string
	Args []string
}

// FinalAnswer is the bracketed payload of a FINAL_ANSWER line.
type FinalAnswer struct {
	Payload string
}

// Malformed is any line that matches neither marker or cannot be split.
type Malformed struct {
	Raw    string
	Reason string
}

func (ToolCall) line()    {}
func (FinalAnswer) line() {}
func (Malformed) line()   {}

// Err returns ErrFormat wrapped with the malformation reason.
func (m Malformed) Err() error {
	if m.Reason == "" {
		return ErrFormat
	}
	return errors.Join(ErrFormat, errors.New(m.Reason))
}

// FirstLine returns the first non-blank line of a model response, trimmed.
// The protocol allows one instruction per turn so the remaining lines are
// dropped.
func FirstLine(text string) string {
	first, _, _ := strings.Cut(strings.TrimSpace(text), "\n")
	return strings.TrimSpace(strings.TrimSuffix(first, "\r"))
}

// Parse classifies a single line. It never fails: text it cannot interpret is
// returned as Malformed.
func Parse(raw string) Line {
	text := strings.TrimSpace(raw)

	switch {
	case strings.HasPrefix(text, CallMarker):
		return parseCall(text)
	case strings.HasPrefix(text, AnswerMarker):
		return parseAnswer(text)
	}

	return Malformed{Raw: raw, Reason: "expected a line starting with FUNCTION_CALL: or FINAL_ANSWER:"}
}

func parseCall(text string) Line {
	_, payload, ok := strings.Cut(text, ":")
	if !ok {
		return Malformed{Raw: text, Reason: "missing ':' after FUNCTION_CALL"}
	}

	tokens := Split(payload)
	name := strings.TrimSpace(tokens[0])
	if name == "" {
		return Malformed{Raw: text, Reason: "missing function name"}
	}

	args := make([]string, 0, len(tokens)-1)
	for _, tok := range tokens[1:] {
		args = append(args, sanitize.CleanArg(tok))
	}

	return ToolCall{Name: name, Args: args}
}

func parseAnswer(text string) Line {
	_, open, ok := strings.Cut(text, "[")
	if !ok {
		return Malformed{Raw: text, Reason: "FINAL_ANSWER payload must be wrapped in [ ]"}
	}
	payload, _, ok := strings.Cut(open, "]")
	if !ok {
		return Malformed{Raw: text, Reason: "FINAL_ANSWER payload is missing a closing ]"}
	}

	return FinalAnswer{Payload: strings.TrimSpace(payload)}
}

// Split breaks a call payload on the '|' delimiter. A delimiter nested inside
// a JSON array or object, or inside a string literal within one, does not
// split, so tool output such as {"q":"P(A|B)"} survives as one argument.
// Unbalanced brackets fall back to plain splitting for the rest of the input.
// The result always has at least one element.
func Split(payload string) []string {
	var (
		out      []string
		start    int
		depth    int
		inString bool
		escaped  bool
	)

	for i := 0; i < len(payload); i++ {
		c := payload[i]

		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '[', '{':
			depth++
		case ']', '}':
			if depth > 0 {
				depth--
			}
		case Delimiter:
			if depth == 0 {
				out = append(out, payload[start:i])
				start = i + 1
			}
		}
	}

	if inString || depth > 0 {
		// Unterminated JSON: split the tail naively so arity is still reported.
		tail := strings.Split(payload[start:], string(Delimiter))
		return append(out, tail...)
	}

	return append(out, payload[start:])
}
