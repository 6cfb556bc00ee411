// Package sanitize validates and normalizes raw argument text produced by a
// model before it reaches a tool. Every function is pure.
package sanitize

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the only accepted calendar date format.
const DateLayout = "2006-01-02"

var (
	fenceRe      = regexp.MustCompile("(?s)```.*?```")
	expressionRe = regexp.MustCompile(`^[0-9.\s+\-*/%()]+$`)
	dateRe       = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
)

// StripFences removes every fenced code block (```...```) from s.
func StripFences(s string) string {
	return fenceRe.ReplaceAllString(s, "")
}

// Unquote strips one matching pair of surrounding double or single quotes.
// The inner text is trimmed again.
func Unquote(s string) string {
	if len(s) >= 2 {
		first, last := s[0], s[len(s)-1]
		if first == last && (first == '"' || first == '\'') {
			return strings.TrimSpace(s[1 : len(s)-1])
		}
	}
	return s
}

// CleanArg removes fenced code blocks, surrounding whitespace and one pair of
// matching quotes from an argument.
func CleanArg(s string) string {
	return Unquote(strings.TrimSpace(StripFences(s)))
}

// Expression returns the cleaned expression when it only contains arithmetic
// tokens: digits, '.', whitespace, + - * / % and parentheses.
func Expression(s string) (string, error) {
	expr := CleanArg(s)
	if !expressionRe.MatchString(expr) {
		return "", fmt.Errorf("unsafe or invalid expression: %q", expr)
	}
	return expr, nil
}

// StringArray parses s as a JSON array whose every element is a string.
func StringArray(s string) ([]string, error) {
	var raw []any
	if err := json.Unmarshal([]byte(CleanArg(s)), &raw); err != nil {
		return nil, fmt.Errorf("steps must be a JSON array of strings: %w", err)
	}

	out := make([]string, 0, len(raw))
	for i, v := range raw {
		str, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("steps must be a JSON array of strings: element %d is %T", i, v)
		}
		out = append(out, str)
	}

	return out, nil
}

// JSON checks that s is well-formed JSON and returns it cleaned but otherwise
// untouched.
func JSON(s string) (string, error) {
	text := CleanArg(s)
	if !json.Valid([]byte(text)) {
		return "", errors.New("argument must be valid JSON text")
	}
	return text, nil
}

// Number parses s as a finite floating-point value. NaN and infinities are
// rejected.
func Number(s string) (float64, error) {
	text := CleanArg(s)
	v, err := strconv.ParseFloat(text, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%q is not a number", text)
	}
	return v, nil
}

// Integer parses s as a base-10 integer.
func Integer(s string) (int, error) {
	text := CleanArg(s)
	v, err := strconv.Atoi(text)
	if err != nil {
		return 0, fmt.Errorf("%q is not an integer", text)
	}
	return v, nil
}

// Date parses s as a YYYY-MM-DD calendar date.
func Date(s string) (time.Time, error) {
	text := CleanArg(s)
	if !dateRe.MatchString(text) {
		return time.Time{}, fmt.Errorf("%q is not a YYYY-MM-DD date", text)
	}
	d, err := time.Parse(DateLayout, text)
	if err != nil {
		return time.Time{}, fmt.Errorf("%q is not a valid date: %w", text, err)
	}
	return d, nil
}

// IntList parses a comma-separated list of integers such as "1,3,7,14,30".
func IntList(s string) ([]int, error) {
	text := CleanArg(s)
	if text == "" {
		return nil, errors.New("integer list is empty")
	}

	parts := strings.Split(text, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("%q is not a comma-separated list of integers", text)
		}
		out = append(out, v)
	}

	return out, nil
}
