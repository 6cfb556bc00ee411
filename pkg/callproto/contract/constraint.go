package contract

import (
	"errors"
	"fmt"
	"strings"

	"github.com/germanamz/stepwise/pkg/callproto/sanitize"
)

// Constraint checks and normalizes one positional argument. Check receives
// the argument already cleaned by the call-line parser and returns the value
// that will be dispatched.
type Constraint interface {
	// Check validates arg and returns its normalized form.
	Check(arg string) (string, error)
	// Describe names the expected shape, used in corrective instructions.
	Describe() string
}

// Any accepts every argument unchanged.
type Any struct{ Label string }

func (a Any) Check(arg string) (string, error) { return arg, nil }

func (a Any) Describe() string {
	if a.Label != "" {
		return a.Label
	}
	return "text"
}

// Expression accepts only the arithmetic-token grammar.
type Expression struct{}

func (Expression) Check(arg string) (string, error) { return sanitize.Expression(arg) }
func (Expression) Describe() string {
	return "arithmetic expression (digits and + - * / % ( ) . only)"
}

// StringArray accepts a JSON array of strings.
type StringArray struct{}

func (StringArray) Check(arg string) (string, error) {
	if _, err := sanitize.StringArray(arg); err != nil {
		return "", err
	}
	return sanitize.CleanArg(arg), nil
}
func (StringArray) Describe() string { return `JSON array of strings, e.g. ["step1","step2"]` }

// JSON accepts any well-formed JSON text.
type JSON struct{ Label string }

func (j JSON) Check(arg string) (string, error) { return sanitize.JSON(arg) }

func (j JSON) Describe() string {
	if j.Label != "" {
		return j.Label
	}
	return "JSON text"
}

// Number accepts a floating-point literal.
type Number struct{}

func (Number) Check(arg string) (string, error) {
	if _, err := sanitize.Number(arg); err != nil {
		return "", err
	}
	return sanitize.CleanArg(arg), nil
}
func (Number) Describe() string { return "number" }

// Integer accepts a base-10 integer, optionally bounded above by Max.
type Integer struct {
	Max    int
	HasMax bool
}

// AtMost returns an Integer constraint bounded by limit.
func AtMost(limit int) Integer {
	return Integer{Max: limit, HasMax: true}
}

func (c Integer) Check(arg string) (string, error) {
	v, err := sanitize.Integer(arg)
	if err != nil {
		return "", err
	}
	if c.HasMax && v > c.Max {
		return "", fmt.Errorf("%d exceeds the maximum of %d", v, c.Max)
	}
	return sanitize.CleanArg(arg), nil
}

func (c Integer) Describe() string {
	if c.HasMax {
		return fmt.Sprintf("integer <= %d", c.Max)
	}
	return "integer"
}

// Date accepts a YYYY-MM-DD date. Optional allows an empty argument.
type Date struct{ Optional bool }

func (c Date) Check(arg string) (string, error) {
	if c.Optional && sanitize.CleanArg(arg) == "" {
		return "", nil
	}
	if _, err := sanitize.Date(arg); err != nil {
		return "", err
	}
	return sanitize.CleanArg(arg), nil
}
func (Date) Describe() string { return "date YYYY-MM-DD" }

// IntList accepts comma-separated integers.
type IntList struct{}

func (IntList) Check(arg string) (string, error) {
	if _, err := sanitize.IntList(arg); err != nil {
		return "", err
	}
	return sanitize.CleanArg(arg), nil
}
func (IntList) Describe() string { return "comma-separated integers, e.g. 1,3,7,14,30" }

// Path accepts a non-empty file path.
type Path struct{}

func (Path) Check(arg string) (string, error) {
	p := sanitize.CleanArg(arg)
	if p == "" {
		return "", errors.New("path is empty")
	}
	if strings.ContainsRune(p, 0) {
		return "", errors.New("path contains a NUL byte")
	}
	return p, nil
}
func (Path) Describe() string { return "output file path" }
