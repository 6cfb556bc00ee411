// Package arith evaluates plain arithmetic expressions: decimal numbers,
// parentheses, unary signs, and the binary operators + - * / // % **.
//
// Operator precedence and the floor semantics of // and % follow the
// conventional calculator rules: ** binds tighter than unary minus and is
// right associative, so -2**2 is -4 and 2**3**2 is 512.
package arith

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var (
	// ErrSyntax is returned for input that does not form a valid expression.
	ErrSyntax = errors.New("invalid syntax")
	// ErrDivisionByZero is returned when /, // or % has a zero divisor.
	ErrDivisionByZero = errors.New("division by zero")
	// ErrNotFinite is returned when a result overflows to infinity or NaN.
	ErrNotFinite = errors.New("result is not finite")
)

// Evaluate parses and evaluates expr.
func Evaluate(expr string) (float64, error) {
	p := &parser{src: expr}
	p.skipSpace()
	if p.done() {
		return 0, fmt.Errorf("%w: empty expression", ErrSyntax)
	}

	v, err := p.expr()
	if err != nil {
		return 0, err
	}

	p.skipSpace()
	if !p.done() {
		return 0, fmt.Errorf("%w: unexpected %q at offset %d", ErrSyntax, p.src[p.pos], p.pos)
	}

	if math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, ErrNotFinite
	}

	return v, nil
}

// Format renders v in the shortest decimal form that round-trips, without an
// exponent. Negative zero is rendered as "0".
func Format(v float64) string {
	if v == 0 {
		return "0"
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Equal reports whether a and b are within the tolerance used by verification.
func Equal(a, b float64) bool {
	return math.Abs(a-b) < 1e-10
}

type parser struct {
	src string
	pos int
}

func (p *parser) done() bool { return p.pos >= len(p.src) }

func (p *parser) skipSpace() {
	for !p.done() && isSpace(p.src[p.pos]) {
		p.pos++
	}
}

// accept consumes tok if it is next in the input.
func (p *parser) accept(tok string) bool {
	p.skipSpace()
	if strings.HasPrefix(p.src[p.pos:], tok) {
		p.pos += len(tok)
		return true
	}
	return false
}

// peek reports whether tok is next in the input without consuming it.
func (p *parser) peek(tok string) bool {
	p.skipSpace()
	return strings.HasPrefix(p.src[p.pos:], tok)
}

// expr := term (("+" | "-") term)*
func (p *parser) expr() (float64, error) {
	v, err := p.term()
	if err != nil {
		return 0, err
	}

	for {
		switch {
		case p.accept("+"):
			r, err := p.term()
			if err != nil {
				return 0, err
			}
			v += r
		case p.accept("-"):
			r, err := p.term()
			if err != nil {
				return 0, err
			}
			v -= r
		default:
			return v, nil
		}
	}
}

// term := unary (("*" | "//" | "/" | "%") unary)*
func (p *parser) term() (float64, error) {
	v, err := p.unary()
	if err != nil {
		return 0, err
	}

	for {
		var op string
		switch {
		case p.peek("**"):
			return v, nil
		case p.accept("*"):
			op = "*"
		case p.accept("//"):
			op = "//"
		case p.accept("/"):
			op = "/"
		case p.accept("%"):
			op = "%"
		default:
			return v, nil
		}

		r, err := p.unary()
		if err != nil {
			return 0, err
		}

		if v, err = apply(op, v, r); err != nil {
			return 0, err
		}
	}
}

// unary := ("+" | "-") unary | power
func (p *parser) unary() (float64, error) {
	switch {
	case p.accept("-"):
		v, err := p.unary()
		return -v, err
	case p.accept("+"):
		return p.unary()
	default:
		return p.power()
	}
}

// power := primary ("**" unary)?
func (p *parser) power() (float64, error) {
	base, err := p.primary()
	if err != nil {
		return 0, err
	}

	if !p.accept("**") {
		return base, nil
	}

	exp, err := p.unary()
	if err != nil {
		return 0, err
	}

	if base == 0 && exp < 0 {
		return 0, ErrDivisionByZero
	}

	return math.Pow(base, exp), nil
}

// primary := number | "(" expr ")"
func (p *parser) primary() (float64, error) {
	p.skipSpace()
	if p.done() {
		return 0, fmt.Errorf("%w: unexpected end of expression", ErrSyntax)
	}

	if p.accept("(") {
		v, err := p.expr()
		if err != nil {
			return 0, err
		}
		if !p.accept(")") {
			return 0, fmt.Errorf("%w: missing closing parenthesis", ErrSyntax)
		}
		return v, nil
	}

	return p.number()
}

func (p *parser) number() (float64, error) {
	start := p.pos
	dots := 0
	for !p.done() {
		c := p.src[p.pos]
		if c == '.' {
			dots++
		} else if c < '0' || c > '9' {
			break
		}
		p.pos++
	}

	lit := p.src[start:p.pos]
	if lit == "" {
		return 0, fmt.Errorf("%w: unexpected %q at offset %d", ErrSyntax, p.src[start], start)
	}
	if dots > 1 || lit == "." {
		return 0, fmt.Errorf("%w: bad number %q", ErrSyntax, lit)
	}

	v, err := strconv.ParseFloat(lit, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: bad number %q", ErrSyntax, lit)
	}

	return v, nil
}

func apply(op string, a, b float64) (float64, error) {
	switch op {
	case "*":
		return a * b, nil
	case "/":
		if b == 0 {
			return 0, ErrDivisionByZero
		}
		return a / b, nil
	case "//":
		if b == 0 {
			return 0, ErrDivisionByZero
		}
		return math.Floor(a / b), nil
	case "%":
		if b == 0 {
			return 0, ErrDivisionByZero
		}
		m := math.Mod(a, b)
		// Result takes the sign of the divisor.
		if m != 0 && (m < 0) != (b < 0) {
			m += b
		}
		return m, nil
	default:
		return 0, fmt.Errorf("%w: unknown operator %q", ErrSyntax, op)
	}
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\v' || c == '\f'
}
