// Package contract validates parsed tool calls against a static, per-driver
// description of the allowed tools and their positional arguments.
package contract

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/germanamz/stepwise/pkg/callproto/callline"
	"github.com/samber/lo"
)

// Rejection reasons. A *Rejection always wraps exactly one of these.
var (
	ErrUnknownFunction = errors.New("unknown function")
	ErrArity           = errors.New("arity mismatch")
	ErrContent         = errors.New("invalid argument")
)

// Spec describes one tool: its positional arguments, in order. The number of
// constraints is the required argument count.
type Spec struct {
	Args []Constraint
	// Example is a complete call line shown to the model when it gets the
	// call wrong, e.g. `FUNCTION_CALL: calculate|(2 + 3) * 4`.
	Example string
}

// Arity returns the required number of arguments.
func (s Spec) Arity() int { return len(s.Args) }

// Contract maps tool names to their specs. It is built once per driver and
// never mutated.
type Contract struct {
	specs map[string]Spec
}

// New creates a Contract from the given specs.
func New(specs map[string]Spec) Contract {
	cp := make(map[string]Spec, len(specs))
	for name, s := range specs {
		cp[name] = s
	}
	return Contract{specs: cp}
}

// Spec returns the spec for name.
func (c Contract) Spec(name string) (Spec, bool) {
	s, ok := c.specs[name]
	return s, ok
}

// Names returns the allowed tool names, sorted.
func (c Contract) Names() []string {
	names := lo.Keys(c.specs)
	slices.Sort(names)
	return names
}

// Rejection explains why a call was refused before it reached a tool.
type Rejection struct {
	Kind     error // ErrUnknownFunction, ErrArity or ErrContent.
	Tool     string
	Index    int // Argument index for content rejections, -1 otherwise.
	Expected int
	Actual   int
	Reason   string
	Hint     string // The corrective action expected from the model.
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("%s: %s", r.Kind, r.Reason)
}

func (r *Rejection) Unwrap() error { return r.Kind }

// Validate checks call against the contract. Name and arity are checked
// before any argument content is interpreted. On success it returns the
// normalized arguments in order.
func (c Contract) Validate(call callline.ToolCall) ([]string, error) {
	spec, ok := c.specs[call.Name]
	if !ok {
		return nil, &Rejection{
			Kind:   ErrUnknownFunction,
			Tool:   call.Name,
			Index:  -1,
			Reason: fmt.Sprintf("unknown function %q", call.Name),
			Hint:   "Allowed functions: " + strings.Join(c.Names(), ", ") + ".",
		}
	}

	if len(call.Args) != spec.Arity() {
		return nil, &Rejection{
			Kind:     ErrArity,
			Tool:     call.Name,
			Index:    -1,
			Expected: spec.Arity(),
			Actual:   len(call.Args),
			Reason:   fmt.Sprintf("%s expects %d arguments; got %d", call.Name, spec.Arity(), len(call.Args)),
			Hint:     c.usage(call.Name, spec),
		}
	}

	out := make([]string, len(call.Args))
	for i, arg := range call.Args {
		v, err := spec.Args[i].Check(arg)
		if err != nil {
			return nil, &Rejection{
				Kind:     ErrContent,
				Tool:     call.Name,
				Index:    i,
				Expected: spec.Arity(),
				Actual:   len(call.Args),
				Reason:   fmt.Sprintf("%s argument %d: %v", call.Name, i+1, err),
				Hint:     fmt.Sprintf("Argument %d must be a %s. %s", i+1, spec.Args[i].Describe(), c.usage(call.Name, spec)),
			}
		}
		out[i] = v
	}

	return out, nil
}

// usage renders the expected call shape for name.
func (c Contract) usage(name string, spec Spec) string {
	if spec.Example != "" {
		return "Return: " + spec.Example
	}

	shapes := lo.Map(spec.Args, func(con Constraint, _ int) string {
		return "<" + con.Describe() + ">"
	})
	return "Return: " + callline.CallMarker + " " + strings.Join(append([]string{name}, shapes...), "|")
}
