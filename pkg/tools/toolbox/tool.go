package toolbox

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// Handler executes a tool with the given JSON input and returns a text result.
type Handler func(ctx context.Context, input json.RawMessage) (string, error)

// Tool represents an executable tool with a name, description, JSON Schema, and handler.
type Tool struct {
	Name        string
	Description string
	InputSchema json.RawMessage
	Handler     Handler
}

// Schema reflects the JSON Schema of the argument struct T. Field names come
// from json tags; fields without omitempty are required.
func Schema[T any]() json.RawMessage {
	r := &jsonschema.Reflector{
		ExpandedStruct: true,
		DoNotReference: true,
	}

	s := r.Reflect(new(T))
	s.Version = ""

	raw, err := json.Marshal(s)
	if err != nil {
		panic(fmt.Sprintf("toolbox: schema for %T: %v", *new(T), err))
	}

	return raw
}

// Typed adapts a function over a decoded argument struct into a Handler.
// Decoding failures are returned as handler errors.
func Typed[T any](fn func(ctx context.Context, args T) (string, error)) Handler {
	return func(ctx context.Context, input json.RawMessage) (string, error) {
		var args T
		if len(input) > 0 {
			if err := json.Unmarshal(input, &args); err != nil {
				return "", fmt.Errorf("decode arguments: %w", err)
			}
		}
		return fn(ctx, args)
	}
}

// New builds a Tool whose schema is reflected from T and whose handler
// receives a decoded T.
func New[T any](name, description string, fn func(ctx context.Context, args T) (string, error)) Tool {
	return Tool{
		Name:        name,
		Description: description,
		InputSchema: Schema[T](),
		Handler:     Typed(fn),
	}
}
