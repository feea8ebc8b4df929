package agents

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/shre-db/linked-squad/go/assistant/internal/state"
)

var (
	// ErrInvalidInput matches every *InvalidInputError.
	ErrInvalidInput = errors.New("invalid agent input")
	// ErrGeneration matches every *GenerationError.
	ErrGeneration = errors.New("generation failed")
)

// InvalidInputError is returned before any generator call when a required input is
// missing or empty.
type InvalidInputError struct {
	Capability state.Capability
	Field      string
	Reason     string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("%s: required input %q is %s", e.Capability, e.Field, e.Reason)
}

func (e *InvalidInputError) Is(target error) bool { return target == ErrInvalidInput }

// GenerationError wraps a failed or timed out generator call.
type GenerationError struct {
	Capability state.Capability
	Attempt    int
	Cause      error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("%s generation attempt %d: %v", e.Capability, e.Attempt, e.Cause)
}

func (e *GenerationError) Unwrap() error { return e.Cause }

func (e *GenerationError) Is(target error) bool { return target == ErrGeneration }

// ValidateRequired checks that every named input is present and non-empty. Nil
// values, blank strings and empty maps or slices are rejected alike.
func ValidateRequired(c state.Capability, inputs map[string]any, names ...string) error {
	for _, name := range names {
		v, ok := inputs[name]
		if !ok {
			return &InvalidInputError{Capability: c, Field: name, Reason: "missing"}
		}
		if reason := emptiness(v); reason != "" {
			return &InvalidInputError{Capability: c, Field: name, Reason: reason}
		}
	}
	return nil
}

func emptiness(v any) string {
	switch t := v.(type) {
	case nil:
		return "nil"
	case string:
		if strings.TrimSpace(t) == "" {
			return "blank"
		}
		return ""
	case map[string]any:
		if len(t) == 0 {
			return "empty"
		}
		return ""
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Array:
		if rv.Len() == 0 {
			return "empty"
		}
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return "nil"
		}
	}
	return ""
}
