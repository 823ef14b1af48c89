package resource

import "fmt"

// Spec is the desired description of a single resource as supplied by the
// caller. It is immutable for the duration of a reconciliation call; the
// core never interprets Inputs beyond handing them to the provider.
type Spec struct {
	Type   string         `json:"type" yaml:"type"` // e.g. "s3.Bucket"
	Name   string         `json:"name" yaml:"name"`
	Inputs map[string]any `json:"inputs" yaml:"inputs"`
}

// State is the recorded result of a successful create or update. The id is
// assigned exactly once, at the first non-preview create, and never changes;
// a replace produces a new State with a new id.
type State struct {
	ID      string         `json:"id"`
	Inputs  map[string]any `json:"inputs"`  // last applied
	Outputs map[string]any `json:"outputs"` // provider computed
}

// Address returns the canonical "type.name" address of a spec.
func (s Spec) Address() string {
	return fmt.Sprintf("%s.%s", s.Type, s.Name)
}

// Copy returns a deep copy of the spec. Specs and states are always passed
// across the session boundary by value; providers get their own copy and
// cannot alias the caller's maps.
func (s Spec) Copy() Spec {
	return Spec{
		Type:   s.Type,
		Name:   s.Name,
		Inputs: CopyInputs(s.Inputs),
	}
}

// Copy returns a deep copy of the state.
func (s State) Copy() State {
	return State{
		ID:      s.ID,
		Inputs:  CopyInputs(s.Inputs),
		Outputs: CopyInputs(s.Outputs),
	}
}

// CopyInputs deep-copies an input or output mapping. Nil stays nil so
// "absent" and "empty" remain distinguishable.
func CopyInputs(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return CopyInputs(val)
	case map[any]any:
		// YAML decodes nested maps this way; normalize keys to strings.
		out := make(map[string]any, len(val))
		for k, v := range val {
			out[fmt.Sprintf("%v", k)] = copyValue(v)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, v := range val {
			out[i] = copyValue(v)
		}
		return out
	case []string:
		out := make([]any, len(val))
		for i, s := range val {
			out[i] = s
		}
		return out
	default:
		return val
	}
}

// Normalize rewrites a value so that nested maps use string keys and typed
// slices become []any, matching what JSON round-tripping would produce.
func Normalize(v any) any {
	return copyValue(v)
}
