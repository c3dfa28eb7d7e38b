// Package simerr implements the error taxonomy of spec.md §7: five error
// kinds distinguishing fatal configuration failures from the logged/
// swallowed categories the rest of the simulation handles inline.
package simerr

import "fmt"

// Kind classifies an Error by the handling spec.md §7 prescribes for it.
type Kind int

const (
	// KindConfig is a missing/wrong-version config or unknown motion model:
	// fatal, aborts at load with a non-zero exit.
	KindConfig Kind = iota
	// KindPropagation is a NaN slant range or zero-magnitude footprint
	// basis vector: logged, the affected frame is skipped.
	KindPropagation
	// KindResource is a resource bounds violation: logged, swallowed at
	// the agent level.
	KindResource
	// KindLink is a wrong-state transfer arrival: refused and logged,
	// connection unaffected.
	KindLink
	// KindKnowledge is a duplicate add with an older timestamp (silently
	// ignored) or an empty-container read (fatal).
	KindKnowledge
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindPropagation:
		return "propagation"
	case KindResource:
		return "resource"
	case KindLink:
		return "link"
	case KindKnowledge:
		return "knowledge"
	default:
		return "unknown"
	}
}

// Error wraps an underlying error with the Kind that determines how the
// caller must handle it.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs an Error of the given kind wrapping err.
func New(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// Fatal reports whether errors of this kind should abort the simulation
// rather than be logged and continued past.
func (k Kind) Fatal() bool {
	return k == KindConfig
}
