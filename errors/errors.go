package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// Phase indicates which bridge operation produced the error
type Phase string

const (
	PhaseGlobalSession Phase = "global_session" // global session lifecycle
	PhaseSession       Phase = "session"        // session lifecycle
	PhaseModule        Phase = "module"         // module loading and entry points
	PhaseComponentList Phase = "component_list" // staging lists
	PhaseComposite     Phase = "composite"      // composite creation and teardown
	PhaseLink          Phase = "link"           // composite linking
	PhaseTranslate     Phase = "translate"      // target code generation
	PhaseBoundary      Phase = "boundary"       // foreign call marshalling
	PhaseLoad          Phase = "load"           // foreign runtime startup
)

// Kind categorizes the error
type Kind string

const (
	KindUnknownHandle  Kind = "unknown_handle"
	KindForeign        Kind = "foreign"
	KindInconsistent   Kind = "inconsistent"
	KindNotInitialized Kind = "not_initialized"
	KindInvalidInput   Kind = "invalid_input"
	KindOutOfBounds    Kind = "out_of_bounds"
	KindInvalidData    Kind = "invalid_data"
)

// Error is the structured error type used throughout the bridge
type Error struct {
	Value    any
	Cause    error
	Phase    Phase
	Kind     Kind
	Resource string
	Detail   string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Resource != "" {
		b.WriteString(" (")
		b.WriteString(e.Resource)
		b.WriteByte(')')
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error.
// A target with an empty Phase matches any phase.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		if t.Phase != "" && e.Phase != t.Phase {
			return false
		}
		return e.Kind == t.Kind
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Resource sets the resource kind the error refers to
func (b *Builder) Resource(kind string) *Builder {
	b.err.Resource = kind
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// UnknownHandle creates an error for a handle missing from the table of the given resource kind
func UnknownHandle(phase Phase, resource string, handle int64) *Error {
	return &Error{
		Phase:    phase,
		Kind:     KindUnknownHandle,
		Resource: resource,
		Value:    handle,
		Detail:   fmt.Sprintf("unknown handle %d", handle),
	}
}

// Foreign wraps an error reported by the foreign runtime
func Foreign(phase Phase, cause error) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindForeign,
		Detail: "foreign runtime failure",
		Cause:  cause,
	}
}

// Inconsistent creates an internal consistency error.
// It signals corrupted host-side bookkeeping.
func Inconsistent(phase Phase, resource string, handle int64, detail string) *Error {
	return &Error{
		Phase:    phase,
		Kind:     KindInconsistent,
		Resource: resource,
		Value:    handle,
		Detail:   detail,
	}
}

// NotInitialized creates a not-initialized error for a missing runtime or context
func NotInitialized(phase Phase, component string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotInitialized,
		Detail: fmt.Sprintf("%s not initialized", component),
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// OutOfBounds creates an out of bounds error
func OutOfBounds(phase Phase, what string, index, length int) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOutOfBounds,
		Detail: fmt.Sprintf("%s index %d out of bounds (length %d)", what, index, length),
		Value:  index,
	}
}

// Load creates a foreign runtime startup error
func Load(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindInvalidData,
		Detail: detail,
		Cause:  cause,
	}
}

// IsKind reports whether err carries a bridge *Error of the given kind anywhere in its chain
func IsKind(err error, kind Kind) bool {
	return stderrors.Is(err, &Error{Kind: kind})
}

// IsUnknownHandle reports whether err is an unknown-handle error
func IsUnknownHandle(err error) bool {
	return IsKind(err, KindUnknownHandle)
}

// IsForeign reports whether err was reported by the foreign runtime
func IsForeign(err error) bool {
	return IsKind(err, KindForeign)
}

// IsInconsistent reports whether err signals corrupted bookkeeping
func IsInconsistent(err error) bool {
	return IsKind(err, KindInconsistent)
}

// Is is errors.Is from the standard library
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As is errors.As from the standard library
func As(err error, target any) bool {
	return stderrors.As(err, target)
}
