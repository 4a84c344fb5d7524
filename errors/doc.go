// Package errors provides structured error types for the shader bridge.
//
// Errors are categorized by Phase (which bridge operation failed) and Kind
// (error category). The Error type carries the resource kind involved, the
// offending value (usually a handle) and a cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseSession, errors.KindInvalidInput).
//		Resource("session").
//		Value(h).
//		Detail("session is bound to %s", target).
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.UnknownHandle(errors.PhaseModule, "module", int64(h))
//	err := errors.Foreign(errors.PhaseLink, foreignErr)
//
// The bridge distinguishes four failure classes: unknown handles, foreign
// runtime failures, internal consistency errors and invalid input. Use
// IsUnknownHandle, IsForeign and IsInconsistent to classify a returned error.
//
// All errors implement the standard error interface and support errors.Is/As.
package errors
