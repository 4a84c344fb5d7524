package foreign

import (
	"context"
	"fmt"
)

// Object identifies an object living inside the foreign runtime.
// Object ids are owned by the foreign side; the host never interprets them.
type Object uint64

// ObjectKind tells the foreign runtime which disposal routine to run.
type ObjectKind uint8

const (
	ObjectGlobalSession ObjectKind = iota + 1
	ObjectSession
	ObjectModule
	ObjectEntryPoint
	ObjectComposite
)

func (k ObjectKind) String() string {
	switch k {
	case ObjectGlobalSession:
		return "global-session"
	case ObjectSession:
		return "session"
	case ObjectModule:
		return "module"
	case ObjectEntryPoint:
		return "entry-point"
	case ObjectComposite:
		return "composite"
	}
	return fmt.Sprintf("object-kind(%d)", uint8(k))
}

// Target describes one compilation target reported by the runtime.
type Target struct {
	// Name is the short identifier, e.g. "spirv" or "wgsl".
	Name string
	// Binary is true when compiled output is not text.
	Binary bool
}

// Error is a structured failure reported by the foreign runtime.
type Error struct {
	Kind    string
	Message string
}

func (e *Error) Error() string {
	if e.Kind == "" {
		return e.Message
	}
	return e.Kind + ": " + e.Message
}

// Errorf builds a foreign error of the given kind.
func Errorf(kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Common error kinds reported by the bundled runtimes.
const (
	ErrKindCompile       = "compile"
	ErrKindLink          = "link"
	ErrKindTranslate     = "translate"
	ErrKindInvalidObject = "invalid_object"
	ErrKindInvalidTarget = "invalid_target"
	ErrKindDuplicatePath = "duplicate_path"
	ErrKindEmpty         = "empty_composite"
	ErrKindSession       = "session_mismatch"
	ErrKindInternal      = "internal"
)

// Runtime is the narrow handle-passing boundary to a shader compiler.
//
// Every method exchanges only object ids, integers, UTF-8 text and byte
// buffers. Objects stay valid until Release is called for them exactly once.
// Implementations report failures as *Error.
type Runtime interface {
	// Targets returns the catalogue of compilation targets. The index of a
	// target in this slice is the target index used by all other calls.
	Targets() []Target

	CreateGlobalSession(ctx context.Context) (Object, error)
	CreateSession(ctx context.Context, globalSession Object, target int) (Object, error)

	// LoadModule compiles source into a module owned by session.
	LoadModule(ctx context.Context, session Object, name, path, source string) (Object, error)
	// ModuleEntryPoints lists the module's entry points in discovery order.
	ModuleEntryPoints(ctx context.Context, module Object) ([]Object, error)
	EntryPointName(ctx context.Context, entryPoint Object) (string, error)

	// CreateComposite combines modules, entry points and composites.
	CreateComposite(ctx context.Context, session Object, components []Object) (Object, error)
	// Link resolves a composite into a new, self-contained composite.
	Link(ctx context.Context, composite Object) (Object, error)
	// LinkedEntryPoints lists entry point names of a linked composite in
	// the order used by EntryPointCode.
	LinkedEntryPoints(ctx context.Context, composite Object) ([]string, error)

	TargetCode(ctx context.Context, composite Object, target int) ([]byte, error)
	EntryPointCode(ctx context.Context, composite Object, entryPoint, target int) ([]byte, error)

	// Release disposes of obj. It must be called exactly once per object.
	Release(ctx context.Context, kind ObjectKind, obj Object) error

	// Close shuts the runtime down.
	Close(ctx context.Context) error
}

// TargetIndex returns the catalogue index of the named target, or -1.
func TargetIndex(rt Runtime, name string) int {
	for i, t := range rt.Targets() {
		if t.Name == name {
			return i
		}
	}
	return -1
}
