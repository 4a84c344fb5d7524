// Package bridge mirrors the object graph of a foreign shader compiler on
// the host using integer handles.
//
// A Context owns one resource table per kind and forwards every operation to
// a foreign.Runtime. Resources form an ownership forest:
//
//	GlobalSession
//	└── Session (bound to one target)
//	    ├── Module
//	    │   └── EntryPoint (fixed, ordered)
//	    └── Composite (unlinked or linked)
//
// Component lists sit outside the forest and only reference modules, entry
// points and composites.
//
// Dropping a global session, session or composite destroys everything it
// owns before releasing its own foreign object. Every foreign object is
// released exactly once and its handle is removed from its table at the same
// moment, so a later lookup reports an unknown handle. Handles come from a
// single process-wide counter and are never reused, so a handle from one
// Context never resolves in another.
//
// Failed operations return resource.Invalid (or a copy of FailedCode for code
// generation) and leave every table unchanged. Errors are *errors.Error:
//
//   - unknown handle: the operation is abandoned, the Context stays usable
//   - foreign: the runtime's *foreign.Error is the cause, reported verbatim
//   - inconsistent: host bookkeeping is corrupted; the Context is poisoned
//     and every later operation returns the same error until Close
//
// Dropping a container that still owns sessions or composites logs a
// warning and the cascade proceeds.
package bridge
