// Package resource provides handle allocation and typed handle tables for
// the shader bridge.
//
// Handles are opaque 64-bit integers that stand in for foreign compiler
// objects on the host side. They are unique across the whole process and
// across resource kinds, and are never recycled:
//
//	h := resource.Next() // strictly increasing, never 0, never Invalid
//
// # Tables
//
// A Table maps handles of exactly one Kind to host-side records:
//
//	sessions := resource.NewTable[*sessionNode](resource.KindSession)
//
//	h := sessions.Insert(node)
//	node, err := sessions.Get(h)    // unknown handle -> errors.KindUnknownHandle
//	node, err = sessions.Remove(h)  // later Get(h) fails
//
// Because every kind has its own table, a handle of one kind can never
// resolve in another kind's table, and lookups need no runtime type checks.
//
// # Observers
//
// Tables publish EventCreated and EventDropped to subscribed observers,
// which the bridge uses for metrics and leak diagnostics:
//
//	stop := sessions.Subscribe(resource.ObserverFunc(func(e resource.Event) {
//	    log.Printf("%s %s %d", e.Kind, e.Type, e.Handle)
//	}))
//	defer stop()
//
// Tables are not safe for concurrent use; Next is.
package resource
