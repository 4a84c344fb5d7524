package resource

import (
	"slices"

	"github.com/wippyai/shader-bridge/errors"
)

// Table maps handles of one resource kind to their records.
// A Table is not safe for concurrent use; it is owned by a single context.
type Table[T any] struct {
	entries   map[Handle]T
	observers []subscription
	nextObs   int
	phase     errors.Phase
	kind      Kind
}

type subscription struct {
	o  Observer
	id int
}

// NewTable creates an empty table for kind. Handles come from the
// process-wide counter behind Next.
func NewTable[T any](kind Kind) *Table[T] {
	return &Table[T]{
		entries: make(map[Handle]T),
		phase:   phaseFor(kind),
		kind:    kind,
	}
}

// Kind returns the resource kind stored in this table.
func (t *Table[T]) Kind() Kind {
	return t.kind
}

// Insert stores value under a freshly allocated handle.
func (t *Table[T]) Insert(value T) Handle {
	h := Next()
	t.entries[h] = value
	t.notify(Event{Type: EventCreated, Handle: h, Kind: t.kind})
	return h
}

// Get retrieves the record for h.
// An unknown handle is always an error, never a zero value.
func (t *Table[T]) Get(h Handle) (T, error) {
	v, ok := t.entries[h]
	if !ok {
		var zero T
		return zero, errors.UnknownHandle(t.phase, t.kind.String(), int64(h))
	}
	return v, nil
}

// Contains reports whether h is live in this table.
func (t *Table[T]) Contains(h Handle) bool {
	_, ok := t.entries[h]
	return ok
}

// Remove deletes h and returns its record.
func (t *Table[T]) Remove(h Handle) (T, error) {
	v, ok := t.entries[h]
	if !ok {
		var zero T
		return zero, errors.UnknownHandle(t.phase, t.kind.String(), int64(h))
	}
	delete(t.entries, h)
	t.notify(Event{Type: EventDropped, Handle: h, Kind: t.kind})
	return v, nil
}

// Len returns the number of live records.
func (t *Table[T]) Len() int {
	return len(t.entries)
}

// Handles returns all live handles in allocation order.
func (t *Table[T]) Handles() []Handle {
	hs := make([]Handle, 0, len(t.entries))
	for h := range t.entries {
		hs = append(hs, h)
	}
	slices.Sort(hs)
	return hs
}

// Each iterates over live records in allocation order until fn returns false.
func (t *Table[T]) Each(fn func(Handle, T) bool) {
	for _, h := range t.Handles() {
		if !fn(h, t.entries[h]) {
			return
		}
	}
}

// Subscribe adds an observer for lifecycle events and returns a function
// that removes it again.
func (t *Table[T]) Subscribe(o Observer) (unsubscribe func()) {
	t.nextObs++
	id := t.nextObs
	t.observers = append(t.observers, subscription{id: id, o: o})
	return func() {
		for i, sub := range t.observers {
			if sub.id == id {
				t.observers = append(t.observers[:i], t.observers[i+1:]...)
				return
			}
		}
	}
}

func (t *Table[T]) notify(e Event) {
	for _, sub := range t.observers {
		sub.o.OnResourceEvent(e)
	}
}

func phaseFor(kind Kind) errors.Phase {
	switch kind {
	case KindGlobalSession:
		return errors.PhaseGlobalSession
	case KindSession:
		return errors.PhaseSession
	case KindModule, KindEntryPoint:
		return errors.PhaseModule
	case KindComposite:
		return errors.PhaseComposite
	case KindComponentList:
		return errors.PhaseComponentList
	}
	return errors.PhaseBoundary
}
