package resource

// Handle is an opaque, process-wide unique reference to a bridge resource.
// Handles are transported as 64-bit integers; Invalid is reserved to signal
// failure and 0 is never allocated.
type Handle int64

// Invalid is the sentinel returned by operations that failed.
const Invalid Handle = -1

// Valid reports whether h could have been produced by Next.
func (h Handle) Valid() bool {
	return h > 0
}

// Kind identifies the resource table a handle belongs to.
type Kind uint8

const (
	KindGlobalSession Kind = iota + 1
	KindSession
	KindModule
	KindEntryPoint
	KindComposite
	KindComponentList
)

var kindNames = [...]string{
	KindGlobalSession: "global session",
	KindSession:       "session",
	KindModule:        "module",
	KindEntryPoint:    "entry point",
	KindComposite:     "composite",
	KindComponentList: "component list",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) && kindNames[k] != "" {
		return kindNames[k]
	}
	return "unknown"
}

// Kinds lists every resource kind in root-to-leaf order.
func Kinds() []Kind {
	return []Kind{
		KindGlobalSession,
		KindSession,
		KindModule,
		KindEntryPoint,
		KindComposite,
		KindComponentList,
	}
}

// EventType identifies a resource lifecycle notification.
type EventType uint8

const (
	EventCreated EventType = iota
	EventDropped
)

func (t EventType) String() string {
	switch t {
	case EventCreated:
		return "created"
	case EventDropped:
		return "dropped"
	}
	return "unknown"
}

// Event represents a resource lifecycle event.
type Event struct {
	Handle Handle
	Kind   Kind
	Type   EventType
}

// Observer receives notifications about resource lifecycle events.
type Observer interface {
	OnResourceEvent(Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(Event)

// OnResourceEvent calls f(e).
func (f ObserverFunc) OnResourceEvent(e Event) {
	f(e)
}
