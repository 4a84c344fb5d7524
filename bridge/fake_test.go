package bridge

import (
	"context"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/wippyai/shader-bridge/foreign"
	"github.com/wippyai/shader-bridge/resource"
)

// fakeRuntime is an in-memory foreign.Runtime. Module sources are comma
// separated entry point names.
type fakeRuntime struct {
	targets  []foreign.Target
	next     foreign.Object
	live     map[foreign.Object]foreign.ObjectKind
	released map[foreign.Object]int
	calls    map[string]int
	fail     map[string]error

	epNames   map[foreign.Object]string
	moduleEPs map[foreign.Object][]foreign.Object
	compEPs   map[foreign.Object][]string

	code   []byte
	closed bool
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{
		targets: []foreign.Target{
			{Name: "spirv", Binary: true},
			{Name: "wgsl"},
		},
		live:      make(map[foreign.Object]foreign.ObjectKind),
		released:  make(map[foreign.Object]int),
		calls:     make(map[string]int),
		fail:      make(map[string]error),
		epNames:   make(map[foreign.Object]string),
		moduleEPs: make(map[foreign.Object][]foreign.Object),
		compEPs:   make(map[foreign.Object][]string),
		code:      []byte{0x03, 0x02, 0x23, 0x07},
	}
}

func (f *fakeRuntime) enter(op string) error {
	f.calls[op]++
	return f.fail[op]
}

func (f *fakeRuntime) create(kind foreign.ObjectKind) foreign.Object {
	f.next++
	f.live[f.next] = kind
	return f.next
}

func (f *fakeRuntime) Targets() []foreign.Target { return f.targets }

func (f *fakeRuntime) CreateGlobalSession(ctx context.Context) (foreign.Object, error) {
	if err := f.enter("CreateGlobalSession"); err != nil {
		return 0, err
	}
	return f.create(foreign.ObjectGlobalSession), nil
}

func (f *fakeRuntime) CreateSession(ctx context.Context, gs foreign.Object, target int) (foreign.Object, error) {
	if err := f.enter("CreateSession"); err != nil {
		return 0, err
	}
	return f.create(foreign.ObjectSession), nil
}

func (f *fakeRuntime) LoadModule(ctx context.Context, s foreign.Object, name, path, source string) (foreign.Object, error) {
	if err := f.enter("LoadModule"); err != nil {
		return 0, err
	}
	m := f.create(foreign.ObjectModule)
	var eps []foreign.Object
	if source != "" {
		for _, n := range strings.Split(source, ",") {
			ep := f.create(foreign.ObjectEntryPoint)
			f.epNames[ep] = n
			eps = append(eps, ep)
		}
	}
	f.moduleEPs[m] = eps
	return m, nil
}

func (f *fakeRuntime) ModuleEntryPoints(ctx context.Context, m foreign.Object) ([]foreign.Object, error) {
	if err := f.enter("ModuleEntryPoints"); err != nil {
		return nil, err
	}
	return f.moduleEPs[m], nil
}

func (f *fakeRuntime) EntryPointName(ctx context.Context, ep foreign.Object) (string, error) {
	if err := f.enter("EntryPointName"); err != nil {
		return "", err
	}
	return f.epNames[ep], nil
}

func (f *fakeRuntime) CreateComposite(ctx context.Context, s foreign.Object, components []foreign.Object) (foreign.Object, error) {
	if err := f.enter("CreateComposite"); err != nil {
		return 0, err
	}
	if len(components) == 0 {
		return 0, foreign.Errorf(foreign.ErrKindEmpty, "no components")
	}
	var names []string
	for _, obj := range components {
		switch f.live[obj] {
		case foreign.ObjectModule:
			for _, ep := range f.moduleEPs[obj] {
				names = append(names, f.epNames[ep])
			}
		case foreign.ObjectEntryPoint:
			names = append(names, f.epNames[obj])
		case foreign.ObjectComposite:
			names = append(names, f.compEPs[obj]...)
		default:
			return 0, foreign.Errorf(foreign.ErrKindInvalidObject, "object %d is not composable", obj)
		}
	}
	c := f.create(foreign.ObjectComposite)
	f.compEPs[c] = names
	return c, nil
}

func (f *fakeRuntime) Link(ctx context.Context, c foreign.Object) (foreign.Object, error) {
	if err := f.enter("Link"); err != nil {
		return 0, err
	}
	linked := f.create(foreign.ObjectComposite)
	f.compEPs[linked] = append([]string(nil), f.compEPs[c]...)
	return linked, nil
}

func (f *fakeRuntime) LinkedEntryPoints(ctx context.Context, c foreign.Object) ([]string, error) {
	if err := f.enter("LinkedEntryPoints"); err != nil {
		return nil, err
	}
	return f.compEPs[c], nil
}

func (f *fakeRuntime) TargetCode(ctx context.Context, c foreign.Object, target int) ([]byte, error) {
	if err := f.enter("TargetCode"); err != nil {
		return nil, err
	}
	return f.code, nil
}

func (f *fakeRuntime) EntryPointCode(ctx context.Context, c foreign.Object, ep, target int) ([]byte, error) {
	if err := f.enter("EntryPointCode"); err != nil {
		return nil, err
	}
	return []byte{byte(ep)}, nil
}

func (f *fakeRuntime) Release(ctx context.Context, kind foreign.ObjectKind, obj foreign.Object) error {
	f.released[obj]++
	if err := f.enter("Release"); err != nil {
		delete(f.live, obj)
		return err
	}
	got, ok := f.live[obj]
	if !ok {
		return foreign.Errorf(foreign.ErrKindInvalidObject, "release of unknown object %d", obj)
	}
	if got != kind {
		return foreign.Errorf(foreign.ErrKindInvalidObject, "object %d is a %s, not a %s", obj, got, kind)
	}
	delete(f.live, obj)
	if kind == foreign.ObjectModule {
		// entry points never handed out die with their module
		for _, ep := range f.moduleEPs[obj] {
			delete(f.live, ep)
		}
	}
	return nil
}

func (f *fakeRuntime) Close(ctx context.Context) error {
	f.closed = true
	return nil
}

// assertReleasedOnce fails if any foreign object was released more than once.
func (f *fakeRuntime) assertReleasedOnce(t *testing.T) {
	t.Helper()
	for obj, n := range f.released {
		if n != 1 {
			t.Errorf("object %d released %d times", obj, n)
		}
	}
}

func newTestContext(t *testing.T, opts ...Option) (*Context, *fakeRuntime, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	rt := newFakeRuntime()
	opts = append([]Option{WithLogger(zap.New(core))}, opts...)
	c, err := New(rt, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c, rt, logs
}

type graph struct {
	gs, s, m resource.Handle
}

func buildGraph(t *testing.T, c *Context) graph {
	t.Helper()
	ctx := context.Background()
	gs, err := c.CreateGlobalSession(ctx)
	if err != nil {
		t.Fatalf("CreateGlobalSession: %v", err)
	}
	s, err := c.CreateSession(ctx, gs)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	m, err := c.LoadModuleFromSource(ctx, s, "shader", "shader.wgsl", "vs_main,fs_main")
	if err != nil {
		t.Fatalf("LoadModuleFromSource: %v", err)
	}
	return graph{gs: gs, s: s, m: m}
}

func mustPanicNotInitialized(t *testing.T, fn func()) {
	t.Helper()
	defer func() {
		t.Helper()
		p := recover()
		if p == nil {
			t.Fatal("expected panic")
		}
		err, ok := p.(error)
		if !ok || !isNotInitialized(err) {
			t.Fatalf("panic value = %v, want not initialized error", p)
		}
	}()
	fn()
}
