package native

import (
	"context"
	"fmt"
	"strings"

	"github.com/gogpu/naga"
	"github.com/gogpu/naga/glsl"
	"github.com/gogpu/naga/hlsl"
	"github.com/gogpu/naga/ir"
	"github.com/gogpu/naga/msl"
	"github.com/gogpu/naga/spirv"
	"go.uber.org/zap"

	"github.com/wippyai/shader-bridge/foreign"
)

// Target names reported by the runtime, in catalogue order.
const (
	TargetSPIRV = "spirv"
	TargetWGSL  = "wgsl"
	TargetGLSL  = "glsl"
	TargetMSL   = "msl"
	TargetHLSL  = "hlsl"
)

var catalogue = []foreign.Target{
	{Name: TargetSPIRV, Binary: true},
	{Name: TargetWGSL},
	{Name: TargetGLSL},
	{Name: TargetMSL},
	{Name: TargetHLSL},
}

// Options configures code generation.
type Options struct {
	// SPIRVVersion is the SPIR-V version to emit (default 1.3).
	SPIRVVersion spirv.Version

	// GLSLVersion is the GLSL language version (default 330 core).
	GLSLVersion glsl.Version

	// Debug emits debug names into SPIR-V.
	Debug bool

	// Validate runs IR validation on load and link.
	Validate bool
}

// DefaultOptions returns the options used by New.
func DefaultOptions() Options {
	return Options{
		SPIRVVersion: spirv.Version1_3,
		GLSLVersion:  glsl.Version330,
	}
}

// Runtime is an in-process foreign runtime compiling WGSL with naga.
// Objects are kept in a private registry keyed by ids that never repeat.
// Runtime is not safe for concurrent use.
type Runtime struct {
	objects map[foreign.Object]any
	opts    Options
	nextID  foreign.Object
	closed  bool
}

type globalSession struct {
	sessions int
}

type session struct {
	global *globalSession
	paths  map[string]foreign.Object
	target int
}

type module struct {
	session     *session
	ir          *ir.Module
	name        string
	path        string
	source      string
	entryPoints []foreign.Object
}

type entryPoint struct {
	module *module
	name   string
	stage  ir.ShaderStage
}

type composite struct {
	session *session
	linked  *ir.Module
	source  string
	// modules in first-occurrence order
	modules []*module
	// selected entry point names; nil selects every entry point of every module
	selected []string
}

var _ foreign.Runtime = (*Runtime)(nil)

// New creates a runtime with DefaultOptions.
func New() *Runtime {
	return NewWithOptions(DefaultOptions())
}

// NewWithOptions creates a runtime with the given options.
func NewWithOptions(opts Options) *Runtime {
	if opts.SPIRVVersion == (spirv.Version{}) {
		opts.SPIRVVersion = spirv.Version1_3
	}
	if opts.GLSLVersion.Major == 0 {
		opts.GLSLVersion = glsl.Version330
	}
	return &Runtime{
		objects: make(map[foreign.Object]any),
		opts:    opts,
	}
}

// Targets returns the compilation target catalogue.
func (r *Runtime) Targets() []foreign.Target {
	out := make([]foreign.Target, len(catalogue))
	copy(out, catalogue)
	return out
}

// Live returns the number of objects not yet released.
func (r *Runtime) Live() int {
	return len(r.objects)
}

func (r *Runtime) register(v any) foreign.Object {
	r.nextID++
	r.objects[r.nextID] = v
	return r.nextID
}

func lookup[T any](r *Runtime, obj foreign.Object, what string) (T, error) {
	var zero T
	v, ok := r.objects[obj]
	if !ok {
		return zero, foreign.Errorf(foreign.ErrKindInvalidObject, "no %s with id %d", what, obj)
	}
	t, ok := v.(T)
	if !ok {
		return zero, foreign.Errorf(foreign.ErrKindInvalidObject, "object %d is not a %s", obj, what)
	}
	return t, nil
}

func (r *Runtime) checkOpen() error {
	if r.closed {
		return foreign.Errorf(foreign.ErrKindInternal, "runtime closed")
	}
	return nil
}

// CreateGlobalSession creates a root compilation context.
func (r *Runtime) CreateGlobalSession(ctx context.Context) (foreign.Object, error) {
	if err := r.checkOpen(); err != nil {
		return 0, err
	}
	return r.register(&globalSession{}), nil
}

// CreateSession creates a session bound to one target.
func (r *Runtime) CreateSession(ctx context.Context, gs foreign.Object, target int) (foreign.Object, error) {
	if err := r.checkOpen(); err != nil {
		return 0, err
	}
	g, err := lookup[*globalSession](r, gs, "global session")
	if err != nil {
		return 0, err
	}
	if target < 0 || target >= len(catalogue) {
		return 0, foreign.Errorf(foreign.ErrKindInvalidTarget, "target index %d out of range", target)
	}
	g.sessions++
	return r.register(&session{
		global: g,
		paths:  make(map[string]foreign.Object),
		target: target,
	}), nil
}

// LoadModule parses and lowers WGSL source into a module.
func (r *Runtime) LoadModule(ctx context.Context, s foreign.Object, name, path, source string) (foreign.Object, error) {
	if err := r.checkOpen(); err != nil {
		return 0, err
	}
	sess, err := lookup[*session](r, s, "session")
	if err != nil {
		return 0, err
	}
	if path == "" {
		path = name
	}
	if _, dup := sess.paths[path]; dup {
		return 0, foreign.Errorf(foreign.ErrKindDuplicatePath, "module already present at path %q", path)
	}

	mod, err := r.lower(source)
	if err != nil {
		return 0, foreign.Errorf(foreign.ErrKindCompile, "%s: %v", path, err)
	}

	m := &module{
		session: sess,
		ir:      mod,
		name:    name,
		path:    path,
		source:  source,
	}
	id := r.register(m)
	for _, ep := range mod.EntryPoints {
		m.entryPoints = append(m.entryPoints, r.register(&entryPoint{
			module: m,
			name:   ep.Name,
			stage:  ep.Stage,
		}))
	}
	sess.paths[path] = id

	Logger().Debug("module loaded",
		zap.String("path", path),
		zap.Int("entry_points", len(m.entryPoints)),
	)
	return id, nil
}

func (r *Runtime) lower(source string) (*ir.Module, error) {
	ast, err := naga.Parse(source)
	if err != nil {
		return nil, err
	}
	mod, err := naga.LowerWithSource(ast, source)
	if err != nil {
		return nil, err
	}
	if r.opts.Validate {
		verrs, err := naga.Validate(mod)
		if err != nil {
			return nil, err
		}
		if len(verrs) > 0 {
			return nil, fmt.Errorf("validation failed: %w", verrs[0])
		}
	}
	return mod, nil
}

// ModuleEntryPoints returns entry point objects in source order.
func (r *Runtime) ModuleEntryPoints(ctx context.Context, m foreign.Object) ([]foreign.Object, error) {
	mod, err := lookup[*module](r, m, "module")
	if err != nil {
		return nil, err
	}
	out := make([]foreign.Object, len(mod.entryPoints))
	copy(out, mod.entryPoints)
	return out, nil
}

// EntryPointName returns the function name of an entry point.
func (r *Runtime) EntryPointName(ctx context.Context, ep foreign.Object) (string, error) {
	e, err := lookup[*entryPoint](r, ep, "entry point")
	if err != nil {
		return "", err
	}
	return e.name, nil
}

// CreateComposite combines components belonging to session s.
func (r *Runtime) CreateComposite(ctx context.Context, s foreign.Object, components []foreign.Object) (foreign.Object, error) {
	if err := r.checkOpen(); err != nil {
		return 0, err
	}
	sess, err := lookup[*session](r, s, "session")
	if err != nil {
		return 0, err
	}
	if len(components) == 0 {
		return 0, foreign.Errorf(foreign.ErrKindEmpty, "composite needs at least one component")
	}

	c := &composite{session: sess}
	seen := make(map[*module]bool)
	addModule := func(m *module) {
		if !seen[m] {
			seen[m] = true
			c.modules = append(c.modules, m)
		}
	}
	explicit := false
	var selected []string

	for _, obj := range components {
		v, ok := r.objects[obj]
		if !ok {
			return 0, foreign.Errorf(foreign.ErrKindInvalidObject, "no component with id %d", obj)
		}
		switch comp := v.(type) {
		case *module:
			if comp.session != sess {
				return 0, foreign.Errorf(foreign.ErrKindSession, "module %q belongs to another session", comp.path)
			}
			addModule(comp)
			for _, ep := range comp.entryPoints {
				selected = append(selected, r.objects[ep].(*entryPoint).name)
			}
		case *entryPoint:
			if comp.module.session != sess {
				return 0, foreign.Errorf(foreign.ErrKindSession, "entry point %q belongs to another session", comp.name)
			}
			addModule(comp.module)
			selected = append(selected, comp.name)
			explicit = true
		case *composite:
			if comp.session != sess {
				return 0, foreign.Errorf(foreign.ErrKindSession, "composite %d belongs to another session", obj)
			}
			for _, m := range comp.modules {
				addModule(m)
			}
			if comp.selected == nil {
				for _, m := range comp.modules {
					for _, ep := range m.entryPoints {
						selected = append(selected, r.objects[ep].(*entryPoint).name)
					}
				}
			} else {
				selected = append(selected, comp.selected...)
				explicit = true
			}
		default:
			return 0, foreign.Errorf(foreign.ErrKindInvalidObject, "object %d cannot be composed", obj)
		}
	}

	if explicit {
		c.selected = dedupe(selected)
	}
	return r.register(c), nil
}

// Link concatenates the composite's module sources and lowers them as one
// program restricted to the selected entry points.
func (r *Runtime) Link(ctx context.Context, obj foreign.Object) (foreign.Object, error) {
	if err := r.checkOpen(); err != nil {
		return 0, err
	}
	c, err := lookup[*composite](r, obj, "composite")
	if err != nil {
		return 0, err
	}

	var src strings.Builder
	for i, m := range c.modules {
		if i > 0 {
			src.WriteByte('\n')
		}
		fmt.Fprintf(&src, "// module: %s\n", m.path)
		src.WriteString(m.source)
	}

	prog, err := r.lower(src.String())
	if err != nil {
		return 0, foreign.Errorf(foreign.ErrKindLink, "%v", err)
	}

	names := c.selected
	if names == nil {
		for _, m := range c.modules {
			for _, ep := range m.entryPoints {
				names = append(names, r.objects[ep].(*entryPoint).name)
			}
		}
		names = dedupe(names)
	}

	restricted := make([]ir.EntryPoint, 0, len(names))
	for _, name := range names {
		ep, ok := findEntryPoint(prog, name)
		if !ok {
			return 0, foreign.Errorf(foreign.ErrKindLink, "entry point %q missing after link", name)
		}
		restricted = append(restricted, ep)
	}
	prog.EntryPoints = restricted

	return r.register(&composite{
		session:  c.session,
		linked:   prog,
		source:   src.String(),
		modules:  c.modules,
		selected: names,
	}), nil
}

// LinkedEntryPoints returns entry point names of a linked composite.
func (r *Runtime) LinkedEntryPoints(ctx context.Context, obj foreign.Object) ([]string, error) {
	c, err := r.linked(obj)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(c.linked.EntryPoints))
	for i, ep := range c.linked.EntryPoints {
		names[i] = ep.Name
	}
	return names, nil
}

func (r *Runtime) linked(obj foreign.Object) (*composite, error) {
	c, err := lookup[*composite](r, obj, "composite")
	if err != nil {
		return nil, err
	}
	if c.linked == nil {
		return nil, foreign.Errorf(foreign.ErrKindTranslate, "composite %d is not linked", obj)
	}
	return c, nil
}

// TargetCode generates code for every entry point of a linked composite.
func (r *Runtime) TargetCode(ctx context.Context, obj foreign.Object, target int) ([]byte, error) {
	c, err := r.linked(obj)
	if err != nil {
		return nil, err
	}
	return r.generate(c, c.linked, "", target)
}

// EntryPointCode generates code for a single entry point of a linked composite.
//
// There is no WGSL writer, so WGSL output is the source of the module that
// defines the entry point rather than a program reduced to it. Other entry
// points and helpers of that module remain in the text.
func (r *Runtime) EntryPointCode(ctx context.Context, obj foreign.Object, ep, target int) ([]byte, error) {
	c, err := r.linked(obj)
	if err != nil {
		return nil, err
	}
	if ep < 0 || ep >= len(c.linked.EntryPoints) {
		return nil, foreign.Errorf(foreign.ErrKindTranslate, "entry point index %d out of range", ep)
	}
	view := *c.linked
	view.EntryPoints = []ir.EntryPoint{c.linked.EntryPoints[ep]}
	return r.generate(c, &view, view.EntryPoints[0].Name, target)
}

// definingSource returns the source of the first module of c that declares
// entry, falling back to the linked source.
func (c *composite) definingSource(entry string) string {
	for _, m := range c.modules {
		for _, ep := range m.ir.EntryPoints {
			if ep.Name == entry {
				return m.source
			}
		}
	}
	return c.source
}

func (r *Runtime) generate(c *composite, mod *ir.Module, entry string, target int) ([]byte, error) {
	if target < 0 || target >= len(catalogue) {
		return nil, foreign.Errorf(foreign.ErrKindInvalidTarget, "target index %d out of range", target)
	}

	name := catalogue[target].Name
	var (
		text string
		err  error
	)
	switch name {
	case TargetSPIRV:
		var code []byte
		code, err = naga.GenerateSPIRV(mod, spirv.Options{
			Version: r.opts.SPIRVVersion,
			Debug:   r.opts.Debug,
		})
		if err != nil {
			return nil, foreign.Errorf(foreign.ErrKindTranslate, "%s: %v", name, err)
		}
		return code, nil
	case TargetWGSL:
		text = c.source
		if entry != "" {
			text = c.definingSource(entry)
		}
	case TargetGLSL:
		opts := glsl.DefaultOptions()
		opts.LangVersion = r.opts.GLSLVersion
		opts.EntryPoint = entry
		text, _, err = glsl.Compile(mod, opts)
	case TargetMSL:
		var pipeline msl.PipelineOptions
		if entry != "" {
			pipeline.EntryPoint = &msl.EntryPointSelector{Stage: mod.EntryPoints[0].Stage, Name: entry}
		}
		text, _, err = msl.CompileWithPipeline(mod, msl.DefaultOptions(), pipeline)
	case TargetHLSL:
		opts := hlsl.DefaultOptions()
		opts.EntryPoint = entry
		text, _, err = hlsl.Compile(mod, opts)
	default:
		return nil, foreign.Errorf(foreign.ErrKindInvalidTarget, "target %q has no generator", name)
	}
	if err != nil {
		return nil, foreign.Errorf(foreign.ErrKindTranslate, "%s: %v", name, err)
	}
	return []byte(text), nil
}

// Release disposes of an object. Releasing an unknown object is an error.
func (r *Runtime) Release(ctx context.Context, kind foreign.ObjectKind, obj foreign.Object) error {
	v, ok := r.objects[obj]
	if !ok {
		return foreign.Errorf(foreign.ErrKindInvalidObject, "release of unknown %s %d", kind, obj)
	}
	switch o := v.(type) {
	case *globalSession:
		if kind != foreign.ObjectGlobalSession {
			return kindMismatch(kind, obj)
		}
	case *session:
		if kind != foreign.ObjectSession {
			return kindMismatch(kind, obj)
		}
		o.global.sessions--
	case *module:
		if kind != foreign.ObjectModule {
			return kindMismatch(kind, obj)
		}
		delete(o.session.paths, o.path)
	case *entryPoint:
		if kind != foreign.ObjectEntryPoint {
			return kindMismatch(kind, obj)
		}
	case *composite:
		if kind != foreign.ObjectComposite {
			return kindMismatch(kind, obj)
		}
	}
	delete(r.objects, obj)
	return nil
}

func kindMismatch(kind foreign.ObjectKind, obj foreign.Object) error {
	return foreign.Errorf(foreign.ErrKindInvalidObject, "object %d is not a %s", obj, kind)
}

// Close drops every remaining object.
func (r *Runtime) Close(ctx context.Context) error {
	if r.closed {
		return nil
	}
	if n := len(r.objects); n > 0 {
		Logger().Warn("closing runtime with live objects", zap.Int("objects", n))
	}
	r.objects = make(map[foreign.Object]any)
	r.closed = true
	return nil
}

func findEntryPoint(mod *ir.Module, name string) (ir.EntryPoint, bool) {
	for _, ep := range mod.EntryPoints {
		if ep.Name == name {
			return ep, true
		}
	}
	return ir.EntryPoint{}, false
}

func dedupe(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}
