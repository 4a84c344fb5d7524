package bridge

import (
	"context"
	"fmt"
	"slices"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/shader-bridge/errors"
	"github.com/wippyai/shader-bridge/foreign"
	"github.com/wippyai/shader-bridge/resource"
)

// Loader starts a foreign runtime. It blocks until the runtime is ready.
type Loader func(ctx context.Context) (foreign.Runtime, error)

// Option configures a Context.
type Option func(*options)

type options struct {
	logger  *zap.Logger
	target  string
	metrics *Metrics
}

// WithLogger sets the logger for a single Context.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithTarget selects the compilation target used by CreateSession.
// Without it the first target in the runtime's catalogue is used.
func WithTarget(name string) Option {
	return func(o *options) { o.target = name }
}

// WithMetrics enables prometheus instrumentation.
func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// Context owns every resource table and is the only way to operate on the
// foreign runtime.
//
// A Context must be confined to a single goroutine; use Worker to share one
// between goroutines. Operations on a zero Context or a closed one panic.
type Context struct {
	rt      foreign.Runtime
	log     *zap.Logger
	metrics *Metrics
	targets []foreign.Target
	target  int

	globals     *resource.Table[*globalSession]
	sessions    *resource.Table[*session]
	modules     *resource.Table[*module]
	entryPoints *resource.Table[*entryPoint]
	composites  *resource.Table[*composite]
	lists       *resource.Table[*componentList]

	// kinds indexes every live handle by the table holding it.
	kinds map[resource.Handle]resource.Kind

	// poisoned holds the first internal consistency error.
	poisoned error
}

// Open starts a runtime with load and wraps it in a Context.
func Open(ctx context.Context, load Loader, opts ...Option) (*Context, error) {
	rt, err := load(ctx)
	if err != nil {
		var e *errors.Error
		if errors.As(err, &e) {
			return nil, err
		}
		return nil, errors.Load("start foreign runtime", err)
	}
	c, err := New(rt, opts...)
	if err != nil {
		_ = rt.Close(ctx)
		return nil, err
	}
	return c, nil
}

// New wraps an already started runtime in a Context.
func New(rt foreign.Runtime, opts ...Option) (*Context, error) {
	if rt == nil {
		return nil, errors.NotInitialized(errors.PhaseLoad, "foreign runtime")
	}

	o := options{logger: Logger()}
	for _, opt := range opts {
		opt(&o)
	}

	targets := rt.Targets()
	if len(targets) == 0 {
		return nil, errors.Load("foreign runtime reports no compilation targets", nil)
	}
	target := 0
	if o.target != "" {
		target = slices.IndexFunc(targets, func(t foreign.Target) bool { return t.Name == o.target })
		if target < 0 {
			return nil, errors.InvalidInput(errors.PhaseLoad, fmt.Sprintf("unknown target %q", o.target))
		}
	}

	c := &Context{
		rt:          rt,
		log:         o.logger,
		metrics:     o.metrics,
		targets:     targets,
		target:      target,
		globals:     resource.NewTable[*globalSession](resource.KindGlobalSession),
		sessions:    resource.NewTable[*session](resource.KindSession),
		modules:     resource.NewTable[*module](resource.KindModule),
		entryPoints: resource.NewTable[*entryPoint](resource.KindEntryPoint),
		composites:  resource.NewTable[*composite](resource.KindComposite),
		lists:       resource.NewTable[*componentList](resource.KindComponentList),
		kinds:       make(map[resource.Handle]resource.Kind),
	}

	index := resource.ObserverFunc(c.track)
	c.subscribe(index)
	if c.metrics != nil {
		c.subscribe(c.metrics)
	}

	c.log.Debug("context ready",
		zap.Int("targets", len(targets)),
		zap.String("target", targets[target].Name),
	)
	return c, nil
}

func (c *Context) subscribe(o resource.Observer) {
	c.globals.Subscribe(o)
	c.sessions.Subscribe(o)
	c.modules.Subscribe(o)
	c.entryPoints.Subscribe(o)
	c.composites.Subscribe(o)
	c.lists.Subscribe(o)
}

func (c *Context) track(e resource.Event) {
	switch e.Type {
	case resource.EventCreated:
		c.kinds[e.Handle] = e.Kind
	case resource.EventDropped:
		delete(c.kinds, e.Handle)
	}
}

func (c *Context) mustReady() {
	if c == nil || c.rt == nil {
		panic(errors.NotInitialized(errors.PhaseLoad, "bridge context"))
	}
}

// begin guards every fallible operation.
func (c *Context) begin() error {
	c.mustReady()
	return c.poisoned
}

// observe logs and counts the outcome of op. An internal consistency error
// poisons the Context.
func (c *Context) observe(op string, errp *error) {
	err := *errp
	c.metrics.operation(op, err)
	if err == nil {
		return
	}
	switch {
	case err == c.poisoned:
	case errors.IsInconsistent(err):
		c.poisoned = err
		c.log.DPanic("resource bookkeeping inconsistent", zap.String("op", op), zap.Error(err))
	default:
		c.log.Warn("operation failed", zap.String("op", op), zap.Error(err))
	}
}

// Err returns the internal consistency error that poisoned the Context, if any.
func (c *Context) Err() error {
	c.mustReady()
	return c.poisoned
}

// Targets returns the compilation target catalogue.
func (c *Context) Targets() []foreign.Target {
	c.mustReady()
	return slices.Clone(c.targets)
}

// TargetIndex returns the catalogue index of the named target, or -1.
func (c *Context) TargetIndex(name string) int {
	c.mustReady()
	return slices.IndexFunc(c.targets, func(t foreign.Target) bool { return t.Name == name })
}

// Target returns the catalogue index used by CreateSession.
func (c *Context) Target() int {
	c.mustReady()
	return c.target
}

// Kind reports which kind of resource h refers to.
func (c *Context) Kind(h resource.Handle) (resource.Kind, bool) {
	c.mustReady()
	k, ok := c.kinds[h]
	return k, ok
}

// Live returns the number of live resources of every kind.
func (c *Context) Live() int {
	c.mustReady()
	return len(c.kinds)
}

// Close drops every remaining global session and component list, then shuts
// the foreign runtime down. The Context is unusable afterwards. A poisoned
// Context skips the cascade and only closes the runtime.
func (c *Context) Close(ctx context.Context) error {
	if c == nil || c.rt == nil {
		return nil
	}

	var errs error
	if c.poisoned == nil {
		if n := c.globals.Len(); n > 0 {
			c.log.Warn("closing context with live global sessions", zap.Int("global_sessions", n))
		}
		for _, h := range c.globals.Handles() {
			gs, err := c.globals.Get(h)
			if err != nil {
				errs = multierr.Append(errs, err)
				continue
			}
			if err := c.cascade(ctx, &gs.node); err != nil {
				errs = multierr.Append(errs, err)
				if errors.IsInconsistent(err) {
					break
				}
			}
		}
		for _, h := range c.lists.Handles() {
			_, _ = c.lists.Remove(h)
		}
	}

	errs = multierr.Append(errs, c.rt.Close(ctx))
	c.rt = nil
	c.log.Debug("context closed")
	return errs
}
