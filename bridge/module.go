package bridge

import (
	"context"

	"go.uber.org/zap"

	"github.com/wippyai/shader-bridge/errors"
	"github.com/wippyai/shader-bridge/foreign"
	"github.com/wippyai/shader-bridge/resource"
)

// LoadModuleFromSource compiles source into a module owned by s and
// registers every entry point the runtime reports for it. Nothing is
// registered when any step fails.
func (c *Context) LoadModuleFromSource(ctx context.Context, s resource.Handle, name, path, source string) (h resource.Handle, err error) {
	if err := c.begin(); err != nil {
		return resource.Invalid, err
	}
	defer c.observe("load_module", &err)

	sess, err := c.sessions.Get(s)
	if err != nil {
		return resource.Invalid, err
	}

	obj, err := c.rt.LoadModule(ctx, sess.obj, name, path, source)
	if err != nil {
		return resource.Invalid, errors.Foreign(errors.PhaseModule, err)
	}

	eps, err := c.rt.ModuleEntryPoints(ctx, obj)
	if err != nil {
		c.discard(ctx, foreign.ObjectModule, obj)
		return resource.Invalid, errors.Foreign(errors.PhaseModule, err)
	}
	names := make([]string, len(eps))
	for i, ep := range eps {
		names[i], err = c.rt.EntryPointName(ctx, ep)
		if err != nil {
			for _, ep := range eps {
				c.discard(ctx, foreign.ObjectEntryPoint, ep)
			}
			c.discard(ctx, foreign.ObjectModule, obj)
			return resource.Invalid, errors.Foreign(errors.PhaseModule, err)
		}
	}

	m := &module{
		node: newNode(resource.KindModule, obj, s),
		name: name,
		path: path,
	}
	m.handle = c.modules.Insert(m)
	sess.addChild(m.handle)

	for i, ep := range eps {
		e := &entryPoint{
			node: newNode(resource.KindEntryPoint, ep, m.handle),
			name: names[i],
		}
		e.handle = c.entryPoints.Insert(e)
		m.addChild(e.handle)
	}

	c.log.Debug("module loaded",
		zap.Int64("handle", int64(m.handle)),
		zap.String("path", path),
		zap.Strings("entry_points", names),
	)
	return m.handle, nil
}

// discard releases a foreign object that never got a handle.
func (c *Context) discard(ctx context.Context, kind foreign.ObjectKind, obj foreign.Object) {
	if err := c.rt.Release(ctx, kind, obj); err != nil {
		c.log.Warn("release of unregistered object failed",
			zap.String("kind", kind.String()),
			zap.Error(err),
		)
	}
}

// EntryPoints returns the entry point handles of m in the order the runtime
// reported them at load time. The sequence never changes.
func (c *Context) EntryPoints(m resource.Handle) (eps []resource.Handle, err error) {
	if err := c.begin(); err != nil {
		return nil, err
	}
	defer c.observe("entry_points", &err)

	mod, err := c.modules.Get(m)
	if err != nil {
		return nil, err
	}
	return mod.entryPoints(), nil
}

// EntryPointName returns the function name of ep.
func (c *Context) EntryPointName(ep resource.Handle) (name string, err error) {
	if err := c.begin(); err != nil {
		return "", err
	}
	defer c.observe("entry_point_name", &err)

	e, err := c.entryPoints.Get(ep)
	if err != nil {
		return "", err
	}
	return e.name, nil
}

// ModuleName returns the logical name and path m was loaded with.
func (c *Context) ModuleName(m resource.Handle) (name, path string, err error) {
	if err := c.begin(); err != nil {
		return "", "", err
	}
	defer c.observe("module_name", &err)

	mod, err := c.modules.Get(m)
	if err != nil {
		return "", "", err
	}
	return mod.name, mod.path, nil
}
