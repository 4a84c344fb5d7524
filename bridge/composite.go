package bridge

import (
	"context"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/shader-bridge/errors"
	"github.com/wippyai/shader-bridge/foreign"
	"github.com/wippyai/shader-bridge/resource"
)

// FailedCode is returned together with the error by TargetCode and
// EntryPointCode. It is never a valid compilation result, so callers can
// tell a failure apart from an empty program. Callers receive their own copy.
var FailedCode = []byte{0xff}

func failedCode() []byte {
	return slices.Clone(FailedCode)
}

// CreateComposite asks the runtime to combine every entry of list into a
// composite owned by s. Stale entries fail before the runtime is called.
func (c *Context) CreateComposite(ctx context.Context, s, list resource.Handle) (h resource.Handle, err error) {
	if err := c.begin(); err != nil {
		return resource.Invalid, err
	}
	defer c.observe("create_composite", &err)

	sess, err := c.sessions.Get(s)
	if err != nil {
		return resource.Invalid, err
	}
	l, err := c.lists.Get(list)
	if err != nil {
		return resource.Invalid, err
	}

	objs := make([]foreign.Object, 0, len(l.entries))
	for _, e := range l.entries {
		n, err := c.lookup(e)
		if err != nil {
			return resource.Invalid, errors.UnknownHandle(errors.PhaseComposite, "component", int64(e))
		}
		objs = append(objs, n.obj)
	}

	obj, err := c.rt.CreateComposite(ctx, sess.obj, objs)
	if err != nil {
		return resource.Invalid, errors.Foreign(errors.PhaseComposite, err)
	}

	comp := &composite{node: newNode(resource.KindComposite, obj, s)}
	comp.handle = c.composites.Insert(comp)
	sess.addChild(comp.handle)
	return comp.handle, nil
}

// Link resolves comp into a new linked composite owned by the same session.
// The source composite is left untouched.
func (c *Context) Link(ctx context.Context, comp resource.Handle) (h resource.Handle, err error) {
	if err := c.begin(); err != nil {
		return resource.Invalid, err
	}
	defer c.observe("link", &err)

	src, err := c.composites.Get(comp)
	if err != nil {
		return resource.Invalid, err
	}
	sess, err := c.sessions.Get(src.parent)
	if err != nil {
		return resource.Invalid, inconsistent(&src.node, comp, fmt.Sprintf("owning session %d is not live", src.parent))
	}

	obj, err := c.rt.Link(ctx, src.obj)
	if err != nil {
		return resource.Invalid, errors.Foreign(errors.PhaseLink, err)
	}
	names, err := c.rt.LinkedEntryPoints(ctx, obj)
	if err != nil {
		c.discard(ctx, foreign.ObjectComposite, obj)
		return resource.Invalid, errors.Foreign(errors.PhaseLink, err)
	}

	linked := &composite{
		node:        newNode(resource.KindComposite, obj, src.parent),
		linked:      true,
		entryPoints: names,
	}
	linked.handle = c.composites.Insert(linked)
	sess.addChild(linked.handle)

	c.log.Debug("composite linked",
		zap.Int64("source", int64(comp)),
		zap.Int64("handle", int64(linked.handle)),
		zap.Strings("entry_points", names),
	)
	return linked.handle, nil
}

// IsLinked reports whether comp was produced by Link.
func (c *Context) IsLinked(comp resource.Handle) (linked bool, err error) {
	if err := c.begin(); err != nil {
		return false, err
	}
	defer c.observe("is_linked", &err)

	v, err := c.composites.Get(comp)
	if err != nil {
		return false, err
	}
	return v.linked, nil
}

// LinkedEntryPointNames returns the entry point names of a linked composite
// in the order EntryPointCode indexes them.
func (c *Context) LinkedEntryPointNames(comp resource.Handle) (names []string, err error) {
	if err := c.begin(); err != nil {
		return nil, err
	}
	defer c.observe("linked_entry_points", &err)

	v, err := c.linkedComposite(comp)
	if err != nil {
		return nil, err
	}
	return slices.Clone(v.entryPoints), nil
}

// EntryPointIndex returns the code generation index of the named entry point.
func (c *Context) EntryPointIndex(comp resource.Handle, name string) (index int, err error) {
	if err := c.begin(); err != nil {
		return -1, err
	}
	defer c.observe("entry_point_index", &err)

	v, err := c.linkedComposite(comp)
	if err != nil {
		return -1, err
	}
	i := slices.Index(v.entryPoints, name)
	if i < 0 {
		return -1, errors.InvalidInput(errors.PhaseTranslate, fmt.Sprintf("composite %d has no entry point %q", comp, name))
	}
	return i, nil
}

func (c *Context) linkedComposite(comp resource.Handle) (*composite, error) {
	v, err := c.composites.Get(comp)
	if err != nil {
		return nil, err
	}
	if !v.linked {
		return nil, errors.New(errors.PhaseTranslate, errors.KindInvalidInput).
			Resource(resource.KindComposite.String()).
			Value(int64(comp)).
			Detail("composite %d is not linked", comp).
			Build()
	}
	return v, nil
}

// checkTarget validates that target exists and matches the session v belongs to.
func (c *Context) checkTarget(v *composite, target int) error {
	if target < 0 || target >= len(c.targets) {
		return errors.OutOfBounds(errors.PhaseTranslate, "target", target, len(c.targets))
	}
	sess, err := c.sessions.Get(v.parent)
	if err != nil {
		return inconsistent(&v.node, v.handle, fmt.Sprintf("owning session %d is not live", v.parent))
	}
	if sess.target != target {
		return errors.InvalidInput(errors.PhaseTranslate, fmt.Sprintf("session %d is bound to target %q, not %q",
			v.parent, c.targets[sess.target].Name, c.targets[target].Name))
	}
	return nil
}

// TargetCode returns the compiled program of a linked composite. On failure
// it returns a copy of FailedCode with the error.
func (c *Context) TargetCode(ctx context.Context, comp resource.Handle, target int) (code []byte, err error) {
	if err := c.begin(); err != nil {
		return failedCode(), err
	}
	defer c.observe("target_code", &err)

	v, err := c.linkedComposite(comp)
	if err != nil {
		return failedCode(), err
	}
	if err := c.checkTarget(v, target); err != nil {
		return failedCode(), err
	}

	start := time.Now()
	code, err = c.rt.TargetCode(ctx, v.obj, target)
	c.metrics.translation(c.targets[target].Name, time.Since(start), err)
	if err != nil {
		return failedCode(), errors.Foreign(errors.PhaseTranslate, err)
	}
	if code == nil {
		code = []byte{}
	}
	return code, nil
}

// EntryPointCode returns the compiled code of one entry point of a linked
// composite. entryPoint indexes LinkedEntryPointNames. On failure it returns
// a copy of FailedCode with the error.
func (c *Context) EntryPointCode(ctx context.Context, comp resource.Handle, entryPoint, target int) (code []byte, err error) {
	if err := c.begin(); err != nil {
		return failedCode(), err
	}
	defer c.observe("entry_point_code", &err)

	v, err := c.linkedComposite(comp)
	if err != nil {
		return failedCode(), err
	}
	if entryPoint < 0 || entryPoint >= len(v.entryPoints) {
		return failedCode(), errors.OutOfBounds(errors.PhaseTranslate, "entry point", entryPoint, len(v.entryPoints))
	}
	if err := c.checkTarget(v, target); err != nil {
		return failedCode(), err
	}

	start := time.Now()
	code, err = c.rt.EntryPointCode(ctx, v.obj, entryPoint, target)
	c.metrics.translation(c.targets[target].Name, time.Since(start), err)
	if err != nil {
		return failedCode(), errors.Foreign(errors.PhaseTranslate, err)
	}
	if code == nil {
		code = []byte{}
	}
	return code, nil
}

// DropComposite destroys comp. Composites linked from it stay live.
func (c *Context) DropComposite(ctx context.Context, comp resource.Handle) (err error) {
	if err := c.begin(); err != nil {
		return err
	}
	defer c.observe("drop_composite", &err)

	return c.drop(ctx, resource.KindComposite, comp)
}
