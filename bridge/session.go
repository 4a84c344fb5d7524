package bridge

import (
	"context"

	"go.uber.org/zap"

	"github.com/wippyai/shader-bridge/errors"
	"github.com/wippyai/shader-bridge/resource"
)

// CreateGlobalSession creates a root compilation context.
func (c *Context) CreateGlobalSession(ctx context.Context) (h resource.Handle, err error) {
	if err := c.begin(); err != nil {
		return resource.Invalid, err
	}
	defer c.observe("create_global_session", &err)

	obj, err := c.rt.CreateGlobalSession(ctx)
	if err != nil {
		return resource.Invalid, errors.Foreign(errors.PhaseGlobalSession, err)
	}

	gs := &globalSession{node: newNode(resource.KindGlobalSession, obj, resource.Invalid)}
	gs.handle = c.globals.Insert(gs)
	return gs.handle, nil
}

// DropGlobalSession destroys gs and every session it owns.
func (c *Context) DropGlobalSession(ctx context.Context, gs resource.Handle) (err error) {
	if err := c.begin(); err != nil {
		return err
	}
	defer c.observe("drop_global_session", &err)

	return c.drop(ctx, resource.KindGlobalSession, gs)
}

// CreateSession creates a session under gs bound to the Context's target.
func (c *Context) CreateSession(ctx context.Context, gs resource.Handle) (resource.Handle, error) {
	c.mustReady()
	return c.CreateSessionForTarget(ctx, gs, c.target)
}

// CreateSessionForTarget creates a session under gs bound to a catalogue target.
func (c *Context) CreateSessionForTarget(ctx context.Context, gs resource.Handle, target int) (h resource.Handle, err error) {
	if err := c.begin(); err != nil {
		return resource.Invalid, err
	}
	defer c.observe("create_session", &err)

	if target < 0 || target >= len(c.targets) {
		return resource.Invalid, errors.OutOfBounds(errors.PhaseSession, "target", target, len(c.targets))
	}
	owner, err := c.globals.Get(gs)
	if err != nil {
		return resource.Invalid, err
	}

	obj, err := c.rt.CreateSession(ctx, owner.obj, target)
	if err != nil {
		return resource.Invalid, errors.Foreign(errors.PhaseSession, err)
	}

	s := &session{
		node:   newNode(resource.KindSession, obj, gs),
		target: target,
	}
	s.handle = c.sessions.Insert(s)
	owner.addChild(s.handle)

	c.log.Debug("session created",
		zap.Int64("handle", int64(s.handle)),
		zap.String("target", c.targets[target].Name),
	)
	return s.handle, nil
}

// SessionTarget returns the catalogue index s is bound to.
func (c *Context) SessionTarget(s resource.Handle) (target int, err error) {
	if err := c.begin(); err != nil {
		return -1, err
	}
	defer c.observe("session_target", &err)

	sess, err := c.sessions.Get(s)
	if err != nil {
		return -1, err
	}
	return sess.target, nil
}

// DropSession destroys s with its modules and composites.
func (c *Context) DropSession(ctx context.Context, s resource.Handle) (err error) {
	if err := c.begin(); err != nil {
		return err
	}
	defer c.observe("drop_session", &err)

	return c.drop(ctx, resource.KindSession, s)
}
