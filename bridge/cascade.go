package bridge

import (
	"context"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/shader-bridge/errors"
	"github.com/wippyai/shader-bridge/resource"
)

func phaseOf(k resource.Kind) errors.Phase {
	switch k {
	case resource.KindGlobalSession:
		return errors.PhaseGlobalSession
	case resource.KindSession:
		return errors.PhaseSession
	case resource.KindModule, resource.KindEntryPoint:
		return errors.PhaseModule
	case resource.KindComposite:
		return errors.PhaseComposite
	case resource.KindComponentList:
		return errors.PhaseComponentList
	}
	return errors.PhaseBoundary
}

// node returns the bookkeeping record of h in the table for kind.
func (c *Context) node(kind resource.Kind, h resource.Handle) (*node, error) {
	switch kind {
	case resource.KindGlobalSession:
		v, err := c.globals.Get(h)
		if err != nil {
			return nil, err
		}
		return &v.node, nil
	case resource.KindSession:
		v, err := c.sessions.Get(h)
		if err != nil {
			return nil, err
		}
		return &v.node, nil
	case resource.KindModule:
		v, err := c.modules.Get(h)
		if err != nil {
			return nil, err
		}
		return &v.node, nil
	case resource.KindEntryPoint:
		v, err := c.entryPoints.Get(h)
		if err != nil {
			return nil, err
		}
		return &v.node, nil
	case resource.KindComposite:
		v, err := c.composites.Get(h)
		if err != nil {
			return nil, err
		}
		return &v.node, nil
	}
	return nil, errors.InvalidInput(phaseOf(kind), fmt.Sprintf("%s resources carry no foreign object", kind))
}

// lookup resolves h in whichever table holds it.
func (c *Context) lookup(h resource.Handle) (*node, error) {
	kind, ok := c.kinds[h]
	if !ok {
		return nil, errors.UnknownHandle(errors.PhaseBoundary, "resource", int64(h))
	}
	return c.node(kind, h)
}

func (c *Context) remove(n *node) error {
	var err error
	switch n.kind {
	case resource.KindGlobalSession:
		_, err = c.globals.Remove(n.handle)
	case resource.KindSession:
		_, err = c.sessions.Remove(n.handle)
	case resource.KindModule:
		_, err = c.modules.Remove(n.handle)
	case resource.KindEntryPoint:
		_, err = c.entryPoints.Remove(n.handle)
	case resource.KindComposite:
		_, err = c.composites.Remove(n.handle)
	default:
		err = errors.InvalidInput(phaseOf(n.kind), fmt.Sprintf("%s resources carry no foreign object", n.kind))
	}
	return err
}

func inconsistent(n *node, h resource.Handle, detail string) error {
	return errors.Inconsistent(phaseOf(n.kind), n.kind.String(), int64(h), detail)
}

// checkOwner verifies that n is recorded in its owner's child set.
func (c *Context) checkOwner(n *node) error {
	if !n.parent.Valid() {
		return nil
	}
	parent, err := c.lookup(n.parent)
	if err != nil {
		return inconsistent(n, n.handle, fmt.Sprintf("owner %d is not live", n.parent))
	}
	for _, h := range parent.children {
		if h == n.handle {
			return nil
		}
	}
	return inconsistent(n, n.handle, fmt.Sprintf("not found in child set of owner %d", n.parent))
}

// drop resolves h in the table for kind and cascades from it.
func (c *Context) drop(ctx context.Context, kind resource.Kind, h resource.Handle) error {
	n, err := c.node(kind, h)
	if err != nil {
		return err
	}
	if err := c.checkOwner(n); err != nil {
		return err
	}
	return c.cascade(ctx, n)
}

// cascade destroys everything n owns, then detaches n from its owner,
// releases its foreign object and removes its table entry. Foreign release
// failures are collected and the cascade continues; an inconsistency stops it.
func (c *Context) cascade(ctx context.Context, n *node) error {
	leaked := 0
	for _, h := range n.children {
		if droppable(c.kinds[h]) {
			leaked++
		}
	}
	if leaked > 0 {
		c.log.Warn("cascading live children",
			zap.Int64("handle", int64(n.handle)),
			zap.String("kind", n.kind.String()),
			zap.Int("children", leaked),
		)
	}

	var errs error
	for len(n.children) > 0 {
		h := n.children[len(n.children)-1]
		child, err := c.lookup(h)
		if err != nil {
			return inconsistent(n, h, "owned child is not live")
		}
		if child.parent != n.handle {
			return inconsistent(child, h, fmt.Sprintf("owned by %d but recorded under %d", child.parent, n.handle))
		}
		if err := c.cascade(ctx, child); err != nil {
			if errors.IsInconsistent(err) {
				return err
			}
			errs = multierr.Append(errs, err)
		}
	}

	if n.parent.Valid() {
		parent, err := c.lookup(n.parent)
		if err != nil {
			return inconsistent(n, n.handle, fmt.Sprintf("owner %d is not live", n.parent))
		}
		if !parent.removeChild(n.handle) {
			return inconsistent(n, n.handle, fmt.Sprintf("not found in child set of owner %d", n.parent))
		}
	}

	if err := c.rt.Release(ctx, objectKind(n.kind), n.obj); err != nil {
		c.log.Warn("foreign release failed",
			zap.Int64("handle", int64(n.handle)),
			zap.String("kind", n.kind.String()),
			zap.Error(err),
		)
		errs = multierr.Append(errs, errors.Foreign(phaseOf(n.kind), err))
	}

	if err := c.remove(n); err != nil {
		return inconsistent(n, n.handle, "table entry vanished during cascade")
	}

	c.log.Debug("resource destroyed",
		zap.Int64("handle", int64(n.handle)),
		zap.String("kind", n.kind.String()),
	)
	return errs
}
