package bridge

import (
	"slices"

	"github.com/wippyai/shader-bridge/errors"
	"github.com/wippyai/shader-bridge/resource"
)

// CreateComponentList creates an empty staging list. It is a host-side
// container only and always succeeds, even on a poisoned Context.
func (c *Context) CreateComponentList() resource.Handle {
	c.mustReady()
	h := c.lists.Insert(&componentList{})
	c.metrics.operation("create_component_list", nil)
	return h
}

// AddToComponentList appends a reference to a module, entry point or
// composite. The list takes no ownership and accepts duplicates.
func (c *Context) AddToComponentList(list, h resource.Handle) (err error) {
	if err := c.begin(); err != nil {
		return err
	}
	defer c.observe("add_to_component_list", &err)

	l, err := c.lists.Get(list)
	if err != nil {
		return err
	}
	kind, ok := c.kinds[h]
	if !ok {
		return errors.UnknownHandle(errors.PhaseComponentList, "component", int64(h))
	}
	switch kind {
	case resource.KindModule, resource.KindEntryPoint, resource.KindComposite:
	default:
		return errors.New(errors.PhaseComponentList, errors.KindInvalidInput).
			Resource(kind.String()).
			Value(int64(h)).
			Detail("%s handles cannot be composed", kind).
			Build()
	}
	l.entries = append(l.entries, h)
	return nil
}

// ComponentListEntries returns the handles referenced by list in insertion order.
func (c *Context) ComponentListEntries(list resource.Handle) (entries []resource.Handle, err error) {
	if err := c.begin(); err != nil {
		return nil, err
	}
	defer c.observe("component_list_entries", &err)

	l, err := c.lists.Get(list)
	if err != nil {
		return nil, err
	}
	return slices.Clone(l.entries), nil
}

// DropComponentList removes list. Referenced resources are untouched.
func (c *Context) DropComponentList(list resource.Handle) (err error) {
	if err := c.begin(); err != nil {
		return err
	}
	defer c.observe("drop_component_list", &err)

	_, err = c.lists.Remove(list)
	return err
}
