package bridge

import (
	"slices"

	"github.com/wippyai/shader-bridge/foreign"
	"github.com/wippyai/shader-bridge/resource"
)

// node is the bookkeeping shared by every resource that wraps a foreign
// object. The parent reference is non-owning; children are owned and
// destroyed before the node itself.
type node struct {
	handle   resource.Handle
	kind     resource.Kind
	obj      foreign.Object
	parent   resource.Handle
	children []resource.Handle
}

func newNode(kind resource.Kind, obj foreign.Object, parent resource.Handle) node {
	return node{
		handle: resource.Invalid,
		kind:   kind,
		obj:    obj,
		parent: parent,
	}
}

func (n *node) addChild(h resource.Handle) {
	n.children = append(n.children, h)
}

// removeChild reports whether h was a child of n.
func (n *node) removeChild(h resource.Handle) bool {
	i := slices.Index(n.children, h)
	if i < 0 {
		return false
	}
	n.children = slices.Delete(n.children, i, i+1)
	return true
}

type globalSession struct {
	node
}

type session struct {
	node
	target int
}

type module struct {
	node
	name string
	path string
}

// entryPoints returns the module's entry point handles in load order.
// Entry points are the only children of a module and are never detached
// individually, so the child list keeps its original order.
func (m *module) entryPoints() []resource.Handle {
	return slices.Clone(m.children)
}

type entryPoint struct {
	node
	name string
}

type composite struct {
	node
	linked bool
	// entry point names of a linked composite, in code generation order
	entryPoints []string
}

// componentList owns nothing and has no foreign object.
type componentList struct {
	entries []resource.Handle
}

func objectKind(k resource.Kind) foreign.ObjectKind {
	switch k {
	case resource.KindGlobalSession:
		return foreign.ObjectGlobalSession
	case resource.KindSession:
		return foreign.ObjectSession
	case resource.KindModule:
		return foreign.ObjectModule
	case resource.KindEntryPoint:
		return foreign.ObjectEntryPoint
	case resource.KindComposite:
		return foreign.ObjectComposite
	}
	return 0
}

// droppable reports whether resources of kind k have their own drop
// operation. Live droppable children at cascade time mean the caller
// skipped a teardown step.
func droppable(k resource.Kind) bool {
	switch k {
	case resource.KindSession, resource.KindComposite:
		return true
	}
	return false
}
