package bridge

import (
	"context"
	"fmt"
	"testing"

	"github.com/wippyai/shader-bridge/errors"
	"github.com/wippyai/shader-bridge/foreign"
	"github.com/wippyai/shader-bridge/resource"
)

func TestCreateSession(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newTestContext(t, WithTarget("wgsl"))

	gs, err := c.CreateGlobalSession(ctx)
	if err != nil {
		t.Fatalf("CreateGlobalSession: %v", err)
	}
	s, err := c.CreateSession(ctx, gs)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if target, _ := c.SessionTarget(s); target != 1 {
		t.Errorf("session target = %d, want 1", target)
	}

	s2, err := c.CreateSessionForTarget(ctx, gs, 0)
	if err != nil {
		t.Fatalf("CreateSessionForTarget: %v", err)
	}
	if target, _ := c.SessionTarget(s2); target != 0 {
		t.Errorf("session target = %d, want 0", target)
	}

	owner, _ := c.globals.Get(gs)
	if len(owner.children) != 2 || owner.children[0] != s || owner.children[1] != s2 {
		t.Errorf("global session children = %v", owner.children)
	}
}

func TestCreateSessionFailures(t *testing.T) {
	ctx := context.Background()
	c, rt, _ := newTestContext(t)
	gs, _ := c.CreateGlobalSession(ctx)
	live := c.Live()

	tests := []struct {
		name   string
		gs     resource.Handle
		target int
		fail   error
		kind   errors.Kind
	}{
		{"unknown global session", gs + 1000, 0, nil, errors.KindUnknownHandle},
		{"target out of range", gs, 5, nil, errors.KindOutOfBounds},
		{"negative target", gs, -1, nil, errors.KindOutOfBounds},
		{"foreign failure", gs, 0, foreign.Errorf("internal", "no memory"), errors.KindForeign},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt.fail["CreateSession"] = tt.fail
			defer delete(rt.fail, "CreateSession")

			h, err := c.CreateSessionForTarget(ctx, tt.gs, tt.target)
			if h != resource.Invalid {
				t.Errorf("handle = %d, want Invalid", h)
			}
			if !errors.IsKind(err, tt.kind) {
				t.Errorf("error = %v, want kind %s", err, tt.kind)
			}
			if c.Live() != live {
				t.Errorf("Live changed: %d -> %d", live, c.Live())
			}
		})
	}
}

func TestForeignErrorSurfacedVerbatim(t *testing.T) {
	ctx := context.Background()
	c, rt, logs := newTestContext(t)
	rt.fail["CreateGlobalSession"] = foreign.Errorf("internal", "out of memory")

	h, err := c.CreateGlobalSession(ctx)
	if h != resource.Invalid {
		t.Errorf("handle = %d, want Invalid", h)
	}
	var fe *foreign.Error
	if !errors.As(err, &fe) || fe.Kind != "internal" || fe.Message != "out of memory" {
		t.Fatalf("expected foreign cause, got %v", err)
	}
	if rt.calls["CreateGlobalSession"] != 1 {
		t.Errorf("foreign call retried: %d calls", rt.calls["CreateGlobalSession"])
	}
	if logs.FilterMessage("operation failed").Len() != 1 {
		t.Error("expected failure to be logged")
	}
}

// A global session with N sessions of M modules each disappears entirely.
func TestDropGlobalSessionCascade(t *testing.T) {
	const n, m = 3, 4
	ctx := context.Background()
	c, rt, logs := newTestContext(t)

	gs, _ := c.CreateGlobalSession(ctx)
	var sessions, modules, eps []resource.Handle
	for i := 0; i < n; i++ {
		s, err := c.CreateSession(ctx, gs)
		if err != nil {
			t.Fatalf("CreateSession: %v", err)
		}
		sessions = append(sessions, s)
		for j := 0; j < m; j++ {
			mod, err := c.LoadModuleFromSource(ctx, s, fmt.Sprintf("m%d", j), fmt.Sprintf("m%d_%d.wgsl", i, j), "main")
			if err != nil {
				t.Fatalf("LoadModuleFromSource: %v", err)
			}
			modules = append(modules, mod)
			got, _ := c.EntryPoints(mod)
			eps = append(eps, got...)
		}
	}

	if err := c.DropGlobalSession(ctx, gs); err != nil {
		t.Fatalf("DropGlobalSession: %v", err)
	}

	if _, err := c.globals.Get(gs); !errors.IsUnknownHandle(err) {
		t.Errorf("global session still resolvable: %v", err)
	}
	for _, s := range sessions {
		if _, err := c.SessionTarget(s); !errors.IsUnknownHandle(err) {
			t.Errorf("session %d still resolvable: %v", s, err)
		}
	}
	for _, mod := range modules {
		if _, err := c.EntryPoints(mod); !errors.IsUnknownHandle(err) {
			t.Errorf("module %d still resolvable: %v", mod, err)
		}
	}
	for _, ep := range eps {
		if _, err := c.EntryPointName(ep); !errors.IsUnknownHandle(err) {
			t.Errorf("entry point %d still resolvable: %v", ep, err)
		}
	}
	if c.Live() != 0 {
		t.Errorf("Live() = %d after cascade", c.Live())
	}
	if len(rt.live) != 0 {
		t.Errorf("%d foreign objects still referenced", len(rt.live))
	}
	rt.assertReleasedOnce(t)

	if logs.FilterMessage("cascading live children").Len() != 1 {
		t.Errorf("expected one orphan warning, got %d", logs.FilterMessage("cascading live children").Len())
	}
}

func TestDropGlobalSessionAfterSessions(t *testing.T) {
	ctx := context.Background()
	c, rt, logs := newTestContext(t)
	g := buildGraph(t, c)

	if err := c.DropSession(ctx, g.s); err != nil {
		t.Fatalf("DropSession: %v", err)
	}
	if err := c.DropGlobalSession(ctx, g.gs); err != nil {
		t.Fatalf("DropGlobalSession: %v", err)
	}
	if logs.FilterMessage("cascading live children").Len() != 0 {
		t.Error("orderly teardown should not warn")
	}
	if len(rt.live) != 0 {
		t.Errorf("%d foreign objects still referenced", len(rt.live))
	}
}

func TestDropUnknownHandles(t *testing.T) {
	ctx := context.Background()
	c, rt, _ := newTestContext(t)
	g := buildGraph(t, c)
	live := c.Live()

	tests := []struct {
		name string
		drop func() error
	}{
		{"global session", func() error { return c.DropGlobalSession(ctx, g.gs+1000) }},
		{"session as global session", func() error { return c.DropGlobalSession(ctx, g.s) }},
		{"module as session", func() error { return c.DropSession(ctx, g.m) }},
		{"composite", func() error { return c.DropComposite(ctx, g.s) }},
		{"component list", func() error { return c.DropComponentList(g.gs) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.drop(); !errors.IsUnknownHandle(err) {
				t.Errorf("expected unknown handle, got %v", err)
			}
		})
	}
	if c.Live() != live {
		t.Errorf("Live changed: %d -> %d", live, c.Live())
	}
	if rt.calls["Release"] != 0 {
		t.Errorf("Release called %d times", rt.calls["Release"])
	}
}

func TestDropTwice(t *testing.T) {
	ctx := context.Background()
	c, rt, _ := newTestContext(t)
	g := buildGraph(t, c)

	if err := c.DropSession(ctx, g.s); err != nil {
		t.Fatalf("DropSession: %v", err)
	}
	if err := c.DropSession(ctx, g.s); !errors.IsUnknownHandle(err) {
		t.Fatalf("second drop: %v", err)
	}
	rt.assertReleasedOnce(t)

	// the context stays usable after unknown handle errors
	if _, err := c.CreateSession(ctx, g.gs); err != nil {
		t.Fatalf("CreateSession after unknown handle: %v", err)
	}
}

func TestReleaseFailureContinuesCascade(t *testing.T) {
	ctx := context.Background()
	c, rt, _ := newTestContext(t)
	g := buildGraph(t, c)

	rt.fail["Release"] = foreign.Errorf("internal", "release failed")
	err := c.DropSession(ctx, g.s)
	if !errors.IsForeign(err) {
		t.Fatalf("expected foreign error, got %v", err)
	}
	// module, two entry points and the session were all attempted
	if rt.calls["Release"] != 4 {
		t.Errorf("Release calls = %d, want 4", rt.calls["Release"])
	}
	if _, err := c.EntryPoints(g.m); !errors.IsUnknownHandle(err) {
		t.Errorf("module still resolvable: %v", err)
	}
	if c.Err() != nil {
		t.Errorf("release failure must not poison: %v", c.Err())
	}
}
