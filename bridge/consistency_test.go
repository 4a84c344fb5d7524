package bridge

import (
	"context"
	"testing"

	"go.uber.org/zap/zapcore"

	"github.com/wippyai/shader-bridge/errors"
	"github.com/wippyai/shader-bridge/resource"
)

func TestSessionMissingFromOwner(t *testing.T) {
	ctx := context.Background()
	c, rt, logs := newTestContext(t)
	g := buildGraph(t, c)

	owner, _ := c.globals.Get(g.gs)
	owner.children = nil

	err := c.DropSession(ctx, g.s)
	if !errors.IsInconsistent(err) {
		t.Fatalf("expected inconsistency, got %v", err)
	}
	var e *errors.Error
	if !errors.As(err, &e) || e.Phase != errors.PhaseSession || e.Value != int64(g.s) {
		t.Errorf("error = %#v", e)
	}
	if rt.calls["Release"] != 0 {
		t.Errorf("Release called %d times before the inconsistency was reported", rt.calls["Release"])
	}

	entries := logs.FilterMessage("resource bookkeeping inconsistent").All()
	if len(entries) != 1 || entries[0].Level != zapcore.DPanicLevel {
		t.Fatalf("expected one DPanic entry, got %v", entries)
	}

	// every later operation reports the same failure
	if _, err2 := c.CreateGlobalSession(ctx); err2 != err {
		t.Errorf("CreateGlobalSession after poison = %v", err2)
	}
	if _, err2 := c.EntryPoints(g.m); err2 != err {
		t.Errorf("EntryPoints after poison = %v", err2)
	}
	if code, err2 := c.TargetCode(ctx, g.m, 0); err2 != err || code[0] != 0xff {
		t.Errorf("TargetCode after poison = % x, %v", code, err2)
	}
	if c.Err() != err {
		t.Errorf("Err() = %v", c.Err())
	}
	if logs.FilterMessage("resource bookkeeping inconsistent").Len() != 1 {
		t.Error("poisoned operations must not log again")
	}

	if err := c.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !rt.closed {
		t.Error("runtime not closed")
	}
}

func TestDanglingChildDetectedDuringCascade(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newTestContext(t)
	g := buildGraph(t, c)

	sess, _ := c.sessions.Get(g.s)
	sess.children = append(sess.children, resource.Handle(1<<40))

	err := c.DropGlobalSession(ctx, g.gs)
	if !errors.IsInconsistent(err) {
		t.Fatalf("expected inconsistency, got %v", err)
	}
	if c.Err() == nil {
		t.Error("context not poisoned")
	}
}

func TestChildWithWrongParent(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newTestContext(t)
	g := buildGraph(t, c)
	other, _ := c.CreateSession(ctx, g.gs)

	mod, _ := c.modules.Get(g.m)
	mod.parent = other

	if err := c.DropSession(ctx, g.s); !errors.IsInconsistent(err) {
		t.Fatalf("expected inconsistency, got %v", err)
	}
}
