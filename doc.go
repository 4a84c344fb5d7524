// Package shaderbridge exposes a foreign shader compiler to Go programs
// through integer handles with strict lifecycle rules.
//
// The compiler's objects (global sessions, sessions, modules, entry points
// and composites) are mirrored on the host in typed resource tables. Dropping
// an owner destroys everything beneath it, every foreign object is released
// exactly once, and handles are never reused.
//
// # Architecture Overview
//
//	shaderbridge/        Package documentation
//	├── bridge/          Context: handle tables, ownership forest, cascades
//	├── resource/        Handle allocator and generic resource tables
//	├── errors/          Structured error types (phase + kind)
//	├── foreign/         Boundary to the compiler runtime
//	│   ├── native/      In-process WGSL compiler (naga)
//	│   └── guest/       Compiler running as a wasm guest (wazero)
//	└── cmd/shaderc/     Command line compiler and interactive browser
//
// # Quick Start
//
// Compile a WGSL module to SPIR-V:
//
//	c, err := bridge.New(native.New(), bridge.WithTarget(native.TargetSPIRV))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer c.Close(ctx)
//
//	gs, _ := c.CreateGlobalSession(ctx)
//	s, _ := c.CreateSession(ctx, gs)
//	m, err := c.LoadModuleFromSource(ctx, s, "triangle", "triangle.wgsl", src)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	list := c.CreateComponentList()
//	_ = c.AddToComponentList(list, m)
//	comp, _ := c.CreateComposite(ctx, s, list)
//	linked, _ := c.Link(ctx, comp)
//	spirv, err := c.TargetCode(ctx, linked, c.Target())
//
//	_ = c.DropGlobalSession(ctx, gs) // releases s, m, comp and linked
//
// # Foreign Runtimes
//
// Any foreign.Runtime can back a Context. The native backend compiles WGSL
// in process. The guest backend loads a compiler built for wasm and talks to
// it through a small handle ABI:
//
//	c, err := bridge.Open(ctx, func(ctx context.Context) (foreign.Runtime, error) {
//	    return guest.Load(ctx, wasmBytes, guest.Config{})
//	})
//
// # Thread Safety
//
// A Context is not safe for concurrent use. Hosts with several goroutines
// share it through a bridge.Worker, which runs closures one at a time on a
// dedicated goroutine.
package shaderbridge
