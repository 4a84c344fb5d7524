package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/shader-bridge/bridge"
	"github.com/wippyai/shader-bridge/foreign"
	"github.com/wippyai/shader-bridge/resource"
)

var extensions = map[string]string{
	"spirv": ".spv",
	"wgsl":  ".wgsl",
	"glsl":  ".glsl",
	"msl":   ".metal",
	"hlsl":  ".hlsl",
}

func extension(target string) string {
	if ext, ok := extensions[target]; ok {
		return ext
	}
	return "." + target
}

// program is a linked composite ready for code generation.
type program struct {
	name        string
	split       bool
	handle      resource.Handle
	entryPoints []string
}

// output is one generated artifact.
type output struct {
	program string
	entry   string
	code    []byte
}

func (o output) fileName(target string) string {
	name := o.program
	if o.entry != "" {
		name += "." + o.entry
	}
	return name + extension(target)
}

// build owns the resources of one manifest inside a Context. Everything it
// creates hangs off a single global session.
type build struct {
	c        *bridge.Context
	log      *zap.Logger
	manifest *Manifest
	target   int
	info     foreign.Target

	global   resource.Handle
	session  resource.Handle
	modules  map[string]resource.Handle
	programs []program
}

func newBuild(ctx context.Context, c *bridge.Context, m *Manifest, log *zap.Logger) (*build, error) {
	target := c.Target()
	if m.Target != "" {
		target = c.TargetIndex(m.Target)
		if target < 0 {
			return nil, fmt.Errorf("unknown target %q", m.Target)
		}
	}

	b := &build{
		c:        c,
		log:      log,
		manifest: m,
		target:   target,
		info:     c.Targets()[target],
		modules:  make(map[string]resource.Handle, len(m.Modules)),
	}

	var err error
	if b.global, err = c.CreateGlobalSession(ctx); err != nil {
		return nil, err
	}
	if b.session, err = c.CreateSessionForTarget(ctx, b.global, target); err != nil {
		b.Close(ctx)
		return nil, err
	}
	if err := b.load(ctx); err != nil {
		b.Close(ctx)
		return nil, err
	}
	if err := b.link(ctx); err != nil {
		b.Close(ctx)
		return nil, err
	}
	return b, nil
}

func (b *build) load(ctx context.Context) error {
	for _, spec := range b.manifest.Modules {
		src, path, err := b.manifest.source(spec)
		if err != nil {
			return fmt.Errorf("module %q: %w", spec.Name, err)
		}
		h, err := b.c.LoadModuleFromSource(ctx, b.session, spec.Name, path, src)
		if err != nil {
			return fmt.Errorf("module %q: %w", spec.Name, err)
		}
		b.modules[spec.Name] = h
		b.log.Debug("module loaded", zap.String("module", spec.Name), zap.String("path", path))
	}
	return nil
}

func (b *build) entryPoint(module resource.Handle, name string) (resource.Handle, error) {
	eps, err := b.c.EntryPoints(module)
	if err != nil {
		return resource.Invalid, err
	}
	for _, ep := range eps {
		n, err := b.c.EntryPointName(ep)
		if err != nil {
			return resource.Invalid, err
		}
		if n == name {
			return ep, nil
		}
	}
	return resource.Invalid, fmt.Errorf("no entry point %q", name)
}

func (b *build) link(ctx context.Context) error {
	for _, spec := range b.manifest.Programs {
		p, err := b.linkProgram(ctx, spec)
		if err != nil {
			return fmt.Errorf("program %q: %w", spec.Name, err)
		}
		b.programs = append(b.programs, p)
	}
	return nil
}

func (b *build) linkProgram(ctx context.Context, spec ProgramSpec) (program, error) {
	list := b.c.CreateComponentList()
	defer b.c.DropComponentList(list)

	for _, ref := range spec.Components {
		mod, entry := component(ref)
		h := b.modules[mod]
		if entry != "" {
			ep, err := b.entryPoint(h, entry)
			if err != nil {
				return program{}, fmt.Errorf("component %q: %w", ref, err)
			}
			h = ep
		}
		if err := b.c.AddToComponentList(list, h); err != nil {
			return program{}, err
		}
	}

	comp, err := b.c.CreateComposite(ctx, b.session, list)
	if err != nil {
		return program{}, err
	}
	linked, err := b.c.Link(ctx, comp)
	// the unlinked composite is not needed once linking has been attempted
	if derr := b.c.DropComposite(ctx, comp); derr != nil && err == nil {
		err = derr
	}
	if err != nil {
		return program{}, err
	}
	names, err := b.c.LinkedEntryPointNames(linked)
	if err != nil {
		return program{}, err
	}
	return program{name: spec.Name, split: spec.Split, handle: linked, entryPoints: names}, nil
}

// generate produces the target code of p, one output per entry point when
// split is set.
func (b *build) generate(ctx context.Context, p program) ([]output, error) {
	if !p.split {
		code, err := b.c.TargetCode(ctx, p.handle, b.target)
		if err != nil {
			return nil, err
		}
		return []output{{program: p.name, code: code}}, nil
	}

	outs := make([]output, 0, len(p.entryPoints))
	for i, name := range p.entryPoints {
		code, err := b.c.EntryPointCode(ctx, p.handle, i, b.target)
		if err != nil {
			return nil, fmt.Errorf("entry point %q: %w", name, err)
		}
		outs = append(outs, output{program: p.name, entry: name, code: code})
	}
	return outs, nil
}

// generateAll runs generate for every program.
func (b *build) generateAll(ctx context.Context) ([]output, error) {
	var outs []output
	for _, p := range b.programs {
		o, err := b.generate(ctx, p)
		if err != nil {
			return nil, fmt.Errorf("program %q: %w", p.name, err)
		}
		outs = append(outs, o...)
	}
	return outs, nil
}

func (b *build) targetName() string {
	return b.info.Name
}

func (b *build) binary() bool {
	return b.info.Binary
}

func (b *build) write(dir string, outs []output) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	files := make([]string, 0, len(outs))
	for _, o := range outs {
		path := filepath.Join(dir, o.fileName(b.targetName()))
		if err := os.WriteFile(path, o.code, 0o644); err != nil {
			return files, err
		}
		files = append(files, path)
	}
	return files, nil
}

// Close releases the programs, the session and the global session in
// that order.
func (b *build) Close(ctx context.Context) error {
	if !b.global.Valid() {
		return nil
	}
	var errs []error
	for _, p := range b.programs {
		errs = append(errs, b.c.DropComposite(ctx, p.handle))
	}
	if b.session.Valid() {
		errs = append(errs, b.c.DropSession(ctx, b.session))
	}
	errs = append(errs, b.c.DropGlobalSession(ctx, b.global))
	b.programs = nil
	b.session = resource.Invalid
	b.global = resource.Invalid
	return multierr.Combine(errs...)
}
