package guest

import (
	"context"
	"fmt"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/shader-bridge/errors"
	"github.com/wippyai/shader-bridge/foreign"
)

// DefaultModuleName is the instance name used when Config.ModuleName is empty.
const DefaultModuleName = "shader-compiler"

// failedBuffer is the packed buffer value signalling failure.
const failedBuffer = ^uint64(0)

var (
	compilationCache     wazero.CompilationCache
	compilationCacheOnce sync.Once
)

// Config configures a guest runtime.
type Config struct {
	// ModuleName names the guest instance inside the wazero runtime.
	ModuleName string

	// MemoryLimitPages caps guest linear memory in 64KiB pages. Zero keeps
	// the wazero default.
	MemoryLimitPages uint32

	// DisableCache skips the process-wide compilation cache.
	DisableCache bool
}

type signature struct {
	params  []api.ValueType
	results []api.ValueType
}

var (
	i32 = api.ValueTypeI32
	i64 = api.ValueTypeI64
)

func sig(params []api.ValueType, results ...api.ValueType) signature {
	return signature{params: params, results: results}
}

func params(types ...api.ValueType) []api.ValueType { return types }

// exports lists every function the guest must provide.
var exports = map[string]signature{
	"alloc":                         sig(params(i32), i32),
	"free":                          sig(params(i32, i32)),
	"last_error_kind":               sig(nil, i64),
	"last_error_message":            sig(nil, i64),
	"target_count":                  sig(nil, i32),
	"target_name":                   sig(params(i32), i64),
	"target_binary":                 sig(params(i32), i32),
	"global_session_create":         sig(nil, i64),
	"global_session_create_session": sig(params(i64, i32), i64),
	"session_load_module":           sig(params(i64, i32, i32, i32, i32, i32, i32), i64),
	"module_entry_point_count":      sig(params(i64), i32),
	"module_entry_point":            sig(params(i64, i32), i64),
	"entry_point_name":              sig(params(i64), i64),
	"session_create_composite":      sig(params(i64, i32, i32), i64),
	"composite_link":                sig(params(i64), i64),
	"composite_entry_point_count":   sig(params(i64), i32),
	"composite_entry_point_name":    sig(params(i64, i32), i64),
	"composite_target_code":         sig(params(i64, i32), i64),
	"composite_entry_point_code":    sig(params(i64, i32, i32), i64),
	"release":                       sig(params(i32, i64)),
}

// Runtime is a foreign.Runtime backed by a compiler compiled to WebAssembly.
// Runtime is not safe for concurrent use.
type Runtime struct {
	wasm    wazero.Runtime
	module  api.Module
	memory  api.Memory
	targets []foreign.Target

	fnAlloc                    api.Function
	fnFree                     api.Function
	fnLastErrorKind            api.Function
	fnLastErrorMessage         api.Function
	fnGlobalSessionCreate      api.Function
	fnCreateSession            api.Function
	fnLoadModule               api.Function
	fnModuleEntryPointCount    api.Function
	fnModuleEntryPoint         api.Function
	fnEntryPointName           api.Function
	fnCreateComposite          api.Function
	fnLink                     api.Function
	fnCompositeEntryPointCount api.Function
	fnCompositeEntryPointName  api.Function
	fnTargetCode               api.Function
	fnEntryPointCode           api.Function
	fnRelease                  api.Function
}

var _ foreign.Runtime = (*Runtime)(nil)

// Load compiles and instantiates a guest compiler module.
func Load(ctx context.Context, wasm []byte, cfg Config) (*Runtime, error) {
	if cfg.ModuleName == "" {
		cfg.ModuleName = DefaultModuleName
	}

	rc := wazero.NewRuntimeConfig().
		WithCloseOnContextDone(true).
		WithDebugInfoEnabled(false)
	if !cfg.DisableCache {
		compilationCacheOnce.Do(func() {
			compilationCache = wazero.NewCompilationCache()
		})
		rc = rc.WithCompilationCache(compilationCache)
	}
	if cfg.MemoryLimitPages > 0 {
		rc = rc.WithMemoryLimitPages(cfg.MemoryLimitPages)
	}

	r := &Runtime{wasm: wazero.NewRuntimeWithConfig(ctx, rc)}

	_, err := r.wasm.NewHostModuleBuilder("env").
		NewFunctionBuilder().
		WithFunc(hostLog).
		Export("log").
		Instantiate(ctx)
	if err != nil {
		_ = r.wasm.Close(ctx)
		return nil, errors.Load("instantiate host module", err)
	}

	compiled, err := r.wasm.CompileModule(ctx, wasm)
	if err != nil {
		_ = r.wasm.Close(ctx)
		return nil, errors.Load("compile guest module", err)
	}
	if err := validateExports(compiled); err != nil {
		_ = r.wasm.Close(ctx)
		return nil, err
	}

	r.module, err = r.wasm.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName(cfg.ModuleName))
	if err != nil {
		_ = r.wasm.Close(ctx)
		return nil, errors.Load("instantiate guest module", err)
	}

	r.memory = r.module.Memory()
	if r.memory == nil {
		_ = r.wasm.Close(ctx)
		return nil, errors.Load("guest module exports no memory", nil)
	}

	r.bindFunctions()

	if err := r.loadTargets(ctx); err != nil {
		_ = r.wasm.Close(ctx)
		return nil, err
	}

	Logger().Debug("guest runtime loaded",
		zap.String("module", cfg.ModuleName),
		zap.Int("targets", len(r.targets)),
	)
	return r, nil
}

func validateExports(compiled wazero.CompiledModule) error {
	defs := compiled.ExportedFunctions()
	for name, want := range exports {
		def, ok := defs[name]
		if !ok {
			return errors.Load(fmt.Sprintf("missing export %q", name), nil)
		}
		if !sameTypes(def.ParamTypes(), want.params) || !sameTypes(def.ResultTypes(), want.results) {
			return errors.Load(fmt.Sprintf("export %q has signature %v -> %v, want %v -> %v",
				name, typeNames(def.ParamTypes()), typeNames(def.ResultTypes()),
				typeNames(want.params), typeNames(want.results)), nil)
		}
	}
	return nil
}

func sameTypes(a, b []api.ValueType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func typeNames(types []api.ValueType) []string {
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = api.ValueTypeName(t)
	}
	return names
}

func (r *Runtime) bindFunctions() {
	fn := r.module.ExportedFunction
	r.fnAlloc = fn("alloc")
	r.fnFree = fn("free")
	r.fnLastErrorKind = fn("last_error_kind")
	r.fnLastErrorMessage = fn("last_error_message")
	r.fnGlobalSessionCreate = fn("global_session_create")
	r.fnCreateSession = fn("global_session_create_session")
	r.fnLoadModule = fn("session_load_module")
	r.fnModuleEntryPointCount = fn("module_entry_point_count")
	r.fnModuleEntryPoint = fn("module_entry_point")
	r.fnEntryPointName = fn("entry_point_name")
	r.fnCreateComposite = fn("session_create_composite")
	r.fnLink = fn("composite_link")
	r.fnCompositeEntryPointCount = fn("composite_entry_point_count")
	r.fnCompositeEntryPointName = fn("composite_entry_point_name")
	r.fnTargetCode = fn("composite_target_code")
	r.fnEntryPointCode = fn("composite_entry_point_code")
	r.fnRelease = fn("release")
}

func (r *Runtime) loadTargets(ctx context.Context) error {
	res, err := r.module.ExportedFunction("target_count").Call(ctx)
	if err != nil {
		return errors.Load("query target count", err)
	}
	n := int(int32(res[0]))
	if n < 0 {
		return errors.Load(fmt.Sprintf("guest reported %d targets", n), nil)
	}

	nameFn := r.module.ExportedFunction("target_name")
	binaryFn := r.module.ExportedFunction("target_binary")
	r.targets = make([]foreign.Target, 0, n)
	for i := 0; i < n; i++ {
		res, err := nameFn.Call(ctx, uint64(i))
		if err != nil {
			return errors.Load(fmt.Sprintf("query target %d name", i), err)
		}
		name, ok := r.readPacked(ctx, res[0])
		if !ok {
			return errors.Load(fmt.Sprintf("target %d has no name", i), nil)
		}
		res, err = binaryFn.Call(ctx, uint64(i))
		if err != nil {
			return errors.Load(fmt.Sprintf("query target %d kind", i), err)
		}
		r.targets = append(r.targets, foreign.Target{
			Name:   string(name),
			Binary: uint32(res[0]) != 0,
		})
	}
	return nil
}

// Targets returns the catalogue reported by the guest at load time.
func (r *Runtime) Targets() []foreign.Target {
	out := make([]foreign.Target, len(r.targets))
	copy(out, r.targets)
	return out
}

func (r *Runtime) call(ctx context.Context, name string, fn api.Function, args ...uint64) (uint64, error) {
	res, err := fn.Call(ctx, args...)
	if err != nil {
		return 0, foreign.Errorf(foreign.ErrKindInternal, "%s trapped: %v", name, err)
	}
	if len(res) == 0 {
		return 0, nil
	}
	return res[0], nil
}

// object interprets a handle-returning call; negative values are failures.
func (r *Runtime) object(ctx context.Context, name string, fn api.Function, args ...uint64) (foreign.Object, error) {
	v, err := r.call(ctx, name, fn, args...)
	if err != nil {
		return 0, err
	}
	if int64(v) < 0 {
		return 0, r.lastError(ctx, name)
	}
	return foreign.Object(v), nil
}

// buffer interprets a buffer-returning call and copies the result out of
// guest memory.
func (r *Runtime) buffer(ctx context.Context, name string, fn api.Function, args ...uint64) ([]byte, error) {
	v, err := r.call(ctx, name, fn, args...)
	if err != nil {
		return nil, err
	}
	if v == failedBuffer {
		return nil, r.lastError(ctx, name)
	}
	buf, ok := r.readPacked(ctx, v)
	if !ok {
		return nil, foreign.Errorf(foreign.ErrKindInternal, "%s returned buffer outside guest memory", name)
	}
	return buf, nil
}

func (r *Runtime) lastError(ctx context.Context, op string) error {
	kind := r.lastErrorString(ctx, r.fnLastErrorKind)
	msg := r.lastErrorString(ctx, r.fnLastErrorMessage)
	if msg == "" {
		msg = op + " failed"
	}
	return &foreign.Error{Kind: kind, Message: msg}
}

func (r *Runtime) lastErrorString(ctx context.Context, fn api.Function) string {
	res, err := fn.Call(ctx)
	if err != nil || res[0] == failedBuffer {
		return ""
	}
	b, _ := r.readPacked(ctx, res[0])
	return string(b)
}

// readPacked copies a ptr<<32|len buffer out of guest memory and hands the
// guest allocation back. The result is never nil on success.
func (r *Runtime) readPacked(ctx context.Context, packed uint64) ([]byte, bool) {
	ptr, size := uint32(packed>>32), uint32(packed)
	buf, ok := r.memory.Read(ptr, size)
	if !ok {
		return nil, false
	}
	out := make([]byte, size)
	copy(out, buf)
	if size > 0 {
		if _, err := r.fnFree.Call(ctx, uint64(ptr), uint64(size)); err != nil {
			Logger().Warn("guest free failed", zap.Error(err))
		}
	}
	return out, true
}

// write copies data into a fresh guest allocation.
func (r *Runtime) write(ctx context.Context, data []byte) (uint32, error) {
	res, err := r.fnAlloc.Call(ctx, uint64(len(data)))
	if err != nil {
		return 0, foreign.Errorf(foreign.ErrKindInternal, "alloc trapped: %v", err)
	}
	ptr := uint32(res[0])
	if ptr == 0 && len(data) > 0 {
		return 0, foreign.Errorf(foreign.ErrKindInternal, "guest allocation of %d bytes failed", len(data))
	}
	if !r.memory.Write(ptr, data) {
		return 0, foreign.Errorf(foreign.ErrKindInternal, "write of %d bytes outside guest memory", len(data))
	}
	return ptr, nil
}

func (r *Runtime) release(ctx context.Context, ptr uint32, size int) {
	if size == 0 {
		return
	}
	if _, err := r.fnFree.Call(ctx, uint64(ptr), uint64(size)); err != nil {
		Logger().Warn("guest free failed", zap.Error(err))
	}
}

// CreateGlobalSession creates a root compilation context.
func (r *Runtime) CreateGlobalSession(ctx context.Context) (foreign.Object, error) {
	return r.object(ctx, "global_session_create", r.fnGlobalSessionCreate)
}

// CreateSession creates a session bound to one target.
func (r *Runtime) CreateSession(ctx context.Context, gs foreign.Object, target int) (foreign.Object, error) {
	return r.object(ctx, "global_session_create_session", r.fnCreateSession, uint64(gs), uint64(uint32(target)))
}

// LoadModule copies name, path and source into guest memory and compiles them.
func (r *Runtime) LoadModule(ctx context.Context, s foreign.Object, name, path, source string) (foreign.Object, error) {
	args := []uint64{uint64(s)}
	for _, str := range []string{name, path, source} {
		ptr, err := r.write(ctx, []byte(str))
		if err != nil {
			return 0, err
		}
		defer r.release(ctx, ptr, len(str))
		args = append(args, uint64(ptr), uint64(len(str)))
	}
	return r.object(ctx, "session_load_module", r.fnLoadModule, args...)
}

// ModuleEntryPoints returns the module's entry point objects.
func (r *Runtime) ModuleEntryPoints(ctx context.Context, m foreign.Object) ([]foreign.Object, error) {
	v, err := r.call(ctx, "module_entry_point_count", r.fnModuleEntryPointCount, uint64(m))
	if err != nil {
		return nil, err
	}
	n := int32(v)
	if n < 0 {
		return nil, r.lastError(ctx, "module_entry_point_count")
	}
	eps := make([]foreign.Object, 0, n)
	for i := int32(0); i < n; i++ {
		ep, err := r.object(ctx, "module_entry_point", r.fnModuleEntryPoint, uint64(m), uint64(uint32(i)))
		if err != nil {
			return nil, err
		}
		eps = append(eps, ep)
	}
	return eps, nil
}

// EntryPointName returns the entry point's function name.
func (r *Runtime) EntryPointName(ctx context.Context, ep foreign.Object) (string, error) {
	b, err := r.buffer(ctx, "entry_point_name", r.fnEntryPointName, uint64(ep))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// CreateComposite passes the component ids as a little-endian u64 array.
func (r *Runtime) CreateComposite(ctx context.Context, s foreign.Object, components []foreign.Object) (foreign.Object, error) {
	size := 8 * len(components)
	res, err := r.fnAlloc.Call(ctx, uint64(size))
	if err != nil {
		return 0, foreign.Errorf(foreign.ErrKindInternal, "alloc trapped: %v", err)
	}
	ptr := uint32(res[0])
	defer r.release(ctx, ptr, size)
	for i, c := range components {
		if !r.memory.WriteUint64Le(ptr+uint32(8*i), uint64(c)) {
			return 0, foreign.Errorf(foreign.ErrKindInternal, "component array outside guest memory")
		}
	}
	return r.object(ctx, "session_create_composite", r.fnCreateComposite,
		uint64(s), uint64(ptr), uint64(uint32(len(components))))
}

// Link resolves a composite into a new linked composite.
func (r *Runtime) Link(ctx context.Context, c foreign.Object) (foreign.Object, error) {
	return r.object(ctx, "composite_link", r.fnLink, uint64(c))
}

// LinkedEntryPoints returns the entry point names of a linked composite.
func (r *Runtime) LinkedEntryPoints(ctx context.Context, c foreign.Object) ([]string, error) {
	v, err := r.call(ctx, "composite_entry_point_count", r.fnCompositeEntryPointCount, uint64(c))
	if err != nil {
		return nil, err
	}
	n := int32(v)
	if n < 0 {
		return nil, r.lastError(ctx, "composite_entry_point_count")
	}
	names := make([]string, 0, n)
	for i := int32(0); i < n; i++ {
		b, err := r.buffer(ctx, "composite_entry_point_name", r.fnCompositeEntryPointName, uint64(c), uint64(uint32(i)))
		if err != nil {
			return nil, err
		}
		names = append(names, string(b))
	}
	return names, nil
}

// TargetCode returns the compiled program for target.
func (r *Runtime) TargetCode(ctx context.Context, c foreign.Object, target int) ([]byte, error) {
	return r.buffer(ctx, "composite_target_code", r.fnTargetCode, uint64(c), uint64(uint32(target)))
}

// EntryPointCode returns the compiled code of one entry point for target.
func (r *Runtime) EntryPointCode(ctx context.Context, c foreign.Object, ep, target int) ([]byte, error) {
	return r.buffer(ctx, "composite_entry_point_code", r.fnEntryPointCode,
		uint64(c), uint64(uint32(ep)), uint64(uint32(target)))
}

// Release disposes of a guest object.
func (r *Runtime) Release(ctx context.Context, kind foreign.ObjectKind, obj foreign.Object) error {
	_, err := r.call(ctx, "release", r.fnRelease, uint64(kind), uint64(obj))
	return err
}

// Close tears down the wazero runtime and all guest memory.
func (r *Runtime) Close(ctx context.Context) error {
	return r.wasm.Close(ctx)
}

func hostLog(ctx context.Context, m api.Module, level, ptr, size uint32) {
	buf, ok := m.Memory().Read(ptr, size)
	if !ok {
		Logger().Warn("guest log outside memory", zap.Uint32("ptr", ptr), zap.Uint32("len", size))
		return
	}
	msg := string(buf)
	switch level {
	case 0:
		Logger().Debug(msg, zap.String("source", "guest"))
	case 1:
		Logger().Info(msg, zap.String("source", "guest"))
	case 2:
		Logger().Warn(msg, zap.String("source", "guest"))
	default:
		Logger().Error(msg, zap.String("source", "guest"))
	}
}
