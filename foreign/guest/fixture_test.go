package guest

// A minimal guest compiler encoded by hand. It reports a single "wgsl" target,
// loads any non-empty source as a module with entry points vs_main and
// fs_main, and returns a fixed four byte program for every code request.

const (
	opEnd       = 0x0b
	opIf        = 0x04
	opElse      = 0x05
	opCall      = 0x10
	opLocalGet  = 0x20
	opGlobalGet = 0x23
	opGlobalSet = 0x24
	opI32Const  = 0x41
	opI64Const  = 0x42
	opI32Eqz    = 0x45
	opI32GeU    = 0x4f
	opI64Eq     = 0x51
	opI32Add    = 0x6a
	opI64Add    = 0x7c
	opI64ExtU   = 0xad

	typeI32 = 0x7f
	typeI64 = 0x7e
)

// fixture data segment offsets
const (
	dataVSMain   = 1024
	dataFSMain   = 1040
	dataTarget   = 1056
	dataCode     = 1072
	dataErrKind  = 1088
	dataErrMsg   = 1104
	heapBase     = 4096
	fixtureError = "syntax error"
)

var fixtureCode = []byte{0x03, 0x02, 0x23, 0x07}

func uleb(v uint64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v == 0 {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}

func sleb(v int64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}

func name(s string) []byte {
	return append(uleb(uint64(len(s))), s...)
}

func vec(items ...[]byte) []byte {
	out := uleb(uint64(len(items)))
	for _, it := range items {
		out = append(out, it...)
	}
	return out
}

func section(id byte, content []byte) []byte {
	out := []byte{id}
	out = append(out, uleb(uint64(len(content)))...)
	return append(out, content...)
}

func functype(params, results []byte) []byte {
	out := []byte{0x60}
	out = append(out, uleb(uint64(len(params)))...)
	out = append(out, params...)
	out = append(out, uleb(uint64(len(results)))...)
	return append(out, results...)
}

func i32c(v int32) []byte { return append([]byte{opI32Const}, sleb(int64(v))...) }
func i64c(v int64) []byte { return append([]byte{opI64Const}, sleb(v)...) }

func packed(ptr, size uint32) []byte {
	return i64c(int64(uint64(ptr)<<32 | uint64(size)))
}

func code(parts ...[]byte) []byte {
	body := []byte{0x00} // no locals
	for _, p := range parts {
		body = append(body, p...)
	}
	body = append(body, opEnd)
	return append(uleb(uint64(len(body))), body...)
}

func ops(b ...byte) []byte { return b }

type fixtureFunc struct {
	name string
	typ  byte
	body []byte
}

func fixtureModule() []byte {
	types := [][]byte{
		functype([]byte{typeI32, typeI32, typeI32}, nil),                                                 // 0 env.log
		functype([]byte{typeI32}, []byte{typeI32}),                                                       // 1
		functype([]byte{typeI32, typeI32}, nil),                                                          // 2
		functype(nil, []byte{typeI64}),                                                                   // 3
		functype(nil, []byte{typeI32}),                                                                   // 4
		functype([]byte{typeI32}, []byte{typeI64}),                                                       // 5
		functype([]byte{typeI64, typeI32}, []byte{typeI64}),                                              // 6
		functype([]byte{typeI64, typeI32, typeI32, typeI32, typeI32, typeI32, typeI32}, []byte{typeI64}), // 7
		functype([]byte{typeI64}, []byte{typeI32}),                                                       // 8
		functype([]byte{typeI64}, []byte{typeI64}),                                                       // 9
		functype([]byte{typeI64, typeI32, typeI32}, []byte{typeI64}),                                     // 10
		functype([]byte{typeI32, typeI64}, nil),                                                          // 11
	}

	ifI64 := func(then, els []byte) []byte {
		out := []byte{opIf, typeI64}
		out = append(out, then...)
		out = append(out, opElse)
		out = append(out, els...)
		return append(out, opEnd)
	}
	cat := func(parts ...[]byte) []byte {
		var out []byte
		for _, p := range parts {
			out = append(out, p...)
		}
		return out
	}

	funcs := []fixtureFunc{
		{"alloc", 1, cat(
			ops(opGlobalGet, 0, opGlobalGet, 0, opLocalGet, 0, opI32Add, opGlobalSet, 0),
		)},
		{"free", 2, nil},
		{"last_error_kind", 3, packed(dataErrKind, 7)},
		{"last_error_message", 3, packed(dataErrMsg, uint32(len(fixtureError)))},
		{"target_count", 4, i32c(1)},
		{"target_name", 5, packed(dataTarget, 4)},
		{"target_binary", 1, i32c(0)},
		{"global_session_create", 3, i64c(1)},
		{"global_session_create_session", 6, i64c(2)},
		{"session_load_module", 7, cat(
			ops(opLocalGet, 6, opI32Eqz),
			ifI64(
				cat(i32c(2), i32c(dataErrMsg), i32c(int32(len(fixtureError))), ops(opCall, 0), i64c(-1)),
				i64c(3),
			),
		)},
		{"module_entry_point_count", 8, i32c(2)},
		{"module_entry_point", 6, cat(i64c(10), ops(opLocalGet, 1, opI64ExtU, opI64Add))},
		{"entry_point_name", 9, cat(
			ops(opLocalGet, 0), i64c(10), ops(opI64Eq),
			ifI64(packed(dataVSMain, 7), packed(dataFSMain, 7)),
		)},
		{"session_create_composite", 10, cat(
			ops(opLocalGet, 2, opI32Eqz),
			ifI64(i64c(-1), i64c(20)),
		)},
		{"composite_link", 9, i64c(21)},
		{"composite_entry_point_count", 8, i32c(2)},
		{"composite_entry_point_name", 6, cat(
			ops(opLocalGet, 1, opI32Eqz),
			ifI64(packed(dataVSMain, 7), packed(dataFSMain, 7)),
		)},
		{"composite_target_code", 6, packed(dataCode, uint32(len(fixtureCode)))},
		{"composite_entry_point_code", 10, cat(
			ops(opLocalGet, 1), i32c(2), ops(opI32GeU),
			ifI64(i64c(-1), packed(dataCode, uint32(len(fixtureCode)))),
		)},
		{"release", 11, nil},
	}

	var funcTypes, exports, bodies [][]byte
	for i, f := range funcs {
		funcTypes = append(funcTypes, uleb(uint64(f.typ)))
		// index 0 is the imported env.log
		exports = append(exports, append(name(f.name), append([]byte{0x00}, uleb(uint64(i+1))...)...))
		bodies = append(bodies, code(f.body))
	}
	exports = append(exports, append(name("memory"), 0x02, 0x00))

	segment := func(offset int32, data []byte) []byte {
		out := []byte{0x00}
		out = append(out, i32c(offset)...)
		out = append(out, opEnd)
		out = append(out, uleb(uint64(len(data)))...)
		return append(out, data...)
	}

	imports := vec(cat(name("env"), name("log"), []byte{0x00, 0x00}))
	memory := vec([]byte{0x00, 0x01})
	globals := vec(cat([]byte{typeI32, 0x01}, i32c(heapBase), []byte{opEnd}))
	data := vec(
		segment(dataVSMain, []byte("vs_main")),
		segment(dataFSMain, []byte("fs_main")),
		segment(dataTarget, []byte("wgsl")),
		segment(dataCode, fixtureCode),
		segment(dataErrKind, []byte("compile")),
		segment(dataErrMsg, []byte(fixtureError)),
	)

	mod := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}
	mod = append(mod, section(1, vec(types...))...)
	mod = append(mod, section(2, imports)...)
	mod = append(mod, section(3, vec(funcTypes...))...)
	mod = append(mod, section(5, memory)...)
	mod = append(mod, section(6, globals)...)
	mod = append(mod, section(7, vec(exports...))...)
	mod = append(mod, section(10, vec(bodies...))...)
	mod = append(mod, section(11, data)...)
	return mod
}
