// Package guest implements foreign.Runtime over a shader compiler compiled
// to WebAssembly and hosted in wazero.
//
// The guest exchanges only i32 and i64 values. Object results are signed
// 64-bit ids where negative means failure. Buffer results pack a guest
// pointer and length as ptr<<32|len, with all bits set meaning failure; the
// host copies the bytes out and returns the allocation through free. After
// any failure the host reads last_error_kind and last_error_message to build
// a *foreign.Error.
//
// The guest may import env.log(level, ptr, len) to write to the package
// logger.
package guest
