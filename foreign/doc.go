// Package foreign defines the boundary between the shader bridge and the
// compiler runtime it drives.
//
// The runtime behind Runtime is treated as a black box that can only be
// reached through plain values: object ids, integers, UTF-8 text and byte
// buffers. Two implementations ship with the bridge:
//
//	foreign/native  in-process WGSL compiler built on naga
//	foreign/guest   sandboxed WebAssembly compiler guest hosted by wazero
//
// The host never holds references into the runtime's memory. It mirrors
// every object it receives with a handle of its own and releases each object
// exactly once through Release.
package foreign
