// Package native implements foreign.Runtime in-process on top of the naga
// WGSL compiler.
//
// Modules are WGSL sources. Linking concatenates the sources of every module
// referenced by a composite, in first-occurrence order, and lowers them as a
// single program restricted to the selected entry points. The target
// catalogue is spirv (binary), wgsl, glsl, msl and hlsl.
package native
