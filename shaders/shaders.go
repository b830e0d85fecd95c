// Package shaders embeds the GPU programs for the CRT post-FX pass.
//
// The WGSL and GLSL sources implement the same effect chain over the same
// 128-byte uniform block; core.UniformState documents the layout both
// declare.
package shaders

import (
	_ "embed"
)

//go:embed crt.wgsl
var CRTWGSL string

//go:embed selftest.wgsl
var SelfTestWGSL string

//go:embed crt_vert.glsl
var CRTVertexGLSL string

//go:embed crt_frag.glsl
var CRTFragmentGLSL string
