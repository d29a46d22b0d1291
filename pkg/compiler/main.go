// Package compiler generates assembly for the mipsim CPU from a typed
// program tree.
//
// Pipeline: tree (built with the node types) + Scope (filled with the
// Declare* API) → Generate → assembly text → asm.Assemble → cpu.Image
package compiler
