// Package vm implements the ilvm execution engine.
//
// This package contains:
//   - The CIL verifier and the Coder hooks it drives
//   - The interpreter coder, its paged code cache, and a tracing coder
//   - Tagged stack values, managed pointers and boxing
//   - Class layout, vtables and static constructor ordering
//   - Threads, frames, exception dispatch and monitors
//   - The process that ties metadata, collector and threads together
package vm
