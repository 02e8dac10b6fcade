// Package tiling implements the host-side tiling planner: a registry of
// competing tiling templates per operator type and an engine that selects and
// runs one of them for each request.
//
// The pipeline for one request is:
//
//	platform      cached compile info for the operator type
//	shape/attrs   the operator's Analyzer, shared by all templates
//	probe         templates in descending priority; first capable wins
//	op tiling     core and loop partitioning
//	lib tiling    library-level sub-tiling solvers
//	tiling key    KeyLayout encoding of the finalized plan
//	workspace     system reservation plus request-dependent sizes
//	serialize     fixed-layout little-endian encoding into the request
//
// Any failing stage aborts the request with a *StageError wrapping one of the
// Err* kinds. Nothing is written back unless every stage succeeds.
package tiling
