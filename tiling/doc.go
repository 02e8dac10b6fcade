// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package tiling plans operator launches for a multi-core accelerator.
//
// For each operator request it selects a tiling template, computes how the
// work is split across cores and through on-chip scratch, and produces the
// launch parameters a device kernel reads at dispatch time:
//   - a tiling key selecting the compiled kernel variant
//   - a block dim (number of cores to launch)
//   - workspace sizes (global memory scratch, runtime reservation first)
//   - a fixed-layout little-endian tiling data blob
//
// # Basic Usage
//
//	p, err := tiling.ResolvePlatform("arch35-vector")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	engine, err := tiling.New(p)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	req := tiling.NewRequest("MatMul", 1024)
//	req.Inputs = []tiling.TensorDesc{
//	    tiling.Desc(tiling.Float16, 1024, 64),
//	    tiling.Desc(tiling.Float16, 64, 64),
//	}
//	if err := engine.DoTiling(req); err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(req.Template(), req.TilingKey(), req.BlockDim())
//
// # Built-in Operators
//
//   - Reduce1D: Small (single core) and Large (multi-core with partials)
//   - Add, Mul: Contiguous and Broadcast
//   - MatMul: FullLoadB and Split (with split-K)
//   - RmsNorm: FullLoad and SplitD
//   - AscendQuant: PerTensor (scale attribute) and PerChannel (scale tensor)
//
// Use [OpTypes] to list them at runtime.
//
// # Errors
//
// Failures are reported as [*StageError] wrapping one of the sentinel errors
// below; match them with errors.Is.
package tiling
