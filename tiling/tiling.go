// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package tiling

import (
	"sync"

	"github.com/born-ml/optiling/internal/ops"
	"github.com/born-ml/optiling/internal/platform"
	"github.com/born-ml/optiling/internal/tensor"
	internal "github.com/born-ml/optiling/internal/tiling"
)

// Core types.
type (
	// Request is one operator invocation to plan.
	Request = internal.Request
	// Result holds the launch parameters of a planned request.
	Result = internal.Result
	// TensorDesc describes one input or output tensor.
	TensorDesc = internal.TensorDesc
	// RawTilingData is the caller-owned region tiling data is written into.
	RawTilingData = internal.RawTilingData
	// Attr is one named operator attribute.
	Attr = internal.Attr
	// Attrs is an operator's attribute list.
	Attrs = internal.Attrs
	// Engine runs the tiling pipeline.
	Engine = internal.Engine
	// Config controls an Engine.
	Config = internal.Config
	// Registry maps operator types to templates.
	Registry = internal.Registry
	// Template is one tiling strategy.
	Template = internal.Template
	// Plan is the per-request state of a capable template.
	Plan = internal.Plan
	// Context is passed to templates and plans.
	Context = internal.Context
	// KeyLayout encodes and decodes tiling keys.
	KeyLayout = internal.KeyLayout
	// Stage names a pipeline stage.
	Stage = internal.Stage
	// StageError reports the stage and template a request failed in.
	StageError = internal.StageError
)

// Tensor metadata.
type (
	// Shape is a tensor shape.
	Shape = tensor.Shape
	// DataType is an element type.
	DataType = tensor.DataType
	// Format is a storage layout tag.
	Format = tensor.Format
)

// Element types.
const (
	Float32  = tensor.Float32
	Float16  = tensor.Float16
	BFloat16 = tensor.BFloat16
	Int8     = tensor.Int8
	Int32    = tensor.Int32
	Int64    = tensor.Int64
	Uint8    = tensor.Uint8
	Bool     = tensor.Bool
)

// Platform types.
type (
	// Platform reports the hardware facts tiling depends on.
	Platform = platform.Info
	// StaticPlatform is a Platform with fixed values.
	StaticPlatform = platform.Static
	// ChipRevision identifies the chip generation.
	ChipRevision = platform.ChipRevision
)

// Chip revisions.
const (
	Arch32 = platform.Arch32
	Arch35 = platform.Arch35
)

// Errors.
var (
	ErrPlatformUnavailable   = internal.ErrPlatformUnavailable
	ErrInvalidShapeOrAttr    = internal.ErrInvalidShapeOrAttr
	ErrNoApplicableTemplate  = internal.ErrNoApplicableTemplate
	ErrSerializationOverflow = internal.ErrSerializationOverflow
	ErrInvalidPlan           = internal.ErrInvalidPlan
	ErrInvalidKey            = internal.ErrInvalidKey
)

// DefaultSystemWorkspace is the runtime reservation in front of every
// request's workspace list.
const DefaultSystemWorkspace = internal.DefaultSystemWorkspace

var (
	builtinOnce sync.Once
	builtinErr  error
)

// Default returns the process-wide registry with every built-in operator
// registered.
func Default() (*Registry, error) {
	builtinOnce.Do(func() {
		builtinErr = ops.RegisterAll(internal.Default())
	})
	return internal.Default(), builtinErr
}

// New creates an engine over the built-in operators for platform p. Each
// engine caches compile info for its own platform only.
func New(p Platform) (*Engine, error) {
	if _, err := Default(); err != nil {
		return nil, err
	}
	return internal.NewEngine(internal.DefaultConfig(p)), nil
}

// NewEngine creates an engine from an explicit config.
func NewEngine(cfg Config) *Engine {
	return internal.NewEngine(cfg)
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return internal.NewRegistry()
}

// RegisterBuiltins adds every built-in operator to r.
func RegisterBuiltins(r *Registry) error {
	return ops.RegisterAll(r)
}

// NewRequest creates a request for opType with a tiling region of capacity bytes.
func NewRequest(opType string, capacity int) *Request {
	return internal.NewRequest(opType, capacity)
}

// Desc builds a tensor descriptor in ND format.
func Desc(dtype DataType, dims ...int64) TensorDesc {
	return internal.Desc(dtype, dims...)
}

// Attribute constructors.
var (
	IntAttr    = internal.IntAttr
	FloatAttr  = internal.FloatAttr
	BoolAttr   = internal.BoolAttr
	StringAttr = internal.StringAttr
	IntsAttr   = internal.IntsAttr
	FloatsAttr = internal.FloatsAttr
)

// Decode unpacks serialized tiling data into the struct ptr points to.
func Decode(b []byte, ptr any) error {
	return internal.Decode(b, ptr)
}

// TilingKeyLayout returns the key layout of a built-in operator.
func TilingKeyLayout(opType string) (KeyLayout, bool) {
	return ops.KeyLayout(opType)
}

// OpTypes lists the built-in operator types.
func OpTypes() []string {
	r, err := Default()
	if err != nil {
		return nil
	}
	return r.OpTypes()
}

// ResolvePlatform returns a named preset or loads a YAML/JSON platform file.
func ResolvePlatform(nameOrPath string) (StaticPlatform, error) {
	return platform.Resolve(nameOrPath)
}

// PlatformPresets lists the built-in platform preset names.
func PlatformPresets() []string {
	return platform.Presets()
}

