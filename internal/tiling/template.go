package tiling

import (
	"github.com/born-ml/optiling/internal/compileinfo"
	"github.com/born-ml/optiling/internal/tensor"
)

// Context is what a template sees of one request: the request itself, the
// cached platform facts and the template-agnostic quantities derived by the
// operator's Shape/Attr stage. A Context lives for one DoTiling call.
type Context struct {
	Request *Request
	Info    *compileinfo.Info
	Derived any
}

// Template is one competing tiling strategy for an operator type.
//
// Templates are stateless across requests. All per-request state lives in the
// Plan returned by Probe.
type Template interface {
	// Name identifies the template in logs and results.
	Name() string

	// Layout returns a zero value of the template's tiling data. It must be a
	// fixed-size value whose encoded size is a multiple of 8; Register
	// rejects anything else.
	Layout() any

	// Probe decides whether the template can handle the request. It may do
	// most of the sizing work while deciding. An infeasible request returns
	// (nil, false, nil); a non-nil error aborts the whole request.
	Probe(ctx *Context) (Plan, bool, error)
}

// Plan is the per-request state of an accepted template.
type Plan interface {
	// OpTiling partitions the work across cores and loops.
	OpTiling(ctx *Context) error

	// LibTiling runs library-level sub-tiling solvers.
	LibTiling(ctx *Context) error

	// TilingKey synthesizes the dispatch key from the finalized plan.
	TilingKey(ctx *Context) (uint64, error)

	// WorkspaceSizes returns request-dependent workspace byte counts. The
	// engine prepends the system reservation.
	WorkspaceSizes(ctx *Context) ([]uint64, error)

	// BlockDim returns the number of cores to launch.
	BlockDim() uint32

	// Data returns the finalized tiling data. It must have the same type as
	// the template's Layout.
	Data() any
}

// BasePlan supplies no-op stages for plans that size everything in Probe.
type BasePlan struct{}

// OpTiling does nothing.
func (BasePlan) OpTiling(*Context) error { return nil }

// LibTiling does nothing.
func (BasePlan) LibTiling(*Context) error { return nil }

// WorkspaceSizes returns no request-dependent workspace.
func (BasePlan) WorkspaceSizes(*Context) ([]uint64, error) { return nil, nil }

// Analyzer is the shared Shape/Attr stage of an operator. It validates the
// request and returns derived quantities every template of the operator uses.
type Analyzer func(req *Request, info *compileinfo.Info) (any, error)

// InferShapeFunc computes output shapes from input shapes and attributes.
type InferShapeFunc func(inputs []tensor.Shape, attrs Attrs) ([]tensor.Shape, error)

// InferDataTypeFunc computes output data types from input data types and attributes.
type InferDataTypeFunc func(inputs []tensor.DataType, attrs Attrs) ([]tensor.DataType, error)

// OpDef describes an operator type apart from its templates.
type OpDef struct {
	Type          string
	Analyze       Analyzer
	InferShape    InferShapeFunc
	InferDataType InferDataTypeFunc
}
