package tiling

import (
	"github.com/google/uuid"

	"github.com/born-ml/optiling/internal/tensor"
)

// TensorDesc describes one input or output tensor of a request.
type TensorDesc struct {
	Shape  tensor.Shape
	DType  tensor.DataType
	Format tensor.Format
}

// Desc builds an ND tensor descriptor.
func Desc(dtype tensor.DataType, dims ...int64) TensorDesc {
	return TensorDesc{Shape: tensor.Shape(dims), DType: dtype}
}

// RawTilingData is the caller-owned output region for serialized tiling data.
// Its capacity is fixed at construction.
type RawTilingData struct {
	buf  []byte
	size int
}

// NewRawTilingData allocates an output region of capacity bytes.
func NewRawTilingData(capacity int) *RawTilingData {
	return &RawTilingData{buf: make([]byte, capacity)}
}

// WrapRawTilingData uses buf as the output region; its length is the capacity.
func WrapRawTilingData(buf []byte) *RawTilingData {
	return &RawTilingData{buf: buf}
}

// Capacity returns the number of bytes the region can hold.
func (r *RawTilingData) Capacity() int { return len(r.buf) }

// Size returns the number of bytes written by the last successful serialization.
func (r *RawTilingData) Size() int { return r.size }

// Bytes returns the written portion of the region.
func (r *RawTilingData) Bytes() []byte { return r.buf[:r.size] }

// Request is one tiling invocation. It is created and owned by the caller
// and must not be shared between concurrent DoTiling calls.
type Request struct {
	ID       string
	OpType   string
	NodeName string
	Inputs   []TensorDesc
	Outputs  []TensorDesc
	Attrs    Attrs
	Tiling   *RawTilingData

	result *Result
}

// Result holds the launch parameters written back by a successful plan.
type Result struct {
	Template       string
	TilingKey      uint64
	BlockDim       uint32
	WorkspaceSizes []uint64
}

// NewRequest creates a request with a fresh ID and an output region of capacity bytes.
func NewRequest(opType string, capacity int) *Request {
	return &Request{
		ID:     uuid.NewString(),
		OpType: opType,
		Tiling: NewRawTilingData(capacity),
	}
}

// Input returns input descriptor i.
func (r *Request) Input(i int) (TensorDesc, error) {
	if i < 0 || i >= len(r.Inputs) {
		return TensorDesc{}, Invalidf("%s: input %d missing (have %d)", r.OpType, i, len(r.Inputs))
	}
	return r.Inputs[i], nil
}

// Result returns the launch parameters, or nil if the request has not been
// planned successfully.
func (r *Request) Result() *Result { return r.result }

// TilingKey returns the dispatch key of the chosen plan.
func (r *Request) TilingKey() uint64 {
	if r.result == nil {
		return 0
	}
	return r.result.TilingKey
}

// BlockDim returns the number of cores to launch.
func (r *Request) BlockDim() uint32 {
	if r.result == nil {
		return 0
	}
	return r.result.BlockDim
}

// WorkspaceSizes returns the workspace byte counts: the system reservation
// first, then any request-dependent allocations.
func (r *Request) WorkspaceSizes() []uint64 {
	if r.result == nil {
		return nil
	}
	return r.result.WorkspaceSizes
}

// Template returns the name of the chosen template.
func (r *Request) Template() string {
	if r.result == nil {
		return ""
	}
	return r.result.Template
}
