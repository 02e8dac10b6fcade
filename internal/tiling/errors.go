package tiling

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/born-ml/optiling/internal/compileinfo"
)

// Error kinds. Every engine failure wraps exactly one of them.
var (
	ErrPlatformUnavailable   = compileinfo.ErrPlatformUnavailable
	ErrInvalidShapeOrAttr    = errors.New("invalid shape or attribute")
	ErrNoApplicableTemplate  = errors.New("no tiling strategy applicable")
	ErrSerializationOverflow = errors.New("tiling data serialization overflow")
	ErrInvalidPlan           = errors.New("invalid tiling plan")
	ErrInvalidKey            = errors.New("invalid tiling key")
)

// Stage names one step of the tiling pipeline.
type Stage string

// Pipeline stages in execution order.
const (
	StagePlatform   Stage = "platform"
	StageShapeAttrs Stage = "shape_attrs"
	StageProbe      Stage = "probe"
	StageOpTiling   Stage = "op_tiling"
	StageLibTiling  Stage = "lib_tiling"
	StageTilingKey  Stage = "tiling_key"
	StageWorkspace  Stage = "workspace"
	StageSerialize  Stage = "serialize"
)

// StageError reports which stage of which template failed a request.
type StageError struct {
	Stage    Stage
	OpType   string
	Template string // empty for stages shared by every template
	Err      error
}

// Error implements the error interface.
func (e *StageError) Error() string {
	if e.Template != "" {
		return fmt.Sprintf("%s: template %q: %s: %v", e.OpType, e.Template, e.Stage, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.OpType, e.Stage, e.Err)
}

// Unwrap returns the underlying error.
func (e *StageError) Unwrap() error {
	return e.Err
}

// Invalidf returns an ErrInvalidShapeOrAttr carrying a formatted reason.
func Invalidf(format string, args ...any) error {
	return errors.Wrapf(ErrInvalidShapeOrAttr, format, args...)
}

// PlanErrorf returns an ErrInvalidPlan for a template that accepted a request
// but could not complete its plan.
func PlanErrorf(format string, args ...any) error {
	return errors.Wrapf(ErrInvalidPlan, format, args...)
}
