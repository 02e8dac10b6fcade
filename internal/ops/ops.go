// Package ops registers every operator in the library.
package ops

import (
	"github.com/pkg/errors"

	"github.com/born-ml/optiling/internal/ops/elementwise"
	"github.com/born-ml/optiling/internal/ops/matmul"
	"github.com/born-ml/optiling/internal/ops/quant"
	"github.com/born-ml/optiling/internal/ops/reduce"
	"github.com/born-ml/optiling/internal/ops/rmsnorm"
	"github.com/born-ml/optiling/internal/tiling"
)

var registrars = []struct {
	name     string
	register func(*tiling.Registry) error
}{
	{"elementwise", elementwise.Register},
	{"matmul", matmul.Register},
	{"quant", quant.Register},
	{"reduce", reduce.Register},
	{"rmsnorm", rmsnorm.Register},
}

// RegisterAll adds every operator and template to r.
func RegisterAll(r *tiling.Registry) error {
	for _, reg := range registrars {
		if err := reg.register(r); err != nil {
			return errors.Wrapf(err, "register %s", reg.name)
		}
	}
	return nil
}

// KeyLayout returns the tiling key layout used by opType's templates.
func KeyLayout(opType string) (tiling.KeyLayout, bool) {
	switch opType {
	case reduce.OpType:
		return reduce.KeyLayout, true
	case matmul.OpType:
		return matmul.KeyLayout, true
	case rmsnorm.OpType:
		return rmsnorm.KeyLayout, true
	case quant.OpType:
		return quant.KeyLayout, true
	}
	if k, ok := elementwise.KeyLayout(opType); ok {
		return k, true
	}
	return nil, false
}
