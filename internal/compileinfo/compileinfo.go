// Package compileinfo caches the platform facts each operator type is tiled against.
//
// An Info is built once per operator type from a platform query and shared,
// read-only, by every tiling request for that operator type.
package compileinfo

import (
	"github.com/pkg/errors"

	"github.com/born-ml/optiling/internal/platform"
)

// ErrPlatformUnavailable is returned when a platform fact is missing or not positive.
var ErrPlatformUnavailable = errors.New("platform unavailable")

// Info holds the platform-derived constants for one operator type.
type Info struct {
	OpType       string
	CoreCount    uint32
	ScratchBytes uint64
	VectorBytes  uint64
	ChipRevision platform.ChipRevision
}

// New queries p once and validates every fact.
func New(opType string, p platform.Info) (*Info, error) {
	if opType == "" {
		return nil, errors.Wrap(ErrPlatformUnavailable, "empty operator type")
	}
	if p == nil {
		return nil, errors.Wrapf(ErrPlatformUnavailable, "%s: no platform", opType)
	}
	info := &Info{
		OpType:       opType,
		CoreCount:    p.CoreCount(),
		ScratchBytes: p.ScratchBufferBytes(),
		VectorBytes:  p.VectorRegisterBytes(),
		ChipRevision: p.ChipRevision(),
	}
	if err := platform.Validate(info.facts()); err != nil {
		return nil, errors.Wrapf(ErrPlatformUnavailable, "%s: %v", opType, err)
	}
	return info, nil
}

func (i *Info) facts() platform.Static {
	return platform.Static{Cores: i.CoreCount, Scratch: i.ScratchBytes, Vector: i.VectorBytes, Revision: i.ChipRevision}
}

// UsableScratch returns the scratch bytes left after reserving reserved bytes,
// rounded down to a whole number of vector registers.
func (i *Info) UsableScratch(reserved uint64) uint64 {
	if reserved >= i.ScratchBytes {
		return 0
	}
	usable := i.ScratchBytes - reserved
	return usable - usable%i.VectorBytes
}

// VectorElems returns how many elements of elemSize bytes fit in one vector register.
func (i *Info) VectorElems(elemSize int) uint64 {
	if elemSize <= 0 {
		return 0
	}
	return i.VectorBytes / uint64(elemSize)
}
