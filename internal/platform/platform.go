// Package platform describes the hardware facts a tiling plan is computed against.
//
// Platform facts are consumed read-only and only through the compile-info store,
// never per request.
package platform

import (
	"strings"

	"github.com/pkg/errors"
)

// Info is the platform query interface.
type Info interface {
	CoreCount() uint32
	ScratchBufferBytes() uint64
	VectorRegisterBytes() uint64
	ChipRevision() ChipRevision
}

// ChipRevision identifies the chip architecture generation.
type ChipRevision int

// Known chip revisions.
const (
	Unknown ChipRevision = iota
	Arch32
	Arch35
)

// String returns the revision name.
func (r ChipRevision) String() string {
	switch r {
	case Arch32:
		return "arch32"
	case Arch35:
		return "arch35"
	default:
		return "unknown"
	}
}

// Branch returns the platform branch index used by tiling keys: 0 for
// arch32-class chips, 1 for arch35 and later.
func (r ChipRevision) Branch() uint64 {
	if r >= Arch35 {
		return 1
	}
	return 0
}

// ParseChipRevision converts a revision name to a ChipRevision.
func ParseChipRevision(s string) (ChipRevision, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "arch32":
		return Arch32, nil
	case "arch35":
		return Arch35, nil
	default:
		return Unknown, errors.Errorf("unknown chip revision %q", s)
	}
}

// Static is a fixed set of platform facts.
type Static struct {
	Cores    uint32       `yaml:"core_count"`
	Scratch  uint64       `yaml:"scratch_buffer_bytes"`
	Vector   uint64       `yaml:"vector_register_bytes"`
	Revision ChipRevision `yaml:"-"`
}

// CoreCount returns the number of vector cores.
func (s Static) CoreCount() uint32 { return s.Cores }

// ScratchBufferBytes returns the on-chip scratch buffer size per core.
func (s Static) ScratchBufferBytes() uint64 { return s.Scratch }

// VectorRegisterBytes returns the vector register width in bytes.
func (s Static) VectorRegisterBytes() uint64 { return s.Vector }

// ChipRevision returns the chip generation.
func (s Static) ChipRevision() ChipRevision { return s.Revision }

// Validate reports the first non-positive or missing fact.
func Validate(p Info) error {
	if p == nil {
		return errors.New("platform info is nil")
	}
	switch {
	case p.CoreCount() == 0:
		return errors.New("core count must be positive")
	case p.ScratchBufferBytes() == 0:
		return errors.New("scratch buffer size must be positive")
	case p.VectorRegisterBytes() == 0:
		return errors.New("vector register width must be positive")
	case p.ChipRevision() == Unknown:
		return errors.New("chip revision is unknown")
	}
	return nil
}
