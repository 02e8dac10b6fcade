package platform

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// document is the on-disk platform description.
//
//	core_count: 48
//	scratch_buffer_bytes: 196608
//	vector_register_bytes: 256
//	chip_revision: arch35
type document struct {
	Static `yaml:",inline"`
	Chip   string `yaml:"chip_revision"`
}

// Parse decodes a YAML (or JSON) platform description and validates it.
func Parse(data []byte) (Static, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Static{}, errors.Wrap(err, "failed to parse platform description")
	}
	rev, err := ParseChipRevision(doc.Chip)
	if err != nil {
		return Static{}, errors.WithStack(err)
	}
	s := doc.Static
	s.Revision = rev
	if err := Validate(s); err != nil {
		return Static{}, errors.WithStack(err)
	}
	return s, nil
}

// LoadFile reads a platform description from path.
func LoadFile(path string) (Static, error) {
	//nolint:gosec // G304: platform files are operator supplied
	data, err := os.ReadFile(path)
	if err != nil {
		return Static{}, errors.Wrap(err, "failed to read platform file")
	}
	s, err := Parse(data)
	if err != nil {
		return Static{}, errors.Wrapf(err, "platform file %s", path)
	}
	return s, nil
}

// Resolve returns the preset called name, or loads name as a file when no
// preset matches.
func Resolve(name string) (Static, error) {
	if s, ok := Preset(name); ok {
		return s, nil
	}
	return LoadFile(name)
}
