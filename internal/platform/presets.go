package platform

import "sort"

var presets = map[string]Static{
	"arch32-ai-core": {Cores: 24, Scratch: 192 * 1024, Vector: 256, Revision: Arch32},
	"arch32-vector":  {Cores: 48, Scratch: 192 * 1024, Vector: 256, Revision: Arch32},
	"arch35-vector":  {Cores: 64, Scratch: 248 * 1024, Vector: 256, Revision: Arch35},
	"arch35-lite":    {Cores: 8, Scratch: 248 * 1024, Vector: 128, Revision: Arch35},
}

// Preset returns a compiled-in platform description.
func Preset(name string) (Static, bool) {
	s, ok := presets[name]
	return s, ok
}

// Presets returns the preset names in sorted order.
func Presets() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
