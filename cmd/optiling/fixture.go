package main

import (
	"os"
	"sort"
	"strconv"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/born-ml/optiling/internal/tensor"
	"github.com/born-ml/optiling/internal/tiling"
)

const defaultCapacity = 4096

// fixture is a request description on disk:
//
//	op_type: AscendQuant
//	capacity: 256
//	inputs:
//	  - {shape: [1024, 1024], dtype: float16}
//	attrs:
//	  scale: !!float 1
//	  round_mode: floor
//
// Attribute kinds follow the YAML scalar type; tag integral floats with
// !!float.
type fixture struct {
	OpType   string               `yaml:"op_type"`
	NodeName string               `yaml:"node_name"`
	Capacity int                  `yaml:"capacity"`
	Inputs   []tensorFixture      `yaml:"inputs"`
	Outputs  []tensorFixture      `yaml:"outputs"`
	Attrs    map[string]yaml.Node `yaml:"attrs"`
}

type tensorFixture struct {
	Shape  []int64 `yaml:"shape"`
	DType  string  `yaml:"dtype"`
	Format string  `yaml:"format"`
}

func (f tensorFixture) desc() (tiling.TensorDesc, error) {
	dt, ok := tensor.ParseDataType(f.DType)
	if !ok {
		return tiling.TensorDesc{}, errors.Errorf("unknown dtype %q", f.DType)
	}
	format, ok := tensor.ParseFormat(f.Format)
	if !ok {
		return tiling.TensorDesc{}, errors.Errorf("unknown format %q", f.Format)
	}
	return tiling.TensorDesc{Shape: tensor.Shape(f.Shape), DType: dt, Format: format}, nil
}

func loadRequest(path string) (*tiling.Request, error) {
	//nolint:gosec // G304: request fixtures are user supplied
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read request file")
	}
	req, err := parseRequest(data)
	if err != nil {
		return nil, errors.Wrapf(err, "request file %s", path)
	}
	return req, nil
}

func parseRequest(data []byte) (*tiling.Request, error) {
	var f fixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.Wrap(err, "failed to parse request")
	}
	if f.OpType == "" {
		return nil, errors.New("op_type is required")
	}
	if f.Capacity <= 0 {
		f.Capacity = defaultCapacity
	}

	req := tiling.NewRequest(f.OpType, f.Capacity)
	req.NodeName = f.NodeName
	for i, in := range f.Inputs {
		d, err := in.desc()
		if err != nil {
			return nil, errors.Wrapf(err, "input %d", i)
		}
		req.Inputs = append(req.Inputs, d)
	}
	for i, out := range f.Outputs {
		d, err := out.desc()
		if err != nil {
			return nil, errors.Wrapf(err, "output %d", i)
		}
		req.Outputs = append(req.Outputs, d)
	}

	names := make([]string, 0, len(f.Attrs))
	for name := range f.Attrs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		node := f.Attrs[name]
		a, err := parseAttr(name, &node)
		if err != nil {
			return nil, err
		}
		req.Attrs = append(req.Attrs, a)
	}
	return req, nil
}

func parseAttr(name string, n *yaml.Node) (tiling.Attr, error) {
	switch n.Kind {
	case yaml.ScalarNode:
		switch n.ShortTag() {
		case "!!bool":
			var v bool
			err := n.Decode(&v)
			return tiling.BoolAttr(name, v), errors.Wrapf(err, "attr %s", name)
		case "!!int":
			v, err := strconv.ParseInt(n.Value, 0, 64)
			return tiling.IntAttr(name, v), errors.Wrapf(err, "attr %s", name)
		case "!!float":
			v, err := strconv.ParseFloat(n.Value, 32)
			return tiling.FloatAttr(name, float32(v)), errors.Wrapf(err, "attr %s", name)
		default:
			return tiling.StringAttr(name, n.Value), nil
		}
	case yaml.SequenceNode:
		ints := make([]int64, 0, len(n.Content))
		floats := make([]float32, 0, len(n.Content))
		allInts := true
		for _, c := range n.Content {
			v, err := strconv.ParseFloat(c.Value, 32)
			if err != nil {
				return tiling.Attr{}, errors.Wrapf(err, "attr %s", name)
			}
			floats = append(floats, float32(v))
			if c.ShortTag() == "!!int" {
				iv, err := strconv.ParseInt(c.Value, 0, 64)
				if err != nil {
					return tiling.Attr{}, errors.Wrapf(err, "attr %s", name)
				}
				ints = append(ints, iv)
			} else {
				allInts = false
			}
		}
		if allInts {
			return tiling.IntsAttr(name, ints...), nil
		}
		return tiling.FloatsAttr(name, floats...), nil
	default:
		return tiling.Attr{}, errors.Errorf("attr %s: unsupported YAML value", name)
	}
}
