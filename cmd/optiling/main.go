// Package main provides the optiling CLI.
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"reflect"
	"strings"

	"github.com/pkg/errors"

	"github.com/born-ml/optiling/internal/compileinfo"
	"github.com/born-ml/optiling/internal/ops"
	"github.com/born-ml/optiling/internal/platform"
	"github.com/born-ml/optiling/internal/tiling"
)

const version = "v0.1.0-dev"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func usage(w io.Writer) {
	fmt.Fprintf(w, "optiling %s - operator tiling planner\n\n", version)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  version    Show version")
	fmt.Fprintln(w, "  ops        List operators and their templates in selection order")
	fmt.Fprintln(w, "  presets    List platform presets")
	fmt.Fprintln(w, "  plan       Plan a request: plan -platform <preset|file> -request <file> [-v]")
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		usage(stdout)
		return 0
	}

	var err error
	switch args[0] {
	case "version":
		fmt.Fprintf(stdout, "optiling %s\n", version)
	case "ops":
		err = listOps(stdout)
	case "presets":
		listPresets(stdout)
	case "plan":
		err = plan(args[1:], stdout, stderr)
	case "help", "-h", "--help":
		usage(stdout)
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n", args[0])
		usage(stderr)
		return 2
	}
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

func builtinRegistry() (*tiling.Registry, error) {
	r := tiling.NewRegistry()
	if err := ops.RegisterAll(r); err != nil {
		return nil, err
	}
	return r, nil
}

func listOps(w io.Writer) error {
	r, err := builtinRegistry()
	if err != nil {
		return err
	}
	for _, op := range r.OpTypes() {
		fmt.Fprintln(w, op)
		for _, reg := range r.Registrations(op) {
			fmt.Fprintf(w, "  %-12s priority %d\n", reg.Template.Name(), reg.Priority)
		}
	}
	return nil
}

func listPresets(w io.Writer) {
	for _, name := range platform.Presets() {
		p, _ := platform.Preset(name)
		fmt.Fprintf(w, "%-16s cores=%d scratch=%d vector=%d chip=%s\n",
			name, p.Cores, p.Scratch, p.Vector, p.Revision)
	}
}

func plan(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("plan", flag.ContinueOnError)
	fs.SetOutput(stderr)
	platformName := fs.String("platform", "arch35-vector", "platform preset name or YAML file")
	requestPath := fs.String("request", "", "request YAML file")
	verbose := fs.Bool("v", false, "log every pipeline stage")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *requestPath == "" {
		return errors.New("plan: -request is required")
	}

	p, err := platform.Resolve(*platformName)
	if err != nil {
		return err
	}
	req, err := loadRequest(*requestPath)
	if err != nil {
		return err
	}
	r, err := builtinRegistry()
	if err != nil {
		return err
	}

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	engine := tiling.NewEngine(tiling.Config{
		Registry:        r,
		Store:           compileinfo.NewStore(),
		Platform:        p,
		Logger:          slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level})),
		SystemWorkspace: tiling.DefaultSystemWorkspace,
	})
	if err := engine.DoTiling(req); err != nil {
		return err
	}
	return report(stdout, r, req)
}

func report(w io.Writer, r *tiling.Registry, req *tiling.Request) error {
	fmt.Fprintf(w, "op:         %s\n", req.OpType)
	fmt.Fprintf(w, "template:   %s\n", req.Template())
	fmt.Fprintf(w, "tiling key: %d", req.TilingKey())
	if layout, ok := ops.KeyLayout(req.OpType); ok {
		values, err := layout.Decode(req.TilingKey())
		if err != nil {
			return err
		}
		parts := make([]string, len(values))
		for i, a := range layout.Axes() {
			parts[i] = fmt.Sprintf("%s=%d", a.Name, values[i])
		}
		fmt.Fprintf(w, " (%s)", strings.Join(parts, " "))
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "block dim:  %d\n", req.BlockDim())
	fmt.Fprintf(w, "workspaces: %v\n", req.WorkspaceSizes())
	fmt.Fprintf(w, "data (%d bytes):\n%s", req.Tiling.Size(), hex.Dump(req.Tiling.Bytes()))

	decoded, err := decodeData(r, req)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "fields:     %+v\n", decoded)
	return nil
}

// decodeData unpacks the tiling data into a fresh value of the selected
// template's layout type.
func decodeData(r *tiling.Registry, req *tiling.Request) (any, error) {
	for _, reg := range r.Registrations(req.OpType) {
		if reg.Template.Name() != req.Template() {
			continue
		}
		ptr := reflect.New(reflect.TypeOf(reg.Template.Layout()))
		if err := tiling.Decode(req.Tiling.Bytes(), ptr.Interface()); err != nil {
			return nil, err
		}
		return ptr.Elem().Interface(), nil
	}
	return nil, errors.Errorf("template %s not registered for %s", req.Template(), req.OpType)
}
