package tiling

import (
	"context"
	"log/slog"
	"math/bits"
	"reflect"
	"runtime"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/born-ml/optiling/internal/compileinfo"
	"github.com/born-ml/optiling/internal/platform"
	"github.com/born-ml/optiling/internal/tensor"
)

// DefaultSystemWorkspace is the workspace reserved for the runtime in front
// of every request-dependent allocation.
const DefaultSystemWorkspace = 16 * 1024 * 1024

// Config controls an Engine.
type Config struct {
	Registry        *Registry
	Store           *compileinfo.Store // facts of Platform only; never share across platforms
	Platform        platform.Info
	Logger          *slog.Logger
	SystemWorkspace uint64
	MaxParallel     int // PlanBatch concurrency; <= 0 means GOMAXPROCS
}

// DefaultConfig returns a config using the process-wide registry and a fresh
// compile info store bound to p.
func DefaultConfig(p platform.Info) Config {
	return Config{
		Registry:        Default(),
		Store:           compileinfo.NewStore(),
		Platform:        p,
		SystemWorkspace: DefaultSystemWorkspace,
		MaxParallel:     runtime.GOMAXPROCS(0),
	}
}

// Engine runs the tiling pipeline. It holds no per-request state and is safe
// for concurrent use once registration has finished.
type Engine struct {
	cfg Config
	log *slog.Logger
}

// NewEngine creates an engine. A missing registry or logger falls back to the
// process-wide default; a missing store is created for the engine.
func NewEngine(cfg Config) *Engine {
	if cfg.Registry == nil {
		cfg.Registry = Default()
	}
	if cfg.Store == nil {
		cfg.Store = compileinfo.NewStore()
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Engine{cfg: cfg, log: log}
}

// Registry returns the registry the engine selects templates from.
func (e *Engine) Registry() *Registry { return e.cfg.Registry }

// ResetCompileInfo drops the engine's cached compile info, ending its
// compilation session. It must not race with DoTiling.
func (e *Engine) ResetCompileInfo() { e.cfg.Store.Reset() }

// DoTiling plans req. On success the request's tiling region holds the
// serialized tiling data and its Result carries the tiling key, block dim and
// workspace sizes. On failure neither is touched.
func (e *Engine) DoTiling(req *Request) error {
	if req == nil {
		return errors.New("nil request")
	}
	log := e.log.With("op", req.OpType, "request", req.ID)

	// Platform stage.
	info, err := e.cfg.Store.GetOrCreate(req.OpType, e.cfg.Platform)
	if err != nil {
		return &StageError{Stage: StagePlatform, OpType: req.OpType, Err: err}
	}

	// Shape/Attr stage, shared by every template.
	derived, err := e.analyze(req, info)
	if err != nil {
		return &StageError{Stage: StageShapeAttrs, OpType: req.OpType, Err: err}
	}
	ctx := &Context{Request: req, Info: info, Derived: derived}

	templates := e.cfg.Registry.Lookup(req.OpType)
	for _, tmpl := range templates {
		plan, ok, err := tmpl.Probe(ctx)
		if err != nil {
			return &StageError{Stage: StageProbe, OpType: req.OpType, Template: tmpl.Name(), Err: err}
		}
		if !ok {
			log.Debug("template not capable", "template", tmpl.Name())
			continue
		}
		log.Debug("template capable", "template", tmpl.Name(), "stage", StageProbe)
		return e.commit(log, ctx, tmpl, plan)
	}

	return &StageError{
		Stage:  StageProbe,
		OpType: req.OpType,
		Err:    errors.Wrapf(ErrNoApplicableTemplate, "%d templates tried", len(templates)),
	}
}

func (e *Engine) analyze(req *Request, info *compileinfo.Info) (any, error) {
	if req.Tiling == nil {
		return nil, Invalidf("request has no tiling data region")
	}
	for i, in := range req.Inputs {
		if err := validateDesc(in); err != nil {
			return nil, Invalidf("input %d: %v", i, err)
		}
	}
	for i, out := range req.Outputs {
		if err := validateDesc(out); err != nil {
			return nil, Invalidf("output %d: %v", i, err)
		}
	}
	def, ok := e.cfg.Registry.Op(req.OpType)
	if !ok || def.Analyze == nil {
		return nil, nil
	}
	derived, err := def.Analyze(req, info)
	if err != nil && !errors.Is(err, ErrInvalidShapeOrAttr) {
		err = errors.Wrapf(ErrInvalidShapeOrAttr, "%v", err)
	}
	return derived, err
}

func validateDesc(d TensorDesc) error {
	if !d.DType.Valid() {
		// Operators reject unsupported dtypes themselves.
		return d.Shape.Validate()
	}
	return d.Shape.ValidateSize(d.DType.Size())
}

// commit runs the remaining stages of the chosen template and writes the
// result back. Nothing is written unless every stage succeeds.
func (e *Engine) commit(log *slog.Logger, ctx *Context, tmpl Template, plan Plan) error {
	req := ctx.Request
	fail := func(stage Stage, err error) error {
		log.Debug("stage failed", "template", tmpl.Name(), "stage", stage, "err", err)
		return &StageError{Stage: stage, OpType: req.OpType, Template: tmpl.Name(), Err: err}
	}

	if err := plan.OpTiling(ctx); err != nil {
		return fail(StageOpTiling, err)
	}
	if err := plan.LibTiling(ctx); err != nil {
		return fail(StageLibTiling, err)
	}

	key, err := plan.TilingKey(ctx)
	if err != nil {
		return fail(StageTilingKey, err)
	}

	sizes, err := plan.WorkspaceSizes(ctx)
	if err != nil {
		return fail(StageWorkspace, err)
	}
	workspaces := append([]uint64{e.cfg.SystemWorkspace}, sizes...)
	var total uint64
	for _, n := range workspaces {
		var carry uint64
		if total, carry = bits.Add64(total, n, 0); carry != 0 {
			return fail(StageWorkspace, errors.Wrapf(ErrInvalidPlan, "workspace sizes %v overflow uint64", workspaces))
		}
	}

	blockDim := plan.BlockDim()
	if blockDim == 0 || blockDim > ctx.Info.CoreCount {
		return fail(StageSerialize, errors.Wrapf(ErrInvalidPlan, "block dim %d not in [1, %d]", blockDim, ctx.Info.CoreCount))
	}

	data := plan.Data()
	if layoutType(data) != layoutType(tmpl.Layout()) {
		return fail(StageSerialize, errors.Wrapf(ErrInvalidPlan, "plan data %T does not match layout %T", data, tmpl.Layout()))
	}
	if err := Encode(data, req.Tiling); err != nil {
		return fail(StageSerialize, err)
	}

	req.result = &Result{
		Template:       tmpl.Name(),
		TilingKey:      key,
		BlockDim:       blockDim,
		WorkspaceSizes: workspaces,
	}
	log.Info("tiling plan selected",
		"template", tmpl.Name(),
		"tiling_key", key,
		"block_dim", blockDim,
		"data_size", req.Tiling.Size(),
	)
	return nil
}

func layoutType(v any) reflect.Type {
	t := reflect.TypeOf(v)
	if t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}

// PlanBatch plans independent requests concurrently and returns the first
// error. Cancelling ctx stops scheduling requests that have not started;
// requests already running complete. A batch that ran every request returns
// nil even if ctx is cancelled afterwards.
func (e *Engine) PlanBatch(ctx context.Context, reqs []*Request) error {
	g, gctx := errgroup.WithContext(ctx)
	limit := e.cfg.MaxParallel
	if limit <= 0 {
		limit = runtime.GOMAXPROCS(0)
	}
	g.SetLimit(limit)

	skipped := false
	for _, req := range reqs {
		if gctx.Err() != nil {
			skipped = true
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return e.DoTiling(req)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if skipped {
		// Without a request error gctx is only cancelled through ctx.
		return ctx.Err()
	}
	return nil
}

// Infer fills in missing output descriptors using the operator's inference
// functions. Outputs already present are left alone.
func (e *Engine) Infer(req *Request) error {
	if len(req.Outputs) > 0 {
		return nil
	}
	def, ok := e.cfg.Registry.Op(req.OpType)
	if !ok || def.InferShape == nil || def.InferDataType == nil {
		return errors.Errorf("%s: no inference functions registered", req.OpType)
	}

	shapes := make([]tensor.Shape, len(req.Inputs))
	dtypes := make([]tensor.DataType, len(req.Inputs))
	for i, in := range req.Inputs {
		shapes[i] = in.Shape
		dtypes[i] = in.DType
	}

	outShapes, err := def.InferShape(shapes, req.Attrs)
	if err != nil {
		return errors.Wrapf(err, "%s: infer shape", req.OpType)
	}
	outTypes, err := def.InferDataType(dtypes, req.Attrs)
	if err != nil {
		return errors.Wrapf(err, "%s: infer data type", req.OpType)
	}
	if len(outShapes) != len(outTypes) {
		return errors.Errorf("%s: inferred %d shapes but %d data types", req.OpType, len(outShapes), len(outTypes))
	}

	req.Outputs = make([]TensorDesc, len(outShapes))
	for i := range outShapes {
		req.Outputs[i] = TensorDesc{Shape: outShapes[i], DType: outTypes[i]}
	}
	return nil
}
