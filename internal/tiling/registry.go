package tiling

import (
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// Registration is one template registered under an operator type.
type Registration struct {
	Template Template
	Priority int
	Seq      int // registration order, breaks priority ties
}

type opEntry struct {
	def  OpDef
	regs []Registration
}

// Registry maps operator types to their templates, ordered by descending
// priority with ties kept in registration order.
//
// Registration happens at load time; after that the registry is only read.
type Registry struct {
	mu  sync.RWMutex
	ops map[string]*opEntry
	seq int
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{ops: make(map[string]*opEntry)}
}

var defaultRegistry = NewRegistry()

// Default returns the process-wide registry.
func Default() *Registry {
	return defaultRegistry
}

// Register adds a template for opType. Duplicate priorities are legal. The
// template's Layout must encode to a fixed size that is a multiple of 8.
func (r *Registry) Register(opType string, tmpl Template, priority int) error {
	if opType == "" {
		return errors.New("register: empty operator type")
	}
	if tmpl == nil {
		return errors.Errorf("register %s: nil template", opType)
	}
	if _, err := DataSize(tmpl.Layout()); err != nil {
		return errors.Wrapf(err, "register %s/%s", opType, tmpl.Name())
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.entry(opType)
	r.seq++
	e.regs = append(e.regs, Registration{Template: tmpl, Priority: priority, Seq: r.seq})
	sort.SliceStable(e.regs, func(i, j int) bool {
		return e.regs[i].Priority > e.regs[j].Priority
	})
	return nil
}

// MustRegister is Register that panics on error, for load-time registration.
func (r *Registry) MustRegister(opType string, tmpl Template, priority int) {
	if err := r.Register(opType, tmpl, priority); err != nil {
		panic(err)
	}
}

// RegisterOp sets the Shape/Attr stage and inference functions of an operator type.
func (r *Registry) RegisterOp(def OpDef) error {
	if def.Type == "" {
		return errors.New("register op: empty operator type")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.entry(def.Type).def = def
	return nil
}

func (r *Registry) entry(opType string) *opEntry {
	e, ok := r.ops[opType]
	if !ok {
		e = &opEntry{}
		r.ops[opType] = e
	}
	return e
}

// Lookup returns the templates for opType in selection order. An unknown
// operator type yields an empty list.
func (r *Registry) Lookup(opType string) []Template {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.ops[opType]
	if !ok {
		return nil
	}
	out := make([]Template, len(e.regs))
	for i, reg := range e.regs {
		out[i] = reg.Template
	}
	return out
}

// Registrations returns the registrations for opType in selection order.
func (r *Registry) Registrations(opType string) []Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.ops[opType]
	if !ok {
		return nil
	}
	out := make([]Registration, len(e.regs))
	copy(out, e.regs)
	return out
}

// Op returns the operator definition for opType.
func (r *Registry) Op(opType string) (OpDef, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.ops[opType]
	if !ok || e.def.Type == "" {
		return OpDef{}, false
	}
	return e.def, true
}

// OpTypes returns every registered operator type in sorted order.
func (r *Registry) OpTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ops := make([]string, 0, len(r.ops))
	for op := range r.ops {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	return ops
}
