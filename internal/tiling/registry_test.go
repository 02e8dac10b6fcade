package tiling

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type layoutTemplate struct {
	fakeTemplate
	layout any
}

func (l *layoutTemplate) Layout() any { return l.layout }

func TestRegister_Invalid(t *testing.T) {
	r := NewRegistry()

	assert.Error(t, r.Register("", &fakeTemplate{name: "a"}, 1))
	assert.Error(t, r.Register("Op", nil, 1))

	misaligned := &layoutTemplate{fakeTemplate: fakeTemplate{name: "odd"}, layout: struct {
		A uint32
		B uint8
	}{}}
	err := r.Register("Op", misaligned, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSerializationOverflow)

	variable := &layoutTemplate{fakeTemplate: fakeTemplate{name: "slice"}, layout: struct{ S []int64 }{}}
	err = r.Register("Op", variable, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidPlan)

	assert.Empty(t, r.Lookup("Op"))
}

func TestRegistry_Order(t *testing.T) {
	r := NewRegistry()
	r.MustRegister("Op", &fakeTemplate{name: "low"}, 5)
	r.MustRegister("Op", &fakeTemplate{name: "high-first"}, 10)
	r.MustRegister("Op", &fakeTemplate{name: "high-second"}, 10)
	r.MustRegister("Op", &fakeTemplate{name: "lowest"}, 1)
	r.MustRegister("Op", &fakeTemplate{name: "high-third"}, 10)

	var names []string
	for _, tmpl := range r.Lookup("Op") {
		names = append(names, tmpl.Name())
	}
	assert.Equal(t, []string{"high-first", "high-second", "high-third", "low", "lowest"}, names)

	regs := r.Registrations("Op")
	require.Len(t, regs, 5)
	assert.Equal(t, 10, regs[0].Priority)
	assert.Less(t, regs[0].Seq, regs[1].Seq)
}

func TestRegistry_Unknown(t *testing.T) {
	r := NewRegistry()
	assert.Empty(t, r.Lookup("Missing"))
	assert.Empty(t, r.Registrations("Missing"))
	_, ok := r.Op("Missing")
	assert.False(t, ok)
}

func TestRegistry_Ops(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterOp(OpDef{Type: "B"}))
	r.MustRegister("A", &fakeTemplate{name: "a"}, 1)
	assert.Error(t, r.RegisterOp(OpDef{}))

	assert.Equal(t, []string{"A", "B"}, r.OpTypes())
	def, ok := r.Op("B")
	require.True(t, ok)
	assert.Equal(t, "B", def.Type)

	// A has templates but no OpDef.
	_, ok = r.Op("A")
	assert.False(t, ok)
}

func TestRegistry_LookupIsCopy(t *testing.T) {
	r := NewRegistry()
	r.MustRegister("Op", &fakeTemplate{name: "a"}, 1)

	list := r.Lookup("Op")
	list[0] = &fakeTemplate{name: "mutated"}
	assert.Equal(t, "a", r.Lookup("Op")[0].Name())
}
