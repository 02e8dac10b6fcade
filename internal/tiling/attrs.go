package tiling

// AttrKind is the value type carried by an Attr.
type AttrKind int

// Attribute kinds.
const (
	AttrInt AttrKind = iota
	AttrFloat
	AttrBool
	AttrString
	AttrInts
	AttrFloats
)

// Attr is one named operator attribute.
type Attr struct {
	Name   string
	Kind   AttrKind
	I      int64
	F      float32
	B      bool
	S      string
	Ints   []int64
	Floats []float32
}

// Attrs is the attribute bag of a request, in declaration order.
type Attrs []Attr

// IntAttr builds an integer attribute.
func IntAttr(name string, v int64) Attr { return Attr{Name: name, Kind: AttrInt, I: v} }

// FloatAttr builds a float attribute.
func FloatAttr(name string, v float32) Attr { return Attr{Name: name, Kind: AttrFloat, F: v} }

// BoolAttr builds a boolean attribute.
func BoolAttr(name string, v bool) Attr { return Attr{Name: name, Kind: AttrBool, B: v} }

// StringAttr builds a string attribute.
func StringAttr(name, v string) Attr { return Attr{Name: name, Kind: AttrString, S: v} }

// IntsAttr builds an integer list attribute.
func IntsAttr(name string, v ...int64) Attr { return Attr{Name: name, Kind: AttrInts, Ints: v} }

// FloatsAttr builds a float list attribute.
func FloatsAttr(name string, v ...float32) Attr { return Attr{Name: name, Kind: AttrFloats, Floats: v} }

// Lookup returns the attribute called name.
func (a Attrs) Lookup(name string) (Attr, bool) {
	for i := range a {
		if a[i].Name == name {
			return a[i], true
		}
	}
	return Attr{}, false
}

// Has reports whether the attribute is present.
func (a Attrs) Has(name string) bool {
	_, ok := a.Lookup(name)
	return ok
}

// Int returns an integer attribute or default value.
func (a Attrs) Int(name string, defaultVal int64) int64 {
	if attr, ok := a.Lookup(name); ok && attr.Kind == AttrInt {
		return attr.I
	}
	return defaultVal
}

// Float returns a float attribute or default value.
func (a Attrs) Float(name string, defaultVal float32) float32 {
	if attr, ok := a.Lookup(name); ok && attr.Kind == AttrFloat {
		return attr.F
	}
	return defaultVal
}

// Bool returns a boolean attribute or default value.
func (a Attrs) Bool(name string, defaultVal bool) bool {
	if attr, ok := a.Lookup(name); ok && attr.Kind == AttrBool {
		return attr.B
	}
	return defaultVal
}

// Str returns a string attribute or default value.
func (a Attrs) Str(name, defaultVal string) string {
	if attr, ok := a.Lookup(name); ok && attr.Kind == AttrString {
		return attr.S
	}
	return defaultVal
}

// Ints returns an integer list attribute.
func (a Attrs) Ints(name string) []int64 {
	if attr, ok := a.Lookup(name); ok && attr.Kind == AttrInts {
		return attr.Ints
	}
	return nil
}

// Floats returns a float list attribute.
func (a Attrs) Floats(name string) []float32 {
	if attr, ok := a.Lookup(name); ok && attr.Kind == AttrFloats {
		return attr.Floats
	}
	return nil
}

// RequireInt returns a required integer attribute.
func (a Attrs) RequireInt(name string) (int64, error) {
	attr, ok := a.Lookup(name)
	if !ok {
		return 0, Invalidf("missing required attribute %q", name)
	}
	if attr.Kind != AttrInt {
		return 0, Invalidf("attribute %q is not an int", name)
	}
	return attr.I, nil
}

// RequireFloat returns a required float attribute.
func (a Attrs) RequireFloat(name string) (float32, error) {
	attr, ok := a.Lookup(name)
	if !ok {
		return 0, Invalidf("missing required attribute %q", name)
	}
	if attr.Kind != AttrFloat {
		return 0, Invalidf("attribute %q is not a float", name)
	}
	return attr.F, nil
}
