package memory

import (
	"fmt"

	"github.com/sctrcd/buspass/internal/ir"
)

// Fact is an immutable typed record in working memory.
//
// Attributes are deep-copied on construction and on every read, so a Fact
// cannot be modified after it has been built. The zero Fact has no type.
type Fact struct {
	typ   *Type
	attrs ir.IRObject
}

// NewFact creates a fact of type t with a copy of attrs.
func NewFact(t *Type, attrs ir.IRObject) Fact {
	return Fact{typ: t, attrs: attrs.Clone()}
}

// Type returns the fact's runtime type.
func (f Fact) Type() *Type {
	return f.typ
}

// IsZero reports whether f is the zero Fact.
func (f Fact) IsZero() bool {
	return f.typ == nil
}

// Attr returns a copy of a single attribute.
func (f Fact) Attr(name string) (ir.IRValue, bool) {
	v, ok := f.attrs[name]
	if !ok {
		return nil, false
	}
	return ir.CloneValue(v), true
}

// Attrs returns a copy of all attributes.
func (f Fact) Attrs() ir.IRObject {
	return f.attrs.Clone()
}

// Native returns the attributes as plain Go values.
func (f Fact) Native() map[string]any {
	return ir.Native(f.attrs).(map[string]any)
}

// Digest returns the content hash of the fact's type and attributes.
func (f Fact) Digest() (string, error) {
	return ir.FactDigest(f.typ.Name(), f.attrs)
}

// Equal reports whether two facts have the same type name and attributes.
func (f Fact) Equal(other Fact) bool {
	if f.typ.Name() != other.typ.Name() {
		return false
	}
	a, errA := ir.MarshalCanonical(f.attrs)
	b, errB := ir.MarshalCanonical(other.attrs)
	return errA == nil && errB == nil && string(a) == string(b)
}

// String renders the fact as `Type{canonical attrs}`.
func (f Fact) String() string {
	if f.IsZero() {
		return "<no fact>"
	}
	attrs, err := ir.MarshalCanonical(f.attrs)
	if err != nil {
		return fmt.Sprintf("%s{<%v>}", f.typ.Name(), err)
	}
	return f.typ.Name() + string(attrs)
}
