package memory

import (
	"fmt"
	"maps"
	"sort"

	"github.com/sctrcd/buspass/internal/ir"
)

// Type is the runtime type identity of a fact. Types form a single-inheritance
// hierarchy through Parent. Identity is by name.
type Type struct {
	name   string
	parent *Type
	fields map[string]string
}

// NewType creates a type with an optional parent and declared fields.
func NewType(name string, parent *Type, fields map[string]string) *Type {
	return &Type{name: name, parent: parent, fields: maps.Clone(fields)}
}

// Name returns the type name.
func (t *Type) Name() string {
	if t == nil {
		return ""
	}
	return t.name
}

// Parent returns the immediate supertype, or nil for a root type.
func (t *Type) Parent() *Type {
	if t == nil {
		return nil
	}
	return t.parent
}

// Fields returns a copy of the declared attribute types.
func (t *Type) Fields() map[string]string {
	if t == nil {
		return nil
	}
	return maps.Clone(t.fields)
}

// Same reports whether t and other name the same type.
func (t *Type) Same(other *Type) bool {
	return t != nil && other != nil && t.name == other.name
}

// Is reports whether t is other or a descendant of other at any depth.
func (t *Type) Is(other *Type) bool {
	for cur := t; cur != nil; cur = cur.parent {
		if cur.Same(other) {
			return true
		}
	}
	return false
}

func (t *Type) String() string {
	return t.Name()
}

// Registry resolves declared types by name.
type Registry struct {
	types map[string]*Type
	order []*Type
}

// NewRegistry builds a registry from type declarations.
//
// Declarations may appear in any order; Extends is resolved by name. Unknown
// supertypes, duplicate names and inheritance cycles are errors.
func NewRegistry(specs []ir.TypeSpec) (*Registry, error) {
	byName := make(map[string]ir.TypeSpec, len(specs))
	for _, spec := range specs {
		if spec.Name == "" {
			return nil, fmt.Errorf("type declaration without a name")
		}
		if _, dup := byName[spec.Name]; dup {
			return nil, fmt.Errorf("duplicate type %q", spec.Name)
		}
		byName[spec.Name] = spec
	}

	r := &Registry{types: make(map[string]*Type, len(specs))}
	resolving := make(map[string]bool)

	var resolve func(name string) (*Type, error)
	resolve = func(name string) (*Type, error) {
		if t, ok := r.types[name]; ok {
			return t, nil
		}
		spec, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("unknown type %q", name)
		}
		if resolving[name] {
			return nil, fmt.Errorf("inheritance cycle through type %q", name)
		}
		resolving[name] = true
		defer delete(resolving, name)

		var parent *Type
		if spec.Extends != "" {
			p, err := resolve(spec.Extends)
			if err != nil {
				return nil, fmt.Errorf("type %q extends: %w", name, err)
			}
			parent = p
		}
		t := NewType(name, parent, spec.Fields)
		r.types[name] = t
		return t, nil
	}

	for _, spec := range specs {
		t, err := resolve(spec.Name)
		if err != nil {
			return nil, err
		}
		r.order = append(r.order, t)
	}

	return r, nil
}

// Lookup returns the type with the given name.
func (r *Registry) Lookup(name string) (*Type, bool) {
	t, ok := r.types[name]
	return t, ok
}

// Types returns all types in declaration order.
func (r *Registry) Types() []*Type {
	out := make([]*Type, len(r.order))
	copy(out, r.order)
	return out
}

// Children returns the direct subtypes of t, sorted by name.
func (r *Registry) Children(t *Type) []*Type {
	var out []*Type
	for _, candidate := range r.order {
		if candidate.parent.Same(t) {
			out = append(out, candidate)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}
