package engine

import (
	"fmt"
	"strings"

	"github.com/sctrcd/buspass/internal/ir"
	"github.com/sctrcd/buspass/internal/memory"
)

// compiledRule is a rule resolved against the type registry.
type compiledRule struct {
	spec     ir.RuleSpec
	order    int // declaration order
	when     *memory.Type
	cond     condition
	absent   []*memory.Type
	insert   *memory.Type
	template ir.IRObject
}

// activationKey identifies an activation for refraction and condition caching.
type activationKey struct {
	rule   int
	handle memory.FactHandle
}

// activation is a rule ready to fire against a specific fact.
type activation struct {
	rule   *compiledRule
	handle memory.FactHandle
	fact   memory.Fact
}

// snapshotEntry pairs a handle with its fact for one agenda pass.
type snapshotEntry struct {
	handle memory.FactHandle
	fact   memory.Fact
}

// matchesType reports whether a fact can bind to the rule's when-clause.
// Patterns match the declared type and all of its descendants.
func (r *compiledRule) matchesType(f memory.Fact) bool {
	return f.Type().Is(r.when)
}

// guardsHold reports whether no fact in the snapshot is of an absent-type.
func (r *compiledRule) guardsHold(snapshot []snapshotEntry) bool {
	for _, guard := range r.absent {
		for _, e := range snapshot {
			if e.fact.Type().Is(guard) {
				return false
			}
		}
	}
	return true
}

// templatePrefix and templateSuffix delimit an attribute reference in a
// then-clause value: "${fact.age}".
const (
	templatePrefix = "${fact."
	templateSuffix = "}"
)

// templateRef returns the referenced attribute name if s is a template.
func templateRef(s string) (string, bool) {
	if len(s) > len(templatePrefix)+len(templateSuffix) &&
		strings.HasPrefix(s, templatePrefix) &&
		strings.HasSuffix(s, templateSuffix) {
		return s[len(templatePrefix) : len(s)-len(templateSuffix)], true
	}
	return "", false
}

// validateTemplate rejects strings that look like templates but are malformed.
func validateTemplate(s string) error {
	if !strings.Contains(s, "${") {
		return nil
	}
	name, ok := templateRef(s)
	if !ok || name == "" || strings.ContainsAny(name, "${}.") {
		return fmt.Errorf("malformed attribute reference %q, want \"${fact.<name>}\"", s)
	}
	return nil
}

// resolveAttrs substitutes attribute references from the matched fact.
//
// Example:
//
//	template = { "category": "senior", "holder_age": "${fact.age}" }
//	matched  = Person{ "age": 70 }
//	result   = { "category": "senior", "holder_age": 70 }
func resolveAttrs(template ir.IRObject, matched memory.Fact) (ir.IRObject, error) {
	resolved := make(ir.IRObject, len(template))
	for key, val := range template {
		s, isString := val.(ir.IRString)
		if !isString {
			resolved[key] = ir.CloneValue(val)
			continue
		}
		name, isRef := templateRef(string(s))
		if !isRef {
			resolved[key] = s
			continue
		}
		v, ok := matched.Attr(name)
		if !ok {
			return nil, fmt.Errorf("attribute %q not found on %s for key %q", name, matched.Type().Name(), key)
		}
		resolved[key] = v
	}
	return resolved, nil
}
