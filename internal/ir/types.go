package ir

// RuleSet is a compiled rule-set artifact: fact types and rules in
// declaration order. It is read-only once compiled.
type RuleSet struct {
	Types []TypeSpec `json:"types"`
	Rules []RuleSpec `json:"rules"`
}

// TypeSpec declares a fact type.
//
// Extends names the immediate supertype ("" for a root type). Fields maps
// attribute names to type names ("string", "int", "bool", "array", "object");
// a fact of an input type must carry every declared field.
type TypeSpec struct {
	Name    string            `json:"name"`
	Extends string            `json:"extends,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// RuleSpec is a compiled condition->action rule.
type RuleSpec struct {
	ID       string     `json:"id"`
	Salience int64      `json:"salience"`
	When     WhenClause `json:"when"`
	Absent   []string   `json:"absent,omitempty"` // types that must have no fact in working memory
	Then     ThenClause `json:"then"`
}

// WhenClause matches one fact of Type (or any descendant type) for which
// Condition evaluates to true. An empty Condition always matches.
type WhenClause struct {
	Type      string `json:"type"`
	Condition string `json:"condition,omitempty"` // CEL expression over `fact` and `factType`
}

// ThenClause inserts a new fact of type Insert.
//
// Attrs values that are strings of the form "${fact.<name>}" copy the named
// attribute from the matched fact; all other values are literals.
type ThenClause struct {
	Insert string   `json:"insert"`
	Attrs  IRObject `json:"attrs,omitempty"`
}

// ValidFieldTypes lists the attribute type names accepted in type declarations.
var ValidFieldTypes = map[string]bool{
	"string": true,
	"int":    true,
	"bool":   true,
	"array":  true,
	"object": true,
}
