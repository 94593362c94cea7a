package compiler

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/sctrcd/buspass/internal/ir"
)

// Validation error codes (E100-E199)
const (
	// General validation errors (E100)
	ErrUnsupportedIRType = "E100" // unsupported IR type for validation

	// Fact type errors (E101-E109)
	ErrTypeNameEmpty      = "E101" // type name is required
	ErrUnknownParent      = "E102" // extends names an undeclared type
	ErrInheritanceCycle   = "E103" // type is its own ancestor
	ErrInvalidFieldType   = "E104" // invalid type string
	ErrDuplicateName      = "E105" // duplicate type or rule name
	ErrFloatTypeForbidden = "E106" // float types not allowed

	// Rule errors (E110-E119)
	ErrRuleIDEmpty      = "E110" // rule ID is required
	ErrUnknownWhenType  = "E111" // when.type names an undeclared type
	ErrInvalidCondition = "E112" // condition is syntactically unusable
	ErrInvalidThen      = "E113" // then.insert missing or undeclared
	ErrInvalidTemplate  = "E114" // malformed "${fact.<name>}" reference
	ErrUnknownAbsent    = "E115" // absent names an undeclared type
	ErrMissingClause    = "E116" // missing required clause
)

// ValidationError represents a schema validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[%s] line %d: %s: %s", e.Code, e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validate validates compiled IR against schema rules.
// Returns all errors found (does not fail-fast).
//
// A TypeSpec or RuleSpec is checked on its own; a RuleSet is additionally
// checked for cross references (declared types, duplicate names and
// inheritance cycles). CEL conditions are only checked for being
// non-blank here; the engine type-checks them when it is built.
func Validate(v any) []ValidationError {
	switch spec := v.(type) {
	case *ir.TypeSpec:
		return validateTypeSpec(spec, "fact."+spec.Name)
	case ir.TypeSpec:
		return validateTypeSpec(&spec, "fact."+spec.Name)
	case *ir.RuleSpec:
		return validateRuleSpec(spec, "rule."+spec.ID)
	case ir.RuleSpec:
		return validateRuleSpec(&spec, "rule."+spec.ID)
	case *ir.RuleSet:
		return validateRuleSet(spec)
	case ir.RuleSet:
		return validateRuleSet(&spec)
	default:
		return []ValidationError{{
			Field:   "type",
			Message: fmt.Sprintf("unsupported IR type: %T", v),
			Code:    ErrUnsupportedIRType,
		}}
	}
}

// validateTypeSpec validates a single fact type declaration.
func validateTypeSpec(spec *ir.TypeSpec, path string) []ValidationError {
	var errs []ValidationError

	// E101: name is required
	if strings.TrimSpace(spec.Name) == "" {
		errs = append(errs, ValidationError{
			Field:   path + ".name",
			Message: "type name is required and must be non-empty",
			Code:    ErrTypeNameEmpty,
		})
	}

	// E103: direct self-extension
	if spec.Extends != "" && spec.Extends == spec.Name {
		errs = append(errs, ValidationError{
			Field:   path + ".extends",
			Message: fmt.Sprintf("type %q cannot extend itself", spec.Name),
			Code:    ErrInheritanceCycle,
		})
	}

	for _, fieldName := range sortedKeys(spec.Fields) {
		errs = append(errs, validateFieldType(spec.Fields[fieldName], path+".fields."+fieldName, fieldName)...)
	}

	return errs
}

// validateFieldType validates a type string, returning errors for invalid types and floats.
func validateFieldType(fieldType, fieldPath, fieldName string) []ValidationError {
	// E106: float forbidden, reported instead of the generic E104
	if isFloatType(fieldType) {
		return []ValidationError{{
			Field:   fieldPath,
			Message: fmt.Sprintf("float type forbidden for field %q, use int instead", fieldName),
			Code:    ErrFloatTypeForbidden,
		}}
	}

	// E104: check for valid type
	if !ir.ValidFieldTypes[fieldType] {
		return []ValidationError{{
			Field:   fieldPath,
			Message: fmt.Sprintf("invalid type %q for field %q", fieldType, fieldName),
			Code:    ErrInvalidFieldType,
		}}
	}

	return nil
}

// validateRuleSpec validates a single rule.
func validateRuleSpec(rule *ir.RuleSpec, path string) []ValidationError {
	var errs []ValidationError

	// E110: rule ID is required
	if strings.TrimSpace(rule.ID) == "" {
		errs = append(errs, ValidationError{
			Field:   path + ".id",
			Message: "rule ID is required and must be non-empty",
			Code:    ErrRuleIDEmpty,
		})
	}

	// E116: when.type and then.insert are required
	if strings.TrimSpace(rule.When.Type) == "" {
		errs = append(errs, ValidationError{
			Field:   path + ".when.type",
			Message: "when clause requires a fact type",
			Code:    ErrMissingClause,
		})
	}
	if strings.TrimSpace(rule.Then.Insert) == "" {
		errs = append(errs, ValidationError{
			Field:   path + ".then.insert",
			Message: "then clause requires a fact type to insert",
			Code:    ErrMissingClause,
		})
	}

	// E112: a present condition must not be blank
	if rule.When.Condition != "" && strings.TrimSpace(rule.When.Condition) == "" {
		errs = append(errs, ValidationError{
			Field:   path + ".when.condition",
			Message: "condition is blank; omit it to always match",
			Code:    ErrInvalidCondition,
		})
	}

	// E114: every "${...}" must be a whole "${fact.<name>}" reference
	for _, attr := range sortedKeys(rule.Then.Attrs) {
		s, ok := rule.Then.Attrs[attr].(ir.IRString)
		if !ok || !strings.Contains(string(s), "${") {
			continue
		}
		if !templatePattern.MatchString(string(s)) {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("%s.then.attrs.%s", path, attr),
				Message: fmt.Sprintf("malformed attribute reference %q, expected \"${fact.<name>}\"", string(s)),
				Code:    ErrInvalidTemplate,
			})
		}
	}

	return errs
}

// templatePattern matches a whole-value attribute reference.
var templatePattern = regexp.MustCompile(`^\$\{fact\.[A-Za-z_][A-Za-z0-9_]*\}$`)

// validateRuleSet validates every type and rule, then cross references.
func validateRuleSet(rs *ir.RuleSet) []ValidationError {
	var errs []ValidationError

	declared := make(map[string]ir.TypeSpec, len(rs.Types))
	for i, t := range rs.Types {
		path := fmt.Sprintf("fact.%s", t.Name)
		errs = append(errs, validateTypeSpec(&rs.Types[i], path)...)

		// E105: duplicate type name
		if _, dup := declared[t.Name]; dup {
			errs = append(errs, ValidationError{
				Field:   path,
				Message: fmt.Sprintf("duplicate type name: %q", t.Name),
				Code:    ErrDuplicateName,
			})
			continue
		}
		declared[t.Name] = t
	}

	for _, t := range rs.Types {
		if t.Extends == "" {
			continue
		}
		// E102: parent must be declared
		if _, ok := declared[t.Extends]; !ok {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("fact.%s.extends", t.Name),
				Message: fmt.Sprintf("unknown parent type %q", t.Extends),
				Code:    ErrUnknownParent,
			})
			continue
		}
		// E103: longer inheritance cycles (self-extension reported above)
		if t.Extends != t.Name && inheritsFrom(declared, t.Extends, t.Name) {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("fact.%s.extends", t.Name),
				Message: fmt.Sprintf("inheritance cycle through %q", t.Extends),
				Code:    ErrInheritanceCycle,
			})
		}
	}

	ruleIDs := make(map[string]bool, len(rs.Rules))
	for i, r := range rs.Rules {
		path := fmt.Sprintf("rule.%s", r.ID)
		errs = append(errs, validateRuleSpec(&rs.Rules[i], path)...)

		// E105: duplicate rule ID
		if ruleIDs[r.ID] {
			errs = append(errs, ValidationError{
				Field:   path,
				Message: fmt.Sprintf("duplicate rule ID: %q", r.ID),
				Code:    ErrDuplicateName,
			})
		}
		ruleIDs[r.ID] = true

		// E111: when.type must be declared
		if _, ok := declared[r.When.Type]; r.When.Type != "" && !ok {
			errs = append(errs, ValidationError{
				Field:   path + ".when.type",
				Message: fmt.Sprintf("unknown fact type %q", r.When.Type),
				Code:    ErrUnknownWhenType,
			})
		}

		// E113: then.insert must be declared
		if _, ok := declared[r.Then.Insert]; r.Then.Insert != "" && !ok {
			errs = append(errs, ValidationError{
				Field:   path + ".then.insert",
				Message: fmt.Sprintf("unknown fact type %q", r.Then.Insert),
				Code:    ErrInvalidThen,
			})
		}

		// E115: absent guards must be declared
		for _, name := range r.Absent {
			if _, ok := declared[name]; !ok {
				errs = append(errs, ValidationError{
					Field:   path + ".absent",
					Message: fmt.Sprintf("unknown fact type %q", name),
					Code:    ErrUnknownAbsent,
				})
			}
		}
	}

	return errs
}

// inheritsFrom reports whether start, or any of its ancestors, is target.
// Walks at most len(declared) steps so cycles that do not include target
// still terminate.
func inheritsFrom(declared map[string]ir.TypeSpec, start, target string) bool {
	current := start
	for range len(declared) + 1 {
		if current == target {
			return true
		}
		t, ok := declared[current]
		if !ok || t.Extends == "" {
			return false
		}
		current = t.Extends
	}
	return false
}

// isFloatType checks if a type string represents a float type.
func isFloatType(t string) bool {
	floatTypes := map[string]bool{
		"float":   true,
		"float32": true,
		"float64": true,
		"number":  true,
		"double":  true,
	}
	return floatTypes[t]
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
