package compiler

import (
	"fmt"
	"strings"

	"cuelang.org/go/cue"

	"github.com/sctrcd/buspass/internal/ir"
)

// CompileRule parses a CUE value into a RuleSpec.
//
// The CUE value should be the rule struct itself, e.g.:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`rule: "issue-senior-pass": { ... }`)
//	rule, err := CompileRule(v.LookupPath(cue.ParsePath(`rule."issue-senior-pass"`)))
func CompileRule(v cue.Value) (*ir.RuleSpec, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	rule := &ir.RuleSpec{}

	// Rule ID from struct label; quoted labels are unquoted
	labels := v.Path().Selectors()
	if len(labels) > 0 {
		rule.ID = strings.Trim(labels[len(labels)-1].String(), `"`)
	}

	// Parse salience (optional, default 0)
	salienceVal := v.LookupPath(cue.ParsePath("salience"))
	if salienceVal.Exists() {
		salience, err := salienceVal.Int64()
		if err != nil {
			return nil, &CompileError{
				Field:   "salience",
				Message: "salience must be an integer",
				Pos:     salienceVal.Pos(),
			}
		}
		rule.Salience = salience
	}

	var err error
	rule.When, err = parseWhenClause(v)
	if err != nil {
		return nil, err
	}

	// Parse absent guards (optional list of type names)
	absentVal := v.LookupPath(cue.ParsePath("absent"))
	if absentVal.Exists() {
		iter, err := absentVal.List()
		if err != nil {
			return nil, &CompileError{
				Field:   "absent",
				Message: "absent must be a list of fact type names",
				Pos:     absentVal.Pos(),
			}
		}
		for iter.Next() {
			name, err := iter.Value().String()
			if err != nil {
				return nil, &CompileError{
					Field:   "absent",
					Message: "absent must be a list of fact type names",
					Pos:     iter.Value().Pos(),
				}
			}
			rule.Absent = append(rule.Absent, name)
		}
	}

	rule.Then, err = parseThenClause(v)
	if err != nil {
		return nil, err
	}

	return rule, nil
}

// parseWhenClause extracts the when clause from a rule.
func parseWhenClause(v cue.Value) (ir.WhenClause, error) {
	whenVal := v.LookupPath(cue.ParsePath("when"))
	if !whenVal.Exists() {
		return ir.WhenClause{}, &CompileError{
			Field:   "when",
			Message: "when clause is required",
			Pos:     v.Pos(),
		}
	}

	var when ir.WhenClause

	// Parse fact type (required string field)
	typeVal := whenVal.LookupPath(cue.ParsePath("type"))
	if !typeVal.Exists() {
		return when, &CompileError{
			Field:   "when.type",
			Message: "when clause requires 'type' field",
			Pos:     whenVal.Pos(),
		}
	}
	typeName, err := typeVal.String()
	if err != nil {
		return when, &CompileError{
			Field:   "when.type",
			Message: "type must be a fact type name",
			Pos:     typeVal.Pos(),
		}
	}
	when.Type = typeName

	// Parse condition (optional CEL expression)
	condVal := whenVal.LookupPath(cue.ParsePath("condition"))
	if condVal.Exists() {
		cond, err := condVal.String()
		if err != nil {
			return when, &CompileError{
				Field:   "when.condition",
				Message: "condition must be a string CEL expression",
				Pos:     condVal.Pos(),
			}
		}
		when.Condition = cond
	}

	return when, nil
}

// parseThenClause extracts the then clause from a rule.
func parseThenClause(v cue.Value) (ir.ThenClause, error) {
	thenVal := v.LookupPath(cue.ParsePath("then"))
	if !thenVal.Exists() {
		return ir.ThenClause{}, &CompileError{
			Field:   "then",
			Message: "then clause is required",
			Pos:     v.Pos(),
		}
	}

	var then ir.ThenClause

	// Parse inserted type (required string field)
	insertVal := thenVal.LookupPath(cue.ParsePath("insert"))
	if !insertVal.Exists() {
		return then, &CompileError{
			Field:   "then.insert",
			Message: "then clause requires 'insert' field",
			Pos:     thenVal.Pos(),
		}
	}
	insert, err := insertVal.String()
	if err != nil {
		return then, &CompileError{
			Field:   "then.insert",
			Message: "insert must be a fact type name",
			Pos:     insertVal.Pos(),
		}
	}
	then.Insert = insert

	// Parse attrs (optional; literals or "${fact.<name>}" references)
	attrsVal := thenVal.LookupPath(cue.ParsePath("attrs"))
	if attrsVal.Exists() {
		iter, err := attrsVal.Fields()
		if err != nil {
			return then, formatCUEError(err)
		}

		then.Attrs = make(ir.IRObject)
		for iter.Next() {
			val, err := cueToIR(iter.Value())
			if err != nil {
				return then, &CompileError{
					Field:   fmt.Sprintf("then.attrs.%s", iter.Label()),
					Message: err.Error(),
					Pos:     iter.Value().Pos(),
				}
			}
			then.Attrs[iter.Label()] = val
		}
	}

	return then, nil
}

// cueToIR converts a concrete CUE value into an IRValue.
func cueToIR(v cue.Value) (ir.IRValue, error) {
	switch v.Kind() {
	case cue.NullKind:
		return ir.IRNull{}, nil
	case cue.StringKind:
		s, err := v.String()
		return ir.IRString(s), err
	case cue.IntKind:
		n, err := v.Int64()
		return ir.IRInt(n), err
	case cue.BoolKind:
		b, err := v.Bool()
		return ir.IRBool(b), err
	case cue.ListKind:
		iter, err := v.List()
		if err != nil {
			return nil, err
		}
		arr := ir.IRArray{}
		for iter.Next() {
			elem, err := cueToIR(iter.Value())
			if err != nil {
				return nil, err
			}
			arr = append(arr, elem)
		}
		return arr, nil
	case cue.StructKind:
		iter, err := v.Fields()
		if err != nil {
			return nil, err
		}
		obj := ir.IRObject{}
		for iter.Next() {
			elem, err := cueToIR(iter.Value())
			if err != nil {
				return nil, err
			}
			obj[iter.Label()] = elem
		}
		return obj, nil
	case cue.FloatKind, cue.NumberKind:
		return nil, fmt.Errorf("float values are forbidden - use int instead")
	default:
		return nil, fmt.Errorf("value must be concrete, got %v", v.IncompleteKind())
	}
}
