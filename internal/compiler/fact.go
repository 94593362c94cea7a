package compiler

import (
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/sctrcd/buspass/internal/ir"
)

// CompileType parses a CUE value into a TypeSpec.
// Uses CUE SDK's Go API directly (not CLI subprocess).
//
// The CUE value should be the fact declaration itself, e.g.:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`fact: SeniorPass: { extends: "BusPass" }`)
//	spec, err := CompileType(v.LookupPath(cue.ParsePath("fact.SeniorPass")))
func CompileType(v cue.Value) (*ir.TypeSpec, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	spec := &ir.TypeSpec{}

	// Type name from struct label
	labels := v.Path().Selectors()
	if len(labels) > 0 {
		spec.Name = strings.Trim(labels[len(labels)-1].String(), `"`)
	}

	// Parse extends (optional)
	extendsVal := v.LookupPath(cue.ParsePath("extends"))
	if extendsVal.Exists() {
		parent, err := extendsVal.String()
		if err != nil {
			return nil, &CompileError{
				Field:   "extends",
				Message: "extends must be a fact type name",
				Pos:     extendsVal.Pos(),
			}
		}
		spec.Extends = parent
	}

	// Parse fields (optional)
	fieldsVal := v.LookupPath(cue.ParsePath("fields"))
	if fieldsVal.Exists() {
		iter, err := fieldsVal.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}

		spec.Fields = make(map[string]string)
		for iter.Next() {
			fieldType, err := extractTypeName(iter.Value())
			if err != nil {
				return nil, err
			}
			spec.Fields[iter.Label()] = fieldType
		}
	}

	return spec, nil
}

// extractTypeName converts CUE type to IR type string.
// Floats are forbidden: attribute values must hash deterministically.
func extractTypeName(v cue.Value) (string, error) {
	switch v.IncompleteKind() {
	case cue.StringKind:
		return "string", nil
	case cue.IntKind:
		return "int", nil
	case cue.BoolKind:
		return "bool", nil
	case cue.ListKind:
		return "array", nil
	case cue.StructKind:
		return "object", nil
	case cue.FloatKind, cue.NumberKind:
		return "", &CompileError{
			Field:   "type",
			Message: "float types are forbidden - use int instead",
			Pos:     v.Pos(),
		}
	default:
		return "", &CompileError{
			Field:   "type",
			Message: fmt.Sprintf("unsupported type kind: %v", v.IncompleteKind()),
			Pos:     v.Pos(),
		}
	}
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	// CUE errors may contain multiple errors
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	// Return first error with position info
	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
