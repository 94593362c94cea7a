package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sctrcd/buspass/internal/ir"
	"github.com/sctrcd/buspass/internal/testutil"
)

func codes(errs []ValidationError) []string {
	out := make([]string, len(errs))
	for i, e := range errs {
		out[i] = e.Code
	}
	return out
}

func TestValidateRuleSetValid(t *testing.T) {
	assert.Empty(t, Validate(testutil.BusPassRuleSet()))
	rs := testutil.SeniorOnlyRuleSet()
	assert.Empty(t, Validate(&rs))
}

func TestValidateTypeSpec(t *testing.T) {
	tests := []struct {
		name string
		spec ir.TypeSpec
		want []string
	}{
		{"valid", ir.TypeSpec{Name: "Person", Fields: map[string]string{"age": "int"}}, nil},
		{"empty name", ir.TypeSpec{Name: " "}, []string{ErrTypeNameEmpty}},
		{"extends itself", ir.TypeSpec{Name: "A", Extends: "A"}, []string{ErrInheritanceCycle}},
		{"invalid field type", ir.TypeSpec{Name: "A", Fields: map[string]string{"x": "date"}}, []string{ErrInvalidFieldType}},
		{"float field", ir.TypeSpec{Name: "A", Fields: map[string]string{"x": "float64"}}, []string{ErrFloatTypeForbidden}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := Validate(tt.spec)
			if tt.want == nil {
				assert.Empty(t, errs)
				return
			}
			assert.Equal(t, tt.want, codes(errs))
		})
	}
}

func TestValidateTypeSpecAllValidFieldTypes(t *testing.T) {
	spec := &ir.TypeSpec{Name: "Everything", Fields: map[string]string{
		"s": "string", "i": "int", "b": "bool", "a": "array", "o": "object",
	}}
	assert.Empty(t, Validate(spec))
}

func TestValidateRuleSpec(t *testing.T) {
	valid := testutil.SeniorOnlyRuleSet().Rules[0]

	tests := []struct {
		name   string
		mutate func(r *ir.RuleSpec)
		want   []string
	}{
		{"valid", func(*ir.RuleSpec) {}, nil},
		{"empty id", func(r *ir.RuleSpec) { r.ID = "" }, []string{ErrRuleIDEmpty}},
		{"missing when type", func(r *ir.RuleSpec) { r.When.Type = "" }, []string{ErrMissingClause}},
		{"missing insert", func(r *ir.RuleSpec) { r.Then.Insert = "" }, []string{ErrMissingClause}},
		{"blank condition", func(r *ir.RuleSpec) { r.When.Condition = "  " }, []string{ErrInvalidCondition}},
		{"malformed template", func(r *ir.RuleSpec) {
			r.Then.Attrs = ir.IRObject{"age": ir.IRString("${age}")}
		}, []string{ErrInvalidTemplate}},
		{"embedded template", func(r *ir.RuleSpec) {
			r.Then.Attrs = ir.IRObject{"label": ir.IRString("age ${fact.age}")}
		}, []string{ErrInvalidTemplate}},
		{"valid template", func(r *ir.RuleSpec) {
			r.Then.Attrs = ir.IRObject{"holder_age": ir.IRString("${fact.age}"), "active": ir.IRBool(true)}
		}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := valid
			tt.mutate(&r)
			errs := Validate(&r)
			if tt.want == nil {
				assert.Empty(t, errs)
				return
			}
			assert.Equal(t, tt.want, codes(errs))
		})
	}
}

func TestValidateRuleSetCrossReferences(t *testing.T) {
	rs := ir.RuleSet{
		Types: []ir.TypeSpec{
			{Name: "Person"},
			{Name: "BusPass"},
			{Name: "BusPass"},
			{Name: "Orphan", Extends: "Missing"},
			{Name: "LoopA", Extends: "LoopB"},
			{Name: "LoopB", Extends: "LoopA"},
		},
		Rules: []ir.RuleSpec{
			{ID: "r1", When: ir.WhenClause{Type: "Citizen"}, Then: ir.ThenClause{Insert: "BusPass"}},
			{ID: "r1", When: ir.WhenClause{Type: "Person"}, Then: ir.ThenClause{Insert: "GoldPass"}},
			{ID: "r2", When: ir.WhenClause{Type: "Person"}, Absent: []string{"Nope"}, Then: ir.ThenClause{Insert: "BusPass"}},
		},
	}

	errs := Validate(rs)
	assert.ElementsMatch(t, []string{
		ErrDuplicateName,    // BusPass
		ErrUnknownParent,    // Orphan
		ErrInheritanceCycle, // LoopA
		ErrInheritanceCycle, // LoopB
		ErrUnknownWhenType,  // r1 Citizen
		ErrDuplicateName,    // r1
		ErrInvalidThen,      // GoldPass
		ErrUnknownAbsent,    // Nope
	}, codes(errs))
}

func TestValidateUnsupportedType(t *testing.T) {
	errs := Validate("not a spec")
	require.Len(t, errs, 1)
	assert.Equal(t, ErrUnsupportedIRType, errs[0].Code)
}

func TestValidationErrorFormat(t *testing.T) {
	err := ValidationError{Field: "rule.r1.when.type", Message: "unknown fact type", Code: ErrUnknownWhenType}
	assert.Equal(t, "[E111] rule.r1.when.type: unknown fact type", err.Error())
}

func TestValidationErrorFormatWithLine(t *testing.T) {
	err := ValidationError{Field: "fact.A", Message: "bad", Code: ErrTypeNameEmpty, Line: 7}
	assert.Equal(t, "[E101] line 7: fact.A: bad", err.Error())
}

func TestIsFloatType(t *testing.T) {
	for _, ft := range []string{"float", "float32", "float64", "number", "double"} {
		assert.True(t, isFloatType(ft), ft)
	}
	for _, ft := range []string{"int", "string", "bool"} {
		assert.False(t, isFloatType(ft), ft)
	}
}
