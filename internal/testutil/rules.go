package testutil

import "github.com/sctrcd/buspass/internal/ir"

// Type names used by the fixture rule sets.
const (
	TypePerson       = "Person"
	TypeIsChild      = "IsChild"
	TypeIsAdult      = "IsAdult"
	TypeIsSenior     = "IsSenior"
	TypeBusPass      = "BusPass"
	TypeChildBusPass = "ChildBusPass"
	TypeAdultBusPass = "AdultBusPass"
	TypeSeniorPass   = "SeniorPass"
	TypeFreedomPass  = "FreedomPass"
)

func busPassTypes() []ir.TypeSpec {
	return []ir.TypeSpec{
		{Name: TypePerson, Fields: map[string]string{"age": "int", "residency": "string"}},
		{Name: TypeIsChild},
		{Name: TypeIsAdult},
		{Name: TypeIsSenior},
		{Name: TypeBusPass},
		{Name: TypeChildBusPass, Extends: TypeBusPass},
		{Name: TypeAdultBusPass, Extends: TypeBusPass},
		{Name: TypeSeniorPass, Extends: TypeBusPass},
		{Name: TypeFreedomPass, Extends: TypeSeniorPass},
	}
}

// SeniorOnlyRuleSet has a single rule: local citizens aged 65 or over are
// issued a SeniorPass. Everyone else gets no result.
func SeniorOnlyRuleSet() ir.RuleSet {
	return ir.RuleSet{
		Types: busPassTypes(),
		Rules: []ir.RuleSpec{
			{
				ID:   "issue-senior-pass",
				When: ir.WhenClause{Type: TypePerson, Condition: `fact.age >= 65 && fact.residency == "local"`},
				Then: ir.ThenClause{Insert: TypeSeniorPass, Attrs: ir.IRObject{"category": ir.IRString("senior")}},
			},
		},
	}
}

// BusPassRuleSet classifies a Person into an age group and issues the
// matching pass. Citizens aged 80 or over are additionally issued a
// FreedomPass, a grandchild of BusPass.
func BusPassRuleSet() ir.RuleSet {
	return ir.RuleSet{
		Types: busPassTypes(),
		Rules: []ir.RuleSpec{
			{
				ID:       "classify-child",
				Salience: 10,
				When:     ir.WhenClause{Type: TypePerson, Condition: "fact.age < 16"},
				Then:     ir.ThenClause{Insert: TypeIsChild, Attrs: ir.IRObject{"age": ir.IRString("${fact.age}")}},
			},
			{
				ID:       "classify-adult",
				Salience: 10,
				When:     ir.WhenClause{Type: TypePerson, Condition: "fact.age >= 16 && fact.age < 65"},
				Then:     ir.ThenClause{Insert: TypeIsAdult, Attrs: ir.IRObject{"age": ir.IRString("${fact.age}")}},
			},
			{
				ID:       "classify-senior",
				Salience: 10,
				When:     ir.WhenClause{Type: TypePerson, Condition: `fact.age >= 65 && fact.residency == "local"`},
				Then:     ir.ThenClause{Insert: TypeIsSenior, Attrs: ir.IRObject{"age": ir.IRString("${fact.age}")}},
			},
			{
				ID:   "issue-child-pass",
				When: ir.WhenClause{Type: TypeIsChild},
				Then: ir.ThenClause{Insert: TypeChildBusPass, Attrs: ir.IRObject{"category": ir.IRString("child")}},
			},
			{
				ID:   "issue-adult-pass",
				When: ir.WhenClause{Type: TypeIsAdult},
				Then: ir.ThenClause{Insert: TypeAdultBusPass, Attrs: ir.IRObject{"category": ir.IRString("adult")}},
			},
			{
				ID:       "issue-freedom-pass",
				Salience: 5,
				When:     ir.WhenClause{Type: TypeIsSenior, Condition: "fact.age >= 80"},
				Then:     ir.ThenClause{Insert: TypeFreedomPass, Attrs: ir.IRObject{"category": ir.IRString("freedom")}},
			},
			{
				ID:   "issue-senior-pass",
				When: ir.WhenClause{Type: TypeIsSenior},
				Then: ir.ThenClause{Insert: TypeSeniorPass, Attrs: ir.IRObject{"category": ir.IRString("senior")}},
			},
		},
	}
}

// RunawayRuleSet never reaches fixpoint: every Person derives a new Person.
func RunawayRuleSet() ir.RuleSet {
	return ir.RuleSet{
		Types: busPassTypes(),
		Rules: []ir.RuleSpec{
			{
				ID:   "clone-person",
				When: ir.WhenClause{Type: TypePerson},
				Then: ir.ThenClause{Insert: TypePerson, Attrs: ir.IRObject{
					"age":       ir.IRString("${fact.age}"),
					"residency": ir.IRString("${fact.residency}"),
				}},
			},
		},
	}
}

// Citizen returns the attributes of a Person input.
func Citizen(age int64, residency string) ir.IRObject {
	return ir.IRObject{"age": ir.IRInt(age), "residency": ir.IRString(residency)}
}
