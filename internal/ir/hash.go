package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainFact    = "buspass/fact/v1"
	DomainRuleSet = "buspass/ruleset/v1"
)

// hashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data)
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// FactDigest computes a content hash for a fact's type and attributes.
// Two facts with equal type names and equal attributes share a digest, which
// is how recorded determinations are matched up again on replay.
func FactDigest(typeName string, attrs IRObject) (string, error) {
	if attrs == nil {
		attrs = IRObject{}
	}
	canonical, err := MarshalCanonical(IRObject{
		"type":  IRString(typeName),
		"attrs": attrs,
	})
	if err != nil {
		return "", fmt.Errorf("FactDigest: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainFact, canonical), nil
}

// RuleSetHash computes a content hash of a compiled rule set, recorded with
// every determination so replays can tell whether the rules changed.
func RuleSetHash(rs RuleSet) (string, error) {
	types := make(IRArray, len(rs.Types))
	for i, t := range rs.Types {
		fields := make(IRObject, len(t.Fields))
		for k, v := range t.Fields {
			fields[k] = IRString(v)
		}
		types[i] = IRObject{
			"name":    IRString(t.Name),
			"extends": IRString(t.Extends),
			"fields":  fields,
		}
	}

	rules := make(IRArray, len(rs.Rules))
	for i, r := range rs.Rules {
		absent := make(IRArray, len(r.Absent))
		for j, a := range r.Absent {
			absent[j] = IRString(a)
		}
		rules[i] = IRObject{
			"id":       IRString(r.ID),
			"salience": IRInt(r.Salience),
			"when":     IRObject{"type": IRString(r.When.Type), "condition": IRString(r.When.Condition)},
			"absent":   absent,
			"insert":   IRString(r.Then.Insert),
			"attrs":    r.Then.Attrs.Clone(),
		}
	}

	canonical, err := MarshalCanonical(IRObject{"types": types, "rules": rules})
	if err != nil {
		return "", fmt.Errorf("RuleSetHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainRuleSet, canonical), nil
}
