// Package harness provides conformance testing for bus pass rule sets.
//
// The harness runs citizen cases against a compiled rule set through the
// real determination path and checks the outcome of each case.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: age_bands
//	description: "Each age band gets its own pass"
//	rules: ../rules          # optional, relative to the scenario file
//	input_type: Person       # optional
//	target_type: BusPass     # optional
//	max_steps: 100           # optional
//	cases:
//	  - name: senior_local
//	    citizen: { age: 70, residency: local }
//	    expect:
//	      pass: SeniorPass
//	      result: { category: senior }
//	    assertions:
//	      - type: fired
//	        rule: classify-senior
//	  - name: visitor
//	    citizen: { age: 70, residency: visitor }
//	    expect:
//	      none: true
//
// An expect clause names exactly one of pass, none or error. Error kinds
// are "input", "non_termination" and "evaluation".
//
// # Assertion Types
//
//   - fired: the rule fired at least once
//   - not_fired: the rule never fired
//   - fired_count: the rule fired exactly count times
//   - fired_order: the rules first fired in the listed order
//   - fact_count: working memory held exactly count facts after evaluation
//
// Assertions read the audit record of the case, so every case is written
// to an in-memory audit log and read back before it is checked.
//
// # Deterministic Testing
//
// Session IDs are "<scenario name>-0001", "<scenario name>-0002", ... so
// working-memory dumps are stable across runs and can be compared against
// golden files (see Snapshot and RunWithGolden).
package harness
