// Package ir provides the intermediate representation shared by the bus pass
// rule compiler, the rule engine and the audit log.
//
// This package contains value and record types only. All other internal
// packages import ir; ir imports nothing internal.
//
// Key design constraints:
//   - NO float attribute values - ages and amounts are whole numbers
//   - Rules and types keep their declaration order from the rule files
//   - All JSON tags use snake_case
package ir
