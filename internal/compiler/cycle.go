package compiler

import (
	"fmt"
	"strings"

	"github.com/sctrcd/buspass/internal/ir"
)

// CycleWarning represents a potential derivation cycle between rules.
//
// Cycles are warnings, not errors, because a condition may stop them:
//   - A rule that re-derives its own pattern type with a narrowing condition
//   - An absent-guard that blocks the rule after the first firing
//
// An unguarded cycle never reaches fixpoint and is stopped by the engine's
// step quota at runtime.
type CycleWarning struct {
	Path    []string `json:"path"`    // Cycle path: ["rule-a", "rule-b", "rule-a"]
	Message string   `json:"message"` // Human-readable description
	Level   string   `json:"level"`   // "warning" or "info"
}

// AnalyzeCycles performs static cycle analysis on a rule set.
//
// It builds a dependency graph between rules and detects strongly connected
// components (cycles). A rule depends on another when the fact type it
// inserts can match the other's when-pattern: the inserted type is the
// pattern type or one of its descendants.
//
// The algorithm:
//  1. Build rule -> rule dependency graph from then/when types
//  2. Use Tarjan's algorithm to find strongly connected components
//  3. Report each SCC with size > 1 or self-loops as a potential cycle warning
//
// A DAG (no cycles) returns an empty warning list. Results are
// deterministic for a given rule set.
func AnalyzeCycles(rs ir.RuleSet) []CycleWarning {
	if len(rs.Rules) == 0 {
		return []CycleWarning{}
	}

	// Build dependency graph: rule_id -> rules that could be triggered
	graph := buildDependencyGraph(rs)

	// Detect strongly connected components (cycles)
	sccs := tarjanSCC(graph, ruleOrder(rs))

	// Convert SCCs to warnings
	warnings := []CycleWarning{}
	for _, scc := range sccs {
		if len(scc) > 1 || (len(scc) == 1 && hasSelfLoop(scc[0], graph)) {
			warnings = append(warnings, cycleSCCToWarning(scc, graph))
		}
	}

	return warnings
}

// dependencyGraph maps rule_id -> list of rule_ids that could be triggered.
type dependencyGraph map[string][]string

// buildDependencyGraph constructs the rule dependency graph.
//
// For each rule:
//   - Take the fact type from its then-clause (what it inserts)
//   - Find all rules whose when-type is that type or one of its ancestors
//   - Add edges: this_rule -> triggered_rules (in declaration order)
func buildDependencyGraph(rs ir.RuleSet) dependencyGraph {
	parents := make(map[string]string, len(rs.Types))
	for _, t := range rs.Types {
		parents[t.Name] = t.Extends
	}

	graph := make(dependencyGraph, len(rs.Rules))
	for _, rule := range rs.Rules {
		// Initialize with empty slice if no edges (ensures node exists in graph)
		if graph[rule.ID] == nil {
			graph[rule.ID] = []string{}
		}

		for _, other := range rs.Rules {
			if isSubtype(parents, rule.Then.Insert, other.When.Type) {
				graph[rule.ID] = append(graph[rule.ID], other.ID)
			}
		}
	}

	return graph
}

// isSubtype reports whether typ is ancestor or one of its descendants.
// The walk is bounded so a malformed hierarchy cannot loop.
func isSubtype(parents map[string]string, typ, ancestor string) bool {
	current := typ
	for range len(parents) + 1 {
		if current == "" {
			return false
		}
		if current == ancestor {
			return true
		}
		current = parents[current]
	}
	return false
}

// ruleOrder returns rule IDs in declaration order.
func ruleOrder(rs ir.RuleSet) []string {
	order := make([]string, 0, len(rs.Rules))
	for _, r := range rs.Rules {
		order = append(order, r.ID)
	}
	return order
}

// hasSelfLoop checks if a node has an edge to itself.
func hasSelfLoop(node string, graph dependencyGraph) bool {
	for _, neighbor := range graph[node] {
		if neighbor == node {
			return true
		}
	}
	return false
}

// tarjanSCC finds strongly connected components using Tarjan's algorithm.
//
// Returns a list of SCCs, where each SCC is a list of rule IDs.
// Single-node SCCs without self-loops are NOT cycles. Nodes are visited in
// the given order so results are deterministic.
func tarjanSCC(graph dependencyGraph, order []string) [][]string {
	var (
		index   = 0
		stack   []string
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		onStack = make(map[string]bool)
		sccs    [][]string
	)

	var strongConnect func(string)
	strongConnect = func(v string) {
		// Set the depth index for v
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		// Consider successors of v
		for _, w := range graph[v] {
			if _, visited := indices[w]; !visited {
				// Successor w has not yet been visited; recurse on it
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				// Successor w is on stack and hence in the current SCC
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		// If v is a root node, pop the stack and create an SCC
		if lowlink[v] == indices[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sccs = append(sccs, scc)
		}
	}

	// Visit all nodes
	for _, node := range order {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}

	return sccs
}

// cycleSCCToWarning converts an SCC to a CycleWarning.
//
// The path shows the cycle sequence by reconstructing a path through the SCC.
// For self-loops, the path is [rule-id, rule-id].
// For multi-node cycles, the path shows a cycle traversal.
func cycleSCCToWarning(scc []string, graph dependencyGraph) CycleWarning {
	if len(scc) == 1 {
		// Self-loop
		ruleID := scc[0]
		return CycleWarning{
			Path:    []string{ruleID, ruleID},
			Message: fmt.Sprintf("Self-triggering rule detected: %s -> %s", ruleID, ruleID),
			Level:   "warning",
		}
	}

	// Multi-node cycle - reconstruct a cycle path
	path := reconstructCyclePath(scc, graph)

	pathStr := strings.Join(path, " -> ")
	return CycleWarning{
		Path:    path,
		Message: fmt.Sprintf("Potential cycle detected: %s", pathStr),
		Level:   "warning",
	}
}

// reconstructCyclePath builds a cycle path from an SCC.
//
// Strategy: Start at first node in SCC, follow edges to other SCC members,
// continue until we return to start node.
func reconstructCyclePath(scc []string, graph dependencyGraph) []string {
	if len(scc) == 0 {
		return []string{}
	}

	// Build set of SCC members for fast lookup
	sccSet := make(map[string]bool)
	for _, node := range scc {
		sccSet[node] = true
	}

	// Start at first node
	start := scc[0]
	current := start
	path := []string{current}
	visited := make(map[string]bool)

	// Follow edges within SCC until we return to start
	for {
		visited[current] = true

		// Find next SCC member reachable from current
		var next string
		for _, neighbor := range graph[current] {
			if sccSet[neighbor] && (!visited[neighbor] || neighbor == start) {
				next = neighbor
				break
			}
		}

		if next == "" {
			// No more unvisited neighbors in SCC
			break
		}

		path = append(path, next)

		if next == start {
			// Completed the cycle
			break
		}

		current = next
	}

	return path
}
