package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/cel-go/cel"

	"github.com/sctrcd/buspass/internal/ir"
	"github.com/sctrcd/buspass/internal/memory"
)

// DefaultMaxSteps is the default maximum number of rule firings per
// evaluation. A bus pass rule set fires a handful of rules per citizen;
// anything near this limit is a runaway rule.
const DefaultMaxSteps = 1000

// Firing describes one rule firing, reported to a Tracer in firing order.
type Firing struct {
	Step     int
	RuleID   string
	Matched  memory.FactHandle
	Inserted memory.FactHandle
	Fact     memory.Fact // the inserted fact
}

// Engine evaluates a compiled rule set against working memory.
//
// INVARIANTS:
//   - rules are sorted by salience (desc) then declaration order, once, in New
//   - the engine holds no per-evaluation state; all of it lives in Evaluate
type Engine struct {
	ruleSet  ir.RuleSet
	registry *memory.Registry
	rules    []*compiledRule
	maxSteps int
	logger   *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithMaxSteps sets the maximum firings per evaluation.
//
// Default: 1000 steps (DefaultMaxSteps).
// Use WithMaxSteps(10) for testing non-termination handling.
func WithMaxSteps(maxSteps int) Option {
	return func(e *Engine) {
		e.maxSteps = maxSteps
	}
}

// WithLogger sets the logger used for firing diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// New compiles a rule set into an Engine.
//
// Every type a rule mentions must be declared, every condition must compile
// to a boolean CEL expression and every template must be well formed.
func New(rs ir.RuleSet, opts ...Option) (*Engine, error) {
	registry, err := memory.NewRegistry(rs.Types)
	if err != nil {
		return nil, &ConfigError{Field: "types", Message: err.Error()}
	}

	env, err := newConditionEnv()
	if err != nil {
		return nil, err
	}

	e := &Engine{
		ruleSet:  rs,
		registry: registry,
		maxSteps: DefaultMaxSteps,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.maxSteps <= 0 {
		return nil, &ConfigError{Field: "max_steps", Message: fmt.Sprintf("must be positive, got %d", e.maxSteps)}
	}

	seen := make(map[string]bool, len(rs.Rules))
	for i, spec := range rs.Rules {
		if seen[spec.ID] {
			return nil, &ConfigError{RuleID: spec.ID, Field: "id", Message: "duplicate rule ID"}
		}
		seen[spec.ID] = true

		rule, err := compileRule(env, registry, spec, i)
		if err != nil {
			return nil, err
		}
		e.rules = append(e.rules, rule)
	}

	sort.SliceStable(e.rules, func(i, j int) bool {
		return e.rules[i].spec.Salience > e.rules[j].spec.Salience
	})

	return e, nil
}

func compileRule(env *cel.Env, registry *memory.Registry, spec ir.RuleSpec, order int) (*compiledRule, error) {
	lookup := func(field, name string) (*memory.Type, error) {
		t, ok := registry.Lookup(name)
		if !ok {
			return nil, &ConfigError{RuleID: spec.ID, Field: field, Message: fmt.Sprintf("unknown type %q", name)}
		}
		return t, nil
	}

	rule := &compiledRule{spec: spec, order: order, template: spec.Then.Attrs.Clone()}

	var err error
	if rule.when, err = lookup("when.type", spec.When.Type); err != nil {
		return nil, err
	}
	if rule.insert, err = lookup("then.insert", spec.Then.Insert); err != nil {
		return nil, err
	}
	for _, name := range spec.Absent {
		t, err := lookup("absent", name)
		if err != nil {
			return nil, err
		}
		rule.absent = append(rule.absent, t)
	}

	rule.cond, err = compileCondition(env, spec.When.Condition)
	if err != nil {
		return nil, &ConfigError{RuleID: spec.ID, Field: "when.condition", Message: err.Error()}
	}

	for key, val := range rule.template {
		if s, ok := val.(ir.IRString); ok {
			if err := validateTemplate(string(s)); err != nil {
				return nil, &ConfigError{RuleID: spec.ID, Field: "then.attrs." + key, Message: err.Error()}
			}
		}
	}

	return rule, nil
}

// Registry returns the fact types declared by the rule set.
func (e *Engine) Registry() *memory.Registry {
	return e.registry
}

// RuleSet returns the compiled rule set the engine was built from.
func (e *Engine) RuleSet() ir.RuleSet {
	return e.ruleSet
}

// MaxSteps returns the configured maximum firings per evaluation.
func (e *Engine) MaxSteps() int {
	return e.maxSteps
}

// Evaluate fires rules against wm until fixpoint.
func (e *Engine) Evaluate(ctx context.Context, wm memory.WorkingMemory) error {
	return e.EvaluateTraced(ctx, wm, nil)
}

// EvaluateTraced is Evaluate with a callback invoked after every firing.
//
// Errors are fatal for the evaluation: NonTerminationError when the quota is
// exceeded, RuntimeError for cancellation, template and insert failures.
// Facts inserted before the error remain in wm.
func (e *Engine) EvaluateTraced(ctx context.Context, wm memory.WorkingMemory, trace func(Firing)) error {
	session := sessionOf(wm)
	quota := NewQuotaEnforcer(e.maxSteps)
	fired := make(map[activationKey]bool)
	condCache := make(map[activationKey]bool)

	for {
		if err := ctx.Err(); err != nil {
			return &RuntimeError{
				Code:    ErrCodeCancelled,
				Message: fmt.Sprintf("evaluation stopped after %d step(s)", quota.Current()),
				Session: session,
				Err:     err,
			}
		}

		act, ok, err := e.nextActivation(wm, fired, condCache)
		if err != nil {
			return err
		}
		if !ok {
			e.logger.Debug("fixpoint reached", "session", session, "steps", quota.Current())
			return nil
		}

		if err := quota.Check(session, act.rule.spec.ID); err != nil {
			e.logger.Error("rule evaluation quota exceeded",
				"session", session,
				"rule_id", act.rule.spec.ID,
				"limit", e.maxSteps,
			)
			return err
		}
		fired[activationKey{rule: act.rule.order, handle: act.handle}] = true

		attrs, err := resolveAttrs(act.rule.template, act.fact)
		if err != nil {
			return &RuntimeError{Code: ErrCodeTemplate, Message: "resolve then-clause", Session: session, RuleID: act.rule.spec.ID, Err: err}
		}
		derived := memory.NewFact(act.rule.insert, attrs)
		h, err := wm.Insert(derived)
		if err != nil {
			return &RuntimeError{Code: ErrCodeInsert, Message: "insert derived fact", Session: session, RuleID: act.rule.spec.ID, Err: err}
		}

		e.logger.Debug("rule fired",
			"session", session,
			"rule_id", act.rule.spec.ID,
			"matched", act.handle.Seq(),
			"inserted", derived.Type().Name(),
			"step", quota.Current(),
		)

		if trace != nil {
			trace(Firing{
				Step:     quota.Current(),
				RuleID:   act.rule.spec.ID,
				Matched:  act.handle,
				Inserted: h,
				Fact:     derived,
			})
		}
	}
}

// nextActivation returns the highest-priority activation that has not fired.
func (e *Engine) nextActivation(wm memory.WorkingMemory, fired, condCache map[activationKey]bool) (activation, bool, error) {
	handles := wm.AllHandles()
	snapshot := make([]snapshotEntry, 0, len(handles))
	for _, h := range handles {
		f, err := wm.GetObject(h)
		if err != nil {
			return activation{}, false, fmt.Errorf("read working memory: %w", err)
		}
		snapshot = append(snapshot, snapshotEntry{handle: h, fact: f})
	}

	for _, rule := range e.rules {
		if !rule.guardsHold(snapshot) {
			continue
		}
		for _, entry := range snapshot {
			key := activationKey{rule: rule.order, handle: entry.handle}
			if fired[key] || !rule.matchesType(entry.fact) {
				continue
			}
			if e.conditionHolds(rule, entry, key, condCache) {
				return activation{rule: rule, handle: entry.handle, fact: entry.fact}, true, nil
			}
		}
	}
	return activation{}, false, nil
}

// conditionHolds evaluates a rule condition once per (rule, fact).
func (e *Engine) conditionHolds(rule *compiledRule, entry snapshotEntry, key activationKey, cache map[activationKey]bool) bool {
	if v, ok := cache[key]; ok {
		return v
	}
	matched, err := rule.cond.eval(entry.fact.Type().Name(), entry.fact.Native())
	if err != nil {
		e.logger.Debug("condition did not match",
			"rule_id", rule.spec.ID,
			"fact", entry.handle.Seq(),
			"reason", err,
		)
	}
	cache[key] = matched
	return matched
}

// sessionOf returns the working memory's session ID when it exposes one.
func sessionOf(wm memory.WorkingMemory) string {
	if s, ok := wm.(interface{ ID() string }); ok {
		return s.ID()
	}
	return ""
}
