package session

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/sctrcd/buspass/internal/engine"
	"github.com/sctrcd/buspass/internal/extract"
	"github.com/sctrcd/buspass/internal/memory"
)

// RuleSet is the externally supplied rule set. Evaluate runs to fixpoint
// against wm, reading any fact and inserting new ones, and must not keep
// state outside wm.
type RuleSet interface {
	Evaluate(ctx context.Context, wm memory.WorkingMemory) error
}

// tracingRuleSet is implemented by rule sets that can report firings.
type tracingRuleSet interface {
	EvaluateTraced(ctx context.Context, wm memory.WorkingMemory, trace func(engine.Firing)) error
}

var _ tracingRuleSet = (*engine.Engine)(nil)

// Session is one inference session. It is not safe for concurrent use; a
// session belongs to the single caller driving one determination.
type Session struct {
	id        string
	state     State
	store     *memory.Store
	rules     RuleSet
	extractor *extract.Extractor
	logger    *slog.Logger
	inputs    []memory.FactHandle
	firings   []engine.Firing
}

// New creates a session with a fresh, empty store.
func New(id string, rules RuleSet, extractor *extract.Extractor, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		id:        id,
		state:     StateCreated,
		store:     memory.New(id),
		rules:     rules,
		extractor: extractor,
		logger:    logger.With("session", id),
	}
}

// ID returns the session ID.
func (s *Session) ID() string {
	return s.id
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return s.state
}

// Memory returns the read-only view of the session's working memory.
func (s *Session) Memory() memory.Reader {
	return s.store
}

// Inputs returns the handles of the inserted input facts.
func (s *Session) Inputs() []memory.FactHandle {
	return slices.Clone(s.inputs)
}

// Firings returns the rule firings of the evaluation, in order. It is empty
// when the rule set does not report firings.
func (s *Session) Firings() []engine.Firing {
	return slices.Clone(s.firings)
}

// FactCount returns the number of facts in working memory.
func (s *Session) FactCount() int {
	return s.store.Len()
}

func (s *Session) require(op string, allowed ...State) error {
	if slices.Contains(allowed, s.state) {
		return nil
	}
	return &StateError{Op: op, State: s.state, Allowed: allowed}
}

// Insert adds the input facts. It may be called once, moving the session
// from Created to Populated.
func (s *Session) Insert(facts ...memory.Fact) ([]memory.FactHandle, error) {
	if err := s.require("insert", StateCreated); err != nil {
		return nil, err
	}
	if len(facts) == 0 {
		return nil, fmt.Errorf("session %s: insert needs at least one fact", s.id)
	}

	handles := make([]memory.FactHandle, 0, len(facts))
	for _, f := range facts {
		h, err := s.store.Insert(f)
		if err != nil {
			return nil, fmt.Errorf("session %s: insert: %w", s.id, err)
		}
		handles = append(handles, h)
	}
	s.inputs = handles
	s.state = StatePopulated

	s.logger.Debug("inputs inserted", "facts", len(handles))
	return slices.Clone(handles), nil
}

// Evaluate runs the rule set to fixpoint, moving the session from
// Populated to Evaluated.
//
// On error the session stays Populated and cannot be extracted; the error
// is returned as produced by the rule set (for example a
// *engine.NonTerminationError). Only Dispose is useful afterwards.
func (s *Session) Evaluate(ctx context.Context) error {
	if err := s.require("evaluate", StatePopulated); err != nil {
		return err
	}

	var err error
	if tr, ok := s.rules.(tracingRuleSet); ok {
		err = tr.EvaluateTraced(ctx, s.store, func(f engine.Firing) {
			s.firings = append(s.firings, f)
		})
	} else {
		err = s.rules.Evaluate(ctx, s.store)
	}
	if err != nil {
		s.logger.Error("rule evaluation failed", "error", err, "facts", s.store.Len())
		return err
	}

	s.state = StateEvaluated
	s.logger.Debug("fixpoint reached", "facts", s.store.Len(), "firings", len(s.firings))
	return nil
}

// Extract selects the determination result. It does not change the state
// and may be called more than once before Dispose.
func (s *Session) Extract() (extract.Determination, error) {
	if err := s.require("extract", StateEvaluated); err != nil {
		return extract.Determination{}, err
	}
	return s.extractor.Extract(s.store)
}

// Dump writes every fact in working memory, in insertion order, to w.
// It is diagnostic output and never changes the session.
func (s *Session) Dump(w io.Writer) error {
	if err := s.require("dump", StatePopulated, StateEvaluated); err != nil {
		return err
	}

	if _, err := fmt.Fprintf(w, "session %s: %d fact(s)\n", s.id, s.store.Len()); err != nil {
		return err
	}
	for _, h := range s.store.AllHandles() {
		f, err := s.store.GetObject(h)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "  %d\t%s\n", h.Seq(), f); err != nil {
			return err
		}
	}
	return nil
}

// Dispose releases the store. Every handle the session issued becomes
// invalid. Dispose is legal in any state and idempotent.
func (s *Session) Dispose() {
	if s.state == StateDisposed {
		return
	}
	s.store.Dispose()
	s.state = StateDisposed
}
