package session

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/sctrcd/buspass/internal/engine"
	"github.com/sctrcd/buspass/internal/extract"
	"github.com/sctrcd/buspass/internal/ir"
	"github.com/sctrcd/buspass/internal/memory"
	"github.com/sctrcd/buspass/internal/metrics"
)

// Default type names for determination input and result.
const (
	DefaultInputType  = "Person"
	DefaultTargetType = "BusPass"
)

// Recorder persists a summary of each determination.
// *store.Store implements it.
type Recorder interface {
	WriteDetermination(ctx context.Context, rec ir.DeterminationRecord) error
}

// Determiner runs one inference session per determination.
type Determiner struct {
	rules       RuleSet
	registry    *memory.Registry
	ruleSetHash string

	inputName  string
	targetName string
	inputType  *memory.Type
	targetType *memory.Type
	extractor  *extract.Extractor

	logger   *slog.Logger
	metrics  *metrics.Metrics
	recorder Recorder
	dump     io.Writer
	ids      IDGenerator
	timeout  time.Duration
}

// Option configures a Determiner.
type Option func(*Determiner)

// WithInputType sets the input fact type. Default: "Person".
func WithInputType(name string) Option {
	return func(d *Determiner) {
		d.inputName = name
	}
}

// WithTargetType sets the result type. Default: "BusPass".
func WithTargetType(name string) Option {
	return func(d *Determiner) {
		d.targetName = name
	}
}

// WithLogger sets the logger for session and extraction diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Determiner) {
		d.logger = logger
	}
}

// WithMetrics records outcome and latency metrics. Nil disables metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Determiner) {
		d.metrics = m
	}
}

// WithRecorder persists a summary of every determination, including
// failed ones.
func WithRecorder(r Recorder) Option {
	return func(d *Determiner) {
		d.recorder = r
	}
}

// WithFactDump writes the full working memory to w after evaluation of
// every determination. The dump never affects the result. Without it the
// same listing is logged at debug level.
func WithFactDump(w io.Writer) Option {
	return func(d *Determiner) {
		d.dump = w
	}
}

// WithIDGenerator sets the session ID generator. Default: UUIDv7Generator.
func WithIDGenerator(ids IDGenerator) Option {
	return func(d *Determiner) {
		d.ids = ids
	}
}

// WithTimeout bounds rule evaluation of each determination. Expiry is a
// fatal error, never a partial result. Zero means no bound.
func WithTimeout(timeout time.Duration) Option {
	return func(d *Determiner) {
		d.timeout = timeout
	}
}

// NewDeterminer creates a Determiner for rules whose fact types are
// declared in registry.
func NewDeterminer(rules RuleSet, registry *memory.Registry, opts ...Option) (*Determiner, error) {
	d := &Determiner{
		rules:      rules,
		registry:   registry,
		inputName:  DefaultInputType,
		targetName: DefaultTargetType,
		logger:     slog.Default(),
		ids:        UUIDv7Generator{},
	}
	for _, opt := range opts {
		opt(d)
	}

	var ok bool
	if d.inputType, ok = registry.Lookup(d.inputName); !ok {
		return nil, fmt.Errorf("input type %q is not declared by the rule set", d.inputName)
	}
	if d.targetType, ok = registry.Lookup(d.targetName); !ok {
		return nil, fmt.Errorf("target type %q is not declared by the rule set", d.targetName)
	}
	if d.timeout < 0 {
		return nil, fmt.Errorf("timeout must not be negative, got %s", d.timeout)
	}
	d.extractor = extract.New(d.targetType, extract.WithLogger(d.logger))

	if src, ok := rules.(interface{ RuleSet() ir.RuleSet }); ok {
		hash, err := ir.RuleSetHash(src.RuleSet())
		if err != nil {
			return nil, fmt.Errorf("hash rule set: %w", err)
		}
		d.ruleSetHash = hash
	}

	return d, nil
}

// FromEngine creates a Determiner evaluating with e.
func FromEngine(e *engine.Engine, opts ...Option) (*Determiner, error) {
	return NewDeterminer(e, e.Registry(), opts...)
}

// InputType returns the input fact type.
func (d *Determiner) InputType() *memory.Type {
	return d.inputType
}

// TargetType returns the result type.
func (d *Determiner) TargetType() *memory.Type {
	return d.targetType
}

// RuleSetHash returns the content hash of the rule set, or "" when the
// rule set does not expose its compiled form.
func (d *Determiner) RuleSetHash() string {
	return d.ruleSetHash
}

// NewSession creates a session for driving the lifecycle step by step.
func (d *Determiner) NewSession() *Session {
	return New(d.ids.Generate(), d.rules, d.extractor, d.logger)
}

// Input builds an input fact from attributes and validates it.
func (d *Determiner) Input(attrs ir.IRObject) (memory.Fact, error) {
	f := memory.NewFact(d.inputType, attrs)
	if err := d.Validate(f); err != nil {
		return memory.Fact{}, err
	}
	return f, nil
}

// Validate checks that f is of the input type (or a descendant) and carries
// every declared field, inherited ones included, with the declared type.
func (d *Determiner) Validate(f memory.Fact) error {
	if f.IsZero() {
		return &InputError{Type: d.inputType.Name(), Message: "no fact"}
	}
	if !f.Type().Is(d.inputType) {
		return &InputError{Type: d.inputType.Name(), Message: fmt.Sprintf("fact of type %s is not a %s", f.Type().Name(), d.inputType.Name())}
	}

	for t := f.Type(); t != nil; t = t.Parent() {
		fields := t.Fields()
		names := make([]string, 0, len(fields))
		for name := range fields {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			v, ok := f.Attr(name)
			if !ok {
				return &InputError{Type: f.Type().Name(), Field: name, Message: "missing"}
			}
			if got, want := ir.TypeName(v), fields[name]; got != want {
				return &InputError{Type: f.Type().Name(), Field: name, Message: fmt.Sprintf("want %s, got %s", want, got)}
			}
		}
	}
	return nil
}

// Determine builds the input fact from attrs and runs a determination.
func (d *Determiner) Determine(ctx context.Context, attrs ir.IRObject) (extract.Determination, error) {
	f, err := d.Input(attrs)
	if err != nil {
		d.metrics.IncrementOutcome(ir.OutcomeFailed)
		return extract.Determination{}, err
	}
	return d.DetermineFact(ctx, f)
}

// DetermineFact runs one determination: a fresh session is created, input
// inserted, rules evaluated to fixpoint and the result extracted. The
// session is disposed before returning, on every path, and the returned
// determination carries no handle into it.
//
// No result is not an error: check Determination.Found. Errors are fatal
// for this call only.
func (d *Determiner) DetermineFact(ctx context.Context, input memory.Fact) (extract.Determination, error) {
	if err := d.Validate(input); err != nil {
		d.metrics.IncrementOutcome(ir.OutcomeFailed)
		return extract.Determination{}, err
	}

	start := time.Now()
	s := d.NewSession()
	defer s.Dispose()

	rec := ir.DeterminationRecord{
		SessionID:   s.ID(),
		InputType:   input.Type().Name(),
		Input:       input.Attrs(),
		RuleSetHash: d.ruleSetHash,
	}
	if hash, err := input.Digest(); err == nil {
		rec.InputHash = hash
	}

	det, err := d.run(ctx, s, input)

	rec.FactCount = s.FactCount()
	rec.Firings = firingRecords(s.Firings())
	switch {
	case err != nil:
		rec.Outcome = ir.OutcomeFailed
		rec.Error = err.Error()
	case det.Found():
		rec.Outcome = ir.OutcomeIssued
		rec.ResultType = det.Fact().Type().Name()
		rec.Result = det.Fact().Attrs()
		rec.MatchCount = det.MatchCount()
	default:
		rec.Outcome = ir.OutcomeNoResult
	}
	d.observe(ctx, rec, len(s.Firings()), time.Since(start))

	if err != nil {
		return extract.Determination{}, fmt.Errorf("determination %s: %w", s.ID(), err)
	}
	return det.Detach(), nil
}

func (d *Determiner) run(ctx context.Context, s *Session, input memory.Fact) (extract.Determination, error) {
	if _, err := s.Insert(input); err != nil {
		return extract.Determination{}, err
	}

	evalCtx := ctx
	if d.timeout > 0 {
		var cancel context.CancelFunc
		evalCtx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	if err := s.Evaluate(evalCtx); err != nil {
		return extract.Determination{}, err
	}

	switch {
	case d.dump != nil:
		if err := s.Dump(d.dump); err != nil {
			d.logger.Warn("fact dump failed", "session", s.ID(), "error", err)
		}
	case d.logger.Enabled(ctx, slog.LevelDebug):
		var buf strings.Builder
		if err := s.Dump(&buf); err == nil {
			d.logger.Debug("working memory", "session", s.ID(), "facts", buf.String())
		}
	}

	return s.Extract()
}

// observe records metrics and the audit record. Audit failures are logged;
// they never change the determination.
func (d *Determiner) observe(ctx context.Context, rec ir.DeterminationRecord, firings int, elapsed time.Duration) {
	d.metrics.IncrementOutcome(rec.Outcome)
	d.metrics.ObserveFirings(firings)
	d.metrics.ObserveDetermineLatency(elapsed)
	if rec.Outcome == ir.OutcomeIssued {
		d.metrics.IncrementIssued(rec.ResultType)
		d.metrics.AddDiscarded(rec.MatchCount - 1)
	}

	d.logger.Debug("determination complete",
		"session", rec.SessionID,
		"outcome", rec.Outcome,
		"result", rec.ResultType,
		"facts", rec.FactCount,
		"firings", firings,
		"duration", elapsed,
	)

	if d.recorder == nil {
		return
	}
	// The caller's context may already be done (timeout); the record of
	// that failure still has to be written.
	if err := d.recorder.WriteDetermination(context.WithoutCancel(ctx), rec); err != nil {
		d.logger.Error("failed to record determination", "session", rec.SessionID, "error", err)
	}
}

func firingRecords(firings []engine.Firing) []ir.FiringRecord {
	if len(firings) == 0 {
		return nil
	}
	out := make([]ir.FiringRecord, len(firings))
	for i, f := range firings {
		out[i] = ir.FiringRecord{
			RuleID:      f.RuleID,
			MatchedSeq:  f.Matched.Seq(),
			InsertedSeq: f.Inserted.Seq(),
			Step:        f.Step,
		}
	}
	return out
}
