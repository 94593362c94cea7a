package extract

import (
	"fmt"
	"log/slog"

	"github.com/sctrcd/buspass/internal/memory"
)

// Matches reports whether f is a candidate result for target: its type is
// target itself or has target as its immediate parent.
func Matches(f memory.Fact, target *memory.Type) bool {
	t := f.Type()
	if t == nil || target == nil {
		return false
	}
	return t.Same(target) || t.Parent().Same(target)
}

// Determination is the outcome of extraction: a result fact, or none.
type Determination struct {
	fact       memory.Fact
	handle     memory.FactHandle
	found      bool
	matchCount int
}

// Found reports whether a result fact was selected.
func (d Determination) Found() bool {
	return d.found
}

// None reports whether no fact qualified.
func (d Determination) None() bool {
	return !d.found
}

// Fact returns the selected fact, or the zero Fact when none was found.
func (d Determination) Fact() memory.Fact {
	return d.fact
}

// Handle returns the handle of the selected fact. It is only valid until
// the owning store is disposed, and is zero on a detached determination.
func (d Determination) Handle() memory.FactHandle {
	return d.handle
}

// Detach returns a copy of d that no longer references its store.
func (d Determination) Detach() Determination {
	d.handle = memory.FactHandle{}
	return d
}

// MatchCount returns how many facts qualified, including the selected one.
func (d Determination) MatchCount() int {
	return d.matchCount
}

// Discarded returns how many qualifying facts were dropped.
func (d Determination) Discarded() int {
	if d.matchCount == 0 {
		return 0
	}
	return d.matchCount - 1
}

// String renders the determination for logs and CLI output.
func (d Determination) String() string {
	if !d.found {
		return "no result"
	}
	return d.fact.String()
}

// Extractor selects results of one target type.
type Extractor struct {
	target *memory.Type
	logger *slog.Logger
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithLogger sets the logger used to report discarded candidates.
func WithLogger(logger *slog.Logger) Option {
	return func(x *Extractor) {
		x.logger = logger
	}
}

// New creates an Extractor for target.
func New(target *memory.Type, opts ...Option) *Extractor {
	x := &Extractor{target: target, logger: slog.Default()}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// Target returns the target type.
func (x *Extractor) Target() *memory.Type {
	return x.target
}

// Extract scans r in insertion order and returns the first candidate.
//
// Extract only reads. No result is not an error; the error return is for
// handles the reader refuses, which means the store was disposed or
// mismatched underneath the caller.
func (x *Extractor) Extract(r memory.Reader) (Determination, error) {
	handles := r.FilteredHandles(func(f memory.Fact) bool {
		return Matches(f, x.target)
	})
	if len(handles) == 0 {
		return Determination{}, nil
	}

	f, err := r.GetObject(handles[0])
	if err != nil {
		return Determination{}, fmt.Errorf("read result fact: %w", err)
	}

	d := Determination{
		fact:       f,
		handle:     handles[0],
		found:      true,
		matchCount: len(handles),
	}
	if d.Discarded() > 0 {
		x.logger.Warn("multiple results matched, keeping the first",
			"target", x.target.Name(),
			"selected", f.Type().Name(),
			"matches", d.matchCount,
		)
	}
	return d, nil
}

// Extract is a convenience for New(target).Extract(r).
func Extract(r memory.Reader, target *memory.Type) (Determination, error) {
	return New(target).Extract(r)
}
