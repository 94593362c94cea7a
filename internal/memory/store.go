package memory

// Filter selects facts during filtered enumeration.
type Filter func(Fact) bool

// Reader is the read-only view of working memory.
type Reader interface {
	AllHandles() []FactHandle
	FilteredHandles(filter Filter) []FactHandle
	GetObject(h FactHandle) (Fact, error)
}

// WorkingMemory is what a rule set may do to a store: read anything and
// insert new facts. There is no update or delete.
type WorkingMemory interface {
	Reader
	Insert(f Fact) (FactHandle, error)
}

type entry struct {
	handle FactHandle
	fact   Fact
}

// Store is the working memory of one inference session.
type Store struct {
	id       string
	clock    *Clock
	entries  []entry
	index    map[int64]int // handle seq -> position in entries
	disposed bool
}

var _ WorkingMemory = (*Store)(nil)

// New creates an empty store owned by the session with the given ID.
// The ID must be unique per session; it is embedded in every handle.
func New(sessionID string) *Store {
	return &Store{
		id:    sessionID,
		clock: NewClock(),
		index: make(map[int64]int),
	}
}

// ID returns the owning session's ID.
func (s *Store) ID() string {
	return s.id
}

// Insert adds a fact and returns a fresh handle.
//
// The only failures are inserting into a disposed store and inserting the
// zero Fact; both are programming errors.
func (s *Store) Insert(f Fact) (FactHandle, error) {
	if s.disposed {
		return FactHandle{}, ErrStoreDisposed
	}
	if f.IsZero() {
		return FactHandle{}, ErrUntypedFact
	}

	h := FactHandle{store: s.id, seq: s.clock.Next()}
	s.index[h.seq] = len(s.entries)
	s.entries = append(s.entries, entry{handle: h, fact: f})
	return h, nil
}

// AllHandles returns a snapshot of every live handle in insertion order.
// A disposed store has no live handles.
func (s *Store) AllHandles() []FactHandle {
	return s.FilteredHandles(nil)
}

// FilteredHandles returns a snapshot, in insertion order, of the handles
// whose fact satisfies filter. A nil filter selects every fact.
func (s *Store) FilteredHandles(filter Filter) []FactHandle {
	if s.disposed {
		return nil
	}
	out := make([]FactHandle, 0, len(s.entries))
	for _, e := range s.entries {
		if filter == nil || filter(e.fact) {
			out = append(out, e.handle)
		}
	}
	return out
}

// GetObject returns the fact bound to h.
func (s *Store) GetObject(h FactHandle) (Fact, error) {
	if s.disposed {
		return Fact{}, &InvalidHandleError{Handle: h, Store: s.id, Reason: "store disposed"}
	}
	if h.store != s.id {
		return Fact{}, &InvalidHandleError{Handle: h, Store: s.id, Reason: "handle belongs to another store"}
	}
	pos, ok := s.index[h.seq]
	if !ok {
		return Fact{}, &InvalidHandleError{Handle: h, Store: s.id, Reason: "no such fact"}
	}
	return s.entries[pos].fact, nil
}

// Len returns the number of facts in the store.
func (s *Store) Len() int {
	if s.disposed {
		return 0
	}
	return len(s.entries)
}

// Facts returns a snapshot of all facts in insertion order.
// Intended for diagnostics.
func (s *Store) Facts() []Fact {
	if s.disposed {
		return nil
	}
	out := make([]Fact, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.fact
	}
	return out
}

// Dispose releases all facts. Every handle issued by the store becomes
// invalid. Dispose is idempotent.
func (s *Store) Dispose() {
	s.disposed = true
	s.entries = nil
	s.index = nil
}

// Disposed reports whether Dispose has been called.
func (s *Store) Disposed() bool {
	return s.disposed
}
