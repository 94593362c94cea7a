package memory

import "fmt"

// FactHandle is an opaque reference to a fact in one store.
//
// Handles are comparable and may be used as map keys. A handle is valid only
// in the store that issued it and only until that store is disposed.
type FactHandle struct {
	store string
	seq   int64
}

// Seq returns the handle's position in insertion order (1-based).
func (h FactHandle) Seq() int64 {
	return h.seq
}

// StoreID returns the ID of the store that issued the handle.
func (h FactHandle) StoreID() string {
	return h.store
}

// IsZero reports whether h is the zero handle.
func (h FactHandle) IsZero() bool {
	return h.store == "" && h.seq == 0
}

func (h FactHandle) String() string {
	return fmt.Sprintf("%s#%d", h.store, h.seq)
}
