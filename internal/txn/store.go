package txn

// Entry is a stored value with the version that wrote it. A nil Value is a
// written null.
type Entry struct {
	Value   *int64
	Version Version
}

// Store is a last-writer-wins map keyed by version, with a Lamport clock
// that stays ahead of every version it has seen.
type Store struct {
	entries map[int64]Entry
	clock   uint64
}

func NewStore() *Store {
	return &Store{entries: make(map[int64]Entry)}
}

// Get returns the value at key and whether the key was ever written.
func (s *Store) Get(key int64) (Entry, bool) {
	e, ok := s.entries[key]
	return e, ok
}

// Apply installs value at key only if v dominates the current version, and
// reports whether it did.
func (s *Store) Apply(key int64, value *int64, v Version) bool {
	s.observe(v.TS)
	if cur, ok := s.entries[key]; ok && !v.Dominates(cur.Version) {
		return false
	}
	s.entries[key] = Entry{Value: copyValue(value), Version: v}
	return true
}

// NextVersion ticks the clock and stamps a version for node that dominates
// everything applied so far.
func (s *Store) NextVersion(node string) Version {
	s.clock++
	return Version{TS: s.clock, Node: node}
}

func (s *Store) observe(ts uint64) {
	if ts > s.clock {
		s.clock = ts
	}
}

func (s *Store) Clock() uint64 { return s.clock }

func (s *Store) Len() int { return len(s.entries) }

func copyValue(v *int64) *int64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
