package replog

import (
	"fmt"
	"slices"

	"github.com/google/btree"
)

// Entry is one appended message.
type Entry struct {
	Offset int64
	Msg    int64
}

func entryLess(a, b Entry) bool { return a.Offset < b.Offset }

type keyLog struct {
	entries *btree.BTreeG[Entry]
	// contiguous is the first offset missing from the 0-based prefix.
	contiguous int64
	committed  int64
	hasCommit  bool
}

func newKeyLog() *keyLog {
	return &keyLog{entries: btree.NewG(16, entryLess)}
}

func (l *keyLog) advance() {
	for {
		if _, ok := l.entries.Get(Entry{Offset: l.contiguous}); !ok {
			return
		}
		l.contiguous++
	}
}

// Store is the per-key offset-indexed log plus committed client offsets.
type Store struct {
	logs map[string]*keyLog
}

func NewStore() *Store {
	return &Store{logs: make(map[string]*keyLog)}
}

func (s *Store) log(key string) *keyLog {
	l, ok := s.logs[key]
	if !ok {
		l = newKeyLog()
		s.logs[key] = l
	}
	return l
}

// NextOffset is one past the highest offset held for key, or 0.
func (s *Store) NextOffset(key string) int64 {
	l, ok := s.logs[key]
	if !ok {
		return 0
	}
	last, ok := l.entries.Max()
	if !ok {
		return 0
	}
	return last.Offset + 1
}

// Append assigns the next offset for key. Offsets are never reused; a
// collision means the log is corrupt and the process cannot continue.
func (s *Store) Append(key string, msg int64) int64 {
	off := s.NextOffset(key)
	l := s.log(key)
	if _, replaced := l.entries.ReplaceOrInsert(Entry{Offset: off, Msg: msg}); replaced {
		panic(fmt.Sprintf("replog: offset %d of %q assigned twice", off, key))
	}
	l.advance()
	return off
}

// Insert stores a replicated entry at a leader-chosen offset. Re-inserting
// the same entry is a no-op; a different value at a held offset returns
// ErrOffsetConflict.
func (s *Store) Insert(key string, off int64, msg int64) (bool, error) {
	if off < 0 {
		return false, fmt.Errorf("%w: %d", ErrNegativeOffset, off)
	}
	l := s.log(key)
	if cur, ok := l.entries.Get(Entry{Offset: off}); ok {
		if cur.Msg != msg {
			return false, fmt.Errorf("%w: %q offset %d holds %d, got %d", ErrOffsetConflict, key, off, cur.Msg, msg)
		}
		return false, nil
	}
	l.entries.ReplaceOrInsert(Entry{Offset: off, Msg: msg})
	l.advance()
	return true, nil
}

// Poll returns the entries at or after each requested offset. With
// gapless set, results stop at the first offset this store has not seen.
func (s *Store) Poll(from map[string]int64, gapless bool) map[string][][2]int64 {
	out := make(map[string][][2]int64, len(from))
	for key, start := range from {
		l, ok := s.logs[key]
		if !ok {
			out[key] = [][2]int64{}
			continue
		}
		pairs := [][2]int64{}
		l.entries.AscendGreaterOrEqual(Entry{Offset: start}, func(e Entry) bool {
			if gapless && e.Offset >= l.contiguous {
				return false
			}
			pairs = append(pairs, [2]int64{e.Offset, e.Msg})
			return true
		})
		out[key] = pairs
	}
	return out
}

// Commit records client progress. Committed offsets only move forward.
func (s *Store) Commit(offsets map[string]int64) {
	for key, off := range offsets {
		l := s.log(key)
		if !l.hasCommit || off > l.committed {
			l.committed = off
			l.hasCommit = true
		}
	}
}

// Committed returns the offsets of the requested keys; keys never committed
// are omitted.
func (s *Store) Committed(keys []string) map[string]int64 {
	out := make(map[string]int64, len(keys))
	for _, key := range keys {
		if l, ok := s.logs[key]; ok && l.hasCommit {
			out[key] = l.committed
		}
	}
	return out
}

// Keys lists every key with a log, sorted.
func (s *Store) Keys() []string {
	keys := make([]string, 0, len(s.logs))
	for k := range s.logs {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Len is the number of entries held for key.
func (s *Store) Len(key string) int {
	if l, ok := s.logs[key]; ok {
		return l.entries.Len()
	}
	return 0
}
