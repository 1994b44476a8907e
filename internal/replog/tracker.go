package replog

import (
	"time"

	"go.etcd.io/raft/v3/quorum"
)

// AckResult classifies one replication acknowledgement.
type AckResult int

const (
	AckCounted AckResult = iota
	AckDuplicate
	AckUnknownReplica
	AckUnknownEntry
)

func (r AckResult) String() string {
	switch r {
	case AckCounted:
		return "counted"
	case AckDuplicate:
		return "duplicate"
	case AckUnknownReplica:
		return "unknown_replica"
	default:
		return "unknown_entry"
	}
}

type entryRef struct {
	key    string
	offset int64
}

// waiter is the client parked on an append.
type waiter struct {
	client      string
	clientMsgID uint64
	votes       map[uint64]bool
	parkedAt    time.Time
}

// Tracker counts distinct replica acknowledgements per entry and reports
// when a majority of the roster holds it.
type Tracker struct {
	voters  quorum.MajorityConfig
	ids     map[string]uint64
	pending map[entryRef]*waiter
}

// NewTracker maps each roster member to a voter id in the majority config.
func NewTracker(roster []string) *Tracker {
	t := &Tracker{
		voters:  make(quorum.MajorityConfig, len(roster)),
		ids:     make(map[string]uint64, len(roster)),
		pending: make(map[entryRef]*waiter),
	}
	for i, id := range roster {
		vid := uint64(i + 1)
		t.voters[vid] = struct{}{}
		t.ids[id] = vid
	}
	return t
}

// Quorum is the number of acknowledgements an entry needs.
func (t *Tracker) Quorum() int {
	return len(t.voters)/2 + 1
}

// Track parks a client on (key, offset) with the leader's own copy counted.
func (t *Tracker) Track(key string, offset int64, leader, client string, clientMsgID uint64, now time.Time) {
	w := &waiter{client: client, clientMsgID: clientMsgID, votes: make(map[uint64]bool), parkedAt: now}
	if vid, ok := t.ids[leader]; ok {
		w.votes[vid] = true
	}
	t.pending[entryRef{key, offset}] = w
}

// Ack records replica's copy of (key, offset).
func (t *Tracker) Ack(key string, offset int64, replica string) AckResult {
	w, ok := t.pending[entryRef{key, offset}]
	if !ok {
		return AckUnknownEntry
	}
	vid, ok := t.ids[replica]
	if !ok {
		return AckUnknownReplica
	}
	if w.votes[vid] {
		return AckDuplicate
	}
	w.votes[vid] = true
	return AckCounted
}

// Release returns the parked client once (key, offset) reaches a quorum,
// forgetting the entry.
func (t *Tracker) Release(key string, offset int64) (client string, clientMsgID uint64, ok bool) {
	ref := entryRef{key, offset}
	w, found := t.pending[ref]
	if !found || t.voters.VoteResult(w.votes) != quorum.VoteWon {
		return "", 0, false
	}
	delete(t.pending, ref)
	return w.client, w.clientMsgID, true
}

// Acks is the number of distinct replicas holding (key, offset), or -1
// when it is not pending.
func (t *Tracker) Acks(key string, offset int64) int {
	w, ok := t.pending[entryRef{key, offset}]
	if !ok {
		return -1
	}
	return len(w.votes)
}

// Expire forgets clients parked at or before cutoff and returns how many went.
// Their entries stay in the log; only the acknowledgement is given up.
func (t *Tracker) Expire(cutoff time.Time) int {
	expired := 0
	for ref, w := range t.pending {
		if !w.parkedAt.After(cutoff) {
			delete(t.pending, ref)
			expired++
		}
	}
	return expired
}

func (t *Tracker) Pending() int { return len(t.pending) }
