// Package replog is a per-key append-only log replicated from a static
// leader, the lexicographically first roster member. A send is
// acknowledged once a majority of the roster holds the entry.
package replog

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"time"

	"replikit/internal/message"
	"replikit/internal/metrics"
	"replikit/internal/node"
)

// ReadMode selects who serves poll.
type ReadMode string

const (
	// ReadLeader forwards polls to the leader.
	ReadLeader ReadMode = "leader"
	// ReadLocal serves polls from the local replica's gapless prefix.
	// Committed offsets always live on the leader.
	ReadLocal ReadMode = "local"
)

const (
	DefaultRetryInterval = 500 * time.Millisecond
	DefaultRetryBatch    = 256
)

type Config struct {
	ReadMode ReadMode
	// RetryInterval is how long the leader waits for a replica to
	// acknowledge an entry before sending it again.
	RetryInterval time.Duration
	// RetryBatch caps the entries re-sent to one replica per tick.
	RetryBatch int
	// WaiterTTL bounds how long a client waits on a send. Zero waits for
	// the quorum however long it takes.
	WaiterTTL time.Duration
}

// delivery is an entry a replica has not acknowledged yet.
type delivery struct {
	msg    int64
	sentAt time.Time
}

type Replicator struct {
	cfg     Config
	store   *Store
	tracker *Tracker
	leader  string
	unacked map[string]map[entryRef]delivery
}

func New(cfg Config) *Replicator {
	if cfg.ReadMode == "" {
		cfg.ReadMode = ReadLeader
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = DefaultRetryInterval
	}
	if cfg.RetryBatch <= 0 {
		cfg.RetryBatch = DefaultRetryBatch
	}
	return &Replicator{
		cfg:     cfg,
		store:   NewStore(),
		unacked: make(map[string]map[entryRef]delivery),
	}
}

func (r *Replicator) Register(n *node.Node) {
	n.OnInit(r.onInit)
	n.OnTick(r.onTick)
	n.Handle(message.TypeSend, r.handleSend)
	n.Handle(message.TypePoll, r.handlePoll)
	n.Handle(message.TypeCommitOffsets, r.handleCommit)
	n.Handle(message.TypeListCommittedOffsets, r.handleListCommitted)
	n.Handle(message.TypeReplicate, r.handleReplicate)
}

func (r *Replicator) Store() *Store { return r.store }

func (r *Replicator) Leader() string { return r.leader }

func (r *Replicator) Tracker() *Tracker { return r.tracker }

// Unacked is the number of entries replica has not acknowledged.
func (r *Replicator) Unacked(replica string) int { return len(r.unacked[replica]) }

func (r *Replicator) onInit(st *node.State) error {
	roster := st.Roster()
	if len(roster) == 0 {
		return errors.New("empty roster")
	}
	r.leader = roster[0]
	r.tracker = NewTracker(roster)
	st.Logger().Info("log replication ready",
		"leader", r.leader, "quorum", r.tracker.Quorum(), "read_mode", r.cfg.ReadMode)
	return nil
}

func (r *Replicator) isLeader(st *node.State) bool { return st.ID() == r.leader }

func (r *Replicator) handleSend(st *node.State, req message.Envelope) error {
	if !r.isLeader(st) {
		st.Forward(r.leader, req)
		return nil
	}

	body := req.Body.(*message.Send)
	offset := r.store.Append(body.Key, body.Msg)
	metrics.LogAppendsTotal.Inc()
	r.tracker.Track(body.Key, offset, st.ID(), req.Src, message.MsgID(body), st.Now())
	metrics.LogPendingAppends.Set(float64(r.tracker.Pending()))

	ref := entryRef{body.Key, offset}
	for _, peer := range st.Peers() {
		r.replicate(st, peer, ref, body.Msg)
	}
	r.maybeRelease(st, body.Key, offset)
	return nil
}

func (r *Replicator) replicate(st *node.State, peer string, ref entryRef, msg int64) {
	pending, ok := r.unacked[peer]
	if !ok {
		pending = make(map[entryRef]delivery)
		r.unacked[peer] = pending
	}
	pending[ref] = delivery{msg: msg, sentAt: st.Now()}
	st.Call(peer, &message.Replicate{Key: ref.key, Msg: msg, Offset: ref.offset}, r.onReplicated)
	r.reportUnacked()
}

func (r *Replicator) reportUnacked() {
	total := 0
	for _, pending := range r.unacked {
		total += len(pending)
	}
	metrics.LogUnacked.Set(float64(total))
}

// onTick re-sends entries replicas have not acknowledged within the retry
// interval, oldest offsets first, and gives up on clients parked too long.
func (r *Replicator) onTick(st *node.State) error {
	if !r.isLeader(st) {
		return nil
	}
	now := st.Now()
	if r.cfg.WaiterTTL > 0 {
		if n := r.tracker.Expire(now.Add(-r.cfg.WaiterTTL)); n > 0 {
			metrics.LogExpiredAppendsTotal.Add(float64(n))
			metrics.LogPendingAppends.Set(float64(r.tracker.Pending()))
			st.Logger().Debug("dropped sends without quorum", "count", n)
		}
	}

	for _, peer := range st.Peers() {
		var due []entryRef
		for ref, d := range r.unacked[peer] {
			if now.Sub(d.sentAt) >= r.cfg.RetryInterval {
				due = append(due, ref)
			}
		}
		if len(due) == 0 {
			continue
		}
		slices.SortFunc(due, func(a, b entryRef) int {
			if c := cmp.Compare(a.key, b.key); c != 0 {
				return c
			}
			return cmp.Compare(a.offset, b.offset)
		})
		if len(due) > r.cfg.RetryBatch {
			due = due[:r.cfg.RetryBatch]
		}
		for _, ref := range due {
			r.replicate(st, peer, ref, r.unacked[peer][ref].msg)
		}
		metrics.LogRetransmitsTotal.Add(float64(len(due)))
		st.Logger().Debug("re-sent unacknowledged entries", "replica", peer, "count", len(due))
	}
	return nil
}

func (r *Replicator) onReplicated(st *node.State, reply message.Envelope) error {
	ok, isOk := reply.Body.(*message.ReplicateOk)
	if !isOk {
		return fmt.Errorf("replicate to %s: unexpected %s", reply.Src, reply.Body.Type())
	}
	r.Ack(st, ok.Key, ok.Offset, reply.Src)
	return nil
}

// Ack counts replica's copy of (key, offset) and answers the client once a
// quorum holds it. Repeated acks from one replica count once.
func (r *Replicator) Ack(st *node.State, key string, offset int64, replica string) AckResult {
	if pending, ok := r.unacked[replica]; ok {
		delete(pending, entryRef{key, offset})
		r.reportUnacked()
	}
	res := r.tracker.Ack(key, offset, replica)
	metrics.LogAcksTotal.WithLabelValues(res.String()).Inc()
	if res == AckCounted {
		r.maybeRelease(st, key, offset)
	}
	return res
}

func (r *Replicator) maybeRelease(st *node.State, key string, offset int64) {
	client, clientMsgID, ok := r.tracker.Release(key, offset)
	if !ok {
		return
	}
	metrics.LogCommitsTotal.Inc()
	metrics.LogPendingAppends.Set(float64(r.tracker.Pending()))
	st.ReplyTo(client, clientMsgID, &message.SendOk{Offset: offset})
}

func (r *Replicator) handleReplicate(st *node.State, req message.Envelope) error {
	if req.Src != r.leader {
		return message.NewRPCError(message.CodeNotSupported, "%v: %s", ErrNotLeader, req.Src)
	}
	body := req.Body.(*message.Replicate)
	if _, err := r.store.Insert(body.Key, body.Offset, body.Msg); err != nil {
		if errors.Is(err, ErrOffsetConflict) {
			panic(fmt.Sprintf("replog: %v", err))
		}
		return message.NewRPCError(message.CodeMalformedRequest, "%v", err)
	}
	st.Reply(req, &message.ReplicateOk{Key: body.Key, Offset: body.Offset})
	return nil
}

func (r *Replicator) handlePoll(st *node.State, req message.Envelope) error {
	if !r.isLeader(st) && r.cfg.ReadMode != ReadLocal {
		st.Forward(r.leader, req)
		return nil
	}
	body := req.Body.(*message.Poll)
	st.Reply(req, &message.PollOk{Msgs: r.store.Poll(body.Offsets, !r.isLeader(st))})
	return nil
}

func (r *Replicator) handleCommit(st *node.State, req message.Envelope) error {
	if !r.isLeader(st) {
		st.Forward(r.leader, req)
		return nil
	}
	r.store.Commit(req.Body.(*message.CommitOffsets).Offsets)
	st.Reply(req, &message.CommitOffsetsOk{})
	return nil
}

func (r *Replicator) handleListCommitted(st *node.State, req message.Envelope) error {
	if !r.isLeader(st) {
		st.Forward(r.leader, req)
		return nil
	}
	keys := req.Body.(*message.ListCommittedOffsets).Keys
	st.Reply(req, &message.ListCommittedOffsetsOk{Offsets: r.store.Committed(keys)})
	return nil
}
