// Package txn executes single-node transactions over a replicated
// key/value map. Writes carry a (timestamp, node) version and are pushed
// to every peer; replicas keep the dominant version, so all of them
// converge on the same value per key.
package txn

import (
	"fmt"
	"slices"

	"replikit/internal/message"
	"replikit/internal/metrics"
	"replikit/internal/node"
)

type Isolation string

const (
	// ReadUncommitted applies each write the moment it executes.
	ReadUncommitted Isolation = "read-uncommitted"
	// ReadCommitted stages writes and installs them at commit, so no other
	// transaction observes an intermediate value.
	ReadCommitted Isolation = "read-committed"
)

func ParseIsolation(s string) (Isolation, error) {
	switch Isolation(s) {
	case ReadUncommitted, ReadCommitted:
		return Isolation(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownIsolation, s)
	}
}

type Engine struct {
	isolation Isolation
	store     *Store
}

func New(isolation Isolation) *Engine {
	return &Engine{isolation: isolation, store: NewStore()}
}

func (e *Engine) Store() *Store { return e.store }

func (e *Engine) Register(n *node.Node) {
	n.Handle(message.TypeTxn, e.handleTxn)
	n.Handle(message.TypeTxnReplicate, e.handleReplicate)
}

// Execute runs ops for self and returns the completed ops plus the writes
// to replicate.
func (e *Engine) Execute(self string, ops []message.Op) ([]message.Op, []message.Write, error) {
	metrics.TxnTotal.WithLabelValues(string(e.isolation)).Inc()
	switch e.isolation {
	case ReadUncommitted:
		res, writes := e.executeUncommitted(self, ops)
		return res, writes, nil
	case ReadCommitted:
		res, writes := e.executeCommitted(self, ops)
		return res, writes, nil
	default:
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownIsolation, e.isolation)
	}
}

func (e *Engine) executeUncommitted(self string, ops []message.Op) ([]message.Op, []message.Write) {
	results := make([]message.Op, 0, len(ops))
	var writes []message.Write
	for _, op := range ops {
		switch op.Kind {
		case message.OpRead:
			results = append(results, e.read(op.Key))
		case message.OpWrite:
			v := e.store.NextVersion(self)
			e.store.Apply(op.Key, op.Value, v)
			writes = append(writes, message.Write{Key: op.Key, Value: copyValue(op.Value), Version: v.wire()})
			results = append(results, op)
		}
	}
	return results, writes
}

func (e *Engine) executeCommitted(self string, ops []message.Op) ([]message.Op, []message.Write) {
	results := make([]message.Op, 0, len(ops))
	staged := make(map[int64]*int64)
	for _, op := range ops {
		switch op.Kind {
		case message.OpRead:
			if v, ok := staged[op.Key]; ok {
				results = append(results, message.Op{Kind: message.OpRead, Key: op.Key, Value: copyValue(v)})
				continue
			}
			results = append(results, e.read(op.Key))
		case message.OpWrite:
			staged[op.Key] = copyValue(op.Value)
			results = append(results, op)
		}
	}
	if len(staged) == 0 {
		return results, nil
	}

	// one commit version covers every key the transaction wrote
	v := e.store.NextVersion(self)
	keys := make([]int64, 0, len(staged))
	for k := range staged {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	writes := make([]message.Write, 0, len(keys))
	for _, k := range keys {
		e.store.Apply(k, staged[k], v)
		writes = append(writes, message.Write{Key: k, Value: staged[k], Version: v.wire()})
	}
	return results, writes
}

func (e *Engine) read(key int64) message.Op {
	op := message.Op{Kind: message.OpRead, Key: key}
	if entry, ok := e.store.Get(key); ok {
		op.Value = copyValue(entry.Value)
	}
	return op
}

// ApplyRemote merges replicated writes in order and returns how many won.
func (e *Engine) ApplyRemote(writes []message.Write) (applied int) {
	for _, w := range writes {
		if e.store.Apply(w.Key, w.Value, fromWire(w.Version)) {
			applied++
			metrics.TxnRemoteWritesTotal.WithLabelValues("applied").Inc()
		} else {
			metrics.TxnRemoteWritesTotal.WithLabelValues("stale").Inc()
		}
	}
	return applied
}

func (e *Engine) handleTxn(st *node.State, req message.Envelope) error {
	body := req.Body.(*message.Txn)
	results, writes, err := e.Execute(st.ID(), body.Txn)
	if err != nil {
		return err
	}
	if len(writes) > 0 {
		for _, peer := range st.Peers() {
			st.Send(peer, &message.TxnReplicate{Writes: writes})
		}
	}
	st.Reply(req, &message.TxnOk{Txn: results})
	return nil
}

// handleReplicate is fire-and-forget: peers do not acknowledge.
func (e *Engine) handleReplicate(st *node.State, req message.Envelope) error {
	writes := req.Body.(*message.TxnReplicate).Writes
	applied := e.ApplyRemote(writes)
	st.Logger().Debug("applied replicated writes", "src", req.Src, "writes", len(writes), "applied", applied)
	return nil
}
