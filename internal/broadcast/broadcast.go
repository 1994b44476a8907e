// Package broadcast disseminates integer values to every node by delta
// gossip over a bounded-degree neighbour graph.
package broadcast

import (
	"fmt"
	"maps"
	"slices"

	"replikit/internal/message"
	"replikit/internal/metrics"
	"replikit/internal/node"
)

// TopologyMode selects where gossip neighbours come from.
type TopologyMode string

const (
	// TopologyLattice ignores the harness and links each node to its nearest
	// ring neighbours.
	TopologyLattice TopologyMode = "lattice"
	// TopologyHarness uses the topology message, falling back to the lattice
	// until one arrives.
	TopologyHarness TopologyMode = "harness"
	// TopologyFull gossips with every peer.
	TopologyFull TopologyMode = "full"
)

type Config struct {
	Topology TopologyMode
	Fanout   int
	MaxBatch int
}

type set map[int64]struct{}

// Engine holds the delivered set and per-peer knowledge. It is driven from
// the node's handler goroutine only.
type Engine struct {
	cfg       Config
	delivered set
	known     map[string]set
	neighbors []string
}

func New(cfg Config) *Engine {
	if cfg.Topology == "" {
		cfg.Topology = TopologyLattice
	}
	return &Engine{
		cfg:       cfg,
		delivered: make(set),
		known:     make(map[string]set),
	}
}

// Register wires the broadcast handlers and gossip tick onto n.
func (e *Engine) Register(n *node.Node) {
	n.OnInit(e.onInit)
	n.OnTick(e.Gossip)
	n.Handle(message.TypeTopology, e.handleTopology)
	n.Handle(message.TypeBroadcast, e.handleBroadcast)
	n.Handle(message.TypeRead, e.handleRead)
	n.Handle(message.TypeGossip, e.handleGossip)
}

// Deliver records v and reports whether it was new.
func (e *Engine) Deliver(v int64) bool {
	if _, dup := e.delivered[v]; dup {
		return false
	}
	e.delivered[v] = struct{}{}
	metrics.BroadcastValues.Set(float64(len(e.delivered)))
	return true
}

// Read returns the delivered values in ascending order.
func (e *Engine) Read() []int64 {
	return slices.Sorted(maps.Keys(e.delivered))
}

func (e *Engine) Neighbors() []string { return slices.Clone(e.neighbors) }

// Delta returns up to MaxBatch delivered values peer is not known to hold,
// smallest first.
func (e *Engine) Delta(peer string) []int64 {
	known := e.known[peer]
	var out []int64
	for v := range e.delivered {
		if _, ok := known[v]; !ok {
			out = append(out, v)
		}
	}
	slices.Sort(out)
	if e.cfg.MaxBatch > 0 && len(out) > e.cfg.MaxBatch {
		out = out[:e.cfg.MaxBatch]
	}
	return out
}

// MarkKnown records that peer holds vals.
func (e *Engine) MarkKnown(peer string, vals []int64) {
	known, ok := e.known[peer]
	if !ok {
		known = make(set, len(vals))
		e.known[peer] = known
	}
	for _, v := range vals {
		known[v] = struct{}{}
	}
}

// Gossip sends every neighbour its delta. Values only count as known once
// the neighbour acknowledges, so lost rounds are retried on the next tick.
func (e *Engine) Gossip(st *node.State) error {
	for _, peer := range e.neighbors {
		delta := e.Delta(peer)
		if len(delta) == 0 {
			continue
		}
		metrics.GossipBatchSize.WithLabelValues("broadcast").Observe(float64(len(delta)))
		st.Call(peer, &message.Gossip{Messages: delta}, func(st *node.State, reply message.Envelope) error {
			if reply.Body.Type() != message.TypeGossipOk {
				return fmt.Errorf("gossip to %s: unexpected %s", peer, reply.Body.Type())
			}
			metrics.GossipAckedTotal.WithLabelValues("broadcast").Inc()
			e.MarkKnown(peer, delta)
			return nil
		})
	}
	return nil
}

func (e *Engine) onInit(st *node.State) error {
	switch e.cfg.Topology {
	case TopologyFull:
		e.neighbors = st.Peers()
	case TopologyLattice, TopologyHarness:
		e.neighbors = node.RingLattice(st.Roster(), st.ID(), e.cfg.Fanout)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownTopology, e.cfg.Topology)
	}
	st.Logger().Info("broadcast neighbours chosen", "mode", e.cfg.Topology, "neighbours", e.neighbors)
	return nil
}

func (e *Engine) handleTopology(st *node.State, req message.Envelope) error {
	body := req.Body.(*message.Topology)
	if e.cfg.Topology == TopologyHarness {
		roster := st.Roster()
		var next []string
		for _, peer := range body.Topology[st.ID()] {
			if peer != st.ID() && slices.Contains(roster, peer) {
				next = append(next, peer)
			}
		}
		slices.Sort(next)
		e.neighbors = slices.Compact(next)
		st.Logger().Info("broadcast neighbours from harness", "neighbours", e.neighbors)
	}
	st.Reply(req, &message.TopologyOk{})
	return nil
}

func (e *Engine) handleBroadcast(st *node.State, req message.Envelope) error {
	e.Deliver(req.Body.(*message.Broadcast).Message)
	st.Reply(req, &message.BroadcastOk{})
	return nil
}

func (e *Engine) handleRead(st *node.State, req message.Envelope) error {
	st.Reply(req, &message.ReadOk{Messages: e.Read()})
	return nil
}

func (e *Engine) handleGossip(st *node.State, req message.Envelope) error {
	vals := req.Body.(*message.Gossip).Messages
	for _, v := range vals {
		e.Deliver(v)
	}
	e.MarkKnown(req.Src, vals)
	st.Reply(req, &message.GossipOk{})
	return nil
}
