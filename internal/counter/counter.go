// Package counter is a grow-only counter: each node owns a versioned slot,
// slots spread by delta gossip, and the total is the sum of all slots.
package counter

import (
	"fmt"
	"maps"

	"replikit/internal/message"
	"replikit/internal/metrics"
	"replikit/internal/node"
)

type Config struct {
	// Fanout limits gossip targets; zero gossips with every peer.
	Fanout int
}

type GCounter struct {
	cfg       Config
	slots     map[string]message.Counter
	known     map[string]map[string]uint64
	neighbors []string
}

func New(cfg Config) *GCounter {
	return &GCounter{
		cfg:   cfg,
		slots: make(map[string]message.Counter),
		known: make(map[string]map[string]uint64),
	}
}

func (g *GCounter) Register(n *node.Node) {
	n.OnInit(func(st *node.State) error {
		g.neighbors = node.RingLattice(st.Roster(), st.ID(), g.cfg.Fanout)
		return nil
	})
	n.OnTick(g.Gossip)
	n.Handle(message.TypeAdd, g.handleAdd)
	n.Handle(message.TypeRead, g.handleRead)
	n.Handle(message.TypeCounterGossip, g.handleGossip)
}

// Add bumps self's slot. Deltas must be non-negative.
func (g *GCounter) Add(self string, delta int64) error {
	if delta < 0 {
		return message.NewRPCError(message.CodeMalformedRequest, "grow-only counter cannot add %d", delta)
	}
	if delta == 0 {
		return nil
	}
	slot := g.slots[self]
	slot.Value += delta
	slot.Version++
	g.slots[self] = slot
	metrics.CounterValue.Set(float64(g.Value()))
	return nil
}

func (g *GCounter) Value() int64 {
	var total int64
	for _, slot := range g.slots {
		total += slot.Value
	}
	return total
}

// Merge keeps the higher version of every slot and reports whether anything
// changed.
func (g *GCounter) Merge(remote map[string]message.Counter) bool {
	changed := false
	for id, in := range remote {
		if cur, ok := g.slots[id]; ok && cur.Version >= in.Version {
			continue
		}
		g.slots[id] = in
		changed = true
	}
	if changed {
		metrics.CounterValue.Set(float64(g.Value()))
	}
	return changed
}

// Delta returns the slots peer has not acknowledged at their current version.
func (g *GCounter) Delta(peer string) map[string]message.Counter {
	known := g.known[peer]
	out := make(map[string]message.Counter)
	for id, slot := range g.slots {
		if known[id] < slot.Version {
			out[id] = slot
		}
	}
	return out
}

func (g *GCounter) markKnown(peer string, slots map[string]message.Counter) {
	known, ok := g.known[peer]
	if !ok {
		known = make(map[string]uint64, len(slots))
		g.known[peer] = known
	}
	for id, slot := range slots {
		if slot.Version > known[id] {
			known[id] = slot.Version
		}
	}
}

func (g *GCounter) Gossip(st *node.State) error {
	for _, peer := range g.neighbors {
		delta := g.Delta(peer)
		if len(delta) == 0 {
			continue
		}
		metrics.GossipBatchSize.WithLabelValues("counter").Observe(float64(len(delta)))
		st.Call(peer, &message.CounterGossip{Counters: delta}, func(st *node.State, reply message.Envelope) error {
			if reply.Body.Type() != message.TypeCounterGossipOk {
				return fmt.Errorf("counter gossip to %s: unexpected %s", peer, reply.Body.Type())
			}
			metrics.GossipAckedTotal.WithLabelValues("counter").Inc()
			g.markKnown(peer, delta)
			return nil
		})
	}
	return nil
}

func (g *GCounter) handleAdd(st *node.State, req message.Envelope) error {
	if err := g.Add(st.ID(), req.Body.(*message.Add).Delta); err != nil {
		return err
	}
	st.Reply(req, &message.AddOk{})
	return nil
}

func (g *GCounter) handleRead(st *node.State, req message.Envelope) error {
	v := g.Value()
	st.Reply(req, &message.ReadOk{Value: &v})
	return nil
}

func (g *GCounter) handleGossip(st *node.State, req message.Envelope) error {
	slots := req.Body.(*message.CounterGossip).Counters
	g.Merge(slots)
	g.markKnown(req.Src, slots)
	st.Reply(req, &message.CounterGossipOk{})
	return nil
}

// Snapshot copies the slot table.
func (g *GCounter) Snapshot() map[string]message.Counter {
	return maps.Clone(g.slots)
}
