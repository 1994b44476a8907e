// Package nodetest runs several nodes in one goroutine over an in-memory
// network with optional loss and partitions.
package nodetest

import (
	"fmt"
	"math/rand/v2"
	"slices"
	"testing"

	"replikit/internal/message"
	"replikit/internal/node"
)

// Builder registers a workload onto a fresh node.
type Builder func(id string) *node.Node

type Cluster struct {
	t     testing.TB
	ids   []string
	nodes map[string]*node.Node

	inflight []message.Envelope
	clients  map[string][]message.Envelope

	loss      float64
	rng       *rand.Rand
	blocked   map[[2]string]bool
	nextMsgID uint64

	Dropped int
}

// New builds one node per id and completes the init handshake.
func New(t testing.TB, ids []string, build Builder) *Cluster {
	t.Helper()
	c := &Cluster{
		t:       t,
		ids:     slices.Clone(ids),
		nodes:   make(map[string]*node.Node, len(ids)),
		clients: make(map[string][]message.Envelope),
		blocked: make(map[[2]string]bool),
		rng:     rand.New(rand.NewPCG(1, 1)),
	}
	for _, id := range ids {
		c.nodes[id] = build(id)
	}
	for _, id := range ids {
		c.Request("c0", id, &message.Init{NodeID: id, NodeIDs: c.ids})
	}
	c.Settle()
	acked := make(map[string]bool)
	for _, env := range c.clients["c0"] {
		if env.Body.Type() == message.TypeInitOk {
			acked[env.Src] = true
		}
	}
	for _, id := range ids {
		if !acked[id] {
			t.Fatalf("node %s did not acknowledge init", id)
		}
	}
	c.clients["c0"] = nil
	return c
}

func (c *Cluster) Node(id string) *node.Node { return c.nodes[id] }

func (c *Cluster) IDs() []string { return slices.Clone(c.ids) }

// SetLoss drops node-to-node messages with probability p using a fixed seed.
// Client traffic is never dropped.
func (c *Cluster) SetLoss(p float64, seed uint64) {
	c.loss = p
	c.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// Partition cuts every link between the two groups in both directions.
func (c *Cluster) Partition(a, b []string) {
	for _, x := range a {
		for _, y := range b {
			c.blocked[[2]string{x, y}] = true
			c.blocked[[2]string{y, x}] = true
		}
	}
}

func (c *Cluster) Heal() {
	clear(c.blocked)
}

// Request injects a client request and returns its msg_id.
func (c *Cluster) Request(client, dest string, body message.Body) uint64 {
	c.nextMsgID++
	message.SetMsgID(body, c.nextMsgID)
	c.inflight = append(c.inflight, message.Envelope{Src: client, Dest: dest, Body: body})
	return c.nextMsgID
}

// Inject puts an arbitrary envelope on the wire.
func (c *Cluster) Inject(env message.Envelope) {
	c.inflight = append(c.inflight, env)
}

// Step delivers the oldest in-flight envelope. It reports false when the
// network is idle.
func (c *Cluster) Step() bool {
	if len(c.inflight) == 0 {
		return false
	}
	env := c.inflight[0]
	c.inflight = c.inflight[1:]

	n, isNode := c.nodes[env.Dest]
	if !isNode {
		c.clients[env.Dest] = append(c.clients[env.Dest], env)
		return true
	}
	if _, fromNode := c.nodes[env.Src]; fromNode {
		if c.blocked[[2]string{env.Src, env.Dest}] || (c.loss > 0 && c.rng.Float64() < c.loss) {
			c.Dropped++
			return true
		}
	}
	c.inflight = append(c.inflight, n.Process(env)...)
	return true
}

// Settle delivers until the network is idle.
func (c *Cluster) Settle() {
	c.t.Helper()
	for steps := 0; c.Step(); steps++ {
		if steps > 1_000_000 {
			c.t.Fatalf("network did not settle")
		}
	}
}

// TickAll ticks every node once and settles the resulting traffic.
func (c *Cluster) TickAll() {
	c.t.Helper()
	for _, id := range c.ids {
		c.inflight = append(c.inflight, c.nodes[id].Tick()...)
	}
	c.Settle()
}

// Inflight returns the envelopes waiting for delivery.
func (c *Cluster) Inflight() []message.Envelope { return slices.Clone(c.inflight) }

// Reply finds the response to msgID.
func (c *Cluster) Reply(client string, msgID uint64) (message.Envelope, bool) {
	for _, env := range c.clients[client] {
		if irt, ok := message.InReplyTo(env.Body); ok && irt == msgID {
			return env, true
		}
	}
	return message.Envelope{}, false
}

// MustReply is Reply that fails the test when nothing arrived.
func (c *Cluster) MustReply(client string, msgID uint64) message.Envelope {
	c.t.Helper()
	env, ok := c.Reply(client, msgID)
	if !ok {
		c.t.Fatalf("no reply to %s msg %d", client, msgID)
	}
	return env
}

// Call sends a request, settles, and returns the typed reply body.
func Call[T message.Body](c *Cluster, client, dest string, body message.Body) T {
	c.t.Helper()
	id := c.Request(client, dest, body)
	c.Settle()
	env := c.MustReply(client, id)
	out, ok := env.Body.(T)
	if !ok {
		c.t.Fatalf("reply to %s msg %d: %s", client, id, describe(env.Body))
	}
	return out
}

func describe(b message.Body) string {
	if e, ok := b.(*message.Error); ok {
		return fmt.Sprintf("error %s: %s", e.Code, e.Text)
	}
	return fmt.Sprintf("unexpected %T", b)
}
