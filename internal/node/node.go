package node

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"

	"replikit/internal/message"
	"replikit/internal/metrics"
)

// HandlerFunc serves one inbound request. A returned *message.RPCError is
// sent back as an error body; any other error is reported as a crash.
type HandlerFunc func(st *State, req message.Envelope) error

// InitFunc runs once after the node learns its identity.
type InitFunc func(st *State) error

// TickFunc runs on every runtime tick once the node is initialized.
type TickFunc func(st *State) error

// Node dispatches envelopes to registered handlers. It is not safe for
// concurrent use; the Runtime drives it from a single goroutine.
type Node struct {
	state      *State
	handlers   map[message.Type]HandlerFunc
	initHooks  []InitFunc
	tickers    []TickFunc
	pendingTTL time.Duration
}

type Option func(*Node)

func WithClock(clk clock.Clock) Option {
	return func(n *Node) { n.state.clock = clk }
}

func WithLogger(logger *slog.Logger) Option {
	return func(n *Node) { n.state.logger = logger }
}

// WithPendingTTL bounds how long an unanswered Call stays parked. Zero keeps
// slots forever.
func WithPendingTTL(ttl time.Duration) Option {
	return func(n *Node) { n.pendingTTL = ttl }
}

func New(opts ...Option) *Node {
	n := &Node{
		state:    newState(clock.New(), slog.Default()),
		handlers: make(map[message.Type]HandlerFunc),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Handle registers fn for requests of type t. Registering a type twice is
// a programming error.
func (n *Node) Handle(t message.Type, fn HandlerFunc) {
	if t == message.TypeInit {
		panic("node: init is handled by the node itself")
	}
	if _, dup := n.handlers[t]; dup {
		panic(fmt.Sprintf("node: duplicate handler for %q", t))
	}
	n.handlers[t] = fn
}

func (n *Node) OnInit(fn InitFunc) { n.initHooks = append(n.initHooks, fn) }

func (n *Node) OnTick(fn TickFunc) { n.tickers = append(n.tickers, fn) }

func (n *Node) State() *State { return n.state }

func (n *Node) Clock() clock.Clock { return n.state.clock }

// Process handles one inbound envelope and returns what it produced.
func (n *Node) Process(env message.Envelope) []message.Envelope {
	st := n.state
	typ := env.Body.Type()
	metrics.MessagesTotal.WithLabelValues("in", string(typ)).Inc()

	if typ == message.TypeInit {
		n.handleInit(env)
		return st.flush()
	}
	if !st.Initialized() {
		st.logger.Warn("dropping message before init", "type", typ, "src", env.Src, "error", ErrNotInitialized)
		metrics.DroppedTotal.WithLabelValues("uninitialized").Inc()
		return nil
	}

	if irt, ok := message.InReplyTo(env.Body); ok {
		n.handleReply(env, irt)
		return st.flush()
	}

	fn, ok := n.handlers[typ]
	if !ok {
		st.Reply(env, message.NewRPCError(message.CodeNotSupported, "unsupported message type %q", typ).Body())
		return st.flush()
	}

	start := st.clock.Now()
	err := fn(st, env)
	metrics.HandleDuration.WithLabelValues(string(typ)).Observe(st.clock.Now().Sub(start).Seconds())
	if err != nil {
		n.reportError(env, err)
	}
	return st.flush()
}

// Tick expires stale reply slots and runs the periodic hooks.
func (n *Node) Tick() []message.Envelope {
	st := n.state
	if !st.Initialized() {
		return nil
	}
	st.ExpirePending(n.pendingTTL)
	for _, fn := range n.tickers {
		if err := fn(st); err != nil {
			st.logger.Error("tick failed", "error", err)
		}
	}
	return st.flush()
}

func (n *Node) handleInit(env message.Envelope) {
	st := n.state
	req := env.Body.(*message.Init)

	if st.Initialized() {
		if req.NodeID != st.id {
			st.logger.Warn("ignoring re-init with a different identity", "requested", req.NodeID)
		}
		st.Reply(env, &message.InitOk{})
		return
	}
	if req.NodeID == "" {
		st.Reply(env, message.NewRPCError(message.CodeMalformedRequest, "init without node_id").Body())
		return
	}

	st.init(req.NodeID, req.NodeIDs)
	st.logger.Info("node initialized", "roster", st.roster)
	st.Reply(env, &message.InitOk{})

	for _, fn := range n.initHooks {
		if err := fn(st); err != nil {
			st.logger.Error("init hook failed", "error", err)
		}
	}
}

func (n *Node) handleReply(env message.Envelope, inReplyTo uint64) {
	st := n.state
	slot, ok := st.takePending(inReplyTo)
	if !ok {
		st.logger.Debug("discarding unmatched reply", "type", env.Body.Type(), "src", env.Src, "in_reply_to", inReplyTo)
		metrics.DroppedTotal.WithLabelValues("unmatched_reply").Inc()
		return
	}
	if slot.dest != env.Src {
		st.logger.Debug("reply from unexpected node", "expected", slot.dest, "src", env.Src, "in_reply_to", inReplyTo)
	}
	if err := slot.onReply(st, env); err != nil {
		st.logger.Error("reply callback failed", "type", env.Body.Type(), "src", env.Src, "error", err)
	}
}

func (n *Node) reportError(env message.Envelope, err error) {
	st := n.state
	var rpcErr *message.RPCError
	if errors.As(err, &rpcErr) {
		st.logger.Debug("request rejected", "type", env.Body.Type(), "src", env.Src, "error", err)
		st.Reply(env, rpcErr.Body())
		return
	}
	st.logger.Error("handler failed", "type", env.Body.Type(), "src", env.Src, "error", err)
	st.Reply(env, message.NewRPCError(message.CodeCrash, "%v", err).Body())
}
