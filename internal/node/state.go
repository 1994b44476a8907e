package node

import (
	"log/slog"
	"slices"
	"time"

	"github.com/benbjohnson/clock"

	"replikit/internal/message"
	"replikit/internal/metrics"
)

// ReplyFunc runs when the response to a Call arrives. Error bodies are
// delivered too; callbacks check the body type.
type ReplyFunc func(st *State, reply message.Envelope) error

type pendingReply struct {
	dest    string
	onReply ReplyFunc
	sentAt  time.Time
}

// State is the per-process identity and messaging context handed to every
// handler. It is only touched from the handler goroutine.
type State struct {
	id     string
	roster []string
	peers  []string

	nextID  uint64
	pending map[uint64]pendingReply

	clock  clock.Clock
	outbox []message.Envelope
	logger *slog.Logger
}

func newState(clk clock.Clock, logger *slog.Logger) *State {
	return &State{
		pending: make(map[uint64]pendingReply),
		clock:   clk,
		logger:  logger,
	}
}

func (s *State) init(id string, roster []string) {
	s.id = id
	s.roster = slices.Clone(roster)
	slices.Sort(s.roster)
	s.peers = s.peers[:0]
	for _, n := range s.roster {
		if n != id {
			s.peers = append(s.peers, n)
		}
	}
	s.logger = s.logger.With("node_id", id)
}

func (s *State) ID() string { return s.id }

func (s *State) Initialized() bool { return s.id != "" }

// Roster returns every node id in sorted order, self included.
func (s *State) Roster() []string { return slices.Clone(s.roster) }

// Peers returns the roster without self.
func (s *State) Peers() []string { return slices.Clone(s.peers) }

func (s *State) Now() time.Time { return s.clock.Now() }

func (s *State) Logger() *slog.Logger { return s.logger }

// NextMsgID returns ids starting at 1, strictly increasing.
func (s *State) NextMsgID() uint64 {
	s.nextID++
	return s.nextID
}

// Send queues body for dest, assigning a msg_id when the body has none.
func (s *State) Send(dest string, body message.Body) uint64 {
	id := message.MsgID(body)
	if id == 0 {
		id = s.NextMsgID()
		message.SetMsgID(body, id)
	}
	s.outbox = append(s.outbox, message.Envelope{Src: s.id, Dest: dest, Body: body})
	return id
}

// Reply answers req.
func (s *State) Reply(req message.Envelope, body message.Body) {
	s.ReplyTo(req.Src, message.MsgID(req.Body), body)
}

// ReplyTo answers a request that is no longer at hand, such as one parked
// until a quorum forms.
func (s *State) ReplyTo(dest string, inReplyTo uint64, body message.Body) {
	message.SetInReplyTo(body, inReplyTo)
	s.Send(dest, body)
}

// Call sends body and parks onReply until a response quoting its msg_id
// arrives or the slot expires.
func (s *State) Call(dest string, body message.Body, onReply ReplyFunc) uint64 {
	message.SetMsgID(body, 0)
	id := s.Send(dest, body)
	s.pending[id] = pendingReply{dest: dest, onReply: onReply, sentAt: s.clock.Now()}
	metrics.PendingReplies.Set(float64(len(s.pending)))
	return id
}

// Forward proxies a client request to dest and relays whatever comes back
// to the original requester, re-quoting the client's msg_id.
func (s *State) Forward(dest string, req message.Envelope) {
	client := req.Src
	clientMsgID := message.MsgID(req.Body)

	s.Call(dest, message.Clone(req.Body), func(st *State, reply message.Envelope) error {
		relayed := message.Clone(reply.Body)
		message.SetMsgID(relayed, 0)
		st.ReplyTo(client, clientMsgID, relayed)
		return nil
	})
	metrics.ForwardedTotal.WithLabelValues(string(req.Body.Type())).Inc()
}

// takePending removes and returns the slot for id.
func (s *State) takePending(id uint64) (pendingReply, bool) {
	p, ok := s.pending[id]
	if ok {
		delete(s.pending, id)
		metrics.PendingReplies.Set(float64(len(s.pending)))
	}
	return p, ok
}

// ExpirePending drops slots older than ttl and returns how many went.
func (s *State) ExpirePending(ttl time.Duration) int {
	if ttl <= 0 {
		return 0
	}
	now := s.clock.Now()
	expired := 0
	for id, p := range s.pending {
		if now.Sub(p.sentAt) >= ttl {
			delete(s.pending, id)
			expired++
		}
	}
	if expired > 0 {
		metrics.PendingExpiredTotal.Add(float64(expired))
		metrics.PendingReplies.Set(float64(len(s.pending)))
		s.logger.Debug("expired pending replies", "count", expired, "remaining", len(s.pending))
	}
	return expired
}

// PendingCount reports parked reply slots.
func (s *State) PendingCount() int { return len(s.pending) }

func (s *State) flush() []message.Envelope {
	out := s.outbox
	s.outbox = nil
	return out
}
