package message

import (
	"fmt"
	"reflect"
	"slices"
)

// Type is the body discriminant carried in the "type" field.
type Type string

const (
	TypeInit     Type = "init"
	TypeInitOk   Type = "init_ok"
	TypeError    Type = "error"
	TypeTopology Type = "topology"

	TypeTopologyOk  Type = "topology_ok"
	TypeBroadcast   Type = "broadcast"
	TypeBroadcastOk Type = "broadcast_ok"
	TypeRead        Type = "read"
	TypeReadOk      Type = "read_ok"
	TypeGossip      Type = "gossip"
	TypeGossipOk    Type = "gossip_ok"

	TypeAdd             Type = "add"
	TypeAddOk           Type = "add_ok"
	TypeCounterGossip   Type = "counter_gossip"
	TypeCounterGossipOk Type = "counter_gossip_ok"

	TypeSend                   Type = "send"
	TypeSendOk                 Type = "send_ok"
	TypePoll                   Type = "poll"
	TypePollOk                 Type = "poll_ok"
	TypeCommitOffsets          Type = "commit_offsets"
	TypeCommitOffsetsOk        Type = "commit_offsets_ok"
	TypeListCommittedOffsets   Type = "list_committed_offsets"
	TypeListCommittedOffsetsOk Type = "list_committed_offsets_ok"
	TypeReplicate              Type = "replicate"
	TypeReplicateOk            Type = "replicate_ok"

	TypeTxn          Type = "txn"
	TypeTxnOk        Type = "txn_ok"
	TypeTxnReplicate Type = "txn_replicate"
)

// Header holds the fields every body variant shares.
type Header struct {
	MsgID     uint64  `json:"msg_id,omitempty"`
	InReplyTo *uint64 `json:"in_reply_to,omitempty"`
}

func (h *Header) header() *Header { return h }

// Body is the closed set of message variants. Only types declared in this
// package satisfy it.
type Body interface {
	Type() Type
	header() *Header
}

func MsgID(b Body) uint64 {
	return b.header().MsgID
}

func SetMsgID(b Body, id uint64) {
	b.header().MsgID = id
}

// InReplyTo reports the request id a response answers, if any.
func InReplyTo(b Body) (uint64, bool) {
	h := b.header()
	if h.InReplyTo == nil {
		return 0, false
	}
	return *h.InReplyTo, true
}

func SetInReplyTo(b Body, id uint64) {
	b.header().InReplyTo = &id
}

type Init struct {
	Header
	NodeID  string   `json:"node_id"`
	NodeIDs []string `json:"node_ids"`
}

type InitOk struct{ Header }

type Error struct {
	Header
	Code ErrorCode `json:"code"`
	Text string    `json:"text,omitempty"`
}

type Topology struct {
	Header
	Topology map[string][]string `json:"topology"`
}

type TopologyOk struct{ Header }

type Broadcast struct {
	Header
	Message int64 `json:"message"`
}

type BroadcastOk struct{ Header }

// Read is shared by the broadcast and counter workloads.
type Read struct{ Header }

// ReadOk carries either the broadcast value set or the counter value.
type ReadOk struct {
	Header
	Messages []int64 `json:"messages,omitempty"`
	Value    *int64  `json:"value,omitempty"`
}

type Gossip struct {
	Header
	Messages []int64 `json:"messages"`
}

type GossipOk struct{ Header }

type Add struct {
	Header
	Delta int64 `json:"delta"`
}

type AddOk struct{ Header }

// Counter is one node's slot in a grow-only counter.
type Counter struct {
	Value   int64  `json:"value"`
	Version uint64 `json:"version"`
}

type CounterGossip struct {
	Header
	Counters map[string]Counter `json:"counters"`
}

type CounterGossipOk struct{ Header }

type Send struct {
	Header
	Key string `json:"key"`
	Msg int64  `json:"msg"`
}

type SendOk struct {
	Header
	Offset int64 `json:"offset"`
}

type Poll struct {
	Header
	Offsets map[string]int64 `json:"offsets"`
}

// PollOk maps each key to [offset, value] pairs in offset order.
type PollOk struct {
	Header
	Msgs map[string][][2]int64 `json:"msgs"`
}

type CommitOffsets struct {
	Header
	Offsets map[string]int64 `json:"offsets"`
}

type CommitOffsetsOk struct{ Header }

type ListCommittedOffsets struct {
	Header
	Keys []string `json:"keys"`
}

type ListCommittedOffsetsOk struct {
	Header
	Offsets map[string]int64 `json:"offsets"`
}

type Replicate struct {
	Header
	Key    string `json:"key"`
	Msg    int64  `json:"msg"`
	Offset int64  `json:"offset"`
}

type ReplicateOk struct {
	Header
	Key    string `json:"key"`
	Offset int64  `json:"offset"`
}

type Txn struct {
	Header
	Txn []Op `json:"txn"`
}

type TxnOk struct {
	Header
	Txn []Op `json:"txn"`
}

// Version is the wire form of a (logical timestamp, node id) write version.
type Version struct {
	TS   uint64 `json:"ts"`
	Node string `json:"node"`
}

type Write struct {
	Key     int64   `json:"key"`
	Value   *int64  `json:"value"`
	Version Version `json:"version"`
}

type TxnReplicate struct {
	Header
	Writes []Write `json:"writes"`
}

func (*Init) Type() Type                   { return TypeInit }
func (*InitOk) Type() Type                 { return TypeInitOk }
func (*Error) Type() Type                  { return TypeError }
func (*Topology) Type() Type               { return TypeTopology }
func (*TopologyOk) Type() Type             { return TypeTopologyOk }
func (*Broadcast) Type() Type              { return TypeBroadcast }
func (*BroadcastOk) Type() Type            { return TypeBroadcastOk }
func (*Read) Type() Type                   { return TypeRead }
func (*ReadOk) Type() Type                 { return TypeReadOk }
func (*Gossip) Type() Type                 { return TypeGossip }
func (*GossipOk) Type() Type               { return TypeGossipOk }
func (*Add) Type() Type                    { return TypeAdd }
func (*AddOk) Type() Type                  { return TypeAddOk }
func (*CounterGossip) Type() Type          { return TypeCounterGossip }
func (*CounterGossipOk) Type() Type        { return TypeCounterGossipOk }
func (*Send) Type() Type                   { return TypeSend }
func (*SendOk) Type() Type                 { return TypeSendOk }
func (*Poll) Type() Type                   { return TypePoll }
func (*PollOk) Type() Type                 { return TypePollOk }
func (*CommitOffsets) Type() Type          { return TypeCommitOffsets }
func (*CommitOffsetsOk) Type() Type        { return TypeCommitOffsetsOk }
func (*ListCommittedOffsets) Type() Type   { return TypeListCommittedOffsets }
func (*ListCommittedOffsetsOk) Type() Type { return TypeListCommittedOffsetsOk }
func (*Replicate) Type() Type              { return TypeReplicate }
func (*ReplicateOk) Type() Type            { return TypeReplicateOk }
func (*Txn) Type() Type                    { return TypeTxn }
func (*TxnOk) Type() Type                  { return TypeTxnOk }
func (*TxnReplicate) Type() Type           { return TypeTxnReplicate }

var registry = map[Type]func() Body{
	TypeInit:                   func() Body { return new(Init) },
	TypeInitOk:                 func() Body { return new(InitOk) },
	TypeError:                  func() Body { return new(Error) },
	TypeTopology:               func() Body { return new(Topology) },
	TypeTopologyOk:             func() Body { return new(TopologyOk) },
	TypeBroadcast:              func() Body { return new(Broadcast) },
	TypeBroadcastOk:            func() Body { return new(BroadcastOk) },
	TypeRead:                   func() Body { return new(Read) },
	TypeReadOk:                 func() Body { return new(ReadOk) },
	TypeGossip:                 func() Body { return new(Gossip) },
	TypeGossipOk:               func() Body { return new(GossipOk) },
	TypeAdd:                    func() Body { return new(Add) },
	TypeAddOk:                  func() Body { return new(AddOk) },
	TypeCounterGossip:          func() Body { return new(CounterGossip) },
	TypeCounterGossipOk:        func() Body { return new(CounterGossipOk) },
	TypeSend:                   func() Body { return new(Send) },
	TypeSendOk:                 func() Body { return new(SendOk) },
	TypePoll:                   func() Body { return new(Poll) },
	TypePollOk:                 func() Body { return new(PollOk) },
	TypeCommitOffsets:          func() Body { return new(CommitOffsets) },
	TypeCommitOffsetsOk:        func() Body { return new(CommitOffsetsOk) },
	TypeListCommittedOffsets:   func() Body { return new(ListCommittedOffsets) },
	TypeListCommittedOffsetsOk: func() Body { return new(ListCommittedOffsetsOk) },
	TypeReplicate:              func() Body { return new(Replicate) },
	TypeReplicateOk:            func() Body { return new(ReplicateOk) },
	TypeTxn:                    func() Body { return new(Txn) },
	TypeTxnOk:                  func() Body { return new(TxnOk) },
	TypeTxnReplicate:           func() Body { return new(TxnReplicate) },
}

// New returns an empty body for t, or ErrUnknownType.
func New(t Type) (Body, error) {
	ctor, ok := registry[t]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, t)
	}
	return ctor(), nil
}

// Types lists every registered discriminant.
func Types() []Type {
	out := make([]Type, 0, len(registry))
	for t := range registry {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}

// Clone returns a shallow copy of b so a forwarded body can be re-addressed
// without touching the envelope it arrived in.
func Clone(b Body) Body {
	v := reflect.ValueOf(b).Elem()
	c := reflect.New(v.Type())
	c.Elem().Set(v)
	out := c.Interface().(Body)
	if h := out.header(); h.InReplyTo != nil {
		id := *h.InReplyTo
		h.InReplyTo = &id
	}
	return out
}
