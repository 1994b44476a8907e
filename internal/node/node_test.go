package node

import (
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"replikit/internal/message"
)

func initEnv(id string, roster ...string) message.Envelope {
	body := &message.Init{NodeID: id, NodeIDs: roster}
	message.SetMsgID(body, 1)
	return message.Envelope{Src: "c0", Dest: id, Body: body}
}

func request(src, dest string, id uint64, body message.Body) message.Envelope {
	message.SetMsgID(body, id)
	return message.Envelope{Src: src, Dest: dest, Body: body}
}

func newInitialized(t *testing.T, opts ...Option) *Node {
	t.Helper()
	n := New(opts...)
	out := n.Process(initEnv("n2", "n3", "n1", "n2"))
	require.Len(t, out, 1)
	require.Equal(t, message.TypeInitOk, out[0].Body.Type())
	return n
}

func TestInitSetsIdentity(t *testing.T) {
	n := New()
	var hooked bool
	n.OnInit(func(st *State) error {
		hooked = true
		return nil
	})

	out := n.Process(initEnv("n2", "n3", "n1", "n2"))
	require.Len(t, out, 1)
	reply := out[0]
	require.Equal(t, "n2", reply.Src)
	require.Equal(t, "c0", reply.Dest)
	irt, ok := message.InReplyTo(reply.Body)
	require.True(t, ok)
	require.Equal(t, uint64(1), irt)

	st := n.State()
	require.Equal(t, "n2", st.ID())
	require.Equal(t, []string{"n1", "n2", "n3"}, st.Roster())
	require.Equal(t, []string{"n1", "n3"}, st.Peers())
	require.True(t, hooked)
}

func TestMessagesBeforeInitAreDropped(t *testing.T) {
	n := New()
	called := false
	n.Handle(message.TypeBroadcast, func(st *State, req message.Envelope) error {
		called = true
		return nil
	})

	out := n.Process(request("c1", "n1", 1, &message.Broadcast{Message: 1}))
	if len(out) != 0 || called {
		t.Fatalf("expected silent drop before init, got %d envelopes (called=%v)", len(out), called)
	}
	if out := n.Tick(); out != nil {
		t.Fatalf("expected no tick output before init, got %v", out)
	}
}

func TestUnhandledTypeRepliesNotSupported(t *testing.T) {
	n := newInitialized(t)

	out := n.Process(request("c1", "n2", 5, &message.Add{Delta: 1}))
	require.Len(t, out, 1)
	body, ok := out[0].Body.(*message.Error)
	require.True(t, ok, "expected error body, got %T", out[0].Body)
	require.Equal(t, message.CodeNotSupported, body.Code)
	irt, _ := message.InReplyTo(body)
	require.Equal(t, uint64(5), irt)
}

func TestHandlerErrorsBecomeErrorBodies(t *testing.T) {
	n := newInitialized(t)
	n.Handle(message.TypeAdd, func(st *State, req message.Envelope) error {
		return message.NewRPCError(message.CodeMalformedRequest, "negative delta")
	})
	n.Handle(message.TypeSend, func(st *State, req message.Envelope) error {
		return errors.New("boom")
	})

	out := n.Process(request("c1", "n2", 5, &message.Add{Delta: -1}))
	require.Len(t, out, 1)
	require.Equal(t, message.CodeMalformedRequest, out[0].Body.(*message.Error).Code)

	out = n.Process(request("c1", "n2", 6, &message.Send{Key: "k"}))
	require.Len(t, out, 1)
	require.Equal(t, message.CodeCrash, out[0].Body.(*message.Error).Code)
}

func TestMsgIDsStrictlyIncrease(t *testing.T) {
	n := newInitialized(t)
	st := n.State()

	first := st.NextMsgID()
	for i := 0; i < 10; i++ {
		next := st.NextMsgID()
		if next <= first {
			t.Fatalf("expected id > %d, got %d", first, next)
		}
		first = next
	}
}

func TestCallCorrelatesReply(t *testing.T) {
	n := newInitialized(t)
	st := n.State()

	var got []message.Envelope
	id := st.Call("n1", &message.Gossip{Messages: []int64{1}}, func(st *State, reply message.Envelope) error {
		got = append(got, reply)
		return nil
	})
	sent := st.flush()
	require.Len(t, sent, 1)
	require.Equal(t, id, message.MsgID(sent[0].Body))
	require.Equal(t, 1, st.PendingCount())

	ok := &message.GossipOk{}
	message.SetInReplyTo(ok, id)
	n.Process(message.Envelope{Src: "n1", Dest: "n2", Body: ok})
	require.Len(t, got, 1)
	require.Zero(t, st.PendingCount())

	// a duplicate reply finds no slot
	n.Process(message.Envelope{Src: "n1", Dest: "n2", Body: ok})
	require.Len(t, got, 1)
}

func TestUnmatchedReplyIsDiscarded(t *testing.T) {
	n := newInitialized(t)
	ok := &message.ReplicateOk{Key: "k"}
	message.SetInReplyTo(ok, 999)
	if out := n.Process(message.Envelope{Src: "n1", Dest: "n2", Body: ok}); len(out) != 0 {
		t.Fatalf("expected nothing, got %v", out)
	}
}

func TestForwardRelaysToClient(t *testing.T) {
	n := newInitialized(t)
	st := n.State()

	req := request("c7", "n2", 41, &message.Send{Key: "k1", Msg: 9})
	st.Forward("n1", req)
	out := st.flush()
	require.Len(t, out, 1)
	require.Equal(t, "n1", out[0].Dest)
	fwd := out[0].Body.(*message.Send)
	require.Equal(t, "k1", fwd.Key)
	require.NotEqual(t, uint64(41), fwd.MsgID)
	require.Equal(t, uint64(41), message.MsgID(req.Body), "inbound envelope must stay untouched")

	ok := &message.SendOk{Offset: 3}
	message.SetMsgID(ok, 77)
	message.SetInReplyTo(ok, fwd.MsgID)
	out = n.Process(message.Envelope{Src: "n1", Dest: "n2", Body: ok})
	require.Len(t, out, 1)
	require.Equal(t, "c7", out[0].Dest)
	require.Equal(t, "n2", out[0].Src)
	relayed := out[0].Body.(*message.SendOk)
	require.Equal(t, int64(3), relayed.Offset)
	irt, _ := message.InReplyTo(relayed)
	require.Equal(t, uint64(41), irt)
}

func TestTickExpiresPending(t *testing.T) {
	mock := clock.NewMock()
	n := newInitialized(t, WithClock(mock), WithPendingTTL(time.Second))
	st := n.State()

	st.Call("n1", &message.Gossip{}, func(*State, message.Envelope) error { return nil })
	st.flush()

	mock.Add(500 * time.Millisecond)
	n.Tick()
	require.Equal(t, 1, st.PendingCount())

	mock.Add(time.Second)
	n.Tick()
	require.Zero(t, st.PendingCount())
}

func TestReinitKeepsIdentity(t *testing.T) {
	n := newInitialized(t)
	out := n.Process(initEnv("n9", "n9"))
	require.Len(t, out, 1)
	require.Equal(t, message.TypeInitOk, out[0].Body.Type())
	require.Equal(t, "n2", n.State().ID())
}

func TestRingLattice(t *testing.T) {
	roster := []string{"n0", "n1", "n2", "n3", "n4", "n5"}

	require.Equal(t, []string{"n1", "n5"}, RingLattice(roster, "n0", 2))
	require.Equal(t, []string{"n1", "n2", "n4", "n5"}, RingLattice(roster, "n0", 4))
	require.Equal(t, []string{"n0", "n1", "n2", "n4", "n5"}, RingLattice(roster, "n3", 0))
	require.Nil(t, RingLattice(roster, "x", 2))
	require.Empty(t, RingLattice([]string{"n0"}, "n0", 3))

	// every edge is symmetric
	for _, self := range roster {
		for _, peer := range RingLattice(roster, self, 2) {
			require.Contains(t, RingLattice(roster, peer, 2), self)
		}
	}
}
