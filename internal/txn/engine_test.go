package txn

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"replikit/internal/message"
	"replikit/internal/node"
	"replikit/internal/node/nodetest"
)

func ptr(v int64) *int64 { return &v }

func cluster(t *testing.T, iso Isolation, ids ...string) (*nodetest.Cluster, map[string]*Engine) {
	t.Helper()
	engines := make(map[string]*Engine)
	c := nodetest.New(t, ids, func(id string) *node.Node {
		nd := node.New()
		e := New(iso)
		e.Register(nd)
		engines[id] = e
		return nd
	})
	return c, engines
}

func run(t *testing.T, c *nodetest.Cluster, dest string, ops ...message.Op) []message.Op {
	t.Helper()
	return nodetest.Call[*message.TxnOk](c, "c1", dest, &message.Txn{Txn: ops}).Txn
}

func TestReadWriteScenario(t *testing.T) {
	for _, iso := range []Isolation{ReadUncommitted, ReadCommitted} {
		t.Run(string(iso), func(t *testing.T) {
			c, engines := cluster(t, iso, "n0")
			engines["n0"].Store().Apply(1, ptr(3), Version{TS: 1, Node: "n0"})

			got := run(t, c, "n0", message.ReadOp(1), message.WriteOp(1, 6), message.WriteOp(2, 9))
			want := []message.Op{
				{Kind: message.OpRead, Key: 1, Value: ptr(3)},
				message.WriteOp(1, 6),
				message.WriteOp(2, 9),
			}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Fatalf("txn result (-want +got):\n%s", diff)
			}

			got = run(t, c, "n0", message.ReadOp(1))
			require.Equal(t, int64(6), *got[0].Value)
		})
	}
}

func TestReadOfMissingKeyIsNull(t *testing.T) {
	c, _ := cluster(t, ReadCommitted, "n0")
	got := run(t, c, "n0", message.ReadOp(42))
	require.Nil(t, got[0].Value)
}

func TestReadCommittedSeesOwnStagedWrites(t *testing.T) {
	e := New(ReadCommitted)
	res, writes, err := e.Execute("n0", []message.Op{
		message.WriteOp(5, 1),
		message.ReadOp(5),
		message.WriteOp(5, 2),
		message.WriteOp(3, 7),
	})
	require.NoError(t, err)
	require.Equal(t, int64(1), *res[1].Value)

	// only the final write per key, sorted by key, one commit version
	require.Len(t, writes, 2)
	require.Equal(t, int64(3), writes[0].Key)
	require.Equal(t, int64(5), writes[1].Key)
	require.Equal(t, int64(2), *writes[1].Value)
	require.Equal(t, writes[0].Version, writes[1].Version)
}

func TestReadUncommittedReplicatesEveryWrite(t *testing.T) {
	e := New(ReadUncommitted)
	_, writes, err := e.Execute("n0", []message.Op{
		message.WriteOp(5, 1),
		message.WriteOp(5, 2),
	})
	require.NoError(t, err)
	require.Len(t, writes, 2)
	require.True(t, fromWire(writes[1].Version).Dominates(fromWire(writes[0].Version)))

	other := New(ReadUncommitted)
	require.Equal(t, 2, other.ApplyRemote(writes))
	entry, _ := other.Store().Get(5)
	require.Equal(t, int64(2), *entry.Value)
}

func TestReplicasConvergeOnDominantVersion(t *testing.T) {
	c, engines := cluster(t, ReadCommitted, "n1", "n2")

	// both execute before either sees the other's replicate
	c.Request("c1", "n1", &message.Txn{Txn: []message.Op{message.WriteOp(1, 10)}})
	c.Request("c2", "n2", &message.Txn{Txn: []message.Op{message.WriteOp(1, 20)}})
	c.Settle()

	for id, e := range engines {
		entry, ok := e.Store().Get(1)
		require.True(t, ok)
		require.Equal(t, int64(20), *entry.Value, "node %s", id)
		require.Equal(t, Version{TS: 1, Node: "n2"}, entry.Version)
	}
}

func TestStaleRemoteWriteIgnored(t *testing.T) {
	e := New(ReadUncommitted)
	e.Store().Apply(1, ptr(5), Version{TS: 4, Node: "n1"})
	applied := e.ApplyRemote([]message.Write{
		{Key: 1, Value: ptr(9), Version: message.Version{TS: 3, Node: "n9"}},
		{Key: 1, Value: ptr(7), Version: message.Version{TS: 4, Node: "n1"}},
	})
	require.Zero(t, applied)

	entry, _ := e.Store().Get(1)
	require.Equal(t, int64(5), *entry.Value)
	require.Equal(t, uint64(4), e.Store().Clock())

	v := e.Store().NextVersion("n0")
	require.True(t, v.Dominates(entry.Version))
}

func TestVersionOrder(t *testing.T) {
	a := Version{TS: 2, Node: "n1"}
	require.True(t, Version{TS: 3, Node: "n0"}.Dominates(a))
	require.True(t, Version{TS: 2, Node: "n2"}.Dominates(a))
	require.False(t, a.Dominates(a))
	require.False(t, Version{TS: 1, Node: "n9"}.Dominates(a))
}

func TestParseIsolation(t *testing.T) {
	iso, err := ParseIsolation("read-committed")
	require.NoError(t, err)
	require.Equal(t, ReadCommitted, iso)

	_, err = ParseIsolation("serializable")
	if !errors.Is(err, ErrUnknownIsolation) {
		t.Fatalf("expected ErrUnknownIsolation, got %v", err)
	}
}

func TestWriteOnlyTxnReplicatesToPeers(t *testing.T) {
	c, engines := cluster(t, ReadUncommitted, "n0", "n1", "n2")
	run(t, c, "n1", message.WriteOp(8, 80))
	for id, e := range engines {
		entry, ok := e.Store().Get(8)
		require.True(t, ok, "node %s", id)
		require.Equal(t, int64(80), *entry.Value)
	}

	got := run(t, c, "n2", message.ReadOp(8))
	require.Equal(t, int64(80), *got[0].Value)
}
