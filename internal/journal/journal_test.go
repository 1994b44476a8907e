package journal

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"replikit/internal/node"
)

func TestRecordAndRead(t *testing.T) {
	root := t.TempDir()
	j, err := Open(root, true)
	require.NoError(t, err)
	require.Equal(t, root, filepath.Dir(j.Dir()))

	at := time.Date(2026, 1, 2, 3, 4, 5, 6, time.UTC)
	j.now = func() time.Time { return at }

	j.Record(node.Inbound, []byte(`{"src":"c0"}`))
	j.Record(node.Outbound, []byte(`{"src":"n1"}`))
	require.Equal(t, uint64(2), j.Len())

	rec, err := j.Read(2)
	require.NoError(t, err)
	require.Equal(t, node.Outbound, rec.Direction)
	require.Equal(t, `{"src":"n1"}`, rec.Line)
	require.True(t, at.Equal(rec.At))

	require.NoError(t, j.Close())
	if _, err := j.Read(1); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestReopenResumesIndex(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "run")
	j, err := OpenAt(dir, true)
	require.NoError(t, err)
	require.NoError(t, j.Append(Record{Direction: node.Inbound, At: time.Now(), Line: "a"}))
	require.NoError(t, j.Close())

	j, err = OpenAt(dir, true)
	require.NoError(t, err)
	defer j.Close()
	require.Equal(t, uint64(1), j.Len())
	require.NoError(t, j.Append(Record{Direction: node.Outbound, At: time.Now(), Line: "b"}))

	first, err := j.Read(1)
	require.NoError(t, err)
	require.Equal(t, "a", first.Line)
}

func TestEachRunGetsItsOwnDirectory(t *testing.T) {
	root := t.TempDir()
	a, err := Open(root, true)
	require.NoError(t, err)
	defer a.Close()
	b, err := Open(root, true)
	require.NoError(t, err)
	defer b.Close()
	require.NotEqual(t, a.Dir(), b.Dir())
}
