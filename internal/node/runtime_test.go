package node

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"replikit/internal/message"
)

type recordedLine struct {
	dir  Direction
	line string
}

type fakeRecorder struct {
	mu    sync.Mutex
	lines []recordedLine
}

func (f *fakeRecorder) Record(dir Direction, line []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lines = append(f.lines, recordedLine{dir: dir, line: string(line)})
}

func echoNode() *Node {
	n := New()
	n.Handle(message.TypeBroadcast, func(st *State, req message.Envelope) error {
		st.Reply(req, &message.BroadcastOk{})
		return nil
	})
	return n
}

func decodeAll(t *testing.T, out []byte) []message.Envelope {
	t.Helper()
	var envs []message.Envelope
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		env, err := message.Decode(sc.Bytes())
		require.NoError(t, err, "line %q", sc.Text())
		envs = append(envs, env)
	}
	return envs
}

func TestRuntimeServesUntilEOF(t *testing.T) {
	input := strings.Join([]string{
		`{"src":"c0","dest":"n1","body":{"type":"init","msg_id":1,"node_id":"n1","node_ids":["n1"]}}`,
		`this is not json`,
		``,
		`{"src":"c1","dest":"n1","body":{"type":"broadcast","msg_id":2,"message":7}}`,
		`{"src":"c1","dest":"n1","body":{"type":"nope","msg_id":3}}`,
		`{"src":"c1","dest":"n1","body":{"type":"broadcast","msg_id":4,"message":8}}`,
	}, "\n")

	var out bytes.Buffer
	rec := &fakeRecorder{}
	rt := NewRuntime(echoNode(), strings.NewReader(input), &out, RuntimeConfig{}, WithRecorder(rec))
	require.NoError(t, rt.Run(context.Background()))

	envs := decodeAll(t, out.Bytes())
	require.Len(t, envs, 3)
	require.Equal(t, message.TypeInitOk, envs[0].Body.Type())
	require.Equal(t, message.TypeBroadcastOk, envs[1].Body.Type())
	require.Equal(t, message.TypeBroadcastOk, envs[2].Body.Type())

	irt, _ := message.InReplyTo(envs[2].Body)
	require.Equal(t, uint64(4), irt)

	var in, outCount int
	for _, l := range rec.lines {
		if l.dir == Inbound {
			in++
		} else {
			outCount++
		}
	}
	require.Equal(t, 5, in)
	require.Equal(t, 3, outCount)
}

func TestRuntimeTicksThroughInbox(t *testing.T) {
	mock := clock.NewMock()
	n := New(WithClock(mock))
	ticks := make(chan struct{}, 16)
	n.OnTick(func(st *State) error {
		st.Send("n2", &message.Gossip{Messages: []int64{1}})
		ticks <- struct{}{}
		return nil
	})

	pr, pw := io.Pipe()
	var out safeBuffer
	rt := NewRuntime(n, pr, &out, RuntimeConfig{TickInterval: 100 * time.Millisecond})

	done := make(chan error, 1)
	go func() { done <- rt.Run(context.Background()) }()

	_, err := pw.Write([]byte(`{"src":"c0","dest":"n1","body":{"type":"init","msg_id":1,"node_id":"n1","node_ids":["n1","n2"]}}` + "\n"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return bytes.Contains(out.Bytes(), []byte(`"init_ok"`))
	}, time.Second, time.Millisecond)

	require.Eventually(t, func() bool {
		mock.Add(100 * time.Millisecond)
		select {
		case <-ticks:
			return true
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond, "tick never reached the node")

	require.NoError(t, pw.Close())
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("runtime did not stop at EOF")
	}

	envs := decodeAll(t, out.Bytes())
	var gossip int
	for _, env := range envs {
		if env.Body.Type() == message.TypeGossip {
			gossip++
			require.Equal(t, "n2", env.Dest)
		}
	}
	require.GreaterOrEqual(t, gossip, 1)
}

func TestRuntimeStopsOnCancel(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	ctx, cancel := context.WithCancel(context.Background())
	rt := NewRuntime(echoNode(), pr, io.Discard, RuntimeConfig{TickInterval: time.Hour})

	done := make(chan error, 1)
	go func() { done <- rt.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("runtime ignored cancellation")
	}
}

func TestRuntimeDropsOversizedLine(t *testing.T) {
	huge := `{"src":"c1","dest":"n1","body":{"type":"broadcast","msg_id":2,"message":1,"pad":"` +
		strings.Repeat("x", 64<<10) + `"}}`
	input := strings.Join([]string{
		`{"src":"c0","dest":"n1","body":{"type":"init","msg_id":1,"node_id":"n1","node_ids":["n1"]}}`,
		huge,
		`{"src":"c1","dest":"n1","body":{"type":"broadcast","msg_id":3,"message":2}}`,
	}, "\n")

	var out bytes.Buffer
	rec := &fakeRecorder{}
	rt := NewRuntime(echoNode(), strings.NewReader(input), &out, RuntimeConfig{MaxLineBytes: 1024}, WithRecorder(rec))
	require.NoError(t, rt.Run(context.Background()))

	envs := decodeAll(t, out.Bytes())
	require.Len(t, envs, 2)
	irt, _ := message.InReplyTo(envs[1].Body)
	require.Equal(t, uint64(3), irt)
	for _, l := range rec.lines {
		require.LessOrEqual(t, len(l.line), 1024)
	}
}

func TestReadLineLimit(t *testing.T) {
	br := bufio.NewReaderSize(strings.NewReader("  short  \n"+strings.Repeat("y", 100)+"\nlast"), 16)

	line, err := readLine(br, 10)
	require.NoError(t, err)
	require.Equal(t, "short", string(line))

	_, err = readLine(br, 10)
	require.ErrorIs(t, err, ErrLineTooLong)

	line, err = readLine(br, 10)
	require.ErrorIs(t, err, io.EOF)
	require.Equal(t, "last", string(line))
}

func TestRuntimeLogsWithNodeID(t *testing.T) {
	var logs safeBuffer
	n := New(WithLogger(slog.New(slog.NewTextHandler(&logs, nil))))
	pr, pw := io.Pipe()
	var out safeBuffer
	rt := NewRuntime(n, pr, &out, RuntimeConfig{})

	done := make(chan error, 1)
	go func() { done <- rt.Run(context.Background()) }()

	_, err := pw.Write([]byte(`{"src":"c0","dest":"n1","body":{"type":"init","msg_id":1,"node_id":"n1","node_ids":["n1"]}}` + "\n"))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return bytes.Contains(out.Bytes(), []byte(`"init_ok"`))
	}, time.Second, time.Millisecond)

	_, err = pw.Write([]byte("not json\n"))
	require.NoError(t, err)
	require.NoError(t, pw.Close())
	require.NoError(t, <-done)

	var found bool
	for _, line := range strings.Split(string(logs.Bytes()), "\n") {
		if strings.Contains(line, "dropping undecodable line") {
			found = true
			require.Contains(t, line, "node_id=n1")
		}
	}
	require.True(t, found, "decode warning was not logged")
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk on fire") }

func TestRuntimeReportsWriteFailure(t *testing.T) {
	input := `{"src":"c0","dest":"n1","body":{"type":"init","msg_id":1,"node_id":"n1","node_ids":["n1"]}}` + "\n"
	rt := NewRuntime(echoNode(), strings.NewReader(input), failingWriter{}, RuntimeConfig{})

	err := rt.Run(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "disk on fire")
}

type safeBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *safeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *safeBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return bytes.Clone(b.buf.Bytes())
}
