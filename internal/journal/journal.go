// Package journal keeps an append-only on-disk record of every line a node
// reads and writes, one run directory per process.
package journal

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/wal"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"replikit/internal/metrics"
	"replikit/internal/node"
)

var ErrClosed = errors.New("journal closed")

// Record is one journaled line.
type Record struct {
	Direction node.Direction
	At        time.Time
	Line      string
}

type Journal struct {
	mu sync.Mutex

	dir    string
	log    *wal.Log
	next   uint64
	now    func() time.Time
	closed bool
}

// Open creates <root>/<run-id> and starts a fresh log there.
func Open(root string, noSync bool) (*Journal, error) {
	return OpenAt(filepath.Join(root, uuid.NewString()), noSync)
}

// OpenAt opens (or resumes) the log at dir.
func OpenAt(dir string, noSync bool) (*Journal, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", dir, err)
	}

	opts := *wal.DefaultOptions
	opts.NoSync = noSync
	log, err := wal.Open(dir, &opts)
	if err != nil {
		return nil, fmt.Errorf("wal.Open: %w", err)
	}

	last, err := log.LastIndex()
	if err != nil {
		log.Close()
		return nil, fmt.Errorf("wal.LastIndex: %w", err)
	}

	slog.Info("journal opened", "dir", dir, "records", last)
	return &Journal{dir: dir, log: log, next: last + 1, now: time.Now}, nil
}

func (j *Journal) Dir() string { return j.dir }

// Record satisfies node.Recorder. Failures are logged, never propagated;
// the node keeps serving without a complete journal.
func (j *Journal) Record(dir node.Direction, line []byte) {
	if err := j.Append(Record{Direction: dir, At: j.now(), Line: string(line)}); err != nil {
		metrics.JournalWriteErrors.Inc()
		slog.Error("journal write failed", "dir", j.dir, "error", err)
	}
}

func (j *Journal) Append(rec Record) error {
	data, err := marshalRecord(rec)
	if err != nil {
		return err
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return ErrClosed
	}

	start := time.Now()
	if err := j.log.Write(j.next, data); err != nil {
		return fmt.Errorf("wal.Write(%d): %w", j.next, err)
	}
	metrics.JournalWriteDuration.Observe(time.Since(start).Seconds())
	metrics.JournalWritesTotal.Inc()
	j.next++
	return nil
}

// Len is the number of records written.
func (j *Journal) Len() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.next - 1
}

// Read returns the record at the 1-based index.
func (j *Journal) Read(index uint64) (Record, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return Record{}, ErrClosed
	}
	data, err := j.log.Read(index)
	if err != nil {
		return Record{}, fmt.Errorf("wal.Read(%d): %w", index, err)
	}
	return unmarshalRecord(data)
}

func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true
	if err := j.log.Sync(); err != nil {
		j.log.Close()
		return fmt.Errorf("wal.Sync: %w", err)
	}
	return j.log.Close()
}

func marshalRecord(rec Record) ([]byte, error) {
	st, err := structpb.NewStruct(map[string]any{
		"dir":  string(rec.Direction),
		"at":   rec.At.UTC().Format(time.RFC3339Nano),
		"line": rec.Line,
	})
	if err != nil {
		return nil, fmt.Errorf("build record: %w", err)
	}
	data, err := proto.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("marshal record: %w", err)
	}
	return data, nil
}

func unmarshalRecord(data []byte) (Record, error) {
	var st structpb.Struct
	if err := proto.Unmarshal(data, &st); err != nil {
		return Record{}, fmt.Errorf("unmarshal record: %w", err)
	}
	fields := st.GetFields()
	at, err := time.Parse(time.RFC3339Nano, fields["at"].GetStringValue())
	if err != nil {
		return Record{}, fmt.Errorf("record timestamp: %w", err)
	}
	return Record{
		Direction: node.Direction(fields["dir"].GetStringValue()),
		At:        at,
		Line:      fields["line"].GetStringValue(),
	}, nil
}
