package node

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"replikit/internal/message"
	"replikit/internal/metrics"
)

// Direction tags journal records.
type Direction string

const (
	Inbound  Direction = "in"
	Outbound Direction = "out"
)

// Recorder receives every raw line the runtime reads or writes.
type Recorder interface {
	Record(dir Direction, line []byte)
}

type RuntimeConfig struct {
	TickInterval time.Duration
	InboxSize    int
	OutboxSize   int
	MaxLineBytes int
}

func (c RuntimeConfig) withDefaults() RuntimeConfig {
	if c.InboxSize <= 0 {
		c.InboxSize = 32
	}
	if c.OutboxSize <= 0 {
		c.OutboxSize = 32
	}
	if c.MaxLineBytes <= 0 {
		c.MaxLineBytes = 1 << 20
	}
	return c
}

type event struct {
	env  message.Envelope
	tick bool
}

// Runtime connects a Node to a line-delimited JSON stream. One goroutine
// reads, one ticks, one runs the node and one writes; the node itself never
// sees concurrency.
type Runtime struct {
	node     *Node
	in       io.Reader
	out      io.Writer
	cfg      RuntimeConfig
	recorder Recorder

	inbox  chan event
	outbox chan message.Envelope
	// logger follows the node's logger, which gains node_id at init.
	logger atomic.Pointer[slog.Logger]
}

type RuntimeOption func(*Runtime)

func WithRecorder(rec Recorder) RuntimeOption {
	return func(r *Runtime) { r.recorder = rec }
}

func NewRuntime(n *Node, in io.Reader, out io.Writer, cfg RuntimeConfig, opts ...RuntimeOption) *Runtime {
	cfg = cfg.withDefaults()
	r := &Runtime{
		node:   n,
		in:     in,
		out:    out,
		cfg:    cfg,
		inbox:  make(chan event, cfg.InboxSize),
		outbox: make(chan message.Envelope, cfg.OutboxSize),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger.Store(n.State().Logger())
	n.OnInit(func(st *State) error {
		r.logger.Store(st.Logger())
		return nil
	})
	return r
}

func (r *Runtime) log() *slog.Logger { return r.logger.Load() }

// Run serves until the input reaches EOF or ctx is cancelled. Messages
// already queued are handled and written before it returns.
func (r *Runtime) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	prodCtx, stopProducers := context.WithCancel(gctx)
	defer stopProducers()

	var producers sync.WaitGroup
	producers.Add(2)

	g.Go(func() error {
		defer producers.Done()
		defer stopProducers()
		return r.readLoop(prodCtx)
	})
	g.Go(func() error {
		defer producers.Done()
		return r.tickLoop(prodCtx)
	})
	g.Go(func() error {
		producers.Wait()
		close(r.inbox)
		return nil
	})
	g.Go(func() error {
		defer close(r.outbox)
		return r.handleLoop()
	})
	g.Go(r.writeLoop)

	return g.Wait()
}

func (r *Runtime) readLoop(ctx context.Context) error {
	lines := make(chan []byte)
	readErr := make(chan error, 1)

	go func() {
		defer close(lines)
		br := bufio.NewReader(r.in)
		for {
			line, err := readLine(br, r.cfg.MaxLineBytes)
			if errors.Is(err, ErrLineTooLong) {
				metrics.DecodeErrorsTotal.Inc()
				r.log().Warn("dropping input line", "limit", r.cfg.MaxLineBytes, "error", err)
				continue
			}
			if len(line) > 0 {
				select {
				case lines <- line:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				if !errors.Is(err, io.EOF) {
					readErr <- err
				}
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-readErr:
					return fmt.Errorf("read input: %w", err)
				default:
					r.log().Debug("input closed")
					return nil
				}
			}
			r.record(Inbound, line)
			env, err := message.Decode(line)
			if err != nil {
				metrics.DecodeErrorsTotal.Inc()
				r.log().Warn("dropping undecodable line", "error", err, "line", string(line))
				continue
			}
			if !r.enqueue(ctx, event{env: env}) {
				return nil
			}
		}
	}
}

// readLine returns the next line with surrounding space trimmed. A line
// longer than limit is consumed in chunks without being held and reported as
// ErrLineTooLong.
func readLine(br *bufio.Reader, limit int) ([]byte, error) {
	var line []byte
	tooLong := false
	for {
		chunk, err := br.ReadSlice('\n')
		if !tooLong {
			if len(line)+len(chunk) > limit+2 {
				tooLong = true
				line = nil
			} else {
				line = append(line, chunk...)
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if tooLong {
			if err == nil {
				return nil, ErrLineTooLong
			}
			return nil, err
		}
		line = bytes.TrimSpace(line)
		if len(line) > limit {
			if err == nil {
				return nil, ErrLineTooLong
			}
			return nil, err
		}
		return line, err
	}
}

func (r *Runtime) tickLoop(ctx context.Context) error {
	if r.cfg.TickInterval <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := r.node.Clock().Ticker(r.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if !r.enqueue(ctx, event{tick: true}) {
				return nil
			}
		}
	}
}

// enqueue blocks while the inbox is full.
func (r *Runtime) enqueue(ctx context.Context, ev event) bool {
	select {
	case r.inbox <- ev:
		metrics.InboxDepth.Set(float64(len(r.inbox)))
		return true
	case <-ctx.Done():
		return false
	}
}

func (r *Runtime) handleLoop() error {
	for ev := range r.inbox {
		metrics.InboxDepth.Set(float64(len(r.inbox)))

		var produced []message.Envelope
		if ev.tick {
			produced = r.node.Tick()
		} else {
			produced = r.node.Process(ev.env)
		}
		for _, env := range produced {
			r.outbox <- env
		}
	}
	return nil
}

// writeLoop keeps draining after a write failure so the handler never
// blocks on a dead output.
func (r *Runtime) writeLoop() error {
	w := bufio.NewWriter(r.out)
	var writeErr error

	for env := range r.outbox {
		if writeErr != nil {
			continue
		}
		line, err := message.Encode(env)
		if err != nil {
			metrics.EncodeErrorsTotal.Inc()
			r.log().Error("dropping unencodable envelope", "dest", env.Dest, "type", env.Body.Type(), "error", err)
			continue
		}
		metrics.MessagesTotal.WithLabelValues("out", string(env.Body.Type())).Inc()
		r.record(Outbound, line)

		line = append(line, '\n')
		if _, err := w.Write(line); err != nil {
			writeErr = fmt.Errorf("write output: %w", err)
			continue
		}
		if len(r.outbox) == 0 {
			if err := w.Flush(); err != nil {
				writeErr = fmt.Errorf("flush output: %w", err)
			}
		}
	}

	if writeErr != nil {
		return writeErr
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush output: %w", err)
	}
	return nil
}

func (r *Runtime) record(dir Direction, line []byte) {
	if r.recorder != nil {
		r.recorder.Record(dir, line)
	}
}
