package main

import (
	"fmt"
	"io"

	"replikit/internal/broadcast"
	"replikit/internal/configuration"
	"replikit/internal/counter"
	"replikit/internal/journal"
	"replikit/internal/metrics"
	"replikit/internal/node"
	"replikit/internal/replog"
	"replikit/internal/txn"
)

// Services holds everything a running node owns besides the runtime.
type Services struct {
	Node    *node.Node
	Journal *journal.Journal
	Metrics *metrics.Server
}

// NewServices builds the node for the configured workload plus the optional
// journal and metrics server.
func NewServices(cfg *configuration.Properties) (*Services, error) {
	n := node.New(node.WithPendingTTL(cfg.Node.PendingTTLDuration()))
	if err := registerWorkload(n, cfg); err != nil {
		return nil, err
	}

	svc := &Services{Node: n}
	if cfg.Journal.Enabled {
		j, err := journal.Open(cfg.Journal.Dir, cfg.Journal.NoSync)
		if err != nil {
			return nil, fmt.Errorf("open journal: %w", err)
		}
		svc.Journal = j
	}
	if cfg.Metrics.Enabled {
		svc.Metrics = metrics.NewServer(cfg.Metrics.Address)
	}
	return svc, nil
}

func registerWorkload(n *node.Node, cfg *configuration.Properties) error {
	switch cfg.App.Workload {
	case "broadcast":
		broadcast.New(broadcast.Config{
			Topology: broadcast.TopologyMode(cfg.Broadcast.Topology),
			Fanout:   cfg.Broadcast.Fanout,
			MaxBatch: cfg.Broadcast.MaxBatch,
		}).Register(n)
	case "counter":
		counter.New(counter.Config{Fanout: cfg.Counter.Fanout}).Register(n)
	case "kafka":
		replog.New(replog.Config{
			ReadMode:      replog.ReadMode(cfg.Kafka.PollMode),
			RetryInterval: cfg.Kafka.RetryDuration(),
			RetryBatch:    cfg.Kafka.RetryBatch,
			WaiterTTL:     cfg.Node.PendingTTLDuration(),
		}).Register(n)
	case "txn":
		iso, err := txn.ParseIsolation(cfg.Txn.Isolation)
		if err != nil {
			return err
		}
		txn.New(iso).Register(n)
	default:
		return fmt.Errorf("unknown workload %q", cfg.App.Workload)
	}
	return nil
}

// Runtime wires the node to the given streams.
func (s *Services) Runtime(cfg *configuration.Properties, in io.Reader, out io.Writer) *node.Runtime {
	var opts []node.RuntimeOption
	if s.Journal != nil {
		opts = append(opts, node.WithRecorder(s.Journal))
	}
	return node.NewRuntime(s.Node, in, out, node.RuntimeConfig{
		TickInterval: cfg.Node.TickDuration(),
		InboxSize:    cfg.Node.InboxSize,
		OutboxSize:   cfg.Node.OutboxSize,
		MaxLineBytes: cfg.Node.MaxLineBytes,
	}, opts...)
}

func (s *Services) Close() error {
	if s.Metrics != nil {
		s.Metrics.Stop()
	}
	if s.Journal != nil {
		return s.Journal.Close()
	}
	return nil
}
