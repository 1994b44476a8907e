package configuration

import (
	"errors"
	"fmt"
	"slices"

	"go.uber.org/multierr"
)

var ErrInvalidConfig = errors.New("invalid configuration")

var (
	workloads  = []string{"broadcast", "counter", "kafka", "txn"}
	logLevels  = []string{"debug", "info", "warn", "warning", "error"}
	topologies = []string{"lattice", "harness", "full"}
	pollModes  = []string{"leader", "local"}
	isolations = []string{"read-uncommitted", "read-committed"}
)

// Validate reports every problem at once.
func (p *Properties) Validate() error {
	var err error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			err = multierr.Append(err, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
		}
	}

	check(slices.Contains(workloads, p.App.Workload), "app.workload %q must be one of %v", p.App.Workload, workloads)
	check(slices.Contains(logLevels, p.App.LogLevel), "app.log-level %q must be one of %v", p.App.LogLevel, logLevels)

	check(p.Node.InboxSize > 0, "node.inbox-size must be positive, got %d", p.Node.InboxSize)
	check(p.Node.OutboxSize > 0, "node.outbox-size must be positive, got %d", p.Node.OutboxSize)
	check(p.Node.TickInterval > 0, "node.tick-interval must be positive, got %d", p.Node.TickInterval)
	check(p.Node.PendingTTL >= 0, "node.pending-ttl must not be negative, got %d", p.Node.PendingTTL)
	check(p.Node.MaxLineBytes > 0, "node.max-line-bytes must be positive, got %d", p.Node.MaxLineBytes)

	check(slices.Contains(topologies, p.Broadcast.Topology), "broadcast.topology %q must be one of %v", p.Broadcast.Topology, topologies)
	check(p.Broadcast.Fanout >= 0, "broadcast.fanout must not be negative, got %d", p.Broadcast.Fanout)
	check(p.Broadcast.MaxBatch >= 0, "broadcast.max-batch must not be negative, got %d", p.Broadcast.MaxBatch)
	check(p.Counter.Fanout >= 0, "counter.fanout must not be negative, got %d", p.Counter.Fanout)
	check(slices.Contains(pollModes, p.Kafka.PollMode), "kafka.poll-mode %q must be one of %v", p.Kafka.PollMode, pollModes)
	check(p.Kafka.RetryInterval > 0, "kafka.retry-interval must be positive, got %d", p.Kafka.RetryInterval)
	check(p.Kafka.RetryBatch >= 0, "kafka.retry-batch must not be negative, got %d", p.Kafka.RetryBatch)
	check(slices.Contains(isolations, p.Txn.Isolation), "txn.isolation %q must be one of %v", p.Txn.Isolation, isolations)

	check(!p.Metrics.Enabled || p.Metrics.Address != "", "metrics.address is required when metrics are enabled")
	check(!p.Journal.Enabled || p.Journal.Dir != "", "journal.dir is required when the journal is enabled")

	return err
}
