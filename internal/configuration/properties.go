package configuration

import (
	"time"
)

type Properties struct {
	App       AppConfigurationProperties       `yaml:"app"`
	Node      NodeConfigurationProperties      `yaml:"node"`
	Broadcast BroadcastConfigurationProperties `yaml:"broadcast"`
	Counter   CounterConfigurationProperties   `yaml:"counter"`
	Kafka     KafkaConfigurationProperties     `yaml:"kafka"`
	Txn       TxnConfigurationProperties       `yaml:"txn"`
	Metrics   MetricsConfigurationProperties   `yaml:"metrics"`
	Journal   JournalConfigurationProperties   `yaml:"journal"`
}

type AppConfigurationProperties struct {
	Profile  string `yaml:"profile"`
	LogLevel string `yaml:"log-level"`
	LogColor bool   `yaml:"log-color"`
	Workload string `yaml:"workload"`
}

type NodeConfigurationProperties struct {
	InboxSize    int `yaml:"inbox-size"`
	OutboxSize   int `yaml:"outbox-size"`
	TickInterval int `yaml:"tick-interval"`
	PendingTTL   int `yaml:"pending-ttl"`
	MaxLineBytes int `yaml:"max-line-bytes"`
}

type BroadcastConfigurationProperties struct {
	Topology string `yaml:"topology"`
	Fanout   int    `yaml:"fanout"`
	MaxBatch int    `yaml:"max-batch"`
}

type CounterConfigurationProperties struct {
	Fanout int `yaml:"fanout"`
}

type KafkaConfigurationProperties struct {
	PollMode      string `yaml:"poll-mode"`
	RetryInterval int    `yaml:"retry-interval"`
	RetryBatch    int    `yaml:"retry-batch"`
}

type TxnConfigurationProperties struct {
	Isolation string `yaml:"isolation"`
}

type MetricsConfigurationProperties struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

type JournalConfigurationProperties struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
	NoSync  bool   `yaml:"no-sync"`
}

func (c *NodeConfigurationProperties) TickDuration() time.Duration {
	return time.Duration(c.TickInterval) * time.Millisecond
}

func (c *NodeConfigurationProperties) PendingTTLDuration() time.Duration {
	return time.Duration(c.PendingTTL) * time.Millisecond
}

func (c *KafkaConfigurationProperties) RetryDuration() time.Duration {
	return time.Duration(c.RetryInterval) * time.Millisecond
}
