// Package redpanda provides topic management and configuration.
package redpanda

import (
	"context"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"
)

// Topic names for the adherence engine.
const (
	// TopicPrescriptionChanged carries prescription/drug change events
	// emitted via the outbox; the reminder dispatcher consumes it to
	// re-derive alert registrations.
	TopicPrescriptionChanged = "medication.prescription.changed"
	// TopicAlertFired carries fired reminder payloads from the alert sink
	// to the confirmation handler.
	TopicAlertFired = "medication.alert.fired"
	// TopicCompletionChanged announces completion-ledger writes so calendar
	// views can refresh without polling.
	TopicCompletionChanged = "medication.completion.changed"
	// TopicSettingsChanged carries alarm-preference updates from the API to
	// the dispatcher, which reschedules affected reminders.
	TopicSettingsChanged = "medication.settings.changed"
	// TopicDeadLetter receives undeliverable messages.
	TopicDeadLetter = "dead.letter"
)

// TopicConfig holds configuration for a Kafka topic.
type TopicConfig struct {
	Name              string
	Partitions        int32
	ReplicationFactor int16
	Configs           map[string]*string
}

// DefaultTopicConfigs returns the topic set the engine needs. Partition
// counts are modest; per-user reminder traffic is low-volume.
func DefaultTopicConfigs() []TopicConfig {
	ptr := func(s string) *string { return &s }

	retained := func(name string, retentionMS string, partitions int32) TopicConfig {
		return TopicConfig{
			Name:              name,
			Partitions:        partitions,
			ReplicationFactor: 1, // raise to 3 in production
			Configs: map[string]*string{
				"retention.ms":     ptr(retentionMS),
				"cleanup.policy":   ptr("delete"),
				"compression.type": ptr("lz4"),
			},
		}
	}

	return []TopicConfig{
		retained(TopicPrescriptionChanged, "604800000", 6), // 7 days
		retained(TopicAlertFired, "259200000", 6),          // 3 days
		retained(TopicCompletionChanged, "86400000", 6),    // 1 day
		retained(TopicSettingsChanged, "604800000", 1),     // 7 days
		retained(TopicDeadLetter, "604800000", 3),          // 7 days
	}
}

// Admin provides administrative operations for Redpanda.
type Admin struct {
	client *kadm.Client
	logger *zap.Logger
}

// NewAdmin creates a new admin client.
func NewAdmin(brokers []string, logger *zap.Logger) (*Admin, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	kgoClient, err := kgo.NewClient(kgo.SeedBrokers(brokers...))
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}

	return &Admin{
		client: kadm.NewClient(kgoClient),
		logger: logger,
	}, nil
}

// CreateTopics creates the specified topics, tolerating ones that already
// exist.
func (a *Admin) CreateTopics(ctx context.Context, configs []TopicConfig) error {
	for _, cfg := range configs {
		resp, err := a.client.CreateTopics(ctx, cfg.Partitions, cfg.ReplicationFactor, cfg.Configs, cfg.Name)
		if err != nil {
			return fmt.Errorf("create topic %s: %w", cfg.Name, err)
		}

		for _, r := range resp {
			if r.Err != nil {
				if r.Err.Error() == "TOPIC_ALREADY_EXISTS" {
					a.logger.Info("topic already exists", zap.String("topic", r.Topic))
					continue
				}
				return fmt.Errorf("create topic %s: %w", r.Topic, r.Err)
			}
			a.logger.Info("topic created",
				zap.String("topic", r.Topic),
				zap.Int32("partitions", cfg.Partitions))
		}
	}
	return nil
}

// EnsureTopics creates every topic the engine needs.
func (a *Admin) EnsureTopics(ctx context.Context) error {
	return a.CreateTopics(ctx, DefaultTopicConfigs())
}

// ListTopics lists all topics.
func (a *Admin) ListTopics(ctx context.Context) ([]string, error) {
	topics, err := a.client.ListTopics(ctx)
	if err != nil {
		return nil, fmt.Errorf("list topics: %w", err)
	}

	var names []string
	for _, t := range topics {
		names = append(names, t.Topic)
	}
	return names, nil
}

// Close closes the admin client.
func (a *Admin) Close() {
	a.client.Close()
}

// HealthCheck verifies broker connectivity.
func HealthCheck(ctx context.Context, brokers []string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	client, err := kgo.NewClient(kgo.SeedBrokers(brokers...))
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}
	defer client.Close()

	if err := client.Ping(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}

	return nil
}
