// Package report publishes the summary of each scope pass.
package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/dray-io/vacuum/internal/logging"
)

// Summary is the outcome of one scope pass.
type Summary struct {
	PassID             string    `json:"pass_id"`
	ScopeID            string    `json:"scope_id"`
	Orphaned           int       `json:"orphaned"`
	Missing            int       `json:"missing"`
	OutOfDate          int       `json:"out_of_date"`
	Misplaced          int       `json:"misplaced"`
	Skipped            int       `json:"skipped"`
	Rejected           int       `json:"rejected"`
	DegradedPartitions int       `json:"degraded_partitions"`
	DroppedSubIndexes  int       `json:"dropped_sub_indexes"`
	LastCommitSeq      int64     `json:"last_commit_seq"`
	Ordered            bool      `json:"ordered"`
	Failed             bool      `json:"failed"`
	Error              string    `json:"error,omitempty"`
	StartedAt          time.Time `json:"started_at"`
	FinishedAt         time.Time `json:"finished_at"`
}

// Duration returns how long the pass took.
func (s Summary) Duration() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}

// Reporter receives pass summaries.
type Reporter interface {
	Report(ctx context.Context, s Summary) error
}

// LogReporter writes summaries to a logger.
type LogReporter struct {
	logger *logging.Logger
}

// NewLogReporter creates a LogReporter. A nil logger uses the global one.
func NewLogReporter(logger *logging.Logger) *LogReporter {
	if logger == nil {
		logger = logging.Global()
	}
	return &LogReporter{logger: logger}
}

func (r *LogReporter) Report(_ context.Context, s Summary) error {
	fields := map[string]any{
		"scope":       s.ScopeID,
		"pass_id":     s.PassID,
		"orphaned":    s.Orphaned,
		"missing":     s.Missing,
		"out_of_date": s.OutOfDate,
		"misplaced":   s.Misplaced,
		"skipped":     s.Skipped,
		"rejected":    s.Rejected,
		"degraded":    s.DegradedPartitions,
		"commit_seq":  s.LastCommitSeq,
		"ordered":     s.Ordered,
		"duration":    s.Duration().String(),
	}
	if s.Failed {
		fields["error"] = s.Error
		r.logger.Warnf("Vacuuming failed", fields)
		return nil
	}
	r.logger.Infof("Finished vacuuming", fields)
	return nil
}

// Producer is the subset of *kgo.Client used by KafkaReporter.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// KafkaReporter publishes summaries as JSON records keyed by scope id.
type KafkaReporter struct {
	producer Producer
	topic    string
}

// NewKafkaReporter creates a KafkaReporter writing to topic.
func NewKafkaReporter(producer Producer, topic string) *KafkaReporter {
	return &KafkaReporter{producer: producer, topic: topic}
}

// NewKafkaClient creates a franz-go client for reporting.
func NewKafkaClient(brokers []string, clientID string) (*kgo.Client, error) {
	if len(brokers) == 0 {
		return nil, errors.New("report: no kafka brokers")
	}
	if clientID == "" {
		clientID = "vacuumd"
	}
	return kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ClientID(clientID),
		kgo.ProducerLinger(0),
	)
}

func (r *KafkaReporter) Report(ctx context.Context, s Summary) error {
	value, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("report: encode summary: %w", err)
	}
	rec := &kgo.Record{
		Topic: r.topic,
		Key:   []byte(s.ScopeID),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "pass_id", Value: []byte(s.PassID)},
		},
	}
	if err := r.producer.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return fmt.Errorf("report: produce summary for %s: %w", s.ScopeID, err)
	}
	return nil
}

// Multi reports to every reporter and joins their errors.
type Multi []Reporter

func (m Multi) Report(ctx context.Context, s Summary) error {
	var errs []error
	for _, r := range m {
		if err := r.Report(ctx, s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
