// Package worker relays audit events from the transactional outbox to Kafka.
// Events are written to the outbox in the same transaction as the domain
// change; this worker drains them in batches so a broker outage never blocks
// a registration.
package worker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
)

const (
	defaultInterval  = 2 * time.Second
	defaultBatchSize = 100
)

// Relay drains the outbox table into a Kafka topic.
type Relay struct {
	db        *sql.DB
	client    *kgo.Client
	topic     string
	interval  time.Duration
	batchSize int
	logger    *slog.Logger
}

type Option func(r *Relay)

func WithInterval(interval time.Duration) Option {
	return func(r *Relay) {
		if interval > 0 {
			r.interval = interval
		}
	}
}

func WithBatchSize(size int) Option {
	return func(r *Relay) {
		if size > 0 {
			r.batchSize = size
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Relay) {
		r.logger = logger
	}
}

// NewRelay constructs a Relay. The kgo client lifecycle is managed by the
// caller.
func NewRelay(db *sql.DB, client *kgo.Client, topic string, opts ...Option) *Relay {
	r := &Relay{
		db:        db,
		client:    client,
		topic:     topic,
		interval:  defaultInterval,
		batchSize: defaultBatchSize,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// EnsureTopic creates the audit topic if the broker does not know it yet.
func (r *Relay) EnsureTopic(ctx context.Context) error {
	admin := kadm.NewClient(r.client)
	responses, err := admin.CreateTopics(ctx, 1, 1, nil, r.topic)
	if err != nil {
		return fmt.Errorf("create audit topic: %w", err)
	}
	for _, response := range responses {
		if response.Err != nil && !errors.Is(response.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("create audit topic %s: %w", response.Topic, response.Err)
		}
	}
	return nil
}

// Run drains the outbox until ctx is cancelled. Relay errors are logged and
// retried on the next tick; rows stay in the outbox until produced.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if sent, err := r.relayBatch(ctx); err != nil {
				r.logWarn(ctx, "outbox relay batch failed", "error", err)
			} else if sent > 0 {
				r.logInfo(ctx, "relayed audit events", "count", sent)
			}
		}
	}
}

// relayBatch publishes one batch of unsent rows. SKIP LOCKED lets several
// replicas drain concurrently without double-producing within a batch.
func (r *Relay) relayBatch(ctx context.Context) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin outbox tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, subject, payload
		FROM outbox
		WHERE published_at IS NULL
		ORDER BY created_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, r.batchSize)
	if err != nil {
		return 0, fmt.Errorf("select outbox rows: %w", err)
	}
	defer rows.Close()

	var ids []string
	var records []*kgo.Record
	for rows.Next() {
		var id, subject string
		var payload []byte
		if err := rows.Scan(&id, &subject, &payload); err != nil {
			return 0, fmt.Errorf("scan outbox row: %w", err)
		}
		ids = append(ids, id)
		records = append(records, &kgo.Record{
			Topic: r.topic,
			Key:   []byte(subject),
			Value: payload,
		})
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterate outbox rows: %w", err)
	}
	if len(records) == 0 {
		return 0, nil
	}

	if err := r.client.ProduceSync(ctx, records...).FirstErr(); err != nil {
		return 0, fmt.Errorf("produce audit events: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE outbox SET published_at = $2 WHERE id = ANY($1)
	`, pq.Array(ids), time.Now()); err != nil {
		return 0, fmt.Errorf("mark outbox rows published: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit outbox tx: %w", err)
	}
	return len(records), nil
}

func (r *Relay) logInfo(ctx context.Context, msg string, args ...any) {
	if r.logger != nil {
		r.logger.InfoContext(ctx, msg, args...)
	}
}

func (r *Relay) logWarn(ctx context.Context, msg string, args ...any) {
	if r.logger != nil {
		r.logger.WarnContext(ctx, msg, args...)
	}
}
