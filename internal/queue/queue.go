// Package queue hands report computation off to external workers through a
// Redis list. The API never computes a report itself; it enqueues the
// report id plus the caller's token and the workers call back through the
// report endpoints.
package queue

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/gridsight/arbiter-api/pkg/config"
)

// ReportJob is one unit of work for a report worker. The token lets the
// worker read the report inputs and write results back with exactly the
// caller's permissions, never more.
type ReportJob struct {
	ReportID uuid.UUID `json:"report_id"`
	Token    string    `json:"token"`
	BaseURL  string    `json:"base_url"`
}

// Queue publishes report jobs.
type Queue struct {
	client *redis.Client
	key    string
	logger *slog.Logger
}

// New creates a queue backed by the configured Redis instance.
func New(cfg *config.QueueConfig, logger *slog.Logger) *Queue {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &Queue{
		client: client,
		key:    cfg.Key,
		logger: logger.With("service", "queue"),
	}
}

// EnqueueReport pushes one job. Enqueueing is fire and forget from the
// caller's point of view; a failure leaves the report pending and is
// surfaced only in logs, since the report itself was already stored.
func (q *Queue) EnqueueReport(ctx context.Context, job ReportJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		q.logger.ErrorContext(ctx, "failed to enqueue report job",
			"report_id", job.ReportID, "error", err)
		return err
	}
	q.logger.InfoContext(ctx, "report job enqueued", "report_id", job.ReportID)
	return nil
}

// Ping verifies the Redis connection.
func (q *Queue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

// Close releases the Redis client.
func (q *Queue) Close() error {
	return q.client.Close()
}
