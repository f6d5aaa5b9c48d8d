// Package queue implements the durable semantic work queue. Each message
// names a directory awaiting summarization; delivery is at-least-once and
// scheduling is bottom-up, so a directory is never claimed while any of its
// descendants still has outstanding work.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/openviking/openviking/pkg/config"
)

// Status is the lifecycle state of a message.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// MaxAttempts bounds retries before a message is failed for good.
const MaxAttempts = 3

// Msg is one unit of semantic work.
type Msg struct {
	ID        string
	URI       string
	Depth     int
	Status    Status
	Attempts  int
	Error     string
	CreatedAt time.Time
	UpdatedAt time.Time
	ClaimedAt time.Time
}

// NewMsg builds a pending message for a directory. IDs are UUIDv7 so
// creation order survives in the id itself.
func NewMsg(uri string, depth int) *Msg {
	now := time.Now().UTC()
	return &Msg{
		ID:        uuid.Must(uuid.NewV7()).String(),
		URI:       uri,
		Depth:     depth,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Stats counts messages by status.
type Stats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

// Queue is the semantic queue contract. Claim returns the deepest eligible
// pending message and moves it to processing; eligibility means no
// strict descendant of the message URI has a pending or processing message.
type Queue interface {
	// Enqueue adds messages. A URI with a pending message is not enqueued
	// twice; the existing message absorbs the request.
	Enqueue(ctx context.Context, msgs ...*Msg) error

	// Claim returns the next eligible message, or false when none is ready.
	// Messages stuck in processing past the visibility timeout are
	// re-queued first.
	Claim(ctx context.Context) (*Msg, bool, error)

	// Complete marks a claimed message done.
	Complete(ctx context.Context, id string) error

	// Fail records a failure. Retryable failures go back to pending until
	// MaxAttempts is reached; fatal ones (or exhausted ones) stay failed.
	Fail(ctx context.Context, id string, reason string, retryable bool) error

	// Outstanding reports whether any message below prefix (inclusive) is
	// pending or processing.
	Outstanding(ctx context.Context, prefix string) (bool, error)

	// PurgePrefix drops every message whose URI is at or below prefix.
	PurgePrefix(ctx context.Context, prefix string) error

	// Stats counts messages by status.
	Stats(ctx context.Context) (Stats, error)

	Close() error
}

// New builds the backend named by cfg.
func New(cfg config.QueueConfig) (Queue, error) {
	timeout := time.Duration(cfg.VisibilityTimeoutS) * time.Second
	switch cfg.Backend {
	case "memory":
		return NewMemory(timeout), nil
	case "sqlite":
		return NewSQLite(cfg.Path, timeout)
	default:
		return nil, fmt.Errorf("unsupported queue backend: %s", cfg.Backend)
	}
}
