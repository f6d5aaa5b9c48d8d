package queue

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/openviking/openviking/pkg/errdefs"
	"github.com/openviking/openviking/pkg/uri"
)

// Memory is the in-process queue used by tests and ephemeral sessions.
type Memory struct {
	mu       sync.Mutex
	msgs     map[string]*Msg
	timeout  time.Duration
	now      func() time.Time
}

var _ Queue = (*Memory)(nil)

func NewMemory(timeout time.Duration) *Memory {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Memory{
		msgs:    make(map[string]*Msg),
		timeout: timeout,
		now:     time.Now,
	}
}

func (m *Memory) Enqueue(_ context.Context, msgs ...*Msg) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range msgs {
		if m.hasPendingLocked(msg.URI) {
			continue
		}
		clone := *msg
		m.msgs[clone.ID] = &clone
	}
	return nil
}

func (m *Memory) hasPendingLocked(u string) bool {
	for _, msg := range m.msgs {
		if msg.URI == u && msg.Status == StatusPending {
			return true
		}
	}
	return false
}

func (m *Memory) Claim(_ context.Context) (*Msg, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	m.requeueExpiredLocked(now)

	var candidates []*Msg
	for _, msg := range m.msgs {
		if msg.Status == StatusPending {
			candidates = append(candidates, msg)
		}
	}
	// Deepest first so children complete before their parents.
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Depth != candidates[j].Depth {
			return candidates[i].Depth > candidates[j].Depth
		}
		return candidates[i].ID < candidates[j].ID
	})

	for _, msg := range candidates {
		if m.descendantOutstandingLocked(msg.URI) {
			continue
		}
		msg.Status = StatusProcessing
		msg.Attempts++
		msg.ClaimedAt = now
		msg.UpdatedAt = now
		clone := *msg
		return &clone, true, nil
	}
	return nil, false, nil
}

func (m *Memory) requeueExpiredLocked(now time.Time) {
	for _, msg := range m.msgs {
		if msg.Status == StatusProcessing && now.Sub(msg.ClaimedAt) > m.timeout {
			msg.Status = StatusPending
			msg.UpdatedAt = now
		}
	}
}

// descendantOutstandingLocked reports outstanding work strictly below u.
func (m *Memory) descendantOutstandingLocked(u string) bool {
	for _, msg := range m.msgs {
		if msg.URI == u {
			continue
		}
		if (msg.Status == StatusPending || msg.Status == StatusProcessing) && uri.HasPrefixString(msg.URI, u) {
			return true
		}
	}
	return false
}

func (m *Memory) Complete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.msgs[id]
	if !ok {
		return errdefs.NotFound(id)
	}
	msg.Status = StatusCompleted
	msg.Error = ""
	msg.UpdatedAt = m.now()
	return nil
}

func (m *Memory) Fail(_ context.Context, id string, reason string, retryable bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.msgs[id]
	if !ok {
		return errdefs.NotFound(id)
	}
	msg.Error = reason
	msg.UpdatedAt = m.now()
	if retryable && msg.Attempts < MaxAttempts {
		msg.Status = StatusPending
	} else {
		msg.Status = StatusFailed
	}
	return nil
}

func (m *Memory) Outstanding(_ context.Context, prefix string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range m.msgs {
		if (msg.Status == StatusPending || msg.Status == StatusProcessing) && uri.HasPrefixString(msg.URI, prefix) {
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) PurgePrefix(_ context.Context, prefix string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, msg := range m.msgs {
		if uri.HasPrefixString(msg.URI, prefix) {
			delete(m.msgs, id)
		}
	}
	return nil
}

func (m *Memory) Stats(_ context.Context) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var s Stats
	for _, msg := range m.msgs {
		switch msg.Status {
		case StatusPending:
			s.Pending++
		case StatusProcessing:
			s.Processing++
		case StatusCompleted:
			s.Completed++
		case StatusFailed:
			s.Failed++
		default:
			return s, fmt.Errorf("unknown status %q", msg.Status)
		}
	}
	return s, nil
}

func (m *Memory) Close() error { return nil }
