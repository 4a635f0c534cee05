package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/povchingiz/google-meet-recording/internal/metrics"
)

type mockMaintainer struct {
	mu        sync.Mutex
	reaps     []time.Duration
	purges    []time.Duration
	reapErr   error
	reapCalls chan struct{}
}

func (m *mockMaintainer) ReapOrphans(_ context.Context, olderThan time.Duration) (int, error) {
	m.mu.Lock()
	m.reaps = append(m.reaps, olderThan)
	m.mu.Unlock()
	if m.reapCalls != nil {
		select {
		case m.reapCalls <- struct{}{}:
		default:
		}
	}
	return 1, m.reapErr
}

func (m *mockMaintainer) PurgeExpired(_ context.Context, retention time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purges = append(m.purges, retention)
	return 0, nil
}

func TestRunOnceRecordsMetrics(t *testing.T) {
	metrics.ResetDefaultForTest()
	m := &mockMaintainer{reapErr: errors.New("db down")}
	r := NewRunner(m, Options{OrphanAfter: 5 * time.Minute, Retention: time.Hour})

	r.runOnce(context.Background(), "orphan_reaper", r.reapOrphans)
	r.runOnce(context.Background(), "session_retention", r.purgeExpired)

	if got := metrics.Default().CounterValue("meetrec_job_runs_total", map[string]string{"job": "orphan_reaper", "status": "error"}); got != 1 {
		t.Fatalf("expected one failed reaper run, got %d", got)
	}
	if got := metrics.Default().CounterValue("meetrec_job_runs_total", map[string]string{"job": "session_retention", "status": "ok"}); got != 1 {
		t.Fatalf("expected one retention run, got %d", got)
	}
	if len(m.reaps) != 1 || m.reaps[0] != 5*time.Minute {
		t.Fatalf("reaper called with %v", m.reaps)
	}
	if len(m.purges) != 1 || m.purges[0] != time.Hour {
		t.Fatalf("retention called with %v", m.purges)
	}
}

func TestStartRunsImmediatelyAndSkipsRetentionWhenDisabled(t *testing.T) {
	m := &mockMaintainer{reapCalls: make(chan struct{}, 1)}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	NewRunner(m, Options{ReapInterval: time.Hour}).Start(ctx)
	select {
	case <-m.reapCalls:
	case <-time.After(2 * time.Second):
		t.Fatal("reaper did not run on start")
	}
	time.Sleep(20 * time.Millisecond)

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.purges) != 0 {
		t.Fatalf("retention ran although disabled: %v", m.purges)
	}
	if len(m.reaps) == 0 || m.reaps[0] != 10*time.Minute {
		t.Fatalf("reaper should fall back to a positive orphan age, got %v", m.reaps)
	}
}
