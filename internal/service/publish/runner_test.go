package publish

import (
	"context"
	"sync"
	"testing"
	"time"

	"bilipub/internal/repository/queue"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type call struct {
	jobID   string
	retries int
}

type fakeProcessor struct {
	mu       sync.Mutex
	calls    []call
	outcomes map[string][]Outcome
	// 每次执行耗时，不持有锁
	busy time.Duration
}

func (f *fakeProcessor) Process(_ context.Context, jobID string, retriesDone int) (Outcome, error) {
	f.mu.Lock()
	f.calls = append(f.calls, call{jobID: jobID, retries: retriesDone})
	f.mu.Unlock()
	if f.busy > 0 {
		time.Sleep(f.busy)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	pending := f.outcomes[jobID]
	if len(pending) == 0 {
		return Outcome{Kind: OutcomePublished}, nil
	}
	out := pending[0]
	f.outcomes[jobID] = pending[1:]
	return out, nil
}

func (f *fakeProcessor) snapshot() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

func TestRunnerRequeuesRetries(t *testing.T) {
	defer goleak.VerifyNone(t)

	q := queue.NewMemoryQueue()
	proc := &fakeProcessor{outcomes: map[string][]Outcome{
		"job-1": {{Kind: OutcomeRetry, After: 0}, {Kind: OutcomeRetry, After: 0}},
	}}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, q.Enqueue(ctx, queue.NewMessage("job-1", 0), 0))
	require.NoError(t, q.Enqueue(ctx, queue.NewMessage("job-2", 0), 0))

	runner := NewRunner(q, proc, 2, 5*time.Millisecond, zerolog.Nop())
	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx) }()

	require.Eventually(t, func() bool { return len(proc.snapshot()) == 4 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	var retries []int
	for _, c := range proc.snapshot() {
		if c.jobID == "job-1" {
			retries = append(retries, c.retries)
		}
	}
	assert.Equal(t, []int{0, 1, 2}, retries)

	msg, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Nil(t, msg)
}

func TestRunnerStopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())
	runner := NewRunner(queue.NewMemoryQueue(), &fakeProcessor{}, 1, time.Millisecond, zerolog.Nop())
	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("runner did not stop")
	}
}

func TestRunnerKeepsLongJobInvisible(t *testing.T) {
	defer goleak.VerifyNone(t)

	// 执行时间远超可见性超时，续期后不会被第二个 worker 取走
	q := queue.NewMemoryQueue(queue.WithVisibilityTimeout(100 * time.Millisecond))
	proc := &fakeProcessor{busy: 500 * time.Millisecond}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, q.Enqueue(ctx, queue.NewMessage("job-1", 0), 0))

	runner := NewRunner(q, proc, 2, 5*time.Millisecond, zerolog.Nop(), WithHeartbeat(20*time.Millisecond))
	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx) }()

	require.Eventually(t, func() bool {
		ready, processing := q.Len()
		return len(proc.snapshot()) >= 1 && ready == 0 && processing == 0
	}, 3*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, []call{{jobID: "job-1", retries: 0}}, proc.snapshot())
}

func TestRunnerWithoutHeartbeatRedeliversLongJob(t *testing.T) {
	defer goleak.VerifyNone(t)

	q := queue.NewMemoryQueue(queue.WithVisibilityTimeout(50 * time.Millisecond))
	proc := &fakeProcessor{busy: 300 * time.Millisecond}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, q.Enqueue(ctx, queue.NewMessage("job-1", 0), 0))

	runner := NewRunner(q, proc, 2, 5*time.Millisecond, zerolog.Nop(), WithHeartbeat(time.Hour))
	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx) }()

	require.Eventually(t, func() bool { return len(proc.snapshot()) >= 2 }, 3*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}
