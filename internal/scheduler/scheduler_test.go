package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shaiso/automata-engine/internal/domain"
	"github.com/shaiso/automata-engine/internal/repo"
	"github.com/shaiso/automata-engine/internal/telemetry"
	"github.com/shaiso/automata-engine/internal/txn"
)

const testTenant = 7

func newTestScheduler(t *testing.T, cfg Config) (*WorkScheduler, *repo.MemoryConnectorStore) {
	t.Helper()

	store := repo.NewMemoryConnectorStore()
	if cfg.Runner == nil {
		policy := domain.RetryPolicy{MaxAttempts: 3, InitialDelay: time.Millisecond, BackoffFactor: 2, MaxDelay: 5 * time.Millisecond}
		runner, err := txn.NewRunner(txn.Config{Tx: store, Policy: &policy, Logger: telemetry.Discard()})
		if err != nil {
			t.Fatalf("new runner: %v", err)
		}
		cfg.Runner = runner
	}
	cfg.TenantID = testTenant
	cfg.Logger = telemetry.Discard()

	s := New(cfg)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Stop(ctx)
	})
	return s, store
}

func waitFor(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestWorkScheduler_StartIdempotent(t *testing.T) {
	s, _ := newTestScheduler(t, Config{})
	ctx := context.Background()

	if !s.IsStopped() || s.IsStarted() {
		t.Fatal("new scheduler should be STOPPED")
	}

	if err := s.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.Start(ctx); err != nil {
		t.Fatalf("second start should be a no-op, got %v", err)
	}
	if !s.IsStarted() || s.State() != domain.TenantRunning {
		t.Errorf("expected RUNNING, got %s", s.State())
	}

	if err := s.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if !s.IsStopped() {
		t.Errorf("expected STOPPED, got %s", s.State())
	}
	if err := s.Stop(ctx); err != nil {
		t.Errorf("second stop should be a no-op, got %v", err)
	}
}

func TestWorkScheduler_StopDrainsInFlightWork(t *testing.T) {
	s, _ := newTestScheduler(t, Config{Workers: 1})

	started := make(chan struct{})
	release := make(chan struct{})
	var completed atomic.Bool

	s.Registry().Register("slow", HandlerFunc(func(ctx context.Context, item *domain.WorkItem) error {
		close(started)
		<-release
		completed.Store(true)
		return nil
	}))

	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.Submit(ctx, domain.NewWorkItem(testTenant, "slow", 0, nil)); err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitFor(t, started, "slow item to start")

	stopped := make(chan error, 1)
	go func() { stopped <- s.Stop(ctx) }()

	// Ждём перехода в STOPPING
	deadline := time.Now().Add(2 * time.Second)
	for s.State() != domain.TenantStopping {
		if time.Now().After(deadline) {
			t.Fatalf("expected STOPPING, got %s", s.State())
		}
		time.Sleep(time.Millisecond)
	}

	if s.IsStopped() {
		t.Fatal("IsStopped must be false while work is draining")
	}
	if err := s.Submit(ctx, domain.NewWorkItem(testTenant, "slow", 0, nil)); !errors.Is(err, ErrSchedulerStopped) {
		t.Errorf("expected ErrSchedulerStopped while stopping, got %v", err)
	}

	close(release)
	if err := <-stopped; err != nil {
		t.Fatalf("stop: %v", err)
	}
	if !completed.Load() {
		t.Error("in-flight item should complete before stop returns")
	}
	if !s.IsStopped() {
		t.Errorf("expected STOPPED, got %s", s.State())
	}
}

func TestWorkScheduler_StopDrainsQueuedItems(t *testing.T) {
	s, _ := newTestScheduler(t, Config{Workers: 1})

	var processed atomic.Int32
	s.Registry().Register("count", HandlerFunc(func(ctx context.Context, item *domain.WorkItem) error {
		time.Sleep(time.Millisecond)
		processed.Add(1)
		return nil
	}))

	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	for i := 0; i < 10; i++ {
		if err := s.Submit(ctx, domain.NewWorkItem(testTenant, "count", 0, nil)); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}

	if err := s.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if processed.Load() != 10 {
		t.Errorf("expected 10 processed items, got %d", processed.Load())
	}
}

func TestWorkScheduler_StopDeadlineCancelsWork(t *testing.T) {
	s, _ := newTestScheduler(t, Config{Workers: 1})

	started := make(chan struct{})
	var cancelled atomic.Bool
	s.Registry().RegisterManaged("blocking", HandlerFunc(func(ctx context.Context, item *domain.WorkItem) error {
		close(started)
		<-ctx.Done()
		cancelled.Store(true)
		return ctx.Err()
	}))

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.Submit(context.Background(), domain.NewWorkItem(testTenant, "blocking", 0, nil)); err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitFor(t, started, "blocking item to start")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := s.Stop(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if !cancelled.Load() {
		t.Error("handler should observe cancellation")
	}
	if !s.IsStopped() {
		t.Error("scheduler should be STOPPED after workers exit")
	}
}

func TestWorkScheduler_StartContextDoesNotStopWorkers(t *testing.T) {
	s, _ := newTestScheduler(t, Config{})

	done := make(chan struct{})
	s.Registry().Register("noop", HandlerFunc(func(ctx context.Context, item *domain.WorkItem) error {
		close(done)
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	if err := s.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	cancel()

	if err := s.Submit(context.Background(), domain.NewWorkItem(testTenant, "noop", 0, nil)); err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitFor(t, done, "item after start context cancel")
}

func TestWorkScheduler_SubmitErrors(t *testing.T) {
	s, _ := newTestScheduler(t, Config{})
	s.Registry().Register("known", HandlerFunc(func(context.Context, *domain.WorkItem) error { return nil }))
	ctx := context.Background()

	if err := s.Submit(ctx, domain.NewWorkItem(testTenant, "known", 0, nil)); !errors.Is(err, ErrSchedulerStopped) {
		t.Errorf("expected ErrSchedulerStopped before start, got %v", err)
	}

	if err := s.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := s.Submit(ctx, domain.NewWorkItem(testTenant, "unknown", 0, nil)); !errors.Is(err, ErrUnknownWorkType) {
		t.Errorf("expected ErrUnknownWorkType, got %v", err)
	}
	if err := s.Submit(ctx, domain.NewWorkItem(testTenant+1, "known", 0, nil)); !errors.Is(err, ErrTenantMismatch) {
		t.Errorf("expected ErrTenantMismatch, got %v", err)
	}
	if err := s.Submit(ctx, domain.NewWorkItem(0, "known", 0, nil)); err != nil {
		t.Errorf("item without tenant should be accepted, got %v", err)
	}
}

func TestWorkScheduler_QueueFull(t *testing.T) {
	s, _ := newTestScheduler(t, Config{Workers: 1, QueueSize: 1})

	started := make(chan struct{}, 1)
	release := make(chan struct{})
	s.Registry().Register("block", HandlerFunc(func(ctx context.Context, item *domain.WorkItem) error {
		started <- struct{}{}
		<-release
		return nil
	}))
	defer close(release)

	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := s.Submit(ctx, domain.NewWorkItem(testTenant, "block", 0, nil)); err != nil {
		t.Fatalf("submit 1: %v", err)
	}
	<-started

	if err := s.Submit(ctx, domain.NewWorkItem(testTenant, "block", 0, nil)); err != nil {
		t.Fatalf("submit 2: %v", err)
	}
	if err := s.Submit(ctx, domain.NewWorkItem(testTenant, "block", 0, nil)); !errors.Is(err, ErrQueueFull) {
		t.Errorf("expected ErrQueueFull, got %v", err)
	}
}

func TestWorkScheduler_HandlerRunsInTransaction(t *testing.T) {
	s, store := newTestScheduler(t, Config{})

	done := make(chan txn.State, 1)
	s.Registry().Register("tx", HandlerFunc(func(ctx context.Context, item *domain.WorkItem) error {
		done <- store.State(ctx)
		return nil
	}))

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.Submit(context.Background(), domain.NewWorkItem(testTenant, "tx", 0, nil)); err != nil {
		t.Fatalf("submit: %v", err)
	}

	select {
	case st := <-done:
		if st != txn.StateActive {
			t.Errorf("expected ACTIVE transaction in handler, got %s", st)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler was not called")
	}
}

func TestWorkScheduler_ConflictRetried(t *testing.T) {
	s, _ := newTestScheduler(t, Config{Workers: 1})

	var calls atomic.Int32
	s.Registry().Register("flaky", HandlerFunc(func(ctx context.Context, item *domain.WorkItem) error {
		if calls.Add(1) == 1 {
			return domain.Conflict(errors.New("stale row"))
		}
		return nil
	}))

	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.Submit(ctx, domain.NewWorkItem(testTenant, "flaky", 0, nil)); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}

	if calls.Load() != 2 {
		t.Errorf("expected 2 handler calls, got %d", calls.Load())
	}
}

func TestWorkScheduler_HandlerPanicDoesNotKillWorker(t *testing.T) {
	s, _ := newTestScheduler(t, Config{Workers: 1})

	var calls atomic.Int32
	s.Registry().RegisterManaged("panic", HandlerFunc(func(ctx context.Context, item *domain.WorkItem) error {
		if calls.Add(1) == 1 {
			panic("boom")
		}
		return nil
	}))

	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := s.Submit(ctx, domain.NewWorkItem(testTenant, "panic", 0, nil)); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("expected 2 calls, got %d", calls.Load())
	}
}

func TestWorkScheduler_Restart(t *testing.T) {
	s, _ := newTestScheduler(t, Config{})

	var calls atomic.Int32
	s.Registry().Register("noop", HandlerFunc(func(context.Context, *domain.WorkItem) error {
		calls.Add(1)
		return nil
	}))

	ctx := context.Background()
	for round := 0; round < 2; round++ {
		if err := s.Start(ctx); err != nil {
			t.Fatalf("round %d start: %v", round, err)
		}
		if err := s.Submit(ctx, domain.NewWorkItem(testTenant, "noop", 0, nil)); err != nil {
			t.Fatalf("round %d submit: %v", round, err)
		}
		if err := s.Stop(ctx); err != nil {
			t.Fatalf("round %d stop: %v", round, err)
		}
	}
	if calls.Load() != 2 {
		t.Errorf("expected 2 calls, got %d", calls.Load())
	}
}

func TestWorkScheduler_Jobs(t *testing.T) {
	s, _ := newTestScheduler(t, Config{Workers: 1})

	var calls atomic.Int32
	s.Registry().Register("sweep", HandlerFunc(func(ctx context.Context, item *domain.WorkItem) error {
		if item.FlowNodeInstanceID != 42 {
			t.Errorf("expected flow node 42, got %d", item.FlowNodeInstanceID)
		}
		calls.Add(1)
		return nil
	}))

	if err := s.AddJob(domain.Job{Name: "bad", ItemType: "missing", IntervalSec: 60}); !errors.Is(err, ErrUnknownWorkType) {
		t.Errorf("expected ErrUnknownWorkType, got %v", err)
	}
	if err := s.AddJob(domain.Job{Name: "empty", ItemType: "sweep"}); !errors.Is(err, ErrInvalidJob) {
		t.Errorf("expected ErrInvalidJob, got %v", err)
	}
	if err := s.AddJob(domain.Job{Name: "sweep", ItemType: "sweep", IntervalSec: 60, FlowNodeInstanceID: 42}); err != nil {
		t.Fatalf("add job: %v", err)
	}

	jobs := s.Jobs()
	if len(jobs) != 1 || jobs[0].NextDueAt == nil {
		t.Fatalf("expected one scheduled job, got %+v", jobs)
	}
	firstDue := *jobs[0].NextDueAt

	ctx := context.Background()
	if n := s.Tick(ctx, firstDue.Add(-time.Second)); n != 0 {
		t.Errorf("job is not due yet, submitted %d", n)
	}

	if err := s.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if n := s.Tick(ctx, firstDue); n != 1 {
		t.Errorf("expected 1 submitted item, got %d", n)
	}

	jobs = s.Jobs()
	if !jobs[0].NextDueAt.Equal(firstDue.Add(60 * time.Second)) {
		t.Errorf("expected next due %v, got %v", firstDue.Add(60*time.Second), jobs[0].NextDueAt)
	}
	if jobs[0].LastRunAt == nil {
		t.Error("last run should be recorded")
	}

	if err := s.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("expected 1 handler call, got %d", calls.Load())
	}

	if !s.RemoveJob("sweep") || s.RemoveJob("sweep") {
		t.Error("RemoveJob should report presence once")
	}
}
