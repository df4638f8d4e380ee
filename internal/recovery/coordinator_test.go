package recovery

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shaiso/automata-engine/internal/domain"
	"github.com/shaiso/automata-engine/internal/lock"
	"github.com/shaiso/automata-engine/internal/repo"
	"github.com/shaiso/automata-engine/internal/telemetry"
	"github.com/shaiso/automata-engine/internal/txn"
)

const testTenant = 1

type fixture struct {
	store *repo.MemoryConnectorStore
	locks *lock.Registry
	coord *Coordinator
}

func newFixture(t *testing.T, wrap func(*repo.MemoryConnectorStore) ConnectorStore) *fixture {
	t.Helper()

	store := repo.NewMemoryConnectorStore()
	locks := lock.NewRegistry(lock.Config{DefaultTimeout: time.Second, Logger: telemetry.Discard()})

	policy := domain.RetryPolicy{MaxAttempts: 3, InitialDelay: time.Millisecond, BackoffFactor: 2, MaxDelay: 10 * time.Millisecond}
	runner, err := txn.NewRunner(txn.Config{Tx: store, Policy: &policy, Logger: telemetry.Discard()})
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}

	var cs ConnectorStore = store
	if wrap != nil {
		cs = wrap(store)
	}

	coord, err := NewCoordinator(Config{
		TenantID:    testTenant,
		Locks:       locks,
		Store:       cs,
		Nodes:       store,
		Runner:      runner,
		LockTimeout: 100 * time.Millisecond,
		PageSize:    2,
		Logger:      telemetry.Discard(),
	})
	if err != nil {
		t.Fatalf("new coordinator: %v", err)
	}

	return &fixture{store: store, locks: locks, coord: coord}
}

func (f *fixture) put(id, flowNode int64, state domain.ConnectorState) {
	c := domain.ConnectorInstance{ID: id, TenantID: testTenant, FlowNodeInstanceID: flowNode, Name: "connector", State: state}
	if state == domain.ConnectorFailed {
		c.Failure = &domain.FailureInfo{ExceptionMessage: "boom", StackTrace: "at connector"}
	}
	f.store.Put(c)
}

func (f *fixture) state(t *testing.T, id int64) domain.ConnectorInstance {
	t.Helper()
	c, ok := f.store.Snapshot(id)
	if !ok {
		t.Fatalf("connector %d not found", id)
	}
	return c
}

func TestResetConnectors_Table(t *testing.T) {
	tests := []struct {
		name    string
		current domain.ConnectorState
		target  domain.ConnectorState
		wantErr bool
	}{
		{"failed to re-execute", domain.ConnectorFailed, domain.ConnectorToReExecute, false},
		{"failed to skipped", domain.ConnectorFailed, domain.ConnectorSkipped, false},
		{"failed to cancelled", domain.ConnectorFailed, domain.ConnectorCancelled, false},
		{"failed to done", domain.ConnectorFailed, domain.ConnectorDone, true},
		{"failed to failed", domain.ConnectorFailed, domain.ConnectorFailed, true},
		{"done to skipped", domain.ConnectorDone, domain.ConnectorSkipped, true},
		{"executing to cancelled", domain.ConnectorExecuting, domain.ConnectorCancelled, true},
		{"to be executed to re-execute", domain.ConnectorToBeExecuted, domain.ConnectorToReExecute, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			f.put(1, 10, tt.current)

			err := f.coord.ResetConnectors(context.Background(), 10, map[int64]domain.ConnectorState{1: tt.target})

			got := f.state(t, 1)
			if tt.wantErr {
				if !domain.IsKind(err, domain.KindActivityExecution) {
					t.Fatalf("expected activity execution error, got %v", err)
				}
				if got.State != tt.current {
					t.Errorf("state changed on rejection: %s → %s", tt.current, got.State)
				}
				return
			}

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.State != tt.target {
				t.Errorf("expected %s, got %s", tt.target, got.State)
			}
			if got.Failure != nil {
				t.Error("failure info should be cleared")
			}
		})
	}
}

func TestResetConnectors_RejectionRollsBackEarlierResets(t *testing.T) {
	f := newFixture(t, nil)
	f.put(1, 10, domain.ConnectorFailed)
	f.put(2, 10, domain.ConnectorDone)

	err := f.coord.ResetConnectors(context.Background(), 10, map[int64]domain.ConnectorState{
		1: domain.ConnectorToReExecute,
		2: domain.ConnectorSkipped,
	})
	if !domain.IsKind(err, domain.KindActivityExecution) {
		t.Fatalf("expected activity execution error, got %v", err)
	}

	if got := f.state(t, 1); got.State != domain.ConnectorFailed || got.Failure == nil {
		t.Errorf("connector 1 should stay FAILED with failure info, got %s", got.State)
	}
}

func TestResetConnectors_ResidualFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.put(1, 10, domain.ConnectorFailed)
	f.put(2, 10, domain.ConnectorFailed)
	f.put(3, 20, domain.ConnectorFailed)

	err := f.coord.ResetConnectors(context.Background(), 10, map[int64]domain.ConnectorState{1: domain.ConnectorSkipped})
	if !domain.IsKind(err, domain.KindActivityExecution) {
		t.Fatalf("expected activity execution error, got %v", err)
	}
	if !strings.Contains(err.Error(), "flow node 10 still has failed connectors") {
		t.Errorf("error should name the flow node: %v", err)
	}

	// Connector другого flow node не мешает
	if err := f.coord.ResetConnectors(context.Background(), 10, map[int64]domain.ConnectorState{
		1: domain.ConnectorSkipped,
		2: domain.ConnectorCancelled,
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestResetConnectors_EmptyTargetsStillChecks(t *testing.T) {
	f := newFixture(t, nil)
	f.put(1, 10, domain.ConnectorFailed)
	f.put(2, 20, domain.ConnectorDone)

	if err := f.coord.ResetConnectors(context.Background(), 10, nil); !domain.IsKind(err, domain.KindActivityExecution) {
		t.Errorf("expected residual failure for flow node 10, got %v", err)
	}
	if err := f.coord.ResetConnectors(context.Background(), 20, map[int64]domain.ConnectorState{}); err != nil {
		t.Errorf("unexpected error for clean flow node: %v", err)
	}
}

func TestResetConnectors_ForeignFlowNode(t *testing.T) {
	f := newFixture(t, nil)
	f.put(1, 20, domain.ConnectorFailed)

	err := f.coord.ResetConnectors(context.Background(), 10, map[int64]domain.ConnectorState{1: domain.ConnectorSkipped})
	if !domain.IsKind(err, domain.KindActivityExecution) {
		t.Fatalf("expected activity execution error, got %v", err)
	}
	if got := f.state(t, 1); got.State != domain.ConnectorFailed {
		t.Errorf("foreign connector must stay FAILED, got %s", got.State)
	}
}

// lockSpy проверяет, что FLOWNODE_RESET удерживается во время работы со store.
type lockSpy struct {
	*repo.MemoryConnectorStore
	locks *lock.Registry
	calls atomic.Int32
	held  atomic.Bool
}

func (p *lockSpy) Get(ctx context.Context, id int64) (*domain.ConnectorInstance, error) {
	p.calls.Add(1)
	p.held.Store(p.locks.IsHeld(testTenant, 10, domain.LockTypeFlowNodeReset))
	return p.MemoryConnectorStore.Get(ctx, id)
}

func TestResetConnectors_HoldsFlowNodeLock(t *testing.T) {
	var spy *lockSpy
	f := newFixture(t, func(s *repo.MemoryConnectorStore) ConnectorStore {
		spy = &lockSpy{MemoryConnectorStore: s}
		return spy
	})
	spy.locks = f.locks
	f.put(1, 10, domain.ConnectorFailed)

	if err := f.coord.ResetConnectors(context.Background(), 10, map[int64]domain.ConnectorState{1: domain.ConnectorToReExecute}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if spy.calls.Load() == 0 || !spy.held.Load() {
		t.Error("lock should be held while connectors are read")
	}
	if f.locks.IsHeld(testTenant, 10, domain.LockTypeFlowNodeReset) {
		t.Error("lock should be released after the call")
	}
}

func TestResetConnectors_LockBusy(t *testing.T) {
	f := newFixture(t, nil)
	f.put(1, 10, domain.ConnectorFailed)

	other := lock.WithExecution(context.Background())
	l, err := f.locks.Acquire(other, testTenant, 10, domain.LockTypeFlowNodeReset, time.Second)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer f.locks.Release(l)

	err = f.coord.ResetConnectors(context.Background(), 10, map[int64]domain.ConnectorState{1: domain.ConnectorSkipped})
	if !domain.IsKind(err, domain.KindLockTimeout) {
		t.Fatalf("expected lock timeout, got %v", err)
	}
	if got := f.state(t, 1); got.State != domain.ConnectorFailed {
		t.Errorf("state must not change without the lock, got %s", got.State)
	}
}

type failingStore struct {
	*repo.MemoryConnectorStore
	err error
}

func (s *failingStore) Get(context.Context, int64) (*domain.ConnectorInstance, error) {
	return nil, s.err
}

func TestResetConnectors_StoreErrorWrapped(t *testing.T) {
	dbErr := errors.New("connection refused")
	f := newFixture(t, func(s *repo.MemoryConnectorStore) ConnectorStore {
		return &failingStore{MemoryConnectorStore: s, err: dbErr}
	})
	f.put(1, 10, domain.ConnectorFailed)

	err := f.coord.ResetConnectors(context.Background(), 10, map[int64]domain.ConnectorState{1: domain.ConnectorSkipped})
	if !domain.IsKind(err, domain.KindActivityExecution) {
		t.Fatalf("expected activity execution error, got %v", err)
	}
	if !errors.Is(err, dbErr) {
		t.Errorf("store error should be preserved in the chain: %v", err)
	}
}

// conflictOnce возвращает конфликт на первом Update.
type conflictOnce struct {
	*repo.MemoryConnectorStore
	updates atomic.Int32
}

func (s *conflictOnce) Update(ctx context.Context, id int64, upd domain.ConnectorUpdate) error {
	if s.updates.Add(1) == 1 {
		return domain.Conflict(errors.New("row version changed"))
	}
	return s.MemoryConnectorStore.Update(ctx, id, upd)
}

func TestResetConnectors_ConflictRetried(t *testing.T) {
	var cs *conflictOnce
	f := newFixture(t, func(s *repo.MemoryConnectorStore) ConnectorStore {
		cs = &conflictOnce{MemoryConnectorStore: s}
		return cs
	})
	f.put(1, 10, domain.ConnectorFailed)

	if err := f.coord.ResetConnectors(context.Background(), 10, map[int64]domain.ConnectorState{1: domain.ConnectorCancelled}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cs.updates.Load() != 2 {
		t.Errorf("expected 2 update calls, got %d", cs.updates.Load())
	}
	if got := f.state(t, 1); got.State != domain.ConnectorCancelled {
		t.Errorf("expected CANCELLED, got %s", got.State)
	}
}

func TestResetFailedConnectors(t *testing.T) {
	f := newFixture(t, nil)
	for id := int64(1); id <= 5; id++ {
		f.put(id, 10, domain.ConnectorFailed)
	}
	f.put(6, 10, domain.ConnectorDone)

	n, err := f.coord.ResetFailedConnectors(context.Background(), 10, domain.ConnectorToReExecute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 5 {
		t.Errorf("expected 5 resets, got %d", n)
	}
	for id := int64(1); id <= 5; id++ {
		if got := f.state(t, id); got.State != domain.ConnectorToReExecute {
			t.Errorf("connector %d: expected TO_RE_EXECUTE, got %s", id, got.State)
		}
	}
	if got := f.state(t, 6); got.State != domain.ConnectorDone {
		t.Errorf("DONE connector must be untouched, got %s", got.State)
	}
}

func TestMarkInterrupted(t *testing.T) {
	f := newFixture(t, nil)
	f.put(1, 10, domain.ConnectorExecuting)
	f.put(2, 10, domain.ConnectorDone)

	n, err := f.coord.MarkInterrupted(context.Background(), 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 interrupted connector, got %d", n)
	}

	got := f.state(t, 1)
	if got.State != domain.ConnectorFailed {
		t.Fatalf("expected FAILED, got %s", got.State)
	}
	if got.Failure == nil || got.Failure.ExceptionMessage != interruptedMessage {
		t.Errorf("expected interruption failure info, got %+v", got.Failure)
	}
}

// failOn ломает Get для одного connector'а.
type failOn struct {
	*repo.MemoryConnectorStore
	id int64
}

func (s *failOn) Get(ctx context.Context, id int64) (*domain.ConnectorInstance, error) {
	if id == s.id {
		return nil, errors.New("corrupted row")
	}
	return s.MemoryConnectorStore.Get(ctx, id)
}

func TestRecoverTenant(t *testing.T) {
	f := newFixture(t, func(s *repo.MemoryConnectorStore) ConnectorStore {
		return &failOn{MemoryConnectorStore: s, id: 7}
	})
	f.put(1, 10, domain.ConnectorFailed)
	f.put(2, 10, domain.ConnectorDone)
	f.put(3, 20, domain.ConnectorExecuting)
	f.put(4, 20, domain.ConnectorFailed)
	f.put(5, 30, domain.ConnectorFailed)
	f.store.SetFlowNodeTerminal(30, true)
	f.put(7, 40, domain.ConnectorFailed)

	report, err := f.coord.RecoverTenant(context.Background())
	if err == nil {
		t.Fatal("expected aggregated error for flow node 40")
	}
	if !strings.Contains(err.Error(), "flow node 40") {
		t.Errorf("error should name flow node 40: %v", err)
	}

	if report.FlowNodes != 3 {
		t.Errorf("expected 3 flow nodes, got %d", report.FlowNodes)
	}
	if report.Interrupted != 1 {
		t.Errorf("expected 1 interrupted, got %d", report.Interrupted)
	}
	if report.Reset != 3 {
		t.Errorf("expected 3 resets, got %d", report.Reset)
	}
	if len(report.Failed) != 1 || report.Failed[0] != 40 {
		t.Errorf("expected failed [40], got %v", report.Failed)
	}

	for _, id := range []int64{1, 3, 4} {
		if got := f.state(t, id); got.State != domain.ConnectorToReExecute {
			t.Errorf("connector %d: expected TO_RE_EXECUTE, got %s", id, got.State)
		}
	}
	if got := f.state(t, 5); got.State != domain.ConnectorFailed {
		t.Errorf("terminal flow node must be skipped, got %s", got.State)
	}
	if got := f.state(t, 7); got.State != domain.ConnectorFailed {
		t.Errorf("failed recovery must leave connector FAILED, got %s", got.State)
	}
}

func TestRecoverTenant_NoLister(t *testing.T) {
	store := repo.NewMemoryConnectorStore()
	runner, _ := txn.NewRunner(txn.Config{Tx: store, Logger: telemetry.Discard()})
	coord, err := NewCoordinator(Config{
		TenantID: testTenant,
		Locks:    lock.NewRegistry(lock.Config{Logger: telemetry.Discard()}),
		Store:    store,
		Runner:   runner,
		Logger:   telemetry.Discard(),
	})
	if err != nil {
		t.Fatalf("new coordinator: %v", err)
	}

	if _, err := coord.RecoverTenant(context.Background()); !errors.Is(err, ErrNoFlowNodeLister) {
		t.Errorf("expected ErrNoFlowNodeLister, got %v", err)
	}
}

func TestNewCoordinator_Validation(t *testing.T) {
	if _, err := NewCoordinator(Config{}); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}
