package domain

import (
	"errors"
	"fmt"
	"math"
	"testing"
	"time"
)

func TestConnectorState_IsResetTarget(t *testing.T) {
	tests := []struct {
		state ConnectorState
		want  bool
	}{
		{ConnectorToReExecute, true},
		{ConnectorSkipped, true},
		{ConnectorCancelled, true},
		{ConnectorFailed, false},
		{ConnectorDone, false},
		{ConnectorExecuting, false},
		{ConnectorToBeExecuted, false},
	}

	for _, tt := range tests {
		if got := tt.state.IsResetTarget(); got != tt.want {
			t.Errorf("%s.IsResetTarget() = %v, want %v", tt.state, got, tt.want)
		}
	}
}

func TestParseConnectorState(t *testing.T) {
	if s, ok := ParseConnectorState("FAILED"); !ok || s != ConnectorFailed {
		t.Errorf("expected FAILED, got %s (%v)", s, ok)
	}
	if _, ok := ParseConnectorState("BROKEN"); ok {
		t.Error("unknown state should not parse")
	}
}

func TestConnectorUpdate_ResetClearsFailure(t *testing.T) {
	c := &ConnectorInstance{
		ID:      1,
		State:   ConnectorFailed,
		Failure: &FailureInfo{ExceptionMessage: "boom"},
	}

	now := time.Now()
	ResetTo(ConnectorToReExecute).Apply(c, now)

	if c.State != ConnectorToReExecute {
		t.Errorf("expected TO_RE_EXECUTE, got %s", c.State)
	}
	if c.Failure != nil {
		t.Error("failure info should be cleared")
	}
	if !c.UpdatedAt.Equal(now) {
		t.Error("UpdatedAt should be set")
	}
}

func TestConnectorUpdate_FailWithCopiesInfo(t *testing.T) {
	c := &ConnectorInstance{State: ConnectorExecuting}
	info := FailureInfo{ExceptionMessage: "interrupted"}

	FailWith(info).Apply(c, time.Now())
	info.ExceptionMessage = "changed"

	if !c.IsFailed() {
		t.Fatal("connector should be FAILED")
	}
	if c.Failure.ExceptionMessage != "interrupted" {
		t.Errorf("failure info should be copied, got %q", c.Failure.ExceptionMessage)
	}
}

func TestTenantExecutionState_String(t *testing.T) {
	if TenantRunning.String() != "RUNNING" || TenantStopping.String() != "STOPPING" || TenantStopped.String() != "STOPPED" {
		t.Error("unexpected state names")
	}
}

func TestRetryPolicy_Validate(t *testing.T) {
	tests := []struct {
		name    string
		policy  RetryPolicy
		wantErr bool
	}{
		{"default", DefaultRetryPolicy(), false},
		{"zero attempts", RetryPolicy{BackoffFactor: 1}, false},
		{"negative attempts", RetryPolicy{MaxAttempts: -1, BackoffFactor: 1}, true},
		{"negative delay", RetryPolicy{InitialDelay: -time.Millisecond, BackoffFactor: 1}, true},
		{"factor below one", RetryPolicy{BackoffFactor: 0.5}, true},
		{"factor NaN", RetryPolicy{BackoffFactor: math.NaN()}, true},
		{"factor infinite", RetryPolicy{BackoffFactor: math.Inf(1)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.policy.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRetryPolicy_NextDelay(t *testing.T) {
	p := RetryPolicy{BackoffFactor: 2, MaxDelay: 100 * time.Millisecond}

	if d := p.NextDelay(10 * time.Millisecond); d != 20*time.Millisecond {
		t.Errorf("expected 20ms, got %s", d)
	}
	if d := p.NextDelay(80 * time.Millisecond); d != 100*time.Millisecond {
		t.Errorf("expected saturation at 100ms, got %s", d)
	}

	// Переполнение int64 должно насыщаться, а не заворачиваться
	huge := RetryPolicy{BackoffFactor: 1e6, MaxDelay: time.Duration(1<<63 - 1)}
	if d := huge.NextDelay(time.Duration(1 << 62)); d <= 0 {
		t.Errorf("delay overflowed: %s", d)
	}

	if d := p.FirstDelay(); d != 0 {
		t.Errorf("zero initial delay should stay zero, got %s", d)
	}
	high := RetryPolicy{InitialDelay: 300 * time.Millisecond, BackoffFactor: 2, MaxDelay: 20 * time.Millisecond}
	if d := high.FirstDelay(); d != 20*time.Millisecond {
		t.Errorf("initial delay should be capped at 20ms, got %s", d)
	}

	constant := RetryPolicy{BackoffFactor: 1}
	if d := constant.NextDelay(5 * time.Millisecond); d != 5*time.Millisecond {
		t.Errorf("factor 1.0 should keep delay, got %s", d)
	}
}

func TestError_Helpers(t *testing.T) {
	cause := errors.New("row version changed")
	err := fmt.Errorf("update connector: %w", Conflict(cause))

	if !IsRetryable(err) {
		t.Error("conflict should be retryable")
	}
	if !IsKind(err, KindConflict) {
		t.Error("expected KindConflict")
	}
	if Cause(err) != cause {
		t.Errorf("Cause() = %v, want %v", Cause(err), cause)
	}

	timeout := LockTimeout(1, LockKey{ObjectID: 7, ObjectType: "a"}, 50*time.Millisecond)
	if IsRetryable(timeout) {
		t.Error("lock timeout is decided by the caller, not retried by the runner")
	}
	if !IsKind(timeout, KindLockTimeout) {
		t.Error("expected KindLockTimeout")
	}

	plain := errors.New("plain")
	if IsRetryable(plain) {
		t.Error("plain errors are not retryable")
	}
	if Cause(plain) != plain {
		t.Error("Cause of plain error should be itself")
	}
}

func TestJob_IsDue(t *testing.T) {
	now := time.Now()
	j := &Job{Name: "sweep", IntervalSec: 10}

	if j.IsDue(now) {
		t.Error("job without NextDueAt is not due")
	}

	j.RecordRun(now.Add(-time.Minute), now)
	if !j.IsDue(now) {
		t.Error("job should be due at NextDueAt")
	}
	if !j.IsInterval() || j.IsCron() {
		t.Error("expected interval job")
	}
}
