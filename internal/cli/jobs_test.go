package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/shaiso/automata-engine/internal/domain"
)

func TestPlanJobs(t *testing.T) {
	from := time.Date(2024, 1, 1, 10, 2, 0, 0, time.UTC)
	jobs := map[int64][]domain.Job{
		2: {{Name: "b", IntervalSec: 30, ItemType: domain.WorkTypeConnectorRetry}},
		1: {
			{Name: "z", CronExpr: "*/5 * * * *", ItemType: domain.WorkTypeConnectorRetry},
			{Name: "a", IntervalSec: 60, ItemType: domain.WorkTypeConnectorRetry},
		},
	}

	plans, err := PlanJobs(jobs, from)
	if err != nil {
		t.Fatalf("PlanJobs: %v", err)
	}

	want := []struct {
		tenant int64
		name   string
		due    time.Time
	}{
		{1, "a", from.Add(time.Minute)},
		{1, "z", time.Date(2024, 1, 1, 10, 5, 0, 0, time.UTC)},
		{2, "b", from.Add(30 * time.Second)},
	}
	if len(plans) != len(want) {
		t.Fatalf("plans len = %d, want %d", len(plans), len(want))
	}
	for i, w := range want {
		p := plans[i]
		if p.TenantID != w.tenant || p.Job.Name != w.name {
			t.Errorf("plans[%d] = %d/%s, want %d/%s", i, p.TenantID, p.Job.Name, w.tenant, w.name)
			continue
		}
		if p.Job.NextDueAt == nil || !p.Job.NextDueAt.Equal(w.due) {
			t.Errorf("plans[%d] next due = %v, want %v", i, p.Job.NextDueAt, w.due)
		}
	}
}

func TestPlanJobs_InvalidCron(t *testing.T) {
	jobs := map[int64][]domain.Job{
		1: {{Name: "bad", CronExpr: "not a cron", ItemType: domain.WorkTypeConnectorRetry}},
	}
	if _, err := PlanJobs(jobs, time.Now()); err == nil {
		t.Fatal("expected error for invalid cron")
	}
}

func TestRootCmd_Jobs(t *testing.T) {
	path := writeJobs(t, `
tenants:
  1:
    - name: sweep
      interval_sec: 60
      item_type: connector.retry
`)

	var out bytes.Buffer
	cmd := NewRootCmd("test")
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"jobs", path, "--json"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	var plans []JobPlan
	if err := json.Unmarshal(out.Bytes(), &plans); err != nil {
		t.Fatalf("decode output %q: %v", out.String(), err)
	}
	if len(plans) != 1 || plans[0].TenantID != 1 || plans[0].Job.Name != "sweep" {
		t.Errorf("plans = %+v", plans)
	}
}

func TestRootCmd_ArgumentErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"bad tenant id", []string{"tenant", "pause", "abc"}, "invalid tenant id"},
		{"zero tenant id", []string{"tenant", "resume", "0"}, "invalid tenant id"},
		{"bad flow node", []string{"work", "retry", "x", "--tenant", "1"}, "invalid flow node id"},
		{"bad target", []string{"work", "retry", "5", "--tenant", "1", "--target", "DONE"}, "invalid target"},
		{"missing jobs file", []string{"jobs", "/nonexistent/jobs.yaml"}, "read jobs file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := NewRootCmd("test")
			cmd.SetOut(&bytes.Buffer{})
			cmd.SetErr(&bytes.Buffer{})
			cmd.SetArgs(tt.args)

			err := cmd.Execute()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want containing %q", err, tt.want)
			}
		})
	}
}
