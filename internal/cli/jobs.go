package cli

import (
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/shaiso/automata-engine/internal/config"
	"github.com/shaiso/automata-engine/internal/domain"
	"github.com/shaiso/automata-engine/internal/scheduler"
)

// JobPlan - job с рассчитанным следующим запуском.
type JobPlan struct {
	TenantID int64      `json:"tenant_id"`
	Job      domain.Job `json:"job"`
}

// NewJobsCmd создаёт команду проверки файла jobs.
func NewJobsCmd(outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "jobs FILE",
		Short: "Validate a jobs file and show next due times",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobs, err := config.LoadJobs(args[0])
			if err != nil {
				return err
			}

			plans, err := PlanJobs(jobs, time.Now())
			if err != nil {
				return err
			}

			headers := []string{"TENANT", "NAME", "ITEM_TYPE", "SCHEDULE", "TIMEZONE", "NEXT_DUE"}
			rows := make([][]string, len(plans))
			for i, p := range plans {
				rows[i] = []string{
					strconv.FormatInt(p.TenantID, 10),
					p.Job.Name,
					p.Job.ItemType,
					formatSchedule(&p.Job),
					p.Job.Timezone,
					formatTime(p.Job.NextDueAt),
				}
			}
			outputFn().Print(headers, rows, plans)
			return nil
		},
	}
}

// PlanJobs рассчитывает NextDueAt для всех jobs от from.
// Результат упорядочен по tenant и имени.
func PlanJobs(jobs map[int64][]domain.Job, from time.Time) ([]JobPlan, error) {
	var plans []JobPlan
	for tenantID, list := range jobs {
		for _, job := range list {
			next, err := scheduler.CalculateNextDue(&job, from)
			if err != nil {
				return nil, err
			}
			job.NextDueAt = &next
			plans = append(plans, JobPlan{TenantID: tenantID, Job: job})
		}
	}

	sort.Slice(plans, func(i, j int) bool {
		if plans[i].TenantID != plans[j].TenantID {
			return plans[i].TenantID < plans[j].TenantID
		}
		return plans[i].Job.Name < plans[j].Job.Name
	})
	return plans, nil
}

func formatSchedule(j *domain.Job) string {
	if j.IsCron() {
		return j.CronExpr
	}
	return (time.Duration(j.IntervalSec) * time.Second).String()
}
