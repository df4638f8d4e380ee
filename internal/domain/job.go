package domain

import "time"

// Job - периодическая работа tenant'а.
//
// Job может запускаться:
// - По cron-выражению: "*/5 * * * *" (каждые 5 минут)
// - По интервалу: каждые N секунд
//
// Когда наступает NextDueAt, WorkScheduler создаёт WorkItem типа ItemType.
type Job struct {
	// Name - уникальное имя job в рамках tenant'а.
	Name string `json:"name" yaml:"name"`

	// CronExpr - cron-выражение из 5 полей.
	// Если задан CronExpr, IntervalSec игнорируется.
	CronExpr string `json:"cron_expr,omitempty" yaml:"cron"`

	// IntervalSec - интервал в секундах между запусками.
	IntervalSec int `json:"interval_sec,omitempty" yaml:"interval_sec"`

	// Timezone - часовой пояс для cron (default: UTC).
	Timezone string `json:"timezone,omitempty" yaml:"timezone"`

	// ItemType - тип создаваемого WorkItem.
	ItemType string `json:"item_type" yaml:"item_type"`

	// FlowNodeInstanceID - flow node для создаваемого WorkItem.
	FlowNodeInstanceID int64 `json:"flow_node_instance_id,omitempty" yaml:"flow_node_instance_id"`

	// Payload - payload создаваемого WorkItem.
	Payload map[string]any `json:"payload,omitempty" yaml:"payload"`

	// NextDueAt - время следующего запуска.
	NextDueAt *time.Time `json:"next_due_at,omitempty" yaml:"-"`

	// LastRunAt - время последнего запуска.
	LastRunAt *time.Time `json:"last_run_at,omitempty" yaml:"-"`
}

// IsCron возвращает true, если job использует cron-выражение.
func (j *Job) IsCron() bool {
	return j.CronExpr != ""
}

// IsInterval возвращает true, если job использует интервал.
func (j *Job) IsInterval() bool {
	return j.CronExpr == "" && j.IntervalSec > 0
}

// IsDue проверяет, пора ли запускать.
func (j *Job) IsDue(now time.Time) bool {
	if j.NextDueAt == nil {
		return false
	}
	return !now.Before(*j.NextDueAt)
}

// RecordRun записывает информацию о запуске.
func (j *Job) RecordRun(at, nextDue time.Time) {
	j.LastRunAt = &at
	j.NextDueAt = &nextDue
}
