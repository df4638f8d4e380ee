package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shaiso/automata-engine/internal/domain"
)

// cronParser - парсер cron-выражений.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// CalculateNextDue вычисляет следующее время запуска job.
// Для интервалов просто добавляет IntervalSec к from.
//
// Учитывает timezone job.
func CalculateNextDue(job *domain.Job, from time.Time) (time.Time, error) {
	loc := time.UTC
	if job.Timezone != "" {
		if l, err := time.LoadLocation(job.Timezone); err == nil {
			loc = l
		}
	}

	fromInTz := from.In(loc)

	if job.IsCron() {
		return calculateNextCron(job.CronExpr, fromInTz)
	}

	if job.IsInterval() {
		return calculateNextInterval(job.IntervalSec, fromInTz), nil
	}

	return time.Time{}, fmt.Errorf("%w: job %q has neither cron nor interval_sec", ErrInvalidJob, job.Name)
}

// calculateNextCron вычисляет следующее время по cron-выражению.
func calculateNextCron(cronExpr string, from time.Time) (time.Time, error) {
	schedule, err := cronParser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: parse cron expression %q: %v", ErrInvalidJob, cronExpr, err)
	}
	return schedule.Next(from).UTC(), nil
}

// calculateNextInterval вычисляет следующее время по интервалу.
func calculateNextInterval(intervalSec int, from time.Time) time.Time {
	return from.Add(time.Duration(intervalSec) * time.Second).UTC()
}

// ValidateCronExpr проверяет валидность cron-выражения.
func ValidateCronExpr(cronExpr string) error {
	if _, err := cronParser.Parse(cronExpr); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", cronExpr, err)
	}
	return nil
}
