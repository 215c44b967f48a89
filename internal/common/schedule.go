package common

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// scheduleParser accepts standard 5-field cron expressions (minute precision)
var scheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ValidateSchedule validates a cron schedule expression
func ValidateSchedule(schedule string) error {
	if _, err := scheduleParser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", schedule, err)
	}
	return nil
}

// NextScheduleTime returns the next activation of a cron schedule strictly
// after the given time.
func NextScheduleTime(schedule string, after time.Time) (time.Time, error) {
	parsed, err := scheduleParser.Parse(schedule)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cron expression %q: %w", schedule, err)
	}
	return parsed.Next(after), nil
}

// NextScheduleTimes returns the next n activations of a cron schedule after
// the given time, in order.
func NextScheduleTimes(schedule string, after time.Time, n int) ([]time.Time, error) {
	parsed, err := scheduleParser.Parse(schedule)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", schedule, err)
	}

	runs := make([]time.Time, 0, n)
	next := after
	for i := 0; i < n; i++ {
		next = parsed.Next(next)
		if next.IsZero() {
			break
		}
		runs = append(runs, next)
	}
	return runs, nil
}
