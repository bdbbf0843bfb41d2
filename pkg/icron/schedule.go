package icron

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

type TriggerInfo struct {
	Next       time.Time `json:"next"`
	Last       time.Time `json:"last,omitempty"`
	Expression string    `json:"expression"`

	TimeSinceLast time.Duration `json:"time_since_last"`
	TimeUntilNext time.Duration `json:"time_until_next"`
}

// Parse accepts standard five-field expressions and descriptors such as "@daily".
func Parse(cronExpr string) (cron.Schedule, error) {
	schedule, err := cron.ParseStandard(cronExpr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}
	return schedule, nil
}

// GetTriggerInfo returns the previous and next trigger around refTime.
// Last is zero when the expression did not fire within the past year.
func GetTriggerInfo(cronExpr string, refTime time.Time) (*TriggerInfo, error) {
	schedule, err := Parse(cronExpr)
	if err != nil {
		return nil, err
	}

	nextTime := schedule.Next(refTime)

	var prevTime time.Time
	searchStart := refTime.Add(-time.Minute)

	for i := 0; i < 366*24; i++ {
		checkTime := searchStart.Add(-time.Duration(i) * time.Hour)
		candidateNext := schedule.Next(checkTime)

		if candidateNext.Before(refTime) ||
			candidateNext.Equal(refTime) {
			prevTime = candidateNext
			// The hourly scan can land before the latest trigger of
			// sub-hourly schedules; walk forward to it.
			for n := schedule.Next(prevTime); !n.After(refTime); n = schedule.Next(prevTime) {
				prevTime = n
			}
			break
		}
	}

	info := &TriggerInfo{
		Expression: cronExpr,
		Next:       nextTime,
		Last:       prevTime,
	}

	if !prevTime.IsZero() {
		info.TimeSinceLast = refTime.Sub(prevTime)
	}

	info.TimeUntilNext = nextTime.Sub(refTime)

	return info, nil
}

// NextRuns returns the next n trigger times after refTime.
func NextRuns(cronExpr string, refTime time.Time, n int) ([]time.Time, error) {
	schedule, err := Parse(cronExpr)
	if err != nil {
		return nil, err
	}
	ret := make([]time.Time, 0, n)
	t := refTime
	for i := 0; i < n; i++ {
		t = schedule.Next(t)
		if t.IsZero() {
			break
		}
		ret = append(ret, t)
	}
	return ret, nil
}
