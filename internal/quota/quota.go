// Package quota implements the dual-window admission ledger: every key is
// accounted against a per-minute and a per-calendar-day counter, and a
// request is admitted only when both windows have room.
package quota

import (
	"context"
	"time"
)

// Decision is the outcome of one admission check. On rejection the remaining
// counts reflect the current (uncommitted) counters; on admission they
// reflect the counters after the charge.
type Decision struct {
	Allowed         bool `json:"allowed"`
	MinuteRemaining int  `json:"minute_remaining"`
	DayRemaining    int  `json:"day_remaining"`
}

// Ledger checks and charges quota in one step. The operation is atomic per
// key: either both window counters advance or neither does.
type Ledger interface {
	CheckAndIncrement(ctx context.Context, keyID string, minuteLimit, dayLimit int) (Decision, error)
}

// minuteWindow buckets a timestamp into its minute-of-epoch id.
func minuteWindow(now time.Time) int64 {
	return now.Unix() / 60
}

// dayWindow buckets a timestamp into its UTC calendar date. The two windows
// roll over on independent clocks: a minute boundary never resets the day
// count and midnight never resets the minute count.
func dayWindow(now time.Time) string {
	return now.UTC().Format("2006-01-02")
}
