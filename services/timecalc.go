package services

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// timestampLayouts are tried in order by ParseTimestamp
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// ParseDate parses a date string in typical formats (YYYY-MM-DD)
func ParseDate(dateStr string) (time.Time, error) {
	parsedTime, err := time.Parse("2006-01-02", dateStr)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date format: expected YYYY-MM-DD")
	}
	return parsedTime, nil
}

// ParseTimestamp parses an ISO 8601 timestamp. Values without an offset
// are read in loc. Unparseable input is the only hard error of the
// calculator.
func ParseTimestamp(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("%w: empty value", ErrInvalidTimestamp)
	}
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	if t, err := time.ParseInLocation("2006-01-02", value, loc); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("%w %q: expected ISO 8601", ErrInvalidTimestamp, value)
}

// HoursBetween returns the signed wall-clock difference b - a in
// fractional hours. It is negative when b precedes a.
func HoursBetween(a, b time.Time) float64 {
	return b.Sub(a).Seconds() / 3600
}

// ComputeExpectedReturn returns start + maxDurationHours. Open-ended types
// (nil limit) have no automatic return time, so the result is nil and the
// caller supplies the end manually. A supplied end never changes the result.
func ComputeExpectedReturn(start time.Time, end *time.Time, maxDurationHours *float64) *time.Time {
	if maxDurationHours == nil {
		return nil
	}
	ret := start.Add(hoursToDuration(*maxDurationHours))
	return &ret
}

// DurationResult is the outcome of ValidateDuration
type DurationResult struct {
	Valid       bool    `json:"valid"`
	Reason      string  `json:"reason,omitempty"`
	Hours       float64 `json:"hours,omitempty"`
	ExcessHours float64 `json:"excess_hours,omitempty"`
}

// ValidateDuration checks the requested window against the type's limit.
// No limit or no end means valid; the open duration is settled when the
// return is registered.
func ValidateDuration(start time.Time, end *time.Time, maxDurationHours *float64) DurationResult {
	if maxDurationHours == nil || end == nil {
		return DurationResult{Valid: true}
	}

	hours := HoursBetween(start, *end)
	if hours > *maxDurationHours {
		return DurationResult{
			Valid:       false,
			Reason:      fmt.Sprintf("the permit exceeds the maximum allowed duration of %s hours", formatHours(*maxDurationHours)),
			Hours:       hours,
			ExcessHours: hours - *maxDurationHours,
		}
	}
	return DurationResult{Valid: true, Hours: hours}
}

// Err converts an invalid result into a DURATION_EXCEEDED WorkflowError
func (r DurationResult) Err() error {
	if r.Valid {
		return nil
	}
	return &WorkflowError{Code: CodeDurationExceeded, Message: r.Reason, Excess: r.ExcessHours}
}

// ValidateTimeRange enforces that an end, when present, does not precede start
func ValidateTimeRange(start time.Time, end *time.Time) error {
	if end != nil && end.Before(start) {
		return newWorkflowError(CodeInvalidTimeRange, "end %s precedes start %s",
			end.Format(time.RFC3339), start.Format(time.RFC3339))
	}
	return nil
}

// CountDays counts calendar days from start to end inclusive, dates
// normalized to midnight in start's location. Weekends are skipped unless
// includeWeekends is set. Returns 0 when end precedes start.
func CountDays(start, end time.Time, includeWeekends bool) int {
	loc := start.Location()
	day := midnight(start, loc)
	last := midnight(end.In(loc), loc)

	count := 0
	for !day.After(last) {
		if includeWeekends || !isWeekend(day) {
			count++
		}
		day = day.AddDate(0, 0, 1)
	}
	return count
}

func midnight(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

func isWeekend(t time.Time) bool {
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

func hoursToDuration(hours float64) time.Duration {
	return time.Duration(math.Round(hours * float64(time.Hour)))
}

func formatHours(h float64) string {
	if h == math.Trunc(h) {
		return fmt.Sprintf("%d", int64(h))
	}
	return fmt.Sprintf("%.2f", h)
}
