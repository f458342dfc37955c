package appointment

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// TimeRange is a half-open interval [Start, End). Ranges that merely touch
// at an endpoint do not overlap, so back-to-back appointments are legal.
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// ValidationError reports malformed booking input. The caller should fix
// the named field and resubmit.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalidField(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

func NewTimeRange(start, end time.Time) (TimeRange, error) {
	if !start.Before(end) {
		return TimeRange{}, invalidField("end_time", "must be after start_time")
	}
	return TimeRange{Start: start.UTC(), End: end.UTC()}, nil
}

func (r TimeRange) Overlaps(o TimeRange) bool {
	return r.Start.Before(o.End) && o.Start.Before(r.End)
}

func (r TimeRange) Duration() time.Duration {
	return r.End.Sub(r.Start)
}

func (r TimeRange) IsZero() bool {
	return r.Start.IsZero() && r.End.IsZero()
}

func (r TimeRange) String() string {
	return fmt.Sprintf("[%s, %s)", r.Start.Format(time.RFC3339), r.End.Format(time.RFC3339))
}

// SlotLabel renders the 24-hour clock label the legacy slot lists use.
func SlotLabel(t time.Time) string {
	return t.UTC().Format("15:04")
}

var (
	dateUnderscoreRe = regexp.MustCompile(`^(\d{1,2})_(\d{1,2})_(\d{4})$`)
	dateDashDMYRe    = regexp.MustCompile(`^(\d{1,2})-(\d{1,2})-(\d{4})$`)
	dateISORe        = regexp.MustCompile(`^(\d{4})-(\d{2})-(\d{2})$`)
	time24Re         = regexp.MustCompile(`^([01]?\d|2[0-3]):([0-5]\d)$`)
	time12Re         = regexp.MustCompile(`^(\d{1,2}):([0-5]\d)\s*(am|pm)$`)
)

// ParseSlotDate accepts "DD_MM_YYYY", "DD-MM-YYYY" and ISO "YYYY-MM-DD"
// and returns midnight UTC of that calendar day.
func ParseSlotDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)

	var day, month, year int
	switch {
	case dateUnderscoreRe.MatchString(raw):
		m := dateUnderscoreRe.FindStringSubmatch(raw)
		day, _ = strconv.Atoi(m[1])
		month, _ = strconv.Atoi(m[2])
		year, _ = strconv.Atoi(m[3])
	case dateDashDMYRe.MatchString(raw):
		m := dateDashDMYRe.FindStringSubmatch(raw)
		day, _ = strconv.Atoi(m[1])
		month, _ = strconv.Atoi(m[2])
		year, _ = strconv.Atoi(m[3])
	case dateISORe.MatchString(raw):
		m := dateISORe.FindStringSubmatch(raw)
		year, _ = strconv.Atoi(m[1])
		month, _ = strconv.Atoi(m[2])
		day, _ = strconv.Atoi(m[3])
	default:
		return time.Time{}, invalidField("date", "use DD_MM_YYYY or YYYY-MM-DD")
	}

	if month < 1 || month > 12 {
		return time.Time{}, invalidField("date", fmt.Sprintf("month %d out of range", month))
	}

	d := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	// time.Date normalizes out-of-range days (e.g. Feb 30), reject those.
	if d.Day() != day || d.Month() != time.Month(month) || d.Year() != year {
		return time.Time{}, invalidField("date", fmt.Sprintf("day %d out of range for month %d", day, month))
	}
	return d, nil
}

// ParseSlotTime accepts 24-hour "HH:mm" and 12-hour "hh:mm am/pm"
// (case-insensitive) and returns the normalized 24-hour label plus the
// clock offset from midnight.
func ParseSlotTime(raw string) (string, time.Duration, error) {
	t := strings.ToLower(strings.TrimSpace(raw))

	if m := time24Re.FindStringSubmatch(t); m != nil {
		hour, _ := strconv.Atoi(m[1])
		minute, _ := strconv.Atoi(m[2])
		return fmt.Sprintf("%02d:%02d", hour, minute),
			time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute, nil
	}

	if m := time12Re.FindStringSubmatch(t); m != nil {
		hour, _ := strconv.Atoi(m[1])
		minute, _ := strconv.Atoi(m[2])
		if hour < 1 || hour > 12 {
			return "", 0, invalidField("time", fmt.Sprintf("hour %d out of range for 12-hour clock", hour))
		}
		if m[3] == "pm" && hour != 12 {
			hour += 12
		}
		if m[3] == "am" && hour == 12 {
			hour = 0
		}
		return fmt.Sprintf("%02d:%02d", hour, minute),
			time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute, nil
	}

	return "", 0, invalidField("time", "use HH:mm or hh:mm am/pm")
}

// NormalizeSlot collapses a raw date + clock time pair into a TimeRange of
// the given duration, starting at the parsed instant in UTC.
func NormalizeSlot(rawDate, rawTime string, duration time.Duration) (TimeRange, error) {
	day, err := ParseSlotDate(rawDate)
	if err != nil {
		return TimeRange{}, err
	}
	_, offset, err := ParseSlotTime(rawTime)
	if err != nil {
		return TimeRange{}, err
	}
	start := day.Add(offset)
	return NewTimeRange(start, start.Add(duration))
}
