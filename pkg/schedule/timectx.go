package schedule

import (
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"
)

const dateLayout = "2006-01-02"

// TimeContext anchors a request to the user's local clock.
type TimeContext struct {
	Timezone   string
	LocalNow   time.Time
	ReportDate string
}

// resolveTime picks the local moment a request refers to. An explicit date
// wins and maps to local noon; otherwise an ISO timestamp; otherwise now.
// Unknown zones fall back to UTC.
func resolveTime(now time.Time, tz, reportedAt, date string) TimeContext {
	name := strings.TrimSpace(tz)
	if name == "" {
		name = "UTC"
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		loc, name = time.UTC, "UTC"
	}
	localNow := now.In(loc)

	if date = strings.TrimSpace(date); date != "" {
		d, err := time.ParseInLocation(dateLayout, date, loc)
		if err != nil {
			d = localNow
		}
		noon := time.Date(d.Year(), d.Month(), d.Day(), 12, 0, 0, 0, loc)
		return TimeContext{Timezone: name, LocalNow: noon, ReportDate: noon.Format(dateLayout)}
	}

	if reportedAt = strings.TrimSpace(reportedAt); reportedAt != "" {
		if t, ok := parseTimestamp(reportedAt, loc); ok {
			localNow = t.In(loc)
		}
	}
	return TimeContext{Timezone: name, LocalNow: localNow, ReportDate: localNow.Format(dateLayout)}
}

func parseTimestamp(s string, loc *time.Location) (time.Time, bool) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, true
	}
	for _, layout := range []string{"2006-01-02T15:04:05.999999999", "2006-01-02T15:04", "2006-01-02 15:04:05"} {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// clockMinutes parses HH:MM or HH:MM:SS into minutes after midnight.
func clockMinutes(s string) (int, bool) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, false
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, false
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, false
	}
	return h*60 + m, true
}

func minutesOf(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

func inWindow(now int, it Item) bool {
	start, ok1 := clockMinutes(it.WindowStart)
	end, ok2 := clockMinutes(it.WindowEnd)
	return ok1 && ok2 && start <= now && now < end
}
