package task

import (
	"strings"
	"time"
)

// dueLayouts are tried in order by ParseDue. Layouts without a zone offset are
// interpreted in the local zone.
var dueLayouts = []struct {
	layout string
	zoned  bool
}{
	{time.RFC3339Nano, true},
	{time.RFC3339, true},
	{"2006-01-02T15:04:05.999999999Z0700", true},
	{"2006-01-02T15:04:05Z0700", true},
	{"2006-01-02T15:04Z07:00", true},
	{"2006-01-02T15:04Z0700", true},
	{"2006-01-02T15:04:05.999999999", false},
	{"2006-01-02T15:04:05", false},
	{"2006-01-02T15:04", false},
	{"2006-01-02 15:04:05", false},
	{"2006-01-02 15:04", false},
	{"2006-01-02", false},
}

// TruncateDue discards seconds and sub-second components and converts t to
// the local zone. The instant is truncated, not its wall clock, so a time in
// a repeated daylight-saving hour keeps its offset.
func TruncateDue(t time.Time) time.Time {
	return t.Truncate(time.Minute).Local()
}

// ParseDue is a best-effort ISO-8601 parser for due-date strings. It returns
// the minute-truncated local instant and true on success. Date-only values
// resolve to local midnight. Anything it does not understand (including
// relative phrases the remote parser failed to resolve) yields false.
func ParseDue(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "null") {
		return time.Time{}, false
	}
	for _, l := range dueLayouts {
		var (
			t   time.Time
			err error
		)
		if l.zoned {
			t, err = time.Parse(l.layout, s)
		} else {
			t, err = time.ParseInLocation(l.layout, s, time.Local)
		}
		if err == nil {
			return TruncateDue(t), true
		}
	}
	return time.Time{}, false
}
