// Package blackout evaluates blackout-period expressions that gate whether an
// automerge run is started at all.
//
// The configuration is a comma-separated list of period expressions. Each
// expression is matched against a fixed list of grammars, in priority order:
//
//  1. "Mon 09:00-17:00"        - weekday restricted time range
//  2. "2023-12-20/2024-01-05"  - inclusive ISO date range
//  3. "Dec 24-Jan 5"           - month-name date range, may cross a year boundary
//  4. "T09:00:00/T17:00:00"    - time-of-day range
//  5. "9:00-17:30"             - time-of-day range without the T prefix
//  6. "Mon"                    - whole weekday
//  7. "2024-01-01"             - single calendar date
//
// All range checks are inclusive on both ends. Expressions that match no
// grammar are logged as a warning and never match, the run is not blocked by
// configuration typos.
package blackout

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/navikt/automerge-dependabot-sub000/internal/logfields"
)

const loggerName = "blackout"

type kind int

const (
	kindWeekdayTimeRange kind = iota
	kindDateRange
	kindMonthDayRange
	kindTimeRange
	kindWeekday
	kindDate
)

// Period is a parsed blackout-period expression.
// It is stateless, Contains evaluates it against a given instant.
type Period struct {
	kind kind
	raw  string

	weekday time.Weekday

	startDate time.Time // day granularity, in the local zone of Parse callers
	endDate   time.Time

	startSec int // seconds since midnight
	endSec   int

	startMonth time.Month
	startDay   int
	endMonth   time.Month
	endDay     int
}

func (p *Period) String() string {
	return p.raw
}

// Parse parses a single blackout-period expression.
// The grammars are tried in the fixed priority order documented on the
// package, the first matching one wins.
func Parse(expr string) (*Period, error) {
	token := strings.TrimSpace(expr)
	if token == "" {
		return nil, fmt.Errorf("empty blackout period expression")
	}

	for _, parse := range []func(string) (*Period, bool){
		parseWeekdayTimeRange,
		parseDateRange,
		parseMonthDayRange,
		parsePrefixedTimeRange,
		parseTimeRange,
		parseWeekday,
		parseDate,
	} {
		if p, ok := parse(token); ok {
			p.raw = token
			return p, nil
		}
	}

	return nil, fmt.Errorf("unrecognized blackout period expression: %q", token)
}

// Contains returns true if now falls inside the period.
func (p *Period) Contains(now time.Time) bool {
	switch p.kind {
	case kindWeekday:
		return now.Weekday() == p.weekday

	case kindWeekdayTimeRange:
		return now.Weekday() == p.weekday && p.containsTimeOfDay(now)

	case kindTimeRange:
		return p.containsTimeOfDay(now)

	case kindDateRange:
		day := dateOnly(now)
		return !day.Before(p.startDate) && !day.After(p.endDate)

	case kindDate:
		return dateOnly(now).Equal(p.startDate)

	case kindMonthDayRange:
		return p.containsMonthDay(now)

	default:
		return false
	}
}

func (p *Period) containsTimeOfDay(now time.Time) bool {
	sec := now.Hour()*3600 + now.Minute()*60 + now.Second()
	return sec >= p.startSec && sec <= p.endSec
}

func (p *Period) containsMonthDay(now time.Time) bool {
	start := time.Date(now.Year(), p.startMonth, p.startDay, 0, 0, 0, 0, now.Location())
	end := time.Date(now.Year(), p.endMonth, p.endDay, 0, 0, 0, 0, now.Location())

	// an end month before the start month means the range crosses a year
	// boundary, e.g. "Dec 24-Jan 5"
	if p.endMonth < p.startMonth {
		if now.Month() >= p.startMonth {
			end = end.AddDate(1, 0, 0)
		} else {
			start = start.AddDate(-1, 0, 0)
		}
	}

	day := dateOnly(now)
	return !day.Before(start) && !day.After(end)
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// ShouldRun returns true when now is not inside any of the configured
// blackout periods. An empty configuration always allows the run.
func ShouldRun(config string, now time.Time) bool {
	logger := zap.L().Named(loggerName)

	config = strings.TrimSpace(config)
	if config == "" {
		return true
	}

	for _, expr := range strings.Split(config, ",") {
		if strings.TrimSpace(expr) == "" {
			continue
		}

		period, err := Parse(expr)
		if err != nil {
			logger.Warn(
				"ignoring unparseable blackout period",
				logfields.Event("blackout_period_unparseable"),
				zap.String("expression", expr),
				zap.Error(err),
			)

			continue
		}

		if period.Contains(now) {
			logger.Info(
				"current time is inside a blackout period, skipping run",
				logfields.Event("blackout_period_active"),
				zap.String("period", period.String()),
				zap.Time("now", now),
			)

			return false
		}
	}

	return true
}

var weekdays = map[string]time.Weekday{
	"sun": time.Sunday,
	"mon": time.Monday,
	"tue": time.Tuesday,
	"wed": time.Wednesday,
	"thu": time.Thursday,
	"fri": time.Friday,
	"sat": time.Saturday,
}

// parseWeekdayName accepts full or abbreviated english day names,
// case-insensitive. Matching is on the 3-letter prefix.
func parseWeekdayName(s string) (time.Weekday, bool) {
	s = strings.ToLower(s)
	if len(s) < 3 {
		return 0, false
	}

	day, ok := weekdays[s[:3]]
	if !ok {
		return 0, false
	}

	// reject tokens like "monblah" that only share the prefix
	full := strings.ToLower(day.String())
	if s != s[:3] && s != full {
		return 0, false
	}

	return day, true
}

func parseMonthName(s string) (time.Month, bool) {
	s = strings.ToLower(s)
	if len(s) < 3 {
		return 0, false
	}

	for m := time.January; m <= time.December; m++ {
		full := strings.ToLower(m.String())
		if s == full[:3] || s == full {
			return m, true
		}
	}

	return 0, false
}

// parseClock parses "h:mm" and "h:mm:ss" clock values into seconds since
// midnight.
func parseClock(s string) (int, bool) {
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, false
	}

	vals := make([]int, 3)
	for i, part := range parts {
		if part == "" {
			return 0, false
		}

		v, err := strconv.Atoi(part)
		if err != nil {
			return 0, false
		}

		vals[i] = v
	}

	hour, minute, second := vals[0], vals[1], vals[2]
	if hour > 23 || minute > 59 || second > 59 {
		return 0, false
	}

	return hour*3600 + minute*60 + second, true
}

func parseWeekdayTimeRange(token string) (*Period, bool) {
	fields := strings.Fields(token)
	if len(fields) != 2 {
		return nil, false
	}

	day, ok := parseWeekdayName(fields[0])
	if !ok {
		return nil, false
	}

	start, end, ok := splitTimeRange(fields[1], "-")
	if !ok {
		return nil, false
	}

	return &Period{
		kind:     kindWeekdayTimeRange,
		weekday:  day,
		startSec: start,
		endSec:   end,
	}, true
}

func parseDateRange(token string) (*Period, bool) {
	parts := strings.Split(token, "/")
	if len(parts) != 2 {
		return nil, false
	}

	start, err := time.ParseInLocation("2006-01-02", parts[0], time.Local)
	if err != nil {
		return nil, false
	}

	end, err := time.ParseInLocation("2006-01-02", parts[1], time.Local)
	if err != nil {
		return nil, false
	}

	return &Period{
		kind:      kindDateRange,
		startDate: start,
		endDate:   end,
	}, true
}

func parseMonthDayRange(token string) (*Period, bool) {
	parts := strings.Split(token, "-")
	if len(parts) != 2 {
		return nil, false
	}

	startMonth, startDay, ok := parseMonthDay(parts[0])
	if !ok {
		return nil, false
	}

	endMonth, endDay, ok := parseMonthDay(parts[1])
	if !ok {
		return nil, false
	}

	return &Period{
		kind:       kindMonthDayRange,
		startMonth: startMonth,
		startDay:   startDay,
		endMonth:   endMonth,
		endDay:     endDay,
	}, true
}

func parseMonthDay(s string) (time.Month, int, bool) {
	fields := strings.Fields(strings.TrimSpace(s))
	if len(fields) != 2 {
		return 0, 0, false
	}

	month, ok := parseMonthName(fields[0])
	if !ok {
		return 0, 0, false
	}

	day, err := strconv.Atoi(fields[1])
	if err != nil || day < 1 || day > 31 {
		return 0, 0, false
	}

	return month, day, true
}

func parsePrefixedTimeRange(token string) (*Period, bool) {
	parts := strings.Split(token, "/")
	if len(parts) != 2 {
		return nil, false
	}

	if !strings.HasPrefix(parts[0], "T") || !strings.HasPrefix(parts[1], "T") {
		return nil, false
	}

	start, ok := parseClock(strings.TrimPrefix(parts[0], "T"))
	if !ok {
		return nil, false
	}

	end, ok := parseClock(strings.TrimPrefix(parts[1], "T"))
	if !ok {
		return nil, false
	}

	return &Period{
		kind:     kindTimeRange,
		startSec: start,
		endSec:   end,
	}, true
}

func parseTimeRange(token string) (*Period, bool) {
	start, end, ok := splitTimeRange(token, "-")
	if !ok {
		return nil, false
	}

	return &Period{
		kind:     kindTimeRange,
		startSec: start,
		endSec:   end,
	}, true
}

func splitTimeRange(s, sep string) (startSec, endSec int, ok bool) {
	parts := strings.Split(s, sep)
	if len(parts) != 2 {
		return 0, 0, false
	}

	start, ok := parseClock(parts[0])
	if !ok {
		return 0, 0, false
	}

	end, ok := parseClock(parts[1])
	if !ok {
		return 0, 0, false
	}

	return start, end, true
}

func parseWeekday(token string) (*Period, bool) {
	day, ok := parseWeekdayName(token)
	if !ok {
		return nil, false
	}

	return &Period{
		kind:    kindWeekday,
		weekday: day,
	}, true
}

func parseDate(token string) (*Period, bool) {
	date, err := time.ParseInLocation("2006-01-02", token, time.Local)
	if err != nil {
		return nil, false
	}

	return &Period{
		kind:      kindDate,
		startDate: date,
	}, true
}
