// Package permasql expands the relative-time placeholders that persisted
// predicates and new-task values carry, e.g. EOD() for "end of today".
package permasql

import (
	"strconv"
	"strings"
	"time"
)

const (
	Now            = "NOW()"
	EndOfDay       = "EOD()"
	EndOfYesterday = "EODY()"
	EndOfTomorrow  = "EODT()"
	EndOfDayAfter  = "EODTT()"
	EndOfNextWeek  = "EODW()"
	EndOfNextMonth = "EODM()"
	NoonToday      = "NOON()"
	NoonYesterday  = "NOONY()"
	NoonTomorrow   = "NOONT()"
	NoonDayAfter   = "NOONTT()"
	NoonNextWeek   = "NOONW()"
	NoonNextMonth  = "NOONM()"
	endOfDayHour   = 23
	endOfDayMinute = 59
	endOfDaySecond = 59
	noonHour       = 12
)

type point struct {
	days   int
	months int
}

var points = map[string]point{
	EndOfDay:       {},
	EndOfYesterday: {days: -1},
	EndOfTomorrow:  {days: 1},
	EndOfDayAfter:  {days: 2},
	EndOfNextWeek:  {days: 7},
	EndOfNextMonth: {months: 1},
	NoonToday:      {},
	NoonYesterday:  {days: -1},
	NoonTomorrow:   {days: 1},
	NoonDayAfter:   {days: 2},
	NoonNextWeek:   {days: 7},
	NoonNextMonth:  {months: 1},
}

// ReplaceForQuery substitutes epoch millis for every placeholder outside
// single-quoted literals.
func ReplaceForQuery(sql string, now time.Time) string {
	if !strings.Contains(sql, "()") {
		return sql
	}
	r := queryReplacer(now)
	var sb strings.Builder
	sb.Grow(len(sql))
	inLiteral := false
	segmentStart := 0
	for idx := 0; idx < len(sql); idx++ {
		if sql[idx] != '\'' {
			continue
		}
		if inLiteral {
			sb.WriteString(sql[segmentStart : idx+1])
		} else {
			sb.WriteString(r.Replace(sql[segmentStart:idx]))
			sb.WriteByte('\'')
		}
		inLiteral = !inLiteral
		segmentStart = idx + 1
	}
	if inLiteral {
		sb.WriteString(sql[segmentStart:])
	} else {
		sb.WriteString(r.Replace(sql[segmentStart:]))
	}
	return sb.String()
}

// ReplaceForNewTask expands a new-task value. End-of-day placeholders map to
// noon of that day so the created task is due on the intended date.
func ReplaceForNewTask(value string, now time.Time) string {
	if !strings.Contains(value, "()") {
		return value
	}
	pairs := []string{Now, millis(now)}
	for token, p := range points {
		pairs = append(pairs, token, millis(at(now, p, noonHour, 0, 0)))
	}
	return strings.NewReplacer(pairs...).Replace(value)
}

func queryReplacer(now time.Time) *strings.Replacer {
	pairs := []string{Now, millis(now)}
	for token, p := range points {
		if strings.HasPrefix(token, "NOON") {
			pairs = append(pairs, token, millis(at(now, p, noonHour, 0, 0)))
			continue
		}
		pairs = append(pairs, token, millis(at(now, p, endOfDayHour, endOfDayMinute, endOfDaySecond)))
	}
	return strings.NewReplacer(pairs...)
}

func at(now time.Time, p point, hour int, minute int, second int) time.Time {
	day := now.AddDate(0, p.months, p.days)
	return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, second, 0, now.Location())
}

func millis(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}
