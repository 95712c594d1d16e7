package service

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Schedule is a parsed 5-field cron expression
// (minute hour day-of-month month day-of-week) evaluated in UTC.
// Each field accepts "*", "*/step", "a-b", "a-b/step" and comma lists.
type Schedule struct {
	expr   string
	fields [5]cronField
}

type cronField struct {
	wildcard bool
	allowed  map[int]bool
}

func (f cronField) matches(v int) bool {
	return f.wildcard || f.allowed[v]
}

var cronBounds = [5]struct {
	name     string
	min, max int
}{
	{"minute", 0, 59},
	{"hour", 0, 23},
	{"day-of-month", 1, 31},
	{"month", 1, 12},
	{"day-of-week", 0, 6},
}

// ParseSchedule parses expr.
func ParseSchedule(expr string) (Schedule, error) {
	parts := strings.Fields(expr)
	if len(parts) != 5 {
		return Schedule{}, fmt.Errorf("cron %q: want 5 fields, got %d", expr, len(parts))
	}
	s := Schedule{expr: expr}
	for i, p := range parts {
		f, err := parseCronField(p, cronBounds[i].min, cronBounds[i].max)
		if err != nil {
			return Schedule{}, fmt.Errorf("cron %q: %s field: %w", expr, cronBounds[i].name, err)
		}
		s.fields[i] = f
	}
	return s, nil
}

func parseCronField(field string, lo, hi int) (cronField, error) {
	if field == "*" {
		return cronField{wildcard: true}, nil
	}
	f := cronField{allowed: make(map[int]bool)}
	for _, item := range strings.Split(field, ",") {
		rng, stepStr, hasStep := strings.Cut(item, "/")
		step := 1
		if hasStep {
			n, err := strconv.Atoi(stepStr)
			if err != nil || n <= 0 {
				return cronField{}, fmt.Errorf("invalid step %q", stepStr)
			}
			step = n
		}

		from, to := lo, hi
		switch {
		case rng == "*":
		case strings.Contains(rng, "-"):
			a, b, _ := strings.Cut(rng, "-")
			var err error
			if from, err = strconv.Atoi(a); err != nil {
				return cronField{}, fmt.Errorf("invalid value %q", a)
			}
			if to, err = strconv.Atoi(b); err != nil {
				return cronField{}, fmt.Errorf("invalid value %q", b)
			}
		default:
			v, err := strconv.Atoi(rng)
			if err != nil {
				return cronField{}, fmt.Errorf("invalid value %q", rng)
			}
			from, to = v, v
			if hasStep {
				to = hi
			}
		}
		if from < lo || to > hi || from > to {
			return cronField{}, fmt.Errorf("%q out of range %d-%d", item, lo, hi)
		}
		for v := from; v <= to; v += step {
			f.allowed[v] = true
		}
	}
	return f, nil
}

// Next returns the first minute strictly after after that matches, searching
// up to one year ahead. The zero time means no match.
func (s Schedule) Next(after time.Time) time.Time {
	t := after.UTC().Truncate(time.Minute).Add(time.Minute)
	limit := t.AddDate(1, 0, 1)
	for t.Before(limit) {
		if s.matches(t) {
			return t
		}
		t = t.Add(time.Minute)
	}
	return time.Time{}
}

func (s Schedule) matches(t time.Time) bool {
	return s.fields[0].matches(t.Minute()) &&
		s.fields[1].matches(t.Hour()) &&
		s.fields[2].matches(t.Day()) &&
		s.fields[3].matches(int(t.Month())) &&
		s.fields[4].matches(int(t.Weekday()))
}

func (s Schedule) String() string {
	return s.expr
}
