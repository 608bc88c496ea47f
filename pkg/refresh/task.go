package refresh

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nimburion/tabular/pkg/config"
	"github.com/nimburion/tabular/pkg/engine"
	"github.com/nimburion/tabular/pkg/query"
)

const (
	MisfirePolicySkip     = config.MisfirePolicySkip
	MisfirePolicyFireOnce = config.MisfirePolicyFireOnce

	maxCronSearchIterations = 5 * 366 * 24 * 60
)

// Task re-runs one stored query on a schedule.
type Task struct {
	Name string
	// Schedule is "@every <duration>" or a five-field cron expression.
	Schedule string
	// Command is the full argument vector, command name first.
	Command       []string
	Timezone      string
	LockTTL       time.Duration
	MisfirePolicy string

	query *query.Query
}

// TaskFromConfig builds a Task from its configuration entry. The command string is split
// on whitespace.
func TaskFromConfig(cfg config.RefreshTaskConfig) Task {
	return Task{
		Name:          strings.TrimSpace(cfg.Name),
		Schedule:      strings.TrimSpace(cfg.Schedule),
		Command:       strings.Fields(cfg.Command),
		Timezone:      strings.TrimSpace(cfg.Timezone),
		LockTTL:       cfg.LockTTL,
		MisfirePolicy: strings.TrimSpace(cfg.MisfirePolicy),
	}
}

func (t *Task) normalize() {
	if strings.TrimSpace(t.MisfirePolicy) == "" {
		t.MisfirePolicy = MisfirePolicySkip
	}
}

// Validate verifies required fields, schedule syntax and the command. The command must
// parse and must carry a STORE clause, since a refresh that only replies does nothing.
func (t *Task) Validate() error {
	if t == nil {
		return refreshError(ErrValidation, "task is nil")
	}
	t.normalize()

	if strings.TrimSpace(t.Name) == "" {
		return refreshError(ErrValidation, "task name is required")
	}
	if strings.TrimSpace(t.Schedule) == "" {
		return refreshError(ErrValidation, "task schedule is required")
	}
	if t.MisfirePolicy != MisfirePolicySkip && t.MisfirePolicy != MisfirePolicyFireOnce {
		return refreshError(ErrValidation, fmt.Sprintf("invalid task misfire policy %q", t.MisfirePolicy))
	}
	if _, err := t.nextRun(time.Now().UTC()); err != nil {
		return err
	}

	q, err := engine.ParseCommand(t.Command)
	if err != nil {
		return errors.Join(refreshError(ErrValidation, fmt.Sprintf("task %q command is invalid", t.Name)), err)
	}
	if !q.Stores() {
		return refreshError(ErrValidation, fmt.Sprintf("task %q command has no STORE clause", t.Name))
	}
	t.query = q
	return nil
}

// Destination returns the key the task overwrites. Valid only after Validate.
func (t *Task) Destination() string {
	if t.query == nil {
		return ""
	}
	return t.query.Destination
}

// Query returns the parsed command. Valid only after Validate.
func (t *Task) Query() *query.Query {
	return t.query
}

func (t *Task) location() (*time.Location, error) {
	if strings.TrimSpace(t.Timezone) == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(strings.TrimSpace(t.Timezone))
	if err != nil {
		return nil, errors.Join(refreshError(ErrValidation, "invalid task timezone"), err)
	}
	return loc, nil
}

func (t *Task) nextRun(now time.Time) (time.Time, error) {
	loc, err := t.location()
	if err != nil {
		return time.Time{}, err
	}
	return nextRunForSchedule(strings.TrimSpace(t.Schedule), now.In(loc), loc)
}

func nextRunForSchedule(schedule string, now time.Time, loc *time.Location) (time.Time, error) {
	if strings.HasPrefix(schedule, "@every ") {
		durationRaw := strings.TrimSpace(strings.TrimPrefix(schedule, "@every "))
		interval, err := time.ParseDuration(durationRaw)
		if err != nil {
			return time.Time{}, errors.Join(refreshError(ErrValidation, "invalid @every duration"), err)
		}
		if interval <= 0 {
			return time.Time{}, refreshError(ErrValidation, "@every duration must be > 0")
		}
		return now.Add(interval).UTC(), nil
	}

	fields := strings.Fields(schedule)
	if len(fields) != 5 {
		return time.Time{}, refreshError(ErrValidation, fmt.Sprintf("unsupported schedule format %q", schedule))
	}

	cronExpr, err := parseCronExpression(fields)
	if err != nil {
		return time.Time{}, err
	}

	candidate := now.Truncate(time.Minute).Add(time.Minute)
	for iteration := 0; iteration < maxCronSearchIterations; iteration++ {
		localCandidate := candidate.In(loc)
		if cronExpr.matches(localCandidate) {
			return localCandidate.UTC(), nil
		}
		candidate = candidate.Add(time.Minute)
	}

	return time.Time{}, refreshError(ErrValidation, fmt.Sprintf("unable to find next run for schedule %q", schedule))
}

type cronFieldMatcher struct {
	any    bool
	values map[int]struct{}
}

func (m cronFieldMatcher) contains(value int) bool {
	if m.any {
		return true
	}
	_, ok := m.values[value]
	return ok
}

type cronExpression struct {
	minute     cronFieldMatcher
	hour       cronFieldMatcher
	dayOfMonth cronFieldMatcher
	month      cronFieldMatcher
	dayOfWeek  cronFieldMatcher
}

// matches applies cron's day rule: when both day fields are restricted, either may match.
func (e cronExpression) matches(candidate time.Time) bool {
	if !e.minute.contains(candidate.Minute()) || !e.hour.contains(candidate.Hour()) {
		return false
	}
	if !e.month.contains(int(candidate.Month())) {
		return false
	}

	dayOfMonthMatch := e.dayOfMonth.contains(candidate.Day())
	dayOfWeekMatch := e.dayOfWeek.contains(int(candidate.Weekday()))
	switch {
	case e.dayOfMonth.any && e.dayOfWeek.any:
		return true
	case e.dayOfMonth.any:
		return dayOfWeekMatch
	case e.dayOfWeek.any:
		return dayOfMonthMatch
	default:
		return dayOfMonthMatch || dayOfWeekMatch
	}
}

var cronFields = []struct {
	name            string
	min, max        int
	normalizeSunday bool
}{
	{"minute", 0, 59, false},
	{"hour", 0, 23, false},
	{"day-of-month", 1, 31, false},
	{"month", 1, 12, false},
	{"day-of-week", 0, 7, true},
}

func parseCronExpression(fields []string) (*cronExpression, error) {
	matchers := make([]cronFieldMatcher, len(cronFields))
	for i, f := range cronFields {
		m, err := parseCronField(fields[i], f.min, f.max, f.normalizeSunday)
		if err != nil {
			return nil, errors.Join(refreshError(ErrValidation, fmt.Sprintf("invalid %s field %q", f.name, fields[i])), err)
		}
		matchers[i] = m
	}
	return &cronExpression{
		minute:     matchers[0],
		hour:       matchers[1],
		dayOfMonth: matchers[2],
		month:      matchers[3],
		dayOfWeek:  matchers[4],
	}, nil
}

func parseCronField(raw string, minValue, maxValue int, normalizeSunday bool) (cronFieldMatcher, error) {
	field := strings.TrimSpace(raw)
	if field == "" {
		return cronFieldMatcher{}, refreshError(ErrValidation, "empty field")
	}
	if field == "*" {
		return cronFieldMatcher{any: true}, nil
	}

	values := map[int]struct{}{}
	for _, segment := range strings.Split(field, ",") {
		segment = strings.TrimSpace(segment)
		if segment == "" {
			return cronFieldMatcher{}, refreshError(ErrValidation, "empty segment")
		}
		if err := appendCronSegmentValues(values, segment, minValue, maxValue, normalizeSunday); err != nil {
			return cronFieldMatcher{}, err
		}
	}
	if len(values) == 0 {
		return cronFieldMatcher{}, refreshError(ErrValidation, "no values parsed")
	}
	return cronFieldMatcher{values: values}, nil
}

func appendCronSegmentValues(values map[int]struct{}, segment string, minValue, maxValue int, normalizeSunday bool) error {
	base := segment
	step := 1
	if before, after, ok := strings.Cut(segment, "/"); ok {
		base = strings.TrimSpace(before)
		stepRaw := strings.TrimSpace(after)
		parsedStep, err := strconv.Atoi(stepRaw)
		if err != nil || parsedStep <= 0 {
			return refreshError(ErrValidation, fmt.Sprintf("invalid step value %q", stepRaw))
		}
		step = parsedStep
	}
	if base == "" {
		base = "*"
	}

	start, end := minValue, maxValue
	switch {
	case base == "*":
	case strings.Contains(base, "-"):
		lo, hi, _ := strings.Cut(base, "-")
		rangeStart, err := strconv.Atoi(strings.TrimSpace(lo))
		if err != nil {
			return refreshError(ErrValidation, fmt.Sprintf("invalid range start %q", lo))
		}
		rangeEnd, err := strconv.Atoi(strings.TrimSpace(hi))
		if err != nil {
			return refreshError(ErrValidation, fmt.Sprintf("invalid range end %q", hi))
		}
		start = normalizeCronValue(rangeStart, normalizeSunday)
		end = normalizeCronValue(rangeEnd, normalizeSunday)
	default:
		singleValue, err := strconv.Atoi(base)
		if err != nil {
			return refreshError(ErrValidation, fmt.Sprintf("invalid value %q", base))
		}
		start = normalizeCronValue(singleValue, normalizeSunday)
		end = start
		if step > 1 {
			end = maxValue
		}
	}

	if start < minValue || start > maxValue {
		return refreshError(ErrValidation, fmt.Sprintf("value %d out of range [%d,%d]", start, minValue, maxValue))
	}
	if end < minValue || end > maxValue {
		return refreshError(ErrValidation, fmt.Sprintf("value %d out of range [%d,%d]", end, minValue, maxValue))
	}
	if end < start {
		return refreshError(ErrValidation, fmt.Sprintf("invalid range %d-%d", start, end))
	}

	for value := start; value <= end; value += step {
		values[normalizeCronValue(value, normalizeSunday)] = struct{}{}
	}
	return nil
}

func normalizeCronValue(value int, normalizeSunday bool) int {
	if normalizeSunday && value == 7 {
		return 0
	}
	return value
}
