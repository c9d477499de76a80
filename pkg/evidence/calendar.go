// Package evidence provides the read-only side information a run consumes:
// resource calendars and batch memberships. Both are loaded once up front and
// never mutated while a run is in progress.
package evidence

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	werrors "github.com/logflow/waitlens/pkg/errors"
	"github.com/logflow/waitlens/pkg/interval"
)

// PoolKey is the resource key used when resources are treated as one pool.
const PoolKey = "*"

// Calendar reports when a resource was off duty.
type Calendar interface {
	// NonWorking returns the off-duty sub-intervals of window for resource.
	NonWorking(resource string, window interval.Interval) interval.Set
}

// AlwaysAvailable is a calendar without any off-duty time.
type AlwaysAvailable struct{}

// NonWorking implements Calendar.
func (AlwaysAvailable) NonWorking(string, interval.Interval) interval.Set {
	return nil
}

// Shift is a working span expressed as offsets from local midnight.
// To may exceed 24h for shifts that run past midnight.
type Shift struct {
	From time.Duration
	To   time.Duration
}

// WeeklySchedule maps weekdays to their shifts.
type WeeklySchedule map[time.Weekday][]Shift

// WeeklyCalendar is a recurring weekly working-hours calendar per resource,
// with optional leave periods. Resources without a schedule fall back to the
// PoolKey schedule; without either they are always available.
type WeeklyCalendar struct {
	loc       *time.Location
	schedules map[string]WeeklySchedule
	leave     map[string]interval.Set
}

// NewWeeklyCalendar creates an empty calendar in the given location.
func NewWeeklyCalendar(loc *time.Location) *WeeklyCalendar {
	if loc == nil {
		loc = time.UTC
	}
	return &WeeklyCalendar{
		loc:       loc,
		schedules: make(map[string]WeeklySchedule),
		leave:     make(map[string]interval.Set),
	}
}

// SetSchedule assigns a weekly schedule to a resource.
func (c *WeeklyCalendar) SetSchedule(resource string, s WeeklySchedule) {
	c.schedules[resource] = s
}

// AddLeave marks an absence for a resource.
func (c *WeeklyCalendar) AddLeave(resource string, iv interval.Interval) {
	c.leave[resource] = interval.Union(c.leave[resource], interval.Of(iv))
}

// NonWorking implements Calendar.
func (c *WeeklyCalendar) NonWorking(resource string, window interval.Interval) interval.Set {
	if window.Empty() {
		return nil
	}

	var off interval.Set
	if sched, ok := c.schedule(resource); ok {
		working := c.workingIntervals(sched, window)
		off = interval.Subtract(interval.Of(window), working)
	}
	if leave, ok := c.leave[resource]; ok {
		off = interval.Union(off, interval.Clip(leave, window))
	}
	return off
}

func (c *WeeklyCalendar) schedule(resource string) (WeeklySchedule, bool) {
	if s, ok := c.schedules[resource]; ok {
		return s, true
	}
	s, ok := c.schedules[PoolKey]
	return s, ok
}

// workingIntervals expands the weekly schedule over the window. The day
// before the window is included so overnight shifts are not lost.
func (c *WeeklyCalendar) workingIntervals(sched WeeklySchedule, window interval.Interval) interval.Set {
	start := window.Start.In(c.loc)
	day := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, c.loc).AddDate(0, 0, -1)

	var spans []interval.Interval
	for day.Before(window.End) {
		for _, sh := range sched[day.Weekday()] {
			spans = append(spans, interval.New(addClock(day, sh.From), addClock(day, sh.To)))
		}
		day = day.AddDate(0, 0, 1)
	}
	return interval.Clip(interval.Normalize(spans), window)
}

// addClock adds a wall-clock offset to a local midnight, so DST days keep
// their nominal hours.
func addClock(midnight time.Time, d time.Duration) time.Time {
	days := int(d / (24 * time.Hour))
	rest := d - time.Duration(days)*24*time.Hour
	base := midnight.AddDate(0, 0, days)
	h := int(rest / time.Hour)
	m := int((rest % time.Hour) / time.Minute)
	return time.Date(base.Year(), base.Month(), base.Day(), h, m, 0, 0, base.Location())
}

// PooledCalendar looks every resource up under a single key, treating all
// resources as one undifferentiated pool.
type PooledCalendar struct {
	Calendar Calendar
	Key      string
}

// NonWorking implements Calendar.
func (p PooledCalendar) NonWorking(_ string, window interval.Interval) interval.Set {
	key := p.Key
	if key == "" {
		key = PoolKey
	}
	return p.Calendar.NonWorking(key, window)
}

// calendarFile is the YAML layout of a weekly calendar.
//
//	timezone: Europe/Berlin
//	resources:
//	  "*":
//	    weekdays: ["09:00-17:00"]
//	  alice:
//	    monday: ["08:00-12:00", "13:00-17:00"]
//	leave:
//	  alice:
//	    - from: 2024-03-04T00:00:00Z
//	      to: 2024-03-06T00:00:00Z
type calendarFile struct {
	Timezone  string                         `yaml:"timezone"`
	Resources map[string]map[string][]string `yaml:"resources"`
	Leave     map[string][]struct {
		From time.Time `yaml:"from"`
		To   time.Time `yaml:"to"`
	} `yaml:"leave"`
}

// LoadCalendarFile reads a WeeklyCalendar from a YAML file.
func LoadCalendarFile(path string) (*WeeklyCalendar, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, werrors.Wrap(err, werrors.CodeEvidenceLoad, "read calendar").WithContext("path", path)
	}
	cal, err := ParseCalendar(data)
	if err != nil {
		return nil, werrors.Wrap(err, werrors.CodeEvidenceLoad, "parse calendar").WithContext("path", path)
	}
	return cal, nil
}

// ParseCalendar builds a WeeklyCalendar from YAML.
func ParseCalendar(data []byte) (*WeeklyCalendar, error) {
	var f calendarFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, err
	}

	loc := time.UTC
	if f.Timezone != "" {
		l, err := time.LoadLocation(f.Timezone)
		if err != nil {
			return nil, err
		}
		loc = l
	}

	cal := NewWeeklyCalendar(loc)
	for resource, days := range f.Resources {
		sched := make(WeeklySchedule)
		keys := make([]string, 0, len(days))
		for k := range days {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		for _, key := range keys {
			weekdays, err := parseDayKey(key)
			if err != nil {
				return nil, err
			}
			for _, spec := range days[key] {
				sh, err := ParseShift(spec)
				if err != nil {
					return nil, err
				}
				for _, wd := range weekdays {
					sched[wd] = append(sched[wd], sh)
				}
			}
		}
		cal.SetSchedule(resource, sched)
	}

	for resource, periods := range f.Leave {
		for _, p := range periods {
			cal.AddLeave(resource, interval.New(p.From, p.To))
		}
	}
	return cal, nil
}

// ParseShift parses "HH:MM-HH:MM". An end at or before the start wraps to the
// next day.
func ParseShift(spec string) (Shift, error) {
	parts := strings.Split(strings.TrimSpace(spec), "-")
	if len(parts) != 2 {
		return Shift{}, fmt.Errorf("invalid shift %q", spec)
	}
	from, err := parseClock(parts[0])
	if err != nil {
		return Shift{}, fmt.Errorf("invalid shift %q: %w", spec, err)
	}
	to, err := parseClock(parts[1])
	if err != nil {
		return Shift{}, fmt.Errorf("invalid shift %q: %w", spec, err)
	}
	if to <= from {
		to += 24 * time.Hour
	}
	return Shift{From: from, To: to}, nil
}

func parseClock(s string) (time.Duration, error) {
	var h, m int
	if _, err := fmt.Sscanf(strings.TrimSpace(s), "%d:%d", &h, &m); err != nil {
		return 0, err
	}
	if h < 0 || h > 24 || m < 0 || m > 59 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("clock %q out of range", s)
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute, nil
}

var weekdayNames = map[string][]time.Weekday{
	"sunday":    {time.Sunday},
	"monday":    {time.Monday},
	"tuesday":   {time.Tuesday},
	"wednesday": {time.Wednesday},
	"thursday":  {time.Thursday},
	"friday":    {time.Friday},
	"saturday":  {time.Saturday},
	"weekdays":  {time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday},
	"weekend":   {time.Saturday, time.Sunday},
	"everyday":  {time.Sunday, time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday, time.Saturday},
}

func parseDayKey(key string) ([]time.Weekday, error) {
	wd, ok := weekdayNames[strings.ToLower(strings.TrimSpace(key))]
	if !ok {
		return nil, fmt.Errorf("unknown weekday %q", key)
	}
	return wd, nil
}
