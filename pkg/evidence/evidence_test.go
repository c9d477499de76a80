package evidence

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/logflow/waitlens/internal/model"
	"github.com/logflow/waitlens/pkg/interval"
)

func at(day, hour, min int) time.Time {
	return time.Date(2024, 3, day, hour, min, 0, 0, time.UTC)
}

const calendarYAML = `
timezone: UTC
resources:
  "*":
    weekdays: ["09:00-17:00"]
  night:
    monday: ["22:00-06:00"]
leave:
  alice:
    - from: 2024-03-04T00:00:00Z
      to: 2024-03-05T00:00:00Z
`

func TestWeeklyCalendar_NonWorking(t *testing.T) {
	cal, err := ParseCalendar([]byte(calendarYAML))
	if err != nil {
		t.Fatalf("ParseCalendar() error = %v", err)
	}

	tests := []struct {
		name     string
		resource string
		window   interval.Interval
		want     time.Duration
	}{
		{"inside shift", "bob", interval.New(at(1, 10, 0), at(1, 12, 0)), 0},
		{"over weekend", "bob", interval.New(at(1, 16, 0), at(4, 10, 0)), 64 * time.Hour},
		{"overnight shift", "night", interval.New(at(5, 0, 0), at(5, 8, 0)), 2 * time.Hour},
		{"leave inside shift", "alice", interval.New(at(4, 10, 0), at(4, 12, 0)), 2 * time.Hour},
		{"empty window", "bob", interval.New(at(1, 10, 0), at(1, 10, 0)), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := cal.NonWorking(tt.resource, tt.window).Duration()
			if got != tt.want {
				t.Errorf("NonWorking() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWeeklyCalendar_Boundaries(t *testing.T) {
	cal, err := ParseCalendar([]byte(calendarYAML))
	if err != nil {
		t.Fatalf("ParseCalendar() error = %v", err)
	}
	off := cal.NonWorking("bob", interval.New(at(1, 8, 0), at(1, 18, 0)))
	want := interval.Of(
		interval.New(at(1, 8, 0), at(1, 9, 0)),
		interval.New(at(1, 17, 0), at(1, 18, 0)),
	)
	if len(off) != len(want) {
		t.Fatalf("NonWorking() = %v, want %v", off, want)
	}
	for i := range want {
		if !off[i].Start.Equal(want[i].Start) || !off[i].End.Equal(want[i].End) {
			t.Errorf("NonWorking()[%d] = %v, want %v", i, off[i], want[i])
		}
	}
}

func TestPooledCalendar(t *testing.T) {
	cal := NewWeeklyCalendar(time.UTC)
	cal.SetSchedule(PoolKey, WeeklySchedule{time.Friday: {{From: 9 * time.Hour, To: 17 * time.Hour}}})
	cal.SetSchedule("alice", WeeklySchedule{})

	window := interval.New(at(1, 8, 0), at(1, 10, 0))
	if got := cal.NonWorking("alice", window).Duration(); got != 2*time.Hour {
		t.Errorf("alice NonWorking() = %v, want 2h", got)
	}
	pooled := PooledCalendar{Calendar: cal}
	if got := pooled.NonWorking("alice", window).Duration(); got != time.Hour {
		t.Errorf("pooled NonWorking() = %v, want 1h", got)
	}
}

func TestAlwaysAvailable(t *testing.T) {
	if got := (AlwaysAvailable{}).NonWorking("x", interval.New(at(1, 0, 0), at(2, 0, 0))); len(got) != 0 {
		t.Errorf("NonWorking() = %v, want none", got)
	}
}

func TestParseShift(t *testing.T) {
	tests := []struct {
		in      string
		want    Shift
		wantErr bool
	}{
		{"09:00-17:00", Shift{9 * time.Hour, 17 * time.Hour}, false},
		{"22:00-06:00", Shift{22 * time.Hour, 30 * time.Hour}, false},
		{"00:00-24:00", Shift{0, 24 * time.Hour}, false},
		{"9-17", Shift{}, true},
		{"25:00-26:00", Shift{}, true},
		{"09:00", Shift{}, true},
	}
	for _, tt := range tests {
		got, err := ParseShift(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseShift(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseShift(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestParseCalendar_UnknownWeekday(t *testing.T) {
	_, err := ParseCalendar([]byte("resources:\n  bob:\n    funday: [\"09:00-10:00\"]\n"))
	if err == nil {
		t.Error("ParseCalendar() error = nil, want unknown weekday")
	}
}

func TestStaticBatches_CSV(t *testing.T) {
	csv := "batch_id,instance,case,activity,formation_start,formation_end\n" +
		"b1,c1#1,,,2024-03-01T09:00:00Z,2024-03-01T10:00:00Z\n" +
		"b2,,c2,Ship,2024-03-01T11:00:00Z,2024-03-01T12:00:00Z\n" +
		"b3,e1,c4,,2024-03-01T13:00:00Z,2024-03-01T14:00:00Z\n"
	rows, err := ReadBatchCSV(strings.NewReader(csv))
	if err != nil {
		t.Fatalf("ReadBatchCSV() error = %v", err)
	}
	sb, err := NewStaticBatches(rows)
	if err != nil {
		t.Fatalf("NewStaticBatches() error = %v", err)
	}

	instances := []model.ActivityInstance{
		{ID: "c1#1", CaseID: "c1", Activity: "Pack"},
		{ID: "c2#3", CaseID: "c2", Activity: "Ship"},
		{ID: "c3#1", CaseID: "c3", Activity: "Ship"},
		{ID: "c4/e1", CaseID: "c4", Activity: "Pack"},
		{ID: "c5/e1", CaseID: "c5", Activity: "Pack"},
	}
	got := sb.Detect(instances)
	if len(got) != 3 {
		t.Fatalf("Detect() returned %d memberships, want 3", len(got))
	}
	if got["c4/e1"].ID != "b3" {
		t.Errorf("c4/e1 batch = %q, want b3", got["c4/e1"].ID)
	}
	if _, ok := got["c5/e1"]; ok {
		t.Error("record id e1 of c4 must not match c5")
	}
	if got["c1#1"].ID != "b1" {
		t.Errorf("c1#1 batch = %q, want b1", got["c1#1"].ID)
	}
	if b := got["c2#3"]; b.ID != "b2" || b.Formation.Duration() != time.Hour {
		t.Errorf("c2#3 batch = %+v, want b2 with 1h formation", b)
	}
}

func TestLoadBatchFile_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "batches.yaml")
	content := `
- batch_id: b1
  case: c1
  activity: Pack
  formation_start: 2024-03-01T09:00:00Z
  formation_end: 2024-03-01T09:30:00Z
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	sb, err := LoadBatchFile(path)
	if err != nil {
		t.Fatalf("LoadBatchFile() error = %v", err)
	}
	if sb.Len() != 1 {
		t.Errorf("Len() = %d, want 1", sb.Len())
	}
}

func TestNewStaticBatches_RejectsUnkeyedRow(t *testing.T) {
	_, err := NewStaticBatches([]Membership{{BatchID: "b1", CaseID: "c1"}})
	if err == nil {
		t.Error("NewStaticBatches() error = nil, want error")
	}
}

func TestSimultaneousStartDetector(t *testing.T) {
	instances := []model.ActivityInstance{
		{ID: "a", Activity: "Ship", Resource: "r", Enabled: at(1, 9, 0), Start: at(1, 12, 0)},
		{ID: "b", Activity: "Ship", Resource: "r", Enabled: at(1, 10, 0), Start: at(1, 12, 0)},
		{ID: "c", Activity: "Ship", Resource: "r", Enabled: at(1, 11, 0), Start: at(1, 12, 0)},
		{ID: "d", Activity: "Ship", Resource: "s", Enabled: at(1, 11, 0), Start: at(1, 12, 0)},
	}
	got := SimultaneousStartDetector{}.Detect(instances)
	if len(got) != 3 {
		t.Fatalf("Detect() returned %d memberships, want 3", len(got))
	}
	if _, ok := got["d"]; ok {
		t.Error("singleton start must not form a batch")
	}
	b := got["a"]
	if !b.Formation.Start.Equal(at(1, 9, 0)) || !b.Formation.End.Equal(at(1, 11, 0)) {
		t.Errorf("formation = %v, want [09:00, 11:00)", b.Formation)
	}
	if got["b"].ID != b.ID {
		t.Errorf("members in different batches: %q vs %q", got["b"].ID, b.ID)
	}
}

func TestSimultaneousStartDetector_SkipsUnassigned(t *testing.T) {
	instances := []model.ActivityInstance{
		{ID: "a", Activity: "Ship", Enabled: at(1, 9, 0), Start: at(1, 12, 0)},
		{ID: "b", Activity: "Ship", Enabled: at(1, 10, 0), Start: at(1, 12, 0)},
	}
	if got := (SimultaneousStartDetector{}).Detect(instances); len(got) != 0 {
		t.Errorf("Detect() = %v, want no batches for instances without a resource", got)
	}
}
