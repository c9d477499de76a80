package timeline

import (
	"testing"
	"time"

	"github.com/logflow/waitlens/internal/model"
	werrors "github.com/logflow/waitlens/pkg/errors"
)

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func minute(m int) time.Time {
	return t0.Add(time.Duration(m) * time.Minute)
}

func ev(activity, resource string, start, end int) model.Event {
	return model.Event{CaseID: "c1", Activity: activity, Resource: resource, Start: minute(start), End: minute(end)}
}

func byActivity(instances []model.ActivityInstance) map[string]model.ActivityInstance {
	m := make(map[string]model.ActivityInstance)
	for _, inst := range instances {
		m[inst.Activity] = inst
	}
	return m
}

func TestBuild_StrictSequence(t *testing.T) {
	b := NewBuilder(Options{})
	got, err := b.Build(Case{ID: "c1", Events: []model.Event{
		ev("B", "bob", 40, 50),
		ev("A", "ann", 0, 30),
	}}, time.Time{})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	m := byActivity(got)
	if !m["B"].Enabled.Equal(m["A"].End) {
		t.Errorf("enabled(B) = %v, want %v", m["B"].Enabled, m["A"].End)
	}
	if m["B"].EnabledBy != "A" || m["B"].EnabledByResource != "ann" {
		t.Errorf("B enabled by %q/%q, want A/ann", m["B"].EnabledBy, m["B"].EnabledByResource)
	}
	if m["A"].EnabledBy != model.CaseStart || !m["A"].Enabled.Equal(minute(0)) {
		t.Errorf("A = (%q, %v), want case start at arrival", m["A"].EnabledBy, m["A"].Enabled)
	}
	if got[0].ID != "c1#1" || got[1].ID != "c1#2" {
		t.Errorf("ids = %q, %q, want c1#1, c1#2", got[0].ID, got[1].ID)
	}
}

func TestBuild_ConcurrentJoin(t *testing.T) {
	// A, then B and C in parallel, D joins both.
	b := NewBuilder(Options{})
	got, err := b.Build(Case{ID: "c1", Events: []model.Event{
		ev("A", "r1", 0, 10),
		ev("B", "r2", 15, 30),
		ev("C", "r3", 12, 45),
		ev("D", "r1", 60, 70),
	}}, time.Time{})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	m := byActivity(got)
	if !m["D"].Enabled.Equal(minute(45)) || m["D"].EnabledBy != "C" {
		t.Errorf("D = (%v, %q), want (%v, C)", m["D"].Enabled, m["D"].EnabledBy, minute(45))
	}
	if len(m["D"].Predecessors) != 2 {
		t.Errorf("D predecessors = %v, want B and C", m["D"].Predecessors)
	}
	if !m["B"].Enabled.Equal(minute(10)) || !m["C"].Enabled.Equal(minute(10)) {
		t.Errorf("B, C enabled = %v, %v, want both %v", m["B"].Enabled, m["C"].Enabled, minute(10))
	}
}

func TestBuild_Model(t *testing.T) {
	b := NewBuilder(Options{Model: PrecedenceModel{
		"A": {},
		"B": {"A"},
		"C": {"A"},
	}})
	got, err := b.Build(Case{ID: "c1", Events: []model.Event{
		ev("A", "r1", 0, 10),
		ev("B", "r2", 20, 30),
		ev("C", "r3", 40, 50),
	}}, time.Time{})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	m := byActivity(got)
	// C only depends on A, so B finishing later does not delay its enabling.
	if !m["C"].Enabled.Equal(minute(10)) || m["C"].EnabledBy != "A" {
		t.Errorf("C = (%v, %q), want (%v, A)", m["C"].Enabled, m["C"].EnabledBy, minute(10))
	}
}

func TestBuild_ModelMissingPredecessor(t *testing.T) {
	b := NewBuilder(Options{Model: PrecedenceModel{"B": {"A"}}})
	_, err := b.Build(Case{ID: "c1", Events: []model.Event{ev("B", "r", 0, 10)}}, time.Time{})
	if !werrors.IsCode(err, werrors.CodeIncompleteTrace) {
		t.Errorf("Build() error = %v, want %s", err, werrors.CodeIncompleteTrace)
	}
}

func TestBuild_ExplicitReferences(t *testing.T) {
	a := ev("A", "r", 0, 10)
	a.ID = "a"
	bEv := ev("B", "r", 20, 30)
	bEv.ID = "b"
	bEv.Predecessors = []string{"a"}
	missing := ev("C", "r", 40, 50)
	missing.ID = "c"
	missing.Predecessors = []string{"zzz"}

	b := NewBuilder(Options{})
	got, err := b.Build(Case{ID: "c1", Events: []model.Event{a, bEv}}, time.Time{})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if got[0].ID != "c1/a" || got[1].ID != "c1/b" {
		t.Errorf("IDs = %s, %s, want c1/a, c1/b", got[0].ID, got[1].ID)
	}
	if got[1].Predecessors[0] != "c1/a" {
		t.Errorf("B predecessors = %v, want [c1/a]", got[1].Predecessors)
	}

	_, err = b.Build(Case{ID: "c1", Events: []model.Event{a, missing}}, time.Time{})
	if !werrors.IsCode(err, werrors.CodeIncompleteTrace) {
		t.Errorf("Build() error = %v, want %s", err, werrors.CodeIncompleteTrace)
	}
}

func TestBuild_RejectsBadRecords(t *testing.T) {
	a := ev("A", "r", 0, 10)
	a.ID = "x"
	dup := ev("B", "r", 20, 30)
	dup.ID = "x"

	tests := []struct {
		name   string
		events []model.Event
		code   werrors.Code
	}{
		{"duplicate id", []model.Event{a, dup}, werrors.CodeDuplicateEvent},
		{"ends before start", []model.Event{ev("A", "r", 0, 10), ev("B", "r", 30, 20)}, werrors.CodeInvertedEvent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewBuilder(Options{}).Build(Case{ID: "c1", Events: tt.events}, time.Time{})
			if !werrors.IsCode(err, tt.code) {
				t.Errorf("Build() error = %v, want %s", err, tt.code)
			}
		})
	}
}

func TestBuild_Cycle(t *testing.T) {
	a := ev("A", "r", 0, 10)
	a.ID = "a"
	a.Predecessors = []string{"b"}
	bEv := ev("B", "r", 20, 30)
	bEv.ID = "b"
	bEv.Predecessors = []string{"a"}

	_, err := NewBuilder(Options{}).Build(Case{ID: "c1", Events: []model.Event{a, bEv}}, time.Time{})
	if !werrors.IsCode(err, werrors.CodeCyclicPrecedence) {
		t.Errorf("Build() error = %v, want %s", err, werrors.CodeCyclicPrecedence)
	}
}

func TestBuild_Arrival(t *testing.T) {
	first := ev("A", "r", 30, 40)
	first.Attributes = model.Attributes{"arrived": model.Temporal(minute(5))}

	tests := []struct {
		name    string
		opts    Options
		arrival time.Time
		want    time.Time
	}{
		{"first start", Options{}, time.Time{}, minute(30)},
		{"attribute", Options{ArrivalAttribute: "arrived"}, time.Time{}, minute(5)},
		{"explicit", Options{ArrivalAttribute: "arrived"}, minute(1), minute(1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewBuilder(tt.opts).Build(Case{ID: "c1", Events: []model.Event{first}}, tt.arrival)
			if err != nil {
				t.Fatalf("Build() error = %v", err)
			}
			if !got[0].Enabled.Equal(tt.want) {
				t.Errorf("Enabled = %v, want %v", got[0].Enabled, tt.want)
			}
		})
	}
}

func TestGroupCases(t *testing.T) {
	log := &model.Log{Events: []model.Event{
		{CaseID: "b"}, {CaseID: "a"}, {CaseID: "b"},
	}}
	cases := GroupCases(log)
	if len(cases) != 2 || cases[0].ID != "b" || len(cases[0].Events) != 2 {
		t.Errorf("GroupCases() = %+v, want b(2), a(1)", cases)
	}
}
