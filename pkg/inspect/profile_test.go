package inspect

import (
	"testing"
	"time"

	"github.com/logflow/waitlens/internal/model"
)

var t0 = time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

func ev(caseID, activity, resource string, start, end int) model.Event {
	e := model.Event{CaseID: caseID, Activity: activity, Resource: resource, End: t0.Add(time.Duration(end) * time.Minute)}
	if start >= 0 {
		e.Start = t0.Add(time.Duration(start) * time.Minute)
	}
	return e
}

func TestProfile(t *testing.T) {
	log := &model.Log{Events: []model.Event{
		ev("c1", "Register", "ann", 0, 10),
		ev("c1", "Approve", "bob", 20, 30),
		ev("c1", "Approve", "bob", 20, 30), // duplicate
		ev("c2", "Register", "", -1, 15),   // no start, no resource
		ev("c2", "Approve", "bob", 50, 40), // inverted
		ev("c3", "Register", "ann", 60, 60),
	}}

	r := Profile(log)

	if r.Events != 6 {
		t.Errorf("Events = %d, want 6", r.Events)
	}
	if r.Cases != 3 {
		t.Errorf("Cases = %d, want 3", r.Cases)
	}
	if r.Activities != 2 {
		t.Errorf("Activities = %d, want 2", r.Activities)
	}
	if r.Resources != 2 {
		t.Errorf("Resources = %d, want 2", r.Resources)
	}
	if r.Span != 50*time.Minute {
		t.Errorf("Span = %v, want 50m", r.Span)
	}

	c := r.Completeness
	if c.MissingStarts != 1 || c.MissingResources != 1 || c.Inverted != 1 || c.Instant != 1 || c.Duplicates != 1 {
		t.Errorf("Completeness = %+v", c)
	}

	d := r.Distribution
	if d.MinEventsPerCase != 1 || d.MaxEventsPerCase != 3 || d.MedianEventsPerCase != 2 {
		t.Errorf("Distribution = %+v", d)
	}
	if d.TopActivities[0].Name != "Approve" || d.TopActivities[0].Count != 3 {
		t.Errorf("TopActivities[0] = %+v, want Approve x3", d.TopActivities[0])
	}
	if d.TopResources[0].Name != "bob" {
		t.Errorf("TopResources[0] = %+v, want bob", d.TopResources[0])
	}

	if len(r.Issues) != 4 {
		t.Errorf("len(Issues) = %d, want 4: %+v", len(r.Issues), r.Issues)
	}
	if r.Issues[0].Severity != "error" {
		t.Errorf("Issues[0].Severity = %q, want error", r.Issues[0].Severity)
	}
	// c3 is a single-event case: 1 of 3 cases exceeds 30%.
	if len(r.Warnings) != 1 {
		t.Errorf("Warnings = %v, want 1", r.Warnings)
	}
}

func TestProfile_DuplicateIDs(t *testing.T) {
	withID := func(e model.Event, id string) model.Event {
		e.ID = id
		return e
	}
	log := &model.Log{Events: []model.Event{
		withID(ev("c1", "Register", "ann", 0, 10), "e1"),
		withID(ev("c1", "Approve", "bob", 20, 30), "e1"),
		withID(ev("c2", "Register", "ann", 0, 10), "e1"), // reuse across cases is fine
	}}
	r := Profile(log)
	if r.Completeness.DuplicateIDs != 1 {
		t.Errorf("DuplicateIDs = %d, want 1", r.Completeness.DuplicateIDs)
	}
	if len(r.Issues) != 1 || r.Issues[0].Severity != "error" || r.Issues[0].AffectedRows != 1 {
		t.Errorf("Issues = %+v, want one error for the repeated id", r.Issues)
	}
}

func TestProfile_Empty(t *testing.T) {
	r := Profile(&model.Log{})
	if r.Events != 0 || r.Cases != 0 || r.Span != 0 {
		t.Errorf("Profile(empty) = %+v", r)
	}
	if len(r.Issues) != 0 || len(r.Warnings) != 0 {
		t.Errorf("Profile(empty) issues = %v, warnings = %v", r.Issues, r.Warnings)
	}
}

func TestStartCoverage(t *testing.T) {
	c := Completeness{MissingStarts: 1}
	if got := c.StartCoverage(4); got != 75 {
		t.Errorf("StartCoverage = %v, want 75", got)
	}
	if got := c.StartCoverage(0); got != 0 {
		t.Errorf("StartCoverage(0) = %v, want 0", got)
	}
}
