// Package timeline reconstructs, per case, the precedence graph of activity
// instances and derives each instance's enabled time from it.
package timeline

import (
	"fmt"
	"sort"
	"time"

	"github.com/logflow/waitlens/internal/model"
	werrors "github.com/logflow/waitlens/pkg/errors"
)

// PrecedenceModel maps an activity to the activities that must finish before
// it can start. An activity mapped to an empty list starts its case. An
// activity missing from the model falls back to log ordering.
type PrecedenceModel map[string][]string

// Options configures a Builder.
type Options struct {
	Model PrecedenceModel

	// ArrivalAttribute names a temporal attribute carrying the case arrival
	// time. The first instance's start is used when it is absent.
	ArrivalAttribute string
}

// Case is the slice of a log belonging to one case.
type Case struct {
	ID     string
	Events []model.Event
}

// GroupCases splits a log into cases, in first-seen order.
func GroupCases(log *model.Log) []Case {
	index := make(map[string]int)
	var cases []Case
	for _, ev := range log.Events {
		i, ok := index[ev.CaseID]
		if !ok {
			i = len(cases)
			index[ev.CaseID] = i
			cases = append(cases, Case{ID: ev.CaseID})
		}
		cases[i].Events = append(cases[i].Events, ev)
	}
	return cases
}

// Builder annotates instances with enabled times. It holds no mutable state
// and is safe for concurrent use.
type Builder struct {
	opts Options
}

// NewBuilder creates a Builder.
func NewBuilder(opts Options) *Builder {
	return &Builder{opts: opts}
}

// graph is a case's precedence DAG over instance positions.
type graph struct {
	preds [][]int
	succs [][]int
}

// Build derives the case's activity instances. arrival overrides the case
// arrival time when non-zero. Every event must carry a start timestamp.
// Instance IDs are qualified with the case ID; explicit predecessor
// references name record IDs within the same case.
func (b *Builder) Build(c Case, arrival time.Time) ([]model.ActivityInstance, error) {
	if len(c.Events) == 0 {
		return nil, nil
	}

	instances, refs, err := newInstances(c)
	if err != nil {
		return nil, err
	}
	g, err := b.link(c.ID, instances, refs)
	if err != nil {
		return nil, err
	}
	order, err := topoSort(g)
	if err != nil {
		return nil, werrors.CyclicPrecedence(c.ID, len(order), len(instances))
	}

	if arrival.IsZero() {
		arrival = b.arrival(instances)
	}

	// Forward pass: enabled = max end of immediate predecessors
	for _, i := range order {
		inst := &instances[i]
		inst.Enabled = arrival
		inst.EnabledBy = model.CaseStart
		inst.EnabledByResource = ""

		latest := -1
		for _, p := range g.preds[i] {
			if latest < 0 || !instances[p].End.Before(instances[latest].End) {
				latest = p
			}
		}
		if latest >= 0 {
			inst.Enabled = instances[latest].End
			inst.EnabledBy = instances[latest].Activity
			inst.EnabledByResource = instances[latest].Resource
		}

		inst.Predecessors = make([]string, 0, len(g.preds[i]))
		for _, p := range g.preds[i] {
			inst.Predecessors = append(inst.Predecessors, instances[p].ID)
		}
	}
	return instances, nil
}

// newInstances orders the case's events by (start, end, activity) and assigns
// instance IDs. refs holds each instance's record ID as it appears in the
// log, empty when the log carried none.
func newInstances(c Case) ([]model.ActivityInstance, []string, error) {
	events := make([]model.Event, len(c.Events))
	copy(events, c.Events)
	sort.SliceStable(events, func(a, b int) bool {
		ea, eb := &events[a], &events[b]
		if !ea.Start.Equal(eb.Start) {
			return ea.Start.Before(eb.Start)
		}
		if !ea.End.Equal(eb.End) {
			return ea.End.Before(eb.End)
		}
		return ea.Activity < eb.Activity
	})

	instances := make([]model.ActivityInstance, len(events))
	refs := make([]string, len(events))
	for i, ev := range events {
		if ev.End.Before(ev.Start) {
			return nil, nil, werrors.InvertedEvent(c.ID, ev.Activity, ev.Start, ev.End)
		}
		id := fmt.Sprintf("%s#%d", c.ID, i+1)
		if ev.ID != "" {
			id = model.InstanceID(c.ID, ev.ID)
		}
		refs[i] = ev.ID
		instances[i] = model.ActivityInstance{
			ID:         id,
			CaseID:     c.ID,
			Activity:   ev.Activity,
			Resource:   ev.Resource,
			Start:      ev.Start,
			End:        ev.End,
			Attributes: ev.Attributes,
		}
		// Stash explicit references until link resolves them.
		instances[i].Predecessors = ev.Predecessors
	}
	return instances, refs, nil
}

// link resolves immediate predecessors. Explicit references win over the
// precedence model, which wins over log ordering.
func (b *Builder) link(caseID string, instances []model.ActivityInstance, refs []string) (*graph, error) {
	n := len(instances)
	g := &graph{preds: make([][]int, n), succs: make([][]int, n)}

	byID := make(map[string]int, n)
	for i, ref := range refs {
		if ref == "" {
			continue
		}
		if _, dup := byID[ref]; dup {
			return nil, werrors.DuplicateEvent(caseID, ref)
		}
		byID[ref] = i
	}

	for i := range instances {
		inst := &instances[i]
		var preds []int
		var err error

		switch required, modelled := b.opts.Model[inst.Activity]; {
		case len(inst.Predecessors) > 0:
			preds, err = explicitPredecessors(caseID, inst, byID)
		case modelled:
			preds, err = modelPredecessors(caseID, instances, i, required)
		default:
			preds = orderedPredecessors(instances, i)
		}
		if err != nil {
			return nil, err
		}

		for _, p := range preds {
			g.preds[i] = append(g.preds[i], p)
			g.succs[p] = append(g.succs[p], i)
		}
	}
	return g, nil
}

func explicitPredecessors(caseID string, inst *model.ActivityInstance, byID map[string]int) ([]int, error) {
	preds := make([]int, 0, len(inst.Predecessors))
	for _, ref := range inst.Predecessors {
		p, ok := byID[ref]
		if !ok {
			return nil, werrors.IncompleteTrace(caseID, inst.Activity, ref)
		}
		preds = append(preds, p)
	}
	return preds, nil
}

// modelPredecessors picks, for each required activity, its latest instance
// that started before instance i.
func modelPredecessors(caseID string, instances []model.ActivityInstance, i int, required []string) ([]int, error) {
	preds := make([]int, 0, len(required))
	for _, label := range required {
		found := -1
		for j := i - 1; j >= 0; j-- {
			if instances[j].Activity == label {
				found = j
				break
			}
		}
		if found < 0 {
			return nil, werrors.IncompleteTrace(caseID, instances[i].Activity, label)
		}
		preds = append(preds, found)
	}
	return preds, nil
}

// orderedPredecessors derives precedence from timestamps: instances that
// finished before i started, excluding those that finished before another
// such instance started.
func orderedPredecessors(instances []model.ActivityInstance, i int) []int {
	start := instances[i].Start
	var done []int
	for j := 0; j < i; j++ {
		if !instances[j].End.After(start) {
			done = append(done, j)
		}
	}

	var preds []int
	for _, j := range done {
		immediate := true
		for _, k := range done {
			if k > j && !instances[j].End.After(instances[k].Start) {
				immediate = false
				break
			}
		}
		if immediate {
			preds = append(preds, j)
		}
	}
	return preds
}

func (b *Builder) arrival(instances []model.ActivityInstance) time.Time {
	if attr := b.opts.ArrivalAttribute; attr != "" {
		for i := range instances {
			if v, ok := instances[i].Attributes[attr]; ok && v.Type == model.AttrTypeTemporal {
				return v.Time
			}
		}
	}
	return instances[0].Start
}

// topoSort performs Kahn's algorithm, always releasing the lowest position
// first. On a cycle it returns the partial order and an error.
func topoSort(g *graph) ([]int, error) {
	n := len(g.preds)
	inDegree := make([]int, n)
	var queue []int
	for i := 0; i < n; i++ {
		inDegree[i] = len(g.preds[i])
		if inDegree[i] == 0 {
			queue = append(queue, i)
		}
	}

	order := make([]int, 0, n)
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		order = append(order, node)

		var ready []int
		for _, succ := range g.succs[node] {
			inDegree[succ]--
			if inDegree[succ] == 0 {
				ready = append(ready, succ)
			}
		}
		sort.Ints(ready)
		queue = append(queue, ready...)
	}

	if len(order) != n {
		return order, fmt.Errorf("precedence graph has a cycle (%d of %d instances sorted)", len(order), n)
	}
	return order, nil
}
