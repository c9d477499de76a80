// Package index provides bitmap indexes over the activity instances of a run.
package index

import (
	"sort"
	"time"

	"github.com/RoaringBitmap/roaring"

	"github.com/logflow/waitlens/internal/model"
	"github.com/logflow/waitlens/pkg/interval"
)

// Group identifies an (activity, resource) pair.
type Group struct {
	Activity string `json:"activity"`
	Resource string `json:"resource"`
}

// InstanceIndex maps resources and activities to roaring bitmaps of
// instance positions, and keeps a start-ordered timeline per resource for
// overlap queries. It is immutable after Build and safe for concurrent reads.
type InstanceIndex struct {
	instances []model.ActivityInstance

	// byResource maps resource -> bitmap of positions
	byResource map[string]*roaring.Bitmap
	// byActivity maps activity -> bitmap of positions
	byActivity map[string]*roaring.Bitmap

	timelines map[string]*timeline
}

// timeline lists one resource's positions by start time. maxEnd[i] is the
// latest end among pos[:i+1], which bounds the backward scan of Overlapping.
type timeline struct {
	pos    []uint32
	maxEnd []time.Time
}

// Build indexes the given instances. Instances without a resource are
// indexed by activity only.
func Build(instances []model.ActivityInstance) *InstanceIndex {
	idx := &InstanceIndex{
		instances:  instances,
		byResource: make(map[string]*roaring.Bitmap),
		byActivity: make(map[string]*roaring.Bitmap),
		timelines:  make(map[string]*timeline),
	}

	for i := range instances {
		inst := &instances[i]
		pos := uint32(i)
		addTo(idx.byActivity, inst.Activity, pos)
		if inst.Resource != "" {
			addTo(idx.byResource, inst.Resource, pos)
		}
	}

	for resource, bm := range idx.byResource {
		pos := bm.ToArray()
		sort.SliceStable(pos, func(a, b int) bool {
			return instances[pos[a]].Start.Before(instances[pos[b]].Start)
		})
		tl := &timeline{pos: pos, maxEnd: make([]time.Time, len(pos))}
		for i, p := range pos {
			end := instances[p].End
			if i > 0 && tl.maxEnd[i-1].After(end) {
				end = tl.maxEnd[i-1]
			}
			tl.maxEnd[i] = end
		}
		idx.timelines[resource] = tl
	}
	return idx
}

func addTo(m map[string]*roaring.Bitmap, key string, pos uint32) {
	bm, ok := m[key]
	if !ok {
		bm = roaring.New()
		m[key] = bm
	}
	bm.Add(pos)
}

// Len returns the number of indexed instances.
func (idx *InstanceIndex) Len() int {
	return len(idx.instances)
}

// Instances returns the indexed instances by position. Callers must not
// modify them.
func (idx *InstanceIndex) Instances() []model.ActivityInstance {
	return idx.instances
}

// Instance returns the instance at a position.
func (idx *InstanceIndex) Instance(pos uint32) *model.ActivityInstance {
	return &idx.instances[pos]
}

// LookupGroup returns the positions of activity executed by resource.
func (idx *InstanceIndex) LookupGroup(g Group) *roaring.Bitmap {
	a, ok := idx.byActivity[g.Activity]
	if !ok {
		return roaring.New()
	}
	r, ok := idx.byResource[g.Resource]
	if !ok {
		return roaring.New()
	}
	return roaring.And(a, r)
}

// Groups returns every (activity, resource) pair with at least one instance,
// sorted by activity then resource.
func (idx *InstanceIndex) Groups() []Group {
	seen := make(map[Group]bool)
	var groups []Group
	for i := range idx.instances {
		inst := &idx.instances[i]
		if inst.Resource == "" {
			continue
		}
		g := Group{Activity: inst.Activity, Resource: inst.Resource}
		if !seen[g] {
			seen[g] = true
			groups = append(groups, g)
		}
	}
	sort.Slice(groups, func(a, b int) bool {
		if groups[a].Activity != groups[b].Activity {
			return groups[a].Activity < groups[b].Activity
		}
		return groups[a].Resource < groups[b].Resource
	})
	return groups
}

// Overlapping returns, in ascending position order, the instances of
// resource whose [start, end) shares time with window.
func (idx *InstanceIndex) Overlapping(resource string, window interval.Interval) []uint32 {
	tl, ok := idx.timelines[resource]
	if !ok || window.Empty() {
		return nil
	}

	// First position starting at or after the window end.
	k := sort.Search(len(tl.pos), func(i int) bool {
		return !idx.instances[tl.pos[i]].Start.Before(window.End)
	})

	hits := roaring.New()
	for i := k - 1; i >= 0 && tl.maxEnd[i].After(window.Start); i-- {
		inst := &idx.instances[tl.pos[i]]
		if interval.New(inst.Start, inst.End).Overlaps(window) {
			hits.Add(tl.pos[i])
		}
	}
	return hits.ToArray()
}

// Busy returns the union of the busy intervals of resource inside window,
// skipping the instance at position exclude.
func (idx *InstanceIndex) Busy(resource string, window interval.Interval, exclude uint32) interval.Set {
	var spans []interval.Interval
	for _, p := range idx.Overlapping(resource, window) {
		if p == exclude {
			continue
		}
		inst := &idx.instances[p]
		spans = append(spans, interval.New(inst.Start, inst.End))
	}
	return interval.Clip(interval.Normalize(spans), window)
}
