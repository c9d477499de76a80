package attribution

import (
	"sort"

	"github.com/logflow/waitlens/internal/model"
	werrors "github.com/logflow/waitlens/pkg/errors"
	"github.com/logflow/waitlens/pkg/index"
	"github.com/logflow/waitlens/pkg/interval"
	"github.com/logflow/waitlens/pkg/rules"
)

// Feature prefixes of a pair example: "self." is the later-enabled instance,
// "other." the one it was compared with.
const (
	SelfPrefix  = rules.PreferredPrefix
	OtherPrefix = "other."
)

// Jump is a contending pair where Jumper, enabled later, was served before
// Waiter.
type Jump struct {
	Waiter uint32
	Jumper uint32
}

// GroupRules is the prioritization evidence mined for one (activity,
// resource) group.
type GroupRules struct {
	Group      index.Group   `json:"group"`
	Rules      rules.RuleSet `json:"rules"`
	Pairs      int           `json:"pairs"`
	Inversions int           `json:"inversions"`
	// Skipped is set when the group had too few inversions to mine.
	Skipped bool `json:"skipped"`

	// Explained lists the jumps matched by a mined rule.
	Explained []Jump `json:"-"`
	// Warning carries an InsufficientEvidence diagnostic.
	Warning error `json:"-"`
}

// Miner extracts contending pairs and fits prioritization rules. A Miner is
// safe for concurrent use across groups when its Learner is.
type Miner struct {
	idx           *index.InstanceIndex
	learner       rules.Learner
	minInversions int
}

// NewMiner creates a Miner. minInversions below 1 means 1.
func NewMiner(idx *index.InstanceIndex, learner rules.Learner, minInversions int) *Miner {
	if minInversions < 1 {
		minInversions = 1
	}
	return &Miner{idx: idx, learner: learner, minInversions: minInversions}
}

type pair struct {
	early, late uint32
	inversion   bool
}

// Mine fits the rules of one group. It runs single-threaded and its output
// depends only on the index and the learner configuration.
func (m *Miner) Mine(g index.Group) GroupRules {
	out := GroupRules{Group: g}

	pairs := m.contendingPairs(m.idx.LookupGroup(g).ToArray())
	out.Pairs = len(pairs)

	examples := make([]rules.Example, len(pairs))
	for i, p := range pairs {
		examples[i] = rules.Example{Features: m.features(p), Label: p.inversion}
		if p.inversion {
			out.Inversions++
		}
	}

	switch {
	case out.Inversions == 0:
		out.Rules = rules.RuleSet{Examples: len(examples)}
		return out
	case out.Inversions < m.minInversions:
		out.Skipped = true
		out.Rules = rules.RuleSet{Examples: len(examples), Positives: out.Inversions}
		out.Warning = werrors.InsufficientEvidence(g.Activity, g.Resource, out.Inversions, m.minInversions)
		return out
	}

	out.Rules = m.learner.Fit(examples)
	for i, p := range pairs {
		if !p.inversion {
			continue
		}
		if ok, rule := out.Rules.Classify(examples[i].Features); ok && rule >= 0 {
			out.Explained = append(out.Explained, Jump{Waiter: p.early, Jumper: p.late})
		}
	}
	return out
}

// contendingPairs returns the pairs whose waiting intervals overlap, ordered
// by enabled time. Pairs enabled at the same instant have no FIFO order and
// are skipped.
func (m *Miner) contendingPairs(positions []uint32) []pair {
	sort.SliceStable(positions, func(a, b int) bool {
		ia, ib := m.idx.Instance(positions[a]), m.idx.Instance(positions[b])
		if !ia.Enabled.Equal(ib.Enabled) {
			return ia.Enabled.Before(ib.Enabled)
		}
		return positions[a] < positions[b]
	})

	var pairs []pair
	for i, pa := range positions {
		a := m.idx.Instance(pa)
		for _, pb := range positions[i+1:] {
			b := m.idx.Instance(pb)
			// b is enabled later; once b is enabled after a started, so is every later one
			if !b.Enabled.Before(a.Start) {
				break
			}
			if !a.Enabled.Before(b.Enabled) || !a.Enabled.Before(b.Start) {
				continue
			}
			pairs = append(pairs, pair{early: pa, late: pb, inversion: b.Start.Before(a.Start)})
		}
	}
	return pairs
}

func (m *Miner) features(p pair) model.Attributes {
	late, early := m.idx.Instance(p.late), m.idx.Instance(p.early)
	f := make(model.Attributes, len(late.Attributes)+len(early.Attributes))
	for k, v := range late.Attributes {
		if m.learner.Accepts(v.Type) {
			f[SelfPrefix+k] = v
		}
	}
	for k, v := range early.Attributes {
		if m.learner.Accepts(v.Type) {
			f[OtherPrefix+k] = v
		}
	}
	return f
}

// Prioritization claims the time a waiting instance spent while a
// rule-explained jumper was being served by the same resource.
type Prioritization struct {
	idx     *index.InstanceIndex
	jumpers map[uint32][]uint32
}

// NewPrioritization collects the explained jumps of all groups.
func NewPrioritization(idx *index.InstanceIndex, groups []GroupRules) *Prioritization {
	p := &Prioritization{idx: idx, jumpers: make(map[uint32][]uint32)}
	for _, g := range groups {
		for _, j := range g.Explained {
			p.jumpers[j.Waiter] = append(p.jumpers[j.Waiter], j.Jumper)
		}
	}
	return p
}

// Cause implements Attributor.
func (p *Prioritization) Cause() Cause { return CausePrioritization }

// Claim implements Attributor.
func (p *Prioritization) Claim(pos uint32, wait interval.Interval) interval.Set {
	jumpers := p.jumpers[pos]
	if len(jumpers) == 0 {
		return nil
	}
	spans := make([]interval.Interval, 0, len(jumpers))
	for _, j := range jumpers {
		inst := p.idx.Instance(j)
		spans = append(spans, interval.New(inst.Start, inst.End))
	}
	return interval.Clip(interval.Normalize(spans), wait)
}
