package rules

import (
	"math"
	"math/rand"
	"sort"
	"strings"

	"github.com/logflow/waitlens/internal/model"
)

// PreferredPrefix marks attributes favored when candidate conditions tie.
const PreferredPrefix = "self."

// MinPruneExamples is the smallest training set split into grow and prune
// parts. Smaller sets grow and prune on the same examples.
const MinPruneExamples = 20

// SequentialCovering is a separate-and-conquer learner in the style of IREP:
// each rule is grown greedily by FOIL gain, pruned on a held-out split and
// accepted only above MinPrecision. The positive class is the minority one
// it explains; everything left over falls to a negative default.
type SequentialCovering struct {
	Seed          int64
	MaxRules      int
	MaxConditions int
	MinPrecision  float64
	PruneFraction float64
}

// NewSequentialCovering returns a learner with the default limits.
func NewSequentialCovering(seed int64) *SequentialCovering {
	return &SequentialCovering{
		Seed:          seed,
		MaxRules:      8,
		MaxConditions: 3,
		MinPrecision:  0.6,
		PruneFraction: 0.33,
	}
}

// Accepts implements Learner.
func (l *SequentialCovering) Accepts(model.AttrType) bool {
	return true
}

// Fit implements Learner.
func (l *SequentialCovering) Fit(examples []Example) RuleSet {
	rs := RuleSet{Examples: len(examples)}
	for _, ex := range examples {
		if ex.Label {
			rs.Positives++
		}
	}

	rng := rand.New(rand.NewSource(l.Seed))
	remaining := examples
	for len(rs.Rules) < l.maxRules() && countPositive(remaining) > 0 {
		grow, prune := l.split(remaining, rng)
		rule, ok := l.grow(grow)
		if !ok {
			break
		}
		rule = l.prune(rule, prune)

		p, n := coverage(rule, remaining)
		if p == 0 || float64(p)/float64(p+n) < l.MinPrecision {
			break
		}

		rule.Positives, rule.Negatives = coverage(rule, examples)
		rs.Rules = append(rs.Rules, rule)
		remaining = uncovered(rule, remaining)
	}

	// Default: majority of what no rule explains, ties negative.
	rs.Default = countPositive(remaining)*2 > len(remaining)
	return rs
}

func (l *SequentialCovering) maxRules() int {
	if l.MaxRules <= 0 {
		return 8
	}
	return l.MaxRules
}

func (l *SequentialCovering) maxConditions() int {
	if l.MaxConditions <= 0 {
		return 3
	}
	return l.MaxConditions
}

// split shuffles the examples and holds out PruneFraction of them.
func (l *SequentialCovering) split(examples []Example, rng *rand.Rand) (grow, prune []Example) {
	if len(examples) < MinPruneExamples || l.PruneFraction <= 0 || l.PruneFraction >= 1 {
		return examples, examples
	}
	perm := rng.Perm(len(examples))
	cut := len(examples) - int(math.Round(float64(len(examples))*l.PruneFraction))
	grow = make([]Example, 0, cut)
	prune = make([]Example, 0, len(examples)-cut)
	for i, j := range perm {
		if i < cut {
			grow = append(grow, examples[j])
		} else {
			prune = append(prune, examples[j])
		}
	}
	if countPositive(grow) == 0 {
		return examples, examples
	}
	return grow, prune
}

type candidate struct {
	cond Condition
	key  string
	gain float64
	p, n int
}

// grow adds conditions until the rule covers no negatives or no condition
// has positive gain. The first condition is always taken so that a rule
// never degenerates to "true".
func (l *SequentialCovering) grow(examples []Example) (Rule, bool) {
	var rule Rule
	cover := examples
	for len(rule.Conditions) < l.maxConditions() {
		p0, n0 := countLabels(cover)
		if n0 == 0 && len(rule.Conditions) > 0 {
			break
		}

		best, ok := l.bestCondition(cover, rule, p0, n0)
		if !ok {
			break
		}
		if best.gain <= 0 && len(rule.Conditions) > 0 {
			break
		}
		rule.Conditions = append(rule.Conditions, best.cond)
		cover = covered(Rule{Conditions: []Condition{best.cond}}, cover)
	}
	return rule, len(rule.Conditions) > 0
}

func (l *SequentialCovering) bestCondition(cover []Example, rule Rule, p0, n0 int) (candidate, bool) {
	used := make(map[string]bool, len(rule.Conditions))
	for _, c := range rule.Conditions {
		used[c.String()] = true
	}

	var best candidate
	found := false
	for _, cond := range l.candidates(cover) {
		key := cond.String()
		if used[key] {
			continue
		}
		p, n := countLabels(covered(Rule{Conditions: []Condition{cond}}, cover))
		if p == 0 {
			continue
		}
		c := candidate{cond: cond, key: key, gain: foilGain(p0, n0, p, n), p: p, n: n}
		if !found || better(c, best) {
			best, found = c, true
		}
	}
	return best, found
}

// better orders candidates by gain, positives covered, then prefers
// PreferredPrefix attributes and finally the lexical order of the condition.
func better(a, b candidate) bool {
	const eps = 1e-12
	if math.Abs(a.gain-b.gain) > eps {
		return a.gain > b.gain
	}
	if a.p != b.p {
		return a.p > b.p
	}
	ap := strings.HasPrefix(a.cond.Attribute, PreferredPrefix)
	bp := strings.HasPrefix(b.cond.Attribute, PreferredPrefix)
	if ap != bp {
		return ap
	}
	return a.key < b.key
}

func foilGain(p0, n0, p1, n1 int) float64 {
	before := math.Log2(float64(p0) / float64(p0+n0))
	after := math.Log2(float64(p1) / float64(p1+n1))
	return float64(p1) * (after - before)
}

// candidates proposes equality tests for categorical values seen on positive
// examples and threshold tests for every ordered value.
func (l *SequentialCovering) candidates(examples []Example) []Condition {
	seen := make(map[string]bool)
	var out []Condition
	add := func(c Condition) {
		key := c.String()
		if !seen[key] {
			seen[key] = true
			out = append(out, c)
		}
	}

	for _, ex := range examples {
		for _, attr := range ex.Features.Keys() {
			v := ex.Features[attr]
			if !l.Accepts(v.Type) {
				continue
			}
			if v.Type == model.AttrTypeCategorical {
				if ex.Label {
					add(Condition{Attribute: attr, Op: OpEq, Value: v})
				}
				continue
			}
			add(Condition{Attribute: attr, Op: OpLE, Value: v})
			add(Condition{Attribute: attr, Op: OpGT, Value: v})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// prune drops trailing conditions while the (p-n)/(p+n) score on the prune
// set does not get worse.
func (l *SequentialCovering) prune(rule Rule, examples []Example) Rule {
	if len(rule.Conditions) <= 1 {
		return rule
	}
	score := func(k int) (float64, bool) {
		p, n := coverage(Rule{Conditions: rule.Conditions[:k]}, examples)
		if p+n == 0 {
			return 0, false
		}
		return float64(p-n) / float64(p+n), true
	}

	bestK := len(rule.Conditions)
	bestScore, ok := score(bestK)
	if !ok {
		return rule
	}
	for k := len(rule.Conditions) - 1; k >= 1; k-- {
		s, ok := score(k)
		if ok && s >= bestScore {
			bestK, bestScore = k, s
		}
	}
	rule.Conditions = rule.Conditions[:bestK]
	return rule
}

func coverage(rule Rule, examples []Example) (p, n int) {
	for _, ex := range examples {
		if rule.Match(ex.Features) {
			if ex.Label {
				p++
			} else {
				n++
			}
		}
	}
	return p, n
}

func covered(rule Rule, examples []Example) []Example {
	var out []Example
	for _, ex := range examples {
		if rule.Match(ex.Features) {
			out = append(out, ex)
		}
	}
	return out
}

func uncovered(rule Rule, examples []Example) []Example {
	var out []Example
	for _, ex := range examples {
		if !rule.Match(ex.Features) {
			out = append(out, ex)
		}
	}
	return out
}

func countLabels(examples []Example) (p, n int) {
	for _, ex := range examples {
		if ex.Label {
			p++
		} else {
			n++
		}
	}
	return p, n
}

func countPositive(examples []Example) int {
	p, _ := countLabels(examples)
	return p
}
