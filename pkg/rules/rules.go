// Package rules implements conjunctive classification rules over typed
// attribute bags and a seeded sequential-covering learner that mines them.
package rules

import (
	"fmt"
	"strings"

	"github.com/logflow/waitlens/internal/model"
)

// Op is a comparison operator.
type Op string

const (
	OpEq Op = "="
	OpLE Op = "<="
	OpGT Op = ">"
)

// Condition tests one attribute.
type Condition struct {
	Attribute string      `json:"attribute"`
	Op        Op          `json:"op"`
	Value     model.Value `json:"value"`
}

// Match evaluates the condition. A missing attribute never matches.
func (c Condition) Match(features model.Attributes) bool {
	v, ok := features[c.Attribute]
	if !ok {
		return false
	}
	switch c.Op {
	case OpEq:
		return v.Equal(c.Value)
	case OpLE, OpGT:
		if v.Type != c.Value.Type {
			return false
		}
		x, ok1 := v.Ordinal()
		y, ok2 := c.Value.Ordinal()
		if !ok1 || !ok2 {
			return false
		}
		if c.Op == OpLE {
			return x <= y
		}
		return x > y
	}
	return false
}

func (c Condition) String() string {
	return fmt.Sprintf("%s %s %s", c.Attribute, c.Op, c.Value)
}

// Rule is a conjunction of conditions predicting the positive class.
type Rule struct {
	Conditions []Condition `json:"conditions"`

	// Positives and Negatives count the training examples the rule covers.
	Positives int `json:"positives"`
	Negatives int `json:"negatives"`
}

// Match reports whether every condition holds.
func (r Rule) Match(features model.Attributes) bool {
	for _, c := range r.Conditions {
		if !c.Match(features) {
			return false
		}
	}
	return true
}

// Coverage returns the number of training examples the rule covers.
func (r Rule) Coverage() int {
	return r.Positives + r.Negatives
}

// Precision returns the share of covered examples that are positive.
func (r Rule) Precision() float64 {
	if r.Coverage() == 0 {
		return 0
	}
	return float64(r.Positives) / float64(r.Coverage())
}

func (r Rule) String() string {
	parts := make([]string, len(r.Conditions))
	for i, c := range r.Conditions {
		parts[i] = c.String()
	}
	return strings.Join(parts, " AND ")
}

// RuleSet is an ordered decision list closed by a default label.
type RuleSet struct {
	Rules   []Rule `json:"rules"`
	Default bool   `json:"default"`

	Examples  int `json:"examples"`
	Positives int `json:"positives"`
}

// Classify returns the label of the first matching rule, or the default.
// The index is -1 when the default rule decided.
func (rs RuleSet) Classify(features model.Attributes) (bool, int) {
	for i, r := range rs.Rules {
		if r.Match(features) {
			return true, i
		}
	}
	return rs.Default, -1
}

// Empty reports a rule set without any mined rule.
func (rs RuleSet) Empty() bool {
	return len(rs.Rules) == 0
}

// Example is one labeled training instance.
type Example struct {
	Features model.Attributes
	Label    bool
}

// Learner fits a rule set to labeled examples. Implementations must be
// deterministic for a given configuration.
type Learner interface {
	Fit(examples []Example) RuleSet
	// Accepts reports whether the learner can build conditions on the type.
	Accepts(t model.AttrType) bool
}
