package condition

import (
	"fmt"
	"strings"
)

// Evaluate reports whether the snapshot satisfies the tree. A leaf whose metric
// is absent from the snapshot is false. An empty AND group is true and an empty
// OR group is false.
func Evaluate(node Node, snapshot map[string]float64) bool {
	switch n := node.(type) {
	case Leaf:
		return evaluateLeaf(n, snapshot)
	case *Leaf:
		if n == nil {
			return false
		}
		return evaluateLeaf(*n, snapshot)
	case Group:
		return evaluateGroup(n, snapshot)
	case *Group:
		if n == nil {
			return false
		}
		return evaluateGroup(*n, snapshot)
	default:
		return false
	}
}

func evaluateLeaf(leaf Leaf, snapshot map[string]float64) bool {
	value, ok := snapshot[leaf.MetricKey]
	if !ok {
		return false
	}
	switch leaf.Operator {
	case OpGreater:
		return value > leaf.Threshold
	case OpLess:
		return value < leaf.Threshold
	case OpGreaterEqual:
		return value >= leaf.Threshold
	case OpLessEqual:
		return value <= leaf.Threshold
	case OpEqual:
		return value == leaf.Threshold
	case OpNotEqual:
		return value != leaf.Threshold
	default:
		return false
	}
}

func evaluateGroup(group Group, snapshot map[string]float64) bool {
	switch group.Combinator {
	case And:
		for _, child := range group.Children {
			if !Evaluate(child, snapshot) {
				return false
			}
		}
		return true
	case Or:
		for _, child := range group.Children {
			if Evaluate(child, snapshot) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// Lint reports shapes that are valid but probably not what the author meant.
func Lint(node Node) []string {
	var findings []string
	lint(node, "$", &findings)
	return findings
}

func lint(node Node, path string, findings *[]string) {
	var group Group
	switch n := node.(type) {
	case Group:
		group = n
	case *Group:
		if n == nil {
			return
		}
		group = *n
	default:
		return
	}
	if len(group.Children) == 0 {
		switch group.Combinator {
		case And:
			*findings = append(*findings, fmt.Sprintf("%s: empty AND group always matches", path))
		case Or:
			*findings = append(*findings, fmt.Sprintf("%s: empty OR group never matches", path))
		}
		return
	}
	for i, child := range group.Children {
		lint(child, fmt.Sprintf("%s.%s[%d]", path, strings.ToLower(string(group.Combinator)), i), findings)
	}
}
