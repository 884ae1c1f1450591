package condition

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// MaxDepth bounds the nesting accepted by Decode.
const MaxDepth = 32

// ErrInvalidTree indicates a condition tree that cannot be decoded.
var ErrInvalidTree = errors.New("condition: invalid tree")

var (
	leafMetricKeys  = []string{"metric_key", "metric", "parameter"}
	groupCombinKeys = []string{"combinator", "logic"}
	groupChildKeys  = []string{"children", "conditions"}
)

// Decode parses a JSON condition tree.
//
// Leaves look like {"metric": "voltage", "operator": ">", "threshold": 240}; "metric_key"
// and "parameter" are accepted for the metric name. Groups look like
// {"combinator": "AND", "children": [...]}; "logic" and "conditions" are accepted aliases.
func Decode(data []byte) (Node, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%w: empty document", ErrInvalidTree)
	}
	return decodeNode(data, 1)
}

func decodeNode(data json.RawMessage, depth int) (Node, error) {
	if depth > MaxDepth {
		return nil, fmt.Errorf("%w: deeper than %d levels", ErrInvalidTree, MaxDepth)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTree, err)
	}
	if fields == nil {
		return nil, fmt.Errorf("%w: node must be an object", ErrInvalidTree)
	}

	_, isLeaf := firstOf(fields, leafMetricKeys)
	_, hasCombinator := firstOf(fields, groupCombinKeys)
	_, hasChildren := firstOf(fields, groupChildKeys)
	isGroup := hasCombinator || hasChildren

	switch {
	case isLeaf && isGroup:
		return nil, fmt.Errorf("%w: node is both leaf and group", ErrInvalidTree)
	case isLeaf:
		return decodeLeaf(fields)
	case isGroup:
		return decodeGroup(fields, depth)
	default:
		return nil, fmt.Errorf("%w: unrecognized node shape", ErrInvalidTree)
	}
}

func decodeLeaf(fields map[string]json.RawMessage) (Node, error) {
	var leaf Leaf
	raw, _ := firstOf(fields, leafMetricKeys)
	if err := json.Unmarshal(raw, &leaf.MetricKey); err != nil || strings.TrimSpace(leaf.MetricKey) == "" {
		return nil, fmt.Errorf("%w: leaf metric must be a non-empty string", ErrInvalidTree)
	}

	var op string
	if err := json.Unmarshal(fields["operator"], &op); err != nil {
		return nil, fmt.Errorf("%w: leaf %q missing operator", ErrInvalidTree, leaf.MetricKey)
	}
	leaf.Operator = Operator(strings.TrimSpace(op))
	if !leaf.Operator.Valid() {
		return nil, fmt.Errorf("%w: unknown operator %q", ErrInvalidTree, op)
	}

	threshold, ok := fields["threshold"]
	if !ok || string(bytes.TrimSpace(threshold)) == "null" {
		return nil, fmt.Errorf("%w: leaf %q missing threshold", ErrInvalidTree, leaf.MetricKey)
	}
	if err := json.Unmarshal(threshold, &leaf.Threshold); err != nil {
		return nil, fmt.Errorf("%w: leaf %q threshold must be a number", ErrInvalidTree, leaf.MetricKey)
	}
	return leaf, nil
}

func decodeGroup(fields map[string]json.RawMessage, depth int) (Node, error) {
	var group Group
	rawCombinator, ok := firstOf(fields, groupCombinKeys)
	if !ok {
		return nil, fmt.Errorf("%w: group missing combinator", ErrInvalidTree)
	}
	var combinator string
	if err := json.Unmarshal(rawCombinator, &combinator); err != nil {
		return nil, fmt.Errorf("%w: combinator must be a string", ErrInvalidTree)
	}
	group.Combinator = Combinator(strings.ToUpper(strings.TrimSpace(combinator)))
	if group.Combinator != And && group.Combinator != Or {
		return nil, fmt.Errorf("%w: unknown combinator %q", ErrInvalidTree, combinator)
	}

	var children []json.RawMessage
	if rawChildren, ok := firstOf(fields, groupChildKeys); ok {
		if err := json.Unmarshal(rawChildren, &children); err != nil {
			return nil, fmt.Errorf("%w: children must be an array", ErrInvalidTree)
		}
	}
	group.Children = make([]Node, 0, len(children))
	for _, rawChild := range children {
		child, err := decodeNode(rawChild, depth+1)
		if err != nil {
			return nil, err
		}
		group.Children = append(group.Children, child)
	}
	return group, nil
}

func firstOf(fields map[string]json.RawMessage, keys []string) (json.RawMessage, bool) {
	for _, key := range keys {
		if raw, ok := fields[key]; ok {
			return raw, true
		}
	}
	return nil, false
}

// Encode renders a tree in the canonical JSON shape accepted by Decode.
func Encode(node Node) ([]byte, error) {
	value, err := toJSON(node)
	if err != nil {
		return nil, err
	}
	return json.Marshal(value)
}

func toJSON(node Node) (any, error) {
	switch n := node.(type) {
	case Leaf:
		return map[string]any{"metric": n.MetricKey, "operator": string(n.Operator), "threshold": n.Threshold}, nil
	case *Leaf:
		if n == nil {
			return nil, fmt.Errorf("%w: nil leaf", ErrInvalidTree)
		}
		return toJSON(*n)
	case Group:
		children := make([]any, 0, len(n.Children))
		for _, child := range n.Children {
			value, err := toJSON(child)
			if err != nil {
				return nil, err
			}
			children = append(children, value)
		}
		return map[string]any{"combinator": string(n.Combinator), "children": children}, nil
	case *Group:
		if n == nil {
			return nil, fmt.Errorf("%w: nil group", ErrInvalidTree)
		}
		return toJSON(*n)
	default:
		return nil, fmt.Errorf("%w: unsupported node %T", ErrInvalidTree, node)
	}
}
