package condition

// Operator compares a metric value against a threshold.
type Operator string

const (
	OpGreater      Operator = ">"
	OpLess         Operator = "<"
	OpGreaterEqual Operator = ">="
	OpLessEqual    Operator = "<="
	OpEqual        Operator = "=="
	OpNotEqual     Operator = "!="
)

// Valid reports whether op is a known operator.
func (op Operator) Valid() bool {
	switch op {
	case OpGreater, OpLess, OpGreaterEqual, OpLessEqual, OpEqual, OpNotEqual:
		return true
	default:
		return false
	}
}

// Combinator joins the children of a group.
type Combinator string

const (
	And Combinator = "AND"
	Or  Combinator = "OR"
)

// Node is a condition tree node: either a Leaf or a Group.
type Node interface {
	node()
}

// Leaf compares one metric from the snapshot against a threshold.
type Leaf struct {
	MetricKey string
	Operator  Operator
	Threshold float64
}

// Group combines child nodes with AND or OR.
type Group struct {
	Combinator Combinator
	Children   []Node
}

func (Leaf) node()  {}
func (Group) node() {}
