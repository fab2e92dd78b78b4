// Package expr implements the restricted expression trees that back
// logic-level strategy mutation. Trees are data, never source text: the only
// way to execute one is interpretation over a dataset, and every operator
// must come from the fixed allow-list below.
package expr

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"

	"strategos/internal/dataset"
)

type Kind string

const (
	KindConst   Kind = "const"
	KindField   Kind = "field"
	KindUnary   Kind = "unary"
	KindBinary  Kind = "binary"
	KindCompare Kind = "compare"
	KindCond    Kind = "cond"
)

// Allow-listed operators per kind. Anything outside these sets is rejected
// at validation time, before a tree ever reaches evaluation.
var (
	UnaryOps   = []string{"abs", "neg", "sign"}
	BinaryOps  = []string{"add", "div", "max", "min", "mul", "sub"}
	CompareOps = []string{"ge", "gt", "le", "lt"}
)

var (
	ErrUnknownOperator = errors.New("operator not in allow-list")
	ErrMalformedTree   = errors.New("malformed expression tree")
	ErrTreeTooLarge    = errors.New("expression tree exceeds limits")
)

// Limits caps tree size so adversarial payloads cannot blow up evaluation.
type Limits struct {
	MaxNodes int
	MaxDepth int
}

// DefaultLimits matches what the sandbox executor enforces by default.
func DefaultLimits() Limits {
	return Limits{MaxNodes: 64, MaxDepth: 8}
}

// Node is one vertex of a closed tagged-variant expression tree.
type Node struct {
	Kind     Kind    `json:"kind"`
	Value    float64 `json:"value,omitempty"`
	Field    string  `json:"field,omitempty"`
	Op       string  `json:"op,omitempty"`
	Children []*Node `json:"children,omitempty"`
}

func Const(v float64) *Node { return &Node{Kind: KindConst, Value: v} }

func Field(name string) *Node { return &Node{Kind: KindField, Field: name} }

func Unary(op string, child *Node) *Node {
	return &Node{Kind: KindUnary, Op: op, Children: []*Node{child}}
}

func Binary(op string, left, right *Node) *Node {
	return &Node{Kind: KindBinary, Op: op, Children: []*Node{left, right}}
}

// Compare yields 1 when the comparison holds, 0 otherwise.
func Compare(op string, left, right *Node) *Node {
	return &Node{Kind: KindCompare, Op: op, Children: []*Node{left, right}}
}

// Cond yields the second child when the first is non-zero, else the third.
func Cond(test, then, otherwise *Node) *Node {
	return &Node{Kind: KindCond, Children: []*Node{test, then, otherwise}}
}

// Clone deep-copies a tree so mutations never alias the original.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	out := &Node{Kind: n.Kind, Value: n.Value, Field: n.Field, Op: n.Op}
	if len(n.Children) > 0 {
		out.Children = make([]*Node, len(n.Children))
		for i, child := range n.Children {
			out.Children[i] = child.Clone()
		}
	}
	return out
}

// Fields returns the sorted set of field names the tree references.
func (n *Node) Fields() []string {
	set := map[string]struct{}{}
	n.walk(func(node *Node) {
		if node.Kind == KindField && node.Field != "" {
			set[node.Field] = struct{}{}
		}
	})
	fields := make([]string, 0, len(set))
	for field := range set {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return fields
}

// Size counts nodes.
func (n *Node) Size() int {
	count := 0
	n.walk(func(*Node) { count++ })
	return count
}

// Depth returns the longest root-to-leaf path length.
func (n *Node) Depth() int {
	if n == nil {
		return 0
	}
	max := 0
	for _, child := range n.Children {
		if d := child.Depth(); d > max {
			max = d
		}
	}
	return max + 1
}

func (n *Node) walk(visit func(*Node)) {
	if n == nil {
		return
	}
	visit(n)
	for _, child := range n.Children {
		child.walk(visit)
	}
}

// Validate checks structure, operator allow-list membership, field
// references, and size limits. allowedFields nil means any field resolves at
// evaluation time instead.
func Validate(n *Node, allowedFields map[string]struct{}, limits Limits) error {
	if n == nil {
		return fmt.Errorf("%w: nil root", ErrMalformedTree)
	}
	if limits.MaxNodes > 0 && n.Size() > limits.MaxNodes {
		return fmt.Errorf("%w: %d nodes > max %d", ErrTreeTooLarge, n.Size(), limits.MaxNodes)
	}
	if limits.MaxDepth > 0 && n.Depth() > limits.MaxDepth {
		return fmt.Errorf("%w: depth %d > max %d", ErrTreeTooLarge, n.Depth(), limits.MaxDepth)
	}
	return validateNode(n, allowedFields)
}

func validateNode(n *Node, allowedFields map[string]struct{}) error {
	switch n.Kind {
	case KindConst:
		if len(n.Children) != 0 {
			return fmt.Errorf("%w: const with children", ErrMalformedTree)
		}
		if math.IsNaN(n.Value) || math.IsInf(n.Value, 0) {
			return fmt.Errorf("%w: non-finite constant", ErrMalformedTree)
		}
	case KindField:
		if n.Field == "" {
			return fmt.Errorf("%w: empty field reference", ErrMalformedTree)
		}
		if allowedFields != nil {
			if _, ok := allowedFields[n.Field]; !ok {
				return fmt.Errorf("%w: field %s not allowed", ErrMalformedTree, n.Field)
			}
		}
	case KindUnary:
		if !containsOp(UnaryOps, n.Op) {
			return fmt.Errorf("%w: unary %q", ErrUnknownOperator, n.Op)
		}
		if len(n.Children) != 1 {
			return fmt.Errorf("%w: unary wants 1 child, got %d", ErrMalformedTree, len(n.Children))
		}
	case KindBinary:
		if !containsOp(BinaryOps, n.Op) {
			return fmt.Errorf("%w: binary %q", ErrUnknownOperator, n.Op)
		}
		if len(n.Children) != 2 {
			return fmt.Errorf("%w: binary wants 2 children, got %d", ErrMalformedTree, len(n.Children))
		}
	case KindCompare:
		if !containsOp(CompareOps, n.Op) {
			return fmt.Errorf("%w: compare %q", ErrUnknownOperator, n.Op)
		}
		if len(n.Children) != 2 {
			return fmt.Errorf("%w: compare wants 2 children, got %d", ErrMalformedTree, len(n.Children))
		}
	case KindCond:
		if len(n.Children) != 3 {
			return fmt.Errorf("%w: cond wants 3 children, got %d", ErrMalformedTree, len(n.Children))
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrMalformedTree, n.Kind)
	}
	for _, child := range n.Children {
		if child == nil {
			return fmt.Errorf("%w: nil child", ErrMalformedTree)
		}
		if err := validateNode(child, allowedFields); err != nil {
			return err
		}
	}
	return nil
}

// Eval interprets the tree for one dataset row. Division by zero yields 0
// rather than propagating infinities into downstream metrics.
func Eval(n *Node, ds *dataset.Dataset, row int) (float64, error) {
	switch n.Kind {
	case KindConst:
		return n.Value, nil
	case KindField:
		column, err := ds.Column(n.Field)
		if err != nil {
			return 0, err
		}
		if row < 0 || row >= len(column) {
			return 0, fmt.Errorf("row %d out of range for field %s", row, n.Field)
		}
		return column[row], nil
	case KindUnary:
		v, err := Eval(n.Children[0], ds, row)
		if err != nil {
			return 0, err
		}
		switch n.Op {
		case "abs":
			return math.Abs(v), nil
		case "neg":
			return -v, nil
		case "sign":
			switch {
			case v > 0:
				return 1, nil
			case v < 0:
				return -1, nil
			}
			return 0, nil
		}
	case KindBinary:
		left, err := Eval(n.Children[0], ds, row)
		if err != nil {
			return 0, err
		}
		right, err := Eval(n.Children[1], ds, row)
		if err != nil {
			return 0, err
		}
		switch n.Op {
		case "add":
			return left + right, nil
		case "sub":
			return left - right, nil
		case "mul":
			return left * right, nil
		case "div":
			if right == 0 {
				return 0, nil
			}
			return left / right, nil
		case "min":
			return math.Min(left, right), nil
		case "max":
			return math.Max(left, right), nil
		}
	case KindCompare:
		left, err := Eval(n.Children[0], ds, row)
		if err != nil {
			return 0, err
		}
		right, err := Eval(n.Children[1], ds, row)
		if err != nil {
			return 0, err
		}
		holds := false
		switch n.Op {
		case "gt":
			holds = left > right
		case "lt":
			holds = left < right
		case "ge":
			holds = left >= right
		case "le":
			holds = left <= right
		}
		if holds {
			return 1, nil
		}
		return 0, nil
	case KindCond:
		test, err := Eval(n.Children[0], ds, row)
		if err != nil {
			return 0, err
		}
		if test != 0 {
			return Eval(n.Children[1], ds, row)
		}
		return Eval(n.Children[2], ds, row)
	}
	return 0, fmt.Errorf("%w: kind %q op %q", ErrMalformedTree, n.Kind, n.Op)
}

// Encode serializes a tree for embedding in a factor record.
func Encode(n *Node) ([]byte, error) {
	if n == nil {
		return nil, fmt.Errorf("%w: nil root", ErrMalformedTree)
	}
	return json.Marshal(n)
}

// Decode parses and validates an untrusted serialized tree.
func Decode(data []byte, allowedFields map[string]struct{}, limits Limits) (*Node, error) {
	var root Node
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedTree, err)
	}
	if err := Validate(&root, allowedFields, limits); err != nil {
		return nil, err
	}
	return &root, nil
}

func containsOp(ops []string, op string) bool {
	for _, candidate := range ops {
		if candidate == op {
			return true
		}
	}
	return false
}
