package expr

import (
	"fmt"
)

// EvaluationError reports a type mismatch or malformed node met during
// evaluation. It is fatal to the evaluation that produced it.
type EvaluationError struct {
	Node    Node
	Message string
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("evaluate %s: %s", kindOf(e.Node), e.Message)
}

// Conjunction joins a trace term to the term before it.
type Conjunction string

const (
	JoinAnd Conjunction = "and"
	JoinOr  Conjunction = "or"
)

// Term is one sub-expression that did not evaluate to the wanted boolean.
// Want is false for terms recorded under a negation.
type Term struct {
	Node Node
	Want bool
	Join Conjunction
}

// Trace lists, in declaration order, the terms that blocked a false result.
type Trace []Term

// Evaluate interprets node against ctx.
func Evaluate(node Node, ctx Context) (Value, error) {
	e := evaluator{ctx: ctx}
	value, _, err := e.eval(node, true)
	return value, err
}

// EvaluateWithTracking interprets node against ctx and, when the result is
// false, returns the trace of sub-expressions that made it false.
func EvaluateWithTracking(node Node, ctx Context) (Value, Trace, error) {
	e := evaluator{ctx: ctx, track: true}
	value, trace, err := e.eval(node, true)
	if err != nil {
		return Value{}, nil, err
	}
	if b, ok := value.AsBool(); !ok || b {
		return value, nil, nil
	}
	return value, trace, nil
}

type evaluator struct {
	ctx   Context
	track bool
}

// eval evaluates node. In tracking mode the returned trace explains why the
// node's boolean value differs from want; it is empty otherwise.
func (e evaluator) eval(node Node, want bool) (Value, Trace, error) {
	switch n := node.(type) {
	case Literal:
		return n.Value, e.leaf(n, n.Value, want), nil
	case HasOption:
		value := Bool(e.hasOption(n))
		return value, e.leaf(n, value, want), nil
	case HasAnyOf:
		value := Bool(e.hasAnyOf(n.ModifierTypeID))
		return value, e.leaf(n, value, want), nil
	case Logical:
		return e.evalLogical(n, want)
	case Compare:
		value, err := e.evalCompare(n)
		if err != nil {
			return Value{}, nil, err
		}
		return value, e.leaf(n, value, want), nil
	case Conditional:
		cond, _, err := evaluator{ctx: e.ctx}.eval(n.Cond, true)
		if err != nil {
			return Value{}, nil, err
		}
		b, ok := cond.AsBool()
		if !ok {
			return Value{}, nil, &EvaluationError{Node: n, Message: fmt.Sprintf("condition is %s, want boolean", cond.Kind())}
		}
		if b {
			return e.eval(n.Then, want)
		}
		return e.eval(n.Else, want)
	case nil:
		return Value{}, nil, &EvaluationError{Message: "nil node"}
	default:
		return Value{}, nil, &EvaluationError{Node: node, Message: fmt.Sprintf("unsupported node %T", node)}
	}
}

func (e evaluator) leaf(node Node, value Value, want bool) Trace {
	if !e.track {
		return nil
	}
	if b, ok := value.AsBool(); ok && b != want {
		return Trace{{Node: node, Want: want}}
	}
	return nil
}

func (e evaluator) evalLogical(n Logical, want bool) (Value, Trace, error) {
	switch n.Op {
	case OpNot:
		if len(n.Children) != 1 {
			return Value{}, nil, &EvaluationError{Node: n, Message: fmt.Sprintf("not takes 1 operand, got %d", len(n.Children))}
		}
		b, trace, err := e.evalBool(n, n.Children[0], !want)
		if err != nil {
			return Value{}, nil, err
		}
		return Bool(!b), trace, nil
	case OpAnd:
		return e.evalAnd(n, want)
	case OpOr:
		return e.evalOr(n, want)
	default:
		return Value{}, nil, &EvaluationError{Node: n, Message: fmt.Sprintf("unknown logical operator %q", n.Op)}
	}
}

func (e evaluator) evalAnd(n Logical, want bool) (Value, Trace, error) {
	var trace Trace
	for _, child := range n.Children {
		b, childTrace, err := e.evalBool(n, child, want)
		if err != nil {
			return Value{}, nil, err
		}
		if !b {
			if want {
				return Bool(false), childTrace, nil
			}
			return Bool(false), nil, nil
		}
		// Every child is true; any one of them turning false would help.
		trace = appendGroup(trace, childTrace, JoinOr)
	}
	if want {
		return Bool(true), nil, nil
	}
	return Bool(true), trace, nil
}

func (e evaluator) evalOr(n Logical, want bool) (Value, Trace, error) {
	var trace Trace
	result := false
	for _, child := range n.Children {
		if result && !e.track {
			break
		}
		b, childTrace, err := e.evalBool(n, child, want)
		if err != nil {
			if result {
				// Visited only to explain; the value is already decided.
				continue
			}
			return Value{}, nil, err
		}
		if b {
			if want {
				return Bool(true), nil, nil
			}
			result = true
			// Every true branch has to turn false.
			trace = appendGroup(trace, childTrace, JoinAnd)
			continue
		}
		if want {
			trace = appendGroup(trace, childTrace, JoinOr)
		}
	}
	if result == want {
		return Bool(result), nil, nil
	}
	return Bool(result), trace, nil
}

func (e evaluator) evalBool(parent Node, child Node, want bool) (bool, Trace, error) {
	value, trace, err := e.eval(child, want)
	if err != nil {
		return false, nil, err
	}
	b, ok := value.AsBool()
	if !ok {
		return false, nil, &EvaluationError{Node: parent, Message: fmt.Sprintf("operand is %s, want boolean", value.Kind())}
	}
	return b, trace, nil
}

func (e evaluator) evalCompare(n Compare) (Value, error) {
	plain := evaluator{ctx: e.ctx}
	left, _, err := plain.eval(n.Left, true)
	if err != nil {
		return Value{}, err
	}
	right, _, err := plain.eval(n.Right, true)
	if err != nil {
		return Value{}, err
	}
	if left.Kind() != right.Kind() {
		return Value{}, &EvaluationError{Node: n, Message: fmt.Sprintf("cannot compare %s with %s", left.Kind(), right.Kind())}
	}

	switch n.Op {
	case OpEq:
		return Bool(left == right), nil
	case OpNeq:
		return Bool(left != right), nil
	case OpLt, OpLte, OpGt, OpGte:
		cmp, ok := order(left, right)
		if !ok {
			return Value{}, &EvaluationError{Node: n, Message: fmt.Sprintf("%s values are not ordered", left.Kind())}
		}
		switch n.Op {
		case OpLt:
			return Bool(cmp < 0), nil
		case OpLte:
			return Bool(cmp <= 0), nil
		case OpGt:
			return Bool(cmp > 0), nil
		default:
			return Bool(cmp >= 0), nil
		}
	default:
		return Value{}, &EvaluationError{Node: n, Message: fmt.Sprintf("unknown comparison operator %q", n.Op)}
	}
}

func order(left, right Value) (int, bool) {
	switch left.Kind() {
	case KindNumber:
		switch {
		case left.number < right.number:
			return -1, true
		case left.number > right.number:
			return 1, true
		default:
			return 0, true
		}
	case KindString:
		switch {
		case left.text < right.text:
			return -1, true
		case left.text > right.text:
			return 1, true
		default:
			return 0, true
		}
	default:
		return 0, false
	}
}

func (e evaluator) hasOption(n HasOption) bool {
	for _, selected := range e.ctx.Selections {
		if selected.ModifierTypeID != n.ModifierTypeID || selected.OptionID != n.OptionID {
			continue
		}
		if n.Placement != nil && selected.Placement.Normalize() != n.Placement.Normalize() {
			continue
		}
		if n.Qualifier != nil && selected.Qualifier.Normalize() != n.Qualifier.Normalize() {
			continue
		}
		return true
	}
	return false
}

func (e evaluator) hasAnyOf(modifierTypeID string) bool {
	for _, selected := range e.ctx.Selections {
		if selected.ModifierTypeID == modifierTypeID {
			return true
		}
	}
	return false
}

func appendGroup(trace, group Trace, join Conjunction) Trace {
	if len(group) == 0 {
		return trace
	}
	start := len(trace)
	trace = append(trace, group...)
	if start > 0 {
		trace[start].Join = join
	}
	return trace
}

func kindOf(node Node) string {
	switch n := node.(type) {
	case Literal:
		return "literal"
	case HasOption:
		return "has_option"
	case HasAnyOf:
		return "has_any_of"
	case Logical:
		return string(n.Op)
	case Compare:
		return "compare"
	case Conditional:
		return "if"
	default:
		return "node"
	}
}
