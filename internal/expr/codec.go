package expr

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidExpression is wrapped by every decode failure.
var ErrInvalidExpression = errors.New("invalid expression")

// Encoded is the storage and wire form of an expression tree.
type Encoded struct {
	Kind           string    `json:"kind" yaml:"kind"`
	Value          any       `json:"value,omitempty" yaml:"value,omitempty"`
	ModifierTypeID string    `json:"modifier_type_id,omitempty" yaml:"modifier_type_id,omitempty"`
	OptionID       string    `json:"option_id,omitempty" yaml:"option_id,omitempty"`
	Placement      string    `json:"placement,omitempty" yaml:"placement,omitempty"`
	Qualifier      string    `json:"qualifier,omitempty" yaml:"qualifier,omitempty"`
	Op             string    `json:"op,omitempty" yaml:"op,omitempty"`
	Children       []Encoded `json:"children,omitempty" yaml:"children,omitempty"`
	Left           *Encoded  `json:"left,omitempty" yaml:"left,omitempty"`
	Right          *Encoded  `json:"right,omitempty" yaml:"right,omitempty"`
	Cond           *Encoded  `json:"cond,omitempty" yaml:"cond,omitempty"`
	Then           *Encoded  `json:"then,omitempty" yaml:"then,omitempty"`
	Else           *Encoded  `json:"else,omitempty" yaml:"else,omitempty"`
}

const (
	kindLiteral     = "literal"
	kindHasOption   = "has_option"
	kindHasAnyOf    = "has_any_of"
	kindLogical     = "logical"
	kindCompare     = "compare"
	kindConditional = "if"
)

// Encode converts a node to its wire form.
func Encode(node Node) Encoded {
	switch n := node.(type) {
	case Literal:
		return Encoded{Kind: kindLiteral, Value: literalValue(n.Value)}
	case HasOption:
		encoded := Encoded{Kind: kindHasOption, ModifierTypeID: n.ModifierTypeID, OptionID: n.OptionID}
		if n.Placement != nil {
			encoded.Placement = string(n.Placement.Normalize())
		}
		if n.Qualifier != nil {
			encoded.Qualifier = string(n.Qualifier.Normalize())
		}
		return encoded
	case HasAnyOf:
		return Encoded{Kind: kindHasAnyOf, ModifierTypeID: n.ModifierTypeID}
	case Logical:
		children := make([]Encoded, 0, len(n.Children))
		for _, child := range n.Children {
			children = append(children, Encode(child))
		}
		return Encoded{Kind: kindLogical, Op: string(n.Op), Children: children}
	case Compare:
		left, right := Encode(n.Left), Encode(n.Right)
		return Encoded{Kind: kindCompare, Op: string(n.Op), Left: &left, Right: &right}
	case Conditional:
		cond, then, els := Encode(n.Cond), Encode(n.Then), Encode(n.Else)
		return Encoded{Kind: kindConditional, Cond: &cond, Then: &then, Else: &els}
	default:
		return Encoded{}
	}
}

// Decode converts the wire form to a node, validating its shape.
func Decode(encoded Encoded) (Node, error) {
	switch encoded.Kind {
	case kindLiteral:
		value, err := decodeLiteral(encoded.Value)
		if err != nil {
			return nil, err
		}
		return Literal{Value: value}, nil
	case kindHasOption:
		if encoded.ModifierTypeID == "" || encoded.OptionID == "" {
			return nil, fmt.Errorf("%w: has_option requires modifier_type_id and option_id", ErrInvalidExpression)
		}
		n := HasOption{ModifierTypeID: encoded.ModifierTypeID, OptionID: encoded.OptionID}
		if encoded.Placement != "" {
			placement := Placement(encoded.Placement)
			if !placement.Valid() {
				return nil, fmt.Errorf("%w: unknown placement %q", ErrInvalidExpression, encoded.Placement)
			}
			n.Placement = &placement
		}
		if encoded.Qualifier != "" {
			qualifier := Qualifier(encoded.Qualifier)
			if !qualifier.Valid() {
				return nil, fmt.Errorf("%w: unknown qualifier %q", ErrInvalidExpression, encoded.Qualifier)
			}
			n.Qualifier = &qualifier
		}
		return n, nil
	case kindHasAnyOf:
		if encoded.ModifierTypeID == "" {
			return nil, fmt.Errorf("%w: has_any_of requires modifier_type_id", ErrInvalidExpression)
		}
		return HasAnyOf{ModifierTypeID: encoded.ModifierTypeID}, nil
	case kindLogical:
		return decodeLogical(encoded)
	case kindCompare:
		op := CompareOp(encoded.Op)
		switch op {
		case OpEq, OpNeq, OpLt, OpLte, OpGt, OpGte:
		default:
			return nil, fmt.Errorf("%w: unknown comparison operator %q", ErrInvalidExpression, encoded.Op)
		}
		if encoded.Left == nil || encoded.Right == nil {
			return nil, fmt.Errorf("%w: compare requires left and right", ErrInvalidExpression)
		}
		left, err := Decode(*encoded.Left)
		if err != nil {
			return nil, err
		}
		right, err := Decode(*encoded.Right)
		if err != nil {
			return nil, err
		}
		return Compare{Op: op, Left: left, Right: right}, nil
	case kindConditional:
		if encoded.Cond == nil || encoded.Then == nil || encoded.Else == nil {
			return nil, fmt.Errorf("%w: if requires cond, then and else", ErrInvalidExpression)
		}
		cond, err := Decode(*encoded.Cond)
		if err != nil {
			return nil, err
		}
		then, err := Decode(*encoded.Then)
		if err != nil {
			return nil, err
		}
		els, err := Decode(*encoded.Else)
		if err != nil {
			return nil, err
		}
		return Conditional{Cond: cond, Then: then, Else: els}, nil
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidExpression, encoded.Kind)
	}
}

func decodeLogical(encoded Encoded) (Node, error) {
	op := LogicalOp(encoded.Op)
	switch op {
	case OpNot:
		if len(encoded.Children) != 1 {
			return nil, fmt.Errorf("%w: not takes exactly one child", ErrInvalidExpression)
		}
	case OpAnd, OpOr:
		if len(encoded.Children) == 0 {
			return nil, fmt.Errorf("%w: %s requires at least one child", ErrInvalidExpression, op)
		}
	default:
		return nil, fmt.Errorf("%w: unknown logical operator %q", ErrInvalidExpression, encoded.Op)
	}

	children := make([]Node, 0, len(encoded.Children))
	for _, child := range encoded.Children {
		decoded, err := Decode(child)
		if err != nil {
			return nil, err
		}
		children = append(children, decoded)
	}
	return Logical{Op: op, Children: children}, nil
}

// Marshal encodes node as JSON.
func Marshal(node Node) ([]byte, error) {
	if node == nil {
		return []byte("null"), nil
	}
	return json.Marshal(Encode(node))
}

// Unmarshal decodes a JSON expression. "null" decodes to a nil node.
func Unmarshal(data []byte) (Node, error) {
	var encoded *Encoded
	if err := json.Unmarshal(data, &encoded); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidExpression, err)
	}
	if encoded == nil {
		return nil, nil
	}
	return Decode(*encoded)
}

func literalValue(v Value) any {
	switch v.Kind() {
	case KindNumber:
		return v.number
	case KindBoolean:
		return v.boolean
	case KindString:
		return v.text
	default:
		return nil
	}
}

func decodeLiteral(raw any) (Value, error) {
	switch v := raw.(type) {
	case bool:
		return Bool(v), nil
	case string:
		return Text(v), nil
	case float64:
		return Number(v), nil
	case float32:
		return Number(float64(v)), nil
	case int:
		return Number(float64(v)), nil
	case int64:
		return Number(float64(v)), nil
	case uint64:
		return Number(float64(v)), nil
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("%w: literal %q: %v", ErrInvalidExpression, v, err)
		}
		return Number(f), nil
	default:
		return Value{}, fmt.Errorf("%w: unsupported literal %T", ErrInvalidExpression, raw)
	}
}
