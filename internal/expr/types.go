// Package expr implements the catalog's enable-expression language: a small,
// closed expression tree evaluated against a product selection.
//
// Every node kind is handled by an exhaustive type switch. Adding a kind
// means adding a case to Evaluate, the tracker, the renderer and the codec.
package expr

import (
	"strconv"
	"time"
)

// Kind identifies the scalar type of a [Value].
type Kind int

const (
	KindInvalid Kind = iota
	KindNumber
	KindBoolean
	KindString
)

func (k Kind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindBoolean:
		return "boolean"
	case KindString:
		return "string"
	default:
		return "invalid"
	}
}

// Value is a scalar produced by evaluation.
type Value struct {
	kind    Kind
	number  float64
	boolean bool
	text    string
}

func Number(n float64) Value { return Value{kind: KindNumber, number: n} }
func Bool(b bool) Value      { return Value{kind: KindBoolean, boolean: b} }
func Text(s string) Value    { return Value{kind: KindString, text: s} }

func (v Value) Kind() Kind { return v.kind }

func (v Value) AsBool() (bool, bool) {
	return v.boolean, v.kind == KindBoolean
}

func (v Value) AsNumber() (float64, bool) {
	return v.number, v.kind == KindNumber
}

func (v Value) AsString() (string, bool) {
	return v.text, v.kind == KindString
}

func (v Value) String() string {
	switch v.kind {
	case KindNumber:
		return strconv.FormatFloat(v.number, 'f', -1, 64)
	case KindBoolean:
		return strconv.FormatBool(v.boolean)
	case KindString:
		return v.text
	default:
		return "<invalid>"
	}
}

// Placement says whether an option covers the whole item or one half.
type Placement string

const (
	PlacementWhole Placement = "whole"
	PlacementLeft  Placement = "left"
	PlacementRight Placement = "right"
)

// Placements lists every placement in display order.
var Placements = []Placement{PlacementWhole, PlacementLeft, PlacementRight}

// Normalize maps the empty placement to whole.
func (p Placement) Normalize() Placement {
	if p == "" {
		return PlacementWhole
	}
	return p
}

func (p Placement) Valid() bool {
	switch p.Normalize() {
	case PlacementWhole, PlacementLeft, PlacementRight:
		return true
	default:
		return false
	}
}

// IsSplit reports whether the placement covers only one half.
func (p Placement) IsSplit() bool {
	n := p.Normalize()
	return n == PlacementLeft || n == PlacementRight
}

// Qualifier is the amount requested for a selected option.
type Qualifier string

const (
	QualifierRegular Qualifier = "regular"
	QualifierLite    Qualifier = "lite"
	QualifierHeavy   Qualifier = "heavy"
	// QualifierOTS is "one then split": a single portion spread over both halves.
	QualifierOTS Qualifier = "ots"
)

// Normalize maps the empty qualifier to regular.
func (q Qualifier) Normalize() Qualifier {
	if q == "" {
		return QualifierRegular
	}
	return q
}

func (q Qualifier) Valid() bool {
	switch q.Normalize() {
	case QualifierRegular, QualifierLite, QualifierHeavy, QualifierOTS:
		return true
	default:
		return false
	}
}

// SelectedOption is one option chosen for a product instance.
type SelectedOption struct {
	ModifierTypeID string    `json:"modifier_type_id" yaml:"modifier_type_id"`
	OptionID       string    `json:"option_id" yaml:"option_id"`
	Placement      Placement `json:"placement,omitempty" yaml:"placement,omitempty"`
	Qualifier      Qualifier `json:"qualifier,omitempty" yaml:"qualifier,omitempty"`
}

// Context is the read-only input to evaluation.
type Context struct {
	ProductID     string
	Selections    []SelectedOption
	At            time.Time
	FulfillmentID string
}

// Node is an expression tree node. The set of implementations is closed.
type Node interface {
	node()
}

type Literal struct {
	Value Value
}

// HasOption is true when the selection contains the option, optionally
// restricted to a placement and/or qualifier.
type HasOption struct {
	ModifierTypeID string
	OptionID       string
	Placement      *Placement
	Qualifier      *Qualifier
}

// HasAnyOf is true when any option of the modifier type is selected.
type HasAnyOf struct {
	ModifierTypeID string
}

type LogicalOp string

const (
	OpAnd LogicalOp = "and"
	OpOr  LogicalOp = "or"
	OpNot LogicalOp = "not"
)

type Logical struct {
	Op       LogicalOp
	Children []Node
}

type CompareOp string

const (
	OpEq  CompareOp = "eq"
	OpNeq CompareOp = "neq"
	OpLt  CompareOp = "lt"
	OpLte CompareOp = "lte"
	OpGt  CompareOp = "gt"
	OpGte CompareOp = "gte"
)

type Compare struct {
	Op    CompareOp
	Left  Node
	Right Node
}

type Conditional struct {
	Cond Node
	Then Node
	Else Node
}

func (Literal) node()     {}
func (HasOption) node()   {}
func (HasAnyOf) node()    {}
func (Logical) node()     {}
func (Compare) node()     {}
func (Conditional) node() {}

// And, Or and Not build logical nodes.
func And(children ...Node) Logical { return Logical{Op: OpAnd, Children: children} }
func Or(children ...Node) Logical  { return Logical{Op: OpOr, Children: children} }
func Not(child Node) Logical       { return Logical{Op: OpNot, Children: []Node{child}} }

// Has builds a HasOption node without placement or qualifier restrictions.
func Has(modifierTypeID, optionID string) HasOption {
	return HasOption{ModifierTypeID: modifierTypeID, OptionID: optionID}
}

// HasAt builds a HasOption node restricted to a placement.
func HasAt(modifierTypeID, optionID string, placement Placement) HasOption {
	return HasOption{ModifierTypeID: modifierTypeID, OptionID: optionID, Placement: &placement}
}

// Walk visits node and its descendants depth-first in declaration order.
// Returning false from fn skips the node's children.
func Walk(node Node, fn func(Node) bool) {
	if node == nil || !fn(node) {
		return
	}

	switch n := node.(type) {
	case Logical:
		for _, child := range n.Children {
			Walk(child, fn)
		}
	case Compare:
		Walk(n.Left, fn)
		Walk(n.Right, fn)
	case Conditional:
		Walk(n.Cond, fn)
		Walk(n.Then, fn)
		Walk(n.Else, fn)
	}
}
