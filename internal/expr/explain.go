package expr

import (
	"strings"
)

// Namer resolves catalog ids to display names for explanations.
type Namer interface {
	OptionName(modifierTypeID, optionID string) string
	ModifierTypeName(modifierTypeID string) string
}

// Explain renders a trace as an end-user sentence such as
// "requires Pepperoni and not Anchovies". The output depends only on the
// trace and the namer, so it is stable across calls.
func Explain(trace Trace, namer Namer) string {
	if len(trace) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("requires ")
	for i, term := range trace {
		if i > 0 {
			join := term.Join
			if join == "" {
				join = JoinAnd
			}
			b.WriteString(" ")
			b.WriteString(string(join))
			b.WriteString(" ")
		}
		b.WriteString(describeTerm(term, namer))
	}
	return b.String()
}

// Describe renders an expression as text.
func Describe(node Node, namer Namer) string {
	return describe(node, namer, false)
}

func describeTerm(term Term, namer Namer) string {
	if c, ok := term.Node.(Compare); ok && !term.Want {
		return describe(Compare{Op: negate(c.Op), Left: c.Left, Right: c.Right}, namer, false)
	}
	if !term.Want {
		if anyOf, ok := term.Node.(HasAnyOf); ok {
			return "no " + modifierTypeName(namer, anyOf.ModifierTypeID)
		}
		return "not " + describe(term.Node, namer, true)
	}
	return describe(term.Node, namer, false)
}

func describe(node Node, namer Namer, nested bool) string {
	switch n := node.(type) {
	case Literal:
		return n.Value.String()
	case HasOption:
		var b strings.Builder
		b.WriteString(optionName(namer, n.ModifierTypeID, n.OptionID))
		if n.Qualifier != nil {
			b.WriteString(" (")
			b.WriteString(string(n.Qualifier.Normalize()))
			b.WriteString(")")
		}
		if n.Placement != nil {
			b.WriteString(" on ")
			switch n.Placement.Normalize() {
			case PlacementLeft:
				b.WriteString("the left")
			case PlacementRight:
				b.WriteString("the right")
			default:
				b.WriteString("the whole")
			}
		}
		return b.String()
	case HasAnyOf:
		return "any " + modifierTypeName(namer, n.ModifierTypeID)
	case Logical:
		var text string
		switch n.Op {
		case OpNot:
			if len(n.Children) == 1 {
				return "not " + describe(n.Children[0], namer, true)
			}
			text = "not(?)"
		default:
			parts := make([]string, 0, len(n.Children))
			for _, child := range n.Children {
				parts = append(parts, describe(child, namer, true))
			}
			text = strings.Join(parts, " "+string(n.Op)+" ")
		}
		if nested && len(n.Children) > 1 {
			return "(" + text + ")"
		}
		return text
	case Compare:
		text := describe(n.Left, namer, true) + " " + symbol(n.Op) + " " + describe(n.Right, namer, true)
		if nested {
			return "(" + text + ")"
		}
		return text
	case Conditional:
		text := "if " + describe(n.Cond, namer, true) + " then " + describe(n.Then, namer, true) + " else " + describe(n.Else, namer, true)
		if nested {
			return "(" + text + ")"
		}
		return text
	default:
		return "?"
	}
}

func symbol(op CompareOp) string {
	switch op {
	case OpEq:
		return "="
	case OpNeq:
		return "≠"
	case OpLt:
		return "<"
	case OpLte:
		return "≤"
	case OpGt:
		return ">"
	case OpGte:
		return "≥"
	default:
		return string(op)
	}
}

func negate(op CompareOp) CompareOp {
	switch op {
	case OpEq:
		return OpNeq
	case OpNeq:
		return OpEq
	case OpLt:
		return OpGte
	case OpLte:
		return OpGt
	case OpGt:
		return OpLte
	case OpGte:
		return OpLt
	default:
		return op
	}
}

func optionName(namer Namer, modifierTypeID, optionID string) string {
	if namer != nil {
		if name := namer.OptionName(modifierTypeID, optionID); name != "" {
			return name
		}
	}
	return modifierTypeID + "/" + optionID
}

func modifierTypeName(namer Namer, modifierTypeID string) string {
	if namer != nil {
		if name := namer.ModifierTypeName(modifierTypeID); name != "" {
			return name
		}
	}
	return modifierTypeID
}
