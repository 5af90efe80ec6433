// Package metadata derives the displayable, priced state of a configured
// product: its price, its composed name, and whether each option of each
// modifier type can currently be selected.
package metadata

import (
	"errors"

	"github.com/matt-riley/orderz/internal/expr"
	"github.com/matt-riley/orderz/internal/money"
)

// ErrInvalidSelection is returned for selections that are malformed rather
// than unavailable: unknown placements or qualifiers, qualifiers the option
// does not allow, or the same option selected twice.
var ErrInvalidSelection = errors.New("invalid selection")

// ProductMetadata is derived from a product instance and never persisted.
type ProductMetadata struct {
	ProductID              string                      `json:"product_id"`
	Name                   string                      `json:"name"`
	Description            string                      `json:"description"`
	Price                  money.Money                 `json:"price"`
	Selections             []expr.SelectedOption       `json:"selections"`
	Modifiers              map[string]ModifierMetadata `json:"modifiers"`
	Incomplete             bool                        `json:"incomplete"`
	AdvancedOptionEligible bool                        `json:"advanced_option_eligible"`
}

type ModifierMetadata struct {
	Options map[string]OptionState `json:"options"`
	// Omitted types are not shown for customization.
	Omitted bool `json:"omitted"`
}

// OptionState holds the enable state of an option for each placement.
type OptionState struct {
	Whole EnableState `json:"whole"`
	Left  EnableState `json:"left"`
	Right EnableState `json:"right"`
}

// At returns the state for a placement.
func (s OptionState) At(placement expr.Placement) EnableState {
	switch placement.Normalize() {
	case expr.PlacementLeft:
		return s.Left
	case expr.PlacementRight:
		return s.Right
	default:
		return s.Whole
	}
}

// AnyEnabled reports whether the option can be placed anywhere.
func (s OptionState) AnyEnabled() bool {
	return s.Whole.IsEnabled() || s.Left.IsEnabled() || s.Right.IsEnabled()
}

func (s *OptionState) set(placement expr.Placement, state EnableState) {
	switch placement {
	case expr.PlacementLeft:
		s.Left = state
	case expr.PlacementRight:
		s.Right = state
	default:
		s.Whole = state
	}
}

// State looks up the state of one option at one placement.
func (m ProductMetadata) State(modifierTypeID, optionID string, placement expr.Placement) (EnableState, bool) {
	mt, ok := m.Modifiers[modifierTypeID]
	if !ok {
		return EnableState{}, false
	}
	option, ok := mt.Options[optionID]
	if !ok {
		return EnableState{}, false
	}
	return option.At(placement), true
}
