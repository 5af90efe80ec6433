package metadata

import (
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/matt-riley/orderz/internal/catalog"
	"github.com/matt-riley/orderz/internal/expr"
	"github.com/matt-riley/orderz/internal/money"
)

var qualifierWeight = map[expr.Qualifier]float64{
	expr.QualifierRegular: 1,
	expr.QualifierLite:    0.5,
	expr.QualifierHeavy:   2,
	expr.QualifierOTS:     1,
}

type selected struct {
	selection expr.SelectedOption
	option    catalog.ModifierOption
}

type generator struct {
	snapshot    *catalog.Snapshot
	product     catalog.Product
	at          time.Time
	fulfillment *catalog.Fulfillment
	selections  []selected
}

// Generate derives the metadata of a product instance against a catalog
// snapshot at an instant for a fulfillment channel (empty for none).
// Recurring availability windows are evaluated in at's location.
//
// A selection or channel that does not resolve against the snapshot returns
// a *catalog.IntegrityError. Unavailability is never an error: it is reported
// as a Disabled state.
func Generate(instance catalog.ProductInstance, snapshot *catalog.Snapshot, at time.Time, fulfillmentID string) (ProductMetadata, error) {
	product, ok := snapshot.Product(instance.ProductID)
	if !ok {
		return ProductMetadata{}, &catalog.IntegrityError{Kind: catalog.KindProduct, ID: instance.ProductID, Reason: "unknown product"}
	}

	g := &generator{snapshot: snapshot, product: product, at: at}
	if fulfillmentID != "" {
		fulfillment, ok := snapshot.Fulfillment(fulfillmentID)
		if !ok {
			return ProductMetadata{}, &catalog.IntegrityError{Kind: catalog.KindFulfillment, ID: fulfillmentID, Reason: "unknown fulfillment"}
		}
		g.fulfillment = &fulfillment
	}

	var err error
	if g.selections, err = g.resolve(instance.Selections); err != nil {
		return ProductMetadata{}, err
	}

	md := ProductMetadata{
		ProductID:  product.ID,
		Selections: make([]expr.SelectedOption, 0, len(g.selections)),
		Modifiers:  make(map[string]ModifierMetadata, len(product.Modifiers)),
	}
	for _, s := range g.selections {
		md.Selections = append(md.Selections, s.selection)
	}

	for _, typeID := range product.Modifiers {
		mt, _ := snapshot.ModifierType(typeID)
		modifier := ModifierMetadata{Options: make(map[string]OptionState)}
		anyEnabled := false
		for _, option := range snapshot.OptionsOf(typeID) {
			var state OptionState
			for _, placement := range expr.Placements {
				s, err := g.optionState(mt, option, placement)
				if err != nil {
					return ProductMetadata{}, err
				}
				state.set(placement, s)
			}
			modifier.Options[option.ID] = state
			anyEnabled = anyEnabled || state.AnyEnabled()
			if !mt.Hidden && state.Whole.IsEnabled() && advanced(option) {
				md.AdvancedOptionEligible = true
			}
		}
		modifier.Omitted = mt.Hidden || (mt.OmitIfUnavailable && !anyEnabled)
		md.Modifiers[typeID] = modifier
	}

	md.Incomplete = g.incomplete(md)
	if md.Price, err = g.price(); err != nil {
		return ProductMetadata{}, err
	}
	md.Name, md.Description = g.compose()
	return md, nil
}

func advanced(option catalog.ModifierOption) bool {
	return option.CanSplit || option.AllowHeavy || option.AllowLite || option.AllowOTS
}

func (g *generator) resolve(selections []expr.SelectedOption) ([]selected, error) {
	out := make([]selected, 0, len(selections))
	seen := make(map[string]bool, len(selections))
	for _, s := range selections {
		if !s.Placement.Valid() || !s.Qualifier.Valid() {
			return nil, fmt.Errorf("%w: option %q has placement %q and qualifier %q", ErrInvalidSelection, s.OptionID, s.Placement, s.Qualifier)
		}
		s.Placement = s.Placement.Normalize()
		s.Qualifier = s.Qualifier.Normalize()

		option, ok := g.snapshot.Option(s.OptionID)
		if !ok {
			return nil, &catalog.IntegrityError{Kind: catalog.KindOption, ID: s.OptionID, Reason: "unknown option"}
		}
		if option.ModifierTypeID != s.ModifierTypeID {
			return nil, &catalog.IntegrityError{Kind: catalog.KindOption, ID: s.OptionID, Reason: fmt.Sprintf("does not belong to modifier type %q", s.ModifierTypeID)}
		}
		if !slices.Contains(g.product.Modifiers, s.ModifierTypeID) {
			return nil, &catalog.IntegrityError{Kind: catalog.KindOption, ID: s.OptionID, Reason: fmt.Sprintf("modifier type %q is not offered on product %q", s.ModifierTypeID, g.product.ID)}
		}
		if seen[s.OptionID] {
			return nil, fmt.Errorf("%w: option %q selected more than once", ErrInvalidSelection, s.OptionID)
		}
		seen[s.OptionID] = true

		switch {
		case s.Qualifier == expr.QualifierHeavy && !option.AllowHeavy,
			s.Qualifier == expr.QualifierLite && !option.AllowLite,
			s.Qualifier == expr.QualifierOTS && !option.AllowOTS:
			return nil, fmt.Errorf("%w: option %q does not allow qualifier %q", ErrInvalidSelection, s.OptionID, s.Qualifier)
		}
		out = append(out, selected{selection: s, option: option})
	}
	return out, nil
}

// candidate is the selection that would result from placing option. Types
// that allow a single option replace the current choice.
func (g *generator) candidate(mt catalog.ModifierType, option catalog.ModifierOption, placement expr.Placement) []selected {
	qualifier := expr.QualifierRegular
	out := make([]selected, 0, len(g.selections)+1)
	for _, s := range g.selections {
		if s.option.ID == option.ID {
			qualifier = s.selection.Qualifier
			continue
		}
		if mt.MaxSelected == 1 && s.selection.ModifierTypeID == mt.ID {
			continue
		}
		out = append(out, s)
	}
	return append(out, selected{
		selection: expr.SelectedOption{ModifierTypeID: mt.ID, OptionID: option.ID, Placement: placement, Qualifier: qualifier},
		option:    option,
	})
}

type halves struct {
	flavorLeft, flavorRight float64
	bakeLeft, bakeRight     float64
}

func weigh(selections []selected) halves {
	var h halves
	for _, s := range selections {
		m := qualifierWeight[s.selection.Qualifier]
		flavor, bake := s.option.FlavorFactor*m, s.option.BakeFactor*m
		switch s.selection.Placement {
		case expr.PlacementLeft:
			h.flavorLeft += flavor
			h.bakeLeft += bake
		case expr.PlacementRight:
			h.flavorRight += flavor
			h.bakeRight += bake
		default:
			h.flavorLeft += flavor
			h.flavorRight += flavor
			h.bakeLeft += bake
			h.bakeRight += bake
		}
	}
	return h
}

// optionState runs the availability checks in precedence order; the first
// failing check decides the state. Structural checks always run before the
// enable function so its explanation is only shown when it is the blocker.
func (g *generator) optionState(mt catalog.ModifierType, option catalog.ModifierOption, placement expr.Placement) (EnableState, error) {
	split := placement.IsSplit()
	if split && !option.CanSplit {
		return Disabled(SplittingNotAllowed{}), nil
	}

	if option.Disabled != nil && option.Disabled.Contains(g.at) {
		if option.Disabled.Indefinite() {
			return Disabled(BlanketDisabled{}), nil
		}
		return Disabled(TimeDisabled{}), nil
	}
	if len(option.Availability) > 0 && !slices.ContainsFunc(option.Availability, func(w catalog.Window) bool { return w.Contains(g.at) }) {
		return Disabled(TimeDisabled{}), nil
	}

	if g.fulfillment != nil && g.fulfillment.Excludes(option.ID) {
		return Disabled(FulfillmentTypeDisabled{ChannelID: g.fulfillment.ID}), nil
	}

	candidate := g.candidate(mt, option, placement)
	h := weigh(candidate)
	if g.product.MaxFlavor > 0 && math.Max(h.flavorLeft, h.flavorRight) > g.product.MaxFlavor {
		return Disabled(FlavorLimitExceeded{}), nil
	}
	if g.product.MaxBake > 0 && math.Max(h.bakeLeft, h.bakeRight) > g.product.MaxBake {
		return Disabled(WeightLimitExceeded{}), nil
	}
	if split && g.product.MaxBakeDifferential > 0 && math.Abs(h.bakeLeft-h.bakeRight) > g.product.MaxBakeDifferential {
		return Disabled(SplitDifferentialExceeded{}), nil
	}

	if mt.MaxSelected > 1 {
		others := 0
		for _, s := range candidate {
			if s.selection.ModifierTypeID == mt.ID && s.option.ID != option.ID {
				others++
			}
		}
		if others >= mt.MaxSelected {
			return Disabled(MaximumOfTypeExceeded{}), nil
		}
	}

	if option.EnableFunctionID == "" {
		return Enabled(), nil
	}
	return g.evaluateFunction(option, candidate)
}

func (g *generator) evaluateFunction(option catalog.ModifierOption, candidate []selected) (EnableState, error) {
	fn, ok := g.snapshot.Function(option.EnableFunctionID)
	if !ok {
		return EnableState{}, &catalog.IntegrityError{Kind: catalog.KindOption, ID: option.ID, Reason: fmt.Sprintf("unknown enable function %q", option.EnableFunctionID)}
	}

	ctx := expr.Context{
		ProductID:  g.product.ID,
		Selections: make([]expr.SelectedOption, 0, len(candidate)),
		At:         g.at,
	}
	if g.fulfillment != nil {
		ctx.FulfillmentID = g.fulfillment.ID
	}
	for _, s := range candidate {
		ctx.Selections = append(ctx.Selections, s.selection)
	}

	value, trace, err := expr.EvaluateWithTracking(fn.Expression, ctx)
	if err != nil {
		return Disabled(FunctionConstraintFailed{FunctionID: fn.ID, EvaluationError: err.Error()}), nil
	}
	enabled, ok := value.AsBool()
	if !ok {
		return Disabled(FunctionConstraintFailed{FunctionID: fn.ID, EvaluationError: fmt.Sprintf("enable function returned a %s", value.Kind())}), nil
	}
	if enabled {
		return Enabled(), nil
	}
	return Disabled(FunctionConstraintFailed{
		FunctionID:  fn.ID,
		Trace:       trace,
		Explanation: expr.Explain(trace, g.snapshot),
	}), nil
}

func (g *generator) incomplete(md ProductMetadata) bool {
	for _, typeID := range g.product.Modifiers {
		mt, _ := g.snapshot.ModifierType(typeID)
		if mt.MinSelected == 0 {
			continue
		}
		enabled := 0
		for _, s := range g.selections {
			if s.selection.ModifierTypeID != typeID {
				continue
			}
			if md.Modifiers[typeID].Options[s.option.ID].At(s.selection.Placement).IsEnabled() {
				enabled++
			}
		}
		if enabled < mt.MinSelected {
			return true
		}
	}
	return false
}

func (g *generator) price() (money.Money, error) {
	total := g.product.Price
	for _, s := range g.selections {
		if s.option.Price.IsZero() {
			continue
		}
		if !money.SameCurrency(total, s.option.Price) {
			return total, &catalog.IntegrityError{
				Kind:   catalog.KindOption,
				ID:     s.option.ID,
				Reason: fmt.Sprintf("price currency %q differs from product currency %q", s.option.Price.Currency, total.Currency),
			}
		}
		total = total.Add(s.option.Price)
	}
	return total, nil
}

// compose builds the display name from short option names, honoring
// OmitFromName, and the description from full option names.
func (g *generator) compose() (name, description string) {
	var short, full []string
	for _, s := range g.selections {
		full = append(full, decorate(s.option.Name, s.selection))
		if mt, _ := g.snapshot.ModifierType(s.selection.ModifierTypeID); !mt.OmitFromName {
			short = append(short, decorate(s.option.DisplayName(), s.selection))
		}
	}

	name = g.product.Name
	if len(short) > 0 {
		name += " with " + strings.Join(short, ", ")
	}
	description = g.product.Description
	if len(full) > 0 {
		if description != "" {
			description += ": "
		}
		description += strings.Join(full, ", ")
	}
	return name, description
}

func decorate(label string, s expr.SelectedOption) string {
	switch s.Qualifier {
	case expr.QualifierHeavy:
		label = "Heavy " + label
	case expr.QualifierLite:
		label = "Lite " + label
	case expr.QualifierOTS:
		label += " (OTS)"
	}
	if s.Placement.IsSplit() {
		label += " (" + string(s.Placement) + ")"
	}
	return label
}
