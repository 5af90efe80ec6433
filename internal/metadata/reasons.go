package metadata

import (
	"encoding/json"
	"fmt"

	"github.com/matt-riley/orderz/internal/expr"
)

// ReasonKind is the wire name of a disable reason.
type ReasonKind string

const (
	KindTimeDisabled              ReasonKind = "time_disabled"
	KindBlanketDisabled           ReasonKind = "blanket_disabled"
	KindFlavorLimitExceeded       ReasonKind = "flavor_limit_exceeded"
	KindWeightLimitExceeded       ReasonKind = "weight_limit_exceeded"
	KindFulfillmentTypeDisabled   ReasonKind = "fulfillment_type_disabled"
	KindSplittingNotAllowed       ReasonKind = "splitting_not_allowed"
	KindSplitDifferentialExceeded ReasonKind = "split_differential_exceeded"
	KindMaximumOfTypeExceeded     ReasonKind = "maximum_of_type_exceeded"
	KindFunctionConstraintFailed  ReasonKind = "function_constraint_failed"
)

// Reason explains why an option is disabled. The set of implementations is
// closed.
type Reason interface {
	Kind() ReasonKind
	reason()
}

type (
	TimeDisabled              struct{}
	BlanketDisabled           struct{}
	FlavorLimitExceeded       struct{}
	WeightLimitExceeded       struct{}
	SplittingNotAllowed       struct{}
	SplitDifferentialExceeded struct{}
	MaximumOfTypeExceeded     struct{}
)

type FulfillmentTypeDisabled struct {
	ChannelID string
}

// FunctionConstraintFailed carries the failure trace of an enable function.
// EvaluationError is set instead of Trace when the function could not be
// evaluated.
type FunctionConstraintFailed struct {
	FunctionID      string
	Trace           expr.Trace
	Explanation     string
	EvaluationError string
}

func (TimeDisabled) Kind() ReasonKind              { return KindTimeDisabled }
func (BlanketDisabled) Kind() ReasonKind           { return KindBlanketDisabled }
func (FlavorLimitExceeded) Kind() ReasonKind       { return KindFlavorLimitExceeded }
func (WeightLimitExceeded) Kind() ReasonKind       { return KindWeightLimitExceeded }
func (FulfillmentTypeDisabled) Kind() ReasonKind   { return KindFulfillmentTypeDisabled }
func (SplittingNotAllowed) Kind() ReasonKind       { return KindSplittingNotAllowed }
func (SplitDifferentialExceeded) Kind() ReasonKind { return KindSplitDifferentialExceeded }
func (MaximumOfTypeExceeded) Kind() ReasonKind     { return KindMaximumOfTypeExceeded }
func (FunctionConstraintFailed) Kind() ReasonKind  { return KindFunctionConstraintFailed }

func (TimeDisabled) reason()              {}
func (BlanketDisabled) reason()           {}
func (FlavorLimitExceeded) reason()       {}
func (WeightLimitExceeded) reason()       {}
func (FulfillmentTypeDisabled) reason()   {}
func (SplittingNotAllowed) reason()       {}
func (SplitDifferentialExceeded) reason() {}
func (MaximumOfTypeExceeded) reason()     {}
func (FunctionConstraintFailed) reason()  {}

// Describe renders a reason for end users.
func Describe(r Reason) string {
	switch r := r.(type) {
	case TimeDisabled:
		return "not available at this time"
	case BlanketDisabled:
		return "currently unavailable"
	case FlavorLimitExceeded:
		return "too many flavors"
	case WeightLimitExceeded:
		return "too many toppings"
	case FulfillmentTypeDisabled:
		return fmt.Sprintf("not available for %s", r.ChannelID)
	case SplittingNotAllowed:
		return "cannot be split"
	case SplitDifferentialExceeded:
		return "halves would be too uneven"
	case MaximumOfTypeExceeded:
		return "maximum selections reached"
	case FunctionConstraintFailed:
		if r.Explanation != "" {
			return r.Explanation
		}
		return "not available with the current selection"
	default:
		return ""
	}
}

// EnableState is Enabled or Disabled with a reason. The zero value is
// enabled.
type EnableState struct {
	Reason Reason
}

func Enabled() EnableState { return EnableState{} }

func Disabled(r Reason) EnableState { return EnableState{Reason: r} }

func (s EnableState) IsEnabled() bool { return s.Reason == nil }

type traceTermJSON struct {
	Node expr.Encoded     `json:"node"`
	Want bool             `json:"want"`
	Join expr.Conjunction `json:"join,omitempty"`
}

type enableStateJSON struct {
	Enabled         bool            `json:"enabled"`
	Reason          ReasonKind      `json:"reason,omitempty"`
	Message         string          `json:"message,omitempty"`
	ChannelID       string          `json:"channel_id,omitempty"`
	FunctionID      string          `json:"function_id,omitempty"`
	Trace           []traceTermJSON `json:"trace,omitempty"`
	EvaluationError string          `json:"evaluation_error,omitempty"`
}

func (s EnableState) MarshalJSON() ([]byte, error) {
	if s.IsEnabled() {
		return json.Marshal(enableStateJSON{Enabled: true})
	}

	out := enableStateJSON{Reason: s.Reason.Kind(), Message: Describe(s.Reason)}
	switch r := s.Reason.(type) {
	case FulfillmentTypeDisabled:
		out.ChannelID = r.ChannelID
	case FunctionConstraintFailed:
		out.FunctionID = r.FunctionID
		out.EvaluationError = r.EvaluationError
		for _, term := range r.Trace {
			out.Trace = append(out.Trace, traceTermJSON{Node: expr.Encode(term.Node), Want: term.Want, Join: term.Join})
		}
	}
	return json.Marshal(out)
}

func (s *EnableState) UnmarshalJSON(data []byte) error {
	var in enableStateJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	if in.Enabled {
		*s = Enabled()
		return nil
	}

	var r Reason
	switch in.Reason {
	case KindTimeDisabled:
		r = TimeDisabled{}
	case KindBlanketDisabled:
		r = BlanketDisabled{}
	case KindFlavorLimitExceeded:
		r = FlavorLimitExceeded{}
	case KindWeightLimitExceeded:
		r = WeightLimitExceeded{}
	case KindFulfillmentTypeDisabled:
		r = FulfillmentTypeDisabled{ChannelID: in.ChannelID}
	case KindSplittingNotAllowed:
		r = SplittingNotAllowed{}
	case KindSplitDifferentialExceeded:
		r = SplitDifferentialExceeded{}
	case KindMaximumOfTypeExceeded:
		r = MaximumOfTypeExceeded{}
	case KindFunctionConstraintFailed:
		failed := FunctionConstraintFailed{FunctionID: in.FunctionID, EvaluationError: in.EvaluationError}
		for _, term := range in.Trace {
			node, err := expr.Decode(term.Node)
			if err != nil {
				return err
			}
			failed.Trace = append(failed.Trace, expr.Term{Node: node, Want: term.Want, Join: term.Join})
		}
		if len(failed.Trace) > 0 {
			failed.Explanation = in.Message
		}
		r = failed
	default:
		return fmt.Errorf("unknown disable reason %q", in.Reason)
	}
	*s = Disabled(r)
	return nil
}
