package catalog

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/matt-riley/orderz/internal/expr"
	"github.com/matt-riley/orderz/internal/money"
)

// EntityKind names a family of versioned catalog rows.
type EntityKind string

const (
	KindProduct      EntityKind = "product"
	KindModifierType EntityKind = "modifier_type"
	KindOption       EntityKind = "modifier_option"
	KindFunction     EntityKind = "function"
	KindFulfillment  EntityKind = "fulfillment"
)

// Kinds lists every entity kind.
var Kinds = []EntityKind{KindFulfillment, KindFunction, KindModifierType, KindOption, KindProduct}

func (k EntityKind) Valid() bool {
	return slices.Contains(Kinds, k)
}

// Entity is implemented by the catalog entity types only.
type Entity interface {
	EntityKind() EntityKind
	EntityID() string
}

// Interval is an explicit disabled period [Start, End). A Start after End
// disables the option indefinitely.
type Interval struct {
	Start time.Time `json:"start" yaml:"start"`
	End   time.Time `json:"end" yaml:"end"`
}

// Indefinite reports whether the interval is the "disabled until further
// notice" sentinel.
func (i Interval) Indefinite() bool {
	return i.Start.After(i.End)
}

func (i Interval) Contains(at time.Time) bool {
	if i.Indefinite() {
		return true
	}
	return !at.Before(i.Start) && at.Before(i.End)
}

// Window is a weekly recurring availability period in minutes from local
// midnight. An End at or before Start wraps past midnight. No weekdays means
// every day.
type Window struct {
	Weekdays    []time.Weekday `json:"weekdays,omitempty" yaml:"weekdays,omitempty"`
	StartMinute int            `json:"start_minute" yaml:"start_minute"`
	EndMinute   int            `json:"end_minute" yaml:"end_minute"`
}

// Contains reports whether at falls in the window. The part of a wrapping
// window after midnight belongs to the weekday it started on.
func (w Window) Contains(at time.Time) bool {
	minute := at.Hour()*60 + at.Minute()
	day := at.Weekday()
	switch {
	case w.EndMinute > w.StartMinute:
		if minute < w.StartMinute || minute >= w.EndMinute {
			return false
		}
	case minute >= w.StartMinute:
	case minute < w.EndMinute:
		day = at.AddDate(0, 0, -1).Weekday()
	default:
		return false
	}
	return len(w.Weekdays) == 0 || slices.Contains(w.Weekdays, day)
}

type ModifierOption struct {
	ID               string      `json:"id" yaml:"id"`
	ModifierTypeID   string      `json:"modifier_type_id" yaml:"modifier_type_id"`
	Name             string      `json:"name" yaml:"name"`
	ShortName        string      `json:"short_name,omitempty" yaml:"short_name,omitempty"`
	Description      string      `json:"description,omitempty" yaml:"description,omitempty"`
	Ordinal          int         `json:"ordinal" yaml:"ordinal"`
	Price            money.Money `json:"price" yaml:"price"`
	FlavorFactor     float64     `json:"flavor_factor,omitempty" yaml:"flavor_factor,omitempty"`
	BakeFactor       float64     `json:"bake_factor,omitempty" yaml:"bake_factor,omitempty"`
	CanSplit         bool        `json:"can_split,omitempty" yaml:"can_split,omitempty"`
	AllowHeavy       bool        `json:"allow_heavy,omitempty" yaml:"allow_heavy,omitempty"`
	AllowLite        bool        `json:"allow_lite,omitempty" yaml:"allow_lite,omitempty"`
	AllowOTS         bool        `json:"allow_ots,omitempty" yaml:"allow_ots,omitempty"`
	EnableFunctionID string      `json:"enable_function_id,omitempty" yaml:"enable_function_id,omitempty"`
	Disabled         *Interval   `json:"disabled,omitempty" yaml:"disabled,omitempty"`
	Availability     []Window    `json:"availability,omitempty" yaml:"availability,omitempty"`
}

func (o ModifierOption) EntityKind() EntityKind { return KindOption }
func (o ModifierOption) EntityID() string       { return o.ID }

// DisplayName prefers the short name used when composing product names.
func (o ModifierOption) DisplayName() string {
	if o.ShortName != "" {
		return o.ShortName
	}
	return o.Name
}

type DisplayAs string

const (
	DisplaySelect DisplayAs = "select"
	DisplayList   DisplayAs = "list"
	DisplayToggle DisplayAs = "toggle"
)

type ModifierType struct {
	ID          string    `json:"id" yaml:"id"`
	Name        string    `json:"name" yaml:"name"`
	DisplayName string    `json:"display_name,omitempty" yaml:"display_name,omitempty"`
	Ordinal     int       `json:"ordinal" yaml:"ordinal"`
	MinSelected int       `json:"min_selected" yaml:"min_selected"`
	MaxSelected int       `json:"max_selected" yaml:"max_selected"`
	DisplayAs   DisplayAs `json:"display_as,omitempty" yaml:"display_as,omitempty"`
	// Hidden types are never offered for customization.
	Hidden bool `json:"hidden,omitempty" yaml:"hidden,omitempty"`
	// OmitIfUnavailable drops the type from display when no option is selectable.
	OmitIfUnavailable bool `json:"omit_if_unavailable,omitempty" yaml:"omit_if_unavailable,omitempty"`
	// OmitFromName keeps the type's selections out of the composed product name.
	OmitFromName bool `json:"omit_from_name,omitempty" yaml:"omit_from_name,omitempty"`
}

func (t ModifierType) EntityKind() EntityKind { return KindModifierType }
func (t ModifierType) EntityID() string       { return t.ID }

func (t ModifierType) Label() string {
	if t.DisplayName != "" {
		return t.DisplayName
	}
	return t.Name
}

type Product struct {
	ID          string      `json:"id" yaml:"id"`
	Name        string      `json:"name" yaml:"name"`
	Description string      `json:"description,omitempty" yaml:"description,omitempty"`
	Price       money.Money `json:"price" yaml:"price"`
	// Modifiers are modifier type ids in display order.
	Modifiers []string `json:"modifiers,omitempty" yaml:"modifiers,omitempty"`
	// Weight limits; zero means unlimited.
	MaxFlavor           float64  `json:"max_flavor,omitempty" yaml:"max_flavor,omitempty"`
	MaxBake             float64  `json:"max_bake,omitempty" yaml:"max_bake,omitempty"`
	MaxBakeDifferential float64  `json:"max_bake_differential,omitempty" yaml:"max_bake_differential,omitempty"`
	CategoryIDs         []string `json:"category_ids,omitempty" yaml:"category_ids,omitempty"`
}

func (p Product) EntityKind() EntityKind { return KindProduct }
func (p Product) EntityID() string       { return p.ID }

// Function is a named enable-expression referenced by modifier options.
type Function struct {
	ID         string
	Name       string
	Expression expr.Node
}

func (f Function) EntityKind() EntityKind { return KindFunction }
func (f Function) EntityID() string       { return f.ID }

type functionJSON struct {
	ID         string       `json:"id"`
	Name       string       `json:"name"`
	Expression expr.Encoded `json:"expression"`
}

func (f Function) MarshalJSON() ([]byte, error) {
	return json.Marshal(functionJSON{ID: f.ID, Name: f.Name, Expression: expr.Encode(f.Expression)})
}

func (f *Function) UnmarshalJSON(data []byte) error {
	var raw functionJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	node, err := expr.Decode(raw.Expression)
	if err != nil {
		return fmt.Errorf("function %q: %w", raw.ID, err)
	}
	*f = Function{ID: raw.ID, Name: raw.Name, Expression: node}
	return nil
}

// Fulfillment is a fulfillment channel (pickup, delivery, dine-in) and the
// options it cannot serve.
type Fulfillment struct {
	ID                string   `json:"id" yaml:"id"`
	Name              string   `json:"name" yaml:"name"`
	ExcludedOptionIDs []string `json:"excluded_option_ids,omitempty" yaml:"excluded_option_ids,omitempty"`
}

func (f Fulfillment) EntityKind() EntityKind { return KindFulfillment }
func (f Fulfillment) EntityID() string       { return f.ID }

// Excludes reports whether the channel cannot serve the option.
func (f Fulfillment) Excludes(optionID string) bool {
	return slices.Contains(f.ExcludedOptionIDs, optionID)
}

// ProductInstance is a base product plus an ordered selection of options.
type ProductInstance struct {
	ProductID  string                `json:"product_id" yaml:"product_id"`
	Selections []expr.SelectedOption `json:"selections,omitempty" yaml:"selections,omitempty"`
}

// EncodeEntity serializes an entity for storage.
func EncodeEntity(entity Entity) (json.RawMessage, error) {
	body, err := json.Marshal(entity)
	if err != nil {
		return nil, fmt.Errorf("encode %s %q: %w", entity.EntityKind(), entity.EntityID(), err)
	}
	return body, nil
}

// DecodeEntity deserializes a stored entity of the given kind.
func DecodeEntity(kind EntityKind, body []byte) (Entity, error) {
	var (
		entity Entity
		err    error
	)
	switch kind {
	case KindProduct:
		var v Product
		err = json.Unmarshal(body, &v)
		entity = v
	case KindModifierType:
		var v ModifierType
		err = json.Unmarshal(body, &v)
		entity = v
	case KindOption:
		var v ModifierOption
		err = json.Unmarshal(body, &v)
		entity = v
	case KindFunction:
		var v Function
		err = json.Unmarshal(body, &v)
		entity = v
	case KindFulfillment:
		var v Fulfillment
		err = json.Unmarshal(body, &v)
		entity = v
	default:
		return nil, fmt.Errorf("decode entity: unknown kind %q", kind)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", kind, err)
	}
	return entity, nil
}
