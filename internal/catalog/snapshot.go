package catalog

import (
	"cmp"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/matt-riley/orderz/internal/expr"
)

// Snapshot is an immutable, validated view of the catalog at one instant.
// Entity values returned by its accessors share slices with the snapshot and
// must not be mutated.
type Snapshot struct {
	at        time.Time
	versionID uuid.UUID

	products      map[string]Product
	modifierTypes map[string]ModifierType
	options       map[string]ModifierOption
	optionsByType map[string][]string
	functions     map[string]Function
	fulfillments  map[string]Fulfillment
}

// NewSnapshot builds and validates a snapshot from a set of entities.
func NewSnapshot(at time.Time, entities []Entity) (*Snapshot, error) {
	s := &Snapshot{
		at:            at,
		products:      make(map[string]Product),
		modifierTypes: make(map[string]ModifierType),
		options:       make(map[string]ModifierOption),
		optionsByType: make(map[string][]string),
		functions:     make(map[string]Function),
		fulfillments:  make(map[string]Fulfillment),
	}

	for _, entity := range entities {
		if err := s.add(entity); err != nil {
			return nil, err
		}
	}
	for typeID, ids := range s.optionsByType {
		slices.SortFunc(ids, func(a, b string) int {
			return cmp.Or(cmp.Compare(s.options[a].Ordinal, s.options[b].Ordinal), cmp.Compare(a, b))
		})
		s.optionsByType[typeID] = ids
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Snapshot) add(entity Entity) error {
	id := entity.EntityID()
	duplicate := func() error {
		return integrityf(entity.EntityKind(), id, "defined more than once")
	}

	switch e := entity.(type) {
	case Product:
		if _, ok := s.products[id]; ok {
			return duplicate()
		}
		s.products[id] = e
	case ModifierType:
		if _, ok := s.modifierTypes[id]; ok {
			return duplicate()
		}
		s.modifierTypes[id] = e
	case ModifierOption:
		if _, ok := s.options[id]; ok {
			return duplicate()
		}
		s.options[id] = e
		s.optionsByType[e.ModifierTypeID] = append(s.optionsByType[e.ModifierTypeID], id)
	case Function:
		if _, ok := s.functions[id]; ok {
			return duplicate()
		}
		s.functions[id] = e
	case Fulfillment:
		if _, ok := s.fulfillments[id]; ok {
			return duplicate()
		}
		s.fulfillments[id] = e
	}
	return nil
}

func (s *Snapshot) validate() error {
	for _, id := range sortedKeys(s.modifierTypes) {
		mt := s.modifierTypes[id]
		if mt.MinSelected < 0 || mt.MaxSelected < 0 {
			return integrityf(KindModifierType, id, "negative selection bounds")
		}
		if mt.MaxSelected > 0 && mt.MinSelected > mt.MaxSelected {
			return integrityf(KindModifierType, id, "min_selected %d exceeds max_selected %d", mt.MinSelected, mt.MaxSelected)
		}
		if mt.DisplayAs == DisplayToggle {
			if mt.MinSelected != 1 || mt.MaxSelected != 1 || len(s.optionsByType[id]) != 2 {
				return integrityf(KindModifierType, id, "toggle requires exactly one selection out of two options")
			}
		}
	}

	for _, id := range sortedKeys(s.options) {
		option := s.options[id]
		if _, ok := s.modifierTypes[option.ModifierTypeID]; !ok {
			return integrityf(KindOption, id, "unknown modifier type %q", option.ModifierTypeID)
		}
		if option.EnableFunctionID != "" {
			if _, ok := s.functions[option.EnableFunctionID]; !ok {
				return integrityf(KindOption, id, "unknown enable function %q", option.EnableFunctionID)
			}
		}
	}

	for _, id := range sortedKeys(s.functions) {
		if err := s.validateFunction(s.functions[id]); err != nil {
			return err
		}
	}

	for _, id := range sortedKeys(s.products) {
		for _, typeID := range s.products[id].Modifiers {
			if _, ok := s.modifierTypes[typeID]; !ok {
				return integrityf(KindProduct, id, "unknown modifier type %q", typeID)
			}
		}
	}

	for _, id := range sortedKeys(s.fulfillments) {
		for _, optionID := range s.fulfillments[id].ExcludedOptionIDs {
			if _, ok := s.options[optionID]; !ok {
				return integrityf(KindFulfillment, id, "unknown excluded option %q", optionID)
			}
		}
	}
	return nil
}

func (s *Snapshot) validateFunction(fn Function) error {
	if fn.Expression == nil {
		return integrityf(KindFunction, fn.ID, "missing expression")
	}

	var err error
	expr.Walk(fn.Expression, func(node expr.Node) bool {
		switch n := node.(type) {
		case expr.HasOption:
			option, ok := s.options[n.OptionID]
			switch {
			case !ok:
				err = integrityf(KindFunction, fn.ID, "references unknown option %q", n.OptionID)
			case option.ModifierTypeID != n.ModifierTypeID:
				err = integrityf(KindFunction, fn.ID, "option %q does not belong to modifier type %q", n.OptionID, n.ModifierTypeID)
			}
		case expr.HasAnyOf:
			if _, ok := s.modifierTypes[n.ModifierTypeID]; !ok {
				err = integrityf(KindFunction, fn.ID, "references unknown modifier type %q", n.ModifierTypeID)
			}
		}
		return err == nil
	})
	return err
}

func (s *Snapshot) At() time.Time { return s.at }

// VersionID is the catalog version the snapshot was taken for, or uuid.Nil
// for an ad hoc instant.
func (s *Snapshot) VersionID() uuid.UUID { return s.versionID }

func (s *Snapshot) withVersion(id uuid.UUID) *Snapshot {
	clone := *s
	clone.versionID = id
	return &clone
}

func (s *Snapshot) Product(id string) (Product, bool) {
	p, ok := s.products[id]
	return p, ok
}

func (s *Snapshot) ModifierType(id string) (ModifierType, bool) {
	mt, ok := s.modifierTypes[id]
	return mt, ok
}

func (s *Snapshot) Option(id string) (ModifierOption, bool) {
	o, ok := s.options[id]
	return o, ok
}

// OptionsOf returns the options of a modifier type ordered by ordinal.
func (s *Snapshot) OptionsOf(modifierTypeID string) []ModifierOption {
	ids := s.optionsByType[modifierTypeID]
	options := make([]ModifierOption, 0, len(ids))
	for _, id := range ids {
		options = append(options, s.options[id])
	}
	return options
}

func (s *Snapshot) Function(id string) (Function, bool) {
	fn, ok := s.functions[id]
	return fn, ok
}

func (s *Snapshot) Fulfillment(id string) (Fulfillment, bool) {
	f, ok := s.fulfillments[id]
	return f, ok
}

// OptionName implements expr.Namer.
func (s *Snapshot) OptionName(modifierTypeID, optionID string) string {
	o, ok := s.options[optionID]
	if !ok || o.ModifierTypeID != modifierTypeID {
		return ""
	}
	return o.Name
}

// ModifierTypeName implements expr.Namer.
func (s *Snapshot) ModifierTypeName(modifierTypeID string) string {
	mt, ok := s.modifierTypes[modifierTypeID]
	if !ok {
		return ""
	}
	return mt.Label()
}

var _ expr.Namer = (*Snapshot)(nil)

// Export is the serializable form of a snapshot, ordered by id.
type Export struct {
	VersionID     *uuid.UUID       `json:"version_id,omitempty"`
	At            time.Time        `json:"at"`
	Products      []Product        `json:"products"`
	ModifierTypes []ModifierType   `json:"modifier_types"`
	Options       []ModifierOption `json:"options"`
	Functions     []Function       `json:"functions"`
	Fulfillments  []Fulfillment    `json:"fulfillments"`
}

func (s *Snapshot) Export() Export {
	export := Export{
		At:            s.at,
		Products:      sortedValues(s.products),
		ModifierTypes: sortedValues(s.modifierTypes),
		Options:       sortedValues(s.options),
		Functions:     sortedValues(s.functions),
		Fulfillments:  sortedValues(s.fulfillments),
	}
	if s.versionID != uuid.Nil {
		id := s.versionID
		export.VersionID = &id
	}
	return export
}

// Entities returns every entity in the snapshot.
func (s *Snapshot) Entities() []Entity {
	export := s.Export()
	entities := make([]Entity, 0, len(s.products)+len(s.modifierTypes)+len(s.options)+len(s.functions)+len(s.fulfillments))
	for _, v := range export.Fulfillments {
		entities = append(entities, v)
	}
	for _, v := range export.Functions {
		entities = append(entities, v)
	}
	for _, v := range export.ModifierTypes {
		entities = append(entities, v)
	}
	for _, v := range export.Options {
		entities = append(entities, v)
	}
	for _, v := range export.Products {
		entities = append(entities, v)
	}
	return entities
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func sortedValues[V any](m map[string]V) []V {
	values := make([]V, 0, len(m))
	for _, k := range sortedKeys(m) {
		values = append(values, m[k])
	}
	return values
}
