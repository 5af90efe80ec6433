// Package seed reads catalogs written as YAML documents and applies them to a
// catalog store.
//
// A seed looks like:
//
//	currency: USD
//	fulfillments:
//	  - {id: pickup, name: Pickup}
//	functions:
//	  - id: no_anchovies
//	    name: No anchovies
//	    expression:
//	      kind: logical
//	      op: not
//	      children:
//	        - {kind: has_option, modifier_type_id: toppings, option_id: anchovies}
//	modifier_types:
//	  - {id: crust, name: Crust, min_selected: 1, max_selected: 1}
//	options:
//	  - {id: thin, modifier_type_id: crust, name: Thin Crust, price: {amount: 0}}
//	products:
//	  - {id: pizza, name: Pizza, price: {amount: 1200}, modifiers: [crust]}
//
// Prices without a currency take the document currency.
package seed

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/matt-riley/orderz/internal/catalog"
	"github.com/matt-riley/orderz/internal/expr"
	"github.com/matt-riley/orderz/internal/money"
)

// ErrInvalidSeed is wrapped by every seed decoding failure.
var ErrInvalidSeed = errors.New("invalid seed")

type Catalog struct {
	Currency      string                   `yaml:"currency"`
	Fulfillments  []catalog.Fulfillment    `yaml:"fulfillments"`
	Functions     []Function               `yaml:"functions"`
	ModifierTypes []catalog.ModifierType   `yaml:"modifier_types"`
	Options       []catalog.ModifierOption `yaml:"options"`
	Products      []catalog.Product        `yaml:"products"`
}

// Function carries its expression in wire form until Entities decodes it.
type Function struct {
	ID         string       `yaml:"id"`
	Name       string       `yaml:"name"`
	Expression expr.Encoded `yaml:"expression"`
}

// Decode reads one YAML document. Unknown keys are rejected so typos do not
// silently drop catalog fields.
func Decode(r io.Reader) (*Catalog, error) {
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)

	var c Catalog
	if err := decoder.Decode(&c); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty document", ErrInvalidSeed)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidSeed, err)
	}
	if len(c.Currency) != 3 {
		return nil, fmt.Errorf("%w: currency %q is not an ISO 4217 code", ErrInvalidSeed, c.Currency)
	}
	return &c, nil
}

func ReadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed: %w", err)
	}
	c, err := Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Entities converts the document into catalog entities, filling default
// currencies and decoding function expressions.
func (c *Catalog) Entities() ([]catalog.Entity, error) {
	entities := make([]catalog.Entity, 0,
		len(c.Fulfillments)+len(c.Functions)+len(c.ModifierTypes)+len(c.Options)+len(c.Products))

	for _, f := range c.Fulfillments {
		entities = append(entities, f)
	}
	for _, f := range c.Functions {
		node, err := expr.Decode(f.Expression)
		if err != nil {
			return nil, fmt.Errorf("%w: function %q: %w", ErrInvalidSeed, f.ID, err)
		}
		entities = append(entities, catalog.Function{ID: f.ID, Name: f.Name, Expression: node})
	}
	for _, t := range c.ModifierTypes {
		entities = append(entities, t)
	}
	for _, o := range c.Options {
		price, err := c.price(o.Price)
		if err != nil {
			return nil, fmt.Errorf("option %q: %w", o.ID, err)
		}
		o.Price = price
		entities = append(entities, o)
	}
	for _, p := range c.Products {
		price, err := c.price(p.Price)
		if err != nil {
			return nil, fmt.Errorf("product %q: %w", p.ID, err)
		}
		p.Price = price
		entities = append(entities, p)
	}
	return entities, nil
}

func (c *Catalog) price(m money.Money) (money.Money, error) {
	if m.Currency == "" {
		return money.New(m.Amount, c.Currency), nil
	}
	price := money.New(m.Amount, m.Currency)
	if !money.SameCurrency(price, money.Zero(c.Currency)) {
		return money.Money{}, fmt.Errorf("%w: price currency %q differs from %q", ErrInvalidSeed, m.Currency, c.Currency)
	}
	return price, nil
}

// Apply puts every entity of the document in tx. Entities already open in the
// store are replaced; entities missing from the document are left alone.
func (c *Catalog) Apply(tx *catalog.Tx) error {
	entities, err := c.Entities()
	if err != nil {
		return err
	}
	for _, entity := range entities {
		if err := tx.Put(entity); err != nil {
			return fmt.Errorf("seed %s %q: %w", entity.EntityKind(), entity.EntityID(), err)
		}
	}
	return nil
}
