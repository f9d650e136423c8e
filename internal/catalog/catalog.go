// Package catalog holds the immutable lunch menu: categories, items and the
// option groups that customise them.
package catalog

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/noah-isme/backend-lunch/internal/pricing"
)

//go:embed menu.yaml
var defaultMenu []byte

// ErrInvalidMenu wraps every menu loading failure.
var ErrInvalidMenu = errors.New("catalog: invalid menu")

// Category groups menu items.
type Category struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Image       string `json:"image,omitempty"`
}

// Choice is one selectable entry of an option group. Price is the delta added
// to the item's base price.
type Choice struct {
	ID    string        `json:"id"`
	Name  string        `json:"name"`
	Price pricing.Money `json:"price"`
}

// OptionGroup is a named set of choices. MaxSelections of zero means unlimited.
type OptionGroup struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Required      bool     `json:"required"`
	MaxSelections int      `json:"maxSelections,omitempty"`
	Choices       []Choice `json:"choices"`
}

// Choice looks up a choice by id.
func (g OptionGroup) Choice(id string) (Choice, bool) {
	for _, c := range g.Choices {
		if c.ID == id {
			return c, true
		}
	}
	return Choice{}, false
}

// Item is an orderable menu entry.
type Item struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Price       pricing.Money `json:"price"`
	Image       string        `json:"image,omitempty"`
	Category    string        `json:"category"`
	Tags        []string      `json:"tags,omitempty"`
	Options     []OptionGroup `json:"options,omitempty"`
}

// Option looks up an option group by id.
func (it Item) Option(id string) (OptionGroup, bool) {
	for _, g := range it.Options {
		if g.ID == id {
			return g, true
		}
	}
	return OptionGroup{}, false
}

// Catalog is a read-only menu. The zero value is an empty catalog.
type Catalog struct {
	categories []Category
	items      []Item
	itemIdx    map[string]int
	catIdx     map[string]int
}

// Categories returns all categories in menu order.
func (c *Catalog) Categories() []Category {
	return append([]Category(nil), c.categories...)
}

// Items returns all items in menu order.
func (c *Catalog) Items() []Item {
	return append([]Item(nil), c.items...)
}

// ItemsByCategory returns the items of a category in menu order. Unknown
// categories yield an empty slice.
func (c *Catalog) ItemsByCategory(categoryID string) []Item {
	out := make([]Item, 0)
	for _, it := range c.items {
		if it.Category == categoryID {
			out = append(out, it)
		}
	}
	return out
}

// ItemByID looks up an item.
func (c *Catalog) ItemByID(id string) (Item, bool) {
	i, ok := c.itemIdx[id]
	if !ok {
		return Item{}, false
	}
	return c.items[i], true
}

// CategoryByID looks up a category.
func (c *Catalog) CategoryByID(id string) (Category, bool) {
	i, ok := c.catIdx[id]
	if !ok {
		return Category{}, false
	}
	return c.categories[i], true
}

// Default returns the embedded menu.
func Default() (*Catalog, error) {
	return Load(bytes.NewReader(defaultMenu))
}

// MustDefault is Default for wiring code that cannot continue without a menu.
func MustDefault() *Catalog {
	c, err := Default()
	if err != nil {
		panic(err)
	}
	return c
}

type rawMenu struct {
	Categories []rawCategory `yaml:"categories" validate:"required,dive"`
	Items      []rawItem     `yaml:"items" validate:"dive"`
}

type rawCategory struct {
	ID          string `yaml:"id" validate:"required"`
	Name        string `yaml:"name" validate:"required"`
	Description string `yaml:"description"`
	Image       string `yaml:"image" validate:"omitempty,url"`
}

type rawItem struct {
	ID          string      `yaml:"id" validate:"required"`
	Name        string      `yaml:"name" validate:"required"`
	Description string      `yaml:"description"`
	Price       string      `yaml:"price" validate:"required"`
	Image       string      `yaml:"image" validate:"omitempty,url"`
	Category    string      `yaml:"category" validate:"required"`
	Tags        []string    `yaml:"tags"`
	Options     []rawOption `yaml:"options" validate:"dive"`
}

type rawOption struct {
	ID            string      `yaml:"id" validate:"required"`
	Name          string      `yaml:"name" validate:"required"`
	Required      bool        `yaml:"required"`
	MaxSelections int         `yaml:"maxSelections" validate:"gte=0"`
	Choices       []rawChoice `yaml:"choices" validate:"required,min=1,dive"`
}

type rawChoice struct {
	ID    string `yaml:"id" validate:"required"`
	Name  string `yaml:"name" validate:"required"`
	Price string `yaml:"price"`
}

var validate = validator.New()

// Load parses and validates a YAML menu.
func Load(r io.Reader) (*Catalog, error) {
	var raw rawMenu
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrInvalidMenu, err)
	}
	if err := validate.Struct(raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMenu, err)
	}

	c := &Catalog{
		itemIdx: make(map[string]int, len(raw.Items)),
		catIdx:  make(map[string]int, len(raw.Categories)),
	}
	for _, rc := range raw.Categories {
		if _, dup := c.catIdx[rc.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate category %q", ErrInvalidMenu, rc.ID)
		}
		c.catIdx[rc.ID] = len(c.categories)
		c.categories = append(c.categories, Category(rc))
	}
	for _, ri := range raw.Items {
		item, err := buildItem(ri)
		if err != nil {
			return nil, err
		}
		if _, dup := c.itemIdx[item.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate item %q", ErrInvalidMenu, item.ID)
		}
		if _, ok := c.catIdx[item.Category]; !ok {
			return nil, fmt.Errorf("%w: item %q references unknown category %q", ErrInvalidMenu, item.ID, item.Category)
		}
		c.itemIdx[item.ID] = len(c.items)
		c.items = append(c.items, item)
	}
	return c, nil
}

func buildItem(ri rawItem) (Item, error) {
	price, err := parsePrice(ri.Price)
	if err != nil {
		return Item{}, fmt.Errorf("%w: item %q: %v", ErrInvalidMenu, ri.ID, err)
	}
	item := Item{
		ID:          ri.ID,
		Name:        ri.Name,
		Description: ri.Description,
		Price:       price,
		Image:       ri.Image,
		Category:    ri.Category,
		Tags:        ri.Tags,
	}
	seenOpts := make(map[string]struct{}, len(ri.Options))
	for _, ro := range ri.Options {
		if _, dup := seenOpts[ro.ID]; dup {
			return Item{}, fmt.Errorf("%w: item %q: duplicate option %q", ErrInvalidMenu, ri.ID, ro.ID)
		}
		seenOpts[ro.ID] = struct{}{}
		group := OptionGroup{ID: ro.ID, Name: ro.Name, Required: ro.Required, MaxSelections: ro.MaxSelections}
		seenChoices := make(map[string]struct{}, len(ro.Choices))
		for _, rch := range ro.Choices {
			if _, dup := seenChoices[rch.ID]; dup {
				return Item{}, fmt.Errorf("%w: item %q option %q: duplicate choice %q", ErrInvalidMenu, ri.ID, ro.ID, rch.ID)
			}
			seenChoices[rch.ID] = struct{}{}
			delta, err := parsePrice(rch.Price)
			if err != nil {
				return Item{}, fmt.Errorf("%w: item %q choice %q: %v", ErrInvalidMenu, ri.ID, rch.ID, err)
			}
			group.Choices = append(group.Choices, Choice{ID: rch.ID, Name: rch.Name, Price: delta})
		}
		item.Options = append(item.Options, group)
	}
	return item, nil
}

func parsePrice(raw string) (pricing.Money, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return pricing.Zero, nil
	}
	m, err := pricing.Parse(raw)
	if err != nil {
		return pricing.Zero, fmt.Errorf("price %q: %w", raw, err)
	}
	if m.IsNegative() {
		return pricing.Zero, fmt.Errorf("price %q is negative", raw)
	}
	return m, nil
}
