package catalog

import (
	"errors"
	"fmt"
	"strings"

	"github.com/noah-isme/backend-lunch/internal/order"
	"github.com/noah-isme/backend-lunch/internal/pricing"
)

// ErrItemNotFound is returned when an item id is not on the menu.
var ErrItemNotFound = errors.New("catalog: item not found")

// Problem reasons reported by ValidateSelection.
const (
	ReasonRequired      = "required"
	ReasonTooMany       = "too_many"
	ReasonUnknownOption = "unknown_option"
	ReasonUnknownChoice = "unknown_choice"
)

// SelectionProblem describes one rejected option group.
type SelectionProblem struct {
	OptionID string `json:"optionId"`
	Name     string `json:"name,omitempty"`
	Reason   string `json:"reason"`
	ChoiceID string `json:"choiceId,omitempty"`
	Max      int    `json:"max,omitempty"`
}

// SelectionError lists every problem found in a selection.
type SelectionError struct {
	ItemID   string             `json:"itemId"`
	Problems []SelectionProblem `json:"problems"`
}

func (e *SelectionError) Error() string {
	parts := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		parts = append(parts, p.OptionID+": "+p.Reason)
	}
	return fmt.Sprintf("catalog: invalid selection for %s (%s)", e.ItemID, strings.Join(parts, ", "))
}

// ValidateSelection checks selections against the item's option groups: every
// required group has a choice, no group exceeds its maximum and every id exists.
func ValidateSelection(item Item, selections []order.SelectedOption) error {
	chosen := make(map[string][]string, len(selections))
	var problems []SelectionProblem
	for _, sel := range selections {
		group, ok := item.Option(sel.OptionID)
		if !ok {
			problems = append(problems, SelectionProblem{OptionID: sel.OptionID, Reason: ReasonUnknownOption})
			continue
		}
		for _, id := range uniqueIDs(sel.ChoiceIDs) {
			if _, ok := group.Choice(id); !ok {
				problems = append(problems, SelectionProblem{OptionID: group.ID, Name: group.Name, Reason: ReasonUnknownChoice, ChoiceID: id})
				continue
			}
			chosen[group.ID] = append(chosen[group.ID], id)
		}
	}
	for _, group := range item.Options {
		n := len(uniqueIDs(chosen[group.ID]))
		if group.Required && n == 0 {
			problems = append(problems, SelectionProblem{OptionID: group.ID, Name: group.Name, Reason: ReasonRequired})
		}
		if group.MaxSelections > 0 && n > group.MaxSelections {
			problems = append(problems, SelectionProblem{OptionID: group.ID, Name: group.Name, Reason: ReasonTooMany, Max: group.MaxSelections})
		}
	}
	if len(problems) > 0 {
		return &SelectionError{ItemID: item.ID, Problems: problems}
	}
	return nil
}

// Resolved is an item priced for a concrete selection.
type Resolved struct {
	Item       Item
	UnitPrice  pricing.Money
	Selections []order.SelectedOption
}

// Resolve prices an item for the given selections: the base price plus the
// delta of every selected choice. Unknown groups and choices add nothing and
// are dropped from the returned selections, as are empty groups.
func (c *Catalog) Resolve(itemID string, selections []order.SelectedOption) (Resolved, error) {
	item, ok := c.ItemByID(itemID)
	if !ok {
		return Resolved{}, fmt.Errorf("%w: %s", ErrItemNotFound, itemID)
	}
	var deltas []pricing.Money
	var kept []order.SelectedOption
	for _, sel := range selections {
		group, ok := item.Option(sel.OptionID)
		if !ok {
			continue
		}
		var ids []string
		for _, id := range uniqueIDs(sel.ChoiceIDs) {
			choice, ok := group.Choice(id)
			if !ok {
				continue
			}
			deltas = append(deltas, choice.Price)
			ids = append(ids, id)
		}
		if len(ids) > 0 {
			kept = append(kept, order.SelectedOption{OptionID: group.ID, ChoiceIDs: ids})
		}
	}
	return Resolved{Item: item, UnitPrice: pricing.Sum(item.Price, deltas...), Selections: kept}, nil
}

func uniqueIDs(ids []string) []string {
	if len(ids) < 2 {
		return ids
	}
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
