package order

import (
	"sort"
	"strconv"
	"strings"

	"github.com/noah-isme/backend-lunch/internal/common"
)

// IdempotencyKey derives a stable key from the snapshot contents. Line ids are
// assigned when items enter the cart and disappear after a successful
// checkout, so resubmitting an unchanged cart reuses the key while a later
// order with the same dishes does not. The snapshot id and timestamp are
// excluded on purpose.
func IdempotencyKey(snap Snapshot) string {
	var b strings.Builder
	b.WriteString(snap.CartKey)
	b.WriteByte('|')
	b.WriteString(snap.Subtotal.String())
	for _, line := range snap.Items {
		b.WriteByte('|')
		b.WriteString(line.ID)
		b.WriteByte(';')
		b.WriteString(line.MenuItemID)
		b.WriteByte(';')
		b.WriteString(strconv.Itoa(line.Quantity))
		b.WriteByte(';')
		b.WriteString(line.Price.String())
		for _, opt := range canonicalOptions(line.SelectedOptions) {
			b.WriteByte(';')
			b.WriteString(opt.OptionID)
			b.WriteByte('=')
			b.WriteString(strings.Join(opt.ChoiceIDs, ","))
		}
	}
	return common.HashKey(b.String())
}

func canonicalOptions(opts []SelectedOption) []SelectedOption {
	out := make([]SelectedOption, 0, len(opts))
	for _, opt := range opts {
		if len(opt.ChoiceIDs) == 0 {
			continue
		}
		choices := append([]string(nil), opt.ChoiceIDs...)
		sort.Strings(choices)
		out = append(out, SelectedOption{OptionID: opt.OptionID, ChoiceIDs: choices})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OptionID < out[j].OptionID })
	return out
}
