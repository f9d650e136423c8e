package cart

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSameConfiguration(t *testing.T) {
	base := LineItem{MenuItemID: "sandwich-1", SelectedOptions: []SelectedOption{
		{OptionID: "bread-type", ChoiceIDs: []string{"white"}},
		{OptionID: "extras", ChoiceIDs: []string{"extra-cheese", "avocado"}},
	}}
	cases := []struct {
		name string
		opts []SelectedOption
		item string
		want bool
	}{
		{"identical", base.SelectedOptions, "sandwich-1", true},
		{"choice order", []SelectedOption{
			{OptionID: "bread-type", ChoiceIDs: []string{"white"}},
			{OptionID: "extras", ChoiceIDs: []string{"avocado", "extra-cheese"}},
		}, "sandwich-1", true},
		{"group order and empty group", []SelectedOption{
			{OptionID: "extras", ChoiceIDs: []string{"avocado", "extra-cheese"}},
			{OptionID: "sauce"},
			{OptionID: "bread-type", ChoiceIDs: []string{"white"}},
		}, "sandwich-1", true},
		{"split group", []SelectedOption{
			{OptionID: "bread-type", ChoiceIDs: []string{"white"}},
			{OptionID: "extras", ChoiceIDs: []string{"avocado"}},
			{OptionID: "extras", ChoiceIDs: []string{"extra-cheese"}},
		}, "sandwich-1", true},
		{"missing choice", []SelectedOption{
			{OptionID: "bread-type", ChoiceIDs: []string{"white"}},
			{OptionID: "extras", ChoiceIDs: []string{"avocado"}},
		}, "sandwich-1", false},
		{"other choice", []SelectedOption{
			{OptionID: "bread-type", ChoiceIDs: []string{"brown"}},
			{OptionID: "extras", ChoiceIDs: []string{"extra-cheese", "avocado"}},
		}, "sandwich-1", false},
		{"other item", base.SelectedOptions, "sandwich-2", false},
		{"no options", nil, "sandwich-1", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			other := LineItem{MenuItemID: tc.item, SelectedOptions: tc.opts}
			require.Equal(t, tc.want, sameConfiguration(base, other))
			require.Equal(t, tc.want, sameConfiguration(other, base))
		})
	}

	require.True(t, sameConfiguration(LineItem{MenuItemID: "x"}, LineItem{MenuItemID: "x", SelectedOptions: []SelectedOption{}}))
}
