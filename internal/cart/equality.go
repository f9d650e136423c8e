package cart

// configuration is the set of chosen choice ids per option group. Groups
// without choices are left out.
type configuration map[string]map[string]struct{}

func configurationOf(opts []SelectedOption) configuration {
	cfg := make(configuration, len(opts))
	for _, opt := range opts {
		for _, id := range opt.ChoiceIDs {
			set, ok := cfg[opt.OptionID]
			if !ok {
				set = make(map[string]struct{}, len(opt.ChoiceIDs))
				cfg[opt.OptionID] = set
			}
			set[id] = struct{}{}
		}
	}
	return cfg
}

func (c configuration) equal(other configuration) bool {
	if len(c) != len(other) {
		return false
	}
	for group, choices := range c {
		theirs, ok := other[group]
		if !ok || len(theirs) != len(choices) {
			return false
		}
		for id := range choices {
			if _, ok := theirs[id]; !ok {
				return false
			}
		}
	}
	return true
}

// sameConfiguration reports whether two lines reference the same menu item
// with the same selected choices. Ordering of groups and choices is ignored.
func sameConfiguration(a, b LineItem) bool {
	if a.MenuItemID != b.MenuItemID {
		return false
	}
	return configurationOf(a.SelectedOptions).equal(configurationOf(b.SelectedOptions))
}
