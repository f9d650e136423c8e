package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-lunch/internal/catalog"
)

const sampleMenu = `
categories:
  - { id: soups, name: Soepen }
  - { id: empty, name: Leeg }
items:
  - id: soup-1
    name: Tomatensoep
    price: "3.50"
    category: soups
    options:
      - id: bread
        name: Brood
        maxSelections: 3
        choices:
          - { id: none, name: Geen, price: "0" }
  - id: soup-2
    name: Pompoensoep
    price: "4.00"
    category: soups
`

func TestSummarize(t *testing.T) {
	menu, err := catalog.Load(strings.NewReader(sampleMenu))
	require.NoError(t, err)

	rep := summarize(menu, "sample.yaml")
	require.Equal(t, 2, rep.Items)
	require.Len(t, rep.Categories, 2)
	require.Equal(t, categorySummary{ID: "soups", Name: "Soepen", Items: 2, MinPrice: "3.50", MaxPrice: "4.00"}, rep.Categories[0])
	require.Equal(t, 0, rep.Categories[1].Items)
	require.Len(t, rep.Warnings, 2)
	require.Contains(t, rep.Warnings[0], "offers 1 choices")
	require.Contains(t, rep.Warnings[1], `category "empty" has no items`)

	var out bytes.Buffer
	printReport(&out, rep)
	require.Contains(t, out.String(), "menu sample.yaml: 2 items in 2 categories")
	require.Contains(t, out.String(), "3.50 - 4.00")
}

func TestLoadBuiltIn(t *testing.T) {
	menu, source, err := load("")
	require.NoError(t, err)
	require.Equal(t, "built-in", source)
	require.NotEmpty(t, menu.Items())
}
