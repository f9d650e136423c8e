// Command menulint validates a menu file before it is deployed with MENU_FILE.
//
//	menulint [-json] [path]
//
// Without a path it checks MENU_FILE, or the built-in menu when that is unset.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"

	"github.com/noah-isme/backend-lunch/internal/catalog"
	"github.com/noah-isme/backend-lunch/internal/obs"
	"github.com/noah-isme/backend-lunch/internal/pricing"
)

type categorySummary struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Items    int    `json:"items"`
	MinPrice string `json:"minPrice,omitempty"`
	MaxPrice string `json:"maxPrice,omitempty"`
}

type report struct {
	Source     string            `json:"source"`
	Items      int               `json:"items"`
	Categories []categorySummary `json:"categories"`
	Warnings   []string          `json:"warnings,omitempty"`
}

func main() {
	asJSON := flag.Bool("json", false, "print the summary as JSON")
	flag.Parse()

	_ = godotenv.Load()
	logger := obs.NewLogger("console", "info")

	path := flag.Arg(0)
	if path == "" {
		path = os.Getenv("MENU_FILE")
	}
	menu, source, err := load(path)
	if err != nil {
		logger.Error().Err(err).Str("source", source).Msg("menu is invalid")
		os.Exit(1)
	}

	rep := summarize(menu, source)
	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(rep); err != nil {
			logger.Fatal().Err(err).Msg("encode report")
		}
	} else {
		printReport(os.Stdout, rep)
	}
	for _, w := range rep.Warnings {
		logger.Warn().Msg(w)
	}
	logger.Info().Int("items", rep.Items).Msg("menu ok")
}

func load(path string) (*catalog.Catalog, string, error) {
	if path == "" {
		c, err := catalog.Default()
		return c, "built-in", err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, path, err
	}
	defer f.Close()
	c, err := catalog.Load(f)
	return c, path, err
}

func summarize(menu *catalog.Catalog, source string) report {
	rep := report{Source: source, Items: len(menu.Items())}
	for _, cat := range menu.Categories() {
		items := menu.ItemsByCategory(cat.ID)
		sum := categorySummary{ID: cat.ID, Name: cat.Name, Items: len(items)}
		if len(items) == 0 {
			rep.Warnings = append(rep.Warnings, fmt.Sprintf("category %q has no items", cat.ID))
		} else {
			lo, hi := items[0].Price, items[0].Price
			for _, it := range items[1:] {
				if it.Price.LessThan(lo) {
					lo = it.Price
				}
				if it.Price.GreaterThan(hi) {
					hi = it.Price
				}
			}
			sum.MinPrice = pricing.Format(lo)
			sum.MaxPrice = pricing.Format(hi)
		}
		for _, it := range items {
			for _, g := range it.Options {
				if g.MaxSelections > len(g.Choices) {
					rep.Warnings = append(rep.Warnings, fmt.Sprintf("item %q: option %q allows %d selections but offers %d choices", it.ID, g.ID, g.MaxSelections, len(g.Choices)))
				}
			}
		}
		rep.Categories = append(rep.Categories, sum)
	}
	return rep
}

func printReport(w io.Writer, rep report) {
	fmt.Fprintf(w, "menu %s: %d items in %d categories\n", rep.Source, rep.Items, len(rep.Categories))
	for _, c := range rep.Categories {
		if c.Items == 0 {
			fmt.Fprintf(w, "  %-12s %-24s empty\n", c.ID, c.Name)
			continue
		}
		fmt.Fprintf(w, "  %-12s %-24s %2d items  %s - %s\n", c.ID, c.Name, c.Items, c.MinPrice, c.MaxPrice)
	}
}
