package ingest

import (
	"fmt"
	"strings"

	"github.com/samber/lo"

	"clinkerplan/internal/store"
)

// filenameHints maps source-descriptor keywords to a canonical table. Checked
// in order: more specific keywords first so "plant_capacity.csv" resolves to
// capacity, not plants, and "safety_stock.xlsx" to policy, not inventory.
var filenameHints = []struct {
	keywords []string
	table    string
}{
	{[]string{"safety", "policy"}, store.TablePolicy},
	{[]string{"capacity", "production_cost"}, store.TableCapacity},
	{[]string{"route", "transport", "lane"}, store.TableRoutes},
	{[]string{"demand", "forecast", "sales"}, store.TableDemand},
	{[]string{"inventory", "stock", "opening"}, store.TableInventory},
	{[]string{"plant", "site", "location"}, store.TablePlants},
}

// resolveTarget decides the canonical target table. An explicit target wins
// but must name a canonical table. Otherwise the filename heuristic picks a
// candidate which is cross-checked against required-column presence; if the
// heuristic fails, a unique required-column match across all tables is
// accepted.
func resolveTarget(explicit, sourceDescriptor string, sample Row) (string, error) {
	if explicit != "" {
		if _, ok := store.Spec(explicit); !ok {
			return "", fmt.Errorf("%w: %q is not a canonical table", ErrUnknownTarget, explicit)
		}
		return explicit, nil
	}

	if hinted := hintFromFilename(sourceDescriptor); hinted != "" {
		if hasRequiredColumns(hinted, sample) {
			return hinted, nil
		}
		// Heuristic contradicted by the columns; fall through to scanning.
	}

	matches := lo.Filter(store.CanonicalTables(), func(table string, _ int) bool {
		return hasRequiredColumns(table, sample)
	})
	if len(matches) == 1 {
		return matches[0], nil
	}
	if len(matches) > 1 {
		return "", fmt.Errorf("%w: columns match %v ambiguously", ErrUnknownTarget, matches)
	}
	return "", ErrUnknownTarget
}

func hintFromFilename(descriptor string) string {
	d := strings.ToLower(descriptor)
	for _, hint := range filenameHints {
		for _, kw := range hint.keywords {
			if strings.Contains(d, kw) {
				return hint.table
			}
		}
	}
	return ""
}

func hasRequiredColumns(table string, sample Row) bool {
	spec, ok := store.Spec(table)
	if !ok {
		return false
	}
	for _, col := range spec.Required {
		if _, present := sample[col]; !present {
			return false
		}
	}
	return true
}
