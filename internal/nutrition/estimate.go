package nutrition

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// fallbackConfidence marks estimates produced without any real food data.
const fallbackConfidence = 0.3

// unitGrams converts a quantity unit to grams. Anything not listed is
// treated as a 100g-equivalent serving.
var unitGrams = map[string]float64{
	"g":          1,
	"gram":       1,
	"grams":      1,
	"kg":         1000,
	"oz":         28.35,
	"ounce":      28.35,
	"ounces":     28.35,
	"lb":         453.59,
	"lbs":        453.59,
	"pound":      453.59,
	"pounds":     453.59,
	"cup":        240,
	"cups":       240,
	"tbsp":       15,
	"tablespoon": 15,
	"tsp":        5,
	"teaspoon":   5,
	"slice":      30,
	"slices":     30,
	"piece":      50,
	"pieces":     50,
	"pc":         50,
	"count":      50,
}

const defaultUnitGrams = 100

// Generic macro densities per gram for a mixed meal. Deliberately crude:
// the point of the fallback is a plausible order of magnitude, signalled as
// low confidence, not accuracy.
const (
	kcalPerGram    = 2.5
	proteinPerGram = 0.15
	carbsPerGram   = 0.25
	fatPerGram     = 0.08
)

// Estimate produces a low-confidence macro estimate from nothing but the
// item's quantity and unit.
func Estimate(item Item) ResolvedItem {
	qty := item.Qty
	if qty <= 0 {
		qty = 1
	}
	perUnit, ok := unitGrams[strings.ToLower(item.Unit)]
	if !ok {
		perUnit = defaultUnitGrams
	}
	grams := round1(perUnit * qty)

	return ResolvedItem{
		Name:       item.Name,
		Qty:        qty,
		Unit:       item.Unit,
		GramsUsed:  grams,
		Kcal:       math.Round(grams * kcalPerGram),
		ProteinG:   round1(grams * proteinPerGram),
		CarbsG:     round1(grams * carbsPerGram),
		FatG:       round1(grams * fatPerGram),
		Confidence: fallbackConfidence,
		Source:     "fallback",
	}
}

// EstimateMeal estimates every item and sums the totals.
func EstimateMeal(items []Item) Meal {
	meal := Meal{Items: make([]ResolvedItem, 0, len(items))}
	for _, item := range items {
		resolved := Estimate(item)
		meal.Items = append(meal.Items, resolved)
		meal.Totals.Kcal += resolved.Kcal
		meal.Totals.ProteinG += resolved.ProteinG
		meal.Totals.CarbsG += resolved.CarbsG
		meal.Totals.FatG += resolved.FatG
	}
	meal.Totals.ProteinG = round1(meal.Totals.ProteinG)
	meal.Totals.CarbsG = round1(meal.Totals.CarbsG)
	meal.Totals.FatG = round1(meal.Totals.FatG)
	return meal
}

func round1(n float64) float64 {
	return math.Max(0, math.Round(n*10)/10)
}

// quantityPattern matches a leading quantity and optional unit,
// e.g. "10 oz steak", "3 slices bacon", "2 eggs".
var quantityPattern = regexp.MustCompile(`^(\d+(?:\.\d+)?)\s*(g|grams?|kg|oz|ounces?|lbs?|pounds?|cups?|tbsp|tablespoons?|tsp|teaspoons?|slices?|pieces?|pc)?\.?\s+(.+)$`)

// ParseQuantity splits a natural-language food phrase into quantity, unit
// and name. Phrases with no leading number default to one serving.
func ParseQuantity(phrase string) Item {
	phrase = strings.TrimSpace(phrase)
	m := quantityPattern.FindStringSubmatch(strings.ToLower(phrase))
	if m == nil {
		return Item{Name: phrase, Qty: 1}
	}
	qty, err := strconv.ParseFloat(m[1], 64)
	if err != nil || qty <= 0 {
		qty = 1
	}
	return Item{Name: strings.TrimSpace(m[3]), Qty: qty, Unit: m[2]}
}
