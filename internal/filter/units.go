package filter

import (
	"fmt"
	"strings"

	"github.com/nutrimind/coach-core/internal/model"
)

// thresholdSpec maps a diet tag to its message wording and built-in defaults.
// The enabled rule's condition overrides the numbers.
type thresholdSpec struct {
	DietType         string
	Label            string // used in warning strings ("Keto Alert")
	Adjective        string // used in annotation text ("your keto limit")
	DefaultMaxCarbs  float64
	DefaultItemCarbs float64 // 0 disables the per-item pass
}

var thresholdSpecs = []thresholdSpec{
	{DietType: "keto", Label: "Keto", Adjective: "keto", DefaultMaxCarbs: 20, DefaultItemCarbs: 5},
	{DietType: "low_carb", Label: "Low-Carb", Adjective: "low-carb", DefaultMaxCarbs: 100},
}

// thresholdUnit compares payload.totals.carbs_g against the rule's limit.
type thresholdUnit struct {
	spec  thresholdSpec
	rule  *model.DietaryFilterRule
	prefs model.UserDietaryPreference
}

func (u *thresholdUnit) Name() string { return u.spec.DietType }

func (u *thresholdUnit) Apply(payload map[string]interface{}, personaOverride bool) model.FilterResult {
	var result model.FilterResult
	if personaOverride || u.prefs.DietType != u.spec.DietType || u.rule == nil {
		return result
	}

	maxCarbs := conditionFloat(u.rule.Condition, "carb_grams_max", u.spec.DefaultMaxCarbs)

	if carbs, ok := payloadFloat(payload, "totals.carbs_g"); ok && carbs > maxCarbs {
		result.Annotations = append(result.Annotations, model.Annotation{
			Field: "totals.carbs_g",
			Message: fmt.Sprintf("This meal has %sg carbs, which exceeds your %s limit of %sg.",
				formatGrams(carbs), u.spec.Adjective, formatGrams(maxCarbs)),
			Severity: model.SeverityWarning,
		})
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("⚠️ %s Alert: %sg carbs exceeds %sg limit.",
				u.spec.Label, formatGrams(carbs), formatGrams(maxCarbs)))
	}

	itemMax := conditionFloat(u.rule.Condition, "item_carb_grams_max", u.spec.DefaultItemCarbs)
	if itemMax > 0 {
		for _, item := range payloadItems(payload) {
			carbs, ok := toFloat(item["carbs_g"])
			if !ok || carbs <= itemMax {
				continue
			}
			name := itemName(item)
			result.Annotations = append(result.Annotations, model.Annotation{
				Field:    "item." + name,
				Message:  fmt.Sprintf("%s contains %sg carbs (high for %s).", name, formatGrams(carbs), u.spec.Adjective),
				Severity: model.SeverityInfo,
			})
		}
	}
	return result
}

// plantBasedKeywords is the disallowed-ingredient lexicon for the carnivore
// composition check.
var plantBasedKeywords = []string{
	"bread", "rice", "pasta", "quinoa", "oat", "wheat", "grain",
	"bean", "lentil", "chickpea", "tofu", "tempeh",
	"fruit", "vegetable", "salad", "broccoli", "spinach",
}

// compositionUnit scans item names for ingredients the diet excludes. It
// never blocks, only annotates and suggests substitutions.
type compositionUnit struct {
	prefs model.UserDietaryPreference
}

func (u *compositionUnit) Name() string { return "carnivore" }

func (u *compositionUnit) Apply(payload map[string]interface{}, personaOverride bool) model.FilterResult {
	var result model.FilterResult
	if personaOverride || u.prefs.DietType != "carnivore" {
		return result
	}

	for _, item := range payloadItems(payload) {
		name := itemName(item)
		lower := strings.ToLower(name)
		for _, kw := range plantBasedKeywords {
			if strings.Contains(lower, kw) {
				result.Annotations = append(result.Annotations, model.Annotation{
					Field:    "item." + name,
					Message:  fmt.Sprintf("%s may not align with carnivore diet (plant-based).", name),
					Severity: model.SeverityWarning,
				})
				result.Substitutions = append(result.Substitutions, model.Substitution{
					Original:  name,
					Suggested: "Consider animal-based alternatives (meat, eggs, dairy)",
					Reason:    "Carnivore diet excludes plant foods",
				})
				break
			}
		}
	}
	if len(result.Annotations) > 0 {
		result.Warnings = append(result.Warnings,
			"⚠️ Carnivore Alert: Some items may not align with your carnivore diet.")
	}
	return result
}

// allergenKeywords maps a declared allergen to the item-name keywords that
// indicate its presence. Unknown allergens fall back to their own name.
var allergenKeywords = map[string][]string{
	"gluten":    {"wheat", "bread", "pasta", "flour", "barley", "rye"},
	"dairy":     {"milk", "cheese", "yogurt", "butter", "cream", "whey", "casein"},
	"nuts":      {"peanut", "almond", "cashew", "walnut", "pecan", "hazelnut"},
	"soy":       {"soy", "tofu", "tempeh", "edamame", "miso"},
	"shellfish": {"shrimp", "crab", "lobster", "oyster", "clam"},
	"fish":      {"salmon", "tuna", "cod", "tilapia", "trout"},
	"eggs":      {"egg"},
}

// allergenUnit flags items matching the user's declared allergens. Allergens
// are a safety concern, not a preference, so matches are error severity.
type allergenUnit struct {
	prefs model.UserDietaryPreference
}

func (u *allergenUnit) Name() string { return "allergen" }

func (u *allergenUnit) Apply(payload map[string]interface{}, personaOverride bool) model.FilterResult {
	var result model.FilterResult
	if personaOverride || len(u.prefs.Allergens) == 0 {
		return result
	}

	for _, item := range payloadItems(payload) {
		name := itemName(item)
		lower := strings.ToLower(name)
		for _, allergen := range u.prefs.Allergens {
			keywords, ok := allergenKeywords[strings.ToLower(allergen)]
			if !ok {
				keywords = []string{strings.ToLower(allergen)}
			}
			for _, kw := range keywords {
				if strings.Contains(lower, kw) {
					result.Annotations = append(result.Annotations, model.Annotation{
						Field:    "item." + name,
						Message:  fmt.Sprintf("%s may contain %s (allergen).", name, allergen),
						Severity: model.SeverityError,
					})
					result.Warnings = append(result.Warnings,
						fmt.Sprintf("🚨 Allergen Alert: %s may contain %s!", name, allergen))
					break
				}
			}
		}
	}
	return result
}
