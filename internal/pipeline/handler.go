package pipeline

import (
	"context"
	"regexp"
	"strings"

	"github.com/nutrimind/coach-core/internal/model"
	"github.com/nutrimind/coach-core/internal/nutrition"
)

// leadIn strips conversational openers so only the food list remains.
var leadIn = regexp.MustCompile(`(?i)^(i\s+(just\s+)?(ate|had|logged)|log(ging)?|i'm\s+eating)\s+`)

// itemSeparator splits a food list on commas and "and".
var itemSeparator = regexp.MustCompile(`\s*,\s*|\s+and\s+|\s*\+\s*`)

// NutritionHandler builds the default turn handler: parse food items out of
// the message, resolve their macros, and answer with a nutrition breakdown.
func NutritionHandler(resolver *nutrition.Resolver) Handler {
	return func(ctx context.Context, req TurnRequest, memories []*model.MemoryRecord) ([]model.ResponseObject, error) {
		items := extractItems(req.Message)
		if len(items) == 0 {
			return []model.ResponseObject{{
				Type:    "general",
				Payload: map[string]interface{}{"text": "I could not find any food items in that. What did you eat?"},
			}}, nil
		}

		meal, err := resolver.Resolve(ctx, items)
		if err != nil {
			return nil, err
		}

		payloadItems := make([]interface{}, 0, len(meal.Items))
		for _, item := range meal.Items {
			payloadItems = append(payloadItems, map[string]interface{}{
				"name":       item.Name,
				"qty":        item.Qty,
				"unit":       item.Unit,
				"kcal":       item.Kcal,
				"protein_g":  item.ProteinG,
				"carbs_g":    item.CarbsG,
				"fat_g":      item.FatG,
				"confidence": item.Confidence,
				"source":     item.Source,
			})
		}

		resp := model.ResponseObject{
			Type: "nutrition",
			Payload: map[string]interface{}{
				"items": payloadItems,
				"totals": map[string]interface{}{
					"kcal":      meal.Totals.Kcal,
					"protein_g": meal.Totals.ProteinG,
					"carbs_g":   meal.Totals.CarbsG,
					"fat_g":     meal.Totals.FatG,
				},
			},
			// Macro numbers must survive filtering untouched. Filters
			// annotate, they never edit.
			ProtectedFields: []string{"totals.kcal", "totals.protein_g", "totals.carbs_g", "totals.fat_g"},
			SuggestedTone:   model.ToneCasual,
		}
		if req.Intent == model.IntentMealLogging {
			resp.Followups = []string{"Want me to log this meal?"}
		}
		return []model.ResponseObject{resp}, nil
	}
}

// extractItems splits a message into resolvable food items.
func extractItems(message string) []nutrition.Item {
	cleaned := leadIn.ReplaceAllString(strings.TrimSpace(message), "")
	if cleaned == "" {
		return nil
	}

	var items []nutrition.Item
	for _, part := range itemSeparator.Split(cleaned, -1) {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		items = append(items, nutrition.ParseQuantity(part))
	}
	return items
}
