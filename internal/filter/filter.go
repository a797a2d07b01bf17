// Package filter implements the rule-based dietary filter pipeline. Units are
// a closed set sharing one contract; they annotate a draft answer against the
// user's dietary constraints and never mutate the payload itself.
package filter

import (
	"strconv"
	"strings"

	"github.com/nutrimind/coach-core/internal/model"
)

// Unit is a single dietary rule check. personaOverride short-circuits the
// unit to an empty result: the explicit user bypass of all dietary gating.
type Unit interface {
	Name() string
	Apply(payload map[string]interface{}, personaOverride bool) model.FilterResult
}

// --- payload helpers ---

// payloadFloat reads a numeric field at a dotted path like "totals.carbs_g".
func payloadFloat(payload map[string]interface{}, path string) (float64, bool) {
	parts := strings.Split(path, ".")
	var cur interface{} = payload
	for _, p := range parts {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return 0, false
		}
		cur, ok = m[p]
		if !ok {
			return 0, false
		}
	}
	return toFloat(cur)
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// payloadItems returns the items list, tolerating both typed and decoded-JSON
// shapes.
func payloadItems(payload map[string]interface{}) []map[string]interface{} {
	raw, ok := payload["items"]
	if !ok {
		return nil
	}
	switch list := raw.(type) {
	case []map[string]interface{}:
		return list
	case []interface{}:
		out := make([]map[string]interface{}, 0, len(list))
		for _, it := range list {
			if m, ok := it.(map[string]interface{}); ok {
				out = append(out, m)
			}
		}
		return out
	default:
		return nil
	}
}

func itemName(item map[string]interface{}) string {
	if s, ok := item["name"].(string); ok {
		return s
	}
	return ""
}

func formatGrams(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func conditionFloat(cond map[string]interface{}, key string, fallback float64) float64 {
	if cond == nil {
		return fallback
	}
	if v, ok := toFloat(cond[key]); ok && v > 0 {
		return v
	}
	return fallback
}
