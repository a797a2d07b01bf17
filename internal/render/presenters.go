package render

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/nutrimind/coach-core/internal/model"
)

// DefaultRegistry returns a registry with every built-in presenter installed.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("nutrition", nutritionPresenter)
	r.Register("workout", workoutPresenter)
	r.Register("general", generalPresenter)
	r.Register("kpi", kpiPresenter)
	r.Register("feedback", feedbackPresenter)
	return r
}

func nutritionPresenter(resp model.ResponseObject) string {
	items := payloadItems(resp.Payload)
	totals, hasTotals := resp.Payload["totals"].(map[string]interface{})

	if len(items) > 0 && hasTotals {
		lines := []string{"Here is the nutrition breakdown:", ""}
		for i, item := range items {
			qty := num(item["qty"])
			if qty == "" {
				qty = "1"
			}
			unit, _ := item["unit"].(string)
			if unit == "" {
				unit = "serving"
			}
			line := fmt.Sprintf("%d. %s (%s %s): %skcal, P:%sg, C:%sg, F:%sg",
				i+1, str(item["name"]), qty, unit,
				num(item["kcal"]), num(item["protein_g"]), num(item["carbs_g"]), num(item["fat_g"]))
			if fiber := num(item["fiber_g"]); fiber != "" && fiber != "0" {
				line += fmt.Sprintf(", Fiber:%sg", fiber)
			}
			lines = append(lines, line)
		}
		total := fmt.Sprintf("Total: %skcal | Protein: %sg | Carbs: %sg | Fat: %sg",
			num(totals["kcal"]), num(totals["protein_g"]), num(totals["carbs_g"]), num(totals["fat_g"]))
		if fiber := num(totals["fiber_g"]); fiber != "" && fiber != "0" {
			total += fmt.Sprintf(" | Fiber: %sg", fiber)
		}
		lines = append(lines, "", total)
		return strings.Join(lines, "\n")
	}

	if msg := str(resp.Payload["message"]); msg != "" {
		return msg
	}
	return rawJSON(resp.Payload)
}

func workoutPresenter(resp model.ResponseObject) string {
	if s := str(resp.Payload["summary"]); s != "" {
		return s
	}
	if s := str(resp.Payload["message"]); s != "" {
		return s
	}
	return "Workout data processed."
}

func generalPresenter(resp model.ResponseObject) string {
	if s := str(resp.Payload["text"]); s != "" {
		return s
	}
	if s := str(resp.Payload["message"]); s != "" {
		return s
	}
	return rawJSON(resp.Payload)
}

func kpiPresenter(resp model.ResponseObject) string {
	if remaining, ok := resp.Payload["remaining"].(map[string]interface{}); ok {
		return fmt.Sprintf("Remaining today: %skcal | P:%sg | C:%sg | F:%sg",
			num(remaining["kcal"]), num(remaining["protein_g"]),
			num(remaining["carbs_g"]), num(remaining["fat_g"]))
	}
	if s := str(resp.Payload["message"]); s != "" {
		return s
	}
	return rawJSON(resp.Payload)
}

func feedbackPresenter(resp model.ResponseObject) string {
	if s := str(resp.Payload["response"]); s != "" {
		return s
	}
	if s := str(resp.Payload["message"]); s != "" {
		return s
	}
	return "Feedback received, thank you!"
}

// payloadItems tolerates both concrete and generic slices: handlers build
// []map[string]interface{}, JSON round-trips produce []interface{}.
func payloadItems(payload map[string]interface{}) []map[string]interface{} {
	switch items := payload["items"].(type) {
	case []map[string]interface{}:
		return items
	case []interface{}:
		out := make([]map[string]interface{}, 0, len(items))
		for _, e := range items {
			if m, ok := e.(map[string]interface{}); ok {
				out = append(out, m)
			}
		}
		return out
	default:
		return nil
	}
}

func str(v interface{}) string {
	s, _ := v.(string)
	return s
}

// num formats a numeric payload value without trailing zeros, so 709 renders
// as "709" and 22.5 as "22.5". Non-numeric values yield the empty string.
func num(v interface{}) string {
	switch t := v.(type) {
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case json.Number:
		return t.String()
	default:
		return ""
	}
}

func rawJSON(payload map[string]interface{}) string {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "{}"
	}
	return string(raw)
}
