package render

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/nutrimind/coach-core/internal/model"
)

func newTestRenderer() *Renderer {
	return New(DefaultRegistry(), zerolog.Nop())
}

func nutritionResponse() model.ResponseObject {
	return model.ResponseObject{
		Type: "nutrition",
		Payload: map[string]interface{}{
			"items": []interface{}{
				map[string]interface{}{
					"name": "big mac", "qty": float64(1), "unit": "serving",
					"kcal": float64(563), "protein_g": float64(26), "carbs_g": float64(45), "fat_g": float64(33),
				},
				map[string]interface{}{
					"name": "apple", "qty": float64(1), "unit": "piece",
					"kcal": float64(95), "protein_g": 0.5, "carbs_g": float64(25), "fat_g": 0.3, "fiber_g": 4.4,
				},
			},
			"totals": map[string]interface{}{
				"kcal": float64(658), "protein_g": 26.5, "carbs_g": float64(70), "fat_g": 33.3, "fiber_g": 4.4,
			},
		},
		ProtectedFields: []string{"totals.kcal"},
	}
}

func TestCompose_NutritionBreakdown(t *testing.T) {
	out := newTestRenderer().Compose([]model.ResponseObject{nutritionResponse()}, Options{})

	want := strings.Join([]string{
		"Here is the nutrition breakdown:",
		"",
		"1. big mac (1 serving): 563kcal, P:26g, C:45g, F:33g",
		"2. apple (1 piece): 95kcal, P:0.5g, C:25g, F:0.3g, Fiber:4.4g",
		"",
		"Total: 658kcal | Protein: 26.5g | Carbs: 70g | Fat: 33.3g | Fiber: 4.4g",
	}, "\n")
	require.Equal(t, want, out)
}

func TestCompose_NutritionMessageFallback(t *testing.T) {
	out := newTestRenderer().Compose([]model.ResponseObject{{
		Type:    "nutrition",
		Payload: map[string]interface{}{"message": "Logged your meal."},
	}}, Options{})
	require.Equal(t, "Logged your meal.", out)
}

func TestCompose_UnregisteredTypeEmitsRawPayload(t *testing.T) {
	out := newTestRenderer().Compose([]model.ResponseObject{{
		Type:    "astrology",
		Payload: map[string]interface{}{"sign": "taurus"},
	}}, Options{})
	require.Equal(t, `{"sign":"taurus"}`, out)
}

func TestCompose_ErrorAndWarningSectionsSuppressInfo(t *testing.T) {
	resp := model.ResponseObject{
		Type:    "general",
		Payload: map[string]interface{}{"text": "Noted."},
		Issues: []model.Issue{
			{Severity: model.SeverityWarning, Message: "carbs exceed your keto limit"},
			{Severity: model.SeverityError, Message: "may contain dairy"},
			{Severity: model.SeverityInfo, Message: "high sodium"},
		},
	}
	out := newTestRenderer().Compose([]model.ResponseObject{resp}, Options{})

	require.Contains(t, out, "⚠️ Issues:\n- may contain dairy")
	require.Contains(t, out, "ℹ️ Notes:\n- carbs exceed your keto limit")
	require.NotContains(t, out, "💡 Info:")
	require.NotContains(t, out, "high sodium")
}

func TestCompose_InfoSectionShownWhenNothingSevere(t *testing.T) {
	resp := model.ResponseObject{
		Type:    "general",
		Payload: map[string]interface{}{"text": "Noted."},
		Issues:  []model.Issue{{Severity: model.SeverityInfo, Message: "high sodium"}},
	}
	out := newTestRenderer().Compose([]model.ResponseObject{resp}, Options{})
	require.Contains(t, out, "💡 Info:\n- high sodium")
}

func TestCompose_ToneSuffixes(t *testing.T) {
	base := model.ResponseObject{Type: "general", Payload: map[string]interface{}{"text": "Noted."}}

	cases := []struct {
		tone   model.Tone
		suffix string
	}{
		{model.ToneEmpathetic, "I am here if you need any clarification or want to adjust anything!"},
		{model.ToneMotivational, "You are doing great—keep it up!"},
		{model.ToneFactual, ""},
		{model.ToneCasual, ""},
	}
	for _, tc := range cases {
		out := newTestRenderer().Compose([]model.ResponseObject{base}, Options{ApplyPersona: true, Tone: tc.tone})
		if tc.suffix == "" {
			require.Equal(t, "Noted.", out, "tone %s", tc.tone)
		} else {
			require.Equal(t, "Noted.\n\n"+tc.suffix, out, "tone %s", tc.tone)
		}
	}
}

func TestCompose_ToneDefaultsToSuggested(t *testing.T) {
	resp := model.ResponseObject{
		Type:          "general",
		Payload:       map[string]interface{}{"text": "Noted."},
		SuggestedTone: model.ToneMotivational,
	}
	out := newTestRenderer().Compose([]model.ResponseObject{resp}, Options{ApplyPersona: true})
	require.True(t, strings.HasSuffix(out, "You are doing great—keep it up!"))
}

func TestCompose_FollowupsJoinedUpToThree(t *testing.T) {
	resp := model.ResponseObject{
		Type:      "general",
		Payload:   map[string]interface{}{"text": "Noted."},
		Followups: []string{"Anything else?", "Want a recap?"},
	}
	out := newTestRenderer().Compose([]model.ResponseObject{resp}, Options{})
	require.Equal(t, "Noted.\n\nAnything else? Want a recap?", out)
}

func TestCompose_FollowupsDroppedWhenMoreThanThree(t *testing.T) {
	resp := model.ResponseObject{
		Type:      "general",
		Payload:   map[string]interface{}{"text": "Noted."},
		Followups: []string{"a?", "b?", "c?", "d?"},
	}
	out := newTestRenderer().Compose([]model.ResponseObject{resp}, Options{})
	require.Equal(t, "Noted.", out)
}

func TestProtectedViolations_DetectsMutatedField(t *testing.T) {
	resp := nutritionResponse()
	snaps := Snapshot([]model.ResponseObject{resp})

	resp.Payload["totals"].(map[string]interface{})["kcal"] = float64(100)

	violated := protectedViolations(resp, snaps[0])
	require.Equal(t, []string{"totals.kcal"}, violated)
}

func TestProtectedViolations_CleanPayloadPasses(t *testing.T) {
	resp := nutritionResponse()
	snaps := Snapshot([]model.ResponseObject{resp})
	require.Empty(t, protectedViolations(resp, snaps[0]))
}

func TestCompose_ProtectedFieldViolationLoggedNotFatal(t *testing.T) {
	var buf bytes.Buffer
	r := New(DefaultRegistry(), zerolog.New(&buf))

	resp := nutritionResponse()
	snaps := Snapshot([]model.ResponseObject{resp})
	resp.Payload["totals"].(map[string]interface{})["kcal"] = float64(9999)

	out := r.Compose([]model.ResponseObject{resp}, Options{Snapshots: snaps})

	require.Contains(t, out, "Here is the nutrition breakdown:")
	require.Contains(t, buf.String(), "protected field modified")
	require.Contains(t, buf.String(), "totals.kcal")
}

func TestSnapshot_IsDeepCopy(t *testing.T) {
	resp := nutritionResponse()
	snaps := Snapshot([]model.ResponseObject{resp})

	resp.Payload["totals"].(map[string]interface{})["kcal"] = float64(1)

	require.Equal(t, float64(658), lookupPath(snaps[0], "totals.kcal"))
}

func TestLookupPath_MissingSegmentYieldsNil(t *testing.T) {
	require.Nil(t, lookupPath(map[string]interface{}{"a": 1}, "a.b.c"))
	require.Nil(t, lookupPath(map[string]interface{}{}, "missing"))
}

func TestKPIPresenter_RemainingLine(t *testing.T) {
	out := newTestRenderer().Compose([]model.ResponseObject{{
		Type: "kpi",
		Payload: map[string]interface{}{
			"remaining": map[string]interface{}{
				"kcal": float64(1200), "protein_g": float64(80), "carbs_g": float64(90), "fat_g": float64(40),
			},
		},
	}}, Options{})
	require.Equal(t, "Remaining today: 1200kcal | P:80g | C:90g | F:40g", out)
}

func TestWorkoutAndFeedbackDefaults(t *testing.T) {
	r := newTestRenderer()
	out := r.Compose([]model.ResponseObject{{Type: "workout", Payload: map[string]interface{}{}}}, Options{})
	require.Equal(t, "Workout data processed.", out)

	out = r.Compose([]model.ResponseObject{{Type: "feedback", Payload: map[string]interface{}{}}}, Options{})
	require.Equal(t, "Feedback received, thank you!", out)
}
