package nutrition

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestEstimate_OunceArithmetic(t *testing.T) {
	got := Estimate(Item{Name: "steak", Qty: 10, Unit: "oz"})

	require.Equal(t, 283.5, got.GramsUsed)
	require.Equal(t, float64(709), got.Kcal)
	require.Equal(t, 42.5, got.ProteinG)
	require.Equal(t, 70.9, got.CarbsG)
	require.Equal(t, 22.7, got.FatG)
	require.Equal(t, 0.3, got.Confidence)
	require.Equal(t, "fallback", got.Source)
}

func TestEstimate_UnitTable(t *testing.T) {
	cases := []struct {
		unit  string
		qty   float64
		grams float64
	}{
		{"g", 150, 150},
		{"kg", 1, 1000},
		{"lb", 1, 453.6},
		{"lbs", 2, 907.2},
		{"cup", 2, 480},
		{"tbsp", 3, 45},
		{"tsp", 1, 5},
		{"slice", 3, 90},
		{"piece", 2, 100},
		{"pc", 10, 500},
		{"count", 1, 50},
		{"bowl", 1, 100}, // unknown unit
		{"", 1, 100},
	}
	for _, tc := range cases {
		got := Estimate(Item{Name: "food", Qty: tc.qty, Unit: tc.unit})
		require.Equal(t, tc.grams, got.GramsUsed, "unit %q", tc.unit)
	}
}

func TestEstimate_ZeroQtyDefaultsToOne(t *testing.T) {
	got := Estimate(Item{Name: "apple", Unit: "piece"})
	require.Equal(t, float64(1), got.Qty)
	require.Equal(t, float64(50), got.GramsUsed)
}

func TestEstimateMeal_SumsTotals(t *testing.T) {
	meal := EstimateMeal([]Item{
		{Name: "steak", Qty: 10, Unit: "oz"},
		{Name: "rice", Qty: 1, Unit: "cup"},
	})

	require.Len(t, meal.Items, 2)
	// steak 283.5g + rice 240g
	require.Equal(t, float64(709+600), meal.Totals.Kcal)
	require.Equal(t, 78.5, meal.Totals.ProteinG)
}

func TestParseQuantity(t *testing.T) {
	cases := []struct {
		in   string
		want Item
	}{
		{"10 oz steak", Item{Name: "steak", Qty: 10, Unit: "oz"}},
		{"3 slices bacon", Item{Name: "bacon", Qty: 3, Unit: "slices"}},
		{"10pc nuggets", Item{Name: "nuggets", Qty: 10, Unit: "pc"}},
		{"2 eggs", Item{Name: "eggs", Qty: 2}},
		{"1.5 cups rice", Item{Name: "rice", Qty: 1.5, Unit: "cups"}},
		{"big mac", Item{Name: "big mac", Qty: 1}},
		{"500g chicken breast", Item{Name: "chicken breast", Qty: 500, Unit: "g"}},
		{"2 lbs chicken", Item{Name: "chicken", Qty: 2, Unit: "lbs"}},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, ParseQuantity(tc.in), "input %q", tc.in)
	}
}

func TestParseQuantity_PluralUnitsEstimate(t *testing.T) {
	got := Estimate(ParseQuantity("2 lbs chicken"))
	require.Equal(t, 907.2, got.GramsUsed)
}

func TestResolve_HTTPStageWins(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/resolve", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"items":[{"name":"big mac","kcal":563,"confidence":0.9,"source":"http"}],"totals":{"kcal":563}}`))
	}))
	defer srv.Close()

	r := NewResolver(zerolog.Nop(), WithHTTPResolver(srv.URL, time.Second))
	meal, err := r.Resolve(context.Background(), []Item{{Name: "big mac", Qty: 1}})

	require.NoError(t, err)
	require.Len(t, meal.Items, 1)
	require.Equal(t, "http", meal.Items[0].Source)
	require.Equal(t, float64(563), meal.Totals.Kcal)
}

func TestResolve_HTTPFailureFallsToResolveFunc(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	called := false
	fn := func(ctx context.Context, items []Item) (Meal, error) {
		called = true
		return Meal{Totals: Totals{Kcal: 100}}, nil
	}

	r := NewResolver(zerolog.Nop(), WithHTTPResolver(srv.URL, time.Second), WithResolveFunc(fn))
	meal, err := r.Resolve(context.Background(), []Item{{Name: "toast", Qty: 1}})

	require.NoError(t, err)
	require.True(t, called)
	require.Equal(t, float64(100), meal.Totals.Kcal)
}

func TestResolve_AllStagesFailYieldsEstimate(t *testing.T) {
	fn := func(ctx context.Context, items []Item) (Meal, error) {
		return Meal{}, errors.New("database down")
	}

	r := NewResolver(zerolog.Nop(), WithResolveFunc(fn))
	meal, err := r.Resolve(context.Background(), []Item{{Name: "steak", Qty: 10, Unit: "oz"}})

	require.NoError(t, err)
	require.Len(t, meal.Items, 1)
	require.Equal(t, "fallback", meal.Items[0].Source)
	require.Equal(t, 0.3, meal.Items[0].Confidence)
	require.Equal(t, float64(709), meal.Totals.Kcal)
}

func TestResolve_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := NewResolver(zerolog.Nop())
	_, err := r.Resolve(ctx, []Item{{Name: "apple"}})
	require.Error(t, err)
}
