// Package nutrition resolves food items to macro estimates through a
// waterfall: an external HTTP resolver when one is configured, then an
// injected server-side resolve function, then a local generic estimator.
// The waterfall never fails a turn: the local estimator always answers,
// it just answers with low confidence.
package nutrition

import (
	"context"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

// Item is a food reference as extracted from the user's message.
type Item struct {
	Name string  `json:"name"`
	Qty  float64 `json:"qty"`
	Unit string  `json:"unit"`
}

// ResolvedItem carries the macro estimate for a single item.
type ResolvedItem struct {
	Name       string  `json:"name"`
	Qty        float64 `json:"qty"`
	Unit       string  `json:"unit"`
	GramsUsed  float64 `json:"grams_used"`
	Kcal       float64 `json:"kcal"`
	ProteinG   float64 `json:"protein_g"`
	CarbsG     float64 `json:"carbs_g"`
	FatG       float64 `json:"fat_g"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source"`
}

// Totals aggregates item macros for a meal.
type Totals struct {
	Kcal     float64 `json:"kcal"`
	ProteinG float64 `json:"protein_g"`
	CarbsG   float64 `json:"carbs_g"`
	FatG     float64 `json:"fat_g"`
}

// Meal is the resolved output for one logging turn.
type Meal struct {
	Items  []ResolvedItem `json:"items"`
	Totals Totals         `json:"totals"`
}

// ResolveFunc is a server-side resolver injected by the host application,
// for example one backed by a food database. Returning an error hands the
// items to the next stage of the waterfall.
type ResolveFunc func(ctx context.Context, items []Item) (Meal, error)

// Resolver runs the resolution waterfall.
type Resolver struct {
	http    *resty.Client
	baseURL string
	resolve ResolveFunc
	log     zerolog.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithHTTPResolver enables the external HTTP stage against baseURL.
func WithHTTPResolver(baseURL string, timeout time.Duration) Option {
	return func(r *Resolver) {
		r.baseURL = baseURL
		r.http = resty.New().SetBaseURL(baseURL).SetTimeout(timeout)
	}
}

// WithResolveFunc installs the server-side resolve stage.
func WithResolveFunc(fn ResolveFunc) Option {
	return func(r *Resolver) { r.resolve = fn }
}

func NewResolver(log zerolog.Logger, opts ...Option) *Resolver {
	r := &Resolver{log: log.With().Str("component", "nutrition").Logger()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve walks the waterfall and always returns a meal. Only context
// cancellation aborts; every resolver failure degrades to the next stage.
func (r *Resolver) Resolve(ctx context.Context, items []Item) (Meal, error) {
	if err := ctx.Err(); err != nil {
		return Meal{}, err
	}

	if r.http != nil {
		meal, err := r.resolveHTTP(ctx, items)
		if err == nil {
			r.logResolved(meal, "http")
			return meal, nil
		}
		r.log.Warn().Err(err).Msg("http resolver failed, trying next stage")
	}

	if r.resolve != nil {
		meal, err := r.resolve(ctx, items)
		if err == nil {
			r.logResolved(meal, "server")
			return meal, nil
		}
		r.log.Warn().Err(err).Msg("server resolver failed, falling back to estimator")
	}

	meal := EstimateMeal(items)
	r.logResolved(meal, "fallback")
	return meal, nil
}

func (r *Resolver) resolveHTTP(ctx context.Context, items []Item) (Meal, error) {
	var meal Meal
	resp, err := r.http.R().
		SetContext(ctx).
		SetBody(map[string]interface{}{"items": items}).
		SetResult(&meal).
		Post("/resolve")
	if err != nil {
		return Meal{}, err
	}
	if resp.IsError() {
		return Meal{}, &resolveError{status: resp.StatusCode()}
	}
	return meal, nil
}

func (r *Resolver) logResolved(meal Meal, source string) {
	r.log.Debug().
		Str("source", source).
		Int("items", len(meal.Items)).
		Float64("kcal", meal.Totals.Kcal).
		Msg("meal resolved")
}

type resolveError struct {
	status int
}

func (e *resolveError) Error() string {
	return "nutrition resolver returned status " + strconv.Itoa(e.status)
}
