package filter

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/nutrimind/coach-core/internal/model"
	"github.com/nutrimind/coach-core/internal/store"
)

// Pipeline runs every unit in fixed order and concatenates their results.
// There is no short-circuit on first match: downstream consumers see every
// annotation even when several units flag the same item.
type Pipeline struct {
	units []Unit
}

// NewPipeline assembles the closed unit set for the given rules and
// preferences: threshold filters, then composition, then allergens.
func NewPipeline(rules []model.DietaryFilterRule, prefs model.UserDietaryPreference) *Pipeline {
	p := &Pipeline{}
	for _, spec := range thresholdSpecs {
		p.units = append(p.units, &thresholdUnit{
			spec:  spec,
			rule:  findRule(rules, spec.DietType),
			prefs: prefs,
		})
	}
	p.units = append(p.units, &compositionUnit{prefs: prefs})
	p.units = append(p.units, &allergenUnit{prefs: prefs})
	return p
}

func findRule(rules []model.DietaryFilterRule, dietType string) *model.DietaryFilterRule {
	for i := range rules {
		if rules[i].Type == dietType && rules[i].Enabled {
			return &rules[i]
		}
	}
	return nil
}

// ApplyAll runs every unit and merges their results in unit order.
func (p *Pipeline) ApplyAll(payload map[string]interface{}, personaOverride bool) model.FilterResult {
	combined := model.FilterResult{
		Annotations:   []model.Annotation{},
		Substitutions: []model.Substitution{},
		Warnings:      []string{},
	}
	for _, u := range p.units {
		combined.Merge(u.Apply(payload, personaOverride))
	}
	return combined
}

// NewFromStore builds a pipeline for one user. The rule catalog and the
// preference row are independent reads, so they are fetched concurrently.
// A missing preference row defaults to the neutral profile; a failed rules
// fetch degrades to an empty catalog (fail open).
func NewFromStore(ctx context.Context, st store.Store, ownerID string, log zerolog.Logger) *Pipeline {
	var (
		wg       sync.WaitGroup
		rules    []model.DietaryFilterRule
		rulesErr error
		prefs    *model.UserDietaryPreference
		prefsErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		rules, rulesErr = st.Rules().ListEnabled(ctx)
	}()
	go func() {
		defer wg.Done()
		prefs, prefsErr = st.Preferences().Get(ctx, ownerID)
	}()
	wg.Wait()

	if rulesErr != nil {
		log.Warn().Err(rulesErr).Msg("rule catalog unavailable, filtering without threshold rules")
		rules = nil
	}
	userPrefs := model.DefaultPreference(ownerID)
	if prefsErr != nil {
		if !errors.Is(prefsErr, model.ErrNotFound) {
			log.Warn().Err(prefsErr).Str("owner_id", ownerID).Msg("preference fetch failed, using neutral profile")
		}
	} else if prefs != nil {
		userPrefs = *prefs
	}
	return NewPipeline(rules, userPrefs)
}
