// Package render turns structured response objects into the final user-facing
// text. Rendering happens strictly after filtering: presenters read payloads,
// they never mutate them, and protected fields are verified against pre-filter
// snapshots so any mutation upstream is surfaced.
package render

import (
	"encoding/json"
	"reflect"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/nutrimind/coach-core/internal/model"
)

// Presenter formats one response object into display text.
type Presenter func(model.ResponseObject) string

// Registry maps response types to presenters. Safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	presenters map[string]Presenter
}

func NewRegistry() *Registry {
	return &Registry{presenters: make(map[string]Presenter)}
}

func (r *Registry) Register(typ string, p Presenter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.presenters[typ] = p
}

func (r *Registry) Get(typ string) (Presenter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.presenters[typ]
	return p, ok
}

func (r *Registry) Has(typ string) bool {
	_, ok := r.Get(typ)
	return ok
}

// Options control a single Compose call.
type Options struct {
	// ApplyPersona appends the tone suffix. The suffix never rewrites the
	// body text, only trails it.
	ApplyPersona bool

	// Tone overrides the first response's suggested tone when set.
	Tone model.Tone

	// Snapshots are pre-filter payload copies, index-aligned with the
	// responses passed to Compose. Used for protected field verification.
	Snapshots []map[string]interface{}
}

// Renderer composes filtered response objects into a single reply.
type Renderer struct {
	registry *Registry
	log      zerolog.Logger
}

func New(registry *Registry, log zerolog.Logger) *Renderer {
	return &Renderer{
		registry: registry,
		log:      log.With().Str("component", "renderer").Logger(),
	}
}

// Compose renders each response through its registered presenter, appends
// aggregated issue sections, the persona suffix, and followup questions.
// Responses with no registered presenter fall back to a raw JSON dump of
// the payload so information is never silently dropped.
func (r *Renderer) Compose(responses []model.ResponseObject, opts Options) string {
	var (
		parts     []string
		issues    []model.Issue
		followups []string
	)

	for i, resp := range responses {
		if i < len(opts.Snapshots) && len(resp.ProtectedFields) > 0 {
			for _, field := range protectedViolations(resp, opts.Snapshots[i]) {
				// Violations are logged, never fatal: the user still
				// gets a reply, operators get the signal.
				r.log.Error().
					Str("type", resp.Type).
					Str("field", field).
					Msg("protected field modified between generation and render")
			}
		}

		presenter, ok := r.registry.Get(resp.Type)
		if !ok {
			r.log.Warn().Str("type", resp.Type).Msg("no presenter registered, emitting raw payload")
			raw, err := json.Marshal(resp.Payload)
			if err != nil {
				raw = []byte("{}")
			}
			parts = append(parts, string(raw))
			continue
		}

		parts = append(parts, presenter(resp))
		issues = append(issues, resp.Issues...)
		followups = append(followups, resp.Followups...)
	}

	text := strings.Join(parts, "\n\n")
	text += issueSections(issues)

	if opts.ApplyPersona {
		tone := opts.Tone
		if tone == "" && len(responses) > 0 {
			tone = responses[0].SuggestedTone
		}
		if tone == "" {
			tone = model.ToneCasual
		}
		text += toneSuffixes[tone]
	}

	// One to three followups read naturally in a single message. More than
	// that overwhelms, so they are dropped entirely.
	if n := len(followups); n > 0 && n <= 3 {
		text += "\n\n" + strings.Join(followups, " ")
	}

	return text
}

// issueSections renders severity-grouped issue blocks. Errors and warnings
// always show. Info issues show only when nothing more severe is present.
func issueSections(issues []model.Issue) string {
	if len(issues) == 0 {
		return ""
	}

	var errs, warns, infos []model.Issue
	for _, i := range issues {
		switch i.Severity {
		case model.SeverityError:
			errs = append(errs, i)
		case model.SeverityWarning:
			warns = append(warns, i)
		case model.SeverityInfo:
			infos = append(infos, i)
		}
	}

	var b strings.Builder
	if len(errs) > 0 {
		b.WriteString("\n\n⚠️ Issues:\n" + bulletList(errs))
	}
	if len(warns) > 0 {
		b.WriteString("\n\nℹ️ Notes:\n" + bulletList(warns))
	}
	if len(infos) > 0 && len(errs) == 0 && len(warns) == 0 {
		b.WriteString("\n\n💡 Info:\n" + bulletList(infos))
	}
	return b.String()
}

func bulletList(issues []model.Issue) string {
	lines := make([]string, len(issues))
	for i, issue := range issues {
		lines[i] = "- " + issue.Message
	}
	return strings.Join(lines, "\n")
}

var toneSuffixes = map[model.Tone]string{
	model.ToneEmpathetic:   "\n\nI am here if you need any clarification or want to adjust anything!",
	model.ToneMotivational: "\n\nYou are doing great—keep it up!",
	model.ToneFactual:      "",
	model.ToneCasual:       "",
}

// protectedViolations compares the current payload to the pre-filter snapshot
// at every protected dotted path and returns the paths that differ.
func protectedViolations(resp model.ResponseObject, snapshot map[string]interface{}) []string {
	var violated []string
	for _, field := range resp.ProtectedFields {
		current := lookupPath(resp.Payload, field)
		original := lookupPath(snapshot, field)
		if !reflect.DeepEqual(current, original) {
			violated = append(violated, field)
		}
	}
	return violated
}

// lookupPath walks a dotted path ("totals.kcal") through nested maps.
// A missing segment yields nil.
func lookupPath(obj map[string]interface{}, path string) interface{} {
	var cur interface{} = obj
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil
		}
		cur = m[part]
	}
	return cur
}

// Snapshot deep-copies every response payload. Taken before filtering so the
// renderer can verify protected fields survived the pipeline untouched.
func Snapshot(responses []model.ResponseObject) []map[string]interface{} {
	snaps := make([]map[string]interface{}, len(responses))
	for i, resp := range responses {
		snaps[i] = copyMap(resp.Payload)
	}
	return snaps
}

func copyMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return copyMap(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = copyValue(e)
		}
		return out
	case []map[string]interface{}:
		out := make([]map[string]interface{}, len(t))
		for i, e := range t {
			out[i] = copyMap(e)
		}
		return out
	default:
		return v
	}
}
