// Package structure turns extracted markdown into a validated
// domain.StructuredAlert with a single language model call.
package structure

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/couchcryptid/advisory-alert-etl/internal/domain"
)

// Extractor implements the structured extraction stage. It never retries;
// the orchestrator owns the schema retry.
type Extractor struct {
	model domain.LanguageModel
}

// New creates an Extractor backed by model.
func New(model domain.LanguageModel) *Extractor {
	return &Extractor{model: model}
}

// Structure asks the model for the alert in markdown and validates the reply.
// Model failures wrap domain.ErrModel; unusable output wraps domain.ErrSchema.
func (e *Extractor) Structure(ctx context.Context, markdown string) (domain.StructuredAlert, error) {
	reply, err := e.model.Call(ctx, messages(markdown))
	if err != nil {
		return domain.StructuredAlert{}, fmt.Errorf("%w: %w", domain.ErrModel, err)
	}
	return Parse(reply)
}

// Parse validates a raw model reply. Text before the first '{' and after the
// last '}' is discarded so code fences and surrounding prose are tolerated.
func Parse(reply string) (domain.StructuredAlert, error) {
	body, err := sliceObject(reply)
	if err != nil {
		return domain.StructuredAlert{}, err
	}

	var raw rawAlert
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return domain.StructuredAlert{}, fmt.Errorf("%w: decode: %w", domain.ErrSchema, err)
	}

	alert, err := raw.validate()
	if err != nil {
		return domain.StructuredAlert{}, fmt.Errorf("%w: %w", domain.ErrSchema, err)
	}
	return alert, nil
}

func sliceObject(reply string) (string, error) {
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start < 0 || end < start {
		return "", fmt.Errorf("%w: no JSON object in model output", domain.ErrSchema)
	}
	return reply[start : end+1], nil
}

// rawAlert mirrors the JSON the model is asked for, before validation.
type rawAlert struct {
	Category       string    `json:"category"`
	Event          string    `json:"event"`
	Urgency        string    `json:"urgency"`
	Severity       string    `json:"severity"`
	Description    string    `json:"description"`
	Instruction    string    `json:"instruction"`
	EffectiveFrom  *string   `json:"effective_from"`
	EffectiveUntil *string   `json:"effective_until"`
	Areas          []rawArea `json:"areas"`
}

type rawArea struct {
	PlaceNames     []string `json:"place_names"`
	EffectiveFrom  *string  `json:"specific_effective_from"`
	EffectiveUntil *string  `json:"specific_effective_until"`
	Urgency        *string  `json:"specific_urgency"`
	Severity       *string  `json:"specific_severity"`
	Instruction    *string  `json:"specific_instruction"`
}

func (r rawAlert) validate() (domain.StructuredAlert, error) {
	var errs []error

	category, err := domain.ParseCategory(strings.TrimSpace(r.Category))
	errs = append(errs, err)
	urgency, err := domain.ParseUrgency(strings.TrimSpace(r.Urgency))
	errs = append(errs, err)
	severity, err := domain.ParseSeverity(strings.TrimSpace(r.Severity))
	errs = append(errs, err)

	event := strings.TrimSpace(r.Event)
	if event == "" {
		errs = append(errs, errors.New("event is required"))
	}

	from, err := parseTime("effective_from", r.EffectiveFrom)
	errs = append(errs, err)
	until, err := parseTime("effective_until", r.EffectiveUntil)
	errs = append(errs, err)
	if from != nil && until != nil && until.Before(*from) {
		errs = append(errs, fmt.Errorf("effective_until %s is before effective_from %s",
			until.Format(time.RFC3339), from.Format(time.RFC3339)))
	}

	areas := make([]domain.AreaMention, 0, len(r.Areas))
	for i, a := range r.Areas {
		area, err := a.validate()
		if err != nil {
			errs = append(errs, fmt.Errorf("areas[%d]: %w", i, err))
			continue
		}
		if len(area.PlaceNames) > 0 {
			areas = append(areas, area)
		}
	}

	if err := errors.Join(errs...); err != nil {
		return domain.StructuredAlert{}, err
	}
	return domain.StructuredAlert{
		Category:       category,
		Event:          event,
		Urgency:        urgency,
		Severity:       severity,
		Description:    strings.TrimSpace(r.Description),
		Instruction:    strings.TrimSpace(r.Instruction),
		EffectiveFrom:  from,
		EffectiveUntil: until,
		Areas:          areas,
	}, nil
}

func (a rawArea) validate() (domain.AreaMention, error) {
	var (
		m    domain.AreaMention
		errs []error
		err  error
	)
	for _, name := range a.PlaceNames {
		if name = strings.TrimSpace(name); name != "" {
			m.PlaceNames = append(m.PlaceNames, name)
		}
	}
	m.EffectiveFrom, err = parseTime("specific_effective_from", a.EffectiveFrom)
	errs = append(errs, err)
	m.EffectiveUntil, err = parseTime("specific_effective_until", a.EffectiveUntil)
	errs = append(errs, err)
	if a.Urgency != nil {
		u, err := domain.ParseUrgency(strings.TrimSpace(*a.Urgency))
		errs = append(errs, err)
		m.Urgency = &u
	}
	if a.Severity != nil {
		s, err := domain.ParseSeverity(strings.TrimSpace(*a.Severity))
		errs = append(errs, err)
		m.Severity = &s
	}
	if a.Instruction != nil {
		if in := strings.TrimSpace(*a.Instruction); in != "" {
			m.Instruction = &in
		}
	}
	return m, errors.Join(errs...)
}

// timeLayouts are tried in order. Offsets-free values are taken as UTC.
var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseTime(field string, v *string) (*time.Time, error) {
	if v == nil {
		return nil, nil
	}
	s := strings.TrimSpace(*v)
	if s == "" {
		return nil, nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, fmt.Errorf("invalid %s %q", field, s)
}
