package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Category classifies the hazard.
type Category string

const (
	CategoryGeo       Category = "Geo"
	CategoryMet       Category = "Met"
	CategorySafety    Category = "Safety"
	CategorySecurity  Category = "Security"
	CategoryRescue    Category = "Rescue"
	CategoryFire      Category = "Fire"
	CategoryHealth    Category = "Health"
	CategoryEnv       Category = "Env"
	CategoryTransport Category = "Transport"
	CategoryInfra     Category = "Infra"
	CategoryCBRNE     Category = "CBRNE"
	CategoryOther     Category = "Other"
)

// Categories lists every valid category in prompt order.
var Categories = []Category{
	CategoryGeo, CategoryMet, CategorySafety, CategorySecurity, CategoryRescue, CategoryFire,
	CategoryHealth, CategoryEnv, CategoryTransport, CategoryInfra, CategoryCBRNE, CategoryOther,
}

// ParseCategory accepts only exact members of the category set.
func ParseCategory(s string) (Category, error) {
	for _, c := range Categories {
		if string(c) == s {
			return c, nil
		}
	}
	return "", fmt.Errorf("invalid category %q", s)
}

// Urgency is the expected response time.
type Urgency string

const (
	UrgencyImmediate Urgency = "Immediate"
	UrgencyExpected  Urgency = "Expected"
	UrgencyFuture    Urgency = "Future"
	UrgencyPast      Urgency = "Past"
	UrgencyUnknown   Urgency = "Unknown"
)

// Urgencies lists every valid urgency.
var Urgencies = []Urgency{UrgencyImmediate, UrgencyExpected, UrgencyFuture, UrgencyPast, UrgencyUnknown}

// ParseUrgency accepts only exact members of the urgency set.
func ParseUrgency(s string) (Urgency, error) {
	for _, u := range Urgencies {
		if string(u) == s {
			return u, nil
		}
	}
	return "", fmt.Errorf("invalid urgency %q", s)
}

// Severity is the expected impact.
type Severity string

const (
	SeverityExtreme  Severity = "Extreme"
	SeveritySevere   Severity = "Severe"
	SeverityModerate Severity = "Moderate"
	SeverityMinor    Severity = "Minor"
	SeverityUnknown  Severity = "Unknown"
)

// Severities lists every valid severity.
var Severities = []Severity{SeverityExtreme, SeveritySevere, SeverityModerate, SeverityMinor, SeverityUnknown}

// ParseSeverity accepts only exact members of the severity set.
func ParseSeverity(s string) (Severity, error) {
	for _, v := range Severities {
		if string(v) == s {
			return v, nil
		}
	}
	return "", fmt.Errorf("invalid severity %q", s)
}

// Overrides are area-specific values that replace the alert-wide ones.
type Overrides struct {
	EffectiveFrom  *time.Time `json:"specific_effective_from,omitempty"`
	EffectiveUntil *time.Time `json:"specific_effective_until,omitempty"`
	Urgency        *Urgency   `json:"specific_urgency,omitempty"`
	Severity       *Severity  `json:"specific_severity,omitempty"`
	Instruction    *string    `json:"specific_instruction,omitempty"`
}

// AreaMention is one group of place names sharing the same overrides.
type AreaMention struct {
	PlaceNames []string `json:"place_names"`
	Overrides
}

// StructuredAlert is the validated form of the model's JSON output. Its JSON
// encoding is the payload stored on the document row and published downstream.
type StructuredAlert struct {
	Category       Category      `json:"category"`
	Event          string        `json:"event"`
	Urgency        Urgency       `json:"urgency"`
	Severity       Severity      `json:"severity"`
	Description    string        `json:"description"`
	Instruction    string        `json:"instruction"`
	EffectiveFrom  *time.Time    `json:"effective_from"`
	EffectiveUntil *time.Time    `json:"effective_until"`
	Areas          []AreaMention `json:"areas"`
}

// Alert is the persisted alert row, one per source document.
type Alert struct {
	ID             uuid.UUID  `json:"id"`
	DocumentID     string     `json:"document_id"`
	Category       Category   `json:"category"`
	Event          string     `json:"event"`
	Urgency        Urgency    `json:"urgency"`
	Severity       Severity   `json:"severity"`
	Description    string     `json:"description"`
	Instruction    string     `json:"instruction"`
	EffectiveFrom  *time.Time `json:"effective_from,omitempty"`
	EffectiveUntil *time.Time `json:"effective_until,omitempty"`
	ProcessedAt    time.Time  `json:"processed_at"`
}

// ResolvedArea links an alert to one resolved place.
type ResolvedArea struct {
	AlertID uuid.UUID `json:"alert_id"`
	PlaceID string    `json:"place_id"`
	Overrides
}

// alertNamespace scopes name-based alert IDs.
var alertNamespace = uuid.MustParse("5f1c2e0a-8d4b-4c61-9a7e-3b2f6d9e1a40")

// AlertID derives the alert ID for a document. The same document always maps
// to the same ID.
func AlertID(documentID string) uuid.UUID {
	return uuid.NewSHA1(alertNamespace, []byte(documentID))
}

// NewAlert builds the alert row for a document from its structured form.
func NewAlert(documentID string, s StructuredAlert) Alert {
	return Alert{
		ID:             AlertID(documentID),
		DocumentID:     documentID,
		Category:       s.Category,
		Event:          s.Event,
		Urgency:        s.Urgency,
		Severity:       s.Severity,
		Description:    s.Description,
		Instruction:    s.Instruction,
		EffectiveFrom:  s.EffectiveFrom,
		EffectiveUntil: s.EffectiveUntil,
		ProcessedAt:    Now(),
	}
}

// ResolvedAreas fans one mention out into a row per place. Places repeated
// across the slice produce a single row.
func ResolvedAreas(alertID uuid.UUID, mention AreaMention, places []PlaceRecord) []ResolvedArea {
	seen := make(map[string]struct{}, len(places))
	areas := make([]ResolvedArea, 0, len(places))
	for _, p := range places {
		if _, dup := seen[p.ID]; dup {
			continue
		}
		seen[p.ID] = struct{}{}
		areas = append(areas, ResolvedArea{
			AlertID:   alertID,
			PlaceID:   p.ID,
			Overrides: mention.Overrides,
		})
	}
	return areas
}
