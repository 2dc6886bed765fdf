package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEnums_RejectOutsideSet(t *testing.T) {
	_, err := ParseCategory("Met")
	require.NoError(t, err)
	_, err = ParseCategory("met")
	require.Error(t, err, "case variants are not coerced")
	_, err = ParseCategory("Weather")
	require.Error(t, err)

	_, err = ParseUrgency("Immediate")
	require.NoError(t, err)
	_, err = ParseUrgency("Soon")
	require.Error(t, err)

	_, err = ParseSeverity("Extreme")
	require.NoError(t, err)
	_, err = ParseSeverity("High")
	require.Error(t, err)
	_, err = ParseSeverity("")
	require.Error(t, err)
}

func TestAlertID_Deterministic(t *testing.T) {
	a := AlertID("doc-123")
	b := AlertID("doc-123")
	c := AlertID("doc-124")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Equal(t, 5, int(a.Version()))
}

func TestNewAlert_UsesClock(t *testing.T) {
	fixed := time.Date(2025, time.August, 14, 9, 30, 0, 0, time.UTC)
	SetClock(clockwork.NewFakeClockAt(fixed))
	t.Cleanup(func() { SetClock(nil) })

	from := time.Date(2025, time.August, 15, 0, 0, 0, 0, time.UTC)
	alert := NewAlert("doc-1", StructuredAlert{
		Category:      CategoryMet,
		Event:         "Heavy Rainfall",
		Urgency:       UrgencyExpected,
		Severity:      SeveritySevere,
		EffectiveFrom: &from,
	})

	assert.Equal(t, AlertID("doc-1"), alert.ID)
	assert.Equal(t, "doc-1", alert.DocumentID)
	assert.Equal(t, CategoryMet, alert.Category)
	assert.Equal(t, fixed, alert.ProcessedAt)
	assert.Equal(t, &from, alert.EffectiveFrom)
	assert.Nil(t, alert.EffectiveUntil)
}

func TestResolvedAreas_DeduplicatesPlaces(t *testing.T) {
	severe := SeveritySevere
	mention := AreaMention{
		PlaceNames: []string{"Lahore", "Kasur"},
		Overrides:  Overrides{Severity: &severe},
	}
	places := []PlaceRecord{{ID: "lhr"}, {ID: "ksr"}, {ID: "lhr"}}

	areas := ResolvedAreas(AlertID("d"), mention, places)
	require.Len(t, areas, 2)
	assert.Equal(t, "lhr", areas[0].PlaceID)
	assert.Equal(t, "ksr", areas[1].PlaceID)
	assert.Equal(t, &severe, areas[1].Severity)
}

func TestResolvedAreas_NoPlacesNoRows(t *testing.T) {
	areas := ResolvedAreas(AlertID("d"), AreaMention{PlaceNames: []string{"Atlantis"}}, nil)
	assert.Empty(t, areas)
}

func TestStageError_Unwrap(t *testing.T) {
	err := &StageError{Stage: StateResolving, Err: fmt.Errorf("lookup: %w", ErrResolverBackend)}
	assert.True(t, errors.Is(err, ErrResolverBackend))
	assert.Equal(t, "resolver_backend", ErrorKind(err))
	assert.Contains(t, err.Error(), "RESOLVING")

	var se *StageError
	require.ErrorAs(t, fmt.Errorf("job 1: %w", err), &se)
	assert.Equal(t, StateResolving, se.Stage)
}

func TestErrorKind(t *testing.T) {
	assert.Equal(t, "none", ErrorKind(nil))
	assert.Equal(t, "schema", ErrorKind(fmt.Errorf("x: %w", ErrSchema)))
	assert.Equal(t, "fetch", ErrorKind(ErrFetch))
	assert.Equal(t, "unknown", ErrorKind(errors.New("boom")))
}
