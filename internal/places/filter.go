package places

import (
	"context"

	"github.com/couchcryptid/advisory-alert-etl/internal/domain"
)

// dropAncestors removes every record that is an ancestor of another record
// in the list. It runs over the whole result so "Punjab, Lahore, Kasur"
// keeps only the two districts.
func (r *Resolver) dropAncestors(ctx context.Context, recs []domain.PlaceRecord) ([]domain.PlaceRecord, error) {
	if len(recs) < 2 {
		return recs, nil
	}
	covered := make(map[string]bool)
	for _, rec := range recs {
		ids, err := r.ancestorsOf(ctx, rec.ID)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			covered[id] = true
		}
	}
	out := make([]domain.PlaceRecord, 0, len(recs))
	for _, rec := range recs {
		if covered[rec.ID] {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}
