package search

import (
	"context"
	"fmt"
	"strings"

	"brokerflow/api/internal/store"
)

// StoreFallback answers searches with the store's ILIKE listing.
type StoreFallback struct {
	lister AssignmentLister
}

func NewStoreFallback(lister AssignmentLister) *StoreFallback {
	return &StoreFallback{lister: lister}
}

func (f *StoreFallback) Search(ctx context.Context, q Query) ([]Result, int, error) {
	items, err := f.lister.ListAssignments(ctx, q.TenantID, store.AssignmentFilter{
		Status: q.Status,
		Query:  strings.TrimSpace(q.Text),
		Limit:  limitOrDefault(q.Limit),
	})
	if err != nil {
		return nil, 0, fmt.Errorf("fallback search: %w", err)
	}

	results := make([]Result, 0, len(items))
	for _, item := range items {
		record := RecordFromAssignment(item)
		results = append(results, Result{
			ID:         record.ID,
			Address:    record.Address,
			City:       record.City,
			Status:     record.Status,
			SellerName: record.SellerName,
		})
	}
	return results, len(results), nil
}
