// Package search finds assignments by free text. Meilisearch serves queries when it is
// reachable; otherwise the Postgres listing answers with a substring match.
package search

import (
	"context"

	"brokerflow/api/internal/store"
)

// Result is a single assignment hit returned to the caller.
type Result struct {
	ID         string `json:"id"`
	Address    string `json:"address"`
	City       string `json:"city"`
	Status     string `json:"status"`
	SellerName string `json:"seller_name,omitempty"`
	Snippet    string `json:"snippet,omitempty"`
}

// Query describes a search request. TenantID is mandatory.
type Query struct {
	TenantID string
	Text     string
	Status   string
	Limit    int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
	Engine  string   `json:"engine"`
}

const (
	EngineMeili    = "meilisearch"
	EngineFallback = "postgres"
)

// AssignmentRecord is the data we index for an assignment.
type AssignmentRecord struct {
	ID              string `json:"id"`
	TenantID        string `json:"tenantId"`
	Address         string `json:"address"`
	City            string `json:"city"`
	PostalCode      string `json:"postalCode"`
	SellerName      string `json:"sellerName"`
	AssociationName string `json:"associationName"`
	Status          string `json:"status"`
}

// RecordFromAssignment flattens an assignment row for indexing.
func RecordFromAssignment(item store.Assignment) AssignmentRecord {
	return AssignmentRecord{
		ID:              item.ID,
		TenantID:        item.TenantID,
		Address:         item.Address,
		City:            item.City,
		PostalCode:      deref(item.PostalCode),
		SellerName:      deref(item.SellerName),
		AssociationName: deref(item.AssociationName),
		Status:          item.Status,
	}
}

// AssignmentLister is the store query used when Meilisearch is unavailable.
type AssignmentLister interface {
	ListAssignments(ctx context.Context, tenantID string, filter store.AssignmentFilter) ([]store.Assignment, error)
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
