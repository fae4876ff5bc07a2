// Package identity enumerates the learners known to the system. Providers
// page through the user directory with opaque page tokens.
package identity

import (
	"context"
)

// Page is one page of the user directory.
type Page struct {
	UserIDs []string
	// NextPageToken is empty on the last page.
	NextPageToken string
}

// Provider lists users page by page. An empty pageToken requests the first page.
type Provider interface {
	ListUsers(ctx context.Context, pageToken string, pageSize int) (Page, error)
	Name() string
}

// RequestRecorder receives one observation per page request.
// It is satisfied by *metrics.JobMetrics.
type RequestRecorder interface {
	RecordIdentityRequest(provider, result string)
}
