package identity

import (
	"context"

	"github.com/lexitally/vocabstats/internal/datastore/repository"
	"github.com/lexitally/vocabstats/internal/errors"
)

// StoreProviderName identifies the store-backed provider in logs and metrics.
const StoreProviderName = "store"

// StoreProvider pages the learners table by id. The page token is the last id
// of the previous page.
type StoreProvider struct {
	learners repository.LearnerRepository
	recorder RequestRecorder
}

// NewStoreProvider creates a provider over the learners table.
func NewStoreProvider(learners repository.LearnerRepository, recorder RequestRecorder) *StoreProvider {
	return &StoreProvider{learners: learners, recorder: recorder}
}

// Name implements Provider.
func (p *StoreProvider) Name() string {
	return StoreProviderName
}

// ListUsers implements Provider.
func (p *StoreProvider) ListUsers(ctx context.Context, pageToken string, pageSize int) (Page, error) {
	if pageSize < 1 {
		return Page{}, errors.Newf("page size must be positive, got %d", pageSize).
			Component("identity").
			Category(errors.CategoryValidation).
			Build()
	}

	ids, err := p.learners.ListIDsAfter(ctx, pageToken, pageSize)
	if err != nil {
		p.record(false)
		return Page{}, errors.New(err).
			Component("identity").
			Category(errors.CategoryDatabase).
			Context("provider", StoreProviderName).
			Context("operation", "list_learners").
			Build()
	}
	p.record(true)

	page := Page{UserIDs: ids}
	if len(ids) == pageSize {
		page.NextPageToken = ids[len(ids)-1]
	}
	return page, nil
}

func (p *StoreProvider) record(ok bool) {
	if p.recorder == nil {
		return
	}
	result := "success"
	if !ok {
		result = "error"
	}
	p.recorder.RecordIdentityRequest(StoreProviderName, result)
}
