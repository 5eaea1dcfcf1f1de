package usecase

import (
	"context"

	"github.com/V4T54L/scanalyzer/internal/domain"
)

// Listing bounds.
const (
	DefaultListLimit = 300
	MaxListLimit     = 1000
)

// ManageLogsUseCase exposes the operator read, patch and delete operations.
type ManageLogsUseCase struct {
	store domain.RecordStore
}

// NewManageLogsUseCase creates a new ManageLogsUseCase.
func NewManageLogsUseCase(store domain.RecordStore) *ManageLogsUseCase {
	return &ManageLogsUseCase{store: store}
}

func (uc *ManageLogsUseCase) Get(ctx context.Context, id string) (*domain.PersistedRecord, error) {
	return uc.store.GetByID(ctx, id)
}

// List returns records matching filter, newest first. A zero limit selects
// DefaultListLimit.
func (uc *ManageLogsUseCase) List(ctx context.Context, filter domain.RecordFilter) ([]domain.PersistedRecord, error) {
	if filter.Skip < 0 {
		return nil, &domain.SchemaError{Index: -1, Field: "skip", Reason: "must be greater than or equal to 0"}
	}
	switch {
	case filter.Limit == 0:
		filter.Limit = DefaultListLimit
	case filter.Limit < 1 || filter.Limit > MaxListLimit:
		return nil, &domain.SchemaError{Index: -1, Field: "limit", Reason: "must be between 1 and 1000"}
	}
	return uc.store.List(ctx, filter)
}

// Update applies a narrow patch. Unset fields are left untouched; a patch
// that sets nothing is rejected.
func (uc *ManageLogsUseCase) Update(ctx context.Context, id string, patch domain.RecordPatch) error {
	if patch.IsEmpty() {
		return domain.ErrEmptyPatch
	}
	return uc.store.Update(ctx, id, patch)
}

func (uc *ManageLogsUseCase) Delete(ctx context.Context, id string) error {
	return uc.store.Delete(ctx, id)
}
