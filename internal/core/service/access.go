package service

import (
	"context"
	"fmt"

	"github.com/dukkani/dukkani/internal/core/domain"
	"github.com/dukkani/dukkani/internal/port"
)

// ownedStore loads storeID and checks that userID owns it.
func ownedStore(ctx context.Context, stores port.StoreRepository, storeID, userID string) (*domain.Store, error) {
	if userID == "" {
		return nil, domain.ErrUnauthenticated
	}
	if storeID == "" {
		return nil, domain.NewValidationError("storeId", "cannot be empty", storeID)
	}

	store, err := stores.GetStore(ctx, storeID)
	if err != nil {
		return nil, fmt.Errorf("load store: %w", err)
	}
	if store == nil {
		return nil, domain.NewNotFoundError("store", storeID)
	}
	if !store.OwnedBy(userID) {
		return nil, domain.NewForbiddenError("store", storeID)
	}
	return store, nil
}
