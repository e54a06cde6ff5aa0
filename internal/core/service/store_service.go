package service

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dukkani/dukkani/internal/core/domain"
	"github.com/dukkani/dukkani/internal/port"
)

var (
	slugPattern  = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)
	slugReplacer = regexp.MustCompile(`[^a-z0-9]+`)
)

type CreateStoreInput struct {
	Name        string
	Slug        string
	Description string
}

type StoreService struct {
	stores port.StoreRepository
	now    func() time.Time
}

func NewStoreService(stores port.StoreRepository) *StoreService {
	return &StoreService{stores: stores, now: time.Now}
}

// Create registers a store owned by userID. An empty slug is derived
// from the name.
func (s *StoreService) Create(ctx context.Context, in CreateStoreInput, userID string) (*domain.Store, error) {
	if userID == "" {
		return nil, domain.ErrUnauthenticated
	}

	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, domain.NewValidationError("name", "cannot be empty", in.Name)
	}

	slug := strings.ToLower(strings.TrimSpace(in.Slug))
	if slug == "" {
		slug = Slugify(name)
	}
	if !slugPattern.MatchString(slug) {
		return nil, domain.NewValidationError("slug", "must be lowercase letters, digits and dashes", in.Slug)
	}

	existing, err := s.stores.GetStoreBySlug(ctx, slug)
	if err != nil {
		return nil, fmt.Errorf("check slug: %w", err)
	}
	if existing != nil {
		return nil, domain.NewValidationError("slug", "already taken", slug)
	}

	now := s.now().UTC()
	store := domain.Store{
		ID:          uuid.NewString(),
		OwnerID:     userID,
		Name:        name,
		Slug:        slug,
		Description: in.Description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.stores.CreateStore(ctx, store); err != nil {
		return nil, err
	}
	return &store, nil
}

func (s *StoreService) Get(ctx context.Context, storeID, userID string) (*domain.Store, error) {
	return ownedStore(ctx, s.stores, storeID, userID)
}

func (s *StoreService) ListMine(ctx context.Context, userID string) ([]domain.Store, error) {
	if userID == "" {
		return nil, domain.ErrUnauthenticated
	}
	return s.stores.ListStoresByOwner(ctx, userID)
}

// Slugify lowercases s and collapses every run of other characters into
// a single dash.
func Slugify(s string) string {
	return strings.Trim(slugReplacer.ReplaceAllString(strings.ToLower(s), "-"), "-")
}
