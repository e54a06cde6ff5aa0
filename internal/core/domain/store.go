package domain

import "time"

type Store struct {
	ID          string
	OwnerID     string
	Name        string
	Slug        string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// OwnedBy reports whether userID owns the store.
func (s Store) OwnedBy(userID string) bool {
	return userID != "" && s.OwnerID == userID
}
