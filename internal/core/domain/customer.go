package domain

import "time"

type Customer struct {
	ID        string
	StoreID   string
	Name      string
	Phone     string
	CreatedAt time.Time
}
