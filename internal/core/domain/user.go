package domain

import "time"

type User struct {
	ID             string
	Name           string
	Email          string
	TelegramChatID *int64
	CreatedAt      time.Time
}

func (u User) TelegramLinked() bool {
	return u.TelegramChatID != nil
}
