package types

import "time"

// Suspension temporarily mutes a user in a chat.
type Suspension struct {
	ID          int64     `bun:",pk,autoincrement"                        json:"id"`
	UserID      string    `bun:",notnull,unique:suspensions_user_chat_key" json:"userId"`
	ChatID      string    `bun:",notnull,unique:suspensions_user_chat_key" json:"chatId"`
	Reason      string    `bun:",type:text"                                json:"reason"`
	SuspendedBy string    `bun:",notnull"                                  json:"suspendedBy"`
	SuspendedAt time.Time `bun:",notnull"                                  json:"suspendedAt"`
	ExpiresAt   time.Time `bun:",notnull"                                  json:"expiresAt"`
}

// IsExpired checks if the suspension has ended at the given time.
func (s *Suspension) IsExpired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
