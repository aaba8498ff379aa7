package types

import "time"

// User is the identity row that moderation records reference.
type User struct {
	ID          string    `bun:",pk"                                    json:"id"`
	Username    string    `bun:",nullzero"                              json:"username,omitempty"`
	Placeholder bool      `bun:",notnull"                               json:"placeholder"` // created before the real profile was seen
	CreatedAt   time.Time `bun:",notnull,default:current_timestamp" json:"createdAt"`
}

// Chat is the identity row for a chat.
type Chat struct {
	ID          string    `bun:",pk"                                    json:"id"`
	Title       string    `bun:",nullzero"                              json:"title,omitempty"`
	Placeholder bool      `bun:",notnull"                               json:"placeholder"`
	CreatedAt   time.Time `bun:",notnull,default:current_timestamp" json:"createdAt"`
}
