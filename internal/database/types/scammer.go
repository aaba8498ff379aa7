package types

import "time"

// Scammer is a user flagged as a scammer across all chats.
type Scammer struct {
	ID         int64     `bun:",pk,autoincrement" json:"id"`
	UserID     string    `bun:",notnull,unique"   json:"userId"`
	Reason     string    `bun:",type:text"        json:"reason"`
	ReportedBy string    `bun:",notnull"          json:"reportedBy"`
	ReportedAt time.Time `bun:",notnull"          json:"reportedAt"`
	Evidence   string    `bun:",type:text"        json:"evidence,omitempty"`
	Verified   bool      `bun:",notnull"          json:"verified"`
}
