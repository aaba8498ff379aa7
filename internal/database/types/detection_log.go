package types

import (
	"time"

	"github.com/uptrace/bun"
)

// DetectionLog is an append-only audit row for a message the AI stage saw.
type DetectionLog struct {
	bun.BaseModel `bun:"table:ai_scam_detection_logs"`

	ID                int64     `bun:",pk,autoincrement" json:"id"`
	UserID            string    `bun:",notnull"          json:"userId"`
	ChatID            string    `bun:",notnull"          json:"chatId"`
	MessageText       string    `bun:",type:text"        json:"messageText"`
	PatternConfidence float64   `bun:",notnull"          json:"patternConfidence"`
	AIConfidence      float64   `bun:",notnull"          json:"aiConfidence"`
	ActionTaken       string    `bun:",notnull"          json:"actionTaken"`
	CreatedAt         time.Time `bun:",notnull"          json:"createdAt"`
}
