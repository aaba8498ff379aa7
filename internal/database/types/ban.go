package types

import (
	"time"
)

// BanSource describes which rule produced a ban view.
type BanSource string

const (
	// BanSourceScammer means the user is a verified scammer, banned everywhere.
	BanSourceScammer BanSource = "scammer"
	// BanSourceChat means the ban was issued for the requested chat.
	BanSourceChat BanSource = "chat"
	// BanSourcePropagated means a ban from another chat applies to all chats.
	BanSourcePropagated BanSource = "propagated"
)

// Ban represents a user banned from a chat.
type Ban struct {
	ID        int64      `bun:",pk,autoincrement"                 json:"id"`
	UserID    string     `bun:",notnull,unique:bans_user_chat_key" json:"userId"`
	ChatID    string     `bun:",notnull,unique:bans_user_chat_key" json:"chatId"`
	Reason    string     `bun:",type:text"                         json:"reason"`
	BannedBy  string     `bun:",notnull"                           json:"bannedBy"`
	BannedAt  time.Time  `bun:",notnull"                           json:"bannedAt"`
	ExpiresAt *time.Time `bun:",nullzero"                          json:"expiresAt,omitempty"` // nil for permanent
	Propagate bool       `bun:",notnull"                           json:"propagate"`           // applies to every chat
	UpdatedAt time.Time  `bun:",notnull"                           json:"updatedAt"`
}

// IsExpired checks if the ban has expired at the given time.
func (b *Ban) IsExpired(now time.Time) bool {
	return b.ExpiresAt != nil && !now.Before(*b.ExpiresAt)
}

// IsPermanent checks if the ban is permanent.
func (b *Ban) IsPermanent() bool {
	return b.ExpiresAt == nil
}

// BanView is the answer to a ban check.
type BanView struct {
	Ban

	Source BanSource `json:"source"`
}

// ScammerBanView builds the global ban view for a verified scammer.
func ScammerBanView(scammer *Scammer, chatID string) *BanView {
	return &BanView{
		Ban: Ban{
			UserID:    scammer.UserID,
			ChatID:    chatID,
			Reason:    scammer.Reason,
			BannedBy:  scammer.ReportedBy,
			BannedAt:  scammer.ReportedAt,
			Propagate: true,
			UpdatedAt: scammer.ReportedAt,
		},
		Source: BanSourceScammer,
	}
}
