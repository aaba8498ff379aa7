package types

import "time"

// BanOptions describes a ban to record.
type BanOptions struct {
	Reason    string
	BannedBy  string
	ExpiresAt *time.Time
	Propagate bool
}

// RemoveOptions describes who lifted a ban and why.
type RemoveOptions struct {
	RemovedBy string
	Reason    string
}

// ScammerOptions describes a scammer report.
type ScammerOptions struct {
	Reason     string
	ReportedBy string
	Evidence   string
	Verified   bool
}

// SuspendOptions describes a suspension to record.
type SuspendOptions struct {
	Reason      string
	SuspendedBy string
	ExpiresAt   time.Time
}

// PurgeResult counts the expired records removed by a purge.
type PurgeResult struct {
	Bans        int64 `json:"bans"`
	Suspensions int64 `json:"suspensions"`
}
