package database

import (
	"github.com/robalyx/sentinel/internal/database/models"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

// Repository provides access to all database models.
type Repository struct {
	identity     *models.IdentityModel
	ban          *models.BanModel
	scammer      *models.ScammerModel
	suspension   *models.SuspensionModel
	detectionLog *models.DetectionLogModel
}

// NewRepository creates a new repository instance with all models.
func NewRepository(db *bun.DB, logger *zap.Logger) *Repository {
	return &Repository{
		identity:     models.NewIdentity(db, logger),
		ban:          models.NewBan(db, logger),
		scammer:      models.NewScammer(db, logger),
		suspension:   models.NewSuspension(db, logger),
		detectionLog: models.NewDetectionLog(db, logger),
	}
}

// Identity returns the user and chat identity model repository.
func (r *Repository) Identity() *models.IdentityModel {
	return r.identity
}

// Ban returns the ban model repository.
func (r *Repository) Ban() *models.BanModel {
	return r.ban
}

// Scammer returns the scammer model repository.
func (r *Repository) Scammer() *models.ScammerModel {
	return r.scammer
}

// Suspension returns the suspension model repository.
func (r *Repository) Suspension() *models.SuspensionModel {
	return r.suspension
}

// DetectionLog returns the AI detection log model repository.
func (r *Repository) DetectionLog() *models.DetectionLogModel {
	return r.detectionLog
}
