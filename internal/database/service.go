package database

import (
	"github.com/robalyx/sentinel/internal/database/service"
	"go.uber.org/zap"
)

// Service provides access to all business logic services.
type Service struct {
	moderation *service.ModerationService
}

// NewService creates a new service instance with all services.
func NewService(repository *Repository, logger *zap.Logger, opts ...service.ModerationOption) *Service {
	return &Service{
		moderation: service.NewModeration(service.ModerationStores{
			Bans:        repository.Ban(),
			Scammers:    repository.Scammer(),
			Suspensions: repository.Suspension(),
			Identities:  repository.Identity(),
			Detections:  repository.DetectionLog(),
		}, logger, opts...),
	}
}

// Moderation returns the moderation service.
func (s *Service) Moderation() *service.ModerationService {
	return s.moderation
}
