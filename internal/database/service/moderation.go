package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robalyx/sentinel/internal/database/dbretry"
	"github.com/robalyx/sentinel/internal/database/types"
	"github.com/robalyx/sentinel/pkg/utils"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
)

const (
	// MaxMessageLength is the default number of runes kept from an audited message.
	MaxMessageLength = 1000
	// bulkBanWorkers bounds the concurrent writes of AddBans.
	bulkBanWorkers = 4
)

var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrSuspensionExpiry = errors.New("suspension expiry must be in the future")
)

// BanStore is the persistence the service needs for bans.
type BanStore interface {
	UpdateBan(ctx context.Context, record *types.Ban) (bool, error)
	InsertBan(ctx context.Context, record *types.Ban) error
	InsertBanRelaxed(ctx context.Context, record *types.Ban) error
	UpsertBanRaw(ctx context.Context, record *types.Ban) error
	GetBan(ctx context.Context, userID, chatID string, now time.Time) (*types.Ban, error)
	GetPropagatedBan(ctx context.Context, userID string, now time.Time) (*types.Ban, error)
	GetBanDirect(ctx context.Context, userID, chatID string, now time.Time) (*types.Ban, error)
	DeleteBan(ctx context.Context, userID, chatID string) (bool, error)
	GetChatBans(ctx context.Context, chatID string, now time.Time) ([]*types.Ban, error)
	GetPropagatedBans(ctx context.Context, now time.Time) ([]*types.Ban, error)
	DeleteExpiredBans(ctx context.Context, now time.Time) (int64, error)
}

// ScammerStore is the persistence the service needs for scammer reports.
type ScammerStore interface {
	UpsertScammer(ctx context.Context, record *types.Scammer) error
	GetVerifiedScammer(ctx context.Context, userID string) (*types.Scammer, error)
}

// SuspensionStore is the persistence the service needs for suspensions.
type SuspensionStore interface {
	UpdateSuspension(ctx context.Context, record *types.Suspension) (bool, error)
	InsertSuspension(ctx context.Context, record *types.Suspension) error
	InsertSuspensionRelaxed(ctx context.Context, record *types.Suspension) error
	UpsertSuspensionRaw(ctx context.Context, record *types.Suspension) error
	GetSuspension(ctx context.Context, userID, chatID string, now time.Time) (*types.Suspension, error)
	DeleteSuspension(ctx context.Context, userID, chatID string) (bool, error)
	DeleteExpiredSuspensions(ctx context.Context, now time.Time) (int64, error)
}

// IdentityStore creates the identity rows moderation records reference.
type IdentityStore interface {
	EnsurePlaceholders(ctx context.Context, userID, chatID string) error
}

// DetectionLogStore appends AI audit rows.
type DetectionLogStore interface {
	InsertDetectionLog(ctx context.Context, record *types.DetectionLog) error
	GetUserDetections(ctx context.Context, userID string, limit int) ([]*types.DetectionLog, error)
}

// ModerationStores groups the stores used by ModerationService.
type ModerationStores struct {
	Bans        BanStore
	Scammers    ScammerStore
	Suspensions SuspensionStore
	Identities  IdentityStore
	Detections  DetectionLogStore
}

// ModerationService handles ban, scammer and suspension business logic.
type ModerationService struct {
	bans        BanStore
	scammers    ScammerStore
	suspensions SuspensionStore
	identities  IdentityStore
	detections  DetectionLogStore
	logger      *zap.Logger
	now         func() time.Time
	maxMsgLen   int
}

// ModerationOption configures a ModerationService.
type ModerationOption func(*ModerationService)

// WithNow overrides the clock used for timestamps.
func WithNow(now func() time.Time) ModerationOption {
	return func(s *ModerationService) {
		s.now = now
	}
}

// WithMaxMessageLength sets how many runes of a message are audited.
func WithMaxMessageLength(n int) ModerationOption {
	return func(s *ModerationService) {
		if n > 0 {
			s.maxMsgLen = n
		}
	}
}

// NewModeration creates a new moderation service.
func NewModeration(stores ModerationStores, logger *zap.Logger, opts ...ModerationOption) *ModerationService {
	s := &ModerationService{
		bans:        stores.Bans,
		scammers:    stores.Scammers,
		suspensions: stores.Suspensions,
		identities:  stores.Identities,
		detections:  stores.Detections,
		logger:      logger.Named("moderation_service"),
		now:         time.Now,
		maxMsgLen:   MaxMessageLength,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// AddBan records a ban and returns the resulting ban view.
func (s *ModerationService) AddBan(
	ctx context.Context, userID, chatID string, opts types.BanOptions,
) (*types.BanView, error) {
	if err := validateIDs(userID, chatID); err != nil {
		return nil, err
	}

	now := s.now()
	record := &types.Ban{
		UserID:    userID,
		ChatID:    chatID,
		Reason:    opts.Reason,
		BannedBy:  opts.BannedBy,
		BannedAt:  now,
		ExpiresAt: opts.ExpiresAt,
		Propagate: opts.Propagate,
		UpdatedAt: now,
	}

	err := s.write(ctx, "ban", userID, chatID, writeChain{
		update:  func(ctx context.Context) (bool, error) { return s.bans.UpdateBan(ctx, record) },
		insert:  func(ctx context.Context) error { return s.bans.InsertBan(ctx, record) },
		relaxed: func(ctx context.Context) error { return s.bans.InsertBanRelaxed(ctx, record) },
		raw:     func(ctx context.Context) error { return s.bans.UpsertBanRaw(ctx, record) },
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add ban: %w", err)
	}

	s.logger.Info("Ban added",
		zap.String("userID", userID),
		zap.String("chatID", chatID),
		zap.String("bannedBy", opts.BannedBy),
		zap.Bool("propagate", opts.Propagate))

	return s.CheckBan(ctx, userID, chatID)
}

// AddBans bans several users in one chat concurrently. The returned map
// holds the error of every user whose ban could not be recorded.
func (s *ModerationService) AddBans(
	ctx context.Context, userIDs []string, chatID string, opts types.BanOptions,
) map[string]error {
	var (
		p      = pool.New().WithContext(ctx).WithMaxGoroutines(bulkBanWorkers)
		mu     sync.Mutex
		failed = make(map[string]error)
	)

	for _, userID := range userIDs {
		p.Go(func(ctx context.Context) error {
			if _, err := s.AddBan(ctx, userID, chatID, opts); err != nil {
				mu.Lock()
				failed[userID] = err
				mu.Unlock()
			}
			return nil
		})
	}

	_ = p.Wait()

	return failed
}

// CheckBan returns the ban that applies to a user in a chat, or nil when the
// user may participate. A verified scammer is banned everywhere. An empty
// chat ID only checks scammer and propagated bans.
func (s *ModerationService) CheckBan(ctx context.Context, userID, chatID string) (*types.BanView, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: empty user ID", ErrInvalidInput)
	}

	view, err := s.resolveBan(ctx, userID, chatID)
	if err == nil {
		return view, nil
	}

	s.logger.Warn("Ban lookup failed, falling back to direct query",
		zap.String("userID", userID),
		zap.String("chatID", chatID),
		zap.Error(err))

	ban, directErr := s.bans.GetBanDirect(ctx, userID, chatID, s.now())
	if directErr != nil {
		return nil, fmt.Errorf("failed to check ban: %w", errors.Join(err, directErr))
	}

	if ban == nil {
		return nil, nil
	}

	source := types.BanSourceChat
	if ban.ChatID != chatID {
		source = types.BanSourcePropagated
	}

	return &types.BanView{Ban: *ban, Source: source}, nil
}

// resolveBan checks scammer, exact and propagated bans in that order.
func (s *ModerationService) resolveBan(ctx context.Context, userID, chatID string) (*types.BanView, error) {
	scammer, err := s.scammers.GetVerifiedScammer(ctx, userID)
	if err != nil {
		return nil, err
	}

	if scammer != nil {
		return types.ScammerBanView(scammer, chatID), nil
	}

	if chatID != "" {
		ban, err := s.bans.GetBan(ctx, userID, chatID, s.now())
		if err != nil {
			return nil, err
		}

		if ban != nil {
			return &types.BanView{Ban: *ban, Source: types.BanSourceChat}, nil
		}
	}

	ban, err := s.bans.GetPropagatedBan(ctx, userID, s.now())
	if err != nil {
		return nil, err
	}

	if ban != nil {
		return &types.BanView{Ban: *ban, Source: types.BanSourcePropagated}, nil
	}

	return nil, nil
}

// RemoveBan lifts the ban of a user in a chat.
// Returns false if the user had no ban in that chat.
func (s *ModerationService) RemoveBan(
	ctx context.Context, userID, chatID string, opts types.RemoveOptions,
) (bool, error) {
	if err := validateIDs(userID, chatID); err != nil {
		return false, err
	}

	removed, err := s.bans.DeleteBan(ctx, userID, chatID)
	if err != nil {
		return false, fmt.Errorf("failed to remove ban: %w", err)
	}

	if !removed {
		return false, nil
	}

	s.logger.Info("Ban removed",
		zap.String("userID", userID),
		zap.String("chatID", chatID),
		zap.String("removedBy", opts.RemovedBy),
		zap.String("reason", opts.Reason))

	return true, nil
}

// MarkAsScammer records a scammer report for a user.
func (s *ModerationService) MarkAsScammer(
	ctx context.Context, userID string, opts types.ScammerOptions,
) (*types.Scammer, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: empty user ID", ErrInvalidInput)
	}

	if err := s.identities.EnsurePlaceholders(ctx, userID, ""); err != nil {
		s.logger.Warn("Failed to ensure user placeholder",
			zap.String("userID", userID),
			zap.Error(err))
	}

	record := &types.Scammer{
		UserID:     userID,
		Reason:     opts.Reason,
		ReportedBy: opts.ReportedBy,
		ReportedAt: s.now(),
		Evidence:   opts.Evidence,
		Verified:   opts.Verified,
	}

	if err := s.scammers.UpsertScammer(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to mark scammer: %w", err)
	}

	s.logger.Info("User marked as scammer",
		zap.String("userID", userID),
		zap.String("reportedBy", opts.ReportedBy),
		zap.Bool("verified", opts.Verified))

	return record, nil
}

// GetChatBans returns the active bans of a chat, newest first.
func (s *ModerationService) GetChatBans(ctx context.Context, chatID string) ([]*types.Ban, error) {
	if strings.TrimSpace(chatID) == "" {
		return nil, fmt.Errorf("%w: empty chat ID", ErrInvalidInput)
	}

	bans, err := s.bans.GetChatBans(ctx, chatID, s.now())
	if err != nil {
		return nil, fmt.Errorf("failed to list chat bans: %w", err)
	}

	return bans, nil
}

// GetPropagatedBans returns every active propagated ban, newest first.
func (s *ModerationService) GetPropagatedBans(ctx context.Context) ([]*types.Ban, error) {
	bans, err := s.bans.GetPropagatedBans(ctx, s.now())
	if err != nil {
		return nil, fmt.Errorf("failed to list propagated bans: %w", err)
	}

	return bans, nil
}

// Suspend records a suspension that ends at opts.ExpiresAt.
func (s *ModerationService) Suspend(
	ctx context.Context, userID, chatID string, opts types.SuspendOptions,
) (*types.Suspension, error) {
	if err := validateIDs(userID, chatID); err != nil {
		return nil, err
	}

	now := s.now()
	if !opts.ExpiresAt.After(now) {
		return nil, ErrSuspensionExpiry
	}

	record := &types.Suspension{
		UserID:      userID,
		ChatID:      chatID,
		Reason:      opts.Reason,
		SuspendedBy: opts.SuspendedBy,
		SuspendedAt: now,
		ExpiresAt:   opts.ExpiresAt,
	}

	err := s.write(ctx, "suspension", userID, chatID, writeChain{
		update:  func(ctx context.Context) (bool, error) { return s.suspensions.UpdateSuspension(ctx, record) },
		insert:  func(ctx context.Context) error { return s.suspensions.InsertSuspension(ctx, record) },
		relaxed: func(ctx context.Context) error { return s.suspensions.InsertSuspensionRelaxed(ctx, record) },
		raw:     func(ctx context.Context) error { return s.suspensions.UpsertSuspensionRaw(ctx, record) },
	})
	if err != nil {
		return nil, fmt.Errorf("failed to suspend user: %w", err)
	}

	s.logger.Info("User suspended",
		zap.String("userID", userID),
		zap.String("chatID", chatID),
		zap.Time("expiresAt", opts.ExpiresAt))

	return record, nil
}

// CheckSuspension returns the active suspension of a user in a chat.
func (s *ModerationService) CheckSuspension(
	ctx context.Context, userID, chatID string,
) (*types.Suspension, error) {
	if err := validateIDs(userID, chatID); err != nil {
		return nil, err
	}

	suspension, err := s.suspensions.GetSuspension(ctx, userID, chatID, s.now())
	if err != nil {
		return nil, fmt.Errorf("failed to check suspension: %w", err)
	}

	return suspension, nil
}

// RemoveSuspension lifts the suspension of a user in a chat.
func (s *ModerationService) RemoveSuspension(ctx context.Context, userID, chatID string) (bool, error) {
	if err := validateIDs(userID, chatID); err != nil {
		return false, err
	}

	removed, err := s.suspensions.DeleteSuspension(ctx, userID, chatID)
	if err != nil {
		return false, fmt.Errorf("failed to remove suspension: %w", err)
	}

	return removed, nil
}

// LogAIAnalysis appends an AI audit row. Failures are logged and dropped.
func (s *ModerationService) LogAIAnalysis(ctx context.Context, record *types.DetectionLog) {
	entry := *record
	entry.MessageText = utils.Truncate(entry.MessageText, s.maxMsgLen)

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now()
	}

	if err := s.detections.InsertDetectionLog(ctx, &entry); err != nil {
		s.logger.Error("Failed to log AI analysis",
			zap.String("userID", entry.UserID),
			zap.String("chatID", entry.ChatID),
			zap.Error(err))
	}
}

// GetUserDetections returns the latest AI audit rows for a user.
func (s *ModerationService) GetUserDetections(
	ctx context.Context, userID string, limit int,
) ([]*types.DetectionLog, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: empty user ID", ErrInvalidInput)
	}

	logs, err := s.detections.GetUserDetections(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list detections: %w", err)
	}

	return logs, nil
}

// PurgeExpired deletes bans and suspensions that have expired.
func (s *ModerationService) PurgeExpired(ctx context.Context) (types.PurgeResult, error) {
	var result types.PurgeResult

	now := s.now()

	bans, err := s.bans.DeleteExpiredBans(ctx, now)
	if err != nil {
		return result, fmt.Errorf("failed to purge bans: %w", err)
	}
	result.Bans = bans

	suspensions, err := s.suspensions.DeleteExpiredSuspensions(ctx, now)
	if err != nil {
		return result, fmt.Errorf("failed to purge suspensions: %w", err)
	}
	result.Suspensions = suspensions

	s.logger.Info("Purged expired records",
		zap.Int64("bans", result.Bans),
		zap.Int64("suspensions", result.Suspensions))

	return result, nil
}

// writeChain is the sequence of strategies used to persist one record.
type writeChain struct {
	update  func(context.Context) (bool, error)
	insert  func(context.Context) error
	relaxed func(context.Context) error
	raw     func(context.Context) error
}

// write persists a record keyed by user and chat. It updates an existing row
// or inserts a new one, and recovers from foreign key violations by relaxing
// constraints and finally by a raw upsert. The insert error is returned only
// when every strategy fails.
func (s *ModerationService) write(ctx context.Context, kind, userID, chatID string, chain writeChain) error {
	logger := s.logger.With(
		zap.String("kind", kind),
		zap.String("userID", userID),
		zap.String("chatID", chatID))

	if err := s.identities.EnsurePlaceholders(ctx, userID, chatID); err != nil {
		logger.Warn("Failed to ensure identity placeholders", zap.Error(err))
	}

	updated, err := chain.update(ctx)
	if err != nil {
		logger.Warn("Update failed, trying insert", zap.Error(err))
	}

	if updated {
		return nil
	}

	insertErr := chain.insert(ctx)
	if insertErr == nil {
		return nil
	}

	// Lost a race against a concurrent insert of the same key.
	if errors.Is(insertErr, dbretry.ErrUniqueViolation) {
		if updated, err := chain.update(ctx); err == nil && updated {
			return nil
		}
		return insertErr
	}

	if !errors.Is(insertErr, dbretry.ErrForeignKeyViolation) {
		return insertErr
	}

	logger.Warn("Insert violated a foreign key, retrying with relaxed constraints", zap.Error(insertErr))

	err = chain.relaxed(ctx)
	if err == nil {
		return nil
	}

	logger.Warn("Relaxed insert failed, falling back to raw upsert", zap.Error(err))

	err = chain.raw(ctx)
	if err == nil {
		return nil
	}

	logger.Error("All write strategies failed", zap.Error(err))

	return insertErr
}

func validateIDs(userID, chatID string) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("%w: empty user ID", ErrInvalidInput)
	}

	if strings.TrimSpace(chatID) == "" {
		return fmt.Errorf("%w: empty chat ID", ErrInvalidInput)
	}

	return nil
}
