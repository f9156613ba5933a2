package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/docorganizer/docorganizer/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StagePending stages a classified upload awaiting confirm/discard. A second
// file from the same phone replaces the first; only one slot exists per user.
func (s *Store) StagePending(action models.PendingAction) error {
	action.ExpiresAt = time.Now().Add(models.PendingActionTTL)
	err := s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "phone"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"local_path", "target_folder_id", "suggested_name", "subject_label", "expires_at", "updated_at",
		}),
	}).Create(&action).Error
	if err != nil {
		return fmt.Errorf("failed to stage pending action for %s: %w", action.Phone, err)
	}
	return nil
}

// GetPending returns the staged action for a phone, if any. Actions past
// their TTL are invisible here even before the sweep deletes them, so a
// stale button click resolves nothing.
func (s *Store) GetPending(phone string) (*models.PendingAction, bool) {
	var action models.PendingAction
	err := s.db.Where("phone = ? AND expires_at > ?", phone, time.Now()).First(&action).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			s.logger.Warn("pending action lookup failed", "phone", phone, "error", err.Error())
		}
		return nil, false
	}
	return &action, true
}

// ClearPending removes the staged action for a phone.
func (s *Store) ClearPending(phone string) error {
	err := s.db.Where("phone = ?", phone).Delete(&models.PendingAction{}).Error
	if err != nil {
		return fmt.Errorf("failed to clear pending action for %s: %w", phone, err)
	}
	return nil
}

// TakeExpiredPending removes actions past their TTL and returns them so the
// caller can delete the orphaned temp files.
func (s *Store) TakeExpiredPending(now time.Time) ([]models.PendingAction, error) {
	var expired []models.PendingAction
	if err := s.db.Where("expires_at < ?", now).Find(&expired).Error; err != nil {
		return nil, fmt.Errorf("failed to list expired pending actions: %w", err)
	}
	if len(expired) == 0 {
		return nil, nil
	}
	if err := s.db.Where("expires_at < ?", now).Delete(&models.PendingAction{}).Error; err != nil {
		return nil, fmt.Errorf("failed to delete expired pending actions: %w", err)
	}
	return expired, nil
}
