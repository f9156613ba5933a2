// Package store is the durable per-phone user record store. Reads degrade to
// "absent" on storage errors so a webhook is never failed by the database;
// that trade is deliberate and logged.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/docorganizer/docorganizer/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Store wraps the users and pending_actions tables behind typed accessors.
// Field updates go through named setters only; there is no write-by-field-name
// path.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
}

func New(db *gorm.DB, logger *slog.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// Get returns the user record for a phone number, or absence. A storage error
// reads as absence: the caller treats the sender as NEW rather than failing.
func (s *Store) Get(phone string) (*models.User, bool) {
	var user models.User
	err := s.db.Where("phone = ?", phone).First(&user).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			s.logger.Warn("user lookup failed, treating as absent", "phone", phone, "error", err.Error())
		}
		return nil, false
	}
	return &user, true
}

// GetByEmail resolves a record by linked Google email. At most one record per
// email is assumed; First picks deterministically if that is ever violated.
func (s *Store) GetByEmail(email string) (*models.User, bool) {
	var user models.User
	err := s.db.Where("email = ?", email).First(&user).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			s.logger.Warn("user lookup by email failed, treating as absent", "email", email, "error", err.Error())
		}
		return nil, false
	}
	return &user, true
}

// ensure creates a default NEW record for the phone if none exists yet.
// Every setter funnels through here so first contact lazily registers users.
func (s *Store) ensure(phone string) error {
	user := models.User{Phone: phone, Status: models.StatusNew}
	err := s.db.Where(models.User{Phone: phone}).FirstOrCreate(&user).Error
	if err != nil {
		return fmt.Errorf("failed to ensure user %s: %w", phone, err)
	}
	return nil
}

func (s *Store) update(phone string, fields map[string]interface{}) error {
	if err := s.ensure(phone); err != nil {
		return err
	}
	err := s.db.Model(&models.User{}).Where("phone = ?", phone).Updates(fields).Error
	if err != nil {
		return fmt.Errorf("failed to update user %s: %w", phone, err)
	}
	return nil
}

// SetStatus moves the user to a new workflow status.
func (s *Store) SetStatus(phone, status string) error {
	return s.update(phone, map[string]interface{}{"status": status})
}

// SetProfile records the Google profile fetched after OAuth.
func (s *Store) SetProfile(phone, email, name, picture string) error {
	return s.update(phone, map[string]interface{}{
		"email":   email,
		"name":    name,
		"picture": picture,
	})
}

// SetToken stores the raw token bundle JSON. Encryption happens in the model
// hook on save.
func (s *Store) SetToken(phone, tokenJSON string) error {
	if err := s.ensure(phone); err != nil {
		return err
	}
	var user models.User
	if err := s.db.Where("phone = ?", phone).First(&user).Error; err != nil {
		return fmt.Errorf("failed to load user %s: %w", phone, err)
	}
	user.GoogleToken = tokenJSON
	if err := s.db.Save(&user).Error; err != nil {
		return fmt.Errorf("failed to store token for %s: %w", phone, err)
	}
	return nil
}

// SetSyllabusDraft replaces the syllabus draft being edited.
func (s *Store) SetSyllabusDraft(phone string, draft models.Syllabus) error {
	raw, err := json.Marshal(draft)
	if err != nil {
		return fmt.Errorf("failed to marshal syllabus draft: %w", err)
	}
	return s.update(phone, map[string]interface{}{"syllabus_draft": datatypes.JSON(raw)})
}

// SetFolderMap replaces the stored folder map. Callers merge before calling;
// the store never reconciles against Drive contents.
func (s *Store) SetFolderMap(phone string, folders models.FolderMap) error {
	raw, err := json.Marshal(folders)
	if err != nil {
		return fmt.Errorf("failed to marshal folder map: %w", err)
	}
	return s.update(phone, map[string]interface{}{"folder_map": datatypes.JSON(raw)})
}

// SetRootFolder records the user's root Drive folder id.
func (s *Store) SetRootFolder(phone, folderID string) error {
	return s.update(phone, map[string]interface{}{"root_folder_id": folderID})
}
