package models

import (
	"github.com/docorganizer/docorganizer/internal/crypto"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// User status constants. Status drives all webhook dispatch.
const (
	StatusNew              = "NEW"
	StatusAwaitingLogin    = "AWAITING_LOGIN"
	StatusConnected        = "CONNECTED"
	StatusAwaitingSyllabus = "AWAITING_SYLLABUS"
	StatusEditingList      = "EDITING_LIST"
	StatusActive           = "ACTIVE"
)

var encryptor *crypto.Encryptor

// InitEncryption initializes the token encryptor for the models package.
// Must be called before any database operations involving User tokens.
func InitEncryption(encryptionKey string) error {
	var err error
	encryptor, err = crypto.NewEncryptor(encryptionKey)
	return err
}

// User is one WhatsApp account linked (or linking) to a Google Drive.
// Phone is the immutable key; everything else mutates through the workflow.
type User struct {
	gorm.Model
	Phone         string `gorm:"uniqueIndex;not null"`
	Email         string `gorm:"index"`
	Name          string `gorm:"not null;default:''"`
	Picture       string `gorm:"not null;default:''"`
	Status        string `gorm:"not null;default:'NEW';index"`
	GoogleToken   string `gorm:"type:text"` // token bundle JSON, stored encrypted
	SyllabusDraft datatypes.JSON
	FolderMap     datatypes.JSON
	RootFolderID  string `gorm:"not null;default:''"`
}

// BeforeSave encrypts the token bundle before it is written.
// GCM produces different output each time due to the random nonce.
func (u *User) BeforeSave(tx *gorm.DB) error {
	if encryptor == nil || u.GoogleToken == "" {
		return nil
	}
	sealed, err := encryptor.Encrypt(u.GoogleToken)
	if err != nil {
		return err
	}
	u.GoogleToken = sealed
	return nil
}

// AfterFind decrypts the token bundle after loading from the database.
func (u *User) AfterFind(tx *gorm.DB) error {
	if encryptor == nil || u.GoogleToken == "" {
		return nil
	}
	opened, err := encryptor.Decrypt(u.GoogleToken)
	if err != nil {
		return err
	}
	u.GoogleToken = opened
	return nil
}
