package database

import (
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Roles a user account can hold.
const (
	RoleStudent = "student"
	RoleAdmin   = "admin"
)

// DefaultAvatarKey is the placeholder avatar stored for profiles without an upload.
const DefaultAvatarKey = "avatars/default.png"

// User is an account able to sign in and own projects.
type User struct {
	ID                 uint     `gorm:"primaryKey"`
	Username           string   `gorm:"uniqueIndex;size:64;not null"`
	FirstName          string   `gorm:"size:150"`
	LastName           string   `gorm:"size:150"`
	Email              string   `gorm:"uniqueIndex;size:254;not null"`
	Enrollment         *string  `gorm:"uniqueIndex;size:9"`
	PasswordHash       string   `gorm:"size:255;not null"`
	Role               string   `gorm:"size:20;not null;default:student"`
	MustChangePassword bool     `gorm:"not null;default:false"`
	Profile            *Profile `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// DisplayName returns the full name, or the username when no name was given.
func (u User) DisplayName() string {
	full := strings.TrimSpace(strings.TrimSpace(u.FirstName) + " " + strings.TrimSpace(u.LastName))
	if full == "" {
		return u.Username
	}
	return full
}

// AfterCreate gives every new account its profile row.
func (u *User) AfterCreate(tx *gorm.DB) error {
	if u.Profile != nil {
		return nil
	}
	profile := Profile{UserID: u.ID, AvatarKey: DefaultAvatarKey}
	if err := tx.Create(&profile).Error; err != nil {
		return err
	}
	u.Profile = &profile
	return nil
}

// Profile holds per-user data that is not part of the account itself.
type Profile struct {
	ID        uint   `gorm:"primaryKey"`
	UserID    uint   `gorm:"uniqueIndex;not null"`
	User      *User  `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
	Bio       string `gorm:"type:text"`
	AvatarKey string `gorm:"size:512;not null;default:avatars/default.png"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SynopsisMeta records how a project's synopsis was produced.
type SynopsisMeta struct {
	Source       string     `json:"source,omitempty"` // document | fallback
	FallbackUsed bool       `json:"fallback_used"`
	Warnings     []string   `json:"warnings,omitempty"`
	GeneratedAt  *time.Time `json:"generated_at,omitempty"`
}

// Project is a student-submitted academic work with its stored files.
type Project struct {
	ID           uint   `gorm:"primaryKey"`
	Title        string `gorm:"size:250;not null;index"`
	Author       string `gorm:"size:200"`
	Description  string `gorm:"type:text"`
	Type         string `gorm:"size:100;index"`
	Career       string `gorm:"size:150;index"`
	Year         *int
	CoverKey     string `gorm:"size:512"`
	DocumentKey  string `gorm:"size:512;not null"`
	DocumentName string `gorm:"size:255"`
	Synopsis     string `gorm:"type:text"`
	SynopsisMeta datatypes.JSONType[SynopsisMeta]
	Downloads    uint      `gorm:"not null;default:0"`
	CreatedByID  *uint     `gorm:"index"`
	CreatedBy    *User     `gorm:"constraint:OnUpdate:CASCADE,OnDelete:SET NULL;"`
	CreatedAt    time.Time `gorm:"index"`
	UpdatedAt    time.Time
}

// NewestFirst orders projects by upload time, most recent first.
func NewestFirst(db *gorm.DB) *gorm.DB {
	return db.Order("created_at DESC").Order("id DESC")
}
