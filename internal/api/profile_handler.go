package api

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"acadRepo/internal/database"
	"acadRepo/internal/storage"
	"acadRepo/internal/upload"
)

// ProfileHandler serves the caller's account and profile.
type ProfileHandler struct {
	db      *gorm.DB
	store   FileStore
	uploads *upload.Validator
	logger  *slog.Logger
}

func NewProfileHandler(db *gorm.DB, store FileStore, uploads *upload.Validator, logger *slog.Logger) *ProfileHandler {
	return &ProfileHandler{db: db, store: store, uploads: uploads, logger: logger}
}

type accountForm struct {
	Username   string `form:"username" binding:"required,min=3,max=64"`
	FirstName  string `form:"first_name" binding:"max=150"`
	LastName   string `form:"last_name" binding:"max=150"`
	Email      string `form:"email" binding:"required,email,max=254"`
	Enrollment string `form:"enrollment" binding:"omitempty,len=9,numeric"`
}

type bioForm struct {
	Bio string `form:"bio" binding:"max=2000"`
}

// Get returns the caller's account with its profile.
func (h *ProfileHandler) Get(c *gin.Context) {
	user, ok := h.currentUser(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, newProfileResponse(*user, *user.Profile))
}

// Update validates the account and profile forms independently and saves both only when
// neither has errors.
func (h *ProfileHandler) Update(c *gin.Context) {
	user, ok := h.currentUser(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	logger := loggerFrom(c, h.logger).With(slog.Uint64("user_id", uint64(user.ID)))

	var account accountForm
	accountErrs := fieldErrors{}
	if err := c.ShouldBind(&account); err != nil {
		errs, ok := bindingFieldErrors(err)
		if !ok {
			BadRequest(c, "invalid form payload")
			return
		}
		accountErrs = errs
	}
	account.Username = strings.TrimSpace(account.Username)
	account.FirstName = strings.TrimSpace(account.FirstName)
	account.LastName = strings.TrimSpace(account.LastName)
	account.Email = strings.ToLower(strings.TrimSpace(account.Email))
	account.Enrollment = strings.TrimSpace(account.Enrollment)

	if account.Username != "" && !usernamePattern.MatchString(account.Username) {
		accountErrs.add("username", "use only letters, digits and @.+-_")
	}
	if err := h.checkAccountUnique(c, user.ID, account, accountErrs); err != nil {
		logger.Error("profile uniqueness lookup failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	var profile bioForm
	profileErrs := fieldErrors{}
	if err := c.ShouldBind(&profile); err != nil {
		errs, ok := bindingFieldErrors(err)
		if !ok {
			BadRequest(c, "invalid form payload")
			return
		}
		profileErrs = errs
	}
	avatar, err := optionalImage(c, h.uploads, "avatar")
	if err := collectUploadError(profileErrs, err); err != nil {
		logger.Error("read avatar failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	if len(accountErrs) > 0 || len(profileErrs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "validation failed",
			"forms": gin.H{
				"account": accountErrs,
				"profile": profileErrs,
			},
		})
		return
	}

	var newAvatarKey string
	if avatar != nil {
		newAvatarKey, err = storeFile(ctx, h.store, storage.PrefixAvatars, user.ID, avatar)
		if err != nil {
			logger.Error("upload avatar failed", slog.Any("error", err))
			Internal(c, "failed to store avatar")
			return
		}
	}

	var enrollment *string
	if account.Enrollment != "" {
		enrollment = &account.Enrollment
	}
	oldAvatarKey := user.Profile.AvatarKey

	err = h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&database.User{}).Where("id = ?", user.ID).Updates(map[string]any{
			"username":   account.Username,
			"first_name": account.FirstName,
			"last_name":  account.LastName,
			"email":      account.Email,
			"enrollment": enrollment,
		}).Error; err != nil {
			return fmt.Errorf("update user: %w", err)
		}
		updates := map[string]any{"bio": strings.TrimSpace(profile.Bio)}
		if newAvatarKey != "" {
			updates["avatar_key"] = newAvatarKey
		}
		if err := tx.Model(&database.Profile{}).Where("user_id = ?", user.ID).Updates(updates).Error; err != nil {
			return fmt.Errorf("update profile: %w", err)
		}
		return nil
	})
	if err != nil {
		deleteObjects(ctx, h.store, logger, newAvatarKey)
		if isUniqueViolation(err) {
			Conflict(c, "account data already in use")
			return
		}
		logger.Error("update profile failed", slog.Any("error", err))
		Internal(c, "failed to update profile")
		return
	}

	if newAvatarKey != "" && oldAvatarKey != database.DefaultAvatarKey {
		deleteObjects(ctx, h.store, logger, oldAvatarKey)
	}

	updated, ok := h.currentUser(c)
	if !ok {
		return
	}
	logger.Info("profile updated")
	c.JSON(http.StatusOK, newProfileResponse(*updated, *updated.Profile))
}

// Avatar streams the caller's avatar, falling back to the placeholder image.
func (h *ProfileHandler) Avatar(c *gin.Context) {
	user, ok := h.currentUser(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	logger := loggerFrom(c, h.logger)

	keys := []string{user.Profile.AvatarKey}
	if user.Profile.AvatarKey != database.DefaultAvatarKey {
		keys = append(keys, database.DefaultAvatarKey)
	}
	for _, key := range keys {
		if key == "" {
			continue
		}
		rc, info, err := h.store.OpenObject(ctx, key)
		if err == nil {
			streamObject(c, rc, info, upload.ContentTypeFor(key, info.ContentType), "")
			return
		}
		if !errors.Is(err, storage.ErrObjectNotFound) {
			logger.Error("open avatar failed", slog.String("object_key", key), slog.Any("error", err))
			Internal(c, "failed to open avatar")
			return
		}
	}

	png, err := storage.PlaceholderAvatarPNG()
	if err != nil {
		logger.Error("render placeholder avatar failed", slog.Any("error", err))
		Internal(c, "failed to open avatar")
		return
	}
	info := storage.ObjectInfo{Key: database.DefaultAvatarKey, Size: int64(len(png)), ContentType: "image/png"}
	streamObject(c, io.NopCloser(bytes.NewReader(png)), info, "image/png", "")
}

func (h *ProfileHandler) currentUser(c *gin.Context) (*database.User, bool) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return nil, false
	}

	var user database.User
	if err := h.db.WithContext(c.Request.Context()).Preload("Profile").First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			Unauthorized(c)
			return nil, false
		}
		loggerFrom(c, h.logger).Error("load profile failed", slog.Any("error", err))
		Internal(c, "internal error")
		return nil, false
	}
	if user.Profile == nil {
		user.Profile = &database.Profile{UserID: user.ID, AvatarKey: database.DefaultAvatarKey}
	}
	return &user, true
}

// checkAccountUnique adds a field error for each value another account already uses.
func (h *ProfileHandler) checkAccountUnique(c *gin.Context, userID uint, f accountForm, errs fieldErrors) error {
	checks := []struct {
		field string
		query string
		value string
		msg   string
	}{
		{"username", "LOWER(username) = ?", strings.ToLower(f.Username), "username already taken"},
		{"email", "LOWER(email) = ?", f.Email, "email already registered"},
		{"enrollment", "enrollment = ?", f.Enrollment, "enrollment already registered"},
	}
	for _, check := range checks {
		if check.value == "" {
			continue
		}
		if _, invalid := errs[check.field]; invalid {
			continue
		}
		var count int64
		if err := h.db.WithContext(c.Request.Context()).
			Model(&database.User{}).
			Where(check.query, check.value).
			Where("id <> ?", userID).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			errs.add(check.field, check.msg)
		}
	}
	return nil
}
