package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"acadRepo/internal/auth"
	"acadRepo/internal/config"
	"acadRepo/internal/database"
	"acadRepo/internal/storage"
	"acadRepo/internal/upload"
)

const refreshTokenCookieName = "refresh_token"
const refreshTokenBlacklistKeyPrefix = "auth:refresh:blacklist:"

var usernamePattern = regexp.MustCompile(`^[\w.@+-]+$`)

// AuthHandler handles registration, login, token refresh, logout and password changes.
type AuthHandler struct {
	db                    *gorm.DB
	authService           *auth.AuthService
	redis                 redis.UniversalClient
	store                 FileStore
	mailer                Mailer
	uploads               *upload.Validator
	logger                *slog.Logger
	loginRateLimitPerHour int
	loginLockThreshold    int
	loginLockTTL          time.Duration
	cookieDomain          string
}

// NewAuthHandler builds the handler. redisClient may be nil, which disables throttling and
// refresh token revocation.
func NewAuthHandler(
	db *gorm.DB,
	authService *auth.AuthService,
	redisClient redis.UniversalClient,
	store FileStore,
	mailer Mailer,
	uploads *upload.Validator,
	logger *slog.Logger,
	cfg config.AuthConfig,
) *AuthHandler {
	return &AuthHandler{
		db:                    db,
		authService:           authService,
		redis:                 redisClient,
		store:                 store,
		mailer:                mailer,
		uploads:               uploads,
		logger:                logger,
		loginRateLimitPerHour: cfg.LoginRateLimitPerHour,
		loginLockThreshold:    cfg.LoginLockThreshold,
		loginLockTTL:          cfg.LoginLockTTL,
		cookieDomain:          cfg.CookieDomain,
	}
}

type registerForm struct {
	Username        string `form:"username" json:"username" binding:"required,min=3,max=64"`
	FirstName       string `form:"first_name" json:"first_name" binding:"max=150"`
	LastName        string `form:"last_name" json:"last_name" binding:"max=150"`
	Email           string `form:"email" json:"email" binding:"required,email,max=254"`
	Enrollment      string `form:"enrollment" json:"enrollment" binding:"omitempty,len=9,numeric"`
	Password        string `form:"password" json:"password" binding:"required,min=8,max=72"`
	PasswordConfirm string `form:"password_confirm" json:"password_confirm" binding:"required"`
}

func (f *registerForm) normalize() {
	f.Username = strings.TrimSpace(f.Username)
	f.FirstName = strings.TrimSpace(f.FirstName)
	f.LastName = strings.TrimSpace(f.LastName)
	f.Email = strings.ToLower(strings.TrimSpace(f.Email))
	f.Enrollment = strings.TrimSpace(f.Enrollment)
}

// Register creates a student account and its profile, then sends the welcome email.
func (h *AuthHandler) Register(c *gin.Context) {
	logger := h.loggerFromContext(c)

	var form registerForm
	errs := fieldErrors{}
	if err := c.ShouldBind(&form); err != nil {
		bindErrs, ok := bindingFieldErrors(err)
		if !ok {
			BadRequest(c, "invalid form payload")
			return
		}
		errs = bindErrs
	}
	form.normalize()

	if form.Username != "" && !usernamePattern.MatchString(form.Username) {
		errs.add("username", "use only letters, digits and @.+-_")
	}
	if form.Password != "" && form.PasswordConfirm != "" && form.Password != form.PasswordConfirm {
		errs.add("password_confirm", "passwords do not match")
	}

	avatar, err := optionalImage(c, h.uploads, "avatar")
	if err != nil {
		var fe *upload.FieldError
		if !errors.As(err, &fe) {
			logger.Error("read avatar failed", slog.Any("error", err))
			Internal(c, "internal error")
			return
		}
		errs.add(fe.Field, fe.Message)
	}

	if len(errs) > 0 {
		ValidationFailed(c, errs)
		return
	}

	ctx := c.Request.Context()
	logger = logger.With(slog.String("username", form.Username))

	conflicts := []struct {
		query string
		value string
		msg   string
	}{
		{"LOWER(email) = ?", form.Email, "email already registered"},
		{"LOWER(username) = ?", strings.ToLower(form.Username), "username already taken"},
		{"enrollment = ?", form.Enrollment, "enrollment already registered"},
	}
	for _, check := range conflicts {
		if check.value == "" {
			continue
		}
		taken, err := h.userExists(ctx, check.query, check.value)
		if err != nil {
			logger.Error("register lookup failed", slog.Any("error", err))
			Internal(c, "internal error")
			return
		}
		if taken {
			logger.Info("register conflict", slog.String("reason", check.msg))
			Conflict(c, check.msg)
			return
		}
	}

	hashed, err := h.authService.HashPassword(form.Password)
	if err != nil {
		logger.Error("hash password failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	user := database.User{
		Username:     form.Username,
		FirstName:    form.FirstName,
		LastName:     form.LastName,
		Email:        form.Email,
		PasswordHash: hashed,
		Role:         database.RoleStudent,
	}
	if form.Enrollment != "" {
		enrollment := form.Enrollment
		user.Enrollment = &enrollment
	}

	// Create runs the profile hook in its own short transaction. The avatar upload
	// happens after the commit, and failures remove the account again.
	if err := h.db.WithContext(ctx).Create(&user).Error; err != nil {
		if isUniqueViolation(err) {
			Conflict(c, "account already exists")
			return
		}
		logger.Error("register failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	if avatar != nil {
		if err := h.attachAvatar(ctx, &user, avatar, logger); err != nil {
			logger.Error("store avatar failed", slog.Uint64("user_id", uint64(user.ID)), slog.Any("error", err))
			h.discardUser(ctx, user.ID, logger)
			Internal(c, "internal error")
			return
		}
	}

	logger.Info("user registered", slog.Uint64("user_id", uint64(user.ID)))

	if h.mailer != nil {
		if err := h.mailer.SendWelcome(ctx, user); err != nil {
			logger.Warn("welcome email failed", slog.Uint64("user_id", uint64(user.ID)), slog.Any("error", err))
		}
	}

	c.JSON(http.StatusCreated, gin.H{"user": newUserResponse(user)})
}

// attachAvatar uploads the registration avatar and points the profile at it.
func (h *AuthHandler) attachAvatar(ctx context.Context, user *database.User, avatar *upload.File, logger *slog.Logger) error {
	key, err := storeFile(ctx, h.store, storage.PrefixAvatars, user.ID, avatar)
	if err != nil {
		return fmt.Errorf("upload avatar: %w", err)
	}
	if err := h.db.WithContext(ctx).Model(&database.Profile{}).Where("user_id = ?", user.ID).Update("avatar_key", key).Error; err != nil {
		deleteObjects(ctx, h.store, logger, key)
		return fmt.Errorf("set avatar: %w", err)
	}
	if user.Profile != nil {
		user.Profile.AvatarKey = key
	}
	return nil
}

// discardUser removes a half-registered account and its profile.
func (h *AuthHandler) discardUser(ctx context.Context, userID uint, logger *slog.Logger) {
	err := h.db.WithContext(context.WithoutCancel(ctx)).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", userID).Delete(&database.Profile{}).Error; err != nil {
			return err
		}
		return tx.Delete(&database.User{}, userID).Error
	})
	if err != nil {
		logger.Error("discard registration failed", slog.Uint64("user_id", uint64(userID)), slog.Any("error", err))
	}
}

func (h *AuthHandler) userExists(ctx context.Context, query string, value string) (bool, error) {
	var count int64
	if err := h.db.WithContext(ctx).Model(&database.User{}).Where(query, value).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type tokenResponse struct {
	AccessToken        string `json:"access_token"`
	TokenType          string `json:"token_type"`
	ExpiresIn          int    `json:"expires_in"`
	Role               string `json:"role"`
	MustChangePassword bool   `json:"must_change_password"`
}

// Login checks the credentials and returns a token pair.
func (h *AuthHandler) Login(c *gin.Context) {
	ip := c.ClientIP()
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		if errs, ok := bindingFieldErrors(err); ok {
			ValidationFailed(c, errs)
			return
		}
		BadRequest(c, "invalid json payload")
		return
	}

	ctx := c.Request.Context()
	username := strings.ToLower(strings.TrimSpace(req.Username))
	logger := h.loggerFromContext(c).With(slog.String("username", username))

	if h.redis != nil {
		// counters fail open when redis is unreachable
		count, err := incrWithTTL(ctx, h.redis, hourlyKey("rate:login", ip, username), time.Hour)
		if err != nil {
			logger.Warn("login rate counter unavailable", slog.Any("error", err))
			count = 0
		}
		if h.loginRateLimitPerHour > 0 && count > int64(h.loginRateLimitPerHour) {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}

		if ttl, _ := h.redis.TTL(ctx, "lock:login:"+username).Result(); ttl > 0 {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "account temporarily locked"})
			return
		}
	}

	var user database.User
	if err := h.db.WithContext(ctx).Where("LOWER(username) = ?", username).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			logger.Info("login failed: user not found")
			h.incrementLoginFail(ctx, username)
			Unauthorized(c)
			return
		}
		logger.Error("login query failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	if !h.authService.CheckPasswordHash(req.Password, user.PasswordHash) {
		logger.Info("login failed: password mismatch", slog.Uint64("user_id", uint64(user.ID)))
		h.incrementLoginFail(ctx, username)
		Unauthorized(c)
		return
	}

	if h.redis != nil {
		_ = h.redis.Del(ctx, "lock:login:fail:"+username).Err()
	}

	tokenPair, err := h.authService.GenerateTokenPair(subjectFor(user))
	if err != nil {
		logger.Error("generate token pair failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	h.replyWithTokenPair(c, tokenPair, user)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Refresh rotates a refresh token into a new pair.
func (h *AuthHandler) Refresh(c *gin.Context) {
	claims, ok := h.refreshClaims(c)
	if !ok {
		Unauthorized(c)
		return
	}

	ctx := c.Request.Context()
	logger := h.loggerFromContext(c)

	key := refreshTokenBlacklistKeyPrefix + claims.ID
	revoked, err := h.isRevoked(ctx, key)
	if err != nil {
		logger.Error("refresh token blacklist lookup failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}
	if revoked {
		logger.Info("refresh token revoked", slog.String("jti", claims.ID))
		Unauthorized(c)
		return
	}

	var user database.User
	if err := h.db.WithContext(ctx).First(&user, claims.UserID).Error; err != nil {
		logger.Info("refresh user not found", slog.Any("error", err))
		Unauthorized(c)
		return
	}

	tokenPair, err := h.authService.GenerateTokenPair(subjectFor(user))
	if err != nil {
		logger.Error("refresh generate token pair failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	// rotate: the old refresh token must not be usable twice
	if err := h.revokeRefreshToken(ctx, key, claims.ExpiresAt); err != nil {
		logger.Error("refresh revoke old token failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	h.replyWithTokenPair(c, tokenPair, user)
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password" binding:"required,max=72"`
	NewPassword     string `json:"new_password" binding:"required,min=8,max=72"`
	ConfirmPassword string `json:"confirm_password" binding:"required,eqfield=NewPassword"`
}

// ChangePassword verifies the current password and stores a new one.
func (h *AuthHandler) ChangePassword(c *gin.Context) {
	var req changePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		if errs, ok := bindingFieldErrors(err); ok {
			ValidationFailed(c, errs)
			return
		}
		BadRequest(c, "invalid json payload")
		return
	}

	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	ctx := c.Request.Context()
	logger := h.loggerFromContext(c).With(slog.Uint64("user_id", uint64(userID)))

	var user database.User
	if err := h.db.WithContext(ctx).First(&user, userID).Error; err != nil {
		logger.Info("change password: user not found", slog.Any("error", err))
		Unauthorized(c)
		return
	}

	if !h.authService.CheckPasswordHash(req.CurrentPassword, user.PasswordHash) {
		logger.Info("change password: current password mismatch")
		Unauthorized(c)
		return
	}

	if strings.TrimSpace(req.NewPassword) == strings.TrimSpace(req.CurrentPassword) {
		ValidationFailed(c, fieldErrors{"new_password": "must be different from the current password"})
		return
	}

	hashed, err := h.authService.HashPassword(req.NewPassword)
	if err != nil {
		logger.Error("change password: hash failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	if err := h.db.WithContext(ctx).Model(&user).Updates(map[string]any{
		"password_hash":        hashed,
		"must_change_password": false,
	}).Error; err != nil {
		logger.Error("change password: update failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}
	user.MustChangePassword = false

	if refreshToken, err := c.Cookie(refreshTokenCookieName); err == nil && refreshToken != "" {
		if claims, err := h.authService.ValidateToken(refreshToken); err == nil && claims.TokenType == auth.TokenTypeRefresh && claims.ID != "" {
			key := refreshTokenBlacklistKeyPrefix + claims.ID
			if err := h.revokeRefreshToken(ctx, key, claims.ExpiresAt); err != nil {
				logger.Error("change password: revoke refresh failed", slog.Any("error", err))
				Internal(c, "internal error")
				return
			}
		}
	}

	tokenPair, err := h.authService.GenerateTokenPair(subjectFor(user))
	if err != nil {
		logger.Error("change password: generate token pair failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	h.replyWithTokenPair(c, tokenPair, user)
}

// Logout blacklists the refresh token and clears its cookie.
func (h *AuthHandler) Logout(c *gin.Context) {
	claims, ok := h.refreshClaims(c)
	if !ok {
		Unauthorized(c)
		return
	}

	ctx := c.Request.Context()
	key := refreshTokenBlacklistKeyPrefix + claims.ID
	if err := h.revokeRefreshToken(ctx, key, claims.ExpiresAt); err != nil {
		h.loggerFromContext(c).Error("logout revoke token failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	http.SetCookie(c.Writer, &http.Cookie{
		Name:     refreshTokenCookieName,
		Value:    "",
		MaxAge:   -1,
		Path:     "/",
		Secure:   isHTTPSRequest(c),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Domain:   strings.TrimSpace(h.cookieDomain),
	})
	c.Status(http.StatusOK)
}

func subjectFor(user database.User) auth.Subject {
	return auth.Subject{
		UserID:             user.ID,
		Role:               user.Role,
		MustChangePassword: user.MustChangePassword,
	}
}

func (h *AuthHandler) refreshClaims(c *gin.Context) (*auth.TokenClaims, bool) {
	refreshToken := h.extractRefreshToken(c)
	if refreshToken == "" {
		return nil, false
	}
	logger := h.loggerFromContext(c)

	claims, err := h.authService.ValidateToken(refreshToken)
	if err != nil {
		logger.Info("refresh token invalid", slog.Any("error", err))
		return nil, false
	}
	if claims.TokenType != auth.TokenTypeRefresh {
		logger.Info("refresh token wrong type", slog.String("token_type", claims.TokenType))
		return nil, false
	}
	if claims.ID == "" {
		logger.Info("refresh token missing jti")
		return nil, false
	}
	return claims, true
}

func (h *AuthHandler) replyWithTokenPair(c *gin.Context, tokenPair auth.TokenPair, user database.User) {
	h.setRefreshCookie(c, tokenPair.RefreshToken)
	c.JSON(http.StatusOK, tokenResponse{
		AccessToken:        tokenPair.AccessToken,
		TokenType:          "Bearer",
		ExpiresIn:          int(h.authService.AccessTokenTTL().Seconds()),
		Role:               user.Role,
		MustChangePassword: user.MustChangePassword,
	})
}

func (h *AuthHandler) extractRefreshToken(c *gin.Context) string {
	if token, err := c.Cookie(refreshTokenCookieName); err == nil && token != "" {
		return token
	}

	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err == nil && req.RefreshToken != "" {
		return req.RefreshToken
	}
	return ""
}

func (h *AuthHandler) setRefreshCookie(c *gin.Context, refreshToken string) {
	maxAge := int(h.authService.RefreshTokenTTL().Seconds())
	if maxAge <= 0 {
		maxAge = int(time.Hour.Seconds())
	}
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     refreshTokenCookieName,
		Value:    refreshToken,
		MaxAge:   maxAge,
		Path:     "/",
		Secure:   isHTTPSRequest(c),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Domain:   strings.TrimSpace(h.cookieDomain),
		Expires:  time.Now().Add(h.authService.RefreshTokenTTL()),
	})
}

func (h *AuthHandler) isRevoked(ctx context.Context, key string) (bool, error) {
	if h.redis == nil {
		return false, nil
	}
	err := h.redis.Get(ctx, key).Err()
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, redis.Nil):
		return false, nil
	default:
		return false, err
	}
}

func (h *AuthHandler) revokeRefreshToken(ctx context.Context, key string, expiresAt *jwt.NumericDate) error {
	if h.redis == nil {
		return nil
	}
	var ttl time.Duration
	if expiresAt == nil {
		ttl = h.authService.RefreshTokenTTL()
	} else {
		ttl = time.Until(expiresAt.Time)
	}
	if ttl <= 0 {
		ttl = time.Second
	}
	return h.redis.Set(ctx, key, "revoked", ttl).Err()
}

func (h *AuthHandler) incrementLoginFail(ctx context.Context, username string) {
	if h.redis == nil || h.loginLockThreshold <= 0 {
		return
	}
	failKey := "lock:login:fail:" + username
	count, err := incrWithTTL(ctx, h.redis, failKey, h.loginLockTTL)
	if err != nil {
		return
	}
	if count >= int64(h.loginLockThreshold) {
		_ = h.redis.Set(ctx, "lock:login:"+username, "1", h.loginLockTTL).Err()
	}
}

func (h *AuthHandler) loggerFromContext(c *gin.Context) *slog.Logger {
	return loggerFrom(c, h.logger)
}

func isHTTPSRequest(c *gin.Context) bool {
	if c.Request == nil {
		return false
	}
	if c.Request.TLS != nil {
		return true
	}
	return strings.EqualFold(c.Request.Header.Get("X-Forwarded-Proto"), "https")
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key")
}
