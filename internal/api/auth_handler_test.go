package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"acadRepo/internal/database"
)

func registerFields(username, email string) map[string]string {
	return map[string]string{
		"username":         username,
		"first_name":       "Ana",
		"last_name":        "Pérez",
		"email":            email,
		"enrollment":       "202012345",
		"password":         "s3cret-pass",
		"password_confirm": "s3cret-pass",
	}
}

func TestRegisterCreatesUserProfileAndSendsWelcome(t *testing.T) {
	env := newTestEnv(t)

	w := env.form(http.MethodPost, "/v1/auth/register", multipartForm{fields: registerFields("ana", "Ana@Example.com")}, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var users []database.User
	require.NoError(t, env.db.Find(&users).Error)
	require.Len(t, users, 1)
	assert.Equal(t, "ana@example.com", users[0].Email)
	assert.Equal(t, database.RoleStudent, users[0].Role)
	require.NotNil(t, users[0].Enrollment)
	assert.Equal(t, "202012345", *users[0].Enrollment)
	assert.NotEqual(t, "s3cret-pass", users[0].PasswordHash)

	var profiles []database.Profile
	require.NoError(t, env.db.Find(&profiles).Error)
	require.Len(t, profiles, 1)
	assert.Equal(t, users[0].ID, profiles[0].UserID)
	assert.Equal(t, database.DefaultAvatarKey, profiles[0].AvatarKey)

	require.Len(t, env.mailer.sent, 1)
	assert.Equal(t, "ana@example.com", env.mailer.sent[0].Email)
}

func TestRegisterStoresAvatar(t *testing.T) {
	env := newTestEnv(t)

	f := multipartForm{
		fields: registerFields("ana", "ana@example.com"),
		files:  map[string]formFile{"avatar": {name: "me.PNG", data: []byte("png-bytes")}},
	}
	w := env.form(http.MethodPost, "/v1/auth/register", f, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var profile database.Profile
	require.NoError(t, env.db.First(&profile).Error)
	assert.True(t, strings.HasPrefix(profile.AvatarKey, "avatars/"))
	assert.True(t, strings.HasSuffix(profile.AvatarKey, ".png"))
	assert.True(t, env.store.has(profile.AvatarKey))
}

func TestRegisterUploadsAvatarOutsideTransaction(t *testing.T) {
	env := newTestEnv(t)

	// the test database has a single connection, so an open transaction would block this count
	var committed int64
	var countErr error
	env.store.onUpload = func(string) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		countErr = env.db.WithContext(ctx).Model(&database.User{}).Count(&committed).Error
	}

	f := multipartForm{
		fields: registerFields("ana", "ana@example.com"),
		files:  map[string]formFile{"avatar": {name: "me.png", data: []byte("png-bytes")}},
	}
	w := env.form(http.MethodPost, "/v1/auth/register", f, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	require.NoError(t, countErr)
	assert.Equal(t, int64(1), committed)
}

func TestRegisterAvatarUploadFailureRemovesAccount(t *testing.T) {
	env := newTestEnv(t)
	env.store.uploadErr = errBoom

	f := multipartForm{
		fields: registerFields("ana", "ana@example.com"),
		files:  map[string]formFile{"avatar": {name: "me.png", data: []byte("png-bytes")}},
	}
	w := env.form(http.MethodPost, "/v1/auth/register", f, nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	var users, profiles int64
	env.db.Model(&database.User{}).Count(&users)
	env.db.Model(&database.Profile{}).Count(&profiles)
	assert.Zero(t, users)
	assert.Zero(t, profiles)
	assert.Empty(t, env.mailer.sent)

	env.store.uploadErr = nil
	w = env.form(http.MethodPost, "/v1/auth/register", f, nil)
	assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func TestRegisterRejectsDuplicateEmailWithoutInsert(t *testing.T) {
	env := newTestEnv(t)
	testdbUser := database.User{Username: "first", Email: "ana@example.com", PasswordHash: "x", Role: database.RoleStudent}
	require.NoError(t, env.db.Create(&testdbUser).Error)

	f := multipartForm{
		fields: registerFields("second", "ANA@example.com"),
		files:  map[string]formFile{"avatar": {name: "me.png", data: []byte("png-bytes")}},
	}
	w := env.form(http.MethodPost, "/v1/auth/register", f, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	var users, profiles int64
	env.db.Model(&database.User{}).Count(&users)
	env.db.Model(&database.Profile{}).Count(&profiles)
	assert.Equal(t, int64(1), users)
	assert.Equal(t, int64(1), profiles)
	assert.Zero(t, env.store.count())
	assert.Empty(t, env.mailer.sent)
}

func TestRegisterValidation(t *testing.T) {
	env := newTestEnv(t)

	fields := registerFields("ana", "not-an-email")
	fields["password_confirm"] = "different"
	fields["enrollment"] = "12ab"
	f := multipartForm{
		fields: fields,
		files:  map[string]formFile{"avatar": {name: "me.gif", data: []byte("gif")}},
	}
	w := env.form(http.MethodPost, "/v1/auth/register", f, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)

	body := decode[struct {
		Fields map[string]string `json:"fields"`
	}](t, w)
	assert.Contains(t, body.Fields, "email")
	assert.Contains(t, body.Fields, "enrollment")
	assert.Contains(t, body.Fields, "password_confirm")
	assert.Contains(t, body.Fields, "avatar")

	var users int64
	env.db.Model(&database.User{}).Count(&users)
	assert.Zero(t, users)
}

func TestRegisterSucceedsWhenWelcomeMailFails(t *testing.T) {
	env := newTestEnv(t)
	env.mailer.err = errBoom

	w := env.form(http.MethodPost, "/v1/auth/register", multipartForm{fields: registerFields("ana", "ana@example.com")}, nil)
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestLoginRefreshAndLogout(t *testing.T) {
	env := newTestEnv(t)
	w := env.form(http.MethodPost, "/v1/auth/register", multipartForm{fields: registerFields("ana", "ana@example.com")}, nil)
	require.Equal(t, http.StatusCreated, w.Code)

	w = env.postJSON("/v1/auth/login", map[string]string{"username": "ana", "password": "wrong-pass"}, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.postJSON("/v1/auth/login", map[string]string{"username": "ANA", "password": "s3cret-pass"}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	login := decode[tokenResponse](t, w)
	assert.NotEmpty(t, login.AccessToken)
	assert.Equal(t, database.RoleStudent, login.Role)

	var refreshCookie *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == refreshTokenCookieName {
			refreshCookie = c
		}
	}
	require.NotNil(t, refreshCookie)

	req := httptest.NewRequest(http.MethodPost, "/v1/auth/refresh", nil)
	req.AddCookie(refreshCookie)
	w = env.do(req, nil)
	require.Equal(t, http.StatusOK, w.Code)

	req = httptest.NewRequest(http.MethodPost, "/v1/auth/logout", nil)
	req.AddCookie(refreshCookie)
	w = env.do(req, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do(httptest.NewRequest(http.MethodPost, "/v1/auth/refresh", nil), nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestChangePasswordClearsFlag(t *testing.T) {
	env := newTestEnv(t)
	hashed, err := env.auth.HashPassword("initial-pass")
	require.NoError(t, err)
	admin := database.User{Username: "root", Email: "root@example.com", PasswordHash: hashed, Role: database.RoleAdmin, MustChangePassword: true}
	require.NoError(t, env.db.Create(&admin).Error)

	w := env.get("/v1/dashboard", &admin)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.postJSON("/v1/auth/change-password", map[string]string{
		"current_password": "initial-pass",
		"new_password":     "brand-new-pass",
		"confirm_password": "brand-new-pass",
	}, &admin)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.False(t, decode[tokenResponse](t, w).MustChangePassword)

	var reloaded database.User
	require.NoError(t, env.db.First(&reloaded, admin.ID).Error)
	assert.False(t, reloaded.MustChangePassword)
	assert.True(t, env.auth.CheckPasswordHash("brand-new-pass", reloaded.PasswordHash))
}
