package api

import (
	"bytes"
	"image/png"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"acadRepo/internal/database"
	"acadRepo/internal/testdb"
)

type profileFormErrors struct {
	Forms struct {
		Account map[string]string `json:"account"`
		Profile map[string]string `json:"profile"`
	} `json:"forms"`
}

func accountFields(username, email string) map[string]string {
	return map[string]string{
		"username":   username,
		"first_name": "Ana",
		"last_name":  "Gómez",
		"email":      email,
		"bio":        "Mechatronics student",
	}
}

func TestGetProfile(t *testing.T) {
	env := newTestEnv(t)
	ana := testdb.CreateUser(t, env.db, "ana")

	w := env.get("/v1/profile", &ana)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode[profileResponse](t, w)
	assert.Equal(t, "ana", body.User.Username)
	assert.Equal(t, database.DefaultAvatarKey, body.AvatarKey)
}

func TestUpdateProfileSavesBothForms(t *testing.T) {
	env := newTestEnv(t)
	ana := testdb.CreateUser(t, env.db, "ana")
	oldAvatar := "avatars/1/old.png"
	require.NoError(t, env.db.Model(&database.Profile{}).Where("user_id = ?", ana.ID).Update("avatar_key", oldAvatar).Error)
	env.store.put(oldAvatar, []byte("old"), "image/png")

	f := multipartForm{
		fields: accountFields("ana_g", "ana.g@example.com"),
		files:  map[string]formFile{"avatar": {name: "new.jpg", data: []byte("jpeg")}},
	}
	w := env.form(http.MethodPut, "/v1/profile", f, &ana)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var user database.User
	require.NoError(t, env.db.Preload("Profile").First(&user, ana.ID).Error)
	assert.Equal(t, "ana_g", user.Username)
	assert.Equal(t, "Gómez", user.LastName)
	assert.Equal(t, "ana.g@example.com", user.Email)
	assert.Equal(t, "Mechatronics student", user.Profile.Bio)
	assert.NotEqual(t, oldAvatar, user.Profile.AvatarKey)
	assert.True(t, env.store.has(user.Profile.AvatarKey))
	assert.False(t, env.store.has(oldAvatar))
}

func TestUpdateProfileInvalidFormSavesNothing(t *testing.T) {
	env := newTestEnv(t)
	ana := testdb.CreateUser(t, env.db, "ana")
	testdb.CreateUser(t, env.db, "bob")

	// valid bio, account email taken by bob
	f := multipartForm{fields: accountFields("ana", "bob@example.com")}
	w := env.form(http.MethodPut, "/v1/profile", f, &ana)
	require.Equal(t, http.StatusBadRequest, w.Code)
	body := decode[profileFormErrors](t, w)
	assert.Contains(t, body.Forms.Account, "email")
	assert.Empty(t, body.Forms.Profile)

	// valid account, invalid avatar
	f = multipartForm{
		fields: accountFields("ana", "ana@example.com"),
		files:  map[string]formFile{"avatar": {name: "avatar.bmp", data: []byte("bmp")}},
	}
	w = env.form(http.MethodPut, "/v1/profile", f, &ana)
	require.Equal(t, http.StatusBadRequest, w.Code)
	body = decode[profileFormErrors](t, w)
	assert.Empty(t, body.Forms.Account)
	assert.Contains(t, body.Forms.Profile, "avatar")

	var profile database.Profile
	require.NoError(t, env.db.Where("user_id = ?", ana.ID).First(&profile).Error)
	assert.Empty(t, profile.Bio)
	assert.Zero(t, env.store.count())
}

func TestUpdateProfileKeepsOwnEmail(t *testing.T) {
	env := newTestEnv(t)
	ana := testdb.CreateUser(t, env.db, "ana")

	w := env.form(http.MethodPut, "/v1/profile", multipartForm{fields: accountFields("ana", "ANA@example.com")}, &ana)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestAvatarFallsBackToPlaceholder(t *testing.T) {
	env := newTestEnv(t)
	ana := testdb.CreateUser(t, env.db, "ana")

	w := env.get("/v1/profile/avatar", &ana)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	_, err := png.Decode(bytes.NewReader(w.Body.Bytes()))
	assert.NoError(t, err)

	env.store.put(database.DefaultAvatarKey, []byte("stored-default"), "image/png")
	w = env.get("/v1/profile/avatar", &ana)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "stored-default", w.Body.String())
}
