package database_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"acadRepo/internal/database"
	"acadRepo/internal/testdb"
)

func TestCreatingUserCreatesExactlyOneProfile(t *testing.T) {
	db := testdb.New(t)

	user := testdb.CreateUser(t, db, "ana")

	var profiles []database.Profile
	require.NoError(t, db.Where("user_id = ?", user.ID).Find(&profiles).Error)
	require.Len(t, profiles, 1)
	assert.Equal(t, database.DefaultAvatarKey, profiles[0].AvatarKey)
	require.NotNil(t, user.Profile)
	assert.Equal(t, profiles[0].ID, user.Profile.ID)
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "Ana López", database.User{Username: "ana", FirstName: "Ana", LastName: "López"}.DisplayName())
	assert.Equal(t, "Ana", database.User{Username: "ana", FirstName: " Ana "}.DisplayName())
	assert.Equal(t, "ana", database.User{Username: "ana"}.DisplayName())
}

func TestDeletingUserClearsProjectOwner(t *testing.T) {
	db := testdb.New(t)
	user := testdb.CreateUser(t, db, "luis")

	project := database.Project{
		Title:       "Robot",
		Author:      user.DisplayName(),
		DocumentKey: "documents/1/a.pdf",
		CreatedByID: &user.ID,
	}
	require.NoError(t, db.Create(&project).Error)

	require.NoError(t, db.Delete(&database.User{}, user.ID).Error)

	var reloaded database.Project
	require.NoError(t, db.First(&reloaded, project.ID).Error)
	assert.Nil(t, reloaded.CreatedByID)
	assert.Equal(t, "Robot", reloaded.Title)

	var profiles int64
	require.NoError(t, db.Model(&database.Profile{}).Where("user_id = ?", user.ID).Count(&profiles).Error)
	assert.Zero(t, profiles)
}

func TestSynopsisMetaRoundTrip(t *testing.T) {
	db := testdb.New(t)

	project := database.Project{
		Title:       "Puente",
		DocumentKey: "documents/1/b.pdf",
		SynopsisMeta: datatypes.NewJSONType(database.SynopsisMeta{
			Source:       "fallback",
			FallbackUsed: true,
			Warnings:     []string{"could not read the file"},
		}),
	}
	require.NoError(t, db.Create(&project).Error)

	var reloaded database.Project
	require.NoError(t, db.First(&reloaded, project.ID).Error)
	meta := reloaded.SynopsisMeta.Data()
	assert.Equal(t, "fallback", meta.Source)
	assert.True(t, meta.FallbackUsed)
	assert.Equal(t, []string{"could not read the file"}, meta.Warnings)
}
