// Package testdb opens throwaway SQLite databases with the service schema for tests.
package testdb

import (
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"acadRepo/internal/database"
)

// New returns an isolated in-memory database, migrated and with foreign keys enforced.
func New(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name()) + "_" + uuid.NewString()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=on", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("unwrap sqlite: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	return db
}

// CreateUser inserts a student account with a throwaway password hash.
func CreateUser(t *testing.T, db *gorm.DB, username string) database.User {
	t.Helper()
	user := database.User{
		Username:     username,
		FirstName:    strings.ToUpper(username[:1]) + username[1:],
		LastName:     "Tester",
		Email:        username + "@example.com",
		PasswordHash: "not-a-real-hash",
		Role:         database.RoleStudent,
	}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("create user %q: %v", username, err)
	}
	return user
}

// CreateProject inserts a project owned by owner (nil for orphaned rows). Options adjust fields before insert.
func CreateProject(t *testing.T, db *gorm.DB, owner *database.User, title string, opts ...func(*database.Project)) database.Project {
	t.Helper()
	project := database.Project{
		Title:        title,
		Description:  "Description of " + title,
		Type:         "Informe de Investigación",
		Career:       "Mecatrónica",
		DocumentKey:  "documents/0/" + uuid.NewString() + ".pdf",
		DocumentName: "document.pdf",
	}
	if owner != nil {
		project.CreatedByID = &owner.ID
		project.Author = owner.DisplayName()
	}
	for _, opt := range opts {
		opt(&project)
	}
	if err := db.Create(&project).Error; err != nil {
		t.Fatalf("create project %q: %v", title, err)
	}
	return project
}
