package main

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"flag"
	"fmt"
	"log"
	"strings"

	"gorm.io/gorm"

	"acadRepo/internal/auth"
	"acadRepo/internal/config"
	"acadRepo/internal/database"
)

func main() {
	var (
		username = flag.String("username", "", "username of the initial admin (required)")
		email    = flag.String("email", "", "email of the initial admin (default <username>@localhost)")
	)
	flag.Parse()

	u := strings.TrimSpace(*username)
	if u == "" {
		log.Fatal("missing required flag: --username")
	}
	mailAddr := strings.ToLower(strings.TrimSpace(*email))
	if mailAddr == "" {
		mailAddr = strings.ToLower(u) + "@localhost"
	}

	dbCfg, err := config.LoadDatabase()
	if err != nil {
		log.Fatalf("load database config: %v", err)
	}

	db, err := database.InitDatabase(dbCfg)
	if err != nil {
		log.Fatalf("init database: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		log.Fatalf("migrate database: %v", err)
	}

	var existing database.User
	switch err := db.Where("LOWER(username) = ? OR LOWER(email) = ?", strings.ToLower(u), mailAddr).First(&existing).Error; {
	case err == nil:
		log.Fatalf("user %q or email %q already exists", u, mailAddr)
	case errors.Is(err, gorm.ErrRecordNotFound):
	default:
		log.Fatalf("query user: %v", err)
	}

	password, err := generateRandomPassword(24)
	if err != nil {
		log.Fatalf("generate password: %v", err)
	}

	hashed, err := auth.HashPassword(password)
	if err != nil {
		log.Fatalf("hash password: %v", err)
	}

	user := database.User{
		Username:           u,
		Email:              mailAddr,
		PasswordHash:       hashed,
		Role:               database.RoleAdmin,
		MustChangePassword: true,
	}
	if err := db.Create(&user).Error; err != nil {
		log.Fatalf("create user: %v", err)
	}

	fmt.Printf("Initial admin account created (password change required on first login):\n")
	fmt.Printf("username: %s\n", u)
	fmt.Printf("password: %s\n", password)
	fmt.Printf("This password is shown only once.\n")
}

func generateRandomPassword(bytesLen int) (string, error) {
	if bytesLen <= 0 {
		bytesLen = 24
	}
	buf := make([]byte, bytesLen)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
