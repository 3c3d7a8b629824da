package api

import (
	"strconv"
	"time"

	"acadRepo/internal/catalog"
	"acadRepo/internal/database"
)

type userResponse struct {
	ID                 uint      `json:"id"`
	Username           string    `json:"username"`
	FirstName          string    `json:"first_name"`
	LastName           string    `json:"last_name"`
	DisplayName        string    `json:"display_name"`
	Email              string    `json:"email"`
	Enrollment         *string   `json:"enrollment"`
	Role               string    `json:"role"`
	MustChangePassword bool      `json:"must_change_password"`
	CreatedAt          time.Time `json:"created_at"`
}

func newUserResponse(u database.User) userResponse {
	return userResponse{
		ID:                 u.ID,
		Username:           u.Username,
		FirstName:          u.FirstName,
		LastName:           u.LastName,
		DisplayName:        u.DisplayName(),
		Email:              u.Email,
		Enrollment:         u.Enrollment,
		Role:               u.Role,
		MustChangePassword: u.MustChangePassword,
		CreatedAt:          u.CreatedAt,
	}
}

type profileResponse struct {
	User      userResponse `json:"user"`
	Bio       string       `json:"bio"`
	AvatarKey string       `json:"avatar_key"`
	AvatarURL string       `json:"avatar_url"`
}

func newProfileResponse(u database.User, p database.Profile) profileResponse {
	return profileResponse{
		User:      newUserResponse(u),
		Bio:       p.Bio,
		AvatarKey: p.AvatarKey,
		AvatarURL: "/v1/profile/avatar",
	}
}

type projectListItem struct {
	ID        uint      `json:"id"`
	Title     string    `json:"title"`
	Author    string    `json:"author"`
	Excerpt   string    `json:"excerpt"`
	Type      string    `json:"type"`
	Career    string    `json:"career"`
	Year      *int      `json:"year"`
	HasCover  bool      `json:"has_cover"`
	CoverURL  string    `json:"cover_url,omitempty"`
	Downloads uint      `json:"downloads"`
	CreatedAt time.Time `json:"created_at"`
}

type projectResponse struct {
	ID           uint                  `json:"id"`
	Title        string                `json:"title"`
	Author       string                `json:"author"`
	Description  string                `json:"description"`
	Type         string                `json:"type"`
	Career       string                `json:"career"`
	Year         *int                  `json:"year"`
	CoverURL     string                `json:"cover_url,omitempty"`
	DocumentName string                `json:"document_name"`
	DownloadURL  string                `json:"download_url"`
	Synopsis     string                `json:"synopsis"`
	SynopsisMeta database.SynopsisMeta `json:"synopsis_meta"`
	Downloads    uint                  `json:"downloads"`
	OwnerID      *uint                 `json:"owner_id"`
	CreatedAt    time.Time             `json:"created_at"`
	UpdatedAt    time.Time             `json:"updated_at"`
}

func coverURL(p database.Project) string {
	if p.CoverKey == "" {
		return ""
	}
	return "/v1/projects/" + uintString(p.ID) + "/cover"
}

func newProjectListItem(p database.Project) projectListItem {
	return projectListItem{
		ID:        p.ID,
		Title:     p.Title,
		Author:    p.Author,
		Excerpt:   catalog.Excerpt(p.Description, 100),
		Type:      p.Type,
		Career:    p.Career,
		Year:      p.Year,
		HasCover:  p.CoverKey != "",
		CoverURL:  coverURL(p),
		Downloads: p.Downloads,
		CreatedAt: p.CreatedAt,
	}
}

func newProjectListItems(projects []database.Project) []projectListItem {
	items := make([]projectListItem, 0, len(projects))
	for _, p := range projects {
		items = append(items, newProjectListItem(p))
	}
	return items
}

func newProjectResponse(p database.Project) projectResponse {
	return projectResponse{
		ID:           p.ID,
		Title:        p.Title,
		Author:       p.Author,
		Description:  p.Description,
		Type:         p.Type,
		Career:       p.Career,
		Year:         p.Year,
		CoverURL:     coverURL(p),
		DocumentName: p.DocumentName,
		DownloadURL:  "/v1/projects/" + uintString(p.ID) + "/download",
		Synopsis:     p.Synopsis,
		SynopsisMeta: p.SynopsisMeta.Data(),
		Downloads:    p.Downloads,
		OwnerID:      p.CreatedByID,
		CreatedAt:    p.CreatedAt,
		UpdatedAt:    p.UpdatedAt,
	}
}

func uintString(v uint) string {
	return strconv.FormatUint(uint64(v), 10)
}
