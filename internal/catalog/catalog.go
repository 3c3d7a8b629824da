// Package catalog implements project search, pagination and display helpers for listings.
package catalog

import (
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"unicode/utf8"

	"gorm.io/gorm"

	"acadRepo/internal/database"
)

// Filter narrows a listing. Empty fields do not filter.
type Filter struct {
	Query  string `json:"q,omitempty"`
	Type   string `json:"type,omitempty"`
	Career string `json:"career,omitempty"`
}

// FilterFromValues reads q, type and career from a query string.
func FilterFromValues(values url.Values) Filter {
	return Filter{
		Query:  strings.TrimSpace(values.Get("q")),
		Type:   strings.TrimSpace(values.Get("type")),
		Career: strings.TrimSpace(values.Get("career")),
	}
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// Apply adds the filter conditions to db. Title matching is a case-insensitive substring match.
func (f Filter) Apply(db *gorm.DB) *gorm.DB {
	if f.Query != "" {
		db = matchTitle(db, f.Query)
	}
	if f.Type != "" {
		db = db.Where("type = ?", f.Type)
	}
	if f.Career != "" {
		db = db.Where("career = ?", f.Career)
	}
	return db
}

func likePattern(s string) string {
	return "%" + likeEscaper.Replace(s) + "%"
}

// matchTitle uses ILIKE on postgres. SQLite's LOWER and LIKE only fold ASCII, so the
// query is tried lowercased and uppercased: "ética" then finds both "Ética" and "ÉTICA".
// A title that mixes accented cases inside the matched text can still be missed there.
func matchTitle(db *gorm.DB, q string) *gorm.DB {
	if db.Dialector != nil && db.Dialector.Name() == "postgres" {
		return db.Where(`title ILIKE ? ESCAPE '\'`, likePattern(q))
	}
	return db.Where(`(LOWER(title) LIKE ? ESCAPE '\' OR title LIKE ? ESCAPE '\')`,
		likePattern(strings.ToLower(q)), likePattern(strings.ToUpper(q)))
}

// Page describes one page of a listing.
type Page struct {
	Number     int   `json:"number"`
	Size       int   `json:"size"`
	TotalItems int64 `json:"total_items"`
	TotalPages int   `json:"total_pages"`
	HasPrev    bool  `json:"has_prev"`
	HasNext    bool  `json:"has_next"`
}

// ParsePage converts a raw page parameter. Anything that is not a positive integer is page 1.
func ParsePage(raw string) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n < 1 {
		return 1
	}
	return n
}

// NewPage clamps requested into [1, total pages]. An empty listing still has one page.
func NewPage(requested, size int, total int64) Page {
	if size <= 0 {
		size = 1
	}
	pages := int(math.Ceil(float64(total) / float64(size)))
	if pages < 1 {
		pages = 1
	}
	if requested < 1 {
		requested = 1
	}
	if requested > pages {
		requested = pages
	}
	return Page{
		Number:     requested,
		Size:       size,
		TotalItems: total,
		TotalPages: pages,
		HasPrev:    requested > 1,
		HasNext:    requested < pages,
	}
}

// Offset returns the number of rows before the page.
func (p Page) Offset() int {
	return (p.Number - 1) * p.Size
}

// Search loads one page of projects matching f, newest first.
func Search(db *gorm.DB, f Filter, rawPage string, size int) ([]database.Project, Page, error) {
	var total int64
	if err := f.Apply(db.Model(&database.Project{})).Count(&total).Error; err != nil {
		return nil, Page{}, fmt.Errorf("count projects: %w", err)
	}

	page := NewPage(ParsePage(rawPage), size, total)

	var projects []database.Project
	err := f.Apply(db.Model(&database.Project{})).
		Scopes(database.NewestFirst).
		Offset(page.Offset()).
		Limit(page.Size).
		Find(&projects).Error
	if err != nil {
		return nil, Page{}, fmt.Errorf("list projects: %w", err)
	}
	return projects, page, nil
}

// QueryWithoutPage re-encodes values without the page parameter, for building page links.
func QueryWithoutPage(values url.Values) string {
	clone := url.Values{}
	for key, vals := range values {
		if key == "page" {
			continue
		}
		clone[key] = append([]string(nil), vals...)
	}
	return clone.Encode()
}

// Excerpt shortens s to max characters, trimming trailing space and appending "...".
func Excerpt(s string, max int) string {
	if s == "" {
		return ""
	}
	if max <= 0 {
		max = 100
	}
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return strings.TrimRight(string(runes[:max]), " \t\r\n") + "..."
}

// DistinctCareers returns the careers currently used by at least one project.
func DistinctCareers(db *gorm.DB) ([]string, error) {
	var careers []string
	err := db.Model(&database.Project{}).
		Where("career <> ''").
		Distinct().
		Order("career").
		Pluck("career", &careers).Error
	if err != nil {
		return nil, fmt.Errorf("list careers: %w", err)
	}
	return careers, nil
}
