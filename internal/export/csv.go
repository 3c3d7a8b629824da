// Package export renders project listings for download.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"acadRepo/internal/database"
)

// Filename is the attachment name of the CSV export.
const Filename = "projects.csv"

// Header lists the CSV columns in order.
var Header = []string{"id", "title", "author", "career", "year", "type", "uploaded_at", "downloads"}

// WriteProjectsCSV writes the header and one row per project.
func WriteProjectsCSV(w io.Writer, projects []database.Project) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	for _, p := range projects {
		year := ""
		if p.Year != nil {
			year = strconv.Itoa(*p.Year)
		}
		record := []string{
			strconv.FormatUint(uint64(p.ID), 10),
			p.Title,
			p.Author,
			p.Career,
			year,
			p.Type,
			p.CreatedAt.UTC().Format(time.RFC3339),
			strconv.FormatUint(uint64(p.Downloads), 10),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write csv row %d: %w", p.ID, err)
		}
	}

	cw.Flush()
	return cw.Error()
}
