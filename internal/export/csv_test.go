package export

import (
	"bytes"
	"encoding/csv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"acadRepo/internal/database"
)

func TestWriteProjectsCSV(t *testing.T) {
	year := 2024
	uploaded := time.Date(2024, 5, 17, 10, 30, 0, 0, time.UTC)
	projects := []database.Project{
		{ID: 3, Title: "Robot, seguidor", Author: "Ana Tester", Career: "Mecatrónica", Year: &year,
			Type: "Proyecto de Investigación", CreatedAt: uploaded, Downloads: 12},
		{ID: 4, Title: `Dice "hola"`, CreatedAt: uploaded},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteProjectsCSV(&buf, projects))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, Header, rows[0])
	assert.Equal(t, []string{"3", "Robot, seguidor", "Ana Tester", "Mecatrónica", "2024",
		"Proyecto de Investigación", "2024-05-17T10:30:00Z", "12"}, rows[1])
	assert.Equal(t, []string{"4", `Dice "hola"`, "", "", "", "", "2024-05-17T10:30:00Z", "0"}, rows[2])
}

func TestWriteProjectsCSVEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteProjectsCSV(&buf, nil))
	assert.Equal(t, "id,title,author,career,year,type,uploaded_at,downloads\n", buf.String())
}
