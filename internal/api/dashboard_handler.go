package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"acadRepo/internal/database"
	"acadRepo/internal/export"
)

// DashboardHandler serves aggregate views over the catalog.
type DashboardHandler struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewDashboardHandler(db *gorm.DB, logger *slog.Logger) *DashboardHandler {
	return &DashboardHandler{db: db, logger: logger}
}

type dashboardResponse struct {
	TotalProjects  int64             `json:"total_projects"`
	TotalDownloads int64             `json:"total_downloads"`
	Projects       []projectListItem `json:"projects"`
}

type adminDashboardResponse struct {
	dashboardResponse
	UsersByRole map[string]int64 `json:"users_by_role"`
	TotalUsers  int64            `json:"total_users"`
}

// Dashboard returns the project totals and every project, newest first.
func (h *DashboardHandler) Dashboard(c *gin.Context) {
	resp, err := h.summary(c)
	if err != nil {
		loggerFrom(c, h.logger).Error("build dashboard failed", slog.Any("error", err))
		Internal(c, "failed to build dashboard")
		return
	}
	c.JSON(http.StatusOK, resp)
}

// AdminDashboard extends Dashboard with account counts per role.
func (h *DashboardHandler) AdminDashboard(c *gin.Context) {
	logger := loggerFrom(c, h.logger)
	resp, err := h.summary(c)
	if err != nil {
		logger.Error("build dashboard failed", slog.Any("error", err))
		Internal(c, "failed to build dashboard")
		return
	}

	var rows []struct {
		Role  string
		Count int64
	}
	if err := h.db.WithContext(c.Request.Context()).
		Model(&database.User{}).
		Select("role, COUNT(*) AS count").
		Group("role").
		Scan(&rows).Error; err != nil {
		logger.Error("count users failed", slog.Any("error", err))
		Internal(c, "failed to build dashboard")
		return
	}

	out := adminDashboardResponse{
		dashboardResponse: resp,
		UsersByRole: map[string]int64{
			database.RoleStudent: 0,
			database.RoleAdmin:   0,
		},
	}
	for _, row := range rows {
		out.UsersByRole[row.Role] = row.Count
		out.TotalUsers += row.Count
	}
	c.JSON(http.StatusOK, out)
}

func (h *DashboardHandler) summary(c *gin.Context) (dashboardResponse, error) {
	db := h.db.WithContext(c.Request.Context())

	var projects []database.Project
	if err := db.Scopes(database.NewestFirst).Find(&projects).Error; err != nil {
		return dashboardResponse{}, err
	}

	var downloads int64
	for _, p := range projects {
		downloads += int64(p.Downloads)
	}

	return dashboardResponse{
		TotalProjects:  int64(len(projects)),
		TotalDownloads: downloads,
		Projects:       newProjectListItems(projects),
	}, nil
}

// ExportHandler writes the catalog as CSV.
type ExportHandler struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewExportHandler(db *gorm.DB, logger *slog.Logger) *ExportHandler {
	return &ExportHandler{db: db, logger: logger}
}

// ExportCSV answers with every project as a downloadable CSV file.
func (h *ExportHandler) ExportCSV(c *gin.Context) {
	logger := loggerFrom(c, h.logger)

	var projects []database.Project
	if err := h.db.WithContext(c.Request.Context()).Scopes(database.NewestFirst).Find(&projects).Error; err != nil {
		logger.Error("load projects for export failed", slog.Any("error", err))
		Internal(c, "failed to export projects")
		return
	}

	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Disposition", `attachment; filename="`+export.Filename+`"`)
	c.Status(http.StatusOK)
	if err := export.WriteProjectsCSV(c.Writer, projects); err != nil {
		logger.Error("write csv failed", slog.Any("error", err))
	}
}
