package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"acadRepo/internal/api/middleware"
	"acadRepo/internal/catalog"
	"acadRepo/internal/database"
	"acadRepo/internal/metrics"
	"acadRepo/internal/storage"
	"acadRepo/internal/synopsis"
	"acadRepo/internal/tasks"
	"acadRepo/internal/upload"
)

var errInvalidProjectID = errors.New("invalid project id")

// ProjectHandler serves the project catalog and the owner operations on projects.
type ProjectHandler struct {
	db              *gorm.DB
	store           FileStore
	summarizer      synopsis.Summarizer
	tasks           TaskEnqueuer
	uploads         *upload.Validator
	logger          *slog.Logger
	pageSize        int
	synopsisRetries int
}

// NewProjectHandler builds the handler. enqueuer may be nil, failed synopses are then left empty.
func NewProjectHandler(
	db *gorm.DB,
	store FileStore,
	summarizer synopsis.Summarizer,
	enqueuer TaskEnqueuer,
	uploads *upload.Validator,
	logger *slog.Logger,
	pageSize int,
	synopsisRetries int,
) *ProjectHandler {
	if pageSize <= 0 {
		pageSize = 9
	}
	return &ProjectHandler{
		db:              db,
		store:           store,
		summarizer:      summarizer,
		tasks:           enqueuer,
		uploads:         uploads,
		logger:          logger,
		pageSize:        pageSize,
		synopsisRetries: synopsisRetries,
	}
}

type projectForm struct {
	Title       string `form:"title" binding:"required,max=250"`
	Description string `form:"description"`
	Career      string `form:"career" binding:"required"`
	Type        string `form:"type" binding:"required"`
	Year        string `form:"year" binding:"required"`
}

// bind validates the text fields. The returned year is only meaningful when errs is empty.
func (f *projectForm) bind(c *gin.Context) (fieldErrors, int, error) {
	errs := fieldErrors{}
	if err := c.ShouldBind(f); err != nil {
		bindErrs, ok := bindingFieldErrors(err)
		if !ok {
			return nil, 0, err
		}
		errs = bindErrs
	}

	f.Title = strings.TrimSpace(f.Title)
	f.Description = strings.TrimSpace(f.Description)
	f.Career = strings.TrimSpace(f.Career)
	f.Type = strings.TrimSpace(f.Type)

	if f.Career != "" && !catalog.ValidCareer(f.Career) {
		errs.add("career", "select a valid career")
	}
	if f.Type != "" && !catalog.ValidType(f.Type) {
		errs.add("type", "select a valid project type")
	}

	var year int
	if f.Year != "" {
		y, err := strconv.Atoi(strings.TrimSpace(f.Year))
		if err != nil || !catalog.ValidYear(y) {
			errs.add("year", fmt.Sprintf("select a year between %d and %d", catalog.MinYear, catalog.MaxYear))
		}
		year = y
	}
	return errs, year, nil
}

type listResponse struct {
	Items       []projectListItem `json:"items"`
	Page        catalog.Page      `json:"page"`
	Filter      catalog.Filter    `json:"filter"`
	QueryString string            `json:"querystring"`
}

// List returns one page of the catalog, filtered by q, type and career.
func (h *ProjectHandler) List(c *gin.Context) {
	query := c.Request.URL.Query()
	filter := catalog.FilterFromValues(query)

	projects, page, err := catalog.Search(h.db.WithContext(c.Request.Context()), filter, query.Get("page"), h.pageSize)
	if err != nil {
		h.loggerFromContext(c).Error("list projects failed", slog.Any("error", err))
		Internal(c, "failed to list projects")
		return
	}

	c.JSON(http.StatusOK, listResponse{
		Items:       newProjectListItems(projects),
		Page:        page,
		Filter:      filter,
		QueryString: catalog.QueryWithoutPage(query),
	})
}

// Filters returns the options offered by the listing and upload forms.
func (h *ProjectHandler) Filters(c *gin.Context) {
	used, err := catalog.DistinctCareers(h.db.WithContext(c.Request.Context()))
	if err != nil {
		h.loggerFromContext(c).Error("list careers failed", slog.Any("error", err))
		Internal(c, "failed to list careers")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"used_careers": used,
		"careers":      catalog.Careers,
		"types":        catalog.Types,
		"years":        catalog.Years(),
	})
}

// Mine lists the caller's projects.
func (h *ProjectHandler) Mine(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	var projects []database.Project
	if err := h.db.WithContext(c.Request.Context()).
		Where("created_by_id = ?", userID).
		Scopes(database.NewestFirst).
		Find(&projects).Error; err != nil {
		h.loggerFromContext(c).Error("list own projects failed", slog.Any("error", err))
		Internal(c, "failed to list projects")
		return
	}

	c.JSON(http.StatusOK, gin.H{"items": newProjectListItems(projects)})
}

// Get returns a project detail.
func (h *ProjectHandler) Get(c *gin.Context) {
	project, ok := h.findProject(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, newProjectResponse(*project))
}

// Create handles the upload form.
func (h *ProjectHandler) Create(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	logger := h.loggerFromContext(c).With(slog.Uint64("user_id", uint64(userID)))

	var form projectForm
	errs, year, err := form.bind(c)
	if err != nil {
		BadRequest(c, "invalid form payload")
		return
	}

	cover, err := optionalImage(c, h.uploads, "cover")
	if err := collectUploadError(errs, err); err != nil {
		logger.Error("read cover failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}
	document, err := optionalDocument(c, h.uploads, "document")
	if err := collectUploadError(errs, err); err != nil {
		logger.Error("read document failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}
	if document == nil {
		errs.add("document", "this field is required")
	}
	if len(errs) > 0 {
		ValidationFailed(c, errs)
		return
	}

	ctx := c.Request.Context()

	var owner database.User
	if err := h.db.WithContext(ctx).First(&owner, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			Unauthorized(c)
			return
		}
		logger.Error("load uploader failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	duplicate, err := h.titleTaken(ctx, userID, form.Title, 0)
	if err != nil {
		logger.Error("duplicate title lookup failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}
	if duplicate {
		Conflict(c, "you already have a project with that title")
		return
	}

	documentKey, err := storeFile(ctx, h.store, storage.PrefixDocuments, userID, document)
	if err != nil {
		logger.Error("upload document failed", slog.Any("error", err))
		Internal(c, "failed to store document")
		return
	}
	var coverKey string
	if cover != nil {
		coverKey, err = storeFile(ctx, h.store, storage.PrefixCovers, userID, cover)
		if err != nil {
			deleteObjects(ctx, h.store, logger, documentKey)
			logger.Error("upload cover failed", slog.Any("error", err))
			Internal(c, "failed to store cover")
			return
		}
	}

	res := synopsis.Build(ctx, h.summarizer, document.Name, document.Data, form.Title, form.Description)
	metrics.ObserveSynopsis("upload", res.Failed, res.Meta.FallbackUsed)
	for _, w := range res.Warnings {
		logger.Warn("synopsis warning", slog.String("warning", w))
	}

	project := database.Project{
		Title:        form.Title,
		Author:       owner.DisplayName(),
		Description:  form.Description,
		Type:         form.Type,
		Career:       form.Career,
		Year:         &year,
		CoverKey:     coverKey,
		DocumentKey:  documentKey,
		DocumentName: document.Name,
		Synopsis:     res.Synopsis,
		SynopsisMeta: datatypes.NewJSONType(res.Meta),
		CreatedByID:  &owner.ID,
	}
	if err := h.db.WithContext(ctx).Create(&project).Error; err != nil {
		deleteObjects(ctx, h.store, logger, documentKey, coverKey)
		logger.Error("create project failed", slog.Any("error", err))
		Internal(c, "failed to create project")
		return
	}

	if res.Failed {
		h.enqueueSynopsis(c, logger, project.ID)
	}

	logger.Info("project uploaded", slog.Uint64("project_id", uint64(project.ID)))
	c.JSON(http.StatusCreated, gin.H{
		"project":  newProjectResponse(project),
		"warnings": nonNil(res.Warnings),
	})
}

// Update edits an owned project. A new document regenerates the synopsis.
func (h *ProjectHandler) Update(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	project, ok := h.findOwnedProject(c, userID)
	if !ok {
		return
	}
	logger := h.loggerFromContext(c).With(
		slog.Uint64("user_id", uint64(userID)),
		slog.Uint64("project_id", uint64(project.ID)),
	)

	var form projectForm
	errs, year, err := form.bind(c)
	if err != nil {
		BadRequest(c, "invalid form payload")
		return
	}
	cover, err := optionalImage(c, h.uploads, "cover")
	if err := collectUploadError(errs, err); err != nil {
		logger.Error("read cover failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}
	document, err := optionalDocument(c, h.uploads, "document")
	if err := collectUploadError(errs, err); err != nil {
		logger.Error("read document failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}
	if len(errs) > 0 {
		ValidationFailed(c, errs)
		return
	}

	ctx := c.Request.Context()

	duplicate, err := h.titleTaken(ctx, userID, form.Title, project.ID)
	if err != nil {
		logger.Error("duplicate title lookup failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}
	if duplicate {
		Conflict(c, "you already have a project with that title")
		return
	}

	updates := map[string]any{
		"title":       form.Title,
		"description": form.Description,
		"career":      form.Career,
		"type":        form.Type,
		"year":        year,
	}

	var newKeys, oldKeys []string
	if cover != nil {
		key, err := storeFile(ctx, h.store, storage.PrefixCovers, userID, cover)
		if err != nil {
			logger.Error("upload cover failed", slog.Any("error", err))
			Internal(c, "failed to store cover")
			return
		}
		newKeys = append(newKeys, key)
		oldKeys = append(oldKeys, project.CoverKey)
		updates["cover_key"] = key
	}

	var res synopsis.Result
	if document != nil {
		key, err := storeFile(ctx, h.store, storage.PrefixDocuments, userID, document)
		if err != nil {
			deleteObjects(ctx, h.store, logger, newKeys...)
			logger.Error("upload document failed", slog.Any("error", err))
			Internal(c, "failed to store document")
			return
		}
		newKeys = append(newKeys, key)
		oldKeys = append(oldKeys, project.DocumentKey)

		res = synopsis.Build(ctx, h.summarizer, document.Name, document.Data, form.Title, form.Description)
		metrics.ObserveSynopsis("edit", res.Failed, res.Meta.FallbackUsed)
		updates["document_key"] = key
		updates["document_name"] = document.Name
		updates["synopsis"] = res.Synopsis
		updates["synopsis_meta"] = datatypes.NewJSONType(res.Meta)
	}

	if err := h.db.WithContext(ctx).Model(project).Updates(updates).Error; err != nil {
		deleteObjects(ctx, h.store, logger, newKeys...)
		logger.Error("update project failed", slog.Any("error", err))
		Internal(c, "failed to update project")
		return
	}
	deleteObjects(ctx, h.store, logger, oldKeys...)

	if res.Failed {
		h.enqueueSynopsis(c, logger, project.ID)
	}

	var updated database.Project
	if err := h.db.WithContext(ctx).First(&updated, project.ID).Error; err != nil {
		logger.Error("reload project failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"project":  newProjectResponse(updated),
		"warnings": nonNil(res.Warnings),
	})
}

// Delete removes an owned project together with its stored files.
func (h *ProjectHandler) Delete(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	project, ok := h.findOwnedProject(c, userID)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	logger := h.loggerFromContext(c).With(slog.Uint64("project_id", uint64(project.ID)))

	for _, key := range []string{project.DocumentKey, project.CoverKey} {
		if key == "" {
			continue
		}
		if err := h.store.DeleteObject(ctx, key); err != nil {
			logger.Error("delete stored file failed", slog.String("object_key", key), slog.Any("error", err))
			Internal(c, "failed to delete project files")
			return
		}
	}

	if err := h.db.WithContext(ctx).Delete(&database.Project{}, project.ID).Error; err != nil {
		logger.Error("delete project failed", slog.Any("error", err))
		Internal(c, "failed to delete project")
		return
	}

	logger.Info("project deleted")
	c.Status(http.StatusNoContent)
}

// Download streams the document and counts the download.
func (h *ProjectHandler) Download(c *gin.Context) {
	project, ok := h.findProject(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	logger := h.loggerFromContext(c).With(slog.Uint64("project_id", uint64(project.ID)))

	rc, info, err := h.store.OpenObject(ctx, project.DocumentKey)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			NotFound(c, "file does not exist")
			return
		}
		logger.Error("open document failed", slog.Any("error", err))
		Internal(c, "failed to open document")
		return
	}

	if err := h.db.WithContext(ctx).
		Model(&database.Project{}).
		Where("id = ?", project.ID).
		UpdateColumn("downloads", gorm.Expr("downloads + ?", 1)).Error; err != nil {
		_ = rc.Close()
		logger.Error("increment downloads failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}
	metrics.ObserveDownload()

	filename := project.DocumentName
	if filename == "" {
		filename = "project-" + uintString(project.ID)
	}
	streamObject(c, rc, info, upload.ContentTypeFor(filename, info.ContentType), filename)
}

// Cover streams the cover image.
func (h *ProjectHandler) Cover(c *gin.Context) {
	project, ok := h.findProject(c)
	if !ok {
		return
	}
	if project.CoverKey == "" {
		NotFound(c, "project has no cover")
		return
	}

	rc, info, err := h.store.OpenObject(c.Request.Context(), project.CoverKey)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			NotFound(c, "file does not exist")
			return
		}
		h.loggerFromContext(c).Error("open cover failed", slog.Any("error", err))
		Internal(c, "failed to open cover")
		return
	}
	streamObject(c, rc, info, upload.ContentTypeFor(project.CoverKey, info.ContentType), "")
}

func parseProjectID(raw string) (uint, error) {
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, errInvalidProjectID
	}
	return uint(id), nil
}

func (h *ProjectHandler) findProject(c *gin.Context) (*database.Project, bool) {
	return h.lookup(c, func(db *gorm.DB) *gorm.DB { return db })
}

// findOwnedProject answers 404 for projects of other users so their existence is not revealed.
func (h *ProjectHandler) findOwnedProject(c *gin.Context, userID uint) (*database.Project, bool) {
	return h.lookup(c, func(db *gorm.DB) *gorm.DB { return db.Where("created_by_id = ?", userID) })
}

func (h *ProjectHandler) lookup(c *gin.Context, scope func(*gorm.DB) *gorm.DB) (*database.Project, bool) {
	id, err := parseProjectID(c.Param("id"))
	if err != nil {
		NotFound(c, "project not found")
		return nil, false
	}

	var project database.Project
	if err := h.db.WithContext(c.Request.Context()).Scopes(scope).First(&project, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "project not found")
			return nil, false
		}
		h.loggerFromContext(c).Error("query project failed", slog.Any("error", err))
		Internal(c, "failed to query project")
		return nil, false
	}
	return &project, true
}

func (h *ProjectHandler) titleTaken(ctx context.Context, userID uint, title string, exceptID uint) (bool, error) {
	q := h.db.WithContext(ctx).Model(&database.Project{}).Where("title = ? AND created_by_id = ?", title, userID)
	if exceptID != 0 {
		q = q.Where("id <> ?", exceptID)
	}
	var count int64
	if err := q.Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (h *ProjectHandler) enqueueSynopsis(c *gin.Context, logger *slog.Logger, projectID uint) {
	if h.tasks == nil {
		return
	}
	task, err := tasks.NewSynopsisGenerateTask(projectID, middleware.GetCorrelationID(c))
	if err != nil {
		logger.Error("create synopsis task failed", slog.Any("error", err))
		return
	}
	opts := []asynq.Option{}
	if h.synopsisRetries > 0 {
		opts = append(opts, asynq.MaxRetry(h.synopsisRetries))
	}
	info, err := h.tasks.Enqueue(task, opts...)
	if err != nil {
		logger.Warn("enqueue synopsis task failed", slog.Any("error", err))
		return
	}
	logger.Info("synopsis retry scheduled", slog.String("task_id", info.ID))
}

func (h *ProjectHandler) loggerFromContext(c *gin.Context) *slog.Logger {
	return loggerFrom(c, h.logger)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
