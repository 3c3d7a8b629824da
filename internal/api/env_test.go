package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"acadRepo/internal/auth"
	"acadRepo/internal/auth/authtest"
	"acadRepo/internal/config"
	"acadRepo/internal/database"
	"acadRepo/internal/storage"
	"acadRepo/internal/testdb"
	"acadRepo/internal/upload"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type storedObject struct {
	data        []byte
	contentType string
}

type memoryStore struct {
	mu        sync.Mutex
	objects   map[string]storedObject
	uploadErr error
	onUpload  func(key string)
	deleted   []string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{objects: map[string]storedObject{}}
}

func (s *memoryStore) UploadFile(_ context.Context, objectName string, reader io.Reader, _ int64, contentType string) (*minio.UploadInfo, error) {
	if s.onUpload != nil {
		s.onUpload(objectName)
	}
	if s.uploadErr != nil {
		return nil, s.uploadErr
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[objectName] = storedObject{data: data, contentType: contentType}
	return &minio.UploadInfo{Key: objectName, Size: int64(len(data))}, nil
}

func (s *memoryStore) OpenObject(_ context.Context, key string) (io.ReadCloser, storage.ObjectInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[key]
	if !ok {
		return nil, storage.ObjectInfo{}, storage.ErrObjectNotFound
	}
	info := storage.ObjectInfo{Key: key, Size: int64(len(obj.data)), ContentType: obj.contentType}
	return io.NopCloser(bytes.NewReader(obj.data)), info, nil
}

func (s *memoryStore) DeleteObject(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	s.deleted = append(s.deleted, key)
	return nil
}

func (s *memoryStore) put(key string, data []byte, contentType string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = storedObject{data: data, contentType: contentType}
}

func (s *memoryStore) has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[key]
	return ok
}

func (s *memoryStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

type fakeMailer struct {
	sent []database.User
	err  error
}

func (m *fakeMailer) SendWelcome(_ context.Context, user database.User) error {
	m.sent = append(m.sent, user)
	return m.err
}

type fakeSummarizer struct {
	calls []string
	out   string
	err   error
}

func (f *fakeSummarizer) Summarize(_ context.Context, text string) (string, error) {
	f.calls = append(f.calls, text)
	return f.out, f.err
}

type fakeEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (f *fakeEnqueuer) Enqueue(task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{ID: "task-1", Type: task.Type()}, nil
}

type testEnv struct {
	t          *testing.T
	db         *gorm.DB
	auth       *auth.AuthService
	store      *memoryStore
	mailer     *fakeMailer
	summarizer *fakeSummarizer
	tasks      *fakeEnqueuer
	router     *gin.Engine
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		t:          t,
		db:         testdb.New(t),
		auth:       authtest.NewService(t),
		store:      newMemoryStore(),
		mailer:     &fakeMailer{},
		summarizer: &fakeSummarizer{out: "A short synopsis."},
		tasks:      &fakeEnqueuer{},
	}

	cfg := &config.Config{
		API: config.APIConfig{InternalSecret: "internal"},
		Uploads: config.UploadsConfig{
			MaxImageBytes:             1024,
			MaxDocumentBytes:          4096,
			PageSize:                  9,
			SynopsisBackgroundRetries: 3,
		},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	env.router = NewRouter(cfg, logger)
	RegisterRoutes(env.router, cfg, Dependencies{
		DB:         env.db,
		Auth:       env.auth,
		Store:      env.store,
		Mailer:     env.mailer,
		Summarizer: env.summarizer,
		Tasks:      env.tasks,
		Logger:     logger,
		Uploads: &upload.Validator{
			MaxImageBytes:    cfg.Uploads.MaxImageBytes,
			MaxDocumentBytes: cfg.Uploads.MaxDocumentBytes,
		},
	})
	return env
}

func (e *testEnv) token(user database.User) string {
	e.t.Helper()
	pair, err := e.auth.GenerateTokenPair(subjectFor(user))
	require.NoError(e.t, err)
	return pair.AccessToken
}

func (e *testEnv) do(req *http.Request, user *database.User) *httptest.ResponseRecorder {
	e.t.Helper()
	if user != nil {
		req.Header.Set("Authorization", "Bearer "+e.token(*user))
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) get(path string, user *database.User) *httptest.ResponseRecorder {
	return e.do(httptest.NewRequest(http.MethodGet, path, nil), user)
}

func (e *testEnv) postJSON(path string, body any, user *database.User) *httptest.ResponseRecorder {
	e.t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(e.t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	return e.do(req, user)
}

func (e *testEnv) form(method, path string, f multipartForm, user *database.User) *httptest.ResponseRecorder {
	e.t.Helper()
	body, contentType := f.encode(e.t)
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", contentType)
	return e.do(req, user)
}

type formFile struct {
	name string
	data []byte
}

type multipartForm struct {
	fields map[string]string
	files  map[string]formFile
}

func (f multipartForm) encode(t *testing.T) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	for k, v := range f.fields {
		require.NoError(t, w.WriteField(k, v))
	}
	for field, file := range f.files {
		part, err := w.CreateFormFile(field, file.name)
		require.NoError(t, err)
		_, err = part.Write(file.data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return body, w.FormDataContentType()
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

var errBoom = errors.New("boom")
