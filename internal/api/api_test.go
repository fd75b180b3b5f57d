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
	"net/textproto"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dreamGarden/internal/auth"
	"dreamGarden/internal/config"
	"dreamGarden/internal/database"
	"dreamGarden/internal/database/dbtest"
	"dreamGarden/internal/errcode"
	"dreamGarden/internal/identity"
	"dreamGarden/internal/media"
	"dreamGarden/internal/portfolio"
	"dreamGarden/internal/record"
	"dreamGarden/internal/storage"
	"dreamGarden/internal/student"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// tokenTable 把测试令牌直接映射为主体。
type tokenTable map[string]string

func (t tokenTable) ValidateToken(token string) (*auth.PrincipalClaims, error) {
	subject, ok := t[token]
	if !ok {
		return nil, errors.New("unknown token")
	}
	return &auth.PrincipalClaims{
		Email:            subject + "@example.com",
		RegisteredClaims: jwt.RegisteredClaims{Subject: subject},
	}, nil
}

type fakeObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (f *fakeObjects) UploadFile(_ context.Context, objectName string, reader io.Reader, _ int64, _ string) (*minio.UploadInfo, error) {
	data, _ := io.ReadAll(reader)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[objectName] = data
	return &minio.UploadInfo{Key: objectName}, nil
}

func (f *fakeObjects) GeneratePresignedURL(_ context.Context, objectKey string, _ time.Duration) (string, error) {
	return "https://minio.example.com/" + objectKey, nil
}

func (f *fakeObjects) GeneratePresignedURLWithParams(_ context.Context, objectKey string, _ time.Duration, _ map[string]string) (string, error) {
	return "https://minio.example.com/" + objectKey + "?download=1", nil
}

func (f *fakeObjects) ListObjects(_ context.Context, prefix string, limit int) ([]storage.ObjectMeta, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []storage.ObjectMeta
	for key, data := range f.objects {
		if strings.HasPrefix(key, prefix) && len(out) < limit {
			out = append(out, storage.ObjectMeta{Key: key, Size: int64(len(data))})
		}
	}
	return out, nil
}

func (f *fakeObjects) StatObject(_ context.Context, objectKey string) (storage.ObjectMeta, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[objectKey]
	if !ok {
		return storage.ObjectMeta{}, storage.ErrObjectNotFound
	}
	return storage.ObjectMeta{Key: objectKey, Size: int64(len(data))}, nil
}

type fakePDFQueue struct {
	requests []uint
}

func (f *fakePDFQueue) EnqueuePDF(_ context.Context, studentID, _ uint) (string, error) {
	f.requests = append(f.requests, studentID)
	return "pdf-task", nil
}

type testServer struct {
	router     *gin.Engine
	aggregator *portfolio.Aggregator
	objects    *fakeObjects
	pdfQueue   *fakePDFQueue
	notify     *fakeNotifications
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	db := dbtest.New(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	resolver := identity.NewResolver(db, 0)
	registry := student.NewRegistry(db, 0)
	records := record.NewStore(db, registry, nil, logger, 0)
	tracker := media.NewTracker(db, records, nil, logger)
	objects := &fakeObjects{objects: map[string][]byte{}}
	uploader := media.NewUploader(objects, nil, nil, registry, config.UploadConfig{MaxBytes: 1 << 20}, logger)
	aggregator := portfolio.NewAggregator(db, registry, nil, logger, 5, 0)
	pdfQueue := &fakePDFQueue{}
	notify := &fakeNotifications{chans: map[uint]chan []byte{}}

	tokens := tokenTable{"mom": "sub-mom", "teacher": "sub-teacher", "stranger": "sub-stranger"}
	router := NewRouter(logger)
	RegisterRoutes(router, config.APIConfig{RequestTimeout: 5 * time.Second}, Handlers{
		Me:        NewMeHandler(resolver),
		Students:  NewStudentHandler(registry),
		Records:   NewRecordHandler(records, tracker),
		Media:     NewMediaHandler(uploader),
		Portfolio: NewPortfolioHandler(aggregator, registry, pdfQueue, objects),
		Catalog:   NewCatalogHandler(db),
		Health:    NewHealthHandler(map[string]HealthCheck{"database": func(context.Context) error { return nil }}, logger),
		Ws:        NewWsHandler(notify, tokens, resolver, registry, logger, nil),
	}, tokens, resolver)

	return &testServer{router: router, aggregator: aggregator, objects: objects, pdfQueue: pdfQueue, notify: notify}
}

func (s *testServer) do(t *testing.T, method, path, token string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

// onboard 完成资料初始化并返回用户 ID。
func (s *testServer) onboard(t *testing.T, token string, profile identity.ProfileInput) uint {
	t.Helper()
	w := s.do(t, http.MethodPost, "/v1/me/profile", token, profile)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return decode[meResponse](t, w).User.ID
}

func (s *testServer) createStudent(t *testing.T, token string) studentResponse {
	t.Helper()
	w := s.do(t, http.MethodPost, "/v1/students", token, student.CreateInput{Name: "민준", Affiliation: "서울중, 3학년"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[studentResponse](t, w)
}

var momProfile = identity.ProfileInput{Role: database.RoleParent, DisplayName: "민준맘", Hoching: "엄마"}

func TestOnboardingFlow(t *testing.T) {
	s := newTestServer(t)

	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodGet, "/v1/me", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodGet, "/v1/me", "forged", nil).Code)

	w := s.do(t, http.MethodGet, "/v1/me", "mom", nil)
	require.Equal(t, http.StatusOK, w.Code)
	me := decode[meResponse](t, w)
	assert.Equal(t, identity.StateProfileIncomplete, me.State)
	assert.Nil(t, me.User)

	w = s.do(t, http.MethodGet, "/v1/students", "mom", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, float64(errcode.AccessDenied), decode[map[string]any](t, w)["code"])

	w = s.do(t, http.MethodPost, "/v1/me/profile", "mom", identity.ProfileInput{Role: database.RoleParent, DisplayName: "민준맘"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	userID := s.onboard(t, "mom", momProfile)
	assert.NotZero(t, userID)

	w = s.do(t, http.MethodPost, "/v1/me/profile", "mom", identity.ProfileInput{Role: database.RoleIndividual, DisplayName: "x", Affiliation: "y"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(t, http.MethodPatch, "/v1/me", "mom", map[string]string{"display_name": "민준 엄마"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "민준 엄마", decode[userResponse](t, w).DisplayName)

	created := s.createStudent(t, "mom")
	w = s.do(t, http.MethodGet, "/v1/students", "mom", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[struct {
		Students []studentResponse `json:"students"`
	}](t, w)
	require.Len(t, list.Students, 1)
	assert.Equal(t, created.ID, list.Students[0].ID)
	assert.Equal(t, []uint{userID}, list.Students[0].GuardianIDs)
}

func TestRecordEndpoints(t *testing.T) {
	s := newTestServer(t)
	s.onboard(t, "mom", momProfile)
	s.onboard(t, "stranger", identity.ProfileInput{Role: database.RoleIndividual, DisplayName: "남", Affiliation: "다른 학교"})
	st := s.createStudent(t, "mom")

	body := record.CreateInput{
		StudentID:      st.ID,
		SchoolContext:  database.ContextPre,
		NarrativeText:  "아침에 맨날 말썽이에요",
		EmotionCardID:  3,
		ChecklistItems: []database.ChecklistItem{{ID: "bag", Label: "가방 챙기기"}},
	}
	first := s.do(t, http.MethodPost, "/v1/records", "mom", body, "Idempotency-Key", "k-1")
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())
	rec := decode[recordResponse](t, first)
	assert.Equal(t, "아침에 맨날 말썽이에요", rec.NarrativeTextRaw)
	require.NotNil(t, rec.AIFlag)
	assert.Equal(t, database.FlagAggressive, *rec.AIFlag)

	again := s.do(t, http.MethodPost, "/v1/records", "mom", body, "Idempotency-Key", "k-1")
	require.Equal(t, http.StatusCreated, again.Code)
	assert.Equal(t, rec.ID, decode[recordResponse](t, again).ID)

	body.NarrativeText = "  "
	w := s.do(t, http.MethodPost, "/v1/records", "mom", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, float64(errcode.ValidationFailed), decode[map[string]any](t, w)["code"])

	w = s.do(t, http.MethodGet, "/v1/records/"+itoa(rec.ID), "stranger", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/v1/records/99999", "mom", nil).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/v1/records/abc", "mom", nil).Code)

	w = s.do(t, http.MethodPost, "/v1/records/"+itoa(rec.ID)+"/checklist/bag/toggle", "mom", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[recordResponse](t, w).ChecklistItems[0].Checked)

	w = s.do(t, http.MethodPost, "/v1/records", "mom", record.CreateInput{
		StudentID:     st.ID,
		SchoolContext: database.ContextDuring,
		NarrativeText: "친구와 함께 점심을 먹었어요.",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	during := decode[recordResponse](t, w)

	w = s.do(t, http.MethodPost, "/v1/records/link", "mom", linkRequest{PreRecordID: rec.ID, LaterRecordID: during.ID})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	linked := decode[map[string]recordResponse](t, w)
	assert.Equal(t, during.ID, *linked["pre"].LinkedRecordID)
	assert.Equal(t, rec.ID, *linked["later"].LinkedRecordID)

	w = s.do(t, http.MethodPost, "/v1/records/"+itoa(rec.ID)+"/neutralize", "mom", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(t, http.MethodGet, "/v1/students/"+itoa(st.ID)+"/records?limit=1", "mom", nil)
	require.Equal(t, http.StatusOK, w.Code)
	page := decode[struct {
		Records    []recordResponse `json:"records"`
		NextCursor string           `json:"next_cursor"`
	}](t, w)
	require.Len(t, page.Records, 1)
	assert.Equal(t, during.ID, page.Records[0].ID)
	require.NotEmpty(t, page.NextCursor)

	w = s.do(t, http.MethodGet, "/v1/students/"+itoa(st.ID)+"/records?limit=1&before="+page.NextCursor, "mom", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"id":`+itoa(rec.ID))

	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/v1/students/"+itoa(st.ID)+"/records?before=bad!cursor", "mom", nil).Code)
}

func TestNeutralizeAndComments(t *testing.T) {
	s := newTestServer(t)
	s.onboard(t, "mom", momProfile)
	st := s.createStudent(t, "mom")

	w := s.do(t, http.MethodPost, "/v1/records", "mom", record.CreateInput{
		StudentID:     st.ID,
		SchoolContext: database.ContextPost,
		NarrativeText: "그냥 좀 이상했어요",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	rec := decode[recordResponse](t, w)

	w = s.do(t, http.MethodPost, "/v1/records/"+itoa(rec.ID)+"/neutralize", "mom", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	neutral := decode[recordResponse](t, w)
	assert.True(t, neutral.AINeutralized)
	assert.Equal(t, "이상했어요", neutral.NarrativeText)
	assert.Equal(t, "그냥 좀 이상했어요", neutral.NarrativeTextRaw)

	w = s.do(t, http.MethodPost, "/v1/records/"+itoa(rec.ID)+"/comments", "mom", commentRequest{Content: "내일 다시 보기"})
	require.Equal(t, http.StatusCreated, w.Code)
	comment := decode[commentResponse](t, w)

	w = s.do(t, http.MethodGet, "/v1/records/"+itoa(rec.ID)+"/comments", "mom", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "내일 다시 보기")

	assert.Equal(t, http.StatusNoContent, s.do(t, http.MethodDelete, "/v1/comments/"+itoa(comment.ID), "mom", nil).Code)

	w = s.do(t, http.MethodPost, "/v1/records/analyze", "mom", analyzeRequest{Text: "최악이에요!!"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"flag":"AGG"`)
}

func TestMediaUploadAndAttach(t *testing.T) {
	s := newTestServer(t)
	s.onboard(t, "mom", momProfile)
	st := s.createStudent(t, "mom")

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	require.NoError(t, writer.WriteField("student_id", itoa(st.ID)))
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", `form-data; name="file"; filename="lunch.jpg"`)
	header.Set("Content-Type", "image/jpeg")
	part, err := writer.CreatePart(header)
	require.NoError(t, err)
	_, _ = part.Write([]byte("jpeg-bytes"))
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/v1/media/upload", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer mom")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	stored := decode[media.Stored](t, w)
	assert.True(t, strings.HasPrefix(stored.ObjectKey, storage.RecordObjectPrefix(st.ID)))

	w = s.do(t, http.MethodPost, "/v1/records", "mom", record.CreateInput{
		StudentID:     st.ID,
		SchoolContext: database.ContextDuring,
		NarrativeText: "급식을 맛있게 먹었어요.",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	rec := decode[recordResponse](t, w)

	w = s.do(t, http.MethodPost, "/v1/records/"+itoa(rec.ID)+"/media", "mom", media.Refs{Media: []string{stored.ObjectKey}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, []string{stored.ObjectKey}, decode[recordResponse](t, w).MediaURLs)

	w = s.do(t, http.MethodGet, "/v1/media/view?key="+stored.ObjectKey, "mom", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), stored.ObjectKey)

	w = s.do(t, http.MethodGet, "/v1/students/"+itoa(st.ID)+"/media", "mom", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), stored.ObjectKey)
}

func TestPortfolioEndpoints(t *testing.T) {
	s := newTestServer(t)
	s.onboard(t, "mom", momProfile)
	st := s.createStudent(t, "mom")

	w := s.do(t, http.MethodPost, "/v1/records", "mom", record.CreateInput{
		StudentID:     st.ID,
		SchoolContext: database.ContextDuring,
		NarrativeText: "블록을 끝까지 조립했어요.",
		EmotionCardID: 1,
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = s.do(t, http.MethodGet, "/v1/students/"+itoa(st.ID)+"/portfolio", "mom", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	p := decode[portfolioResponse](t, w)
	assert.Equal(t, 1, p.RecordCount)
	assert.Len(t, p.EmotionTimeline, 1)
	assert.False(t, p.PDFAvailable)

	w = s.do(t, http.MethodPost, "/v1/students/"+itoa(st.ID)+"/portfolio/regenerate", "mom", nil)
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/v1/students/"+itoa(st.ID)+"/portfolio/pdf", "mom", nil).Code)

	w = s.do(t, http.MethodPost, "/v1/students/"+itoa(st.ID)+"/portfolio/pdf", "mom", nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, []uint{st.ID}, s.pdfQueue.requests)

	require.NoError(t, s.aggregator.SetPDFObjectKey(context.Background(), st.ID, storage.PortfolioPDFKey(st.ID)))
	w = s.do(t, http.MethodGet, "/v1/students/"+itoa(st.ID)+"/portfolio/pdf", "mom", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), storage.PortfolioPDFKey(st.ID))

	s.onboard(t, "stranger", identity.ProfileInput{Role: database.RoleIndividual, DisplayName: "남", Affiliation: "다른 학교"})
	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodGet, "/v1/students/"+itoa(st.ID)+"/portfolio", "stranger", nil).Code)
	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodPost, "/v1/students/"+itoa(st.ID)+"/portfolio/pdf", "stranger", nil).Code)
}

func TestCatalogAndHealth(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/v1/emotions", "mom", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "기뻐요")

	w = s.do(t, http.MethodPost, "/v1/facilities", "mom", createFacilityRequest{Name: "햇살학교", Type: "특수학교"})
	require.Equal(t, http.StatusCreated, w.Code)
	w = s.do(t, http.MethodGet, "/v1/facilities", "mom", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "햇살학교")

	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/health", "", nil).Code)
}

func TestHealthReportsDegradedDependency(t *testing.T) {
	h := NewHealthHandler(map[string]HealthCheck{
		"database": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("connection refused") },
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	r := gin.New()
	r.GET("/health", h.Health)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.JSONEq(t, `{"status":"degraded","dependencies":{"database":"ok","redis":"down"}}`, w.Body.String())
}

func itoa(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}
