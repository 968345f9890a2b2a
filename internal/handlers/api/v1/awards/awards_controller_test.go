package awards

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"badgehub/internal/models"
	"badgehub/internal/response"
	"badgehub/internal/services"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// mockAwardService records calls and returns canned results
type mockAwardService struct {
	awards       []models.Award
	err          error
	gotUserID    string
	gotTrigger   models.TriggerType
	gotContext   map[string]interface{}
	gotRequest   *services.RecordActivityRequest
	progress     []models.Progress
	catalogRules []models.Rule
}

func (m *mockAwardService) EvaluateAndAward(ctx context.Context, userID string, trigger models.TriggerType, triggerContext map[string]interface{}) ([]models.Award, error) {
	m.gotUserID, m.gotTrigger, m.gotContext = userID, trigger, triggerContext
	return m.awards, m.err
}

func (m *mockAwardService) RecordActivity(ctx context.Context, req *services.RecordActivityRequest) (*services.RecordActivityResponse, error) {
	m.gotRequest = req
	if m.err != nil {
		return nil, m.err
	}
	return &services.RecordActivityResponse{Event: req.Event, Awards: m.awards}, nil
}

func (m *mockAwardService) GetAwards(ctx context.Context, userID string) ([]models.Award, error) {
	m.gotUserID = userID
	return m.awards, m.err
}

func (m *mockAwardService) GetProgress(ctx context.Context, userID string) ([]models.Progress, error) {
	m.gotUserID = userID
	return m.progress, m.err
}

func (m *mockAwardService) GetCatalog(ctx context.Context) (*services.CatalogResponse, error) {
	return &services.CatalogResponse{Source: "bundled", Rules: m.catalogRules}, m.err
}

func (m *mockAwardService) SeedAwards(ctx context.Context, seeds []models.AwardSeed) error {
	return m.err
}

type mockSyncService struct {
	flush *services.FlushResponse
}

func (m *mockSyncService) Flush(ctx context.Context) (*services.FlushResponse, error) {
	return m.flush, nil
}

func (m *mockSyncService) Status(ctx context.Context) (*services.SyncStatusResponse, error) {
	return &services.SyncStatusResponse{Pending: m.flush.Remaining, RemoteStatus: "healthy"}, nil
}

type envelope struct {
	Success bool                  `json:"success"`
	Data    json.RawMessage       `json:"data"`
	Error   *response.ErrorDetail `json:"error"`
}

func setupRouter(award *mockAwardService, sync *mockSyncService) *mux.Router {
	controller := NewAwardController(award, sync, zap.NewNop(), response.NewBuilder(nil, zap.NewNop()))
	router := mux.NewRouter()
	router.HandleFunc("/users/{userID}/triggers/{triggerType}", controller.FireTrigger).Methods(http.MethodPost)
	router.HandleFunc("/users/{userID}/activity", controller.RecordActivity).Methods(http.MethodPost)
	router.HandleFunc("/users/{userID}/awards", controller.GetAwards).Methods(http.MethodGet)
	router.HandleFunc("/users/{userID}/progress", controller.GetProgress).Methods(http.MethodGet)
	router.HandleFunc("/catalog", controller.GetCatalog).Methods(http.MethodGet)
	router.HandleFunc("/sync/flush", controller.Flush).Methods(http.MethodPost)
	return router
}

func serve(t *testing.T, router http.Handler, method, path, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env), rr.Body.String())
	return rr, env
}

func TestFireTrigger(t *testing.T) {
	award := &mockAwardService{awards: []models.Award{{UserID: "u1", BadgeID: "first-story", AwardedAt: time.Now()}}}
	router := setupRouter(award, &mockSyncService{})

	rr, env := serve(t, router, http.MethodPost, "/users/u1/triggers/story_completed", `{"story_id":"s1"}`)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, env.Success)
	assert.Equal(t, "u1", award.gotUserID)
	assert.Equal(t, models.TriggerStoryCompleted, award.gotTrigger)
	assert.Equal(t, "s1", award.gotContext["story_id"])

	var data AwardsResponse
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, 1, data.Count)
	assert.Equal(t, "first-story", data.Awards[0].BadgeID)
}

func TestFireTriggerWithoutBody(t *testing.T) {
	award := &mockAwardService{}
	rr, env := serve(t, setupRouter(award, &mockSyncService{}), http.MethodPost, "/users/u1/triggers/chat_message", "")

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Nil(t, award.gotContext)

	var data AwardsResponse
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.NotNil(t, data.Awards, "empty list, not null")
	assert.Zero(t, data.Count)
}

func TestFireTriggerRejectsMalformedBody(t *testing.T) {
	rr, env := serve(t, setupRouter(&mockAwardService{}, &mockSyncService{}), http.MethodPost, "/users/u1/triggers/chat_message", `{"broken"`)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.False(t, env.Success)
	assert.Equal(t, services.ErrorTypeValidation, env.Error.Type)
}

func TestServiceErrorsMapToStatus(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		typ    string
	}{
		{"validation", services.NewValidationError("user id is required", nil), http.StatusBadRequest, services.ErrorTypeValidation},
		{"local store", services.NewLocalStoreError("failed to commit awards", assert.AnError), http.StatusInternalServerError, services.ErrorTypeLocalStore},
		{"canceled", services.NewCanceledError(context.Canceled), 499, services.ErrorTypeCanceled},
		{"unexpected", assert.AnError, http.StatusInternalServerError, services.ErrorTypeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			award := &mockAwardService{err: tt.err}
			rr, env := serve(t, setupRouter(award, &mockSyncService{}), http.MethodPost, "/users/u1/triggers/chat_message", "")

			assert.Equal(t, tt.status, rr.Code)
			require.NotNil(t, env.Error)
			assert.Equal(t, tt.typ, env.Error.Type)
		})
	}
}

func TestInternalErrorsAreMasked(t *testing.T) {
	award := &mockAwardService{err: assert.AnError}
	_, env := serve(t, setupRouter(award, &mockSyncService{}), http.MethodGet, "/users/u1/awards", "")

	require.NotNil(t, env.Error)
	assert.NotContains(t, env.Error.Message, assert.AnError.Error())
}

func TestRecordActivity(t *testing.T) {
	award := &mockAwardService{}
	router := setupRouter(award, &mockSyncService{})

	rr, _ := serve(t, router, http.MethodPost, "/users/u1/activity",
		`{"event":{"source":"story_completions","attributes":{"completed":true}}}`)

	assert.Equal(t, http.StatusCreated, rr.Code)
	require.NotNil(t, award.gotRequest)
	assert.Equal(t, "u1", award.gotRequest.Event.UserID)
	assert.Equal(t, models.SourceStoryCompletions, award.gotRequest.Event.Source)
	assert.Equal(t, true, award.gotRequest.Event.Attributes["completed"])
}

func TestRecordActivityRejectsForeignUser(t *testing.T) {
	award := &mockAwardService{}
	rr, _ := serve(t, setupRouter(award, &mockSyncService{}), http.MethodPost, "/users/u1/activity",
		`{"event":{"user_id":"u2","source":"sessions"}}`)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Nil(t, award.gotRequest)
}

func TestReadEndpoints(t *testing.T) {
	award := &mockAwardService{
		awards:       []models.Award{{UserID: "u1", BadgeID: "chatter"}},
		progress:     []models.Progress{{UserID: "u1", BadgeID: "streak-3", Current: 2, Required: 3}},
		catalogRules: []models.Rule{{BadgeID: "chatter"}},
	}
	router := setupRouter(award, &mockSyncService{})

	_, env := serve(t, router, http.MethodGet, "/users/u1/progress", "")
	var progress ProgressResponse
	require.NoError(t, json.Unmarshal(env.Data, &progress))
	require.Len(t, progress.Progress, 1)
	assert.Equal(t, 2, progress.Progress[0].Current)

	_, env = serve(t, router, http.MethodGet, "/catalog", "")
	var catalog services.CatalogResponse
	require.NoError(t, json.Unmarshal(env.Data, &catalog))
	assert.Equal(t, "bundled", catalog.Source)
	assert.Len(t, catalog.Rules, 1)
}

func TestFlush(t *testing.T) {
	sync := &mockSyncService{flush: &services.FlushResponse{Succeeded: 3, Remaining: 1}}
	rr, env := serve(t, setupRouter(&mockAwardService{}, sync), http.MethodPost, "/sync/flush", "")

	assert.Equal(t, http.StatusOK, rr.Code)
	var data services.FlushResponse
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, 3, data.Succeeded)
	assert.Equal(t, 1, data.Remaining)
}
