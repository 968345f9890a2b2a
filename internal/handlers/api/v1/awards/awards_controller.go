package awards

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"badgehub/internal/models"
	"badgehub/internal/response"
	"badgehub/internal/services"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// maxBodyBytes bounds trigger context and activity payloads
const maxBodyBytes = 1 << 20

// AwardController handles the award API endpoints
type AwardController struct {
	awardService    services.AwardService
	syncService     services.SyncService
	logger          *zap.Logger
	responseBuilder *response.Builder
}

// NewAwardController creates a new award controller
func NewAwardController(
	awardService services.AwardService,
	syncService services.SyncService,
	logger *zap.Logger,
	responseBuilder *response.Builder,
) *AwardController {
	if logger == nil {
		logger = zap.NewNop()
	}
	if responseBuilder == nil {
		responseBuilder = response.NewBuilder(nil, logger)
	}
	return &AwardController{
		awardService:    awardService,
		syncService:     syncService,
		logger:          logger,
		responseBuilder: responseBuilder,
	}
}

// ===============================
// RESPONSE TYPES
// ===============================

// AwardsResponse lists awards for one user
type AwardsResponse struct {
	UserID string         `json:"user_id"`
	Awards []models.Award `json:"awards"`
	Count  int            `json:"count"`
}

// ProgressResponse lists progress for one user
type ProgressResponse struct {
	UserID   string            `json:"user_id"`
	Progress []models.Progress `json:"progress"`
}

// ===============================
// EVALUATION
// ===============================

// FireTrigger handles POST /api/v1/users/{userID}/triggers/{triggerType}.
// The optional JSON body is the trigger context.
func (c *AwardController) FireTrigger(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	userID := vars["userID"]
	trigger := models.TriggerType(vars["triggerType"])

	var triggerContext map[string]interface{}
	if err := decodeBody(r, &triggerContext); err != nil {
		c.responseBuilder.WriteBadRequest(w, r, "Invalid trigger context")
		return
	}

	awards, err := c.awardService.EvaluateAndAward(r.Context(), userID, trigger, triggerContext)
	if err != nil {
		c.responseBuilder.WriteError(w, r, err)
		return
	}

	if len(awards) > 0 {
		c.logger.Info("Trigger produced awards",
			zap.String("user_id", userID),
			zap.String("trigger", string(trigger)),
			zap.Int("awards", len(awards)),
		)
	}

	c.responseBuilder.WriteSuccess(w, r, AwardsResponse{UserID: userID, Awards: nonNil(awards), Count: len(awards)})
}

// RecordActivity handles POST /api/v1/users/{userID}/activity
func (c *AwardController) RecordActivity(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userID"]

	var req services.RecordActivityRequest
	if err := decodeBody(r, &req); err != nil {
		c.responseBuilder.WriteBadRequest(w, r, "Invalid request body format")
		return
	}

	if req.Event.UserID != "" && req.Event.UserID != userID {
		c.responseBuilder.WriteBadRequest(w, r, "Event user does not match path")
		return
	}
	req.Event.UserID = userID

	resp, err := c.awardService.RecordActivity(r.Context(), &req)
	if err != nil {
		c.responseBuilder.WriteError(w, r, err)
		return
	}
	resp.Awards = nonNil(resp.Awards)

	c.responseBuilder.WriteCreated(w, r, resp)
}

// ===============================
// READ SIDE
// ===============================

// GetAwards handles GET /api/v1/users/{userID}/awards
func (c *AwardController) GetAwards(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userID"]

	awards, err := c.awardService.GetAwards(r.Context(), userID)
	if err != nil {
		c.responseBuilder.WriteError(w, r, err)
		return
	}

	c.responseBuilder.WriteSuccess(w, r, AwardsResponse{UserID: userID, Awards: nonNil(awards), Count: len(awards)})
}

// GetProgress handles GET /api/v1/users/{userID}/progress
func (c *AwardController) GetProgress(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userID"]

	progress, err := c.awardService.GetProgress(r.Context(), userID)
	if err != nil {
		c.responseBuilder.WriteError(w, r, err)
		return
	}
	if progress == nil {
		progress = []models.Progress{}
	}

	c.responseBuilder.WriteSuccess(w, r, ProgressResponse{UserID: userID, Progress: progress})
}

// GetCatalog handles GET /api/v1/catalog
func (c *AwardController) GetCatalog(w http.ResponseWriter, r *http.Request) {
	catalog, err := c.awardService.GetCatalog(r.Context())
	if err != nil {
		c.responseBuilder.WriteError(w, r, err)
		return
	}
	c.responseBuilder.WriteSuccess(w, r, catalog)
}

// ===============================
// SYNC
// ===============================

// Flush handles POST /api/v1/sync/flush
func (c *AwardController) Flush(w http.ResponseWriter, r *http.Request) {
	result, err := c.syncService.Flush(r.Context())
	if err != nil {
		c.responseBuilder.WriteError(w, r, err)
		return
	}
	c.responseBuilder.WriteSuccess(w, r, result)
}

// SyncStatus handles GET /api/v1/sync/status
func (c *AwardController) SyncStatus(w http.ResponseWriter, r *http.Request) {
	status, err := c.syncService.Status(r.Context())
	if err != nil {
		c.responseBuilder.WriteError(w, r, err)
		return
	}
	c.responseBuilder.WriteSuccess(w, r, status)
}

// ===============================
// HELPERS
// ===============================

// decodeBody decodes a JSON body; an empty body leaves dst untouched
func decodeBody(r *http.Request, dst interface{}) error {
	if r.Body == nil {
		return nil
	}
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := decoder.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func nonNil(awards []models.Award) []models.Award {
	if awards == nil {
		return []models.Award{}
	}
	return awards
}
