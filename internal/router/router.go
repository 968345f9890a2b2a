package router

import (
	"context"
	"net/http"

	"badgehub/internal/handlers/api/v1/awards"
	"badgehub/internal/handlers/notifications"
	"badgehub/internal/middleware"
	"badgehub/internal/response"
	"badgehub/internal/services"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// HealthReporter produces the engine health report
type HealthReporter interface {
	HealthCheck(ctx context.Context) (*services.ServiceHealth, error)
}

// Options configures the HTTP surface
type Options struct {
	AwardService services.AwardService
	SyncService  services.SyncService
	Health       HealthReporter
	Hub          *notifications.Hub
	CORSOrigin   string
}

// SetupRouter configures all HTTP routes and returns the main handler
func SetupRouter(opts Options, responseBuilder *response.Builder, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if responseBuilder == nil {
		responseBuilder = response.NewBuilder(nil, logger)
	}

	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		responseBuilder.WriteNotFound(w, req, "Route not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		responseBuilder.WriteJSON(w, req, responseBuilder.Error(req.Context(),
			&services.ServiceError{
				Type:       services.ErrorTypeValidation,
				Message:    "Method not allowed",
				StatusCode: http.StatusMethodNotAllowed,
			}), http.StatusMethodNotAllowed)
	})

	r.HandleFunc("/health", healthHandler(opts.Health, responseBuilder)).Methods(http.MethodGet)

	// ===============================
	// API V1
	// ===============================

	awardController := awards.NewAwardController(opts.AwardService, opts.SyncService, logger, responseBuilder)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/users/{userID}/triggers/{triggerType}", awardController.FireTrigger).Methods(http.MethodPost)
	api.HandleFunc("/users/{userID}/activity", awardController.RecordActivity).Methods(http.MethodPost)
	api.HandleFunc("/users/{userID}/awards", awardController.GetAwards).Methods(http.MethodGet)
	api.HandleFunc("/users/{userID}/progress", awardController.GetProgress).Methods(http.MethodGet)
	api.HandleFunc("/catalog", awardController.GetCatalog).Methods(http.MethodGet)
	api.HandleFunc("/sync/flush", awardController.Flush).Methods(http.MethodPost)
	api.HandleFunc("/sync/status", awardController.SyncStatus).Methods(http.MethodGet)

	if opts.Hub != nil {
		api.HandleFunc("/users/{userID}/notifications", opts.Hub.ServeWS).Methods(http.MethodGet)
	}

	return middleware.Chain(r,
		middleware.RequestID(logger),
		middleware.Logging(logger),
		middleware.RecoverPanic(responseBuilder, logger),
		middleware.CORS(opts.CORSOrigin),
	)
}

func healthHandler(health HealthReporter, responseBuilder *response.Builder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if health == nil {
			responseBuilder.WriteSuccess(w, r, map[string]string{"status": "healthy"})
			return
		}
		report, err := health.HealthCheck(r.Context())
		if err != nil {
			responseBuilder.WriteError(w, r, err)
			return
		}
		responseBuilder.WriteHealth(w, r, report)
	}
}
