package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"bloomrisk/internal/models"
	"bloomrisk/internal/services"
	"bloomrisk/internal/storage"
	"bloomrisk/pkg/logging"
	"bloomrisk/pkg/metrics"
)

// HealthChecker is implemented by optional dependencies probed by /health
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// FeatureHandler serves the feature matrix catalog
type FeatureHandler struct {
	catalog *services.CatalogService
	health  HealthChecker
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewFeatureHandler creates a new feature handler; health may be nil
func NewFeatureHandler(
	catalog *services.CatalogService,
	health HealthChecker,
	logger *logging.StructuredLogger,
	metricsCollector *metrics.Collector,
) *FeatureHandler {
	return &FeatureHandler{
		catalog: catalog,
		health:  health,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// PaginatedResponse represents a paginated API response
type PaginatedResponse struct {
	Data       interface{} `json:"data"`
	Total      int         `json:"total"`
	Page       int         `json:"page"`
	Limit      int         `json:"limit"`
	TotalPages int         `json:"total_pages"`
}

// ListFeatures handles GET /api/features
func (h *FeatureHandler) ListFeatures(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()
	defer func() {
		h.metrics.APIRequestDuration.WithLabelValues("/api/features").Observe(time.Since(startTime).Seconds())
	}()

	page, limit := 1, 100
	if p, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && p > 0 {
		page = p
	}
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 && l <= 1000 {
		limit = l
	}

	metas, err := h.catalog.List(ctx, r.URL.Query().Get("snapshot_id"))
	if err != nil {
		h.logger.Error(ctx, "[API_LIST_FEATURES_ERROR] Failed to list feature matrices", logging.Fields{}, err)
		h.metrics.RecordAPIError("internal_error", "/api/features")
		h.sendError(w, r, "failed to list feature matrices", http.StatusInternalServerError)
		return
	}

	total := len(metas)
	from := (page - 1) * limit
	if from > total {
		from = total
	}
	to := from + limit
	if to > total {
		to = total
	}

	h.metrics.RecordAPIRequest("/api/features", "GET", "200")
	h.sendJSON(w, PaginatedResponse{
		Data:       metas[from:to],
		Total:      total,
		Page:       page,
		Limit:      limit,
		TotalPages: (total + limit - 1) / limit,
	}, http.StatusOK)
}

// GetFeature handles GET /api/features/{fingerprint}
func (h *FeatureHandler) GetFeature(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()
	defer func() {
		h.metrics.APIRequestDuration.WithLabelValues("/api/features/{fingerprint}").Observe(time.Since(startTime).Seconds())
	}()

	meta, ok := h.lookup(w, r)
	if !ok {
		return
	}
	h.logger.Debug(ctx, "[API_GET_FEATURE] Feature matrix found", logging.Fields{"data_file": meta.DataFile})
	h.metrics.RecordAPIRequest("/api/features/{fingerprint}", "GET", "200")
	h.sendJSON(w, meta, http.StatusOK)
}

// DownloadFeature handles GET /api/features/{fingerprint}/data
func (h *FeatureHandler) DownloadFeature(w http.ResponseWriter, r *http.Request) {
	meta, ok := h.lookup(w, r)
	if !ok {
		return
	}
	h.metrics.RecordAPIRequest("/api/features/{fingerprint}/data", "GET", "200")
	w.Header().Set("Content-Type", "application/vnd.apache.parquet")
	w.Header().Set("Content-Disposition", `attachment; filename="`+meta.DataFile+`"`)
	http.ServeFile(w, r, h.catalog.DataPath(meta))
}

func (h *FeatureHandler) lookup(w http.ResponseWriter, r *http.Request) (*storage.Metadata, bool) {
	ctx := r.Context()
	fingerprint := mux.Vars(r)["fingerprint"]

	meta, err := h.catalog.Get(ctx, fingerprint)
	if err != nil {
		if models.IsNotFound(err) {
			h.sendError(w, r, err.Error(), http.StatusNotFound)
			return nil, false
		}
		h.logger.Error(ctx, "[API_GET_FEATURE_ERROR] Failed to read catalog", logging.Fields{
			"fingerprint": fingerprint,
		}, err)
		h.metrics.RecordAPIError("internal_error", "/api/features/{fingerprint}")
		h.sendError(w, r, "failed to read feature catalog", http.StatusInternalServerError)
		return nil, false
	}
	return meta, true
}

// HealthCheck handles GET /health
func (h *FeatureHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	status := map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	code := http.StatusOK
	if h.health != nil {
		if err := h.health.HealthCheck(ctx); err != nil {
			h.logger.Warn(ctx, "[HEALTH_CHECK] Dependency unhealthy", logging.Fields{"error": err.Error()})
			status["status"] = "unhealthy"
			status["error"] = err.Error()
			code = http.StatusServiceUnavailable
		}
	}

	h.sendJSON(w, status, code)
}

func (h *FeatureHandler) sendJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

func (h *FeatureHandler) sendError(w http.ResponseWriter, r *http.Request, message string, statusCode int) {
	route := r.URL.Path
	if cur := mux.CurrentRoute(r); cur != nil {
		if tpl, err := cur.GetPathTemplate(); err == nil {
			route = tpl
		}
	}
	h.metrics.RecordAPIRequest(route, r.Method, strconv.Itoa(statusCode))

	h.sendJSON(w, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	}, statusCode)
}

// RegisterRoutes registers the catalog, docs, health and metrics routes
func (h *FeatureHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/features", h.ListFeatures).Methods("GET")
	router.HandleFunc("/api/features/{fingerprint}", h.GetFeature).Methods("GET")
	router.HandleFunc("/api/features/{fingerprint}/data", h.DownloadFeature).Methods("GET")
	router.HandleFunc("/api/docs/openapi.json", OpenAPISpec).Methods("GET")
	router.HandleFunc("/api/docs", SwaggerUI).Methods("GET")
	router.HandleFunc("/health", h.HealthCheck).Methods("GET")
	router.Handle("/metrics", promhttp.HandlerFor(h.metrics.Gatherer(), promhttp.HandlerOpts{}))
}
