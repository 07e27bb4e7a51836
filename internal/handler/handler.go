// Package handler exposes the engine over HTTP for host integrations that
// ingest interactions out of process. Requests are screened here before
// anything reaches the engine's Track path.
package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/BarkinBalci/interaction-metrics-engine/internal/domain"
	"github.com/BarkinBalci/interaction-metrics-engine/internal/dto"
	"github.com/BarkinBalci/interaction-metrics-engine/internal/engine"
	"github.com/BarkinBalci/interaction-metrics-engine/internal/eventlog"
)

type Handler struct {
	telemetry engine.Telemetry
	router    *gin.Engine
	log       *zap.Logger
}

func NewHandler(telemetry engine.Telemetry, log *zap.Logger) *Handler {
	h := &Handler{
		telemetry: telemetry,
		router:    gin.Default(),
		log:       log,
	}

	h.registerRoutes()

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) registerRoutes() {
	h.router.GET("/health", h.healthCheck)
	h.router.POST("/events/asset", h.trackAssetEvent)
	h.router.POST("/events/experience", h.trackExperienceEvent)
	h.router.POST("/events/bulk", h.trackEventsBulk)
	h.router.POST("/experiences", h.registerExperience)
	h.router.GET("/experiences/:id", h.getExperience)
	h.router.POST("/flush", h.flush)
	h.router.PUT("/config/batching", h.updateBatchConfig)
	h.router.GET("/status", h.status)
}

// healthCheck handles GET /health
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

// trackAssetEvent handles POST /events/asset
func (h *Handler) trackAssetEvent(c *gin.Context) {
	var req dto.TrackAssetEventRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Warn("Invalid asset event request", zap.Error(err))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "validation_error",
			Message: err.Error(),
		})
		return
	}

	aux, err := domain.NewAuxData(req.Aux)
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "validation_error",
			Message: err.Error(),
		})
		return
	}

	event := domain.NewAssetEvent(domain.InteractionKind(req.Kind), req.URL, req.Location, aux)
	h.track(c, event)
}

// trackExperienceEvent handles POST /events/experience
func (h *Handler) trackExperienceEvent(c *gin.Context) {
	var req dto.TrackExperienceEventRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Warn("Invalid experience event request", zap.Error(err))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "validation_error",
			Message: err.Error(),
		})
		return
	}

	aux, err := domain.NewAuxData(req.Aux)
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "validation_error",
			Message: err.Error(),
		})
		return
	}

	event := domain.NewExperienceEvent(domain.InteractionKind(req.Kind), req.ExperienceID, req.Location, aux)
	h.track(c, event)
}

// track accepts one validated event into the engine.
func (h *Handler) track(c *gin.Context, event *domain.RawEvent) {
	if err := h.telemetry.Track(c.Request.Context(), event); err != nil {
		status := http.StatusInternalServerError
		code := "storage_error"
		if errors.Is(err, engine.ErrValidation) {
			status = http.StatusBadRequest
			code = "validation_error"
		} else if !errors.Is(err, eventlog.ErrStorage) {
			code = "internal_error"
		}

		h.log.Error("Failed to track event",
			zap.Error(err),
			zap.String("category", string(event.Category)),
			zap.String("key", event.Key))
		c.JSON(status, dto.ErrorResponse{
			Error:   code,
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusAccepted, dto.TrackEventResponse{
		EventID: event.ID,
		Status:  "accepted",
	})
}

// trackEventsBulk handles POST /events/bulk
func (h *Handler) trackEventsBulk(c *gin.Context) {
	var req dto.TrackEventsBulkRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Warn("Invalid bulk tracking request", zap.Error(err))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "validation_error",
			Message: err.Error(),
		})
		return
	}

	var eventIDs []string
	var trackErrors []string

	appendResult := func(event *domain.RawEvent, err error) {
		if err != nil {
			trackErrors = append(trackErrors, err.Error())
			return
		}
		eventIDs = append(eventIDs, event.ID)
	}

	ctx := c.Request.Context()
	for _, assetReq := range req.Assets {
		aux, err := domain.NewAuxData(assetReq.Aux)
		if err != nil {
			trackErrors = append(trackErrors, err.Error())
			continue
		}
		event := domain.NewAssetEvent(domain.InteractionKind(assetReq.Kind), assetReq.URL, assetReq.Location, aux)
		appendResult(event, h.telemetry.Track(ctx, event))
	}
	for _, expReq := range req.Experiences {
		aux, err := domain.NewAuxData(expReq.Aux)
		if err != nil {
			trackErrors = append(trackErrors, err.Error())
			continue
		}
		event := domain.NewExperienceEvent(domain.InteractionKind(expReq.Kind), expReq.ExperienceID, expReq.Location, aux)
		appendResult(event, h.telemetry.Track(ctx, event))
	}

	h.log.Info("Bulk events processed",
		zap.Int("accepted", len(eventIDs)),
		zap.Int("rejected", len(trackErrors)))

	c.JSON(http.StatusAccepted, dto.TrackEventsBulkResponse{
		Accepted: len(eventIDs),
		Rejected: len(trackErrors),
		EventIDs: eventIDs,
		Errors:   trackErrors,
	})
}

// registerExperience handles POST /experiences
func (h *Handler) registerExperience(c *gin.Context) {
	var req dto.RegisterExperienceRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Warn("Invalid experience registration request", zap.Error(err))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "validation_error",
			Message: err.Error(),
		})
		return
	}

	id, err := h.telemetry.RegisterExperience(req.AssetURLs, req.Texts, req.CTAs)
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "validation_error",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, dto.RegisterExperienceResponse{
		ExperienceID: id,
		Sent:         h.telemetry.HasExperienceBeenSent(id),
	})
}

// getExperience handles GET /experiences/:id
func (h *Handler) getExperience(c *gin.Context) {
	def, ok := h.telemetry.Experience(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, dto.ErrorResponse{
			Error:   "not_found",
			Message: "experience is not registered or was evicted",
		})
		return
	}

	c.JSON(http.StatusOK, def)
}

// flush handles POST /flush
func (h *Handler) flush(c *gin.Context) {
	if err := h.telemetry.FlushAll(c.Request.Context()); err != nil {
		h.log.Error("Forced flush failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, dto.ErrorResponse{
			Error:   "dispatch_failure",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, dto.FlushResponse{Status: "flushed"})
}

// updateBatchConfig handles PUT /config/batching
func (h *Handler) updateBatchConfig(c *gin.Context) {
	var req dto.UpdateBatchConfigRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Warn("Invalid batch config update", zap.Error(err))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "validation_error",
			Message: err.Error(),
		})
		return
	}

	h.telemetry.UpdateBatchConfig(req.ToBatchConfig())

	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}

// status handles GET /status
func (h *Handler) status(c *gin.Context) {
	c.JSON(http.StatusOK, h.telemetry.Status())
}
