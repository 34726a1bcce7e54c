package schedule

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/medisched/clinic-api/internal/middleware"
	"github.com/medisched/clinic-api/internal/model"
	"github.com/medisched/clinic-api/internal/service/schedule"
	apperrors "github.com/medisched/clinic-api/pkg/errors"
	"github.com/medisched/clinic-api/pkg/httputil"
	"github.com/medisched/clinic-api/pkg/validator"
)

// DefaultSlotMinutes sizes the availability grid when no duration is
// requested.
const DefaultSlotMinutes = 30

type Handler struct {
	ledger   *schedule.Ledger
	validate *validator.Validator
}

func NewHandler(ledger *schedule.Ledger, validate *validator.Validator) *Handler {
	return &Handler{ledger: ledger, validate: validate}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup, auth *middleware.AuthMiddleware) {
	r.GET("/availability", h.Availability)

	blocks := r.Group("/time-blocks", auth.RequireStaff())
	{
		blocks.POST("", h.CreateBlock)
		blocks.GET("", h.ListBlocks)
		blocks.DELETE("/:id", h.DeleteBlock)
	}
}

func (h *Handler) Availability(c *gin.Context) {
	branchID, err := uuid.Parse(c.Query("branch_id"))
	if err != nil {
		httputil.RespondWithError(c, apperrors.Validation("invalid branch ID", err))
		return
	}

	date, err := model.ParseVisitDate(c.Query("date"))
	if err != nil {
		httputil.RespondWithError(c, apperrors.Validation("invalid date", err))
		return
	}

	slotLen := time.Duration(DefaultSlotMinutes) * time.Minute
	if v := c.Query("duration_minutes"); v != "" {
		d, err := time.ParseDuration(v + "m")
		if err != nil || d <= 0 {
			httputil.RespondWithError(c, apperrors.Validation("invalid duration", err))
			return
		}
		slotLen = d
	}

	slots, err := h.ledger.AvailableSlots(c.Request.Context(), branchID, date, slotLen)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, slots)
}

func (h *Handler) CreateBlock(c *gin.Context) {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		httputil.RespondWithError(c, apperrors.Unauthorized(""))
		return
	}

	var req model.CreateTimeBlockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithError(c, apperrors.Validation("invalid request body", err))
		return
	}
	if err := h.validate.Validate(&req); err != nil {
		httputil.RespondWithError(c, apperrors.Validation(err.Error(), err))
		return
	}

	block, err := h.ledger.CreateManualBlock(c.Request.Context(), actor, &req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithCreated(c, block)
}

func (h *Handler) ListBlocks(c *gin.Context) {
	branchID, err := uuid.Parse(c.Query("branch_id"))
	if err != nil {
		httputil.RespondWithError(c, apperrors.Validation("invalid branch ID", err))
		return
	}

	date, err := model.ParseVisitDate(c.Query("date"))
	if err != nil {
		httputil.RespondWithError(c, apperrors.Validation("invalid date", err))
		return
	}

	blocks, err := h.ledger.DayBlocks(c.Request.Context(), branchID, date)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, blocks)
}

func (h *Handler) DeleteBlock(c *gin.Context) {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		httputil.RespondWithError(c, apperrors.Unauthorized(""))
		return
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httputil.RespondWithError(c, apperrors.Validation("invalid time block ID", err))
		return
	}

	if err := h.ledger.RemoveManualBlock(c.Request.Context(), actor, id); err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, gin.H{"deleted": true})
}
