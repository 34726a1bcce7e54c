package treatment

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/medisched/clinic-api/internal/repository"
	"github.com/medisched/clinic-api/internal/service/treatment"
	apperrors "github.com/medisched/clinic-api/pkg/errors"
	"github.com/medisched/clinic-api/pkg/httputil"
)

type Handler struct {
	service  *treatment.Service
	branches repository.BranchRepository
}

func NewHandler(service *treatment.Service, branches repository.BranchRepository) *Handler {
	return &Handler{service: service, branches: branches}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/branches", h.ListBranches)
	r.GET("/branches/:id/treatments", h.ListTreatments)
}

func (h *Handler) ListBranches(c *gin.Context) {
	branches, err := h.branches.List(c.Request.Context())
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, branches)
}

func (h *Handler) ListTreatments(c *gin.Context) {
	branchID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httputil.RespondWithError(c, apperrors.Validation("invalid branch ID", err))
		return
	}

	treatments, err := h.service.ListByBranch(c.Request.Context(), branchID)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, treatments)
}
