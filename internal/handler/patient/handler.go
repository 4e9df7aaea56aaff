package patient

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/consult-api/internal/service/consultation"
	"github.com/jwalitptl/consult-api/internal/service/patient"
	"github.com/jwalitptl/consult-api/pkg/httputil"
)

const noHistoryMessage = "No prior consultations"

type Handler struct {
	service       patient.PatientService
	consultations consultation.ConsultationService
}

func NewHandler(service patient.PatientService, consultations consultation.ConsultationService) *Handler {
	return &Handler{
		service:       service,
		consultations: consultations,
	}
}

func (h *Handler) RegisterRoutes(r gin.IRouter) {
	patients := r.Group("/patients")
	{
		patients.GET("", h.ListPatients)
		patients.GET("/:id", h.GetPatient)
		patients.GET("/:id/visits", h.ListVisits)
	}
}

func (h *Handler) ListPatients(c *gin.Context) {
	patients, err := h.service.ListPatients(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, patients)
}

func (h *Handler) GetPatient(c *gin.Context) {
	p, err := h.service.GetPatient(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, p)
}

// ListVisits returns the patient's history rows in storage order.
func (h *Handler) ListVisits(c *gin.Context) {
	rows, err := h.consultations.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}

	resp := httputil.NewSuccessResponse(rows)
	if len(rows) == 0 {
		resp.Message = noHistoryMessage
	}
	c.JSON(http.StatusOK, resp)
}
