package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yoockh/casescribe/internal/models"
	pgrepo "github.com/yoockh/casescribe/internal/repositories/postgres"
	"github.com/yoockh/casescribe/internal/services"
	"github.com/yoockh/casescribe/internal/utils"
)

// AdminHandler exposes operational views over jobs, live sessions and the
// record archive.
type AdminHandler struct {
	jobs     services.AnalysisService
	sessions *services.SessionRegistry
	archive  pgrepo.RecordRepo
}

func NewAdminHandler(jobs services.AnalysisService, sessions *services.SessionRegistry, archive pgrepo.RecordRepo) *AdminHandler {
	return &AdminHandler{jobs: jobs, sessions: sessions, archive: archive}
}

func (h *AdminHandler) ListJobs(c *gin.Context) {
	const op = "AdminHandler.ListJobs"

	limit, err := queryLimit(c, 50, 500)
	if err != nil {
		writeError(c, err)
		return
	}
	status := models.JobStatus(strings.ToLower(c.Query("status")))
	switch status {
	case "", models.JobPending, models.JobProcessing, models.JobCompleted, models.JobFailed:
	default:
		writeError(c, utils.E(utils.CodeInvalidArgument, op, "unknown job status", nil))
		return
	}

	jobs, err := h.jobs.List(c.Request.Context(), status, int64(limit))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs})
}

func (h *AdminHandler) ListSessions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sessions": h.sessions.List()})
}

func (h *AdminHandler) ListRecords(c *gin.Context) {
	const op = "AdminHandler.ListRecords"

	if h.archive == nil {
		writeError(c, utils.E(utils.CodeUnavailable, op, "record archive is not configured", nil))
		return
	}
	limit, err := queryLimit(c, 50, 500)
	if err != nil {
		writeError(c, err)
		return
	}
	status := strings.ToUpper(c.Query("status"))
	if status != "" && !validRecordStatus(status) {
		writeError(c, utils.E(utils.CodeInvalidArgument, op, "unknown record status", nil))
		return
	}

	rows, err := h.archive.ListByStatus(c.Request.Context(), status, limit)
	if err != nil {
		writeError(c, utils.E(utils.CodeInternal, op, "failed to list records", err))
		return
	}
	counts, err := h.archive.CountByStatus(c.Request.Context())
	if err != nil {
		writeError(c, utils.E(utils.CodeInternal, op, "failed to count records", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": rows, "counts": counts})
}

func validRecordStatus(s string) bool {
	switch models.RecordStatus(s) {
	case models.StatusCompleted, models.StatusFailedInput, models.StatusFailedNoClinicalData,
		models.StatusFailedNonPediatric, models.StatusFailedQuality, models.StatusFailedInternal:
		return true
	}
	return false
}
