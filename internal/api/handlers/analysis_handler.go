package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yoockh/casescribe/internal/models"
	"github.com/yoockh/casescribe/internal/services"
	"github.com/yoockh/casescribe/internal/utils"
)

type AnalysisHandler struct {
	svc      services.AnalysisService
	maxBytes int64
}

func NewAnalysisHandler(svc services.AnalysisService, maxBytes int) *AnalysisHandler {
	if maxBytes <= 0 {
		maxBytes = services.DefaultAnalysisConfig().MaxAudioBytes
	}
	return &AnalysisHandler{svc: svc, maxBytes: int64(maxBytes)}
}

type AnalyzeResponse struct {
	JobID  string           `json:"job_id"`
	Status models.JobStatus `json:"status"`
}

// Analyze accepts a multipart upload (file, optional format, provider and language)
// and answers 202 with the job id.
func (h *AnalysisHandler) Analyze(c *gin.Context) {
	const op = "AnalysisHandler.Analyze"

	if _, ok := requirePrincipal(c); !ok {
		return
	}

	fh, err := c.FormFile("file")
	if err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, op, "file is required", err))
		return
	}
	if fh.Size > h.maxBytes {
		writeError(c, utils.E(utils.CodeTooLarge, op, "file too large", nil))
		return
	}
	f, err := fh.Open()
	if err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, op, "unreadable file", err))
		return
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, h.maxBytes+1))
	if err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, op, "unreadable file", err))
		return
	}

	job, err := h.svc.Submit(c.Request.Context(), services.AnalysisInput{
		FileName: fh.Filename,
		Format:   c.PostForm("format"),
		Provider: c.PostForm("provider"),
		Language: c.PostForm("language"),
		Audio:    data,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, AnalyzeResponse{JobID: job.JobID, Status: job.Status})
}

func (h *AnalysisHandler) GetJob(c *gin.Context) {
	if _, ok := requirePrincipal(c); !ok {
		return
	}
	job, err := h.svc.Get(c.Request.Context(), c.Param("job_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}
