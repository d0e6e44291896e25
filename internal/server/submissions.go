package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	assessmentdomain "github.com/smallbiznis/gradewise/internal/assessment/domain"
	bulkgradingdomain "github.com/smallbiznis/gradewise/internal/bulkgrading/domain"
)

type overrideMarkRequest struct {
	Marks    *float64 `json:"marks"`
	Feedback string   `json:"feedback"`
}

func (s *Server) BulkGrade(c *gin.Context) {
	submissionID, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	account, err := s.accountForRequest(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	report, err := s.bulkGradingSvc.BulkGrade(c.Request.Context(), bulkgradingdomain.Request{
		SubmissionID: submissionID,
		AccountID:    account.ID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) RecomputeScore(c *gin.Context) {
	submissionID, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	submission, err := s.scoringSvc.Recompute(c.Request.Context(), submissionID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, submission)
}

func (s *Server) SubmitSubmission(c *gin.Context) {
	submissionID, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	submission, err := s.assessmentSvc.Submit(c.Request.Context(), submissionID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, submission)
}

func (s *Server) ReturnSubmission(c *gin.Context) {
	submissionID, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	submission, err := s.assessmentSvc.MarkReturned(c.Request.Context(), submissionID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, submission)
}

func (s *Server) OverrideMark(c *gin.Context) {
	responseID, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req overrideMarkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if req.Marks == nil {
		AbortWithError(c, newValidationError("marks", "required", "marks is required"))
		return
	}

	response, err := s.assessmentSvc.OverrideMark(c.Request.Context(), assessmentdomain.OverrideRequest{
		ResponseID: responseID,
		Marks:      *req.Marks,
		Feedback:   strings.TrimSpace(req.Feedback),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, response)
}
