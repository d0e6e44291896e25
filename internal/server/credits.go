package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	creditdomain "github.com/smallbiznis/gradewise/internal/credit/domain"
	"github.com/smallbiznis/gradewise/pkg/amount"
)

type checkCreditsRequest struct {
	Required amount.Amount `json:"required"`
}

type deductCreditsRequest struct {
	Amount       amount.Amount  `json:"amount"`
	Feature      string         `json:"feature"`
	Model        string         `json:"model"`
	TokensInput  int64          `json:"tokens_input"`
	TokensOutput int64          `json:"tokens_output"`
	ProjectID    *snowflake.ID  `json:"related_project_id"`
	SubmissionID *snowflake.ID  `json:"related_submission_id"`
	Metadata     map[string]any `json:"metadata"`
}

type addCreditsRequest struct {
	AccountID  *snowflake.ID            `json:"account_id"`
	Amount     amount.Amount            `json:"amount"`
	Reason     creditdomain.GrantReason `json:"reason"`
	ExternalID string                   `json:"external_id"`
}

type changePlanRequest struct {
	Plan creditdomain.Plan `json:"plan"`
}

func (s *Server) GetCredits(c *gin.Context) {
	account, err := s.resolveAccount(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, account)
}

func (s *Server) CheckCredits(c *gin.Context) {
	var req checkCreditsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	account, err := s.resolveAccount(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	result, err := s.creditSvc.CheckSufficient(c.Request.Context(), account.ID, req.Required)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) DeductCredits(c *gin.Context) {
	var req deductCreditsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	account, err := s.resolveAccount(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	result, err := s.creditSvc.Deduct(c.Request.Context(), creditdomain.DeductRequest{
		AccountID:    account.ID,
		Amount:       req.Amount,
		Feature:      strings.TrimSpace(req.Feature),
		Model:        strings.TrimSpace(req.Model),
		TokensInput:  req.TokensInput,
		TokensOutput: req.TokensOutput,
		ProjectID:    req.ProjectID,
		SubmissionID: req.SubmissionID,
		Metadata:     req.Metadata,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) AddCredits(c *gin.Context) {
	var req addCreditsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	var accountID snowflake.ID
	if req.AccountID != nil && *req.AccountID != 0 {
		accountID = *req.AccountID
	} else {
		account, err := s.resolveAccount(c)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		accountID = account.ID
	}

	result, err := s.creditSvc.Add(c.Request.Context(), creditdomain.AddRequest{
		AccountID:  accountID,
		Amount:     req.Amount,
		Reason:     req.Reason,
		ExternalID: strings.TrimSpace(req.ExternalID),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) ChangePlan(c *gin.Context) {
	var req changePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	account, err := s.resolveAccount(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	updated, err := s.creditSvc.ChangePlan(c.Request.Context(), account.ID, req.Plan)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}
