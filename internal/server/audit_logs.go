package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/proposalpricing/internal/audit/domain"
	"github.com/smallbiznis/proposalpricing/pkg/db/pagination"
)

type auditLogsQuery struct {
	PageToken  string `form:"page_token"`
	PageSize   int    `form:"page_size"`
	Action     string `form:"action"`
	TargetType string `form:"target_type"`
	TargetID   string `form:"target_id"`
	ProposalID string `form:"proposal_id"`
	SessionID  string `form:"session_id"`
}

func (q auditLogsQuery) request() auditdomain.ListAuditLogRequest {
	return auditdomain.ListAuditLogRequest{
		Pagination: pagination.Pagination{
			PageToken: strings.TrimSpace(q.PageToken),
			PageSize:  q.PageSize,
		},
		Action:     strings.TrimSpace(q.Action),
		TargetType: strings.TrimSpace(q.TargetType),
		TargetID:   strings.TrimSpace(q.TargetID),
		ProposalID: strings.TrimSpace(q.ProposalID),
		SessionID:  strings.TrimSpace(q.SessionID),
	}
}

// ListAuditLogs pages through pricing, approval and proposal audit entries.
// proposal_id covers both the proposal itself and its approval requests.
func (s *Server) ListAuditLogs(c *gin.Context) {
	var query auditLogsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, newValidationError("page_size", "invalid_page_size", "page_size must be a number"))
		return
	}
	if query.PageSize < 0 {
		AbortWithError(c, newValidationError("page_size", "invalid_page_size", "page_size cannot be negative"))
		return
	}

	resp, err := s.auditSvc.List(c.Request.Context(), query.request())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.AuditLogs, "page_info": resp.PageInfo})
}
