package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	approvaldomain "github.com/smallbiznis/proposalpricing/internal/approval/domain"
)

type resolveApprovalRequest struct {
	Decision string `json:"decision"`
	Notes    string `json:"notes"`
}

func (s *Server) GetApproval(c *gin.Context) {
	resp, err := s.approvalSvc.Get(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// ResolveApproval records a manager decision. The owning session picks it up
// on its next poll or refresh.
func (s *Server) ResolveApproval(c *gin.Context) {
	var req resolveApprovalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.approvalSvc.Resolve(c.Request.Context(), approvaldomain.ResolveRequest{
		ID:         strings.TrimSpace(c.Param("id")),
		ApproverID: userIDFrom(c),
		Decision:   approvaldomain.Status(strings.ToLower(strings.TrimSpace(req.Decision))),
		Notes:      strings.TrimSpace(req.Notes),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}
