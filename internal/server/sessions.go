package server

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/proposalpricing/internal/pricing/domain"
	"github.com/smallbiznis/proposalpricing/internal/pricing/engine"
	"github.com/smallbiznis/proposalpricing/internal/pricing/session"
	"go.uber.org/zap"
)

func (s *Server) OpenSession(c *gin.Context) {
	var req session.OpenRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.ProposalID = strings.TrimSpace(req.ProposalID)
	req.CustomerName = strings.TrimSpace(req.CustomerName)

	sess, err := s.sessions.Open(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	ready := true
	timer := time.NewTimer(s.bootstrapWait)
	defer timer.Stop()
	select {
	case <-sess.Ready():
	case <-timer.C:
		ready = false
		s.log.Warn("session bootstrap still running", zap.String("session_id", sess.ID))
	case <-c.Request.Context().Done():
		ready = false
	}

	c.JSON(http.StatusCreated, gin.H{"data": gin.H{
		"sessionId": sess.ID,
		"ready":     ready,
		"state":     sess.Engine.Snapshot(),
	}})
}

func (s *Server) GetSession(c *gin.Context) {
	eng, ok := s.engineFor(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": eng.Snapshot()})
}

func (s *Server) CloseSession(c *gin.Context) {
	if err := s.sessions.Close(c.Request.Context(), strings.TrimSpace(c.Param("id"))); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) ToggleDiscount(c *gin.Context) {
	var req toggleDiscountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	s.runOperation(c, func(eng *engine.Engine) (domain.Outcome, error) {
		return eng.ToggleDiscount(c.Request.Context(), strings.TrimSpace(c.Param("discountId")), req.Enabled)
	})
}

func (s *Server) EditDiscountAmount(c *gin.Context) {
	var req amountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	s.runOperation(c, func(eng *engine.Engine) (domain.Outcome, error) {
		return eng.EditDiscountAmount(c.Request.Context(), strings.TrimSpace(c.Param("discountId")), req.Amount.Float64())
	})
}

func (s *Server) ApplyManualDiscount(c *gin.Context) {
	var req amountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	s.runOperation(c, func(eng *engine.Engine) (domain.Outcome, error) {
		return eng.ApplyManualDiscount(c.Request.Context(), req.Amount.Float64())
	})
}

func (s *Server) ResetManualDiscount(c *gin.Context) {
	s.runOperation(c, func(eng *engine.Engine) (domain.Outcome, error) {
		return eng.ResetManualDiscount(c.Request.Context())
	})
}

func (s *Server) SetServices(c *gin.Context) {
	var req setServicesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	lines := make([]domain.ServiceLine, 0, len(req.Services))
	for _, svc := range req.Services {
		line := domain.ServiceLine{
			ServiceID:  svc.ServiceID,
			Name:       strings.TrimSpace(svc.Name),
			Components: make([]domain.ComponentLine, 0, len(svc.Components)),
		}
		for _, comp := range svc.Components {
			line.Components = append(line.Components, domain.ComponentLine{
				Name:      strings.TrimSpace(comp.Name),
				Quantity:  comp.Quantity.Float64(),
				UnitPrice: comp.UnitPrice.Float64(),
			})
		}
		lines = append(lines, line)
	}

	s.runOperation(c, func(eng *engine.Engine) (domain.Outcome, error) {
		return eng.SetServices(c.Request.Context(), lines)
	})
}

func (s *Server) AddCustomAdder(c *gin.Context) {
	var req addCustomAdderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if strings.TrimSpace(req.Description) == "" {
		AbortWithError(c, newValidationError("description", "required", "description is required"))
		return
	}
	s.runOperation(c, func(eng *engine.Engine) (domain.Outcome, error) {
		return eng.AddCustomAdder(c.Request.Context(), domain.CustomAdder{
			ID:          strings.TrimSpace(req.ID),
			Category:    req.Category,
			Description: strings.TrimSpace(req.Description),
			Cost:        req.Cost.Float64(),
		})
	})
}

func (s *Server) RemoveCustomAdder(c *gin.Context) {
	s.runOperation(c, func(eng *engine.Engine) (domain.Outcome, error) {
		return eng.RemoveCustomAdder(c.Request.Context(), strings.TrimSpace(c.Param("adderId")))
	})
}

func (s *Server) SelectFinancingPlan(c *gin.Context) {
	var req selectFinancingPlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	planID := strings.TrimSpace(req.PlanID)
	if planID == "" {
		AbortWithError(c, newValidationError("planId", "required", "planId is required"))
		return
	}
	s.runOperation(c, func(eng *engine.Engine) (domain.Outcome, error) {
		return eng.SelectFinancingPlan(c.Request.Context(), planID)
	})
}

func (s *Server) ClearFinancingPlan(c *gin.Context) {
	s.runOperation(c, func(eng *engine.Engine) (domain.Outcome, error) {
		return eng.ClearFinancingPlan(c.Request.Context())
	})
}

func (s *Server) SetFinancingTerms(c *gin.Context) {
	var req financingTermsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	s.runOperation(c, func(eng *engine.Engine) (domain.Outcome, error) {
		return eng.SetFinancingTerms(c.Request.Context(), req.TermMonths.Int(), req.InterestRate.Float64())
	})
}

func (s *Server) SetTotalOverride(c *gin.Context) {
	var req totalOverrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	s.runOperation(c, func(eng *engine.Engine) (domain.Outcome, error) {
		return eng.SetTotalOverride(c.Request.Context(), req.Total.Float64())
	})
}

func (s *Server) ClearTotalOverride(c *gin.Context) {
	s.runOperation(c, func(eng *engine.Engine) (domain.Outcome, error) {
		return eng.ClearTotalOverride(c.Request.Context())
	})
}

func (s *Server) SubmitApproval(c *gin.Context) {
	var req submitApprovalRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		AbortWithError(c, invalidRequestError())
		return
	}
	s.runOperation(c, func(eng *engine.Engine) (domain.Outcome, error) {
		return eng.SubmitApproval(c.Request.Context(), strings.TrimSpace(req.Notes))
	})
}

func (s *Server) CancelApproval(c *gin.Context) {
	s.runOperation(c, func(eng *engine.Engine) (domain.Outcome, error) {
		return eng.CancelPendingApproval(c.Request.Context())
	})
}

func (s *Server) RefreshApproval(c *gin.Context) {
	s.runOperation(c, func(eng *engine.Engine) (domain.Outcome, error) {
		return eng.RefreshApproval(c.Request.Context())
	})
}

func (s *Server) Finalize(c *gin.Context) {
	s.runOperation(c, func(eng *engine.Engine) (domain.Outcome, error) {
		return eng.Finalize(c.Request.Context())
	})
}

func (s *Server) engineFor(c *gin.Context) (*engine.Engine, bool) {
	sess, err := s.sessions.Get(strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return nil, false
	}
	return sess.Engine, true
}

func (s *Server) runOperation(c *gin.Context, op func(eng *engine.Engine) (domain.Outcome, error)) {
	eng, ok := s.engineFor(c)
	if !ok {
		return
	}

	outcome, err := op(eng)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	status := http.StatusOK
	if outcome.Kind == domain.OutcomeApprovalRequired {
		status = http.StatusAccepted
	}
	c.JSON(status, gin.H{"data": outcome})
}
