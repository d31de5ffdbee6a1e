package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/balancebook/internal/audit/domain"
	"github.com/smallbiznis/balancebook/pkg/db/pagination"
	"go.uber.org/zap"
)

func (s *Server) GetDashboard(c *gin.Context) {
	resp, err := s.querySvc.Dashboard(c.Request.Context(), viewerFromContext(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) CustomersWithPending(c *gin.Context) {
	resp, err := s.querySvc.CustomersWithPendingBalance(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetSettings(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": s.settings.Get()})
}

func (s *Server) RebuildAll(c *gin.Context) {
	report, err := s.ledgerSvc.RebuildAll(c.Request.Context())
	if err != nil {
		s.log.Warn("rebuild finished with errors", zap.Error(err))
		if report.Rebuilt == 0 && report.Corrected == 0 {
			AbortWithError(c, err)
			return
		}
	}

	s.auditLog(c, "ledger.rebuild_all", "ledger", "", map[string]any{
		"rebuilt":   report.Rebuilt,
		"corrected": report.Corrected,
		"failed":    report.Failed,
	})

	c.JSON(http.StatusOK, gin.H{"data": report})
}

func (s *Server) VerifyAll(c *gin.Context) {
	report, err := s.ledgerSvc.VerifyAll(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": report})
}

func (s *Server) ListAuditLogs(c *gin.Context) {
	var query struct {
		pagination.Pagination
		Action     string `form:"action"`
		TargetType string `form:"target_type"`
		TargetID   string `form:"target_id"`
		ActorType  string `form:"actor_type"`
		From       string `form:"from"`
		To         string `form:"to"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	loc := s.settings.Get().Location()
	from, err := parseOptionalTime(query.From, false, loc)
	if err != nil {
		AbortWithError(c, newValidationError("from", "invalid_from", "invalid from"))
		return
	}
	to, err := parseOptionalTime(query.To, true, loc)
	if err != nil {
		AbortWithError(c, newValidationError("to", "invalid_to", "invalid to"))
		return
	}

	resp, err := s.auditSvc.List(c.Request.Context(), auditdomain.ListAuditLogRequest{
		Pagination: query.Pagination,
		Action:     query.Action,
		TargetType: query.TargetType,
		TargetID:   query.TargetID,
		ActorType:  query.ActorType,
		StartAt:    from,
		EndAt:      to,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// auditLog records a completed mutation. Failures are logged by the audit
// service and never fail the request.
func (s *Server) auditLog(c *gin.Context, action, targetType, targetID string, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	var target *string
	if targetID != "" {
		target = &targetID
	}
	_ = s.auditSvc.AuditLog(c.Request.Context(), "", nil, action, targetType, target, metadata)
}
