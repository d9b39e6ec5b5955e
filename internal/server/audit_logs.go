package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/claimwise/internal/audit/domain"
)

const maxAuditPageSize = 500

type listAuditLogsQuery struct {
	Action       string `form:"action"`
	ResourceType string `form:"resource_type"`
	ResourceID   string `form:"resource_id"`
	Limit        int    `form:"limit"`
}

func (s *Server) ListAuditLogs(c *gin.Context) {
	var query listAuditLogsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if query.Limit < 0 || query.Limit > maxAuditPageSize {
		AbortWithError(c, newValidationError("limit", "invalid_limit", "limit must be between 0 and 500"))
		return
	}

	resp, err := s.auditSvc.List(c.Request.Context(), auditdomain.ListAuditLogRequest{
		Action:       strings.TrimSpace(query.Action),
		ResourceType: strings.TrimSpace(query.ResourceType),
		ResourceID:   strings.TrimSpace(query.ResourceID),
		Limit:        query.Limit,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": nonNil(resp.Entries)})
}

// AuditCompliance reports on the log without writing to it.
func (s *Server) AuditCompliance(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": s.auditSvc.Compliance(c.Request.Context())})
}
