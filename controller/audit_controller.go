// controller/audit_controller.go
package controller

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/framelane/aegis/audit"
	aegis_errors "github.com/framelane/aegis/errors"
	"github.com/framelane/aegis/model"
	"github.com/framelane/aegis/util"
	helper_util "github.com/framelane/aegis/util/helper"
)

type AuditController struct {
	auditService audit.Service
	validation   *util.ValidationUtil
}

func NewAuditController(auditService audit.Service, validation *util.ValidationUtil) *AuditController {
	return &AuditController{
		auditService: auditService,
		validation:   validation,
	}
}

// RegisterRoutes registers the API routes
func (ac *AuditController) RegisterRoutes(r *gin.RouterGroup) {
	entries := r.Group("/audit")
	{
		entries.GET("/entries", ac.QueryEntries)
		entries.GET("/entries/:id/verify", ac.VerifyEntry)
		entries.POST("/integrity-check", ac.IntegrityCheck)
		entries.GET("/statistics", ac.Statistics)
	}
}

// QueryEntries endpoint
func (ac *AuditController) QueryEntries(c *gin.Context) {
	limit, offset, err := helper_util.GetPaginationParams(c)
	if err != nil {
		util.RespondWithError(c, http.StatusBadRequest, "Invalid pagination parameters", fmt.Errorf("%w: %v", aegis_errors.ErrInvalidPagination, err))
		return
	}
	startTime, err := helper_util.ParseTime(c.Query("start_time"))
	if err != nil {
		util.RespondWithError(c, http.StatusBadRequest, "Invalid start_time", aegis_errors.ErrInvalidQueryData)
		return
	}
	endTime, err := helper_util.ParseTime(c.Query("end_time"))
	if err != nil {
		util.RespondWithError(c, http.StatusBadRequest, "Invalid end_time", aegis_errors.ErrInvalidQueryData)
		return
	}

	filter := audit.QueryFilter{
		SubjectID:  c.Query("subject_id"),
		Kind:       audit.Kind(c.Query("kind")),
		StartTime:  startTime,
		EndTime:    endTime,
		ResourceID: c.Query("resource_id"),
		Severity:   model.Severity(c.Query("severity")),
		Offset:     offset,
		Limit:      limit,
	}
	if err := ac.validation.ValidateAuditFilter(filter); err != nil {
		util.RespondWithError(c, http.StatusBadRequest, "Invalid audit query",
			fmt.Errorf("%w: %v", aegis_errors.ErrInvalidQueryData, err))
		return
	}

	entries, err := ac.auditService.QueryEntries(c, filter)
	if err != nil {
		if errors.Is(err, aegis_errors.ErrInvalidQueryData) {
			util.RespondWithError(c, http.StatusBadRequest, "Invalid audit query", err)
		} else {
			util.RespondWithError(c, http.StatusInternalServerError, "Failed to query audit entries", err)
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
}

// VerifyEntry endpoint
func (ac *AuditController) VerifyEntry(c *gin.Context) {
	entryID := c.Param("id")

	result, err := ac.auditService.VerifyIntegrity(c, entryID)
	if err != nil {
		if errors.Is(err, aegis_errors.ErrEntryNotFound) {
			util.RespondWithError(c, http.StatusNotFound, "Audit entry not found", err)
		} else {
			util.RespondWithError(c, http.StatusInternalServerError, "Failed to verify audit entry", err)
		}
		return
	}

	c.JSON(http.StatusOK, result)
}

// IntegrityCheck endpoint
func (ac *AuditController) IntegrityCheck(c *gin.Context) {
	report, err := ac.auditService.PerformBatchIntegrityCheck(c)
	if err != nil {
		util.RespondWithError(c, http.StatusInternalServerError, "Integrity check failed", err)
		return
	}

	c.JSON(http.StatusOK, report)
}

// Statistics endpoint
func (ac *AuditController) Statistics(c *gin.Context) {
	stats, err := ac.auditService.GetAuditStatistics(c)
	if err != nil {
		util.RespondWithError(c, http.StatusInternalServerError, "Failed to compute audit statistics", err)
		return
	}

	c.JSON(http.StatusOK, stats)
}
