// controller/access_controller.go
package controller

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/framelane/aegis/access"
	aegis_errors "github.com/framelane/aegis/errors"
	"github.com/framelane/aegis/model"
	"github.com/framelane/aegis/util"
)

type AccessController struct {
	issuer     access.IAccessIssuer
	validation *util.ValidationUtil
}

func NewAccessController(issuer access.IAccessIssuer, validation *util.ValidationUtil) *AccessController {
	return &AccessController{
		issuer:     issuer,
		validation: validation,
	}
}

// RegisterRoutes registers the API routes
func (ac *AccessController) RegisterRoutes(r *gin.RouterGroup) {
	grants := r.Group("/access")
	{
		grants.POST("", ac.GenerateAccess)
		grants.POST("/refresh", ac.RefreshAccess)
		grants.POST("/validate", ac.ValidateAccess)
		grants.DELETE("/:resourceId", ac.Cleanup)
	}
}

// GenerateAccess endpoint
func (ac *AccessController) GenerateAccess(c *gin.Context) {
	var req model.AccessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		util.RespondWithError(c, http.StatusBadRequest, "Invalid access request", aegis_errors.ErrInvalidRequest)
		return
	}
	// The session subject overrides any subject the body claims.
	if subject := util.GetSubjectFromContext(c); subject != "" {
		req.SubjectID = subject
	}
	if err := ac.validation.ValidateAccessRequest(req); err != nil {
		util.RespondWithError(c, http.StatusBadRequest, "Invalid access request",
			fmt.Errorf("%w: %v", aegis_errors.ErrInvalidRequest, err))
		return
	}

	grant, err := ac.issuer.GenerateAccess(c, req)
	if err != nil {
		respondAccessError(c, err)
		return
	}

	c.JSON(http.StatusCreated, grant)
}

type refreshRequest struct {
	ResourceID   string `json:"resource_id" binding:"required"`
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// RefreshAccess endpoint
func (ac *AccessController) RefreshAccess(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		util.RespondWithError(c, http.StatusBadRequest, "Invalid refresh request", aegis_errors.ErrInvalidRequest)
		return
	}

	grant, err := ac.issuer.RefreshAccess(c, req.ResourceID, req.RefreshToken, util.GetSubjectFromContext(c))
	if err != nil {
		respondAccessError(c, err)
		return
	}

	c.JSON(http.StatusOK, grant)
}

// ValidateAccess endpoint. An invalid or expired grant is a negative
// verdict, not a server error.
func (ac *AccessController) ValidateAccess(c *gin.Context) {
	var grant model.AccessGrant
	if err := c.ShouldBindJSON(&grant); err != nil {
		util.RespondWithError(c, http.StatusBadRequest, "Invalid grant payload", aegis_errors.ErrInvalidRequest)
		return
	}

	if err := ac.issuer.ValidateAccess(&grant); err != nil {
		reason := "invalid"
		if errors.Is(err, aegis_errors.ErrGrantExpired) {
			reason = "expired"
		}
		c.JSON(http.StatusOK, gin.H{"valid": false, "reason": reason})
		return
	}

	c.JSON(http.StatusOK, gin.H{"valid": true})
}

// Cleanup endpoint
func (ac *AccessController) Cleanup(c *gin.Context) {
	resourceID := c.Param("resourceId")
	if resourceID == "" {
		util.RespondWithError(c, http.StatusBadRequest, "Missing resource id", aegis_errors.ErrInvalidRequest)
		return
	}

	ac.issuer.Cleanup(resourceID)
	c.Status(http.StatusNoContent)
}

func respondAccessError(c *gin.Context, err error) {
	var limited *aegis_errors.RateLimitError
	switch {
	case errors.As(err, &limited):
		seconds := int(limited.RetryAfter.Seconds())
		c.Header("Retry-After", strconv.Itoa(seconds))
		util.RespondWithError(c, http.StatusTooManyRequests,
			fmt.Sprintf("too many access requests, retry in %ds", seconds), err)
	case errors.Is(err, aegis_errors.ErrInvalidRequest):
		util.RespondWithError(c, http.StatusBadRequest, "Invalid access request", err)
	case errors.Is(err, aegis_errors.ErrResourceNotFound):
		util.RespondWithError(c, http.StatusNotFound, "Resource not found", err)
	case errors.Is(err, aegis_errors.ErrSubscriptionInactive),
		errors.Is(err, aegis_errors.ErrSubscriptionUnverified):
		util.RespondWithError(c, http.StatusForbidden, "Subscription could not be verified", err)
	case errors.Is(err, aegis_errors.ErrTokenExpired),
		errors.Is(err, aegis_errors.ErrTokenTampered):
		util.RespondWithError(c, http.StatusUnauthorized, "Refresh token rejected", err)
	case errors.Is(err, aegis_errors.ErrServiceUnavailable):
		util.RespondWithError(c, http.StatusServiceUnavailable, "Upstream service unavailable", err)
	default:
		util.RespondWithError(c, http.StatusInternalServerError, "Failed to issue access", err)
	}
}
