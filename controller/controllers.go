// controller/controllers.go
package controller

import (
	"github.com/framelane/aegis/access"
	"github.com/framelane/aegis/audit"
	"github.com/framelane/aegis/cache"
	"github.com/framelane/aegis/resilience"
	"github.com/framelane/aegis/util"
)

type Controllers struct {
	Access *AccessController
	Audit  *AuditController
	Health *HealthController
}

func InitializeControllers(
	issuer access.IAccessIssuer,
	auditService audit.Service,
	orchestrator *resilience.Orchestrator,
	ttlCache *cache.TTLCache,
) *Controllers {
	validation := util.NewValidationUtil()
	return &Controllers{
		Access: NewAccessController(issuer, validation),
		Audit:  NewAuditController(auditService, validation),
		Health: NewHealthController(orchestrator, ttlCache),
	}
}
