// util/validation_util.go

package util

import (
	"fmt"

	"github.com/framelane/aegis/audit"
	"github.com/framelane/aegis/model"
)

type ValidationUtil struct{}

func NewValidationUtil() *ValidationUtil {
	return &ValidationUtil{}
}

func (v *ValidationUtil) ValidateAccessRequest(req model.AccessRequest) error {
	if req.ResourceID == "" {
		return fmt.Errorf("resource id cannot be empty")
	}
	if req.DurationHint < 0 {
		return fmt.Errorf("duration hint cannot be negative")
	}
	return nil
}

func (v *ValidationUtil) ValidateAuditFilter(filter audit.QueryFilter) error {
	if filter.Kind != "" && !filter.Kind.Valid() {
		return fmt.Errorf("unknown audit kind: %s", filter.Kind)
	}
	if filter.Severity != "" && !filter.Severity.Valid() {
		return fmt.Errorf("unknown severity: %s", filter.Severity)
	}
	if filter.Limit < 0 {
		return fmt.Errorf("limit cannot be negative")
	}
	if filter.Offset < 0 {
		return fmt.Errorf("offset cannot be negative")
	}
	if !filter.StartTime.IsZero() && !filter.EndTime.IsZero() && filter.EndTime.Before(filter.StartTime) {
		return fmt.Errorf("end time precedes start time")
	}
	return nil
}
