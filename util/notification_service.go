// util/notification_service.go

package util

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	logger "github.com/framelane/aegis/logging"
	"github.com/framelane/aegis/model"
)

// NotificationService turns trust-layer events into operator alerts.
// Delivery is log-based; a message queue or pager integration would hang
// off the same methods.
type NotificationService struct{}

func NewNotificationService() *NotificationService {
	return &NotificationService{}
}

// AttachTo subscribes the service to the security and breaker topics.
func (n *NotificationService) AttachTo(bus *EventBus) {
	bus.Subscribe(TopicSecurityViolation, func(ctx context.Context, ev Event) error {
		violation, ok := ev.Payload.(SecurityViolationEvent)
		if !ok {
			return fmt.Errorf("unexpected payload on %s: %T", ev.Topic, ev.Payload)
		}
		return n.NotifySecurityViolation(ctx, violation)
	})
	bus.Subscribe(TopicBreakerStateChanged, func(ctx context.Context, ev Event) error {
		transition, ok := ev.Payload.(BreakerTransitionEvent)
		if !ok {
			return fmt.Errorf("unexpected payload on %s: %T", ev.Topic, ev.Payload)
		}
		return n.NotifyBreakerChange(ctx, transition)
	})
}

func (n *NotificationService) NotifySecurityViolation(ctx context.Context, violation SecurityViolationEvent) error {
	logger.Info("NOTIFICATION: Security violation recorded",
		zap.String("violationType", violation.ViolationType),
		zap.String("severity", violation.Severity),
		zap.String("subjectID", violation.SubjectID),
		zap.String("resourceID", violation.ResourceID))

	if model.Severity(violation.Severity).AtLeast(model.SeverityHigh) {
		return n.NotifyOperators(ctx, fmt.Sprintf("%s violation (%s) involving subject %q on resource %q",
			violation.Severity, violation.ViolationType, violation.SubjectID, violation.ResourceID))
	}
	return nil
}

func (n *NotificationService) NotifyBreakerChange(ctx context.Context, transition BreakerTransitionEvent) error {
	logger.Info("NOTIFICATION: Breaker state changed",
		zap.String("service", transition.Service),
		zap.String("from", transition.From),
		zap.String("to", transition.To))

	if transition.To == "open" {
		return n.NotifyOperators(ctx, fmt.Sprintf("circuit for %s opened", transition.Service))
	}
	return nil
}

// NotifyOperators alerts the on-call channel.
func (n *NotificationService) NotifyOperators(ctx context.Context, message string) error {
	logger.Warn("Notifying operators", zap.String("message", message))
	return nil
}
