// resilience/orchestrator.go
package resilience

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/framelane/aegis/audit"
	aegis_errors "github.com/framelane/aegis/errors"
	logger "github.com/framelane/aegis/logging"
	"github.com/framelane/aegis/model"
	"github.com/framelane/aegis/util"
)

// Health status of a service or the system as a whole.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

const (
	errorRetention = 100
	healthWindow   = 60 * time.Second
)

// IAuditRecorder is the slice of the audit log the orchestrator needs to
// escalate high and critical failures.
type IAuditRecorder interface {
	RecordViolation(ctx context.Context, subjectID string, payload audit.ViolationPayload) (string, error)
}

// Operation is a wrapped cross-component call.
type Operation func(ctx context.Context) (interface{}, error)

// Orchestrator wraps cross-component calls with per-service circuit
// breaking, error classification, bounded error retention, and health
// aggregation. Breakers and error buffers live for the process lifetime.
type Orchestrator struct {
	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
	rings    map[string]*errorRing

	auditor          IAuditRecorder
	events           *util.EventBus
	failureThreshold int
	recoveryTimeout  time.Duration
	now              func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

func WithFailureThreshold(threshold int) Option {
	return func(o *Orchestrator) {
		if threshold > 0 {
			o.failureThreshold = threshold
		}
	}
}

func WithRecoveryTimeout(timeout time.Duration) Option {
	return func(o *Orchestrator) {
		if timeout > 0 {
			o.recoveryTimeout = timeout
		}
	}
}

// WithClock overrides the clock used by breakers and health windows.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// WithEventBus announces breaker state changes on the bus.
func WithEventBus(bus *util.EventBus) Option {
	return func(o *Orchestrator) {
		o.events = bus
	}
}

// New creates an Orchestrator. The auditor may be nil, in which case
// escalation is skipped.
func New(auditor IAuditRecorder, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		breakers:         make(map[string]*CircuitBreaker),
		rings:            make(map[string]*errorRing),
		auditor:          auditor,
		failureThreshold: DefaultFailureThreshold,
		recoveryTimeout:  DefaultRecoveryTimeout,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// CallOption annotates a single Execute call for error retention.
type CallOption func(*callInfo)

type callInfo struct {
	operation string
	subjectID string
}

func WithOperation(name string) CallOption {
	return func(c *callInfo) {
		c.operation = name
	}
}

func WithSubject(subjectID string) CallOption {
	return func(c *callInfo) {
		c.subjectID = subjectID
	}
}

// Execute runs op guarded by the named service's breaker. While the
// breaker is open, op is not invoked and callers receive
// ErrServiceUnavailable. Failures are classified, retained, and escalated
// before the error is returned unchanged.
func (o *Orchestrator) Execute(ctx context.Context, serviceName string, op Operation, opts ...CallOption) (interface{}, error) {
	var info callInfo
	for _, opt := range opts {
		opt(&info)
	}

	breaker := o.breaker(serviceName)
	prior := breaker.State()
	if !breaker.CanExecute() {
		err := fmt.Errorf("%s: %w", serviceName, aegis_errors.ErrServiceUnavailable)
		o.retain(ctx, serviceName, info, err, Classification{
			Kind:        KindServiceUnavailable,
			Severity:    model.SeverityLow,
			Recoverable: true,
			Retryable:   true,
		})
		logger.Warn("Circuit open, call rejected",
			zap.String("service", serviceName),
			zap.String("operation", info.operation))
		return nil, err
	}

	result, err := op(ctx)
	if err == nil {
		breaker.RecordSuccess()
		o.announceTransition(ctx, serviceName, prior, breaker.State())
		return result, nil
	}

	breaker.RecordFailure()
	o.announceTransition(ctx, serviceName, prior, breaker.State())
	o.retain(ctx, serviceName, info, err, Classify(err))
	return nil, err
}

// announceTransition logs and publishes a breaker state change observed
// across one Execute call.
func (o *Orchestrator) announceTransition(ctx context.Context, serviceName string, from, to BreakerState) {
	if from == to {
		return
	}
	logger.Warn("Breaker state changed",
		zap.String("service", serviceName),
		zap.String("from", string(from)),
		zap.String("to", string(to)))
	if o.events == nil {
		return
	}
	o.events.Publish(ctx, util.TopicBreakerStateChanged, util.BreakerTransitionEvent{
		Service: serviceName,
		From:    string(from),
		To:      string(to),
	})
}

// retain appends the classified failure to the component buffer and
// escalates high and critical classifications to the audit log. Escalation
// happens before control returns to the caller; its own failure is logged.
func (o *Orchestrator) retain(ctx context.Context, serviceName string, info callInfo, err error, cls Classification) {
	serviceErr := ServiceError{
		Kind:        cls.Kind,
		Message:     err.Error(),
		Severity:    cls.Severity,
		Recoverable: cls.Recoverable,
		Retryable:   cls.Retryable,
		Component:   serviceName,
		Operation:   info.operation,
		SubjectID:   info.subjectID,
		Timestamp:   o.now(),
	}

	o.mu.Lock()
	ring, ok := o.rings[serviceName]
	if !ok {
		ring = newErrorRing(errorRetention)
		o.rings[serviceName] = ring
	}
	ring.append(serviceErr)
	o.mu.Unlock()

	logger.Error("Service call failed",
		zap.String("service", serviceName),
		zap.String("operation", info.operation),
		zap.String("kind", string(cls.Kind)),
		zap.String("severity", string(cls.Severity)),
		zap.Error(err))

	if o.auditor == nil || !cls.Severity.AtLeast(model.SeverityHigh) {
		return
	}
	if _, auditErr := o.auditor.RecordViolation(ctx, info.subjectID, audit.ViolationPayload{
		ViolationType:         audit.ViolationServiceFailure,
		Severity:              cls.Severity,
		Description:           fmt.Sprintf("%s failure in %s: %s", cls.Kind, serviceName, err.Error()),
		RequiresInvestigation: true,
	}); auditErr != nil {
		logger.Error("Failed to escalate service failure",
			zap.Error(auditErr),
			zap.String("service", serviceName))
	}
}

func (o *Orchestrator) breaker(serviceName string) *CircuitBreaker {
	o.mu.Lock()
	defer o.mu.Unlock()
	breaker, ok := o.breakers[serviceName]
	if !ok {
		breaker = newCircuitBreaker(o.failureThreshold, o.recoveryTimeout, o.now)
		o.breakers[serviceName] = breaker
	}
	return breaker
}

// GetServiceErrors returns retained errors for the component, oldest first.
func (o *Orchestrator) GetServiceErrors(component string) []ServiceError {
	o.mu.Lock()
	defer o.mu.Unlock()
	ring, ok := o.rings[component]
	if !ok {
		return nil
	}
	return ring.snapshot()
}

// ClearServiceErrors drops retained errors for the component.
func (o *Orchestrator) ClearServiceErrors(component string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.rings, component)
}

// BreakerSnapshots returns the current breaker state per service.
func (o *Orchestrator) BreakerSnapshots() map[string]BreakerSnapshot {
	o.mu.Lock()
	breakers := make(map[string]*CircuitBreaker, len(o.breakers))
	for name, breaker := range o.breakers {
		breakers[name] = breaker
	}
	o.mu.Unlock()

	out := make(map[string]BreakerSnapshot, len(breakers))
	for name, breaker := range breakers {
		out[name] = breaker.Snapshot()
	}
	return out
}

// ServiceHealth is the per-service slice of a health report.
type ServiceHealth struct {
	Status       string          `json:"status"`
	RecentErrors int             `json:"recent_errors"`
	Breaker      BreakerSnapshot `json:"breaker"`
}

// SystemHealth is the aggregated health report.
type SystemHealth struct {
	Status    string                   `json:"status"`
	Services  map[string]ServiceHealth `json:"services"`
	CheckedAt time.Time                `json:"checked_at"`
}

// GetSystemHealth derives per-service status from the error count inside
// the health window and the breaker state, then aggregates: unhealthy when
// more than half the services are unhealthy, degraded when any service is
// not healthy, healthy otherwise.
func (o *Orchestrator) GetSystemHealth() SystemHealth {
	now := o.now()
	cutoff := now.Add(-healthWindow)

	o.mu.Lock()
	names := make(map[string]struct{}, len(o.breakers))
	for name := range o.breakers {
		names[name] = struct{}{}
	}
	for name := range o.rings {
		names[name] = struct{}{}
	}
	recent := make(map[string]int, len(names))
	for name := range names {
		if ring, ok := o.rings[name]; ok {
			recent[name] = ring.countSince(cutoff)
		}
	}
	breakers := make(map[string]*CircuitBreaker, len(o.breakers))
	for name, breaker := range o.breakers {
		breakers[name] = breaker
	}
	o.mu.Unlock()

	health := SystemHealth{
		Status:    StatusHealthy,
		Services:  make(map[string]ServiceHealth, len(names)),
		CheckedAt: now,
	}

	unhealthy := 0
	notHealthy := 0
	for name := range names {
		var snapshot BreakerSnapshot
		if breaker, ok := breakers[name]; ok {
			snapshot = breaker.Snapshot()
		} else {
			snapshot = BreakerSnapshot{State: StateClosed}
		}

		status := StatusHealthy
		switch {
		case snapshot.State == StateOpen || recent[name] >= o.failureThreshold:
			status = StatusUnhealthy
		case snapshot.State == StateHalfOpen || recent[name] > 0:
			status = StatusDegraded
		}
		if status == StatusUnhealthy {
			unhealthy++
		}
		if status != StatusHealthy {
			notHealthy++
		}
		health.Services[name] = ServiceHealth{
			Status:       status,
			RecentErrors: recent[name],
			Breaker:      snapshot,
		}
	}

	switch {
	case len(names) > 0 && unhealthy*2 > len(names):
		health.Status = StatusUnhealthy
	case notHealthy > 0:
		health.Status = StatusDegraded
	}
	return health
}
