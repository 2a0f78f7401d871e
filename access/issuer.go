// access/issuer.go
package access

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/framelane/aegis/audit"
	"github.com/framelane/aegis/cache"
	aegis_errors "github.com/framelane/aegis/errors"
	logger "github.com/framelane/aegis/logging"
	"github.com/framelane/aegis/model"
	"github.com/framelane/aegis/resilience"
	"github.com/framelane/aegis/service"
	"github.com/framelane/aegis/util"
)

const (
	componentName = "SecureAccessIssuer"

	serviceSubscription = "subscription-service"
	serviceMediaSigner  = "media-signer"

	defaultExpiryMinutes   = 120
	minPaddingMinutes      = 30
	freeCeilingMinutes     = 120
	premiumFloorMinutes    = 240
	enterpriseFloorMinutes = 480

	defaultRefreshLead = 5 * time.Minute

	anonymousSubject = "anonymous"
)

// refreshBackoffs are the delays between bounded refresh retries.
var refreshBackoffs = [...]time.Duration{2 * time.Second, 5 * time.Second}

// IAccessIssuer issues, refreshes, and validates time-bounded access
// grants for protected media resources.
type IAccessIssuer interface {
	GenerateAccess(ctx context.Context, req model.AccessRequest) (*model.AccessGrant, error)
	RefreshAccess(ctx context.Context, resourceID, refreshToken, subjectID string) (*model.AccessGrant, error)
	HandleRefreshFailure(ctx context.Context, resourceID, subjectID string, retryCount int) (*model.AccessGrant, error)
	ValidateAccess(grant *model.AccessGrant) error
	Cleanup(resourceID string)
}

// Issuer is the secure access issuer. Concurrent generate calls for the
// same (resource, subject) pair share one in-flight operation; per-subject
// rate limits, tier-derived expiry clamps, and audit trails are applied on
// the single execution.
type Issuer struct {
	signer  service.ISigner
	subs    service.ISubscriptionResolver
	orch    *resilience.Orchestrator
	auditor audit.Service
	cache   *cache.TTLCache
	tokens  *TokenBroker
	limiter *RateLimiter
	events  *util.EventBus

	group      singleflight.Group
	inflightMu sync.Mutex
	inflight   map[string]map[string]struct{}

	timersMu sync.Mutex
	timers   map[string]*time.Timer

	rateThreshold int
	rateWindow    time.Duration
	refreshLead   time.Duration
	now           func() time.Time
	sleep         func(ctx context.Context, d time.Duration) error
}

type IssuerOption func(*Issuer)

// WithEventBus publishes grant lifecycle events on the bus.
func WithEventBus(bus *util.EventBus) IssuerOption {
	return func(i *Issuer) {
		i.events = bus
	}
}

func WithRateLimit(threshold int, window time.Duration) IssuerOption {
	return func(i *Issuer) {
		if threshold > 0 {
			i.rateThreshold = threshold
		}
		if window > 0 {
			i.rateWindow = window
		}
	}
}

func WithRefreshLead(lead time.Duration) IssuerOption {
	return func(i *Issuer) {
		if lead > 0 {
			i.refreshLead = lead
		}
	}
}

// WithIssuerClock overrides the clock used for expiry and rate windows.
func WithIssuerClock(now func() time.Time) IssuerOption {
	return func(i *Issuer) {
		if now != nil {
			i.now = now
		}
	}
}

// WithSleeper overrides the retry backoff sleeper.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) IssuerOption {
	return func(i *Issuer) {
		if sleep != nil {
			i.sleep = sleep
		}
	}
}

func NewIssuer(
	signer service.ISigner,
	subscriptions service.ISubscriptionResolver,
	orchestrator *resilience.Orchestrator,
	auditor audit.Service,
	ttlCache *cache.TTLCache,
	tokenSecret []byte,
	opts ...IssuerOption,
) (*Issuer, error) {
	i := &Issuer{
		signer:        signer,
		subs:          subscriptions,
		orch:          orchestrator,
		auditor:       auditor,
		cache:         ttlCache,
		inflight:      make(map[string]map[string]struct{}),
		timers:        make(map[string]*time.Timer),
		rateThreshold: DefaultRateLimitThreshold,
		rateWindow:    DefaultRateLimitWindow,
		refreshLead:   defaultRefreshLead,
		now:           time.Now,
		sleep:         sleepContext,
	}
	for _, opt := range opts {
		opt(i)
	}

	tokens, err := NewTokenBroker(tokenSecret, i.now)
	if err != nil {
		return nil, err
	}
	i.tokens = tokens
	i.limiter = NewRateLimiter(i.rateThreshold, i.rateWindow, i.now)
	return i, nil
}

// GenerateAccess issues a grant for the resource. Concurrent callers with
// the same (resource, subject) key attach to one in-flight issuance and
// observe its result; the in-flight entry is dropped once it settles.
func (i *Issuer) GenerateAccess(ctx context.Context, req model.AccessRequest) (*model.AccessGrant, error) {
	if req.ResourceID == "" {
		return nil, fmt.Errorf("resource id is required: %w", aegis_errors.ErrInvalidRequest)
	}

	key := dedupKey(req.ResourceID, req.SubjectID)
	i.trackInflight(req.ResourceID, key)
	defer i.untrackInflight(req.ResourceID, key)

	result, err, _ := i.group.Do(key, func() (interface{}, error) {
		return i.issue(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return result.(*model.AccessGrant), nil
}

func (i *Issuer) issue(ctx context.Context, req model.AccessRequest) (*model.AccessGrant, error) {
	subject := subjectOrAnonymous(req.SubjectID)

	if allowed, retryAfter := i.limiter.Allow(subject); !allowed {
		i.recordViolation(ctx, req.SubjectID, audit.ViolationPayload{
			ViolationType: audit.ViolationExcessiveRequests,
			Severity:      model.SeverityMedium,
			Description:   fmt.Sprintf("subject %s exceeded the access request ceiling", subject),
			ResourceID:    req.ResourceID,
		})
		err := &aegis_errors.RateLimitError{SubjectID: subject, RetryAfter: retryAfter}
		i.recordOutcome(ctx, req, err)
		return nil, err
	}

	tier, verified, err := i.verifySubscription(ctx, req)
	if err != nil {
		i.recordOutcome(ctx, req, err)
		return nil, err
	}

	signed, err := i.orch.Execute(ctx, serviceMediaSigner, func(ctx context.Context) (interface{}, error) {
		return i.signer.Sign(ctx, req.ResourceID, req.LocationHint)
	}, resilience.WithOperation("Sign"), resilience.WithSubject(req.SubjectID))
	if err != nil {
		i.recordOutcome(ctx, req, err)
		return nil, err
	}

	token, err := i.tokens.Issue(req.ResourceID, req.SubjectID)
	if err != nil {
		i.recordOutcome(ctx, req, err)
		return nil, err
	}

	now := i.now()
	grant := &model.AccessGrant{
		ResourceID:    req.ResourceID,
		SubjectID:     req.SubjectID,
		SignedLocator: signed.(string),
		IssuedAt:      now,
		ExpiresAt:     now.Add(time.Duration(expiryMinutes(req.DurationHint, tier)) * time.Minute),
		TierRequired:  tier,
		TierVerified:  verified,
		RefreshToken:  token,
	}

	i.cache.Set(ctx, grantCacheKey(req.ResourceID, req.SubjectID), grant, 0, cache.KindAccess)
	i.scheduleRefresh(grant)
	i.recordOutcome(ctx, req, nil)
	if i.events != nil {
		i.events.Publish(ctx, util.TopicAccessGranted, grant)
	}

	logger.Info("Access granted",
		zap.String("resourceID", req.ResourceID),
		zap.String("subject", subject),
		zap.String("tier", string(tier)),
		zap.Time("expiresAt", grant.ExpiresAt))
	return grant, nil
}

// verifySubscription resolves the subject's tier cache-first through the
// orchestrator. On resolver outage a stale cached fact is still admitted.
// Anonymous subjects are free tier, verified.
func (i *Issuer) verifySubscription(ctx context.Context, req model.AccessRequest) (model.Tier, bool, error) {
	if req.SubjectID == "" {
		return model.TierFree, true, nil
	}

	cacheKey := subscriptionCacheKey(req.SubjectID)
	if cached, ok := i.cache.Get(ctx, cacheKey); ok {
		if sub, ok := cached.(*model.Subscription); ok {
			return i.admitSubscription(ctx, req, sub, true)
		}
		i.cache.Invalidate(ctx, cacheKey)
	}

	resolved, err := i.orch.Execute(ctx, serviceSubscription, func(ctx context.Context) (interface{}, error) {
		return i.subs.Resolve(ctx, req.SubjectID)
	}, resilience.WithOperation("Resolve"), resilience.WithSubject(req.SubjectID))
	if err != nil {
		if stale, ok := i.cache.GetStale(ctx, cacheKey); ok {
			if sub, ok := stale.Value.(*model.Subscription); ok {
				logger.Warn("Serving stale subscription fact",
					zap.String("subjectID", req.SubjectID),
					zap.Error(err))
				// Stale facts admit the subject but the grant carries
				// tierVerified=false until a fresh resolve lands.
				return i.admitSubscription(ctx, req, sub, false)
			}
		}
		i.recordViolation(ctx, req.SubjectID, audit.ViolationPayload{
			ViolationType: audit.ViolationInvalidSubscription,
			Severity:      model.SeverityHigh,
			Description:   fmt.Sprintf("subscription for %s could not be resolved", req.SubjectID),
			ResourceID:    req.ResourceID,
		})
		return "", false, fmt.Errorf("%w: %v", aegis_errors.ErrSubscriptionUnverified, err)
	}

	sub := resolved.(*model.Subscription)
	i.cache.Set(ctx, cacheKey, sub, 0, cache.KindSubscription)
	return i.admitSubscription(ctx, req, sub, true)
}

func (i *Issuer) admitSubscription(ctx context.Context, req model.AccessRequest, sub *model.Subscription, verified bool) (model.Tier, bool, error) {
	if !sub.IsActive {
		i.recordViolation(ctx, req.SubjectID, audit.ViolationPayload{
			ViolationType: audit.ViolationInvalidSubscription,
			Severity:      model.SeverityHigh,
			Description:   fmt.Sprintf("subscription for %s is inactive", req.SubjectID),
			ResourceID:    req.ResourceID,
		})
		return "", false, fmt.Errorf("subject %s: %w", req.SubjectID, aegis_errors.ErrSubscriptionInactive)
	}
	return sub.Tier, verified, nil
}

// expiryMinutes derives the grant lifetime from the caller's viewing
// duration hint and the verified tier. Hints are padded by a fifth, never
// less than half an hour; tiers then clamp to their floors and ceilings.
func expiryMinutes(durationHintSeconds int, tier model.Tier) int {
	minutes := defaultExpiryMinutes
	if durationHintSeconds > 0 {
		base := (durationHintSeconds + 59) / 60
		padding := (base + 4) / 5
		if padding < minPaddingMinutes {
			padding = minPaddingMinutes
		}
		minutes = base + padding
	}

	switch tier {
	case model.TierPremium:
		if minutes < premiumFloorMinutes {
			minutes = premiumFloorMinutes
		}
	case model.TierEnterprise:
		if minutes < enterpriseFloorMinutes {
			minutes = enterpriseFloorMinutes
		}
	default:
		if minutes > freeCeilingMinutes {
			minutes = freeCeilingMinutes
		}
	}
	return minutes
}

// RefreshAccess re-issues a grant after verifying the refresh token binds
// to the request. A refresh is a full re-derivation, never a patch of the
// old grant.
func (i *Issuer) RefreshAccess(ctx context.Context, resourceID, refreshToken, subjectID string) (*model.AccessGrant, error) {
	if resourceID == "" || refreshToken == "" {
		return nil, aegis_errors.ErrInvalidRequest
	}

	if err := i.tokens.Verify(refreshToken, resourceID, subjectID); err != nil {
		i.recordViolation(ctx, subjectID, audit.ViolationPayload{
			ViolationType:         audit.ViolationURLTampering,
			Severity:              model.SeverityHigh,
			Description:           fmt.Sprintf("refresh token rejected for resource %s: %v", resourceID, err),
			ResourceID:            resourceID,
			RequiresInvestigation: true,
		})
		i.recordOutcome(ctx, model.AccessRequest{ResourceID: resourceID, SubjectID: subjectID}, err)
		return nil, err
	}

	return i.GenerateAccess(ctx, model.AccessRequest{ResourceID: resourceID, SubjectID: subjectID})
}

// HandleRefreshFailure drives the bounded retry machine after a failed
// refresh: attempt, back off 2s, attempt, back off 5s, final attempt.
// "Not found" is terminal. Exhaustion returns (nil, nil); the caller must
// treat that as a re-authenticate signal, not an exception.
func (i *Issuer) HandleRefreshFailure(ctx context.Context, resourceID, subjectID string, retryCount int) (*model.AccessGrant, error) {
	if resourceID == "" {
		return nil, aegis_errors.ErrInvalidRequest
	}
	if retryCount < 0 {
		retryCount = 0
	}

	for attempt := retryCount; ; attempt++ {
		grant, err := i.GenerateAccess(ctx, model.AccessRequest{ResourceID: resourceID, SubjectID: subjectID})
		if err == nil {
			if attempt > retryCount {
				logger.Info("Access recovered after retry",
					zap.String("resourceID", resourceID),
					zap.Int("attempt", attempt))
			}
			return grant, nil
		}
		if errors.Is(err, aegis_errors.ErrResourceNotFound) {
			return nil, err
		}
		if attempt >= len(refreshBackoffs) {
			i.recordViolation(ctx, subjectID, audit.ViolationPayload{
				ViolationType: audit.ViolationExpiredURL,
				Severity:      model.SeverityMedium,
				Description:   fmt.Sprintf("refresh retries exhausted for resource %s", resourceID),
				ResourceID:    resourceID,
			})
			logger.Warn("Refresh retries exhausted",
				zap.String("resourceID", resourceID),
				zap.Error(err))
			return nil, nil
		}
		if sleepErr := i.sleep(ctx, refreshBackoffs[attempt]); sleepErr != nil {
			return nil, sleepErr
		}
	}
}

// ValidateAccess checks an issued grant structurally and against the clock.
func (i *Issuer) ValidateAccess(grant *model.AccessGrant) error {
	if grant == nil || grant.ResourceID == "" || grant.SignedLocator == "" {
		return aegis_errors.ErrGrantInvalid
	}
	if grant.Expired(i.now()) {
		return aegis_errors.ErrGrantExpired
	}
	return nil
}

// Cleanup cancels the resource's pending refresh timer and purges
// in-flight dedup entries and cached grants scoped to it.
func (i *Issuer) Cleanup(resourceID string) {
	i.timersMu.Lock()
	if timer, ok := i.timers[resourceID]; ok {
		timer.Stop()
		delete(i.timers, resourceID)
	}
	i.timersMu.Unlock()

	i.inflightMu.Lock()
	for key := range i.inflight[resourceID] {
		i.group.Forget(key)
	}
	delete(i.inflight, resourceID)
	i.inflightMu.Unlock()

	i.cache.InvalidateByPrefix(context.Background(), grantCachePrefix(resourceID))

	logger.Debug("Issuer state cleaned", zap.String("resourceID", resourceID))
}

// Close stops every pending refresh timer.
func (i *Issuer) Close() {
	i.timersMu.Lock()
	defer i.timersMu.Unlock()
	for resourceID, timer := range i.timers {
		timer.Stop()
		delete(i.timers, resourceID)
	}
}

// PruneRateWindows drops elapsed rate windows; wired to the maintenance
// loop.
func (i *Issuer) PruneRateWindows() int {
	return i.limiter.Prune()
}

// scheduleRefresh arms the per-resource timer announcing an upcoming
// expiry. A newer grant supersedes the previous timer.
func (i *Issuer) scheduleRefresh(grant *model.AccessGrant) {
	due := grant.ExpiresAt.Add(-i.refreshLead).Sub(i.now())
	if due <= 0 {
		return
	}

	resourceID := grant.ResourceID
	subjectID := grant.SubjectID

	i.timersMu.Lock()
	defer i.timersMu.Unlock()
	if existing, ok := i.timers[resourceID]; ok {
		existing.Stop()
	}
	i.timers[resourceID] = time.AfterFunc(due, func() {
		i.onRefreshDue(resourceID, subjectID)
	})
}

func (i *Issuer) onRefreshDue(resourceID, subjectID string) {
	i.timersMu.Lock()
	delete(i.timers, resourceID)
	i.timersMu.Unlock()

	logger.Debug("Access grant approaching expiry", zap.String("resourceID", resourceID))
	if i.events != nil {
		i.events.Publish(context.Background(), util.TopicAccessRefreshDue, model.AccessRequest{
			ResourceID: resourceID,
			SubjectID:  subjectID,
		})
	}
}

// recordViolation writes a security violation synchronously before the
// triggering operation returns; a failed write is itself logged. The
// violation is also announced on the event bus when one is attached.
func (i *Issuer) recordViolation(ctx context.Context, subjectID string, payload audit.ViolationPayload) {
	if i.auditor != nil {
		if _, err := i.auditor.RecordViolation(ctx, subjectID, payload); err != nil {
			logger.Error("Failed to record security violation",
				zap.Error(err),
				zap.String("violationType", payload.ViolationType))
		}
	}
	if i.events != nil {
		i.events.Publish(ctx, util.TopicSecurityViolation, util.SecurityViolationEvent{
			SubjectID:     subjectID,
			ViolationType: payload.ViolationType,
			Severity:      string(payload.Severity),
			ResourceID:    payload.ResourceID,
			Description:   payload.Description,
		})
	}
}

// recordOutcome writes the system_event trail for an issuance attempt,
// success or failure. This trail is best-effort.
func (i *Issuer) recordOutcome(ctx context.Context, req model.AccessRequest, outcome error) {
	if i.auditor == nil {
		return
	}
	payload := audit.SystemPayload{
		Component:  componentName,
		Event:      "access_generated",
		ResourceID: req.ResourceID,
	}
	if outcome != nil {
		payload.Event = "access_denied"
		payload.Details = map[string]string{"reason": outcome.Error()}
	}
	if _, err := i.auditor.RecordSystemEvent(ctx, req.SubjectID, payload); err != nil {
		logger.Warn("Failed to record issuance event", zap.Error(err))
	}
}

func (i *Issuer) trackInflight(resourceID, key string) {
	i.inflightMu.Lock()
	defer i.inflightMu.Unlock()
	keys, ok := i.inflight[resourceID]
	if !ok {
		keys = make(map[string]struct{})
		i.inflight[resourceID] = keys
	}
	keys[key] = struct{}{}
}

func (i *Issuer) untrackInflight(resourceID, key string) {
	i.inflightMu.Lock()
	defer i.inflightMu.Unlock()
	if keys, ok := i.inflight[resourceID]; ok {
		delete(keys, key)
		if len(keys) == 0 {
			delete(i.inflight, resourceID)
		}
	}
}

func dedupKey(resourceID, subjectID string) string {
	return resourceID + "|" + subjectOrAnonymous(subjectID)
}

func subjectOrAnonymous(subjectID string) string {
	if subjectID == "" {
		return anonymousSubject
	}
	return subjectID
}

func grantCacheKey(resourceID, subjectID string) string {
	return "access:" + dedupKey(resourceID, subjectID)
}

func grantCachePrefix(resourceID string) string {
	return "access:" + resourceID + "|"
}

func subscriptionCacheKey(subjectID string) string {
	return "subscription:" + subjectID
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
