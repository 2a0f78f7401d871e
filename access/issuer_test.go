// access/issuer_test.go
package access

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/framelane/aegis/audit"
	"github.com/framelane/aegis/cache"
	aegis_errors "github.com/framelane/aegis/errors"
	"github.com/framelane/aegis/model"
	"github.com/framelane/aegis/resilience"
	"github.com/framelane/aegis/util"
)

type fakeSigner struct {
	mu        sync.Mutex
	calls     int
	delay     time.Duration
	stickyErr error
	errs      []error
}

func (f *fakeSigner) Sign(ctx context.Context, resourceID, storagePathHint string) (string, error) {
	f.mu.Lock()
	f.calls++
	err := f.stickyErr
	if err == nil && len(f.errs) > 0 {
		err = f.errs[0]
		f.errs = f.errs[1:]
	}
	delay := f.delay
	f.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if err != nil {
		return "", err
	}
	return "https://media.framelane.test/" + resourceID + "/stream.m3u8?sig=ok", nil
}

func (f *fakeSigner) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeResolver struct {
	mu    sync.Mutex
	calls int
	sub   *model.Subscription
	err   error
}

func (f *fakeResolver) Resolve(ctx context.Context, subjectID string) (*model.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.sub != nil {
		return f.sub, nil
	}
	return &model.Subscription{SubjectID: subjectID, Tier: model.TierFree, IsActive: true}, nil
}

func (f *fakeResolver) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type issuerFixture struct {
	issuer   *Issuer
	signer   *fakeSigner
	resolver *fakeResolver
	auditor  audit.Service
	cache    *cache.TTLCache
	now      *time.Time
	sleeps   *[]time.Duration
}

func newIssuerFixture(t *testing.T, opts ...IssuerOption) *issuerFixture {
	t.Helper()

	current := time.Date(2025, 4, 2, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return current }

	auditor, err := audit.NewService(audit.NewMemoryRepository(), []byte("audit-secret"), audit.WithClock(clock))
	require.NoError(t, err)
	orch := resilience.New(auditor, resilience.WithClock(clock))
	ttl := cache.New(cache.WithClock(clock))
	t.Cleanup(ttl.Close)

	signer := &fakeSigner{}
	resolver := &fakeResolver{}
	var sleeps []time.Duration

	base := []IssuerOption{
		WithIssuerClock(clock),
		WithSleeper(func(ctx context.Context, d time.Duration) error {
			sleeps = append(sleeps, d)
			return nil
		}),
	}
	issuer, err := NewIssuer(signer, resolver, orch, auditor, ttl, []byte("token-secret"), append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(issuer.Close)

	return &issuerFixture{
		issuer:   issuer,
		signer:   signer,
		resolver: resolver,
		auditor:  auditor,
		cache:    ttl,
		now:      &current,
		sleeps:   &sleeps,
	}
}

func (fx *issuerFixture) violations(t *testing.T, violationType string) []audit.Entry {
	t.Helper()
	entries, err := fx.auditor.QueryEntries(context.Background(), audit.QueryFilter{Kind: audit.KindSecurityViolation})
	require.NoError(t, err)
	var matched []audit.Entry
	for _, entry := range entries {
		if entry.Violation != nil && entry.Violation.ViolationType == violationType {
			matched = append(matched, entry)
		}
	}
	return matched
}

func TestNewIssuerRequiresTokenSecret(t *testing.T) {
	_, err := NewIssuer(&fakeSigner{}, &fakeResolver{}, resilience.New(nil), nil, cache.New(), nil)
	assert.ErrorIs(t, err, aegis_errors.ErrMissingSecret)
}

func TestGenerateAccessAnonymousDefaults(t *testing.T) {
	fx := newIssuerFixture(t)

	grant, err := fx.issuer.GenerateAccess(context.Background(), model.AccessRequest{ResourceID: "video-1"})
	require.NoError(t, err)

	assert.Equal(t, "video-1", grant.ResourceID)
	assert.Empty(t, grant.SubjectID)
	assert.Equal(t, model.TierFree, grant.TierRequired)
	assert.True(t, grant.TierVerified)
	assert.NotEmpty(t, grant.SignedLocator)
	assert.NotEmpty(t, grant.RefreshToken)
	assert.Equal(t, fx.now.Add(120*time.Minute), grant.ExpiresAt)
	assert.Equal(t, 0, fx.resolver.callCount(), "anonymous subjects skip subscription resolution")
}

func TestGenerateAccessRequiresResource(t *testing.T) {
	fx := newIssuerFixture(t)

	_, err := fx.issuer.GenerateAccess(context.Background(), model.AccessRequest{})
	assert.ErrorIs(t, err, aegis_errors.ErrInvalidRequest)
}

func TestExpiryMinutes(t *testing.T) {
	cases := []struct {
		name string
		hint int
		tier model.Tier
		want int
	}{
		{"free no hint", 0, model.TierFree, 120},
		{"free long hint capped", 36000, model.TierFree, 120},
		{"free short hint padded", 600, model.TierFree, 40},
		{"premium no hint floored", 0, model.TierPremium, 240},
		{"premium long hint kept", 36000, model.TierPremium, 720},
		{"enterprise short hint floored", 600, model.TierEnterprise, 480},
		{"unknown tier capped like free", 36000, model.Tier("weird"), 120},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, expiryMinutes(tc.hint, tc.tier))
		})
	}
}

func TestGenerateAccessDeduplicatesConcurrentCalls(t *testing.T) {
	fx := newIssuerFixture(t)
	fx.signer.delay = 30 * time.Millisecond

	const callers = 6
	grants := make([]*model.AccessGrant, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for n := 0; n < callers; n++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			grants[n], errs[n] = fx.issuer.GenerateAccess(context.Background(), model.AccessRequest{
				ResourceID: "video-1",
				SubjectID:  "reviewer-9",
			})
		}(n)
	}
	wg.Wait()

	for n := 0; n < callers; n++ {
		require.NoError(t, errs[n])
		require.NotNil(t, grants[n])
	}
	assert.Equal(t, 1, fx.signer.callCount(), "callers must share one in-flight issuance")
	for _, g := range grants[1:] {
		assert.Equal(t, grants[0].RefreshToken, g.RefreshToken)
	}
}

func TestGenerateAccessDistinctSubjectsRunSeparately(t *testing.T) {
	fx := newIssuerFixture(t)
	fx.signer.delay = 30 * time.Millisecond

	var wg sync.WaitGroup
	grants := make([]*model.AccessGrant, 2)
	for n, subject := range []string{"reviewer-9", "client-3"} {
		wg.Add(1)
		go func(n int, subject string) {
			defer wg.Done()
			grants[n], _ = fx.issuer.GenerateAccess(context.Background(), model.AccessRequest{
				ResourceID: "video-1",
				SubjectID:  subject,
			})
		}(n, subject)
	}
	wg.Wait()

	require.NotNil(t, grants[0])
	require.NotNil(t, grants[1])
	assert.Equal(t, 2, fx.signer.callCount())
	assert.NotEqual(t, grants[0].RefreshToken, grants[1].RefreshToken)
}

func TestGenerateAccessRateLimited(t *testing.T) {
	fx := newIssuerFixture(t, WithRateLimit(3, time.Minute))
	ctx := context.Background()
	req := model.AccessRequest{ResourceID: "video-1", SubjectID: "reviewer-9"}

	for n := 0; n < 3; n++ {
		_, err := fx.issuer.GenerateAccess(ctx, req)
		require.NoError(t, err)
	}

	_, err := fx.issuer.GenerateAccess(ctx, req)
	require.Error(t, err)
	assert.ErrorIs(t, err, aegis_errors.ErrRateLimitExceeded)

	var limited *aegis_errors.RateLimitError
	require.ErrorAs(t, err, &limited)
	assert.Equal(t, time.Minute, limited.RetryAfter)

	violations := fx.violations(t, audit.ViolationExcessiveRequests)
	require.Len(t, violations, 1)
	assert.Equal(t, model.SeverityMedium, violations[0].Violation.Severity)
}

func TestGenerateAccessPremiumTierFloorsExpiry(t *testing.T) {
	fx := newIssuerFixture(t)
	fx.resolver.sub = &model.Subscription{SubjectID: "reviewer-9", Tier: model.TierPremium, IsActive: true}
	ctx := context.Background()
	req := model.AccessRequest{ResourceID: "video-1", SubjectID: "reviewer-9", DurationHint: 600}

	grant, err := fx.issuer.GenerateAccess(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, model.TierPremium, grant.TierRequired)
	assert.True(t, grant.TierVerified)
	assert.Equal(t, fx.now.Add(240*time.Minute), grant.ExpiresAt)

	// The subscription fact is cached; a second issuance must not resolve
	// again.
	_, err = fx.issuer.GenerateAccess(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 1, fx.resolver.callCount())
}

func TestGenerateAccessInactiveSubscriptionRejected(t *testing.T) {
	fx := newIssuerFixture(t)
	fx.resolver.sub = &model.Subscription{SubjectID: "reviewer-9", Tier: model.TierPremium, IsActive: false}

	_, err := fx.issuer.GenerateAccess(context.Background(), model.AccessRequest{
		ResourceID: "video-1",
		SubjectID:  "reviewer-9",
	})
	assert.ErrorIs(t, err, aegis_errors.ErrSubscriptionInactive)

	violations := fx.violations(t, audit.ViolationInvalidSubscription)
	require.Len(t, violations, 1)
	assert.Equal(t, model.SeverityHigh, violations[0].Violation.Severity)
}

func TestGenerateAccessResolverOutageFailsClosed(t *testing.T) {
	fx := newIssuerFixture(t)
	fx.resolver.err = errors.New("dial tcp: connection refused")

	_, err := fx.issuer.GenerateAccess(context.Background(), model.AccessRequest{
		ResourceID: "video-1",
		SubjectID:  "reviewer-9",
	})
	assert.ErrorIs(t, err, aegis_errors.ErrSubscriptionUnverified)

	violations := fx.violations(t, audit.ViolationInvalidSubscription)
	require.Len(t, violations, 1)
	assert.Equal(t, model.SeverityHigh, violations[0].Violation.Severity)
}

func TestGenerateAccessServesStaleSubscriptionDuringOutage(t *testing.T) {
	fx := newIssuerFixture(t)
	fx.resolver.sub = &model.Subscription{SubjectID: "reviewer-9", Tier: model.TierPremium, IsActive: true}
	ctx := context.Background()
	req := model.AccessRequest{ResourceID: "video-1", SubjectID: "reviewer-9"}

	first, err := fx.issuer.GenerateAccess(ctx, req)
	require.NoError(t, err)
	assert.True(t, first.TierVerified)

	// Past the subscription fact's TTL but within the stale grace, with
	// the resolver down.
	*fx.now = fx.now.Add(10 * time.Minute)
	fx.resolver.err = errors.New("dial tcp: connection refused")

	second, err := fx.issuer.GenerateAccess(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, model.TierPremium, second.TierRequired)
	assert.False(t, second.TierVerified, "stale facts admit without fresh verification")
	assert.Equal(t, 2, fx.resolver.callCount())
}

func TestGenerateAccessSignerOutageSurfaces(t *testing.T) {
	fx := newIssuerFixture(t)
	fx.signer.stickyErr = fmt.Errorf("video-404: %w", aegis_errors.ErrResourceNotFound)

	_, err := fx.issuer.GenerateAccess(context.Background(), model.AccessRequest{ResourceID: "video-404"})
	assert.ErrorIs(t, err, aegis_errors.ErrResourceNotFound)

	events, qerr := fx.auditor.QueryEntries(context.Background(), audit.QueryFilter{Kind: audit.KindSystemEvent})
	require.NoError(t, qerr)
	denied := false
	for _, entry := range events {
		if entry.System != nil && entry.System.Event == "access_denied" {
			denied = true
		}
	}
	assert.True(t, denied, "denied issuance must leave a system_event trail")
}

func TestRefreshAccessReissuesGrant(t *testing.T) {
	fx := newIssuerFixture(t)
	ctx := context.Background()

	first, err := fx.issuer.GenerateAccess(ctx, model.AccessRequest{ResourceID: "video-1"})
	require.NoError(t, err)

	*fx.now = fx.now.Add(30 * time.Minute)
	refreshed, err := fx.issuer.RefreshAccess(ctx, "video-1", first.RefreshToken, "")
	require.NoError(t, err)

	assert.Equal(t, fx.now.Add(120*time.Minute), refreshed.ExpiresAt)
	assert.True(t, refreshed.ExpiresAt.After(first.ExpiresAt))
	assert.NotEqual(t, first.RefreshToken, refreshed.RefreshToken)
}

func TestRefreshAccessRejectsForeignResource(t *testing.T) {
	fx := newIssuerFixture(t)
	ctx := context.Background()

	grant, err := fx.issuer.GenerateAccess(ctx, model.AccessRequest{ResourceID: "video-1"})
	require.NoError(t, err)

	_, err = fx.issuer.RefreshAccess(ctx, "video-2", grant.RefreshToken, "")
	assert.ErrorIs(t, err, aegis_errors.ErrTokenTampered)

	violations := fx.violations(t, audit.ViolationURLTampering)
	require.Len(t, violations, 1)
	assert.Equal(t, model.SeverityHigh, violations[0].Violation.Severity)
	assert.True(t, violations[0].Violation.RequiresInvestigation)
}

func TestRefreshAccessRejectsExpiredToken(t *testing.T) {
	fx := newIssuerFixture(t)
	ctx := context.Background()

	grant, err := fx.issuer.GenerateAccess(ctx, model.AccessRequest{ResourceID: "video-1"})
	require.NoError(t, err)

	*fx.now = fx.now.Add(61 * time.Minute)
	_, err = fx.issuer.RefreshAccess(ctx, "video-1", grant.RefreshToken, "")
	assert.ErrorIs(t, err, aegis_errors.ErrTokenExpired)

	assert.Len(t, fx.violations(t, audit.ViolationURLTampering), 1)
}

func TestRefreshAccessRequiresArguments(t *testing.T) {
	fx := newIssuerFixture(t)
	ctx := context.Background()

	_, err := fx.issuer.RefreshAccess(ctx, "", "token", "")
	assert.ErrorIs(t, err, aegis_errors.ErrInvalidRequest)

	_, err = fx.issuer.RefreshAccess(ctx, "video-1", "", "")
	assert.ErrorIs(t, err, aegis_errors.ErrInvalidRequest)
}

func TestHandleRefreshFailureRecoversAfterBackoff(t *testing.T) {
	fx := newIssuerFixture(t)
	fx.signer.errs = []error{errors.New("dial tcp: connection refused")}

	grant, err := fx.issuer.HandleRefreshFailure(context.Background(), "video-1", "", 0)
	require.NoError(t, err)
	require.NotNil(t, grant)

	assert.Equal(t, []time.Duration{2 * time.Second}, *fx.sleeps)
	assert.Equal(t, 2, fx.signer.callCount())
}

func TestHandleRefreshFailureExhaustsRetries(t *testing.T) {
	fx := newIssuerFixture(t)
	fx.signer.stickyErr = errors.New("dial tcp: connection refused")

	grant, err := fx.issuer.HandleRefreshFailure(context.Background(), "video-1", "", 0)
	assert.NoError(t, err, "exhaustion is a re-authenticate signal, not an error")
	assert.Nil(t, grant)

	assert.Equal(t, []time.Duration{2 * time.Second, 5 * time.Second}, *fx.sleeps)
	assert.Equal(t, 3, fx.signer.callCount())

	violations := fx.violations(t, audit.ViolationExpiredURL)
	require.Len(t, violations, 1)
	assert.Equal(t, model.SeverityMedium, violations[0].Violation.Severity)
}

func TestHandleRefreshFailureNotFoundIsTerminal(t *testing.T) {
	fx := newIssuerFixture(t)
	fx.signer.stickyErr = fmt.Errorf("video-404: %w", aegis_errors.ErrResourceNotFound)

	grant, err := fx.issuer.HandleRefreshFailure(context.Background(), "video-404", "", 0)
	assert.Nil(t, grant)
	assert.ErrorIs(t, err, aegis_errors.ErrResourceNotFound)

	assert.Empty(t, *fx.sleeps)
	assert.Equal(t, 1, fx.signer.callCount())
}

func TestHandleRefreshFailureResumesFromRetryCount(t *testing.T) {
	fx := newIssuerFixture(t)
	fx.signer.stickyErr = errors.New("dial tcp: connection refused")

	grant, err := fx.issuer.HandleRefreshFailure(context.Background(), "video-1", "", 2)
	assert.NoError(t, err)
	assert.Nil(t, grant)

	assert.Empty(t, *fx.sleeps, "prior attempts already consumed the backoff schedule")
	assert.Equal(t, 1, fx.signer.callCount())
}

func TestValidateAccess(t *testing.T) {
	fx := newIssuerFixture(t)

	assert.ErrorIs(t, fx.issuer.ValidateAccess(nil), aegis_errors.ErrGrantInvalid)
	assert.ErrorIs(t, fx.issuer.ValidateAccess(&model.AccessGrant{ResourceID: "video-1"}), aegis_errors.ErrGrantInvalid)

	grant, err := fx.issuer.GenerateAccess(context.Background(), model.AccessRequest{ResourceID: "video-1"})
	require.NoError(t, err)
	assert.NoError(t, fx.issuer.ValidateAccess(grant))

	*fx.now = fx.now.Add(121 * time.Minute)
	assert.ErrorIs(t, fx.issuer.ValidateAccess(grant), aegis_errors.ErrGrantExpired)
}

func TestCleanupCancelsStateForResource(t *testing.T) {
	fx := newIssuerFixture(t)
	ctx := context.Background()

	_, err := fx.issuer.GenerateAccess(ctx, model.AccessRequest{ResourceID: "video-1", SubjectID: "reviewer-9"})
	require.NoError(t, err)
	_, err = fx.issuer.GenerateAccess(ctx, model.AccessRequest{ResourceID: "video-1", SubjectID: "client-3"})
	require.NoError(t, err)

	_, ok := fx.cache.Get(ctx, grantCacheKey("video-1", "reviewer-9"))
	assert.True(t, ok)

	fx.issuer.timersMu.Lock()
	armed := len(fx.issuer.timers)
	fx.issuer.timersMu.Unlock()
	assert.Equal(t, 1, armed, "a newer grant supersedes the resource's timer")

	fx.issuer.Cleanup("video-1")

	_, ok = fx.cache.Get(ctx, grantCacheKey("video-1", "reviewer-9"))
	assert.False(t, ok)
	_, ok = fx.cache.Get(ctx, grantCacheKey("video-1", "client-3"))
	assert.False(t, ok)

	fx.issuer.timersMu.Lock()
	armed = len(fx.issuer.timers)
	fx.issuer.timersMu.Unlock()
	assert.Zero(t, armed)
}

func TestGenerateAccessPublishesGrantEvent(t *testing.T) {
	bus := util.NewEventBus()
	published := make(chan util.Event, 1)
	bus.Subscribe(util.TopicAccessGranted, func(ctx context.Context, ev util.Event) error {
		published <- ev
		return nil
	})

	fx := newIssuerFixture(t, WithEventBus(bus))
	grant, err := fx.issuer.GenerateAccess(context.Background(), model.AccessRequest{ResourceID: "video-1"})
	require.NoError(t, err)

	select {
	case ev := <-published:
		got, ok := ev.Payload.(*model.AccessGrant)
		require.True(t, ok)
		assert.Equal(t, grant.RefreshToken, got.RefreshToken)
	case <-time.After(time.Second):
		t.Fatal("grant event was not published")
	}
}

func TestRefreshDueAnnouncement(t *testing.T) {
	bus := util.NewEventBus()
	due := make(chan util.Event, 1)
	bus.Subscribe(util.TopicAccessRefreshDue, func(ctx context.Context, ev util.Event) error {
		due <- ev
		return nil
	})

	fx := newIssuerFixture(t, WithEventBus(bus))
	fx.issuer.onRefreshDue("video-1", "reviewer-9")

	select {
	case ev := <-due:
		req, ok := ev.Payload.(model.AccessRequest)
		require.True(t, ok)
		assert.Equal(t, "video-1", req.ResourceID)
		assert.Equal(t, "reviewer-9", req.SubjectID)
	case <-time.After(time.Second):
		t.Fatal("refresh-due event was not published")
	}
}
