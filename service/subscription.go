// service/subscription.go
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	aegis_errors "github.com/framelane/aegis/errors"
	"github.com/framelane/aegis/model"
)

// ISubscriptionResolver resolves a subject's tier and active status from
// the billing platform.
type ISubscriptionResolver interface {
	Resolve(ctx context.Context, subjectID string) (*model.Subscription, error)
}

// HTTPSubscriptionResolver queries the billing API over HTTP. Failures are
// returned as-is for the orchestrator to classify.
type HTTPSubscriptionResolver struct {
	client  *http.Client
	baseURL string
}

func NewHTTPSubscriptionResolver(baseURL string, timeout time.Duration) *HTTPSubscriptionResolver {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPSubscriptionResolver{
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

func (r *HTTPSubscriptionResolver) Resolve(ctx context.Context, subjectID string) (*model.Subscription, error) {
	if subjectID == "" {
		return nil, aegis_errors.ErrInvalidRequest
	}

	endpoint := fmt.Sprintf("%s/subscribers/%s", r.baseURL, url.PathEscape(subjectID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build subscription request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach billing api: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		// fallthrough to decode
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("subject %s: %w", subjectID, aegis_errors.ErrSubscriptionUnverified)
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("billing api returned %d: %w", resp.StatusCode, aegis_errors.ErrServiceUnavailable)
	default:
		return nil, fmt.Errorf("billing api returned %d: %w", resp.StatusCode, aegis_errors.ErrIntegration)
	}

	var payload struct {
		SubjectID string `json:"subject_id"`
		Tier      string `json:"tier"`
		IsActive  bool   `json:"is_active"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode subscription response: %w", err)
	}

	tier := model.Tier(payload.Tier)
	if !tier.Valid() {
		return nil, fmt.Errorf("billing api returned unknown tier %q: %w", payload.Tier, aegis_errors.ErrIntegration)
	}

	return &model.Subscription{
		SubjectID:  subjectID,
		Tier:       tier,
		IsActive:   payload.IsActive,
		ResolvedAt: time.Now().UTC(),
	}, nil
}
