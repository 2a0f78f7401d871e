// test/mock/collaborators.go

package mock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/framelane/aegis/model"
)

// MockAccessIssuer is a testify mock for access.IAccessIssuer.
type MockAccessIssuer struct {
	mock.Mock
}

func (m *MockAccessIssuer) GenerateAccess(ctx context.Context, req model.AccessRequest) (*model.AccessGrant, error) {
	args := m.Called(ctx, req)
	grant, _ := args.Get(0).(*model.AccessGrant)
	return grant, args.Error(1)
}

func (m *MockAccessIssuer) RefreshAccess(ctx context.Context, resourceID, refreshToken, subjectID string) (*model.AccessGrant, error) {
	args := m.Called(ctx, resourceID, refreshToken, subjectID)
	grant, _ := args.Get(0).(*model.AccessGrant)
	return grant, args.Error(1)
}

func (m *MockAccessIssuer) HandleRefreshFailure(ctx context.Context, resourceID, subjectID string, retryCount int) (*model.AccessGrant, error) {
	args := m.Called(ctx, resourceID, subjectID, retryCount)
	grant, _ := args.Get(0).(*model.AccessGrant)
	return grant, args.Error(1)
}

func (m *MockAccessIssuer) ValidateAccess(grant *model.AccessGrant) error {
	args := m.Called(grant)
	return args.Error(0)
}

func (m *MockAccessIssuer) Cleanup(resourceID string) {
	m.Called(resourceID)
}

// MockSigner is a testify mock for service.ISigner.
type MockSigner struct {
	mock.Mock
}

func (m *MockSigner) Sign(ctx context.Context, resourceID, storagePathHint string) (string, error) {
	args := m.Called(ctx, resourceID, storagePathHint)
	return args.String(0), args.Error(1)
}

// MockSubscriptionResolver is a testify mock for service.ISubscriptionResolver.
type MockSubscriptionResolver struct {
	mock.Mock
}

func (m *MockSubscriptionResolver) Resolve(ctx context.Context, subjectID string) (*model.Subscription, error) {
	args := m.Called(ctx, subjectID)
	sub, _ := args.Get(0).(*model.Subscription)
	return sub, args.Error(1)
}
