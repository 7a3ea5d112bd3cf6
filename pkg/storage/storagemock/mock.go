package storagemock

import (
	"context"
	"time"

	"github.com/gridpilot/gridpilot/pkg/storage"
	"github.com/gridpilot/gridpilot/pkg/types"
	"github.com/stretchr/testify/mock"
)

type MockDatabase struct {
	mock.Mock
}

var _ storage.Database = (*MockDatabase)(nil)

func (m *MockDatabase) SaveProfile(ctx context.Context, siteID string, profile types.UsageProfile) error {
	args := m.Called(ctx, siteID, profile)
	return args.Error(0)
}

func (m *MockDatabase) LoadProfile(ctx context.Context, siteID string) (*types.UsageProfile, error) {
	args := m.Called(ctx, siteID)
	if p, ok := args.Get(0).(*types.UsageProfile); ok {
		return p, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockDatabase) AppendDecision(ctx context.Context, siteID string, rec storage.DecisionRecord) error {
	args := m.Called(ctx, siteID, rec)
	return args.Error(0)
}

func (m *MockDatabase) GetDecisionHistory(ctx context.Context, siteID string, start, end time.Time) ([]types.Decision, error) {
	args := m.Called(ctx, siteID, start, end)
	if d, ok := args.Get(0).([]types.Decision); ok {
		return d, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockDatabase) Close() error {
	args := m.Called()
	return args.Error(0)
}
