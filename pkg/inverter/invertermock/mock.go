package invertermock

import (
	"context"

	"github.com/gridpilot/gridpilot/pkg/inverter"
	"github.com/gridpilot/gridpilot/pkg/types"
	"github.com/stretchr/testify/mock"
)

type MockInverter struct {
	mock.Mock
}

var _ inverter.Inverter = (*MockInverter)(nil)

func (m *MockInverter) Apply(ctx context.Context, d types.Decision) error {
	args := m.Called(ctx, d)
	return args.Error(0)
}

func (m *MockInverter) Close() error {
	args := m.Called()
	return args.Error(0)
}
