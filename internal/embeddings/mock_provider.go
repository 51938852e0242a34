package embeddings

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockProvider is a mock implementation of Provider using testify/mock.
type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) Model() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockProvider) Encode(ctx context.Context, texts []string, normalize bool) ([]Vector, error) {
	args := m.Called(ctx, texts, normalize)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]Vector), args.Error(1)
}

func (m *MockProvider) Close() error {
	args := m.Called()
	return args.Error(0)
}
