package testutil

import (
	"context"

	"github.com/dgellow/authbridge/internal/idp"
	"github.com/dgellow/authbridge/internal/sessionbridge"
	"github.com/stretchr/testify/mock"
)

// MockSessionBridge is a mock of the session endpoint client
type MockSessionBridge struct {
	mock.Mock
}

func (m *MockSessionBridge) Sync(ctx context.Context, token idp.Token) sessionbridge.Result {
	args := m.Called(ctx, token)
	return args.Get(0).(sessionbridge.Result)
}

func (m *MockSessionBridge) Clear(ctx context.Context) {
	m.Called(ctx)
}

// MockNavigator records navigations
type MockNavigator struct {
	mock.Mock
}

func (m *MockNavigator) Navigate(ctx context.Context, target string) error {
	args := m.Called(ctx, target)
	return args.Error(0)
}
