// Package testing provides testify-based mocks for the sandbox package.
package testing

import (
	"context"

	"github.com/isseis/go-boxps/internal/runner/sandbox"
	"github.com/stretchr/testify/mock"
)

// MockSandbox is a mock implementation of sandbox.Sandbox.
type MockSandbox struct {
	mock.Mock
}

// Execute implements sandbox.Sandbox. A nil result is returned as nil
// without a type assertion.
func (m *MockSandbox) Execute(ctx context.Context, script *sandbox.Script) (*sandbox.Result, error) {
	args := m.Called(ctx, script)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*sandbox.Result), args.Error(1)
}

// NewMockSandbox creates a new MockSandbox.
func NewMockSandbox() *MockSandbox {
	return &MockSandbox{}
}
