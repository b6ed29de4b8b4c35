package auth

import (
	"context"

	"golang.org/x/oauth2"
)

// MockTokenProvider is a mock implementation of a token provider for testing
type MockTokenProvider struct {
	Source oauth2.TokenSource
	Err    error
}

func (m *MockTokenProvider) GetYouTubeTokenSource(ctx context.Context) (oauth2.TokenSource, error) {
	return m.Source, m.Err
}
