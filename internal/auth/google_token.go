package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// TokenProvider interface for dependency injection
type TokenProvider interface {
	GetYouTubeTokenSource(ctx context.Context) (oauth2.TokenSource, error)
}

// The write scope also covers reads; it is needed when playlist cleanup
// removes archived entries.
var youtubeScopes = []string{
	"https://www.googleapis.com/auth/youtube",
}

// FileTokenProvider loads OAuth credentials from the tokens sandbox:
// client_secret.json holds the installed-app client, token.json holds the
// user grant obtained out of band.
type FileTokenProvider struct {
	TokensDir string
	logger    *slog.Logger
}

// NewFileTokenProvider builds a provider rooted at the tokens sandbox.
func NewFileTokenProvider(tokensDir string, logger *slog.Logger) *FileTokenProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileTokenProvider{TokensDir: tokensDir, logger: logger}
}

// GetYouTubeTokenSource returns a refreshing token source for the YouTube
// Data API. Refreshed tokens are persisted back so restarts reuse them.
func (p *FileTokenProvider) GetYouTubeTokenSource(ctx context.Context) (oauth2.TokenSource, error) {
	secretPath := filepath.Join(p.TokensDir, "client_secret.json")
	secretData, err := os.ReadFile(secretPath)
	if err != nil {
		return nil, fmt.Errorf("reading oauth client secret: %w", err)
	}
	config, err := google.ConfigFromJSON(secretData, youtubeScopes...)
	if err != nil {
		return nil, fmt.Errorf("parsing oauth client secret: %w", err)
	}

	tokenPath := filepath.Join(p.TokensDir, "token.json")
	token, err := loadToken(tokenPath)
	if err != nil {
		return nil, fmt.Errorf("reading oauth token: %w", err)
	}

	return &persistingTokenSource{
		base:      config.TokenSource(ctx, token),
		tokenPath: tokenPath,
		last:      token,
		logger:    p.logger,
	}, nil
}

func loadToken(path string) (*oauth2.Token, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var token oauth2.Token
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", filepath.Base(path), err)
	}
	return &token, nil
}

// persistingTokenSource writes refreshed tokens back to disk. A refresh
// failure invalidates the stored grant so the operator gets a clean
// re-auth prompt instead of silent retries against a revoked token.
type persistingTokenSource struct {
	base      oauth2.TokenSource
	tokenPath string
	last      *oauth2.Token
	logger    *slog.Logger
}

func (s *persistingTokenSource) Token() (*oauth2.Token, error) {
	token, err := s.base.Token()
	if err != nil {
		s.logger.Warn("OAuth token refresh failed, invalidating stored grant", "error", err)
		if rmErr := os.Remove(s.tokenPath); rmErr != nil && !os.IsNotExist(rmErr) {
			s.logger.Warn("Could not remove stale token file", "path", s.tokenPath, "error", rmErr)
		}
		return nil, fmt.Errorf("refreshing oauth token: %w", err)
	}
	if s.last == nil || token.AccessToken != s.last.AccessToken {
		if err := saveToken(s.tokenPath, token); err != nil {
			s.logger.Warn("Could not persist refreshed token", "error", err)
		}
		s.last = token
	}
	return token, nil
}

func saveToken(path string, token *oauth2.Token) error {
	data, err := json.MarshalIndent(token, "", "    ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
