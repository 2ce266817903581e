package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Provider represents OAuth providers
type Provider string

const (
	ProviderGoogle    Provider = "google"
	ProviderMicrosoft Provider = "microsoft"
)

// Token represents OAuth tokens
type Token struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}

// BetterAuthClient fetches OAuth tokens from BetterAuth
type BetterAuthClient struct {
	baseURL string
	client  *http.Client
}

// NewBetterAuthClient creates client to fetch tokens from BetterAuth
func NewBetterAuthClient(authServerURL string) *BetterAuthClient {
	return &BetterAuthClient{
		baseURL: authServerURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// GetToken fetches OAuth token from BetterAuth using user's JWT.
// BetterAuth stores and refreshes the provider tokens itself.
func (c *BetterAuthClient) GetToken(ctx context.Context, userJWT string, provider Provider) (*Token, error) {
	url := fmt.Sprintf("%s/api/auth/accounts/%s/token", c.baseURL, provider)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+userJWT)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, fmt.Errorf("%w: no %s account connected", ErrNoCredentials, provider)
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, fmt.Errorf("%w: auth server refused user token", ErrUnauthorized)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("bad status %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresAt    int64  `json:"expires_at"` // unix timestamp
	}

	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	tok := &Token{
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
	}
	if result.ExpiresAt > 0 {
		tok.Expiry = time.Unix(result.ExpiresAt, 0)
	}
	return tok, nil
}

// BetterAuthSource is a CredentialSource backed by the auth server, which
// owns persistence and refresh.
type BetterAuthSource struct {
	Client   *BetterAuthClient
	UserJWT  string
	Provider Provider
}

// State asks the auth server for the current token
func (s *BetterAuthSource) State(ctx context.Context) (CredentialState, error) {
	tok, err := s.Client.GetToken(ctx, s.UserJWT, s.Provider)
	switch {
	case errors.Is(err, ErrNoCredentials):
		return CredentialAbsent, nil
	case errors.Is(err, ErrUnauthorized):
		return CredentialRequiresInteractiveAuth, nil
	case err != nil:
		return CredentialAbsent, err
	}
	if tok.Expired(time.Now()) {
		return CredentialRequiresInteractiveAuth, nil
	}
	return CredentialValid, nil
}

// Token fetches the current token from the auth server
func (s *BetterAuthSource) Token(ctx context.Context) (*Token, error) {
	tok, err := s.Client.GetToken(ctx, s.UserJWT, s.Provider)
	if err != nil {
		return nil, err
	}
	if tok.Expired(time.Now()) {
		return nil, fmt.Errorf("%w: auth server returned an expired %s token", ErrInteractiveAuthRequired, s.Provider)
	}
	return tok, nil
}
