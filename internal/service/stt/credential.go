package stt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Credential is a short-lived token that authorizes one streaming session.
type Credential struct {
	Token     string
	ExpiresAt time.Time // zero for credentials that do not expire
}

// expiryMargin is how long before expiry a credential stops being reused.
const expiryMargin = 30 * time.Second

// Valid reports whether the credential can still be used to open a socket at now.
func (c Credential) Valid(now time.Time) bool {
	if c.Token == "" {
		return false
	}
	return c.ExpiresAt.IsZero() || now.Add(expiryMargin).Before(c.ExpiresAt)
}

// CredentialProvider obtains streaming credentials.
type CredentialProvider interface {
	Fetch(ctx context.Context) (Credential, error)
}

// ErrEmptyCredential is returned when the authorization boundary responds without
// a token.
var ErrEmptyCredential = errors.New("credential response contained no token")

// StaticCredential uses a fixed key as the token, for local use with an API key.
type StaticCredential string

// Fetch returns the key as a non-expiring credential.
func (s StaticCredential) Fetch(ctx context.Context) (Credential, error) {
	if s == "" {
		return Credential{}, ErrEmptyCredential
	}
	return Credential{Token: string(s)}, nil
}

// HTTPCredentialProvider requests tokens from the application's authorization
// boundary, authenticating with the user's session token.
type HTTPCredentialProvider struct {
	url          string
	sessionToken string
	client       *http.Client
	now          func() time.Time
}

// NewHTTPCredentialProvider creates a provider for the token endpoint at url.
func NewHTTPCredentialProvider(url, sessionToken string) *HTTPCredentialProvider {
	return &HTTPCredentialProvider{
		url:          url,
		sessionToken: sessionToken,
		client:       &http.Client{Timeout: 10 * time.Second},
		now:          time.Now,
	}
}

type tokenResponse struct {
	Token     string `json:"token"`
	ExpiresIn int    `json:"expires_in"`
	Error     string `json:"error"`
}

// Fetch requests a new token. Non-2xx responses are errors carrying the boundary's
// error text when present.
func (p *HTTPCredentialProvider) Fetch(ctx context.Context) (Credential, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return Credential{}, fmt.Errorf("build token request: %w", err)
	}
	if p.sessionToken != "" {
		req.Header.Set("Authorization", "Bearer "+p.sessionToken)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return Credential{}, fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return Credential{}, fmt.Errorf("read token response: %w", err)
	}

	var tr tokenResponse
	decodeErr := json.Unmarshal(body, &tr)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if decodeErr == nil && tr.Error != "" {
			return Credential{}, fmt.Errorf("token request failed (status %d): %s", resp.StatusCode, tr.Error)
		}
		return Credential{}, fmt.Errorf("token request failed (status %d)", resp.StatusCode)
	}
	if decodeErr != nil {
		return Credential{}, fmt.Errorf("decode token response: %w", decodeErr)
	}
	if tr.Token == "" {
		return Credential{}, ErrEmptyCredential
	}

	cred := Credential{Token: tr.Token}
	if tr.ExpiresIn > 0 {
		cred.ExpiresAt = p.now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	}
	return cred, nil
}
