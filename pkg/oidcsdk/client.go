// Package oidcsdk is a small relying-party client for the provider. Forum
// plugins and integration tests use it to drive the authorization-code flow
// without hand-rolling form encoding.
package oidcsdk

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// SDKClient talks to one provider on behalf of one registered client.
type SDKClient struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	RedirectURI  string
	HTTPClient   *http.Client
}

// NewSDKClient creates a relying-party client. clientSecret may be empty for
// public clients.
func NewSDKClient(baseURL, clientID, clientSecret, redirectURI string) *SDKClient {
	return &SDKClient{
		BaseURL:      strings.TrimSuffix(baseURL, "/"),
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURI:  redirectURI,
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// PKCE holds a generated verifier and its S256 challenge.
type PKCE struct {
	Verifier  string
	Challenge string
	Method    string
}

// NewPKCE generates a fresh S256 code verifier and challenge.
func NewPKCE() PKCE {
	var buf [32]byte
	_, _ = rand.Read(buf[:])
	verifier := base64.RawURLEncoding.EncodeToString(buf[:])
	sum := sha256.Sum256([]byte(verifier))
	return PKCE{
		Verifier:  verifier,
		Challenge: base64.RawURLEncoding.EncodeToString(sum[:]),
		Method:    "S256",
	}
}

// AuthorizationURL builds the front-channel authorization request URL.
func (c *SDKClient) AuthorizationURL(scopes []string, state, nonce string, pkce PKCE) string {
	q := url.Values{
		"response_type": {"code"},
		"client_id":     {c.ClientID},
		"redirect_uri":  {c.RedirectURI},
	}
	if len(scopes) > 0 {
		q.Set("scope", strings.Join(scopes, " "))
	}
	if state != "" {
		q.Set("state", state)
	}
	if nonce != "" {
		q.Set("nonce", nonce)
	}
	if pkce.Challenge != "" {
		q.Set("code_challenge", pkce.Challenge)
		q.Set("code_challenge_method", pkce.Method)
	}
	return c.BaseURL + "/oauth2/v1/authorize?" + q.Encode()
}

// ExchangeCode redeems an authorization code for tokens.
func (c *SDKClient) ExchangeCode(ctx context.Context, code, verifier string) (*TokenResponse, error) {
	data := url.Values{
		"grant_type":   {"authorization_code"},
		"code":         {code},
		"redirect_uri": {c.RedirectURI},
		"client_id":    {c.ClientID},
	}
	if c.ClientSecret != "" {
		data.Set("client_secret", c.ClientSecret)
	}
	if verifier != "" {
		data.Set("code_verifier", verifier)
	}
	return c.requestToken(ctx, data)
}

// Refresh rotates a refresh token, optionally narrowing scope.
func (c *SDKClient) Refresh(ctx context.Context, refreshToken string, scopes []string) (*TokenResponse, error) {
	data := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
		"client_id":     {c.ClientID},
	}
	if c.ClientSecret != "" {
		data.Set("client_secret", c.ClientSecret)
	}
	if len(scopes) > 0 {
		data.Set("scope", strings.Join(scopes, " "))
	}
	return c.requestToken(ctx, data)
}

// Revoke invalidates a refresh token at the revocation endpoint.
func (c *SDKClient) Revoke(ctx context.Context, token string) error {
	data := url.Values{
		"token":     {token},
		"client_id": {c.ClientID},
	}
	if c.ClientSecret != "" {
		data.Set("client_secret", c.ClientSecret)
	}

	resp, body, err := c.postForm(ctx, "/oauth2/v1/revoke", data)
	if err != nil {
		return err
	}
	return parseErrorResponse(resp, body)
}

// UserInfo fetches the claims for an access token.
func (c *SDKClient) UserInfo(ctx context.Context, accessToken string) (*UserInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/oauth2/v1/userinfo", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if err := parseErrorResponse(resp, body); err != nil {
		return nil, err
	}

	var info UserInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("decode userinfo: %w", err)
	}
	return &info, nil
}

// Discover fetches the provider metadata document.
func (c *SDKClient) Discover(ctx context.Context) (*Discovery, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.BaseURL+"/.well-known/openid-configuration", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if err := parseErrorResponse(resp, body); err != nil {
		return nil, err
	}

	var doc Discovery
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("decode discovery: %w", err)
	}
	return &doc, nil
}

func (c *SDKClient) requestToken(ctx context.Context, data url.Values) (*TokenResponse, error) {
	resp, body, err := c.postForm(ctx, "/oauth2/v1/token", data)
	if err != nil {
		return nil, err
	}
	if err := parseErrorResponse(resp, body); err != nil {
		return nil, err
	}

	var tokenResp TokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return nil, fmt.Errorf("decode token response: %w", err)
	}
	return &tokenResp, nil
}

func (c *SDKClient) postForm(ctx context.Context, path string, data url.Values) (*http.Response, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.BaseURL+path, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	return resp, body, nil
}
