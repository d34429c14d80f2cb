package docusign

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// OAuth is the provider's authorization-code OAuth client.
type OAuth struct {
	AuthBaseURL    string
	IntegrationKey string
	SecretKey      string
	RedirectURI    string

	http *http.Client
}

// NewOAuth creates an OAuth client against the given auth host, e.g.
// https://account-d.docusign.com for the developer sandbox.
func NewOAuth(authBaseURL, integrationKey, secretKey, redirectURI string) *OAuth {
	return &OAuth{
		AuthBaseURL:    strings.TrimRight(authBaseURL, "/"),
		IntegrationKey: integrationKey,
		SecretKey:      secretKey,
		RedirectURI:    redirectURI,
		http:           &http.Client{Timeout: 15 * time.Second},
	}
}

// AuthURL builds the consent URL a compliance officer visits to connect
// their provider account.
func (o *OAuth) AuthURL(state string) string {
	u, _ := url.Parse(o.AuthBaseURL + "/oauth/auth")
	q := u.Query()
	q.Set("response_type", "code")
	q.Set("scope", "signature extended")
	q.Set("client_id", o.IntegrationKey)
	q.Set("redirect_uri", o.RedirectURI)
	if state != "" {
		q.Set("state", state)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// ExchangeCode trades an authorization code for tokens.
func (o *OAuth) ExchangeCode(ctx context.Context, code string) (*TokenPair, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	return o.tokenRequest(ctx, form)
}

// Refresh trades a refresh token for a fresh token pair.
func (o *OAuth) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	return o.tokenRequest(ctx, form)
}

func (o *OAuth) tokenRequest(ctx context.Context, form url.Values) (*TokenPair, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.AuthBaseURL+"/oauth/token", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	basic := base64.StdEncoding.EncodeToString([]byte(o.IntegrationKey + ":" + o.SecretKey))
	req.Header.Set("Authorization", "Basic "+basic)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := o.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &APIError{StatusCode: resp.StatusCode, Endpoint: "/oauth/token", Body: string(body)}
	}
	var tp TokenPair
	if err := json.NewDecoder(resp.Body).Decode(&tp); err != nil {
		return nil, fmt.Errorf("decode token response: %w", err)
	}
	if tp.AccessToken == "" {
		return nil, fmt.Errorf("no access_token in response")
	}
	return &tp, nil
}

// GetUserInfo fetches the identity and account memberships behind a token.
func (o *OAuth) GetUserInfo(ctx context.Context, accessToken string) (*UserInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.AuthBaseURL+"/oauth/userinfo", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := o.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &APIError{StatusCode: resp.StatusCode, Endpoint: "/oauth/userinfo", Body: string(body)}
	}
	var ui UserInfo
	if err := json.NewDecoder(resp.Body).Decode(&ui); err != nil {
		return nil, fmt.Errorf("decode userinfo: %w", err)
	}
	return &ui, nil
}
