package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	githuboauth "golang.org/x/oauth2/github"

	"github.com/waabox/devicelink/internal/domain"
)

// DefaultScope is requested when no scope is configured. Identity only.
const DefaultScope = "read:user"

const deviceGrantType = "urn:ietf:params:oauth:grant-type:device_code"

// maxBodySnippet bounds how much of an error body is kept for diagnostics.
const maxBodySnippet = 512

// GitHubDeviceFlow implements the OAuth 2.0 Device Authorization Flow for GitHub.
// It performs single requests only; polling is owned by Poller.
// See https://docs.github.com/en/apps/oauth-apps/building-oauth-apps/authorizing-oauth-apps#device-flow
type GitHubDeviceFlow struct {
	clientID string
	scope    string
	endpoint oauth2.Endpoint
	client   *http.Client
}

// NewGitHubDeviceFlow creates a GitHubDeviceFlow.
// Pass an empty baseURL to use github.com. Pass a test server or GitHub Enterprise URL otherwise.
func NewGitHubDeviceFlow(clientID, scope, baseURL string) *GitHubDeviceFlow {
	if scope == "" {
		scope = DefaultScope
	}
	endpoint := githuboauth.Endpoint
	if baseURL != "" {
		endpoint = EndpointFor(baseURL)
	}
	return &GitHubDeviceFlow{
		clientID: clientID,
		scope:    scope,
		endpoint: endpoint,
		client:   &http.Client{Timeout: 15 * time.Second},
	}
}

// EndpointFor returns the device flow endpoints of a GitHub instance rooted at baseURL.
func EndpointFor(baseURL string) oauth2.Endpoint {
	base := strings.TrimRight(baseURL, "/")
	return oauth2.Endpoint{
		AuthURL:       base + "/login/oauth/authorize",
		TokenURL:      base + "/login/oauth/access_token",
		DeviceAuthURL: base + "/login/device/code",
	}
}

// Endpoint returns the endpoints this flow talks to.
func (f *GitHubDeviceFlow) Endpoint() oauth2.Endpoint {
	return f.endpoint
}

// RequestCode requests a device code and user code from GitHub.
// The returned session's UserCode must be shown to the user along with VerificationURI.
// Failures are reported as domain.KindProviderUnavailable and never retried here.
func (f *GitHubDeviceFlow) RequestCode(ctx context.Context) (domain.DeviceFlowSession, error) {
	data := url.Values{}
	data.Set("client_id", f.clientID)
	data.Set("scope", f.scope)

	resp, err := f.postForm(ctx, f.endpoint.DeviceAuthURL, data)
	if err != nil {
		return domain.DeviceFlowSession{}, domain.NewAuthError(domain.KindProviderUnavailable, fmt.Errorf("requesting device code: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return domain.DeviceFlowSession{}, &domain.AuthError{
			Kind:   domain.KindProviderUnavailable,
			Status: resp.StatusCode,
			Body:   readSnippet(resp.Body),
		}
	}

	var raw struct {
		DeviceCode      string `json:"device_code"`
		UserCode        string `json:"user_code"`
		VerificationURI string `json:"verification_uri"`
		ExpiresIn       int    `json:"expires_in"`
		Interval        int    `json:"interval"`
		Error           string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return domain.DeviceFlowSession{}, domain.NewAuthError(domain.KindProviderUnavailable, fmt.Errorf("decoding device code response: %w", err))
	}
	// GitHub answers 200 with an error body for e.g. a disabled device flow.
	if raw.Error != "" || raw.DeviceCode == "" {
		return domain.DeviceFlowSession{}, &domain.AuthError{
			Kind:   domain.KindProviderUnavailable,
			Status: resp.StatusCode,
			Body:   truncate(raw.Error),
			Err:    fmt.Errorf("no device code in response"),
		}
	}
	return domain.DeviceFlowSession{
		DeviceCode:      raw.DeviceCode,
		UserCode:        raw.UserCode,
		VerificationURI: raw.VerificationURI,
		ExpiresIn:       raw.ExpiresIn,
		Interval:        raw.Interval,
	}, nil
}

// ExchangeCode performs one token request for deviceCode and classifies the answer.
// The returned error is non-nil exactly when the outcome is a terminal failure.
func (f *GitHubDeviceFlow) ExchangeCode(ctx context.Context, deviceCode string) (Exchange, error) {
	data := url.Values{}
	data.Set("client_id", f.clientID)
	data.Set("device_code", deviceCode)
	data.Set("grant_type", deviceGrantType)

	resp, err := f.postForm(ctx, f.endpoint.TokenURL, data)
	if err != nil {
		return Exchange{Outcome: TransportError}, domain.NewAuthError(domain.KindTransportError, fmt.Errorf("polling token: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return Exchange{Outcome: RateLimited, Status: resp.StatusCode}, &domain.AuthError{
			Kind:   domain.KindRateLimited,
			Status: resp.StatusCode,
			Body:   readSnippet(resp.Body),
		}
	}

	var raw struct {
		AccessToken      string `json:"access_token"`
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
		Interval         int    `json:"interval"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return Exchange{Outcome: TransportError, Status: resp.StatusCode}, &domain.AuthError{
			Kind:   domain.KindTransportError,
			Status: resp.StatusCode,
			Err:    fmt.Errorf("decoding token response: %w", err),
		}
	}

	ex := Exchange{Status: resp.StatusCode, ErrorCode: raw.Error, Interval: raw.Interval}
	switch raw.Error {
	case "":
		if raw.AccessToken == "" {
			ex.Outcome = TransportError
			return ex, &domain.AuthError{
				Kind:   domain.KindTransportError,
				Status: resp.StatusCode,
				Err:    fmt.Errorf("token response carried neither token nor error"),
			}
		}
		ex.Outcome = TokenReceived
		ex.AccessToken = raw.AccessToken
		return ex, nil
	case "authorization_pending":
		ex.Outcome = AuthorizationPending
		return ex, nil
	case "slow_down":
		ex.Outcome = SlowDown
		return ex, nil
	default:
		ex.Outcome = DeniedOrExpired
		desc := raw.Error
		if raw.ErrorDescription != "" {
			desc = raw.Error + ": " + raw.ErrorDescription
		}
		return ex, &domain.AuthError{
			Kind:   domain.KindAuthorizationDenied,
			Status: resp.StatusCode,
			Body:   truncate(desc),
		}
	}
}

func (f *GitHubDeviceFlow) postForm(ctx context.Context, endpoint string, data url.Values) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return f.client.Do(req)
}

func readSnippet(r io.Reader) string {
	body, _ := io.ReadAll(io.LimitReader(r, maxBodySnippet))
	return strings.TrimSpace(string(body))
}

func truncate(s string) string {
	if len(s) > maxBodySnippet {
		return s[:maxBodySnippet]
	}
	return s
}
