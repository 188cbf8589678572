package auth

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/go-github/v68/github"
	"golang.org/x/oauth2"

	"github.com/waabox/devicelink/internal/domain"
	"github.com/waabox/devicelink/internal/metrics"
)

// GitHubValidator resolves the user behind an access token.
type GitHubValidator struct {
	apiURL string
}

// NewGitHubValidator creates a GitHubValidator.
// Pass an empty apiURL to use api.github.com.
func NewGitHubValidator(apiURL string) *GitHubValidator {
	return &GitHubValidator{apiURL: apiURL}
}

// Validate fetches the authenticated user for token.
// A 401, 403 or 404 answer means the token is unusable and is reported as
// domain.KindInvalidCredential; anything else as domain.KindProviderUnavailable.
func (v *GitHubValidator) Validate(ctx context.Context, token string) (domain.AuthenticatedUser, error) {
	client, err := v.client(ctx, token)
	if err != nil {
		return domain.AuthenticatedUser{}, domain.NewAuthError(domain.KindProviderUnavailable, err)
	}

	user, resp, err := client.Users.Get(ctx, "")
	if err != nil {
		if resp != nil {
			switch resp.StatusCode {
			case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
				metrics.Validations.WithLabelValues("invalid").Inc()
				return domain.AuthenticatedUser{}, &domain.AuthError{Kind: domain.KindInvalidCredential, Status: resp.StatusCode, Err: err}
			}
			metrics.Validations.WithLabelValues("error").Inc()
			return domain.AuthenticatedUser{}, &domain.AuthError{Kind: domain.KindProviderUnavailable, Status: resp.StatusCode, Err: err}
		}
		metrics.Validations.WithLabelValues("error").Inc()
		return domain.AuthenticatedUser{}, domain.NewAuthError(domain.KindProviderUnavailable, fmt.Errorf("fetching user: %w", err))
	}

	metrics.Validations.WithLabelValues("valid").Inc()
	return domain.AuthenticatedUser{
		Login:      user.GetLogin(),
		Name:       user.GetName(),
		AvatarURL:  user.GetAvatarURL(),
		ProfileURL: user.GetHTMLURL(),
	}, nil
}

func (v *GitHubValidator) client(ctx context.Context, token string) (*github.Client, error) {
	src := oauth2.StaticTokenSource(domain.AuthCredential{AccessToken: token}.OAuth2Token())
	client := github.NewClient(oauth2.NewClient(ctx, src))
	if v.apiURL != "" {
		base, err := url.Parse(strings.TrimRight(v.apiURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("parsing API URL: %w", err)
		}
		client.BaseURL = base
	}
	return client, nil
}
