package domain

import (
	"time"

	"golang.org/x/oauth2"
)

// AuthCredential is the bearer token obtained from the device flow.
type AuthCredential struct {
	AccessToken string
	FetchedAt   time.Time
}

// String never prints the token.
func (c AuthCredential) String() string {
	if c.AccessToken == "" {
		return "AuthCredential{empty}"
	}
	return "AuthCredential{redacted, fetched " + c.FetchedAt.Format(time.RFC3339) + "}"
}

// OAuth2Token converts the credential for use with an oauth2.TokenSource.
func (c AuthCredential) OAuth2Token() *oauth2.Token {
	return &oauth2.Token{AccessToken: c.AccessToken, TokenType: "Bearer"}
}

// AuthenticatedUser is the identity behind a validated credential.
// It is re-derived on each validation and never persisted.
type AuthenticatedUser struct {
	Login      string `json:"login"`
	Name       string `json:"name"`
	AvatarURL  string `json:"avatar_url"`
	ProfileURL string `json:"html_url"`
}

// DisplayName returns Name when set, otherwise Login.
func (u AuthenticatedUser) DisplayName() string {
	if u.Name != "" {
		return u.Name
	}
	return u.Login
}
