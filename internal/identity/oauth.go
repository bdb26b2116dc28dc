package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"quill/internal/models"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
)

const googleUserInfoURL = "https://openidconnect.googleapis.com/v1/userinfo"

// ExternalIdentity is the account a third-party provider vouches for.
type ExternalIdentity struct {
	Provider string
	Subject  string
	Email    string
	Name     string
	Picture  string
	Verified bool
}

// OAuthProvider runs one provider's redirect flow.
type OAuthProvider interface {
	Name() string
	AuthCodeURL(state string) string
	Identify(ctx context.Context, code string) (*ExternalIdentity, error)
}

// GoogleProvider is the OpenID Connect redirect flow against Google.
type GoogleProvider struct {
	conf        *oauth2.Config
	userInfoURL string
}

// NewGoogleProvider returns nil when no client id is configured.
func NewGoogleProvider(clientID, clientSecret, redirectURL string) *GoogleProvider {
	if clientID == "" {
		return nil
	}
	return &GoogleProvider{
		conf: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Endpoint:     endpoints.Google,
			Scopes:       []string{"openid", "email", "profile"},
		},
		userInfoURL: googleUserInfoURL,
	}
}

func (g *GoogleProvider) Name() string { return models.ProviderGoogle }

func (g *GoogleProvider) AuthCodeURL(state string) string {
	return g.conf.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

// Identify exchanges code and fetches the userinfo document.
func (g *GoogleProvider) Identify(ctx context.Context, code string) (*ExternalIdentity, error) {
	tok, err := g.conf.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange code: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.userInfoURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := g.conf.Client(ctx, tok).Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch userinfo: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("userinfo status %d: %s", resp.StatusCode, body)
	}

	var info struct {
		Sub           string `json:"sub"`
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
		Name          string `json:"name"`
		Picture       string `json:"picture"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("decode userinfo: %w", err)
	}
	if info.Sub == "" {
		return nil, fmt.Errorf("userinfo has no subject")
	}

	return &ExternalIdentity{
		Provider: g.Name(),
		Subject:  info.Sub,
		Email:    info.Email,
		Name:     info.Name,
		Picture:  info.Picture,
		Verified: info.EmailVerified,
	}, nil
}
