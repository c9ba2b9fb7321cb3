package creds

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// expirySkew refreshes tokens slightly before their reported expiry so
// an in-flight grid fetch does not race the cutoff.
const expirySkew = 20 * time.Second

const userInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"

// TokenBundle is the opaque credential set held on a connection.
type TokenBundle struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	AccountEmail string
}

// Client performs the OAuth code exchange and refresh against Google's
// token endpoint. Tokens pass through it opaquely and are never logged.
type Client struct {
	cfg *oauth2.Config
}

func NewClient(clientID, clientSecret, redirectURL string) *Client {
	return &Client{
		cfg: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Endpoint:     google.Endpoint,
			Scopes: []string{
				"https://www.googleapis.com/auth/spreadsheets.readonly",
				"https://www.googleapis.com/auth/userinfo.email",
			},
		},
	}
}

// AuthURL returns the consent URL the wizard redirects the user to.
// offline access is required so a refresh token is issued.
func (c *Client) AuthURL(state string) string {
	return c.cfg.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"))
}

// ExchangeCode trades an authorization code for an access/refresh token
// pair plus the account email of the granting user.
func (c *Client) ExchangeCode(ctx context.Context, code string) (*TokenBundle, error) {
	tok, err := c.cfg.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("code exchange failed: %w", err)
	}
	if tok.RefreshToken == "" {
		return nil, errors.New("token response carried no refresh token")
	}

	email, err := c.fetchAccountEmail(ctx, tok)
	if err != nil {
		// Email is informational only; the tokens are still usable.
		log.Warn().Err(err).Msg("Failed to resolve account email after code exchange")
	}

	return &TokenBundle{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
		AccountEmail: email,
	}, nil
}

// Refresh obtains a fresh access token from a refresh token. The
// refresh token itself may rotate; callers must persist the returned
// bundle.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*TokenBundle, error) {
	src := c.cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("token refresh failed: %w", err)
	}

	bundle := &TokenBundle{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
	}
	if bundle.RefreshToken == "" {
		bundle.RefreshToken = refreshToken
	}
	return bundle, nil
}

// Expired reports whether an access token needs refreshing before use.
// A nil expiry is treated as still valid; the API itself is the
// authority and auth failures trigger a refresh anyway.
func Expired(expiresAt *time.Time) bool {
	if expiresAt == nil || expiresAt.IsZero() {
		return false
	}
	return time.Now().After(expiresAt.Add(-expirySkew))
}

func (c *Client) fetchAccountEmail(ctx context.Context, tok *oauth2.Token) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, userInfoURL, nil)
	if err != nil {
		return "", err
	}
	tok.SetAuthHeader(req)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("userinfo returned status %d", resp.StatusCode)
	}

	var body struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}
	return body.Email, nil
}
