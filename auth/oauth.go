package auth

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/oauth2"
)

// OAuth describes a refresh-token grant against an OAuth2 token endpoint.
type OAuth struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	RefreshToken string
	Scopes       []string
}

// Refresher returns a RefreshFunc that trades the refresh token for a new
// access token. A rotated refresh token replaces the old one.
func (o OAuth) Refresher() RefreshFunc {
	cfg := &oauth2.Config{
		ClientID:     o.ClientID,
		ClientSecret: o.ClientSecret,
		Scopes:       o.Scopes,
		Endpoint: oauth2.Endpoint{
			TokenURL:  o.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}

	var mu sync.Mutex
	refreshToken := o.RefreshToken

	return func(ctx context.Context) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		if refreshToken == "" {
			return "", errors.New("no refresh token")
		}
		tok, err := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
		if err != nil {
			return "", err
		}
		if tok.RefreshToken != "" {
			refreshToken = tok.RefreshToken
		}
		return tok.AccessToken, nil
	}
}
