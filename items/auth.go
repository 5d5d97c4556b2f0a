package items

import (
	"context"
	"errors"

	"golang.org/x/oauth2/clientcredentials"
)

var ErrMissingCredentials = errors.New("missing client credentials")

// Authenticate performs a single OAuth2 client-credentials token fetch and
// returns the access token. The token is not refreshed; a dump run that
// outlives its token fails on the next API call.
func Authenticate(ctx context.Context, tokenURL, clientID, clientSecret string) (string, error) {
	if clientID == "" || clientSecret == "" {
		return "", ErrMissingCredentials
	}
	cfg := clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     tokenURL,
	}
	tok, err := cfg.Token(ctx)
	if err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}
