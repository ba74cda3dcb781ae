package credential

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
)

// Authorizer performs the provider's OAuth exchanges
type Authorizer interface {
	// AuthCodeURL returns the URL the user visits to grant access.
	AuthCodeURL() string

	// Exchange trades a one-time authorization code for tokens.
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)

	// Refresh trades a refresh token for a new access token.
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)
}

// GoogleAuthorizer implements Authorizer against Google's OAuth endpoint
// with the Gmail modify scope
type GoogleAuthorizer struct {
	config *oauth2.Config
}

// NewGoogleAuthorizer creates an authorizer for a Google OAuth client
func NewGoogleAuthorizer(clientID, clientSecret, redirectURI string) *GoogleAuthorizer {
	return &GoogleAuthorizer{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURI,
			Scopes:       []string{gmail.GmailModifyScope},
			Endpoint:     google.Endpoint,
		},
	}
}

// AuthCodeURL returns the consent page URL
func (a *GoogleAuthorizer) AuthCodeURL() string {
	return a.config.AuthCodeURL("state-token", oauth2.AccessTypeOffline)
}

// Exchange trades an authorization code for tokens
func (a *GoogleAuthorizer) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	tok, err := a.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange authorization code: %w", err)
	}
	return tok, nil
}

// Refresh trades a refresh token for a fresh access token
func (a *GoogleAuthorizer) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	ts := a.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	tok, err := ts.Token()
	if err != nil {
		return nil, fmt.Errorf("failed to refresh token: %w", err)
	}
	return tok, nil
}

// CodePrompter obtains the one-time authorization code from the user after
// they visit the consent URL
type CodePrompter func(authURL string) (string, error)

// StdinPrompter prints the consent URL and reads the code from stdin
func StdinPrompter(authURL string) (string, error) {
	fmt.Printf("Authorize this app by visiting this url:\n%s\n", authURL)
	fmt.Print("Enter the code from that page here: ")

	reader := bufio.NewReader(os.Stdin)
	code, err := reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("failed to read authorization code: %w", err)
	}
	return strings.TrimSpace(code), nil
}
