package oauth

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jornet-server/internal/config"
	"github.com/jornet-server/internal/domain"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
)

const (
	stateIssuer    = "jornet"
	defaultUserURL = "https://api.github.com/user"
)

// ErrInvalidState is returned for a missing, forged or expired state
var ErrInvalidState = errors.New("invalid oauth state")

// stateClaims is the payload of the signed state parameter
type stateClaims struct {
	jwt.RegisteredClaims
}

// GitHub runs the GitHub web application flow
type GitHub struct {
	oauth    *oauth2.Config
	userURL  string
	secret   []byte
	stateTTL time.Duration
	now      func() time.Time
	client   *http.Client
}

// Option customises a GitHub flow
type Option func(*GitHub)

// WithEndpoints points the flow at other authorize, token and user URLs
func WithEndpoints(authURL, tokenURL, userURL string) Option {
	return func(g *GitHub) {
		g.oauth.Endpoint = oauth2.Endpoint{AuthURL: authURL, TokenURL: tokenURL}
		g.userURL = userURL
	}
}

// WithClock sets the time source for state expiry
func WithClock(now func() time.Time) Option {
	return func(g *GitHub) { g.now = now }
}

// WithHTTPClient sets the client used for the token exchange and user lookup
func WithHTTPClient(client *http.Client) Option {
	return func(g *GitHub) { g.client = client }
}

// NewGitHub creates the flow. Without a configured state secret a random
// one is used, so pending sign-ins do not survive a restart.
func NewGitHub(cfg *config.GitHubConfig, opts ...Option) (*GitHub, error) {
	secret := []byte(cfg.StateSecret)
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("generating state secret: %w", err)
		}
	}

	g := &GitHub{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     github.Endpoint,
		},
		userURL:  defaultUserURL,
		secret:   secret,
		stateTTL: cfg.StateTTL,
		now:      time.Now,
		client:   http.DefaultClient,
	}
	if g.stateTTL <= 0 {
		g.stateTTL = 10 * time.Minute
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// ClientID returns the public OAuth application id
func (g *GitHub) ClientID() string {
	return g.oauth.ClientID
}

// LoginURL returns the GitHub authorize URL carrying a fresh state
func (g *GitHub) LoginURL() (string, error) {
	state, err := g.IssueState()
	if err != nil {
		return "", err
	}
	return g.oauth.AuthCodeURL(state), nil
}

// IssueState signs a single-purpose state token
func (g *GitHub) IssueState() (string, error) {
	now := g.now()
	claims := stateClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    stateIssuer,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(g.stateTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(g.secret)
	if err != nil {
		return "", fmt.Errorf("signing state: %w", err)
	}
	return signed, nil
}

// VerifyState checks the signature and expiry of a returned state
func (g *GitHub) VerifyState(state string) error {
	if state == "" {
		return ErrInvalidState
	}
	_, err := jwt.ParseWithClaims(state, &stateClaims{}, func(*jwt.Token) (any, error) {
		return g.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(stateIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(g.now),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	return nil
}

// Exchange trades an authorization code for the signed-in GitHub user
func (g *GitHub) Exchange(ctx context.Context, code string) (domain.GitHubUser, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, g.client)

	token, err := g.oauth.Exchange(ctx, code)
	if err != nil {
		return domain.GitHubUser{}, fmt.Errorf("exchanging code: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.userURL, nil)
	if err != nil {
		return domain.GitHubUser{}, fmt.Errorf("building user request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", "jornet")

	resp, err := g.oauth.Client(ctx, token).Do(req)
	if err != nil {
		return domain.GitHubUser{}, fmt.Errorf("fetching github user: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.GitHubUser{}, fmt.Errorf("fetching github user: status %d", resp.StatusCode)
	}

	var user domain.GitHubUser
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return domain.GitHubUser{}, fmt.Errorf("decoding github user: %w", err)
	}
	if user.ID == 0 {
		return domain.GitHubUser{}, errors.New("github user has no id")
	}
	return user, nil
}
