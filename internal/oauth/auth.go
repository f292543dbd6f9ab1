package oauth

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-resty/resty/v2"
	"github.com/tripwise/relay/internal/config"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const apiKeyHeader = "api-key"

// Authenticator attaches upstream credentials to an outbound request. Any
// network work it does is bounded by ctx.
type Authenticator interface {
	Authenticate(ctx context.Context, req *resty.Request) error
	Mode() string
}

// New returns the authenticator selected by cfg.Auth.Mode
func New(cfg config.UpstreamConfig, logger *zap.Logger) (Authenticator, error) {
	switch cfg.Auth.Mode {
	case "", config.AuthModeAPIKey:
		return NewAPIKey(cfg.APIKey), nil
	case config.AuthModeEntra:
		return NewClientCredentials(cfg.Auth, logger), nil
	default:
		return nil, fmt.Errorf("unknown auth mode: %q", cfg.Auth.Mode)
	}
}

// APIKey sends a static key in the api-key header
type APIKey struct {
	key string
}

func NewAPIKey(key string) *APIKey {
	return &APIKey{key: key}
}

func (a *APIKey) Authenticate(ctx context.Context, req *resty.Request) error {
	req.SetHeader(apiKeyHeader, a.key)
	return nil
}

func (a *APIKey) Mode() string { return config.AuthModeAPIKey }

// ClientCredentials obtains bearer tokens from Microsoft Entra ID with the
// client-credentials grant. Tokens are cached until shortly before expiry;
// a refresh runs under the caller's context.
type ClientCredentials struct {
	cc     *clientcredentials.Config
	logger *zap.Logger

	mu    sync.Mutex
	token *oauth2.Token
}

func NewClientCredentials(cfg config.AuthConfig, logger *zap.Logger) *ClientCredentials {
	return &ClientCredentials{
		cc: &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
			AuthStyle:    oauth2.AuthStyleInParams,
		},
		logger: logger,
	}
}

func (c *ClientCredentials) Authenticate(ctx context.Context, req *resty.Request) error {
	token, err := c.current(ctx)
	if err != nil {
		c.logger.Error("Failed to obtain upstream token", zap.Error(err))
		return fmt.Errorf("failed to obtain upstream token: %w", err)
	}
	req.SetAuthToken(token.AccessToken)
	return nil
}

// current returns the cached token or fetches a new one with ctx
func (c *ClientCredentials) current(ctx context.Context) (*oauth2.Token, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Valid() 已预留过期前的刷新余量
	if c.token.Valid() {
		return c.token, nil
	}

	token, err := oauth2.ReuseTokenSource(c.token, c.cc.TokenSource(ctx)).Token()
	if err != nil {
		return nil, err
	}
	c.token = token
	return token, nil
}

func (c *ClientCredentials) Mode() string { return config.AuthModeEntra }
