package kustoingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/golang-jwt/jwt/v5"
)

// tokens are refreshed this long before they expire
const tokenExpirySkew = 5 * time.Minute

// AccessTokenLoader is used on Bearer authentication. The token may have a limited
// lifetime, you can rotate your token by this interface.
type AccessTokenLoader interface {
	// LoadAccessToken is called whenever a new request is made to the server.
	LoadAccessToken(ctx context.Context, forceRotate bool) (string, error)
}

type StaticAccessTokenLoader struct {
	AccessToken string
}

func NewStaticAccessTokenLoader(accessToken string) *StaticAccessTokenLoader {
	return &StaticAccessTokenLoader{
		AccessToken: accessToken,
	}
}

func (l *StaticAccessTokenLoader) LoadAccessToken(ctx context.Context, forceRotate bool) (string, error) {
	return l.AccessToken, nil
}

type FileAccessTokenLoader struct {
	path string
}

type FileAccessTokenData struct {
	AccessToken string `toml:"access_token"`
}

func NewFileAccessTokenLoader(path string) *FileAccessTokenLoader {
	return &FileAccessTokenLoader{
		path: path,
	}
}

func (l *FileAccessTokenLoader) LoadAccessToken(ctx context.Context, forceRotate bool) (string, error) {
	data := &FileAccessTokenData{}
	_, err := toml.DecodeFile(l.path, &data)
	if err != nil {
		return "", err
	}
	return data.AccessToken, nil
}

// ClientCredentialsTokenLoader obtains tokens with the OAuth2 client
// credentials grant and caches them until shortly before they expire.
type ClientCredentialsTokenLoader struct {
	cli          *http.Client
	tokenURL     string
	clientID     string
	clientSecret string
	scope        string
	now          func() time.Time

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

type tokenResponse struct {
	TokenType   string      `json:"token_type"`
	ExpiresIn   json.Number `json:"expires_in"`
	AccessToken string      `json:"access_token"`
}

// NewClientCredentialsTokenLoader returns a loader for tokens scoped to resource,
// e.g. "https://mycluster.westeurope.kusto.windows.net".
func NewClientCredentialsTokenLoader(cli *http.Client, authorityHost string, creds Credentials, resource string) *ClientCredentialsTokenLoader {
	if cli == nil {
		cli = http.DefaultClient
	}
	return &ClientCredentialsTokenLoader{
		cli:          cli,
		tokenURL:     fmt.Sprintf("%s/%s/oauth2/v2.0/token", strings.TrimSuffix(authorityHost, "/"), url.PathEscape(creds.TenantID)),
		clientID:     creds.ClientID,
		clientSecret: creds.ClientSecret,
		scope:        strings.TrimSuffix(resource, "/") + "/.default",
		now:          time.Now,
	}
}

func (l *ClientCredentialsTokenLoader) LoadAccessToken(ctx context.Context, forceRotate bool) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !forceRotate && l.token != "" && l.now().Before(l.expiresAt.Add(-tokenExpirySkew)) {
		return l.token, nil
	}

	resp, err := l.requestToken(ctx)
	if err != nil {
		return "", err
	}
	l.token = resp.AccessToken
	l.expiresAt = l.expiry(resp)
	return l.token, nil
}

func (l *ClientCredentialsTokenLoader) requestToken(ctx context.Context) (*tokenResponse, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", l.clientID)
	form.Set("client_secret", l.clientSecret)
	form.Set("scope", l.scope)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set(contentType, formContentType)
	req.Header.Set(accept, jsonContentType)

	httpResp, err := l.cli.Do(req)
	if err != nil {
		return nil, errors.Join(ErrDoRequest, err)
	}
	defer func() {
		_ = httpResp.Body.Close()
	}()
	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, errors.Join(ErrReadResponse, err)
	}

	if httpResp.StatusCode >= 500 {
		return nil, NewAPIError("token endpoint unavailable, please retry again later", httpResp.StatusCode, body)
	} else if httpResp.StatusCode != http.StatusOK {
		return nil, errors.Join(ErrAuthentication, NewAPIError("please check tenant, client id and secret", httpResp.StatusCode, body))
	}

	var resp tokenResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token response: %w", err)
	}
	if resp.AccessToken == "" {
		return nil, errors.Join(ErrAuthentication, errors.New("token endpoint returned no access_token"))
	}
	return &resp, nil
}

// expiry prefers the exp claim of the token itself and falls back to expires_in.
func (l *ClientCredentialsTokenLoader) expiry(resp *tokenResponse) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(resp.AccessToken, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			return exp.Time
		}
	}
	if secs, err := resp.ExpiresIn.Int64(); err == nil {
		return l.now().Add(time.Duration(secs) * time.Second)
	}
	return l.now()
}

func initAccessTokenLoader(cfg *Config, creds Credentials, cli *http.Client, resource string) AccessTokenLoader {
	if cfg.AccessTokenLoader != nil {
		return cfg.AccessTokenLoader
	} else if cfg.AccessTokenFile != "" {
		return NewFileAccessTokenLoader(cfg.AccessTokenFile)
	} else if cfg.AccessToken != "" {
		return NewStaticAccessTokenLoader(cfg.AccessToken)
	} else if creds.AccessToken != "" {
		return NewStaticAccessTokenLoader(creds.AccessToken)
	} else if creds.TenantID != "" {
		return NewClientCredentialsTokenLoader(cli, cfg.AuthorityHost, creds, resource)
	}
	return nil
}
