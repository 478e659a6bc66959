package gcs

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/angelmondragon/visitorpass-backend/pkg/config"
)

const (
	tokenEndpoint    = "https://oauth2.googleapis.com/token"
	storageScope     = "https://www.googleapis.com/auth/devstorage.read_write"
	metadataTokenURL = "http://metadata.google.internal/computeMetadata/v1/instance/service-accounts/default/token"
	assertionTTL     = time.Hour
	refreshMargin    = time.Minute
)

// tokenSource caches an OAuth access token and refreshes it shortly before
// it expires.
type tokenSource struct {
	mu     sync.Mutex
	token  string
	expiry time.Time
	fetch  func(context.Context) (string, time.Time, error)
}

func (t *tokenSource) Token(ctx context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.token != "" && time.Until(t.expiry) > refreshMargin {
		return t.token, nil
	}

	token, expiry, err := t.fetch(ctx)
	if err != nil {
		return "", err
	}
	t.token = token
	t.expiry = expiry
	return token, nil
}

// newTokenSource picks inline credentials, then a credentials file, then the
// instance metadata server.
func newTokenSource(httpClient *http.Client, gcp config.GCPConfig) (*tokenSource, error) {
	switch {
	case gcp.CredentialsJSON != "":
		return newServiceAccountTokenSource(httpClient, []byte(gcp.CredentialsJSON))
	case gcp.ApplicationCredentials != "":
		raw, err := os.ReadFile(gcp.ApplicationCredentials)
		if err != nil {
			return nil, fmt.Errorf("reading credentials file: %w", err)
		}
		return newServiceAccountTokenSource(httpClient, raw)
	default:
		return &tokenSource{fetch: func(ctx context.Context) (string, time.Time, error) {
			return exchangeToken(ctx, httpClient, metadataRequest)
		}}, nil
	}
}

type serviceAccount struct {
	ClientEmail string `json:"client_email"`
	PrivateKey  string `json:"private_key"`
	TokenURI    string `json:"token_uri"`
}

func newServiceAccountTokenSource(httpClient *http.Client, raw []byte) (*tokenSource, error) {
	var sa serviceAccount
	if err := json.Unmarshal(raw, &sa); err != nil {
		return nil, fmt.Errorf("parsing service account credentials: %w", err)
	}
	if sa.ClientEmail == "" || sa.PrivateKey == "" {
		return nil, errors.New("invalid service account credentials")
	}
	if sa.TokenURI == "" {
		sa.TokenURI = tokenEndpoint
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(sa.PrivateKey))
	if err != nil {
		return nil, fmt.Errorf("parsing service account key: %w", err)
	}

	return &tokenSource{fetch: func(ctx context.Context) (string, time.Time, error) {
		assertion, err := signAssertion(sa, key, time.Now())
		if err != nil {
			return "", time.Time{}, err
		}
		return exchangeToken(ctx, httpClient, assertionRequest(sa.TokenURI, assertion))
	}}, nil
}

type assertionClaims struct {
	Scope string `json:"scope"`
	jwt.RegisteredClaims
}

// signAssertion builds the RS256 bearer assertion Google exchanges for an
// access token.
func signAssertion(sa serviceAccount, key *rsa.PrivateKey, now time.Time) (string, error) {
	claims := assertionClaims{
		Scope: storageScope,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    sa.ClientEmail,
			Audience:  jwt.ClaimStrings{sa.TokenURI},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(assertionTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
}

func assertionRequest(tokenURI, assertion string) func(context.Context) (*http.Request, error) {
	return func(ctx context.Context) (*http.Request, error) {
		form := url.Values{}
		form.Set("grant_type", "urn:ietf:params:oauth:grant-type:jwt-bearer")
		form.Set("assertion", assertion)
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURI, strings.NewReader(form.Encode()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req, nil
	}
}

func metadataRequest(ctx context.Context) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, metadataTokenURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Metadata-Flavor", "Google")
	return req, nil
}

// exchangeToken runs a token request and decodes the standard OAuth reply.
func exchangeToken(ctx context.Context, httpClient *http.Client, build func(context.Context) (*http.Request, error)) (string, time.Time, error) {
	req, err := build(ctx)
	if err != nil {
		return "", time.Time{}, err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return "", time.Time{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", time.Time{}, responseError("token request failed", resp)
	}

	var body struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", time.Time{}, err
	}
	if body.AccessToken == "" {
		return "", time.Time{}, errors.New("token response missing access_token")
	}
	return body.AccessToken, time.Now().Add(time.Duration(body.ExpiresIn) * time.Second), nil
}
