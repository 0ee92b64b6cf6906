package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/sirupsen/logrus"

	"github.com/retailcore/posclient"
)

// Anonymous session endpoints. These never carry a bearer header: the refresh
// call in particular must not re-enter the coordinator.
const (
	loginPath   = "/auth/login"
	refreshPath = "/auth/refresh"
)

// defaultRefreshTimeout bounds the single-flight refresh call. The refresh
// runs detached from the triggering request's context so one caller's
// cancellation cannot fail the whole waiting cohort.
const defaultRefreshTimeout = 15 * time.Second

// TokenCoordinator is an http.RoundTripper that owns the session credentials.
// It attaches the bearer header to every outbound call except the anonymous
// session endpoints, refreshes the access token on expiry with a single-flight
// protocol, and replays the failing request exactly once with the new token.
//
// Under N concurrent requests that all fail unauthorized at the same moment,
// exactly one refresh network call is made; every waiter shares its outcome.
// An unauthorized response from a session endpoint itself, or from a request
// that was already replayed, is unrecoverable: credentials are purged and the
// session-expired callback fires so the UI can redirect to login.
//
// No component outside this type reads the raw tokens.
type TokenCoordinator struct {
	kv               posclient.KeyValueStore
	transport        http.RoundTripper
	baseURL          string
	refreshTimeout   time.Duration
	onSessionExpired func()
	log              *logrus.Logger

	mu         sync.Mutex
	refreshing bool
	waiters    []chan refreshResult
}

type refreshResult struct {
	token string
	err   error
}

// CoordinatorConfig configures a TokenCoordinator.
type CoordinatorConfig struct {
	// KV holds the access and refresh tokens under the posclient key names.
	KV posclient.KeyValueStore

	// BaseURL of the backend, used for the refresh call.
	BaseURL string

	// Transport performs the actual round trips (optional).
	Transport http.RoundTripper

	// RefreshTimeout bounds the refresh network call (optional).
	RefreshTimeout time.Duration

	// OnSessionExpired is invoked after credentials are purged (optional).
	OnSessionExpired func()

	// Logger (optional).
	Logger *logrus.Logger
}

// NewTokenCoordinator creates a coordinator from the given configuration.
func NewTokenCoordinator(cfg *CoordinatorConfig) *TokenCoordinator {
	if cfg == nil {
		cfg = &CoordinatorConfig{}
	}
	transport := cfg.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	timeout := cfg.RefreshTimeout
	if timeout == 0 {
		timeout = defaultRefreshTimeout
	}
	kv := cfg.KV
	if kv == nil {
		kv = posclient.NewMemoryStore()
	}
	return &TokenCoordinator{
		kv:               kv,
		transport:        transport,
		baseURL:          strings.TrimRight(cfg.BaseURL, "/"),
		refreshTimeout:   timeout,
		onSessionExpired: cfg.OnSessionExpired,
		log:              ensureLogger(cfg.Logger),
	}
}

// WrapClient installs the coordinator as the client's transport.
func WrapClient(client *http.Client, tc *TokenCoordinator) *http.Client {
	if client == nil {
		client = &http.Client{}
	}
	client.Transport = tc
	return client
}

// RoundTrip implements http.RoundTripper.
func (t *TokenCoordinator) RoundTrip(req *http.Request) (*http.Response, error) {
	if isAnonymousPath(req.URL.Path) {
		resp, err := t.transport.RoundTrip(req)
		if err == nil && resp.StatusCode == http.StatusUnauthorized {
			// A session endpoint rejecting its own call is unrecoverable.
			t.ExpireSession(req.Context())
		}
		return resp, err
	}

	ctx := req.Context()
	token, err := t.currentToken(ctx)
	if err != nil {
		return nil, err
	}

	attempt := req.Clone(ctx)
	if token != "" {
		attempt.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := t.transport.RoundTrip(attempt)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}

	newToken, refreshErr := t.waitForRefresh(ctx, token)
	if refreshErr != nil {
		// Credentials are already purged; surface the original response.
		return resp, nil
	}

	replay, ok := cloneForReplay(ctx, req)
	if !ok {
		t.log.WithFields(logrus.Fields{"module": "session", "url": req.URL.Path}).
			Warn("cannot replay request after refresh, body is not rewindable")
		return resp, nil
	}
	drainAndClose(resp)

	replay.Header.Set("Authorization", "Bearer "+newToken)
	resp2, err := t.transport.RoundTrip(replay)
	if err != nil {
		return nil, err
	}
	if resp2.StatusCode == http.StatusUnauthorized {
		// Already replayed once: unrecoverable, no second refresh.
		t.ExpireSession(ctx)
	}
	return resp2, nil
}

// currentToken returns the stored access token, refreshing it first when its
// expiry claim has already passed.
func (t *TokenCoordinator) currentToken(ctx context.Context) (string, error) {
	token, ok, err := t.kv.Get(ctx, posclient.KeyAccessToken)
	if err != nil {
		return "", err
	}
	if !ok || token == "" {
		return "", nil
	}
	if tokenExpired(token) {
		return t.waitForRefresh(ctx, token)
	}
	return token, nil
}

// waitForRefresh coordinates the single-flight refresh. The first caller
// performs the network call; concurrent callers enqueue and share its result.
// staleToken is the credential the caller just failed with: when the stored
// token already differs, a refresh completed in the meantime and its result is
// reused without another network call.
func (t *TokenCoordinator) waitForRefresh(ctx context.Context, staleToken string) (string, error) {
	t.mu.Lock()
	if t.refreshing {
		ch := make(chan refreshResult, 1)
		t.waiters = append(t.waiters, ch)
		t.mu.Unlock()
		select {
		case r := <-ch:
			return r.token, r.err
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	t.refreshing = true
	t.mu.Unlock()

	token, err := t.refreshUnlessRotated(staleToken)

	t.mu.Lock()
	waiters := t.waiters
	t.waiters = nil
	t.refreshing = false
	t.mu.Unlock()

	for _, ch := range waiters {
		ch <- refreshResult{token: token, err: err}
	}
	if err != nil {
		t.ExpireSession(context.Background())
	}
	return token, err
}

// refreshUnlessRotated short-circuits when another flight already rotated the
// access token past staleToken.
func (t *TokenCoordinator) refreshUnlessRotated(staleToken string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), t.refreshTimeout)
	defer cancel()

	if staleToken != "" {
		current, ok, err := t.kv.Get(ctx, posclient.KeyAccessToken)
		if err == nil && ok && current != "" && current != staleToken && !tokenExpired(current) {
			return current, nil
		}
	}
	return t.refresh(ctx)
}

// refresh performs exactly one network refresh using the stored refresh
// credential over the anonymous path.
func (t *TokenCoordinator) refresh(ctx context.Context) (string, error) {
	refreshToken, ok, err := t.kv.Get(ctx, posclient.KeyRefreshToken)
	if err != nil {
		return "", err
	}
	if !ok || refreshToken == "" {
		return "", posclient.NewError(posclient.ErrCodeSessionExpired, "no refresh credential stored", nil)
	}

	body, err := json.Marshal(map[string]string{"refreshToken": refreshToken})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+refreshPath, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	// Straight through the base transport: must not re-enter RoundTrip.
	resp, err := t.transport.RoundTrip(req)
	if err != nil {
		return "", posclient.NewError(posclient.ErrCodeNetworkUnreachable,
			"session refresh unreachable: "+err.Error(), nil)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return "", posclient.NewError(posclient.ErrCodeSessionExpired, "session refresh rejected", nil)
	default:
		return "", posclient.NewError(posclient.ErrCodeBackend,
			fmt.Sprintf("session refresh failed (%d)", resp.StatusCode), nil)
	}

	var out struct {
		AccessToken string `json:"accessToken"`
	}
	if err := json.Unmarshal(payload, &out); err != nil || out.AccessToken == "" {
		return "", posclient.NewError(posclient.ErrCodeBackend, "session refresh returned no access token", nil)
	}
	if err := t.kv.Set(ctx, posclient.KeyAccessToken, out.AccessToken); err != nil {
		return "", err
	}
	t.log.WithFields(logrus.Fields{"module": "session"}).Info("access token refreshed")
	return out.AccessToken, nil
}

// ExpireSession purges both credentials and signals the UI to redirect to
// login.
func (t *TokenCoordinator) ExpireSession(ctx context.Context) {
	if err := t.kv.Remove(ctx, posclient.KeyAccessToken, posclient.KeyRefreshToken); err != nil {
		t.log.WithFields(logrus.Fields{"module": "session"}).Error("failed to clear credentials: ", err)
	}
	t.log.WithFields(logrus.Fields{"module": "session"}).Warn("session expired, credentials cleared")
	if t.onSessionExpired != nil {
		t.onSessionExpired()
	}
}

// tokenExpired reads the exp claim without verifying the signature; the
// backend remains the authority on token validity. Opaque tokens fall back to
// the reactive unauthorized path.
func tokenExpired(token string) bool {
	claims := &jwt.StandardClaims{}
	if _, _, err := new(jwt.Parser).ParseUnverified(token, claims); err != nil {
		return false
	}
	return claims.ExpiresAt > 0 && time.Now().Unix() >= claims.ExpiresAt
}

func isAnonymousPath(path string) bool {
	return strings.HasSuffix(path, loginPath) || strings.HasSuffix(path, refreshPath)
}

// cloneForReplay rebuilds the request with a fresh body. Requests whose body
// cannot be rewound are not replayed.
func cloneForReplay(ctx context.Context, req *http.Request) (*http.Request, bool) {
	clone := req.Clone(ctx)
	if req.Body == nil || req.Body == http.NoBody {
		return clone, true
	}
	if req.GetBody == nil {
		return nil, false
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, false
	}
	clone.Body = body
	return clone, true
}

func drainAndClose(resp *http.Response) {
	if resp.Body != nil {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}
}
