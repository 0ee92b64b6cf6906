package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/retailcore/posclient"
)

// Client is the HTTP implementation of posclient.Backend. Every authenticated
// call goes through the TokenCoordinator transport, so callers get transparent
// refresh-and-replay on expiry. Money fields stay decimal strings end to end;
// the client never sends a locally computed total.
type Client struct {
	baseURL         string
	httpClient      *http.Client
	coordinator     *TokenCoordinator
	kv              posclient.KeyValueStore
	log             *logrus.Logger
	validateSchemas bool
}

// ClientConfig configures the backend client.
type ClientConfig struct {
	// BaseURL of the POS backend.
	BaseURL string

	// KV holds session credentials. Defaults to an in-memory store.
	KV posclient.KeyValueStore

	// HTTPClient to use (optional). Its transport is wrapped with the
	// token coordinator.
	HTTPClient *http.Client

	// Timeout for requests when no HTTPClient is supplied (default 30s).
	Timeout time.Duration

	// OnSessionExpired is invoked when the session becomes unrecoverable.
	OnSessionExpired func()

	// Logger (optional).
	Logger *logrus.Logger

	// ValidateSchemas enables JSON-schema validation of cart and order
	// payloads before they are trusted.
	ValidateSchemas bool
}

// NewClient creates a backend client from the given configuration.
func NewClient(cfg *ClientConfig) *Client {
	if cfg == nil {
		cfg = &ClientConfig{}
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	kv := cfg.KV
	if kv == nil {
		kv = posclient.NewMemoryStore()
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	coordinator := NewTokenCoordinator(&CoordinatorConfig{
		KV:               kv,
		BaseURL:          baseURL,
		Transport:        httpClient.Transport,
		OnSessionExpired: cfg.OnSessionExpired,
		Logger:           cfg.Logger,
	})
	httpClient.Transport = coordinator

	return &Client{
		baseURL:         baseURL,
		httpClient:      httpClient,
		coordinator:     coordinator,
		kv:              kv,
		log:             ensureLogger(cfg.Logger),
		validateSchemas: cfg.ValidateSchemas,
	}
}

// Coordinator exposes the session token coordinator, e.g. for manual expiry.
func (c *Client) Coordinator() *TokenCoordinator {
	return c.coordinator
}

// Login creates a session and persists both credentials.
func (c *Client) Login(ctx context.Context, username, password string) (posclient.Session, error) {
	session, err := c.CreateSession(ctx, username, password)
	if err != nil {
		return posclient.Session{}, err
	}
	if err := c.kv.Set(ctx, posclient.KeyAccessToken, session.AccessToken); err != nil {
		return posclient.Session{}, err
	}
	if err := c.kv.Set(ctx, posclient.KeyRefreshToken, session.RefreshToken); err != nil {
		return posclient.Session{}, err
	}
	return session, nil
}

// Logout destroys the stored credentials.
func (c *Client) Logout(ctx context.Context) error {
	return c.kv.Remove(ctx, posclient.KeyAccessToken, posclient.KeyRefreshToken)
}

// CreateSession exchanges credentials for a token pair over the anonymous
// login endpoint.
func (c *Client) CreateSession(ctx context.Context, username, password string) (posclient.Session, error) {
	payload, err := c.do(ctx, http.MethodPost, loginPath, map[string]string{
		"username": username,
		"password": password,
	}, nil)
	if err != nil {
		return posclient.Session{}, err
	}
	var session posclient.Session
	if err := decode(payload, &session); err != nil {
		return posclient.Session{}, err
	}
	return session, nil
}

// ListStores returns the stores visible to the session.
func (c *Client) ListStores(ctx context.Context) ([]posclient.Store, error) {
	payload, err := c.do(ctx, http.MethodGet, "/stores", nil, nil)
	if err != nil {
		return nil, err
	}
	var stores []posclient.Store
	if err := decode(payload, &stores); err != nil {
		return nil, err
	}
	return stores, nil
}

// ListProducts returns a store's catalogue.
func (c *Client) ListProducts(ctx context.Context, storeID string) ([]posclient.Product, error) {
	payload, err := c.do(ctx, http.MethodGet, storePath(storeID)+"/products", nil, nil)
	if err != nil {
		return nil, err
	}
	var products []posclient.Product
	if err := decode(payload, &products); err != nil {
		return nil, err
	}
	return products, nil
}

// FetchCart reads a store's cart.
func (c *Client) FetchCart(ctx context.Context, storeID string) (*posclient.Cart, error) {
	payload, err := c.do(ctx, http.MethodGet, storePath(storeID)+"/cart", nil, nil)
	if err != nil {
		return nil, err
	}
	if c.validateSchemas {
		if err := validateCartDocument(payload); err != nil {
			return nil, err
		}
	}
	var cart posclient.Cart
	if err := decode(payload, &cart); err != nil {
		return nil, err
	}
	return &cart, nil
}

// AddItem adds quantity units of a product to a store's cart.
func (c *Client) AddItem(ctx context.Context, storeID, productID string, quantity int) error {
	_, err := c.do(ctx, http.MethodPost, storePath(storeID)+"/cart/items", map[string]interface{}{
		"productId": productID,
		"quantity":  quantity,
	}, nil)
	return err
}

// UpdateItem sets the absolute quantity of an existing cart line.
func (c *Client) UpdateItem(ctx context.Context, storeID, productID string, quantity int) error {
	_, err := c.do(ctx, http.MethodPatch, storePath(storeID)+"/cart/items/"+url.PathEscape(productID),
		map[string]interface{}{"quantity": quantity}, nil)
	return err
}

// RemoveItem deletes a cart line.
func (c *Client) RemoveItem(ctx context.Context, storeID, productID string) error {
	_, err := c.do(ctx, http.MethodDelete, storePath(storeID)+"/cart/items/"+url.PathEscape(productID), nil, nil)
	return err
}

// ClearCart empties a store's cart.
func (c *Client) ClearCart(ctx context.Context, storeID string) error {
	_, err := c.do(ctx, http.MethodDelete, storePath(storeID)+"/cart", nil, nil)
	return err
}

// Checkout submits the cart for payment. The idempotency key travels as a
// header so backend retries cannot double-charge.
func (c *Client) Checkout(ctx context.Context, storeID string, req posclient.CheckoutRequest) (*posclient.CheckoutResult, error) {
	headers := map[string]string{}
	if req.IdempotencyKey != "" {
		headers["Idempotency-Key"] = req.IdempotencyKey
	}
	payload, err := c.do(ctx, http.MethodPost, storePath(storeID)+"/checkout", req, headers)
	if err != nil {
		return nil, err
	}
	var result posclient.CheckoutResult
	if err := decode(payload, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// OrderStatus reads the settlement state of an out-of-band payment order.
func (c *Client) OrderStatus(ctx context.Context, orderID string) (*posclient.SettlementOrder, error) {
	payload, err := c.do(ctx, http.MethodGet, "/orders/"+url.PathEscape(orderID), nil, nil)
	if err != nil {
		return nil, err
	}
	if c.validateSchemas {
		if err := validateOrderDocument(payload); err != nil {
			return nil, err
		}
	}
	var order posclient.SettlementOrder
	if err := decode(payload, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// do performs one request and returns the raw response payload. Transport
// failures (no response at all) surface as a distinct network-unreachable
// error, never confused with an error status from the backend.
func (c *Client) do(ctx context.Context, method, path string, body interface{}, headers map[string]string) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		var apiErr *posclient.Error
		if errors.As(err, &apiErr) {
			return nil, apiErr
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, posclient.NewError(posclient.ErrCodeNetworkUnreachable,
			"backend unreachable: "+err.Error(), nil)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, decodeAPIError(resp.StatusCode, payload)
	}
	return payload, nil
}

func decode(payload []byte, out interface{}) error {
	if err := json.Unmarshal(payload, out); err != nil {
		return posclient.NewError(posclient.ErrCodeBackend,
			"malformed backend response: "+err.Error(), nil)
	}
	return nil
}

// decodeAPIError derives a human-readable message from the backend's
// structured error shape when available, falling back to a generic one. A
// checkout or refresh failure never surfaces blank.
func decodeAPIError(status int, payload []byte) error {
	code := posclient.ErrCodeBackend
	switch status {
	case http.StatusUnauthorized:
		code = posclient.ErrCodeUnauthorized
	case http.StatusNotFound:
		code = posclient.ErrCodeNotFound
	}

	var structured struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(payload, &structured); err == nil && structured.Error.Message != "" {
		if structured.Error.Code != "" {
			code = structured.Error.Code
		}
		return posclient.NewError(code, structured.Error.Message, map[string]interface{}{"status": status})
	}

	var plain struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(payload, &plain); err == nil && plain.Error != "" {
		return posclient.NewError(code, plain.Error, map[string]interface{}{"status": status})
	}

	return posclient.NewError(code, fmt.Sprintf("request failed with status %d", status),
		map[string]interface{}{"status": status})
}

func storePath(storeID string) string {
	return "/stores/" + url.PathEscape(storeID)
}

var _ posclient.Backend = (*Client)(nil)
