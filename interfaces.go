package posclient

import "context"

// KeyValueStore is the persistent key-value port used for session credentials
// and the active store identifier. Implementations must be safe for concurrent
// use. Subscribe delivers change notifications for a single key so consumers
// can react to writes made by other contexts (tabs, processes).
//
// The in-memory implementation in this package serves tests and single-process
// use; the redisstore subpackage provides a shared backend.
type KeyValueStore interface {
	// Get returns the stored value and whether the key was present.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set stores the value and notifies subscribers of the key.
	Set(ctx context.Context, key, value string) error

	// Remove deletes the given keys. Missing keys are not an error.
	Remove(ctx context.Context, keys ...string) error

	// Subscribe registers a handler for writes to key and returns an
	// unsubscribe function. The handler receives the new value.
	Subscribe(key string, fn func(value string)) (unsubscribe func())
}

// StoreChange is the event carried by the cross-context broadcast whenever the
// active store changes.
type StoreChange struct {
	StoreID string `json:"storeId"`
}

// Broadcaster is the publish/subscribe port for store-change events. The core
// only needs Publish and Subscribe; delivery ordering across contexts is not
// guaranteed, subscribers are expected to refresh, not merge.
type Broadcaster interface {
	Publish(ctx context.Context, change StoreChange) error
	Subscribe(fn func(StoreChange)) (unsubscribe func())
}

// Backend is the remote API surface consumed by the orchestrators. The backend
// owns all money math, stock truth and persistence; every mutation here is
// followed by a cart reload so the client only ever displays server-computed
// state. The http subpackage provides the production implementation.
type Backend interface {
	// CreateSession exchanges credentials for a token pair. Anonymous.
	CreateSession(ctx context.Context, username, password string) (Session, error)

	ListStores(ctx context.Context) ([]Store, error)
	ListProducts(ctx context.Context, storeID string) ([]Product, error)

	FetchCart(ctx context.Context, storeID string) (*Cart, error)
	AddItem(ctx context.Context, storeID, productID string, quantity int) error
	UpdateItem(ctx context.Context, storeID, productID string, quantity int) error
	RemoveItem(ctx context.Context, storeID, productID string) error
	ClearCart(ctx context.Context, storeID string) error

	Checkout(ctx context.Context, storeID string, req CheckoutRequest) (*CheckoutResult, error)
	OrderStatus(ctx context.Context, orderID string) (*SettlementOrder, error)
}
