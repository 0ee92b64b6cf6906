package posclient

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// CartOrchestrator drives the store-scoped cart and checkout workflow. One
// cart is cached per store id; switching the active store swaps which cached
// cart is "current" without discarding the others, so store switches are fast
// at the cost of potential staleness (mitigated by the reload that follows
// every mutating operation).
//
// Mutations, clears and checkouts are mutually exclusive via three advisory
// flags. The flags are process-wide, not per-store: concurrent operations
// against different stores are also serialized. Contention is rejected
// immediately with a busy error rather than queued; the UI is expected to
// disable controls while an operation is in flight.
type CartOrchestrator struct {
	backend  Backend
	stores   *StoreContext
	log      *logrus.Logger
	validate *validator.Validate

	mu            sync.Mutex
	carts         map[string]*Cart
	activeStoreID string
	mutating      bool
	checkingOut   bool
	clearing      bool

	// Concurrent reloads of the same store's cart share one request.
	flight singleflight.Group

	unsubscribe func()
}

// CartOption configures a CartOrchestrator.
type CartOption func(*CartOrchestrator)

// WithCartLogger sets the orchestrator's logger.
func WithCartLogger(logger *logrus.Logger) CartOption {
	return func(o *CartOrchestrator) {
		o.log = ensureLogger(logger)
	}
}

// NewCartOrchestrator creates a cart orchestrator over the given backend and
// store context. It subscribes to store-change broadcasts so that a switch
// made in another context swaps this instance's current cart view.
func NewCartOrchestrator(backend Backend, stores *StoreContext, opts ...CartOption) *CartOrchestrator {
	o := &CartOrchestrator{
		backend:  backend,
		stores:   stores,
		log:      ensureLogger(nil),
		validate: validator.New(),
		carts:    make(map[string]*Cart),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.unsubscribe = stores.OnChange(func(change StoreChange) {
		o.mu.Lock()
		o.activeStoreID = change.StoreID
		o.mu.Unlock()
		o.log.WithFields(logrus.Fields{
			"module":  "cart",
			"storeId": change.StoreID,
		}).Debug("active store changed")
	})
	return o
}

// Close releases the broadcast subscription.
func (o *CartOrchestrator) Close() {
	if o.unsubscribe != nil {
		o.unsubscribe()
	}
}

// CachedCart returns the cached cart for a store id, if one exists. It never
// triggers a network call.
func (o *CartOrchestrator) CachedCart(storeID string) (*Cart, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	cart, ok := o.carts[storeID]
	return cart, ok
}

// ActiveCart returns the cached cart of the active store, or nil when the
// store is unresolved or its cart has not been fetched yet.
func (o *CartOrchestrator) ActiveCart(ctx context.Context) *Cart {
	o.mu.Lock()
	storeID := o.activeStoreID
	o.mu.Unlock()
	if storeID == "" {
		resolved, err := o.stores.Resolve(ctx, "")
		if err != nil {
			return nil
		}
		storeID = resolved
	}
	cart, _ := o.CachedCart(storeID)
	return cart
}

// SetActiveStore persists and broadcasts the new active store, swaps the
// current cart view to that store's cached entry, and optionally reloads it.
func (o *CartOrchestrator) SetActiveStore(ctx context.Context, storeID string, refreshCart bool) error {
	if err := o.stores.SetActiveStore(ctx, storeID); err != nil {
		return err
	}
	o.mu.Lock()
	o.activeStoreID = storeID
	o.mu.Unlock()
	if refreshCart {
		if _, err := o.RefreshCart(ctx, storeID); err != nil {
			return err
		}
	}
	return nil
}

// RefreshCart fetches the cart for the given store (or the active store when
// storeID is empty) and replaces the cached entry. Concurrent callers for the
// same store share a single in-flight request.
func (o *CartOrchestrator) RefreshCart(ctx context.Context, storeID string) (*Cart, error) {
	resolved, err := o.stores.Resolve(ctx, storeID)
	if err != nil {
		return nil, err
	}
	return o.fetch(ctx, resolved)
}

// MutateItem changes the quantity of a product line by delta. Positive deltas
// add items; negative deltas reduce the existing line, removing it entirely
// when the resulting quantity would reach zero. A negative delta against an
// absent line is a no-op. After any successful mutation the cart is reloaded
// from the backend, which owns all total computation.
//
// Rejected with a busy error while any other guarded operation is in flight.
func (o *CartOrchestrator) MutateItem(ctx context.Context, productID string, delta int) (*Cart, error) {
	storeID, err := o.stores.Resolve(ctx, "")
	if err != nil {
		return nil, err
	}
	if !o.acquire(&o.mutating) {
		return nil, errBusy("cart mutation")
	}
	defer o.release(&o.mutating)

	if delta == 0 {
		cart, _ := o.CachedCart(storeID)
		return cart, nil
	}

	log := o.log.WithFields(logrus.Fields{
		"module":    "cart",
		"storeId":   storeID,
		"productId": productID,
		"delta":     delta,
	})

	if delta > 0 {
		err = o.backend.AddItem(ctx, storeID, productID, delta)
	} else {
		cart, _ := o.CachedCart(storeID)
		line := cart.Line(productID)
		if line == nil {
			log.Debug("negative delta for absent line, nothing to do")
			return cart, nil
		}
		if next := line.Quantity + delta; next <= 0 {
			err = o.backend.RemoveItem(ctx, storeID, productID)
		} else {
			err = o.backend.UpdateItem(ctx, storeID, productID, next)
		}
	}
	if err != nil {
		log.Warn("cart mutation failed: ", err)
		return nil, err
	}
	return o.fetch(ctx, storeID)
}

// ClearActiveCart empties the active store's cart and reloads it.
func (o *CartOrchestrator) ClearActiveCart(ctx context.Context) (*Cart, error) {
	storeID, err := o.stores.Resolve(ctx, "")
	if err != nil {
		return nil, err
	}
	if !o.acquire(&o.clearing) {
		return nil, errBusy("cart clear")
	}
	defer o.release(&o.clearing)

	if err := o.backend.ClearCart(ctx, storeID); err != nil {
		return nil, err
	}
	return o.fetch(ctx, storeID)
}

// Checkout submits the active cart for payment. When allocations are given
// they are normalized and validated cents-exact against the cart total before
// any network call, and the effective payment method becomes "split".
// On success the cart is reloaded and the backend's result is returned so the
// caller can navigate to the receipt or the external payment page.
func (o *CartOrchestrator) Checkout(ctx context.Context, method PaymentMethod, allocations []AllocationInput) (*CheckoutResult, error) {
	storeID, err := o.stores.Resolve(ctx, "")
	if err != nil {
		return nil, err
	}
	if !o.acquire(&o.checkingOut) {
		return nil, errBusy("checkout")
	}
	defer o.release(&o.checkingOut)

	cart, ok := o.CachedCart(storeID)
	if !ok {
		cart, err = o.fetch(ctx, storeID)
		if err != nil {
			return nil, err
		}
	}
	if cart.IsEmpty() {
		return nil, NewError(ErrCodeEmptyCart, "cart is empty", nil)
	}

	req := CheckoutRequest{
		PaymentMethod:  method,
		IdempotencyKey: uuid.NewString(),
	}
	if len(allocations) > 0 {
		normalized, err := o.normalizeAllocations(allocations, cart.TotalCents())
		if err != nil {
			return nil, err
		}
		req.PaymentMethod = PaymentSplit
		req.Allocations = normalized
	} else if !isAllowedMethod(method) {
		return nil, NewError(ErrCodeValidationFailed,
			fmt.Sprintf("unsupported payment method %q", method), nil)
	}

	result, err := o.backend.Checkout(ctx, storeID, req)
	if err != nil {
		return nil, err
	}

	if _, err := o.fetch(ctx, storeID); err != nil {
		// The sale went through; a stale cache here is recoverable.
		o.log.WithFields(logrus.Fields{
			"module":  "cart",
			"storeId": storeID,
		}).Warn("checkout succeeded but cart reload failed: ", err)
	}
	return result, nil
}

// ListStores is a passthrough for populating the terminal's store picker.
func (o *CartOrchestrator) ListStores(ctx context.Context) ([]Store, error) {
	return o.backend.ListStores(ctx)
}

// ListProducts is a passthrough for the active (or given) store's catalogue.
func (o *CartOrchestrator) ListProducts(ctx context.Context, storeID string) ([]Product, error) {
	resolved, err := o.stores.Resolve(ctx, storeID)
	if err != nil {
		return nil, err
	}
	return o.backend.ListProducts(ctx, resolved)
}

// normalizeAllocations lower-cases methods, coerces amounts to cents, drops
// blank and zero lines, then validates the result: every method allowed,
// every amount positive, and the sum exactly equal to the cart's total cents.
func (o *CartOrchestrator) normalizeAllocations(inputs []AllocationInput, totalCents int64) ([]PaymentAllocation, error) {
	normalized := make([]PaymentAllocation, 0, len(inputs))
	for _, in := range inputs {
		cents := ToCents(in.Amount)
		if cents == 0 {
			continue
		}
		normalized = append(normalized, PaymentAllocation{
			Method:      PaymentMethod(strings.ToLower(strings.TrimSpace(in.Method))),
			AmountCents: cents,
			Reference:   strings.TrimSpace(in.Reference),
			Note:        strings.TrimSpace(in.Note),
		})
	}
	if len(normalized) == 0 {
		return nil, NewError(ErrCodeValidationFailed, "no usable payment allocations provided", nil)
	}

	amounts := make([]int64, 0, len(normalized))
	for _, a := range normalized {
		if err := o.validate.Struct(a); err != nil {
			return nil, NewError(ErrCodeValidationFailed,
				fmt.Sprintf("invalid payment allocation: method %q, amount %s", a.Method, CentsToDecimalString(a.AmountCents)),
				map[string]interface{}{"method": string(a.Method), "amountCents": a.AmountCents})
		}
		amounts = append(amounts, a.AmountCents)
	}

	if sum := SumCents(amounts); sum != totalCents {
		remaining := totalCents - sum
		return nil, NewError(ErrCodeValidationFailed,
			fmt.Sprintf("allocations cover %s of %s, remaining %s",
				CentsToDecimalString(sum), CentsToDecimalString(totalCents), CentsToDecimalString(remaining)),
			map[string]interface{}{
				"allocatedCents": sum,
				"totalCents":     totalCents,
				"remainingCents": remaining,
			})
	}
	return normalized, nil
}

// fetch loads a store's cart from the backend and replaces the cached entry.
// Deduplicated per store id.
func (o *CartOrchestrator) fetch(ctx context.Context, storeID string) (*Cart, error) {
	v, err, _ := o.flight.Do(storeID, func() (interface{}, error) {
		cart, err := o.backend.FetchCart(ctx, storeID)
		if err != nil {
			return nil, err
		}
		o.mu.Lock()
		o.carts[storeID] = cart
		o.mu.Unlock()
		return cart, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Cart), nil
}

// acquire takes one of the three advisory flags if none is held. The flags
// form mutual exclusion, not a queue.
func (o *CartOrchestrator) acquire(flag *bool) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.mutating || o.checkingOut || o.clearing {
		return false
	}
	*flag = true
	return true
}

func (o *CartOrchestrator) release(flag *bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	*flag = false
}

func errBusy(op string) *Error {
	return NewError(ErrCodeBusy, op+" rejected: another cart operation is in flight", nil)
}

func isAllowedMethod(method PaymentMethod) bool {
	for _, m := range AllowedPaymentMethods {
		if m == method {
			return true
		}
	}
	return false
}
