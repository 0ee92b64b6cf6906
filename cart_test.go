package posclient

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCartFixture(t *testing.T, backend *mockBackend) (*CartOrchestrator, *StoreContext) {
	t.Helper()
	sc := NewStoreContext(NewMemoryStore(), NewMemoryBroadcaster(), nil)
	require.NoError(t, sc.SetActiveStore(context.Background(), "store-a"))
	o := NewCartOrchestrator(backend, sc)
	t.Cleanup(o.Close)
	return o, sc
}

func cartWith(storeID, total string, items ...CartItem) *Cart {
	count := 0
	for _, it := range items {
		count += it.Quantity
	}
	return &Cart{
		StoreID:     storeID,
		Items:       items,
		TotalAmount: total,
		ItemCount:   count,
	}
}

func TestMutateItemPositiveDeltaAddsAndReloads(t *testing.T) {
	var added, fetched int
	backend := &mockBackend{
		addItem: func(_ context.Context, storeID, productID string, quantity int) error {
			added++
			assert.Equal(t, "store-a", storeID)
			assert.Equal(t, "p1", productID)
			assert.Equal(t, 3, quantity)
			return nil
		},
		fetchCart: func(_ context.Context, storeID string) (*Cart, error) {
			fetched++
			return cartWith(storeID, "30.00", CartItem{ProductID: "p1", Quantity: 3}), nil
		},
	}
	o, _ := newCartFixture(t, backend)

	cart, err := o.MutateItem(context.Background(), "p1", 3)
	require.NoError(t, err)
	assert.Equal(t, 1, added)
	assert.Equal(t, 1, fetched)
	require.NotNil(t, cart.Line("p1"))
	assert.Equal(t, 3, cart.Line("p1").Quantity)

	cached, ok := o.CachedCart("store-a")
	require.True(t, ok)
	assert.Equal(t, cart, cached)
}

func TestMutateItemNegativeDeltaAbsentLineIsNoOp(t *testing.T) {
	backend := &mockBackend{
		removeItem: func(context.Context, string, string) error {
			t.Fatal("remove must not be called for an absent line")
			return nil
		},
		updateItem: func(context.Context, string, string, int) error {
			t.Fatal("update must not be called for an absent line")
			return nil
		},
	}
	o, _ := newCartFixture(t, backend)

	cart, err := o.MutateItem(context.Background(), "p-missing", -2)
	require.NoError(t, err)
	assert.Nil(t, cart)
}

func TestMutateItemFloorsAtZeroByRemoving(t *testing.T) {
	var removed int
	backend := &mockBackend{
		fetchCart: func(_ context.Context, storeID string) (*Cart, error) {
			if removed > 0 {
				return cartWith(storeID, "0.00"), nil
			}
			return cartWith(storeID, "10.00", CartItem{ProductID: "p1", Quantity: 2}), nil
		},
		removeItem: func(_ context.Context, _, productID string) error {
			removed++
			assert.Equal(t, "p1", productID)
			return nil
		},
		updateItem: func(context.Context, string, string, int) error {
			t.Fatal("a delta past zero must remove, not update")
			return nil
		},
	}
	o, _ := newCartFixture(t, backend)

	// Seed the cache with a two-item line.
	_, err := o.RefreshCart(context.Background(), "store-a")
	require.NoError(t, err)

	// -5 against quantity 2 floors at removal.
	cart, err := o.MutateItem(context.Background(), "p1", -5)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.True(t, cart.IsEmpty())
}

func TestMutateItemPartialDecrementUpdatesQuantity(t *testing.T) {
	var updatedTo int
	backend := &mockBackend{
		fetchCart: func(_ context.Context, storeID string) (*Cart, error) {
			qty := 5
			if updatedTo != 0 {
				qty = updatedTo
			}
			return cartWith(storeID, "25.00", CartItem{ProductID: "p1", Quantity: qty}), nil
		},
		updateItem: func(_ context.Context, _, _ string, quantity int) error {
			updatedTo = quantity
			return nil
		},
	}
	o, _ := newCartFixture(t, backend)

	_, err := o.RefreshCart(context.Background(), "store-a")
	require.NoError(t, err)

	cart, err := o.MutateItem(context.Background(), "p1", -2)
	require.NoError(t, err)
	assert.Equal(t, 3, updatedTo)
	assert.Equal(t, 3, cart.Line("p1").Quantity)
}

func TestCheckoutSingleMethod(t *testing.T) {
	var sent CheckoutRequest
	backend := &mockBackend{
		fetchCart: func(_ context.Context, storeID string) (*Cart, error) {
			return cartWith(storeID, "25.50", CartItem{ProductID: "p1", Quantity: 1}), nil
		},
		checkout: func(_ context.Context, _ string, req CheckoutRequest) (*CheckoutResult, error) {
			sent = req
			return &CheckoutResult{SaleID: "sale-7"}, nil
		},
	}
	o, _ := newCartFixture(t, backend)

	result, err := o.Checkout(context.Background(), PaymentCash, nil)
	require.NoError(t, err)
	assert.Equal(t, "sale-7", result.SaleID)
	assert.Equal(t, PaymentCash, sent.PaymentMethod)
	assert.NotEmpty(t, sent.IdempotencyKey)
	assert.Empty(t, sent.Allocations)
}

func TestCheckoutRejectsUnsupportedMethod(t *testing.T) {
	backend := &mockBackend{
		fetchCart: func(_ context.Context, storeID string) (*Cart, error) {
			return cartWith(storeID, "10.00", CartItem{ProductID: "p1", Quantity: 1}), nil
		},
		checkout: func(context.Context, string, CheckoutRequest) (*CheckoutResult, error) {
			t.Fatal("checkout must not reach the backend")
			return nil, nil
		},
	}
	o, _ := newCartFixture(t, backend)

	_, err := o.Checkout(context.Background(), PaymentMethod("cheque"), nil)
	require.Error(t, err)
	assert.Equal(t, ErrCodeValidationFailed, CodeOf(err))
}

func TestCheckoutSplitExactAllocationsPass(t *testing.T) {
	var sent CheckoutRequest
	backend := &mockBackend{
		fetchCart: func(_ context.Context, storeID string) (*Cart, error) {
			return cartWith(storeID, "25.50", CartItem{ProductID: "p1", Quantity: 1}), nil
		},
		checkout: func(_ context.Context, _ string, req CheckoutRequest) (*CheckoutResult, error) {
			sent = req
			return &CheckoutResult{SaleID: "sale-9"}, nil
		},
	}
	o, _ := newCartFixture(t, backend)

	_, err := o.Checkout(context.Background(), PaymentCash, []AllocationInput{
		{Method: "CASH", Amount: "20.00"},
		{Method: "bank", Amount: "5.50", Reference: " txn-1 "},
		{Method: "pos", Amount: "0"},
		{Method: "credit", Amount: ""},
	})
	require.NoError(t, err)

	assert.Equal(t, PaymentSplit, sent.PaymentMethod)
	require.Len(t, sent.Allocations, 2)
	assert.Equal(t, PaymentCash, sent.Allocations[0].Method)
	assert.Equal(t, int64(2000), sent.Allocations[0].AmountCents)
	assert.Equal(t, PaymentBank, sent.Allocations[1].Method)
	assert.Equal(t, int64(550), sent.Allocations[1].AmountCents)
	assert.Equal(t, "txn-1", sent.Allocations[1].Reference)
}

func TestCheckoutSplitMismatchRejectedBeforeNetwork(t *testing.T) {
	backend := &mockBackend{
		fetchCart: func(_ context.Context, storeID string) (*Cart, error) {
			return cartWith(storeID, "25.50", CartItem{ProductID: "p1", Quantity: 1}), nil
		},
		checkout: func(context.Context, string, CheckoutRequest) (*CheckoutResult, error) {
			t.Fatal("a mismatched split must never reach the backend")
			return nil, nil
		},
	}
	o, _ := newCartFixture(t, backend)

	_, err := o.Checkout(context.Background(), PaymentCash, []AllocationInput{
		{Method: "cash", Amount: "20.00"},
		{Method: "bank", Amount: "5.00"},
	})
	require.Error(t, err)
	assert.Equal(t, ErrCodeValidationFailed, CodeOf(err))
	assert.Contains(t, err.Error(), "allocations cover 25.00 of 25.50, remaining 0.50")

	var posErr *Error
	require.ErrorAs(t, err, &posErr)
	assert.Equal(t, int64(2500), posErr.Details["allocatedCents"])
	assert.Equal(t, int64(50), posErr.Details["remainingCents"])
}

func TestCheckoutSplitRejectsUnknownMethod(t *testing.T) {
	backend := &mockBackend{
		fetchCart: func(_ context.Context, storeID string) (*Cart, error) {
			return cartWith(storeID, "10.00", CartItem{ProductID: "p1", Quantity: 1}), nil
		},
		checkout: func(context.Context, string, CheckoutRequest) (*CheckoutResult, error) {
			t.Fatal("an invalid allocation must never reach the backend")
			return nil, nil
		},
	}
	o, _ := newCartFixture(t, backend)

	_, err := o.Checkout(context.Background(), PaymentCash, []AllocationInput{
		{Method: "barter", Amount: "10.00"},
	})
	require.Error(t, err)
	assert.Equal(t, ErrCodeValidationFailed, CodeOf(err))
}

func TestCheckoutEmptyCartRejected(t *testing.T) {
	backend := &mockBackend{
		fetchCart: func(_ context.Context, storeID string) (*Cart, error) {
			return cartWith(storeID, "0.00"), nil
		},
	}
	o, _ := newCartFixture(t, backend)

	_, err := o.Checkout(context.Background(), PaymentCash, nil)
	require.Error(t, err)
	assert.Equal(t, ErrCodeEmptyCart, CodeOf(err))
}

func TestCheckoutWithoutActiveStoreRejected(t *testing.T) {
	sc := NewStoreContext(NewMemoryStore(), NewMemoryBroadcaster(), nil)
	o := NewCartOrchestrator(&mockBackend{}, sc)
	defer o.Close()

	_, err := o.Checkout(context.Background(), PaymentCash, nil)
	require.Error(t, err)
	assert.Equal(t, ErrCodeMissingStore, CodeOf(err))
}

func TestGuardedOperationsAreMutuallyExclusive(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	backend := &mockBackend{
		addItem: func(context.Context, string, string, int) error {
			close(entered)
			<-release
			return nil
		},
		fetchCart: func(_ context.Context, storeID string) (*Cart, error) {
			return cartWith(storeID, "10.00", CartItem{ProductID: "p1", Quantity: 1}), nil
		},
	}
	o, _ := newCartFixture(t, backend)

	done := make(chan error, 1)
	go func() {
		_, err := o.MutateItem(context.Background(), "p1", 1)
		done <- err
	}()
	<-entered

	// While the mutation is in flight every guarded operation is rejected,
	// never queued.
	_, err := o.Checkout(context.Background(), PaymentCash, nil)
	assert.True(t, IsBusy(err), "checkout should be busy, got %v", err)

	_, err = o.ClearActiveCart(context.Background())
	assert.True(t, IsBusy(err), "clear should be busy, got %v", err)

	_, err = o.MutateItem(context.Background(), "p2", 1)
	assert.True(t, IsBusy(err), "second mutation should be busy, got %v", err)

	close(release)
	require.NoError(t, <-done)

	// Once the flag is released the next operation proceeds.
	_, err = o.Checkout(context.Background(), PaymentCash, nil)
	require.NoError(t, err)
}

func TestRefreshCartDeduplicatesConcurrentFetches(t *testing.T) {
	var calls int32
	started := make(chan struct{})
	release := make(chan struct{})
	backend := &mockBackend{
		fetchCart: func(_ context.Context, storeID string) (*Cart, error) {
			if atomic.AddInt32(&calls, 1) == 1 {
				close(started)
			}
			<-release
			return cartWith(storeID, "10.00", CartItem{ProductID: "p1", Quantity: 1}), nil
		},
	}
	o, _ := newCartFixture(t, backend)

	const n = 5
	var wg sync.WaitGroup
	results := make([]*Cart, n)
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			cart, err := o.RefreshCart(context.Background(), "store-a")
			assert.NoError(t, err)
			results[i] = cart
		}(i)
	}

	<-started
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	for _, cart := range results {
		assert.Equal(t, results[0], cart)
	}
}

func TestStoreSwitchPreservesEachStoresCart(t *testing.T) {
	fetches := map[string]int{}
	backend := &mockBackend{
		fetchCart: func(_ context.Context, storeID string) (*Cart, error) {
			fetches[storeID]++
			return cartWith(storeID, "10.00", CartItem{ProductID: "p-" + storeID, Quantity: 1}), nil
		},
	}
	o, _ := newCartFixture(t, backend)

	require.NoError(t, o.SetActiveStore(context.Background(), "store-a", true))
	require.NoError(t, o.SetActiveStore(context.Background(), "store-b", true))

	// Switching back without a refresh serves store-a's cached cart untouched.
	require.NoError(t, o.SetActiveStore(context.Background(), "store-a", false))

	cart := o.ActiveCart(context.Background())
	require.NotNil(t, cart)
	assert.Equal(t, "store-a", cart.StoreID)
	assert.NotNil(t, cart.Line("p-store-a"))
	assert.Equal(t, 1, fetches["store-a"])
	assert.Equal(t, 1, fetches["store-b"])
}

func TestBroadcastFromAnotherContextSwapsActiveView(t *testing.T) {
	backend := &mockBackend{
		fetchCart: func(_ context.Context, storeID string) (*Cart, error) {
			return cartWith(storeID, "10.00", CartItem{ProductID: "p-" + storeID, Quantity: 1}), nil
		},
	}
	kv := NewMemoryStore()
	bus := NewMemoryBroadcaster()
	local := NewStoreContext(kv, bus, nil)
	remote := NewStoreContext(kv, bus, nil)

	o := NewCartOrchestrator(backend, local)
	defer o.Close()

	require.NoError(t, o.SetActiveStore(context.Background(), "store-a", true))
	_, err := o.RefreshCart(context.Background(), "store-b")
	require.NoError(t, err)

	// Another context switches the store; this orchestrator's view follows.
	require.NoError(t, remote.SetActiveStore(context.Background(), "store-b"))

	cart := o.ActiveCart(context.Background())
	require.NotNil(t, cart)
	assert.Equal(t, "store-b", cart.StoreID)
}

func TestListProductsResolvesActiveStore(t *testing.T) {
	backend := &mockBackend{
		listProducts: func(_ context.Context, storeID string) ([]Product, error) {
			assert.Equal(t, "store-a", storeID)
			return []Product{{ID: "p1", Name: "Coffee", Price: "4.50"}}, nil
		},
	}
	o, _ := newCartFixture(t, backend)

	products, err := o.ListProducts(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, "Coffee", products[0].Name)
}
