package posclient

import "context"

// mockBackend implements Backend with overridable function fields, so each
// test scripts only the calls it cares about.
type mockBackend struct {
	createSession func(ctx context.Context, username, password string) (Session, error)
	listStores    func(ctx context.Context) ([]Store, error)
	listProducts  func(ctx context.Context, storeID string) ([]Product, error)
	fetchCart     func(ctx context.Context, storeID string) (*Cart, error)
	addItem       func(ctx context.Context, storeID, productID string, quantity int) error
	updateItem    func(ctx context.Context, storeID, productID string, quantity int) error
	removeItem    func(ctx context.Context, storeID, productID string) error
	clearCart     func(ctx context.Context, storeID string) error
	checkout      func(ctx context.Context, storeID string, req CheckoutRequest) (*CheckoutResult, error)
	orderStatus   func(ctx context.Context, orderID string) (*SettlementOrder, error)
}

func (m *mockBackend) CreateSession(ctx context.Context, username, password string) (Session, error) {
	if m.createSession != nil {
		return m.createSession(ctx, username, password)
	}
	return Session{AccessToken: "access", RefreshToken: "refresh"}, nil
}

func (m *mockBackend) ListStores(ctx context.Context) ([]Store, error) {
	if m.listStores != nil {
		return m.listStores(ctx)
	}
	return nil, nil
}

func (m *mockBackend) ListProducts(ctx context.Context, storeID string) ([]Product, error) {
	if m.listProducts != nil {
		return m.listProducts(ctx, storeID)
	}
	return nil, nil
}

func (m *mockBackend) FetchCart(ctx context.Context, storeID string) (*Cart, error) {
	if m.fetchCart != nil {
		return m.fetchCart(ctx, storeID)
	}
	return &Cart{StoreID: storeID, TotalAmount: "0.00"}, nil
}

func (m *mockBackend) AddItem(ctx context.Context, storeID, productID string, quantity int) error {
	if m.addItem != nil {
		return m.addItem(ctx, storeID, productID, quantity)
	}
	return nil
}

func (m *mockBackend) UpdateItem(ctx context.Context, storeID, productID string, quantity int) error {
	if m.updateItem != nil {
		return m.updateItem(ctx, storeID, productID, quantity)
	}
	return nil
}

func (m *mockBackend) RemoveItem(ctx context.Context, storeID, productID string) error {
	if m.removeItem != nil {
		return m.removeItem(ctx, storeID, productID)
	}
	return nil
}

func (m *mockBackend) ClearCart(ctx context.Context, storeID string) error {
	if m.clearCart != nil {
		return m.clearCart(ctx, storeID)
	}
	return nil
}

func (m *mockBackend) Checkout(ctx context.Context, storeID string, req CheckoutRequest) (*CheckoutResult, error) {
	if m.checkout != nil {
		return m.checkout(ctx, storeID, req)
	}
	return &CheckoutResult{SaleID: "sale-1"}, nil
}

func (m *mockBackend) OrderStatus(ctx context.Context, orderID string) (*SettlementOrder, error) {
	if m.orderStatus != nil {
		return m.orderStatus(ctx, orderID)
	}
	return &SettlementOrder{OrderID: orderID, Status: OrderPendingPayment}, nil
}

var _ Backend = (*mockBackend)(nil)
