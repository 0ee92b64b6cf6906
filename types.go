package posclient

// Session holds the credential pair issued by the backend on login.
// The access token is replaced on every refresh; both tokens are destroyed
// on logout or on an unrecoverable refresh failure.
type Session struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// Store is a retail location as reported by the backend.
type Store struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Product is a sellable item in a store's catalogue. Price is a server-computed
// decimal string and is treated as opaque by this client.
type Product struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Price string `json:"price"`
}

// Cart is the server-owned cart for one store. Subtotal and total are decimal
// strings computed by the backend; the client never recomputes them, it only
// displays them and validates payment allocations against them.
type Cart struct {
	StoreID        string     `json:"storeId"`
	Items          []CartItem `json:"items"`
	SubtotalAmount string     `json:"subtotalAmount"`
	TotalAmount    string     `json:"totalAmount"`
	ItemCount      int        `json:"itemCount"`
}

// IsEmpty reports whether the cart has no lines.
func (c *Cart) IsEmpty() bool {
	return c == nil || len(c.Items) == 0
}

// Line returns the cart line for the given product id, or nil if absent.
func (c *Cart) Line(productID string) *CartItem {
	if c == nil {
		return nil
	}
	for i := range c.Items {
		if c.Items[i].ProductID == productID {
			return &c.Items[i]
		}
	}
	return nil
}

// TotalCents returns the cart total converted to integer cents.
func (c *Cart) TotalCents() int64 {
	if c == nil {
		return 0
	}
	return ToCents(c.TotalAmount)
}

// CartItem is a single cart line. Quantity is always positive; a line at
// quantity zero does not exist (the backend removes it).
type CartItem struct {
	ID        string `json:"id"`
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unitPrice"`
	LineTotal string `json:"lineTotal,omitempty"`
}

// PaymentMethod identifies how a sale (or part of one) is paid.
type PaymentMethod string

const (
	PaymentCash     PaymentMethod = "cash"
	PaymentBank     PaymentMethod = "bank"
	PaymentPOS      PaymentMethod = "pos"
	PaymentTransfer PaymentMethod = "transfer"
	PaymentCredit   PaymentMethod = "credit"

	// PaymentSplit is the effective method sent to the backend when a
	// checkout carries multiple payment allocations.
	PaymentSplit PaymentMethod = "split"
)

// AllowedPaymentMethods lists the methods accepted in a split allocation.
var AllowedPaymentMethods = []PaymentMethod{
	PaymentCash, PaymentBank, PaymentPOS, PaymentTransfer, PaymentCredit,
}

// AllocationInput is one split-payment line as entered in the UI. Amount is a
// decimal string and is coerced through ToCents during normalization.
type AllocationInput struct {
	Method    string `json:"method"`
	Amount    string `json:"amount"`
	Reference string `json:"reference,omitempty"`
	Note      string `json:"note,omitempty"`
}

// PaymentAllocation is a normalized, validated split-payment line.
type PaymentAllocation struct {
	Method      PaymentMethod `json:"method" validate:"required,oneof=cash bank pos transfer credit"`
	AmountCents int64         `json:"amountCents" validate:"gt=0"`
	Reference   string        `json:"reference,omitempty"`
	Note        string        `json:"note,omitempty"`
}

// CheckoutRequest is the payload sent to the backend's checkout endpoint.
type CheckoutRequest struct {
	PaymentMethod PaymentMethod       `json:"paymentMethod"`
	Allocations   []PaymentAllocation `json:"allocations,omitempty"`

	// IdempotencyKey is transmitted as a header, not in the body.
	IdempotencyKey string `json:"-"`
}

// PendingOrder is returned by checkout when payment completes out of band.
// The UI navigates to PaymentURL and later drives a SettlementPoller with
// OrderID to learn the outcome.
type PendingOrder struct {
	OrderID    string `json:"orderId"`
	PaymentURL string `json:"paymentUrl"`
	Amount     string `json:"amount"`
}

// CheckoutResult is the outcome of a successful checkout call. Exactly one of
// SaleID or Order is set: SaleID when the sale settled immediately, Order when
// the payment is pending out-of-band confirmation.
type CheckoutResult struct {
	SaleID string        `json:"saleId,omitempty"`
	Order  *PendingOrder `json:"order,omitempty"`
}

// OrderStatus is the settlement state of an out-of-band payment order.
type OrderStatus string

const (
	OrderPendingPayment OrderStatus = "pending_payment"
	OrderPaid           OrderStatus = "paid"
	OrderCancelled      OrderStatus = "cancelled"
	OrderFailed         OrderStatus = "failed"
)

// SettlementOrder is the backend's view of an out-of-band payment order.
// SaleID becomes available only once Status is "paid".
type SettlementOrder struct {
	OrderID string      `json:"orderId"`
	Status  OrderStatus `json:"status"`
	SaleID  string      `json:"saleId,omitempty"`
	Amount  string      `json:"amount"`
}
