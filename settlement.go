package posclient

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// SettlementState is a state of the settlement confirmation machine.
// Polling is the only non-terminal state.
type SettlementState string

const (
	SettlementPolling   SettlementState = "polling"
	SettlementPaid      SettlementState = "paid"
	SettlementCancelled SettlementState = "cancelled"
	SettlementFailed    SettlementState = "failed"
	SettlementTimedOut  SettlementState = "timed_out"
)

// Terminal reports whether no further automatic transition occurs from s.
func (s SettlementState) Terminal() bool {
	return s != SettlementPolling && s != ""
}

// SettlementResult is the terminal outcome of a poll. SaleID is set only when
// State is SettlementPaid; the caller navigates to the receipt for it.
// SettlementTimedOut means the user should be asked to refresh manually.
type SettlementResult struct {
	State  SettlementState
	SaleID string
	Order  *SettlementOrder
}

// Default polling parameters. Spacing between attempts is
// base + min(cap, attempt*step): monotonically non-decreasing and capped.
const (
	defaultPollBaseInterval = 2 * time.Second
	defaultPollBackoffStep  = 500 * time.Millisecond
	defaultPollBackoffCap   = 8 * time.Second
	defaultPollMaxAttempts  = 60
)

// SettlementPoller waits for an out-of-band payment to resolve into a
// finalized transaction. It is entered after a checkout hands off to an
// external payment page; the status view constructs a poller and calls Wait.
//
// Transient fetch failures are logged and do not terminate polling; a network
// blip near a payment provider is expected. After the attempt budget is spent
// with no terminal status the poller gives up with SettlementTimedOut instead
// of polling forever.
type SettlementPoller struct {
	backend Backend
	log     *logrus.Logger

	baseInterval time.Duration
	backoffStep  time.Duration
	backoffCap   time.Duration
	maxAttempts  int

	mu    sync.Mutex
	state SettlementState
}

// PollerOption configures a SettlementPoller.
type PollerOption func(*SettlementPoller)

// WithPollInterval sets the base interval between status checks.
func WithPollInterval(d time.Duration) PollerOption {
	return func(p *SettlementPoller) { p.baseInterval = d }
}

// WithPollBackoff sets the per-attempt backoff step and its cap.
func WithPollBackoff(step, cap time.Duration) PollerOption {
	return func(p *SettlementPoller) {
		p.backoffStep = step
		p.backoffCap = cap
	}
}

// WithMaxAttempts bounds the number of status checks before timing out.
func WithMaxAttempts(n int) PollerOption {
	return func(p *SettlementPoller) { p.maxAttempts = n }
}

// WithPollerLogger sets the poller's logger.
func WithPollerLogger(logger *logrus.Logger) PollerOption {
	return func(p *SettlementPoller) { p.log = ensureLogger(logger) }
}

// NewSettlementPoller creates a poller over the given backend.
func NewSettlementPoller(backend Backend, opts ...PollerOption) *SettlementPoller {
	p := &SettlementPoller{
		backend:      backend,
		log:          ensureLogger(nil),
		baseInterval: defaultPollBaseInterval,
		backoffStep:  defaultPollBackoffStep,
		backoffCap:   defaultPollBackoffCap,
		maxAttempts:  defaultPollMaxAttempts,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// State returns the poller's current state.
func (p *SettlementPoller) State() SettlementState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *SettlementPoller) setState(s SettlementState) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// Wait polls the order's status until a terminal state is reached or ctx is
// cancelled. Cancelling ctx stops polling immediately: no further network
// calls are made and no state updates happen after Wait returns.
func (p *SettlementPoller) Wait(ctx context.Context, orderID string) (SettlementResult, error) {
	p.setState(SettlementPolling)
	log := p.log.WithFields(logrus.Fields{
		"module":  "settlement",
		"orderId": orderID,
	})

	for attempt := 0; attempt < p.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return SettlementResult{State: p.State()}, err
		}

		order, err := p.backend.OrderStatus(ctx, orderID)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return SettlementResult{State: p.State()}, ctx.Err()
			}
			log.WithFields(logrus.Fields{"attempt": attempt}).Warn("order status check failed, still polling: ", err)
		case order.SaleID != "":
			p.setState(SettlementPaid)
			log.WithFields(logrus.Fields{"saleId": order.SaleID}).Info("payment confirmed")
			return SettlementResult{State: SettlementPaid, SaleID: order.SaleID, Order: order}, nil
		case order.Status == OrderCancelled:
			p.setState(SettlementCancelled)
			return SettlementResult{State: SettlementCancelled, Order: order}, nil
		case order.Status == OrderFailed:
			p.setState(SettlementFailed)
			return SettlementResult{State: SettlementFailed, Order: order}, nil
		}

		select {
		case <-time.After(p.delay(attempt)):
		case <-ctx.Done():
			return SettlementResult{State: p.State()}, ctx.Err()
		}
	}

	p.setState(SettlementTimedOut)
	log.Warn("settlement confirmation timed out")
	return SettlementResult{State: SettlementTimedOut}, nil
}

// delay computes the wait before the next attempt.
func (p *SettlementPoller) delay(attempt int) time.Duration {
	backoff := time.Duration(attempt) * p.backoffStep
	if backoff > p.backoffCap {
		backoff = p.backoffCap
	}
	return p.baseInterval + backoff
}
