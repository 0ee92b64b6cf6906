package posclient

import (
	"context"

	"github.com/sirupsen/logrus"
)

// Keys used in the persistent key-value store. KeyActiveStoreLegacy is the key
// written by older terminal builds; it is read as a fallback but never written.
const (
	KeyAccessToken       = "pos:access_token"
	KeyRefreshToken      = "pos:refresh_token"
	KeyActiveStore       = "pos:active_store"
	KeyActiveStoreLegacy = "pos:store"
)

// StoreContext owns the process-wide "active store" value. It is an explicitly
// constructed object rather than module-level state so tests can run isolated
// instances. Writes persist to the key-value store and publish a StoreChange;
// reads fall back through explicit argument, current key, then legacy key.
type StoreContext struct {
	kv  KeyValueStore
	bus Broadcaster
	log *logrus.Logger
}

// NewStoreContext creates a store context over the given storage and broadcast
// ports. logger may be nil.
func NewStoreContext(kv KeyValueStore, bus Broadcaster, logger *logrus.Logger) *StoreContext {
	return &StoreContext{kv: kv, bus: bus, log: ensureLogger(logger)}
}

// Resolve returns the effective store id: the explicit argument when given,
// otherwise the persisted current key, otherwise the persisted legacy key.
// A missing store id is a precondition failure, not a network call.
func (s *StoreContext) Resolve(ctx context.Context, explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	for _, key := range []string{KeyActiveStore, KeyActiveStoreLegacy} {
		val, ok, err := s.kv.Get(ctx, key)
		if err != nil {
			return "", err
		}
		if ok && val != "" {
			return val, nil
		}
	}
	return "", NewError(ErrCodeMissingStore, "no active store selected", nil)
}

// ActiveStoreID returns the persisted active store id, if any.
func (s *StoreContext) ActiveStoreID(ctx context.Context) (string, bool) {
	id, err := s.Resolve(ctx, "")
	if err != nil {
		return "", false
	}
	return id, true
}

// SetActiveStore persists the new active store id and publishes the change to
// every interested consumer. Last writer wins; there is no transactional
// guarantee across contexts beyond "reload after the change".
func (s *StoreContext) SetActiveStore(ctx context.Context, storeID string) error {
	if storeID == "" {
		return NewError(ErrCodeMissingStore, "store id is required", nil)
	}
	if err := s.kv.Set(ctx, KeyActiveStore, storeID); err != nil {
		return err
	}
	if s.bus != nil {
		if err := s.bus.Publish(ctx, StoreChange{StoreID: storeID}); err != nil {
			s.log.WithFields(logrus.Fields{
				"module":  "storecontext",
				"storeId": storeID,
			}).Warn("failed to broadcast store change: ", err)
		}
	}
	return nil
}

// OnChange subscribes to store-change events from any context and returns an
// unsubscribe function.
func (s *StoreContext) OnChange(fn func(StoreChange)) func() {
	if s.bus == nil {
		return func() {}
	}
	return s.bus.Subscribe(fn)
}
