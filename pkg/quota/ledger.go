package quota

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// Store is the persistence collaborator for quota entries. Consume is the
// only mutating read: implementations must execute it as an atomic
// compare-and-decrement against the persisted available value, so two
// concurrent consumers cannot both pass the balance check on a stale read.
type Store interface {
	// Create persists a new entry. Returns ErrEntryExists when the
	// subscription already has an entry for the code.
	Create(ctx context.Context, entry *Entry) error
	// Get returns ErrEntryNotFound when no entry matches.
	Get(ctx context.Context, subscriptionID uuid.UUID, code string) (*Entry, error)
	List(ctx context.Context, subscriptionID uuid.UUID) ([]Entry, error)
	// Consume atomically withdraws qty when available covers it. The first
	// return is false, with a nil error, when the entry is missing or the
	// balance is insufficient.
	Consume(ctx context.Context, subscriptionID uuid.UUID, code string, qty int64) (bool, error)
}

// Ledger tracks per-subscription consumable balances.
type Ledger struct {
	store Store
	log   *slog.Logger
}

// LedgerOption configures a Ledger.
type LedgerOption func(*Ledger)

// WithLogger sets the structured logger used by the ledger.
func WithLogger(log *slog.Logger) LedgerOption {
	return func(l *Ledger) {
		if log != nil {
			l.log = log
		}
	}
}

// NewLedger creates a Ledger backed by the given store.
// Panics if store is nil to fail fast during initialization.
func NewLedger(store Store, opts ...LedgerOption) *Ledger {
	if store == nil {
		panic("quota: Store is required")
	}
	l := &Ledger{store: store, log: slog.Default()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Seed creates the entry for one consumable feature at subscribe time,
// starting with the full allotment available and nothing used.
func (l *Ledger) Seed(ctx context.Context, subscriptionID uuid.UUID, code string, initial int64) (*Entry, error) {
	entry := &Entry{
		ID:             uuid.New(),
		SubscriptionID: subscriptionID,
		Code:           code,
		Available:      initial,
		Used:           0,
	}
	if err := l.store.Create(ctx, entry); err != nil {
		return nil, err
	}

	l.log.DebugContext(ctx, "quota entry seeded",
		slog.String("subscription_id", subscriptionID.String()),
		slog.String("code", code),
		slog.Int64("available", initial))

	return entry, nil
}

// Consume withdraws qty from the entry's balance. It fails softly, returning
// false with no mutation, when no entry exists, when qty is not positive, or
// when the balance cannot cover the withdrawal. Insufficient quota is an
// expected business outcome, not an error.
func (l *Ledger) Consume(ctx context.Context, subscriptionID uuid.UUID, code string, qty int64) (bool, error) {
	if qty <= 0 {
		return false, nil
	}
	return l.store.Consume(ctx, subscriptionID, code, qty)
}

// Balance returns the entry for a subscription and feature code, or
// ErrEntryNotFound.
func (l *Ledger) Balance(ctx context.Context, subscriptionID uuid.UUID, code string) (*Entry, error) {
	return l.store.Get(ctx, subscriptionID, code)
}

// Entries lists every quota entry owned by the subscription.
func (l *Ledger) Entries(ctx context.Context, subscriptionID uuid.UUID) ([]Entry, error) {
	return l.store.List(ctx, subscriptionID)
}
