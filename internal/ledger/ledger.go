// Package ledger owns the authoritative claim records for every bill. It is
// the only writer of claim state and enforces the percentage-ownership
// invariant: for any line item, the sum of claim percentages never exceeds
// 100 (plus a small floating tolerance).
package ledger

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"tabshare/internal/errs"
	"tabshare/internal/metrics"
	"tabshare/internal/models"
	"tabshare/internal/storage"
)

// Publisher fans an event out to every connection subscribed to a bill.
// Delivery failures are the publisher's problem; the ledger's write has
// already succeeded by the time Publish is called.
type Publisher interface {
	Publish(billID string, event models.Event)
}

// Ledger validates and commits claim mutations. Mutations on the same bill
// are serialized so that two concurrent creates that are individually under
// the 100% ceiling but jointly over it cannot both succeed. Different bills
// never contend.
type Ledger struct {
	store     storage.Store
	publisher Publisher
	metrics   *metrics.Metrics
	now       func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a claim ledger over the given store, broadcasting through the
// given publisher. A nil publisher disables broadcasting (used in tests).
func New(store storage.Store, publisher Publisher) *Ledger {
	return &Ledger{
		store:     store,
		publisher: publisher,
		now:       time.Now,
		locks:     make(map[string]*sync.Mutex),
	}
}

// WithClock overrides the ledger's clock. Test hook.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

// WithMetrics attaches claim-write instrumentation.
func (l *Ledger) WithMetrics(m *metrics.Metrics) *Ledger {
	l.metrics = m
	return l
}

func (l *Ledger) countWrite(op string) {
	if l.metrics != nil {
		l.metrics.ClaimsWritten.WithLabelValues(op).Inc()
	}
}

// billLock returns the mutex serializing claim writes for one bill.
// Lock entries are never evicted; bills are bounded by expiry and the
// per-entry cost is one mutex.
func (l *Ledger) billLock(billID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock, ok := l.locks[billID]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[billID] = lock
	}
	return lock
}

// CreateClaim validates and commits a new claim, then broadcasts
// ClaimCreated. The bill must exist, be unexpired and ready; the item must
// exist and not be shared; the percentage must be in (0, 100] and must not
// push the item's claimed sum past the ceiling.
func (l *Ledger) CreateClaim(ctx context.Context, billID, participantID, participantName, itemID string, percentage float64) (*models.Claim, error) {
	if percentage <= 0 || percentage > 100 {
		return nil, errs.New(errs.KindInvalidInput, "percentage must be in (0, 100], got %.2f", percentage)
	}
	if participantID == "" || participantName == "" {
		return nil, errs.New(errs.KindInvalidInput, "participant id and name are required")
	}

	lock := l.billLock(billID)
	lock.Lock()
	defer lock.Unlock()

	bill, claims, err := l.loadBill(ctx, billID)
	if err != nil {
		return nil, err
	}

	if bill.Status == models.StatusPending {
		return nil, errs.New(errs.KindNotReady, "bill %s is still processing", billID)
	}

	item := bill.Item(itemID)
	if item == nil {
		return nil, errs.New(errs.KindNotFound, "item not found: %s", itemID)
	}
	if item.IsShared {
		return nil, errs.New(errs.KindInvalidInput, "item %s is shared and cannot be claimed individually", itemID)
	}

	claimed := models.ClaimedPercentage(claims, itemID, "")
	if claimed+percentage > 100+models.ClaimTolerance {
		return nil, &errs.OverClaimedError{
			ItemID:    itemID,
			Current:   claimed,
			Attempted: percentage,
			Overage:   claimed + percentage - 100,
		}
	}

	now := l.now().Unix()
	claim := &models.Claim{
		ID:              uuid.New().String(),
		BillID:          billID,
		ItemID:          itemID,
		ParticipantID:   participantID,
		ParticipantName: participantName,
		Percentage:      percentage,
		Amount:          item.Price * percentage / 100,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := l.store.CreateClaim(ctx, claim); err != nil {
		return nil, err
	}
	l.countWrite("create")

	slog.Info("claim created",
		"bill_id", billID,
		"item_id", itemID,
		"participant", participantName,
		"percentage", percentage,
	)

	l.publish(models.EventClaimCreated, billID, models.ClaimEventPayload{
		Claim:               *claim,
		ItemID:              itemID,
		RemainingPercentage: 100 - claimed - percentage,
	})
	return claim, nil
}

// UpdateClaim changes a claim's percentage, re-validating the ceiling
// against the other claims on the same item, then broadcasts ClaimUpdated.
func (l *Ledger) UpdateClaim(ctx context.Context, claimID string, percentage float64) (*models.Claim, error) {
	if percentage <= 0 || percentage > 100 {
		return nil, errs.New(errs.KindInvalidInput, "percentage must be in (0, 100], got %.2f", percentage)
	}

	claim, err := l.store.GetClaim(ctx, claimID)
	if err != nil {
		return nil, err
	}

	lock := l.billLock(claim.BillID)
	lock.Lock()
	defer lock.Unlock()

	// Re-read under the lock; the claim may have been deleted meanwhile.
	claim, err = l.store.GetClaim(ctx, claimID)
	if err != nil {
		return nil, err
	}

	bill, claims, err := l.loadBill(ctx, claim.BillID)
	if err != nil {
		return nil, err
	}

	item := bill.Item(claim.ItemID)
	if item == nil {
		return nil, errs.New(errs.KindNotFound, "item not found: %s", claim.ItemID)
	}

	others := models.ClaimedPercentage(claims, claim.ItemID, claim.ID)
	if others+percentage > 100+models.ClaimTolerance {
		return nil, &errs.OverClaimedError{
			ItemID:    claim.ItemID,
			Current:   others,
			Attempted: percentage,
			Overage:   others + percentage - 100,
		}
	}

	claim.Percentage = percentage
	claim.Amount = item.Price * percentage / 100
	claim.UpdatedAt = l.now().Unix()
	if err := l.store.UpdateClaim(ctx, claim); err != nil {
		return nil, err
	}
	l.countWrite("update")

	slog.Info("claim updated", "claim_id", claimID, "percentage", percentage)

	l.publish(models.EventClaimUpdated, claim.BillID, models.ClaimEventPayload{
		Claim:               *claim,
		ItemID:              claim.ItemID,
		RemainingPercentage: 100 - others - percentage,
	})
	return claim, nil
}

// DeleteClaim removes a claim and broadcasts ClaimDeleted with the freed
// item id so clients can reconcile without a reload.
func (l *Ledger) DeleteClaim(ctx context.Context, claimID string) error {
	claim, err := l.store.GetClaim(ctx, claimID)
	if err != nil {
		return err
	}

	lock := l.billLock(claim.BillID)
	lock.Lock()
	defer lock.Unlock()

	bill, err := l.store.GetBill(ctx, claim.BillID)
	if err != nil {
		return err
	}
	if bill.Expired(l.now()) {
		return errs.New(errs.KindExpired, "bill %s has expired", claim.BillID)
	}

	if err := l.store.DeleteClaim(ctx, claimID); err != nil {
		return err
	}
	l.countWrite("delete")

	claims, err := l.store.ListClaims(ctx, claim.BillID)
	if err != nil {
		// The delete already succeeded; fall back to a conservative
		// remaining percentage.
		slog.Warn("failed to list claims after delete", "bill_id", claim.BillID, "error", err)
		claims = nil
	}
	remaining := 100 - models.ClaimedPercentage(claims, claim.ItemID, "")

	slog.Info("claim deleted", "claim_id", claimID, "bill_id", claim.BillID)

	l.publish(models.EventClaimDeleted, claim.BillID, models.ClaimDeletedPayload{
		ClaimID:             claimID,
		ItemID:              claim.ItemID,
		ParticipantID:       claim.ParticipantID,
		RemainingPercentage: remaining,
	})
	return nil
}

// loadBill fetches the bill and its claims, rejecting expired bills.
func (l *Ledger) loadBill(ctx context.Context, billID string) (*models.Bill, []models.Claim, error) {
	bill, err := l.store.GetBill(ctx, billID)
	if err != nil {
		return nil, nil, err
	}
	if bill.Expired(l.now()) {
		return nil, nil, errs.New(errs.KindExpired, "bill %s has expired", billID)
	}
	claims, err := l.store.ListClaims(ctx, billID)
	if err != nil {
		return nil, nil, err
	}
	return bill, claims, nil
}

func (l *Ledger) publish(t models.EventType, billID string, payload any) {
	if l.publisher == nil {
		return
	}
	l.publisher.Publish(billID, models.NewEvent(t, billID, payload, l.now()))
}
