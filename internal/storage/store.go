// Package storage provides abstractions for persistent data storage.
package storage

import (
	"context"

	"tabshare/internal/models"
)

// AmountsPatch is a partial update of a bill's payer-editable money fields.
// Nil fields are left untouched.
type AmountsPatch struct {
	AdjustedTax    *float64
	AdjustedTip    *float64
	AdditionalFees []models.Fee
	PaymentHandle  *string
}

// Store defines the interface for bill, participant and claim persistence.
// This abstraction allows swapping storage backends (SQLite, document
// stores, etc.) without changing the ledger or service layers.
//
// Stores do not enforce business invariants; expiry checks and the
// claim-percentage ceiling belong to the service and ledger layers.
type Store interface {
	// CreateBill persists a new bill. The bill.ID field is populated by
	// the store if empty.
	CreateBill(ctx context.Context, bill *models.Bill) error

	// GetBill retrieves a bill with its line items and fees.
	GetBill(ctx context.Context, billID string) (*models.Bill, error)

	// UpdateBillAmounts applies a partial update of tax/tip/fees/handle.
	UpdateBillAmounts(ctx context.Context, billID string, patch AmountsPatch) error

	// ReplaceLineItems swaps the bill's full line-item list. Used for
	// combine/uncombine, shared-flag toggling and manual entry.
	ReplaceLineItems(ctx context.Context, billID string, items []models.LineItem) error

	// UpdateBillStatus moves the bill through its analysis lifecycle.
	UpdateBillStatus(ctx context.Context, billID string, status models.BillStatus) error

	// UpdateExtractedAmounts records the analyzer-extracted tax and tip.
	// Payer adjustments live in UpdateBillAmounts and are untouched here.
	UpdateExtractedAmounts(ctx context.Context, billID string, tax, tip float64) error

	// AddParticipant persists a new participant on a bill.
	AddParticipant(ctx context.Context, p *models.Participant) error

	// ListParticipants returns all participants of a bill.
	ListParticipants(ctx context.Context, billID string) ([]models.Participant, error)

	// CreateClaim persists a new claim.
	CreateClaim(ctx context.Context, claim *models.Claim) error

	// GetClaim retrieves a claim by id.
	GetClaim(ctx context.Context, claimID string) (*models.Claim, error)

	// UpdateClaim rewrites a claim's percentage, amount and updated
	// timestamp.
	UpdateClaim(ctx context.Context, claim *models.Claim) error

	// DeleteClaim removes a claim.
	DeleteClaim(ctx context.Context, claimID string) error

	// ListClaims returns all claims on a bill.
	ListClaims(ctx context.Context, billID string) ([]models.Claim, error)

	// Close releases any resources held by the store.
	Close() error
}
