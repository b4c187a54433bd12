package models

import "time"

// BillStatus tracks the receipt-analysis lifecycle of a bill.
type BillStatus string

const (
	// StatusPending means the receipt is still being analyzed (or the bill
	// was just created and has no items yet).
	StatusPending BillStatus = "pending"
	// StatusReady means line items are populated and the bill is claimable.
	StatusReady BillStatus = "ready"
	// StatusProcessingFailed means receipt analysis failed. The bill is
	// still usable through manual line-item entry.
	StatusProcessingFailed BillStatus = "processing_failed"
)

// ExpiryHorizon is how long a bill stays readable after creation.
const ExpiryHorizon = 30 * 24 * time.Hour

// Bill represents one shared receipt and its splitting state.
type Bill struct {
	// ID is the unique identifier for the bill (UUID format).
	ID string `json:"id"`

	// PayerID identifies the bill's creator/owner. The payer is distinct
	// from joined participants and is the only one allowed to edit
	// amounts and line items.
	PayerID string `json:"payerId"`

	// PayerName is the payer's display name. Participant names matching it
	// case-insensitively are redirected to the payer identity on join.
	PayerName string `json:"payerName"`

	// LineItems is the ordered sequence of items on the receipt.
	LineItems []LineItem `json:"lineItems"`

	// ExtractedTax and ExtractedTip come from the receipt analyzer.
	// AdjustedTax/AdjustedTip are payer overrides; when set (non-nil) they
	// win over the extracted values.
	ExtractedTax float64  `json:"extractedTax"`
	ExtractedTip float64  `json:"extractedTip"`
	AdjustedTax  *float64 `json:"adjustedTax,omitempty"`
	AdjustedTip  *float64 `json:"adjustedTip,omitempty"`

	// AdditionalFees are extra charges (service charge, delivery, ...)
	// apportioned like tax and tip.
	AdditionalFees []Fee `json:"additionalFees,omitempty"`

	// PaymentHandle is an optional payment-app username used to build a
	// deep link for settling up. No payment execution happens here.
	PaymentHandle string `json:"paymentHandle,omitempty"`

	Status BillStatus `json:"status"`

	// CreatedAt and ExpiresAt are Unix timestamps. Reads of a bill whose
	// ExpiresAt is in the past fail with errs.Expired regardless of status.
	CreatedAt int64 `json:"createdAt"`
	ExpiresAt int64 `json:"expiresAt"`
}

// EffectiveTax returns the payer-adjusted tax if set, else the extracted one.
func (b *Bill) EffectiveTax() float64 {
	if b.AdjustedTax != nil {
		return *b.AdjustedTax
	}
	return b.ExtractedTax
}

// EffectiveTip returns the payer-adjusted tip if set, else the extracted one.
func (b *Bill) EffectiveTip() float64 {
	if b.AdjustedTip != nil {
		return *b.AdjustedTip
	}
	return b.ExtractedTip
}

// Subtotal is the sum of all line-item prices.
func (b *Bill) Subtotal() float64 {
	var sum float64
	for _, item := range b.LineItems {
		sum += item.Price
	}
	return sum
}

// Expired reports whether the bill is past its expiry horizon at now.
func (b *Bill) Expired(now time.Time) bool {
	return now.Unix() >= b.ExpiresAt
}

// Item returns the line item with the given id, or nil.
func (b *Bill) Item(itemID string) *LineItem {
	for i := range b.LineItems {
		if b.LineItems[i].ID == itemID {
			return &b.LineItems[i]
		}
	}
	return nil
}

// LineItem is a single entry on the receipt.
type LineItem struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	// Price is the item's full price. Must be positive.
	Price float64 `json:"price"`

	// IsShared marks the item as split equally among SharedAmongCount
	// people. Shared items are not individually claimable.
	IsShared         bool `json:"isShared,omitempty"`
	SharedAmongCount int  `json:"sharedAmongCount,omitempty"`

	// CombinedFrom records the original items this entry was merged from,
	// supporting a reversible uncombine. Empty for plain items.
	CombinedFrom []ItemOrigin `json:"combinedFrom,omitempty"`
}

// ItemOrigin is the pre-merge identity of a line item inside a combined entry.
type ItemOrigin struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	Price float64 `json:"price"`
}

// Fee is an additional charge apportioned proportionally like tax and tip.
type Fee struct {
	ID          string  `json:"id"`
	Description string  `json:"description"`
	Amount      float64 `json:"amount"`
}

// Participant is a diner who joined a bill by name. Names are
// case-insensitively unique per bill; rejoining with a known name returns the
// existing participant.
type Participant struct {
	ID       string `json:"id"`
	BillID   string `json:"billId"`
	Name     string `json:"name"`
	JoinedAt int64  `json:"joinedAt"`
}
