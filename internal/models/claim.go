package models

// ClaimTolerance is the floating-point slack allowed when summing claim
// percentages on one item. The sum must never exceed 100 + ClaimTolerance.
const ClaimTolerance = 0.01

// Claim is a participant's percentage stake in one non-shared line item.
// Claims are only ever written by the claim ledger.
type Claim struct {
	ID     string `json:"id"`
	BillID string `json:"billId"`
	ItemID string `json:"itemId"`

	ParticipantID string `json:"participantId"`
	// ParticipantName is denormalized for display so viewers don't need a
	// participant lookup per claim.
	ParticipantName string `json:"participantName"`

	// Percentage is in (0, 100]. Amount is derived:
	// item.Price * Percentage / 100, computed from the item's price at the
	// time the claim was written. It is not recomputed when the payer
	// later edits prices.
	Percentage float64 `json:"percentage"`
	Amount     float64 `json:"amount"`

	CreatedAt int64 `json:"createdAt"`
	UpdatedAt int64 `json:"updatedAt"`
}

// ClaimedPercentage sums the percentages of the given claims for one item,
// optionally excluding a claim id (used when re-validating an update).
func ClaimedPercentage(claims []Claim, itemID, excludeClaimID string) float64 {
	var sum float64
	for _, c := range claims {
		if c.ItemID != itemID || c.ID == excludeClaimID {
			continue
		}
		sum += c.Percentage
	}
	return sum
}
