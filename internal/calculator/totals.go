// Package calculator computes per-participant totals from a bill and its
// claims. Allocation is proportional to consumption: each participant's tax,
// tip and fee shares scale with their claimed subtotal, not with head count.
package calculator

import (
	"fmt"
	"math"

	"tabshare/internal/models"
)

// ClaimedItem is one line of a participant's breakdown.
type ClaimedItem struct {
	ItemName   string  `json:"itemName"`
	Percentage float64 `json:"percentage"`
	Amount     float64 `json:"amount"`
}

// Total is one participant's computed share of the bill.
type Total struct {
	ParticipantID   string        `json:"participantId"`
	ParticipantName string        `json:"participantName"`
	ItemsSubtotal   float64       `json:"itemsSubtotal"`
	TaxShare        float64       `json:"taxShare"`
	TipShare        float64       `json:"tipShare"`
	FeeShare        float64       `json:"feeShare"`
	Total           float64       `json:"total"`
	ClaimedItems    []ClaimedItem `json:"claimedItems"`
}

// Rates are the proportional multipliers applied to each participant's items
// subtotal. Zero when the bill subtotal is zero.
type Rates struct {
	Tax float64
	Tip float64
	Fee float64
}

// BillRates computes tax/tip/fee rates over the bill's line-item subtotal.
// Payer-adjusted tax and tip win over the extracted values.
func BillRates(bill *models.Bill) Rates {
	subtotal := bill.Subtotal()
	if subtotal <= 0 {
		return Rates{}
	}
	var fees float64
	for _, fee := range bill.AdditionalFees {
		fees += fee.Amount
	}
	return Rates{
		Tax: bill.EffectiveTax() / subtotal,
		Tip: bill.EffectiveTip() / subtotal,
		Fee: fees / subtotal,
	}
}

// PersonalSummary computes one viewer's own total. Shared items contribute
// price/N to the viewer's subtotal here; this is intentionally NOT mirrored
// in ComputeTotals, which does not attribute shared items to named
// participants.
func PersonalSummary(bill *models.Bill, claims []models.Claim, participantID string) Total {
	rates := BillRates(bill)
	summary := Total{ParticipantID: participantID}

	for _, claim := range claims {
		if claim.ParticipantID != participantID {
			continue
		}
		item := bill.Item(claim.ItemID)
		if item == nil {
			continue
		}
		amount := item.Price * claim.Percentage / 100
		summary.ItemsSubtotal += amount
		summary.ParticipantName = claim.ParticipantName
		summary.ClaimedItems = append(summary.ClaimedItems, ClaimedItem{
			ItemName:   item.Name,
			Percentage: claim.Percentage,
			Amount:     amount,
		})
	}

	for _, item := range bill.LineItems {
		if !item.IsShared || item.SharedAmongCount <= 0 {
			continue
		}
		amount := item.Price / float64(item.SharedAmongCount)
		summary.ItemsSubtotal += amount
		summary.ClaimedItems = append(summary.ClaimedItems, ClaimedItem{
			ItemName:   item.Name + " (shared)",
			Percentage: 100 / float64(item.SharedAmongCount),
			Amount:     amount,
		})
	}

	summary.TaxShare = summary.ItemsSubtotal * rates.Tax
	summary.TipShare = summary.ItemsSubtotal * rates.Tip
	summary.FeeShare = summary.ItemsSubtotal * rates.Fee
	summary.Total = summary.ItemsSubtotal + summary.TaxShare + summary.TipShare + summary.FeeShare
	return summary
}

// ComputeTotals computes the payer-dashboard aggregate: every claiming
// participant's subtotal, proportional tax/tip/fee shares and total. Shared
// items are not attributed to named participants here; they only appear in
// individual viewers' PersonalSummary results.
func ComputeTotals(bill *models.Bill, claims []models.Claim) map[string]*Total {
	rates := BillRates(bill)
	totals := make(map[string]*Total)

	for _, claim := range claims {
		item := bill.Item(claim.ItemID)
		if item == nil {
			continue
		}
		amount := item.Price * claim.Percentage / 100

		total, ok := totals[claim.ParticipantID]
		if !ok {
			total = &Total{
				ParticipantID:   claim.ParticipantID,
				ParticipantName: claim.ParticipantName,
			}
			totals[claim.ParticipantID] = total
		}
		total.ItemsSubtotal += amount
		total.ClaimedItems = append(total.ClaimedItems, ClaimedItem{
			ItemName:   item.Name,
			Percentage: claim.Percentage,
			Amount:     amount,
		})
	}

	for _, total := range totals {
		total.TaxShare = total.ItemsSubtotal * rates.Tax
		total.TipShare = total.ItemsSubtotal * rates.Tip
		total.FeeShare = total.ItemsSubtotal * rates.Fee
		total.Total = total.ItemsSubtotal + total.TaxShare + total.TipShare + total.FeeShare
	}
	return totals
}

// ReconciliationWarning reports when the sum of participant totals drifts
// from the bill's own total by more than a cent, e.g. because items are
// unclaimed or prices changed after claims were written. Empty string means
// no drift.
func ReconciliationWarning(bill *models.Bill, totals map[string]*Total) string {
	var fees float64
	for _, fee := range bill.AdditionalFees {
		fees += fee.Amount
	}
	billTotal := bill.Subtotal() + bill.EffectiveTax() + bill.EffectiveTip() + fees

	var claimedTotal float64
	for _, total := range totals {
		claimedTotal += total.Total
	}

	diff := math.Abs(billTotal - claimedTotal)
	if diff <= 0.01 {
		return ""
	}
	direction := "under"
	if claimedTotal > billTotal {
		direction = "over"
	}
	return fmt.Sprintf("claimed $%.2f but bill total is $%.2f (%s by $%.2f)",
		claimedTotal, billTotal, direction, diff)
}
