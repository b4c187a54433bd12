package calculator

import (
	"math"
	"testing"

	"tabshare/internal/models"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 0.001
}

func testBill() *models.Bill {
	return &models.Bill{
		ID: "bill-1",
		LineItems: []models.LineItem{
			{ID: "item-1", Name: "Salad", Price: 10},
			{ID: "item-2", Name: "Pizza", Price: 20},
		},
		ExtractedTax: 3,
		ExtractedTip: 6,
		Status:       models.StatusReady,
	}
}

func TestComputeTotals(t *testing.T) {
	t.Run("proportional allocation", func(t *testing.T) {
		// Items $10 + $20, tax $3, tip $6. A claims 100% of item 1,
		// B claims 50% of item 2.
		// A: 10 + 10*(3/30) + 10*(6/30) = 13
		// B: 5 + 5*0.1 + 5*0.2 = 6.5
		bill := testBill()
		claims := []models.Claim{
			{ID: "c1", ItemID: "item-1", ParticipantID: "a", ParticipantName: "Alice", Percentage: 100},
			{ID: "c2", ItemID: "item-2", ParticipantID: "b", ParticipantName: "Bob", Percentage: 50},
		}

		totals := ComputeTotals(bill, claims)

		alice := totals["a"]
		if alice == nil {
			t.Fatal("no total for Alice")
		}
		if !almostEqual(alice.Total, 13) {
			t.Errorf("Alice total = %v, want 13", alice.Total)
		}
		if !almostEqual(alice.ItemsSubtotal, 10) {
			t.Errorf("Alice subtotal = %v, want 10", alice.ItemsSubtotal)
		}

		bob := totals["b"]
		if bob == nil {
			t.Fatal("no total for Bob")
		}
		if !almostEqual(bob.Total, 6.5) {
			t.Errorf("Bob total = %v, want 6.5", bob.Total)
		}
		if !almostEqual(bob.TaxShare, 0.5) {
			t.Errorf("Bob tax share = %v, want 0.5", bob.TaxShare)
		}
		if !almostEqual(bob.TipShare, 1) {
			t.Errorf("Bob tip share = %v, want 1", bob.TipShare)
		}
	})

	t.Run("adjusted amounts win over extracted", func(t *testing.T) {
		bill := testBill()
		adjTax := 6.0
		adjTip := 0.0
		bill.AdjustedTax = &adjTax
		bill.AdjustedTip = &adjTip
		claims := []models.Claim{
			{ID: "c1", ItemID: "item-1", ParticipantID: "a", ParticipantName: "Alice", Percentage: 100},
		}

		totals := ComputeTotals(bill, claims)
		alice := totals["a"]
		// tax rate 6/30 = 0.2, tip rate 0
		if !almostEqual(alice.TaxShare, 2) {
			t.Errorf("tax share = %v, want 2", alice.TaxShare)
		}
		if !almostEqual(alice.TipShare, 0) {
			t.Errorf("tip share = %v, want 0", alice.TipShare)
		}
	})

	t.Run("fees apportioned like tax", func(t *testing.T) {
		bill := testBill()
		bill.AdditionalFees = []models.Fee{{ID: "f1", Description: "Delivery", Amount: 3}}
		claims := []models.Claim{
			{ID: "c1", ItemID: "item-2", ParticipantID: "b", ParticipantName: "Bob", Percentage: 100},
		}

		totals := ComputeTotals(bill, claims)
		bob := totals["b"]
		// fee rate 3/30 = 0.1 over a $20 subtotal
		if !almostEqual(bob.FeeShare, 2) {
			t.Errorf("fee share = %v, want 2", bob.FeeShare)
		}
	})

	t.Run("shared items are not attributed to named participants", func(t *testing.T) {
		bill := testBill()
		bill.LineItems = append(bill.LineItems, models.LineItem{
			ID: "item-3", Name: "Nachos", Price: 12, IsShared: true, SharedAmongCount: 4,
		})
		claims := []models.Claim{
			{ID: "c1", ItemID: "item-1", ParticipantID: "a", ParticipantName: "Alice", Percentage: 100},
		}

		totals := ComputeTotals(bill, claims)
		alice := totals["a"]
		if !almostEqual(alice.ItemsSubtotal, 10) {
			t.Errorf("subtotal = %v, want 10 (shared item must not leak into aggregate)", alice.ItemsSubtotal)
		}
	})

	t.Run("zero subtotal yields zero rates", func(t *testing.T) {
		bill := &models.Bill{ID: "empty", ExtractedTax: 5}
		rates := BillRates(bill)
		if rates.Tax != 0 || rates.Tip != 0 || rates.Fee != 0 {
			t.Errorf("rates = %+v, want all zero", rates)
		}
	})
}

func TestPersonalSummary(t *testing.T) {
	t.Run("includes shared item share", func(t *testing.T) {
		bill := testBill()
		bill.LineItems = append(bill.LineItems, models.LineItem{
			ID: "item-3", Name: "Nachos", Price: 12, IsShared: true, SharedAmongCount: 4,
		})
		claims := []models.Claim{
			{ID: "c1", ItemID: "item-1", ParticipantID: "a", ParticipantName: "Alice", Percentage: 100},
		}

		summary := PersonalSummary(bill, claims, "a")
		// 10 claimed + 12/4 = 3 shared
		if !almostEqual(summary.ItemsSubtotal, 13) {
			t.Errorf("subtotal = %v, want 13", summary.ItemsSubtotal)
		}
		found := false
		for _, item := range summary.ClaimedItems {
			if item.ItemName == "Nachos (shared)" {
				found = true
				if !almostEqual(item.Amount, 3) {
					t.Errorf("shared amount = %v, want 3", item.Amount)
				}
			}
		}
		if !found {
			t.Error("shared item missing from personal summary")
		}
	})

	t.Run("other participants' claims excluded", func(t *testing.T) {
		bill := testBill()
		claims := []models.Claim{
			{ID: "c1", ItemID: "item-1", ParticipantID: "a", ParticipantName: "Alice", Percentage: 100},
			{ID: "c2", ItemID: "item-2", ParticipantID: "b", ParticipantName: "Bob", Percentage: 50},
		}

		summary := PersonalSummary(bill, claims, "b")
		if !almostEqual(summary.ItemsSubtotal, 10) {
			t.Errorf("subtotal = %v, want 10", summary.ItemsSubtotal)
		}
	})
}

func TestReconciliationWarning(t *testing.T) {
	bill := testBill()

	t.Run("fully claimed bill reconciles", func(t *testing.T) {
		claims := []models.Claim{
			{ID: "c1", ItemID: "item-1", ParticipantID: "a", ParticipantName: "Alice", Percentage: 100},
			{ID: "c2", ItemID: "item-2", ParticipantID: "b", ParticipantName: "Bob", Percentage: 100},
		}
		totals := ComputeTotals(bill, claims)
		if warning := ReconciliationWarning(bill, totals); warning != "" {
			t.Errorf("unexpected warning: %s", warning)
		}
	})

	t.Run("unclaimed items produce a warning", func(t *testing.T) {
		claims := []models.Claim{
			{ID: "c1", ItemID: "item-1", ParticipantID: "a", ParticipantName: "Alice", Percentage: 100},
		}
		totals := ComputeTotals(bill, claims)
		if warning := ReconciliationWarning(bill, totals); warning == "" {
			t.Error("expected an under-claimed warning")
		}
	})
}
