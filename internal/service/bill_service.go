// Package service implements the bill aggregate operations: creation,
// payer edits, receipt analysis, participant joins and combine/uncombine.
// Claim mutations live in the ledger package; this package owns everything
// else participants can see change in real time.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"tabshare/internal/analyzer"
	"tabshare/internal/auth"
	"tabshare/internal/errs"
	"tabshare/internal/ledger"
	"tabshare/internal/models"
	"tabshare/internal/storage"
)

// BillService owns bill metadata: line items, tax/tip/fees, status and
// participants. Every mutation participants should see live triggers a
// broadcast carrying only the changed fields.
type BillService struct {
	store        storage.Store
	publisher    ledger.Publisher
	tokens       *auth.PayerTokens
	analyzer     analyzer.ReceiptAnalyzer
	shareBaseURL string
	now          func() time.Time
}

// NewBillService wires the bill aggregate. publisher and recv may be nil in
// tests; analyzer may be nil when receipts are entered manually only.
func NewBillService(store storage.Store, publisher ledger.Publisher, tokens *auth.PayerTokens, recv analyzer.ReceiptAnalyzer, shareBaseURL string) *BillService {
	return &BillService{
		store:        store,
		publisher:    publisher,
		tokens:       tokens,
		analyzer:     recv,
		shareBaseURL: strings.TrimRight(shareBaseURL, "/"),
		now:          time.Now,
	}
}

// WithClock overrides the service clock. Test hook.
func (s *BillService) WithClock(now func() time.Time) *BillService {
	s.now = now
	return s
}

// CreatedBill is the result of creating a bill: the bill itself, the share
// link for participants, and the payer token gating payer-only mutations.
type CreatedBill struct {
	Bill       *models.Bill
	ShareURL   string
	PayerToken string
}

// CreateBill persists a new bill owned by the named payer. Line items may be
// empty (manual entry or pending receipt analysis). The bill expires after a
// fixed horizon; reads past expiry fail with Expired.
func (s *BillService) CreateBill(ctx context.Context, payerName, paymentHandle string, items []models.LineItem, tax, tip float64, fees []models.Fee) (*CreatedBill, error) {
	payerName = strings.TrimSpace(payerName)
	if payerName == "" {
		return nil, errs.New(errs.KindInvalidInput, "payer name is required")
	}
	if err := validateItems(items); err != nil {
		return nil, err
	}

	now := s.now()
	status := models.StatusReady
	if len(items) == 0 {
		status = models.StatusPending
	}
	bill := &models.Bill{
		ID:             uuid.New().String(),
		PayerID:        uuid.New().String(),
		PayerName:      payerName,
		LineItems:      items,
		ExtractedTax:   tax,
		ExtractedTip:   tip,
		AdditionalFees: fees,
		PaymentHandle:  strings.TrimSpace(paymentHandle),
		Status:         status,
		CreatedAt:      now.Unix(),
		ExpiresAt:      now.Add(models.ExpiryHorizon).Unix(),
	}
	if err := s.store.CreateBill(ctx, bill); err != nil {
		return nil, err
	}

	var token string
	if s.tokens != nil {
		var err error
		token, err = s.tokens.Issue(bill.ID, bill.PayerID, time.Unix(bill.ExpiresAt, 0))
		if err != nil {
			return nil, err
		}
	}

	slog.Info("bill created", "bill_id", bill.ID, "payer", payerName, "items", len(items))
	return &CreatedBill{
		Bill:       bill,
		ShareURL:   s.shareBaseURL + "/join/" + bill.ID,
		PayerToken: token,
	}, nil
}

// CreateBillFromReceipt creates a pending bill and immediately runs receipt
// analysis on the given storage locator. Analysis failure is non-fatal: the
// bill is marked processing_failed and stays usable via manual entry.
func (s *BillService) CreateBillFromReceipt(ctx context.Context, payerName, paymentHandle, receiptLocator string) (*CreatedBill, error) {
	created, err := s.CreateBill(ctx, payerName, paymentHandle, nil, 0, 0, nil)
	if err != nil {
		return nil, err
	}
	if err := s.ApplyAnalysis(ctx, created.Bill.ID, receiptLocator); err != nil {
		if !errs.Is(err, errs.KindAnalysisFailed) {
			return nil, err
		}
		created.Bill.Status = models.StatusProcessingFailed
		return created, err
	}
	bill, err := s.store.GetBill(ctx, created.Bill.ID)
	if err != nil {
		return nil, err
	}
	created.Bill = bill
	return created, nil
}

// ApplyAnalysis runs the receipt analyzer and populates the bill's line
// items, extracted amounts and fees. A service charge becomes an additional
// fee. Failure marks the bill processing_failed and returns AnalysisFailed.
func (s *BillService) ApplyAnalysis(ctx context.Context, billID, receiptLocator string) error {
	if s.analyzer == nil {
		return errs.New(errs.KindAnalysisFailed, "no receipt analyzer configured")
	}
	if _, err := s.loadUnexpired(ctx, billID); err != nil {
		return err
	}

	result, err := s.analyzer.AnalyzeReceipt(ctx, receiptLocator)
	if err != nil {
		slog.Error("receipt analysis failed", "bill_id", billID, "error", err)
		if statusErr := s.store.UpdateBillStatus(ctx, billID, models.StatusProcessingFailed); statusErr != nil {
			slog.Error("failed to mark bill processing_failed", "bill_id", billID, "error", statusErr)
		}
		s.broadcastUpdate(billID, models.BillUpdates{Status: statusPtr(models.StatusProcessingFailed)})
		return errs.Wrap(errs.KindAnalysisFailed, err, "receipt analysis failed for bill %s", billID)
	}

	items := make([]models.LineItem, len(result.LineItems))
	for i, extracted := range result.LineItems {
		items[i] = models.LineItem{
			ID:    uuid.New().String(),
			Name:  extracted.Name,
			Price: extracted.Price,
		}
	}
	if err := s.store.ReplaceLineItems(ctx, billID, items); err != nil {
		return err
	}
	if err := s.store.UpdateExtractedAmounts(ctx, billID, result.Tax, result.Tip); err != nil {
		return err
	}
	if result.ServiceCharge > 0 {
		fees := []models.Fee{{
			ID:          uuid.New().String(),
			Description: "Service Charge",
			Amount:      result.ServiceCharge,
		}}
		if err := s.store.UpdateBillAmounts(ctx, billID, storage.AmountsPatch{AdditionalFees: fees}); err != nil {
			return err
		}
	}
	if err := s.store.UpdateBillStatus(ctx, billID, models.StatusReady); err != nil {
		return err
	}

	slog.Info("receipt analyzed",
		"bill_id", billID,
		"items", len(items),
		"confidence", result.Confidence,
		"vendor", result.VendorName,
	)
	s.broadcastUpdate(billID, models.BillUpdates{
		LineItems: items,
		Status:    statusPtr(models.StatusReady),
	})
	return nil
}

// BillView is a bill with its claims, participants and computed totals.
type BillView struct {
	Bill         *models.Bill
	Claims       []models.Claim
	Participants []models.Participant
	PayLink      string
}

// GetBill returns the bill with claims and participants. Expired bills are
// rejected regardless of status.
func (s *BillService) GetBill(ctx context.Context, billID string) (*BillView, error) {
	bill, err := s.loadUnexpired(ctx, billID)
	if err != nil {
		return nil, err
	}
	claims, err := s.store.ListClaims(ctx, billID)
	if err != nil {
		return nil, err
	}
	participants, err := s.store.ListParticipants(ctx, billID)
	if err != nil {
		return nil, err
	}
	return &BillView{
		Bill:         bill,
		Claims:       claims,
		Participants: participants,
		PayLink:      PayLink(bill.PaymentHandle, 0, ""),
	}, nil
}

// UpdateAmounts applies payer adjustments to tax, tip, fees and the payment
// handle, then broadcasts only the changed fields.
func (s *BillService) UpdateAmounts(ctx context.Context, billID string, patch storage.AmountsPatch) (*models.Bill, error) {
	if patch.AdjustedTax != nil && *patch.AdjustedTax < 0 {
		return nil, errs.New(errs.KindInvalidInput, "tax cannot be negative")
	}
	if patch.AdjustedTip != nil && *patch.AdjustedTip < 0 {
		return nil, errs.New(errs.KindInvalidInput, "tip cannot be negative")
	}
	for _, fee := range patch.AdditionalFees {
		if fee.Amount <= 0 {
			return nil, errs.New(errs.KindInvalidInput, "fee %q must have a positive amount", fee.Description)
		}
	}

	if _, err := s.loadUnexpired(ctx, billID); err != nil {
		return nil, err
	}
	if err := s.store.UpdateBillAmounts(ctx, billID, patch); err != nil {
		return nil, err
	}

	s.broadcastUpdate(billID, models.BillUpdates{
		AdjustedTax:    patch.AdjustedTax,
		AdjustedTip:    patch.AdjustedTip,
		AdditionalFees: patch.AdditionalFees,
		PaymentHandle:  patch.PaymentHandle,
	})
	return s.store.GetBill(ctx, billID)
}

// UpdateLineItems replaces the bill's line items wholesale. Used for manual
// entry, shared-flag toggling and combine/uncombine. Writing a non-empty item
// list to a pending bill promotes it to ready, so manual entry unblocks
// claiming without a receipt ever being analyzed.
func (s *BillService) UpdateLineItems(ctx context.Context, billID string, items []models.LineItem) (*models.Bill, error) {
	if err := validateItems(items); err != nil {
		return nil, err
	}
	bill, err := s.loadUnexpired(ctx, billID)
	if err != nil {
		return nil, err
	}
	for i := range items {
		if items[i].ID == "" {
			items[i].ID = uuid.New().String()
		}
	}
	if err := s.store.ReplaceLineItems(ctx, billID, items); err != nil {
		return nil, err
	}

	updates := models.BillUpdates{LineItems: items}
	if bill.Status == models.StatusPending && len(items) > 0 {
		if err := s.store.UpdateBillStatus(ctx, billID, models.StatusReady); err != nil {
			return nil, err
		}
		updates.Status = statusPtr(models.StatusReady)
	}
	s.broadcastUpdate(billID, updates)
	return s.store.GetBill(ctx, billID)
}

// CombineItems merges the selected items into one claimable entry.
func (s *BillService) CombineItems(ctx context.Context, billID string, selectedIDs []string) (*models.Bill, error) {
	bill, err := s.loadUnexpired(ctx, billID)
	if err != nil {
		return nil, err
	}
	items, err := combineItems(bill.LineItems, selectedIDs)
	if err != nil {
		return nil, err
	}
	return s.UpdateLineItems(ctx, billID, items)
}

// UncombineItem restores the original items of a previously combined entry.
func (s *BillService) UncombineItem(ctx context.Context, billID, itemID string) (*models.Bill, error) {
	bill, err := s.loadUnexpired(ctx, billID)
	if err != nil {
		return nil, err
	}
	items, err := uncombineItem(bill.LineItems, itemID)
	if err != nil {
		return nil, err
	}
	return s.UpdateLineItems(ctx, billID, items)
}

func (s *BillService) loadUnexpired(ctx context.Context, billID string) (*models.Bill, error) {
	bill, err := s.store.GetBill(ctx, billID)
	if err != nil {
		return nil, err
	}
	if bill.Expired(s.now()) {
		return nil, errs.New(errs.KindExpired, "bill %s has expired", billID)
	}
	return bill, nil
}

func (s *BillService) broadcastUpdate(billID string, updates models.BillUpdates) {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(billID, models.NewEvent(models.EventBillUpdated, billID, models.BillUpdatedPayload{
		BillID:  billID,
		Updates: updates,
	}, s.now()))
}

func validateItems(items []models.LineItem) error {
	for _, item := range items {
		if strings.TrimSpace(item.Name) == "" {
			return errs.New(errs.KindInvalidInput, "line item name is required")
		}
		if item.Price <= 0 {
			return errs.New(errs.KindInvalidInput, "line item %q must have a positive price", item.Name)
		}
		if item.IsShared && item.SharedAmongCount <= 0 {
			return errs.New(errs.KindInvalidInput, "shared item %q needs a positive head count", item.Name)
		}
	}
	return nil
}

func statusPtr(s models.BillStatus) *models.BillStatus { return &s }

// PayLink builds a payment-app deep link for the bill's payment handle.
// Payment execution is out of scope; this is just a URL.
func PayLink(handle string, amount float64, note string) string {
	handle = strings.TrimSpace(strings.TrimPrefix(handle, "@"))
	if handle == "" {
		return ""
	}
	link := "https://venmo.com/" + url.PathEscape(handle) + "?txn=pay"
	if amount > 0 {
		link += fmt.Sprintf("&amount=%.2f", amount)
	}
	if note != "" {
		link += "&note=" + url.QueryEscape(note)
	}
	return link
}
