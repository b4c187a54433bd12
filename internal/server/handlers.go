package server

import (
	"log/slog"
	"net/http"

	"tabshare/internal/calculator"
	"tabshare/internal/errs"
	"tabshare/internal/middleware"
	"tabshare/internal/models"
	"tabshare/internal/service"
	"tabshare/internal/storage"
)

type createBillRequest struct {
	PayerName      string            `json:"payerName"`
	PaymentHandle  string            `json:"paymentHandle"`
	LineItems      []models.LineItem `json:"lineItems"`
	Tax            float64           `json:"tax"`
	Tip            float64           `json:"tip"`
	AdditionalFees []models.Fee      `json:"additionalFees"`

	// ReceiptLocator, when set, triggers receipt analysis instead of using
	// the inline line items.
	ReceiptLocator string `json:"receiptLocator"`
}

type createBillResponse struct {
	Bill       *models.Bill `json:"bill"`
	ShareURL   string       `json:"shareUrl"`
	PayerToken string       `json:"payerToken"`
}

func (s *Server) handleCreateBill(w http.ResponseWriter, r *http.Request) {
	var req createBillRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}

	var created *service.CreatedBill
	var err error
	if req.ReceiptLocator != "" {
		// Analysis failure is partial success: the bill exists as
		// processing_failed and stays usable via manual entry.
		created, err = s.bills.CreateBillFromReceipt(r.Context(), req.PayerName, req.PaymentHandle, req.ReceiptLocator)
		if err != nil && !errs.Is(err, errs.KindAnalysisFailed) {
			writeError(w, err)
			return
		}
	} else {
		created, err = s.bills.CreateBill(r.Context(), req.PayerName, req.PaymentHandle, req.LineItems, req.Tax, req.Tip, req.AdditionalFees)
		if err != nil {
			writeError(w, err)
			return
		}
	}

	writeJSON(w, http.StatusCreated, createBillResponse{
		Bill:       created.Bill,
		ShareURL:   created.ShareURL,
		PayerToken: created.PayerToken,
	})
}

type billResponse struct {
	Bill         *models.Bill         `json:"bill"`
	Claims       []models.Claim       `json:"claims"`
	Participants []models.Participant `json:"participants"`
	PayLink      string               `json:"payLink,omitempty"`
}

func (s *Server) handleGetBill(w http.ResponseWriter, r *http.Request) {
	view, err := s.bills.GetBill(r.Context(), r.PathValue("billID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, billResponse{
		Bill:         view.Bill,
		Claims:       view.Claims,
		Participants: view.Participants,
		PayLink:      view.PayLink,
	})
}

type totalsResponse struct {
	Totals  []*calculator.Total `json:"totals"`
	Warning string              `json:"warning,omitempty"`
}

func (s *Server) handleGetTotals(w http.ResponseWriter, r *http.Request) {
	view, err := s.bills.GetBill(r.Context(), r.PathValue("billID"))
	if err != nil {
		writeError(w, err)
		return
	}
	byParticipant := calculator.ComputeTotals(view.Bill, view.Claims)
	totals := make([]*calculator.Total, 0, len(byParticipant))
	for _, total := range byParticipant {
		totals = append(totals, total)
	}
	writeJSON(w, http.StatusOK, totalsResponse{
		Totals:  totals,
		Warning: calculator.ReconciliationWarning(view.Bill, byParticipant),
	})
}

func (s *Server) handleGetSummary(w http.ResponseWriter, r *http.Request) {
	participantID := r.URL.Query().Get("participantId")
	if participantID == "" {
		writeError(w, errs.New(errs.KindInvalidInput, "participantId is required"))
		return
	}
	view, err := s.bills.GetBill(r.Context(), r.PathValue("billID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, calculator.PersonalSummary(view.Bill, view.Claims, participantID))
}

type updateAmountsRequest struct {
	AdjustedTax    *float64     `json:"adjustedTax"`
	AdjustedTip    *float64     `json:"adjustedTip"`
	AdditionalFees []models.Fee `json:"additionalFees"`
	PaymentHandle  *string      `json:"paymentHandle"`
}

func (s *Server) handleUpdateAmounts(w http.ResponseWriter, r *http.Request) {
	var req updateAmountsRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	bill, err := s.bills.UpdateAmounts(r.Context(), r.PathValue("billID"), storage.AmountsPatch{
		AdjustedTax:    req.AdjustedTax,
		AdjustedTip:    req.AdjustedTip,
		AdditionalFees: req.AdditionalFees,
		PaymentHandle:  req.PaymentHandle,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	slog.Info("amounts updated", "bill_id", bill.ID, "payer_id", middleware.GetPayerID(r.Context()))
	writeJSON(w, http.StatusOK, bill)
}

type updateItemsRequest struct {
	LineItems []models.LineItem `json:"lineItems"`
}

func (s *Server) handleUpdateItems(w http.ResponseWriter, r *http.Request) {
	var req updateItemsRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	bill, err := s.bills.UpdateLineItems(r.Context(), r.PathValue("billID"), req.LineItems)
	if err != nil {
		writeError(w, err)
		return
	}
	slog.Info("items replaced", "bill_id", bill.ID, "payer_id", middleware.GetPayerID(r.Context()))
	writeJSON(w, http.StatusOK, bill)
}

type combineRequest struct {
	ItemIDs []string `json:"itemIds"`
}

func (s *Server) handleCombineItems(w http.ResponseWriter, r *http.Request) {
	var req combineRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	bill, err := s.bills.CombineItems(r.Context(), r.PathValue("billID"), req.ItemIDs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bill)
}

func (s *Server) handleUncombineItem(w http.ResponseWriter, r *http.Request) {
	bill, err := s.bills.UncombineItem(r.Context(), r.PathValue("billID"), r.PathValue("itemID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bill)
}

type joinRequest struct {
	Name string `json:"name"`
}

type joinResponse struct {
	ParticipantID   string `json:"participantId"`
	ParticipantName string `json:"participantName"`
	IsPayer         bool   `json:"isPayer"`
	IsReturning     bool   `json:"isReturning"`
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	result, err := s.bills.JoinParticipant(r.Context(), r.PathValue("billID"), req.Name)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := joinResponse{IsPayer: result.IsPayer, IsReturning: result.IsReturning}
	if result.IsPayer {
		resp.ParticipantID = result.PayerID
		resp.ParticipantName = result.PayerName
	} else {
		resp.ParticipantID = result.Participant.ID
		resp.ParticipantName = result.Participant.Name
	}
	status := http.StatusCreated
	if result.IsPayer || result.IsReturning {
		status = http.StatusOK
	}
	writeJSON(w, status, resp)
}

type createClaimRequest struct {
	ParticipantID   string  `json:"participantId"`
	ParticipantName string  `json:"participantName"`
	ItemID          string  `json:"itemId"`
	Percentage      float64 `json:"percentage"`
}

func (s *Server) handleCreateClaim(w http.ResponseWriter, r *http.Request) {
	var req createClaimRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	claim, err := s.claims.CreateClaim(r.Context(), r.PathValue("billID"), req.ParticipantID, req.ParticipantName, req.ItemID, req.Percentage)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, claim)
}

type updateClaimRequest struct {
	Percentage float64 `json:"percentage"`
}

func (s *Server) handleUpdateClaim(w http.ResponseWriter, r *http.Request) {
	var req updateClaimRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	claim, err := s.claims.UpdateClaim(r.Context(), r.PathValue("claimID"), req.Percentage)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, claim)
}

func (s *Server) handleDeleteClaim(w http.ResponseWriter, r *http.Request) {
	if err := s.claims.DeleteClaim(r.Context(), r.PathValue("claimID")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
