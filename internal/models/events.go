package models

import (
	"encoding/json"
	"log/slog"
	"time"
)

// EventType identifies a broadcast event fanned out to every connection
// subscribed to a bill.
type EventType string

const (
	EventClaimCreated      EventType = "CLAIM_CREATED"
	EventClaimUpdated      EventType = "CLAIM_UPDATED"
	EventClaimDeleted      EventType = "CLAIM_DELETED"
	EventBillUpdated       EventType = "BILL_UPDATED"
	EventParticipantJoined EventType = "PARTICIPANT_JOINED"
)

// Event is the wire envelope for server→client messages. Payload is one of
// the *Payload types below, serialized as JSON.
type Event struct {
	Type      EventType       `json:"type"`
	BillID    string          `json:"billId"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp string          `json:"timestamp"`
}

// NewEvent builds a broadcast event, serializing the payload.
func NewEvent(t EventType, billID string, payload any, now time.Time) Event {
	raw, err := json.Marshal(payload)
	if err != nil {
		// Payloads are plain structs; a marshal failure is a programming
		// error, not a runtime condition.
		slog.Error("failed to marshal event payload", "type", t, "error", err)
	}
	return Event{
		Type:      t,
		BillID:    billID,
		Payload:   raw,
		Timestamp: now.UTC().Format(time.RFC3339),
	}
}

// ClaimEventPayload accompanies ClaimCreated and ClaimUpdated.
// RemainingPercentage is the unclaimed share of the item after the write, so
// clients can gate further claims without recomputing.
type ClaimEventPayload struct {
	Claim               Claim   `json:"claim"`
	ItemID              string  `json:"itemId"`
	RemainingPercentage float64 `json:"remainingPercentage"`
}

// ClaimDeletedPayload carries the freed item id so clients can reconcile
// without a full reload.
type ClaimDeletedPayload struct {
	ClaimID             string  `json:"claimId"`
	ItemID              string  `json:"itemId"`
	ParticipantID       string  `json:"participantId"`
	RemainingPercentage float64 `json:"remainingPercentage"`
}

// BillUpdatedPayload carries only the changed fields, not the whole bill.
// Clients merge rather than replace.
type BillUpdatedPayload struct {
	BillID  string      `json:"billId"`
	Updates BillUpdates `json:"updates"`
}

// BillUpdates is the partial-update shape for BillUpdated events. Nil fields
// were not touched by the mutation.
type BillUpdates struct {
	AdjustedTax    *float64    `json:"adjustedTax,omitempty"`
	AdjustedTip    *float64    `json:"adjustedTip,omitempty"`
	AdditionalFees []Fee       `json:"additionalFees,omitempty"`
	LineItems      []LineItem  `json:"lineItems,omitempty"`
	PaymentHandle  *string     `json:"paymentHandle,omitempty"`
	Status         *BillStatus `json:"status,omitempty"`
}

// ParticipantJoinedPayload announces a new participant to current viewers.
type ParticipantJoinedPayload struct {
	ParticipantID   string `json:"participantId"`
	ParticipantName string `json:"participantName"`
	BillID          string `json:"billId"`
}

// SubscribeMessage is the client→server control message sent after a
// connection opens. Re-subscribing to an already-subscribed bill is a no-op.
type SubscribeMessage struct {
	Action string `json:"action"`
	BillID string `json:"billId"`
}
