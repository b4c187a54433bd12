package syncclient

import (
	"encoding/json"
	"log/slog"
	"sync"

	"tabshare/internal/models"
)

// Cache is a client-side view of one bill: the bill itself, its claims, and
// its participants, kept current by applying broadcast events. Local
// mutations are applied optimistically; each returns a Pending handle whose
// Fail rolls the cache back to the pre-mutation state.
type Cache struct {
	mu           sync.RWMutex
	bill         *models.Bill
	claims       map[string]models.Claim
	participants map[string]models.Participant
}

// NewCache creates a cache seeded with the bill's initial snapshot.
func NewCache(bill *models.Bill, claims []models.Claim, participants []models.Participant) *Cache {
	c := &Cache{
		claims:       make(map[string]models.Claim, len(claims)),
		participants: make(map[string]models.Participant, len(participants)),
	}
	if bill != nil {
		copied := *bill
		c.bill = &copied
	}
	for _, claim := range claims {
		c.claims[claim.ID] = claim
	}
	for _, p := range participants {
		c.participants[p.ID] = p
	}
	return c
}

// Bill returns a copy of the cached bill, or nil if none is loaded.
func (c *Cache) Bill() *models.Bill {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.bill == nil {
		return nil
	}
	copied := *c.bill
	return &copied
}

// Claims returns a snapshot of all cached claims.
func (c *Cache) Claims() []models.Claim {
	c.mu.RLock()
	defer c.mu.RUnlock()
	claims := make([]models.Claim, 0, len(c.claims))
	for _, claim := range c.claims {
		claims = append(claims, claim)
	}
	return claims
}

// Claim returns the cached claim with the given id.
func (c *Cache) Claim(id string) (models.Claim, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	claim, ok := c.claims[id]
	return claim, ok
}

// Participants returns a snapshot of all cached participants.
func (c *Cache) Participants() []models.Participant {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ps := make([]models.Participant, 0, len(c.participants))
	for _, p := range c.participants {
		ps = append(ps, p)
	}
	return ps
}

// Pending is the handle for one optimistic mutation. Exactly one of Confirm
// or Fail must be called when the server responds.
type Pending struct {
	once sync.Once
	undo func()
	// confirm reconciles the optimistic state with the server's authoritative
	// result, e.g. swapping a placeholder claim id for the real one.
	confirm func(server *models.Claim)
}

// Confirm settles the mutation with the server's result. For creates, server
// carries the authoritative claim that replaces the placeholder.
func (p *Pending) Confirm(server *models.Claim) {
	p.once.Do(func() {
		if p.confirm != nil {
			p.confirm(server)
		}
	})
}

// Fail rolls the cache back to its pre-mutation state.
func (p *Pending) Fail() {
	p.once.Do(func() {
		if p.undo != nil {
			p.undo()
		}
	})
}

// StageCreate inserts a claim optimistically under a placeholder id. Confirm
// replaces the placeholder with the server's claim; Fail removes it.
func (c *Cache) StageCreate(placeholder models.Claim) *Pending {
	c.mu.Lock()
	c.claims[placeholder.ID] = placeholder
	c.mu.Unlock()

	return &Pending{
		undo: func() {
			c.mu.Lock()
			delete(c.claims, placeholder.ID)
			c.mu.Unlock()
		},
		confirm: func(server *models.Claim) {
			if server == nil {
				return
			}
			c.mu.Lock()
			delete(c.claims, placeholder.ID)
			c.claims[server.ID] = *server
			c.mu.Unlock()
		},
	}
}

// StageUpdate applies a percentage change optimistically. Fail restores the
// previous claim. Returns nil if the claim is not cached.
func (c *Cache) StageUpdate(claimID string, percentage, amount float64) *Pending {
	c.mu.Lock()
	prev, ok := c.claims[claimID]
	if !ok {
		c.mu.Unlock()
		return nil
	}
	next := prev
	next.Percentage = percentage
	next.Amount = amount
	c.claims[claimID] = next
	c.mu.Unlock()

	return &Pending{
		undo: func() {
			c.mu.Lock()
			c.claims[claimID] = prev
			c.mu.Unlock()
		},
		confirm: func(server *models.Claim) {
			if server == nil {
				return
			}
			c.mu.Lock()
			c.claims[server.ID] = *server
			c.mu.Unlock()
		},
	}
}

// StageDelete removes a claim optimistically. Fail restores it. Returns nil
// if the claim is not cached.
func (c *Cache) StageDelete(claimID string) *Pending {
	c.mu.Lock()
	prev, ok := c.claims[claimID]
	if !ok {
		c.mu.Unlock()
		return nil
	}
	delete(c.claims, claimID)
	c.mu.Unlock()

	return &Pending{
		undo: func() {
			c.mu.Lock()
			c.claims[claimID] = prev
			c.mu.Unlock()
		},
	}
}

// ApplyEvent merges one broadcast event into the cache. Events are
// idempotent: re-applying a claim the cache already holds (for example the
// echo of this client's own confirmed write) leaves the state unchanged.
func (c *Cache) ApplyEvent(event models.Event) {
	switch event.Type {
	case models.EventClaimCreated, models.EventClaimUpdated:
		var payload models.ClaimEventPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			slog.Warn("skipping malformed claim event", "type", event.Type, "error", err)
			return
		}
		c.mu.Lock()
		c.claims[payload.Claim.ID] = payload.Claim
		c.mu.Unlock()

	case models.EventClaimDeleted:
		var payload models.ClaimDeletedPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			slog.Warn("skipping malformed claim-deleted event", "error", err)
			return
		}
		c.mu.Lock()
		delete(c.claims, payload.ClaimID)
		c.mu.Unlock()

	case models.EventBillUpdated:
		var payload models.BillUpdatedPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			slog.Warn("skipping malformed bill-updated event", "error", err)
			return
		}
		c.applyBillUpdates(payload.Updates)

	case models.EventParticipantJoined:
		var payload models.ParticipantJoinedPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			slog.Warn("skipping malformed participant-joined event", "error", err)
			return
		}
		c.mu.Lock()
		if _, known := c.participants[payload.ParticipantID]; !known {
			c.participants[payload.ParticipantID] = models.Participant{
				ID:     payload.ParticipantID,
				BillID: payload.BillID,
				Name:   payload.ParticipantName,
			}
		}
		c.mu.Unlock()

	default:
		slog.Debug("ignoring unknown event type", "type", event.Type)
	}
}

// applyBillUpdates merges a partial update into the cached bill. Nil fields
// were untouched by the mutation and are left alone.
func (c *Cache) applyBillUpdates(updates models.BillUpdates) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bill == nil {
		return
	}
	if updates.AdjustedTax != nil {
		v := *updates.AdjustedTax
		c.bill.AdjustedTax = &v
	}
	if updates.AdjustedTip != nil {
		v := *updates.AdjustedTip
		c.bill.AdjustedTip = &v
	}
	if updates.AdditionalFees != nil {
		c.bill.AdditionalFees = updates.AdditionalFees
	}
	if updates.LineItems != nil {
		c.bill.LineItems = updates.LineItems
	}
	if updates.PaymentHandle != nil {
		c.bill.PaymentHandle = *updates.PaymentHandle
	}
	if updates.Status != nil {
		c.bill.Status = *updates.Status
	}
}
