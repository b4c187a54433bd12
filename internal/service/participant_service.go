package service

import (
	"context"
	"log/slog"
	"strings"

	"tabshare/internal/errs"
	"tabshare/internal/models"
)

// JoinResult is the outcome of a join-by-name request. Exactly one of three
// things happened: the name matched the payer (IsPayer), an existing
// participant rejoined (IsReturning), or a new participant was created.
type JoinResult struct {
	Participant *models.Participant
	IsPayer     bool
	IsReturning bool

	// PayerID/PayerName are set instead of Participant when IsPayer.
	PayerID   string
	PayerName string
}

// JoinParticipant registers a diner on a bill by display name. Names are
// case-insensitively unique per bill: a known name returns the existing
// participant (this is how rejoin works), and a name matching the payer's is
// redirected to the payer identity instead of creating a duplicate. Only a
// genuinely new participant triggers a ParticipantJoined broadcast.
func (s *BillService) JoinParticipant(ctx context.Context, billID, name string) (*JoinResult, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errs.New(errs.KindInvalidInput, "participant name is required")
	}

	bill, err := s.loadUnexpired(ctx, billID)
	if err != nil {
		return nil, err
	}

	if strings.EqualFold(name, bill.PayerName) {
		slog.Info("join redirected to payer", "bill_id", billID, "name", name)
		return &JoinResult{IsPayer: true, PayerID: bill.PayerID, PayerName: bill.PayerName}, nil
	}

	existing, err := s.store.ListParticipants(ctx, billID)
	if err != nil {
		return nil, err
	}
	for i := range existing {
		if strings.EqualFold(existing[i].Name, name) {
			slog.Info("participant rejoined", "bill_id", billID, "participant_id", existing[i].ID)
			return &JoinResult{Participant: &existing[i], IsReturning: true}, nil
		}
	}

	participant := &models.Participant{
		BillID:   billID,
		Name:     name,
		JoinedAt: s.now().Unix(),
	}
	if err := s.store.AddParticipant(ctx, participant); err != nil {
		// A concurrent join with the same name may have won the race;
		// resolve to the winner rather than failing the user.
		if errs.Retryable(err) {
			return s.resolveJoinRace(ctx, billID, name, err)
		}
		return nil, err
	}

	slog.Info("participant joined", "bill_id", billID, "participant_id", participant.ID, "name", name)
	if s.publisher != nil {
		s.publisher.Publish(billID, models.NewEvent(models.EventParticipantJoined, billID, models.ParticipantJoinedPayload{
			ParticipantID:   participant.ID,
			ParticipantName: participant.Name,
			BillID:          billID,
		}, s.now()))
	}
	return &JoinResult{Participant: participant}, nil
}

func (s *BillService) resolveJoinRace(ctx context.Context, billID, name string, cause error) (*JoinResult, error) {
	participants, err := s.store.ListParticipants(ctx, billID)
	if err != nil {
		return nil, cause
	}
	for i := range participants {
		if strings.EqualFold(participants[i].Name, name) {
			return &JoinResult{Participant: &participants[i], IsReturning: true}, nil
		}
	}
	return nil, cause
}
