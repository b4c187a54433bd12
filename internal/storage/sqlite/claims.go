package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"tabshare/internal/errs"
	"tabshare/internal/models"
)

// AddParticipant persists a new participant. Name uniqueness is enforced
// case-insensitively by the schema; the service layer resolves rejoins before
// calling this, so a constraint violation here means a concurrent join race.
func (s *SQLiteStore) AddParticipant(ctx context.Context, p *models.Participant) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO participants (id, bill_id, name, name_lower, joined_at) VALUES (?, ?, ?, ?, ?)",
		p.ID, p.BillID, p.Name, strings.ToLower(p.Name), p.JoinedAt,
	)
	if err != nil {
		return errs.Wrap(errs.KindConflict, err, "failed to insert participant")
	}
	return nil
}

// ListParticipants returns all participants of a bill in join order.
func (s *SQLiteStore) ListParticipants(ctx context.Context, billID string) ([]models.Participant, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, bill_id, name, joined_at FROM participants WHERE bill_id = ? ORDER BY joined_at, id",
		billID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get participants: %w", err)
	}
	defer rows.Close()

	var participants []models.Participant
	for rows.Next() {
		var p models.Participant
		if err := rows.Scan(&p.ID, &p.BillID, &p.Name, &p.JoinedAt); err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		participants = append(participants, p)
	}
	return participants, rows.Err()
}

// CreateClaim persists a new claim.
func (s *SQLiteStore) CreateClaim(ctx context.Context, claim *models.Claim) error {
	if claim.ID == "" {
		claim.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO claims (id, bill_id, item_id, participant_id, participant_name,
			percentage, amount, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		claim.ID, claim.BillID, claim.ItemID, claim.ParticipantID, claim.ParticipantName,
		claim.Percentage, claim.Amount, claim.CreatedAt, claim.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert claim: %w", err)
	}
	return nil
}

// GetClaim retrieves a claim by id.
func (s *SQLiteStore) GetClaim(ctx context.Context, claimID string) (*models.Claim, error) {
	claim := &models.Claim{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, bill_id, item_id, participant_id, participant_name,
			percentage, amount, created_at, updated_at
		 FROM claims WHERE id = ?`,
		claimID,
	).Scan(&claim.ID, &claim.BillID, &claim.ItemID, &claim.ParticipantID, &claim.ParticipantName,
		&claim.Percentage, &claim.Amount, &claim.CreatedAt, &claim.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, errs.New(errs.KindNotFound, "claim not found: %s", claimID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get claim: %w", err)
	}
	return claim, nil
}

// UpdateClaim rewrites a claim's percentage, amount and updated timestamp.
func (s *SQLiteStore) UpdateClaim(ctx context.Context, claim *models.Claim) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE claims SET percentage = ?, amount = ?, updated_at = ? WHERE id = ?",
		claim.Percentage, claim.Amount, claim.UpdatedAt, claim.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update claim: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.New(errs.KindNotFound, "claim not found: %s", claim.ID)
	}
	return nil
}

// DeleteClaim removes a claim.
func (s *SQLiteStore) DeleteClaim(ctx context.Context, claimID string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM claims WHERE id = ?", claimID)
	if err != nil {
		return fmt.Errorf("failed to delete claim: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.New(errs.KindNotFound, "claim not found: %s", claimID)
	}
	return nil
}

// ListClaims returns all claims on a bill in creation order.
func (s *SQLiteStore) ListClaims(ctx context.Context, billID string) ([]models.Claim, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, bill_id, item_id, participant_id, participant_name,
			percentage, amount, created_at, updated_at
		 FROM claims WHERE bill_id = ? ORDER BY created_at, id`,
		billID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get claims: %w", err)
	}
	defer rows.Close()

	var claims []models.Claim
	for rows.Next() {
		var c models.Claim
		if err := rows.Scan(&c.ID, &c.BillID, &c.ItemID, &c.ParticipantID, &c.ParticipantName,
			&c.Percentage, &c.Amount, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan claim: %w", err)
		}
		claims = append(claims, c)
	}
	return claims, rows.Err()
}
