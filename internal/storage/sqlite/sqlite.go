// Package sqlite provides a SQLite-backed implementation of the storage.Store interface.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	"tabshare/internal/errs"
	"tabshare/internal/models"
	"tabshare/internal/storage"
)

// Ensure SQLiteStore implements storage.Store
var _ storage.Store = (*SQLiteStore)(nil)

// SQLiteStore implements storage.Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// New creates a new SQLiteStore with the given database path.
// It creates the parent directories and runs migrations automatically.
func New(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// The pragma goes in the DSN so every pooled connection enforces
	// foreign keys, not just the one that ran a PRAGMA statement.
	db, err := sql.Open("sqlite", dbPath+"?_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateBill persists a new bill with its line items and fees.
func (s *SQLiteStore) CreateBill(ctx context.Context, bill *models.Bill) error {
	if bill.ID == "" {
		bill.ID = uuid.New().String()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO bills (id, payer_id, payer_name, extracted_tax, extracted_tip,
			adjusted_tax, adjusted_tip, payment_handle, status, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		bill.ID, bill.PayerID, bill.PayerName, bill.ExtractedTax, bill.ExtractedTip,
		bill.AdjustedTax, bill.AdjustedTip, bill.PaymentHandle, string(bill.Status),
		bill.CreatedAt, bill.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert bill: %w", err)
	}

	if err := insertLineItems(ctx, tx, bill.ID, bill.LineItems); err != nil {
		return err
	}
	if err := insertFees(ctx, tx, bill.ID, bill.AdditionalFees); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func insertLineItems(ctx context.Context, tx *sql.Tx, billID string, items []models.LineItem) error {
	for i := range items {
		item := &items[i]
		if item.ID == "" {
			item.ID = uuid.New().String()
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO line_items (id, bill_id, position, name, price, is_shared, shared_among_count)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			item.ID, billID, i, item.Name, item.Price, boolToInt(item.IsShared), item.SharedAmongCount,
		)
		if err != nil {
			return fmt.Errorf("failed to insert line item: %w", err)
		}
		for j, origin := range item.CombinedFrom {
			_, err := tx.ExecContext(ctx,
				"INSERT INTO item_origins (item_id, position, orig_id, name, price) VALUES (?, ?, ?, ?, ?)",
				item.ID, j, origin.ID, origin.Name, origin.Price,
			)
			if err != nil {
				return fmt.Errorf("failed to insert item origin: %w", err)
			}
		}
	}
	return nil
}

func insertFees(ctx context.Context, tx *sql.Tx, billID string, fees []models.Fee) error {
	for i := range fees {
		fee := &fees[i]
		if fee.ID == "" {
			fee.ID = uuid.New().String()
		}
		_, err := tx.ExecContext(ctx,
			"INSERT INTO fees (id, bill_id, description, amount) VALUES (?, ?, ?, ?)",
			fee.ID, billID, fee.Description, fee.Amount,
		)
		if err != nil {
			return fmt.Errorf("failed to insert fee: %w", err)
		}
	}
	return nil
}

// GetBill retrieves a bill by ID, including line items, origins and fees.
func (s *SQLiteStore) GetBill(ctx context.Context, billID string) (*models.Bill, error) {
	bill := &models.Bill{}
	var status string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, payer_id, payer_name, extracted_tax, extracted_tip,
			adjusted_tax, adjusted_tip, payment_handle, status, created_at, expires_at
		 FROM bills WHERE id = ?`,
		billID,
	).Scan(&bill.ID, &bill.PayerID, &bill.PayerName, &bill.ExtractedTax, &bill.ExtractedTip,
		&bill.AdjustedTax, &bill.AdjustedTip, &bill.PaymentHandle, &status,
		&bill.CreatedAt, &bill.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, errs.New(errs.KindNotFound, "bill not found: %s", billID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get bill: %w", err)
	}
	bill.Status = models.BillStatus(status)

	items, err := s.lineItems(ctx, billID)
	if err != nil {
		return nil, err
	}
	bill.LineItems = items

	fees, err := s.fees(ctx, billID)
	if err != nil {
		return nil, err
	}
	bill.AdditionalFees = fees

	return bill, nil
}

func (s *SQLiteStore) lineItems(ctx context.Context, billID string) ([]models.LineItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, price, is_shared, shared_among_count
		 FROM line_items WHERE bill_id = ? ORDER BY position`,
		billID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get line items: %w", err)
	}
	defer rows.Close()

	var items []models.LineItem
	for rows.Next() {
		var item models.LineItem
		var shared int
		if err := rows.Scan(&item.ID, &item.Name, &item.Price, &shared, &item.SharedAmongCount); err != nil {
			return nil, fmt.Errorf("failed to scan line item: %w", err)
		}
		item.IsShared = shared != 0
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate line items: %w", err)
	}

	for i := range items {
		origins, err := s.itemOrigins(ctx, items[i].ID)
		if err != nil {
			return nil, err
		}
		items[i].CombinedFrom = origins
	}
	return items, nil
}

func (s *SQLiteStore) itemOrigins(ctx context.Context, itemID string) ([]models.ItemOrigin, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT orig_id, name, price FROM item_origins WHERE item_id = ? ORDER BY position",
		itemID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get item origins: %w", err)
	}
	defer rows.Close()

	var origins []models.ItemOrigin
	for rows.Next() {
		var origin models.ItemOrigin
		if err := rows.Scan(&origin.ID, &origin.Name, &origin.Price); err != nil {
			return nil, fmt.Errorf("failed to scan item origin: %w", err)
		}
		origins = append(origins, origin)
	}
	return origins, rows.Err()
}

func (s *SQLiteStore) fees(ctx context.Context, billID string) ([]models.Fee, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, description, amount FROM fees WHERE bill_id = ? ORDER BY id",
		billID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get fees: %w", err)
	}
	defer rows.Close()

	var fees []models.Fee
	for rows.Next() {
		var fee models.Fee
		if err := rows.Scan(&fee.ID, &fee.Description, &fee.Amount); err != nil {
			return nil, fmt.Errorf("failed to scan fee: %w", err)
		}
		fees = append(fees, fee)
	}
	return fees, rows.Err()
}

// UpdateBillAmounts applies a partial update of the bill's money fields.
func (s *SQLiteStore) UpdateBillAmounts(ctx context.Context, billID string, patch storage.AmountsPatch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var sets []string
	var args []any
	if patch.AdjustedTax != nil {
		sets = append(sets, "adjusted_tax = ?")
		args = append(args, *patch.AdjustedTax)
	}
	if patch.AdjustedTip != nil {
		sets = append(sets, "adjusted_tip = ?")
		args = append(args, *patch.AdjustedTip)
	}
	if patch.PaymentHandle != nil {
		sets = append(sets, "payment_handle = ?")
		args = append(args, *patch.PaymentHandle)
	}

	if len(sets) > 0 {
		args = append(args, billID)
		res, err := tx.ExecContext(ctx,
			"UPDATE bills SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
		if err != nil {
			return fmt.Errorf("failed to update bill amounts: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return errs.New(errs.KindNotFound, "bill not found: %s", billID)
		}
	} else if err := billExists(ctx, tx, billID); err != nil {
		return err
	}

	if patch.AdditionalFees != nil {
		if _, err := tx.ExecContext(ctx, "DELETE FROM fees WHERE bill_id = ?", billID); err != nil {
			return fmt.Errorf("failed to clear fees: %w", err)
		}
		if err := insertFees(ctx, tx, billID, patch.AdditionalFees); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ReplaceLineItems swaps the full line-item list of a bill.
func (s *SQLiteStore) ReplaceLineItems(ctx context.Context, billID string, items []models.LineItem) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := billExists(ctx, tx, billID); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM item_origins WHERE item_id IN (SELECT id FROM line_items WHERE bill_id = ?)", billID); err != nil {
		return fmt.Errorf("failed to clear item origins: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM line_items WHERE bill_id = ?", billID); err != nil {
		return fmt.Errorf("failed to clear line items: %w", err)
	}
	if err := insertLineItems(ctx, tx, billID, items); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// UpdateBillStatus moves the bill through its analysis lifecycle.
func (s *SQLiteStore) UpdateBillStatus(ctx context.Context, billID string, status models.BillStatus) error {
	res, err := s.db.ExecContext(ctx, "UPDATE bills SET status = ? WHERE id = ?", string(status), billID)
	if err != nil {
		return fmt.Errorf("failed to update bill status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.New(errs.KindNotFound, "bill not found: %s", billID)
	}
	return nil
}

// UpdateExtractedAmounts records the analyzer-extracted tax and tip.
func (s *SQLiteStore) UpdateExtractedAmounts(ctx context.Context, billID string, tax, tip float64) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE bills SET extracted_tax = ?, extracted_tip = ? WHERE id = ?", tax, tip, billID)
	if err != nil {
		return fmt.Errorf("failed to update extracted amounts: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.New(errs.KindNotFound, "bill not found: %s", billID)
	}
	return nil
}

func billExists(ctx context.Context, tx *sql.Tx, billID string) error {
	var one int
	err := tx.QueryRowContext(ctx, "SELECT 1 FROM bills WHERE id = ?", billID).Scan(&one)
	if err == sql.ErrNoRows {
		return errs.New(errs.KindNotFound, "bill not found: %s", billID)
	}
	if err != nil {
		return fmt.Errorf("failed to check bill: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
