// Package analyzer defines the receipt-analysis boundary. The actual OCR and
// field-extraction service is an external collaborator; this package only
// fixes its contract and normalizes its output into bill fields.
package analyzer

import "context"

// ExtractedItem is one (name, price) pair read off the receipt.
type ExtractedItem struct {
	Name  string
	Price float64
}

// Result is the analyzer's output for one receipt image.
type Result struct {
	LineItems     []ExtractedItem
	Tax           float64
	Tip           float64
	Subtotal      float64
	Total         float64
	ServiceCharge float64

	// Confidence is the analyzer's overall extraction confidence, 0-100.
	Confidence float64

	VendorName     string
	ReceiptDate    string
	ReceiptTime    string
	NumberOfGuests int
}

// ReceiptAnalyzer extracts structured fields from a receipt image. The
// locator is a storage reference (object key, path, URL); the analyzer
// decides how to fetch it. A returned error marks the bill processing_failed
// but leaves it usable via manual entry.
type ReceiptAnalyzer interface {
	AnalyzeReceipt(ctx context.Context, locator string) (*Result, error)
}
