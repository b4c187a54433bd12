package analyzer

import "context"

// Fake is a deterministic ReceiptAnalyzer for tests and local development.
// It returns the configured result or error for every receipt.
type Fake struct {
	Result *Result
	Err    error
}

var _ ReceiptAnalyzer = (*Fake)(nil)

func (f *Fake) AnalyzeReceipt(_ context.Context, _ string) (*Result, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	return f.Result, nil
}
