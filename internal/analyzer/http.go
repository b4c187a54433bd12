package analyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPAnalyzer calls an external receipt-extraction service. The service
// receives the receipt locator and returns the extracted fields as JSON.
type HTTPAnalyzer struct {
	endpoint string
	client   *http.Client
}

// NewHTTP creates an analyzer calling the given endpoint.
func NewHTTP(endpoint string) *HTTPAnalyzer {
	return &HTTPAnalyzer{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 60 * time.Second},
	}
}

type analyzeRequest struct {
	ReceiptLocator string `json:"receiptLocator"`
}

type analyzeResponse struct {
	LineItems []struct {
		Name  string  `json:"name"`
		Price float64 `json:"price"`
	} `json:"lineItems"`
	Tax            float64 `json:"tax"`
	Tip            float64 `json:"tip"`
	Subtotal       float64 `json:"subtotal"`
	Total          float64 `json:"total"`
	ServiceCharge  float64 `json:"serviceCharge"`
	Confidence     float64 `json:"confidence"`
	VendorName     string  `json:"vendorName"`
	ReceiptDate    string  `json:"receiptDate"`
	ReceiptTime    string  `json:"receiptTime"`
	NumberOfGuests int     `json:"numberOfGuests"`
}

func (a *HTTPAnalyzer) AnalyzeReceipt(ctx context.Context, locator string) (*Result, error) {
	body, err := json.Marshal(analyzeRequest{ReceiptLocator: locator})
	if err != nil {
		return nil, fmt.Errorf("encode analyze request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build analyze request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call analyzer: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("analyzer returned status %d", resp.StatusCode)
	}

	var parsed analyzeResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode analyzer response: %w", err)
	}

	result := &Result{
		Tax:            parsed.Tax,
		Tip:            parsed.Tip,
		Subtotal:       parsed.Subtotal,
		Total:          parsed.Total,
		ServiceCharge:  parsed.ServiceCharge,
		Confidence:     parsed.Confidence,
		VendorName:     parsed.VendorName,
		ReceiptDate:    parsed.ReceiptDate,
		ReceiptTime:    parsed.ReceiptTime,
		NumberOfGuests: parsed.NumberOfGuests,
	}
	for _, item := range parsed.LineItems {
		result.LineItems = append(result.LineItems, ExtractedItem{Name: item.Name, Price: item.Price})
	}
	return result, nil
}
