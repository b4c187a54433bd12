package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"tabshare/internal/auth"
)

func TestRequirePayer(t *testing.T) {
	tokens := auth.NewPayerTokens("test-secret")
	token, err := tokens.Issue("bill-1", "payer-1", time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	var gotPayerID string
	mux := http.NewServeMux()
	mux.HandleFunc("PATCH /api/bills/{billID}/amounts", RequirePayer(tokens, func(w http.ResponseWriter, r *http.Request) {
		gotPayerID = GetPayerID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	do := func(path, header string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPatch, path, nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		return rec
	}

	t.Run("valid token reaches the handler with the payer id", func(t *testing.T) {
		gotPayerID = ""
		rec := do("/api/bills/bill-1/amounts", "Bearer "+token)
		if rec.Code != http.StatusNoContent {
			t.Fatalf("status = %d, want 204", rec.Code)
		}
		if gotPayerID != "payer-1" {
			t.Errorf("payer id = %q, want payer-1", gotPayerID)
		}
	})

	t.Run("missing token is unauthorized", func(t *testing.T) {
		if rec := do("/api/bills/bill-1/amounts", ""); rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", rec.Code)
		}
	})

	t.Run("malformed header is unauthorized", func(t *testing.T) {
		if rec := do("/api/bills/bill-1/amounts", "Token "+token); rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", rec.Code)
		}
	})

	t.Run("token scoped to another bill is unauthorized", func(t *testing.T) {
		if rec := do("/api/bills/bill-2/amounts", "Bearer "+token); rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", rec.Code)
		}
	})
}
