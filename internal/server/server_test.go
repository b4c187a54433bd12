package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"golang.org/x/net/websocket"

	"tabshare/internal/auth"
	"tabshare/internal/ledger"
	"tabshare/internal/metrics"
	"tabshare/internal/models"
	"tabshare/internal/realtime"
	"tabshare/internal/service"
	"tabshare/internal/storage/sqlite"
)

func setupServer(t *testing.T) *httptest.Server {
	t.Helper()

	tmpFile, err := os.CreateTemp(t.TempDir(), "test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpFile.Close()

	store, err := sqlite.New(tmpFile.Name())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	m := metrics.New()
	registry := realtime.NewRegistry(func(delta int) {
		m.OpenConnections.Add(float64(delta))
	})
	t.Cleanup(registry.Shutdown)
	dispatcher := realtime.NewDispatcher(registry, m)

	tokens := auth.NewPayerTokens("test-secret")
	claims := ledger.New(store, dispatcher).WithMetrics(m)
	bills := service.NewBillService(store, dispatcher, tokens, nil, "http://localhost:8080")

	srv := httptest.NewServer(New(bills, claims, tokens, dispatcher, registry, m).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url, token string, body any) (*http.Response, []byte) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, buf.Bytes()
}

func createTestBill(t *testing.T, srv *httptest.Server) createBillResponse {
	t.Helper()

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/bills", "", map[string]any{
		"payerName":     "Alice",
		"paymentHandle": "@alice",
		"lineItems": []map[string]any{
			{"name": "Pizza", "price": 20},
			{"name": "Salad", "price": 10},
		},
		"tax": 3,
		"tip": 6,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create bill: status %d, body %s", resp.StatusCode, body)
	}

	var created createBillResponse
	if err := json.Unmarshal(body, &created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	return created
}

func joinTestParticipant(t *testing.T, srv *httptest.Server, billID, name string) joinResponse {
	t.Helper()

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/bills/"+billID+"/participants", "", map[string]any{"name": name})
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		t.Fatalf("join: status %d, body %s", resp.StatusCode, body)
	}
	var joined joinResponse
	if err := json.Unmarshal(body, &joined); err != nil {
		t.Fatalf("decode join response: %v", err)
	}
	return joined
}

func TestBillLifecycle(t *testing.T) {
	srv := setupServer(t)
	created := createTestBill(t, srv)
	billID := created.Bill.ID

	if created.PayerToken == "" || !strings.Contains(created.ShareURL, billID) {
		t.Fatalf("created = %+v", created)
	}

	bob := joinTestParticipant(t, srv, billID, "Bob")
	if bob.IsPayer || bob.IsReturning {
		t.Errorf("fresh join flags = %+v", bob)
	}

	// Claim 100% of the pizza.
	itemID := created.Bill.LineItems[0].ID
	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/bills/"+billID+"/claims", "", map[string]any{
		"participantId":   bob.ParticipantID,
		"participantName": bob.ParticipantName,
		"itemId":          itemID,
		"percentage":      100,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create claim: status %d, body %s", resp.StatusCode, body)
	}
	var claim models.Claim
	if err := json.Unmarshal(body, &claim); err != nil {
		t.Fatalf("decode claim: %v", err)
	}
	if claim.Amount != 20 {
		t.Errorf("claim amount = %v, want 20", claim.Amount)
	}

	// A second claim on the same item must conflict with over-claim details.
	carol := joinTestParticipant(t, srv, billID, "Carol")
	resp, body = doJSON(t, http.MethodPost, srv.URL+"/api/bills/"+billID+"/claims", "", map[string]any{
		"participantId":   carol.ParticipantID,
		"participantName": carol.ParticipantName,
		"itemId":          itemID,
		"percentage":      10,
	})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("over-claim: status %d, body %s", resp.StatusCode, body)
	}
	var errResp errorBody
	if err := json.Unmarshal(body, &errResp); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if errResp.RemainingPercentage == nil || *errResp.RemainingPercentage != 0 {
		t.Errorf("remaining = %v, want 0", errResp.RemainingPercentage)
	}

	// The bill view shows the claim and both participants.
	resp, body = doJSON(t, http.MethodGet, srv.URL+"/api/bills/"+billID, "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get bill: status %d", resp.StatusCode)
	}
	var view billResponse
	if err := json.Unmarshal(body, &view); err != nil {
		t.Fatalf("decode view: %v", err)
	}
	if len(view.Claims) != 1 || len(view.Participants) != 2 {
		t.Errorf("view has %d claims, %d participants", len(view.Claims), len(view.Participants))
	}
	if view.PayLink == "" {
		t.Error("missing pay link")
	}

	// Totals: Bob claimed the $20 pizza out of a $30 subtotal with $3
	// tax and $6 tip, so his total is 20 + 2 + 4 = 26.
	resp, body = doJSON(t, http.MethodGet, srv.URL+"/api/bills/"+billID+"/totals", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("totals: status %d", resp.StatusCode)
	}
	var totals totalsResponse
	if err := json.Unmarshal(body, &totals); err != nil {
		t.Fatalf("decode totals: %v", err)
	}
	if len(totals.Totals) != 1 {
		t.Fatalf("got %d totals", len(totals.Totals))
	}
	if got := totals.Totals[0].Total; got < 25.99 || got > 26.01 {
		t.Errorf("Bob total = %v, want 26", got)
	}
	if totals.Warning == "" {
		t.Error("expected under-claimed warning while salad is unclaimed")
	}

	// Update and delete the claim.
	resp, _ = doJSON(t, http.MethodPatch, srv.URL+"/api/claims/"+claim.ID, "", map[string]any{"percentage": 50})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update claim: status %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, http.MethodDelete, srv.URL+"/api/claims/"+claim.ID, "", nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete claim: status %d", resp.StatusCode)
	}
}

func TestPayerOnlyEndpoints(t *testing.T) {
	srv := setupServer(t)
	created := createTestBill(t, srv)
	billID := created.Bill.ID
	patch := map[string]any{"adjustedTip": 9}

	t.Run("rejected without token", func(t *testing.T) {
		resp, _ := doJSON(t, http.MethodPatch, srv.URL+"/api/bills/"+billID+"/amounts", "", patch)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", resp.StatusCode)
		}
	})

	t.Run("rejected with a token for another bill", func(t *testing.T) {
		other := createTestBill(t, srv)
		resp, _ := doJSON(t, http.MethodPatch, srv.URL+"/api/bills/"+billID+"/amounts", other.PayerToken, patch)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", resp.StatusCode)
		}
	})

	t.Run("accepted with the bill's token", func(t *testing.T) {
		resp, body := doJSON(t, http.MethodPatch, srv.URL+"/api/bills/"+billID+"/amounts", created.PayerToken, patch)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, body %s", resp.StatusCode, body)
		}
		var bill models.Bill
		if err := json.Unmarshal(body, &bill); err != nil {
			t.Fatalf("decode bill: %v", err)
		}
		if bill.AdjustedTip == nil || *bill.AdjustedTip != 9 {
			t.Errorf("adjusted tip = %v", bill.AdjustedTip)
		}
	})

	t.Run("combine and uncombine", func(t *testing.T) {
		ids := []string{created.Bill.LineItems[0].ID, created.Bill.LineItems[1].ID}
		resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/bills/"+billID+"/items/combine", created.PayerToken, map[string]any{"itemIds": ids})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("combine: status %d, body %s", resp.StatusCode, body)
		}
		var bill models.Bill
		if err := json.Unmarshal(body, &bill); err != nil {
			t.Fatalf("decode bill: %v", err)
		}
		if len(bill.LineItems) != 1 || bill.LineItems[0].Price != 30 {
			t.Fatalf("combined items = %+v", bill.LineItems)
		}

		url := fmt.Sprintf("%s/api/bills/%s/items/%s/uncombine", srv.URL, billID, bill.LineItems[0].ID)
		resp, body = doJSON(t, http.MethodPost, url, created.PayerToken, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("uncombine: status %d, body %s", resp.StatusCode, body)
		}
		if err := json.Unmarshal(body, &bill); err != nil {
			t.Fatalf("decode bill: %v", err)
		}
		if len(bill.LineItems) != 2 {
			t.Errorf("restored items = %+v", bill.LineItems)
		}
	})
}

func TestClaimBroadcastOverWebsocket(t *testing.T) {
	srv := setupServer(t)
	created := createTestBill(t, srv)
	billID := created.Bill.ID
	bob := joinTestParticipant(t, srv, billID, "Bob")

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?billId=" + billID
	conn, err := websocket.Dial(wsURL, "", srv.URL)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	// Wait for the connection to register before the claim fires.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		_, body := doJSON(t, http.MethodGet, srv.URL+"/metrics", "", nil)
		if strings.Contains(string(body), "tabshare_open_connections 1") {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/bills/"+billID+"/claims", "", map[string]any{
		"participantId":   bob.ParticipantID,
		"participantName": bob.ParticipantName,
		"itemId":          created.Bill.LineItems[0].ID,
		"percentage":      40,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create claim: status %d, body %s", resp.StatusCode, body)
	}

	_ = conn.SetDeadline(time.Now().Add(2 * time.Second))
	var event models.Event
	if err := json.NewDecoder(conn).Decode(&event); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if event.Type != models.EventClaimCreated {
		t.Fatalf("event type = %s", event.Type)
	}
	var payload models.ClaimEventPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.RemainingPercentage != 60 {
		t.Errorf("remaining = %v, want 60", payload.RemainingPercentage)
	}
}

func TestErrorMapping(t *testing.T) {
	srv := setupServer(t)

	t.Run("unknown bill is 404", func(t *testing.T) {
		resp, _ := doJSON(t, http.MethodGet, srv.URL+"/api/bills/nope", "", nil)
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("status = %d, want 404", resp.StatusCode)
		}
	})

	t.Run("malformed body is 400", func(t *testing.T) {
		resp, err := http.Post(srv.URL+"/api/bills", "application/json", strings.NewReader("{nope"))
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", resp.StatusCode)
		}
	})

	t.Run("claiming on a pending bill is 409", func(t *testing.T) {
		resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/bills", "", map[string]any{"payerName": "Alice"})
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("create: status %d", resp.StatusCode)
		}
		var created createBillResponse
		if err := json.Unmarshal(body, &created); err != nil {
			t.Fatalf("decode: %v", err)
		}

		resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/bills/"+created.Bill.ID+"/claims", "", map[string]any{
			"participantId":   "p1",
			"participantName": "Bob",
			"itemId":          "i1",
			"percentage":      50,
		})
		if resp.StatusCode != http.StatusConflict {
			t.Errorf("status = %d, want 409", resp.StatusCode)
		}
	})
}
