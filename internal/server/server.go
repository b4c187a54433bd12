// Package server exposes the HTTP and websocket surface: bill CRUD, joins,
// claims, totals, the event stream and operational endpoints.
package server

import (
	"net/http"

	"tabshare/internal/auth"
	"tabshare/internal/ledger"
	"tabshare/internal/metrics"
	"tabshare/internal/middleware"
	"tabshare/internal/realtime"
	"tabshare/internal/service"
)

// Server routes requests to the bill service and the claim ledger.
type Server struct {
	bills   *service.BillService
	claims  *ledger.Ledger
	tokens  *auth.PayerTokens
	metrics *metrics.Metrics

	dispatcher *realtime.Dispatcher
	registry   *realtime.Registry
}

// New assembles the server over its collaborators.
func New(bills *service.BillService, claims *ledger.Ledger, tokens *auth.PayerTokens, dispatcher *realtime.Dispatcher, registry *realtime.Registry, m *metrics.Metrics) *Server {
	return &Server{
		bills:      bills,
		claims:     claims,
		tokens:     tokens,
		metrics:    m,
		dispatcher: dispatcher,
		registry:   registry,
	}
}

// Handler builds the full route table. The websocket endpoint is mounted
// outside the logging middleware because the status-recording wrapper does
// not support hijacking.
func (s *Server) Handler() http.Handler {
	api := http.NewServeMux()

	api.HandleFunc("POST /api/bills", s.handleCreateBill)
	api.HandleFunc("GET /api/bills/{billID}", s.handleGetBill)
	api.HandleFunc("GET /api/bills/{billID}/totals", s.handleGetTotals)
	api.HandleFunc("GET /api/bills/{billID}/summary", s.handleGetSummary)

	// Payer-only mutations, gated by the bill-scoped payer token.
	api.HandleFunc("PATCH /api/bills/{billID}/amounts", middleware.RequirePayer(s.tokens, s.handleUpdateAmounts))
	api.HandleFunc("PUT /api/bills/{billID}/items", middleware.RequirePayer(s.tokens, s.handleUpdateItems))
	api.HandleFunc("POST /api/bills/{billID}/items/combine", middleware.RequirePayer(s.tokens, s.handleCombineItems))
	api.HandleFunc("POST /api/bills/{billID}/items/{itemID}/uncombine", middleware.RequirePayer(s.tokens, s.handleUncombineItem))

	api.HandleFunc("POST /api/bills/{billID}/participants", s.handleJoin)
	api.HandleFunc("POST /api/bills/{billID}/claims", s.handleCreateClaim)
	api.HandleFunc("PATCH /api/claims/{claimID}", s.handleUpdateClaim)
	api.HandleFunc("DELETE /api/claims/{claimID}", s.handleDeleteClaim)

	root := http.NewServeMux()
	root.Handle("/api/", middleware.Logging(middleware.CORS(api)))
	root.Handle("GET /ws", realtime.WSHandler(s.dispatcher, s.registry))
	root.HandleFunc("GET /up", s.handleHealth)
	if s.metrics != nil {
		root.Handle("GET /metrics", s.metrics.Handler())
	}
	return root
}
